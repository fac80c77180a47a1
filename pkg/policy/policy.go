// Package policy holds the static product rules: which operations each account
// type accepts and which products a member may hold only once.
package policy

import (
	"errors"
	"fmt"

	"github.com/mcclellann/thriftLedger/pkg/models"
)

type Operation string

const (
	OpCredit   Operation = "credit"
	OpDebit    Operation = "debit"
	OpInterest Operation = "interest"
	OpPayout   Operation = "payout" // Maturity or early-closure debit of a term deposit
)

// ErrDenied is matched by every DeniedError.
var ErrDenied = errors.New("operation not permitted")

// DeniedError explains why an operation was refused.
type DeniedError struct {
	Type      models.AccountType
	Operation Operation
	Reason    string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s not permitted on %s account: %s", e.Operation, e.Type, e.Reason)
}

func (e *DeniedError) Is(target error) bool { return target == ErrDenied }

type rule struct {
	credit, debit, interest, payout bool
	singleton                       bool
}

var matrix = map[models.AccountType]rule{
	models.ShareCapital:      {credit: true, debit: true, singleton: true},
	models.CompulsoryDeposit: {credit: true, interest: true, singleton: true},
	models.OptionalDeposit:   {credit: true, debit: true, interest: true, singleton: true},
	models.FixedDeposit:      {credit: true, interest: true, payout: true},
	models.RecurringDeposit:  {credit: true, interest: true, payout: true},
	models.Loan:              {credit: true, debit: true, interest: true},
}

// CanApply checks the static matrix only.
func CanApply(t models.AccountType, op Operation) error {
	r, ok := matrix[t]
	if !ok {
		return &DeniedError{Type: t, Operation: op, Reason: "unknown account type"}
	}
	allowed := false
	switch op {
	case OpCredit:
		allowed = r.credit
	case OpDebit:
		allowed = r.debit
	case OpInterest:
		allowed = r.interest
	case OpPayout:
		allowed = r.payout
	}
	if !allowed {
		return &DeniedError{Type: t, Operation: op, Reason: reasonFor(t, op)}
	}
	return nil
}

func reasonFor(t models.AccountType, op Operation) string {
	switch {
	case op == OpInterest && t == models.ShareCapital:
		return "share capital does not earn interest"
	case op == OpDebit && (t == models.RecurringDeposit || t == models.CompulsoryDeposit):
		return "withdrawals are not allowed"
	case t == models.FixedDeposit:
		return "fixed deposits only move at opening and closure"
	}
	return "not offered for this product"
}

// Check applies the matrix plus the account's current state.
func Check(acc *models.Account, op Operation) error {
	switch acc.Status {
	case models.AccountPending:
		return &DeniedError{Type: acc.Type, Operation: op, Reason: "account is pending approval"}
	case models.AccountClosed:
		return &DeniedError{Type: acc.Type, Operation: op, Reason: "account is closed"}
	case models.AccountMatured:
		if op != OpPayout {
			return &DeniedError{Type: acc.Type, Operation: op, Reason: "account has matured"}
		}
	}
	if err := CanApply(acc.Type, op); err != nil {
		return err
	}
	// The principal is the only credit a fixed deposit ever takes.
	if acc.Type == models.FixedDeposit && op == OpCredit && len(acc.Transactions) > 0 {
		return &DeniedError{Type: acc.Type, Operation: op, Reason: "principal already deposited"}
	}
	return nil
}

// OperationFor classifies a transaction for policy checks.
func OperationFor(tx models.Transaction) Operation {
	switch tx.Category {
	case models.CategoryInterest:
		return OpInterest
	case models.CategoryMaturity:
		return OpPayout
	}
	if tx.Type == models.Debit {
		return OpDebit
	}
	return OpCredit
}

func IsSingleton(t models.AccountType) bool {
	return matrix[t].singleton
}

// SelectableTypes returns the products a member can still open given what they hold.
func SelectableTypes(held []models.AccountType) []models.AccountType {
	have := make(map[models.AccountType]bool, len(held))
	for _, t := range held {
		have[t] = true
	}
	var out []models.AccountType
	for _, t := range models.AccountTypes {
		if IsSingleton(t) && have[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// FlatRateLoans are the loan categories charged on the original principal.
// Every other loan type uses the reducing balance.
var FlatRateLoans = map[models.LoanType]bool{models.LoanGold: true}

func UsesFlatRate(lt models.LoanType) bool {
	return FlatRateLoans[lt]
}
