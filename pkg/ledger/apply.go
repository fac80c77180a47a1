package ledger

import (
	"errors"
	"fmt"
	"slices"

	"github.com/mcclellann/thriftLedger/pkg/models"
	"github.com/mcclellann/thriftLedger/pkg/policy"
	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("amount must be positive")

// delta is the balance change a transaction causes. Loans carry debt as a
// positive balance, so their signs are inverted: repayments (credits) reduce it.
func delta(t models.AccountType, tx models.Transaction) decimal.Decimal {
	amount := tx.Amount
	if (tx.Type == models.Debit) != (t == models.Loan) {
		return amount.Neg()
	}
	return amount
}

// ApplyTransaction returns acc with tx applied. It never mutates its input.
// A transaction whose id is already in the history is a no-op. Callers
// persist the result and, when LedgerEntryFor reports one, the society ledger entry.
func ApplyTransaction(acc models.Account, tx models.Transaction) (models.Account, error) {
	if acc.HasTransaction(tx.ID) {
		return acc, nil
	}
	if !tx.Amount.IsPositive() {
		return acc, fmt.Errorf("transaction %s: %w", tx.ID, ErrInvalidAmount)
	}
	if tx.Type != models.Credit && tx.Type != models.Debit {
		return acc, fmt.Errorf("transaction %s: unknown type %q", tx.ID, tx.Type)
	}
	if err := policy.Check(&acc, policy.OperationFor(tx)); err != nil {
		return acc, err
	}
	if tx.AccountID == "" {
		tx.AccountID = acc.ID
	}
	acc.Balance = acc.Balance.Add(delta(acc.Type, tx))
	acc.Transactions = append(slices.Clip(acc.Transactions), tx)
	return acc, nil
}

// DeriveBalance replays the full history from zero. It must always agree with
// the incrementally maintained Balance.
func DeriveBalance(acc models.Account) decimal.Decimal {
	balance := decimal.Zero
	for _, tx := range acc.Transactions {
		balance = balance.Add(delta(acc.Type, tx))
	}
	return balance
}

// LedgerEntryFor returns the society ledger row a transaction obliges the caller
// to record: withdrawals, fees and interest. The entry id is derived from the
// transaction id so replays upsert the same row.
func LedgerEntryFor(acc models.Account, tx models.Transaction) (models.LedgerEntry, bool) {
	entry := models.LedgerEntry{
		ID:           "LED-" + tx.ID,
		Date:         tx.Date,
		Amount:       tx.Amount,
		Category:     tx.Category,
		CashAmount:   tx.CashAmount,
		OnlineAmount: tx.OnlineAmount,
	}
	switch tx.Category {
	case models.CategoryInterest:
		// Interest paid on deposits is a cost; interest charged on loans is income.
		entry.Type = models.Expense
		if acc.Type == models.Loan {
			entry.Type = models.Income
		}
		entry.Description = fmt.Sprintf("Interest on %s %s", acc.Type, acc.ID)
	case models.CategoryWithdrawal:
		entry.Type = models.Expense
		entry.Description = fmt.Sprintf("Withdrawal from %s %s", acc.Type, acc.ID)
	case models.CategoryFee:
		entry.Type = models.Income
		entry.Description = fmt.Sprintf("Fee on %s %s", acc.Type, acc.ID)
	default:
		return models.LedgerEntry{}, false
	}
	return entry, true
}
