// Package accrual posts monthly interest, catching each account up from its
// watermark to the present one period at a time.
package accrual

import (
	"fmt"
	"time"

	"github.com/mcclellann/thriftLedger/pkg/calc"
	"github.com/mcclellann/thriftLedger/pkg/dates"
	"github.com/mcclellann/thriftLedger/pkg/ledger"
	"github.com/mcclellann/thriftLedger/pkg/models"
	"github.com/mcclellann/thriftLedger/pkg/policy"
	"github.com/shopspring/decimal"
)

// MaxPeriods bounds a single catch-up run at a century of months.
const MaxPeriods = 1200

// PostFunc persists one posting: the account as it stands after tx, with its
// watermark already advanced.
type PostFunc func(acc models.Account, tx models.Transaction) error

// Watermark is where accrual resumes: the last posting, else the opening
// date, else fallback (the member's join date).
func Watermark(acc models.Account, fallback time.Time) time.Time {
	if acc.LastInterestPostDate != nil && !acc.LastInterestPostDate.IsZero() {
		return *acc.LastInterestPostDate
	}
	if !acc.OpeningDate.IsZero() {
		return acc.OpeningDate
	}
	return fallback
}

// Accrues reports whether the account earns or is charged interest at all.
func Accrues(acc models.Account) bool {
	return acc.Status == models.AccountActive && policy.CanApply(acc.Type, policy.OpInterest) == nil
}

// MonthlyInterest is one period's interest on the account as it stands.
func MonthlyInterest(acc models.Account) decimal.Decimal {
	if acc.Type != models.Loan {
		return calc.SimpleMonthlyInterest(acc.Balance, acc.InterestRate)
	}
	// Nothing outstanding, nothing charged, whatever the formula.
	if !acc.Balance.IsPositive() {
		return decimal.Zero
	}
	if policy.UsesFlatRate(acc.LoanType) {
		return calc.FlatMonthlyInterest(acc.OriginalAmount, acc.InterestRate)
	}
	return calc.ReducingMonthlyInterest(acc.Balance, acc.InterestRate)
}

// InterestID is deterministic so a replayed posting is recognised by the reducer.
func InterestID(accountID string, at time.Time) string {
	return fmt.Sprintf("INT-%s-%d", accountID, at.UnixMilli())
}

// Anchor is the date periods are counted from: the opening date, else fallback.
func Anchor(acc models.Account, fallback time.Time) time.Time {
	if !acc.OpeningDate.IsZero() {
		return acc.OpeningDate
	}
	return fallback
}

// CatchUp posts every whole month between the watermark and now. Period k ends
// k calendar months after the anchor, so a 31st anchor posts on the last day
// of short months and returns to the 31st after them. It stops early when a
// period's interest is not positive or the period ends after the maturity
// date. post is called after each period so a failure part way leaves a
// consistent watermark behind.
func CatchUp(acc models.Account, fallback, now time.Time, post PostFunc) (models.Account, int, error) {
	if !Accrues(acc) {
		return acc, 0, nil
	}
	cursor := Watermark(acc, fallback)
	if cursor.IsZero() {
		return acc, 0, fmt.Errorf("account %s has no date to accrue from", acc.ID)
	}

	anchor := Anchor(acc, fallback)
	if anchor.IsZero() || anchor.After(cursor) {
		anchor = cursor
	}
	period := dates.NextMonth(anchor, cursor)

	posted := 0
	for i := 0; i < MaxPeriods; i, period = i+1, period+1 {
		next := dates.AddMonths(anchor, period)
		if next.After(now) {
			break
		}
		if acc.MaturityDate != nil && next.After(*acc.MaturityDate) {
			break
		}
		interest := MonthlyInterest(acc)
		if !interest.IsPositive() {
			break
		}

		tx := models.Transaction{
			ID:            InterestID(acc.ID, next),
			AccountID:     acc.ID,
			Date:          next,
			Amount:        interest,
			Type:          models.Credit,
			Category:      models.CategoryInterest,
			Description:   fmt.Sprintf("Interest for %s", next.Format("Jan 2006")),
			PaymentMethod: models.PaymentOnline,
			OnlineAmount:  interest,
		}
		if acc.Type == models.Loan {
			tx.Type = models.Debit
		}

		updated, err := ledger.ApplyTransaction(acc, tx)
		if err != nil {
			return acc, posted, fmt.Errorf("failed to post interest on %s: %w", acc.ID, err)
		}
		watermark := next
		updated.LastInterestPostDate = &watermark
		if err := post(updated, tx); err != nil {
			return acc, posted, err
		}
		acc = updated
		posted++
	}
	return acc, posted, nil
}
