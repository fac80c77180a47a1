package accrual

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mcclellann/thriftLedger/pkg/dates"
	"github.com/mcclellann/thriftLedger/pkg/ledger"
	"github.com/mcclellann/thriftLedger/pkg/lock"
	"github.com/mcclellann/thriftLedger/pkg/models"
	"github.com/mcclellann/thriftLedger/pkg/store"
	"github.com/shopspring/decimal"
)

const lockTTL = 2 * time.Minute

// Result describes one account's run.
type Result struct {
	AccountID string          `json:"account_id"`
	Posted    int             `json:"posted"`
	Interest  decimal.Decimal `json:"interest"`
	Balance   decimal.Decimal `json:"balance"`
}

// Summary aggregates a RunAll pass.
type Summary struct {
	Accounts int      `json:"accounts"`
	Posted   int      `json:"posted"`
	Skipped  []string `json:"skipped,omitempty"` // Locked by another run
	Failed   []string `json:"failed,omitempty"`
}

// Engine runs CatchUp against storage, one account at a time under a lock.
type Engine struct {
	storage store.Storage
	locker  lock.Locker
}

// NewEngine returns an Engine. A nil locker guards only this process.
func NewEngine(s store.Storage, l lock.Locker) *Engine {
	if l == nil {
		l = lock.NewMemoryLocker()
	}
	return &Engine{storage: s, locker: l}
}

// RunAccount catches one account up to now.
func (e *Engine) RunAccount(ctx context.Context, accountID string, now time.Time) (*Result, error) {
	release, err := e.locker.Acquire(ctx, "accrual:"+accountID, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", accountID, err)
	}
	defer release()

	acc, err := e.storage.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	var joined time.Time
	if member, err := e.storage.GetMember(acc.MemberID); err == nil {
		joined = member.JoinDate
	}

	result := &Result{AccountID: acc.ID, Interest: decimal.Zero}
	updated, posted, err := CatchUp(*acc, joined, now, func(a models.Account, tx models.Transaction) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		posting := store.Posting{Accounts: []models.Account{a}, Transactions: []models.Transaction{tx}}
		if entry, ok := ledger.LedgerEntryFor(a, tx); ok {
			posting.LedgerEntries = append(posting.LedgerEntries, entry)
		}
		if err := e.storage.Post(posting); err != nil {
			return fmt.Errorf("failed to store interest: %w", err)
		}
		result.Interest = result.Interest.Add(tx.Amount)
		return nil
	})
	result.Posted = posted
	result.Balance = updated.Balance
	return result, err
}

// RunAll catches up every accruing account. Per-account failures are logged
// and do not stop the pass.
func (e *Engine) RunAll(ctx context.Context, now time.Time) (*Summary, error) {
	accounts, err := e.storage.ListAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	summary := &Summary{}
	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if !Accrues(*acc) {
			continue
		}
		if acc.MaturityDate != nil && !acc.MaturityDate.After(now) {
			log.Printf("Account %s matured on %s and is awaiting payout", acc.ID, acc.MaturityDate.Format(dates.Layout))
		}
		summary.Accounts++
		result, err := e.RunAccount(ctx, acc.ID, now)
		if result != nil {
			summary.Posted += result.Posted
		}
		switch {
		case errors.Is(err, lock.ErrLocked):
			summary.Skipped = append(summary.Skipped, acc.ID)
		case err != nil:
			log.Printf("Error accruing interest for account %s: %v", acc.ID, err)
			summary.Failed = append(summary.Failed, acc.ID)
		}
	}
	log.Printf("Interest accrual complete: %d accounts, %d postings", summary.Accounts, summary.Posted)
	return summary, nil
}
