// Package repair finds and fixes damage in stored data. Scans never write;
// every Apply function is a separate, explicit step.
package repair

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/mcclellann/thriftLedger/pkg/dates"
	"github.com/mcclellann/thriftLedger/pkg/ledger"
	"github.com/mcclellann/thriftLedger/pkg/models"
	"github.com/mcclellann/thriftLedger/pkg/store"
	"github.com/shopspring/decimal"
)

// DriftThreshold is how far a recorded date may sit from its id timestamp
// before it is reported. Backdating within this window is routine.
const DriftThreshold = 30 * 24 * time.Hour

var epochMillis = regexp.MustCompile(`(?:^|\D)(\d{13})(?:\D|$)`)

// ExtractTimestampFromID finds the 13-digit epoch-millisecond stamp embedded
// in generated ids and returns its UTC calendar date.
func ExtractTimestampFromID(id string) (time.Time, bool) {
	m := epochMillis.FindStringSubmatch(id)
	if m == nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return dates.Truncate(time.UnixMilli(ms)), true
}

// DateFix proposes replacing an entity's recorded date with its id date.
type DateFix struct {
	Kind     store.Kind `json:"kind"`
	ID       string     `json:"id"`
	Field    string     `json:"field"`
	Recorded time.Time  `json:"recorded"`
	Proposed time.Time  `json:"proposed"`
	DaysOff  int        `json:"days_off"`
}

func checkDate(kind store.Kind, id, field string, recorded time.Time) (DateFix, bool) {
	stamped, ok := ExtractTimestampFromID(id)
	if !ok || recorded.IsZero() {
		return DateFix{}, false
	}
	diff := dates.Truncate(recorded).Sub(stamped)
	if diff < 0 {
		diff = -diff
	}
	if diff <= DriftThreshold {
		return DateFix{}, false
	}
	return DateFix{
		Kind:     kind,
		ID:       id,
		Field:    field,
		Recorded: recorded,
		Proposed: stamped,
		DaysOff:  int(diff.Hours() / 24),
	}, true
}

// ScanForDateCorruption compares member join dates and account opening dates
// with the dates embedded in their ids.
func ScanForDateCorruption(members []*models.Member, accounts []*models.Account) []DateFix {
	var fixes []DateFix
	for _, m := range members {
		if fix, ok := checkDate(store.KindMembers, m.ID, "join_date", m.JoinDate); ok {
			fixes = append(fixes, fix)
		}
	}
	for _, a := range accounts {
		if fix, ok := checkDate(store.KindAccounts, a.ID, "opening_date", a.OpeningDate); ok {
			fixes = append(fixes, fix)
		}
	}
	return fixes
}

// ApplyDateFixes writes confirmed fixes and returns how many landed.
func ApplyDateFixes(s store.Storage, fixes []DateFix) (int, error) {
	applied := 0
	for _, fix := range fixes {
		switch fix.Kind {
		case store.KindMembers:
			m, err := s.GetMember(fix.ID)
			if err != nil {
				return applied, err
			}
			m.JoinDate = fix.Proposed
			if err := s.UpsertMember(m); err != nil {
				return applied, fmt.Errorf("failed to fix member %s: %w", fix.ID, err)
			}
		case store.KindAccounts:
			a, err := s.GetAccount(fix.ID)
			if err != nil {
				return applied, err
			}
			a.OpeningDate = fix.Proposed
			if err := s.UpsertAccount(a); err != nil {
				return applied, fmt.Errorf("failed to fix account %s: %w", fix.ID, err)
			}
		default:
			return applied, fmt.Errorf("no date fix for kind %q", fix.Kind)
		}
		applied++
	}
	return applied, nil
}

// BackfillMissingTransactions synthesizes one opening transaction for every
// account that carries a balance but has no history. The balance already
// reflects it, so the result is stored as is and never re-applied.
func BackfillMissingTransactions(accounts []*models.Account) []models.Transaction {
	var out []models.Transaction
	for _, a := range accounts {
		if len(a.Transactions) > 0 || a.Balance.IsZero() {
			continue
		}
		tx := models.Transaction{
			ID:          "BKF-" + a.ID,
			AccountID:   a.ID,
			Date:        a.OpeningDate,
			Amount:      a.Balance.Abs(),
			Type:        models.Credit,
			Category:    models.CategoryOpening,
			Description: "Opening balance (backfilled)",
		}
		// A positive loan balance is debt, which a debit creates.
		if a.Balance.IsNegative() != (a.Type == models.Loan) {
			tx.Type = models.Debit
		}
		if a.Type == models.Loan {
			tx.Category = models.CategoryDisbursement
		}
		out = append(out, tx)
	}
	return out
}

// ApplyBackfill stores synthesized transactions in one batch.
func ApplyBackfill(b store.BatchStore, txs []models.Transaction) error {
	ptrs := make([]*models.Transaction, len(txs))
	for i := range txs {
		ptrs[i] = &txs[i]
	}
	if err := b.UpsertTransactions(ptrs); err != nil {
		return fmt.Errorf("failed to store %d backfilled transactions: %w", len(txs), err)
	}
	return nil
}

// DuplicateInterest is a set of interest postings on the same account and day.
// Keep survives; Remove are proposed for deletion.
type DuplicateInterest struct {
	AccountID string    `json:"account_id"`
	Date      time.Time `json:"date"`
	Keep      string    `json:"keep"`
	Remove    []string  `json:"remove"`
}

// ScanDuplicateInterest finds interest postings that share an account and date,
// left behind by concurrent accrual runs.
func ScanDuplicateInterest(accounts []*models.Account) []DuplicateInterest {
	var out []DuplicateInterest
	for _, a := range accounts {
		byDay := make(map[time.Time][]string)
		for _, tx := range a.Transactions {
			if tx.Category == models.CategoryInterest {
				day := dates.Truncate(tx.Date)
				byDay[day] = append(byDay[day], tx.ID)
			}
		}
		for day, ids := range byDay {
			if len(ids) < 2 {
				continue
			}
			sort.Strings(ids)
			out = append(out, DuplicateInterest{AccountID: a.ID, Date: day, Keep: ids[0], Remove: ids[1:]})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID == out[j].AccountID {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}

// ApplyDuplicateInterestFix deletes the proposed postings and their ledger
// entries, then rebuilds each affected balance from its remaining history.
func ApplyDuplicateInterestFix(s store.Storage, dups []DuplicateInterest) error {
	var txIDs, entryIDs []string
	affected := make(map[string]bool)
	for _, d := range dups {
		for _, id := range d.Remove {
			txIDs = append(txIDs, id)
			entryIDs = append(entryIDs, "LED-"+id)
		}
		affected[d.AccountID] = true
	}
	if len(txIDs) == 0 {
		return nil
	}
	if err := s.Delete(store.KindTransactions, txIDs); err != nil {
		return fmt.Errorf("failed to delete duplicate interest: %w", err)
	}
	if err := s.Delete(store.KindLedgerEntries, entryIDs); err != nil {
		return fmt.Errorf("failed to delete duplicate interest entries: %w", err)
	}
	for id := range affected {
		acc, err := s.GetAccount(id)
		if err != nil {
			return err
		}
		acc.Balance = ledger.DeriveBalance(*acc)
		if err := s.UpsertAccount(acc); err != nil {
			return fmt.Errorf("failed to rebuild balance of %s: %w", id, err)
		}
	}
	return nil
}

// Drift is a stored balance that disagrees with its replayed history.
type Drift struct {
	AccountID string          `json:"account_id"`
	Stored    decimal.Decimal `json:"stored"`
	Derived   decimal.Decimal `json:"derived"`
}

// ScanBalanceDrift replays every account with history. Accounts without any
// transactions are left to BackfillMissingTransactions.
func ScanBalanceDrift(accounts []*models.Account) []Drift {
	var out []Drift
	for _, a := range accounts {
		if len(a.Transactions) == 0 {
			continue
		}
		derived := ledger.DeriveBalance(*a)
		if !derived.Equal(a.Balance) {
			out = append(out, Drift{AccountID: a.ID, Stored: a.Balance, Derived: derived})
		}
	}
	return out
}
