package importer

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mcclellann/thriftLedger/pkg/ledger"
	"github.com/mcclellann/thriftLedger/pkg/models"
	"github.com/mcclellann/thriftLedger/pkg/store"
	"github.com/shopspring/decimal"
)

// Options configures an Importer.
type Options struct {
	MinDate time.Time
	Enroll  ledger.EnrollOptions // Now is overwritten per import
	// OptionalDepositRate applies to imported OptionalDeposit accounts that
	// carry no rate of their own. CompulsoryDeposit accounts take Enroll.CompulsoryRate.
	OptionalDepositRate decimal.Decimal
	Now                 func() time.Time
}

// Importer reconciles input against the current contents of storage.
type Importer struct {
	storage store.Storage
	opts    Options
}

func New(s store.Storage, opts Options) *Importer {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Importer{storage: s, opts: opts}
}

// Preview parses and reconciles text without writing anything. sheet receives
// headerless pastes and may be nil.
func (im *Importer) Preview(target Target, text string, sheet *Sheet) (*Result, error) {
	if _, ok := Columns[target]; !ok {
		return nil, fmt.Errorf("unknown import target %q", target)
	}
	rows, err := Parse(target, text, sheet)
	if err != nil {
		return nil, err
	}
	return im.Reconcile(target, rows)
}

// Reconcile validates rows, links them to existing members and accounts, and
// builds the deduplicated entity set.
func (im *Importer) Reconcile(target Target, rows []Row) (*Result, error) {
	members, err := im.storage.ListMembers()
	if err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	accounts, err := im.storage.ListAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	entries, err := im.storage.ListLedgerEntries()
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}

	now := im.opts.Now()
	enroll := im.opts.Enroll
	enroll.Now = now
	rc := &reconciler{
		dir:          newDirectory(members, accounts, entries),
		minDate:      im.opts.MinDate,
		now:          now,
		enroll:       enroll,
		optionalRate: im.opts.OptionalDepositRate,
		result:       &Result{Target: target, Rows: len(rows)},
		seen:         make(map[string]int),
	}
	switch target {
	case TargetMembers:
		rc.members(rows)
	case TargetAccounts:
		rc.accounts(rows)
	case TargetTransactions:
		rc.transactions(rows)
	case TargetStaff:
		rc.staff(rows)
	}
	rc.result.Dedupe()
	return rc.result, nil
}

// Commit writes a reconciled result through storage.
func (im *Importer) Commit(res *Result) *CommitReport {
	return Commit(im.storage, res)
}

// Dedupe keeps the last occurrence of every id in each collection.
func (r *Result) Dedupe() {
	r.Members = dedupe(r.Members, func(m models.Member) string { return m.ID })
	r.Accounts = dedupe(r.Accounts, func(a models.Account) string { return a.ID })
	r.Transactions = dedupe(r.Transactions, func(t models.Transaction) string { return t.ID })
	r.LedgerEntries = dedupe(r.LedgerEntries, func(e models.LedgerEntry) string { return e.ID })
	r.Staff = dedupe(r.Staff, func(s models.Staff) string { return s.ID })
}

// dedupe keeps first-seen order with last-seen values.
func dedupe[T any](items []T, id func(T) string) []T {
	index := make(map[string]int, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		key := id(item)
		if i, ok := index[key]; ok {
			out[i] = item
			continue
		}
		index[key] = len(out)
		out = append(out, item)
	}
	return out
}

func pointers[T any](items []T) []*T {
	out := make([]*T, len(items))
	for i := range items {
		out[i] = &items[i]
	}
	return out
}

// CommitReport lists what was written per kind and what failed.
type CommitReport struct {
	Saved    map[store.Kind]int  `json:"saved"`
	Failures []*PersistenceError `json:"failures,omitempty"`
}

// Err joins every failure, or nil when the whole commit landed.
func (r *CommitReport) Err() error {
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Commit submits each kind as one batch upsert. A failed kind is reported and
// the remaining kinds are still attempted; nothing already written is undone.
// Every upsert is keyed by id and imported ids are derived from row content,
// so previewing and committing the same text again fills in what is missing.
func Commit(b store.BatchStore, res *Result) *CommitReport {
	res.Dedupe()
	report := &CommitReport{Saved: make(map[store.Kind]int)}
	steps := []struct {
		kind  store.Kind
		count int
		write func() error
	}{
		{store.KindMembers, len(res.Members), func() error { return b.UpsertMembers(pointers(res.Members)) }},
		{store.KindAccounts, len(res.Accounts), func() error { return b.UpsertAccounts(pointers(res.Accounts)) }},
		{store.KindTransactions, len(res.Transactions), func() error { return b.UpsertTransactions(pointers(res.Transactions)) }},
		{store.KindLedgerEntries, len(res.LedgerEntries), func() error { return b.UpsertLedgerEntries(pointers(res.LedgerEntries)) }},
		{store.KindStaff, len(res.Staff), func() error { return b.UpsertStaff(pointers(res.Staff)) }},
	}
	for _, step := range steps {
		if step.count == 0 {
			continue
		}
		if err := step.write(); err != nil {
			log.Printf("Import commit failed for %d %s: %v", step.count, step.kind, err)
			report.Failures = append(report.Failures, &PersistenceError{Kind: step.kind, Count: step.count, Err: err})
			continue
		}
		report.Saved[step.kind] = step.count
	}
	return report
}
