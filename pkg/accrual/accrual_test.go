package accrual

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcclellann/thriftLedger/pkg/ledger"
	"github.com/mcclellann/thriftLedger/pkg/lock"
	"github.com/mcclellann/thriftLedger/pkg/models"
	"github.com/mcclellann/thriftLedger/pkg/store"
	"github.com/shopspring/decimal"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func collect(posted *[]models.Transaction) PostFunc {
	return func(_ models.Account, tx models.Transaction) error {
		*posted = append(*posted, tx)
		return nil
	}
}

func TestCatchUp_Deposit(t *testing.T) {
	acc := models.Account{
		ID:           "ACC-OD",
		Type:         models.OptionalDeposit,
		Status:       models.AccountActive,
		Balance:      decimal.NewFromInt(12000),
		InterestRate: decimal.NewFromInt(6),
		OpeningDate:  day(2024, 1, 15),
	}
	var posted []models.Transaction
	out, n, err := CatchUp(acc, time.Time{}, day(2024, 4, 20), collect(&posted))
	if err != nil {
		t.Fatalf("CatchUp failed: %v", err)
	}
	if n != 3 || len(posted) != 3 {
		t.Fatalf("Expected 3 postings, got %d", n)
	}
	// 12000 at 6% is 60 the first month, then compounds on the new balance.
	if !posted[0].Amount.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Expected first posting 60, got %s", posted[0].Amount)
	}
	if posted[0].Type != models.Credit || posted[0].Category != models.CategoryInterest {
		t.Errorf("Expected interest credit, got %s %s", posted[0].Type, posted[0].Category)
	}
	if !posted[2].Date.Equal(day(2024, 4, 15)) {
		t.Errorf("Expected last posting on 2024-04-15, got %s", posted[2].Date)
	}
	if out.LastInterestPostDate == nil || !out.LastInterestPostDate.Equal(day(2024, 4, 15)) {
		t.Errorf("Expected watermark 2024-04-15, got %v", out.LastInterestPostDate)
	}
	if !ledger.DeriveBalance(out).Equal(out.Balance.Sub(acc.Balance)) {
		t.Errorf("Expected history to account for the interest added")
	}

	// Running again at the same instant posts nothing.
	_, again, err := CatchUp(out, time.Time{}, day(2024, 4, 20), collect(&posted))
	if err != nil || again != 0 {
		t.Errorf("Expected no postings on rerun, got %d (%v)", again, err)
	}
}

func TestCatchUp_LoanFormulas(t *testing.T) {
	base := models.Account{
		ID:             "ACC-L",
		Type:           models.Loan,
		Status:         models.AccountActive,
		Balance:        decimal.NewFromInt(4000),
		OriginalAmount: decimal.NewFromInt(10000),
		InterestRate:   decimal.NewFromInt(12),
		OpeningDate:    day(2024, 1, 1),
	}
	now := day(2024, 2, 1)

	reducing := base
	reducing.LoanType = models.LoanPersonal
	var posted []models.Transaction
	out, _, err := CatchUp(reducing, time.Time{}, now, collect(&posted))
	if err != nil {
		t.Fatalf("CatchUp failed: %v", err)
	}
	if !posted[0].Amount.Equal(decimal.NewFromInt(40)) || posted[0].Type != models.Debit {
		t.Errorf("Expected reducing-balance debit of 40, got %s %s", posted[0].Type, posted[0].Amount)
	}
	if !out.Balance.Equal(decimal.NewFromInt(4040)) {
		t.Errorf("Expected outstanding 4040, got %s", out.Balance)
	}

	flat := base
	flat.LoanType = models.LoanGold
	posted = nil
	if _, _, err := CatchUp(flat, time.Time{}, now, collect(&posted)); err != nil {
		t.Fatalf("CatchUp failed: %v", err)
	}
	if !posted[0].Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected flat-rate interest 100, got %s", posted[0].Amount)
	}
}

func TestCatchUp_StopsOnZeroInterest(t *testing.T) {
	repaid := models.Account{
		ID:             "ACC-Z",
		Type:           models.Loan,
		LoanType:       models.LoanGold,
		Status:         models.AccountActive,
		Balance:        decimal.Zero,
		OriginalAmount: decimal.NewFromInt(10000),
		InterestRate:   decimal.NewFromInt(12),
		OpeningDate:    day(2020, 1, 1),
	}
	_, n, err := CatchUp(repaid, time.Time{}, day(2024, 1, 1), func(models.Account, models.Transaction) error {
		t.Fatal("Expected no posting")
		return nil
	})
	if err != nil || n != 0 {
		t.Errorf("Expected zero postings, got %d (%v)", n, err)
	}
}

func TestCatchUp_SkipsShareCapitalAndInactive(t *testing.T) {
	never := func(models.Account, models.Transaction) error {
		t.Fatal("Expected no posting")
		return nil
	}
	share := models.Account{ID: "S", Type: models.ShareCapital, Status: models.AccountActive, Balance: decimal.NewFromInt(500), InterestRate: decimal.NewFromInt(5), OpeningDate: day(2020, 1, 1)}
	if _, n, _ := CatchUp(share, time.Time{}, day(2024, 1, 1), never); n != 0 {
		t.Errorf("Expected share capital to be skipped, got %d", n)
	}
	dormant := share
	dormant.Type = models.OptionalDeposit
	dormant.Status = models.AccountDormant
	if _, n, _ := CatchUp(dormant, time.Time{}, day(2024, 1, 1), never); n != 0 {
		t.Errorf("Expected dormant account to be skipped, got %d", n)
	}
}

func TestWatermarkFallback(t *testing.T) {
	joined := day(2019, 5, 1)
	if got := Watermark(models.Account{}, joined); !got.Equal(joined) {
		t.Errorf("Expected join date fallback, got %s", got)
	}
	opened := day(2021, 1, 1)
	if got := Watermark(models.Account{OpeningDate: opened}, joined); !got.Equal(opened) {
		t.Errorf("Expected opening date, got %s", got)
	}
	posted := day(2022, 3, 1)
	if got := Watermark(models.Account{OpeningDate: opened, LastInterestPostDate: &posted}, joined); !got.Equal(posted) {
		t.Errorf("Expected watermark, got %s", got)
	}
}

func TestEngine_RunAccountIdempotent(t *testing.T) {
	s := store.NewMemoryStore()
	s.UpsertMember(&models.Member{ID: "MEM-1", JoinDate: day(2023, 1, 1), Status: models.MemberActive})
	acc := &models.Account{
		ID:           "ACC-CD",
		MemberID:     "MEM-1",
		Type:         models.CompulsoryDeposit,
		Status:       models.AccountActive,
		InterestRate: decimal.NewFromInt(12),
	}
	opening := models.Transaction{ID: "TXN-OPEN", AccountID: acc.ID, Date: day(2023, 1, 1), Amount: decimal.NewFromInt(1000), Type: models.Credit, Category: models.CategoryOpening}
	applied, err := ledger.ApplyTransaction(*acc, opening)
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	s.UpsertTransaction(&opening)
	s.UpsertAccount(&applied)

	engine := NewEngine(s, nil)
	now := day(2023, 3, 10)
	first, err := engine.RunAccount(context.Background(), acc.ID, now)
	if err != nil {
		t.Fatalf("RunAccount failed: %v", err)
	}
	if first.Posted != 2 {
		t.Errorf("Expected 2 postings from the join date, got %d", first.Posted)
	}
	second, err := engine.RunAccount(context.Background(), acc.ID, now)
	if err != nil {
		t.Fatalf("RunAccount failed: %v", err)
	}
	if second.Posted != 0 {
		t.Errorf("Expected no postings on second run, got %d", second.Posted)
	}

	stored, _ := s.GetAccount(acc.ID)
	if len(stored.Transactions) != 3 {
		t.Errorf("Expected 3 stored transactions, got %d", len(stored.Transactions))
	}
	if !ledger.DeriveBalance(*stored).Equal(stored.Balance) {
		t.Errorf("Expected stored balance %s to match history", stored.Balance)
	}
	entries, _ := s.ListLedgerEntries()
	if len(entries) != 2 || entries[0].Type != models.Expense {
		t.Errorf("Expected 2 expense entries, got %+v", entries)
	}
}

func TestEngine_RunAllSkipsLocked(t *testing.T) {
	s := store.NewMemoryStore()
	s.UpsertAccount(&models.Account{
		ID:           "ACC-1",
		Type:         models.OptionalDeposit,
		Status:       models.AccountActive,
		Balance:      decimal.Zero,
		InterestRate: decimal.NewFromInt(4),
		OpeningDate:  day(2024, 1, 1),
	})
	locker := lock.NewMemoryLocker()
	release, err := locker.Acquire(context.Background(), "accrual:ACC-1", time.Minute)
	if err != nil {
		t.Fatalf("Failed to lock: %v", err)
	}
	defer release()

	summary, err := NewEngine(s, locker).RunAll(context.Background(), day(2024, 6, 1))
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	if len(summary.Skipped) != 1 || summary.Skipped[0] != "ACC-1" {
		t.Errorf("Expected ACC-1 to be skipped, got %+v", summary)
	}
	if _, err := NewEngine(s, locker).RunAccount(context.Background(), "ACC-1", day(2024, 6, 1)); !errors.Is(err, lock.ErrLocked) {
		t.Errorf("Expected ErrLocked, got %v", err)
	}
}

// flakyStore fails the next n postings without writing them.
type flakyStore struct {
	*store.MemoryStore
	failures int
}

func (f *flakyStore) Post(p store.Posting) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	return f.MemoryStore.Post(p)
}

func TestEngine_FailedPostingIsRetried(t *testing.T) {
	s := &flakyStore{MemoryStore: store.NewMemoryStore(), failures: 1}
	acc := models.Account{
		ID:           "ACC-OD",
		MemberID:     "MEM-1",
		Type:         models.OptionalDeposit,
		Status:       models.AccountActive,
		InterestRate: decimal.NewFromInt(12),
		OpeningDate:  day(2024, 1, 1),
	}
	opening := models.Transaction{ID: "TXN-OPEN", AccountID: acc.ID, Date: day(2024, 1, 1), Amount: decimal.NewFromInt(1000), Type: models.Credit, Category: models.CategoryOpening}
	applied, err := ledger.ApplyTransaction(acc, opening)
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	s.UpsertTransaction(&opening)
	s.UpsertAccount(&applied)

	engine := NewEngine(s, nil)
	now := day(2024, 2, 15)
	if _, err := engine.RunAccount(context.Background(), acc.ID, now); err == nil {
		t.Fatal("Expected the first run to fail")
	}
	result, err := engine.RunAccount(context.Background(), acc.ID, now)
	if err != nil {
		t.Fatalf("RunAccount failed: %v", err)
	}
	if result.Posted != 1 {
		t.Errorf("Expected the failed period to be posted on retry, got %d", result.Posted)
	}

	stored, _ := s.GetAccount(acc.ID)
	if !stored.Balance.Equal(decimal.NewFromInt(1010)) || !ledger.DeriveBalance(*stored).Equal(stored.Balance) {
		t.Errorf("Expected balance 1010 backed by history, got %s (derived %s)", stored.Balance, ledger.DeriveBalance(*stored))
	}
	if len(stored.Transactions) != 2 {
		t.Errorf("Expected 2 transactions, got %d", len(stored.Transactions))
	}
	if entries, _ := s.ListLedgerEntries(); len(entries) != 1 {
		t.Errorf("Expected the interest entry to be stored, got %d", len(entries))
	}
}

func TestCatchUp_MonthEndAnchor(t *testing.T) {
	acc := models.Account{
		ID:           "ACC-OD",
		Type:         models.OptionalDeposit,
		Status:       models.AccountActive,
		Balance:      decimal.NewFromInt(1000),
		InterestRate: decimal.NewFromInt(12),
		OpeningDate:  day(2024, 1, 31),
	}
	var posted []models.Transaction
	if _, _, err := CatchUp(acc, time.Time{}, day(2024, 5, 31), collect(&posted)); err != nil {
		t.Fatalf("CatchUp failed: %v", err)
	}
	want := []time.Time{day(2024, 2, 29), day(2024, 3, 31), day(2024, 4, 30), day(2024, 5, 31)}
	if len(posted) != len(want) {
		t.Fatalf("Expected %d postings, got %d", len(want), len(posted))
	}
	for i, tx := range posted {
		if !tx.Date.Equal(want[i]) {
			t.Errorf("Posting %d: expected %s, got %s", i, want[i].Format("2006-01-02"), tx.Date.Format("2006-01-02"))
		}
	}

	// Resuming from a pinned watermark returns to the anchor day.
	feb := day(2024, 2, 29)
	acc.LastInterestPostDate = &feb
	posted = nil
	if _, _, err := CatchUp(acc, time.Time{}, day(2024, 4, 1), collect(&posted)); err != nil {
		t.Fatalf("CatchUp failed: %v", err)
	}
	if len(posted) != 1 || !posted[0].Date.Equal(day(2024, 3, 31)) {
		t.Errorf("Expected a single posting on 2024-03-31, got %+v", posted)
	}
}

func TestCatchUp_StopsAtMaturity(t *testing.T) {
	maturity := day(2024, 4, 1)
	acc := models.Account{
		ID:           "ACC-FD",
		Type:         models.FixedDeposit,
		Status:       models.AccountActive,
		Balance:      decimal.NewFromInt(10000),
		InterestRate: decimal.NewFromInt(12),
		OpeningDate:  day(2024, 1, 1),
		MaturityDate: &maturity,
	}
	var posted []models.Transaction
	_, n, err := CatchUp(acc, time.Time{}, day(2024, 12, 1), collect(&posted))
	if err != nil {
		t.Fatalf("CatchUp failed: %v", err)
	}
	if n != 3 || !posted[n-1].Date.Equal(maturity) {
		t.Errorf("Expected 3 postings ending on the maturity date, got %d", n)
	}
}
