package store

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/mcclellann/thriftLedger/pkg/models"
	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T, dbFile string) *SQLStore {
	t.Helper()
	os.Remove(dbFile)
	s, err := NewSQLiteStore(dbFile)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		os.Remove(dbFile)
		os.Remove(dbFile + "-wal")
		os.Remove(dbFile + "-shm")
	})
	return s
}

func TestSQLiteStore_UpsertAndGetAccount(t *testing.T) {
	s := openTestStore(t, "test_store_accounts.db")

	opened := time.Date(2022, 4, 1, 0, 0, 0, 0, time.UTC)
	maturity := opened.AddDate(1, 0, 0)
	acc := &models.Account{
		ID:             "ACC-1",
		MemberID:       "MEM-1",
		Type:           models.FixedDeposit,
		Status:         models.AccountActive,
		Balance:        decimal.NewFromInt(10000),
		InterestRate:   decimal.NewFromFloat(7.5),
		OriginalAmount: decimal.NewFromInt(10000),
		TermMonths:     12,
		OpeningDate:    opened,
		MaturityDate:   &maturity,
		Guarantors:     []string{"MEM-2", "MEM-3"},
	}
	if err := s.UpsertAccount(acc); err != nil {
		t.Fatalf("Failed to upsert account: %v", err)
	}

	// Upsert again with a new balance; must update, not duplicate.
	acc.Balance = decimal.NewFromInt(10062)
	if err := s.UpsertAccount(acc); err != nil {
		t.Fatalf("Failed to re-upsert account: %v", err)
	}

	fetched, err := s.GetAccount("ACC-1")
	if err != nil {
		t.Fatalf("Failed to get account: %v", err)
	}
	if !fetched.Balance.Equal(decimal.NewFromInt(10062)) {
		t.Errorf("Expected balance 10062, got %s", fetched.Balance)
	}
	if !fetched.InterestRate.Equal(decimal.NewFromFloat(7.5)) {
		t.Errorf("Expected rate 7.5, got %s", fetched.InterestRate)
	}
	if fetched.MaturityDate == nil || !fetched.MaturityDate.Equal(maturity) {
		t.Errorf("Expected maturity %s, got %v", maturity, fetched.MaturityDate)
	}
	if fetched.LastInterestPostDate != nil {
		t.Errorf("Expected no watermark, got %v", fetched.LastInterestPostDate)
	}
	if len(fetched.Guarantors) != 2 || fetched.Guarantors[1] != "MEM-3" {
		t.Errorf("Expected guarantors [MEM-2 MEM-3], got %v", fetched.Guarantors)
	}

	all, err := s.ListAccounts()
	if err != nil {
		t.Fatalf("Failed to list accounts: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected 1 account, got %d", len(all))
	}
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	s := openTestStore(t, "test_store_missing.db")

	if _, err := s.GetAccount("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetMember("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_BatchTransactionsAreIdempotent(t *testing.T) {
	s := openTestStore(t, "test_store_tx.db")

	if err := s.UpsertAccount(&models.Account{ID: "ACC-1", MemberID: "MEM-1", Type: models.OptionalDeposit, Status: models.AccountActive, OpeningDate: time.Now().UTC()}); err != nil {
		t.Fatalf("Failed to upsert account: %v", err)
	}

	txs := []*models.Transaction{
		{ID: "TXN-1", AccountID: "ACC-1", Date: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(500), Type: models.Credit, Category: models.CategoryDeposit},
		{ID: "TXN-2", AccountID: "ACC-1", Date: time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(100), Type: models.Debit, Category: models.CategoryWithdrawal},
	}
	for i := 0; i < 2; i++ {
		if err := s.UpsertTransactions(txs); err != nil {
			t.Fatalf("Failed to upsert transactions (pass %d): %v", i, err)
		}
	}

	got, err := s.GetTransactionsForAccount("ACC-1")
	if err != nil {
		t.Fatalf("Failed to get transactions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 transactions, got %d", len(got))
	}
	if got[0].ID != "TXN-1" || !got[1].Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Unexpected transactions: %+v %+v", got[0], got[1])
	}

	if err := s.Delete(KindTransactions, []string{"TXN-2"}); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	acc, err := s.GetAccount("ACC-1")
	if err != nil {
		t.Fatalf("Failed to get account: %v", err)
	}
	if len(acc.Transactions) != 1 {
		t.Errorf("Expected 1 transaction after delete, got %d", len(acc.Transactions))
	}
}

func TestSQLiteStore_MembersAndLedger(t *testing.T) {
	s := openTestStore(t, "test_store_members.db")

	members := []*models.Member{
		{ID: "MEM-1", LegacyID: "7", FullName: "Asha Rao", Phone: "9800000001", JoinDate: time.Date(2019, 5, 1, 0, 0, 0, 0, time.UTC), Status: models.MemberActive},
		{ID: "MEM-2", FullName: "Vikram Shah", Phone: "9800000002", JoinDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Status: models.MemberPending},
	}
	if err := s.UpsertMembers(members); err != nil {
		t.Fatalf("Failed to upsert members: %v", err)
	}
	list, err := s.ListMembers()
	if err != nil {
		t.Fatalf("Failed to list members: %v", err)
	}
	if len(list) != 2 || list[0].LegacyID != "7" {
		t.Errorf("Unexpected members: %+v", list)
	}

	entry := &models.LedgerEntry{ID: "LED-1", Date: time.Now().UTC(), Description: "Registration fee", Amount: decimal.NewFromInt(100), Type: models.Income, Category: models.CategoryFee}
	if err := s.UpsertLedgerEntries([]*models.LedgerEntry{entry, entry}); err != nil {
		t.Fatalf("Failed to upsert ledger entries: %v", err)
	}
	entries, err := s.ListLedgerEntries()
	if err != nil {
		t.Fatalf("Failed to list ledger entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != models.Income {
		t.Errorf("Expected 1 income entry, got %+v", entries)
	}

	if err := s.UpsertStaff([]*models.Staff{{ID: "STF-1", Name: "Kiran", CommissionFee: decimal.NewFromFloat(2.5)}}); err != nil {
		t.Fatalf("Failed to upsert staff: %v", err)
	}
	staff, err := s.ListStaff()
	if err != nil {
		t.Fatalf("Failed to list staff: %v", err)
	}
	if len(staff) != 1 || !staff[0].CommissionFee.Equal(decimal.NewFromFloat(2.5)) {
		t.Errorf("Unexpected staff: %+v", staff)
	}
}

func TestSQLiteStore_PostWritesTogether(t *testing.T) {
	s := openTestStore(t, "test_store_post.db")

	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	posting := Posting{
		Accounts: []models.Account{{
			ID: "ACC-1", MemberID: "MEM-1", Type: models.OptionalDeposit, Status: models.AccountActive,
			Balance: decimal.NewFromInt(1010), InterestRate: decimal.NewFromInt(12), OpeningDate: day.AddDate(0, -1, 0),
			LastInterestPostDate: &day,
		}},
		Transactions: []models.Transaction{{
			ID: "INT-ACC-1", AccountID: "ACC-1", Date: day, Amount: decimal.NewFromInt(10),
			Type: models.Credit, Category: models.CategoryInterest,
		}},
		LedgerEntries: []models.LedgerEntry{{
			ID: "LED-INT-ACC-1", Date: day, Amount: decimal.NewFromInt(10), Type: models.Expense, Category: models.CategoryInterest,
		}},
	}
	if err := s.Post(posting); err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	acc, err := s.GetAccount("ACC-1")
	if err != nil {
		t.Fatalf("Failed to get account: %v", err)
	}
	if !acc.Balance.Equal(decimal.NewFromInt(1010)) || len(acc.Transactions) != 1 {
		t.Errorf("Expected balance 1010 with 1 transaction, got %s with %d", acc.Balance, len(acc.Transactions))
	}
	if acc.LastInterestPostDate == nil || !acc.LastInterestPostDate.Equal(day) {
		t.Errorf("Expected watermark %s, got %v", day, acc.LastInterestPostDate)
	}
	if entries, _ := s.ListLedgerEntries(); len(entries) != 1 {
		t.Errorf("Expected 1 ledger entry, got %d", len(entries))
	}
}

func TestMemoryStore_PostFailsWhole(t *testing.T) {
	s := NewMemoryStore()
	s.FailOn[KindAccounts] = errors.New("disk full")

	err := s.Post(Posting{
		Accounts:     []models.Account{{ID: "ACC-1", Balance: decimal.NewFromInt(10)}},
		Transactions: []models.Transaction{{ID: "TXN-1", AccountID: "ACC-1", Amount: decimal.NewFromInt(10)}},
	})
	if err == nil {
		t.Fatal("Expected Post to fail")
	}
	if txs, _ := s.GetTransactionsForAccount("ACC-1"); len(txs) != 0 {
		t.Errorf("Expected no transaction to be written, got %d", len(txs))
	}
}

func TestRebindForPostgres(t *testing.T) {
	s := &SQLStore{driver: "postgres"}
	got := s.rebind("SELECT * FROM accounts WHERE id = ? AND member_id = ?")
	want := "SELECT * FROM accounts WHERE id = $1 AND member_id = $2"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	sqlite := &SQLStore{driver: "sqlite3"}
	if q := sqlite.rebind("id = ?"); q != "id = ?" {
		t.Errorf("Expected sqlite query unchanged, got %q", q)
	}
}
