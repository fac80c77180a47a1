package importer

import (
	"errors"
	"testing"
	"time"

	"github.com/mcclellann/thriftLedger/pkg/accrual"
	"github.com/mcclellann/thriftLedger/pkg/ledger"
	"github.com/mcclellann/thriftLedger/pkg/models"
	"github.com/mcclellann/thriftLedger/pkg/store"
	"github.com/shopspring/decimal"
)

var (
	testNow     = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	testMinDate = time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)
)

func newTestImporter(s store.Storage) *Importer {
	return New(s, Options{
		MinDate: testMinDate,
		Enroll: ledger.EnrollOptions{
			RegistrationFee:   decimal.NewFromInt(100),
			ShareCapital:      decimal.NewFromInt(500),
			CompulsoryDeposit: decimal.NewFromInt(200),
			CompulsoryRate:    decimal.NewFromInt(6),
		},
		OptionalDepositRate: decimal.NewFromInt(4),
		Now:                 func() time.Time { return testNow },
	})
}

func TestResolveField(t *testing.T) {
	tests := []struct {
		target Target
		header string
		want   string
	}{
		{TargetMembers, "Mobile No", "phone"},
		{TargetMembers, "M.No", "member_id"},
		{TargetMembers, "Legacy ID", "member_id"},
		{TargetMembers, "full_name", "full_name"},
		{TargetAccounts, "Opening Balance", "opening_balance"},
		{TargetTransactions, "UTR No.", "utr"},
		{TargetStaff, "Commission", "commission_fee"},
	}
	for _, tt := range tests {
		got, ok := ResolveField(tt.target, tt.header)
		if !ok || got != tt.want {
			t.Errorf("ResolveField(%s, %q) = %q, want %q", tt.target, tt.header, got, tt.want)
		}
	}
	if _, ok := ResolveField(TargetMembers, "Favourite Colour"); ok {
		t.Error("Expected unknown header to be dropped")
	}
}

func TestLooksLikeHeader(t *testing.T) {
	if !LooksLikeHeader([]string{"Member ID", "Name"}) {
		t.Error("Expected header row to be detected")
	}
	if LooksLikeHeader([]string{"Asha", "9876543210"}) {
		t.Error("Expected data row not to be a header")
	}
	// Known false positive: "David" contains "id".
	if !LooksLikeHeader([]string{"David", "9876543210"}) {
		t.Error("Expected keyword match inside a name to read as a header")
	}
}

func TestParse_WideFormatUnpivot(t *testing.T) {
	text := "Share Capital\tCompulsory Deposit\tMember ID\tDate\n500\t200\t7\t01-05-2022\n"
	rows, err := Parse(TargetAccounts, text, nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	want := []models.AccountType{models.ShareCapital, models.CompulsoryDeposit}
	for i, r := range rows {
		if r.Get("member_id") != "7" {
			t.Errorf("Expected member 7, got %q", r.Get("member_id"))
		}
		if r.Get("account_type") != string(want[i]) {
			t.Errorf("Expected %s, got %s", want[i], r.Get("account_type"))
		}
		if r.Get("opening_date") != "01-05-2022" {
			t.Errorf("Expected shared date, got %q", r.Get("opening_date"))
		}
	}
	if rows[0].Get("opening_balance") != "500" || rows[1].Get("opening_balance") != "200" {
		t.Errorf("Expected balances 500 and 200, got %s and %s", rows[0].Get("opening_balance"), rows[1].Get("opening_balance"))
	}
}

func TestParse_WideFormatSkipsEmptyColumns(t *testing.T) {
	text := "Member ID,Share Capital,Compulsory Deposit,Loan\n8,500,0,\n"
	rows, err := Parse(TargetAccounts, text, nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Get("account_type") != string(models.ShareCapital) {
		t.Errorf("Expected a single share capital row, got %+v", rows)
	}
}

func TestSheet_PositionalPaste(t *testing.T) {
	sheet := NewSheet(TargetMembers)
	sheet.Focus(1, 1)
	rows, err := Parse(TargetMembers, "Asha\tRaman\t9876543210\textra\tcells\tpast\tthe\tend\n", sheet)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.Line != 2 {
		t.Errorf("Expected grid line 2, got %d", r.Line)
	}
	if r.Get("full_name") != "Asha" || r.Get("father_name") != "Raman" || r.Get("phone") != "9876543210" {
		t.Errorf("Expected values from the focused column on, got %v", r.Fields)
	}
	if r.Get("member_id") != "" {
		t.Errorf("Expected column before focus to stay empty, got %q", r.Get("member_id"))
	}
	if len(sheet.Cells[1]) != len(Columns[TargetMembers]) {
		t.Errorf("Expected overflow cells to be dropped, got width %d", len(sheet.Cells[1]))
	}
}

func TestPreview_Members(t *testing.T) {
	s := store.NewMemoryStore()
	im := newTestImporter(s)
	text := "Name,Mobile No,Join Date\nAsha Rao,98765 43210,01-01-20\n,,05-05-2021\n"

	res, err := im.Preview(TargetMembers, text, nil)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(res.Errors) != 1 || res.Errors[0].Line != 3 || res.Errors[0].Kind != IssueValidation {
		t.Fatalf("Expected one validation error on line 3, got %+v", res.Errors)
	}
	if len(res.Members) != 1 {
		t.Fatalf("Expected 1 member, got %d", len(res.Members))
	}
	m := res.Members[0]
	if m.Phone != "9876543210" {
		t.Errorf("Expected phone digits only, got %q", m.Phone)
	}
	if !m.JoinDate.Equal(testMinDate) {
		t.Errorf("Expected join date clamped to %s, got %s", testMinDate, m.JoinDate)
	}
	if len(res.Accounts) != 2 || len(res.Transactions) != 2 || len(res.LedgerEntries) != 1 {
		t.Errorf("Expected 2 accounts, 2 transactions and 1 ledger entry, got %d, %d, %d", len(res.Accounts), len(res.Transactions), len(res.LedgerEntries))
	}
	if members, _ := s.ListMembers(); len(members) != 0 {
		t.Errorf("Expected preview to write nothing, got %d members", len(members))
	}
}

func TestPreview_DuplicatePhoneWarns(t *testing.T) {
	s := store.NewMemoryStore()
	s.UpsertMember(&models.Member{ID: "MEM-1", FullName: "Asha", Phone: "9876543210", Status: models.MemberActive})

	res, err := newTestImporter(s).Preview(TargetMembers, "Name,Phone\nA. Rao,9876543210\n", nil)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(res.Members) != 0 {
		t.Errorf("Expected existing member to be substituted, got %d new", len(res.Members))
	}
	if len(res.Warnings) != 1 || len(res.Errors) != 0 {
		t.Errorf("Expected a single warning, got %+v / %+v", res.Warnings, res.Errors)
	}
}

func TestPreview_AccountsLinkage(t *testing.T) {
	s := store.NewMemoryStore()
	s.UpsertMember(&models.Member{ID: "MEM-7", LegacyID: "7", FullName: "Asha", Status: models.MemberActive})

	text := "Member ID,Share Capital,Compulsory Deposit\n7,500,200\n99,100,100\n"
	res, err := newTestImporter(s).Preview(TargetAccounts, text, nil)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(res.Accounts) != 2 {
		t.Fatalf("Expected 2 accounts, got %d", len(res.Accounts))
	}
	for _, a := range res.Accounts {
		if a.MemberID != "MEM-7" {
			t.Errorf("Expected legacy number to link to MEM-7, got %s", a.MemberID)
		}
		if !ledger.DeriveBalance(a).Equal(a.Balance) {
			t.Errorf("Expected opening transaction to back balance %s", a.Balance)
		}
	}
	if len(res.Errors) != 2 {
		t.Fatalf("Expected 2 linkage errors, got %d", len(res.Errors))
	}
	for _, e := range res.Errors {
		if e.Kind != IssueLinkage {
			t.Errorf("Expected linkage error, got %s", e.Kind)
		}
	}
}

func TestPreview_Transactions(t *testing.T) {
	s := store.NewMemoryStore()
	s.UpsertAccount(&models.Account{ID: "ACC-OD", MemberID: "MEM-1", Type: models.OptionalDeposit, Status: models.AccountActive, Balance: decimal.Zero})
	s.UpsertAccount(&models.Account{ID: "ACC-RD", MemberID: "MEM-1", Type: models.RecurringDeposit, Status: models.AccountActive, Balance: decimal.Zero})
	im := newTestImporter(s)

	text := "Account No,Type,Amount,Date,Narration\n" +
		"ACC-OD,Cr,\"1,000\",15/06/2024,cash deposit\n" +
		"ACC-OD,Dr,200,16/06/2024,withdrawal\n" +
		"ACC-RD,Dr,50,16/06/2024,not allowed\n" +
		"ACC-XX,Cr,10,16/06/2024,\n"

	res, err := im.Preview(TargetTransactions, text, nil)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(res.Transactions) != 2 {
		t.Fatalf("Expected 2 transactions, got %d", len(res.Transactions))
	}
	if len(res.Accounts) != 1 || !res.Accounts[0].Balance.Equal(decimal.NewFromInt(800)) {
		t.Errorf("Expected one account at 800, got %+v", res.Accounts)
	}
	if len(res.LedgerEntries) != 1 || res.LedgerEntries[0].Type != models.Expense {
		t.Errorf("Expected one withdrawal expense entry, got %+v", res.LedgerEntries)
	}
	if len(res.Errors) != 2 || res.Errors[0].Kind != IssueValidation || res.Errors[1].Kind != IssueLinkage {
		t.Errorf("Expected a policy rejection then a linkage error, got %+v", res.Errors)
	}

	again, err := im.Preview(TargetTransactions, text, nil)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if again.Transactions[0].ID != res.Transactions[0].ID {
		t.Errorf("Expected the same rows to produce the same ids, got %s and %s", res.Transactions[0].ID, again.Transactions[0].ID)
	}
}

func TestDedupe_LastWins(t *testing.T) {
	res := &Result{
		Members: []models.Member{
			{ID: "A", FullName: "first"},
			{ID: "B", FullName: "other"},
			{ID: "A", FullName: "second"},
		},
	}
	res.Dedupe()
	if len(res.Members) != 2 {
		t.Fatalf("Expected 2 members, got %d", len(res.Members))
	}
	if res.Members[0].ID != "A" || res.Members[0].FullName != "second" {
		t.Errorf("Expected last occurrence of A, got %+v", res.Members[0])
	}
}

func TestCommit_PartialFailureIsRetryable(t *testing.T) {
	s := store.NewMemoryStore()
	im := newTestImporter(s)
	res, err := im.Preview(TargetMembers, "Name,Phone\nAsha,9876543210\n", nil)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}

	s.FailOn[store.KindAccounts] = errors.New("disk full")
	report := im.Commit(res)
	if report.Saved[store.KindMembers] != 1 {
		t.Errorf("Expected member to be saved, got %v", report.Saved)
	}
	var perr *PersistenceError
	if !errors.As(report.Err(), &perr) {
		t.Fatalf("Expected PersistenceError, got %v", report.Err())
	}
	if perr.Kind != store.KindAccounts || perr.Count != 2 {
		t.Errorf("Expected 2 accounts to fail, got %d %s", perr.Count, perr.Kind)
	}
	if members, _ := s.ListMembers(); len(members) != 1 {
		t.Errorf("Expected committed member to stay, got %d", len(members))
	}

	delete(s.FailOn, store.KindAccounts)
	report = im.Commit(res)
	if err := report.Err(); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	members, _ := s.ListMembers()
	accounts, _ := s.ListAccounts()
	if len(members) != 1 || len(accounts) != 2 {
		t.Errorf("Expected 1 member and 2 accounts after retry, got %d and %d", len(members), len(accounts))
	}
}

func TestCommit_RetryByPreviewingAgain(t *testing.T) {
	s := store.NewMemoryStore()
	im := newTestImporter(s)
	text := "Name,Phone\nAsha,9876543210\n"

	res, err := im.Preview(TargetMembers, text, nil)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	s.FailOn[store.KindAccounts] = errors.New("disk full")
	if err := im.Commit(res).Err(); err == nil {
		t.Fatal("Expected the accounts batch to fail")
	}
	delete(s.FailOn, store.KindAccounts)

	retry, err := im.Preview(TargetMembers, text, nil)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(retry.Members) != 0 || len(retry.Accounts) != 2 {
		t.Fatalf("Expected the stored member kept and its 2 accounts restored, got %d and %d", len(retry.Members), len(retry.Accounts))
	}
	if err := im.Commit(retry).Err(); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}

	members, _ := s.ListMembers()
	accounts, _ := s.ListAccounts()
	if len(members) != 1 || len(accounts) != 2 {
		t.Fatalf("Expected 1 member and 2 accounts, got %d and %d", len(members), len(accounts))
	}
	for _, a := range accounts {
		if a.MemberID != members[0].ID {
			t.Errorf("Expected %s to belong to %s, got %s", a.ID, members[0].ID, a.MemberID)
		}
		if len(a.Transactions) != 1 || !ledger.DeriveBalance(*a).Equal(a.Balance) {
			t.Errorf("Expected %s balance %s backed by one opening transaction", a.Type, a.Balance)
		}
	}
	if entries, _ := s.ListLedgerEntries(); len(entries) != 1 {
		t.Errorf("Expected a single registration fee entry, got %d", len(entries))
	}

	again, err := im.Preview(TargetMembers, text, nil)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(again.Accounts) != 0 || len(again.Transactions) != 0 || len(again.LedgerEntries) != 0 {
		t.Errorf("Expected nothing left to write, got %+v", again)
	}
}

func TestCommit_RetryRestoresOpeningTransaction(t *testing.T) {
	s := store.NewMemoryStore()
	s.UpsertMember(&models.Member{ID: "MEM-7", LegacyID: "7", FullName: "Asha", Status: models.MemberActive})
	im := newTestImporter(s)
	text := "Member ID,Account Type,Opening Balance,Opening Date\n7,Optional Deposit,1000,01/01/2024\n"

	res, err := im.Preview(TargetAccounts, text, nil)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	s.FailOn[store.KindTransactions] = errors.New("disk full")
	im.Commit(res)
	delete(s.FailOn, store.KindTransactions)

	retry, err := im.Preview(TargetAccounts, text, nil)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(retry.Accounts) != 0 || len(retry.Transactions) != 1 {
		t.Fatalf("Expected only the opening transaction, got %d accounts and %d transactions", len(retry.Accounts), len(retry.Transactions))
	}
	if err := im.Commit(retry).Err(); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}

	accounts, _ := s.ListAccounts()
	if len(accounts) != 1 {
		t.Fatalf("Expected one account, got %d", len(accounts))
	}
	a := accounts[0]
	if len(a.Transactions) != 1 || !ledger.DeriveBalance(*a).Equal(decimal.NewFromInt(1000)) || !a.Balance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Expected balance 1000 backed by history, got %s over %d transactions", a.Balance, len(a.Transactions))
	}
}

func TestPreview_AccountsDefaultRates(t *testing.T) {
	s := store.NewMemoryStore()
	s.UpsertMember(&models.Member{ID: "MEM-7", LegacyID: "7", FullName: "Asha", Status: models.MemberActive})
	text := "Member ID,Account Type,Opening Balance,Opening Date,ROI\n" +
		"7,Compulsory Deposit,1000,01/01/2024,\n" +
		"7,Optional Deposit,500,01/01/2024,\n" +
		"7,Fixed Deposit,10000,01/01/2024,7.5%\n"

	res, err := newTestImporter(s).Preview(TargetAccounts, text, nil)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	want := map[models.AccountType]decimal.Decimal{
		models.CompulsoryDeposit: decimal.NewFromInt(6),
		models.OptionalDeposit:   decimal.NewFromInt(4),
		models.FixedDeposit:      decimal.NewFromFloat(7.5),
	}
	if len(res.Accounts) != len(want) {
		t.Fatalf("Expected %d accounts, got %d (%+v)", len(want), len(res.Accounts), res.Errors)
	}
	for _, a := range res.Accounts {
		if !a.InterestRate.Equal(want[a.Type]) {
			t.Errorf("Expected %s at %s%%, got %s", a.Type, want[a.Type], a.InterestRate)
		}
		if a.Type != models.CompulsoryDeposit {
			continue
		}
		_, posted, err := accrual.CatchUp(a, time.Time{}, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), func(models.Account, models.Transaction) error { return nil })
		if err != nil || posted != 3 {
			t.Errorf("Expected the imported compulsory deposit to accrue 3 months, got %d (%v)", posted, err)
		}
	}
}

func TestPreview_Staff(t *testing.T) {
	s := store.NewMemoryStore()
	res, err := newTestImporter(s).Preview(TargetStaff, "Staff Name,Mobile,M.No,Branch,Commission\nRavi,99887 76655,42,B1,150\n", nil)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(res.Staff) != 1 {
		t.Fatalf("Expected 1 staff row, got %d", len(res.Staff))
	}
	if !res.Staff[0].CommissionFee.Equal(decimal.NewFromInt(150)) {
		t.Errorf("Expected commission 150, got %s", res.Staff[0].CommissionFee)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("Expected a warning for the unknown member link, got %+v", res.Warnings)
	}
}
