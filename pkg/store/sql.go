package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mcclellann/thriftLedger/pkg/models"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore persists entities through database/sql. Queries are written with
// '?' placeholders and rebound for drivers that number their parameters.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLiteStore opens (or creates) a SQLite database file.
func NewSQLiteStore(dataSourceName string) (*SQLStore, error) {
	return Open("sqlite3", dataSourceName)
}

// Open connects with the given driver ("sqlite3" or "postgres") and initializes the schema.
func Open(driver, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if driver == "sqlite3" {
		// Manually enable foreign keys and WAL mode
		if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.Printf("Database connection established (%s) and schema initialized.", driver)
	return s, nil
}

// initSchema creates the tables if they don't already exist.
// Decimal fields are TEXT so no precision is lost.
func (s *SQLStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS members (
			id TEXT PRIMARY KEY,
			legacy_id TEXT NOT NULL DEFAULT '',
			full_name TEXT NOT NULL DEFAULT '',
			father_name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			join_date TIMESTAMP NOT NULL,
			status TEXT NOT NULL,
			nominee_id TEXT NOT NULL DEFAULT '',
			guarantor_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			member_id TEXT NOT NULL,
			type TEXT NOT NULL,
			loan_type TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			balance TEXT NOT NULL,
			interest_rate TEXT NOT NULL DEFAULT '0',
			original_amount TEXT NOT NULL DEFAULT '0',
			term_months INTEGER NOT NULL DEFAULT 0,
			tenure_days INTEGER NOT NULL DEFAULT 0,
			rd_frequency TEXT NOT NULL DEFAULT '',
			emi TEXT NOT NULL DEFAULT '0',
			opening_date TIMESTAMP NOT NULL,
			maturity_date TIMESTAMP,
			last_interest_post_date TIMESTAMP,
			guarantors TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			date TIMESTAMP NOT NULL,
			amount TEXT NOT NULL,
			type TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			payment_method TEXT NOT NULL DEFAULT '',
			cash_amount TEXT NOT NULL DEFAULT '0',
			online_amount TEXT NOT NULL DEFAULT '0',
			utr TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id TEXT PRIMARY KEY,
			date TIMESTAMP NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			amount TEXT NOT NULL,
			type TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			cash_amount TEXT NOT NULL DEFAULT '0',
			online_amount TEXT NOT NULL DEFAULT '0'
		)`,
		`CREATE TABLE IF NOT EXISTS staff (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			member_id TEXT NOT NULL DEFAULT '',
			branch_id TEXT NOT NULL DEFAULT '',
			commission_fee TEXT NOT NULL DEFAULT '0'
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind converts '?' placeholders to $1..$n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// upsertSQL builds an INSERT ... ON CONFLICT(id) DO UPDATE statement; both dialects accept it.
func upsertSQL(table string, columns []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	var sets []string
	for _, c := range columns[1:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		table, strings.Join(columns, ", "), placeholders, strings.Join(sets, ", "))
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

var (
	memberColumns      = []string{"id", "legacy_id", "full_name", "father_name", "phone", "email", "address", "join_date", "status", "nominee_id", "guarantor_id"}
	accountColumns     = []string{"id", "member_id", "type", "loan_type", "status", "balance", "interest_rate", "original_amount", "term_months", "tenure_days", "rd_frequency", "emi", "opening_date", "maturity_date", "last_interest_post_date", "guarantors"}
	transactionColumns = []string{"id", "account_id", "date", "amount", "type", "category", "description", "payment_method", "cash_amount", "online_amount", "utr"}
	ledgerColumns      = []string{"id", "date", "description", "amount", "type", "category", "cash_amount", "online_amount"}
	staffColumns       = []string{"id", "name", "phone", "member_id", "branch_id", "commission_fee"}
)

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *SQLStore) writeMember(e execer, m *models.Member) error {
	_, err := e.Exec(s.rebind(upsertSQL("members", memberColumns)),
		m.ID, m.LegacyID, m.FullName, m.FatherName, m.Phone, m.Email, m.Address, m.JoinDate, string(m.Status), m.NomineeID, m.GuarantorID)
	if err != nil {
		return fmt.Errorf("failed to upsert member %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLStore) writeAccount(e execer, a *models.Account) error {
	_, err := e.Exec(s.rebind(upsertSQL("accounts", accountColumns)),
		a.ID, a.MemberID, string(a.Type), string(a.LoanType), string(a.Status), a.Balance, a.InterestRate, a.OriginalAmount,
		a.TermMonths, a.TenureDays, string(a.RDFrequency), a.EMI, a.OpeningDate, nullTime(a.MaturityDate), nullTime(a.LastInterestPostDate),
		strings.Join(a.Guarantors, ","))
	if err != nil {
		return fmt.Errorf("failed to upsert account %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLStore) writeTransaction(e execer, t *models.Transaction) error {
	_, err := e.Exec(s.rebind(upsertSQL("transactions", transactionColumns)),
		t.ID, t.AccountID, t.Date, t.Amount, string(t.Type), t.Category, t.Description, string(t.PaymentMethod), t.CashAmount, t.OnlineAmount, t.UTR)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLStore) writeLedgerEntry(e execer, l *models.LedgerEntry) error {
	_, err := e.Exec(s.rebind(upsertSQL("ledger_entries", ledgerColumns)),
		l.ID, l.Date, l.Description, l.Amount, string(l.Type), l.Category, l.CashAmount, l.OnlineAmount)
	if err != nil {
		return fmt.Errorf("failed to upsert ledger entry %s: %w", l.ID, err)
	}
	return nil
}

func (s *SQLStore) writeStaff(e execer, st *models.Staff) error {
	_, err := e.Exec(s.rebind(upsertSQL("staff", staffColumns)),
		st.ID, st.Name, st.Phone, st.MemberID, st.BranchID, st.CommissionFee)
	if err != nil {
		return fmt.Errorf("failed to upsert staff %s: %w", st.ID, err)
	}
	return nil
}

// batch runs write for every item inside one database transaction.
func batch[T any](s *SQLStore, items []T, write func(execer, T) error) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		if err := write(tx, item); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Post writes a posting inside one database transaction.
func (s *SQLStore) Post(p Posting) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range p.Members {
		if err := s.writeMember(tx, &p.Members[i]); err != nil {
			return err
		}
	}
	for i := range p.Accounts {
		if err := s.writeAccount(tx, &p.Accounts[i]); err != nil {
			return err
		}
	}
	for i := range p.Transactions {
		if err := s.writeTransaction(tx, &p.Transactions[i]); err != nil {
			return err
		}
	}
	for i := range p.LedgerEntries {
		if err := s.writeLedgerEntry(tx, &p.LedgerEntries[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) UpsertMember(m *models.Member) error { return s.writeMember(s.db, m) }

func (s *SQLStore) UpsertMembers(ms []*models.Member) error { return batch(s, ms, s.writeMember) }

func (s *SQLStore) UpsertAccount(a *models.Account) error { return s.writeAccount(s.db, a) }

func (s *SQLStore) UpsertAccounts(as []*models.Account) error { return batch(s, as, s.writeAccount) }

func (s *SQLStore) UpsertTransaction(t *models.Transaction) error { return s.writeTransaction(s.db, t) }

func (s *SQLStore) UpsertTransactions(ts []*models.Transaction) error {
	return batch(s, ts, s.writeTransaction)
}

func (s *SQLStore) UpsertLedgerEntry(l *models.LedgerEntry) error { return s.writeLedgerEntry(s.db, l) }

func (s *SQLStore) UpsertLedgerEntries(ls []*models.LedgerEntry) error {
	return batch(s, ls, s.writeLedgerEntry)
}

func (s *SQLStore) UpsertStaff(st []*models.Staff) error { return batch(s, st, s.writeStaff) }

// Delete removes rows of one kind by id. Deleting accounts also removes their transactions.
func (s *SQLStore) Delete(kind Kind, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if kind == KindAccounts {
		if _, err := tx.Exec(s.rebind(fmt.Sprintf("DELETE FROM transactions WHERE account_id IN (%s)", placeholders)), args...); err != nil {
			return fmt.Errorf("failed to delete associated transactions: %w", err)
		}
	}
	if _, err := tx.Exec(s.rebind(fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", kind, placeholders)), args...); err != nil {
		return fmt.Errorf("failed to delete %s: %w", kind, err)
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(row scanner) (*models.Member, error) {
	var m models.Member
	var status string
	if err := row.Scan(&m.ID, &m.LegacyID, &m.FullName, &m.FatherName, &m.Phone, &m.Email, &m.Address, &m.JoinDate, &status, &m.NomineeID, &m.GuarantorID); err != nil {
		return nil, err
	}
	m.Status = models.MemberStatus(status)
	return &m, nil
}

func scanAccount(row scanner) (*models.Account, error) {
	var a models.Account
	var typ, loanType, status, freq, guarantors string
	var maturity, watermark sql.NullTime
	if err := row.Scan(&a.ID, &a.MemberID, &typ, &loanType, &status, &a.Balance, &a.InterestRate, &a.OriginalAmount,
		&a.TermMonths, &a.TenureDays, &freq, &a.EMI, &a.OpeningDate, &maturity, &watermark, &guarantors); err != nil {
		return nil, err
	}
	a.Type = models.AccountType(typ)
	a.LoanType = models.LoanType(loanType)
	a.Status = models.AccountStatus(status)
	a.RDFrequency = models.RDFrequency(freq)
	if maturity.Valid {
		a.MaturityDate = &maturity.Time
	}
	if watermark.Valid {
		a.LastInterestPostDate = &watermark.Time
	}
	if guarantors != "" {
		a.Guarantors = strings.Split(guarantors, ",")
	}
	return &a, nil
}

func scanTransaction(row scanner) (*models.Transaction, error) {
	var t models.Transaction
	var typ, method string
	if err := row.Scan(&t.ID, &t.AccountID, &t.Date, &t.Amount, &typ, &t.Category, &t.Description, &method, &t.CashAmount, &t.OnlineAmount, &t.UTR); err != nil {
		return nil, err
	}
	t.Type = models.TransactionType(typ)
	t.PaymentMethod = models.PaymentMethod(method)
	return &t, nil
}

func selectSQL(table string, columns []string) string {
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), table)
}

// GetMember retrieves a member by id.
func (s *SQLStore) GetMember(id string) (*models.Member, error) {
	row := s.db.QueryRow(s.rebind(selectSQL("members", memberColumns)+" WHERE id = ?"), id)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// ListMembers retrieves all members ordered by join date.
func (s *SQLStore) ListMembers() ([]*models.Member, error) {
	rows, err := s.db.Query(selectSQL("members", memberColumns) + " ORDER BY join_date, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return members, nil
}

// GetAccount retrieves an account and its transaction history.
func (s *SQLStore) GetAccount(id string) (*models.Account, error) {
	row := s.db.QueryRow(s.rebind(selectSQL("accounts", accountColumns)+" WHERE id = ?"), id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	txs, err := s.GetTransactionsForAccount(id)
	if err != nil {
		return nil, err
	}
	for _, t := range txs {
		a.Transactions = append(a.Transactions, *t)
	}
	return a, nil
}

// ListAccounts retrieves every account with its transactions.
func (s *SQLStore) ListAccounts() ([]*models.Account, error) {
	return s.queryAccounts(selectSQL("accounts", accountColumns) + " ORDER BY opening_date, id")
}

// ListAccountsForMember retrieves one member's accounts with their transactions.
func (s *SQLStore) ListAccountsForMember(memberID string) ([]*models.Account, error) {
	return s.queryAccounts(selectSQL("accounts", accountColumns)+" WHERE member_id = ? ORDER BY opening_date, id", memberID)
}

func (s *SQLStore) queryAccounts(query string, args ...any) ([]*models.Account, error) {
	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	byID := map[string]*models.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, a)
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	if len(accounts) == 0 {
		return accounts, nil
	}

	txRows, err := s.db.Query(selectSQL("transactions", transactionColumns) + " ORDER BY date, id")
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	defer txRows.Close()
	for txRows.Next() {
		t, err := scanTransaction(txRows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		if a, ok := byID[t.AccountID]; ok {
			a.Transactions = append(a.Transactions, *t)
		}
	}
	return accounts, txRows.Err()
}

// GetTransactionsForAccount retrieves all transactions for an account ordered by date.
func (s *SQLStore) GetTransactionsForAccount(accountID string) ([]*models.Transaction, error) {
	rows, err := s.db.Query(s.rebind(selectSQL("transactions", transactionColumns)+" WHERE account_id = ? ORDER BY date, id"), accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for account transactions: %w", err)
	}
	return txs, nil
}

// ListLedgerEntries retrieves the society cash book ordered by date.
func (s *SQLStore) ListLedgerEntries() ([]*models.LedgerEntry, error) {
	rows, err := s.db.Query(selectSQL("ledger_entries", ledgerColumns) + " ORDER BY date, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		var l models.LedgerEntry
		var typ string
		if err := rows.Scan(&l.ID, &l.Date, &l.Description, &l.Amount, &typ, &l.Category, &l.CashAmount, &l.OnlineAmount); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry row: %w", err)
		}
		l.Type = models.LedgerEntryType(typ)
		entries = append(entries, &l)
	}
	return entries, rows.Err()
}

// ListStaff retrieves all staff sorted by name.
func (s *SQLStore) ListStaff() ([]*models.Staff, error) {
	rows, err := s.db.Query(selectSQL("staff", staffColumns))
	if err != nil {
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}
	defer rows.Close()

	var staff []*models.Staff
	for rows.Next() {
		var st models.Staff
		if err := rows.Scan(&st.ID, &st.Name, &st.Phone, &st.MemberID, &st.BranchID, &st.CommissionFee); err != nil {
			return nil, fmt.Errorf("failed to scan staff row: %w", err)
		}
		staff = append(staff, &st)
	}
	sort.Slice(staff, func(i, j int) bool { return staff[i].Name < staff[j].Name })
	return staff, rows.Err()
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
