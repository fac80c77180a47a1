package store

import (
	"errors"

	"github.com/mcclellann/thriftLedger/pkg/models"
)

// ErrNotFound is returned when an entity id has no row.
var ErrNotFound = errors.New("not found")

// Kind names an entity collection. Batch operations are grouped by kind.
type Kind string

const (
	KindMembers       Kind = "members"
	KindAccounts      Kind = "accounts"
	KindTransactions  Kind = "transactions"
	KindLedgerEntries Kind = "ledger_entries"
	KindStaff         Kind = "staff"
)

// Storage is the persistence collaborator. Every write is an upsert keyed by
// entity id, so replaying the same call is always safe.
type Storage interface {
	UpsertMember(member *models.Member) error
	GetMember(id string) (*models.Member, error)
	ListMembers() ([]*models.Member, error)

	// UpsertAccount writes the account row only; transactions are written separately.
	UpsertAccount(account *models.Account) error
	// GetAccount returns the account with its transaction history ordered by date.
	GetAccount(id string) (*models.Account, error)
	ListAccounts() ([]*models.Account, error)
	ListAccountsForMember(memberID string) ([]*models.Account, error)

	UpsertTransaction(tx *models.Transaction) error
	GetTransactionsForAccount(accountID string) ([]*models.Transaction, error)

	UpsertLedgerEntry(entry *models.LedgerEntry) error
	ListLedgerEntries() ([]*models.LedgerEntry, error)

	ListStaff() ([]*models.Staff, error)

	// Post writes every entity in p in one atomic step.
	Post(p Posting) error

	BatchStore

	Close() error
}

// Posting groups writes that land together or not at all: a transaction is
// never stored without the account balance it produced.
type Posting struct {
	Members       []models.Member
	Accounts      []models.Account
	Transactions  []models.Transaction
	LedgerEntries []models.LedgerEntry
}

// BatchStore is the subset the import pipeline commits through. Each call is
// atomic for its own kind only.
type BatchStore interface {
	UpsertMembers(members []*models.Member) error
	UpsertAccounts(accounts []*models.Account) error
	UpsertTransactions(txs []*models.Transaction) error
	UpsertLedgerEntries(entries []*models.LedgerEntry) error
	UpsertStaff(staff []*models.Staff) error
	Delete(kind Kind, ids []string) error
}
