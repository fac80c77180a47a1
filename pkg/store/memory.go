package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mcclellann/thriftLedger/pkg/models"
)

// MemoryStore is an in-memory Storage. Values are copied in and out so callers
// never share state with the store. FailOn makes a kind's batch upserts fail,
// which tests use to exercise partial commits.
type MemoryStore struct {
	mu           sync.RWMutex
	members      map[string]models.Member
	accounts     map[string]models.Account
	transactions map[string]models.Transaction
	entries      map[string]models.LedgerEntry
	staff        map[string]models.Staff

	FailOn map[Kind]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		members:      make(map[string]models.Member),
		accounts:     make(map[string]models.Account),
		transactions: make(map[string]models.Transaction),
		entries:      make(map[string]models.LedgerEntry),
		staff:        make(map[string]models.Staff),
		FailOn:       make(map[Kind]error),
	}
}

func (m *MemoryStore) UpsertMember(member *models.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member.ID] = *member
	return nil
}

func (m *MemoryStore) GetMember(id string) (*models.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	member, ok := m.members[id]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", id, ErrNotFound)
	}
	return &member, nil
}

func (m *MemoryStore) ListMembers() ([]*models.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Member, 0, len(m.members))
	for _, member := range m.members {
		member := member
		out = append(out, &member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpsertAccount(account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := *account
	row.Transactions = nil
	row.Guarantors = append([]string(nil), account.Guarantors...)
	m.accounts[account.ID] = row
	return nil
}

func (m *MemoryStore) hydrate(a models.Account) *models.Account {
	for _, tx := range m.transactions {
		if tx.AccountID == a.ID {
			a.Transactions = append(a.Transactions, tx)
		}
	}
	sort.Slice(a.Transactions, func(i, j int) bool {
		if a.Transactions[i].Date.Equal(a.Transactions[j].Date) {
			return a.Transactions[i].ID < a.Transactions[j].ID
		}
		return a.Transactions[i].Date.Before(a.Transactions[j].Date)
	})
	return &a
}

func (m *MemoryStore) GetAccount(id string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return m.hydrate(a), nil
}

func (m *MemoryStore) ListAccounts() ([]*models.Account, error) {
	return m.listAccounts(func(models.Account) bool { return true })
}

func (m *MemoryStore) ListAccountsForMember(memberID string) ([]*models.Account, error) {
	return m.listAccounts(func(a models.Account) bool { return a.MemberID == memberID })
}

func (m *MemoryStore) listAccounts(keep func(models.Account) bool) ([]*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Account
	for _, a := range m.accounts {
		if keep(a) {
			out = append(out, m.hydrate(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpsertTransaction(tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.ID] = *tx
	return nil
}

func (m *MemoryStore) GetTransactionsForAccount(accountID string) ([]*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a := m.hydrate(models.Account{ID: accountID})
	out := make([]*models.Transaction, len(a.Transactions))
	for i := range a.Transactions {
		out[i] = &a.Transactions[i]
	}
	return out, nil
}

func (m *MemoryStore) UpsertLedgerEntry(entry *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ID] = *entry
	return nil
}

func (m *MemoryStore) ListLedgerEntries() ([]*models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.LedgerEntry, 0, len(m.entries))
	for _, e := range m.entries {
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListStaff() ([]*models.Staff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Staff, 0, len(m.staff))
	for _, s := range m.staff {
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Post fails without writing anything when any kind it touches is in FailOn.
func (m *MemoryStore) Post(p Posting) error {
	for kind, n := range map[Kind]int{
		KindMembers:       len(p.Members),
		KindAccounts:      len(p.Accounts),
		KindTransactions:  len(p.Transactions),
		KindLedgerEntries: len(p.LedgerEntries),
	} {
		if err := m.FailOn[kind]; err != nil && n > 0 {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range p.Members {
		m.members[member.ID] = member
	}
	for _, a := range p.Accounts {
		a.Transactions = nil
		a.Guarantors = append([]string(nil), a.Guarantors...)
		m.accounts[a.ID] = a
	}
	for _, tx := range p.Transactions {
		m.transactions[tx.ID] = tx
	}
	for _, e := range p.LedgerEntries {
		m.entries[e.ID] = e
	}
	return nil
}

func (m *MemoryStore) UpsertMembers(members []*models.Member) error {
	if err := m.FailOn[KindMembers]; err != nil {
		return err
	}
	for _, member := range members {
		m.UpsertMember(member)
	}
	return nil
}

func (m *MemoryStore) UpsertAccounts(accounts []*models.Account) error {
	if err := m.FailOn[KindAccounts]; err != nil {
		return err
	}
	for _, a := range accounts {
		m.UpsertAccount(a)
	}
	return nil
}

func (m *MemoryStore) UpsertTransactions(txs []*models.Transaction) error {
	if err := m.FailOn[KindTransactions]; err != nil {
		return err
	}
	for _, tx := range txs {
		m.UpsertTransaction(tx)
	}
	return nil
}

func (m *MemoryStore) UpsertLedgerEntries(entries []*models.LedgerEntry) error {
	if err := m.FailOn[KindLedgerEntries]; err != nil {
		return err
	}
	for _, e := range entries {
		m.UpsertLedgerEntry(e)
	}
	return nil
}

func (m *MemoryStore) UpsertStaff(staff []*models.Staff) error {
	if err := m.FailOn[KindStaff]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range staff {
		m.staff[s.ID] = *s
	}
	return nil
}

func (m *MemoryStore) Delete(kind Kind, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		switch kind {
		case KindMembers:
			delete(m.members, id)
		case KindAccounts:
			delete(m.accounts, id)
			for txID, tx := range m.transactions {
				if tx.AccountID == id {
					delete(m.transactions, txID)
				}
			}
		case KindTransactions:
			delete(m.transactions, id)
		case KindLedgerEntries:
			delete(m.entries, id)
		case KindStaff:
			delete(m.staff, id)
		default:
			return fmt.Errorf("unknown kind %q", kind)
		}
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

var (
	_ Storage = (*MemoryStore)(nil)
	_ Storage = (*SQLStore)(nil)
)
