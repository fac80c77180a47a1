package ledger

import (
	"fmt"
	"time"

	"github.com/mcclellann/thriftLedger/pkg/models"
	"github.com/shopspring/decimal"
)

// EnrollOptions are the society's standing amounts for a new member. Zero
// amounts skip the matching opening transaction or ledger entry.
type EnrollOptions struct {
	RegistrationFee   decimal.Decimal
	ShareCapital      decimal.Decimal
	CompulsoryDeposit decimal.Decimal
	CompulsoryRate    decimal.Decimal
	Now               time.Time
}

// Enrollment is everything produced by admitting one member.
type Enrollment struct {
	Member        models.Member        `json:"member"`
	Accounts      []models.Account     `json:"accounts"`
	Transactions  []models.Transaction `json:"transactions"`
	LedgerEntries []models.LedgerEntry `json:"ledger_entries"`
}

// Enroll synthesizes the singleton ShareCapital and CompulsoryDeposit accounts
// for a member, their opening credits, and the registration fee entry. Every
// id is derived from the member id, so enrolling the same member twice yields
// the same rows.
func Enroll(m models.Member, opts EnrollOptions) (Enrollment, error) {
	out := Enrollment{Member: m}
	opening := m.JoinDate
	if opening.IsZero() {
		opening = opts.Now
	}

	products := []struct {
		typ    models.AccountType
		amount decimal.Decimal
		rate   decimal.Decimal
	}{
		{models.ShareCapital, opts.ShareCapital, decimal.Zero},
		{models.CompulsoryDeposit, opts.CompulsoryDeposit, opts.CompulsoryRate},
	}
	for _, p := range products {
		acc := models.Account{
			ID:             models.DerivedID("ACC", opening, m.ID, string(p.typ)),
			MemberID:       m.ID,
			Type:           p.typ,
			Status:         models.AccountActive,
			Balance:        decimal.Zero,
			InterestRate:   p.rate,
			OriginalAmount: p.amount,
			OpeningDate:    opening,
		}
		if p.amount.IsPositive() {
			tx := models.Transaction{
				ID:            OpeningID(acc.ID, opening),
				AccountID:     acc.ID,
				Date:          opening,
				Amount:        p.amount,
				Type:          models.Credit,
				Category:      models.CategoryOpening,
				Description:   "Opening balance",
				PaymentMethod: models.PaymentCash,
				CashAmount:    p.amount,
			}
			applied, err := ApplyTransaction(acc, tx)
			if err != nil {
				return Enrollment{}, fmt.Errorf("failed to open %s for member %s: %w", p.typ, m.ID, err)
			}
			acc = applied
			out.Transactions = append(out.Transactions, tx)
		}
		out.Accounts = append(out.Accounts, acc)
	}

	if opts.RegistrationFee.IsPositive() {
		out.LedgerEntries = append(out.LedgerEntries, models.LedgerEntry{
			ID:          models.DerivedID("LED", opening, m.ID, "registration"),
			Date:        opening,
			Description: fmt.Sprintf("Registration fee - %s", m.FullName),
			Amount:      opts.RegistrationFee,
			Type:        models.Income,
			Category:    models.CategoryFee,
			CashAmount:  opts.RegistrationFee,
		})
	}
	return out, nil
}

// OpeningID is the id of an account's opening transaction.
func OpeningID(accountID string, opened time.Time) string {
	return models.DerivedID("TXN", opened, accountID, "opening")
}

// Missing returns the parts of e that are not yet stored. held reports whether
// the member already holds an account of a type under another id.
func (e Enrollment) Missing(accounts map[string]*models.Account, entries map[string]bool, held func(models.AccountType) bool) Enrollment {
	out := Enrollment{Member: e.Member}
	// Entries belong to this enrollment only if its accounts do.
	own := false
	for _, acc := range e.Accounts {
		stored, ok := accounts[acc.ID]
		switch {
		case ok:
			own = true
			for _, tx := range acc.Transactions {
				if !stored.HasTransaction(tx.ID) {
					out.Transactions = append(out.Transactions, tx)
				}
			}
		case held(acc.Type):
		default:
			own = true
			out.Accounts = append(out.Accounts, acc)
			out.Transactions = append(out.Transactions, acc.Transactions...)
		}
	}
	for _, entry := range e.LedgerEntries {
		if own && !entries[entry.ID] {
			out.LedgerEntries = append(out.LedgerEntries, entry)
		}
	}
	return out
}

// Empty reports whether e carries nothing to write.
func (e Enrollment) Empty() bool {
	return len(e.Accounts) == 0 && len(e.Transactions) == 0 && len(e.LedgerEntries) == 0
}
