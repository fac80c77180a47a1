package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mcclellann/thriftLedger/pkg/calc"
	"github.com/mcclellann/thriftLedger/pkg/dates"
	"github.com/mcclellann/thriftLedger/pkg/models"
	"github.com/mcclellann/thriftLedger/pkg/policy"
	"github.com/mcclellann/thriftLedger/pkg/store"
	"github.com/shopspring/decimal"
)

var (
	ErrSingletonHeld     = errors.New("member already holds this account type")
	ErrDuplicatePhone    = errors.New("phone already registered to an active member")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotTermDeposit    = errors.New("only fixed and recurring deposits mature")
	ErrNotMatured        = errors.New("account has not reached maturity")
	ErrTooManyGuarantors = errors.New("a loan takes at most two guarantors")
)

// Options configures the Ledger.
type Options struct {
	MinDate             time.Time // No date may precede this; earlier dates are clamped
	RegistrationFee     decimal.Decimal
	ShareCapital        decimal.Decimal
	CompulsoryDeposit   decimal.Decimal
	CompulsoryRate      decimal.Decimal
	OptionalDepositRate decimal.Decimal
	Now                 func() time.Time
}

// Ledger handles the business logic for members, accounts and transactions.
type Ledger struct {
	storage store.Storage
	opts    Options
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{storage: s, opts: opts}
}

func (l *Ledger) clamp(t time.Time) time.Time {
	if t.IsZero() {
		t = l.opts.Now()
	}
	return dates.Clamp(t, l.opts.MinDate)
}

// EnrollOptions exposes the standing enrolment amounts, shared with the importer.
func (l *Ledger) EnrollOptions() EnrollOptions {
	return EnrollOptions{
		RegistrationFee:   l.opts.RegistrationFee,
		ShareCapital:      l.opts.ShareCapital,
		CompulsoryDeposit: l.opts.CompulsoryDeposit,
		CompulsoryRate:    l.opts.CompulsoryRate,
		Now:               l.opts.Now(),
	}
}

// EnrollMember admits a new member with their singleton accounts.
func (l *Ledger) EnrollMember(m models.Member) (*Enrollment, error) {
	m.Phone = strings.TrimSpace(m.Phone)
	if m.Phone != "" {
		members, err := l.storage.ListMembers()
		if err != nil {
			return nil, err
		}
		for _, existing := range members {
			if existing.Status == models.MemberActive && existing.Phone == m.Phone {
				return nil, fmt.Errorf("%s: %w", m.Phone, ErrDuplicatePhone)
			}
		}
	}
	if m.ID == "" {
		m.ID = models.NewID("MEM", l.opts.Now())
	}
	if m.Status == "" {
		m.Status = models.MemberActive
	}
	m.JoinDate = l.clamp(m.JoinDate)

	enrollment, err := Enroll(m, l.EnrollOptions())
	if err != nil {
		return nil, err
	}
	posting := store.Posting{
		Members:       []models.Member{enrollment.Member},
		Accounts:      enrollment.Accounts,
		Transactions:  enrollment.Transactions,
		LedgerEntries: enrollment.LedgerEntries,
	}
	if err := l.storage.Post(posting); err != nil {
		return nil, fmt.Errorf("failed to store enrollment: %w", err)
	}
	return &enrollment, nil
}

// OpenAccountRequest describes a new product for an existing member. Amount is
// the opening deposit, the FD principal, the RD installment, or the loan principal.
type OpenAccountRequest struct {
	MemberID      string               `json:"member_id"`
	Type          models.AccountType   `json:"type"`
	LoanType      models.LoanType      `json:"loan_type"`
	Amount        decimal.Decimal      `json:"amount"`
	InterestRate  decimal.Decimal      `json:"interest_rate"`
	TermMonths    int                  `json:"term_months"`
	TenureDays    int                  `json:"tenure_days"`
	RDFrequency   models.RDFrequency   `json:"rd_frequency"`
	OpeningDate   time.Time            `json:"opening_date"`
	Guarantors    []string             `json:"guarantors"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
}

// OpenAccount creates an account. Loans start Pending; deposit products start
// Active with their opening credit applied.
func (l *Ledger) OpenAccount(req OpenAccountRequest) (*models.Account, error) {
	if _, err := l.storage.GetMember(req.MemberID); err != nil {
		return nil, err
	}
	if policy.IsSingleton(req.Type) {
		held, err := l.storage.ListAccountsForMember(req.MemberID)
		if err != nil {
			return nil, err
		}
		for _, a := range held {
			if a.Type == req.Type {
				return nil, fmt.Errorf("%s: %w", req.Type, ErrSingletonHeld)
			}
		}
	}
	if len(req.Guarantors) > 2 {
		return nil, ErrTooManyGuarantors
	}

	now := l.opts.Now()
	opening := l.clamp(req.OpeningDate)
	acc := models.Account{
		ID:             models.NewID("ACC", now),
		MemberID:       req.MemberID,
		Type:           req.Type,
		Status:         models.AccountActive,
		Balance:        decimal.Zero,
		InterestRate:   req.InterestRate,
		OriginalAmount: req.Amount,
		TermMonths:     req.TermMonths,
		TenureDays:     req.TenureDays,
		OpeningDate:    opening,
	}

	switch req.Type {
	case models.Loan:
		if !req.Amount.IsPositive() {
			return nil, fmt.Errorf("loan principal: %w", ErrInvalidAmount)
		}
		acc.Status = models.AccountPending
		acc.LoanType = req.LoanType
		if acc.LoanType == "" {
			acc.LoanType = models.LoanPersonal
		}
		acc.Guarantors = req.Guarantors
		if emi, ok := calc.EMI(req.Amount, req.InterestRate, req.TermMonths); ok {
			acc.EMI = emi
		}
		if err := l.saveAccount(&acc); err != nil {
			return nil, err
		}
		return &acc, nil
	case models.FixedDeposit:
		if !req.Amount.IsPositive() {
			return nil, fmt.Errorf("fixed deposit principal: %w", ErrInvalidAmount)
		}
		acc.MaturityDate = maturityDate(opening, req.TermMonths, req.TenureDays)
	case models.RecurringDeposit:
		acc.RDFrequency = req.RDFrequency
		if acc.RDFrequency == "" {
			acc.RDFrequency = models.RDMonthly
		}
		acc.EMI = req.Amount
		acc.MaturityDate = maturityDate(opening, req.TermMonths, req.TenureDays)
	}

	if req.Amount.IsPositive() {
		tx := models.Transaction{
			ID:            models.NewID("TXN", now),
			AccountID:     acc.ID,
			Date:          opening,
			Amount:        req.Amount,
			Type:          models.Credit,
			Category:      models.CategoryOpening,
			Description:   "Opening balance",
			PaymentMethod: req.PaymentMethod,
		}
		applied, err := ApplyTransaction(acc, tx)
		if err != nil {
			return nil, err
		}
		acc = applied
	}
	if err := l.saveAccount(&acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func maturityDate(opening time.Time, months, days int) *time.Time {
	var t time.Time
	switch {
	case months > 0:
		t = dates.AddMonths(opening, months)
	case days > 0:
		t = opening.AddDate(0, 0, days)
	default:
		return nil
	}
	return &t
}

// saveAccount writes the account row and every transaction in its history.
func (l *Ledger) saveAccount(acc *models.Account) error {
	if err := l.storage.Post(store.Posting{Accounts: []models.Account{*acc}, Transactions: acc.Transactions}); err != nil {
		return fmt.Errorf("failed to store account: %w", err)
	}
	return nil
}

// RecordTransaction applies tx to an account and persists the transaction, the
// new balance and any ledger entry the transaction calls for. Recording the
// same transaction id twice changes nothing.
func (l *Ledger) RecordTransaction(accountID string, tx models.Transaction) (*models.Account, error) {
	acc, err := l.storage.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if tx.ID == "" {
		tx.ID = models.NewID("TXN", l.opts.Now())
	}
	if acc.HasTransaction(tx.ID) {
		return acc, nil
	}
	tx.AccountID = acc.ID
	tx.Date = l.clamp(tx.Date)
	if tx.PaymentMethod == "" {
		tx.PaymentMethod = models.PaymentCash
	}

	updated, err := ApplyTransaction(*acc, tx)
	if err != nil {
		return nil, err
	}
	if err := l.commit(&updated, tx); err != nil {
		return nil, err
	}
	return &updated, nil
}

// commit persists one applied transaction, the balance it produced and any
// ledger entry it calls for as a single posting.
func (l *Ledger) commit(acc *models.Account, tx models.Transaction) error {
	posting := store.Posting{Accounts: []models.Account{*acc}, Transactions: []models.Transaction{tx}}
	if entry, ok := LedgerEntryFor(*acc, tx); ok {
		posting.LedgerEntries = append(posting.LedgerEntries, entry)
	}
	if err := l.storage.Post(posting); err != nil {
		return fmt.Errorf("failed to store transaction: %w", err)
	}
	return nil
}

// ApproveLoan activates a pending loan and disburses its principal.
func (l *Ledger) ApproveLoan(accountID string, date time.Time) (*models.Account, error) {
	acc, err := l.storage.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if acc.Type != models.Loan || acc.Status != models.AccountPending {
		return nil, fmt.Errorf("approve %s %s: %w", acc.Status, acc.Type, ErrInvalidTransition)
	}
	date = l.clamp(date)
	acc.Status = models.AccountActive
	acc.OpeningDate = date
	acc.LastInterestPostDate = &date

	tx := models.Transaction{
		ID:            models.NewID("TXN", l.opts.Now()),
		AccountID:     acc.ID,
		Date:          date,
		Amount:        acc.OriginalAmount,
		Type:          models.Debit,
		Category:      models.CategoryDisbursement,
		Description:   "Loan disbursement",
		PaymentMethod: models.PaymentOnline,
	}
	updated, err := ApplyTransaction(*acc, tx)
	if err != nil {
		return nil, err
	}
	if err := l.commit(&updated, tx); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Transfer is the paired movement produced when a term deposit pays out.
// Debit and Credit always carry the same amount.
type Transfer struct {
	Source models.Account      `json:"source"`
	Target models.Account      `json:"target"`
	Debit  models.Transaction  `json:"debit"`
	Credit *models.Transaction `json:"credit,omitempty"`
}

// Mature pays out a term deposit that has reached its maturity date.
func (l *Ledger) Mature(accountID, targetID string, date time.Time) (*Transfer, error) {
	return l.payout(accountID, targetID, l.clamp(date), false)
}

// CloseEarly pays out a term deposit before maturity.
func (l *Ledger) CloseEarly(accountID, targetID string, date time.Time) (*Transfer, error) {
	return l.payout(accountID, targetID, l.clamp(date), true)
}

func (l *Ledger) payout(accountID, targetID string, date time.Time, early bool) (*Transfer, error) {
	source, err := l.storage.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if source.Type != models.FixedDeposit && source.Type != models.RecurringDeposit {
		return nil, ErrNotTermDeposit
	}
	if source.Status != models.AccountActive {
		return nil, fmt.Errorf("payout from %s account: %w", source.Status, ErrInvalidTransition)
	}
	if !early && source.MaturityDate != nil && date.Before(*source.MaturityDate) {
		return nil, fmt.Errorf("matures %s: %w", source.MaturityDate.Format(dates.Layout), ErrNotMatured)
	}

	target, err := l.payoutTarget(source.MemberID, targetID, date)
	if err != nil {
		return nil, err
	}

	now := l.opts.Now()
	description := "Maturity payout"
	if early {
		description = "Early closure payout"
	}
	debit := models.Transaction{
		ID:            models.NewID("TXN", now),
		AccountID:     source.ID,
		Date:          date,
		Amount:        source.Balance,
		Type:          models.Debit,
		Category:      models.CategoryMaturity,
		Description:   fmt.Sprintf("%s to %s", description, target.ID),
		PaymentMethod: models.PaymentOnline,
	}
	result := &Transfer{Debit: debit}

	if source.Balance.IsPositive() {
		applied, err := ApplyTransaction(*source, debit)
		if err != nil {
			return nil, err
		}
		*source = applied

		credit := models.Transaction{
			ID:            debit.ID + "-CR",
			AccountID:     target.ID,
			Date:          date,
			Amount:        debit.Amount,
			Type:          models.Credit,
			Category:      models.CategoryTransfer,
			Description:   fmt.Sprintf("%s from %s", description, source.ID),
			PaymentMethod: models.PaymentOnline,
		}
		credited, err := ApplyTransaction(*target, credit)
		if err != nil {
			return nil, err
		}
		*target = credited
		result.Credit = &credit
	}

	source.Status = models.AccountMatured
	posting := store.Posting{Accounts: []models.Account{*target, *source}}
	if result.Credit != nil {
		posting.Transactions = []models.Transaction{debit, *result.Credit}
	}
	if err := l.storage.Post(posting); err != nil {
		return nil, fmt.Errorf("failed to store transfer: %w", err)
	}
	result.Source = *source
	result.Target = *target
	return result, nil
}

// payoutTarget loads the requested target or the member's optional deposit,
// opening one when the member has none.
func (l *Ledger) payoutTarget(memberID, targetID string, date time.Time) (*models.Account, error) {
	if targetID != "" {
		target, err := l.storage.GetAccount(targetID)
		if err != nil {
			return nil, err
		}
		if target.MemberID != memberID {
			return nil, fmt.Errorf("target %s belongs to another member", targetID)
		}
		return target, nil
	}
	held, err := l.storage.ListAccountsForMember(memberID)
	if err != nil {
		return nil, err
	}
	for _, a := range held {
		if a.Type == models.OptionalDeposit && a.Status == models.AccountActive {
			return a, nil
		}
	}
	return &models.Account{
		ID:           models.NewID("ACC", l.opts.Now()),
		MemberID:     memberID,
		Type:         models.OptionalDeposit,
		Status:       models.AccountActive,
		Balance:      decimal.Zero,
		InterestRate: l.opts.OptionalDepositRate,
		OpeningDate:  date,
	}, nil
}

// SetStatus applies an administrative transition: Active and Dormant swap
// freely, and anything not yet matured may be Closed.
func (l *Ledger) SetStatus(accountID string, status models.AccountStatus) (*models.Account, error) {
	acc, err := l.storage.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	ok := false
	switch status {
	case models.AccountDormant:
		ok = acc.Status == models.AccountActive
	case models.AccountActive:
		ok = acc.Status == models.AccountDormant
	case models.AccountClosed:
		ok = acc.Status != models.AccountClosed
	}
	if !ok {
		return nil, fmt.Errorf("%s -> %s: %w", acc.Status, status, ErrInvalidTransition)
	}
	acc.Status = status
	if err := l.storage.UpsertAccount(acc); err != nil {
		return nil, fmt.Errorf("failed to update account status: %w", err)
	}
	return acc, nil
}

// GetAccount retrieves an account by its ID.
func (l *Ledger) GetAccount(id string) (*models.Account, error) {
	return l.storage.GetAccount(id)
}

// GetAllAccounts retrieves all accounts.
func (l *Ledger) GetAllAccounts() ([]*models.Account, error) {
	return l.storage.ListAccounts()
}

// GetMember retrieves a member by its ID.
func (l *Ledger) GetMember(id string) (*models.Member, error) {
	return l.storage.GetMember(id)
}

// GetAllMembers retrieves all members.
func (l *Ledger) GetAllMembers() ([]*models.Member, error) {
	return l.storage.ListMembers()
}

// SelectableTypes lists the products a member can still open.
func (l *Ledger) SelectableTypes(memberID string) ([]models.AccountType, error) {
	held, err := l.storage.ListAccountsForMember(memberID)
	if err != nil {
		return nil, err
	}
	types := make([]models.AccountType, 0, len(held))
	for _, a := range held {
		if a.Status != models.AccountClosed {
			types = append(types, a.Type)
		}
	}
	return policy.SelectableTypes(types), nil
}
