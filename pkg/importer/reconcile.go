package importer

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/thriftLedger/pkg/dates"
	"github.com/mcclellann/thriftLedger/pkg/ledger"
	"github.com/mcclellann/thriftLedger/pkg/models"
	"github.com/mcclellann/thriftLedger/pkg/policy"
	"github.com/shopspring/decimal"
)

// Result is a reconciled import: the entities to persist plus every issue
// found. Errors lists excluded rows, Warnings rows kept with a substitution.
type Result struct {
	Target        Target               `json:"target"`
	Rows          int                  `json:"rows"`
	Accepted      int                  `json:"accepted"`
	Members       []models.Member      `json:"members"`
	Accounts      []models.Account     `json:"accounts"`
	Transactions  []models.Transaction `json:"transactions"`
	LedgerEntries []models.LedgerEntry `json:"ledger_entries"`
	Staff         []models.Staff       `json:"staff"`
	Errors        []RowError           `json:"errors"`
	Warnings      []RowError           `json:"warnings"`
}

func (r *Result) reject(line int, kind IssueKind, message string, fields ...string) {
	r.Errors = append(r.Errors, RowError{Line: line, Kind: kind, Fields: fields, Message: message})
}

func (r *Result) warn(line int, message string, fields ...string) {
	r.Warnings = append(r.Warnings, RowError{Line: line, Kind: IssueWarning, Fields: fields, Message: message})
}

// directory indexes existing and newly reconciled entities so rows can link
// to either.
type directory struct {
	members  map[string]*models.Member
	legacy   map[string]*models.Member
	phones   map[string]*models.Member
	accounts map[string]*models.Account
	singles  map[string]map[models.AccountType]*models.Account
	types    map[string]map[models.AccountType]bool // Every type a member has held, closed included
	entries  map[string]bool
}

func newDirectory(members []*models.Member, accounts []*models.Account, entries []*models.LedgerEntry) *directory {
	d := &directory{
		members:  make(map[string]*models.Member),
		legacy:   make(map[string]*models.Member),
		phones:   make(map[string]*models.Member),
		accounts: make(map[string]*models.Account),
		singles:  make(map[string]map[models.AccountType]*models.Account),
		types:    make(map[string]map[models.AccountType]bool),
		entries:  make(map[string]bool),
	}
	for _, m := range members {
		d.addMember(m)
	}
	for _, a := range accounts {
		d.addAccount(a)
	}
	for _, e := range entries {
		d.entries[e.ID] = true
	}
	return d
}

func (d *directory) addMember(m *models.Member) {
	d.members[m.ID] = m
	if m.LegacyID != "" {
		d.legacy[m.LegacyID] = m
	}
	if m.Phone != "" && m.Status == models.MemberActive {
		d.phones[m.Phone] = m
	}
}

func (d *directory) addAccount(a *models.Account) {
	d.accounts[a.ID] = a
	if d.types[a.MemberID] == nil {
		d.types[a.MemberID] = make(map[models.AccountType]bool)
	}
	d.types[a.MemberID][a.Type] = true
	if policy.IsSingleton(a.Type) && a.Status != models.AccountClosed {
		if d.singles[a.MemberID] == nil {
			d.singles[a.MemberID] = make(map[models.AccountType]*models.Account)
		}
		d.singles[a.MemberID][a.Type] = a
	}
}

// member resolves a member reference by id, then legacy number.
func (d *directory) member(ref string) (*models.Member, bool) {
	if m, ok := d.members[ref]; ok {
		return m, true
	}
	m, ok := d.legacy[ref]
	return m, ok
}

// reconciler turns rows into entities for one import call.
type reconciler struct {
	dir          *directory
	minDate      time.Time
	now          time.Time
	enroll       ledger.EnrollOptions
	optionalRate decimal.Decimal
	result       *Result
	seen         map[string]int
}

// date normalizes s, defaulting blanks to the import time. ok is false for
// text that is not a recognisable date.
func (rc *reconciler) date(s string) (time.Time, bool) {
	if s == "" {
		return dates.Clamp(dates.Truncate(rc.now), rc.minDate), true
	}
	normalized, ok := dates.Normalize(s, rc.minDate)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(dates.Layout, normalized)
	return t, err == nil
}

// contentID derives a stable id from a row's content, so pasting the same
// rows again reproduces the same ids. Identical rows in one paste are kept
// apart by their occurrence count.
func (rc *reconciler) contentID(prefix string, at time.Time, parts ...string) string {
	key := strings.Join(parts, "|")
	rc.seen[key]++
	key = fmt.Sprintf("%s|%d", key, rc.seen[key])
	hash := strings.ReplaceAll(uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", prefix, at.UnixMilli(), hash)
}

func (rc *reconciler) members(rows []Row) {
	for _, r := range rows {
		row := newMemberRow(r)
		if rerr := validateRow(r.Line, row); rerr != nil {
			rc.result.Errors = append(rc.result.Errors, *rerr)
			continue
		}
		joined, ok := rc.date(row.JoinDate)
		if !ok {
			rc.result.reject(r.Line, IssueValidation, fmt.Sprintf("unrecognised date %q", row.JoinDate), "join_date")
			continue
		}

		id := rc.contentID("MEM", joined, row.MemberID, row.FullName, row.Phone)
		if existing, message, field, ok := rc.existingMember(id, row); ok {
			if rc.completeEnrollment(existing) {
				message += "; missing enrollment rows restored"
			}
			rc.result.warn(r.Line, message, field)
			rc.result.Accepted++
			continue
		}

		m := models.Member{
			ID:         id,
			LegacyID:   row.MemberID,
			FullName:   row.FullName,
			FatherName: row.FatherName,
			Phone:      row.Phone,
			Email:      row.Email,
			Address:    row.Address,
			JoinDate:   joined,
			Status:     models.MemberActive,
		}
		enrollment, err := ledger.Enroll(m, rc.enroll)
		if err != nil {
			rc.result.reject(r.Line, IssueValidation, err.Error())
			continue
		}
		rc.dir.addMember(&enrollment.Member)
		rc.result.Members = append(rc.result.Members, enrollment.Member)
		rc.addEnrollment(enrollment)
		rc.result.Accepted++
	}
}

// existingMember finds the stored member a row stands for: one imported from
// the same row before, or one matching its member number or phone.
func (rc *reconciler) existingMember(id string, row memberRow) (*models.Member, string, string, bool) {
	if existing, ok := rc.dir.members[id]; ok {
		return existing, fmt.Sprintf("member already imported as %s; existing record kept", existing.ID), "full_name", true
	}
	if row.MemberID != "" {
		if existing, ok := rc.dir.member(row.MemberID); ok {
			return existing, fmt.Sprintf("member %s already exists as %s; existing record kept", row.MemberID, existing.ID), "member_id", true
		}
	}
	if row.Phone != "" {
		if existing, ok := rc.dir.phones[row.Phone]; ok {
			return existing, fmt.Sprintf("phone %s already belongs to %s; existing member kept", row.Phone, existing.ID), "phone", true
		}
	}
	return nil, "", "", false
}

// completeEnrollment emits whatever part of an existing member's enrollment
// is not stored yet, so a partly committed import finishes on retry. It
// reports whether anything was emitted.
func (rc *reconciler) completeEnrollment(m *models.Member) bool {
	enrollment, err := ledger.Enroll(*m, rc.enroll)
	if err != nil {
		return false
	}
	missing := enrollment.Missing(rc.dir.accounts, rc.dir.entries, func(t models.AccountType) bool {
		return rc.dir.types[m.ID][t]
	})
	if missing.Empty() {
		return false
	}
	rc.addEnrollment(missing)
	return true
}

func (rc *reconciler) addEnrollment(e ledger.Enrollment) {
	for i := range e.Accounts {
		rc.dir.addAccount(&e.Accounts[i])
	}
	for _, entry := range e.LedgerEntries {
		rc.dir.entries[entry.ID] = true
	}
	rc.result.Accounts = append(rc.result.Accounts, e.Accounts...)
	rc.result.Transactions = append(rc.result.Transactions, e.Transactions...)
	rc.result.LedgerEntries = append(rc.result.LedgerEntries, e.LedgerEntries...)
}

func (rc *reconciler) accounts(rows []Row) {
	for _, r := range rows {
		row := newAccountRow(r)
		if rerr := validateRow(r.Line, row); rerr != nil {
			rc.result.Errors = append(rc.result.Errors, *rerr)
			continue
		}
		typ, ok := ResolveAccountType(row.AccountType)
		if !ok {
			rc.result.reject(r.Line, IssueValidation, fmt.Sprintf("unknown account type %q", row.AccountType), "account_type")
			continue
		}
		balance, _ := decimal.NewFromString(row.OpeningBalance)
		if balance.IsNegative() {
			rc.result.reject(r.Line, IssueValidation, "opening balance cannot be negative", "opening_balance")
			continue
		}
		opened, ok := rc.date(row.OpeningDate)
		if !ok {
			rc.result.reject(r.Line, IssueValidation, fmt.Sprintf("unrecognised date %q", row.OpeningDate), "opening_date")
			continue
		}
		member, ok := rc.dir.member(row.MemberID)
		if !ok {
			rc.result.reject(r.Line, IssueLinkage, fmt.Sprintf("member %s not found", row.MemberID), "member_id")
			continue
		}

		rate, _ := decimal.NewFromString(row.InterestRate)

		var acc models.Account
		existing := false
		if held, ok := rc.dir.singles[member.ID][typ]; ok {
			acc, existing = *held, true
		} else {
			id := rc.contentID("ACC", opened, member.ID, string(typ), balance.String())
			if stored, ok := rc.dir.accounts[id]; ok {
				acc, existing = *stored, true
			} else {
				acc = models.Account{
					ID:           id,
					MemberID:     member.ID,
					Type:         typ,
					Status:       models.AccountActive,
					Balance:      decimal.Zero,
					InterestRate: rc.defaultRate(typ),
					OpeningDate:  opened,
				}
				if typ == models.Loan {
					acc.LoanType = models.LoanPersonal
				}
			}
		}

		opening := rc.openingTx(acc, opened, balance)
		if existing {
			switch {
			case acc.HasTransaction(opening.ID):
				rc.result.warn(r.Line, fmt.Sprintf("%s %s already imported; existing account kept", typ, acc.ID), "account_type")
				rc.result.Accepted++
				continue
			case len(acc.Transactions) == 0 && balance.IsPositive() && acc.Balance.Equal(balance):
				// The account row was stored without its opening transaction.
				rc.result.warn(r.Line, fmt.Sprintf("opening transaction restored for %s %s", typ, acc.ID), "account_type")
				rc.result.Transactions = append(rc.result.Transactions, opening)
				rc.result.Accepted++
				continue
			case len(acc.Transactions) > 0 || !acc.Balance.IsZero():
				rc.result.warn(r.Line, fmt.Sprintf("%s already holds %s %s with history; existing account kept", member.ID, typ, acc.ID), "account_type")
				rc.result.Accepted++
				continue
			}
			rc.result.warn(r.Line, fmt.Sprintf("opening balance applied to existing %s %s", typ, acc.ID), "account_type")
			if acc.InterestRate.IsZero() {
				acc.InterestRate = rc.defaultRate(typ)
			}
		}
		if row.InterestRate != "" {
			acc.InterestRate = rate
		}
		acc.OriginalAmount = balance

		if balance.IsPositive() {
			applied, err := ledger.ApplyTransaction(acc, opening)
			if err != nil {
				rc.result.reject(r.Line, IssueValidation, err.Error(), "account_type")
				continue
			}
			acc = applied
			rc.result.Transactions = append(rc.result.Transactions, opening)
		}
		rc.dir.addAccount(&acc)
		rc.result.Accounts = append(rc.result.Accounts, acc)
		rc.result.Accepted++
	}
}

// defaultRate is the society's standing rate for a product imported without one.
func (rc *reconciler) defaultRate(typ models.AccountType) decimal.Decimal {
	switch typ {
	case models.CompulsoryDeposit:
		return rc.enroll.CompulsoryRate
	case models.OptionalDeposit:
		return rc.optionalRate
	}
	return decimal.Zero
}

// openingTx is the transaction carrying an imported opening balance. Its id
// depends only on the account and date.
func (rc *reconciler) openingTx(acc models.Account, opened time.Time, balance decimal.Decimal) models.Transaction {
	tx := models.Transaction{
		ID:            ledger.OpeningID(acc.ID, opened),
		AccountID:     acc.ID,
		Date:          opened,
		Amount:        balance,
		Type:          models.Credit,
		Category:      models.CategoryOpening,
		Description:   "Opening balance (imported)",
		PaymentMethod: models.PaymentCash,
	}
	if acc.Type == models.Loan {
		tx.Type = models.Debit
		tx.Category = models.CategoryDisbursement
		tx.Description = "Outstanding loan (imported)"
	}
	return tx
}

func parseTxType(s string) (models.TransactionType, bool) {
	switch NormalizeHeader(s) {
	case "credit", "cr", "c", "deposit", "repayment", "receipt":
		return models.Credit, true
	case "debit", "dr", "d", "withdrawal", "disbursement", "payment":
		return models.Debit, true
	}
	return "", false
}

func parsePaymentMethod(s string) models.PaymentMethod {
	switch NormalizeHeader(s) {
	case "online", "upi", "neft", "imps", "rtgs", "bank", "transfer":
		return models.PaymentOnline
	case "both", "mixed", "split":
		return models.PaymentBoth
	}
	return models.PaymentCash
}

func (rc *reconciler) transactions(rows []Row) {
	for _, r := range rows {
		row := newTransactionRow(r)
		if rerr := validateRow(r.Line, row); rerr != nil {
			rc.result.Errors = append(rc.result.Errors, *rerr)
			continue
		}
		typ, ok := parseTxType(row.Type)
		if !ok {
			rc.result.reject(r.Line, IssueValidation, fmt.Sprintf("unknown transaction type %q", row.Type), "type")
			continue
		}
		amount, _ := decimal.NewFromString(row.Amount)
		date, ok := rc.date(row.Date)
		if !ok {
			rc.result.reject(r.Line, IssueValidation, fmt.Sprintf("unrecognised date %q", row.Date), "date")
			continue
		}
		acc, ok := rc.dir.accounts[row.AccountNo]
		if !ok {
			rc.result.reject(r.Line, IssueLinkage, fmt.Sprintf("account %s not found", row.AccountNo), "account_no")
			continue
		}

		method := parsePaymentMethod(row.PaymentMethod)
		tx := models.Transaction{
			ID:            rc.contentID("TXN", date, acc.ID, string(typ), amount.String(), row.UTR, row.Description),
			AccountID:     acc.ID,
			Date:          date,
			Amount:        amount,
			Type:          typ,
			Category:      categoryFor(acc.Type, typ),
			Description:   row.Description,
			PaymentMethod: method,
			UTR:           row.UTR,
		}
		switch method {
		case models.PaymentCash:
			tx.CashAmount = amount
		case models.PaymentOnline:
			tx.OnlineAmount = amount
		}

		applied, err := ledger.ApplyTransaction(*acc, tx)
		if err != nil {
			rc.result.reject(r.Line, IssueValidation, err.Error(), "type", "amount")
			continue
		}
		*acc = applied
		rc.result.Transactions = append(rc.result.Transactions, tx)
		rc.result.Accounts = append(rc.result.Accounts, applied)
		if entry, ok := ledger.LedgerEntryFor(applied, tx); ok {
			rc.result.LedgerEntries = append(rc.result.LedgerEntries, entry)
		}
		rc.result.Accepted++
	}
}

func categoryFor(t models.AccountType, typ models.TransactionType) string {
	switch {
	case t == models.Loan && typ == models.Credit:
		return models.CategoryRepayment
	case t == models.Loan:
		return models.CategoryDisbursement
	case typ == models.Credit:
		return models.CategoryDeposit
	default:
		return models.CategoryWithdrawal
	}
}

func (rc *reconciler) staff(rows []Row) {
	for _, r := range rows {
		row := newStaffRow(r)
		if rerr := validateRow(r.Line, row); rerr != nil {
			rc.result.Errors = append(rc.result.Errors, *rerr)
			continue
		}
		st := models.Staff{
			ID:            rc.contentID("STF", rc.now, row.Name, row.Phone),
			Name:          row.Name,
			Phone:         row.Phone,
			BranchID:      row.BranchID,
			CommissionFee: decimal.Zero,
		}
		if row.CommissionFee != "" {
			st.CommissionFee, _ = decimal.NewFromString(row.CommissionFee)
		}
		if row.MemberID != "" {
			if m, ok := rc.dir.member(row.MemberID); ok {
				st.MemberID = m.ID
			} else {
				rc.result.warn(r.Line, fmt.Sprintf("member %s not found; staff saved without a member link", row.MemberID), "member_id")
			}
		}
		rc.result.Staff = append(rc.result.Staff, st)
		rc.result.Accepted++
	}
}
