package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MemberStatus string

const (
	MemberPending   MemberStatus = "Pending"
	MemberActive    MemberStatus = "Active"
	MemberSuspended MemberStatus = "Suspended"
)

type Member struct {
	ID          string       `json:"id"`
	LegacyID    string       `json:"legacy_id,omitempty"` // Member number carried over from the old registers
	FullName    string       `json:"full_name"`
	FatherName  string       `json:"father_name,omitempty"`
	Phone       string       `json:"phone"`
	Email       string       `json:"email,omitempty"`
	Address     string       `json:"address,omitempty"`
	JoinDate    time.Time    `json:"join_date"`
	Status      MemberStatus `json:"status"`
	NomineeID   string       `json:"nominee_id,omitempty"`
	GuarantorID string       `json:"guarantor_id,omitempty"`
}

type AccountType string

const (
	ShareCapital      AccountType = "ShareCapital"
	CompulsoryDeposit AccountType = "CompulsoryDeposit"
	OptionalDeposit   AccountType = "OptionalDeposit"
	FixedDeposit      AccountType = "FixedDeposit"
	RecurringDeposit  AccountType = "RecurringDeposit"
	Loan              AccountType = "Loan"
)

// AccountTypes lists every product in the order they are offered to members.
var AccountTypes = []AccountType{ShareCapital, CompulsoryDeposit, OptionalDeposit, FixedDeposit, RecurringDeposit, Loan}

type LoanType string

const (
	LoanPersonal  LoanType = "Personal"
	LoanGold      LoanType = "Gold"
	LoanVehicle   LoanType = "Vehicle"
	LoanHome      LoanType = "Home"
	LoanEmergency LoanType = "Emergency"
)

type AccountStatus string

const (
	AccountPending AccountStatus = "Pending"
	AccountActive  AccountStatus = "Active"
	AccountDormant AccountStatus = "Dormant"
	AccountMatured AccountStatus = "Matured"
	AccountClosed  AccountStatus = "Closed"
)

type RDFrequency string

const (
	RDMonthly RDFrequency = "Monthly"
	RDDaily   RDFrequency = "Daily"
)

type Account struct {
	ID                   string          `json:"id"`
	MemberID             string          `json:"member_id"`
	Type                 AccountType     `json:"type"`
	LoanType             LoanType        `json:"loan_type,omitempty"`
	Status               AccountStatus   `json:"status"`
	Balance              decimal.Decimal `json:"balance"`
	InterestRate         decimal.Decimal `json:"interest_rate"`   // Percent per annum
	OriginalAmount       decimal.Decimal `json:"original_amount"` // Principal basis for maturity/EMI; never changes after opening
	TermMonths           int             `json:"term_months,omitempty"`
	TenureDays           int             `json:"tenure_days,omitempty"`
	RDFrequency          RDFrequency     `json:"rd_frequency,omitempty"`
	EMI                  decimal.Decimal `json:"emi"`
	OpeningDate          time.Time       `json:"opening_date"`
	MaturityDate         *time.Time      `json:"maturity_date,omitempty"`
	LastInterestPostDate *time.Time      `json:"last_interest_post_date,omitempty"` // Accrual watermark
	Guarantors           []string        `json:"guarantors,omitempty"`
	Transactions         []Transaction   `json:"transactions,omitempty"`
}

// HasTransaction reports whether a transaction with the given id is already in the history.
func (a *Account) HasTransaction(id string) bool {
	for _, tx := range a.Transactions {
		if tx.ID == id {
			return true
		}
	}
	return false
}

type TransactionType string

const (
	Credit TransactionType = "credit"
	Debit  TransactionType = "debit"
)

// Transaction categories. CategoryInterest is reserved: repair tooling keys off it.
const (
	CategoryOpening      = "Opening"
	CategoryDeposit      = "Deposit"
	CategoryWithdrawal   = "Withdrawal"
	CategoryRepayment    = "Repayment"
	CategoryDisbursement = "Disbursement"
	CategoryInterest     = "Interest"
	CategoryFee          = "Fee"
	CategoryMaturity     = "Maturity"
	CategoryTransfer     = "Transfer"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "Cash"
	PaymentOnline PaymentMethod = "Online"
	PaymentBoth   PaymentMethod = "Both"
)

type Transaction struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"account_id"`
	Date          time.Time       `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	Type          TransactionType `json:"type"`
	Category      string          `json:"category"`
	Description   string          `json:"description,omitempty"`
	PaymentMethod PaymentMethod   `json:"payment_method,omitempty"`
	CashAmount    decimal.Decimal `json:"cash_amount"`
	OnlineAmount  decimal.Decimal `json:"online_amount"`
	UTR           string          `json:"utr,omitempty"`
}

type LedgerEntryType string

const (
	Income  LedgerEntryType = "Income"
	Expense LedgerEntryType = "Expense"
)

// LedgerEntry is a society-wide cash book row. It is not reconciled against account balances.
type LedgerEntry struct {
	ID           string          `json:"id"`
	Date         time.Time       `json:"date"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	Type         LedgerEntryType `json:"type"`
	Category     string          `json:"category"`
	CashAmount   decimal.Decimal `json:"cash_amount"`
	OnlineAmount decimal.Decimal `json:"online_amount"`
}

type Staff struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone"`
	MemberID      string          `json:"member_id,omitempty"`
	BranchID      string          `json:"branch_id,omitempty"`
	CommissionFee decimal.Decimal `json:"commission_fee"`
}

// NewID builds an id of the form PREFIX-<epoch millis>-<suffix>. The embedded
// 13-digit timestamp is what repair tooling uses to recover creation dates.
func NewID(prefix string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", prefix, at.UnixMilli(), suffix)
}

// DerivedID is NewID with the suffix hashed from parts instead of drawn at
// random, so rebuilding the same entity reproduces its id.
func DerivedID(prefix string, at time.Time, parts ...string) string {
	name := []byte(strings.Join(parts, "|"))
	suffix := strings.ReplaceAll(uuid.NewSHA1(uuid.NameSpaceOID, name).String(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", prefix, at.UnixMilli(), suffix)
}
