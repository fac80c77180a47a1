package importer

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their canonical column name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("field")
	})
	return v
}

type memberRow struct {
	MemberID   string `field:"member_id"`
	FullName   string `field:"full_name" validate:"required_without_all=MemberID Phone"`
	FatherName string `field:"father_name"`
	Phone      string `field:"phone" validate:"omitempty,numeric,min=7,max=15"`
	Address    string `field:"current_address"`
	JoinDate   string `field:"join_date"`
	Email      string `field:"email" validate:"omitempty,email"`
}

type accountRow struct {
	MemberID       string `field:"member_id" validate:"required"`
	AccountType    string `field:"account_type" validate:"required"`
	OpeningBalance string `field:"opening_balance" validate:"required,numeric"`
	OpeningDate    string `field:"opening_date"`
	InterestRate   string `field:"interest_rate" validate:"omitempty,numeric"`
}

type transactionRow struct {
	AccountNo     string `field:"account_no" validate:"required"`
	Type          string `field:"type" validate:"required"`
	Amount        string `field:"amount" validate:"required,numeric"`
	Date          string `field:"date" validate:"required"`
	Description   string `field:"description"`
	PaymentMethod string `field:"payment_method"`
	UTR           string `field:"utr"`
}

type staffRow struct {
	Name          string `field:"name" validate:"required"`
	Phone         string `field:"phone" validate:"omitempty,numeric,min=7,max=15"`
	MemberID      string `field:"member_id"`
	BranchID      string `field:"branch_id"`
	CommissionFee string `field:"commission_fee" validate:"omitempty,numeric"`
}

// digits keeps only 0-9, so "+91 98765-43210" compares equal to "919876543210".
func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// cleanAmount strips separators so the numeric rule sees a bare number.
func cleanAmount(s string) string {
	if s == "" {
		return ""
	}
	if d, err := parseAmount(s); err == nil {
		return d.String()
	}
	return s
}

func newMemberRow(r Row) memberRow {
	return memberRow{
		MemberID:   r.Get("member_id"),
		FullName:   r.Get("full_name"),
		FatherName: r.Get("father_name"),
		Phone:      digits(r.Get("phone")),
		Address:    r.Get("current_address"),
		JoinDate:   r.Get("join_date"),
		Email:      r.Get("email"),
	}
}

func newAccountRow(r Row) accountRow {
	return accountRow{
		MemberID:       r.Get("member_id"),
		AccountType:    r.Get("account_type"),
		OpeningBalance: cleanAmount(r.Get("opening_balance")),
		OpeningDate:    r.Get("opening_date"),
		InterestRate:   strings.TrimSuffix(strings.TrimSpace(r.Get("interest_rate")), "%"),
	}
}

func newTransactionRow(r Row) transactionRow {
	return transactionRow{
		AccountNo:     r.Get("account_no"),
		Type:          r.Get("type"),
		Amount:        cleanAmount(r.Get("amount")),
		Date:          r.Get("date"),
		Description:   r.Get("description"),
		PaymentMethod: r.Get("payment_method"),
		UTR:           r.Get("utr"),
	}
}

func newStaffRow(r Row) staffRow {
	return staffRow{
		Name:          r.Get("name"),
		Phone:         digits(r.Get("phone")),
		MemberID:      r.Get("member_id"),
		BranchID:      r.Get("branch_id"),
		CommissionFee: cleanAmount(r.Get("commission_fee")),
	}
}

// validateRow runs the struct rules and folds every failure into one RowError
// naming the canonical fields involved.
func validateRow(line int, row any) *RowError {
	err := validate.Struct(row)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &RowError{Line: line, Kind: IssueValidation, Message: err.Error()}
	}
	out := &RowError{Line: line, Kind: IssueValidation}
	var msgs []string
	for _, fe := range verrs {
		out.Fields = append(out.Fields, fe.Field())
		msgs = append(msgs, fe.Field()+": "+getErrorMsg(fe))
	}
	out.Message = strings.Join(msgs, "; ")
	return out
}

func getErrorMsg(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "required_without_all":
		return "one of name, phone or member id is required"
	case "numeric":
		return "must be a number"
	case "email":
		return "invalid email format"
	case "min":
		return "value is too short"
	case "max":
		return "value is too long"
	default:
		return "invalid value"
	}
}
