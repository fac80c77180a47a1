// Package importer turns pasted or uploaded spreadsheet text of unknown shape
// into members, accounts, transactions and staff ready to persist.
package importer

import (
	"strings"
	"unicode"

	"github.com/mcclellann/thriftLedger/pkg/models"
)

// Target is the entity kind an import produces.
type Target string

const (
	TargetMembers      Target = "members"
	TargetAccounts     Target = "accounts"
	TargetTransactions Target = "transactions"
	TargetStaff        Target = "staff"
)

// Canonical columns per target. Order matters for positional pastes.
var Columns = map[Target][]string{
	TargetMembers:      {"member_id", "full_name", "father_name", "phone", "current_address", "join_date", "email"},
	TargetAccounts:     {"member_id", "account_type", "opening_balance", "opening_date", "interest_rate"},
	TargetTransactions: {"account_no", "type", "amount", "date", "description", "payment_method", "utr"},
	TargetStaff:        {"name", "phone", "member_id", "branch_id", "commission_fee"},
}

func ParseTarget(s string) (Target, bool) {
	t := Target(strings.ToLower(strings.TrimSpace(s)))
	_, ok := Columns[t]
	return t, ok
}

// aliases maps normalized header text to a canonical field, per target.
var aliases = map[Target]map[string]string{
	TargetMembers: {
		"memberid": "member_id", "legacyid": "member_id", "id": "member_id", "mno": "member_id", "memberno": "member_id", "membershipno": "member_id",
		"fullname": "full_name", "name": "full_name", "membername": "full_name",
		"fathername": "father_name", "father": "father_name", "husbandname": "father_name", "fatherhusbandname": "father_name",
		"phone": "phone", "mobile": "phone", "mobileno": "phone", "phoneno": "phone", "contact": "phone", "contactno": "phone",
		"currentaddress": "current_address", "address": "current_address",
		"joindate": "join_date", "dateofjoining": "join_date", "doj": "join_date", "date": "join_date",
		"email": "email", "emailid": "email", "mail": "email",
	},
	TargetAccounts: {
		"memberid": "member_id", "legacyid": "member_id", "id": "member_id", "mno": "member_id", "memberno": "member_id",
		"accounttype": "account_type", "type": "account_type", "product": "account_type",
		"openingbalance": "opening_balance", "balance": "opening_balance", "amount": "opening_balance",
		"openingdate": "opening_date", "date": "opening_date", "dateofopening": "opening_date",
		"interestrate": "interest_rate", "rate": "interest_rate", "roi": "interest_rate", "rateofinterest": "interest_rate",
	},
	TargetTransactions: {
		"accountno": "account_no", "accountid": "account_no", "account": "account_no", "acno": "account_no",
		"type": "type", "txntype": "type", "drcr": "type",
		"amount": "amount", "amt": "amount",
		"date": "date", "txndate": "date", "transactiondate": "date",
		"description": "description", "narration": "description", "particulars": "description", "remarks": "description",
		"paymentmethod": "payment_method", "mode": "payment_method", "paymentmode": "payment_method",
		"utr": "utr", "utrno": "utr", "reference": "utr", "refno": "utr",
	},
	TargetStaff: {
		"name": "name", "staffname": "name", "fullname": "name",
		"phone": "phone", "mobile": "phone", "mobileno": "phone", "phoneno": "phone",
		"memberid": "member_id", "mno": "member_id",
		"branchid": "branch_id", "branch": "branch_id",
		"commissionfee": "commission_fee", "commission": "commission_fee", "fee": "commission_fee",
	},
}

// NormalizeHeader lowercases s and drops everything but letters and digits.
func NormalizeHeader(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResolveField maps a raw header to its canonical field for target. Canonical
// names resolve to themselves.
func ResolveField(target Target, header string) (string, bool) {
	key := NormalizeHeader(header)
	if key == "" {
		return "", false
	}
	if field, ok := aliases[target][key]; ok {
		return field, true
	}
	for _, field := range Columns[target] {
		if NormalizeHeader(field) == key {
			return field, true
		}
	}
	return "", false
}

// headerKeywords mark a first line as a header row. Any cell containing one
// counts, so a data row holding a name like "David" reads as a header too.
var headerKeywords = []string{"name", "id", "phone", "mobile", "date", "type", "amount", "balance", "account", "member", "email", "address", "branch"}

// LooksLikeHeader reports whether cells read as a header row.
func LooksLikeHeader(cells []string) bool {
	for _, c := range cells {
		key := NormalizeHeader(c)
		for _, kw := range headerKeywords {
			if strings.Contains(key, kw) {
				return true
			}
		}
	}
	return false
}

// accountTypeAliases maps normalized spellings to account types.
var accountTypeAliases = map[string]models.AccountType{
	"sharecapital": models.ShareCapital, "share": models.ShareCapital, "shares": models.ShareCapital, "sc": models.ShareCapital,
	"compulsorydeposit": models.CompulsoryDeposit, "compulsory": models.CompulsoryDeposit, "cd": models.CompulsoryDeposit,
	"optionaldeposit": models.OptionalDeposit, "optional": models.OptionalDeposit, "od": models.OptionalDeposit, "savings": models.OptionalDeposit,
	"fixeddeposit": models.FixedDeposit, "fixed": models.FixedDeposit, "fd": models.FixedDeposit,
	"recurringdeposit": models.RecurringDeposit, "recurring": models.RecurringDeposit, "rd": models.RecurringDeposit,
	"loan": models.Loan, "loans": models.Loan, "loanbalance": models.Loan,
}

// ResolveAccountType maps free text such as "Share Capital" or "FD" to a type.
func ResolveAccountType(s string) (models.AccountType, bool) {
	t, ok := accountTypeAliases[NormalizeHeader(s)]
	return t, ok
}
