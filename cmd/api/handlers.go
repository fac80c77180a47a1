package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/thriftLedger/pkg/calc"
	"github.com/mcclellann/thriftLedger/pkg/dates"
	"github.com/mcclellann/thriftLedger/pkg/importer"
	"github.com/mcclellann/thriftLedger/pkg/ledger"
	"github.com/mcclellann/thriftLedger/pkg/lock"
	"github.com/mcclellann/thriftLedger/pkg/models"
	"github.com/mcclellann/thriftLedger/pkg/policy"
	"github.com/mcclellann/thriftLedger/pkg/repair"
	"github.com/mcclellann/thriftLedger/pkg/store"
	"github.com/shopspring/decimal"
)

// maxImportBytes caps a single paste or upload.
const maxImportBytes = 10 << 20

// respondWithError maps domain errors onto status codes.
func respondWithError(w http.ResponseWriter, err error) {
	var denied *policy.DeniedError
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &denied),
		errors.Is(err, ledger.ErrSingletonHeld),
		errors.Is(err, ledger.ErrDuplicatePhone),
		errors.Is(err, ledger.ErrInvalidTransition),
		errors.Is(err, ledger.ErrNotTermDeposit),
		errors.Is(err, ledger.ErrNotMatured):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrTooManyGuarantors):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, lock.ErrLocked):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("Error handling request: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// decode reads a JSON body and runs struct validation. It writes the error
// response itself and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if verrs := ValidateRequest(v); len(verrs) > 0 {
		respondWithValidationError(w, verrs)
		return false
	}
	return true
}

// parseDate reads an optional request date. Blank means now.
func parseDate(w http.ResponseWriter, field, s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, true
	}
	t, err := dates.Parse(s)
	if err != nil {
		respondWithValidationError(w, []ValidationError{{Field: field, Message: err.Error(), Type: "date"}})
		return time.Time{}, false
	}
	return t, true
}

type enrollRequest struct {
	FullName    string `json:"full_name" validate:"required"`
	FatherName  string `json:"father_name"`
	Phone       string `json:"phone" validate:"omitempty,numeric,min=7,max=15"`
	Email       string `json:"email" validate:"omitempty,email"`
	Address     string `json:"address"`
	JoinDate    string `json:"join_date"`
	NomineeID   string `json:"nominee_id"`
	GuarantorID string `json:"guarantor_id"`
}

func (s *Server) enrollMemberHandler(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if !decode(w, r, &req) {
		return
	}
	joined, ok := parseDate(w, "join_date", req.JoinDate)
	if !ok {
		return
	}

	enrollment, err := s.ledger.EnrollMember(models.Member{
		FullName:    req.FullName,
		FatherName:  req.FatherName,
		Phone:       req.Phone,
		Email:       req.Email,
		Address:     req.Address,
		JoinDate:    joined,
		NomineeID:   req.NomineeID,
		GuarantorID: req.GuarantorID,
	})
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, enrollment)
}

func (s *Server) listMembersHandler(w http.ResponseWriter, r *http.Request) {
	members, err := s.ledger.GetAllMembers()
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) getMemberHandler(w http.ResponseWriter, r *http.Request) {
	member, err := s.ledger.GetMember(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (s *Server) memberAccountsHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.storage.ListAccountsForMember(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) selectableTypesHandler(w http.ResponseWriter, r *http.Request) {
	types, err := s.ledger.SelectableTypes(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

type openAccountRequest struct {
	MemberID      string               `json:"member_id" validate:"required"`
	Type          models.AccountType   `json:"type" validate:"required,oneof=ShareCapital CompulsoryDeposit OptionalDeposit FixedDeposit RecurringDeposit Loan"`
	LoanType      models.LoanType      `json:"loan_type" validate:"omitempty,oneof=Personal Gold Vehicle Home Emergency"`
	Amount        decimal.Decimal      `json:"amount"`
	InterestRate  decimal.Decimal      `json:"interest_rate"`
	TermMonths    int                  `json:"term_months" validate:"gte=0"`
	TenureDays    int                  `json:"tenure_days" validate:"gte=0"`
	RDFrequency   models.RDFrequency   `json:"rd_frequency" validate:"omitempty,oneof=Monthly Daily"`
	OpeningDate   string               `json:"opening_date"`
	Guarantors    []string             `json:"guarantors" validate:"max=2"`
	PaymentMethod models.PaymentMethod `json:"payment_method" validate:"omitempty,oneof=Cash Online Both"`
}

func (s *Server) openAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if !decode(w, r, &req) {
		return
	}
	opened, ok := parseDate(w, "opening_date", req.OpeningDate)
	if !ok {
		return
	}
	if req.InterestRate.IsNegative() {
		http.Error(w, "Interest rate cannot be negative", http.StatusBadRequest)
		return
	}

	acc, err := s.ledger.OpenAccount(ledger.OpenAccountRequest{
		MemberID:      req.MemberID,
		Type:          req.Type,
		LoanType:      req.LoanType,
		Amount:        req.Amount,
		InterestRate:  req.InterestRate,
		TermMonths:    req.TermMonths,
		TenureDays:    req.TenureDays,
		RDFrequency:   req.RDFrequency,
		OpeningDate:   opened,
		Guarantors:    req.Guarantors,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (s *Server) listAccountsHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.ledger.GetAllAccounts()
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) getAccountHandler(w http.ResponseWriter, r *http.Request) {
	acc, err := s.ledger.GetAccount(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

type transactionRequest struct {
	ID            string                 `json:"id"`
	Amount        decimal.Decimal        `json:"amount"`
	Type          models.TransactionType `json:"type" validate:"required,oneof=credit debit"`
	Category      string                 `json:"category"`
	Description   string                 `json:"description"`
	Date          string                 `json:"date"`
	PaymentMethod models.PaymentMethod   `json:"payment_method" validate:"omitempty,oneof=Cash Online Both"`
	CashAmount    decimal.Decimal        `json:"cash_amount"`
	OnlineAmount  decimal.Decimal        `json:"online_amount"`
	UTR           string                 `json:"utr"`
}

func (s *Server) recordTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		http.Error(w, "Amount must be positive", http.StatusBadRequest)
		return
	}
	date, ok := parseDate(w, "date", req.Date)
	if !ok {
		return
	}

	acc, err := s.ledger.RecordTransaction(mux.Vars(r)["id"], models.Transaction{
		ID:            req.ID,
		Date:          date,
		Amount:        req.Amount,
		Type:          req.Type,
		Category:      req.Category,
		Description:   req.Description,
		PaymentMethod: req.PaymentMethod,
		CashAmount:    req.CashAmount,
		OnlineAmount:  req.OnlineAmount,
		UTR:           req.UTR,
	})
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (s *Server) listTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	txs, err := s.storage.GetTransactionsForAccount(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

type dateRequest struct {
	Date     string `json:"date"`
	TargetID string `json:"target_id"`
}

// decodeOptional accepts an empty body as the zero value.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) approveLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req dateRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	date, ok := parseDate(w, "date", req.Date)
	if !ok {
		return
	}
	acc, err := s.ledger.ApproveLoan(mux.Vars(r)["id"], date)
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) payoutHandler(early bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dateRequest
		if !decodeOptional(w, r, &req) {
			return
		}
		date, ok := parseDate(w, "date", req.Date)
		if !ok {
			return
		}
		id := mux.Vars(r)["id"]
		var (
			transfer *ledger.Transfer
			err      error
		)
		if early {
			transfer, err = s.ledger.CloseEarly(id, req.TargetID, date)
		} else {
			transfer, err = s.ledger.Mature(id, req.TargetID, date)
		}
		if err != nil {
			respondWithError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, transfer)
	}
}

type statusRequest struct {
	Status models.AccountStatus `json:"status" validate:"required,oneof=Active Dormant Closed"`
}

func (s *Server) setStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	acc, err := s.ledger.SetStatus(mux.Vars(r)["id"], req.Status)
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) accrueAccountHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.RunAccount(r.Context(), mux.Vars(r)["id"], s.now())
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) accrueAllHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.RunAll(r.Context(), s.now())
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) ledgerEntriesHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := s.storage.ListLedgerEntries()
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) listStaffHandler(w http.ResponseWriter, r *http.Request) {
	staff, err := s.storage.ListStaff()
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, staff)
}

type importRequest struct {
	Text     string `json:"text" validate:"required"`
	FocusRow int    `json:"focus_row" validate:"gte=0"`
	FocusCol int    `json:"focus_col" validate:"gte=0"`
}

// preview reconciles the request body for the target in the URL. It writes
// the error response itself when it returns nil.
func (s *Server) preview(w http.ResponseWriter, r *http.Request) *importer.Result {
	target, ok := importer.ParseTarget(mux.Vars(r)["target"])
	if !ok {
		http.Error(w, "Unknown import target", http.StatusNotFound)
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	var req importRequest
	if !decode(w, r, &req) {
		return nil
	}
	sheet := importer.NewSheet(target)
	sheet.Focus(req.FocusRow, req.FocusCol)
	res, err := s.importer.Preview(target, req.Text, sheet)
	if err != nil {
		respondWithError(w, err)
		return nil
	}
	return res
}

func (s *Server) importPreviewHandler(w http.ResponseWriter, r *http.Request) {
	if res := s.preview(w, r); res != nil {
		writeJSON(w, http.StatusOK, res)
	}
}

// importCommitHandler refuses to write while rows are being excluded unless
// the caller has seen the issues and passes accept_errors=true.
func (s *Server) importCommitHandler(w http.ResponseWriter, r *http.Request) {
	res := s.preview(w, r)
	if res == nil {
		return
	}
	accept, _ := strconv.ParseBool(r.URL.Query().Get("accept_errors"))
	if len(res.Errors) > 0 && !accept {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}

	report := s.importer.Commit(res)
	status := http.StatusOK
	if err := report.Err(); err != nil {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, struct {
		*importer.Result
		Commit *importer.CommitReport `json:"commit"`
		Retry  string                 `json:"retry,omitempty"`
	}{res, report, retryMessage(report)})
}

func retryMessage(report *importer.CommitReport) string {
	if len(report.Failures) == 0 {
		return ""
	}
	return fmt.Sprintf("%d batch(es) failed; resubmitting the same data is safe", len(report.Failures))
}

func (s *Server) scanDatesHandler(w http.ResponseWriter, r *http.Request) {
	members, err := s.storage.ListMembers()
	if err != nil {
		respondWithError(w, err)
		return
	}
	accounts, err := s.storage.ListAccounts()
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repair.ScanForDateCorruption(members, accounts))
}

func (s *Server) applyDatesHandler(w http.ResponseWriter, r *http.Request) {
	var fixes []repair.DateFix
	if err := json.NewDecoder(r.Body).Decode(&fixes); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n, err := repair.ApplyDateFixes(s.storage, fixes)
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"applied": n})
}

func (s *Server) scanDuplicateInterestHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.storage.ListAccounts()
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repair.ScanDuplicateInterest(accounts))
}

func (s *Server) applyDuplicateInterestHandler(w http.ResponseWriter, r *http.Request) {
	var dups []repair.DuplicateInterest
	if err := json.NewDecoder(r.Body).Decode(&dups); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := repair.ApplyDuplicateInterestFix(s.storage, dups); err != nil {
		respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) scanDriftHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.storage.ListAccounts()
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repair.ScanBalanceDrift(accounts))
}

func (s *Server) backfillHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.storage.ListAccounts()
	if err != nil {
		respondWithError(w, err)
		return
	}
	txs := repair.BackfillMissingTransactions(accounts)
	if len(txs) > 0 {
		if err := repair.ApplyBackfill(s.storage, txs); err != nil {
			respondWithError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, txs)
}

// queryDecimal reads a decimal query parameter, writing a 400 on failure.
func queryDecimal(w http.ResponseWriter, r *http.Request, name string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(r.URL.Query().Get(name))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid %s", name), http.StatusBadRequest)
		return decimal.Zero, false
	}
	return d, true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 0 {
		http.Error(w, fmt.Sprintf("Invalid %s", name), http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func (s *Server) emiHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := queryDecimal(w, r, "principal")
	if !ok {
		return
	}
	rate, ok := queryDecimal(w, r, "rate")
	if !ok {
		return
	}
	months, ok := queryInt(w, r, "months")
	if !ok {
		return
	}
	emi, defined := calc.EMI(principal, rate, months)
	writeJSON(w, http.StatusOK, map[string]any{
		"emi":      emi,
		"defined":  defined,
		"schedule": calc.AmortizationSchedule(principal, rate, months),
	})
}

func (s *Server) tenureHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := queryDecimal(w, r, "principal")
	if !ok {
		return
	}
	rate, ok := queryDecimal(w, r, "rate")
	if !ok {
		return
	}
	emi, ok := queryDecimal(w, r, "emi")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, calc.TenureForEMI(principal, rate, emi))
}

func (s *Server) fdMaturityHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := queryDecimal(w, r, "principal")
	if !ok {
		return
	}
	rate, ok := queryDecimal(w, r, "rate")
	if !ok {
		return
	}
	months, ok := queryInt(w, r, "months")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"maturity": calc.FDMaturityMonths(principal, rate, months),
	})
}

func (s *Server) rdMaturityHandler(w http.ResponseWriter, r *http.Request) {
	installment, ok := queryDecimal(w, r, "installment")
	if !ok {
		return
	}
	rate, ok := queryDecimal(w, r, "rate")
	if !ok {
		return
	}
	count, ok := queryInt(w, r, "count")
	if !ok {
		return
	}
	if models.RDFrequency(r.URL.Query().Get("frequency")) == models.RDDaily {
		writeJSON(w, http.StatusOK, calc.RDMaturityDaily(installment, rate, count))
		return
	}
	writeJSON(w, http.StatusOK, calc.RDMaturityMonthly(installment, rate, count))
}
