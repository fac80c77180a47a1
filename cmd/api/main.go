package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/thriftLedger/pkg/accrual"
	"github.com/mcclellann/thriftLedger/pkg/dates"
	"github.com/mcclellann/thriftLedger/pkg/importer"
	"github.com/mcclellann/thriftLedger/pkg/ledger"
	"github.com/mcclellann/thriftLedger/pkg/lock"
	"github.com/mcclellann/thriftLedger/pkg/models"
	"github.com/mcclellann/thriftLedger/pkg/policy"
	"github.com/mcclellann/thriftLedger/pkg/store"
	"github.com/shopspring/decimal"
)

// Server holds the services behind the HTTP API.
type Server struct {
	ledger   *ledger.Ledger
	engine   *accrual.Engine
	importer *importer.Importer
	storage  store.Storage // Keep a reference to the storage to close it
	now      func() time.Time
}

func NewServer(s store.Storage, opts ledger.Options, locker lock.Locker) *Server {
	l := ledger.NewLedger(s, opts)
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Server{
		ledger:   l,
		engine:   accrual.NewEngine(s, locker),
		importer: importer.New(s, importer.Options{
			MinDate:             opts.MinDate,
			Enroll:              l.EnrollOptions(),
			OptionalDepositRate: opts.OptionalDepositRate,
			Now:                 now,
		}),
		storage: s,
		now:     now,
	}
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/members", s.listMembersHandler).Methods("GET")
	router.HandleFunc("/members", s.enrollMemberHandler).Methods("POST")
	router.HandleFunc("/members/{id}", s.getMemberHandler).Methods("GET")
	router.HandleFunc("/members/{id}/accounts", s.memberAccountsHandler).Methods("GET")
	router.HandleFunc("/members/{id}/selectable-types", s.selectableTypesHandler).Methods("GET")

	router.HandleFunc("/accounts", s.listAccountsHandler).Methods("GET")
	router.HandleFunc("/accounts", s.openAccountHandler).Methods("POST")
	router.HandleFunc("/accounts/{id}", s.getAccountHandler).Methods("GET")
	router.HandleFunc("/accounts/{id}/transactions", s.listTransactionsHandler).Methods("GET")
	router.HandleFunc("/accounts/{id}/transactions", s.recordTransactionHandler).Methods("POST")
	router.HandleFunc("/accounts/{id}/approve", s.approveLoanHandler).Methods("POST")
	router.HandleFunc("/accounts/{id}/mature", s.payoutHandler(false)).Methods("POST")
	router.HandleFunc("/accounts/{id}/close", s.payoutHandler(true)).Methods("POST")
	router.HandleFunc("/accounts/{id}/status", s.setStatusHandler).Methods("PUT")
	router.HandleFunc("/accounts/{id}/interest", s.accrueAccountHandler).Methods("POST")

	router.HandleFunc("/interest/run", s.accrueAllHandler).Methods("POST")
	router.HandleFunc("/ledger", s.ledgerEntriesHandler).Methods("GET")
	router.HandleFunc("/staff", s.listStaffHandler).Methods("GET")

	router.HandleFunc("/import/{target}/preview", s.importPreviewHandler).Methods("POST")
	router.HandleFunc("/import/{target}/commit", s.importCommitHandler).Methods("POST")

	router.HandleFunc("/repair/dates", s.scanDatesHandler).Methods("GET")
	router.HandleFunc("/repair/dates", s.applyDatesHandler).Methods("POST")
	router.HandleFunc("/repair/duplicate-interest", s.scanDuplicateInterestHandler).Methods("GET")
	router.HandleFunc("/repair/duplicate-interest", s.applyDuplicateInterestHandler).Methods("POST")
	router.HandleFunc("/repair/drift", s.scanDriftHandler).Methods("GET")
	router.HandleFunc("/repair/backfill", s.backfillHandler).Methods("POST")

	router.HandleFunc("/calc/emi", s.emiHandler).Methods("GET")
	router.HandleFunc("/calc/tenure", s.tenureHandler).Methods("GET")
	router.HandleFunc("/calc/fd", s.fdMaturityHandler).Methods("GET")
	router.HandleFunc("/calc/rd", s.rdMaturityHandler).Methods("GET")

	return router
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDecimal(key, fallback string) decimal.Decimal {
	d, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil {
		log.Fatalf("Invalid %s: %v", key, err)
	}
	return d
}

// loadOptions reads the society's standing configuration from the environment.
func loadOptions() ledger.Options {
	minDate, err := dates.Parse(getEnv("MIN_SYSTEM_DATE", "2000-01-01"))
	if err != nil {
		log.Fatalf("Invalid MIN_SYSTEM_DATE: %v", err)
	}
	if raw := getEnv("FLAT_RATE_LOAN_TYPES", ""); raw != "" {
		flat := make(map[models.LoanType]bool)
		for _, lt := range strings.Split(raw, ",") {
			if lt = strings.TrimSpace(lt); lt != "" {
				flat[models.LoanType(lt)] = true
			}
		}
		policy.FlatRateLoans = flat
	}
	return ledger.Options{
		MinDate:             minDate,
		RegistrationFee:     getDecimal("REGISTRATION_FEE", "100"),
		ShareCapital:        getDecimal("SHARE_CAPITAL_OPENING", "500"),
		CompulsoryDeposit:   getDecimal("COMPULSORY_OPENING", "200"),
		CompulsoryRate:      getDecimal("COMPULSORY_RATE", "6"),
		OptionalDepositRate: getDecimal("OPTIONAL_DEPOSIT_RATE", "4"),
	}
}

func main() {
	driver := getEnv("DATABASE_DRIVER", "sqlite3")
	dsn := getEnv("DATABASE_URL", "thrift.db")
	storage, err := store.Open(driver, dsn)
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", driver, err)
	}
	defer storage.Close()

	var locker lock.Locker
	if addr := getEnv("REDIS_ADDR", ""); addr != "" {
		client, err := lock.NewRedisClient(addr, getEnv("REDIS_PASSWORD", ""), 0)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer client.Close()
		locker = lock.NewRedisLocker(client, "thrift:")
		log.Printf("Using Redis accrual locks at %s", addr)
	}

	server := NewServer(storage, loadOptions(), locker)
	router := server.routes()

	interval, err := time.ParseDuration(getEnv("ACCRUAL_INTERVAL", "1h"))
	if err != nil {
		log.Fatalf("Invalid ACCRUAL_INTERVAL: %v", err)
	}

	// Catch every account up on start and then on each tick.
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			log.Println("Running interest accrual...")
			if _, err := server.engine.RunAll(context.Background(), server.now()); err != nil {
				log.Printf("Interest accrual failed: %v", err)
			}
			<-ticker.C
		}
	}()

	port := getEnv("PORT", "8080")
	log.Printf("Server starting on :%s", port)
	log.Fatal(http.ListenAndServe(":"+port, router))
}
