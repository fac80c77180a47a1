// Package calc contains the pure interest and maturity formulas used across
// the society's products. Rates are percent per annum throughout.
package calc

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	hundred        = decimal.NewFromInt(100)
	monthlyDivisor = decimal.NewFromInt(1200)
	dailyDivisor   = decimal.NewFromInt(36500)
	two            = decimal.NewFromInt(2)
)

// Tenure is the result of solving for a loan term. Unbounded means the
// installment never covers the monthly interest, so the loan never amortizes.
type Tenure struct {
	Months    decimal.Decimal `json:"months"`
	Unbounded bool            `json:"unbounded"`
}

// Maturity splits a deposit's maturity value into what was paid in and what was earned.
type Maturity struct {
	Deposited decimal.Decimal `json:"deposited"`
	Interest  decimal.Decimal `json:"interest"`
	Total     decimal.Decimal `json:"total"`
}

// Installment is one row of an amortization schedule.
type Installment struct {
	Month     int             `json:"month"`
	EMI       decimal.Decimal `json:"emi"`
	Interest  decimal.Decimal `json:"interest"`
	Principal decimal.Decimal `json:"principal"`
	Balance   decimal.Decimal `json:"balance"`
}

func monthlyRate(annualRate decimal.Decimal) float64 {
	return annualRate.Div(monthlyDivisor).InexactFloat64()
}

// EMI returns the equated monthly installment P·r·(1+r)^n / ((1+r)^n − 1),
// rounded to paise. ok is false when months is not positive.
func EMI(principal, annualRate decimal.Decimal, months int) (decimal.Decimal, bool) {
	if months <= 0 {
		return decimal.Zero, false
	}
	if annualRate.IsZero() {
		return principal.Div(decimal.NewFromInt(int64(months))).Round(2), true
	}
	r := monthlyRate(annualRate)
	p := principal.InexactFloat64()
	growth := math.Pow(1+r, float64(months))
	return decimal.NewFromFloat(p * r * growth / (growth - 1)).Round(2), true
}

// TenureForEMI solves n = ln(E/(E − P·r)) / ln(1+r) for a target installment.
func TenureForEMI(principal, annualRate, emi decimal.Decimal) Tenure {
	if !emi.IsPositive() {
		return Tenure{Unbounded: true}
	}
	if annualRate.IsZero() {
		return Tenure{Months: principal.Div(emi).Round(2)}
	}
	r := monthlyRate(annualRate)
	e := emi.InexactFloat64()
	interestOnly := principal.InexactFloat64() * r
	if e <= interestOnly {
		return Tenure{Unbounded: true}
	}
	n := math.Log(e/(e-interestOnly)) / math.Log(1+r)
	return Tenure{Months: decimal.NewFromFloat(n).Round(2)}
}

// FDMaturity compounds annually: A = P·(1 + R/100)^years.
func FDMaturity(principal, annualRate, years decimal.Decimal) decimal.Decimal {
	factor := math.Pow(1+annualRate.Div(hundred).InexactFloat64(), years.InexactFloat64())
	return principal.Mul(decimal.NewFromFloat(factor)).Round(2)
}

// FDMaturityMonths is FDMaturity for a term expressed in months.
func FDMaturityMonths(principal, annualRate decimal.Decimal, months int) decimal.Decimal {
	years := decimal.NewFromInt(int64(months)).Div(decimal.NewFromInt(12))
	return FDMaturity(principal, annualRate, years)
}

// RDMaturityMonthly: total = P·n + P·(n(n+1)/2)·(R/1200).
func RDMaturityMonthly(installment, annualRate decimal.Decimal, installments int) Maturity {
	return rdMaturity(installment, annualRate, installments, monthlyDivisor)
}

// RDMaturityDaily: total = P·days + P·(days(days+1)/2)·(R/36500).
func RDMaturityDaily(installment, annualRate decimal.Decimal, days int) Maturity {
	return rdMaturity(installment, annualRate, days, dailyDivisor)
}

func rdMaturity(p, rate decimal.Decimal, n int, divisor decimal.Decimal) Maturity {
	if n <= 0 {
		return Maturity{Deposited: decimal.Zero, Interest: decimal.Zero, Total: decimal.Zero}
	}
	count := decimal.NewFromInt(int64(n))
	deposited := p.Mul(count)
	periods := count.Mul(count.Add(decimal.NewFromInt(1))).Div(two)
	interest := p.Mul(periods).Mul(rate).Div(divisor).Round(2)
	return Maturity{Deposited: deposited, Interest: interest, Total: deposited.Add(interest)}
}

// FlatMonthlyInterest charges on the original principal every period.
func FlatMonthlyInterest(originalPrincipal, annualRate decimal.Decimal) decimal.Decimal {
	return originalPrincipal.Mul(annualRate).Div(monthlyDivisor).Round(2)
}

// ReducingMonthlyInterest charges on the outstanding balance.
func ReducingMonthlyInterest(balance, annualRate decimal.Decimal) decimal.Decimal {
	return balance.Mul(annualRate).Div(monthlyDivisor).Round(2)
}

// SimpleMonthlyInterest is the deposit-side monthly credit, balance·R/1200.
func SimpleMonthlyInterest(balance, annualRate decimal.Decimal) decimal.Decimal {
	return balance.Mul(annualRate).Div(monthlyDivisor).Round(2)
}

// AmortizationSchedule splits each installment of a reducing-balance loan into
// interest and principal. The final row absorbs rounding so the balance ends at zero.
func AmortizationSchedule(principal, annualRate decimal.Decimal, months int) []Installment {
	emi, ok := EMI(principal, annualRate, months)
	if !ok {
		return nil
	}
	schedule := make([]Installment, 0, months)
	balance := principal
	for m := 1; m <= months; m++ {
		interest := ReducingMonthlyInterest(balance, annualRate)
		pay := emi
		part := pay.Sub(interest)
		if m == months || part.GreaterThan(balance) {
			part = balance
			pay = part.Add(interest)
		}
		balance = balance.Sub(part)
		schedule = append(schedule, Installment{Month: m, EMI: pay, Interest: interest, Principal: part, Balance: balance})
	}
	return schedule
}
