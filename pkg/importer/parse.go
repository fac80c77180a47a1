package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/mcclellann/thriftLedger/pkg/models"
	"github.com/shopspring/decimal"
)

// Row is one input line keyed by canonical field.
type Row struct {
	Line   int               `json:"line"`
	Fields map[string]string `json:"fields"`
}

func (r Row) Get(field string) string {
	return strings.TrimSpace(r.Fields[field])
}

// SplitRecords breaks pasted or uploaded text into cells. Spreadsheet pastes
// are tab separated; anything without a tab on its first line is read as CSV.
func SplitRecords(text string) ([][]string, error) {
	text = strings.TrimPrefix(text, "\ufeff")
	first, _, _ := strings.Cut(text, "\n")

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	if strings.Contains(first, "\t") {
		reader.Comma = '\t'
	}

	var records [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
		blank := true
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
			if rec[i] != "" {
				blank = false
			}
		}
		if !blank {
			records = append(records, rec)
		}
	}
	return records, nil
}

// Parse maps text to rows for target. A first line that looks like a header is
// resolved through the alias tables; otherwise the records are pasted onto
// sheet at its focus and the whole grid is returned. sheet may be nil.
func Parse(target Target, text string, sheet *Sheet) ([]Row, error) {
	records, err := SplitRecords(text)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	if !LooksLikeHeader(records[0]) {
		if sheet == nil {
			sheet = NewSheet(target)
		}
		sheet.Target = target
		sheet.Paste(records)
		return sheet.Rows(), nil
	}

	header, body := records[0], records[1:]
	if target == TargetAccounts {
		if wide := wideColumns(header); len(wide) > 1 {
			return unpivot(header, body, wide), nil
		}
	}

	fields := make([]string, len(header))
	for i, h := range header {
		if f, ok := ResolveField(target, h); ok {
			fields[i] = f
		}
	}
	rows := make([]Row, 0, len(body))
	for i, rec := range body {
		row := Row{Line: i + 2, Fields: make(map[string]string)}
		for j, v := range rec {
			if j < len(fields) && fields[j] != "" && v != "" {
				row.Fields[fields[j]] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// wideColumns finds header cells naming an account type. It only reports a
// wide layout when at least two different types appear.
func wideColumns(header []string) map[int]models.AccountType {
	cols := make(map[int]models.AccountType)
	seen := make(map[models.AccountType]bool)
	for i, h := range header {
		if t, ok := ResolveAccountType(h); ok {
			cols[i] = t
			seen[t] = true
		}
	}
	if len(seen) < 2 {
		return nil
	}
	return cols
}

// unpivot turns one row per member with a column per account type into one
// row per positive amount.
func unpivot(header []string, body [][]string, wide map[int]models.AccountType) []Row {
	shared := make(map[int]string)
	for i, h := range header {
		if _, isType := wide[i]; isType {
			continue
		}
		if f, ok := ResolveField(TargetAccounts, h); ok && f != "account_type" && f != "opening_balance" {
			shared[i] = f
		}
	}

	var rows []Row
	for i, rec := range body {
		base := make(map[string]string)
		for j, f := range shared {
			if j < len(rec) && rec[j] != "" {
				base[f] = rec[j]
			}
		}
		for j := range header {
			t, ok := wide[j]
			if !ok || j >= len(rec) {
				continue
			}
			amount, err := parseAmount(rec[j])
			if err != nil || !amount.IsPositive() {
				continue
			}
			fields := make(map[string]string, len(base)+2)
			for k, v := range base {
				fields[k] = v
			}
			fields["account_type"] = string(t)
			fields["opening_balance"] = amount.String()
			rows = append(rows, Row{Line: i + 2, Fields: fields})
		}
	}
	return rows
}

// parseAmount accepts thousands separators and a leading currency sign.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "₹")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "Rs."), "Rs")
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	return decimal.NewFromString(s)
}
