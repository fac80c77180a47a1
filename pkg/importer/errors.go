package importer

import (
	"fmt"
	"strings"

	"github.com/mcclellann/thriftLedger/pkg/store"
)

// IssueKind classifies a row problem. Validation and linkage issues exclude
// the row; warnings keep it.
type IssueKind string

const (
	IssueValidation IssueKind = "validation"
	IssueLinkage    IssueKind = "linkage"
	IssueWarning    IssueKind = "warning"
)

// RowError reports one problem on one input line.
type RowError struct {
	Line    int       `json:"line"`
	Kind    IssueKind `json:"kind"`
	Fields  []string  `json:"fields,omitempty"`
	Message string    `json:"message"`
}

func (e *RowError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("line %d (%s): %s", e.Line, strings.Join(e.Fields, ", "), e.Message)
}

// PersistenceError is a failed batch upsert for one entity kind. Kinds written
// before it in the same commit stay written.
type PersistenceError struct {
	Kind  store.Kind `json:"kind"`
	Count int        `json:"count"`
	Err   error      `json:"-"`
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to save %d %s (safe to retry): %v", e.Count, e.Kind, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
