package app

import (
	"fmt"
	"strings"

	"dupefind/internal/dupe"
)

// RunOperation tracks one CLI invocation. Operations are created in memory
// with ID=0; only actions that touch the filesystem or the vault persist
// them to the run history.
type RunOperation struct {
	ID         int64
	RunID      string
	Operation  string
	Parameters string
	Status     string
	Summary    string
}

// NewRunOperation creates a new in-memory operation that has succeeded
// until Fail is called.
func NewRunOperation(runID, operation string, params ...string) *RunOperation {
	return &RunOperation{
		RunID:      runID,
		Operation:  operation,
		Parameters: strings.Join(params, " "),
		Status:     dupe.StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the history.
func (op *RunOperation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed with err as its summary.
func (op *RunOperation) Fail(err error) {
	op.Status = dupe.StatusError
	op.Summary = err.Error()
}

// Summarize sets the summary of a successful operation.
func (op *RunOperation) Summarize(format string, args ...any) {
	if op.Status == dupe.StatusError {
		return
	}
	op.Summary = fmt.Sprintf(format, args...)
}
