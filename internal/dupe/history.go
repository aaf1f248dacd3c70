package dupe

import (
	"fmt"
	"time"
)

// Operation statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation is one recorded CLI invocation.
type Operation struct {
	ID         int64
	RunID      string
	Operation  string
	Parameters string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Summary    string
}

// CopyRecord is a persisted CopyResult.
type CopyRecord struct {
	OperationID int64
	Source      string
	Destination string
	Collision   bool
	Bytes       int64
	DryRun      bool
	Error       string // empty on success
	RecordedAt  time.Time
}

// History stores operations and the per-file outcome of replication runs.
type History interface {
	// CreateOperation persists op and assigns its ID.
	CreateOperation(op *Operation) error

	// FinishOperation records the final status of an operation.
	FinishOperation(id int64, status, summary string, finishedAt time.Time) error

	// RecordCopyResult appends one copy outcome to an operation.
	RecordCopyResult(operationID int64, result CopyResult, recordedAt time.Time) error

	// ListOperations returns the most recent operations, newest first.
	ListOperations(limit int) ([]*Operation, error)

	// ListCopyResults returns the copy outcomes of an operation in the order
	// they were recorded.
	ListCopyResults(operationID int64) ([]*CopyRecord, error)

	Close() error
}

// historyRecorder adapts History to the CopyRecorder a Replicator reports to.
type historyRecorder struct {
	history     History
	operationID int64
	clock       Clock
}

func (h *historyRecorder) RecordCopy(result CopyResult) error {
	if err := h.history.RecordCopyResult(h.operationID, result, h.clock.Now()); err != nil {
		return fmt.Errorf("recording copy result: %w", err)
	}
	return nil
}
