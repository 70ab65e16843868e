package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrExtractionFailed means the statement text could not be obtained.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrServiceUnavailable means the circuit breaker rejected the call.
	ErrServiceUnavailable = errors.New("extraction service unavailable")
	// ErrNoTransactionsFound means the pipeline ran clean and found nothing.
	ErrNoTransactionsFound = errors.New("no transactions found")
	// ErrPartialCommitFailure means some rows were rejected at commit.
	ErrPartialCommitFailure = errors.New("partial commit failure")
	// ErrTimeout means the wall-clock budget for a job was exceeded.
	ErrTimeout = errors.New("import timed out")

	ErrNotFound             = errors.New("not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrAlreadyProcessing    = errors.New("import already processing")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrInvalidCandidate     = errors.New("invalid candidate")
	// ErrTransactionExists means the row id is already stored, by an
	// earlier attempt of the same commit.
	ErrTransactionExists = errors.New("transaction already stored")
)

// StageError records which pipeline stage produced an error.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// TransitionError is returned when a status change is not allowed.
type TransitionError struct {
	From ImportStatus
	To   ImportStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move import from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
