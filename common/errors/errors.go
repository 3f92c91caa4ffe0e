// Package errors defines the error taxonomy shared by the simulation engine.
//
// ValidationError is fatal and surfaced before any simulation starts.
// RiskRejection and TradingHalt are expected control-flow outcomes of the
// risk gate and never abort a run. DataGapError is strategy-local and treated
// as a no-op signal. WorkerFailure wraps anything raised inside a
// walk-forward worker.
package errors

import (
	"errors"
	"fmt"
)

// ValidationError reports invalid input (bad date range, empty symbol list,
// non-positive quantity or capital). Fatal before the run starts.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Detail)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Detail)
}

// NewValidation builds a ValidationError for a named field.
func NewValidation(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Detail: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RiskRejection is an expected, non-fatal rejection of a single order.
// The signal is dropped and the run continues.
type RiskRejection struct {
	Reason string
}

func (e *RiskRejection) Error() string {
	return fmt.Sprintf("risk rejected: %s", e.Reason)
}

// TradingHalt signals a session-scoped halt from a circuit breaker or loss
// limit. Remaining signals for the current event are skipped; the event loop
// continues so the equity curve stays complete.
type TradingHalt struct {
	Reason string
}

func (e *TradingHalt) Error() string {
	return fmt.Sprintf("trading halted: %s", e.Reason)
}

// DataGapError reports that a symbol lacks the prior bars needed for an
// indicator computation. The affected signal is treated as a no-op; the
// event loop must not crash.
type DataGapError struct {
	Symbol string
	Need   int
	Have   int
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap: %s needs %d bars, have %d", e.Symbol, e.Need, e.Have)
}

// IsDataGap reports whether err is or wraps a DataGapError.
func IsDataGap(err error) bool {
	var dg *DataGapError
	return errors.As(err, &dg)
}

// WorkerFailure wraps an error or recovered panic from a walk-forward worker.
// Caught at the pool boundary and converted into a zero-performance sentinel
// so the overall search always terminates.
type WorkerFailure struct {
	Params map[string]float64
	Err    error
}

func (e *WorkerFailure) Error() string {
	return fmt.Sprintf("walk-forward worker failed for params %v: %v", e.Params, e.Err)
}

func (e *WorkerFailure) Unwrap() error { return e.Err }

// Is, As and Wrapf re-export stdlib behavior so callers need a single errors
// import.

func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }

func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
