// internal/errs/errs.go
package errs

import (
	"errors"
	"fmt"
)

// ValidationError indicates a malformed request: bad criteria shape, unknown
// operator, invalid transaction type. Nothing has been written when one is
// returned.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError indicates the referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InsufficientBalanceError indicates a redemption that would drive a points
// balance negative.
type InsufficientBalanceError struct {
	Balance   int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d, requested %d", e.Balance, e.Requested)
}

// ConflictError indicates a version mismatch or a concurrent writer won.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// DependencyError wraps a failed data-store or downstream-service call.
// No retries happen below this point; the caller decides.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *DependencyError) Unwrap() error { return e.Err }

// Dependency wraps err as a DependencyError unless it already carries one of
// the taxonomy types, which pass through untouched.
func Dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve *ValidationError
		nf *NotFoundError
		ib *InsufficientBalanceError
		ce *ConflictError
		de *DependencyError
	)
	if errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &ib) || errors.As(err, &ce) || errors.As(err, &de) {
		return err
	}
	return &DependencyError{Op: op, Err: err}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsInsufficientBalance reports whether err is (or wraps) an InsufficientBalanceError.
func IsInsufficientBalance(err error) bool {
	var ib *InsufficientBalanceError
	return errors.As(err, &ib)
}
