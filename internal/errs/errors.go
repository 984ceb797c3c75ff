// Package errs classifies every failure the orchestrator can observe into
// the taxonomy named by the error-handling design: PreconditionFailed and
// StorageFailure propagate to callers, everything else is absorbed at a
// component boundary and replaced by a deterministic fallback.
package errs

import "fmt"

// Class is a failure classification.
type Class string

const (
	ClassPrecondition Class = "PreconditionFailed"
	ClassStageTransient Class = "StageTransient"
	ClassStageFatal   Class = "StageFatal"
	ClassChainTransient Class = "ChainTransient"
	ClassChainPermanent Class = "ChainPermanent"
	ClassPaymentRequired Class = "PaymentRequired"
	ClassStorageFailure Class = "StorageFailure"
	ClassCancelled    Class = "Cancelled"
)

// Error is a classified failure. Only errors whose Class is
// ClassPrecondition or ClassStorageFailure are expected to cross the
// Evaluate() boundary; everything else is caught and logged by the
// component that produced it.
type Error struct {
	Class Class
	Op    string // component/operation that raised it
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Class, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Class, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(class Class, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

func Precondition(op string, err error) *Error {
	return New(ClassPrecondition, op, err)
}

func StorageFailure(op string, err error) *Error {
	return New(ClassStorageFailure, op, err)
}

func StageTransient(op string, err error) *Error {
	return New(ClassStageTransient, op, err)
}

func StageFatal(op string, err error) *Error {
	return New(ClassStageFatal, op, err)
}

func ChainTransient(op string, err error) *Error {
	return New(ClassChainTransient, op, err)
}

func ChainPermanent(op string, err error) *Error {
	return New(ClassChainPermanent, op, err)
}

func PaymentRequired(op string, err error) *Error {
	return New(ClassPaymentRequired, op, err)
}

func Cancelled(op string, err error) *Error {
	return New(ClassCancelled, op, err)
}

// Is reports whether err is an *Error with the given class.
func Is(err error, class Class) bool {
	e, ok := err.(*Error)
	return ok && e.Class == class
}
