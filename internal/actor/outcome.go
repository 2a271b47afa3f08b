package actor

import "fmt"

// Kind enumerates the closed set of task outcomes.
type Kind int

const (
	KindSuccess Kind = iota
	KindDriverError
	KindHandleAbsent
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindDriverError:
		return "driver_error"
	case KindHandleAbsent:
		return "handle_absent"
	default:
		return "unknown"
	}
}

// Outcome is the result of a dispatched task: Success, DriverError or HandleAbsent.
// HandleAbsent means the resource was not ready; the task was never invoked.
type Outcome[R any] struct {
	kind  Kind
	value R
	err   error
}

// Success wraps a task result.
func Success[R any](value R) Outcome[R] {
	return Outcome[R]{kind: KindSuccess, value: value}
}

// DriverError wraps an (already adapted) driver failure.
func DriverError[R any](err error) Outcome[R] {
	return Outcome[R]{kind: KindDriverError, err: err}
}

// HandleAbsent reports that no resource handle was available.
func HandleAbsent[R any]() Outcome[R] {
	return Outcome[R]{kind: KindHandleAbsent}
}

// Kind returns the outcome variant.
func (o Outcome[R]) Kind() Kind { return o.kind }

// Value returns the task result; ok is false unless the outcome is Success.
func (o Outcome[R]) Value() (R, bool) {
	return o.value, o.kind == KindSuccess
}

// Err returns the driver error for DriverError outcomes and nil otherwise.
func (o Outcome[R]) Err() error {
	if o.kind != KindDriverError {
		return nil
	}
	return o.err
}

// Match calls exactly one of the callbacks depending on the variant.
func (o Outcome[R]) Match(success func(R), driverErr func(error), absent func()) {
	switch o.kind {
	case KindSuccess:
		success(o.value)
	case KindDriverError:
		driverErr(o.err)
	case KindHandleAbsent:
		absent()
	}
}

func (o Outcome[R]) String() string {
	switch o.kind {
	case KindSuccess:
		return fmt.Sprintf("Success(%v)", o.value)
	case KindDriverError:
		return fmt.Sprintf("DriverError(%v)", o.err)
	default:
		return o.kind.String()
	}
}
