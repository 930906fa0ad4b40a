package dbexec

import "fmt"

// DriverError reports a failure from the underlying database driver: a
// connection failure, a query execution error, cancellation, or a timeout
// (§7). It is never retried by this package — retry policy belongs to the
// caller.
type DriverError struct {
	Op    string
	Cause error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("dbexec: %s: %v", e.Op, e.Cause)
}

func (e *DriverError) Unwrap() error { return e.Cause }

func wrapDriverError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &DriverError{Op: op, Cause: cause}
}
