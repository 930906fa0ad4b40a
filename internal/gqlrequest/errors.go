package gqlrequest

import "fmt"

// ParseError wraps a GQL syntax error from the underlying parser.
type ParseError struct {
	Cause error
}

func (e *ParseError) Error() string { return "gqlrequest: parse error: " + e.Cause.Error() }
func (e *ParseError) Unwrap() error { return e.Cause }

// UnsupportedOperation reports a request shape this engine does not support:
// mutations, subscriptions, fragments, or multiple operations without a
// resolving operationName (§1 Non-goals: "full query-language feature parity
// ... fragments, subscriptions, variables beyond scalar arguments, aliases").
type UnsupportedOperation struct {
	Reason string
}

func (e *UnsupportedOperation) Error() string { return "gqlrequest: unsupported operation: " + e.Reason }

func unsupported(format string, args ...any) error {
	return &UnsupportedOperation{Reason: fmt.Sprintf(format, args...)}
}
