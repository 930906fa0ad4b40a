package decoder

import "fmt"

// DecodeError reports a plan/row shape mismatch: a column count or offset
// that doesn't line up with the rows actually scanned. It indicates a
// planner bug, not a caller error (§7) — fatal to the one request, never to
// the process.
type DecodeError struct {
	Msg string
}

func (e *DecodeError) Error() string {
	return "decoder: " + e.Msg
}

func decodeErrorf(format string, args ...any) error {
	return &DecodeError{Msg: fmt.Sprintf(format, args...)}
}
