package planner

import "fmt"

// PlanError reports a request the planner cannot turn into SQL: an unknown
// root field, an unknown field on a resolved type, or a missing/mistyped
// primary-key argument on a singular root query (§4.C).
type PlanError struct {
	Field string
	Msg   string
}

func (e *PlanError) Error() string {
	if e.Field == "" {
		return "planner: " + e.Msg
	}
	return fmt.Sprintf("planner: field %q: %s", e.Field, e.Msg)
}

func unknownRootField(name string) error {
	return &PlanError{Field: name, Msg: "unknown root query field"}
}

func unknownField(typeName, name string) error {
	return &PlanError{Field: name, Msg: fmt.Sprintf("unknown field on type %q", typeName)}
}

func missingArgument(name string) error {
	return &PlanError{Field: name, Msg: "missing primary key argument for singular query"}
}

func badArgument(name string, cause error) error {
	return &PlanError{Field: name, Msg: fmt.Sprintf("invalid argument: %v", cause)}
}

func compositePKNotSupportedAsArg(name string) error {
	return &PlanError{Field: name, Msg: "singular queries by composite primary key are not supported"}
}
