// Package sqltype provides the fixed SQL-type-to-type-code mapping used by the
// planner to annotate projections and by the decoder to format scalar values.
package sqltype

import "strings"

// Code is an integer index into the fixed type table (§3). Non-null codes occupy
// 0..NullBase-1; a nullable column's code is the non-null code plus NullBase, which
// keeps value formatting down to a single integer comparison.
type Code int

const (
	Int Code = iota
	Str
	Float
	Timestamp
	TimestampTZ
	Boolean
	JSON
)

// NullBase is the cardinality of the non-null codes. A nullable column's code is
// code + NullBase.
const NullBase = 7

// Nullable returns the nullable variant of a non-null code.
func Nullable(c Code) Code {
	return c + NullBase
}

// IsNullable reports whether a code is the nullable variant of a base code.
func (c Code) IsNullable() bool {
	return c >= NullBase
}

// Base strips the nullable offset, returning the underlying non-null code.
func (c Code) Base() Code {
	if c.IsNullable() {
		return c - NullBase
	}
	return c
}

// ignorableSQLTypes are never surfaced as real data — §3 says unknown types in this
// set are silently ignored rather than rejected at schema-build time.
var ignorableSQLTypes = map[string]struct{}{
	"_text":    {},
	"tsvector": {},
}

// FromSQLType maps a Postgres type name (as reported by pg_type.typname) to a type
// code. ok is false for a genuinely unhandled type — the caller must then decide
// whether the column is ignorable (see Ignorable) or a fatal SchemaError.
func FromSQLType(sqlType string, notNull bool) (code Code, ok bool) {
	base, ok := baseCode(strings.ToLower(sqlType))
	if !ok {
		return 0, false
	}
	if !notNull {
		base = Nullable(base)
	}
	return base, true
}

func baseCode(name string) (Code, bool) {
	switch name {
	case "int4", "int2", "smallint", "bigint", "int8", "int", "integer":
		return Int, true
	case "text", "varchar", "character varying", "bpchar", "character":
		return Str, true
	case "float8", "float4", "double precision", "numeric", "decimal", "real":
		return Float, true
	case "timestamp", "timestamp without time zone":
		return Timestamp, true
	case "timestamptz", "timestamp with time zone":
		return TimestampTZ, true
	case "bool", "boolean":
		return Boolean, true
	case "json", "jsonb":
		return JSON, true
	default:
		return 0, false
	}
}

// Ignorable reports whether an unhandled SQL type is one of the policy-ignored types
// (§3: "Unknown SQL types that are ignorable ... map to INT-ignored").
func Ignorable(sqlType string) bool {
	_, ok := ignorableSQLTypes[strings.ToLower(sqlType)]
	return ok
}

// String returns a short diagnostic name for the code, used in error messages.
func (c Code) String() string {
	names := [...]string{"INT", "STR", "FLOAT", "TIMESTAMP", "TIMESTAMPTZ", "BOOLEAN", "JSON"}
	base := c.Base()
	if int(base) < 0 || int(base) >= len(names) {
		return "UNKNOWN"
	}
	if c.IsNullable() {
		return "NULLABLE_" + names[base]
	}
	return names[base]
}
