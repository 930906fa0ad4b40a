// Package dialect defines the narrow, pluggable string-assembly primitives
// the planner needs to target a specific SQL engine (§4.D). It is
// deliberately NOT an AST builder — each method returns a fragment of SQL
// text that the planner concatenates; dialects differ only in quoting,
// schema-qualification, and the exact JSON-construction function names.
//
// The planner emits one flat statement: a derived table per selected level,
// LEFT JOINed to its parent on the foreign-key predicate, with one combined
// ORDER BY across every level's primary key driving row order outermost
// first. The decoder (internal/decoder) reconstructs nesting by watching for
// primary-key changes between consecutive rows — there is no per-field JSON
// aggregation inside the SQL itself.
package dialect

// Capability is the full surface a SQL dialect must implement for the
// planner to target it. Two dialects in this repo satisfy it:
// dialect/postgres (primary) and dialect/sqlite (proves pluggability, §9).
type Capability interface {
	// QuoteIdent double-quotes an identifier, escaping embedded quotes.
	QuoteIdent(name string) string

	// TableAlias returns the alias for local id k ("__local_k__").
	TableAlias(k int) string

	// IdentifiersProjection returns the per-level identifier projection:
	// `to_json(json_build_array(<alias>.<pk...>)) AS "__identifiers"`.
	IdentifiersProjection(alias string, pkCols []string) string

	// TerminalProjection returns a scalar projection of the raw column value
	// (not pre-formatted as JSON): `<alias>.<col> AS "<fieldName>"`. The
	// decoder (internal/decoder) does the type-code-driven JSON formatting,
	// so this stays identical across dialects with differing native types.
	TerminalProjection(alias, column, fieldName string) string

	// RootFrom returns the root level's FROM clause: a derived table
	// selecting every column of the target, ordered by its primary key,
	// aliased to alias.
	RootFrom(schema, table, alias string, pkCols []string) string

	// RootWhere returns the root singular query's predicate. literal is a
	// pre-validated integer.
	RootWhere(alias, pkCol, literal string) string

	// LeftJoin returns a LEFT JOIN of a nested level's derived table
	// (shaped identically to RootFrom) onto parentAlias, correlated on
	// fkCols (columns of the joined table) against parentCols (columns of
	// parentAlias). One side is the child's foreign-key columns and the
	// other the parent's referenced columns; which is which depends on the
	// traversal direction.
	LeftJoin(schema, table, alias string, pkCols, fkCols []string, parentAlias string, parentCols []string) string

	// OrderByFragment returns one level's contribution to the statement's
	// single combined ORDER BY: `<alias>.<pk> ASC, ...`.
	OrderByFragment(alias string, pkCols []string) string

	// FinalOrderBy joins every level's OrderByFragment, outermost first,
	// into the trailing `ORDER BY ...` clause.
	FinalOrderBy(fragments []string) string

	// ValidateIntegerLiteral rejects a singular query's PK argument unless it
	// is a plain base-10 integer, before it is concatenated into RootWhere's
	// literal (§4.C: "only integer literals are currently understood").
	ValidateIntegerLiteral(s string) (string, error)
}
