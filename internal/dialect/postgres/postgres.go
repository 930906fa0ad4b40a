// Package postgres implements the dialect.Capability primitives for
// PostgreSQL: `to_json`/`json_build_array`, double-quoted identifiers,
// `"schema"."table"` qualification. Grounded on the literal SQL tokens in
// original_source/handle_query/mod.rs::build_query/build_selection, extended
// from a single-table prototype to the flat multi-level LEFT JOIN shape the
// decoder (§4.E) requires.
package postgres

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect implements dialect.Capability for PostgreSQL.
type Dialect struct{}

func New() Dialect { return Dialect{} }

func (Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (Dialect) TableAlias(k int) string {
	return fmt.Sprintf("__local_%d__", k)
}

func (d Dialect) IdentifiersProjection(alias string, pkCols []string) string {
	return fmt.Sprintf(
		`to_json(json_build_array(%s)) AS %s`,
		qualifiedList(d, alias, pkCols),
		d.QuoteIdent("__identifiers"),
	)
}

func (d Dialect) TerminalProjection(alias, column, fieldName string) string {
	return fmt.Sprintf(`%s.%s AS %s`, alias, d.QuoteIdent(column), d.QuoteIdent(fieldName))
}

func (d Dialect) RootFrom(schema, table, alias string, pkCols []string) string {
	return fmt.Sprintf(
		`FROM (SELECT %s.* FROM %s.%s AS %s ORDER BY %s) %s`,
		alias, d.QuoteIdent(schema), d.QuoteIdent(table), alias,
		ascList(d, alias, pkCols), alias,
	)
}

func (d Dialect) RootWhere(alias, pkCol, literal string) string {
	return fmt.Sprintf(`WHERE %s.%s = %s`, alias, d.QuoteIdent(pkCol), literal)
}

func (d Dialect) LeftJoin(schema, table, alias string, pkCols, fkCols []string, parentAlias string, parentCols []string) string {
	var predicate []string
	for i := range fkCols {
		predicate = append(predicate, fmt.Sprintf(
			"%s.%s = %s.%s",
			alias, d.QuoteIdent(fkCols[i]),
			parentAlias, d.QuoteIdent(parentCols[i]),
		))
	}
	return fmt.Sprintf(
		`LEFT JOIN (SELECT %s.* FROM %s.%s AS %s ORDER BY %s) %s ON %s`,
		alias, d.QuoteIdent(schema), d.QuoteIdent(table), alias,
		ascList(d, alias, pkCols), alias,
		strings.Join(predicate, " AND "),
	)
}

func (d Dialect) OrderByFragment(alias string, pkCols []string) string {
	return ascList(d, alias, pkCols)
}

func (Dialect) FinalOrderBy(fragments []string) string {
	return "ORDER BY " + strings.Join(fragments, ", ")
}

func ascList(d Dialect, alias string, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s.%s ASC", alias, d.QuoteIdent(c))
	}
	return strings.Join(parts, ", ")
}

func qualifiedList(d Dialect, alias string, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s.%s", alias, d.QuoteIdent(c))
	}
	return strings.Join(parts, ", ")
}

// ValidateIntegerLiteral rejects anything but a plain base-10 integer, per
// spec.md §4.C: "only integer literals are currently understood; non-integer
// arguments produce an error."
func ValidateIntegerLiteral(s string) (string, error) {
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		return "", fmt.Errorf("postgres: argument %q is not an integer literal", s)
	}
	return s, nil
}

// ValidateIntegerLiteral implements dialect.Capability by delegating to the
// package-level function above, so the planner can validate a singular
// query's PK argument without type-switching on the concrete dialect.
func (Dialect) ValidateIntegerLiteral(s string) (string, error) {
	return ValidateIntegerLiteral(s)
}
