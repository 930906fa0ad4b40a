// Package sqlite implements the dialect.Capability primitives for SQLite,
// proving the planner is dialect-pluggable (spec.md §9 Open Question 5).
// SQLite has no schema-qualified tables, so schema is accepted and ignored;
// json_array replaces json_build_array (SQLite 3.38+, as linked by both
// github.com/mattn/go-sqlite3 and modernc.org/sqlite).
package sqlite

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect implements dialect.Capability for SQLite.
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
		`json_array(%s) AS %s`,
		qualifiedList(d, alias, pkCols),
		d.QuoteIdent("__identifiers"),
	)
}

func (d Dialect) TerminalProjection(alias, column, fieldName string) string {
	return fmt.Sprintf(`%s.%s AS %s`, alias, d.QuoteIdent(column), d.QuoteIdent(fieldName))
}

func (d Dialect) RootFrom(schema, table, alias string, pkCols []string) string {
	return fmt.Sprintf(
		`FROM (SELECT %s.* FROM %s AS %s ORDER BY %s) %s`,
		alias, d.QuoteIdent(table), alias, ascList(d, alias, pkCols), alias,
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
		`LEFT JOIN (SELECT %s.* FROM %s AS %s ORDER BY %s) %s ON %s`,
		alias, d.QuoteIdent(table), alias, ascList(d, alias, pkCols), alias,
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

// ValidateIntegerLiteral mirrors postgres.ValidateIntegerLiteral: SQLite
// INTEGER primary keys are likewise restricted to base-10 integer literals.
func ValidateIntegerLiteral(s string) (string, error) {
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		return "", fmt.Errorf("sqlite: argument %q is not an integer literal", s)
	}
	return s, nil
}

// ValidateIntegerLiteral implements dialect.Capability by delegating to the
// package-level function above.
func (Dialect) ValidateIntegerLiteral(s string) (string, error) {
	return ValidateIntegerLiteral(s)
}
