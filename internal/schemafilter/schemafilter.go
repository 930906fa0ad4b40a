// Package schemafilter applies allow/deny name filters to introspection
// output before the schema graph is built, so operators can exclude
// internal/migration tables and sensitive columns from the exposed graph.
package schemafilter

import (
	"path"
	"slices"
	"strings"

	"github.com/relgql/relgql/internal/introspection"
)

// Config controls allow/deny filters for tables and columns. Patterns are
// shell globs (path.Match) matched case-insensitively; deny always wins over
// allow, and an empty allow list means allow-all.
type Config struct {
	AllowTables  []string            `mapstructure:"allow_tables"`
	DenyTables   []string            `mapstructure:"deny_tables"`
	AllowColumns map[string][]string `mapstructure:"allow_columns"`
	DenyColumns  map[string][]string `mapstructure:"deny_columns"`
}

// Apply removes classes, attributes and constraints excluded by cfg, in
// place. Missing allow lists default to allow-all; deny rules always win.
func Apply(out *introspection.Output, cfg Config) {
	if out == nil {
		return
	}

	keptClasses := make(map[uint32]bool, len(out.ClassMap))
	for oid, class := range out.ClassMap {
		if !tableAllowed(class.Name, cfg.AllowTables, cfg.DenyTables) {
			delete(out.ClassMap, oid)
			continue
		}
		keptClasses[oid] = true
	}

	for key, attr := range out.AttributeMap {
		class, ok := out.ClassMap[key.ClassOID]
		if !ok {
			delete(out.AttributeMap, key)
			continue
		}
		if !columnAllowed(class.Name, attr.Name, cfg.AllowColumns, cfg.DenyColumns) {
			delete(out.AttributeMap, key)
		}
	}

	for oid, con := range out.ConstraintMap {
		if !keptClasses[con.ClassOID] {
			delete(out.ConstraintMap, oid)
			continue
		}
		if con.IsForeignKey && !keptClasses[con.ForeignClassOID] {
			delete(out.ConstraintMap, oid)
			continue
		}
		if !attrsPresent(out, con.ClassOID, con.KeyAttNums) {
			delete(out.ConstraintMap, oid)
			continue
		}
		if con.IsForeignKey && !attrsPresent(out, con.ForeignClassOID, con.ForeignKeyAttNums) {
			delete(out.ConstraintMap, oid)
		}
	}
}

func attrsPresent(out *introspection.Output, classOID uint32, attNums []int16) bool {
	for _, num := range attNums {
		if _, ok := out.AttributeMap[introspection.AttributeKey{ClassOID: classOID, AttNum: num}]; !ok {
			return false
		}
	}
	return true
}

func tableAllowed(table string, allow, deny []string) bool {
	if matchesAny(table, deny) {
		return false
	}
	if len(allow) == 0 {
		return true
	}
	return matchesAny(table, allow)
}

func columnAllowed(table, column string, allow, deny map[string][]string) bool {
	if matchesAny(column, mergePatterns(deny, table)) {
		return false
	}
	allowPatterns := mergePatterns(allow, table)
	if len(allowPatterns) == 0 {
		return true
	}
	return matchesAny(column, allowPatterns)
}

func mergePatterns(patterns map[string][]string, table string) []string {
	if patterns == nil {
		return nil
	}
	combined := append([]string{}, patterns["*"]...)
	combined = append(combined, patterns[table]...)
	return slices.Compact(combined)
}

func matchesAny(value string, patterns []string) bool {
	value = strings.ToLower(value)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		ok, err := path.Match(strings.ToLower(pattern), value)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
