// Package naming provides centralized naming logic for converting SQL schema
// names to GraphQL schema names: type names, column field names, and the
// field-name derivation grammar for foreign-key edges (§3).
package naming

import (
	"log/slog"
	"strings"
)

// Namer converts SQL identifiers to GraphQL names and enforces that the
// result is collision-free within its namespace (per type, and the root
// query namespace). A Namer is scoped to one schema build; call Reset (or
// construct a new one) before building a fresh graph.
type Namer struct {
	config   Config
	logger   *slog.Logger
	resolver *CollisionResolver
}

func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config:   cfg,
		logger:   logger,
		resolver: NewCollisionResolver(),
	}
}

func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// Reset clears collision-tracking state, allowing the namer to be reused
// for a new schema build.
func (n *Namer) Reset() {
	n.resolver = NewCollisionResolver()
}

// ToGraphQLTypeName converts a table name to GraphQL type (PascalCase).
// Example: "user_profiles" -> "UserProfiles"
func (n *Namer) ToGraphQLTypeName(tableName string) string {
	for name, override := range n.config.TypeOverrides {
		if strings.EqualFold(name, tableName) {
			return override
		}
	}
	return toPascalCase(tableName)
}

// ToGraphQLFieldName converts a column name to GraphQL field (camelCase).
// Example: "user_name" -> "userName"
func (n *Namer) ToGraphQLFieldName(columnName string) string {
	return toCamelCase(columnName)
}

// IncomingFieldName derives the field living on the child (FK-holding) type
// that resolves to the single parent row: the child's own table name,
// singularised, followed by "By" and the FK columns joined per the ByAnd
// grammar. Grounded on original_source/build_schema/mod.rs::gen_edge_field_name,
// with the pluralize/singularize assignment corrected to match the comment's
// stated intent (see DESIGN.md).
func (n *Namer) IncomingFieldName(childTable string, fkCols []string) string {
	base := n.Singularize(toCamelCase(childTable))
	return base + "By" + byAndSuffix(fkCols)
}

// OutgoingFieldName derives the field living on the parent type that
// resolves to the collection of children: the parent's own table name,
// pluralised, followed by "By" and the (child-side) FK columns.
func (n *Namer) OutgoingFieldName(parentTable string, fkCols []string) string {
	base := n.Pluralize(toCamelCase(parentTable))
	return base + "By" + byAndSuffix(fkCols)
}

// byAndSuffix joins FK column names in UpperCamel form with "And", per the
// `ByAnd(<Cols>)` grammar (§3). A single column produces no "And".
func byAndSuffix(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = toPascalCase(c)
	}
	return strings.Join(parts, "And")
}

// RegisterType registers a table's derived GraphQL type name, returning a
// CollisionError (fatal) or a reserved-word error if the name cannot be used.
func (n *Namer) RegisterType(tableName string) (string, error) {
	name := n.ToGraphQLTypeName(tableName)
	if isReservedTypeName(name) {
		return "", &CollisionError{Name: name, Existing: "reserved word", New: "table:" + tableName}
	}
	if err := n.resolver.RegisterType(name, "table:"+tableName); err != nil {
		return "", err
	}
	return name, nil
}

// RegisterColumnField registers a column's derived field name within a type.
func (n *Namer) RegisterColumnField(typeName, columnName string) (string, error) {
	name := n.ToGraphQLFieldName(columnName)
	if isReservedFieldName(name) {
		return "", &CollisionError{Name: name, Existing: "reserved word", New: "column:" + columnName}
	}
	if err := n.resolver.RegisterField(typeName, name, "column:"+columnName); err != nil {
		return "", err
	}
	return name, nil
}

// RegisterEdgeField registers an already-derived edge field name (from
// IncomingFieldName/OutgoingFieldName) within a type's namespace.
func (n *Namer) RegisterEdgeField(typeName, fieldName, source string) (string, error) {
	if isReservedFieldName(fieldName) {
		return "", &CollisionError{Name: fieldName, Existing: "reserved word", New: source}
	}
	if err := n.resolver.RegisterField(typeName, fieldName, source); err != nil {
		return "", err
	}
	return fieldName, nil
}

// RegisterQueryField registers a table's plural root query field name: the
// pluralised, camelCase table name, used as the entry point for the
// collection query (§4.B QueryEdgeInfo).
func (n *Namer) RegisterQueryField(tableName string) (string, error) {
	return n.registerQueryField(n.Pluralize(n.ToGraphQLFieldName(tableName)), tableName)
}

// RegisterSingularQueryField registers a table's singular root query field
// name (the entry point for the single-row-by-PK query).
func (n *Namer) RegisterSingularQueryField(tableName string) (string, error) {
	return n.registerQueryField(n.Singularize(n.ToGraphQLFieldName(tableName)), tableName)
}

func (n *Namer) registerQueryField(name, tableName string) (string, error) {
	if isReservedFieldName(name) {
		return "", &CollisionError{Name: name, Existing: "reserved word", New: "table:" + tableName}
	}
	if err := n.resolver.RegisterQuery(name, "table:"+tableName); err != nil {
		return "", err
	}
	return name, nil
}

// toPascalCase converts snake_case to PascalCase.
func toPascalCase(s string) string {
	parts := strings.Split(s, "_")
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, "")
}

// toCamelCase converts snake_case to camelCase.
func toCamelCase(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}
