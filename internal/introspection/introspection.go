// Package introspection discovers PostgreSQL catalog metadata — types, classes
// (tables/views), attributes (columns), and constraints — via two queries
// against pg_catalog: classes with their attributes and types, then
// constraints. They run as separate round trips, not as one combined query.
// The schema graph builder (internal/schema) consumes the four maps this
// package returns.
package introspection

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TypeInfo is an entry in the type-oid -> {name} map (§4.A).
type TypeInfo struct {
	OID  uint32
	Name string
}

// ClassInfo is an entry in the class-oid -> {id, name, ...} map. Only
// relations with relkind 'r' (ordinary table) or 'v' (view) are returned.
type ClassInfo struct {
	OID  uint32
	Name string
}

// AttributeKey identifies a column by its owning class and ordinal position.
type AttributeKey struct {
	ClassOID uint32
	AttNum   int16
}

// AttributeInfo is the value side of the (class-oid, attnum) -> attribute map.
type AttributeInfo struct {
	Name       string
	TypeOID    uint32
	TypeName   string
	IsNotNull  bool
	IsUnique   bool
	Ordinal    int16
}

// ConstraintInfo is an entry in the constraint-id map: either a primary key
// (ForeignClassOID == 0) or a foreign key.
type ConstraintInfo struct {
	OID                   uint32
	ClassOID              uint32
	ForeignClassOID       uint32 // 0 when this is not a foreign key
	IsForeignKey          bool
	KeyAttNums            []int16
	ForeignKeyAttNums     []int16
}

// Output is the introspector's full result (§4.A): the four relational maps.
type Output struct {
	TypeMap       map[uint32]TypeInfo
	ClassMap      map[uint32]ClassInfo
	AttributeMap  map[AttributeKey]AttributeInfo
	ConstraintMap map[uint32]ConstraintInfo
}

// Querier is the minimal surface introspection needs from *sql.DB (or a pool),
// kept narrow so tests can substitute sqlmock.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Introspect runs the two catalog queries against the given schema
// (typically "public") and assembles the four maps. A connection/IO failure
// or a row that is missing an expected field is fatal — per §4.A, the
// introspector does not attempt partial recovery.
func Introspect(ctx context.Context, db Querier, schemaName string) (*Output, error) {
	ctx, span := startSpan(ctx, "introspection.Introspect", attribute.String("schema", schemaName))
	defer span.End()

	out := &Output{
		TypeMap:       make(map[uint32]TypeInfo),
		ClassMap:      make(map[uint32]ClassInfo),
		AttributeMap:  make(map[AttributeKey]AttributeInfo),
		ConstraintMap: make(map[uint32]ConstraintInfo),
	}

	if err := introspectClassesAndAttributes(ctx, db, schemaName, out); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if err := introspectConstraints(ctx, db, schemaName, out); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return out, nil
}

// classAttributeQuery joins pg_class/pg_namespace/pg_attribute/pg_type into
// one round trip: every ordinary column of every table/view in the schema,
// along with its type name and not-null flag.
const classAttributeQuery = `
SELECT
	c.oid         AS class_oid,
	c.relname     AS class_name,
	a.attnum      AS att_num,
	a.attname     AS att_name,
	t.oid         AS type_oid,
	t.typname     AS type_name,
	a.attnotnull  AS not_null
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
JOIN pg_catalog.pg_attribute a ON a.attrelid = c.oid
JOIN pg_catalog.pg_type t ON t.oid = a.atttypid
WHERE n.nspname = $1
  AND c.relkind IN ('r', 'v')
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY c.oid, a.attnum
`

func introspectClassesAndAttributes(ctx context.Context, db Querier, schemaName string, out *Output) error {
	rows, err := db.QueryContext(ctx, classAttributeQuery, schemaName)
	if err != nil {
		return fmt.Errorf("introspection: class/attribute query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			classOID, typeOID uint32
			className, typeName, attName string
			attNum int16
			notNull bool
		)
		if err := rows.Scan(&classOID, &className, &attNum, &attName, &typeOID, &typeName, &notNull); err != nil {
			return fmt.Errorf("introspection: scan class/attribute row: %w", err)
		}
		out.ClassMap[classOID] = ClassInfo{OID: classOID, Name: className}
		out.TypeMap[typeOID] = TypeInfo{OID: typeOID, Name: typeName}
		out.AttributeMap[AttributeKey{ClassOID: classOID, AttNum: attNum}] = AttributeInfo{
			Name:      attName,
			TypeOID:   typeOID,
			TypeName:  typeName,
			IsNotNull: notNull,
			Ordinal:   attNum,
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("introspection: iterate class/attribute rows: %w", err)
	}
	return nil
}

// constraintQuery returns primary keys (contype='p') and foreign keys
// (contype='f') for relations in the schema. conkey/confkey are Postgres int2
// arrays giving the attnums that form the constraint.
const constraintQuery = `
SELECT
	con.oid          AS con_oid,
	con.contype       AS con_type,
	con.conrelid      AS class_oid,
	con.confrelid     AS foreign_class_oid,
	con.conkey        AS key_attnums,
	con.confkey       AS foreign_key_attnums
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1
  AND con.contype IN ('p', 'f')
`

func introspectConstraints(ctx context.Context, db Querier, schemaName string, out *Output) error {
	rows, err := db.QueryContext(ctx, constraintQuery, schemaName)
	if err != nil {
		return fmt.Errorf("introspection: constraint query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			oid, classOID       uint32
			foreignClassOID     sql.NullInt64
			conType             string
			keyAttNums          pgInt2Array
			foreignKeyAttNums   pgInt2Array
		)
		if err := rows.Scan(&oid, &conType, &classOID, &foreignClassOID, &keyAttNums, &foreignKeyAttNums); err != nil {
			return fmt.Errorf("introspection: scan constraint row: %w", err)
		}
		ci := ConstraintInfo{
			OID:        oid,
			ClassOID:   classOID,
			KeyAttNums: []int16(keyAttNums),
		}
		if conType == "f" {
			ci.IsForeignKey = true
			if foreignClassOID.Valid {
				ci.ForeignClassOID = uint32(foreignClassOID.Int64)
			}
			ci.ForeignKeyAttNums = []int16(foreignKeyAttNums)
		}
		out.ConstraintMap[oid] = ci
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("introspection: iterate constraint rows: %w", err)
	}
	return nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("relgql/introspection")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
