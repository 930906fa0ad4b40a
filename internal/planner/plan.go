// Package planner turns a parsed GQL query (internal/gqlrequest) into one
// flat SQL statement against the schema graph (internal/schema), plus the
// plan metadata the decoder (internal/decoder) needs to reconstruct nested
// JSON from the flat row stream (§4.C). No teacher analogue: the teacher
// walks a graphql-go resolver tree issuing one query per field; this planner
// assembles a single statement up front and never touches the database
// itself.
package planner

import (
	"fmt"
	"strings"

	"github.com/graphql-go/graphql/language/ast"

	"github.com/relgql/relgql/internal/dialect"
	"github.com/relgql/relgql/internal/gqlrequest"
	"github.com/relgql/relgql/internal/schema"
	"github.com/relgql/relgql/internal/sqltype"
)

// TableQueryInfo is one level's decode metadata (§4.C/§4.E).
type TableQueryInfo struct {
	GraphQLFields []string      // ordered scalar field names at this level
	FieldCodes    []sqltype.Code // type code per GraphQLFields entry, same order
	ParentKeyName string        // JSON key this level nests under in its parent (root entry: the root field name)
	ColumnOffset  int           // 0-based column where this level's scalars begin
	IsMany        bool          // list vs singular: root's query shape, or a descended edge's cardinality
}

// Plan is the output of BuildRoot: the SQL text to execute and the metadata
// the decoder walks alongside the resulting rows.
type Plan struct {
	SQL    string
	Levels []TableQueryInfo
}

// Planner assembles SQL against one immutable schema graph and dialect.
// Reentrant: BuildRoot has no mutable state outside its own call stack, so
// the same Planner may be shared across concurrent requests (§5).
type Planner struct {
	graph    *schema.Graph
	dialect  dialect.Capability
	schema   string
}

func New(g *schema.Graph, d dialect.Capability, schemaName string) *Planner {
	return &Planner{graph: g, dialect: d, schema: schemaName}
}

// BuildRoot parses queryText, resolves its single root field against the
// schema graph, and emits SQL plus plan metadata, or a *gqlrequest.ParseError
// / *gqlrequest.UnsupportedOperation / *PlanError.
func (p *Planner) BuildRoot(queryText, operationName string) (*Plan, error) {
	q, err := gqlrequest.Parse(queryText, operationName)
	if err != nil {
		return nil, err
	}

	selections := q.Operation.SelectionSet.Selections
	var rootField *ast.Field
	for _, sel := range selections {
		f, ok := sel.(*ast.Field)
		if !ok {
			return nil, &PlanError{Msg: "only plain field selections are supported at the root"}
		}
		if rootField != nil {
			return nil, &PlanError{Msg: "exactly one root field is supported per request"}
		}
		rootField = f
	}
	if rootField == nil {
		return nil, &PlanError{Msg: "request selects no root field"}
	}

	rootName := rootField.Name.Value
	queryInfo, ok := p.graph.Root[rootName]
	if !ok {
		return nil, unknownRootField(rootName)
	}
	node := p.graph.Nodes[queryInfo.NodeIndex]

	b := &builder{graph: p.graph, dialect: p.dialect, schema: p.schema}
	alias := p.dialect.TableAlias(0)

	if queryInfo.IsMany {
		b.from = p.dialect.RootFrom(p.schema, node.TableName, alias, node.PrimaryKeys)
	} else {
		literal, err := singularArgument(rootField, node)
		if err != nil {
			return nil, err
		}
		literal, err = p.dialect.ValidateIntegerLiteral(literal)
		if err != nil {
			return nil, badArgument(rootField.Name.Value, err)
		}
		b.from = p.dialect.RootFrom(p.schema, node.TableName, alias, node.PrimaryKeys) + " " + p.dialect.RootWhere(alias, node.PrimaryKeys[0], literal)
	}
	b.orderFrags = append(b.orderFrags, p.dialect.OrderByFragment(alias, node.PrimaryKeys))

	if err := b.visit(queryInfo.NodeIndex, alias, rootField.SelectionSet.Selections, rootName, queryInfo.IsMany); err != nil {
		return nil, err
	}

	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(strings.Join(b.projections, ", "))
	sql.WriteString(" ")
	sql.WriteString(b.from)
	for _, j := range b.joins {
		sql.WriteString(" ")
		sql.WriteString(j)
	}
	sql.WriteString(" ")
	sql.WriteString(p.dialect.FinalOrderBy(b.orderFrags))

	return &Plan{SQL: sql.String(), Levels: b.levels}, nil
}

func singularArgument(field *ast.Field, node schema.GraphQLType) (string, error) {
	if len(node.PrimaryKeys) != 1 {
		return "", compositePKNotSupportedAsArg(field.Name.Value)
	}
	pkCol := node.PrimaryKeys[0]
	argName := fieldNameForColumn(node, pkCol)

	for _, arg := range field.Arguments {
		if arg.Name == nil || arg.Name.Value != argName {
			continue
		}
		intVal, ok := arg.Value.(*ast.IntValue)
		if !ok {
			return "", badArgument(argName, fmt.Errorf("only integer literal arguments are supported"))
		}
		return intVal.Value, nil
	}
	return "", missingArgument(argName)
}

func fieldNameForColumn(node schema.GraphQLType, column string) string {
	for name, tf := range node.TerminalFields {
		if tf.Column == column {
			return name
		}
	}
	return column
}

// builder accumulates one statement's projections, joins, order fragments,
// and plan levels as visit descends the selection tree.
type builder struct {
	graph   *schema.Graph
	dialect dialect.Capability
	schema  string
	nextID  int

	from        string
	projections []string
	joins       []string
	orderFrags  []string
	levels      []TableQueryInfo
}

// visit emits one level's identifiers + scalar projections, records its plan
// entry, then descends into at most one relationship field (§4.C traversal
// rules; see DESIGN.md for why branching is rejected).
func (b *builder) visit(nodeIndex int, alias string, selections []ast.Selection, parentKeyName string, isMany bool) error {
	node := b.graph.Nodes[nodeIndex]

	var scalarFields []*ast.Field
	var edgeFields []*ast.Field
	for _, sel := range selections {
		f, ok := sel.(*ast.Field)
		if !ok {
			return &PlanError{Msg: "only plain field selections are supported"}
		}
		name := f.Name.Value
		if _, isScalar := node.TerminalFields[name]; isScalar {
			scalarFields = append(scalarFields, f)
			continue
		}
		if _, isEdge := b.graph.LookupEdgeField(nodeIndex, name); isEdge {
			edgeFields = append(edgeFields, f)
			continue
		}
		return unknownField(node.GraphQLName, name)
	}
	if len(edgeFields) > 1 {
		return &PlanError{Msg: "at most one relationship field may be selected per scope"}
	}

	b.projections = append(b.projections, b.dialect.IdentifiersProjection(alias, node.PrimaryKeys))
	columnOffset := len(b.projections)

	graphqlFields := make([]string, 0, len(scalarFields))
	fieldCodes := make([]sqltype.Code, 0, len(scalarFields))
	for _, f := range scalarFields {
		name := f.Name.Value
		tf := node.TerminalFields[name]
		b.projections = append(b.projections, b.dialect.TerminalProjection(alias, tf.Column, name))
		graphqlFields = append(graphqlFields, name)
		fieldCodes = append(fieldCodes, tf.Code)
	}

	b.levels = append(b.levels, TableQueryInfo{
		GraphQLFields: graphqlFields,
		FieldCodes:    fieldCodes,
		ParentKeyName: parentKeyName,
		ColumnOffset:  columnOffset,
		IsMany:        isMany,
	})

	if len(edgeFields) == 0 {
		return nil
	}

	edgeField := edgeFields[0]
	fieldEdge, _ := b.graph.LookupEdgeField(nodeIndex, edgeField.Name.Value)
	edge := fieldEdge.Edge

	var targetIdx int
	var fkCols, parentCols []string
	childIsMany := fieldEdge.IsOutgoing
	if fieldEdge.IsOutgoing {
		targetIdx = edge.ChildNode
		fkCols = edge.IncomingNodeCols
		parentCols = edge.OutgoingNodeCols
	} else {
		targetIdx = edge.ParentNode
		fkCols = edge.OutgoingNodeCols
		parentCols = edge.IncomingNodeCols
	}
	target := b.graph.Nodes[targetIdx]

	b.nextID++
	targetAlias := b.dialect.TableAlias(b.nextID)
	b.joins = append(b.joins, b.dialect.LeftJoin(b.schema, target.TableName, targetAlias, target.PrimaryKeys, fkCols, alias, parentCols))
	b.orderFrags = append(b.orderFrags, b.dialect.OrderByFragment(targetAlias, target.PrimaryKeys))

	var childSelections []ast.Selection
	if edgeField.SelectionSet != nil {
		childSelections = edgeField.SelectionSet.Selections
	}
	return b.visit(targetIdx, targetAlias, childSelections, edgeField.Name.Value, childIsMany)
}
