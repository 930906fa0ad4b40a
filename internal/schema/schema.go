// Package schema builds the in-memory schema graph (§3, §4.B) from the raw
// catalog maps internal/introspection returns: one GraphQLType node per
// table/view, one GraphQLEdge per foreign key, and a root-query map for the
// planner's entry points.
package schema

import (
	"fmt"
	"sort"

	"github.com/relgql/relgql/internal/introspection"
	"github.com/relgql/relgql/internal/naming"
	"github.com/relgql/relgql/internal/sqltype"
)

// TerminalField is a scalar column exposed on a GraphQLType.
type TerminalField struct {
	Column string
	Code   sqltype.Code
}

// GraphQLType is one graph node: a table surfaced as a GQL object (§3).
type GraphQLType struct {
	TableName      string
	GraphQLName    string
	TerminalFields map[string]TerminalField // graphql field name -> field
	PrimaryKeys    []string                 // column names, declared order
}

// GraphQLEdge is one graph edge: a foreign key, directed child -> parent (§3).
type GraphQLEdge struct {
	ChildNode  int
	ParentNode int

	IncomingNodeCols []string // child-side FK columns
	OutgoingNodeCols []string // parent-side (referenced) columns

	IncomingFieldName string // on child, singular, resolves to the one parent
	OutgoingFieldName string // on parent, plural, resolves to the children
}

// QueryEdgeInfo maps a root query field name to the node it queries and
// whether it is the list (many) or single-row form (§3).
type QueryEdgeInfo struct {
	NodeIndex int
	IsMany    bool
}

// Graph is the complete, immutable schema graph built once at startup.
type Graph struct {
	Nodes []GraphQLType
	Edges []GraphQLEdge
	Root  map[string]QueryEdgeInfo

	// outgoingByNode indexes edges whose ParentNode == key (the parent's collection fields).
	outgoingByNode map[int][]int
	// incomingByNode indexes edges whose ChildNode == key (the child's single-parent fields).
	incomingByNode map[int][]int
}

// FieldEdge resolves a field name on a node to the edge and direction that
// produced it, used by the planner's traversal (§4.C).
type FieldEdge struct {
	Edge      *GraphQLEdge
	IsOutgoing bool // true: field resolves via Edge.OutgoingNodeCols (parent side, many)
}

// LookupEdgeField returns the edge backing a non-terminal field name on a node.
func (g *Graph) LookupEdgeField(nodeIndex int, fieldName string) (FieldEdge, bool) {
	for _, idx := range g.outgoingByNode[nodeIndex] {
		if g.Edges[idx].OutgoingFieldName == fieldName {
			return FieldEdge{Edge: &g.Edges[idx], IsOutgoing: true}, true
		}
	}
	for _, idx := range g.incomingByNode[nodeIndex] {
		if g.Edges[idx].IncomingFieldName == fieldName {
			return FieldEdge{Edge: &g.Edges[idx], IsOutgoing: false}, true
		}
	}
	return FieldEdge{}, false
}

// SchemaError is a fatal error building the graph (§4.A/§4.B/§3 invariants):
// missing primary key, mismatched FK column counts, unknown SQL type, or a
// field-name collision.
type SchemaError struct {
	Table string
	Msg   string
}

func (e *SchemaError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("schema: %s: %s", e.Table, e.Msg)
	}
	return "schema: " + e.Msg
}

// Build consumes introspection output and a Namer and produces the graph and
// root-query map, per §4.B's three-step algorithm. Collisions and invariant
// violations are returned as *SchemaError and must abort startup.
func Build(in *introspection.Output, namer *naming.Namer) (*Graph, error) {
	g := &Graph{
		Root:           make(map[string]QueryEdgeInfo),
		outgoingByNode: make(map[int][]int),
		incomingByNode: make(map[int][]int),
	}

	nodeIndex := make(map[uint32]int) // class oid -> node index
	classOIDs := sortedKeys(in.ClassMap)

	for _, oid := range classOIDs {
		class := in.ClassMap[oid]
		graphqlName, err := namer.RegisterType(class.Name)
		if err != nil {
			return nil, &SchemaError{Table: class.Name, Msg: err.Error()}
		}

		node := GraphQLType{
			TableName:      class.Name,
			GraphQLName:    graphqlName,
			TerminalFields: make(map[string]TerminalField),
		}

		attrs := attributesForClass(in, oid)
		for _, attr := range attrs {
			if sqltype.Ignorable(attr.TypeName) {
				continue
			}
			code, ok := sqltype.FromSQLType(attr.TypeName, attr.IsNotNull)
			if !ok {
				return nil, &SchemaError{Table: class.Name, Msg: fmt.Sprintf("unsupported SQL type %q on column %q", attr.TypeName, attr.Name)}
			}
			fieldName, err := namer.RegisterColumnField(graphqlName, attr.Name)
			if err != nil {
				return nil, &SchemaError{Table: class.Name, Msg: err.Error()}
			}
			node.TerminalFields[fieldName] = TerminalField{Column: attr.Name, Code: code}
		}

		nodeIndex[oid] = len(g.Nodes)
		g.Nodes = append(g.Nodes, node)
	}

	// Step 2: constraints. Primary keys set node.PrimaryKeys; foreign keys become edges.
	conOIDs := sortedKeys(in.ConstraintMap)
	for _, conOID := range conOIDs {
		con := in.ConstraintMap[conOID]
		idx, ok := nodeIndex[con.ClassOID]
		if !ok {
			continue
		}
		if !con.IsForeignKey {
			g.Nodes[idx].PrimaryKeys = attrNames(in, con.ClassOID, con.KeyAttNums)
			continue
		}
		parentIdx, ok := nodeIndex[con.ForeignClassOID]
		if !ok {
			continue
		}
		if len(con.KeyAttNums) != len(con.ForeignKeyAttNums) {
			return nil, &SchemaError{Table: g.Nodes[idx].TableName, Msg: "foreign key column count mismatch"}
		}

		childCols := attrNames(in, con.ClassOID, con.KeyAttNums)
		parentCols := attrNames(in, con.ForeignClassOID, con.ForeignKeyAttNums)

		childTable := g.Nodes[idx].TableName
		parentTable := g.Nodes[parentIdx].TableName

		incoming := namer.IncomingFieldName(childTable, childCols)
		outgoing := namer.OutgoingFieldName(parentTable, childCols)

		incomingSource := fmt.Sprintf("fk:%s(%v)->%s", childTable, childCols, parentTable)
		if _, err := namer.RegisterEdgeField(g.Nodes[idx].GraphQLName, incoming, incomingSource); err != nil {
			return nil, &SchemaError{Table: childTable, Msg: err.Error()}
		}
		if _, err := namer.RegisterEdgeField(g.Nodes[parentIdx].GraphQLName, outgoing, incomingSource); err != nil {
			return nil, &SchemaError{Table: parentTable, Msg: err.Error()}
		}

		edge := GraphQLEdge{
			ChildNode:         idx,
			ParentNode:        parentIdx,
			IncomingNodeCols:  childCols,
			OutgoingNodeCols:  parentCols,
			IncomingFieldName: incoming,
			OutgoingFieldName: outgoing,
		}
		edgeIdx := len(g.Edges)
		g.Edges = append(g.Edges, edge)
		g.incomingByNode[idx] = append(g.incomingByNode[idx], edgeIdx)
		g.outgoingByNode[parentIdx] = append(g.outgoingByNode[parentIdx], edgeIdx)
	}

	// Invariant: every node has a non-empty primary key.
	for i, n := range g.Nodes {
		if len(n.PrimaryKeys) == 0 {
			return nil, &SchemaError{Table: n.TableName, Msg: "no primary key"}
		}
		_ = i
	}

	// Step 3: root query entries, one plural + one singular per node.
	for i, n := range g.Nodes {
		queryField, err := namer.RegisterQueryField(n.TableName)
		if err != nil {
			return nil, &SchemaError{Table: n.TableName, Msg: err.Error()}
		}
		g.Root[queryField] = QueryEdgeInfo{NodeIndex: i, IsMany: true}

		singular, err := namer.RegisterSingularQueryField(n.TableName)
		if err != nil {
			return nil, &SchemaError{Table: n.TableName, Msg: err.Error()}
		}
		g.Root[singular] = QueryEdgeInfo{NodeIndex: i, IsMany: false}
	}

	return g, nil
}

func attributesForClass(in *introspection.Output, classOID uint32) []introspection.AttributeInfo {
	var attrs []introspection.AttributeInfo
	for key, attr := range in.AttributeMap {
		if key.ClassOID == classOID {
			attrs = append(attrs, attr)
		}
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Ordinal < attrs[j].Ordinal })
	return attrs
}

func attrNames(in *introspection.Output, classOID uint32, attNums []int16) []string {
	names := make([]string, len(attNums))
	for i, num := range attNums {
		names[i] = in.AttributeMap[introspection.AttributeKey{ClassOID: classOID, AttNum: num}].Name
	}
	return names
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
