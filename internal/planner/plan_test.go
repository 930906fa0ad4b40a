package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relgql/relgql/internal/dialect/postgres"
	"github.com/relgql/relgql/internal/introspection"
	"github.com/relgql/relgql/internal/naming"
	"github.com/relgql/relgql/internal/schema"
)

// buildGraph mirrors internal/schema's own fixture: users(id, name) and
// comment_votes(comment_id, user_id) with comment_votes.user_id -> users.id,
// matching spec.md §3's worked example.
func buildGraph(t *testing.T) *schema.Graph {
	t.Helper()
	const usersOID, votesOID = 100, 200

	out := &introspection.Output{
		TypeMap: map[uint32]introspection.TypeInfo{},
		ClassMap: map[uint32]introspection.ClassInfo{
			usersOID: {OID: usersOID, Name: "users"},
			votesOID: {OID: votesOID, Name: "comment_votes"},
		},
		AttributeMap: map[introspection.AttributeKey]introspection.AttributeInfo{
			{ClassOID: usersOID, AttNum: 1}: {Name: "id", TypeName: "int4", IsNotNull: true, Ordinal: 1},
			{ClassOID: usersOID, AttNum: 2}: {Name: "name", TypeName: "text", IsNotNull: false, Ordinal: 2},
			{ClassOID: votesOID, AttNum: 1}: {Name: "comment_id", TypeName: "int4", IsNotNull: true, Ordinal: 1},
			{ClassOID: votesOID, AttNum: 2}: {Name: "user_id", TypeName: "int4", IsNotNull: true, Ordinal: 2},
		},
		ConstraintMap: map[uint32]introspection.ConstraintInfo{
			1: {OID: 1, ClassOID: usersOID, KeyAttNums: []int16{1}},
			2: {OID: 2, ClassOID: votesOID, ForeignClassOID: usersOID, IsForeignKey: true, KeyAttNums: []int16{2}, ForeignKeyAttNums: []int16{1}},
			3: {OID: 3, ClassOID: votesOID, KeyAttNums: []int16{1, 2}},
		},
	}

	g, err := schema.Build(out, naming.Default())
	require.NoError(t, err)
	return g
}

// buildGraphWithTwoEdges adds a comments table so comment_votes carries two
// foreign keys (to comments and to users), letting a query select two
// relationship fields on the same scope.
func buildGraphWithTwoEdges(t *testing.T) *schema.Graph {
	t.Helper()
	const usersOID, votesOID, commentsOID = 100, 200, 300

	out := &introspection.Output{
		TypeMap: map[uint32]introspection.TypeInfo{},
		ClassMap: map[uint32]introspection.ClassInfo{
			usersOID:    {OID: usersOID, Name: "users"},
			votesOID:    {OID: votesOID, Name: "comment_votes"},
			commentsOID: {OID: commentsOID, Name: "comments"},
		},
		AttributeMap: map[introspection.AttributeKey]introspection.AttributeInfo{
			{ClassOID: usersOID, AttNum: 1}:    {Name: "id", TypeName: "int4", IsNotNull: true, Ordinal: 1},
			{ClassOID: commentsOID, AttNum: 1}: {Name: "id", TypeName: "int4", IsNotNull: true, Ordinal: 1},
			{ClassOID: votesOID, AttNum: 1}:    {Name: "comment_id", TypeName: "int4", IsNotNull: true, Ordinal: 1},
			{ClassOID: votesOID, AttNum: 2}:    {Name: "user_id", TypeName: "int4", IsNotNull: true, Ordinal: 2},
		},
		ConstraintMap: map[uint32]introspection.ConstraintInfo{
			1: {OID: 1, ClassOID: usersOID, KeyAttNums: []int16{1}},
			2: {OID: 2, ClassOID: commentsOID, KeyAttNums: []int16{1}},
			3: {OID: 3, ClassOID: votesOID, ForeignClassOID: usersOID, IsForeignKey: true, KeyAttNums: []int16{2}, ForeignKeyAttNums: []int16{1}},
			4: {OID: 4, ClassOID: votesOID, ForeignClassOID: commentsOID, IsForeignKey: true, KeyAttNums: []int16{1}, ForeignKeyAttNums: []int16{1}},
			5: {OID: 5, ClassOID: votesOID, KeyAttNums: []int16{1, 2}},
		},
	}

	g, err := schema.Build(out, naming.Default())
	require.NoError(t, err)
	return g
}

func TestBuildRoot_RootListQuery(t *testing.T) {
	g := buildGraph(t)
	p := New(g, postgres.New(), "public")

	plan, err := p.BuildRoot(`{ users { id name } }`, "")
	require.NoError(t, err)

	require.Contains(t, plan.SQL, `to_json(json_build_array(__local_0__."id")) AS "__identifiers"`)
	require.Contains(t, plan.SQL, `__local_0__."id" AS "id"`)
	require.Contains(t, plan.SQL, `__local_0__."name" AS "name"`)
	require.Contains(t, plan.SQL, `FROM (SELECT __local_0__.* FROM "public"."users" AS __local_0__`)
	require.Contains(t, plan.SQL, `ORDER BY __local_0__."id" ASC`)

	require.Len(t, plan.Levels, 1)
	require.Equal(t, []string{"id", "name"}, plan.Levels[0].GraphQLFields)
	require.Equal(t, "users", plan.Levels[0].ParentKeyName)
	require.Equal(t, 1, plan.Levels[0].ColumnOffset)
	require.True(t, plan.Levels[0].IsMany)
}

func TestBuildRoot_SingularQuery(t *testing.T) {
	g := buildGraph(t)
	p := New(g, postgres.New(), "public")

	plan, err := p.BuildRoot(`{ user(id: 42) { id } }`, "")
	require.NoError(t, err)
	require.Contains(t, plan.SQL, `WHERE __local_0__."id" = 42`)
	require.False(t, plan.Levels[0].IsMany)
}

func TestBuildRoot_SingularQueryMissingArgument(t *testing.T) {
	g := buildGraph(t)
	p := New(g, postgres.New(), "public")

	_, err := p.BuildRoot(`{ user { id } }`, "")
	require.Error(t, err)
}

func TestBuildRoot_FieldFromWrongTypeRejected(t *testing.T) {
	g := buildGraph(t)
	p := New(g, postgres.New(), "public")

	// commentVoteByUserId resolves on comment_votes, not on users.
	_, err := p.BuildRoot(`{ users { id commentVoteByUserId { commentId } } }`, "")
	require.Error(t, err)
}

func TestBuildRoot_IncomingRelationship(t *testing.T) {
	g := buildGraph(t)
	p := New(g, postgres.New(), "public")

	plan, err := p.BuildRoot(`{ commentVotes { commentId commentVoteByUserId { id name } } }`, "")
	require.NoError(t, err)

	require.Contains(t, plan.SQL, `LEFT JOIN (SELECT __local_1__.* FROM "public"."users" AS __local_1__`)
	require.Contains(t, plan.SQL, `ON __local_1__."id" = __local_0__."user_id"`)
	require.Len(t, plan.Levels, 2)
	require.Equal(t, "commentVotes", plan.Levels[0].ParentKeyName)
	require.Equal(t, "commentVoteByUserId", plan.Levels[1].ParentKeyName)
	require.Equal(t, []string{"id", "name"}, plan.Levels[1].GraphQLFields)
}

func TestBuildRoot_OutgoingRelationship(t *testing.T) {
	g := buildGraph(t)
	p := New(g, postgres.New(), "public")

	// usersByUserId is named after its owning table (users) even though it
	// resolves to comment_votes rows (the FK children) — see DESIGN.md's
	// note on field-name derivation.
	plan, err := p.BuildRoot(`{ users { id usersByUserId { commentId } } }`, "")
	require.NoError(t, err)

	require.Contains(t, plan.SQL, `LEFT JOIN (SELECT __local_1__.* FROM "public"."comment_votes" AS __local_1__`)
	require.Contains(t, plan.SQL, `ON __local_1__."user_id" = __local_0__."id"`)
	require.Len(t, plan.Levels, 2)
	require.Equal(t, "usersByUserId", plan.Levels[1].ParentKeyName)
	require.Equal(t, []string{"commentId"}, plan.Levels[1].GraphQLFields)
}

func TestBuildRoot_UnknownRootField(t *testing.T) {
	g := buildGraph(t)
	p := New(g, postgres.New(), "public")

	_, err := p.BuildRoot(`{ widgets { id } }`, "")
	require.Error(t, err)
	var planErr *PlanError
	require.ErrorAs(t, err, &planErr)
}

func TestBuildRoot_UnknownFieldOnType(t *testing.T) {
	g := buildGraph(t)
	p := New(g, postgres.New(), "public")

	_, err := p.BuildRoot(`{ users { id bogus } }`, "")
	require.Error(t, err)
}

func TestBuildRoot_MultipleRelationshipFieldsRejected(t *testing.T) {
	g := buildGraphWithTwoEdges(t)
	p := New(g, postgres.New(), "public")

	_, err := p.BuildRoot(`{ commentVotes { commentVoteByUserId { id } commentVoteByCommentId { id } } }`, "")
	require.Error(t, err)
	var planErr *PlanError
	require.ErrorAs(t, err, &planErr)
}
