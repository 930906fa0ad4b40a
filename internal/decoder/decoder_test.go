package decoder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relgql/relgql/internal/planner"
	"github.com/relgql/relgql/internal/sqltype"
)

// fakeRows is a minimal RowSource backed by an in-memory table, standing in
// for *sql.Rows in tests that never touch a database.
type fakeRows struct {
	data     [][]any
	consumed int // number of rows Next has advanced past
}

func (f *fakeRows) Next() bool {
	if f.consumed >= len(f.data) {
		return false
	}
	f.consumed++
	return true
}

func (f *fakeRows) Scan(dest ...any) error {
	row := f.data[f.consumed-1]
	for i, v := range row {
		ptr := dest[i].(*any)
		*ptr = v
	}
	return nil
}

func (f *fakeRows) Err() error { return nil }

func TestDecode_RootListQuery(t *testing.T) {
	levels := []planner.TableQueryInfo{
		{
			GraphQLFields: []string{"id", "name"},
			FieldCodes:    []sqltype.Code{sqltype.Int, sqltype.Nullable(sqltype.Str)},
			ParentKeyName: "users",
			ColumnOffset:  1,
			IsMany:        true,
		},
	}
	rows := &fakeRows{data: [][]any{
		{"[1]", int64(1), "alice"},
		{"[2]", int64(2), "bob"},
	}}

	got, err := Decode(rows, &planner.Plan{Levels: levels})
	require.NoError(t, err)
	require.JSONEq(t, `{"users":[{"id":1,"name":"alice"},{"id":2,"name":"bob"}]}`, got)
}

func TestDecode_RootListQueryEmpty(t *testing.T) {
	levels := []planner.TableQueryInfo{
		{GraphQLFields: []string{"id"}, FieldCodes: []sqltype.Code{sqltype.Int}, ParentKeyName: "users", ColumnOffset: 1, IsMany: true},
	}
	rows := &fakeRows{}

	got, err := Decode(rows, &planner.Plan{Levels: levels})
	require.NoError(t, err)
	require.JSONEq(t, `{"users":[]}`, got)
}

func TestDecode_SingularQuery(t *testing.T) {
	levels := []planner.TableQueryInfo{
		{GraphQLFields: []string{"id"}, FieldCodes: []sqltype.Code{sqltype.Int}, ParentKeyName: "user", ColumnOffset: 1, IsMany: false},
	}
	rows := &fakeRows{data: [][]any{{"[1]", int64(1)}}}

	got, err := Decode(rows, &planner.Plan{Levels: levels})
	require.NoError(t, err)
	require.JSONEq(t, `{"user":{"id":1}}`, got)
}

func TestDecode_SingularQueryNotFound(t *testing.T) {
	levels := []planner.TableQueryInfo{
		{GraphQLFields: []string{"id"}, FieldCodes: []sqltype.Code{sqltype.Int}, ParentKeyName: "user", ColumnOffset: 1, IsMany: false},
	}
	rows := &fakeRows{}

	got, err := Decode(rows, &planner.Plan{Levels: levels})
	require.NoError(t, err)
	require.JSONEq(t, `{"user":null}`, got)
}

func TestDecode_IncomingRelationshipNested(t *testing.T) {
	// commentVotes { commentId commentVoteByUserId { id name } }
	levels := []planner.TableQueryInfo{
		{GraphQLFields: []string{"commentId"}, FieldCodes: []sqltype.Code{sqltype.Int}, ParentKeyName: "commentVotes", ColumnOffset: 1, IsMany: true},
		{GraphQLFields: []string{"id", "name"}, FieldCodes: []sqltype.Code{sqltype.Int, sqltype.Str}, ParentKeyName: "commentVoteByUserId", ColumnOffset: 3, IsMany: false},
	}
	rows := &fakeRows{data: [][]any{
		{"[10]", int64(100), "[1]", int64(1), "alice"},
		{"[20]", int64(200), "[2]", int64(2), "bob"},
	}}

	got, err := Decode(rows, &planner.Plan{Levels: levels})
	require.NoError(t, err)
	require.JSONEq(t, `{
		"commentVotes": [
			{"commentId":100, "commentVoteByUserId": {"id":1, "name":"alice"}},
			{"commentId":200, "commentVoteByUserId": {"id":2, "name":"bob"}}
		]
	}`, got)
}

func TestDecode_OutgoingRelationshipGrouping(t *testing.T) {
	// users { id usersByUserId { commentId } }, with composite-shaped
	// identifiers and one user with no children at all (unmatched LEFT JOIN).
	levels := []planner.TableQueryInfo{
		{GraphQLFields: []string{"id"}, FieldCodes: []sqltype.Code{sqltype.Int}, ParentKeyName: "users", ColumnOffset: 1, IsMany: true},
		{GraphQLFields: []string{"commentId"}, FieldCodes: []sqltype.Code{sqltype.Int}, ParentKeyName: "usersByUserId", ColumnOffset: 3, IsMany: true},
	}
	rows := &fakeRows{data: [][]any{
		{"[1]", int64(1), "[1,100]", int64(100)},
		{"[1]", int64(1), "[1,101]", int64(101)},
		{"[2]", int64(2), "[2,200]", int64(200)},
		{"[3]", int64(3), nil, nil},
	}}

	got, err := Decode(rows, &planner.Plan{Levels: levels})
	require.NoError(t, err)
	require.JSONEq(t, `{
		"users": [
			{"id":1, "usersByUserId":[{"commentId":100},{"commentId":101}]},
			{"id":2, "usersByUserId":[{"commentId":200}]},
			{"id":3, "usersByUserId":[]}
		]
	}`, got)
}

func TestDecode_NullableScalarIsNull(t *testing.T) {
	levels := []planner.TableQueryInfo{
		{GraphQLFields: []string{"id", "name"}, FieldCodes: []sqltype.Code{sqltype.Int, sqltype.Nullable(sqltype.Str)}, ParentKeyName: "users", ColumnOffset: 1, IsMany: true},
	}
	rows := &fakeRows{data: [][]any{
		{"[1]", int64(1), nil},
	}}

	got, err := Decode(rows, &planner.Plan{Levels: levels})
	require.NoError(t, err)
	require.JSONEq(t, `{"users":[{"id":1,"name":null}]}`, got)
}

func TestDecode_BooleanAndFloatFormatting(t *testing.T) {
	levels := []planner.TableQueryInfo{
		{
			GraphQLFields: []string{"active", "score"},
			FieldCodes:    []sqltype.Code{sqltype.Boolean, sqltype.Float},
			ParentKeyName: "users",
			ColumnOffset:  1,
			IsMany:        true,
		},
	}
	rows := &fakeRows{data: [][]any{
		{"[1]", true, 3.5},
		{"[2]", false, 1.0},
	}}

	got, err := Decode(rows, &planner.Plan{Levels: levels})
	require.NoError(t, err)
	require.JSONEq(t, `{"users":[{"active":true,"score":3.5},{"active":false,"score":1}]}`, got)
}

func TestDecode_StringEscaping(t *testing.T) {
	levels := []planner.TableQueryInfo{
		{GraphQLFields: []string{"name"}, FieldCodes: []sqltype.Code{sqltype.Str}, ParentKeyName: "users", ColumnOffset: 1, IsMany: true},
	}
	rows := &fakeRows{data: [][]any{
		{"[1]", "quote\" back\\slash newline\n"},
	}}

	got, err := Decode(rows, &planner.Plan{Levels: levels})
	require.NoError(t, err)
	require.JSONEq(t, `{"users":[{"name":"quote\" back\\slash newline\n"}]}`, got)
}

func TestDecode_EmptyPlanRejected(t *testing.T) {
	_, err := Decode(&fakeRows{}, &planner.Plan{})
	require.Error(t, err)
}
