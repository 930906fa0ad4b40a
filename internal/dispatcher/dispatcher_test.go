package dispatcher

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relgql/relgql/internal/dbexec"
	"github.com/relgql/relgql/internal/dialect/postgres"
	"github.com/relgql/relgql/internal/introspection"
	"github.com/relgql/relgql/internal/naming"
	"github.com/relgql/relgql/internal/planner"
	"github.com/relgql/relgql/internal/schema"
)

// buildGraph mirrors internal/planner's own fixture: users(id, name).
func buildGraph(t *testing.T) *schema.Graph {
	t.Helper()
	const usersOID = 100

	out := &introspection.Output{
		TypeMap: map[uint32]introspection.TypeInfo{},
		ClassMap: map[uint32]introspection.ClassInfo{
			usersOID: {OID: usersOID, Name: "users"},
		},
		AttributeMap: map[introspection.AttributeKey]introspection.AttributeInfo{
			{ClassOID: usersOID, AttNum: 1}: {Name: "id", TypeName: "int4", IsNotNull: true, Ordinal: 1},
			{ClassOID: usersOID, AttNum: 2}: {Name: "name", TypeName: "text", IsNotNull: false, Ordinal: 2},
		},
		ConstraintMap: map[uint32]introspection.ConstraintInfo{
			1: {OID: 1, ClassOID: usersOID, KeyAttNums: []int16{1}},
		},
	}

	g, err := schema.Build(out, naming.Default())
	require.NoError(t, err)
	return g
}

// fakeRows is an in-memory dbexec.Rows backing a fixed set of scanned values.
type fakeRows struct {
	data     [][]any
	consumed int // number of rows Next has advanced past
	closed   bool
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

func (f *fakeRows) Err() error   { return nil }
func (f *fakeRows) Close() error { f.closed = true; return nil }

// fakeExecutor returns a fresh copy of rowsData on every QueryContext call,
// so concurrent callers each get an independent, rewindable result set.
type fakeExecutor struct {
	mu       sync.Mutex
	rowsData [][]any
	queryErr error
	calls    int
}

func (f *fakeExecutor) QueryContext(ctx context.Context, query string, args ...any) (dbexec.Rows, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.queryErr != nil {
		return nil, f.queryErr
	}
	cp := make([][]any, len(f.rowsData))
	copy(cp, f.rowsData)
	return &fakeRows{data: cp}, nil
}

func (f *fakeExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, errors.New("not implemented")
}

func TestDispatch_Success(t *testing.T) {
	g := buildGraph(t)
	p := planner.New(g, postgres.New(), "public")
	exec := &fakeExecutor{rowsData: [][]any{
		{"[1]", int64(1), "alice"},
		{"[2]", int64(2), "bob"},
	}}
	d := New(p, exec)

	got, err := d.Dispatch(context.Background(), `{ users { id name } }`, "")
	require.NoError(t, err)
	require.JSONEq(t, `{"users":[{"id":1,"name":"alice"},{"id":2,"name":"bob"}]}`, got)
	require.Equal(t, 1, exec.calls)
}

func TestDispatch_PlanErrorNeverReachesDriver(t *testing.T) {
	g := buildGraph(t)
	p := planner.New(g, postgres.New(), "public")
	exec := &fakeExecutor{}
	d := New(p, exec)

	_, err := d.Dispatch(context.Background(), `{ widgets { id } }`, "")
	require.Error(t, err)
	var planErr *planner.PlanError
	require.ErrorAs(t, err, &planErr)
	require.Zero(t, exec.calls)
}

func TestDispatch_DriverErrorPropagates(t *testing.T) {
	g := buildGraph(t)
	p := planner.New(g, postgres.New(), "public")
	exec := &fakeExecutor{queryErr: errors.New("connection refused")}
	d := New(p, exec)

	_, err := d.Dispatch(context.Background(), `{ users { id } }`, "")
	require.Error(t, err)
}

func TestDispatchConcurrent_PlansOnceRunsManyTimes(t *testing.T) {
	g := buildGraph(t)
	p := planner.New(g, postgres.New(), "public")
	exec := &fakeExecutor{rowsData: [][]any{
		{"[1]", int64(1), "alice"},
	}}
	d := New(p, exec)

	results, err := d.DispatchConcurrent(context.Background(), `{ users { id name } }`, "", 5)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, r := range results {
		require.JSONEq(t, `{"users":[{"id":1,"name":"alice"}]}`, r)
	}
	require.Equal(t, 5, exec.calls)
}

func TestDispatchConcurrent_RejectsZeroWorkers(t *testing.T) {
	g := buildGraph(t)
	p := planner.New(g, postgres.New(), "public")
	d := New(p, &fakeExecutor{})

	_, err := d.DispatchConcurrent(context.Background(), `{ users { id } }`, "", 0)
	require.Error(t, err)
}

func TestDispatchConcurrent_OneFailureFailsAll(t *testing.T) {
	g := buildGraph(t)
	p := planner.New(g, postgres.New(), "public")
	exec := &fakeExecutor{queryErr: errors.New("boom")}
	d := New(p, exec)

	_, err := d.DispatchConcurrent(context.Background(), `{ users { id } }`, "", 4)
	require.Error(t, err)
}
