// Package schemarefresh builds the schema graph and keeps it current: it
// re-runs the introspector on an interval (or on demand, e.g. from a SIGHUP
// handler in cmd/server) and atomically swaps in a fresh graph, planner, and
// dispatcher when the catalog has drifted, never mutating a graph already
// handed out to in-flight requests (§3's "immutable, share-by-reference"
// lifecycle: rebuild-and-swap, never mutate-in-place).
package schemarefresh

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relgql/relgql/internal/dbexec"
	"github.com/relgql/relgql/internal/dialect"
	"github.com/relgql/relgql/internal/dispatcher"
	"github.com/relgql/relgql/internal/httpapi"
	"github.com/relgql/relgql/internal/introspection"
	"github.com/relgql/relgql/internal/logging"
	"github.com/relgql/relgql/internal/naming"
	"github.com/relgql/relgql/internal/observability"
	"github.com/relgql/relgql/internal/planner"
	"github.com/relgql/relgql/internal/schema"
	"github.com/relgql/relgql/internal/schemafilter"
)

// Snapshot is one immutable, fully-built generation of the graph and the
// planner/dispatcher/handler stack wired against it.
type Snapshot struct {
	Graph       *schema.Graph
	Planner     *planner.Planner
	Dispatcher  *dispatcher.Dispatcher
	Handler     *httpapi.Handler
	BuiltAt     time.Time
	Fingerprint string
}

// Config controls schema refresh behavior.
type Config struct {
	DB          *sql.DB
	SchemaName  string
	Dialect     dialect.Capability
	Filters     schemafilter.Config
	Naming      naming.Config
	Logger      *logging.Logger
	Metrics     *observability.SchemaRefreshMetrics
	MinInterval time.Duration
	MaxInterval time.Duration
	Executor    dbexec.QueryExecutor
}

// Manager maintains and refreshes the schema snapshot used to serve requests.
type Manager struct {
	db          *sql.DB
	schemaName  string
	dialect     dialect.Capability
	filters     schemafilter.Config
	namingCfg   naming.Config
	logger      *logging.Logger
	metrics     *observability.SchemaRefreshMetrics
	minInterval time.Duration
	maxInterval time.Duration
	executor    dbexec.QueryExecutor
	active      atomic.Value // *Snapshot
	wg          sync.WaitGroup
}

// NewManager builds the initial snapshot and returns a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("schema refresh manager requires a database handle")
	}
	if cfg.Dialect == nil {
		return nil, fmt.Errorf("schema refresh manager requires a SQL dialect")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger(logging.Config{})
	}

	minInterval, maxInterval := cfg.MinInterval, cfg.MaxInterval
	if minInterval <= 0 {
		minInterval = 30 * time.Second
	}
	if maxInterval <= 0 {
		maxInterval = 5 * time.Minute
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}

	m := &Manager{
		db:          cfg.DB,
		schemaName:  cfg.SchemaName,
		dialect:     cfg.Dialect,
		filters:     cfg.Filters,
		namingCfg:   cfg.Naming,
		logger:      cfg.Logger.WithFields("component", "schema_refresh"),
		metrics:     cfg.Metrics,
		minInterval: minInterval,
		maxInterval: maxInterval,
		executor:    cfg.Executor,
	}
	if m.executor == nil {
		m.executor = dbexec.NewStandardExecutor(cfg.DB)
	}
	if m.schemaName == "" {
		m.schemaName = "public"
	}

	start := time.Now()
	snapshot, err := m.buildSnapshot(context.Background())
	if err != nil {
		m.recordRefresh(time.Since(start), false, "startup")
		return nil, err
	}
	m.active.Store(snapshot)
	m.recordRefresh(time.Since(start), true, "startup")

	return m, nil
}

// Start begins the background refresh loop; it returns immediately and the
// loop runs until ctx is canceled.
func (m *Manager) Start(ctx context.Context) {
	if m.minInterval <= 0 {
		m.logger.Info("schema refresh disabled")
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.refreshLoop(ctx)
	}()
}

// Handler returns the HTTP handler backed by the current schema snapshot.
func (m *Manager) Handler() http.Handler {
	snapshot := m.CurrentSnapshot()
	if snapshot == nil || snapshot.Handler == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "schema not ready", http.StatusServiceUnavailable)
		})
	}
	return snapshot.Handler
}

// CurrentSnapshot returns the active snapshot, or nil before the first build.
func (m *Manager) CurrentSnapshot() *Snapshot {
	if v := m.active.Load(); v != nil {
		return v.(*Snapshot)
	}
	return nil
}

// RefreshNow forces an immediate rebuild and swap, regardless of interval.
// cmd/server's SIGHUP handler calls RefreshNowContext; the background loop
// uses refreshOnce instead.
func (m *Manager) RefreshNow() error {
	return m.RefreshNowContext(context.Background())
}

// RefreshNowContext is RefreshNow with a caller-supplied context.
func (m *Manager) RefreshNowContext(ctx context.Context) error {
	start := time.Now()
	snapshot, err := m.buildSnapshot(ctx)
	if err != nil {
		m.recordRefresh(time.Since(start), false, "manual")
		return err
	}
	m.active.Store(snapshot)
	m.recordRefresh(time.Since(start), true, "manual")
	return nil
}

// Wait blocks until the refresh loop exits or ctx is canceled.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) refreshLoop(ctx context.Context) {
	interval := m.minInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("schema refresh stopped")
			return
		case <-timer.C:
			m.refreshOnce(ctx, &interval)
			timer.Reset(interval)
		}
	}
}

// refreshOnce re-introspects and, only if the catalog fingerprint changed,
// rebuilds the graph/planner/dispatcher and swaps them in. An unchanged
// fingerprint backs off the poll interval; any change or error resets it to
// the floor so drift is caught quickly once it starts.
func (m *Manager) refreshOnce(ctx context.Context, interval *time.Duration) {
	start := time.Now()
	current := m.CurrentSnapshot()

	out, err := introspection.Introspect(ctx, m.db, m.schemaName)
	if err != nil {
		m.logger.Warn("schema introspection failed", "error", err)
		m.recordRefresh(time.Since(start), false, "poll")
		*interval = m.minInterval
		return
	}
	schemafilter.Apply(out, m.filters)
	fingerprint := computeFingerprint(out)

	if current != nil && fingerprint == current.Fingerprint {
		m.recordRefresh(time.Since(start), true, "poll_no_change")
		*interval = nextInterval(*interval, m.minInterval, m.maxInterval)
		return
	}

	m.logger.Info("schema change detected, rebuilding", "fingerprint", fingerprint)
	graph, err := schema.Build(out, naming.New(m.namingCfg, m.logger.Logger))
	if err != nil {
		m.logger.Error("failed to rebuild schema graph", "error", err)
		m.recordRefresh(time.Since(start), false, "poll")
		*interval = m.minInterval
		return
	}

	m.active.Store(m.snapshotFromGraph(graph, fingerprint))
	*interval = m.minInterval
	m.recordRefresh(time.Since(start), true, "poll")
	m.logger.Info("schema refresh complete", "fingerprint", fingerprint)
}

func (m *Manager) buildSnapshot(ctx context.Context) (*Snapshot, error) {
	tracer := otel.Tracer("relgql/schemarefresh")
	ctx, span := tracer.Start(ctx, "schemarefresh.build_snapshot")
	defer span.End()

	m.logger.Info("introspecting database schema", "schema", m.schemaName)
	out, err := introspection.Introspect(ctx, m.db, m.schemaName)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to introspect schema %q: %w", m.schemaName, err)
	}
	schemafilter.Apply(out, m.filters)
	fingerprint := computeFingerprint(out)

	namer := naming.New(m.namingCfg, m.logger.Logger)
	graph, err := schema.Build(out, namer)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to build schema graph: %w", err)
	}

	span.SetAttributes(
		attribute.String("db.schema", m.schemaName),
		attribute.Int("schema.node_count", len(graph.Nodes)),
	)
	m.logger.Info("schema snapshot built", "tables", len(graph.Nodes), "edges", len(graph.Edges))

	return m.snapshotFromGraph(graph, fingerprint), nil
}

func (m *Manager) snapshotFromGraph(graph *schema.Graph, fingerprint string) *Snapshot {
	p := planner.New(graph, m.dialect, m.schemaName)
	d := dispatcher.New(p, m.executor)
	return &Snapshot{
		Graph:       graph,
		Planner:     p,
		Dispatcher:  d,
		Handler:     httpapi.NewHandler(d),
		BuiltAt:     time.Now(),
		Fingerprint: fingerprint,
	}
}

func (m *Manager) recordRefresh(duration time.Duration, success bool, trigger string) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordRefresh(context.Background(), duration, success, trigger)
}

// computeFingerprint derives a drift-detection hash directly from the
// already-introspected catalog maps: a deterministic hash of the exact
// structure schema.Build would consume, so "the fingerprint changed" and
// "the graph would rebuild differently" can never disagree.
func computeFingerprint(out *introspection.Output) string {
	h := sha256.New()

	classOIDs := make([]uint32, 0, len(out.ClassMap))
	for oid := range out.ClassMap {
		classOIDs = append(classOIDs, oid)
	}
	sort.Slice(classOIDs, func(i, j int) bool { return classOIDs[i] < classOIDs[j] })
	for _, oid := range classOIDs {
		fmt.Fprintf(h, "class:%d:%s\n", oid, out.ClassMap[oid].Name)
	}

	type attrKey struct {
		classOID uint32
		attNum   int16
	}
	attrKeys := make([]attrKey, 0, len(out.AttributeMap))
	for k := range out.AttributeMap {
		attrKeys = append(attrKeys, attrKey{k.ClassOID, k.AttNum})
	}
	sort.Slice(attrKeys, func(i, j int) bool {
		if attrKeys[i].classOID != attrKeys[j].classOID {
			return attrKeys[i].classOID < attrKeys[j].classOID
		}
		return attrKeys[i].attNum < attrKeys[j].attNum
	})
	for _, k := range attrKeys {
		a := out.AttributeMap[introspection.AttributeKey{ClassOID: k.classOID, AttNum: k.attNum}]
		fmt.Fprintf(h, "attr:%d:%d:%s:%s:%t\n", k.classOID, k.attNum, a.Name, a.TypeName, a.IsNotNull)
	}

	conOIDs := make([]uint32, 0, len(out.ConstraintMap))
	for oid := range out.ConstraintMap {
		conOIDs = append(conOIDs, oid)
	}
	sort.Slice(conOIDs, func(i, j int) bool { return conOIDs[i] < conOIDs[j] })
	for _, oid := range conOIDs {
		c := out.ConstraintMap[oid]
		fmt.Fprintf(h, "con:%d:%d:%d:%t:%v:%v\n", oid, c.ClassOID, c.ForeignClassOID, c.IsForeignKey, c.KeyAttNums, c.ForeignKeyAttNums)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// nextInterval backs off by 50% per unchanged poll, capped at maxInterval.
func nextInterval(current, minInterval, maxInterval time.Duration) time.Duration {
	if current < minInterval {
		return minInterval
	}
	next := current + current/2
	if next > maxInterval {
		return maxInterval
	}
	return next
}
