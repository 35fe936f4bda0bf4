package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iron-manus/jarvis/pkg/graph"
	"github.com/iron-manus/jarvis/pkg/phases"
	"github.com/iron-manus/jarvis/pkg/roles"
	"github.com/iron-manus/jarvis/pkg/todo"
)

// flakyGraph wraps the in-process graph and fails a configurable number of
// calls first, so the retry queue has something to chew on.
type flakyGraph struct {
	mu          sync.Mutex
	inner       *graph.Memory
	err         error
	upsertFails int // remaining failing upsert calls; -1 fails forever
	getFails    int // remaining failing GetEntity calls

	entityCalls   int
	relationCalls int
	getCalls      int
}

func newFlakyGraph(err error, upsertFails, getFails int) *flakyGraph {
	return &flakyGraph{inner: graph.NewMemory(), err: err, upsertFails: upsertFails, getFails: getFails}
}

func (f *flakyGraph) failUpsert() error {
	if f.upsertFails == 0 {
		return nil
	}
	if f.upsertFails > 0 {
		f.upsertFails--
	}
	return f.err
}

func (f *flakyGraph) UpsertEntities(ctx context.Context, entities []graph.Entity) error {
	f.mu.Lock()
	f.entityCalls++
	err := f.failUpsert()
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.inner.UpsertEntities(ctx, entities)
}

func (f *flakyGraph) UpsertRelations(ctx context.Context, relations []graph.Relation) error {
	f.mu.Lock()
	f.relationCalls++
	err := f.failUpsert()
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.inner.UpsertRelations(ctx, relations)
}

func (f *flakyGraph) GetEntity(ctx context.Context, name string) (graph.Entity, error) {
	f.mu.Lock()
	f.getCalls++
	if f.getFails != 0 {
		f.getFails--
		err := f.err
		f.mu.Unlock()
		return graph.Entity{}, err
	}
	f.mu.Unlock()
	return f.inner.GetEntity(ctx, name)
}

func (f *flakyGraph) RelationsFrom(ctx context.Context, from string) ([]graph.Relation, error) {
	return f.inner.RelationsFrom(ctx, from)
}

func (f *flakyGraph) Close() error { return nil }

func (f *flakyGraph) calls() (entities, relations, gets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entityCalls, f.relationCalls, f.getCalls
}

// countingObserver tallies store lifecycle signals.
type countingObserver struct {
	mu      sync.Mutex
	active  int
	retried int
	dropped int
}

func (o *countingObserver) ActiveSessions(delta int) {
	o.mu.Lock()
	o.active += delta
	o.mu.Unlock()
}

func (o *countingObserver) PersistRetried(string) {
	o.mu.Lock()
	o.retried++
	o.mu.Unlock()
}

func (o *countingObserver) PersistDropped(string) {
	o.mu.Lock()
	o.dropped++
	o.mu.Unlock()
}

func (o *countingObserver) snapshot() (active, retried, dropped int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active, o.retried, o.dropped
}

func closeStore(t *testing.T, st *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, st.Close(ctx))
}

func TestStoreGetCreatesDefaultLazily(t *testing.T) {
	st := NewStore(graph.NewMemory())
	defer closeStore(t, st)

	ctx := context.Background()
	s := st.Get(ctx, "session_lazy01")
	require.NotNil(t, s)
	assert.Equal(t, phases.PhaseInit, s.CurrentPhase)
	assert.Equal(t, 0.8, s.ReasoningEffectiveness)
	assert.Equal(t, 1, st.Len())

	// Same pointer on the second read: the cache is the source of truth.
	assert.Same(t, s, st.Get(ctx, "session_lazy01"))
	assert.Equal(t, 1, st.Len())
}

func TestStoreUpdatePersistsEntitiesAndRelations(t *testing.T) {
	g := graph.NewMemory()
	st := NewStore(g)

	ctx := context.Background()
	s := st.Get(ctx, "session_persist1")
	s.CurrentPhase = phases.PhaseExecute
	s.InitialObjective = "refactor the import pipeline"
	s.DetectedRole = roles.RoleCoder
	s.SetTodos([]todo.Todo{
		{ID: "t1", Content: "split the parser", Status: todo.StatusPending, Priority: todo.PriorityHigh},
	})
	st.Update(s)
	closeStore(t, st) // drains the write-behind queue

	ent, err := g.GetEntity(ctx, "session_session_persist1")
	require.NoError(t, err)
	assert.Equal(t, "session", ent.EntityType)
	assert.Contains(t, ent.Observations, "phase: EXECUTE")
	assert.Contains(t, ent.Observations, "objective: refactor the import pipeline")
	assert.Contains(t, ent.Observations, "role: coder")

	task, err := g.GetEntity(ctx, "session_session_persist1_task_t1")
	require.NoError(t, err)
	assert.Equal(t, "task", task.EntityType)
	assert.Contains(t, task.Observations, "status: pending")

	rels, err := g.RelationsFrom(ctx, "session_session_persist1")
	require.NoError(t, err)
	assert.Contains(t, rels, graph.Relation{
		From: "session_session_persist1", To: "phase_EXECUTE", RelationType: "transitioned_to",
	})
	assert.Contains(t, rels, graph.Relation{
		From: "session_session_persist1", To: "session_session_persist1_task_t1", RelationType: "has_task",
	})
}

func TestStoreRoundTripThroughGraph(t *testing.T) {
	g := graph.NewMemory()
	ctx := context.Background()

	first := NewStore(g)
	s := first.Get(ctx, "roundtrip1")
	s.CurrentPhase = phases.PhaseVerify
	s.InitialObjective = "analyze quarterly churn"
	s.DetectedRole = roles.RoleAnalyzer
	s.ReasoningEffectiveness = 0.65
	s.Set("interpreted_goal", "churn analysis")
	s.Set("custom_plugin_state", map[string]any{"cursor": "abc"}) // unknown key must survive
	s.SetTodos([]todo.Todo{
		{ID: "a", Content: "load data", Status: todo.StatusCompleted, Priority: todo.PriorityHigh},
		{ID: "b", Content: "chart it", Status: todo.StatusPending, Priority: todo.PriorityLow},
	})
	first.Update(s)
	closeStore(t, first)

	second := NewStore(g)
	defer closeStore(t, second)
	got := second.Get(ctx, "roundtrip1")

	assert.Equal(t, phases.PhaseVerify, got.CurrentPhase)
	assert.Equal(t, "analyze quarterly churn", got.InitialObjective)
	assert.Equal(t, roles.RoleAnalyzer, got.DetectedRole)
	assert.Equal(t, 0.65, got.ReasoningEffectiveness)
	assert.Equal(t, "churn analysis", got.String("interpreted_goal"))
	assert.NotNil(t, got.Payload["custom_plugin_state"])

	todos := got.Todos()
	require.Len(t, todos, 2)
	assert.Equal(t, todo.StatusCompleted, todos[0].Status)
}

func TestDecodeSessionMalformedObservations(t *testing.T) {
	e := graph.Entity{
		Name:       EntityName("weird"),
		EntityType: "session",
		Observations: []string{
			"phase: undefined",        // keeps default INIT
			"role: null",              // keeps default empty role
			"effectiveness: not-a-number",
			"objective:",              // empty value reads as ""
			"no colon at all",         // ignored
			"mystery_key: whatever",   // unknown key ignored
			"payload: {broken json",   // ignored, default payload kept
			"created_at: 1700000000000",
		},
	}

	s := decodeSession("weird", e, 0.8)
	assert.Equal(t, phases.PhaseInit, s.CurrentPhase)
	assert.Empty(t, string(s.DetectedRole))
	assert.Equal(t, 0.8, s.ReasoningEffectiveness)
	assert.Equal(t, "", s.InitialObjective)
	assert.Equal(t, int64(1700000000000), s.CreatedAt)
	assert.Equal(t, 0, s.TaskIndex())
}

func TestStoreRetryQueueRecovers(t *testing.T) {
	g := newFlakyGraph(errors.New("dial tcp: connection refused"), 2, 0)
	obs := &countingObserver{}
	st := NewStore(g, WithObserver(obs), WithRetryBackoff(time.Millisecond))

	s := st.Get(context.Background(), "retry_ok")
	s.InitialObjective = "survive a blip"
	st.Update(s)

	assert.Eventually(t, func() bool {
		entities, relations, _ := g.calls()
		return entities == 2 && relations == 2
	}, 2*time.Second, time.Millisecond, "each op should fail once and succeed on retry")

	closeStore(t, st)
	_, retried, dropped := obs.snapshot()
	assert.Equal(t, 2, retried)
	assert.Zero(t, dropped)

	ent, err := g.inner.GetEntity(context.Background(), EntityName("retry_ok"))
	require.NoError(t, err)
	assert.Contains(t, ent.Observations, "objective: survive a blip")
}

func TestStoreRetryQueueGivesUpAfterBudget(t *testing.T) {
	g := newFlakyGraph(errors.New("i/o timeout"), -1, 0)
	obs := &countingObserver{}
	st := NewStore(g, WithObserver(obs), WithRetryBackoff(time.Millisecond))

	s := st.Get(context.Background(), "retry_doomed")
	st.Update(s)

	assert.Eventually(t, func() bool {
		_, _, dropped := obs.snapshot()
		return dropped == 2
	}, 2*time.Second, time.Millisecond, "both ops should be dropped after the attempt budget")

	entities, relations, _ := g.calls()
	assert.Equal(t, 3, entities, "three attempts per op")
	assert.Equal(t, 3, relations)
	closeStore(t, st)
}

func TestStoreNonRetriableErrorDropsImmediately(t *testing.T) {
	g := newFlakyGraph(errors.New("NOAUTH Authentication required"), -1, 0)
	obs := &countingObserver{}
	st := NewStore(g, WithObserver(obs), WithRetryBackoff(time.Millisecond))

	s := st.Get(context.Background(), "retry_denied")
	st.Update(s)

	assert.Eventually(t, func() bool {
		_, _, dropped := obs.snapshot()
		return dropped == 2
	}, 2*time.Second, time.Millisecond)

	entities, relations, _ := g.calls()
	assert.Equal(t, 1, entities, "auth failures are not retried")
	assert.Equal(t, 1, relations)
	_, retried, _ := obs.snapshot()
	assert.Zero(t, retried)
	closeStore(t, st)
}

func TestStoreGetLoadFailureFallsBackAndRepopulates(t *testing.T) {
	// Seed the graph with a persisted session, then make the first read fail.
	g := newFlakyGraph(errors.New("connection reset by peer"), 0, 0)
	seed := NewStore(g)
	s := seed.Get(context.Background(), "recover_me")
	s.CurrentPhase = phases.PhasePlan
	s.InitialObjective = "restored objective"
	seed.Update(s)
	closeStore(t, seed)

	g.mu.Lock()
	g.getFails = 1
	g.mu.Unlock()

	st := NewStore(g, WithRetryBackoff(time.Millisecond))
	defer closeStore(t, st)

	got := st.Get(context.Background(), "recover_me")
	assert.Equal(t, phases.PhaseInit, got.CurrentPhase, "failed load returns a fresh default")
	assert.Empty(t, got.InitialObjective)

	assert.Eventually(t, func() bool {
		cur := st.Get(context.Background(), "recover_me")
		return cur.InitialObjective == "restored objective" && cur.CurrentPhase == phases.PhasePlan
	}, 2*time.Second, time.Millisecond, "background reload should repopulate the pristine default")
}

func TestStoreSweepEvictsIdleSessions(t *testing.T) {
	now := time.Now()
	obs := &countingObserver{}
	st := NewStore(graph.NewMemory(), WithObserver(obs), WithClock(func() time.Time { return now }))
	defer closeStore(t, st)

	ctx := context.Background()
	stale := st.Get(ctx, "stale_session1")
	stale.LastActivity = now.Add(-25 * time.Hour).UnixMilli()
	fresh := st.Get(ctx, "fresh_session1")
	fresh.LastActivity = now.Add(-time.Hour).UnixMilli()

	assert.Equal(t, 1, st.sweep(now))
	assert.Equal(t, 1, st.Len())
	assert.Same(t, fresh, st.Get(ctx, "fresh_session1"))

	active, _, _ := obs.snapshot()
	assert.Equal(t, 1, active, "two cached, one evicted")
}

func TestStoreSweepSkipsLockedSessions(t *testing.T) {
	now := time.Now()
	st := NewStore(graph.NewMemory(), WithClock(func() time.Time { return now }))
	defer closeStore(t, st)

	s := st.Get(context.Background(), "busy_session1")
	s.LastActivity = now.Add(-25 * time.Hour).UnixMilli()

	unlock := st.Lock("busy_session1")
	assert.Equal(t, 0, st.sweep(now), "a session mid-turn is not evicted")
	unlock()

	assert.Equal(t, 1, st.sweep(now))
}

func TestStoreLockSerializesTurns(t *testing.T) {
	st := NewStore(graph.NewMemory())
	defer closeStore(t, st)

	var order []string
	unlock := st.Lock("serial_session")

	acquired := make(chan struct{})
	go func() {
		u := st.Lock("serial_session")
		order = append(order, "second")
		u()
		close(acquired)
	}()

	time.Sleep(10 * time.Millisecond)
	order = append(order, "first")
	unlock()
	<-acquired

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestStoreCloseIsIdempotent(t *testing.T) {
	st := NewStore(graph.NewMemory())
	ctx := context.Background()
	require.NoError(t, st.Close(ctx))
	require.NoError(t, st.Close(ctx))
}
