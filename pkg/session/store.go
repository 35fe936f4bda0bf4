package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/iron-manus/jarvis/pkg/graph"
	"github.com/iron-manus/jarvis/pkg/phases"
	"github.com/iron-manus/jarvis/pkg/roles"
)

// Graph vocabulary. A session becomes one session entity, one task entity
// per todo, a has_task edge per task, and a transitioned_to edge per phase
// the session has reached.
const (
	entityTypeSession = "session"
	entityTypeTask    = "task"

	relationHasTask        = "has_task"
	relationTransitionedTo = "transitioned_to"
)

// Observation keys on the session entity. Values follow "key: value";
// payload carries the whole payload map as JSON so unknown keys survive a
// round trip through the graph.
const (
	obsPhase         = "phase"
	obsObjective     = "objective"
	obsRole          = "role"
	obsEffectiveness = "effectiveness"
	obsCreatedAt     = "created_at"
	obsLastActivity  = "last_activity"
	obsPayload       = "payload"

	obsContent  = "content"
	obsStatus   = "status"
	obsPriority = "priority"
)

// Literal junk values some writers leave behind. Both read as "use the
// field default".
const (
	valueUndefined = "undefined"
	valueNull      = "null"
)

const (
	defaultInitialEffectiveness = 0.8
	defaultLoadTimeout          = 2 * time.Second
	defaultRetryInitial         = 5 * time.Second
	defaultIdleTTL              = 24 * time.Hour
	defaultSweepInterval        = time.Hour

	// A persist gives up after this many attempts on retriable errors.
	maxPersistAttempts = 3

	persistAttemptTimeout = 10 * time.Second
	persistQueueDepth     = 1024
)

// EntityName is the graph entity name for a session id.
func EntityName(id string) string { return "session_" + id }

func taskEntityName(id, todoID string) string { return EntityName(id) + "_task_" + todoID }

func phaseEntityName(p phases.Phase) string { return "phase_" + string(p) }

// persistOp distinguishes the two graph writes a session update fans into.
// The retry queue keys on (session id, op).
type persistOp string

const (
	opEntities  persistOp = "upsert_entities"
	opRelations persistOp = "upsert_relations"
)

type slotKey struct {
	sessionID string
	op        persistOp
}

type persistJob struct {
	sessionID string
	op        persistOp
	gen       uint64
	attempt   int
	entities  []graph.Entity
	relations []graph.Relation
}

// Observer receives store lifecycle signals for metrics. Methods are called
// from background goroutines and must be safe for concurrent use.
type Observer interface {
	// ActiveSessions reports a change in the number of cached sessions.
	ActiveSessions(delta int)
	// PersistRetried fires each time a failed persist is rescheduled.
	PersistRetried(op string)
	// PersistDropped fires when a persist is abandoned, either after the
	// attempt budget or on a non-retriable error.
	PersistDropped(op string)
}

type nopObserver struct{}

func (nopObserver) ActiveSessions(int)   {}
func (nopObserver) PersistRetried(string) {}
func (nopObserver) PersistDropped(string) {}

// Store is the two-level session store. The in-memory cache is the source
// of truth for running turns; the entity graph trails behind it through a
// write-behind queue that retries transient failures and never surfaces
// persistence errors to the caller.
type Store struct {
	graph    graph.Store
	tracer   trace.Tracer
	observer Observer

	initialEffectiveness float64
	loadTimeout          time.Duration
	retryInitial         time.Duration
	idleTTL              time.Duration
	sweepEvery           time.Duration
	now                  func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
	gens     map[slotKey]uint64

	jobs      chan persistJob
	closing   chan struct{} // closed first: stops new work, collapses backoffs
	drainDone chan struct{} // closed once the queue is empty: stops the drainer
	closed    atomic.Bool
	closeOnce sync.Once
	jobsWG    sync.WaitGroup // unresolved persist jobs and load retries
	loopsWG   sync.WaitGroup // drainer and sweeper
}

// StoreOption tunes a Store. Production code runs with the defaults; tests
// shrink the timings.
type StoreOption func(*Store)

// WithObserver forwards store lifecycle signals to a metrics sink.
func WithObserver(o Observer) StoreOption {
	return func(st *Store) {
		if o != nil {
			st.observer = o
		}
	}
}

// WithTracer records graph.load and graph.persist spans on t.
func WithTracer(t trace.Tracer) StoreOption {
	return func(st *Store) {
		if t != nil {
			st.tracer = t
		}
	}
}

// WithInitialEffectiveness sets the reasoning effectiveness given to fresh
// sessions.
func WithInitialEffectiveness(v float64) StoreOption {
	return func(st *Store) { st.initialEffectiveness = v }
}

// WithLoadTimeout bounds the synchronous graph read in Get.
func WithLoadTimeout(d time.Duration) StoreOption {
	return func(st *Store) {
		if d > 0 {
			st.loadTimeout = d
		}
	}
}

// WithRetryBackoff sets the first retry delay. Later delays double it.
func WithRetryBackoff(initial time.Duration) StoreOption {
	return func(st *Store) {
		if initial > 0 {
			st.retryInitial = initial
		}
	}
}

// WithIdleTTL sets how long a session may sit untouched before the sweep
// drops it from the cache.
func WithIdleTTL(d time.Duration) StoreOption {
	return func(st *Store) {
		if d > 0 {
			st.idleTTL = d
		}
	}
}

// WithSweepInterval sets the eviction sweep cadence.
func WithSweepInterval(d time.Duration) StoreOption {
	return func(st *Store) {
		if d > 0 {
			st.sweepEvery = d
		}
	}
}

// WithClock substitutes the time source used by the eviction sweep.
func WithClock(now func() time.Time) StoreOption {
	return func(st *Store) {
		if now != nil {
			st.now = now
		}
	}
}

// NewStore wraps a graph backend and starts the write-behind drainer and
// the eviction sweeper. Call Close to stop them and flush pending writes.
func NewStore(g graph.Store, opts ...StoreOption) *Store {
	st := &Store{
		graph:                g,
		tracer:               noop.NewTracerProvider().Tracer("jarvis/session"),
		observer:             nopObserver{},
		initialEffectiveness: defaultInitialEffectiveness,
		loadTimeout:          defaultLoadTimeout,
		retryInitial:         defaultRetryInitial,
		idleTTL:              defaultIdleTTL,
		sweepEvery:           defaultSweepInterval,
		now:                  time.Now,
		sessions:             make(map[string]*Session),
		locks:                make(map[string]*sync.Mutex),
		gens:                 make(map[slotKey]uint64),
		jobs:                 make(chan persistJob, persistQueueDepth),
		closing:              make(chan struct{}),
		drainDone:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(st)
	}

	st.loopsWG.Add(2)
	go st.drain()
	go st.sweepLoop()
	return st
}

// Lock serializes turns for one session: it blocks until the session is
// free and returns the matching unlock. Turns for different sessions do
// not contend.
func (st *Store) Lock(sessionID string) func() {
	st.mu.Lock()
	m, ok := st.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		st.locks[sessionID] = m
	}
	st.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Get returns the cached session, loading it from the graph on a miss.
// Unknown ids produce a fresh default session; a failed load also produces
// a fresh default and schedules a background reload so graph state is not
// silently lost while the backend is down.
func (st *Store) Get(ctx context.Context, id string) *Session {
	st.mu.Lock()
	if s, ok := st.sessions[id]; ok {
		st.mu.Unlock()
		return s
	}
	st.mu.Unlock()

	s, err := st.load(ctx, id)
	switch {
	case err != nil:
		slog.Warn("Session load failed, starting from defaults",
			"session_id", id, "error", err)
		s = New(id, st.initialEffectiveness)
		st.retryLoad(id)
	case s == nil:
		s = New(id, st.initialEffectiveness)
	}

	st.mu.Lock()
	if cached, ok := st.sessions[id]; ok {
		st.mu.Unlock()
		return cached
	}
	st.sessions[id] = s
	st.mu.Unlock()

	st.observer.ActiveSessions(1)
	return s
}

// Update replaces the cached session and enqueues an asynchronous persist.
// It never blocks on the graph and never fails: persistence errors are
// retried in the background and at worst logged away.
func (st *Store) Update(s *Session) {
	s.Touch()

	st.mu.Lock()
	_, existed := st.sessions[s.ID]
	st.sessions[s.ID] = s
	st.mu.Unlock()
	if !existed {
		st.observer.ActiveSessions(1)
	}

	st.persistAsync(s)
}

// Len reports the number of cached sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Close stops the background loops and drains the write-behind queue,
// giving every pending persist one final immediate attempt. It returns the
// context error if the drain does not finish in time.
func (st *Store) Close(ctx context.Context) error {
	first := false
	st.closeOnce.Do(func() {
		first = true
		st.closed.Store(true)
		close(st.closing)
	})
	if !first {
		return nil
	}

	drained := make(chan struct{})
	go func() {
		st.jobsWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return fmt.Errorf("session store drain: %w", ctx.Err())
	}

	close(st.drainDone)
	st.loopsWG.Wait()
	return st.graph.Close()
}

// load fetches one session entity from the graph within the bounded load
// budget. A nil session with a nil error means the entity does not exist.
func (st *Store) load(ctx context.Context, id string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, st.loadTimeout)
	defer cancel()
	ctx, span := st.tracer.Start(ctx, "graph.load",
		trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	e, err := st.graph.GetEntity(ctx, EntityName(id))
	if errors.Is(err, graph.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return decodeSession(id, e, st.initialEffectiveness), nil
}

// retryLoad re-reads a session from the graph after a delay and repopulates
// the cache, but only while the cached entry is still the untouched default
// a failed load produced. Once a turn has written anything, the cache wins.
func (st *Store) retryLoad(id string) {
	st.jobsWG.Add(1)
	go func() {
		defer st.jobsWG.Done()
		select {
		case <-time.After(st.retryInitial):
		case <-st.closing:
			return
		}

		s, err := st.load(context.Background(), id)
		if err != nil || s == nil {
			return
		}
		st.mu.Lock()
		if cur, ok := st.sessions[id]; ok && pristine(cur) {
			st.sessions[id] = s
			slog.Info("Session cache repopulated from graph", "session_id", id)
		}
		st.mu.Unlock()
	}()
}

// pristine reports whether a cached session is still the untouched default:
// replacing it cannot lose a turn's writes.
func pristine(s *Session) bool {
	return s.CurrentPhase == phases.PhaseInit &&
		s.InitialObjective == "" &&
		s.TransitionCount() == 0
}

func (st *Store) persistAsync(s *Session) {
	if st.closed.Load() {
		slog.Debug("Store closed, skipping persist", "session_id", s.ID)
		return
	}

	entities, relations, err := encodeSession(s)
	if err != nil {
		slog.Error("Session encode failed, state not persisted",
			"session_id", s.ID, "error", err)
		st.observer.PersistDropped(string(opEntities))
		return
	}
	st.enqueue(persistJob{sessionID: s.ID, op: opEntities, entities: entities})
	st.enqueue(persistJob{sessionID: s.ID, op: opRelations, relations: relations})
}

// enqueue stamps a fresh generation on the job's slot and hands it to the
// drainer. A newer generation supersedes any retry still in flight for the
// same slot, since that retry would write stale state.
func (st *Store) enqueue(job persistJob) {
	st.mu.Lock()
	key := slotKey{job.sessionID, job.op}
	st.gens[key]++
	job.gen = st.gens[key]
	st.mu.Unlock()

	job.attempt = 1
	st.jobsWG.Add(1)
	st.jobs <- job
}

func (st *Store) drain() {
	defer st.loopsWG.Done()
	for {
		select {
		case job := <-st.jobs:
			st.process(job)
		case <-st.drainDone:
			return
		}
	}
}

func (st *Store) process(job persistJob) {
	if st.superseded(job) {
		st.jobsWG.Done()
		return
	}

	err := st.persistOnce(job)
	switch {
	case err == nil:
		st.jobsWG.Done()
	case !graph.Retriable(err):
		slog.Error("Session persist failed permanently",
			"session_id", job.sessionID, "op", string(job.op),
			"attempt", job.attempt, "error", err)
		st.observer.PersistDropped(string(job.op))
		st.jobsWG.Done()
	case job.attempt >= maxPersistAttempts:
		slog.Error("Session persist dropped after retries",
			"session_id", job.sessionID, "op", string(job.op),
			"attempts", job.attempt, "error", err)
		st.observer.PersistDropped(string(job.op))
		st.jobsWG.Done()
	default:
		wait := st.retryInitial << (job.attempt - 1)
		slog.Warn("Session persist failed, retrying",
			"session_id", job.sessionID, "op", string(job.op),
			"attempt", job.attempt, "retry_in", wait, "error", err)
		job.attempt++
		st.scheduleRetry(job, wait)
	}
}

// scheduleRetry re-enqueues a job after its backoff. Shutdown collapses the
// wait so Close can drain with one last immediate attempt per job.
func (st *Store) scheduleRetry(job persistJob, wait time.Duration) {
	st.observer.PersistRetried(string(job.op))
	go func() {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-st.closing:
		}
		st.jobs <- job
	}()
}

func (st *Store) superseded(job persistJob) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	cur, ok := st.gens[slotKey{job.sessionID, job.op}]
	return ok && cur != job.gen
}

func (st *Store) persistOnce(job persistJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistAttemptTimeout)
	defer cancel()
	ctx, span := st.tracer.Start(ctx, "graph.persist", trace.WithAttributes(
		attribute.String("session_id", job.sessionID),
		attribute.String("op", string(job.op)),
		attribute.Int("attempt", job.attempt),
	))
	defer span.End()

	var err error
	switch job.op {
	case opEntities:
		err = st.graph.UpsertEntities(ctx, job.entities)
	case opRelations:
		err = st.graph.UpsertRelations(ctx, job.relations)
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (st *Store) sweepLoop() {
	defer st.loopsWG.Done()
	ticker := time.NewTicker(st.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			st.sweep(st.now())
		case <-st.closing:
			return
		}
	}
}

// sweep drops cache entries idle past the TTL. Graph rows stay, so an
// evicted session reloads on its next contact. Entries whose turn is mid
// flight are skipped until the next tick.
func (st *Store) sweep(now time.Time) int {
	st.mu.Lock()
	evicted := 0
	for id, s := range st.sessions {
		if s.IdleSince(now) < st.idleTTL {
			continue
		}
		m := st.locks[id]
		if m != nil && !m.TryLock() {
			continue
		}
		delete(st.sessions, id)
		delete(st.locks, id)
		delete(st.gens, slotKey{id, opEntities})
		delete(st.gens, slotKey{id, opRelations})
		if m != nil {
			m.Unlock()
		}
		evicted++
	}
	st.mu.Unlock()

	if evicted > 0 {
		st.observer.ActiveSessions(-evicted)
		slog.Info("Session cache sweep", "evicted", evicted)
	}
	return evicted
}

// encodeSession projects a session onto the graph vocabulary.
func encodeSession(s *Session) ([]graph.Entity, []graph.Relation, error) {
	payloadJSON, err := json.Marshal(s.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode payload for %s: %w", s.ID, err)
	}

	name := EntityName(s.ID)
	entities := []graph.Entity{{
		Name:       name,
		EntityType: entityTypeSession,
		Observations: []string{
			obsPhase + ": " + string(s.CurrentPhase),
			obsObjective + ": " + s.InitialObjective,
			obsRole + ": " + string(s.DetectedRole),
			obsEffectiveness + ": " + strconv.FormatFloat(s.ReasoningEffectiveness, 'f', -1, 64),
			obsCreatedAt + ": " + strconv.FormatInt(s.CreatedAt, 10),
			obsLastActivity + ": " + strconv.FormatInt(s.LastActivity, 10),
			obsPayload + ": " + string(payloadJSON),
		},
	}}
	relations := []graph.Relation{{
		From:         name,
		To:           phaseEntityName(s.CurrentPhase),
		RelationType: relationTransitionedTo,
	}}

	for _, t := range s.Todos() {
		taskName := taskEntityName(s.ID, t.ID)
		entities = append(entities, graph.Entity{
			Name:       taskName,
			EntityType: entityTypeTask,
			Observations: []string{
				obsContent + ": " + t.Content,
				obsStatus + ": " + string(t.Status),
				obsPriority + ": " + string(t.Priority),
			},
		})
		relations = append(relations, graph.Relation{
			From:         name,
			To:           taskName,
			RelationType: relationHasTask,
		})
	}
	return entities, relations, nil
}

// decodeSession rebuilds a session from its graph entity. Observations are
// matched by exact key and anything unparseable is skipped. Literal
// undefined and null values keep the field default; an empty value after
// the colon reads as the empty string.
func decodeSession(id string, e graph.Entity, initialEffectiveness float64) *Session {
	s := New(id, initialEffectiveness)
	for _, obs := range e.Observations {
		key, value, ok := splitObservation(obs)
		if !ok {
			continue
		}
		if value == valueUndefined || value == valueNull {
			continue
		}
		switch key {
		case obsPhase:
			if p, err := phases.Parse(value); err == nil {
				s.CurrentPhase = p
			}
		case obsObjective:
			s.InitialObjective = value
		case obsRole:
			if r, err := roles.Parse(value); err == nil {
				s.DetectedRole = r
			}
		case obsEffectiveness:
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				s.ReasoningEffectiveness = f
			}
		case obsCreatedAt:
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				s.CreatedAt = n
			}
		case obsLastActivity:
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				s.LastActivity = n
			}
		case obsPayload:
			var payload map[string]any
			if err := json.Unmarshal([]byte(value), &payload); err == nil && payload != nil {
				s.Payload = payload
			}
		}
	}
	return s
}

func splitObservation(obs string) (key, value string, ok bool) {
	key, value, ok = strings.Cut(obs, ":")
	if !ok || key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}
