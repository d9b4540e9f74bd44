package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// State is what a consumer renders. It is always defined: a failed fetch
// shows up in Err, never as a panic.
type State[T any] struct {
	Data       T
	HasData    bool
	Err        error
	Status     Status
	IsLoading  bool // fetching with nothing to show yet
	IsFetching bool // any fetch in progress, including background refreshes
	IsStale    bool
	UpdatedAt  time.Time
}

type QueryOptions[T any] struct {
	// Disabled mounts the query without fetching until Refetch is called.
	Disabled bool
	// StaleTime overrides the store default when positive.
	StaleTime time.Duration
	// RefetchInterval is consulted after each successful fetch; a positive
	// result schedules another background fetch.
	RefetchInterval func(data T) time.Duration
}

// Query is one mounted consumer of a cache key.
type Query[T any] struct {
	store *Store
	key   Key
	fetch Fetcher
	opts  QueryOptions[T]

	mu        sync.Mutex
	state     State[T]
	listeners map[uint64]func(State[T])
	nextID    uint64
	closed    bool
	interval  *time.Timer
	unobserve func()
}

// NewQuery mounts a query on key. Cached data is served immediately; a fetch
// starts in the background when there is none or it is stale.
func NewQuery[T any](s *Store, key Key, fetch func(ctx context.Context) (T, error), opts QueryOptions[T]) *Query[T] {
	q := &Query[T]{
		store: s,
		key:   append(Key(nil), key...),
		fetch: func(ctx context.Context) (any, error) {
			return fetch(ctx)
		},
		opts:      opts,
		listeners: make(map[uint64]func(State[T])),
	}
	if q.opts.StaleTime <= 0 {
		q.opts.StaleTime = s.StaleTime()
	}

	q.unobserve = s.observe(q.key, q.fetch, q.onEvent)
	q.hydrate()

	snap := s.Snapshot(q.key)
	if !opts.Disabled && !snap.Fetching && !q.fresh(snap) {
		s.fetchAsync(q.key, q.fetch)
	}
	q.sync()
	return q
}

func (q *Query[T]) Key() Key { return q.key }

func (q *Query[T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Subscribe calls fn on every state change until the returned func is
// called or the query is closed.
func (q *Query[T]) Subscribe(fn func(State[T])) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return func() {}
	}
	q.nextID++
	id := q.nextID
	q.listeners[id] = fn
	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

// Get returns fresh cached data or waits for the shared fetch.
func (q *Query[T]) Get(ctx context.Context) (T, error) {
	return q.result(q.store.fetch(ctx, q.key, q.fetch, false, q.opts.StaleTime))
}

// Refetch cancels any in-flight fetch for the key and starts a new one that
// every waiter, including earlier ones, receives.
func (q *Query[T]) Refetch(ctx context.Context) (T, error) {
	return q.result(q.store.fetch(ctx, q.key, q.fetch, true, q.opts.StaleTime))
}

// Close unmounts the query. Fetches still running keep filling the shared
// cache but this query no longer changes state or notifies.
func (q *Query[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.listeners = nil
	if q.interval != nil {
		q.interval.Stop()
		q.interval = nil
	}
	unobserve := q.unobserve
	q.mu.Unlock()

	unobserve()
}

func (q *Query[T]) result(v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("query %s: cached value has type %T", q.key, v)
	}
	return t, nil
}

func (q *Query[T]) onEvent(ev Event) {
	q.sync()
	if ev.Type == EventUpdated {
		q.scheduleInterval()
	}
}

// sync recomputes state from the store and notifies listeners on change.
// The snapshot is taken under q.mu so concurrent syncs apply in order; the
// store never calls observers while holding its own lock.
func (q *Query[T]) sync() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	next := q.derive(q.store.Snapshot(q.key))
	if sameState(q.state, next) {
		q.mu.Unlock()
		return
	}
	q.state = next
	listeners := make([]func(State[T]), 0, len(q.listeners))
	for _, fn := range q.listeners {
		listeners = append(listeners, fn)
	}
	q.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}

func (q *Query[T]) derive(snap Snapshot) State[T] {
	st := State[T]{
		Err:        snap.Err,
		IsFetching: snap.Fetching,
		UpdatedAt:  snap.UpdatedAt,
	}
	if snap.HasData {
		if data, ok := snap.Data.(T); ok {
			st.Data = data
			st.HasData = true
		}
	}
	st.IsStale = st.HasData && !q.fresh(snap)

	switch {
	case snap.Fetching && !st.HasData:
		st.Status = StatusLoading
	case snap.Err != nil:
		st.Status = StatusError
	case st.HasData:
		st.Status = StatusSuccess
	default:
		st.Status = StatusIdle
	}
	st.IsLoading = st.Status == StatusLoading
	return st
}

func (q *Query[T]) fresh(snap Snapshot) bool {
	if !snap.HasData || snap.Stale || snap.Err != nil {
		return false
	}
	if _, ok := snap.Data.(T); !ok {
		return false
	}
	return time.Since(snap.UpdatedAt) < q.opts.StaleTime
}

// hydrate loads persisted data for an empty entry so it can be shown while
// the first fetch runs.
func (q *Query[T]) hydrate() {
	if q.store.Snapshot(q.key).HasData {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	raw, updatedAt, ok := q.store.persisted(ctx, q.key)
	if !ok {
		return
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		q.store.logger.Warn("discarding persisted cache entry", "key", q.key.String(), "error", err)
		return
	}
	q.store.hydrate(q.key, v, updatedAt)
}

func (q *Query[T]) scheduleInterval() {
	if q.opts.RefetchInterval == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || !q.state.HasData {
		return
	}
	d := q.opts.RefetchInterval(q.state.Data)
	if q.interval != nil {
		q.interval.Stop()
		q.interval = nil
	}
	if d <= 0 {
		return
	}
	q.interval = time.AfterFunc(d, func() {
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if !closed {
			q.store.fetchAsync(q.key, q.fetch)
		}
	})
}

func sameState[T any](a, b State[T]) bool {
	return a.Status == b.Status &&
		a.HasData == b.HasData &&
		sameErr(a.Err, b.Err) &&
		a.IsFetching == b.IsFetching &&
		a.IsStale == b.IsStale &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

func sameErr(a, b error) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Error() == b.Error()
}
