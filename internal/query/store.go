// Package query is a keyed read cache with request deduplication,
// stale-while-revalidate and mutation-driven invalidation. Consumers hold
// Query and Mutation instances; the Store notifies them of changes.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nikhilbhutani/ragdesk/internal/metrics"
	"github.com/nikhilbhutani/ragdesk/internal/transport"
)

var (
	ErrClosed = errors.New("query store closed")
	// ErrCanceled is returned to waiters whose fetch was dropped by Clear or Remove.
	ErrCanceled = errors.New("query fetch canceled")
)

const (
	defaultCacheTime    = 5 * time.Minute
	defaultRetry        = 2
	defaultFetchTimeout = 2 * time.Minute
	persistTimeout      = 2 * time.Second
)

// Fetcher loads the value for one key. It must honor ctx.
type Fetcher func(ctx context.Context) (any, error)

// Persister keeps successful reads across process restarts.
type Persister interface {
	Load(ctx context.Context, key string) ([]byte, time.Time, bool, error)
	Save(ctx context.Context, key string, data []byte, updatedAt time.Time) error
	// Delete removes key and every key below it.
	Delete(ctx context.Context, prefix string) error
	Clear(ctx context.Context) error
}

type Options struct {
	// StaleTime is how long fetched data counts as fresh. Zero means data is
	// stale as soon as it arrives and is revalidated on the next mount.
	StaleTime time.Duration
	// CacheTime is how long an entry nobody observes is kept.
	CacheTime time.Duration
	// Retry is the number of extra attempts after a retryable failure.
	// Negative disables retries.
	Retry int
	// RetryDelay returns the wait before attempt n (1-based).
	RetryDelay func(attempt int) time.Duration
	// Retryable decides which failures are retried; network errors by default.
	Retryable    func(error) bool
	FetchTimeout time.Duration
	Persister    Persister
	Logger       *slog.Logger
}

type EventType int

const (
	EventFetching EventType = iota
	EventUpdated
	EventInvalidated
	EventRemoved
)

type Event struct {
	Key  Key
	Type EventType
}

// Snapshot is a point-in-time copy of one cache entry.
type Snapshot struct {
	Data      any
	HasData   bool
	Err       error
	UpdatedAt time.Time
	Fetching  bool
	Stale     bool
}

type flight struct {
	done       chan struct{}
	cancel     context.CancelFunc
	closed     bool
	superseded bool
	next       *flight
	val        any
	err        error
}

func (f *flight) finish(val any, err error) {
	if f.closed {
		return
	}
	f.val, f.err = val, err
	f.closed = true
	close(f.done)
}

type entry struct {
	key       Key
	data      any
	hasData   bool
	err       error
	updatedAt time.Time
	stale     bool
	flight    *flight
	fetcher   Fetcher
	observers map[uint64]func(Event)
	gcTimer   *time.Timer
}

// Store is the explicit cache object handed to every consumer. It replaces
// any process-wide cache state.
type Store struct {
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry
	nextID  uint64
	closed  bool
}

func NewStore(opts Options) *Store {
	if opts.CacheTime <= 0 {
		opts.CacheTime = defaultCacheTime
	}
	if opts.Retry == 0 {
		opts.Retry = defaultRetry
	}
	if opts.Retry < 0 {
		opts.Retry = 0
	}
	if opts.RetryDelay == nil {
		opts.RetryDelay = func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * 500 * time.Millisecond
		}
	}
	if opts.Retryable == nil {
		opts.Retryable = transport.IsNetwork
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
}

func (s *Store) StaleTime() time.Duration { return s.opts.StaleTime }

// Fetch returns fresh cached data for key, or joins/starts a fetch and waits
// for it. With force set any in-flight fetch is canceled and superseded.
func (s *Store) Fetch(ctx context.Context, key Key, fn Fetcher, force bool) (any, error) {
	return s.fetch(ctx, key, fn, force, s.opts.StaleTime)
}

func (s *Store) fetch(ctx context.Context, key Key, fn Fetcher, force bool, staleTime time.Duration) (any, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	e := s.entryLocked(key)
	if !force && e.flight == nil && e.freshLocked(staleTime) {
		data := e.data
		s.mu.Unlock()
		metrics.QueryCacheHits.Inc()
		return data, nil
	}
	metrics.QueryCacheMisses.Inc()
	if !force && e.flight != nil {
		metrics.QueryDedupJoins.Inc()
	}
	f, notify := s.startLocked(e, fn, force)
	s.mu.Unlock()
	notify()

	return s.wait(ctx, f)
}

// fetchAsync starts a background fetch unless one is already running.
func (s *Store) fetchAsync(key Key, fn Fetcher) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	e := s.entryLocked(key)
	if e.flight != nil {
		s.mu.Unlock()
		return
	}
	_, notify := s.startLocked(e, fn, false)
	s.mu.Unlock()
	notify()
}

func (s *Store) wait(ctx context.Context, f *flight) (any, error) {
	for {
		select {
		case <-f.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		s.mu.Lock()
		superseded, next, val, err := f.superseded, f.next, f.val, f.err
		s.mu.Unlock()

		if !superseded {
			return val, err
		}
		if next == nil {
			return nil, ErrCanceled
		}
		f = next
	}
}

// startLocked returns the flight callers should wait on, starting one when
// none is running or when force supersedes the current one.
func (s *Store) startLocked(e *entry, fn Fetcher, force bool) (*flight, func()) {
	if fn != nil {
		e.fetcher = fn
	}
	if e.flight != nil && !force {
		return e.flight, func() {}
	}
	if e.fetcher == nil {
		f := &flight{done: make(chan struct{})}
		f.finish(nil, fmt.Errorf("query %s: no fetcher registered", e.key))
		return f, func() {}
	}

	fctx, cancel := context.WithTimeout(s.ctx, s.opts.FetchTimeout)
	f := &flight{done: make(chan struct{}), cancel: cancel}
	if old := e.flight; old != nil {
		old.superseded = true
		old.next = f
		old.cancel()
		old.finish(nil, context.Canceled)
	}
	e.flight = f
	e.stopGCLocked()

	go s.run(fctx, e, f, e.fetcher)

	return f, s.notifier(e, EventFetching)
}

func (s *Store) run(ctx context.Context, e *entry, f *flight, fn Fetcher) {
	defer f.cancel()
	val, err := s.fetchWithRetry(ctx, e.key, fn)

	s.mu.Lock()
	if f.closed {
		// Superseded or dropped while running; the result belongs to nobody.
		s.mu.Unlock()
		return
	}
	e.flight = nil
	if err == nil {
		e.data, e.hasData, e.err = val, true, nil
		e.updatedAt = time.Now()
		e.stale = false
	} else {
		e.err = err
	}
	f.finish(val, err)
	updatedAt := e.updatedAt
	notify := s.notifier(e, EventUpdated)
	s.scheduleGCLocked(e)
	s.mu.Unlock()

	if err == nil {
		s.persist(e.key, val, updatedAt)
	} else {
		s.logger.Debug("query fetch failed", "key", e.key.String(), "error", err)
	}
	notify()
}

func (s *Store) fetchWithRetry(ctx context.Context, key Key, fn Fetcher) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.Retry; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, lastErr
			case <-time.After(s.opts.RetryDelay(attempt)):
			}
			metrics.QueryRetries.Inc()
			s.logger.Debug("retrying query fetch", "key", key.String(), "attempt", attempt)
		}

		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err
		if ctx.Err() != nil || !s.opts.Retryable(err) {
			break
		}
	}
	return nil, lastErr
}

// Invalidate marks every entry under prefix stale. Observed or in-flight
// entries are refetched at once, superseding any fetch that may return
// pre-write data.
func (s *Store) Invalidate(prefix Key) int {
	s.mu.Lock()
	var notifies []func()
	n := 0
	for _, e := range s.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		n++
		e.stale = true
		notifies = append(notifies, s.notifier(e, EventInvalidated))
		if (len(e.observers) > 0 || e.flight != nil) && e.fetcher != nil && !s.closed {
			_, notify := s.startLocked(e, nil, true)
			notifies = append(notifies, notify)
		}
	}
	s.mu.Unlock()

	metrics.QueryInvalidations.Add(float64(n))
	for _, notify := range notifies {
		notify()
	}
	return n
}

// Remove drops data for every key under prefix. Entries that still have
// observers are kept empty so their subscriptions survive.
func (s *Store) Remove(prefix Key) {
	s.mu.Lock()
	var notifies []func()
	for id, e := range s.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		e.resetLocked()
		if len(e.observers) == 0 {
			e.stopGCLocked()
			delete(s.entries, id)
			continue
		}
		notifies = append(notifies, s.notifier(e, EventRemoved))
	}
	s.mu.Unlock()

	if p := s.opts.Persister; p != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := p.Delete(ctx, prefix.String()); err != nil {
			s.logger.Warn("persisted cache delete failed", "prefix", prefix.String(), "error", err)
		}
	}
	for _, notify := range notifies {
		notify()
	}
}

// SetData writes a value directly, typically a mutation's response.
// The last write to resolve wins.
func (s *Store) SetData(key Key, val any) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	e := s.entryLocked(key)
	e.data, e.hasData, e.err = val, true, nil
	e.updatedAt = time.Now()
	e.stale = false
	updatedAt := e.updatedAt
	notify := s.notifier(e, EventUpdated)
	s.scheduleGCLocked(e)
	s.mu.Unlock()

	s.persist(key, val, updatedAt)
	notify()
}

// GetData returns the cached value for key regardless of freshness.
func (s *Store) GetData(key Key) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.String()]
	if !ok || !e.hasData {
		return nil, false
	}
	return e.data, true
}

func (s *Store) Snapshot(key Key) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.String()]
	if !ok {
		return Snapshot{}
	}
	return Snapshot{
		Data:      e.data,
		HasData:   e.hasData,
		Err:       e.err,
		UpdatedAt: e.updatedAt,
		Fetching:  e.flight != nil,
		Stale:     e.stale,
	}
}

// Clear drops every entry and the persisted cache, e.g. on logout.
// Observers are told their data is gone.
func (s *Store) Clear() {
	s.mu.Lock()
	var notifies []func()
	for id, e := range s.entries {
		e.resetLocked()
		if len(e.observers) == 0 {
			e.stopGCLocked()
			delete(s.entries, id)
			continue
		}
		notifies = append(notifies, s.notifier(e, EventRemoved))
	}
	s.mu.Unlock()

	if p := s.opts.Persister; p != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := p.Clear(ctx); err != nil {
			s.logger.Warn("persisted cache clear failed", "error", err)
		}
	}
	for _, notify := range notifies {
		notify()
	}
}

// Close clears the store and rejects further fetches.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Clear()
	s.cancel()
}

// observe registers fn for events on key and records fetcher as the way to
// refresh it. The returned func unregisters.
func (s *Store) observe(key Key, fetcher Fetcher, fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(key)
	if fetcher != nil {
		e.fetcher = fetcher
	}
	s.nextID++
	id := s.nextID
	e.observers[id] = fn
	e.stopGCLocked()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(e.observers, id)
			s.scheduleGCLocked(e)
		})
	}
}

func (s *Store) persisted(ctx context.Context, key Key) ([]byte, time.Time, bool) {
	p := s.opts.Persister
	if p == nil {
		return nil, time.Time{}, false
	}
	data, updatedAt, ok, err := p.Load(ctx, key.String())
	if err != nil {
		s.logger.Warn("persisted cache load failed", "key", key.String(), "error", err)
		return nil, time.Time{}, false
	}
	return data, updatedAt, ok
}

// hydrate seeds an empty entry with persisted data, marked stale so it is
// revalidated.
func (s *Store) hydrate(key Key, val any, updatedAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(key)
	if e.hasData || e.flight != nil {
		return false
	}
	e.data, e.hasData = val, true
	e.updatedAt = updatedAt
	e.stale = true
	return true
}

func (s *Store) persist(key Key, val any, updatedAt time.Time) {
	p := s.opts.Persister
	if p == nil {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		s.logger.Warn("persist cache entry: marshal failed", "key", key.String(), "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := p.Save(ctx, key.String(), data, updatedAt); err != nil {
		s.logger.Warn("persist cache entry failed", "key", key.String(), "error", err)
	}
}

func (s *Store) entryLocked(key Key) *entry {
	id := key.String()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{key: append(Key(nil), key...), observers: make(map[uint64]func(Event))}
		s.entries[id] = e
	}
	return e
}

// notifier snapshots the observers now and returns a func that calls them;
// it must run without s.mu held.
func (s *Store) notifier(e *entry, typ EventType) func() {
	if len(e.observers) == 0 {
		return func() {}
	}
	fns := make([]func(Event), 0, len(e.observers))
	for _, fn := range e.observers {
		fns = append(fns, fn)
	}
	ev := Event{Key: e.key, Type: typ}
	return func() {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

func (s *Store) scheduleGCLocked(e *entry) {
	if len(e.observers) > 0 || e.flight != nil {
		return
	}
	e.stopGCLocked()
	e.gcTimer = time.AfterFunc(s.opts.CacheTime, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		id := e.key.String()
		if cur, ok := s.entries[id]; ok && cur == e && len(e.observers) == 0 && e.flight == nil {
			delete(s.entries, id)
		}
	})
}

func (e *entry) stopGCLocked() {
	if e.gcTimer != nil {
		e.gcTimer.Stop()
		e.gcTimer = nil
	}
}

func (e *entry) freshLocked(staleTime time.Duration) bool {
	if !e.hasData || e.stale || e.err != nil {
		return false
	}
	return time.Since(e.updatedAt) < staleTime
}

// resetLocked drops data and cancels the running fetch; its waiters get ErrCanceled.
func (e *entry) resetLocked() {
	if f := e.flight; f != nil {
		f.superseded = true
		f.next = nil
		f.cancel()
		f.finish(nil, ErrCanceled)
		e.flight = nil
	}
	e.data, e.hasData, e.err = nil, false, nil
	e.updatedAt = time.Time{}
	e.stale = false
}
