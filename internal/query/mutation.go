package query

import (
	"context"
	"sync"
)

type MutationStatus int

const (
	MutationIdle MutationStatus = iota
	MutationPending
	MutationSuccess
	MutationError
)

func (s MutationStatus) String() string {
	switch s {
	case MutationPending:
		return "pending"
	case MutationSuccess:
		return "success"
	case MutationError:
		return "error"
	default:
		return "idle"
	}
}

type MutationState[O any] struct {
	Data      O
	HasData   bool
	Err       error
	Status    MutationStatus
	IsLoading bool
}

type MutationOptions[I, O any] struct {
	// Invalidates lists keys to mark stale (and refetch when observed) after success.
	Invalidates func(in I, out O) []Key
	// Removes lists keys whose data no longer exists after success.
	Removes func(in I, out O) []Key
	// OnSuccess runs after invalidation, e.g. to seed the cache with out.
	OnSuccess func(s *Store, in I, out O)
	OnError   func(in I, err error)
}

// Mutation performs writes. It never caches its own result and never
// retries, so a write is sent at most once per Mutate call.
type Mutation[I, O any] struct {
	store *Store
	fn    func(ctx context.Context, in I) (O, error)
	opts  MutationOptions[I, O]

	mu        sync.Mutex
	state     MutationState[O]
	seq       uint64
	listeners map[uint64]func(MutationState[O])
	nextID    uint64
	closed    bool
}

func NewMutation[I, O any](s *Store, fn func(ctx context.Context, in I) (O, error), opts MutationOptions[I, O]) *Mutation[I, O] {
	return &Mutation[I, O]{
		store:     s,
		fn:        fn,
		opts:      opts,
		listeners: make(map[uint64]func(MutationState[O])),
	}
}

// Mutate runs the write. Cache side effects apply to every successful call;
// only the most recent call drives State.
func (m *Mutation[I, O]) Mutate(ctx context.Context, in I) (O, error) {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()
	m.set(seq, MutationState[O]{Status: MutationPending, IsLoading: true})

	out, err := m.fn(ctx, in)
	if err != nil {
		if m.opts.OnError != nil {
			m.opts.OnError(in, err)
		}
		m.set(seq, MutationState[O]{Err: err, Status: MutationError})
		return out, err
	}

	if m.opts.Removes != nil {
		for _, key := range m.opts.Removes(in, out) {
			m.store.Remove(key)
		}
	}
	if m.opts.Invalidates != nil {
		for _, key := range m.opts.Invalidates(in, out) {
			m.store.Invalidate(key)
		}
	}
	if m.opts.OnSuccess != nil {
		m.opts.OnSuccess(m.store, in, out)
	}

	m.set(seq, MutationState[O]{Data: out, HasData: true, Status: MutationSuccess})
	return out, nil
}

func (m *Mutation[I, O]) State() MutationState[O] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mutation[I, O]) Subscribe(fn func(MutationState[O])) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return func() {}
	}
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Reset returns the mutation to idle and detaches any call still running.
func (m *Mutation[I, O]) Reset() {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()
	m.set(seq, MutationState[O]{})
}

// Close unmounts the mutation; calls still running finish their writes and
// cache effects without touching State.
func (m *Mutation[I, O]) Close() {
	m.mu.Lock()
	m.closed = true
	m.listeners = nil
	m.mu.Unlock()
}

func (m *Mutation[I, O]) set(seq uint64, st MutationState[O]) {
	m.mu.Lock()
	if m.closed || seq != m.seq {
		m.mu.Unlock()
		return
	}
	m.state = st
	listeners := make([]func(MutationState[O]), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
}
