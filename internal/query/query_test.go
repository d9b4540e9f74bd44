package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nikhilbhutani/ragdesk/internal/transport"
)

type stateLog[T any] struct {
	mu     sync.Mutex
	states []State[T]
}

func (l *stateLog[T]) record(st State[T]) {
	l.mu.Lock()
	l.states = append(l.states, st)
	l.mu.Unlock()
}

func (l *stateLog[T]) statuses() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Status, 0, len(l.states))
	for _, st := range l.states {
		if len(out) == 0 || out[len(out)-1] != st.Status {
			out = append(out, st.Status)
		}
	}
	return out
}

func TestQuery_LoadsOnMount(t *testing.T) {
	s := newTestStore(Options{StaleTime: time.Minute})
	defer s.Close()

	release := make(chan struct{})
	q := NewQuery(s, Key{"workspaces"}, func(ctx context.Context) ([]string, error) {
		<-release
		return []string{"w1", "w2"}, nil
	}, QueryOptions[[]string]{})
	defer q.Close()

	st := q.State()
	if !st.IsLoading || st.Status != StatusLoading || st.HasData {
		t.Fatalf("initial state = %+v", st)
	}

	close(release)
	waitFor(t, "success", func() bool { return q.State().Status == StatusSuccess })
	st = q.State()
	if len(st.Data) != 2 || st.IsLoading || st.IsFetching {
		t.Errorf("final state = %+v", st)
	}
}

func TestQuery_ErrorThenLoadingThenSuccess(t *testing.T) {
	s := newTestStore(Options{Retry: -1})
	defer s.Close()

	var calls atomic.Int32
	release := make(chan struct{})
	q := NewQuery(s, Key{"workspaces", "w1"}, func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", &transport.Error{Kind: transport.KindServer, Status: 500, Message: "boom"}
		}
		<-release
		return "workspace", nil
	}, QueryOptions[string]{})
	defer q.Close()

	var log stateLog[string]
	unsub := q.Subscribe(log.record)
	defer unsub()

	waitFor(t, "error", func() bool { return q.State().Status == StatusError })
	if !transport.Is(q.State().Err, transport.KindServer) {
		t.Fatalf("expected ServerError, got %v", q.State().Err)
	}

	go q.Refetch(context.Background())
	waitFor(t, "loading", func() bool { return q.State().Status == StatusLoading })
	close(release)
	waitFor(t, "success", func() bool { return q.State().Status == StatusSuccess })

	got := log.statuses()
	want := []Status{StatusError, StatusLoading, StatusSuccess}
	if len(got) < len(want) {
		t.Fatalf("statuses = %v", got)
	}
	got = got[len(got)-len(want):]
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses = %v, want suffix %v", got, want)
		}
	}
	if q.State().Err != nil {
		t.Errorf("error not cleared: %v", q.State().Err)
	}
}

func TestQuery_SharedKeySingleRequest(t *testing.T) {
	s := newTestStore(Options{StaleTime: time.Minute})
	defer s.Close()

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	a := NewQuery(s, Key{"documents", "ws1"}, fetch, QueryOptions[int]{})
	defer a.Close()
	b := NewQuery(s, Key{"documents", "ws1"}, fetch, QueryOptions[int]{})
	defer b.Close()

	close(release)
	waitFor(t, "both resolved", func() bool {
		return a.State().Status == StatusSuccess && b.State().Status == StatusSuccess
	})
	if got := calls.Load(); got != 1 {
		t.Errorf("expected one request, got %d", got)
	}
	if b.State().Data != 7 {
		t.Errorf("b data = %d", b.State().Data)
	}
}

func TestQuery_CloseStopsUpdates(t *testing.T) {
	s := newTestStore(Options{})
	defer s.Close()

	release := make(chan struct{})
	q := NewQuery(s, Key{"chat", "ws1"}, func(ctx context.Context) (string, error) {
		<-release
		return "late", nil
	}, QueryOptions[string]{})

	var notified atomic.Int32
	q.Subscribe(func(State[string]) { notified.Add(1) })
	q.Close()
	close(release)

	waitFor(t, "cache filled", func() bool { return s.Snapshot(Key{"chat", "ws1"}).HasData })
	if n := notified.Load(); n != 0 {
		t.Errorf("closed query notified %d times", n)
	}
	if q.State().HasData {
		t.Error("closed query state changed")
	}
}

func TestQuery_FreshCacheSkipsFetch(t *testing.T) {
	s := newTestStore(Options{StaleTime: time.Hour})
	defer s.Close()
	s.SetData(Key{"workspaces"}, []string{"cached"})

	q := NewQuery(s, Key{"workspaces"}, func(ctx context.Context) ([]string, error) {
		t.Error("fresh data must not be refetched")
		return nil, nil
	}, QueryOptions[[]string]{})
	defer q.Close()

	st := q.State()
	if st.Status != StatusSuccess || st.IsFetching || st.Data[0] != "cached" {
		t.Errorf("state = %+v", st)
	}
}

func TestQuery_DisabledWaitsForRefetch(t *testing.T) {
	s := newTestStore(Options{})
	defer s.Close()

	var calls atomic.Int32
	q := NewQuery(s, Key{"search", "ws1", ""}, func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}, QueryOptions[int]{Disabled: true})
	defer q.Close()

	if st := q.State(); st.Status != StatusIdle {
		t.Fatalf("disabled query status = %v", st.Status)
	}
	if calls.Load() != 0 {
		t.Fatal("disabled query fetched")
	}
	v, err := q.Refetch(context.Background())
	if err != nil || v != 1 {
		t.Fatalf("refetch = %d, %v", v, err)
	}
}

func TestQuery_RefetchIntervalPollsUntilDone(t *testing.T) {
	s := newTestStore(Options{})
	defer s.Close()

	var calls atomic.Int32
	q := NewQuery(s, Key{"documents", "ws1"}, func(ctx context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "pending", nil
		}
		return "processed", nil
	}, QueryOptions[string]{
		RefetchInterval: func(status string) time.Duration {
			if status == "pending" {
				return 5 * time.Millisecond
			}
			return 0
		},
	})
	defer q.Close()

	waitFor(t, "processed", func() bool { return q.State().Data == "processed" })
	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != 3 {
		t.Errorf("polling continued after terminal state: %d calls", got)
	}
}

func TestQuery_HydratesFromPersister(t *testing.T) {
	p := newMemPersister()
	p.Save(context.Background(), Key{"workspaces"}.String(), []byte(`["persisted"]`), time.Now())

	s := newTestStore(Options{StaleTime: time.Hour, Persister: p})
	defer s.Close()

	release := make(chan struct{})
	q := NewQuery(s, Key{"workspaces"}, func(ctx context.Context) ([]string, error) {
		<-release
		return []string{"live"}, nil
	}, QueryOptions[[]string]{})
	defer q.Close()

	st := q.State()
	if !st.HasData || st.Data[0] != "persisted" || !st.IsStale || !st.IsFetching {
		t.Fatalf("hydrated state = %+v", st)
	}
	if st.IsLoading {
		t.Error("hydrated query should revalidate in the background, not load")
	}
	close(release)
	waitFor(t, "live data", func() bool {
		st := q.State()
		return st.HasData && st.Data[0] == "live"
	})
}

func TestQuery_GetReportsTypeMismatch(t *testing.T) {
	s := newTestStore(Options{StaleTime: time.Hour})
	defer s.Close()
	s.SetData(Key{"k"}, "a string")

	q := NewQuery(s, Key{"k"}, func(ctx context.Context) (int, error) {
		return 0, errors.New("unused")
	}, QueryOptions[int]{Disabled: true})
	defer q.Close()

	if _, err := q.Get(context.Background()); err == nil {
		t.Error("expected type mismatch error")
	}
}

func TestQuery_InstantFetchSettlesNotFetching(t *testing.T) {
	s := newTestStore(Options{StaleTime: time.Minute})
	defer s.Close()

	queries := make([]*Query[int], 500)
	for i := range queries {
		queries[i] = NewQuery(s, Key{"instant", time.Duration(i).String()}, func(ctx context.Context) (int, error) {
			return 1, nil
		}, QueryOptions[int]{})
		defer queries[i].Close()
	}

	for i, q := range queries {
		waitFor(t, "query settles", func() bool {
			st := q.State()
			return st.Status == StatusSuccess && !st.IsFetching
		})
		if st := q.State(); st.Data != 1 {
			t.Errorf("query %d data = %d", i, st.Data)
		}
	}
}
