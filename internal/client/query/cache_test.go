package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/donorsync/internal/client/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu     sync.Mutex
	epoch  uint64
	ctx    context.Context
	cancel context.CancelFunc
}

func newFakeSession() *fakeSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeSession{epoch: 1, ctx: ctx, cancel: cancel}
}

func (s *fakeSession) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

func (s *fakeSession) Context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *fakeSession) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	s.epoch++
	s.ctx, s.cancel = context.WithCancel(context.Background())
}

// gatedLoader counts calls and blocks each one until release is closed.
type gatedLoader struct {
	calls   atomic.Int32
	release chan struct{}
	value   any
	err     error
}

func newGatedLoader(v any) *gatedLoader {
	return &gatedLoader{release: make(chan struct{}), value: v}
}

func (g *gatedLoader) load(ctx context.Context) (any, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
		return g.value, g.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func staticLoader(v any, calls *atomic.Int32) Loader {
	return func(context.Context) (any, error) {
		if calls != nil {
			calls.Add(1)
		}
		return v, nil
	}
}

func TestFetch_ConcurrentCallersShareOneLoad(t *testing.T) {
	c := New(Options{Session: newFakeSession(), Metrics: metrics.New()})
	g := newGatedLoader("donors")

	const n = 10
	var wg sync.WaitGroup
	results := make([]any, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.Fetch(context.Background(), "donor/list", g.load)
		}(i)
	}

	require.Eventually(t, func() bool { return g.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(g.release)
	wg.Wait()

	assert.Equal(t, int32(1), g.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "donors", results[i])
	}
}

func TestFetch_FreshValueIsServedFromMemory(t *testing.T) {
	c := New(Options{Session: newFakeSession()})
	var calls atomic.Int32
	ctx := context.Background()

	v, refreshing, err := c.Fetch(ctx, "profile/me", staticLoader("p1", &calls))
	require.NoError(t, err)
	assert.False(t, refreshing)
	assert.Equal(t, "p1", v)

	v, refreshing, err = c.Fetch(ctx, "profile/me", staticLoader("p2", &calls))
	require.NoError(t, err)
	assert.False(t, refreshing)
	assert.Equal(t, "p1", v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_StaleWhileRevalidate(t *testing.T) {
	c := New(Options{Session: newFakeSession()})
	ctx := context.Background()

	_, _, err := c.Fetch(ctx, "donor/list", staticLoader("v1", nil))
	require.NoError(t, err)

	require.Equal(t, 1, c.Invalidate("donor/"))

	g := newGatedLoader("v2")
	v, refreshing, err := c.Fetch(ctx, "donor/list", g.load)
	require.NoError(t, err)
	assert.True(t, refreshing)
	assert.Equal(t, "v1", v)

	// a second reader during the refresh joins it
	v, refreshing, err = c.Fetch(ctx, "donor/list", g.load)
	require.NoError(t, err)
	assert.True(t, refreshing)
	assert.Equal(t, "v1", v)

	close(g.release)
	require.Eventually(t, func() bool {
		v, st, ok := c.Peek("donor/list")
		return ok && st == StatusFresh && v == "v2"
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), g.calls.Load())
}

func TestFetch_LoadErrorIsReturnedAndRetried(t *testing.T) {
	c := New(Options{Session: newFakeSession()})
	ctx := context.Background()
	boom := errors.New("boom")

	_, _, err := c.Fetch(ctx, "research/list", func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	v, _, err := c.Fetch(ctx, "research/list", staticLoader("ok", nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestFetch_CallerCancellationDoesNotAbortSharedLoad(t *testing.T) {
	c := New(Options{Session: newFakeSession()})
	g := newGatedLoader("shared")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.Fetch(ctx, "patient/list", g.load)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return g.calls.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	done := make(chan any, 1)
	go func() {
		v, _, _ := c.Fetch(context.Background(), "patient/list", g.load)
		done <- v
	}()
	close(g.release)

	assert.Equal(t, "shared", <-done)
	assert.Equal(t, int32(1), g.calls.Load())
}

func TestFetch_FreshForExpiry(t *testing.T) {
	c := New(Options{Session: newFakeSession(), FreshFor: time.Minute})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, _, err := c.Fetch(ctx, "profile/me", staticLoader("p1", nil))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, st, ok := c.Peek("profile/me")
	require.True(t, ok)
	assert.Equal(t, StatusStale, st)

	g := newGatedLoader("p2")
	v, refreshing, err := c.Fetch(ctx, "profile/me", g.load)
	require.NoError(t, err)
	assert.True(t, refreshing)
	assert.Equal(t, "p1", v)
	close(g.release)
}

func TestMutate_ReplacesValueAndInvalidatesPrefixes(t *testing.T) {
	c := New(Options{Session: newFakeSession()})
	ctx := context.Background()

	for _, k := range []string{"profile/me", "donor/list", "donor/7", "research/list"} {
		_, _, err := c.Fetch(ctx, k, staticLoader(k, nil))
		require.NoError(t, err)
	}

	v, err := c.Mutate(ctx, "profile/me", func(context.Context) (any, error) { return "updated", nil }, "profile/", "donor/")
	require.NoError(t, err)
	assert.Equal(t, "updated", v)

	got, st, ok := c.Peek("profile/me")
	require.True(t, ok)
	assert.Equal(t, StatusFresh, st, "the mutated key keeps its new value fresh")
	assert.Equal(t, "updated", got)

	for _, k := range []string{"donor/list", "donor/7"} {
		_, st, ok := c.Peek(k)
		require.True(t, ok)
		assert.Equal(t, StatusStale, st, k)
	}
	_, st, _ = c.Peek("research/list")
	assert.Equal(t, StatusFresh, st)
}

func TestMutate_NilResultInvalidatesKey(t *testing.T) {
	c := New(Options{Session: newFakeSession()})
	ctx := context.Background()

	_, _, err := c.Fetch(ctx, "patient/3", staticLoader("before", nil))
	require.NoError(t, err)

	v, err := c.Mutate(ctx, "patient/3", func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.Nil(t, v)

	_, st, ok := c.Peek("patient/3")
	require.True(t, ok)
	assert.Equal(t, StatusStale, st)
}

func TestMutate_ErrorLeavesCacheUntouched(t *testing.T) {
	c := New(Options{Session: newFakeSession()})
	ctx := context.Background()
	boom := errors.New("rejected")

	_, _, err := c.Fetch(ctx, "donor/list", staticLoader("list", nil))
	require.NoError(t, err)

	_, err = c.Mutate(ctx, "donor/me", func(context.Context) (any, error) { return nil, boom }, "donor/")
	require.ErrorIs(t, err, boom)

	_, st, _ := c.Peek("donor/list")
	assert.Equal(t, StatusFresh, st)
}

func TestMutate_InFlightLoadNeverOverwritesMutation(t *testing.T) {
	c := New(Options{Session: newFakeSession()})
	g := newGatedLoader("pre-mutation")

	got := make(chan any, 1)
	go func() {
		v, _, _ := c.Fetch(context.Background(), "profile/me", g.load)
		got <- v
	}()
	require.Eventually(t, func() bool { return g.calls.Load() == 1 }, time.Second, time.Millisecond)

	_, err := c.Mutate(context.Background(), "profile/me", func(context.Context) (any, error) { return "post-mutation", nil })
	require.NoError(t, err)

	close(g.release)
	assert.Equal(t, "post-mutation", <-got)

	v, st, ok := c.Peek("profile/me")
	require.True(t, ok)
	assert.Equal(t, StatusFresh, st)
	assert.Equal(t, "post-mutation", v)
}

func TestMutate_InvalidatedInFlightLoadDoesNotStore(t *testing.T) {
	c := New(Options{Session: newFakeSession()})
	g := newGatedLoader("old list")

	go func() { _, _, _ = c.Fetch(context.Background(), "donor/list", g.load) }()
	require.Eventually(t, func() bool { return g.calls.Load() == 1 }, time.Second, time.Millisecond)

	_, err := c.Mutate(context.Background(), "donor/me", func(context.Context) (any, error) { return "me", nil }, "donor/list")
	require.NoError(t, err)

	close(g.release)

	var calls atomic.Int32
	require.Eventually(t, func() bool {
		v, _, err := c.Fetch(context.Background(), "donor/list", staticLoader("new list", &calls))
		return err == nil && v == "new list"
	}, time.Second, time.Millisecond)
}

// concurrencyLoader blocks every load until release is closed and records
// the highest number of loads running at once.
type concurrencyLoader struct {
	active, peak, calls atomic.Int32
	release             chan struct{}
}

func (l *concurrencyLoader) load(ctx context.Context) (any, error) {
	l.calls.Add(1)
	n := l.active.Add(1)
	defer l.active.Add(-1)
	for {
		m := l.peak.Load()
		if n <= m || l.peak.CompareAndSwap(m, n) {
			break
		}
	}
	select {
	case <-l.release:
		return "v", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestFetch_OneLoadPerKeyAfterInvalidation(t *testing.T) {
	tests := []struct {
		name      string
		supersede func(c *Cache) error
	}{
		{"invalidate", func(c *Cache) error {
			c.Invalidate("donor/")
			return nil
		}},
		{"mutate without body", func(c *Cache) error {
			_, err := c.Mutate(context.Background(), "donor/list", func(context.Context) (any, error) { return nil, nil })
			return err
		}},
		{"mutate of another key", func(c *Cache) error {
			_, err := c.Mutate(context.Background(), "donor/me", func(context.Context) (any, error) { return "me", nil }, "donor/list")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Options{Session: newFakeSession()})
			l := &concurrencyLoader{release: make(chan struct{})}
			ctx := context.Background()

			results := make(chan error, 2)
			go func() {
				_, _, err := c.Fetch(ctx, "donor/list", l.load)
				results <- err
			}()
			require.Eventually(t, func() bool { return l.calls.Load() == 1 }, time.Second, time.Millisecond)

			require.NoError(t, tt.supersede(c))

			go func() {
				_, _, err := c.Fetch(ctx, "donor/list", l.load)
				results <- err
			}()
			// the second fetch must queue behind the superseded load
			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, int32(1), l.calls.Load())

			close(l.release)
			require.NoError(t, <-results)
			require.NoError(t, <-results)

			assert.Equal(t, int32(1), l.peak.Load(), "loads for one key overlapped")
			assert.Equal(t, int32(2), l.calls.Load())
			v, st, ok := c.Peek("donor/list")
			require.True(t, ok)
			assert.Equal(t, StatusFresh, st)
			assert.Equal(t, "v", v)
		})
	}
}

func TestFetch_FetchesDuringSupersededLoadShareTheNextLoad(t *testing.T) {
	c := New(Options{Session: newFakeSession()})
	l := &concurrencyLoader{release: make(chan struct{})}
	ctx := context.Background()

	go func() { _, _, _ = c.Fetch(ctx, "patient/list", l.load) }()
	require.Eventually(t, func() bool { return l.calls.Load() == 1 }, time.Second, time.Millisecond)
	c.Invalidate("patient/")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.Fetch(ctx, "patient/list", l.load)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(l.release)
	wg.Wait()

	assert.Equal(t, int32(1), l.peak.Load())
	assert.Equal(t, int32(2), l.calls.Load())
}

func TestMutate_SerializedPerKey(t *testing.T) {
	c := New(Options{Session: newFakeSession()})

	var active, maxActive atomic.Int32
	write := func(context.Context) (any, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Mutate(context.Background(), "patient/1", write, "patient/")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestFetch_ResultOfEndedSessionIsDiscarded(t *testing.T) {
	s := newFakeSession()
	c := New(Options{Session: s})

	loaderCtxDone := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.Fetch(context.Background(), "profile/me", func(ctx context.Context) (any, error) {
			<-ctx.Done()
			close(loaderCtxDone)
			return "late", nil
		})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, time.Millisecond)
	s.end()

	<-loaderCtxDone
	require.ErrorIs(t, <-errCh, ErrStaleSession)

	_, _, ok := c.Peek("profile/me")
	assert.False(t, ok)
}

func TestFetch_ValuesOfPreviousSessionAreNotServed(t *testing.T) {
	s := newFakeSession()
	c := New(Options{Session: s})
	ctx := context.Background()

	_, _, err := c.Fetch(ctx, "profile/me", staticLoader("alice", nil))
	require.NoError(t, err)

	s.end()

	_, _, ok := c.Peek("profile/me")
	assert.False(t, ok)

	v, refreshing, err := c.Fetch(ctx, "profile/me", staticLoader("bob", nil))
	require.NoError(t, err)
	assert.False(t, refreshing)
	assert.Equal(t, "bob", v)
}

func TestMutate_EndedSessionDuringWrite(t *testing.T) {
	s := newFakeSession()
	c := New(Options{Session: s})

	_, err := c.Mutate(context.Background(), "profile/me", func(context.Context) (any, error) {
		s.end()
		return "x", nil
	})
	require.ErrorIs(t, err, ErrStaleSession)

	_, _, ok := c.Peek("profile/me")
	assert.False(t, ok)
}

func TestReset_CancelsInFlightAndDropsEntries(t *testing.T) {
	c := New(Options{Session: newFakeSession()})
	ctx := context.Background()

	_, _, err := c.Fetch(ctx, "research/list", staticLoader("r", nil))
	require.NoError(t, err)

	cancelled := make(chan struct{})
	go func() {
		_, _, _ = c.Fetch(ctx, "donor/list", func(ctx context.Context) (any, error) {
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		})
	}()
	require.Eventually(t, func() bool { return c.Len() == 2 }, time.Second, time.Millisecond)

	c.Reset()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight load was not cancelled")
	}
	assert.Equal(t, 0, c.Len())
}

func TestSubscribe_NotifiedOnChanges(t *testing.T) {
	c := New(Options{Session: newFakeSession()})
	ctx := context.Background()

	var mu sync.Mutex
	var keys []string
	unsubscribe := c.Subscribe(func(key string) {
		mu.Lock()
		keys = append(keys, key)
		mu.Unlock()
	})

	_, _, err := c.Fetch(ctx, "donor/list", staticLoader("l", nil))
	require.NoError(t, err)
	c.Invalidate("donor/")

	unsubscribe()
	c.Invalidate("donor/")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"donor/list", "donor/list"}, keys)
}

func TestTypedHelpers(t *testing.T) {
	type profile struct{ Name string }
	c := New(Options{Session: newFakeSession()})
	ctx := context.Background()

	p, _, err := Fetch(ctx, c, "profile/me", func(context.Context) (*profile, error) {
		return &profile{Name: "Ann"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Ann", p.Name)

	_, _, err = Fetch(ctx, c, "profile/me", func(context.Context) (string, error) { return "", nil })
	require.ErrorIs(t, err, ErrTypeMismatch)

	updated, err := Mutate(ctx, c, "profile/me", func(context.Context) (*profile, error) {
		return &profile{Name: "Bea"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Bea", updated.Name)

	none, err := Mutate(ctx, c, "profile/me", func(context.Context) (*profile, error) { return nil, nil })
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "stale", StatusStale.String())
	assert.Equal(t, "fresh", StatusFresh.String())
	assert.Equal(t, "fetching", StatusFetching.String())
}
