package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangwenmai/fieldbox/internal/connectivity"
	"github.com/yangwenmai/fieldbox/internal/delivery"
	"github.com/yangwenmai/fieldbox/internal/model"
	"github.com/yangwenmai/fieldbox/internal/store"
)

// fakeSubmitter records attempts and runs an optional hook per item.
type fakeSubmitter struct {
	mu       sync.Mutex
	attempts []string
	hook     func(s model.Submission) error
}

func (f *fakeSubmitter) Submit(_ context.Context, s model.Submission) error {
	f.mu.Lock()
	f.attempts = append(f.attempts, s.SubmissionID)
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		return hook(s)
	}
	return nil
}

func (f *fakeSubmitter) Attempts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.attempts...)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := store.New(db)
	require.NoError(t, err)
	return st
}

func enqueue(t *testing.T, st *store.Store, ids ...string) {
	t.Helper()
	for i, id := range ids {
		require.NoError(t, st.Put(context.Background(), &model.Submission{
			SubmissionID: id,
			CreatedAt:    int64(1000 + i),
			User:         "ana",
			PhotoBase64:  "AAAA",
		}))
	}
}

func queued(t *testing.T, st *store.Store) []string {
	t.Helper()
	items, err := st.ListOrdered(context.Background())
	require.NoError(t, err)
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.SubmissionID)
	}
	return out
}

func quietLogger() *logrus.Logger {
	l, _ := test.NewNullLogger()
	return l
}

func newEngine(st store.Outbox, sub delivery.Submitter, sig connectivity.Signal, opts ...Option) *Engine {
	return New(st, sub, sig, append([]Option{WithLogger(quietLogger())}, opts...)...)
}

func TestDrain_DeliversInOrder(t *testing.T) {
	st := newTestStore(t)
	enqueue(t, st, "a", "b", "c")
	sub := &fakeSubmitter{}
	e := newEngine(st, sub, connectivity.NewManual(true))

	rep, started := e.Drain(context.Background())
	require.True(t, started)
	assert.Equal(t, Report{Attempted: 3, Delivered: 3}, rep)
	assert.Equal(t, []string{"a", "b", "c"}, sub.Attempts())
	assert.Empty(t, queued(t, st))
	assert.Equal(t, StateIdle, e.State())
}

func TestDrain_OfflineIsNoop(t *testing.T) {
	st := newTestStore(t)
	enqueue(t, st, "a")
	sub := &fakeSubmitter{}
	e := newEngine(st, sub, connectivity.NewManual(false))

	_, started := e.Drain(context.Background())
	assert.False(t, started)
	assert.Empty(t, sub.Attempts())
	assert.Equal(t, []string{"a"}, queued(t, st))
}

func TestDrain_EmptyOutbox(t *testing.T) {
	e := newEngine(newTestStore(t), &fakeSubmitter{}, connectivity.NewManual(true))
	rep, started := e.Drain(context.Background())
	assert.True(t, started)
	assert.Equal(t, Report{}, rep)
}

// Scenario D: the first item succeeds, the second fails, later items are
// not attempted.
func TestDrain_FailFast(t *testing.T) {
	st := newTestStore(t)
	enqueue(t, st, "a", "b", "c")
	sub := &fakeSubmitter{hook: func(s model.Submission) error {
		if s.SubmissionID == "b" {
			return &delivery.StepError{Step: "upload", Err: errors.New("boom")}
		}
		return nil
	}}
	e := newEngine(st, sub, connectivity.NewManual(true))

	rep, started := e.Drain(context.Background())
	require.True(t, started)
	assert.Equal(t, Report{Attempted: 2, Delivered: 1, Remaining: 2, Stopped: StopFailure}, rep)
	assert.Equal(t, []string{"a", "b"}, sub.Attempts())
	assert.Equal(t, []string{"b", "c"}, queued(t, st))
	assert.Equal(t, StateIdle, e.State())
}

// Scenario E: connectivity drops after the first item completes.
func TestDrain_StopsWhenOffline(t *testing.T) {
	st := newTestStore(t)
	enqueue(t, st, "a", "b", "c")
	sig := connectivity.NewManual(true)
	sub := &fakeSubmitter{hook: func(s model.Submission) error {
		if s.SubmissionID == "a" {
			sig.Set(false)
		}
		return nil
	}}
	e := newEngine(st, sub, sig)

	rep, started := e.Drain(context.Background())
	require.True(t, started)
	assert.Equal(t, Report{Attempted: 1, Delivered: 1, Remaining: 2, Stopped: StopOffline}, rep)
	assert.Equal(t, []string{"a"}, sub.Attempts())
	assert.Equal(t, []string{"b", "c"}, queued(t, st))
}

func TestDrain_SingleFlight(t *testing.T) {
	st := newTestStore(t)
	enqueue(t, st, "a")

	entered := make(chan struct{})
	release := make(chan struct{})
	sub := &fakeSubmitter{hook: func(model.Submission) error {
		close(entered)
		<-release
		return nil
	}}
	e := newEngine(st, sub, connectivity.NewManual(true))

	done := make(chan Report)
	go func() {
		rep, _ := e.Drain(context.Background())
		done <- rep
	}()

	<-entered
	assert.Equal(t, StateDraining, e.State())
	_, started := e.Drain(context.Background())
	assert.False(t, started, "second drain must be a no-op")

	close(release)
	rep := <-done
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, []string{"a"}, sub.Attempts())
	assert.Equal(t, StateIdle, e.State())
}

func TestDrain_SnapshotExcludesNewItems(t *testing.T) {
	st := newTestStore(t)
	enqueue(t, st, "a")
	sub := &fakeSubmitter{}
	sub.hook = func(s model.Submission) error {
		if s.SubmissionID == "a" {
			require.NoError(t, st.Put(context.Background(), &model.Submission{
				SubmissionID: "late", CreatedAt: 1, User: "ana", PhotoBase64: "AAAA",
			}))
		}
		return nil
	}
	e := newEngine(st, sub, connectivity.NewManual(true))

	rep, _ := e.Drain(context.Background())
	assert.Equal(t, 1, rep.Attempted)
	assert.Equal(t, []string{"late"}, queued(t, st))
}

func TestDrain_Canceled(t *testing.T) {
	st := newTestStore(t)
	enqueue(t, st, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	sub := &fakeSubmitter{hook: func(model.Submission) error {
		cancel()
		return nil
	}}
	e := newEngine(st, sub, connectivity.NewManual(true))

	rep, _ := e.Drain(ctx)
	assert.Equal(t, StopCanceled, rep.Stopped)
	assert.Equal(t, []string{"a"}, sub.Attempts())
}

func TestDrain_PanicReleasesState(t *testing.T) {
	st := newTestStore(t)
	enqueue(t, st, "a", "b", "c")
	sub := &fakeSubmitter{hook: func(s model.Submission) error {
		if s.SubmissionID == "b" {
			panic("submitter bug")
		}
		return nil
	}}
	e := newEngine(st, sub, connectivity.NewManual(true))

	rep, started := e.Drain(context.Background())
	assert.True(t, started)
	assert.Equal(t, Report{Attempted: 2, Delivered: 1, Remaining: 2, Stopped: StopFailure}, rep)
	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, []string{"b", "c"}, queued(t, st))

	// The engine is usable again after the panic.
	sub.mu.Lock()
	sub.hook = nil
	sub.mu.Unlock()
	rep, started = e.Drain(context.Background())
	assert.True(t, started)
	assert.Equal(t, 2, rep.Delivered)
}

func TestDrain_StorageError(t *testing.T) {
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	st, err := store.New(db)
	require.NoError(t, err)
	db.Close()

	e := newEngine(st, &fakeSubmitter{}, connectivity.NewManual(true))
	rep, started := e.Drain(context.Background())
	assert.True(t, started)
	assert.Equal(t, StopStorage, rep.Stopped)
	assert.Equal(t, StateIdle, e.State())
}

func TestRun_Triggers(t *testing.T) {
	st := newTestStore(t)
	sig := connectivity.NewManual(false)
	sub := &fakeSubmitter{}
	e := newEngine(st, sub, sig,
		WithInterval(time.Hour),
		WithStartupDelay(time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	enqueue(t, st, "a")
	// Let Run subscribe before the transition.
	time.Sleep(20 * time.Millisecond)
	sig.Set(true)

	require.Eventually(t, func() bool {
		n, err := st.Count(context.Background())
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a"}, sub.Attempts())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_StartupDrain(t *testing.T) {
	st := newTestStore(t)
	enqueue(t, st, "a")
	sub := &fakeSubmitter{}
	e := newEngine(st, sub, connectivity.NewManual(true),
		WithInterval(time.Hour),
		WithStartupDelay(10*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	require.Eventually(t, func() bool { return len(sub.Attempts()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRun_Interval(t *testing.T) {
	st := newTestStore(t)
	sub := &fakeSubmitter{}
	e := newEngine(st, sub, connectivity.NewManual(true),
		WithInterval(20*time.Millisecond),
		WithStartupDelay(time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	enqueue(t, st, "a", "b")
	require.Eventually(t, func() bool { return len(sub.Attempts()) == 2 }, 2*time.Second, 10*time.Millisecond)
}
