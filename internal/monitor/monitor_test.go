package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mrlokans/circulation/internal/logging"
	"github.com/mrlokans/circulation/internal/monitor/mocks"
)

// fakeConn is a scripted connection. Count and errors can be changed while the worker runs.
type fakeConn struct {
	mu     sync.Mutex
	count  int64
	ids    []uint
	errs   []error
	calls  int
	block  bool
	closed atomic.Bool
}

func (c *fakeConn) CountOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	c.mu.Lock()
	c.calls++
	block := c.block
	var err error
	if len(c.errs) > 0 {
		err, c.errs = c.errs[0], c.errs[1:]
	}
	count := c.count
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return count, err
}

func (c *fakeConn) OverdueIDs(ctx context.Context, asOf time.Time, limit int) ([]uint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ids) > limit {
		return c.ids[:limit], nil
	}
	return c.ids, nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) setCount(n int64) {
	c.mu.Lock()
	c.count = n
	c.mu.Unlock()
}

func (c *fakeConn) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func openerFor(conn Conn) Opener {
	return func(ctx context.Context) (Conn, error) {
		return conn, nil
	}
}

// collector records notifications delivered to it.
type collector struct {
	mu   sync.Mutex
	got  []Notification
	seen chan Notification
}

func newCollector() *collector {
	return &collector{seen: make(chan Notification, 100)}
}

func (c *collector) OnOverdueDetected(n Notification) {
	c.mu.Lock()
	c.got = append(c.got, n)
	c.mu.Unlock()
	c.seen <- n
}

func (c *collector) all() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.got...)
}

func testConfig(poll, slice time.Duration) Config {
	cfg := DefaultConfig()
	cfg.PollInterval = poll
	cfg.Slice = slice
	return cfg
}

func newTestMonitor(t *testing.T, cfg Config, open Opener, opts ...Option) *Monitor {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	m, err := New(cfg, open, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if state := m.State(); state == StateRunning || state == StateStarting {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = m.Stop(ctx)
		}
	})
	return m
}

func stop(t *testing.T, m *Monitor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
}

func TestNew_InvalidConfig(t *testing.T) {
	open := openerFor(&fakeConn{})

	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero poll interval", Config{PollInterval: 0, Slice: time.Second}},
		{"zero slice", Config{PollInterval: time.Second, Slice: 0}},
		{"slice longer than interval", Config{PollInterval: time.Second, Slice: 2 * time.Second}},
		{"negative max listed", Config{PollInterval: time.Second, Slice: time.Second, MaxListed: -1}},
		{"unknown policy", Config{PollInterval: time.Second, Slice: time.Second, Policy: "sometimes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, open)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	t.Run("nil opener", func(t *testing.T) {
		_, err := New(DefaultConfig(), nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAlways, p)

	p, err = ParsePolicy("on-change")
	require.NoError(t, err)
	assert.Equal(t, PolicyOnChange, p)

	_, err = ParsePolicy("daily")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNotification_Message(t *testing.T) {
	assert.Equal(t, "Warning: 1 item(s) overdue.", Notification{Count: 1}.Message())
	assert.Equal(t, "Warning: 12 item(s) overdue.", Notification{Count: 12, LoanIDs: []uint{1}}.Message())
	assert.Equal(t, Notification{Count: 3}.Message(), Notification{Count: 3, RunID: "other"}.Message())
}

func TestMonitor_EndToEnd(t *testing.T) {
	conn := &fakeConn{count: 1, ids: []uint{7}}
	today := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m := newTestMonitor(t, testConfig(time.Hour, 10*time.Millisecond), openerFor(conn), WithClock(func() time.Time { return today }))
	c := newCollector()
	m.Subscribe(c)

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateRunning, m.State())
	assert.Equal(t, int32(1), m.workers.Load())

	select {
	case n := <-c.seen:
		assert.Equal(t, int64(1), n.Count)
		assert.Equal(t, []uint{7}, n.LoanIDs)
		assert.Equal(t, today, n.CheckedAt)
		assert.Equal(t, m.RunID(), n.RunID)
		assert.Equal(t, "Warning: 1 item(s) overdue.", n.Message())
	case <-time.After(2 * time.Second):
		t.Fatal("no notification within the first polling interval")
	}

	require.NoError(t, m.RequestStop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.WaitForStop(ctx))

	assert.Equal(t, StateStopped, m.State())
	assert.Equal(t, int32(0), m.workers.Load())
	assert.True(t, conn.closed.Load())
	assert.Len(t, c.all(), 1)

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.Checks)
	assert.Equal(t, uint64(1), stats.Notifications)
	assert.Equal(t, int64(1), stats.LastCount)
}

func TestMonitor_NoNotificationWithoutOverdueLoans(t *testing.T) {
	conn := &fakeConn{count: 0}
	m := newTestMonitor(t, testConfig(10*time.Millisecond, 5*time.Millisecond), openerFor(conn))
	c := newCollector()
	m.Subscribe(c)

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool { return conn.callCount() >= 5 }, 2*time.Second, 5*time.Millisecond)
	stop(t, m)

	assert.Empty(t, c.all())
	assert.Zero(t, m.Stats().Notifications)
}

func TestMonitor_RepeatsNotificationEveryCheck(t *testing.T) {
	conn := &fakeConn{count: 2}
	m := newTestMonitor(t, testConfig(10*time.Millisecond, 5*time.Millisecond), openerFor(conn))
	c := newCollector()
	m.Subscribe(c)

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool { return len(c.all()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	stop(t, m)

	for _, n := range c.all() {
		assert.Equal(t, int64(2), n.Count)
	}
}

func TestMonitor_OnChangePolicy(t *testing.T) {
	conn := &fakeConn{count: 3}
	cfg := testConfig(5*time.Millisecond, time.Millisecond)
	cfg.Policy = PolicyOnChange
	m := newTestMonitor(t, cfg, openerFor(conn))
	c := newCollector()
	m.Subscribe(c)

	waitChecks := func(n int) {
		start := conn.callCount()
		require.Eventually(t, func() bool { return conn.callCount() >= start+n }, 2*time.Second, time.Millisecond)
	}

	require.NoError(t, m.Start(context.Background()))
	waitChecks(4)
	assert.Len(t, c.all(), 1, "unchanged count is reported once")

	conn.setCount(4)
	waitChecks(4)
	assert.Len(t, c.all(), 2)

	conn.setCount(0)
	waitChecks(4)
	conn.setCount(4)
	waitChecks(4)
	stop(t, m)

	got := c.all()
	require.Len(t, got, 3, "a zero count resets suppression")
	assert.Equal(t, []int64{3, 4, 4}, []int64{got[0].Count, got[1].Count, got[2].Count})
}

func TestMonitor_StopLatencyBoundedBySlice(t *testing.T) {
	slice := 50 * time.Millisecond
	conn := &fakeConn{count: 0}
	m := newTestMonitor(t, testConfig(10*time.Second, slice), openerFor(conn))

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool { return conn.callCount() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(slice / 3) // land mid-slice

	begin := time.Now()
	require.NoError(t, m.RequestStop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.WaitForStop(ctx))

	assert.Less(t, time.Since(begin), slice)
	assert.True(t, conn.closed.Load())
}

func TestMonitor_SleepObservesFlagWithinOneSlice(t *testing.T) {
	slice := 20 * time.Millisecond
	m := newTestMonitor(t, testConfig(10*time.Second, slice), openerFor(&fakeConn{}))

	// No stop channel wake-up: only the flag re-check between slices can end the wait.
	m.running.Store(true)
	go func() {
		time.Sleep(slice / 2)
		m.running.Store(false)
	}()

	begin := time.Now()
	ok := m.sleep(make(chan struct{}))
	elapsed := time.Since(begin)

	assert.False(t, ok)
	assert.Less(t, elapsed, 3*slice)
}

func TestMonitor_SleepLastsPollInterval(t *testing.T) {
	m := newTestMonitor(t, testConfig(35*time.Millisecond, 10*time.Millisecond), openerFor(&fakeConn{}))
	m.running.Store(true)

	begin := time.Now()
	ok := m.sleep(make(chan struct{}))

	assert.True(t, ok)
	assert.GreaterOrEqual(t, time.Since(begin), 35*time.Millisecond)
}

func TestMonitor_StartTwice(t *testing.T) {
	m := newTestMonitor(t, testConfig(time.Hour, 10*time.Millisecond), openerFor(&fakeConn{}))

	require.NoError(t, m.Start(context.Background()))
	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyRunning)
	assert.Equal(t, int32(1), m.workers.Load())

	stop(t, m)
}

func TestMonitor_ConcurrentStartSpawnsOneWorker(t *testing.T) {
	var opened atomic.Int32
	open := func(ctx context.Context) (Conn, error) {
		opened.Add(1)
		return &fakeConn{}, nil
	}
	m := newTestMonitor(t, testConfig(time.Hour, 10*time.Millisecond), open)

	var wg sync.WaitGroup
	var started, rejected atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Start(context.Background())
			switch {
			case err == nil:
				started.Add(1)
			case errors.Is(err, ErrAlreadyRunning):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, int32(9), rejected.Load())
	assert.Equal(t, int32(1), opened.Load())
	assert.Equal(t, int32(1), m.workers.Load())

	stop(t, m)
	assert.Equal(t, int32(0), m.workers.Load())
}

func TestMonitor_ConnectionFailed(t *testing.T) {
	var attempts atomic.Int32
	conn := &fakeConn{}
	open := func(ctx context.Context) (Conn, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("unable to open database file")
		}
		return conn, nil
	}
	m := newTestMonitor(t, testConfig(time.Hour, 10*time.Millisecond), open)

	err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrConnectionFailed)
	assert.Contains(t, err.Error(), "unable to open database file")
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, int32(0), m.workers.Load())
	assert.Zero(t, conn.callCount())

	t.Run("can retry after a failed open", func(t *testing.T) {
		require.NoError(t, m.Start(context.Background()))
		assert.Equal(t, StateRunning, m.State())
		stop(t, m)
	})
}

func TestMonitor_NilConnectionIsAFailure(t *testing.T) {
	open := func(ctx context.Context) (Conn, error) { return nil, nil }
	m := newTestMonitor(t, testConfig(time.Hour, 10*time.Millisecond), open)

	assert.ErrorIs(t, m.Start(context.Background()), ErrConnectionFailed)
	assert.Equal(t, StateIdle, m.State())
}

// blockingOpener holds the connection attempt until release is closed or
// the attempt is cancelled.
func blockingOpener(conn Conn, entered chan<- struct{}, release <-chan struct{}) Opener {
	return func(ctx context.Context) (Conn, error) {
		close(entered)
		select {
		case <-release:
			return conn, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestMonitor_SlowOpenDoesNotHoldTheLock(t *testing.T) {
	conn := &fakeConn{}
	entered := make(chan struct{})
	release := make(chan struct{})
	m := newTestMonitor(t, testConfig(time.Hour, 10*time.Millisecond), blockingOpener(conn, entered, release))

	started := make(chan error, 1)
	go func() { started <- m.Start(context.Background()) }()
	<-entered

	stateCh := make(chan State, 1)
	go func() { stateCh <- m.State() }()
	select {
	case state := <-stateCh:
		assert.Equal(t, StateStarting, state)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("State blocked while the connection was opening")
	}

	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyRunning)

	close(release)
	require.NoError(t, <-started)
	assert.Equal(t, StateRunning, m.State())
	stop(t, m)
}

func TestMonitor_StopWhileConnecting(t *testing.T) {
	conn := &fakeConn{}
	entered := make(chan struct{})
	m := newTestMonitor(t, testConfig(time.Hour, 10*time.Millisecond), blockingOpener(conn, entered, make(chan struct{})))

	started := make(chan error, 1)
	go func() { started <- m.Start(context.Background()) }()
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- m.RequestStop() }()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("RequestStop blocked while the connection was opening")
	}

	assert.ErrorIs(t, <-started, ErrConnectionFailed)
	assert.Equal(t, StateStopped, m.State())
	assert.Equal(t, int32(0), m.workers.Load())
	assert.ErrorIs(t, m.Start(context.Background()), ErrInvalidStateTransition)
}

func TestMonitor_TransientQueryFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := mocks.NewMockConn(ctrl)

	gomock.InOrder(
		conn.EXPECT().CountOverdue(gomock.Any(), gomock.Any()).Return(int64(0), errors.New("database is locked")),
		conn.EXPECT().CountOverdue(gomock.Any(), gomock.Any()).Return(int64(2), nil).MinTimes(1),
	)
	conn.EXPECT().Close().Return(nil).Times(1)

	m := newTestMonitor(t, testConfig(10*time.Millisecond, 5*time.Millisecond), openerFor(conn))
	c := newCollector()
	m.Subscribe(c)

	require.NoError(t, m.Start(context.Background()))

	select {
	case n := <-c.seen:
		assert.Equal(t, int64(2), n.Count)
		assert.Nil(t, n.LoanIDs, "mock connection cannot list loans")
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not recover after a failed check")
	}
	stop(t, m)

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Zero(t, stats.ConsecutiveFailures)
	assert.GreaterOrEqual(t, stats.Checks, uint64(2))
}

func TestMonitor_FailuresNeverReachHandlers(t *testing.T) {
	boom := errors.New("disk I/O error")
	conn := &fakeConn{count: 5, errs: []error{boom, boom, boom}}
	m := newTestMonitor(t, testConfig(5*time.Millisecond, time.Millisecond), openerFor(conn))
	c := newCollector()
	m.Subscribe(c)

	require.NoError(t, m.Start(context.Background()))
	<-c.seen
	stop(t, m)

	assert.Equal(t, uint64(3), m.Stats().Failures)
	for _, n := range c.all() {
		assert.Equal(t, int64(5), n.Count)
	}
}

func TestMonitor_StopCancelsInFlightQuery(t *testing.T) {
	conn := &fakeConn{block: true}
	m := newTestMonitor(t, testConfig(time.Hour, time.Second), openerFor(conn))

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool { return conn.callCount() == 1 }, time.Second, time.Millisecond)

	begin := time.Now()
	stop(t, m)

	assert.Less(t, time.Since(begin), 500*time.Millisecond)
	assert.Zero(t, m.Stats().Failures, "cancellation is not a failed check")
	assert.True(t, conn.closed.Load())
}

func TestMonitor_HandlerPanicDoesNotStopLoop(t *testing.T) {
	conn := &fakeConn{count: 1}
	m := newTestMonitor(t, testConfig(5*time.Millisecond, time.Millisecond), openerFor(conn))

	var calls atomic.Int32
	m.Subscribe(HandlerFunc(func(n Notification) {
		if calls.Add(1) == 1 {
			panic("host bug")
		}
	}))
	c := newCollector()
	m.Subscribe(c)

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool { return len(c.all()) >= 2 }, 2*time.Second, time.Millisecond)
	stop(t, m)

	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestMonitor_Unsubscribe(t *testing.T) {
	conn := &fakeConn{count: 1}
	m := newTestMonitor(t, testConfig(5*time.Millisecond, time.Millisecond), openerFor(conn))
	kept := newCollector()
	dropped := newCollector()
	m.Subscribe(kept)
	unsubscribe := m.Subscribe(dropped)
	unsubscribe()
	unsubscribe()

	require.NoError(t, m.Start(context.Background()))
	<-kept.seen
	stop(t, m)

	assert.Empty(t, dropped.all())
}

func TestMonitor_LifecycleMisuse(t *testing.T) {
	m := newTestMonitor(t, testConfig(time.Hour, 10*time.Millisecond), openerFor(&fakeConn{}))

	assert.ErrorIs(t, m.RequestStop(), ErrInvalidStateTransition)
	assert.ErrorIs(t, m.WaitForStop(context.Background()), ErrInvalidStateTransition)

	require.NoError(t, m.Start(context.Background()))

	t.Run("wait without stop honours context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, m.WaitForStop(ctx), context.DeadlineExceeded)
		assert.Equal(t, StateRunning, m.State())
	})

	require.NoError(t, m.RequestStop())
	assert.NoError(t, m.RequestStop(), "repeated stop requests are no-ops")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.WaitForStop(ctx))
	require.NoError(t, m.WaitForStop(ctx), "waiting again returns immediately")

	assert.Equal(t, StateStopped, m.State())
	assert.ErrorIs(t, m.Start(context.Background()), ErrInvalidStateTransition)
	assert.NoError(t, m.RequestStop())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stop_requested", StateStopRequested.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "state(9)", State(9).String())
}
