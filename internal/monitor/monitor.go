// Package monitor runs the background overdue check.
//
// A Monitor owns one worker goroutine and one private storage connection.
// The worker opens the connection itself, counts overdue loans every
// PollInterval and hands a Notification to every subscribed Handler when the
// count is above zero. Handlers are called on the worker goroutine, one after
// another, in subscription order; a host that needs notifications on its own
// event loop should subscribe a notify.Hub and drain it there.
//
// Lifecycle:
//
//	Idle --Start--> Starting --(connected)--> Running --RequestStop--> StopRequested --(worker exits)--> Stopped
//
// Starting returns to Idle when the connection fails. Stopped is terminal;
// Start after Stopped fails with ErrInvalidStateTransition. No lock is held
// while the connection opens, so State and RequestStop never wait on it.
package monitor

//go:generate mockgen -source=monitor.go -destination=mocks/conn.go -package=mocks -exclude_interfaces=OverdueLister

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Conn is a private storage session. It is used by a single goroutine only.
type Conn interface {
	CountOverdue(ctx context.Context, asOf time.Time) (int64, error)
	Close() error
}

// OverdueLister is implemented by connections that can also name the overdue loans.
type OverdueLister interface {
	OverdueIDs(ctx context.Context, asOf time.Time, limit int) ([]uint, error)
}

// Opener opens a new private connection. It is called on the worker goroutine.
type Opener func(ctx context.Context) (Conn, error)

type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopRequested
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopRequested:
		return "stop_requested"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stats is a snapshot of the worker's counters.
type Stats struct {
	Checks              uint64    `json:"checks"`
	Failures            uint64    `json:"failures"`
	ConsecutiveFailures uint64    `json:"consecutive_failures"`
	Notifications       uint64    `json:"notifications"`
	LastCheckAt         time.Time `json:"last_check_at"`
	LastCount           int64     `json:"last_count"`
}

// Option configures optional Monitor dependencies.
type Option func(*Monitor)

// WithLogger sets the logger. Defaults to the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock replaces time.Now as the source of "today".
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

type subscription struct {
	id      uint64
	handler Handler
}

type Monitor struct {
	cfg   Config
	open  Opener
	log   logrus.FieldLogger
	now   func() time.Time
	runID string

	mu     sync.Mutex
	state  State
	stopCh chan struct{}
	doneCh chan struct{}
	cancel context.CancelFunc

	running atomic.Bool
	workers atomic.Int32

	hmu      sync.RWMutex
	handlers []subscription
	nextSub  uint64

	statsMu sync.RWMutex
	stats   Stats

	// lastNotified is touched by the worker goroutine only.
	lastNotified int64
}

// New creates an idle monitor.
func New(cfg Config, open Opener, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if open == nil {
		return nil, fmt.Errorf("%w: opener is required", ErrInvalidConfig)
	}

	m := &Monitor{
		cfg:   cfg,
		open:  open,
		log:   logrus.StandardLogger(),
		now:   time.Now,
		runID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithField("run_id", m.runID)

	return m, nil
}

// Subscribe registers h for future notifications. The returned function
// removes it and is safe to call more than once.
func (m *Monitor) Subscribe(h Handler) (unsubscribe func()) {
	m.hmu.Lock()
	id := m.nextSub
	m.nextSub++
	m.handlers = append(m.handlers, subscription{id: id, handler: h})
	m.hmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.hmu.Lock()
			defer m.hmu.Unlock()
			for i, s := range m.handlers {
				if s.id == id {
					m.handlers = append(m.handlers[:i:i], m.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Start opens the private connection on a new worker goroutine and begins
// polling. ctx bounds the connection attempt only. On failure the monitor
// returns to idle and the error wraps ErrConnectionFailed. A RequestStop that
// arrives while connecting cancels the attempt and leaves the monitor stopped.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateStarting, StateRunning, StateStopRequested:
		m.mu.Unlock()
		return ErrAlreadyRunning
	case StateStopped:
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot start a stopped monitor", ErrInvalidStateTransition)
	}

	openCtx, cancelOpen := context.WithCancel(ctx)
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	ready := make(chan error, 1)

	m.state = StateStarting
	m.stopCh = stopCh
	m.doneCh = doneCh
	m.cancel = func() {
		cancelOpen()
		cancelLoop()
	}
	m.running.Store(true)
	m.mu.Unlock()

	go m.run(openCtx, loopCtx, stopCh, doneCh, ready)
	err := <-ready
	cancelOpen()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		cancelLoop()
		<-doneCh
		m.running.Store(false)
		if m.state == StateStopRequested {
			m.state = StateStopped
		} else {
			m.state = StateIdle
		}
		m.log.WithError(err).Error("Overdue monitor: not started")
		return err
	}

	// A stop requested while connecting is already on its way through the worker
	if m.state == StateStarting {
		m.state = StateRunning
	}

	m.log.WithFields(logrus.Fields{
		"poll_interval": m.cfg.PollInterval,
		"slice":         m.cfg.Slice,
		"policy":        m.cfg.Policy,
	}).Info("Overdue monitor: started")
	return nil
}

// RequestStop asks the worker to exit and returns immediately. An in-flight
// check or connection attempt is cancelled. Calling it again after the first
// request is a no-op.
func (m *Monitor) RequestStop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateIdle:
		return fmt.Errorf("%w: monitor was never started", ErrInvalidStateTransition)
	case StateStopRequested, StateStopped:
		return nil
	}

	m.state = StateStopRequested
	m.running.Store(false)
	close(m.stopCh)
	m.cancel()

	m.log.Info("Overdue monitor: stop requested")
	return nil
}

// WaitForStop blocks until the worker has exited and closed its connection,
// or until ctx is done. Without a prior RequestStop it waits for ctx.
func (m *Monitor) WaitForStop(ctx context.Context) error {
	m.mu.Lock()
	state, done := m.state, m.doneCh
	m.mu.Unlock()

	if state == StateIdle {
		return fmt.Errorf("%w: monitor was never started", ErrInvalidStateTransition)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop is RequestStop followed by WaitForStop.
func (m *Monitor) Stop(ctx context.Context) error {
	if err := m.RequestStop(); err != nil {
		return err
	}
	return m.WaitForStop(ctx)
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) Stats() Stats {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()
	return m.stats
}

// RunID identifies this monitor instance in logs and notifications.
func (m *Monitor) RunID() string {
	return m.runID
}

func (m *Monitor) run(openCtx, ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}, ready chan<- error) {
	m.workers.Add(1)
	defer close(doneCh)
	defer m.workers.Add(-1)

	conn, err := m.open(openCtx)
	if err == nil && conn == nil {
		err = fmt.Errorf("opener returned no connection")
	}
	if err != nil {
		ready <- fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		return
	}
	ready <- nil

	m.loop(ctx, conn, stopCh)

	if err := conn.Close(); err != nil {
		m.log.WithError(err).Warn("Overdue monitor: failed to close connection")
	}

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()

	m.log.Info("Overdue monitor: stopped")
}

func (m *Monitor) loop(ctx context.Context, conn Conn, stopCh <-chan struct{}) {
	for m.running.Load() {
		m.check(ctx, conn)
		if !m.sleep(stopCh) {
			return
		}
	}
}

// sleep waits out one poll interval in slices, re-reading the running flag
// after each one. Returns false as soon as a stop is observed.
func (m *Monitor) sleep(stopCh <-chan struct{}) bool {
	for remaining := m.cfg.PollInterval; remaining > 0; {
		step := min(m.cfg.Slice, remaining)
		timer := time.NewTimer(step)
		select {
		case <-stopCh:
			timer.Stop()
			return false
		case <-timer.C:
		}
		remaining -= step
		if !m.running.Load() {
			return false
		}
	}
	return m.running.Load()
}

func (m *Monitor) check(ctx context.Context, conn Conn) {
	checkedAt := m.now()

	count, err := conn.CountOverdue(ctx, checkedAt)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		failures := m.recordFailure(checkedAt)
		m.log.WithError(fmt.Errorf("%w: %w", ErrQueryFailed, err)).
			WithField("consecutive_failures", failures).
			Warn("Overdue monitor: check failed, retrying next interval")
		return
	}
	m.recordSuccess(checkedAt, count)

	if count <= 0 {
		m.lastNotified = 0
		return
	}
	if m.cfg.Policy == PolicyOnChange && count == m.lastNotified {
		m.log.WithField("count", count).Debug("Overdue monitor: count unchanged, notification suppressed")
		return
	}
	m.lastNotified = count

	n := Notification{
		RunID:     m.runID,
		Count:     count,
		CheckedAt: checkedAt,
	}
	if lister, ok := conn.(OverdueLister); ok && m.cfg.MaxListed > 0 {
		ids, err := lister.OverdueIDs(ctx, checkedAt, m.cfg.MaxListed)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.WithError(err).Warn("Overdue monitor: could not list overdue loans, sending count only")
		} else {
			n.LoanIDs = ids
		}
	}

	m.deliver(n)
}

func (m *Monitor) deliver(n Notification) {
	m.hmu.RLock()
	handlers := make([]Handler, 0, len(m.handlers))
	for _, s := range m.handlers {
		handlers = append(handlers, s.handler)
	}
	m.hmu.RUnlock()

	m.log.WithField("count", n.Count).Info(n.Message())
	for _, h := range handlers {
		m.call(h, n)
	}

	m.statsMu.Lock()
	m.stats.Notifications++
	m.statsMu.Unlock()
}

func (m *Monitor) call(h Handler, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("panic", r).Error("Overdue monitor: notification handler panicked")
		}
	}()
	h.OnOverdueDetected(n)
}

func (m *Monitor) recordSuccess(at time.Time, count int64) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.stats.Checks++
	m.stats.ConsecutiveFailures = 0
	m.stats.LastCheckAt = at
	m.stats.LastCount = count
}

func (m *Monitor) recordFailure(at time.Time) uint64 {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.stats.Checks++
	m.stats.Failures++
	m.stats.ConsecutiveFailures++
	m.stats.LastCheckAt = at
	return m.stats.ConsecutiveFailures
}
