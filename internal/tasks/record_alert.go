package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mikestefanello/backlite"
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/circulation/internal/audit"
	"github.com/mrlokans/circulation/internal/monitor"
)

// OverdueRecorder persists an overdue detection.
type OverdueRecorder interface {
	LogOverdue(alert audit.OverdueAlert) error
}

// RecordOverdueAlertTask records one monitor notification in the audit log.
type RecordOverdueAlertTask struct {
	RunID     string    `json:"run_id"`
	Count     int64     `json:"count"`
	LoanIDs   []uint    `json:"loan_ids,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Config returns the queue configuration for overdue alert tasks.
func (t RecordOverdueAlertTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "record_overdue_alert",
		MaxAttempts: 5,
		Backoff:     10 * time.Second,
		Timeout:     30 * time.Second,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// RecordOverdueAlertProcessor creates a processor function for RecordOverdueAlertTask.
func RecordOverdueAlertProcessor(recorder OverdueRecorder, log logrus.FieldLogger) backlite.QueueProcessor[RecordOverdueAlertTask] {
	return func(ctx context.Context, task RecordOverdueAlertTask) error {
		if recorder == nil {
			return fmt.Errorf("overdue recorder not configured")
		}

		err := recorder.LogOverdue(audit.OverdueAlert{
			RunID:     task.RunID,
			Count:     task.Count,
			LoanIDs:   task.LoanIDs,
			CheckedAt: task.CheckedAt,
		})
		if err != nil {
			return fmt.Errorf("record overdue alert: %w", err)
		}

		log.WithField("count", task.Count).Debug("[TASK] Recorded overdue alert")
		return nil
	}
}

// NewRecordOverdueAlertQueue creates a backlite queue for overdue alert tasks.
func NewRecordOverdueAlertQueue(recorder OverdueRecorder, log logrus.FieldLogger) backlite.Queue {
	return backlite.NewQueue(RecordOverdueAlertProcessor(recorder, log))
}

// DefaultAlertBuffer is how many alerts may wait for the tasks database
// before new ones are dropped.
const DefaultAlertBuffer = 32

// AlertEnqueuer turns monitor notifications into RecordOverdueAlertTasks.
// OnOverdueDetected only hands the task to a buffered channel; a separate
// goroutine writes it to the tasks database, so a busy database never delays
// the monitor's stop check.
type AlertEnqueuer struct {
	log  logrus.FieldLogger
	save func(RecordOverdueAlertTask) error

	mu      sync.RWMutex
	closed  bool
	pending chan RecordOverdueAlertTask
	done    chan struct{}
	dropped atomic.Uint64
}

func NewAlertEnqueuer(client *Client, log logrus.FieldLogger) *AlertEnqueuer {
	return newAlertEnqueuer(func(task RecordOverdueAlertTask) error {
		_, err := client.Add(task).Save()
		return err
	}, DefaultAlertBuffer, log)
}

func newAlertEnqueuer(save func(RecordOverdueAlertTask) error, buffer int, log logrus.FieldLogger) *AlertEnqueuer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if buffer < 1 {
		buffer = 1
	}
	e := &AlertEnqueuer{
		log:     log,
		save:    save,
		pending: make(chan RecordOverdueAlertTask, buffer),
		done:    make(chan struct{}),
	}
	go e.drain()
	return e
}

// OnOverdueDetected implements monitor.Handler. It never blocks.
func (e *AlertEnqueuer) OnOverdueDetected(n monitor.Notification) {
	task := RecordOverdueAlertTask{
		RunID:     n.RunID,
		Count:     n.Count,
		LoanIDs:   n.LoanIDs,
		CheckedAt: n.CheckedAt,
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.pending <- task:
	default:
		e.dropped.Add(1)
		e.log.WithField("count", n.Count).Warn("Overdue alert queue is full, alert dropped")
	}
}

func (e *AlertEnqueuer) drain() {
	defer close(e.done)
	for task := range e.pending {
		if err := e.save(task); err != nil {
			e.log.WithError(err).WithField("count", task.Count).Error("Failed to enqueue overdue alert")
		}
	}
}

// Dropped returns how many alerts were discarded because the buffer was full.
func (e *AlertEnqueuer) Dropped() uint64 {
	return e.dropped.Load()
}

// Close stops accepting alerts and waits until the buffered ones are saved.
// Call it before stopping the task client.
func (e *AlertEnqueuer) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	close(e.pending)
	e.mu.Unlock()
	<-e.done
}
