// Package scheduler runs cron-driven housekeeping next to the overdue monitor.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/circulation/internal/tasks"
)

// AuditCleanupScheduler periodically removes old audit events. With a task
// client it enqueues a cleanup task; without one it deletes inline.
type AuditCleanupScheduler struct {
	schedule      string
	retentionDays int
	log           logrus.FieldLogger

	enqueue func(task tasks.CleanupAuditEventsTask) error

	cron      *cron.Cron
	entryID   cron.EntryID
	mu        sync.Mutex
	isRunning bool
}

// NewAuditCleanupScheduler creates a scheduler. client may be nil when the
// task queue is disabled, in which case cleaner runs on the cron goroutine.
func NewAuditCleanupScheduler(client *tasks.Client, cleaner tasks.AuditEventCleaner, schedule string, retentionDays int, log logrus.FieldLogger) *AuditCleanupScheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &AuditCleanupScheduler{
		schedule:      schedule,
		retentionDays: retentionDays,
		log:           log,
		cron:          cron.New(cron.WithParser(parser)),
	}

	if client != nil {
		s.enqueue = func(task tasks.CleanupAuditEventsTask) error {
			_, err := client.Add(task).Save()
			return err
		}
	} else {
		process := tasks.CleanupAuditEventsProcessor(cleaner, log)
		s.enqueue = func(task tasks.CleanupAuditEventsTask) error {
			return process(context.Background(), task)
		}
	}
	return s
}

// Start registers the cleanup job and starts the cron loop. Cancelling ctx stops it.
func (s *AuditCleanupScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if err := ValidateCronSchedule(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", s.schedule, err)
	}

	entryID, err := s.cron.AddFunc(s.schedule, s.RunNow)
	if err != nil {
		return fmt.Errorf("failed to schedule audit cleanup: %w", err)
	}
	s.entryID = entryID

	s.cron.Start()
	s.isRunning = true

	next, _ := GetNextRunTime(s.schedule, time.Now())
	s.log.WithFields(logrus.Fields{
		"schedule":       s.schedule,
		"description":    GetCronDescription(s.schedule),
		"retention_days": s.retentionDays,
		"next_run":       next,
	}).Info("Audit cleanup scheduler: started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop stops the cron loop and waits for a running job to finish.
func (s *AuditCleanupScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	<-s.cron.Stop().Done()
	s.cron.Remove(s.entryID)
	s.isRunning = false

	s.log.Info("Audit cleanup scheduler: stopped")
}

// RunNow triggers one cleanup immediately on the calling goroutine.
func (s *AuditCleanupScheduler) RunNow() {
	task := tasks.CleanupAuditEventsTask{RetentionDays: s.retentionDays}
	if err := s.enqueue(task); err != nil {
		s.log.WithError(err).Error("Audit cleanup scheduler: cleanup failed")
	}
}

func (s *AuditCleanupScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// NextRun reports when the job fires next. The zero time means not running.
func (s *AuditCleanupScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
