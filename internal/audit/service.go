package audit

import (
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/circulation/internal/database/audit"
	"github.com/mrlokans/circulation/internal/entities"
)

// Service provides high-level audit logging functionality.
type Service struct {
	repo *audit.Repository
	log  logrus.FieldLogger
	now  func() time.Time

	pending sync.WaitGroup
}

// NewService creates a new audit service.
func NewService(repo *audit.Repository, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{repo: repo, log: log, now: time.Now}
}

// Log records a generic audit event.
func (s *Service) Log(event *entities.AuditEvent) error {
	return s.repo.LogEvent(event)
}

// LogAsync records an audit event in the background (non-blocking).
func (s *Service) LogAsync(event *entities.AuditEvent) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.repo.LogEvent(event); err != nil {
			s.log.WithError(err).WithField("action", event.Action).Error("Failed to log audit event")
		}
	}()
}

// Wait blocks until every LogAsync call has finished writing.
func (s *Service) Wait() {
	s.pending.Wait()
}

// OverdueAlert describes one overdue detection to be recorded.
type OverdueAlert struct {
	RunID     string    `json:"run_id"`
	Count     int64     `json:"count"`
	LoanIDs   []uint    `json:"loan_ids,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// LogOverdue records an overdue detection synchronously so callers can retry on failure.
func (s *Service) LogOverdue(alert OverdueAlert) error {
	event := &entities.AuditEvent{
		EventType:   entities.AuditEventOverdue,
		Action:      "overdue_detected",
		Description: fmt.Sprintf("Warning: %d item(s) overdue.", alert.Count),
		EntityType:  "loan",
		Status:      entities.AuditStatusSuccess,
	}
	if len(alert.LoanIDs) == 1 {
		id := alert.LoanIDs[0]
		event.EntityID = &id
	}
	if md, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(alert); err == nil {
		event.Metadata = md
	}
	return s.repo.LogEvent(event)
}

// LogMonitor records a monitor lifecycle event such as start or stop.
func (s *Service) LogMonitor(action, description string, err error) {
	event := &entities.AuditEvent{
		EventType:   entities.AuditEventMonitor,
		Action:      action,
		Description: description,
		EntityType:  "monitor",
		Status:      entities.AuditStatusSuccess,
	}

	if err != nil {
		event.Status = entities.AuditStatusFailed
		event.ErrorMsg = truncate(err.Error(), 500)
	}

	s.LogAsync(event)
}

// LogLoan records a borrow or return made through the command line.
func (s *Service) LogLoan(action string, loanID uint, description string) {
	event := &entities.AuditEvent{
		EventType:   entities.AuditEventLoan,
		Action:      action,
		Description: description,
		EntityType:  "loan",
		EntityID:    &loanID,
		Status:      entities.AuditStatusSuccess,
	}

	s.LogAsync(event)
}

// GetEvents retrieves paginated audit events. An empty eventType matches all.
func (s *Service) GetEvents(eventType entities.AuditEventType, limit, offset int) ([]entities.AuditEvent, int64, error) {
	return s.repo.GetEvents(eventType, limit, offset)
}

// DeleteOldEvents removes events older than the specified duration and
// records the sweep itself.
func (s *Service) DeleteOldEvents(retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	deleted, err := s.repo.DeleteOldEvents(cutoff)

	event := &entities.AuditEvent{
		EventType:   entities.AuditEventRetention,
		Action:      "audit_cleanup",
		Description: fmt.Sprintf("Deleted %d audit events older than %s", deleted, cutoff.Format(time.RFC3339)),
		Status:      entities.AuditStatusSuccess,
	}
	if err != nil {
		event.Status = entities.AuditStatusFailed
		event.ErrorMsg = truncate(err.Error(), 500)
	}
	s.LogAsync(event)

	return deleted, err
}

// truncate shortens a string to max length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
