package http

import (
	"context"
	"time"

	"github.com/mrlokans/circulation/internal/entities"
	"github.com/mrlokans/circulation/internal/monitor"
)

// This file consolidates the interfaces HTTP controllers depend on.

// OverdueStore reads overdue loans on the foreground connection.
type OverdueStore interface {
	CountOverdue(ctx context.Context, asOf time.Time) (int64, error)
	ListOverdue(ctx context.Context, asOf time.Time, limit int) ([]entities.Loan, error)
}

// MonitorStatus exposes the overdue monitor's lifecycle and counters.
type MonitorStatus interface {
	State() monitor.State
	Stats() monitor.Stats
	RunID() string
}

// NotificationSource provides monitor notifications after they leave the worker.
type NotificationSource interface {
	Latest() (monitor.Notification, bool)
	Subscribe() (<-chan monitor.Notification, func())
}

// AuditEventReader provides paginated access to audit history.
type AuditEventReader interface {
	GetEvents(eventType entities.AuditEventType, limit, offset int) ([]entities.AuditEvent, int64, error)
}

// Pinger checks storage connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
