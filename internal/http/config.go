package http

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mrlokans/circulation/internal/tasks"
)

// RouterConfig contains all dependencies and configuration needed
// to create the HTTP router. Optional dependencies leave their routes out.
type RouterConfig struct {
	// Core dependencies
	Database Pinger
	Loans    OverdueStore

	// Overdue monitor (optional: nil when disabled)
	Monitor       MonitorStatus
	Notifications NotificationSource

	// Audit history
	Audit AuditEventReader

	// Task queue client (optional)
	TaskClient         *tasks.Client
	AuditRetentionDays int

	// Allowed CORS origins; empty disables the middleware
	CORSOrigins []string

	// Application info
	Version string

	Log logrus.FieldLogger
	// Now supplies "today" for overdue listings. Defaults to time.Now.
	Now func() time.Time
}
