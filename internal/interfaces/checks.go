package interfaces

// This file contains compile-time interface implementation checks.
// These ensure that concrete types satisfy their interfaces at compile time,
// catching missing methods before runtime.
//
// To verify all checks pass: go build ./internal/interfaces/...

import (
	"github.com/mrlokans/circulation/internal/audit"
	"github.com/mrlokans/circulation/internal/database"
	"github.com/mrlokans/circulation/internal/database/loans"
	"github.com/mrlokans/circulation/internal/database/overdue"
	"github.com/mrlokans/circulation/internal/http"
	"github.com/mrlokans/circulation/internal/monitor"
	"github.com/mrlokans/circulation/internal/notify"
	"github.com/mrlokans/circulation/internal/tasks"
)

// =============================================================================
// Overdue Monitor
// =============================================================================

// Private monitor connection
var _ monitor.Conn = (*overdue.Reader)(nil)
var _ monitor.OverdueLister = (*overdue.Reader)(nil)

// Notification handlers
var _ monitor.Handler = (*notify.Hub)(nil)
var _ monitor.Handler = (*tasks.AlertEnqueuer)(nil)

// =============================================================================
// Data Access Layer
// =============================================================================

var _ http.Pinger = (*database.Database)(nil)
var _ http.OverdueStore = (*loans.Repository)(nil)
var _ http.AuditEventReader = (*audit.Service)(nil)

// =============================================================================
// Background Work
// =============================================================================

var _ http.MonitorStatus = (*monitor.Monitor)(nil)
var _ http.NotificationSource = (*notify.Hub)(nil)
var _ tasks.OverdueRecorder = (*audit.Service)(nil)
var _ tasks.AuditEventCleaner = (*audit.Service)(nil)
