// Package interfaces documents the core abstractions used throughout the application.
//
// This package consolidates interface documentation and holds compile-time
// checks that the concrete types satisfy them.
//
// # Interface Categories
//
// ## Overdue Monitor Interfaces
//
//   - Conn: Private storage session owned by the worker goroutine (internal/monitor/monitor.go)
//   - OverdueLister: Optional extension of Conn naming the overdue loans (internal/monitor/monitor.go)
//   - Opener: Opens a Conn on the worker goroutine (internal/monitor/monitor.go)
//   - Handler: Receives notifications on the worker goroutine (internal/monitor/notification.go)
//
// ## Data Access Interfaces
//
//   - OverdueStore: Overdue loans on the foreground connection (internal/http/stores.go)
//   - AuditEventReader: Paginated audit history (internal/http/stores.go)
//   - Pinger: Storage connectivity check (internal/http/stores.go)
//
// ## Background Work Interfaces
//
//   - MonitorStatus: Monitor lifecycle state and counters (internal/http/stores.go)
//   - NotificationSource: Latest notification and live stream (internal/http/stores.go)
//   - OverdueRecorder: Persists overdue alerts from the task queue (internal/tasks/record_alert.go)
//   - AuditEventCleaner: Retention cleanup (internal/tasks/cleanup_audit.go)
//
// # Implementing a New Notification Handler
//
//  1. Implement OnOverdueDetected(monitor.Notification) and return quickly;
//     it runs on the monitor's worker goroutine
//  2. Hand slow work to another goroutine or the task queue (see tasks.AlertEnqueuer)
//  3. Subscribe it in internal/entrypoint and keep the unsubscribe func
//  4. Add a compile-time check in checks.go
package interfaces
