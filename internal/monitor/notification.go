package monitor

import (
	"fmt"
	"time"
)

// Notification reports the overdue loans found by one check.
type Notification struct {
	RunID     string    `json:"run_id"`
	Count     int64     `json:"count"`
	LoanIDs   []uint    `json:"loan_ids,omitempty"` // Up to Config.MaxListed, oldest due date first
	CheckedAt time.Time `json:"checked_at"`
}

// Message renders the notification for display. It depends only on Count.
func (n Notification) Message() string {
	return fmt.Sprintf("Warning: %d item(s) overdue.", n.Count)
}

// Handler receives notifications.
type Handler interface {
	OnOverdueDetected(n Notification)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(n Notification)

func (f HandlerFunc) OnOverdueDetected(n Notification) { f(n) }
