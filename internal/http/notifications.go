package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/circulation/internal/monitor"
)

// DefaultKeepAlive is how often an idle stream sends a comment line.
const DefaultKeepAlive = 30 * time.Second

type NotificationsController struct {
	source    NotificationSource
	keepAlive time.Duration
}

func NewNotificationsController(source NotificationSource, keepAlive time.Duration) *NotificationsController {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &NotificationsController{source: source, keepAlive: keepAlive}
}

// NotificationResponse is a notification plus its display message.
type NotificationResponse struct {
	monitor.Notification
	Message string `json:"message"`
}

func overdueMessage(count int64) string {
	return monitor.Notification{Count: count}.Message()
}

// Latest handles GET /api/notifications/latest
func (nc *NotificationsController) Latest(c *gin.Context) {
	n, ok := nc.source.Latest()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, NotificationResponse{Notification: n, Message: n.Message()})
}

// Stream handles GET /api/notifications/stream as server-sent events. Each
// notification is an "overdue" event; the stream ends when the client leaves
// or the hub closes the subscription.
func (nc *NotificationsController) Stream(c *gin.Context) {
	ch, cancel := nc.source.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(nc.keepAlive)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("overdue", NotificationResponse{Notification: n, Message: n.Message()})
			c.Writer.Flush()
		case <-ticker.C:
			if _, err := c.Writer.WriteString(": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
