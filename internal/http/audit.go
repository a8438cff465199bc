package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/circulation/internal/entities"
)

type AuditController struct {
	events AuditEventReader
	log    logrus.FieldLogger
}

func NewAuditController(events AuditEventReader, log logrus.FieldLogger) *AuditController {
	return &AuditController{events: events, log: log}
}

// GetAlerts handles GET /api/alerts?limit=N&offset=M
// Returns recorded overdue detections, most recent first.
func (ac *AuditController) GetAlerts(c *gin.Context) {
	ac.respondEvents(c, entities.AuditEventOverdue)
}

// GetAuditEvents handles GET /api/audit?type=T&limit=N&offset=M
func (ac *AuditController) GetAuditEvents(c *gin.Context) {
	eventType := entities.AuditEventType(c.Query("type"))
	if eventType != "" && !isKnownEventType(eventType) {
		respondBadRequest(c, "unknown event type: "+string(eventType))
		return
	}
	ac.respondEvents(c, eventType)
}

func (ac *AuditController) respondEvents(c *gin.Context, eventType entities.AuditEventType) {
	limit, offset := parseLimitOffset(c, 25, 100)

	events, total, err := ac.events.GetEvents(eventType, limit, offset)
	if err != nil {
		respondInternalError(c, ac.log, err, "get audit events")
		return
	}
	if events == nil {
		events = []entities.AuditEvent{}
	}

	c.JSON(http.StatusOK, newPaginatedResponse(events, total, limit, offset))
}

// GetEventTypes handles GET /api/audit/types
func (ac *AuditController) GetEventTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"event_types": getEventTypes()})
}

func getEventTypes() []string {
	return []string{
		string(entities.AuditEventOverdue),
		string(entities.AuditEventMonitor),
		string(entities.AuditEventLoan),
		string(entities.AuditEventRetention),
	}
}

func isKnownEventType(t entities.AuditEventType) bool {
	for _, known := range getEventTypes() {
		if string(t) == known {
			return true
		}
	}
	return false
}
