package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/circulation/internal/monitor"
)

type HealthResponse struct {
	Status  string            `json:"status"`
	Time    string            `json:"time"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks"`
	Monitor *MonitorHealth    `json:"monitor,omitempty"`
}

// MonitorHealth reports the overdue monitor inside a health response.
type MonitorHealth struct {
	State string        `json:"state"`
	RunID string        `json:"run_id"`
	Stats monitor.Stats `json:"stats"`
}

type HealthController struct {
	db      Pinger
	monitor MonitorStatus
	version string
}

func NewHealthController(db Pinger, mon MonitorStatus, version string) *HealthController {
	return &HealthController{
		db:      db,
		monitor: mon,
		version: version,
	}
}

// Status handles GET /health. The service is unhealthy when the database is
// unreachable; a stopped monitor is reported as degraded.
func (h *HealthController) Status(c *gin.Context) {
	checks := make(map[string]string)
	status := "healthy"

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			checks["database"] = "error: " + err.Error()
			status = "unhealthy"
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not configured"
	}

	var mon *MonitorHealth
	if h.monitor != nil {
		state := h.monitor.State()
		mon = &MonitorHealth{
			State: state.String(),
			RunID: h.monitor.RunID(),
			Stats: h.monitor.Stats(),
		}
		switch {
		case state != monitor.StateRunning:
			checks["monitor"] = state.String()
			if status == "healthy" {
				status = "degraded"
			}
		case mon.Stats.ConsecutiveFailures > 0:
			checks["monitor"] = "failing"
			if status == "healthy" {
				status = "degraded"
			}
		default:
			checks["monitor"] = "ok"
		}
	} else {
		checks["monitor"] = "disabled"
	}

	health := HealthResponse{
		Status:  status,
		Time:    time.Now().Format(time.RFC3339),
		Version: h.version,
		Checks:  checks,
		Monitor: mon,
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.IndentedJSON(statusCode, health)
}
