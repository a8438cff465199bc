package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/circulation/internal/tasks"
)

// TasksController handles task queue management endpoints.
type TasksController struct {
	client        *tasks.Client
	retentionDays int
}

// NewTasksController creates a new TasksController.
func NewTasksController(client *tasks.Client, retentionDays int) *TasksController {
	return &TasksController{client: client, retentionDays: retentionDays}
}

// TaskTypeInfo describes an available task type.
type TaskTypeInfo struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Queue       string `json:"queue"`
	Manual      bool   `json:"manual"`
}

// ListTaskTypes handles GET /api/tasks/types
func (tc *TasksController) ListTaskTypes(c *gin.Context) {
	types := []TaskTypeInfo{
		{
			Type:        "record_overdue_alert",
			Description: "Record an overdue monitor notification in the audit log",
			Queue:       tasks.RecordOverdueAlertTask{}.Config().Name,
		},
		{
			Type:        "cleanup_audit_events",
			Description: "Delete audit events older than the retention period",
			Queue:       tasks.CleanupAuditEventsTask{}.Config().Name,
			Manual:      true,
		},
	}

	c.JSON(http.StatusOK, gin.H{
		"task_types": types,
	})
}

// GetTaskStatus handles GET /api/tasks/:id
func (tc *TasksController) GetTaskStatus(c *gin.Context) {
	taskID := c.Param("id")
	if taskID == "" {
		respondBadRequest(c, "task ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status, err := tc.client.Status(ctx, taskID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     taskID,
		"status": taskStatusToString(status),
	})
}

// RunTaskRequest is the request body for running a task.
type RunTaskRequest struct {
	// RetentionDays overrides the configured retention for cleanup_audit_events
	RetentionDays int `json:"retention_days,omitempty" form:"retention_days"`
}

// RunTask handles POST /api/tasks/:type/run
// Only cleanup_audit_events can be triggered by hand; overdue alerts come from the monitor.
func (tc *TasksController) RunTask(c *gin.Context) {
	taskType := c.Param("type")

	var req RunTaskRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBind(&req); err != nil {
			respondBadRequest(c, "invalid request body")
			return
		}
	}

	var task backlite.Task
	switch taskType {
	case "cleanup_audit_events":
		days := req.RetentionDays
		if days <= 0 {
			days = tc.retentionDays
		}
		task = tasks.CleanupAuditEventsTask{RetentionDays: days}

	default:
		respondBadRequest(c, fmt.Sprintf("unknown task type: %s", taskType))
		return
	}

	ids, err := tc.client.Add(task).Save()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"task_id": ids[0],
		"type":    taskType,
		"message": "task enqueued",
	})
}

func taskStatusToString(status backlite.TaskStatus) string {
	switch status {
	case backlite.TaskStatusPending:
		return "pending"
	case backlite.TaskStatusRunning:
		return "running"
	case backlite.TaskStatusSuccess:
		return "success"
	case backlite.TaskStatusFailure:
		return "failure"
	case backlite.TaskStatusNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}
