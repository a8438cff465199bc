package http

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NewRouter creates and configures the HTTP router with all endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	router := gin.New()
	router.Use(requestLogger(log))
	router.Use(gin.Recovery())

	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Content-Type", "Last-Event-ID"},
			MaxAge:       12 * time.Hour,
		}))
	}

	health := NewHealthController(cfg.Database, cfg.Monitor, cfg.Version)
	router.GET("/health", health.Status)
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	if cfg.Loans != nil {
		overdue := NewOverdueController(cfg.Loans, cfg.Now, log)
		router.GET("/api/overdue", overdue.List)
	}

	if cfg.Notifications != nil {
		notifications := NewNotificationsController(cfg.Notifications, DefaultKeepAlive)
		router.GET("/api/notifications/latest", notifications.Latest)
		router.GET("/api/notifications/stream", notifications.Stream)
	}

	if cfg.Audit != nil {
		auditController := NewAuditController(cfg.Audit, log)
		router.GET("/api/alerts", auditController.GetAlerts)
		router.GET("/api/audit", auditController.GetAuditEvents)
		router.GET("/api/audit/types", auditController.GetEventTypes)
	}

	if cfg.TaskClient != nil {
		tasksController := NewTasksController(cfg.TaskClient, cfg.AuditRetentionDays)
		router.GET("/api/tasks/types", tasksController.ListTaskTypes)
		router.GET("/api/tasks/:id", tasksController.GetTaskStatus)
		router.POST("/api/tasks/:type/run", tasksController.RunTask)
	}

	return router
}

// requestLogger logs one line per request through logrus.
func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("HTTP request failed")
			return
		}
		entry.Debug("HTTP request")
	}
}
