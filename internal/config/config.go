package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP
		Global
		Database
		Monitor
		Tasks
		Audit
		Log
		CORS
	}

	HTTP struct {
		Port int32
		Host string
	}
	Global struct {
		ShutdownTimeoutInSeconds int
	}
	Database struct {
		Path string
	}
	Monitor struct {
		Enabled      bool
		PollInterval time.Duration // Time between overdue checks (default: 10s)
		Slice        time.Duration // Sleep granularity while waiting out PollInterval (default: 1s)
		NotifyPolicy string        // "always" or "on-change"
		MaxListed    int           // Loan IDs carried per notification (default: 50)
	}
	Tasks struct {
		Enabled         bool
		Workers         int
		ReleaseAfter    time.Duration
		CleanupInterval time.Duration
	}
	Audit struct {
		RetentionDays   int    // Days to keep audit events (default: 30)
		CleanupSchedule string // Cron format: "0 3 * * *" = daily at 03:00
	}
	Log struct {
		Level  string
		Format string // "text" or "json"
	}
	CORS struct {
		AllowedOrigins []string
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8190)
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("shutdown_timeout_in_seconds", 5)
	v.SetDefault("database_path", DefaultDatabasePath)

	// Overdue monitor defaults
	v.SetDefault("monitor_enabled", true)
	v.SetDefault("monitor_poll_interval", "10s")
	v.SetDefault("monitor_slice", "1s")
	v.SetDefault("monitor_notify_policy", NotifyPolicyAlways)
	v.SetDefault("monitor_max_listed", 50)

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("task_workers", 1)
	v.SetDefault("task_release_after", "15m")
	v.SetDefault("task_cleanup_interval", "1h")

	v.SetDefault("audit_retention_days", 30)
	v.SetDefault("audit_cleanup_schedule", "0 3 * * *")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("cors_allowed_origins", "")

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Database: Database{
			Path: v.GetString("DATABASE_PATH"),
		},
		Monitor: Monitor{
			Enabled:      v.GetBool("MONITOR_ENABLED"),
			PollInterval: v.GetDuration("MONITOR_POLL_INTERVAL"),
			Slice:        v.GetDuration("MONITOR_SLICE"),
			NotifyPolicy: v.GetString("MONITOR_NOTIFY_POLICY"),
			MaxListed:    v.GetInt("MONITOR_MAX_LISTED"),
		},
		Tasks: Tasks{
			Enabled:         v.GetBool("TASKS_ENABLED"),
			Workers:         v.GetInt("TASK_WORKERS"),
			ReleaseAfter:    v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval: v.GetDuration("TASK_CLEANUP_INTERVAL"),
		},
		Audit: Audit{
			RetentionDays:   v.GetInt("AUDIT_RETENTION_DAYS"),
			CleanupSchedule: v.GetString("AUDIT_CLEANUP_SCHEDULE"),
		},
		Log: Log{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		CORS: CORS{
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
	}
}

// splitList parses a comma-separated env value, dropping empty entries
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
