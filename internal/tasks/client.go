package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikestefanello/backlite"
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/circulation/internal/database"
)

// Client wraps backlite to provide task queue functionality.
type Client struct {
	client *backlite.Client
	db     *sql.DB
	config Config
	log    logrus.FieldLogger

	mu      sync.RWMutex
	started bool
}

// TasksDBPath derives the queue database path from the main database path
// by adding a "-tasks" suffix before the extension.
func TasksDBPath(mainDBPath string) string {
	dir := filepath.Dir(mainDBPath)
	base := filepath.Base(mainDBPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	return filepath.Join(dir, name+"-tasks"+ext)
}

// NewClient creates a new task queue client with a dedicated SQLite database
// stored alongside the main database.
func NewClient(mainDBPath string, cfg Config, log logrus.FieldLogger) (*Client, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	tasksDBPath := TasksDBPath(mainDBPath)

	// The queue database is private to the task workers, so WAL is safe here
	params := database.BusyTimeout()
	params.Set("_journal", "WAL")
	params.Set("_timeout", "5000")
	db, err := sql.Open("sqlite3", database.FileURI(tasksDBPath, params))
	if err != nil {
		return nil, fmt.Errorf("failed to open tasks database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Workers + 5)
	db.SetMaxIdleConns(cfg.Workers + 2)
	db.SetConnMaxLifetime(time.Hour)

	client, err := backlite.NewClient(backlite.ClientConfig{
		DB:              db,
		NumWorkers:      cfg.Workers,
		ReleaseAfter:    cfg.ReleaseAfter,
		CleanupInterval: cfg.CleanupInterval,
		Logger:          &logrusAdapter{log: log},
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create backlite client: %w", err)
	}

	if err := client.Install(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to install backlite schema: %w", err)
	}

	return &Client{
		client: client,
		db:     db,
		config: cfg,
		log:    log,
	}, nil
}

// Register registers task queues with the client.
// Must be called before Start().
func (c *Client) Register(queues ...backlite.Queue) {
	for _, q := range queues {
		c.client.Register(q)
	}
}

// Start begins processing tasks. It does not block.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.log.WithField("workers", c.config.Workers).Info("Task queue started")
	c.client.Start(ctx)
}

// Stop gracefully shuts down the task queue, waiting for active tasks to complete.
// Returns true if all workers finished before the context deadline.
func (c *Client) Stop(ctx context.Context) bool {
	c.mu.RLock()
	if !c.started {
		c.mu.RUnlock()
		return true
	}
	c.mu.RUnlock()

	c.log.Info("Stopping task queue...")
	success := c.client.Stop(ctx)
	if success {
		c.log.Info("Task queue stopped gracefully")
	} else {
		c.log.Warn("Task queue stopped with timeout (some tasks may not have completed)")
	}
	return success
}

// Close releases all resources. Should be called after Stop().
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Add starts an operation to enqueue one or more tasks.
func (c *Client) Add(tasks ...backlite.Task) *backlite.TaskAddOp {
	return c.client.Add(tasks...)
}

// Status returns the status of a task by ID.
func (c *Client) Status(ctx context.Context, taskID string) (backlite.TaskStatus, error) {
	return c.client.Status(ctx, taskID)
}

// logrusAdapter implements backlite.Logger.
type logrusAdapter struct {
	log logrus.FieldLogger
}

func (l *logrusAdapter) Info(message string, params ...any) {
	l.log.WithFields(paramFields(params)).Debug("[TASK] " + message)
}

func (l *logrusAdapter) Error(message string, params ...any) {
	l.log.WithFields(paramFields(params)).Error("[TASK] " + message)
}

// paramFields turns backlite's alternating key/value params into fields.
func paramFields(params []any) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(params); i += 2 {
		key, ok := params[i].(string)
		if !ok {
			key = fmt.Sprint(params[i])
		}
		fields[key] = params[i+1]
	}
	if len(params)%2 == 1 {
		fields["extra"] = params[len(params)-1]
	}
	return fields
}
