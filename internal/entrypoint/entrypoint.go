package entrypoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/circulation/internal/audit"
	"github.com/mrlokans/circulation/internal/config"
	"github.com/mrlokans/circulation/internal/database"
	auditRepo "github.com/mrlokans/circulation/internal/database/audit"
	"github.com/mrlokans/circulation/internal/database/loans"
	"github.com/mrlokans/circulation/internal/database/overdue"
	http_controllers "github.com/mrlokans/circulation/internal/http"
	"github.com/mrlokans/circulation/internal/logging"
	"github.com/mrlokans/circulation/internal/monitor"
	"github.com/mrlokans/circulation/internal/notify"
	"github.com/mrlokans/circulation/internal/scheduler"
	"github.com/mrlokans/circulation/internal/tasks"
)

// monitorOpenTimeout bounds the overdue monitor's connection attempt at startup.
const monitorOpenTimeout = 30 * time.Second

// App holds every long-lived component of the server.
type App struct {
	cfg *config.Config
	log *logrus.Entry

	DB        *database.Database
	Audit     *audit.Service
	Hub       *notify.Hub
	Monitor   *monitor.Monitor
	Tasks     *tasks.Client
	Alerts    *tasks.AlertEnqueuer
	Scheduler *scheduler.AuditCleanupScheduler
	Router    *gin.Engine

	taskCancel context.CancelFunc
	unsubs     []func()
}

// New opens the foreground database and builds all components without
// starting any background work.
func New(cfg *config.Config, version string) (*App, error) {
	log := logging.New("app", cfg.Log.Level, cfg.Log.Format)
	app := &App{cfg: cfg, log: log}

	db, err := database.NewDatabase(cfg.Database.Path, logging.New("database", cfg.Log.Level, cfg.Log.Format))
	if err != nil {
		return nil, err
	}
	app.DB = db

	app.Audit = audit.NewService(auditRepo.NewRepository(db.DB), logging.New("audit", cfg.Log.Level, cfg.Log.Format))
	app.Hub = notify.NewHub(logging.New("notify", cfg.Log.Level, cfg.Log.Format), notify.DefaultBuffer)

	if cfg.Tasks.Enabled {
		taskLog := logging.New("tasks", cfg.Log.Level, cfg.Log.Format)
		app.Tasks, err = tasks.NewClient(cfg.Database.Path, tasks.Config{
			Workers:         cfg.Tasks.Workers,
			ReleaseAfter:    cfg.Tasks.ReleaseAfter,
			CleanupInterval: cfg.Tasks.CleanupInterval,
		}, taskLog)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize task queue: %w", err)
		}
		app.Tasks.Register(
			tasks.NewRecordOverdueAlertQueue(app.Audit, taskLog),
			tasks.NewCleanupAuditEventsQueue(app.Audit, taskLog),
		)
	}

	app.Scheduler = scheduler.NewAuditCleanupScheduler(
		app.Tasks,
		app.Audit,
		cfg.Audit.CleanupSchedule,
		cfg.Audit.RetentionDays,
		logging.New("scheduler", cfg.Log.Level, cfg.Log.Format),
	)

	if cfg.Monitor.Enabled {
		app.Monitor, err = newMonitor(cfg, overdue.NewOpener(cfg.Database.Path))
		if err != nil {
			app.closeStorage()
			return nil, err
		}
		app.unsubs = append(app.unsubs, app.Monitor.Subscribe(app.Hub))
		if app.Tasks != nil {
			app.Alerts = tasks.NewAlertEnqueuer(app.Tasks, log)
			app.unsubs = append(app.unsubs, app.Monitor.Subscribe(app.Alerts))
		}
	}

	routerCfg := http_controllers.RouterConfig{
		Database:           db,
		Loans:              loans.NewRepository(db.DB),
		Notifications:      app.Hub,
		Audit:              app.Audit,
		TaskClient:         app.Tasks,
		AuditRetentionDays: cfg.Audit.RetentionDays,
		CORSOrigins:        cfg.CORS.AllowedOrigins,
		Version:            version,
		Log:                logging.New("http", cfg.Log.Level, cfg.Log.Format),
	}
	if app.Monitor != nil {
		routerCfg.Monitor = app.Monitor
	}
	app.Router = http_controllers.NewRouter(routerCfg)

	return app, nil
}

func newMonitor(cfg *config.Config, open monitor.Opener) (*monitor.Monitor, error) {
	policy, err := monitor.ParsePolicy(cfg.Monitor.NotifyPolicy)
	if err != nil {
		return nil, err
	}
	return monitor.New(monitor.Config{
		PollInterval: cfg.Monitor.PollInterval,
		Slice:        cfg.Monitor.Slice,
		Policy:       policy,
		MaxListed:    cfg.Monitor.MaxListed,
	}, open, monitor.WithLogger(logging.New("monitor", cfg.Log.Level, cfg.Log.Format)))
}

// Start launches the task workers, the overdue monitor and the cleanup
// schedule. A monitor that cannot connect is reported once and the host
// keeps running without it.
func (a *App) Start(ctx context.Context) error {
	if a.Tasks != nil {
		var taskCtx context.Context
		taskCtx, a.taskCancel = context.WithCancel(context.Background())
		a.Tasks.Start(taskCtx)
	}

	if a.Monitor != nil {
		openCtx, cancel := context.WithTimeout(ctx, monitorOpenTimeout)
		err := a.Monitor.Start(openCtx)
		cancel()
		if err != nil {
			a.log.WithError(err).Warn("Overdue monitor is unavailable; continuing without overdue checks")
			a.Audit.LogMonitor("monitor_start", "Overdue monitor failed to start", err)
		} else {
			a.Audit.LogMonitor("monitor_start", "Overdue monitor started", nil)
		}
	}

	if err := a.Scheduler.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start audit cleanup scheduler: %w", err)
	}
	return nil
}

// Shutdown stops background work in dependency order: monitor, cron, task
// queue, then storage. The HTTP server must already be shut down.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	if a.Monitor != nil && a.Monitor.State() != monitor.StateIdle {
		if err := a.Monitor.RequestStop(); err != nil {
			errs = append(errs, err)
		}
		if err := a.Monitor.WaitForStop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("overdue monitor did not stop: %w", err))
		} else {
			a.Audit.LogMonitor("monitor_stop", "Overdue monitor stopped", nil)
		}
	}
	for _, unsubscribe := range a.unsubs {
		unsubscribe()
	}

	if a.Alerts != nil {
		a.Alerts.Close()
	}
	a.Scheduler.Stop()

	if a.Tasks != nil {
		if !a.Tasks.Stop(ctx) {
			errs = append(errs, errors.New("task queue stopped with timeout"))
		}
		if a.taskCancel != nil {
			a.taskCancel()
		}
	}

	a.Audit.Wait()
	if err := a.closeStorage(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (a *App) closeStorage() error {
	var errs []error
	if a.Tasks != nil {
		if err := a.Tasks.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close task database: %w", err))
		}
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

// Serve runs the HTTP server until SIGINT or SIGTERM, shuts it down and then
// calls onShutdown with the remaining shutdown budget.
func Serve(router *gin.Engine, cfg *config.Config, log logrus.FieldLogger, onShutdown ShutdownFunc) {
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	// Long-lived streams watch this context so Shutdown does not wait on them
	streams, closeStreams := context.WithCancel(context.Background())
	defer closeStreams()

	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return streams },
	}
	srv.RegisterOnShutdown(closeStreams)

	go func() {
		log.WithField("addr", srv.Addr).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.WithField("timeout", timeout).Info("Shutdown Server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server Shutdown")
	}

	if onShutdown != nil {
		onShutdown(ctx)
	}

	log.Info("Server exiting")
}

func Run(cfg *config.Config, version string) {
	log := logging.New("app", cfg.Log.Level, cfg.Log.Format)
	log.WithField("version", version).Info("Starting circulation")

	app, err := New(cfg, version)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize")
	}

	if err := app.Start(context.Background()); err != nil {
		log.WithError(err).Error("Failed to start background services")
		if err := app.Shutdown(context.Background()); err != nil {
			log.WithError(err).Error("Shutdown")
		}
		os.Exit(1)
	}

	Serve(app.Router, cfg, log, func(ctx context.Context) {
		if err := app.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Shutdown finished with errors")
		}
	})
}
