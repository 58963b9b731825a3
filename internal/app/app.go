// Package app wires configuration, storage, transports and the engine
// components into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"outreach-relay-go/internal/assignment"
	"outreach-relay-go/internal/balancer"
	"outreach-relay-go/internal/campaign"
	"outreach-relay-go/internal/config"
	"outreach-relay-go/internal/db"
	"outreach-relay-go/internal/events"
	"outreach-relay-go/internal/handlers"
	"outreach-relay-go/internal/metrics"
	"outreach-relay-go/internal/model"
	"outreach-relay-go/internal/pool"
	"outreach-relay-go/internal/queue"
	"outreach-relay-go/internal/render"
	"outreach-relay-go/internal/scheduler"
	"outreach-relay-go/internal/sendtime"
	"outreach-relay-go/internal/server"
	"outreach-relay-go/internal/store"
	"outreach-relay-go/internal/transport"
)

// App holds the wired components of the service
type App struct {
	Config      *config.Config
	Store       store.Store
	Metrics     *metrics.Metrics
	Pool        *pool.Pool
	Assignments *assignment.Store
	Balancer    *balancer.Balancer
	SendTime    *sendtime.Scheduler
	Engine      *campaign.Engine
	Dispatcher  *queue.Dispatcher
	Scheduler   *scheduler.Scheduler
	Transport   *transport.SentCopier
	Events      events.Publisher

	db *gorm.DB
}

// ConfigureLogging sets the JSON formatter and the level from configuration
func ConfigureLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", level)
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

// New builds every component from cfg. One-shot commands pass
// metrics.NewUnregistered so only serve exposes the default registry.
func New(cfg *config.Config, m *metrics.Metrics) (*App, error) {
	a := &App{Config: cfg, Metrics: m}

	if cfg.Database.Driver == "memory" {
		logrus.Warn("Using the in-memory store, data is lost on exit")
		a.Store = store.NewMemory()
	} else {
		conn, err := db.Init(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.db = conn
		a.Store = store.NewGorm(conn)
	}

	a.Events = events.Nop{}
	if cfg.Events.AMQPURL != "" {
		pub, err := events.NewAMQP(cfg.Events.AMQPURL, cfg.Events.Queue)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Events = pub
	}

	a.Transport = transport.NewSentCopier(transport.NewRouter(map[model.TransportKind]transport.Transport{
		model.TransportSMTP:     transport.NewSMTP(30 * time.Second),
		model.TransportGmailAPI: transport.NewGmail(cfg.Gmail.ClientID, cfg.Gmail.ClientSecret),
		model.TransportDummy:    transport.NewDummy(),
	}), &transport.IMAPMailbox{Folder: transport.SentMailbox})

	a.Pool = pool.New(a.Store, a.Metrics)
	a.Assignments = assignment.New(a.Store)
	a.Balancer = balancer.New(a.Store, a.Pool, a.Assignments,
		balancer.WithDefaultPolicy(model.SelectionPolicy(cfg.Distribution.DefaultSelectionPolicy)))
	a.SendTime = sendtime.New(a.Store)
	a.Engine = campaign.NewEngine(a.Store, a.Pool, a.Balancer, a.SendTime, render.NewSimple(), a.Metrics)
	a.Dispatcher = queue.NewDispatcher(queue.Deps{
		Store:       a.Store,
		Pool:        a.Pool,
		Assignments: a.Assignments,
		Balancer:    a.Balancer,
		SendTime:    a.SendTime,
		Transport:   a.Transport,
		Events:      a.Events,
		Metrics:     a.Metrics,
	}, cfg.Queue)
	a.Scheduler = scheduler.NewScheduler(&cfg.Scheduler,
		scheduler.NewTasks(a.Pool, a.Engine, a.Dispatcher, cfg.Scheduler.PurgeDays))

	return a, nil
}

// Close releases the broker and database connections
func (a *App) Close() {
	if a.Events != nil {
		if err := a.Events.Close(); err != nil {
			logrus.Errorf("Failed to close event publisher: %v", err)
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				logrus.Errorf("Failed to close database: %v", err)
			}
		}
	}
}

// Serve runs the admin API and the cron triggers until ctx is cancelled
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config

	viper.OnConfigChange(func(e fsnotify.Event) {
		level := viper.GetString("log.level")
		if lvl, err := logrus.ParseLevel(level); err == nil {
			logrus.SetLevel(lvl)
			logrus.Infof("Config file %s changed, log level is now %s", e.Name, lvl)
		}
	})
	if viper.ConfigFileUsed() != "" {
		viper.WatchConfig()
	}

	h := handlers.NewHandlers(a.Store, a.Pool, a.Engine, a.Dispatcher, a.Scheduler, a.Transport)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.SetupRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Scheduler.Enabled {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		logrus.Info("Scheduler disabled, triggers run only on demand")
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logrus.Warnf("Failed to notify systemd: %v", err)
	} else if ok {
		logrus.Debug("Notified systemd of readiness")
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		logrus.Errorf("HTTP server error: %v", serveErr)
	}

	logrus.Info("Shutting down server...")
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.Scheduler.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	a.Scheduler.Wait()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return serveErr
}
