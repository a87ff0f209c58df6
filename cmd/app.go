package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"npuprof/app/handler"
	"npuprof/internal/analyzer"
	"npuprof/internal/jobs"
	"npuprof/internal/opregistry"
	"npuprof/internal/service"
	"npuprof/pkg/config"
	"npuprof/pkg/hashdict"
	"npuprof/pkg/logger"
	asynqq "npuprof/pkg/queue/asynq"
	mysqlstore "npuprof/pkg/store/mysql"
	redisstore "npuprof/pkg/store/redis"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
)

// Application manages the lifecycle of the entire application
type Application struct {
	// Infrastructure components
	config      *config.Config
	mysqlRepo   *mysqlstore.Repository
	redisClient *redisstore.RedisClient
	recentStore *redisstore.OpRecordStore
	queue       *asynqq.Manager

	// Profiling session
	registry    *opregistry.Registry
	dict        *hashdict.Dictionary
	hub         *service.StreamHub
	descriptors *service.DescriptorService
	records     *service.RecordService
	analyzer    *analyzer.Analyzer

	// Handler layer
	profileHandler *handler.ProfileHandler
	recordHandler  *handler.RecordHandler

	// HTTP server
	httpServer *http.Server
	ginEngine  *gin.Engine

	// Background tasks
	jobsManager *jobs.Manager

	// Context management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Cleanup functions, run in reverse registration order
	cleanupFuncs []func() error
}

// NewApplication creates a new Application instance
func NewApplication() *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		ctx:          ctx,
		cancel:       cancel,
		cleanupFuncs: make([]func() error, 0),
	}
}

// Initialize initializes all application components
func (app *Application) Initialize() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"Redis", app.initRedis},
		{"MySQL", app.initMySQL},
		{"Queue", app.initQueue},
		{"Profiling Session", app.initSession},
		{"Background Tasks", app.initJobs},
		{"Handler Layer", app.initHandlers},
		{"HTTP Server", app.initHTTPServer},
	}

	for _, step := range steps {
		logger.InfoCtx(app.ctx, "Initializing %s...", step.name)
		if err := step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		logger.InfoCtx(app.ctx, "%s initialized successfully", step.name)
	}

	logger.InfoCtx(app.ctx, "Application initialization completed")
	return nil
}

// Start starts all application components
func (app *Application) Start() error {
	logger.InfoCtx(app.ctx, "Starting application components...")

	// 1. Start background tasks
	if app.jobsManager != nil {
		logger.InfoCtx(app.ctx, "Starting background task manager: %v", app.jobsManager.Names())
		app.jobsManager.Start()
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.jobsManager.Wait()
		}()
	}

	// 2. Start the queue worker; without MySQL queued records wait for another instance
	if app.queue != nil {
		if app.mysqlRepo == nil {
			logger.WarnCtx(app.ctx, "Queue sink enabled without MySQL, records stay queued until a worker with MySQL runs")
		} else {
			app.queue.RegisterHandler(asynqq.TypeRecordPersist, asynqq.PersistHandler(app.mysqlRepo.OpRecord))
			if err := app.queue.Start(); err != nil {
				return fmt.Errorf("failed to start queue worker: %w", err)
			}
			logger.InfoCtx(app.ctx, "Queue worker started")
		}
	}

	// 3. Start HTTP server
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		logger.InfoCtx(app.ctx, "HTTP server listening on: %s", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.InfoCtx(app.ctx, "All components started successfully")
	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown(timeout time.Duration) error {
	logger.InfoCtx(app.ctx, "Starting graceful shutdown (timeout: %v)...", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs error

	// 1. Stop HTTP server (stop accepting new chunks)
	logger.InfoCtx(app.ctx, "Shutting down HTTP server...")
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("http server shutdown: %w", err))
	}

	// 2. Cancel background tasks
	logger.InfoCtx(app.ctx, "Canceling background tasks...")
	app.cancel()
	if app.jobsManager != nil {
		app.jobsManager.Stop()
	}

	// 3. Wait for all background tasks to complete
	logger.InfoCtx(app.ctx, "Waiting for background tasks to complete...")
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.InfoCtx(app.ctx, "All background tasks completed")
	case <-shutdownCtx.Done():
		logger.WarnCtx(app.ctx, "Shutdown timeout, some tasks may not have completed")
	}

	// 4. Flush the session: retained and batched records go out before stores close
	if app.analyzer != nil {
		app.analyzer.LogStats(shutdownCtx)
		if err := app.analyzer.Flush(shutdownCtx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("flush session: %w", err))
		}
	}

	// 5. Execute all cleanup functions (in reverse registration order)
	logger.InfoCtx(app.ctx, "Executing cleanup functions...")
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, app.cleanupFuncs[i]())
	}

	if errs != nil {
		logger.ErrorCtx(app.ctx, "Graceful shutdown completed with errors: %v", errs)
		return errs
	}
	logger.InfoCtx(app.ctx, "Graceful shutdown completed")
	return nil
}

// registerCleanup registers cleanup function
func (app *Application) registerCleanup(cleanup func() error) {
	app.cleanupFuncs = append(app.cleanupFuncs, cleanup)
}
