package main

import (
	"fmt"
	"net/http"

	"npuprof/app/handler"
	"npuprof/app/router"
	"npuprof/internal/analyzer"
	"npuprof/internal/opregistry"
	"npuprof/internal/service"
	"npuprof/pkg/constants"
	"npuprof/pkg/hashdict"
	"npuprof/pkg/interfaces"
	"npuprof/pkg/logger"
	"npuprof/pkg/queue"
	asynqq "npuprof/pkg/queue/asynq"
	mysqlstore "npuprof/pkg/store/mysql"
	redisstore "npuprof/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app.config = cfg
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.InitWith(app.config.Logger); err != nil {
		return err
	}
	app.registerCleanup(func() error {
		logger.InfoCtx(app.ctx, "Logging system has been closed")
		// stdout/stderr sync fails on most terminals
		_ = logger.Sync()
		return nil
	})
	return nil
}

// initRedis initializes Redis when an address is configured
func (app *Application) initRedis() error {
	if app.config.Redis.Addr == "" {
		logger.InfoCtx(app.ctx, "Redis address not configured, skipping")
		return nil
	}

	client, err := redisstore.NewRedisClient(app.config.Redis)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.recentStore = redisstore.NewOpRecordStore(client.GetClient(), app.config.Sinks.RedisListKey, app.config.Sinks.RedisListCap)
	app.registerCleanup(func() error {
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
		return client.Close()
	})
	return nil
}

// initMySQL initializes MySQL when a host is configured
func (app *Application) initMySQL() error {
	if !app.config.MySQL.Enabled() {
		logger.InfoCtx(app.ctx, "MySQL host not configured, skipping")
		return nil
	}

	repo, err := mysqlstore.NewRepository(mysqlstore.DSN(app.config.MySQL))
	if err != nil {
		return err
	}
	if err := repo.Migrate(app.ctx); err != nil {
		_ = repo.Close()
		return err
	}

	app.mysqlRepo = repo
	app.registerCleanup(func() error {
		logger.InfoCtx(app.ctx, "MySQL connection has been closed")
		return repo.Close()
	})
	return nil
}

// initQueue creates the asynq manager when the queue sink is enabled
func (app *Application) initQueue() error {
	if !app.sinkEnabled(constants.SinkQueue) {
		return nil
	}

	provider, err := queue.CreateQueueProvider(app.config, "asynq")
	if err != nil {
		return err
	}
	mgr, ok := provider.(*asynqq.Manager)
	if !ok {
		return fmt.Errorf("unexpected queue provider %T", provider)
	}

	app.queue = mgr
	app.registerCleanup(func() error {
		mgr.Stop()
		logger.InfoCtx(app.ctx, "Queue has been closed")
		return mgr.Close()
	})
	return nil
}

// initSession builds the sinks, the hash dictionary and the analyzer
func (app *Application) initSession() error {
	app.hub = service.NewStreamHub()

	sinks, err := app.buildSinks()
	if err != nil {
		return err
	}
	app.registry = opregistry.New()
	app.descriptors = service.NewDescriptorService(app.registry, sinks...)
	logger.InfoCtx(app.ctx, "Record sinks: %v", app.descriptors.Sinks())

	app.dict = hashdict.New()
	if app.redisClient != nil {
		app.dict.WithRedis(app.redisClient.GetClient(), "")
		n, err := app.dict.Load(app.ctx)
		if err != nil {
			return fmt.Errorf("failed to load hash dictionary: %w", err)
		}
		logger.InfoCtx(app.ctx, "Loaded %d hash dictionary entries", n)
	}

	opts, err := analyzer.OptionsFromConfig(app.config.Analyzer)
	if err != nil {
		return err
	}
	a, err := analyzer.New(opts, analyzer.Deps{
		Uploader:  app.descriptors,
		Lookup:    app.dict,
		Registrar: app.dict,
		Registry:  app.registry,
	})
	if err != nil {
		return err
	}
	app.analyzer = a
	return nil
}

func (app *Application) sinkEnabled(t constants.SinkType) bool {
	for _, name := range app.config.Sinks.Enabled {
		if constants.SinkType(name) == t {
			return true
		}
	}
	return false
}

// buildSinks resolves the enabled sink names against the initialized stores
func (app *Application) buildSinks() ([]interfaces.RecordSink, error) {
	sinks := make([]interfaces.RecordSink, 0, len(app.config.Sinks.Enabled))
	for _, name := range app.config.Sinks.Enabled {
		switch constants.SinkType(name) {
		case constants.SinkRedis:
			if app.recentStore == nil {
				return nil, fmt.Errorf("sink %s needs redis.addr", name)
			}
			sinks = append(sinks, service.NewRedisSink(app.recentStore))
		case constants.SinkMySQL:
			if app.mysqlRepo == nil {
				return nil, fmt.Errorf("sink %s needs mysql.host", name)
			}
			sinks = append(sinks, service.NewMySQLSink(app.mysqlRepo.OpRecord, app.config.Sinks.MySQLBatch))
		case constants.SinkQueue:
			if app.queue == nil {
				return nil, fmt.Errorf("sink %s needs redis.addr", name)
			}
			sinks = append(sinks, service.NewQueueSink(app.queue))
		case constants.SinkWebSocket:
			sinks = append(sinks, app.hub)
		default:
			return nil, fmt.Errorf("unknown sink %q", name)
		}
	}
	return sinks, nil
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	var recent service.RecentReader
	if app.recentStore != nil {
		recent = app.recentStore
	}
	var history service.HistoryReader
	if app.mysqlRepo != nil {
		history = app.mysqlRepo.OpRecord
	}
	app.records = service.NewRecordService(recent, history)

	app.profileHandler = handler.NewProfileHandler(app.analyzer, app.descriptors, int64(app.config.Analyzer.MaxBufferSize))
	app.recordHandler = handler.NewRecordHandler(app.records, app.hub)
	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	r := router.NewRouter(app.profileHandler, app.recordHandler, app.config.Server.APIKey)

	gin.SetMode(app.config.Server.Mode)
	app.ginEngine = gin.New()
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}
	return nil
}
