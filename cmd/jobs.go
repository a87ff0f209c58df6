package main

import (
	"github.com/go-redis/redis/v8"

	"npuprof/internal/jobs"
	"npuprof/pkg/lock"
	"npuprof/pkg/logger"
)

// sampler logs its totals once every samplerLogEvery runs
const samplerLogEvery = 6

func (app *Application) initJobs() error {
	if app.analyzer == nil {
		logger.WarnCtx(app.ctx, "Profiling session not initialized yet, skipping background task registration")
		return nil
	}

	manager := jobs.NewManager(app.ctx)

	manager.Register(jobs.NewSamplerJob(app.config.Jobs.SamplerInterval, app.analyzer, samplerLogEvery))
	manager.Register(jobs.NewFlushJob(app.config.Jobs.FlushInterval, app.descriptors))

	// Retention runs on one replica at a time; without Redis the lock degrades to single instance mode
	if app.mysqlRepo != nil {
		var redisClient *redis.Client
		if app.redisClient != nil {
			redisClient = app.redisClient.GetClient()
		}
		retentionLock := lock.NewRedisLock(redisClient, "jobs:retention-lock")
		manager.Register(jobs.WithLock(
			jobs.NewRetentionJob(app.config.Jobs.RetentionInterval, app.config.Sinks.Retention, app.mysqlRepo.OpRecord),
			retentionLock,
		))
	}

	app.jobsManager = manager
	return nil
}
