package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/alexisbeaulieu97/pipewright/internal/app/launcher"
	"github.com/alexisbeaulieu97/pipewright/internal/config"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/engine"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/events"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/metrics"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/operator"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/persistence"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/stage"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/tracker"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
	"github.com/alexisbeaulieu97/pipewright/internal/stages"
)

// AppContext bundles long-lived services created at startup.
type AppContext struct {
	Config   *config.Config
	Logger   ports.Logger
	Metrics  *metrics.PrometheusCollector
	Events   *events.LoggingPublisher
	Repo     *persistence.RedisExecutionRepository
	Queue    engine.Queue
	Runner   *engine.QueueRunner
	Worker   *engine.Worker
	Tracker  *tracker.StartTracker
	Listener *tracker.Listener
	Operator *operator.Operator
	Launcher *launcher.Launcher

	clients []redis.UniversalClient
}

// defaultConfigPath is read when --config is not given; it may be absent.
const defaultConfigPath = "pipewright.yaml"

// newAppContext loads the configuration at configPath and wires every
// component against it. Logs go to logOut.
func newAppContext(ctx context.Context, configPath string, verbose bool, logOut io.Writer) (*AppContext, error) {
	optional := configPath == ""
	if optional {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath, optional)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	log, err := logging.New(logging.Options{
		Writer:        logOut,
		Level:         level,
		HumanReadable: cfg.Logging.HumanReadable,
		Layer:         "cli",
		Fields:        map[string]interface{}{"partition": cfg.Partition},
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	app := &AppContext{Config: cfg, Logger: log}

	primary := redisClient(cfg.Redis.Primary)
	app.clients = append(app.clients, primary)
	if err := primary.Ping(ctx).Err(); err != nil {
		app.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Primary.Address, err)
	}

	repoOpts := []persistence.Option{
		persistence.WithLogger(log),
		persistence.WithPartition(cfg.Partition),
		persistence.WithPipelining(cfg.PipeliningEnabled()),
		persistence.WithChunkSize(cfg.Repository.ChunkSize),
	}
	if cfg.Redis.Previous != nil {
		previous := redisClient(*cfg.Redis.Previous)
		app.clients = append(app.clients, previous)
		repoOpts = append(repoOpts, persistence.WithPrevious(previous))
	}
	app.Repo = persistence.NewRedisExecutionRepository(primary, repoOpts...)

	switch cfg.Queue.Backend {
	case "memory":
		app.Queue = engine.NewMemoryQueue(time.Now)
	default:
		app.Queue = engine.NewRedisQueue(primary, cfg.Queue.Key, time.Now)
	}

	builders := stage.NewRegistry()
	tasks := stage.NewTaskRegistry()
	if err := stages.RegisterDefaults(builders, tasks, stages.Options{Location: cfg.Location()}); err != nil {
		app.Close()
		return nil, fmt.Errorf("register stages: %w", err)
	}
	planner := stage.NewPlanner(builders)

	app.Metrics = metrics.NewPrometheusCollector()
	app.Events = events.NewLoggingPublisher(log)

	handler := engine.NewHandler(app.Repo, planner, tasks, app.Queue,
		engine.WithHandlerLogger(log),
		engine.WithHandlerMetrics(app.Metrics),
		engine.WithHandlerEvents(app.Events),
	)
	app.Worker = engine.NewWorker(app.Queue, handler,
		engine.WithWorkerLogger(log),
		engine.WithWorkerMetrics(app.Metrics),
		engine.WithWorkerParallelism(cfg.Queue.Parallelism),
		engine.WithPollInterval(cfg.PollInterval()),
	)
	app.Runner = engine.NewQueueRunner(app.Queue, app.Repo, planner, log)

	app.Tracker = tracker.NewStartTracker(tracker.NewRedisPipelineStack(primary), app.Repo, tracker.WithLogger(log))
	app.Listener = tracker.NewListener(app.Tracker, app.Repo, app.Runner, log)
	if _, err := app.Listener.Subscribe(app.Events); err != nil {
		app.Close()
		return nil, fmt.Errorf("subscribe start listener: %w", err)
	}

	app.Operator = operator.New(app.Runner, app.Repo,
		operator.WithLogger(log),
		operator.WithMetrics(app.Metrics),
		operator.WithRetry(cfg.Operator.RetryAttempts, cfg.RetryBackoff()),
	)
	app.Launcher = launcher.New(launcher.NewYAMLParser(), app.Repo, app.Runner,
		launcher.WithLogger(log),
		launcher.WithStartGate(app.Tracker),
		launcher.WithEvents(app.Events),
	)

	return app, nil
}

// Close releases the Redis connections.
func (a *AppContext) Close() {
	for _, client := range a.clients {
		_ = client.Close()
	}
	a.clients = nil
}

func redisClient(endpoint config.RedisEndpoint) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     endpoint.Address,
		Password: endpoint.Password,
		DB:       endpoint.DB,
	})
}
