package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"tradewatch/internal/alerting"
	"tradewatch/internal/api"
	"tradewatch/internal/cache"
	"tradewatch/internal/config"
	"tradewatch/internal/database"
	"tradewatch/internal/export"
	"tradewatch/internal/logger"
	"tradewatch/internal/monitor"
	"tradewatch/internal/stability"
	"tradewatch/internal/system"
)

// Shutdown priorities, higher stops first
const (
	priorityAPI        = 100
	priorityWatcher    = 90
	priorityExecutions = 80
	priorityMonitor    = 50
	priorityRedis      = 20
	priorityDatabase   = 10
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	envFile := flag.String("env", ".env", "环境变量文件路径")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	path := *configPath
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	env := config.NewEnvManager("", "")
	cfg, err := config.LoadWithEnv(path, env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.Logging).WithFields(map[string]interface{}{
		"app":     cfg.App.Name,
		"version": cfg.App.Version,
	})
	if path == "" {
		log.Warn("Config file not found, using defaults", "path", *configPath)
	}

	if err := run(cfg, path, env, log); err != nil {
		log.Error("Exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string, env *config.EnvManager, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	shutdown := stability.NewShutdownManager(30*time.Second, 10*time.Second, log, reg)
	fail := func(err error) error {
		shutdown.Shutdown(context.Background())
		return err
	}

	opts := monitor.Options{Probe: system.NewGopsutilProbe(), Registerer: reg}
	checks := map[string]stability.CheckFunc{
		"process": stability.ProcessCheck(0),
	}
	recoveries := map[string]stability.RecoveryHandler{}

	if cfg.Database.Enabled {
		db, err := database.NewConnection(ctx, cfg.Database, log)
		if err != nil {
			return fail(err)
		}
		shutdown.Register("database", priorityDatabase, func(ctx context.Context) error { return db.Close() })

		// the migrator owns its connection and closes it
		migrationDB, err := database.NewConnection(ctx, cfg.Database, log)
		if err != nil {
			return fail(err)
		}
		migrator, err := database.NewMigrator(migrationDB, "", log)
		if err != nil {
			migrationDB.Close()
			return fail(err)
		}
		shutdown.Register("migrator", priorityDatabase, func(ctx context.Context) error { return migrator.Close() })
		if cfg.Database.MigrateOnStart {
			if err := migrator.Up(); err != nil {
				return fail(err)
			}
		}

		migrations := database.NewMigrationMonitor(migrator, database.SchemaVersion, log)
		checks["database"] = db.HealthCheck
		checks["migrations"] = migrations.Check
		recoveries["database"] = db.Reconnect
		recoveries["migrations"] = migrations.Recover
		opts.Store = database.NewStore(db)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis, log)
		if err != nil {
			return fail(err)
		}
		redisClient = client
		shutdown.Register("redis", priorityRedis, func(ctx context.Context) error { return client.Close() })

		statusCache := cache.NewRedisCache(client, cache.DefaultPrefix, cfg.Redis.KeyTTL)
		checks["redis"] = statusCache.HealthCheck
		opts.Cache = statusCache
	}

	if cfg.Export.Region != "" {
		exporter, err := export.NewS3Exporter(ctx, cfg.Export.Region, cfg.Export.Dir, log)
		if err != nil {
			return fail(err)
		}
		opts.Exporter = exporter
	}

	mon, err := monitor.New(cfg, log, opts)
	if err != nil {
		return fail(err)
	}
	shutdown.Register("monitor", priorityMonitor, mon.Close)

	for name, url := range cfg.Monitor.HTTPChecks {
		checks[name] = stability.HTTPCheck(url, nil)
	}
	for name, fn := range checks {
		if err := mon.RegisterHealthCheck(name, fn); err != nil {
			return fail(err)
		}
	}
	for component, fn := range recoveries {
		if err := mon.RegisterRecoveryHandler(component, fn); err != nil {
			return fail(err)
		}
	}

	if err := registerChannels(ctx, cfg, env, mon, redisClient, log); err != nil {
		return fail(err)
	}

	if err := mon.Start(ctx); err != nil {
		return fail(err)
	}

	if redisClient != nil && cfg.Redis.ExecutionsChannel != "" {
		feed, err := cache.SubscribeExecutions(ctx, redisClient, cfg.Redis.ExecutionsChannel, log)
		if err != nil {
			return fail(err)
		}
		shutdown.Register("executions", priorityExecutions, func(ctx context.Context) error { return feed.Close() })
		go mon.ConsumeExecutions(ctx, feed.C())
	}

	if cfg.Server.Enabled {
		server := api.NewServer(cfg, mon, reg, reg, log)
		shutdown.Register("api", priorityAPI, server.Stop)
		go func() {
			if err := server.Start(); err != nil {
				log.Error("API server failed", "error", err)
				stop()
			}
		}()
	}

	if configPath != "" {
		watcher := config.NewConfigWatcher(configPath, env, log)
		watcher.OnChange(mon.ApplyConfig)
		if err := watcher.Start(ctx); err != nil {
			log.Warn("Config hot reload disabled", "error", err)
		} else {
			shutdown.Register("config_watcher", priorityWatcher, func(ctx context.Context) error {
				watcher.Stop()
				return nil
			})
		}
	}

	log.Info("tradewatch started", "environment", cfg.App.Environment)
	<-ctx.Done()
	log.Info("Shutdown signal received")

	result := shutdown.Shutdown(context.Background())
	if !result.Success {
		return fmt.Errorf("shutdown incomplete: %v", result.Errors)
	}
	return nil
}

// registerChannels wires the notification channels enabled in cfg
func registerChannels(ctx context.Context, cfg *config.Config, env *config.EnvManager, mon *monitor.Monitor, redisClient *redis.Client, log logger.Logger) error {
	mon.RegisterNotificationHandler(alerting.NewLogChannel(log))

	secret := env.GetSecret("WEBHOOK_SECRET", "")
	for _, url := range cfg.Notification.Webhooks {
		mon.RegisterNotificationHandler(alerting.NewWebhookChannel(url, secret, nil))
	}

	if redisClient != nil && cfg.Notification.RedisChannel != "" {
		mon.RegisterNotificationHandler(alerting.NewRedisChannel(redisClient, cfg.Notification.RedisChannel))
	}

	if email := cfg.Notification.Email; email.Enabled {
		ch, err := alerting.NewSESEmailChannel(ctx, email.Region, email.From, email.To)
		if err != nil {
			return err
		}
		mon.RegisterNotificationHandler(ch)
	}
	return nil
}
