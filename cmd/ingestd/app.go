package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	ingest "github.com/goliatone/go-ingest"
	"github.com/goliatone/go-ingest/core"
	ingestmigrations "github.com/goliatone/go-ingest/migrations"
	"github.com/goliatone/go-ingest/progress"
	sqlstore "github.com/goliatone/go-ingest/store/sql"

	"github.com/cenkalti/backoff/v4"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	pingTimeout    = 5 * time.Second
	pingMaxRetries = 5
)

type persistenceConfig struct {
	db      core.DatabaseConfig
	service string
}

func (c persistenceConfig) GetDebug() bool              { return c.db.Debug }
func (c persistenceConfig) GetDriver() string           { return c.db.Driver }
func (c persistenceConfig) GetServer() string           { return c.db.DSN }
func (persistenceConfig) GetPingTimeout() time.Duration { return pingTimeout }
func (c persistenceConfig) GetOtelIdentifier() string   { return c.service }

// app holds the process level resources shared by every subcommand.
type app struct {
	config  core.Config
	logger  *glog.BaseLogger
	client  *persistence.Client
	redis   *redis.Client
	runtime *ingest.Runtime
}

type appOptions struct {
	envFiles    []string
	autoMigrate bool
	withRuntime bool
}

func openApp(ctx context.Context, logger *glog.BaseLogger, opts appOptions) (*app, error) {
	cfg, err := core.LoadConfig(ctx, core.Config{}, opts.envFiles...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a := &app{config: cfg, logger: logger}

	a.client, err = openDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if opts.autoMigrate {
		if err := a.migrate(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	if !opts.withRuntime {
		return a, nil
	}

	runtimeOpts := []ingest.RuntimeOption{
		ingest.WithRuntimeLogger(logger),
		ingest.WithRuntimeLoggerProvider(logger),
	}
	if cfg.Redis.Addr != "" {
		backend, err := a.openRedis(ctx)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		runtimeOpts = append(runtimeOpts, ingest.WithStateBackend(backend))
	}

	stores, err := sqlstore.NewRepositoryFactory().BuildStores(a.client)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("build stores: %w", err)
	}
	a.runtime, err = ingest.NewRuntime(cfg, stores, runtimeOpts...)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("build runtime: %w", err)
	}
	return a, nil
}

func openDatabase(ctx context.Context, cfg core.Config, logger *glog.BaseLogger) (*persistence.Client, error) {
	var dialect schema.Dialect
	switch cfg.Database.Driver {
	case "postgres":
		dialect = pgdialect.New()
	case "sqlite3":
		dialect = sqlitedialect.New()
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	sqlDB, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.Driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := retryPing(ctx, logger, "database", sqlDB.PingContext); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	client, err := persistence.New(persistenceConfig{db: cfg.Database, service: cfg.ServiceName}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}
	return client, nil
}

func (a *app) openRedis(ctx context.Context) (progress.TaskStateBackend, error) {
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.config.Redis.Addr,
		Password: a.config.Redis.Password,
		DB:       a.config.Redis.DB,
	})
	err := retryPing(ctx, a.logger, "redis", func(ctx context.Context) error {
		return a.redis.Ping(ctx).Err()
	})
	if err != nil {
		return nil, err
	}
	return progress.NewRedisBackend(a.redis, a.config.Redis.KeyPrefix, a.config.Redis.StateTTL)
}

func (a *app) migrate(ctx context.Context) error {
	target, err := ingestmigrations.DialectFor(a.config.Database.Driver)
	if err != nil {
		return err
	}
	_, err = ingestmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect == target {
			a.client.RegisterSQLMigrations(fsys)
		}
		return nil
	}, ingestmigrations.WithValidationTargets(target))
	if err != nil {
		return fmt.Errorf("register migrations: %w", err)
	}
	if err := a.client.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Info("migrations applied", "dialect", target)
	return nil
}

func (a *app) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.runtime != nil {
		errs = append(errs, a.runtime.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	return errors.Join(errs...)
}

// retryPing waits for a backing service with exponential backoff.
func retryPing(ctx context.Context, logger *glog.BaseLogger, name string, ping func(context.Context) error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), pingMaxRetries),
		ctx,
	)
	err := backoff.RetryNotify(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return ping(pingCtx)
	}, policy, func(err error, wait time.Duration) {
		logger.Warn("backing service not ready", "service", name, "retry_in", wait, "error", err)
	})
	if err != nil {
		return fmt.Errorf("ping %s: %w", name, err)
	}
	return nil
}
