package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yourusername/prepstream/internal/auth"
	"github.com/yourusername/prepstream/internal/config"
	"github.com/yourusername/prepstream/internal/database"
	"github.com/yourusername/prepstream/internal/generation"
	"github.com/yourusername/prepstream/internal/interview"
	"github.com/yourusername/prepstream/internal/jobs"
	"github.com/yourusername/prepstream/internal/streaming"
	"github.com/yourusername/prepstream/internal/streams"
	"github.com/yourusername/prepstream/internal/usage"
	"github.com/yourusername/prepstream/internal/users"
)

const mockDriverDelay = 150 * time.Millisecond

// app はプロセス全体で共有するハンドルです。起動時に作成し、終了時に close します。
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	rdb      *redis.Client
	pool     *pgxpool.Pool
	registry *prometheus.Registry

	interviews interview.Repository
	auth       *auth.Manager
	streaming  *streaming.Service
	jobs       *jobs.Manager
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	rdb, err := setupRedis(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.rdb = rdb

	var (
		userRepo  users.Repository
		usageRepo usage.Repository
	)
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.pool = pool
		if err := database.EnsureSchema(ctx, pool); err != nil {
			a.close()
			return nil, err
		}
		a.interviews = interview.NewPostgresRepository(pool)
		userRepo = users.NewPostgresRepository(pool)
		usageRepo = usage.NewPostgresRepository(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL is not set, using in-memory repositories")
		a.interviews = interview.NewMemoryRepository()
		userRepo = users.NewMemoryRepository()
		usageRepo = usage.NewMemoryRepository()
	}

	if cfg.AppUsername != "" {
		u, err := users.EnsureUser(ctx, userRepo, cfg.AppUsername, cfg.AppPasswordHash, cfg.DefaultIterationLimit)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("bootstrap user: %w", err)
		}
		logger.Info().Str("userId", u.ID).Str("username", u.Username).Msg("initial user ready")
	}

	vault, err := setupVault(cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	driver, err := setupDriver(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	collector := usage.NewCollector()
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := usage.NewRecorder(usageRepo, collector, logger)

	gate := users.NewGate(userRepo, vault, users.GateOptions{
		Platform: generation.Credentials{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		},
		BYOKModelStandard: cfg.BYOKModelStandard,
		BYOKModelPremium:  cfg.BYOKModelPremium,
	})

	tracker := streams.NewTracker(rdb, cfg.ActiveTTL(), cfg.TerminalTTL())
	a.streaming = streaming.NewService(tracker, driver, a.interviews, gate, recorder, collector, logger, streaming.Options{
		Throttle:   cfg.Throttle(),
		OutboxSize: cfg.StreamOutboxSize,
	})
	a.auth = auth.NewManager(userRepo, vault, nil, logger)

	a.jobs, err = jobs.NewManager(cfg, a.streaming, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close redis client")
		}
	}
}

// setupRedis は Tracker 用のクライアントを作ります。接続できなくても起動は続けます。
func setupRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis is unreachable, stream resumption is degraded")
	}
	return rdb, nil
}

func setupVault(cfg *config.Config, logger zerolog.Logger) (*users.KeyVault, error) {
	if cfg.BYOKSecret != "" {
		key, err := cfg.BYOKKey()
		if err != nil {
			return nil, err
		}
		return users.NewKeyVault(key), nil
	}
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, err
	}
	logger.Warn().Msg("BYOK_SECRET is not set, stored BYOK keys will not survive a restart")
	return users.NewKeyVault(&key), nil
}

func setupDriver(cfg *config.Config) (generation.Driver, error) {
	if cfg.LLMProvider == "mock" {
		return generation.MockDriver{Delay: mockDriverDelay}, nil
	}
	return generation.NewOpenAIDriver(generation.OpenAISettings{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
}
