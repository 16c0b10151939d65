package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/yourusername/prepstream/internal/config"
	"github.com/yourusername/prepstream/internal/streaming"
)

// Manager はタスクの投入とワーカーの起動を担います。
type Manager struct {
	client  *asynq.Client
	server  *asynq.Server
	mux     *asynq.ServeMux
	runner  Runner
	logger  zerolog.Logger
	timeout time.Duration
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, runner Runner, logger zerolog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	logger = logger.With().Str("component", "jobs").Logger()
	manager := &Manager{
		client:  asynq.NewClient(opt),
		mux:     asynq.NewServeMux(),
		runner:  runner,
		logger:  logger,
		timeout: cfg.ActiveTTL(),
	}
	manager.server = asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueGeneration: 1,
			},
			Logger:       asynqLogger{logger},
			ErrorHandler: asynq.ErrorHandlerFunc(manager.reportFailure),
		},
	)
	manager.mux.HandleFunc(TaskTypeGeneration, manager.handleGenerationTask)
	return manager, nil
}

// StartWorkers はワーカーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() error {
	if err := m.server.Start(m.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	m.logger.Info().Msg("background generation workers started")
	return nil
}

// Shutdown は実行中のタスクを待ってからサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// Schedule は生成タスクをキューに投入します。streaming.Scheduler を満たします。
func (m *Manager) Schedule(ctx context.Context, task streaming.BackgroundTask) error {
	t, err := newGenerationTask(task)
	if err != nil {
		return err
	}
	info, err := m.client.EnqueueContext(ctx, t, asynq.Timeout(m.timeout))
	if err != nil {
		return err
	}
	m.logger.Debug().Str("taskId", info.ID).Str("streamId", task.StreamID).Msg("generation task enqueued")
	return nil
}

func (m *Manager) handleGenerationTask(ctx context.Context, t *asynq.Task) error {
	task, err := decodeGenerationTask(t)
	if err != nil {
		return fmt.Errorf("decode generation task: %v: %w", err, asynq.SkipRetry)
	}
	if err := m.runner.RunBackground(ctx, task); err != nil {
		return fmt.Errorf("run generation %s: %v: %w", task.StreamID, err, asynq.SkipRetry)
	}
	return nil
}

func (m *Manager) reportFailure(ctx context.Context, t *asynq.Task, err error) {
	taskID, _ := asynq.GetTaskID(ctx)
	m.logger.Error().Err(err).Str("type", t.Type()).Str("taskId", taskID).Msg("background task failed")
}

// asynqLogger は asynq のログを zerolog に流します。
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
