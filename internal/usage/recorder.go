package usage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Recorder は生成の成功・失敗をログ、メトリクス、保存先へ書き出します。
// 記録の失敗は呼び出し元へ返さず、ログに残すだけです。
type Recorder struct {
	repo    Repository
	metrics *Collector
	logger  zerolog.Logger
	now     func() time.Time
}

// NewRecorder は Recorder を作成します。repo と metrics は nil でも構いません。
func NewRecorder(repo Repository, metrics *Collector, logger zerolog.Logger) *Recorder {
	return &Recorder{
		repo:    repo,
		metrics: metrics,
		logger:  logger.With().Str("component", "usage").Logger(),
		now:     time.Now,
	}
}

// Metrics はメトリクスの Collector を返します。
func (r *Recorder) Metrics() *Collector {
	return r.metrics
}

// LogRequest は成功した生成を記録します。
func (r *Recorder) LogRequest(ctx context.Context, e Entry) {
	e.Error = ""
	r.record(ctx, e, r.logger.Info())
}

// LogError は失敗した生成を記録します。err の内容はサーバー側にのみ残ります。
func (r *Recorder) LogError(ctx context.Context, e Entry, err error) {
	if err != nil {
		e.Error = err.Error()
	} else if e.Error == "" {
		e.Error = "unknown error"
	}
	r.record(ctx, e, r.logger.Warn())
}

func (r *Recorder) record(ctx context.Context, e Entry, ev *zerolog.Event) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}

	ev = ev.
		Str("userId", e.UserID).
		Str("interviewId", e.InterviewID).
		Str("module", e.Module).
		Str("streamId", e.StreamID).
		Str("model", e.Model).
		Bool("byok", e.BYOK).
		Int64("promptTokens", e.Usage.PromptTokens).
		Int64("completionTokens", e.Usage.CompletionTokens).
		Int64("totalTokens", e.Usage.TotalTokens).
		Dur("latency", e.Latency)
	if e.TTFT > 0 {
		ev = ev.Dur("ttft", e.TTFT)
	}
	if e.Failed() {
		ev = ev.Str("error", e.Error)
	}
	ev.Msg("ai request")

	if r.metrics != nil {
		r.metrics.observe(e)
	}
	if r.repo != nil {
		if err := r.repo.Insert(ctx, e); err != nil {
			r.logger.Error().Err(err).Str("streamId", e.StreamID).Msg("persist usage entry")
		}
	}
}
