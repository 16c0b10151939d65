package streaming

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/yourusername/prepstream/internal/generation"
	"github.com/yourusername/prepstream/internal/interview"
	"github.com/yourusername/prepstream/internal/streams"
	"github.com/yourusername/prepstream/internal/usage"
)

// Tracker はストリームの状態とバッファの保存先です。
type Tracker interface {
	StartJob(ctx context.Context, streamID string, key streams.Key, ownerID string) (*streams.Job, error)
	MarkStatus(ctx context.Context, key streams.Key, streamID string, status streams.Status) error
	AppendContent(ctx context.Context, key streams.Key, streamID string, chunk string) error
	ReadContent(ctx context.Context, key streams.Key) (string, bool, error)
	ReadJob(ctx context.Context, key streams.Key) (*streams.Job, error)
	Clear(ctx context.Context, key streams.Key) error
}

// Quota は生成前のクォータ確認と認証情報の払い出しを行います。
type Quota interface {
	Authorize(ctx context.Context, userID string) (generation.Credentials, error)
	Credentials(ctx context.Context, userID string) (generation.Credentials, error)
}

// AuditLog は生成結果の監査ログです。
type AuditLog interface {
	LogRequest(ctx context.Context, e usage.Entry)
	LogError(ctx context.Context, e usage.Entry, err error)
}

// Metrics はプロデューサーが報告するメトリクスです。
type Metrics interface {
	StreamStarted()
	StreamFinished()
	EventProduced(eventType string)
	TimeToFirstToken(module string, seconds float64)
}

// Options は Service の設定です。
type Options struct {
	Throttle   time.Duration
	OutboxSize int
	Clock      clock.Clock
}

// Service は生成リクエストの検証、プロデューサーの起動、状態の参照をまとめます。
type Service struct {
	tracker Tracker
	driver  generation.Driver
	docs    interview.Repository
	quota   Quota
	audit   AuditLog
	metrics Metrics
	logger  zerolog.Logger
	opts    Options
	newID   func() string

	wg sync.WaitGroup
}

// NewService は Service を作成します。audit と metrics は nil でも構いません。
func NewService(tracker Tracker, driver generation.Driver, docs interview.Repository, quota Quota, audit AuditLog, metrics Metrics, logger zerolog.Logger, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Throttle <= 0 {
		opts.Throttle = 120 * time.Millisecond
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 16
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if audit == nil {
		audit = nopAudit{}
	}
	return &Service{
		tracker: tracker,
		driver:  driver,
		docs:    docs,
		quota:   quota,
		audit:   audit,
		metrics: metrics,
		logger:  logger.With().Str("component", "streaming").Logger(),
		opts:    opts,
		newID:   uuid.NewString,
	}
}

// GenerateRequest はクライアントからの生成要求です。
type GenerateRequest struct {
	InterviewID        string `json:"interviewId"`
	Module             string `json:"module"`
	UserID             string `json:"userId"`
	Count              int    `json:"count,omitempty"`
	CustomInstructions string `json:"customInstructions,omitempty"`
	TopicID            string `json:"topicId,omitempty"`
	Style              string `json:"style,omitempty"`
}

// BackgroundTask はクライアント無しで実行する生成です。Prepare 済みでクォータは消費済みです。
type BackgroundTask struct {
	StreamID string          `json:"streamId"`
	Request  GenerateRequest `json:"request"`
}

// Generation は検証済みの生成1回分です。
type Generation struct {
	StreamID string
	Key      streams.Key
	OwnerID  string

	module   interview.Module
	params   interview.Params
	existing []string
	request  generation.Request
}

// Prepare はストリームを開く前の検証（所有者、モジュールのパラメータ、クォータ）を行います。
// ここで返るエラーは HTTP エラーとして返せます。クォータはこの時点で消費されます。
func (s *Service) Prepare(ctx context.Context, req GenerateRequest) (*Generation, error) {
	return s.build(ctx, s.newID(), req, s.quota.Authorize)
}

func (s *Service) build(ctx context.Context, streamID string, req GenerateRequest, credentials func(context.Context, string) (generation.Credentials, error)) (*Generation, error) {
	if req.UserID == "" {
		return nil, newError(http.StatusUnauthorized, "UNAUTHORIZED", "ログインが必要です", nil)
	}
	module, err := interview.ModuleByKey(req.Module)
	if err != nil {
		return nil, err
	}
	doc, err := s.docs.Get(ctx, req.InterviewID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != req.UserID {
		return nil, errForbidden
	}
	params, err := module.Prepare(doc, interview.Params{Count: req.Count, TopicID: req.TopicID, Style: req.Style})
	if err != nil {
		if apiErr := classify(err); apiErr.Status != http.StatusInternalServerError {
			return nil, err
		}
		return nil, newError(http.StatusBadRequest, "INVALID_INPUT", err.Error(), err)
	}

	creds, err := credentials(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	existing := module.ExistingIDs(doc)
	gctx := generation.NewContext(generation.Context{
		Resume:             doc.Resume,
		JobDescription:     doc.JobDescription,
		Role:               doc.Role,
		Company:            doc.Company,
		CustomInstructions: strings.TrimSpace(req.CustomInstructions),
		Plan:               creds.Tier,
	}, existing)

	return &Generation{
		StreamID: streamID,
		Key:      streams.Key{ParentID: doc.ID, Module: string(module.Key())},
		OwnerID:  req.UserID,
		module:   module,
		params:   params,
		existing: existing,
		request: generation.Request{
			Context:     gctx,
			Prompt:      module.Prompt(doc, gctx, params),
			Shape:       module.Shape(),
			Count:       params.Count,
			Credentials: creds,
		},
	}, nil
}

// Begin は Tracker に新しい active 記録を書き込み、同じキーの以前の試行を置き換えます。
// Tracker の失敗は生成を止めません。
func (s *Service) Begin(ctx context.Context, g *Generation) {
	if _, err := s.tracker.StartJob(ctx, g.StreamID, g.Key, g.OwnerID); err != nil {
		s.logger.Warn().Err(err).Str("streamId", g.StreamID).Str("key", g.Key.String()).Msg("start stream job")
	}
}

// Session は接続中のクライアントへ配信しているプロデューサーです。
type Session struct {
	StreamID string

	outbox *Outbox
	done   chan struct{}
}

// Outbox は配信用のキューです。
func (s *Session) Outbox() *Outbox {
	return s.outbox
}

// Done はプロデューサーが最終状態を記録し終えると閉じられます。
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start は Begin を行い、プロデューサーをゴルーチンで起動します。
// プロデューサーはクライアントの切断でキャンセルされず、最後まで保存と記録を行います。
func (s *Service) Start(ctx context.Context, g *Generation) *Session {
	s.Begin(ctx, g)

	session := &Session{
		StreamID: g.StreamID,
		outbox:   NewOutbox(s.opts.OutboxSize),
		done:     make(chan struct{}),
	}
	produceCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(session.done)
		s.produce(produceCtx, g, session.outbox)
	}()
	return session
}

// RunBackground はクライアント無しで生成を最後まで実行します。
// 実行前に同じキーが新しい試行に置き換えられていれば何もしません。
// ctx が途中で終わった場合も記録は error になり、その原因を返します。
func (s *Service) RunBackground(ctx context.Context, task BackgroundTask) error {
	key := streams.Key{ParentID: task.Request.InterviewID, Module: task.Request.Module}
	logger := s.logger.With().Str("streamId", task.StreamID).Str("key", key.String()).Logger()

	job, err := s.tracker.ReadJob(ctx, key)
	if err != nil {
		logger.Warn().Err(err).Msg("read stream job before background run")
	} else if job != nil && job.StreamID != task.StreamID {
		logger.Info().Msg("background generation superseded before start")
		return nil
	}

	g, err := s.build(ctx, task.StreamID, task.Request, s.quota.Credentials)
	if err != nil {
		if markErr := s.tracker.MarkStatus(context.WithoutCancel(ctx), key, task.StreamID, streams.StatusError); markErr != nil {
			logger.Warn().Err(markErr).Msg("mark background stream as error")
		}
		return fmt.Errorf("prepare background generation: %w", err)
	}

	s.wg.Add(1)
	defer s.wg.Done()
	if err := s.produce(ctx, g, nil); err != nil {
		return fmt.Errorf("background generation %s: %w", task.StreamID, err)
	}
	return nil
}

// Wait は実行中のプロデューサーが全て終わるか ctx が終わるまで待ちます。
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StatusView は状態確認エンドポイントの応答です。
type StatusView struct {
	Status    streams.Status `json:"status"`
	StreamID  string         `json:"streamId,omitempty"`
	CreatedAt int64          `json:"createdAt,omitempty"`
}

// Status は key の状態を返します。記録が無い、所有者が違う、Tracker が使えない場合は none です。
func (s *Service) Status(ctx context.Context, key streams.Key, userID string) StatusView {
	job := s.readOwnedJob(ctx, key, userID)
	if job == nil {
		return StatusView{Status: streams.StatusNone}
	}
	return StatusView{
		Status:    job.Status,
		StreamID:  job.StreamID,
		CreatedAt: job.CreatedAt.UnixMilli(),
	}
}

// Replay はバッファ済みのフレームと現在の状態を返します。
func (s *Service) Replay(ctx context.Context, key streams.Key, userID string) (string, StatusView) {
	view := s.Status(ctx, key, userID)
	if view.Status == streams.StatusNone {
		return "", view
	}
	content, _, err := s.tracker.ReadContent(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("read stream content")
		return "", view
	}
	return content, view
}

// Dismiss は終了済みの記録とバッファを削除します。
// 記録が無い、または所有者が違う場合は何もしません。active の記録は削除できません。
func (s *Service) Dismiss(ctx context.Context, key streams.Key, userID string) error {
	job := s.readOwnedJob(ctx, key, userID)
	if job == nil {
		return nil
	}
	if job.Status == streams.StatusActive {
		return errStreamActive
	}
	if err := s.tracker.Clear(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("clear stream job")
	}
	return nil
}

func (s *Service) readOwnedJob(ctx context.Context, key streams.Key, userID string) *streams.Job {
	job, err := s.tracker.ReadJob(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("read stream job")
		return nil
	}
	if job == nil || job.OwnerID != userID {
		return nil
	}
	return job
}

type nopAudit struct{}

func (nopAudit) LogRequest(context.Context, usage.Entry)      {}
func (nopAudit) LogError(context.Context, usage.Entry, error) {}

type nopMetrics struct{}

func (nopMetrics) StreamStarted()                    {}
func (nopMetrics) StreamFinished()                   {}
func (nopMetrics) EventProduced(string)              {}
func (nopMetrics) TimeToFirstToken(string, float64) {}
