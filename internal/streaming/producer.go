package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/prepstream/internal/streams"
	"github.com/yourusername/prepstream/internal/usage"
)

const (
	stageGenerate = "generate"
	stageFinalize = "finalize"
	stagePersist  = "persist"
)

// producer は1回の生成の部分値を間引いて配信し、Tracker のバッファへ追記し、最後に保存と状態更新を行います。
type producer struct {
	s      *Service
	g      *Generation
	out    *Outbox
	logger zerolog.Logger
	// record は Tracker、保存、監査ログへの書き込みに使います。
	// 生成側の ctx が終わっても最終状態を書き込めるようキャンセルされません。
	record context.Context

	started    time.Time
	ttft       time.Duration
	superseded bool
}

// produce は生成を最後まで実行し、失敗した場合はその原因を返します。
func (s *Service) produce(ctx context.Context, g *Generation, out *Outbox) error {
	p := &producer{
		s:      s,
		g:      g,
		out:    out,
		record: context.WithoutCancel(ctx),
		logger: s.logger.With().
			Str("streamId", g.StreamID).
			Str("interviewId", g.Key.ParentID).
			Str("module", g.Key.Module).
			Logger(),
		started: s.opts.Clock.Now(),
	}
	if out != nil {
		defer out.Close()
	}
	s.metrics.StreamStarted()
	defer s.metrics.StreamFinished()

	return p.run(ctx)
}

func (p *producer) run(ctx context.Context) error {
	stream := p.s.driver.Stream(ctx, p.g.request)
	gate := NewGate(p.s.opts.Clock, p.s.opts.Throttle)

	partials := stream.Partials()
	for partials != nil {
		select {
		case partial, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if v, ok := gate.Offer(partial); ok {
				p.forward(v)
			}
		case <-gate.Due():
			if v, ok := gate.Flush(); ok {
				p.forward(v)
			}
		}
	}
	if v, ok := gate.Flush(); ok {
		p.forward(v)
	}

	result, err := stream.Result(ctx)
	if err != nil {
		return p.fail(stageGenerate, err, usage.Entry{})
	}

	entry := usage.Entry{Model: result.Model, Usage: result.Usage}
	fin, err := p.g.module.Finalize(p.g.Key.ParentID, result.Object, p.g.existing, p.g.params)
	if err != nil {
		return p.fail(stageFinalize, err, entry)
	}

	p.checkSuperseded()
	if p.superseded {
		p.logger.Info().Msg("stream superseded, skipping persistence")
	} else if err := fin.Persist(p.record, p.s.docs); err != nil {
		return p.fail(stagePersist, err, entry)
	}

	p.emit(Event{Type: EventComplete, Module: p.g.Key.Module, Data: fin.Payload})
	p.emit(Event{Type: EventDone, Module: p.g.Key.Module})
	p.mark(streams.StatusCompleted)

	p.s.audit.LogRequest(p.record, p.entry(entry))
	p.logger.Info().Int("items", fin.Items).Bool("superseded", p.superseded).Msg("generation completed")
	return nil
}

// forward は部分値からモジュールの表示部分を取り出して content イベントとして送ります。
func (p *producer) forward(partial json.RawMessage) {
	data, ok := p.g.module.ExtractPartial(partial)
	if !ok {
		return
	}
	if p.ttft == 0 {
		p.ttft = max(p.s.opts.Clock.Now().Sub(p.started), time.Nanosecond)
		p.s.metrics.TimeToFirstToken(p.g.Key.Module, p.ttft.Seconds())
	}
	p.emit(Event{Type: EventContent, Module: p.g.Key.Module, Data: data})
}

// emit はイベントをクライアントへ積み、同じフレームを Tracker のバッファへ追記します。
func (p *producer) emit(ev Event) {
	frame, err := ev.Frame()
	if err != nil {
		p.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("encode stream event")
		return
	}
	p.s.metrics.EventProduced(string(ev.Type))
	if p.out != nil {
		p.out.Push(frame)
	}
	p.track(func() error {
		return p.s.tracker.AppendContent(p.record, p.g.Key, p.g.StreamID, string(frame))
	}, "append stream content")
}

func (p *producer) fail(stage string, err error, entry usage.Entry) error {
	p.logger.Error().Err(err).Str("stage", stage).Msg("generation failed")
	p.emit(Event{Type: EventError, Module: p.g.Key.Module, Error: sanitize(stage, err)})
	p.mark(streams.StatusError)
	p.s.audit.LogError(p.record, p.entry(entry), err)
	return fmt.Errorf("%s: %w", stage, err)
}

func (p *producer) mark(status streams.Status) {
	p.track(func() error {
		return p.s.tracker.MarkStatus(p.record, p.g.Key, p.g.StreamID, status)
	}, "mark stream status")
}

// track は Tracker への書き込みを行います。失敗しても生成は続けます。
// 新しい試行に置き換えられた後は書き込みません。
func (p *producer) track(op func() error, msg string) {
	if p.superseded {
		return
	}
	err := op()
	switch {
	case err == nil:
	case errors.Is(err, streams.ErrSuperseded):
		p.superseded = true
		p.logger.Info().Msg("stream superseded by a newer attempt")
	default:
		p.logger.Warn().Err(err).Msg(msg)
	}
}

// checkSuperseded は保存前に、記録が別の試行のものになっていないか確認します。
// 記録が無い場合（期限切れや Tracker 停止）は保存を続けます。
func (p *producer) checkSuperseded() {
	if p.superseded {
		return
	}
	job, err := p.s.tracker.ReadJob(p.record, p.g.Key)
	if err != nil {
		p.logger.Warn().Err(err).Msg("read stream job before persist")
		return
	}
	if job != nil && job.StreamID != p.g.StreamID {
		p.superseded = true
	}
}

func (p *producer) entry(e usage.Entry) usage.Entry {
	e.UserID = p.g.OwnerID
	e.InterviewID = p.g.Key.ParentID
	e.Module = p.g.Key.Module
	e.StreamID = p.g.StreamID
	e.BYOK = p.g.request.Credentials.BYOK
	if e.Model == "" {
		e.Model = p.g.request.Credentials.Model
	}
	e.Latency = p.s.opts.Clock.Now().Sub(p.started)
	e.TTFT = p.ttft
	return e
}
