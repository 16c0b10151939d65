package streaming

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/prepstream/internal/auth"
	"github.com/yourusername/prepstream/internal/interview"
	"github.com/yourusername/prepstream/internal/streams"
)

const (
	// StreamIDHeader はプロデューサー応答でストリーム ID を返すヘッダーです。
	StreamIDHeader = "X-Stream-Id"
	// StreamStatusHeader はリプレイ応答で現在の状態を返すヘッダーです。
	StreamStatusHeader = "X-Stream-Status"
)

// Scheduler はクライアント無しの生成をキューに投入します。
type Scheduler interface {
	Schedule(ctx context.Context, task BackgroundTask) error
}

// HandlerOptions はハンドラーの設定です。Scheduler が nil なら background モードは使えません。
type HandlerOptions struct {
	Scheduler Scheduler
}

type generateBody struct {
	Count              int    `json:"count"`
	CustomInstructions string `json:"customInstructions"`
	TopicID            string `json:"topicId"`
	Style              string `json:"style"`
}

// GenerateHandler は POST /api/interviews/:id/modules/:module/generate のハンドラーです。
// 検証エラーは通常の HTTP エラーで返し、ストリーム開始後のエラーは error イベントで返します。
func GenerateHandler(svc *Service, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body generateBody
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":  "INVALID_INPUT",
					"error": "リクエストボディを JSON で送ってください",
				})
				return
			}
		}

		req := GenerateRequest{
			InterviewID:        c.Param("id"),
			Module:             c.Param("module"),
			UserID:             auth.UserID(c),
			Count:              body.Count,
			CustomInstructions: body.CustomInstructions,
			TopicID:            body.TopicID,
			Style:              body.Style,
		}

		background := strings.EqualFold(c.Query("mode"), "background")
		if background && opts.Scheduler == nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "BACKGROUND_UNAVAILABLE",
				"error": "バックグラウンド生成は利用できません",
			})
			return
		}

		g, err := svc.Prepare(c.Request.Context(), req)
		if err != nil {
			respondWithError(c, err)
			return
		}

		if background {
			svc.Begin(c.Request.Context(), g)
			if err := opts.Scheduler.Schedule(c.Request.Context(), BackgroundTask{StreamID: g.StreamID, Request: req}); err != nil {
				svc.logger.Error().Err(err).Str("streamId", g.StreamID).Msg("schedule background generation")
				svc.abandon(c.Request.Context(), g)
				respondWithError(c, err)
				return
			}
			c.Header(StreamIDHeader, g.StreamID)
			c.JSON(http.StatusAccepted, gin.H{"streamId": g.StreamID})
			return
		}

		session := svc.Start(c.Request.Context(), g)

		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache, no-transform")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		h.Set(StreamIDHeader, session.StreamID)
		c.Status(http.StatusOK)
		c.Writer.WriteHeaderNow()
		c.Writer.Flush()

		// 切断はエラーではない
		_ = session.Outbox().Drain(c.Request.Context(), c.Writer, c.Writer.Flush)
	}
}

// StatusHandler は GET /api/interviews/:id/modules/:module/stream のハンドラーです。
func StatusHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := streamKey(c)
		if !ok {
			return
		}
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, svc.Status(c.Request.Context(), key, auth.UserID(c)))
	}
}

// ContentHandler は GET /api/interviews/:id/modules/:module/stream/content のハンドラーです。
// バッファ済みのフレームをそのまま SSE として返します。
func ContentHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := streamKey(c)
		if !ok {
			return
		}
		content, view := svc.Replay(c.Request.Context(), key, auth.UserID(c))
		c.Header(StreamStatusHeader, string(view.Status))
		if view.StreamID != "" {
			c.Header(StreamIDHeader, view.StreamID)
		}
		c.Header("Cache-Control", "no-cache, no-transform")
		c.Data(http.StatusOK, "text/event-stream", []byte(content))
	}
}

// DismissHandler は DELETE /api/interviews/:id/modules/:module/stream のハンドラーです。
// 終了済みの記録を消し、次の再読み込みで結果が再表示されないようにします。
func DismissHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := streamKey(c)
		if !ok {
			return
		}
		if err := svc.Dismiss(c.Request.Context(), key, auth.UserID(c)); err != nil {
			respondWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func streamKey(c *gin.Context) (streams.Key, bool) {
	module, err := interview.ModuleByKey(c.Param("module"))
	if err != nil {
		respondWithError(c, err)
		return streams.Key{}, false
	}
	return streams.Key{ParentID: c.Param("id"), Module: string(module.Key())}, true
}

// abandon は開始できなかった生成を error として記録します。
func (s *Service) abandon(ctx context.Context, g *Generation) {
	if err := s.tracker.MarkStatus(ctx, g.Key, g.StreamID, streams.StatusError); err != nil {
		s.logger.Warn().Err(err).Str("streamId", g.StreamID).Msg("mark abandoned stream")
	}
}
