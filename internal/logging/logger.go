// Package logging は zerolog ベースのロガーと gin 用のアクセスログを提供します。
package logging

import (
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader はリクエストIDを受け渡すヘッダー名です。
const RequestIDHeader = "X-Request-ID"

const contextRequestIDKey = "request.id"

// New はサービス共通の設定で zerolog.Logger を生成します。
func New(appEnv string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}

// RequestID はリクエストIDを払い出し、レスポンスヘッダーとコンテキストに設定します。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(contextRequestIDKey, rid)
		c.Header(RequestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom は RequestID ミドルウェアが設定したIDを返します。
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(contextRequestIDKey)
}

// Middleware はアクセスログを出力する gin ミドルウェアです。
// SSE のような長時間レスポンスでも終了時に1行だけ出力します。
func Middleware(l zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := l.Info()
		if c.Writer.Status() >= 500 {
			event = l.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("request_id", RequestIDFrom(c)).
			Msg("request")
	}
}
