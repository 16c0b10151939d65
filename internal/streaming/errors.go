package streaming

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/prepstream/internal/generation"
	"github.com/yourusername/prepstream/internal/interview"
	"github.com/yourusername/prepstream/internal/users"
)

// Error はストリーム開始前に HTTP エラーとして返すエラーです。
type Error struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(status int, code, message string, err error) *Error {
	return &Error{Status: status, Code: code, Message: message, Err: err}
}

var (
	errForbidden    = newError(http.StatusForbidden, "FORBIDDEN", "この面接ドキュメントを操作する権限がありません", nil)
	errStreamActive = newError(http.StatusConflict, "STREAM_ACTIVE", "生成中のストリームは削除できません", nil)
)

// classify は開始前のエラーを HTTP ステータスとクライアント向けメッセージに対応づけます。
func classify(err error) *Error {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, users.ErrQuotaExceeded):
		return newError(http.StatusTooManyRequests, "QUOTA_EXCEEDED", "生成回数の上限に達しました", err)
	case errors.Is(err, users.ErrNotFound):
		return newError(http.StatusUnauthorized, "UNAUTHORIZED", "ログインが必要です", err)
	case errors.Is(err, interview.ErrNotFound):
		return newError(http.StatusNotFound, "NOT_FOUND", "面接ドキュメントが見つかりません", err)
	case errors.Is(err, interview.ErrTopicNotFound):
		return newError(http.StatusNotFound, "TOPIC_NOT_FOUND", "トピックが見つかりません", err)
	case errors.Is(err, interview.ErrUnknownModule):
		return newError(http.StatusBadRequest, "UNKNOWN_MODULE", "対応していないモジュールです", err)
	case errors.Is(err, context.Canceled):
		return newError(499, "REQUEST_CANCELED", "リクエストがキャンセルされました", err)
	default:
		return newError(http.StatusInternalServerError, "INTERNAL_ERROR", "サーバー内部でエラーが発生しました", err)
	}
}

func respondWithError(c *gin.Context, err error) {
	apiErr := classify(err)
	c.AbortWithStatusJSON(apiErr.Status, gin.H{
		"code":  apiErr.Code,
		"error": apiErr.Message,
	})
}

// sanitize はストリーム開始後のエラーを、クライアントに見せる短い文に置き換えます。
func sanitize(stage string, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "生成がタイムアウトしました"
	case stage == stagePersist:
		return "生成結果の保存に失敗しました"
	case stage == stageFinalize, errors.Is(err, generation.ErrMalformedOutput), errors.Is(err, generation.ErrNoFinalValue):
		return "生成結果を解釈できませんでした"
	default:
		return "生成中にエラーが発生しました"
	}
}
