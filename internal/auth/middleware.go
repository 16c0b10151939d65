package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/prepstream/internal/users"
)

// ContextUserKey は、ハンドラー間でログイン済みユーザーの ID を共有するためのキーです。
const ContextUserKey = "auth.user"

// UserID はログイン済みユーザーの ID を返します。未ログインなら空文字です。
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserKey)
}

// RequireLogin はセッションを検証し、外部 ID からユーザーを解決するミドルウェアを返します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		subject, ok := session.Get(sessionKeySubject).(string)
		if !ok || subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "UNAUTHORIZED",
				"error": "ログインが必要です",
			})
			return
		}

		now := m.clock.Now()
		issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
		lastActive := readUnix(session.Get(sessionKeyLastActive))

		if issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime {
			session.Clear()
			_ = session.Save()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "SESSION_EXPIRED",
				"error": "セッションの有効期限が切れました",
			})
			return
		}

		if lastActive.IsZero() || now.Sub(lastActive) > idleTimeout {
			session.Clear()
			_ = session.Save()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "SESSION_IDLE_TIMEOUT",
				"error": "しばらく操作がなかったため再ログインしてください",
			})
			return
		}

		user, err := m.users.FindByExternalID(c.Request.Context(), subject)
		if err != nil {
			if errors.Is(err, users.ErrNotFound) {
				session.Clear()
				_ = session.Save()
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"code":  "UNAUTHORIZED",
					"error": "ログインが必要です",
				})
				return
			}
			m.logger.Error().Err(err).Msg("resolve session user")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":  "INTERNAL_ERROR",
				"error": "サーバー内部でエラーが発生しました",
			})
			return
		}

		session.Set(sessionKeyLastActive, now.Unix())
		_ = session.Save()
		c.Set(ContextUserKey, user.ID)
		c.Next()
	}
}

// VerifyCSRF は X-CSRF-Token ヘッダーを検証するミドルウェアです。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":  "CSRF_MISSING",
				"error": "CSRF トークンが設定されていません",
			})
			return
		}

		received := c.GetHeader(csrfHeader)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":  "CSRF_INVALID",
				"error": "CSRF トークンが一致しません",
			})
			return
		}

		c.Next()
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
