package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/prepstream/internal/users"
)

type meResponse struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Plan       string     `json:"plan"`
	Iterations iterations `json:"iterations"`
	BYOK       byokState  `json:"byok"`
}

type iterations struct {
	Count     int `json:"count"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

type byokState struct {
	Configured bool   `json:"configured"`
	Tier       string `json:"tier,omitempty"`
}

type byokRequest struct {
	APIKey string `json:"apiKey" binding:"required"`
	Tier   string `json:"tier"`
}

// Me は GET /api/me のハンドラーです。
func (m *Manager) Me(c *gin.Context) {
	user, err := m.users.FindByID(c.Request.Context(), UserID(c))
	if err != nil {
		m.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, meResponse{
		ID:       user.ID,
		Username: user.Username,
		Plan:     user.Plan,
		Iterations: iterations{
			Count:     user.Iterations.Count,
			Limit:     user.Iterations.Limit,
			Remaining: user.Iterations.Remaining(),
		},
		BYOK: byokState{Configured: user.HasBYOK(), Tier: user.BYOKTier},
	})
}

// PutBYOK は PUT /api/me/byok のハンドラーです。キーは封緘して保存し、応答には含めません。
func (m *Manager) PutBYOK(c *gin.Context) {
	var req byokRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.APIKey) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_INPUT",
			"error": "apiKey を JSON で送ってください",
		})
		return
	}
	tier, err := users.ValidTier(req.Tier)
	if err != nil {
		m.respondWithError(c, err)
		return
	}
	sealed, err := m.vault.Seal(strings.TrimSpace(req.APIKey))
	if err != nil {
		m.respondWithError(c, err)
		return
	}
	if err := m.users.SetBYOK(c.Request.Context(), UserID(c), sealed, tier); err != nil {
		m.respondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteBYOK は DELETE /api/me/byok のハンドラーです。
func (m *Manager) DeleteBYOK(c *gin.Context) {
	if err := m.users.ClearBYOK(c.Request.Context(), UserID(c)); err != nil {
		m.respondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (m *Manager) respondWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, users.ErrNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":  "UNAUTHORIZED",
			"error": "ログインが必要です",
		})
	case errors.Is(err, users.ErrInvalidTier):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_INPUT",
			"error": "tier は standard または premium を指定してください",
		})
	default:
		m.logger.Error().Err(err).Msg("account request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": "サーバー内部でエラーが発生しました",
		})
	}
}
