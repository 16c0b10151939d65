package interview

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yourusername/prepstream/internal/auth"
)

type createRequest struct {
	Role           string `json:"role" binding:"required"`
	Company        string `json:"company"`
	JobDescription string `json:"jobDescription"`
	Resume         string `json:"resume"`
}

// CreateHandler は POST /api/interviews のハンドラーを返します。
func CreateHandler(repo Repository, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "INVALID_INPUT",
				"error": "role を含む JSON を送ってください",
			})
			return
		}

		iv := &Interview{
			ID:             uuid.NewString(),
			OwnerID:        auth.UserID(c),
			Role:           strings.TrimSpace(req.Role),
			Company:        strings.TrimSpace(req.Company),
			JobDescription: req.JobDescription,
			Resume:         req.Resume,
			Topics:         []Topic{},
			MCQs:           []MCQ{},
			RapidFire:      []RapidFireItem{},
		}
		if err := repo.Create(c.Request.Context(), iv); err != nil {
			logger.Error().Err(err).Msg("create interview")
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, iv)
	}
}

// GetHandler は GET /api/interviews/:id のハンドラーを返します。所有者以外には 404 を返します。
func GetHandler(repo Repository, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		iv, err := repo.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				logger.Error().Err(err).Str("interviewId", c.Param("id")).Msg("load interview")
			}
			respondWithError(c, err)
			return
		}
		if iv.OwnerID != auth.UserID(c) {
			respondWithError(c, ErrNotFound)
			return
		}
		c.JSON(http.StatusOK, iv)
	}
}

func respondWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "NOT_FOUND",
			"error": "面接ドキュメントが見つかりません",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": "サーバー内部でエラーが発生しました",
		})
	}
}
