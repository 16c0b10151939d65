// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/prepstream/internal/auth"
	"github.com/yourusername/prepstream/internal/config"
	"github.com/yourusername/prepstream/internal/interview"
	"github.com/yourusername/prepstream/internal/logging"
	"github.com/yourusername/prepstream/internal/streaming"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.AppEnv)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer a.close()

	if err := run(ctx, a); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return
	}
	logger.Info().Msg("server stopped")
}

// run は HTTP サーバーとワーカーを起動し、シグナルを受けたら順に止めます。
func run(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(a),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		// SSE を長時間返すので WriteTimeout は設定しない
	}

	if err := a.jobs.StartWorkers(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Str("mode", cfg.GinMode).Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		// クライアントが切断済みでもプロデューサーは保存まで続けるので待つ
		if waitErr := a.streaming.Wait(shutdownCtx); waitErr != nil {
			logger.Warn().Err(waitErr).Msg("producers still running at shutdown")
		}
		if jobErr := a.jobs.Shutdown(shutdownCtx); jobErr != nil {
			logger.Warn().Err(jobErr).Msg("failed to shutdown workers")
		}
		return err
	})
	return g.Wait()
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "prepstream-api",
		"version": "0.1.0",
	})
}

func setupRouter(a *app) *gin.Engine {
	cfg := a.cfg

	router := gin.New()
	router.Use(gin.Recovery(), logging.RequestID(), logging.Middleware(a.logger))

	// セッションストアの設定（クッキー署名鍵は必須）
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token",
		logging.RequestIDHeader,
	}
	// ストリーム ID と再接続時の状態はレスポンスヘッダーで返す
	corsConfig.ExposeHeaders = []string{
		"X-CSRF-Token",
		logging.RequestIDHeader,
		streaming.StreamIDHeader,
		streaming.StreamStatusHeader,
	}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, a)
	return router
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, a *app) {
	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", a.auth.Login)
			authRoutes.POST("/logout",
				a.auth.RequireLogin(),
				a.auth.VerifyCSRF(),
				a.auth.Logout,
			)
		}

		protected := api.Group("")
		protected.Use(a.auth.RequireLogin(), a.auth.VerifyCSRF())
		{
			protected.GET("/me", a.auth.Me)
			protected.PUT("/me/byok", a.auth.PutBYOK)
			protected.DELETE("/me/byok", a.auth.DeleteBYOK)

			protected.POST("/interviews", interview.CreateHandler(a.interviews, a.logger))
			protected.GET("/interviews/:id", interview.GetHandler(a.interviews, a.logger))

			modules := protected.Group("/interviews/:id/modules/:module")
			modules.POST("/generate", streaming.GenerateHandler(a.streaming, streaming.HandlerOptions{Scheduler: a.jobs}))
			modules.GET("/stream", streaming.StatusHandler(a.streaming))
			modules.DELETE("/stream", streaming.DismissHandler(a.streaming))
			modules.GET("/stream/content", streaming.ContentHandler(a.streaming))
		}
	}
}
