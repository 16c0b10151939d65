// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)
	AppEnv  string // ログ出力の切り替えに使用 (development, production)

	// CORS / セッション
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）
	SessionSecret      string // セッション署名用の秘密鍵

	// 起動時に作成する初期ユーザー
	AppUsername     string
	AppPasswordHash string // bcryptハッシュ

	// 外部ストア
	RedisURL    string // ストリーム追跡とAsynqで共用するRedis接続URL
	DatabaseURL string // 空の場合はインメモリのリポジトリを使用

	// 生成モデル設定
	LLMProvider       string // openai または mock
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIBaseURL     string
	BYOKModelStandard string // BYOK standard ティアで使うモデル
	BYOKModelPremium  string // BYOK premium ティアで使うモデル
	BYOKSecret        string // BYOK キー暗号化用の鍵（hex 32バイト）

	// ストリーム設定
	StreamActiveTTLSeconds   int // active 状態の保持秒数
	StreamTerminalTTLSeconds int // completed / error 後の保持秒数
	StreamThrottleMS         int // content イベントの最小送出間隔
	StreamOutboxSize         int // 送信キューの容量

	// クォータ / ワーカー
	DefaultIterationLimit  int // 新規ユーザーの生成回数上限
	WorkerConcurrency      int // バックグラウンド生成の同時実行数
	ShutdownTimeoutSeconds int
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),
		AppEnv:  getEnv("APP_ENV", "development"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		SessionSecret:      getEnv("SESSION_SECRET", ""),

		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),

		RedisURL:    getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		LLMProvider:       getEnv("LLM_PROVIDER", "openai"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		BYOKModelStandard: getEnv("BYOK_MODEL_STANDARD", "gpt-4o-mini"),
		BYOKModelPremium:  getEnv("BYOK_MODEL_PREMIUM", "gpt-4o"),
		BYOKSecret:        getEnv("BYOK_SECRET", ""),

		StreamActiveTTLSeconds:   getEnvAsInt("STREAM_ACTIVE_TTL_SECONDS", 300),
		StreamTerminalTTLSeconds: getEnvAsInt("STREAM_TERMINAL_TTL_SECONDS", 30),
		StreamThrottleMS:         getEnvAsInt("STREAM_THROTTLE_MS", 120),
		StreamOutboxSize:         getEnvAsInt("STREAM_OUTBOX_SIZE", 16),

		DefaultIterationLimit:  getEnvAsInt("DEFAULT_ITERATION_LIMIT", 20),
		WorkerConcurrency:      getEnvAsInt("WORKER_CONCURRENCY", 4),
		ShutdownTimeoutSeconds: getEnvAsInt("SHUTDOWN_TIMEOUT_SECONDS", 15),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.StreamThrottleMS < 100 || c.StreamThrottleMS > 150 {
		return fmt.Errorf("STREAM_THROTTLE_MS must be between 100 and 150, got %d", c.StreamThrottleMS)
	}
	if c.StreamActiveTTLSeconds <= 0 || c.StreamTerminalTTLSeconds <= 0 {
		return fmt.Errorf("stream TTLs must be positive")
	}
	if c.StreamTerminalTTLSeconds > c.StreamActiveTTLSeconds {
		return fmt.Errorf("STREAM_TERMINAL_TTL_SECONDS must not exceed STREAM_ACTIVE_TTL_SECONDS")
	}
	switch c.LLMProvider {
	case "openai", "mock":
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider)
	}
	if (c.AppUsername == "") != (c.AppPasswordHash == "") {
		return fmt.Errorf("APP_USERNAME and APP_PASSWORD_HASH must be set together")
	}
	if c.BYOKSecret != "" {
		if _, err := c.BYOKKey(); err != nil {
			return err
		}
	}

	// ローカル開発では認証・暗号化設定は任意
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required in release mode")
		}
		if c.BYOKSecret == "" {
			return fmt.Errorf("BYOK_SECRET is required in release mode")
		}
		if c.LLMProvider == "openai" && c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required in release mode")
		}
	}

	return nil
}

// BYOKKey は BYOK_SECRET をデコードした32バイト鍵を返します。
func (c *Config) BYOKKey() (*[32]byte, error) {
	raw, err := hex.DecodeString(c.BYOKSecret)
	if err != nil {
		return nil, fmt.Errorf("BYOK_SECRET must be hex encoded: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("BYOK_SECRET must decode to 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// ActiveTTL は active 状態のストリーム記録の有効期限です。
func (c *Config) ActiveTTL() time.Duration {
	return time.Duration(c.StreamActiveTTLSeconds) * time.Second
}

// TerminalTTL は終了後のストリーム記録の有効期限です。
func (c *Config) TerminalTTL() time.Duration {
	return time.Duration(c.StreamTerminalTTLSeconds) * time.Second
}

// Throttle は content イベントの最小送出間隔です。
func (c *Config) Throttle() time.Duration {
	return time.Duration(c.StreamThrottleMS) * time.Millisecond
}

// ShutdownTimeout はグレースフルシャットダウンの待ち時間です。
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
