// Package config provides configuration loading for the collaboration
// translation engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the engine.
type Config struct {
	// Server settings
	Port           int
	Host           string
	AllowedOrigins []string

	// Upstream settings
	UpstreamBaseURL string
	UpstreamEmail   string
	UpstreamPass    string

	// Bookmark-ingestion webhook settings (external collaborator; out of scope
	// beyond accepting these env vars and passing them through).
	WorkspaceID           string
	KarakeepAPIURL        string
	KarakeepAPIKey        string
	KarakeepWebhookSecret string
	GeminiAPIKey          string
	KarakeepFolderID      string
	KarakeepZettelsID     string

	// API token settings: this engine's own caller-facing bearer tokens,
	// independent of the upstream's email/password auth.
	APITokenSecret string
	APITokenTTL    time.Duration

	// HTTP server timeouts
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// WebSocket settings
	WSReadBufferSize  int
	WSWriteBufferSize int
	WSIdleTimeout     time.Duration

	// Upstream socket settings
	EmitAckTimeout   time.Duration
	SocketRateBurst  int
	SocketRatePerSec float64

	// Upload limits
	MaxUploadBytes       int64
	MaxUploadBase64Bytes int64

	// get-hierarchy linked-page traversal bound
	LinkedPageMaxDepth int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnvInt("PORT", 8080),
		Host:           getEnv("HOST", "0.0.0.0"),
		AllowedOrigins: getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"}),

		UpstreamBaseURL: strings.TrimRight(getEnv("AFFINE_BASE_URL", "https://app.affine.pro"), "/"),
		UpstreamEmail:   getEnv("AFFINE_EMAIL", ""),
		UpstreamPass:    getEnv("AFFINE_PASSWORD", ""),

		WorkspaceID:           getEnv("AFFINE_WORKSPACE_ID", ""),
		KarakeepAPIURL:        getEnv("KARAKEEP_API_URL", ""),
		KarakeepAPIKey:        getEnv("KARAKEEP_API_KEY", ""),
		KarakeepWebhookSecret: getEnv("KARAKEEP_WEBHOOK_SECRET", ""),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		KarakeepFolderID:      getEnv("AFFINE_KARAKEEP_FOLDER_ID", ""),
		KarakeepZettelsID:     getEnv("AFFINE_KARAKEEP_ZETTELS_FOLDER_ID", ""),

		APITokenSecret: getEnv("API_TOKEN_SECRET", ""),
		APITokenTTL:    getEnvDuration("API_TOKEN_TTL", 720*time.Hour),

		HTTPReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		HTTPWriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		HTTPIdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),

		WSReadBufferSize:  getEnvInt("WS_READ_BUFFER_SIZE", 4096),
		WSWriteBufferSize: getEnvInt("WS_WRITE_BUFFER_SIZE", 4096),
		WSIdleTimeout:     getEnvDuration("WS_IDLE_TIMEOUT", 30*time.Minute),

		EmitAckTimeout:   getEnvDuration("EMIT_ACK_TIMEOUT", 10*time.Second),
		SocketRateBurst:  getEnvInt("SOCKET_RATE_BURST", 20),
		SocketRatePerSec: getEnvFloat("SOCKET_RATE_PER_SEC", 10),

		MaxUploadBytes:       getEnvInt64("MAX_UPLOAD_BYTES", 10*1024*1024),
		MaxUploadBase64Bytes: getEnvInt64("MAX_UPLOAD_BASE64_BYTES", 15*1024*1024),

		LinkedPageMaxDepth: getEnvInt("LINKED_PAGE_MAX_DEPTH", 8),
	}

	if cfg.UpstreamEmail == "" || cfg.UpstreamPass == "" {
		return nil, fmt.Errorf("AFFINE_EMAIL and AFFINE_PASSWORD are required")
	}
	if cfg.APITokenSecret == "" {
		return nil, fmt.Errorf("API_TOKEN_SECRET is required")
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvStringSlice returns a slice from a comma-separated environment variable.
func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
