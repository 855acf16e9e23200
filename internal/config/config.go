package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values come from environment variables with sensible defaults.
//
// Environment Variables:
//
// Douyin metadata API:
// - TIKHUB_AUTH_KEY: TikHub API key (required)
// - DY_ID_API_URL: fetch-by-id endpoint
// - DY_URL_API_URL: fetch-by-share-url endpoint
// - DY_FETCH_TIMEOUT: metadata request timeout in seconds (default: 60)
// - DY_DOWNLOAD_TIMEOUT: per-file download timeout in seconds (default: 300)
//
// Storage:
// - JSON_DIR: metadata cache root (default: data/json)
// - VIDEO_DIR: video root (default: data/videos)
// - IMAGE_DIR: image root (default: data/images)
// - INDEX_DB_PATH: sqlite index database path (default: data/index.db)
// - UID_TO_NAME_MAP: JSON object mapping author uid to folder name
//
// ASR:
// - ASR_API_BASE: OpenAI-compatible transcription API base URL
// - ASR_API_KEY: transcription API key
// - ASR_MODEL: model name (default: whisper-1)
// - ASR_TIMEOUT: request timeout in seconds (default: 600)
//
// Jobs:
// - JOB_RETENTION_SECONDS: job eviction age (default: 86400)
// - MAX_CONCURRENT_JOBS: admission gate size (default: 3)
//
// HTTP:
// - HTTP_ADDR: listen address (default: :17649)
// - DY_API_KEY: service API key required on requests (required)
// - API_KEY_HEADER: auth header name (default: X-API-KEY)
//
// Maintenance:
// - RECONCILE_CRON_EXPR: index reconcile schedule (default: 30 3 * * *)
// - LOG_FILE: optional log file path
type Config struct {
	Douyin    DouyinConfig    `json:"douyin"`
	Storage   StorageConfig   `json:"storage"`
	ASR       ASRConfig       `json:"asr"`
	Jobs      JobsConfig      `json:"jobs"`
	HTTP      HTTPConfig      `json:"http"`
	Reconcile ReconcileConfig `json:"reconcile"`
	LogFile   string          `json:"log_file"`
}

// DouyinConfig holds the metadata API endpoints and credentials.
type DouyinConfig struct {
	IDAPIURL        string `json:"id_api_url"`
	URLAPIURL       string `json:"url_api_url"`
	AuthKey         string `json:"auth_key"`
	FetchTimeout    int    `json:"fetch_timeout"`
	DownloadTimeout int    `json:"download_timeout"`
}

// StorageConfig holds the on-disk layout and the index database.
type StorageConfig struct {
	JSONDir   string            `json:"json_dir"`
	VideoDir  string            `json:"video_dir"`
	ImageDir  string            `json:"image_dir"`
	IndexDB   string            `json:"index_db"`
	UIDToName map[string]string `json:"uid_to_name"`
}

// ASRConfig holds the transcription service configuration.
type ASRConfig struct {
	APIBase string `json:"api_base"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	Timeout int    `json:"timeout"`
}

type JobsConfig struct {
	RetentionSeconds int `json:"retention_seconds"`
	MaxConcurrent    int `json:"max_concurrent"`
}

type HTTPConfig struct {
	Addr         string `json:"addr"`
	APIKey       string `json:"api_key"`
	APIKeyHeader string `json:"api_key_header"`
}

type ReconcileConfig struct {
	CronExpr string `json:"cron_expr"`
}

func (c JobsConfig) Retention() time.Duration {
	return time.Duration(c.RetentionSeconds) * time.Second
}

// Option is a function type for configuring Config.
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment
// variables and options.
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Douyin: DouyinConfig{
			IDAPIURL:        getEnvString("DY_ID_API_URL", "https://api.tikhub.io/api/v1/douyin/app/v3/fetch_one_video"),
			URLAPIURL:       getEnvString("DY_URL_API_URL", "https://api.tikhub.io/api/v1/douyin/app/v3/fetch_one_video_by_share_url"),
			AuthKey:         getEnvString("TIKHUB_AUTH_KEY", ""),
			FetchTimeout:    getEnvInt("DY_FETCH_TIMEOUT", 60),
			DownloadTimeout: getEnvInt("DY_DOWNLOAD_TIMEOUT", 300),
		},
		Storage: StorageConfig{
			JSONDir:   getEnvString("JSON_DIR", "data/json"),
			VideoDir:  getEnvString("VIDEO_DIR", "data/videos"),
			ImageDir:  getEnvString("IMAGE_DIR", "data/images"),
			IndexDB:   getEnvString("INDEX_DB_PATH", "data/index.db"),
			UIDToName: getEnvStringMap("UID_TO_NAME_MAP"),
		},
		ASR: ASRConfig{
			APIBase: getEnvString("ASR_API_BASE", "https://api.openai.com/v1"),
			APIKey:  getEnvString("ASR_API_KEY", ""),
			Model:   getEnvString("ASR_MODEL", "whisper-1"),
			Timeout: getEnvInt("ASR_TIMEOUT", 600),
		},
		Jobs: JobsConfig{
			RetentionSeconds: getEnvInt("JOB_RETENTION_SECONDS", 86400),
			MaxConcurrent:    getEnvInt("MAX_CONCURRENT_JOBS", 3),
		},
		HTTP: HTTPConfig{
			Addr:         getEnvString("HTTP_ADDR", ":17649"),
			APIKey:       getEnvString("DY_API_KEY", ""),
			APIKeyHeader: getEnvString("API_KEY_HEADER", "X-API-KEY"),
		},
		Reconcile: ReconcileConfig{
			CronExpr: getEnvString("RECONCILE_CRON_EXPR", "30 3 * * *"),
		},
		LogFile: getEnvString("LOG_FILE", ""),
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.Douyin.AuthKey == "" {
		return fmt.Errorf("TIKHUB_AUTH_KEY is required")
	}
	if c.HTTP.APIKey == "" {
		return fmt.Errorf("DY_API_KEY is required")
	}
	if c.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be positive")
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvStringMap parses a JSON object value. Malformed input yields an
// empty map rather than failing startup.
func getEnvStringMap(key string) map[string]string {
	ret := make(map[string]string)
	value := os.Getenv(key)
	if value == "" {
		return ret
	}
	if err := json.Unmarshal([]byte(value), &ret); err != nil {
		return make(map[string]string)
	}
	return ret
}
