package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server   ServerConfig       `json:"server"`
	Upload   UploadConfig       `json:"upload"`
	Database Database           `json:"database"`
	Redis    RedisConfig        `json:"redis"`
	R2       R2Config           `json:"r2"`
	Render   RenderConfig       `json:"render"`
	Worker   RenderWorkerConfig `json:"render_worker"`
	Dataset  DatasetConfig      `json:"dataset"`
	Provider ProviderConfig     `json:"provider"`
	Sentry   SentryConfig       `json:"sentry"`
}

type ServerConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type UploadConfig struct {
	MaxRequestBodyMB     int64 `json:"max_request_body"`
	MaxMultipartMemoryMB int64 `json:"max_multipart_memory"`
	MaxImages            int   `json:"max_images"`
}

type Database struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	Password            string        `json:"password"`
	DatabaseID          int           `json:"database_id"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	DialTimeout         time.Duration `json:"dial_timeout"`
	ReadTimeout         time.Duration `json:"read_timeout"`
	WriteTimeout        time.Duration `json:"write_timeout"`
	PoolSize            int           `json:"pool_size"`
	Nodes               []RedisNode   `json:"nodes"`
}

type RedisNode struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (n RedisNode) Addr() string { return fmt.Sprintf("%s:%d", n.Host, n.Port) }

type R2Config struct {
	AccountID   string `json:"account_id"`
	BucketName  string `json:"bucket_name"`
	AccessKeyID string `json:"access_key_id"`
	SecretKey   string `json:"secret_key"`
	Endpoint    string `json:"endpoint"`
}

// RenderConfig controls the local ffmpeg composer and output staging.
type RenderConfig struct {
	OutputDir        string  `json:"output_dir"`         // local staging dir, excluded from VCS
	FFmpegPath       string  `json:"ffmpeg_path"`        // defaults to "ffmpeg" on PATH
	FFprobePath      string  `json:"ffprobe_path"`       // defaults to "ffprobe" on PATH
	CRF              int     `json:"crf"`                // libx264 quality, defaults to 18
	Preset           string  `json:"preset"`             // libx264 preset, defaults to "medium"
	CrossfadeSeconds float64 `json:"crossfade_seconds"`  // defaults to 0.5
	ShareLinkTTLSec  int     `json:"share_link_ttl_sec"` // defaults to 24h
}

type RenderWorkerConfig struct {
	Stream       string        `json:"stream"`        // redis stream name
	Group        string        `json:"group"`         // consumer group name
	Workers      int           `json:"workers"`       // number of concurrent goroutines
	MaxAttempts  int           `json:"max_attempts"`  // max retries before the job is dropped
	MaxLen       int64         `json:"max_len"`       // stream max length before trim
	BackoffBase  time.Duration `json:"backoff_base"`  // base retry delay
	BlockTimeout time.Duration `json:"block_timeout"` // XREADGROUP block timeout
	Consumer     string        `json:"consumer"`
}

// DatasetConfig configures the sample-asset downloader.
type DatasetConfig struct {
	BaseURL     string        `json:"base_url"` // dataset host API root
	Username    string        `json:"username"`
	APIKey      string        `json:"api_key"`
	DownloadDir string        `json:"download_dir"`
	Timeout     time.Duration `json:"timeout"`
	MaxRetries  int           `json:"max_retries"`
}

// ProviderConfig holds remote generation backend settings. When endpoint or
// api_key is empty, remote mode reports not configured.
type ProviderConfig struct {
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Timeout  time.Duration `json:"timeout"`
}

type SentryConfig struct {
	SentryDSN   string `json:"sentry_dsn"`
	Environment string `json:"environment"`
}
