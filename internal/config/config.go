package config

import (
	"errors"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	Seed              bool          `mapstructure:"seed" yaml:"seed"`

	JWT     JWTConfig     `mapstructure:"jwt" yaml:"jwt"`
	WS      WSConfig      `mapstructure:"ws" yaml:"ws"`
	Upload  UploadConfig  `mapstructure:"upload" yaml:"upload"`
	S3      S3Config      `mapstructure:"s3" yaml:"s3"`
	Redis   RedisConfig   `mapstructure:"redis" yaml:"redis"`
	CORS    CORSConfig    `mapstructure:"cors" yaml:"cors"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// JWTConfig configures token issuing.
type JWTConfig struct {
	Secret   string        `mapstructure:"secret" yaml:"secret"`
	Issuer   string        `mapstructure:"issuer" yaml:"issuer"`
	Audience string        `mapstructure:"audience" yaml:"audience"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// WSConfig configures the WebSocket endpoint.
type WSConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	RateLimit         int           `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateWindow        time.Duration `mapstructure:"rate_window" yaml:"rate_window"`
	SendBuffer        int           `mapstructure:"send_buffer" yaml:"send_buffer"`
}

// UploadConfig restricts task attachments. Dir is used when S3 is not configured.
type UploadConfig struct {
	Dir              string   `mapstructure:"dir" yaml:"dir"`
	MaxFileSize      int64    `mapstructure:"max_file_size" yaml:"max_file_size"`
	AllowedMimeTypes []string `mapstructure:"allowed_mime_types" yaml:"allowed_mime_types"`
}

// S3Config selects S3 attachment storage when Bucket is set.
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
}

// RedisConfig enables cross-instance push relay when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
}

type CORSConfig struct {
	Origin string `mapstructure:"origin" yaml:"origin"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":3001",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "wiretask.db",
		Seed:              false,
		JWT: JWTConfig{
			Secret: "change-me",
			Issuer: "wiretask",
			TTL:    7 * 24 * time.Hour,
		},
		WS: WSConfig{
			HeartbeatInterval: 30 * time.Second,
			MaxMessageBytes:   1 << 20,
			RateWindow:        time.Minute,
			SendBuffer:        64,
		},
		Upload: UploadConfig{
			Dir:         "./uploads",
			MaxFileSize: 5 << 20,
			AllowedMimeTypes: []string{
				"image/jpeg",
				"image/png",
				"image/gif",
				"image/webp",
				"application/pdf",
				"application/msword",
				"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
				"application/vnd.ms-excel",
				"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
				"text/plain",
				"application/zip",
				"application/x-rar-compressed",
			},
		},
		Redis: RedisConfig{
			Channel: "wiretask:pushes",
		},
		CORS: CORSConfig{
			Origin: "*",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only the settings exposed as command line flags are considered.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.Seed {
		c.Seed = true
	}
	if other.JWT.Secret != "" {
		c.JWT.Secret = other.JWT.Secret
	}
	if other.Redis.Addr != "" {
		c.Redis.Addr = other.Redis.Addr
	}
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.JWT.TTL <= 0 {
		errs = append(errs, errors.New("jwt.ttl must be positive"))
	}
	if c.WS.HeartbeatInterval < 0 {
		errs = append(errs, errors.New("ws.heartbeat_interval must not be negative"))
	}
	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, errors.New("upload.max_file_size must be positive"))
	}
	return errors.Join(errs...)
}
