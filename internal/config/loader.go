package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "WIRETASK_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("WIRETASK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.JWT.Secret == Default().JWT.Secret && logger != nil {
		logger.Warn().Msg("jwt.secret is the built-in default; set WIRETASK_JWT_SECRET in production")
	}

	return cfg, configPath, nil
}

// setDefaults registers every key so that env vars such as WIRETASK_WS_RATE_LIMIT
// are picked up by Unmarshal even when the file does not mention them.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("seed", cfg.Seed)

	v.SetDefault("jwt.secret", cfg.JWT.Secret)
	v.SetDefault("jwt.issuer", cfg.JWT.Issuer)
	v.SetDefault("jwt.audience", cfg.JWT.Audience)
	v.SetDefault("jwt.ttl", cfg.JWT.TTL)

	v.SetDefault("ws.heartbeat_interval", cfg.WS.HeartbeatInterval)
	v.SetDefault("ws.max_message_bytes", cfg.WS.MaxMessageBytes)
	v.SetDefault("ws.rate_limit", cfg.WS.RateLimit)
	v.SetDefault("ws.rate_window", cfg.WS.RateWindow)
	v.SetDefault("ws.send_buffer", cfg.WS.SendBuffer)

	v.SetDefault("upload.dir", cfg.Upload.Dir)
	v.SetDefault("upload.max_file_size", cfg.Upload.MaxFileSize)
	v.SetDefault("upload.allowed_mime_types", cfg.Upload.AllowedMimeTypes)

	v.SetDefault("s3.bucket", cfg.S3.Bucket)
	v.SetDefault("s3.region", cfg.S3.Region)
	v.SetDefault("s3.endpoint", cfg.S3.Endpoint)
	v.SetDefault("s3.prefix", cfg.S3.Prefix)
	v.SetDefault("s3.access_key", cfg.S3.AccessKey)
	v.SetDefault("s3.secret_key", cfg.S3.SecretKey)

	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.channel", cfg.Redis.Channel)

	v.SetDefault("cors.origin", cfg.CORS.Origin)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
