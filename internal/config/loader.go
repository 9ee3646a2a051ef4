// Package config loads service settings from an optional config.yaml and DATAFUSION_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/datafusion/internal/backend"
	"github.com/rpattn/datafusion/internal/db"
)

// EnvPrefix namespaces environment overrides, e.g. DATAFUSION_SERVER_ADDR.
const EnvPrefix = "DATAFUSION"

type Config struct {
	Server   ServerConfig
	Backend  BackendConfig
	Mapping  MappingConfig
	Preview  PreviewConfig
	Export   ExportConfig
	Database DatabaseConfig
	Log      LogConfig

	// Source is the config file that was read, empty when only defaults and env were used.
	Source string
}

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

type BackendConfig struct {
	Mode         backend.Mode
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	RateLimitRPS float64
}

type MappingConfig struct {
	Threshold     float64
	ReviewSeconds int
}

type PreviewConfig struct {
	SampleCap int
	CacheSize int
	Strict    bool
}

type ExportConfig struct {
	Dir      string
	TokenTTL time.Duration
}

type DatabaseConfig struct {
	Enabled    bool
	Migrations bool
	db.Config
}

type LogConfig struct {
	Level string
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("backend.mode", string(backend.ModeFixture))
	v.SetDefault("backend.base_url", "http://localhost:8000/api/v1")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("backend.rate_limit_rps", 5.0)
	v.SetDefault("mapping.threshold", 0.70)
	v.SetDefault("mapping.review_seconds", 20)
	v.SetDefault("preview.sample_cap", 200)
	v.SetDefault("preview.cache_size", 64)
	v.SetDefault("preview.strict", false)
	v.SetDefault("export.dir", filepath.Join("tmp", "datafusion-exports"))
	v.SetDefault("export.token_ttl", 5*time.Minute)
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.migrations", true)
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("log.level", "info")
}

// Load reads config.yaml from configPath when present and applies env overrides on top.
// A missing file is not an error.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if strings.TrimSpace(configPath) != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	mode, err := backend.ParseMode(v.GetString("backend.mode"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Addr:           v.GetString("server.addr"),
			AllowedOrigins: splitList(v.GetStringSlice("server.allowed_origins")),
		},
		Backend: BackendConfig{
			Mode:         mode,
			BaseURL:      v.GetString("backend.base_url"),
			APIKey:       v.GetString("backend.api_key"),
			Timeout:      v.GetDuration("backend.timeout"),
			RateLimitRPS: v.GetFloat64("backend.rate_limit_rps"),
		},
		Mapping: MappingConfig{
			Threshold:     v.GetFloat64("mapping.threshold"),
			ReviewSeconds: v.GetInt("mapping.review_seconds"),
		},
		Preview: PreviewConfig{
			SampleCap: v.GetInt("preview.sample_cap"),
			CacheSize: v.GetInt("preview.cache_size"),
			Strict:    v.GetBool("preview.strict"),
		},
		Export: ExportConfig{
			Dir:      v.GetString("export.dir"),
			TokenTTL: v.GetDuration("export.token_ttl"),
		},
		Database: DatabaseConfig{
			Enabled:    v.GetBool("database.enabled"),
			Migrations: v.GetBool("database.migrations"),
			Config: db.Config{
				Host:     v.GetString("database.host"),
				Port:     v.GetInt("database.port"),
				User:     v.GetString("database.user"),
				Password: v.GetString("database.password"),
				DBName:   v.GetString("database.dbname"),
				SSLMode:  v.GetString("database.sslmode"),
			},
		},
		Log:    LogConfig{Level: v.GetString("log.level")},
		Source: v.ConfigFileUsed(),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	if c.Mapping.Threshold < 0 || c.Mapping.Threshold > 1 {
		return fmt.Errorf("mapping.threshold must be within [0,1], got %v", c.Mapping.Threshold)
	}
	if c.Mapping.ReviewSeconds < 0 {
		return fmt.Errorf("mapping.review_seconds must not be negative")
	}
	if c.Preview.SampleCap < 0 {
		return fmt.Errorf("preview.sample_cap must not be negative")
	}
	if c.Backend.Mode == backend.ModeHTTP && strings.TrimSpace(c.Backend.BaseURL) == "" {
		return fmt.Errorf("backend.base_url is required when backend.mode is http")
	}
	return nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
