package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix                    = "EDITS"
	defaultHTTPAddress           = "0.0.0.0:8080"
	defaultDatabaseDriver        = DriverSQLite
	defaultDatabasePath          = "edits.db"
	defaultLogLevel              = "info"
	defaultCookieName            = "app_session"
	defaultSessionIssuer         = "tauth"
	defaultAutoApproveThreshold  = 10
	defaultMinRejectReasonLength = 10
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects and addresses the backing store.
type DatabaseConfig struct {
	Driver string
	Path   string
	DSN    string
}

// AuthConfig describes how session tokens are validated.
type AuthConfig struct {
	SigningSecret string
	Issuer        string
	CookieName    string
}

// ModerationConfig tunes the proposal state machine.
type ModerationConfig struct {
	AutoApproveThreshold  int64
	MinRejectReasonLength int
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	Database           DatabaseConfig
	Auth               AuthConfig
	Moderation         ModerationConfig
	RedisURL           string
	CORSAllowedOrigins []string
	LogLevel           string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultSessionIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("moderation.auto_approve_threshold", defaultAutoApproveThreshold)
	configViper.SetDefault("moderation.min_reject_reason", defaultMinRejectReasonLength)
	configViper.SetDefault("redis.url", "")
	configViper.SetDefault("cors.allowed_origins", []string{})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress: configViper.GetString("http.address"),
		Database: DatabaseConfig{
			Driver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
			Path:   configViper.GetString("database.path"),
			DSN:    configViper.GetString("database.dsn"),
		},
		Auth: AuthConfig{
			SigningSecret: configViper.GetString("auth.signing_secret"),
			Issuer:        configViper.GetString("auth.issuer"),
			CookieName:    configViper.GetString("auth.cookie_name"),
		},
		Moderation: ModerationConfig{
			AutoApproveThreshold:  configViper.GetInt64("moderation.auto_approve_threshold"),
			MinRejectReasonLength: configViper.GetInt("moderation.min_reject_reason"),
		},
		RedisURL:           strings.TrimSpace(configViper.GetString("redis.url")),
		CORSAllowedOrigins: splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
		LogLevel:           configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadDatabase parses only the settings needed to open the store.
func LoadDatabase(configViper *viper.Viper) (DatabaseConfig, error) {
	cfg := DatabaseConfig{
		Driver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		Path:   configViper.GetString("database.path"),
		DSN:    configViper.GetString("database.dsn"),
	}
	if err := cfg.validate(); err != nil {
		return DatabaseConfig{}, err
	}
	return cfg, nil
}

// splitOrigins accepts both list values and a single comma-separated env value.
func splitOrigins(raw []string) []string {
	origins := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, origin := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}

func (c DatabaseConfig) validate() error {
	switch c.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Driver)
	}
	return nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.Auth.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.Auth.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if err := c.Database.validate(); err != nil {
		return err
	}
	if c.Moderation.AutoApproveThreshold < 1 {
		return fmt.Errorf("moderation.auto_approve_threshold must be at least 1")
	}
	if c.Moderation.MinRejectReasonLength < 1 {
		return fmt.Errorf("moderation.min_reject_reason must be at least 1")
	}
	return nil
}
