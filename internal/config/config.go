package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "MOYUE"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabasePath        = "moyue.db"
	defaultLogLevel            = "info"
	defaultOwnerSubject        = "owner"
	defaultTokenTTLMinutes     = 60 * 24
	defaultShareBaseURL        = "http://localhost:8080/import"
	defaultShareTTLHours       = 24
	defaultShareMaxTTLHours    = 24 * 30
	defaultShareMaxDownloads   = 10
	defaultScryptWorkFactor    = 15
	defaultRedisChannel        = "moyue-events"
	minimumScryptWorkFactor    = 10
	maximumScryptWorkFactor    = 22
	maximumShareDownloadsLimit = 1000
)

// AppConfig captures runtime configuration for the API server and CLI.
type AppConfig struct {
	HTTPAddress           string
	DatabasePath          string
	LogLevel              string
	PrettyLogs            bool
	SigningSecret         string
	OwnerSubject          string
	TokenTTL              time.Duration
	ShareBaseURL          string
	ShareDefaultTTL       time.Duration
	ShareMaxTTL           time.Duration
	ShareMaxDownloads     int
	ShareScryptWorkFactor int
	RedisAddress          string
	RedisChannel          string
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.pretty", false)
	configViper.SetDefault("auth.owner_subject", defaultOwnerSubject)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("share.base_url", defaultShareBaseURL)
	configViper.SetDefault("share.default_ttl_hours", defaultShareTTLHours)
	configViper.SetDefault("share.max_ttl_hours", defaultShareMaxTTLHours)
	configViper.SetDefault("share.default_max_downloads", defaultShareMaxDownloads)
	configViper.SetDefault("share.scrypt_work_factor", defaultScryptWorkFactor)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("redis.channel", defaultRedisChannel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           configViper.GetString("http.address"),
		DatabasePath:          configViper.GetString("database.path"),
		LogLevel:              configViper.GetString("log.level"),
		PrettyLogs:            configViper.GetBool("log.pretty"),
		SigningSecret:         configViper.GetString("auth.signing_secret"),
		OwnerSubject:          configViper.GetString("auth.owner_subject"),
		TokenTTL:              time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		ShareBaseURL:          configViper.GetString("share.base_url"),
		ShareDefaultTTL:       time.Duration(configViper.GetInt("share.default_ttl_hours")) * time.Hour,
		ShareMaxTTL:           time.Duration(configViper.GetInt("share.max_ttl_hours")) * time.Hour,
		ShareMaxDownloads:     configViper.GetInt("share.default_max_downloads"),
		ShareScryptWorkFactor: configViper.GetInt("share.scrypt_work_factor"),
		RedisAddress:          strings.TrimSpace(configViper.GetString("redis.address")),
		RedisChannel:          strings.TrimSpace(configViper.GetString("redis.channel")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.OwnerSubject) == "" {
		return fmt.Errorf("auth.owner_subject is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if strings.TrimSpace(c.ShareBaseURL) == "" {
		return fmt.Errorf("share.base_url is required")
	}
	if c.ShareDefaultTTL <= 0 {
		return fmt.Errorf("share.default_ttl_hours must be positive")
	}
	if c.ShareMaxTTL < c.ShareDefaultTTL {
		return fmt.Errorf("share.max_ttl_hours must not be lower than share.default_ttl_hours")
	}
	if c.ShareMaxDownloads < 1 || c.ShareMaxDownloads > maximumShareDownloadsLimit {
		return fmt.Errorf("share.default_max_downloads must be between 1 and %d", maximumShareDownloadsLimit)
	}
	if c.ShareScryptWorkFactor < minimumScryptWorkFactor || c.ShareScryptWorkFactor > maximumScryptWorkFactor {
		return fmt.Errorf("share.scrypt_work_factor must be between %d and %d", minimumScryptWorkFactor, maximumScryptWorkFactor)
	}
	if c.RedisAddress != "" && c.RedisChannel == "" {
		return fmt.Errorf("redis.channel is required when redis.address is set")
	}
	return nil
}
