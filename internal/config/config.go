// Package config loads the immutable process configuration from a yaml
// file with IAM_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type TokenConfig struct {
	PrivateKeyPEM string
	PublicKeyPEM  string
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type PublicIDConfig struct {
	Secret   string
	TTL      time.Duration
	CacheTTL time.Duration
}

// PolicyConfig carries the tenant-default security policy. Per-tenant
// overrides in the database win over these values.
type PolicyConfig struct {
	LockoutThreshold        int
	LockoutDuration         time.Duration
	PendingAuthTTL          time.Duration
	SessionTTL              time.Duration
	PermissionsCacheTTL     time.Duration
	TrustScoreBaseline      int
	TrustScoreIncrement     int
	TrustScoreThreshold     int
	SkipTwoFactorForTrusted bool
}

type Config struct {
	Environment string
	LogLevel    string
	HTTP        HTTPConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Token       TokenConfig
	PublicID    PublicIDConfig
	Policy      PolicyConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("IAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Token.PrivateKeyPEM == "" || cfg.Token.PublicKeyPEM == "" {
		return nil, fmt.Errorf("token.privatekeypem and token.publickeypem are required")
	}
	if cfg.PublicID.Secret == "" {
		return nil, fmt.Errorf("publicid.secret is required")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("loglevel", "info")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	// Empty defaults register the keys so env-only overrides are seen
	// by Unmarshal.
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("token.privatekeypem", "")
	v.SetDefault("token.publickeypem", "")
	v.SetDefault("publicid.secret", "")

	v.SetDefault("postgres.maxconns", 25)
	v.SetDefault("postgres.minconns", 2)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("token.issuer", "iam-engine")
	v.SetDefault("token.audience", "iam-api")
	v.SetDefault("token.accessttl", "15m")
	v.SetDefault("token.refreshttl", "720h")

	v.SetDefault("publicid.ttl", "24h")
	v.SetDefault("publicid.cachettl", "1h")

	v.SetDefault("policy.lockoutthreshold", 5)
	v.SetDefault("policy.lockoutduration", "30m")
	v.SetDefault("policy.pendingauthttl", "5m")
	v.SetDefault("policy.sessionttl", "8h")
	v.SetDefault("policy.permissionscachettl", "5m")
	v.SetDefault("policy.trustscorebaseline", 20)
	v.SetDefault("policy.trustscoreincrement", 5)
	v.SetDefault("policy.trustscorethreshold", 60)
	v.SetDefault("policy.skiptwofactorfortrusted", false)
}
