package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Telemetry   TelemetryConfig
	Entitlement EntitlementConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings.
// When disabled, cache slots and trial markers live in process memory.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig holds settings for validating identity provider tokens
type JWTConfig struct {
	Secret                string
	Issuer                string
	AccessTokenExpiration time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	TrustedProxies []string
	AllowOrigins   []string
	MaxBodyBytes   int64
	// RateLimit caps trial and visibility calls per user per minute
	RateLimit  int
	MaxStreams int
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable tracing
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // 0.0-1.0
	ServiceName       string
	Insecure          bool // development only
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	DBTraceEnabled    bool // otelgorm plugin
}

// EntitlementConfig tunes the entitlement engine
type EntitlementConfig struct {
	TrialDuration time.Duration
	// StoreTimeout bounds every store call; a timeout reads as "unknown"
	StoreTimeout time.Duration
	// ReplicaCatchUpDelay is slept after a successful trial activation
	ReplicaCatchUpDelay time.Duration
	// MaxCacheTrust bounds how long a slot may grant access without a remote
	// confirmation. Negative disables the window.
	MaxCacheTrust time.Duration

	ChangeFeed    string // postgres, redis, none
	ChangeChannel string

	SweepEnabled   bool
	SweepSchedule  string // cron expression or descriptor, e.g. "@every 15m"
	SweepBatchSize int

	QueueBuffer     int
	StreamHeartbeat time.Duration

	LandingPath string
	HomePath    string
}

// Change feed kinds
const (
	ChangeFeedPostgres = "postgres"
	ChangeFeedRedis    = "redis"
	ChangeFeedNone     = "none"
)

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with GESTOR_ prefix (e.g., GESTOR_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("GESTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:                v.GetString("jwt.secret"),
			Issuer:                v.GetString("jwt.issuer"),
			AccessTokenExpiration: v.GetDuration("jwt.access_token_expiration"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
			AllowOrigins:   v.GetStringSlice("http.allow_origins"),
			MaxBodyBytes:   v.GetInt64("http.max_body_bytes"),
			RateLimit:      v.GetInt("http.rate_limit"),
			MaxStreams:     v.GetInt("http.max_streams"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
		},
		Entitlement: EntitlementConfig{
			TrialDuration:       v.GetDuration("entitlement.trial_duration"),
			StoreTimeout:        v.GetDuration("entitlement.store_timeout"),
			ReplicaCatchUpDelay: v.GetDuration("entitlement.replica_catch_up_delay"),
			MaxCacheTrust:       v.GetDuration("entitlement.max_cache_trust"),
			ChangeFeed:          strings.ToLower(v.GetString("entitlement.change_feed")),
			ChangeChannel:       v.GetString("entitlement.change_channel"),
			SweepEnabled:        v.GetBool("entitlement.sweep_enabled"),
			SweepSchedule:       v.GetString("entitlement.sweep_schedule"),
			SweepBatchSize:      v.GetInt("entitlement.sweep_batch_size"),
			QueueBuffer:         v.GetInt("entitlement.queue_buffer"),
			StreamHeartbeat:     v.GetDuration("entitlement.stream_heartbeat"),
			LandingPath:         v.GetString("entitlement.landing_path"),
			HomePath:            v.GetString("entitlement.home_path"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "gestor-entitlements"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "gestor"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "gestor-identity"
	}
	if cfg.JWT.AccessTokenExpiration == 0 {
		cfg.JWT.AccessTokenExpiration = 15 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	// SSE streams hold the response open, so writes are not bounded by default
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodyBytes == 0 {
		cfg.HTTP.MaxBodyBytes = 64 << 10
	}
	if cfg.HTTP.RateLimit == 0 {
		cfg.HTTP.RateLimit = 30
	}
	if cfg.HTTP.MaxStreams == 0 {
		cfg.HTTP.MaxStreams = 10000
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}

	e := &cfg.Entitlement
	if e.TrialDuration == 0 {
		e.TrialDuration = 7 * 24 * time.Hour
	}
	if e.StoreTimeout == 0 {
		e.StoreTimeout = 3 * time.Second
	}
	if e.ReplicaCatchUpDelay == 0 {
		e.ReplicaCatchUpDelay = 1500 * time.Millisecond
	}
	if e.MaxCacheTrust == 0 {
		e.MaxCacheTrust = 24 * time.Hour
	}
	if e.ChangeFeed == "" {
		e.ChangeFeed = ChangeFeedPostgres
	}
	if e.ChangeChannel == "" {
		e.ChangeChannel = "entitlement_changes"
	}
	if e.SweepSchedule == "" {
		e.SweepSchedule = "@every 15m"
	}
	if e.SweepBatchSize == 0 {
		e.SweepBatchSize = 500
	}
	if e.QueueBuffer == 0 {
		e.QueueBuffer = 1024
	}
	if e.StreamHeartbeat == 0 {
		e.StreamHeartbeat = 30 * time.Second
	}
	if e.LandingPath == "" {
		e.LandingPath = "/"
	}
	if e.HomePath == "" {
		e.HomePath = "/app"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return c.Entitlement.validate(c.Redis.Enabled)
}

func (e *EntitlementConfig) validate(redisEnabled bool) error {
	if e.TrialDuration < 0 {
		return fmt.Errorf("entitlement.trial_duration cannot be negative")
	}
	if e.StoreTimeout < 0 {
		return fmt.Errorf("entitlement.store_timeout cannot be negative")
	}
	switch e.ChangeFeed {
	case ChangeFeedPostgres, ChangeFeedNone:
	case ChangeFeedRedis:
		if !redisEnabled {
			return fmt.Errorf("entitlement.change_feed=redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("entitlement.change_feed must be one of postgres, redis, none; got %q", e.ChangeFeed)
	}
	if e.SweepEnabled {
		if _, err := cron.ParseStandard(e.SweepSchedule); err != nil {
			return fmt.Errorf("entitlement.sweep_schedule is invalid: %w", err)
		}
	}
	if !strings.HasPrefix(e.LandingPath, "/") || !strings.HasPrefix(e.HomePath, "/") {
		return fmt.Errorf("entitlement.landing_path and entitlement.home_path must be absolute paths")
	}
	return nil
}

// CacheTrustWindow returns the trust window for the resolver; zero means unbounded
func (e *EntitlementConfig) CacheTrustWindow() time.Duration {
	if e.MaxCacheTrust < 0 {
		return 0
	}
	return e.MaxCacheTrust
}

// CatchUpDelay returns the post-trial delay; negative configures none
func (e *EntitlementConfig) CatchUpDelay() time.Duration {
	if e.ReplicaCatchUpDelay < 0 {
		return 0
	}
	return e.ReplicaCatchUpDelay
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
