package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Tracing   TracingConfig   `mapstructure:"tracing"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Attempt   AttemptConfig   `mapstructure:"attempt"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool `mapstructure:"-"`
	MigrateOnly  bool `mapstructure:"-"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

// AttemptConfig 考试作答引擎的计时与强制策略。
// expiry_floor_percent 是策略阈值而非硬性规则，支持热更新（见 pkg/configwatcher）。
type AttemptConfig struct {
	GracePeriodSeconds       int   `mapstructure:"grace_period_seconds"`
	ExpiryFloorPercent       int   `mapstructure:"expiry_floor_percent"`
	FallbackMinRuntimeSecs   int   `mapstructure:"fallback_min_runtime_seconds"`
	WarningThresholdsMinutes []int `mapstructure:"warning_thresholds_minutes"`
	TickSeconds              int   `mapstructure:"tick_seconds"`
	MaxDurationMinutes       int   `mapstructure:"max_duration_minutes"`
	MaxDeadlineHorizonHours  int   `mapstructure:"max_deadline_horizon_hours"`
	ClockSkewToleranceSecs   int   `mapstructure:"clock_skew_tolerance_seconds"`
	MaxStartedAgeDays        int   `mapstructure:"max_started_age_days"`
	ClockOffsetMs            int64 `mapstructure:"clock_offset_ms"`
	StageCacheTTLSeconds     int   `mapstructure:"stage_cache_ttl_seconds"`
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("STAGED_EXAM")
	viper.AutomaticEnv()

	// Database
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	viper.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	viper.BindEnv("server.mode", "SERVER_MODE")

	// Storage
	viper.BindEnv("storage.type", "STORAGE_TYPE")
	viper.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	viper.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	viper.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	viper.BindEnv("storage.minio_bucket", "MINIO_BUCKET")

	// Tracing
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	// Attempt engine
	viper.BindEnv("attempt.clock_offset_ms", "ATTEMPT_CLOCK_OFFSET_MS")
	viper.BindEnv("attempt.expiry_floor_percent", "ATTEMPT_EXPIRY_FLOOR_PERCENT")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour
	cfg.Attempt.ApplyDefaults()

	// 生产环境校验 JWT Secret 强度
	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	return &cfg, nil
}

func (a *AttemptConfig) ApplyDefaults() {
	if a.GracePeriodSeconds <= 0 {
		a.GracePeriodSeconds = 5
	}
	if a.ExpiryFloorPercent <= 0 || a.ExpiryFloorPercent > 100 {
		a.ExpiryFloorPercent = 50
	}
	if a.FallbackMinRuntimeSecs <= 0 {
		a.FallbackMinRuntimeSecs = 60
	}
	if len(a.WarningThresholdsMinutes) == 0 {
		a.WarningThresholdsMinutes = []int{60, 30, 15, 5, 1}
	}
	if a.TickSeconds <= 0 {
		a.TickSeconds = 1
	}
	if a.MaxDurationMinutes <= 0 {
		a.MaxDurationMinutes = 1440
	}
	if a.MaxDeadlineHorizonHours <= 0 {
		a.MaxDeadlineHorizonHours = 25
	}
	if a.ClockSkewToleranceSecs <= 0 {
		a.ClockSkewToleranceSecs = 60
	}
	if a.MaxStartedAgeDays <= 0 {
		a.MaxStartedAgeDays = 365
	}
	if a.StageCacheTTLSeconds <= 0 {
		a.StageCacheTTLSeconds = 300
	}
}
