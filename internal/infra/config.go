package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv   string
	Port     string
	LogLevel string

	JobStore    string
	DatabaseURL string
	DBMaxConns  int
	AutoMigrate bool
	JobStoreDSN string
	RunLeaseTTL time.Duration
	// RunLeaseRenewInterval is how often a live run extends its lease by
	// RunLeaseTTL. It also bounds how late a run notices a cancel recorded
	// by another instance.
	RunLeaseRenewInterval time.Duration

	JWTSecret string

	SkyboxAPIKey  string
	SkyboxBaseURL string
	MeshyAPIKey   string
	MeshyBaseURL  string

	PollerConfigPath string

	StorageDriver  string
	StoragePath    string
	StorageBaseURL string
	S3Bucket       string
	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3PublicURL    string

	AssetProxyHosts []string
	AssetProxyURL   string
	AssetMaxBytes   int64

	RedisURL     string
	AMQPURL      string
	AMQPExchange string

	CORSOrigins      []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	ReaperInterval   time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             port,
		LogLevel:         strings.ToLower(os.Getenv("LOG_LEVEL")),
		JobStore:         strings.ToLower(getEnv("JOB_STORE", "postgres")),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBMaxConns:       getEnvInt("DB_MAX_CONNS", 10),
		AutoMigrate:      getEnvBool("AUTO_MIGRATE", false),
		JobStoreDSN:      os.Getenv("JOB_STORE_DSN"),
		RunLeaseTTL:      getEnvDuration("RUN_LEASE_TTL", 5*time.Minute),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		SkyboxAPIKey:     os.Getenv("SKYBOX_API_KEY"),
		SkyboxBaseURL:    getEnv("SKYBOX_BASE_URL", "https://backyard.blockadelabs.com/api/v1"),
		MeshyAPIKey:      os.Getenv("MESHY_API_KEY"),
		MeshyBaseURL:     getEnv("MESHY_BASE_URL", "https://api.meshy.ai"),
		PollerConfigPath: os.Getenv("POLLER_CONFIG_PATH"),
		StorageDriver:    strings.ToLower(getEnv("STORAGE_DRIVER", "filesystem")),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:   getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3Region:         getEnv("S3_REGION", "auto"),
		S3AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("S3_SECRET_KEY"),
		S3PublicURL:      strings.TrimRight(os.Getenv("S3_PUBLIC_URL"), "/"),
		AssetProxyHosts:  getEnvList("ASSET_PROXY_HOSTS"),
		AssetProxyURL:    getEnv("ASSET_PROXY_URL", "http://localhost:"+port+"/v1/assets/proxy"),
		AssetMaxBytes:    int64(getEnvInt("ASSET_MAX_MB", 256)) << 20,
		RedisURL:         os.Getenv("REDIS_URL"),
		AMQPURL:          os.Getenv("AMQP_URL"),
		AMQPExchange:     getEnv("AMQP_EXCHANGE", "skyforge.generations"),
		CORSOrigins:      getEnvList("CORS_ORIGINS"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 10),
		ReaperInterval:   getEnvDuration("REAPER_INTERVAL", time.Minute),
	}
	cfg.RunLeaseRenewInterval = getEnvDuration("RUN_LEASE_RENEW_INTERVAL", 30*time.Second)

	if cfg.RunLeaseRenewInterval <= 0 || 2*cfg.RunLeaseRenewInterval > cfg.RunLeaseTTL {
		return nil, fmt.Errorf("RUN_LEASE_RENEW_INTERVAL (%s) must be positive and at most half of RUN_LEASE_TTL (%s)",
			cfg.RunLeaseRenewInterval, cfg.RunLeaseTTL)
	}

	switch cfg.JobStore {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres job store")
		}
	case "sqlite", "mysql":
		if cfg.JobStoreDSN == "" {
			return nil, fmt.Errorf("JOB_STORE_DSN is required for the %s job store", cfg.JobStore)
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported JOB_STORE %q", cfg.JobStore)
	}

	if cfg.JWTSecret == "" && cfg.AppEnv != "development" {
		return nil, fmt.Errorf("JWT_SECRET is required outside development")
	}

	if cfg.StorageDriver == "s3" && (cfg.S3Bucket == "" || cfg.S3Endpoint == "") {
		return nil, fmt.Errorf("S3_BUCKET and S3_ENDPOINT are required for the s3 storage driver")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
