package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 服务配置
type Config struct {
	ServerPort    string
	PublicBaseURL string // 对外可访问的 edge 地址，用于拼接 /api/proxy?url=

	// 上游
	NeteaseAPIURL    string
	TuneHubAPIURL    string
	TuneHubAPIKey    string
	CatalogRelayURL  string // 非空时目录请求经由该 edge 的 /api/tunehub/request 转发
	PreferredQuality string
	SearchTimeout    time.Duration
	UpstreamTimeout  time.Duration

	// Edge 代理
	RelayRateLimit      float64 // 每秒请求数，<=0 不限速
	RelayBurst          int
	EdgeCacheTTL        time.Duration
	EdgeCacheMaxBody    int64
	EdgeObjectThreshold int64 // 超过该大小的响应体写入 MinIO
	EdgeMemoryEntries   int

	// MySQL
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBEnabled  bool

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RedisEnabled  bool

	// MinIO
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	MinioEnabled   bool

	JWTSecret string

	// 日志
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return fallback
}

// getEnvDuration 接受 time.ParseDuration 格式，如 "15s"、"1h"
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables and defaults.")
	}

	port := getEnv("SERVER_PORT", "8080")

	return &Config{
		ServerPort:    port,
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port+"/api"), "/"),

		NeteaseAPIURL:    strings.TrimRight(getEnv("NETEASE_API_URL", "http://localhost:3000"), "/"),
		TuneHubAPIURL:    strings.TrimRight(getEnv("TUNEHUB_API_URL", "https://tunehub.sayqz.com/api/v1"), "/"),
		TuneHubAPIKey:    os.Getenv("TUNEHUB_API_KEY"),
		CatalogRelayURL:  strings.TrimRight(os.Getenv("CATALOG_RELAY_URL"), "/"),
		PreferredQuality: getEnv("PREFERRED_QUALITY", "flac24bit"),
		SearchTimeout:    getEnvDuration("SEARCH_TIMEOUT", 15*time.Second),
		UpstreamTimeout:  getEnvDuration("UPSTREAM_TIMEOUT", 20*time.Second),

		RelayRateLimit:      getEnvFloat("RELAY_RATE_LIMIT", 20),
		RelayBurst:          getEnvInt("RELAY_BURST", 40),
		EdgeCacheTTL:        getEnvDuration("EDGE_CACHE_TTL", time.Hour),
		EdgeCacheMaxBody:    getEnvInt64("EDGE_CACHE_MAX_BODY", 64<<20),
		EdgeObjectThreshold: getEnvInt64("EDGE_OBJECT_THRESHOLD", 1<<20),
		EdgeMemoryEntries:   getEnvInt("EDGE_MEMORY_ENTRIES", 256),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "musicsquare"),
		DBEnabled:  getEnvBool("DB_ENABLED", true),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisEnabled:  getEnvBool("REDIS_ENABLED", true),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "musicsquare-edge"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioEnabled:   getEnvBool("MINIO_ENABLED", false),

		JWTSecret: getEnv("JWT_SECRET", "musicsquare-dev-secret"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       os.Getenv("LOG_FILE"),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
	}
}

// LoggerLevel 规范化日志级别字符串
func (c *Config) LoggerLevel() string {
	return strings.ToLower(strings.TrimSpace(c.LogLevel))
}
