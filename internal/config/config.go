package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AnalyzerMode 决定图像分析走真实服务还是显式模拟。
type AnalyzerMode string

const (
	AnalyzerModeLive      AnalyzerMode = "live"
	AnalyzerModeSimulated AnalyzerMode = "simulated"
)

// Config 聚合服务启动需要的关键配置。
type Config struct {
	HTTPPort           string
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	MaxUploadBytes     int64
	DBHost             string
	DBPort             int
	DBUser             string
	DBPassword         string
	DBName             string
	DBSSLMode          string
	// 鉴权配置（Supabase JWT）
	AuthEnabled       bool
	SupabaseURL       string
	SupabaseAnonKey   string
	SupabaseJWTSecret string
	// 存储配置
	StorageDriver  string // "local" 或 "s3"
	StorageDir     string // local 驱动的根目录
	StorageBaseURL string // local 驱动对外的下载地址前缀
	S3Endpoint     string // S3/MinIO 端点，不含协议
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3Region       string
	S3UseSSL       bool
	S3PathStyle    bool // MinIO 需要设为 true
	// 图像分析配置
	AnalyzerMode   AnalyzerMode
	VisionAPIKey   string
	VisionEndpoint string
}

// Load 从环境变量加载配置，并提供默认值。
// 存在 .env 文件时先行载入，便于本地开发。
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	corsOrigins := parseList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173"}
	}

	rateLimitRequests, err := parseIntEnv("RATE_LIMIT_REQUESTS", 60)
	if err != nil {
		return nil, err
	}

	rateLimitWindow, err := parseDurationEnv("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}

	maxUpload, err := parseIntEnv("MAX_UPLOAD_BYTES", 10*1024*1024)
	if err != nil {
		return nil, err
	}

	dbPort, err := parseIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	storageDriver := envOrDefault("STORAGE_DRIVER", "local")
	storageDir := envOrDefault("STORAGE_DIR", "./data")
	if storageDriver == "local" {
		if err := ensureDir(storageDir); err != nil {
			return nil, fmt.Errorf("确保存储目录失败: %w", err)
		}
	}

	mode, err := parseAnalyzerMode(os.Getenv("ANALYZER_MODE"))
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTPPort:           port,
		CORSAllowedOrigins: corsOrigins,
		RateLimitRequests:  rateLimitRequests,
		RateLimitWindow:    rateLimitWindow,
		MaxUploadBytes:     int64(maxUpload),
		DBHost:             envOrDefault("DB_HOST", "127.0.0.1"),
		DBPort:             dbPort,
		DBUser:             envOrDefault("DB_USER", "fileguard"),
		DBPassword:         envOrDefault("DB_PASSWORD", "fileguard"),
		DBName:             envOrDefault("DB_NAME", "fileguard"),
		DBSSLMode:          envOrDefault("DB_SSL_MODE", "disable"),
		AuthEnabled:        parseBoolEnv("AUTH_ENABLED", true),
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseAnonKey:    os.Getenv("SUPABASE_ANON_KEY"),
		SupabaseJWTSecret:  os.Getenv("SUPABASE_JWT_SECRET"),
		StorageDriver:      storageDriver,
		StorageDir:         storageDir,
		StorageBaseURL:     envOrDefault("STORAGE_BASE_URL", "http://localhost:8080/objects"),
		S3Endpoint:         envOrDefault("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:        envOrDefault("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:        envOrDefault("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:           envOrDefault("S3_BUCKET", "user-files"),
		S3Region:           envOrDefault("S3_REGION", "us-east-1"),
		S3UseSSL:           parseBoolEnv("S3_USE_SSL", false),
		S3PathStyle:        parseBoolEnv("S3_PATH_STYLE", true),
		AnalyzerMode:       mode,
		VisionAPIKey:       os.Getenv("VISION_API_KEY"),
		VisionEndpoint:     envOrDefault("VISION_ENDPOINT", "https://vision.googleapis.com/v1/images:annotate"),
	}, nil
}

func parseAnalyzerMode(raw string) (AnalyzerMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(AnalyzerModeLive):
		return AnalyzerModeLive, nil
	case string(AnalyzerModeSimulated):
		return AnalyzerModeSimulated, nil
	default:
		return "", fmt.Errorf("解析 ANALYZER_MODE 失败: 未知模式 %q", raw)
	}
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("路径 %s 已存在但不是目录", path)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}

	return err
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}

	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseBoolEnv(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	lower := strings.ToLower(raw)
	return lower == "true" || lower == "1" || lower == "yes"
}

// PostgresDSN 生成标准 postgres:// 连接串，供数据访问层直接使用。
func (c *Config) PostgresDSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   c.DBName,
	}

	q := url.Values{}
	if c.DBSSLMode != "" {
		q.Set("sslmode", c.DBSSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
