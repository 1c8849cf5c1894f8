package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"improv-server/pkg/logger"
)

// Бэкенды хранилища.
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// Config содержит конфигурацию процесса.
type Config struct {
	Env      string `envconfig:"APP_ENV" default:"development"`
	HTTPPort string `envconfig:"HTTP_PORT" default:"8080"`

	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`
	LogOutput   string `envconfig:"LOG_OUTPUT"`

	// AI (OpenAI-compatible или Ollama)
	AIClientType string        `envconfig:"AI_CLIENT_TYPE" default:"openai"`
	AIBaseURL    string        `envconfig:"AI_BASE_URL" default:"https://api.openai.com/v1"`
	AIModel      string        `envconfig:"AI_MODEL" default:"gpt-4o-mini"`
	AITimeout    time.Duration `envconfig:"AI_TIMEOUT" default:"30s"`
	// Секрет: AI_API_KEY или /run/secrets/ai_api_key
	AIAPIKey string `envconfig:"AI_API_KEY"`

	TTSEnabled   bool   `envconfig:"TTS_ENABLED" default:"true"`
	TTSModel     string `envconfig:"TTS_MODEL" default:"tts-1"`
	TTSCacheSize int    `envconfig:"TTS_CACHE_SIZE" default:"256"`

	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"memory"`
	RedisAddr      string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	DBMaxConns     int32  `envconfig:"DB_MAX_CONNECTIONS" default:"5"`
	SQLitePath     string `envconfig:"SQLITE_PATH" default:"improv.db"`

	// Пустой URL отключает публикацию итогов сцен
	RabbitMQURL     string `envconfig:"RABBITMQ_URL"`
	SummaryExchange string `envconfig:"RABBITMQ_SUMMARY_EXCHANGE" default:"improv.scenes"`

	MaxConcurrentScenes int           `envconfig:"MAX_CONCURRENT_SCENES" default:"10"`
	CORSAllowedOrigins  []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	SettingsFile        string        `envconfig:"SETTINGS_FILE"`
	ShutdownTimeout     time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// Load читает .env (если есть), переменные окружения и секреты.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	if cfg.AIAPIKey == "" {
		if key, err := ReadSecret("ai_api_key"); err == nil {
			cfg.AIAPIKey = key
		}
	}
	if cfg.DatabaseURL == "" {
		if dsn, err := ReadSecret("database_url"); err == nil {
			cfg.DatabaseURL = dsn
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет зависимости между полями.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageMemory, StorageRedis, StorageSQLite:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres storage backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.MaxConcurrentScenes <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_SCENES must be positive")
	}
	return nil
}

// LoggerConfig возвращает настройки логгера.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{Level: c.LogLevel, Encoding: c.LogEncoding, OutputPath: c.LogOutput}
}

// LogSummary логирует загруженную конфигурацию без секретов.
func (c *Config) LogSummary(log *zap.Logger) {
	log.Info("Configuration loaded",
		zap.String("env", c.Env),
		zap.String("httpPort", c.HTTPPort),
		zap.String("aiClientType", c.AIClientType),
		zap.String("aiBaseURL", c.AIBaseURL),
		zap.String("aiModel", c.AIModel),
		zap.Duration("aiTimeout", c.AITimeout),
		zap.Bool("aiKeyLoaded", c.AIAPIKey != ""),
		zap.Bool("ttsEnabled", c.TTSEnabled),
		zap.String("storage", c.StorageBackend),
		zap.Bool("rabbitmq", c.RabbitMQURL != ""),
		zap.Int("maxConcurrentScenes", c.MaxConcurrentScenes),
	)
}

// secretsDir - переменная, чтобы тесты могли ее подменить.
var secretsDir = "/run/secrets"

// ReadSecret читает секрет из файла Docker Secrets.
func ReadSecret(name string) (string, error) {
	path := filepath.Join(secretsDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}
