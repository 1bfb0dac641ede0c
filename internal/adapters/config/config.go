package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"delphi/pkg/errors"
)

type Config struct {
	App           AppConfig
	Server        ServerConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	AI            AIConfig
	MarketData    MarketDataConfig
	Retrieval     RetrievalConfig
	Workflow      WorkflowConfig
	Artifacts     ArtifactsConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"delphi"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type ServerConfig struct {
	Port int `envconfig:"SERVER_PORT" default:"8080"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Enabled  bool   `envconfig:"CLICKHOUSE_ENABLED" default:"false"`
	Host     string `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"delphi"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" required:"true"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Enabled bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"delphi"`
}

type AIConfig struct {
	OpenAIKey      string        `envconfig:"OPENAI_API_KEY" required:"true"`
	ChatModel      string        `envconfig:"AI_CHAT_MODEL" default:"gpt-4o-mini"`
	EmbeddingModel string        `envconfig:"AI_EMBEDDING_MODEL" default:"text-embedding-3-small"`
	Temperature    float64       `envconfig:"AI_TEMPERATURE" default:"0"`
	Timeout        time.Duration `envconfig:"AI_TIMEOUT" default:"60s"`
	RequestsPerMin float64       `envconfig:"AI_REQUESTS_PER_MINUTE" default:"300"`
}

type MarketDataConfig struct {
	BaseURL        string        `envconfig:"MARKET_DATA_BASE_URL" default:"https://query1.finance.yahoo.com"`
	Timeout        time.Duration `envconfig:"MARKET_DATA_TIMEOUT" default:"15s"`
	RequestsPerMin int           `envconfig:"MARKET_DATA_REQUESTS_PER_MINUTE" default:"120"`
	HistoryRange   string        `envconfig:"MARKET_DATA_HISTORY_RANGE" default:"3mo"`
}

type RetrievalConfig struct {
	Collection      string  `envconfig:"RETRIEVAL_COLLECTION" default:"finance_terms"`
	TopK            int     `envconfig:"RETRIEVAL_TOP_K" default:"5"`
	SimilarityFloor float64 `envconfig:"RETRIEVAL_SIMILARITY_FLOOR" default:"0.25"`
}

// WorkflowConfig bounds the query turn state machine. MaxRetries is a hard
// ceiling on rewrite-and-reattempt cycles per turn.
type WorkflowConfig struct {
	MaxRetries       int           `envconfig:"WORKFLOW_MAX_RETRIES" default:"2"`
	QualityThreshold int           `envconfig:"WORKFLOW_QUALITY_THRESHOLD" default:"3"`
	StageTimeout     time.Duration `envconfig:"WORKFLOW_STAGE_TIMEOUT" default:"90s"`
	ContextWindow    int           `envconfig:"WORKFLOW_CONTEXT_WINDOW" default:"4"`
}

type ArtifactsConfig struct {
	Dir string `envconfig:"ARTIFACTS_DIR" default:"./artifacts"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}
