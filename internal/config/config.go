// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends.
const (
	StorageSQLite    = "sqlite"
	StorageMemory    = "memory"
	StorageFirestore = "firestore"
)

// Oracle providers.
const (
	OracleMock   = "mock"
	OracleGemini = "gemini"
	OracleAzure  = "azure"
	OracleGRPC   = "grpc"
)

// Exercise flows.
const (
	FlowInline   = "inline"
	FlowDeferred = "deferred"
)

// Config holds all application configuration.
type Config struct {
	Port             string
	FrontendURL      string
	StorageBackend   string
	DBPath           string
	FirestoreProject string
	ExerciseFlow     string
	PromptsPath      string
	Oracle           OracleConfig
	Auth             AuthConfig
	RateLimit        RateLimitConfig
	MaxRequestBody   int64
	ConversationLog  ConversationLogConfig
}

// OracleConfig selects and configures the language-model backend.
type OracleConfig struct {
	Provider         string
	Timeout          time.Duration
	MaxRetries       int
	GeminiAPIKey     string
	GeminiModel      string
	GCPProject       string
	GCPLocation      string
	AzureEndpoint    string
	AzureKey         string
	AzureDeployment  string
	GRPCAddr         string
	GRPCConnectLimit time.Duration
}

// oracleCallsPerTurn is the most oracle calls one turn makes: analyze,
// explain, exercise, evaluate and a closing reply.
const oracleCallsPerTurn = 5

// TurnBudget is the longest a turn can spend in oracle calls, retries
// included, plus slack for backoff and storage.
func (o OracleConfig) TurnBudget() time.Duration {
	return time.Duration(oracleCallsPerTurn*(o.MaxRetries+1))*o.Timeout + 30*time.Second
}

// AuthConfig controls how requests are resolved to a user.
type AuthConfig struct {
	JWTSecret      string
	AllowAnonymous bool
}

// RateLimitConfig bounds turns per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	jwtSecret := getEnv("AUTH_JWT_SECRET", "")

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		StorageBackend:   strings.ToLower(getEnv("STORAGE_BACKEND", StorageSQLite)),
		DBPath:           getEnv("DB_PATH", "./data/chipi.db"),
		FirestoreProject: getEnv("FIRESTORE_PROJECT", ""),
		ExerciseFlow:     strings.ToLower(getEnv("TUTOR_EXERCISE_FLOW", FlowInline)),
		PromptsPath:      getEnv("TUTOR_PROMPTS_PATH", ""),
		Oracle: OracleConfig{
			Provider:         strings.ToLower(getEnv("ORACLE_PROVIDER", OracleMock)),
			Timeout:          getEnvDuration("ORACLE_TIMEOUT", 30*time.Second),
			MaxRetries:       getEnvInt("ORACLE_MAX_RETRIES", 2),
			GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
			GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			GCPProject:       getEnv("GCP_PROJECT", ""),
			GCPLocation:      getEnv("GCP_LOCATION", "us-central1"),
			AzureEndpoint:    getEnv("AZURE_OPENAI_ENDPOINT", ""),
			AzureKey:         getEnv("AZURE_OPENAI_KEY", ""),
			AzureDeployment:  getEnv("AZURE_OPENAI_DEPLOYMENT", ""),
			GRPCAddr:         getEnv("ORACLE_GRPC_ADDR", "localhost:50051"),
			GRPCConnectLimit: getEnvDuration("ORACLE_GRPC_CONNECT_TIMEOUT", 5*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:      jwtSecret,
			AllowAnonymous: getEnvBool("AUTH_ALLOW_ANONYMOUS", jwtSecret == ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		MaxRequestBody: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<16)),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
//
//nolint:gocyclo // One branch per setting keeps error messages specific.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	switch c.StorageBackend {
	case StorageSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case StorageFirestore:
		if c.FirestoreProject == "" {
			return fmt.Errorf("FIRESTORE_PROJECT is required for the firestore backend")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	switch c.ExerciseFlow {
	case FlowInline, FlowDeferred:
	default:
		return fmt.Errorf("unknown TUTOR_EXERCISE_FLOW %q", c.ExerciseFlow)
	}

	switch c.Oracle.Provider {
	case OracleMock:
	case OracleGemini:
		if c.Oracle.GeminiAPIKey == "" && c.Oracle.GCPProject == "" {
			return fmt.Errorf("GEMINI_API_KEY or GCP_PROJECT is required for the gemini oracle")
		}
	case OracleAzure:
		if c.Oracle.AzureEndpoint == "" || c.Oracle.AzureKey == "" || c.Oracle.AzureDeployment == "" {
			return fmt.Errorf("AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_KEY and AZURE_OPENAI_DEPLOYMENT are required for the azure oracle")
		}
	case OracleGRPC:
		if c.Oracle.GRPCAddr == "" {
			return fmt.Errorf("ORACLE_GRPC_ADDR cannot be empty")
		}
	default:
		return fmt.Errorf("unknown ORACLE_PROVIDER %q", c.Oracle.Provider)
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT must be > 0")
	}
	if c.Oracle.MaxRetries < 0 {
		return fmt.Errorf("ORACLE_MAX_RETRIES must be >= 0")
	}

	if c.Auth.JWTSecret == "" && !c.Auth.AllowAnonymous {
		return fmt.Errorf("AUTH_JWT_SECRET is required when anonymous access is disabled")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
