package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the complete runtime configuration of the bank service.
type Config struct {
	Environment   string
	Server        ServerConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Postgres      PostgresConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	Logging       LoggingConfig
	Hashing       HashingConfig
	KMS           KMSConfig
	Bucketing     BucketingConfig
	Ledger        LedgerConfig
	Models        ModelsConfig
	Fraud         FraudConfig
	Session       SessionConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	TLSPort        int
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
	// AuthRateLimit caps auth requests per client IP per AuthRateWindow.
	// Enforced only when Redis is enabled.
	AuthRateLimit  int
	AuthRateWindow time.Duration
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type PostgresConfig struct {
	URL      string
	MaxConns int
}

type KafkaConfig struct {
	Enabled           bool
	Brokers           []string
	TransactionsTopic string
	SecurityTopic     string
}

type ElasticsearchConfig struct {
	Enabled          bool
	URL              string
	Username         string
	Password         string
	ActivityIndex    string
	InteractionIndex string
	TransactionIndex string
	PolicyIndex      string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	// Peppers are keyed by version; the highest version hashes new secrets.
	Peppers map[int]string
}

type KMSConfig struct {
	Enabled  bool
	KeyID    string
	Region   string
	LocalKey string // wraps data keys when KMS is disabled
}

type BucketingConfig struct {
	AccountBuckets int
	EventBuckets   int
	LockStripes    int
}

// LedgerConfig selects the storage backend and the per-account lock.
type LedgerConfig struct {
	Backend          string // memory | file | postgres | scylla
	DataDir          string
	LockBackend      string // local | redis
	LockTTL          time.Duration
	OperationTimeout time.Duration
}

// ModelsConfig points at the external model collaborators. An empty URL
// means the collaborator is unavailable.
type ModelsConfig struct {
	FraudURL     string
	InsuranceURL string
	SentimentURL string
	ChatbotURL   string
	FaceURL      string
	Timeout      time.Duration
}

type FraudConfig struct {
	Threshold        float64
	WipeoutThreshold float64
}

type SessionConfig struct {
	Backend    string // memory | redis
	JWTSecret  string
	TTL        time.Duration
	PendingTTL time.Duration
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8080),
			TLSPort:        getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:      getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:       getEnvBool("SERVER_AUTOCERT", false),
			Domain:         getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:       getEnv("SERVER_CERT_FILE", ""),
			KeyFile:        getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:    getEnv("SERVER_AUTOCERT_DIR", "./certs"),
			Email:          getEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins: getEnvSlice("SERVER_ALLOWED_ORIGINS", []string{"https://*", "http://localhost:*"}),
			AuthRateLimit:  getEnvInt("SERVER_AUTH_RATE_LIMIT", 20),
			AuthRateWindow: getEnvDuration("SERVER_AUTH_RATE_WINDOW", time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "bank"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Postgres: PostgresConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt("DATABASE_MAX_CONNS", 10),
		},
		Kafka: KafkaConfig{
			Enabled:           getEnvBool("KAFKA_ENABLED", false),
			Brokers:           getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			TransactionsTopic: getEnv("KAFKA_TRANSACTIONS_TOPIC", "bank.transactions"),
			SecurityTopic:     getEnv("KAFKA_SECURITY_TOPIC", "bank.security"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:          getEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:              getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:         getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:         getEnv("ELASTICSEARCH_PASSWORD", ""),
			ActivityIndex:    getEnv("ELASTICSEARCH_ACTIVITY_INDEX", "bank-activities"),
			InteractionIndex: getEnv("ELASTICSEARCH_INTERACTION_INDEX", "bank-interactions"),
			TransactionIndex: getEnv("ELASTICSEARCH_TRANSACTION_INDEX", "bank-transactions"),
			PolicyIndex:      getEnv("ELASTICSEARCH_POLICY_INDEX", "bank-policies"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "bank"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 1),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
			Peppers:           parsePeppers(getEnv("HASHING_PEPPERS", "")),
		},
		KMS: KMSConfig{
			Enabled:  getEnvBool("KMS_ENABLED", false),
			KeyID:    getEnv("KMS_KEY_ID", ""),
			Region:   getEnv("AWS_REGION", "us-east-1"),
			LocalKey: getEnv("ENCRYPTION_LOCAL_KEY", ""),
		},
		Bucketing: BucketingConfig{
			AccountBuckets: getEnvInt("BUCKETING_ACCOUNT_BUCKETS", 64),
			EventBuckets:   getEnvInt("BUCKETING_EVENT_BUCKETS", 16),
			LockStripes:    getEnvInt("BUCKETING_LOCK_STRIPES", 256),
		},
		Ledger: LedgerConfig{
			Backend:          strings.ToLower(getEnv("LEDGER_BACKEND", "file")),
			DataDir:          getEnv("LEDGER_DATA_DIR", "./data"),
			LockBackend:      strings.ToLower(getEnv("LEDGER_LOCK_BACKEND", "local")),
			LockTTL:          getEnvDuration("LEDGER_LOCK_TTL", 30*time.Second),
			OperationTimeout: getEnvDuration("LEDGER_OPERATION_TIMEOUT", 5*time.Second),
		},
		Models: ModelsConfig{
			FraudURL:     getEnv("FRAUD_MODEL_URL", ""),
			InsuranceURL: getEnv("INSURANCE_MODEL_URL", ""),
			SentimentURL: getEnv("SENTIMENT_MODEL_URL", ""),
			ChatbotURL:   getEnv("CHATBOT_URL", ""),
			FaceURL:      getEnv("FACE_VERIFIER_URL", ""),
			Timeout:      getEnvDuration("MODEL_TIMEOUT", 3*time.Second),
		},
		Fraud: FraudConfig{
			Threshold:        getEnvFloat("FRAUD_THRESHOLD", 0.3),
			WipeoutThreshold: getEnvFloat("FRAUD_WIPEOUT_THRESHOLD", 0.1),
		},
		Session: SessionConfig{
			Backend:    strings.ToLower(getEnv("SESSION_BACKEND", "memory")),
			JWTSecret:  getEnv("SESSION_JWT_SECRET", ""),
			TTL:        getEnvDuration("SESSION_TTL", 30*time.Minute),
			PendingTTL: getEnvDuration("SESSION_PENDING_TTL", 2*time.Minute),
		},
	}

	if len(cfg.Hashing.Peppers) == 0 && !cfg.IsProduction() {
		cfg.Hashing.Peppers = map[int]string{1: "development-pepper"}
	}
	if cfg.Session.JWTSecret == "" && !cfg.IsProduction() {
		cfg.Session.JWTSecret = "development-session-secret"
	}
	if cfg.KMS.LocalKey == "" && !cfg.IsProduction() {
		cfg.KMS.LocalKey = "development-encryption-key"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Ledger.Backend {
	case "memory", "file", "scylla":
	case "postgres":
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres ledger backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LEDGER_BACKEND %q", c.Ledger.Backend))
	}

	switch c.Ledger.LockBackend {
	case "local":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, errors.New("LEDGER_LOCK_BACKEND=redis requires REDIS_ENABLED"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LEDGER_LOCK_BACKEND %q", c.Ledger.LockBackend))
	}

	switch c.Session.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, errors.New("SESSION_BACKEND=redis requires REDIS_ENABLED"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_BACKEND %q", c.Session.Backend))
	}

	if c.Fraud.Threshold <= 0 || c.Fraud.Threshold > 1 {
		errs = append(errs, fmt.Errorf("FRAUD_THRESHOLD must be in (0,1], got %v", c.Fraud.Threshold))
	}
	if c.Fraud.WipeoutThreshold <= 0 || c.Fraud.WipeoutThreshold > c.Fraud.Threshold {
		errs = append(errs, fmt.Errorf("FRAUD_WIPEOUT_THRESHOLD must be in (0,FRAUD_THRESHOLD], got %v", c.Fraud.WipeoutThreshold))
	}
	if len(c.Hashing.Peppers) == 0 {
		errs = append(errs, errors.New("HASHING_PEPPERS is required"))
	}
	if c.Session.JWTSecret == "" {
		errs = append(errs, errors.New("SESSION_JWT_SECRET is required"))
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		errs = append(errs, errors.New("KMS_KEY_ID is required when KMS is enabled"))
	}
	if !c.KMS.Enabled && c.KMS.LocalKey == "" {
		errs = append(errs, errors.New("ENCRYPTION_LOCAL_KEY is required when KMS is disabled"))
	}
	if c.Ledger.OperationTimeout <= 0 || c.Models.Timeout <= 0 {
		errs = append(errs, errors.New("ledger and model timeouts must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// parsePeppers reads "1:secret,2:secret2".
func parsePeppers(raw string) map[int]string {
	peppers := make(map[int]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		version, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(version))
		if err != nil || v <= 0 || value == "" {
			continue
		}
		peppers[v] = value
	}
	return peppers
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
