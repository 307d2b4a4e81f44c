package factory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"bank-service/internal/assistant"
	"bank-service/internal/biometric"
	"bank-service/internal/bucketing"
	"bank-service/internal/client"
	"bank-service/internal/config"
	"bank-service/internal/encryption"
	"bank-service/internal/events"
	"bank-service/internal/fraud"
	"bank-service/internal/handler"
	"bank-service/internal/hashing"
	"bank-service/internal/ledger"
	"bank-service/internal/repository"
	"bank-service/internal/repository/clickhouse"
	"bank-service/internal/repository/elastic"
	"bank-service/internal/repository/file"
	"bank-service/internal/repository/memory"
	"bank-service/internal/repository/postgres"
	redisrepo "bank-service/internal/repository/redis"
	"bank-service/internal/repository/scylla"
	"bank-service/internal/service"
	"bank-service/internal/session"
	"bank-service/internal/tls"
	"bank-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Storage
	store    repository.Store
	ledger   *ledger.Ledger
	sessions *session.Manager
	pending  repository.PendingStore

	events         *events.Dispatcher
	esIndex        *elastic.Index
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{config: cfg}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(&tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := factory.initializeClients(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := factory.initializeManagers(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}
	if err := factory.initializeStorage(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	factory.initializeEvents(ctx)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("ledger_backend", cfg.Ledger.Backend),
		util.String("lock_backend", cfg.Ledger.LockBackend),
		util.String("session_backend", cfg.Session.Backend),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients connects to every enabled external system. Failures of
// a client the ledger depends on are fatal; the rest only degrade in
// development.
func (f *Factory) initializeClients(ctx context.Context) error {
	var initErrors []error

	if f.config.Redis.Enabled {
		if c, err := client.NewRedisClient(ctx, f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = c
			util.Info("Redis client initialized and healthy")
		}
	}

	if f.config.Ledger.Backend == "scylla" {
		c, err := scylla.NewScyllaClient(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = c
		if err := c.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("scylla schema: %w", err)
		}
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("scylla health check: %w", err)
		}
		util.Info("ScyllaDB client initialized and healthy")
	}

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if f.config.Elasticsearch.Enabled {
		if c, err := client.NewElasticsearchClient(ctx, f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
		} else {
			f.esClient = c
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	if f.config.Clickhouse.Enabled {
		if c, err := client.NewClickHouseClient(ctx, f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			c.Close()
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			f.clickhouseClient = c
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers(ctx context.Context) error {
	hasher, err := hashing.NewHasher(f.config)
	if err != nil {
		return fmt.Errorf("hasher: %w", err)
	}
	f.hasher = hasher

	var kmsClient encryption.KMSAPI
	if f.config.KMS.Enabled {
		c, err := encryption.NewKMSClient(ctx, f.config)
		if err != nil {
			return fmt.Errorf("kms: %w", err)
		}
		kmsClient = c
	}

	em, err := encryption.NewEncryptionManager(f.config, kmsClient)
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}
	f.encryptionManager = em
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	util.Info("Managers initialized successfully",
		util.Int("lock_stripes", f.bucketingManager.LockStripes()),
		util.Bool("kms_enabled", f.config.KMS.Enabled),
	)
	return nil
}

// initializeStorage opens the ledger backend, the account lock, and the
// session and pending stores.
func (f *Factory) initializeStorage(ctx context.Context) error {
	switch f.config.Ledger.Backend {
	case "memory":
		f.store = memory.New()
	case "file":
		s, err := file.Open(f.config.Ledger.DataDir)
		if err != nil {
			return fmt.Errorf("file store: %w", err)
		}
		f.store = s
	case "postgres":
		s, err := postgres.NewStore(ctx, f.config)
		if err != nil {
			return fmt.Errorf("postgres store: %w", err)
		}
		f.store = s
		if err := s.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
	case "scylla":
		f.store = scylla.NewStore(f.scyllaClient, f.bucketingManager, util.Get())
	default:
		return fmt.Errorf("unknown ledger backend %q", f.config.Ledger.Backend)
	}

	var locker ledger.Locker = ledger.NewLocalLocker(f.bucketingManager)
	if f.config.Ledger.LockBackend == "redis" {
		if f.redisClient == nil {
			return errors.New("redis account lock requested but redis is unavailable")
		}
		locker = redisrepo.NewAccountLock(f.redisClient, f.config.Ledger.LockTTL)
	}
	f.ledger = ledger.New(f.store, locker, f.config.Ledger.OperationTimeout)

	var sessionStore session.Store = session.NewMemoryStore()
	if f.config.Session.Backend == "redis" {
		if f.redisClient == nil {
			return errors.New("redis session store requested but redis is unavailable")
		}
		sessionStore = redisrepo.NewSessionStore(f.redisClient)
	}
	f.sessions = session.NewManager(sessionStore, f.config.Session)

	// Pending operations live with the sessions that own them.
	if f.redisClient != nil && f.config.Session.Backend == "redis" {
		f.pending = redisrepo.NewPendingStore(f.redisClient)
	} else {
		f.pending = memory.NewPendingStore()
	}

	if err := f.ledger.HealthCheck(ctx); err != nil {
		return fmt.Errorf("ledger health check: %w", err)
	}
	util.Info("Storage initialized and healthy",
		util.String("backend", f.config.Ledger.Backend),
	)
	return nil
}

// initializeEvents assembles the sinks that mirror ledger activity.
func (f *Factory) initializeEvents(ctx context.Context) {
	var sinks []events.Sink

	if f.kafkaProducer != nil {
		sinks = append(sinks, events.NewKafkaPublisher(f.kafkaProducer, f.config.Kafka))
	}
	if f.esClient != nil {
		f.esIndex = elastic.NewIndex(f.esClient, f.config.Elasticsearch)
		sinks = append(sinks, f.esIndex)
	}
	if f.clickhouseClient != nil {
		analytics := clickhouse.NewAnalyticsSink(f.clickhouseClient)
		if err := analytics.EnsureSchema(ctx); err != nil {
			util.Warn("ClickHouse schema setup failed - analytics disabled", util.ErrorField(err))
		} else {
			sinks = append(sinks, analytics)
		}
	}
	if f.scyllaClient != nil {
		sinks = append(sinks, scylla.NewSecurityEventSink(f.scyllaClient))
	}

	f.events = events.NewDispatcher(f.config.Models.Timeout, sinks...)
	util.Info("Event sinks configured", util.Strings("sinks", f.events.Sinks()))
}

// models builds the adapters for the external model collaborators.
func (f *Factory) models() service.Models {
	cfg := f.config.Models
	fraudClient := client.NewModelClient("fraud", cfg.FraudURL, cfg.Timeout)

	m := service.Models{
		Fraud:     fraud.NewChecker(fraud.NewHTTPScorer(fraudClient), fraud.NewPolicy(f.config), cfg.Timeout),
		Faces:     biometric.NewHTTPFaceVerifier(client.NewModelClient("face", cfg.FaceURL, cfg.Timeout)),
		Sentiment: assistant.NewSentimentAnalyzer(assistant.NewHTTPClassifier(client.NewModelClient("sentiment", cfg.SentimentURL, cfg.Timeout)), cfg.Timeout),
		Generator: assistant.NewHTTPGenerator(client.NewModelClient("chatbot", cfg.ChatbotURL, cfg.Timeout)),
		Estimator: assistant.NewHTTPEstimator(client.NewModelClient("insurance", cfg.InsuranceURL, cfg.Timeout)),
	}
	if f.esClient != nil {
		m.Retriever = elastic.NewPolicyRetriever(f.esClient, f.config.Elasticsearch.PolicyIndex)
	}
	return m
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		deps := service.Deps{
			Ledger:           f.ledger,
			Sessions:         f.sessions,
			Hasher:           f.hasher,
			Encryption:       f.encryptionManager,
			Bucketing:        f.bucketingManager,
			Events:           f.events,
			Logger:           util.Get(),
			OperationTimeout: f.config.Ledger.OperationTimeout,
			ModelTimeout:     f.config.Models.Timeout,
		}
		var search service.HistorySearcher
		if f.esIndex != nil {
			search = f.esIndex
		}
		f.serviceFactory = service.NewServiceFactory(deps, f.models(), f.pending, f.config.Session.PendingTTL, search)
	}
	return f.serviceFactory
}

// Router builds the HTTP handler tree over the service factory.
func (f *Factory) Router() http.Handler {
	sf := f.ServiceFactory()
	logger := util.Get()

	var limiter handler.Limiter
	if f.redisClient != nil {
		limiter = redisrepo.NewRateLimiter(f.redisClient)
	}

	return handler.NewRouter(handler.Handlers{
		Accounts:     handler.NewAccountHandler(sf.AccountService(), logger),
		Transactions: handler.NewTransactionHandler(sf.BankingService(), logger),
		Assistant:    handler.NewAssistantHandler(sf.AssistantService(), logger),
	}, handler.RouterOptions{
		RequireTLS:     f.config.Server.EnableTLS && f.config.IsProduction(),
		AllowedOrigins: f.config.Server.AllowedOrigins,
		Sessions:       f.sessions,
		Limiter:        limiter,
		AuthRateLimit:  f.config.Server.AuthRateLimit,
		AuthRateWindow: f.config.Server.AuthRateWindow,
		Health:         f.Ready,
	}, logger)
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.ledger != nil {
		if err := f.ledger.HealthCheck(ctx); err != nil {
			healthErrors["ledger"] = err
		}
	} else {
		healthErrors["ledger"] = fmt.Errorf("ledger not initialized")
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}
	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			healthErrors["scylla"] = err
		}
	}
	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}
	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.hasher == nil {
		healthErrors["hasher"] = fmt.Errorf("hasher not initialized")
	}
	if f.encryptionManager == nil {
		healthErrors["encryption"] = fmt.Errorf("encryption manager not initialized")
	}

	return healthErrors
}

// Ready reports the dependencies that gate traffic. Event sinks are
// advisory and excluded.
func (f *Factory) Ready(ctx context.Context) error {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "elasticsearch")
	delete(healthErrors, "clickhouse")

	errs := make([]error, 0, len(healthErrors))
	for name, err := range healthErrors {
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errors.Join(errs...)
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.store != nil {
			if err := f.store.Close(); err != nil {
				util.Error("Failed to close ledger store", util.ErrorField(err))
			} else {
				util.Info("Ledger store closed")
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
			util.Info("Encryption manager cache cleared")
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}
