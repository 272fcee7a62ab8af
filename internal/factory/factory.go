package factory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"attendance-service/internal/audit"
	"attendance-service/internal/bucketing"
	"attendance-service/internal/client"
	"attendance-service/internal/config"
	"attendance-service/internal/encryption"
	"attendance-service/internal/handler"
	"attendance-service/internal/hashing"
	"attendance-service/internal/mail"
	"attendance-service/internal/models"
	"attendance-service/internal/repository"
	"attendance-service/internal/repository/memory"
	redisrepo "attendance-service/internal/repository/redis"
	"attendance-service/internal/repository/scylla"
	"attendance-service/internal/service"
	"attendance-service/internal/tls"
	"attendance-service/internal/util"

	"golang.org/x/sync/errgroup"
)

const requestTimeout = 30 * time.Second

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.Client
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	geoIP            *audit.GeoIP

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager

	store          repository.Store
	trail          *audit.Trail
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and initializes every dependency.
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config:     cfg,
		tlsManager: tls.NewManager(tls.OptionsFromConfig(cfg)),
		closed:     make(chan struct{}),
	}

	if err := f.initializeClients(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := f.initializeManagers(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	f.initializeServices()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("storage", cfg.Storage.Driver),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return f, nil
}

// initializeClients connects the optional backends. Failures are fatal in
// production and downgraded to warnings elsewhere.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// ScyllaDB
	if f.config.Storage.Driver == "scylla" {
		if c, err := scylla.NewClient(ctx, f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
		} else {
			f.scyllaClient = c
			if err := c.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
			} else {
				util.Info("ScyllaDB client initialized and healthy")
			}
		}
	}

	// Redis
	if f.config.Redis.Enabled {
		if c, err := client.NewRedisClient(ctx, f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = c
			util.Info("Redis client initialized")
		}
	}

	// Kafka
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	// Elasticsearch
	if f.config.Elasticsearch.Enabled {
		if c, err := client.NewElasticsearchClient(ctx, f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = c
			util.Info("Elasticsearch client initialized")
		}
	}

	// ClickHouse
	if f.config.Clickhouse.Enabled {
		if c, err := client.NewClickHouseClient(ctx, f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = c
			util.Info("ClickHouse client initialized")
		}
	}

	// GeoIP is best effort everywhere
	if path := f.config.GeoIP.DatabasePath; path != "" {
		if g, err := audit.OpenGeoIP(path); err != nil {
			util.Warn("GeoIP database unavailable - security events will carry no location", util.ErrorField(err))
		} else {
			f.geoIP = g
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

// initializeManagers builds hashing, encryption and bucketing, then the store.
func (f *Factory) initializeManagers() error {
	f.hasher = hashing.NewHasherFromConfig(f.config)
	f.bucketingManager = bucketing.NewManagerFromConfig(f.config)

	var keys encryption.KeyService
	if f.config.KMS.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		kmsClient, err := encryption.NewKMSClient(ctx, f.config)
		cancel()
		if err != nil {
			return err
		}
		keys = kmsClient
	}
	em, err := encryption.NewManager(f.config, keys)
	if err != nil {
		return err
	}
	f.encryptionManager = em

	if f.scyllaClient != nil {
		f.store = scylla.NewStore(f.scyllaClient, f.bucketingManager)
	} else {
		if f.config.Storage.Driver == "scylla" {
			util.Warn("ScyllaDB unavailable - falling back to in-memory storage")
		}
		f.store = memory.NewStore()
	}

	util.Info("Managers initialized successfully",
		util.Bool("kms_enabled", f.config.KMS.Enabled),
		util.Int("account_buckets", f.config.Bucketing.UserBuckets),
		util.Int("event_buckets", f.config.Bucketing.EventBuckets),
	)
	return nil
}

// initializeServices wires the audit trail and the domain services.
func (f *Factory) initializeServices() {
	logger := util.Get()
	cfg := f.config

	// The memory sink always runs so the admin event feed works without
	// Elasticsearch.
	recent := audit.NewMemorySink(1000)
	sinks := []audit.Sink{audit.NewLogSink(util.Named("audit")), recent}
	var searcher audit.Searcher = recent

	if f.kafkaProducer != nil && cfg.Kafka.AuditTopic != "" {
		sinks = append(sinks, audit.NewKafkaSink(f.kafkaProducer, cfg.Kafka.AuditTopic))
	}
	if f.esClient != nil {
		es := audit.NewElasticsearchSink(f.esClient, cfg.Elasticsearch.AuditIndex)
		sinks = append(sinks, es)
		searcher = es
	}
	if f.clickhouseClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ch, err := audit.NewClickHouseSink(ctx, f.clickhouseClient)
		cancel()
		if err != nil {
			util.Warn("ClickHouse audit sink disabled", util.ErrorField(err))
		} else {
			sinks = append(sinks, ch)
		}
	}

	var locator audit.Locator
	if f.geoIP != nil {
		locator = f.geoIP
	}
	f.trail = audit.NewTrail(logger, f.bucketingManager, locator, sinks...)

	var mailer mail.Mailer = mail.NewLogMailer(util.Named("mail"))
	if cfg.Mail.Enabled {
		mailer = mail.NewSMTPMailer(cfg)
	}

	deps := service.FactoryDeps{
		Store:  f.store,
		Hasher: f.hasher,
		Sealer: f.encryptionManager,
		Mailer: mailer,
		Trail:  f.trail,
		Events: searcher,
		Logger: logger,
	}
	if f.redisClient != nil {
		deps.Stats = redisrepo.NewStatsCache(f.redisClient, cfg.Redis.StatsCacheTTL)
	}
	if f.kafkaProducer != nil && cfg.Kafka.AttendanceTopic != "" {
		deps.Publisher = service.NewKafkaAttendancePublisher(f.kafkaProducer, cfg.Kafka.AttendanceTopic)
	}

	f.serviceFactory = service.NewServiceFactory(deps, service.FactoryConfig{
		JWTSecret: cfg.Auth.JWTSecret,
		TokenTTL:  cfg.Auth.TokenTTL,
		Lockout: models.LockoutPolicy{
			MaxAttempts:  cfg.Auth.MaxFailedAttempts,
			LockDuration: cfg.Auth.LockoutDuration,
		},
		ResetTokenTTL:   cfg.Auth.ResetTokenTTL,
		WFHRadiusMeters: cfg.Attendance.WFHRadiusMeters,
		Location:        cfg.Location(),
	})
}

// Bootstrap creates the initial administrator when BOOTSTRAP_ADMIN_* is set
// and the email is not yet registered.
func (f *Factory) Bootstrap(ctx context.Context) error {
	b := f.config.Bootstrap
	if b.AdminEmail == "" || b.AdminPassword == "" {
		return nil
	}
	created, err := f.serviceFactory.Auth().Bootstrap(ctx, b.AdminEmail, b.AdminPassword, b.AdminName)
	if err != nil {
		return fmt.Errorf("failed to bootstrap admin: %w", err)
	}
	if created {
		util.Info("Bootstrap administrator created", util.String("email", util.MaskEmail(b.AdminEmail)))
	}
	return nil
}

// Router assembles the HTTP handler tree.
func (f *Factory) Router() http.Handler {
	logger := util.Get()
	sf := f.serviceFactory

	var limiter handler.RateLimiter
	if f.redisClient != nil {
		limiter = redisrepo.NewRateLimitCache(f.redisClient)
	}

	return handler.NewRouter(handler.RouterConfig{
		Auth:           handler.NewAuthHandler(sf.Auth(), logger),
		Attendance:     handler.NewAttendanceHandler(sf.Attendance(), logger),
		Admin:          handler.NewAdminHandler(sf.Admin(), logger),
		Gate:           handler.NewAuthGate(sf.Sessions(), sf.Accounts(), f.trail, service.SystemClock(), logger),
		Trail:          f.trail,
		Limiter:        limiter,
		AuthRateLimit:  f.config.Auth.LoginRateLimit,
		AuthRateWindow: f.config.Auth.LoginRateWindow,
		AllowedOrigins: f.config.Server.AllowedOrigins,
		RequireHTTPS:   f.config.IsProduction() && f.config.Server.EnableTLS,
		RequestTimeout: requestTimeout,
		HealthCheck:    f.Ping,
		Logger:         logger,
	})
}

// HealthCheck probes every initialized backend concurrently.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	checks := map[string]func(context.Context) error{
		"storage": f.store.HealthCheck,
	}
	if f.redisClient != nil {
		checks["redis"] = f.redisClient.HealthCheck
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer.HealthCheck
	}
	if f.esClient != nil {
		checks["elasticsearch"] = f.esClient.HealthCheck
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient.HealthCheck
	}

	var mu sync.Mutex
	results := make(map[string]error, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			err := check(gctx)
			mu.Lock()
			results[name] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Ping fails when storage is unreachable. Optional backends only log.
func (f *Factory) Ping(ctx context.Context) error {
	var storageErr error
	for name, err := range f.HealthCheck(ctx) {
		if err == nil {
			continue
		}
		if name == "storage" {
			storageErr = err
			continue
		}
		util.Warn("Dependency unhealthy", util.String("dependency", name), util.ErrorField(err))
	}
	return storageErr
}

// IsHealthy reports whether every backend passed its health check.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	for _, err := range f.HealthCheck(ctx) {
		if err != nil {
			return false
		}
	}
	return true
}

// Close releases every client. Safe to call more than once.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		util.Info("Closing factory resources")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}
		if f.geoIP != nil {
			if err := f.geoIP.Close(); err != nil {
				util.Error("Failed to close GeoIP database", util.ErrorField(err))
			}
		}
		if f.store != nil {
			f.store.Close()
		} else if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		close(f.closed)
		util.Info("All factory resources closed")
		util.Sync()
	})
}

// WaitForClose blocks until Close has run.
func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config { return f.config }
func (f *Factory) TLSManager() *tls.Manager { return f.tlsManager }
func (f *Factory) Store() repository.Store { return f.store }
func (f *Factory) Trail() *audit.Trail { return f.trail }
func (f *Factory) ServiceFactory() *service.ServiceFactory { return f.serviceFactory }
