package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DevelopmentJWTSecret is used only when JWT_SECRET is unset outside production.
const DevelopmentJWTSecret = "attendance-dev-secret-change-me"

var (
	current   *Config
	currentMu sync.RWMutex
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Storage       StorageConfig
	Scylla        ScyllaConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Auth          AuthConfig
	Attendance    AttendanceConfig
	Mail          MailConfig
	GeoIP         GeoIPConfig
	Bootstrap     BootstrapConfig
}

type ServerConfig struct {
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
}

type LoggingConfig struct {
	Level  string
	Format string
}

// StorageConfig selects the persistence backend: "scylla" or "memory".
type StorageConfig struct {
	Driver string
}

type ScyllaConfig struct {
	Nodes       []string
	Keyspace    string
	Username    string
	Password    string
	AutoMigrate bool
	CAPath      string
	CertPath    string
	KeyPath     string
}

type RedisConfig struct {
	Enabled       bool
	URL           string
	Password      string
	DB            int
	PoolSize      int
	StatsCacheTTL time.Duration
}

type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	AuditTopic      string
	AttendanceTopic string
}

type ElasticsearchConfig struct {
	Enabled    bool
	URL        string
	Username   string
	Password   string
	AuditIndex string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
	// LocalKey is a base64 AES-256 key that wraps data keys when KMS is off.
	LocalKey string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	// Peppers maps pepper version to secret; the highest version hashes new passwords.
	Peppers map[int]string
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

type AuthConfig struct {
	JWTSecret          string
	TokenTTL           time.Duration
	MaxFailedAttempts  int
	LockoutDuration    time.Duration
	ResetTokenTTL      time.Duration
	ResetURL           string
	LoginRateLimit     int
	LoginRateWindow    time.Duration
	usingDefaultSecret bool
}

type AttendanceConfig struct {
	WFHRadiusMeters float64
	Timezone        string
}

type MailConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type GeoIPConfig struct {
	DatabasePath string
}

type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
	AdminName     string
}

// LoadConfig reads an optional .env file, then the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	peppers, err := parsePeppers(v.GetString("HASH_PEPPERS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: strings.ToLower(v.GetString("APP_ENV")),
		Server: ServerConfig{
			Port:           v.GetInt("SERVER_PORT"),
			TLSPort:        v.GetInt("SERVER_TLS_PORT"),
			EnableTLS:      v.GetBool("SERVER_ENABLE_TLS"),
			AutoCert:       v.GetBool("SERVER_AUTOCERT"),
			Domain:         v.GetString("SERVER_DOMAIN"),
			CertFile:       v.GetString("SERVER_CERT_FILE"),
			KeyFile:        v.GetString("SERVER_KEY_FILE"),
			AutoCertDir:    v.GetString("SERVER_AUTOCERT_DIR"),
			Email:          v.GetString("SERVER_ACME_EMAIL"),
			ReadTimeout:    v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:    v.GetDuration("SERVER_IDLE_TIMEOUT"),
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(v.GetString("STORAGE_DRIVER")),
		},
		Scylla: ScyllaConfig{
			Nodes:       splitList(v.GetString("SCYLLA_NODES")),
			Keyspace:    v.GetString("SCYLLA_KEYSPACE"),
			Username:    v.GetString("SCYLLA_USERNAME"),
			Password:    v.GetString("SCYLLA_PASSWORD"),
			AutoMigrate: v.GetBool("SCYLLA_AUTO_MIGRATE"),
			CAPath:      v.GetString("SCYLLA_CA_FILE"),
			CertPath:    v.GetString("SCYLLA_CERT_FILE"),
			KeyPath:     v.GetString("SCYLLA_KEY_FILE"),
		},
		Redis: RedisConfig{
			Enabled:       v.GetBool("REDIS_ENABLED"),
			URL:           v.GetString("REDIS_URL"),
			Password:      v.GetString("REDIS_PASSWORD"),
			DB:            v.GetInt("REDIS_DB"),
			PoolSize:      v.GetInt("REDIS_POOL_SIZE"),
			StatsCacheTTL: v.GetDuration("STATS_CACHE_TTL"),
		},
		Kafka: KafkaConfig{
			Enabled:         v.GetBool("KAFKA_ENABLED"),
			Brokers:         splitList(v.GetString("KAFKA_BROKERS")),
			AuditTopic:      v.GetString("KAFKA_AUDIT_TOPIC"),
			AttendanceTopic: v.GetString("KAFKA_ATTENDANCE_TOPIC"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:    v.GetBool("ELASTICSEARCH_ENABLED"),
			URL:        v.GetString("ELASTICSEARCH_URL"),
			Username:   v.GetString("ELASTICSEARCH_USERNAME"),
			Password:   v.GetString("ELASTICSEARCH_PASSWORD"),
			AuditIndex: v.GetString("ELASTICSEARCH_AUDIT_INDEX"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  v.GetBool("CLICKHOUSE_ENABLED"),
			URL:      v.GetString("CLICKHOUSE_URL"),
			Username: v.GetString("CLICKHOUSE_USERNAME"),
			Password: v.GetString("CLICKHOUSE_PASSWORD"),
			Database: v.GetString("CLICKHOUSE_DATABASE"),
		},
		KMS: KMSConfig{
			Enabled:  v.GetBool("KMS_ENABLED"),
			KeyID:    v.GetString("KMS_KEY_ID"),
			Region:   v.GetString("AWS_REGION"),
			LocalKey: v.GetString("ENCRYPTION_LOCAL_KEY"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  v.GetInt("ARGON2_MEMORY_KB"),
			Argon2TimeCost:    v.GetInt("ARGON2_ITERATIONS"),
			Argon2Parallelism: v.GetInt("ARGON2_PARALLELISM"),
			Peppers:           peppers,
		},
		Bucketing: BucketingConfig{
			UserBuckets:  v.GetInt("USER_BUCKETS"),
			EventBuckets: v.GetInt("EVENT_BUCKETS"),
		},
		Auth: AuthConfig{
			JWTSecret:         v.GetString("JWT_SECRET"),
			TokenTTL:          v.GetDuration("JWT_TTL"),
			MaxFailedAttempts: v.GetInt("AUTH_MAX_FAILED_ATTEMPTS"),
			LockoutDuration:   v.GetDuration("AUTH_LOCKOUT_DURATION"),
			ResetTokenTTL:     v.GetDuration("AUTH_RESET_TOKEN_TTL"),
			ResetURL:          v.GetString("AUTH_RESET_URL"),
			LoginRateLimit:    v.GetInt("AUTH_LOGIN_RATE_LIMIT"),
			LoginRateWindow:   v.GetDuration("AUTH_LOGIN_RATE_WINDOW"),
		},
		Attendance: AttendanceConfig{
			WFHRadiusMeters: v.GetFloat64("ATTENDANCE_WFH_RADIUS_METERS"),
			Timezone:        v.GetString("ATTENDANCE_TIMEZONE"),
		},
		Mail: MailConfig{
			Enabled:  v.GetBool("SMTP_ENABLED"),
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("SMTP_FROM"),
		},
		GeoIP: GeoIPConfig{
			DatabasePath: v.GetString("GEOIP_DATABASE_PATH"),
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:    v.GetString("BOOTSTRAP_ADMIN_EMAIL"),
			AdminPassword: v.GetString("BOOTSTRAP_ADMIN_PASSWORD"),
			AdminName:     v.GetString("BOOTSTRAP_ADMIN_NAME"),
		},
	}

	if cfg.Auth.JWTSecret == "" && !cfg.IsProduction() {
		cfg.Auth.JWTSecret = DevelopmentJWTSecret
		cfg.Auth.usingDefaultSecret = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	currentMu.Lock()
	current = cfg
	currentMu.Unlock()

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")

	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_TLS_PORT", 8443)
	v.SetDefault("SERVER_AUTOCERT_DIR", "./certs")
	v.SetDefault("SERVER_READ_TIMEOUT", "15s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "15s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "60s")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "https://*,http://localhost:*")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("STORAGE_DRIVER", "memory")

	v.SetDefault("SCYLLA_NODES", "127.0.0.1:9042")
	v.SetDefault("SCYLLA_KEYSPACE", "attendance")

	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("REDIS_POOL_SIZE", 20)
	v.SetDefault("STATS_CACHE_TTL", "60s")

	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_AUDIT_TOPIC", "attendance.security-events")
	v.SetDefault("KAFKA_ATTENDANCE_TOPIC", "attendance.events")

	v.SetDefault("ELASTICSEARCH_URL", "http://localhost:9200")
	v.SetDefault("ELASTICSEARCH_AUDIT_INDEX", "security-events")

	v.SetDefault("CLICKHOUSE_URL", "localhost:9000")
	v.SetDefault("CLICKHOUSE_DATABASE", "attendance")

	v.SetDefault("AWS_REGION", "us-east-1")

	v.SetDefault("ARGON2_MEMORY_KB", 64*1024)
	v.SetDefault("ARGON2_ITERATIONS", 3)
	v.SetDefault("ARGON2_PARALLELISM", 2)

	v.SetDefault("USER_BUCKETS", 256)
	v.SetDefault("EVENT_BUCKETS", 64)

	v.SetDefault("JWT_TTL", "720h")
	v.SetDefault("AUTH_MAX_FAILED_ATTEMPTS", 5)
	v.SetDefault("AUTH_LOCKOUT_DURATION", "30m")
	v.SetDefault("AUTH_RESET_TOKEN_TTL", "15m")
	v.SetDefault("AUTH_RESET_URL", "http://localhost:3000/reset-password")
	v.SetDefault("AUTH_LOGIN_RATE_LIMIT", 20)
	v.SetDefault("AUTH_LOGIN_RATE_WINDOW", "1m")

	v.SetDefault("ATTENDANCE_WFH_RADIUS_METERS", 100)
	v.SetDefault("ATTENDANCE_TIMEZONE", "UTC")

	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_FROM", "no-reply@attendance.local")

	v.SetDefault("BOOTSTRAP_ADMIN_NAME", "Administrator")
}

// Validate rejects configurations that are unsafe or unusable.
func (c *Config) Validate() error {
	var errs []error

	if c.IsProduction() {
		if c.Auth.JWTSecret == "" || c.Auth.usingDefaultSecret {
			errs = append(errs, errors.New("JWT_SECRET must be set in production"))
		}
		if len(c.Hashing.Peppers) == 0 {
			errs = append(errs, errors.New("HASH_PEPPERS must be set in production"))
		}
		if !c.KMS.Enabled && c.KMS.LocalKey == "" {
			errs = append(errs, errors.New("ENCRYPTION_LOCAL_KEY or KMS_ENABLED is required in production"))
		}
		if c.Storage.Driver != "scylla" {
			errs = append(errs, errors.New("STORAGE_DRIVER must be scylla in production"))
		}
	}

	switch c.Storage.Driver {
	case "scylla", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}

	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	if c.Auth.MaxFailedAttempts <= 0 {
		errs = append(errs, errors.New("AUTH_MAX_FAILED_ATTEMPTS must be positive"))
	}
	if c.Attendance.WFHRadiusMeters <= 0 {
		errs = append(errs, errors.New("ATTENDANCE_WFH_RADIUS_METERS must be positive"))
	}
	if _, err := time.LoadLocation(c.Attendance.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid ATTENDANCE_TIMEZONE: %w", err))
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		errs = append(errs, errors.New("KMS_KEY_ID is required when KMS is enabled"))
	}
	if c.Bucketing.UserBuckets <= 0 || c.Bucketing.EventBuckets <= 0 {
		errs = append(errs, errors.New("bucket counts must be positive"))
	}

	return errors.Join(errs...)
}

// UsingDefaultSecret reports whether the development JWT secret is in effect.
func (c *Config) UsingDefaultSecret() bool {
	return c.Auth.usingDefaultSecret
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "" || c.Environment == "development" || c.Environment == "dev"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Location returns the timezone used to derive attendance date keys.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Attendance.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Get returns the most recently loaded configuration.
func Get() *Config {
	currentMu.RLock()
	defer currentMu.RUnlock()
	if current == nil {
		return &Config{Environment: "development"}
	}
	return current
}

// parsePeppers reads "version:secret" pairs separated by commas.
func parsePeppers(raw string) (map[int]string, error) {
	peppers := make(map[int]string)
	for _, item := range splitList(raw) {
		version, secret, ok := strings.Cut(item, ":")
		if !ok || secret == "" {
			return nil, fmt.Errorf("invalid HASH_PEPPERS entry %q", item)
		}
		n, err := strconv.Atoi(version)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid pepper version %q", version)
		}
		peppers[n] = secret
	}
	return peppers, nil
}

// CurrentPepperVersion returns the highest configured pepper version, or 0.
func (h HashingConfig) CurrentPepperVersion() int {
	versions := make([]int, 0, len(h.Peppers))
	for v := range h.Peppers {
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return 0
	}
	sort.Ints(versions)
	return versions[len(versions)-1]
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
