package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	NATS         NATSConfig
	JWT          JWTConfig
	CORS         CORSConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Discussion   DiscussionConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DriverSQLite
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Discussion.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PRICECIRCLE_APP_ENV" required:"true"`
	Port         string `envconfig:"PRICECIRCLE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PRICECIRCLE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PRICECIRCLE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"PRICECIRCLE_LOG_FORMAT" default:"json"`
}

// ConsoleLogs reports whether logs should use the human readable writer.
func (a AppConfig) ConsoleLogs() bool {
	return strings.EqualFold(strings.TrimSpace(a.LogFormat), "console")
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PRICECIRCLE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PRICECIRCLE_DB_DSN"`
	Driver string `envconfig:"PRICECIRCLE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PRICECIRCLE_DB_HOST"`
	LegacyPort     int    `envconfig:"PRICECIRCLE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PRICECIRCLE_DB_USER"`
	LegacyPassword string `envconfig:"PRICECIRCLE_DB_PASSWORD"`
	LegacyName     string `envconfig:"PRICECIRCLE_DB_NAME"`
	LegacySSLMode  string `envconfig:"PRICECIRCLE_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"PRICECIRCLE_SQLITE_PATH" default:"file:pricecircle.db?_foreign_keys=on"`

	MaxOpenConns    int           `envconfig:"PRICECIRCLE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PRICECIRCLE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PRICECIRCLE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PRICECIRCLE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"PRICECIRCLE_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PRICECIRCLE_REDIS_URL"`
	Address      string        `envconfig:"PRICECIRCLE_REDIS_ADDR"`
	Password     string        `envconfig:"PRICECIRCLE_REDIS_PASSWORD"`
	DB           int           `envconfig:"PRICECIRCLE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PRICECIRCLE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PRICECIRCLE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PRICECIRCLE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PRICECIRCLE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PRICECIRCLE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type NATSConfig struct {
	URL           string        `envconfig:"PRICECIRCLE_NATS_URL"`
	Name          string        `envconfig:"PRICECIRCLE_NATS_CLIENT_NAME" default:"pricecircle"`
	MaxReconnects int           `envconfig:"PRICECIRCLE_NATS_MAX_RECONNECTS" default:"60"`
	ReconnectWait time.Duration `envconfig:"PRICECIRCLE_NATS_RECONNECT_WAIT" default:"2s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PRICECIRCLE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PRICECIRCLE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PRICECIRCLE_JWT_EXPIRATION_MINUTES" default:"60"`
	Audience          string `envconfig:"PRICECIRCLE_JWT_AUDIENCE"`
	LeewaySeconds     int    `envconfig:"PRICECIRCLE_JWT_LEEWAY_SECONDS" default:"30"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"PRICECIRCLE_CORS_ALLOWED_ORIGINS" default:"*"`
	MaxAgeSeconds  int      `envconfig:"PRICECIRCLE_CORS_MAX_AGE" default:"300"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PRICECIRCLE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PRICECIRCLE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"PRICECIRCLE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

// DiscussionConfig controls the live message fan-out.
type DiscussionConfig struct {
	Broker            string        `envconfig:"PRICECIRCLE_DISCUSSION_BROKER" default:"memory"`
	SubscriberBuffer  int           `envconfig:"PRICECIRCLE_DISCUSSION_SUBSCRIBER_BUFFER" default:"64"`
	MaxMessageLength  int           `envconfig:"PRICECIRCLE_DISCUSSION_MAX_MESSAGE_LENGTH" default:"4000"`
	StreamHeartbeat   time.Duration `envconfig:"PRICECIRCLE_DISCUSSION_STREAM_HEARTBEAT" default:"25s"`
	PublishTimeout    time.Duration `envconfig:"PRICECIRCLE_DISCUSSION_PUBLISH_TIMEOUT" default:"2s"`
	ChannelNamePrefix string        `envconfig:"PRICECIRCLE_DISCUSSION_CHANNEL_PREFIX" default:"discussion"`
}

func (d DiscussionConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(d.Broker)) {
	case BrokerMemory, BrokerRedis, BrokerNATS:
		return nil
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvDiscussionBroker, BrokerMemory, BrokerRedis, BrokerNATS)
	}
}

// BrokerKind returns the normalized broker selection.
func (d DiscussionConfig) BrokerKind() string {
	return strings.ToLower(strings.TrimSpace(d.Broker))
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PRICECIRCLE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PRICECIRCLE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PRICECIRCLE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	ProposalTopic            string `envconfig:"PRICECIRCLE_PUBSUB_PROPOSAL_TOPIC" default:"pc-proposal-events"`
	NotificationSubscription string `envconfig:"PRICECIRCLE_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"pc-proposal-notifications"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PRICECIRCLE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PRICECIRCLE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PRICECIRCLE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite || db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
