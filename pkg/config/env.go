package config

// EnvPrefix is handed to envconfig; every field carries its full variable name.
const EnvPrefix = "PRICECIRCLE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
	BrokerNATS   = "nats"
)

const (
	EnvAppEnv           = "PRICECIRCLE_APP_ENV"
	EnvPort             = "PRICECIRCLE_APP_PORT"
	EnvDBDSN            = "PRICECIRCLE_DB_DSN"
	EnvDBHost           = "PRICECIRCLE_DB_HOST"
	EnvDBUser           = "PRICECIRCLE_DB_USER"
	EnvDBName           = "PRICECIRCLE_DB_NAME"
	EnvUseSQLite        = "PRICECIRCLE_USE_SQLITE"
	EnvRedisURL         = "PRICECIRCLE_REDIS_URL"
	EnvNATSURL          = "PRICECIRCLE_NATS_URL"
	EnvJWTSecret        = "PRICECIRCLE_JWT_SECRET"
	EnvJWTIssuer        = "PRICECIRCLE_JWT_ISSUER"
	EnvDiscussionBroker = "PRICECIRCLE_DISCUSSION_BROKER"
	EnvGCPProjectID     = "PRICECIRCLE_GCP_PROJECT_ID"
	EnvProposalTopic    = "PRICECIRCLE_PUBSUB_PROPOSAL_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
