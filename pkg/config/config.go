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
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Billing      BillingConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"WAYFARER_APP_ENV" required:"true"`
	Port         string `envconfig:"WAYFARER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"WAYFARER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"WAYFARER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"WAYFARER_DB_DSN"`
	Driver string `envconfig:"WAYFARER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"WAYFARER_DB_HOST"`
	LegacyPort     int    `envconfig:"WAYFARER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"WAYFARER_DB_USER"`
	LegacyPassword string `envconfig:"WAYFARER_DB_PASSWORD"`
	LegacyName     string `envconfig:"WAYFARER_DB_NAME"`
	LegacySSLMode  string `envconfig:"WAYFARER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"WAYFARER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"WAYFARER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"WAYFARER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"WAYFARER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"WAYFARER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"WAYFARER_REDIS_ADDR"`
	Password     string        `envconfig:"WAYFARER_REDIS_PASSWORD"`
	DB           int           `envconfig:"WAYFARER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"WAYFARER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"WAYFARER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"WAYFARER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"WAYFARER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"WAYFARER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies access tokens minted by the external identity provider.
type JWTConfig struct {
	Secret string `envconfig:"WAYFARER_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"WAYFARER_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"WAYFARER_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"WAYFARER_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey             string        `envconfig:"WAYFARER_STRIPE_API_KEY"`
	Secret             string        `envconfig:"WAYFARER_STRIPE_SECRET"`
	Env                string        `envconfig:"WAYFARER_STRIPE_ENV" default:"test"`
	CallTimeout        time.Duration `envconfig:"WAYFARER_STRIPE_CALL_TIMEOUT" default:"15s"`
	PortalReturnURL    string        `envconfig:"WAYFARER_STRIPE_PORTAL_RETURN_URL"`
	CheckoutSuccessURL string        `envconfig:"WAYFARER_STRIPE_CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL  string        `envconfig:"WAYFARER_STRIPE_CHECKOUT_CANCEL_URL"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type GCPConfig struct {
	ProjectID              string `envconfig:"WAYFARER_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"WAYFARER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"WAYFARER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"WAYFARER_PUBSUB_NOTIFICATION_TOPIC" default:"wf-billing-notices"`
	NotificationSubscription string `envconfig:"WAYFARER_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type BillingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"WAYFARER_BILLING_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
	// DowngradeBoundarySlack tolerates clock skew between the invoice period
	// start reported by the processor and the locally recorded period end.
	DowngradeBoundarySlack time.Duration `envconfig:"WAYFARER_BILLING_DOWNGRADE_BOUNDARY_SLACK" default:"1h"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"WAYFARER_CRON_INTERVAL" default:"1h"`
	ReconcileLimit    int           `envconfig:"WAYFARER_CRON_RECONCILE_LIMIT" default:"250"`
	ReconcileLookback time.Duration `envconfig:"WAYFARER_CRON_RECONCILE_LOOKBACK" default:"168h"`
	LockTTL           time.Duration `envconfig:"WAYFARER_CRON_LOCK_TTL" default:"30m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
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
