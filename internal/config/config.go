package config

import (
	"time"
	_ "time/tzdata"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/courier-dispatch/internal/queue"
	"github.com/nimasrn/courier-dispatch/pkg/logger"
	"github.com/nimasrn/courier-dispatch/pkg/pg"
	"github.com/nimasrn/courier-dispatch/pkg/redis"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every configuration value of the courier services. Only
// this struct is used to read configuration; nothing else touches the
// environment directly.
type Config struct {
	AppEnv              string `env:"APP_ENV,default=dev"`
	AppName             string `env:"APP_NAME,default=courier_dispatch"`
	AppDebug            bool   `env:"APP_DEBUG,default=false"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR,default=:9100"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI,default=/metrics"`
	AppBaseUrl          string `env:"APP_BASE_URL,default=http://localhost:8080/files"`

	HttpListenAddr         string        `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpServerReadTimeout  time.Duration `env:"HTTP_SERVER_READ_TIMEOUT,default=5s"`
	HttpServerWriteTimeout time.Duration `env:"HTTP_SERVER_WRITE_TIMEOUT,default=5s"`
	HttpRequestTimeout     time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=10s"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST,default=localhost"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT,default=5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST,default=localhost"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT,default=5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	MigrationsDir string `env:"MIGRATIONS_DIR,default=migrations"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE,default=0"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE,default=courier"`

	QueueName          string        `env:"QUEUE_NAME,default=notifications"`
	QueueConsumerGroup string        `env:"QUEUE_CONSUMER_GROUP,default=notification-workers"`
	QueueConsumerName  string        `env:"QUEUE_CONSUMER_NAME,default=worker"`
	QueueMaxRetries    int           `env:"QUEUE_MAX_RETRIES,default=5"`
	QueueBaseBackoff   time.Duration `env:"QUEUE_BASE_BACKOFF,default=2s"`
	QueueMaxBackoff    time.Duration `env:"QUEUE_MAX_BACKOFF,default=5m"`
	QueuePollInterval  time.Duration `env:"QUEUE_POLL_INTERVAL,default=500ms"`
	QueueBatchSize     int64         `env:"QUEUE_BATCH_SIZE,default=10"`

	BusinessHoursStart string `env:"BUSINESS_HOURS_START,default=08:00"`
	BusinessHoursEnd   string `env:"BUSINESS_HOURS_END,default=18:00"`
	DeliveryQuotaLimit int64  `env:"DELIVERY_QUOTA_LIMIT,default=5"`
	RequestTimezone    string `env:"REQUEST_TIMEZONE,default=America/Sao_Paulo"`

	MailRelayPrimaryUrl   string        `env:"MAIL_RELAY_PRIMARY_URL,default=http://localhost:8025"`
	MailRelaySecondaryUrl string        `env:"MAIL_RELAY_SECONDARY_URL"`
	MailRelayTimeout      time.Duration `env:"MAIL_RELAY_TIMEOUT,default=5s"`
	MailFrom              string        `env:"MAIL_FROM,default=Courier <noreply@courier.local>"`
	NotifyTimezone        string        `env:"NOTIFY_TIMEZONE,default=America/Sao_Paulo"`

	WorkerPoolSize  int `env:"WORKER_POOL_SIZE,default=20"`
	WorkerConsumers int `env:"WORKER_CONSUMERS,default=2"`

	StatsSchedule string `env:"STATS_SCHEDULE,default=@every 30s"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		if err := godotenv.Load(path); err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	config = c
	return nil
}

// Set installs c as the global configuration. Used by tests and tools
// that build the configuration in code.
func Set(c *Config) {
	config = c
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

func (c *Config) PostgresRead() pg.Config {
	return pg.Config{
		Host:     c.PostgresReadHost,
		Port:     c.PostgresReadPort,
		User:     c.PostgresReadUser,
		Password: c.PostgresReadPassword,
		Database: c.PostgresReadDatabase,
	}
}

func (c *Config) PostgresWrite() pg.Config {
	return pg.Config{
		Host:     c.PostgresWriteHost,
		Port:     c.PostgresWritePort,
		User:     c.PostgresWriteUser,
		Password: c.PostgresWritePassword,
		Database: c.PostgresWriteDatabase,
	}
}

// NotifyLocation is the zone notification dates are rendered in. Payload
// dates carry the API process's offset, so without it a UTC container mails
// UTC wall clocks. An empty name gives nil, which keeps that offset.
func (c *Config) NotifyLocation() (*time.Location, error) {
	return loadLocation("NOTIFY_TIMEZONE", c.NotifyTimezone)
}

// RequestLocation is the zone request dates without an offset are read in.
// Empty means the process's local zone.
func (c *Config) RequestLocation() (*time.Location, error) {
	return loadLocation("REQUEST_TIMEZONE", c.RequestTimezone)
}

func loadLocation(key, name string) (*time.Location, error) {
	if name == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s %q", key, name)
	}
	return loc, nil
}

func (c *Config) Queue() queue.QueueConfig {
	return queue.QueueConfig{
		Name:          c.QueueName,
		ConsumerGroup: c.QueueConsumerGroup,
		ConsumerName:  c.QueueConsumerName,
		MaxRetries:    int64(c.QueueMaxRetries),
		BaseBackoff:   c.QueueBaseBackoff,
		MaxBackoff:    c.QueueMaxBackoff,
		PollInterval:  c.QueuePollInterval,
		BatchSize:     c.QueueBatchSize,
	}
}

func (c *Config) Redis() *redis.Options {
	return &redis.Options{
		Addrs:      []string{c.RedisAddr},
		ClientName: c.AppName,
		DB:         c.RedisDatabase,
		Username:   c.RedisUsername,
		Password:   c.RedisPassword,
	}
}
