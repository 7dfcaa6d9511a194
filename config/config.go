// Package config loads the process configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dogmatiq/vista/eventstream"
	"github.com/spf13/viper"
)

// DefaultEnvFile is the environment file read when the real environment is
// not used.
const DefaultEnvFile = ".env"

// Config is the configuration shared by every consumer role.
//
// It is loaded once at startup and passed by value to the components that
// need it.
type Config struct {
	// EventStoreURI identifies the event log, for example
	// "redis://localhost:6379/0" or "kafka://broker-1:9092,broker-2:9092".
	EventStoreURI string `env:"EVENTSTORE_URI,required,notEmpty"`

	// RedisURI identifies the cache store, for example
	// "redis://localhost:6379/1" or "bolt:///var/lib/vista/cache.db".
	RedisURI string `env:"REDIS_URI,required,notEmpty"`

	// Stream is the name of the stream consumed by every role.
	Stream string `env:"STREAM_NAME" envDefault:"template2"`

	// Group is the consumer group namespace. Each role joins its own group
	// within this namespace.
	Group string `env:"GROUP_NAME" envDefault:"t2"`

	// ConsumerName is the name of this process within each consumer group.
	// If it is empty, the host name is used.
	ConsumerName string `env:"CONSUMER_NAME"`

	// StartFrom is the position at which a newly created group begins.
	StartFrom eventstream.StartPosition `env:"START_FROM" envDefault:"beginning"`

	// ConcurrencyLimit is the maximum number of events applied concurrently
	// by a single process.
	ConcurrencyLimit int `env:"CONCURRENCY_LIMIT" envDefault:"16"`

	// AckTimeout is the time after which an unacknowledged event is
	// redelivered to another member of the group.
	AckTimeout time.Duration `env:"ACK_TIMEOUT" envDefault:"30s"`

	// HandlerTimeout is the maximum time allowed for a single attempt at
	// handling an event.
	HandlerTimeout time.Duration `env:"HANDLER_TIMEOUT" envDefault:"10s"`

	// LockTTL is the time after which an entity lock expires if its holder
	// does not release it. It must exceed HandlerTimeout, otherwise a slow
	// attempt can lose its lock part way through.
	LockTTL time.Duration `env:"LOCK_TTL" envDefault:"30s"`

	// LockTimeout is the maximum time to wait for an entity lock.
	LockTimeout time.Duration `env:"LOCK_TIMEOUT" envDefault:"3s"`

	// EntryTTL is the time after which an idle projection is evicted from the
	// cache. Zero means projections never expire.
	EntryTTL time.Duration `env:"ENTRY_TTL" envDefault:"0s"`

	// GracePeriod is the time allowed for in-flight events to finish during
	// shutdown.
	GracePeriod time.Duration `env:"GRACE_PERIOD" envDefault:"5s"`

	// DelayWindow is the period over which the maximum delay is tracked.
	DelayWindow time.Duration `env:"DELAY_WINDOW" envDefault:"1m"`

	// LogLevel is the minimum level of log messages, such as "info" or
	// "debug".
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Source describes where configuration is read from.
type Source struct {
	// RealEnv uses only the process environment. Otherwise, EnvFile must exist
	// and its values are used for any variable the environment does not set.
	RealEnv bool

	// EnvFile is the path of the environment file. If it is empty,
	// DefaultEnvFile is used.
	EnvFile string

	// Environ is the process environment in "key=value" form. If it is nil,
	// os.Environ() is used.
	Environ []string
}

// Load reads the configuration from src.
func Load(src Source) (Config, error) {
	environ := src.Environ
	if environ == nil {
		environ = os.Environ()
	}

	vars := env.ToMap(environ)

	if !src.RealEnv {
		file, err := readEnvFile(src.EnvFile)
		if err != nil {
			return Config{}, err
		}

		for k, v := range file {
			if _, ok := vars[k]; !ok {
				vars[k] = v
			}
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate returns an error if the configuration is unusable.
func (c Config) Validate() error {
	if c.Stream == "" {
		return fmt.Errorf("STREAM_NAME must not be empty")
	}

	if c.Group == "" {
		return fmt.Errorf("GROUP_NAME must not be empty")
	}

	if c.ConcurrencyLimit <= 0 {
		return fmt.Errorf("CONCURRENCY_LIMIT must be positive, got %d", c.ConcurrencyLimit)
	}

	if c.HandlerTimeout <= 0 {
		return fmt.Errorf("HANDLER_TIMEOUT must be positive, got %s", c.HandlerTimeout)
	}

	if c.LockTTL <= c.HandlerTimeout {
		return fmt.Errorf("LOCK_TTL (%s) must be longer than HANDLER_TIMEOUT (%s)", c.LockTTL, c.HandlerTimeout)
	}

	return nil
}

// readEnvFile returns the variables defined in the environment file at path.
func readEnvFile(path string) (map[string]string, error) {
	if path == "" {
		path = DefaultEnvFile
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("unable to read environment file (use --real-env to read the process environment instead): %w", err)
	}

	vars := map[string]string{}

	// viper normalizes keys to lowercase, whereas environment variables are
	// conventionally uppercase.
	for _, k := range v.AllKeys() {
		vars[strings.ToUpper(k)] = v.GetString(k)
	}

	return vars, nil
}
