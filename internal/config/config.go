package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyadubrovsky/bunnymq/pkg/bunnymq"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidPort    = errors.New("rabbitmq port must be in [1, 65535]")
	ErrInvalidRetries = errors.New("rabbitmq max retries must be positive")
)

type Config struct {
	RabbitMQ RabbitMQ `yaml:"rabbitmq"`
	Log      Log      `yaml:"log"`
	Metrics  Metrics  `yaml:"metrics"`
}

type RabbitMQ struct {
	Host        string        `yaml:"host" env:"RABBIT_HOST" env-default:"localhost" env-description:"broker host"`
	Port        int           `yaml:"port" env:"RABBIT_PORT" env-default:"5672" env-description:"broker port"`
	VirtualHost string        `yaml:"virtual_host" env:"RABBIT_VHOST" env-default:"/" env-description:"broker virtual host"`
	Username    string        `yaml:"username" env:"RABBIT_USERNAME" env-default:"guest"`
	Password    string        `yaml:"password" env:"RABBIT_PASSWORD" env-default:"guest"`
	Heartbeat   time.Duration `yaml:"heartbeat" env:"RABBIT_HEARTBEAT" env-default:"600s" env-description:"AMQP heartbeat interval"`
	MaxRetries  int           `yaml:"max_retries" env:"RABBIT_MAX_RETRIES" env-default:"5" env-description:"attempts per broker operation and per setup"`
	RetryDelay  time.Duration `yaml:"retry_delay" env:"RABBIT_RETRY_DELAY" env-default:"1s" env-description:"pause between setup attempts"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info" env-description:"zerolog level"`
}

type Metrics struct {
	// Addr of the prometheus endpoint, disabled when empty.
	Addr string `yaml:"addr" env:"METRICS_ADDR" env-description:"prometheus listen address"`
}

// New reads the configuration from the YAML file at path, overridden by the
// environment. An empty path reads the environment only.
func New(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cleanenv.Read: %w", err)
	}

	if err = cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Description lists every supported environment variable.
func Description() string {
	help, _ := cleanenv.GetDescription(&Config{}, nil)
	return help
}

func (c *Config) validate() error {
	if c.RabbitMQ.Port < 1 || c.RabbitMQ.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.RabbitMQ.Port)
	}
	if c.RabbitMQ.MaxRetries <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRetries, c.RabbitMQ.MaxRetries)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("zerolog.ParseLevel: %w", err)
	}

	return nil
}

// LogLevel is the parsed Log.Level, valid once New succeeded.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// Options converts the broker settings into client options.
func (r RabbitMQ) Options() []bunnymq.Option {
	return []bunnymq.Option{
		bunnymq.WithHost(r.Host),
		bunnymq.WithPort(r.Port),
		bunnymq.WithVirtualHost(r.VirtualHost),
		bunnymq.WithCredentials(r.Username, r.Password),
		bunnymq.WithHeartbeat(r.Heartbeat),
		bunnymq.WithMaxRetries(r.MaxRetries),
		bunnymq.WithRetryDelay(r.RetryDelay),
	}
}
