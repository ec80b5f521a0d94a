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

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"

	SinkLog   = "log"
	SinkKafka = "kafka"
	SinkAMQP  = "amqp"
	SinkNone  = "none"
)

// EventConfig selects where trip lifecycle events are published.
type EventConfig struct {
	Sink         string
	KafkaBrokers []string
	KafkaTopic   string
	AMQPURL      string
	AMQPExchange string
}

// ServerConfig captures all tunable parameters for the document store
// service. Values are primarily loaded from environment variables with sane
// defaults so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	PublicURL       string

	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string
	PGDSN         string
	RunMigrations bool

	LogLevel string
}

// ClientConfig configures a rider or driver client process.
type ClientConfig struct {
	StoreURL  string
	SessionID string

	MatchInterval   time.Duration
	TrackInterval   time.Duration
	PaymentInterval time.Duration
	CashInterval    time.Duration
	SnoozeCooldown  time.Duration
	MaxAttempts     int

	MetricsAddr string
	Events      EventConfig
	LogLevel    string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		Backend:         BackendMemory,
		RedisPrefix:     "ridesession:doc:",
		LogLevel:        "info",
	}
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		StoreURL:        "http://localhost:8080",
		MatchInterval:   5 * time.Second,
		TrackInterval:   3 * time.Second,
		PaymentInterval: 3 * time.Second,
		CashInterval:    3 * time.Second,
		SnoozeCooldown:  60 * time.Second,
		MaxAttempts:     5,
		Events: EventConfig{
			Sink:         SinkLog,
			KafkaTopic:   "trip-events",
			AMQPExchange: "ride_topic",
		},
		LogLevel: "info",
	}
}

// loadDotEnv reads a local .env if present. A missing file is normal.
func loadDotEnv() {
	_ = godotenv.Load()
}

func LoadServerConfig() (ServerConfig, error) {
	loadDotEnv()
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	setStringFromEnv(&cfg.PublicURL, "PUBLIC_URL")

	if v := os.Getenv("DOCSTORE_BACKEND"); v != "" {
		cfg.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisPrefix, "REDIS_KEY_PREFIX")
	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	switch cfg.Backend {
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis backend"))
		}
	case BackendPostgres:
		if cfg.PGDSN == "" {
			errs = append(errs, errors.New("PG_DSN is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DOCSTORE_BACKEND %q", cfg.Backend))
	}

	return cfg, errors.Join(errs...)
}

func LoadClientConfig() (ClientConfig, error) {
	loadDotEnv()
	cfg := defaultClientConfig()
	var errs []error

	setStringFromEnv(&cfg.StoreURL, "STORE_URL")
	setStringFromEnv(&cfg.SessionID, "SESSION_ID")
	setDurationFromEnv(&cfg.MatchInterval, "MATCH_INTERVAL", &errs)
	setDurationFromEnv(&cfg.TrackInterval, "TRACK_INTERVAL", &errs)
	setDurationFromEnv(&cfg.PaymentInterval, "PAYMENT_INTERVAL", &errs)
	setDurationFromEnv(&cfg.CashInterval, "CASH_INTERVAL", &errs)
	setDurationFromEnv(&cfg.SnoozeCooldown, "SNOOZE_COOLDOWN", &errs)
	setIntFromEnv(&cfg.MaxAttempts, "STORE_MAX_ATTEMPTS", &errs)
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")

	if v := os.Getenv("EVENT_SINK"); v != "" {
		cfg.Events.Sink = strings.ToLower(strings.TrimSpace(v))
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Events.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.Events.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.Events.AMQPURL, "AMQP_URL")
	setStringFromEnv(&cfg.Events.AMQPExchange, "AMQP_EXCHANGE")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	for _, iv := range []struct {
		name string
		d    time.Duration
	}{
		{"MATCH_INTERVAL", cfg.MatchInterval},
		{"TRACK_INTERVAL", cfg.TrackInterval},
		{"PAYMENT_INTERVAL", cfg.PaymentInterval},
		{"CASH_INTERVAL", cfg.CashInterval},
		{"SNOOZE_COOLDOWN", cfg.SnoozeCooldown},
	} {
		if iv.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", iv.name))
		}
	}
	if cfg.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("STORE_MAX_ATTEMPTS must be > 0"))
	}
	switch cfg.Events.Sink {
	case SinkLog, SinkNone:
	case SinkKafka:
		if len(cfg.Events.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka event sink"))
		}
	case SinkAMQP:
		if cfg.Events.AMQPURL == "" {
			errs = append(errs, errors.New("AMQP_URL is required for the amqp event sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EVENT_SINK %q", cfg.Events.Sink))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
