package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures all tunable parameters for the tracking process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type Config struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	KafkaBrokers          []string
	KafkaGroupID          string
	DeliveryRequestsTopic string
	PaymentEventsTopic    string
	UserTopicPartitions   int
	UserTopicRetention    time.Duration

	ConnectBaseDelay   time.Duration
	ConnectMaxDelay    time.Duration
	ConnectMaxAttempts int
	ReconnectCooldown  time.Duration

	MongoURI string
	MongoDB  string

	PGDSN string

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	MatchRadiusKm      float64
	NotifyDedupeWindow time.Duration

	LogLevel string
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,

		KafkaGroupID:          "trip-tracking",
		DeliveryRequestsTopic: "delivery-requests",
		PaymentEventsTopic:    "payment-events",
		UserTopicPartitions:   2,
		UserTopicRetention:    24 * time.Hour,

		ConnectBaseDelay:   300 * time.Millisecond,
		ConnectMaxDelay:    30 * time.Second,
		ConnectMaxAttempts: 8,
		ReconnectCooldown:  45 * time.Second,

		MongoDB:     "commune_drop",
		RedisGeoKey: "drivers_geo",

		MatchRadiusKm:      10,
		NotifyDedupeWindow: 5 * time.Second,

		LogLevel: "info",
	}
}

func Load() (Config, error) {
	cfg := defaultConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaGroupID, "KAFKA_GROUP")
	setStringFromEnv(&cfg.DeliveryRequestsTopic, "DELIVERY_REQUESTS_TOPIC")
	setStringFromEnv(&cfg.PaymentEventsTopic, "PAYMENT_EVENTS_TOPIC")
	setIntFromEnv(&cfg.UserTopicPartitions, "USER_TOPIC_PARTITIONS", &errs)
	setDurationFromEnv(&cfg.UserTopicRetention, "USER_TOPIC_RETENTION", &errs)

	setDurationFromEnv(&cfg.ConnectBaseDelay, "KAFKA_CONNECT_BASE_DELAY", &errs)
	setDurationFromEnv(&cfg.ConnectMaxDelay, "KAFKA_CONNECT_MAX_DELAY", &errs)
	setIntFromEnv(&cfg.ConnectMaxAttempts, "KAFKA_CONNECT_MAX_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.ReconnectCooldown, "KAFKA_RECONNECT_COOLDOWN", &errs)

	cfg.MongoURI = strings.TrimSpace(os.Getenv("MONGO_URI"))
	setStringFromEnv(&cfg.MongoDB, "MONGO_DB")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	setFloatFromEnv(&cfg.MatchRadiusKm, "MATCH_RADIUS_KM", &errs)
	setDurationFromEnv(&cfg.NotifyDedupeWindow, "NOTIFY_DEDUPE_WINDOW", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.MatchRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_RADIUS_KM must be > 0"))
	}
	if cfg.ConnectMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("KAFKA_CONNECT_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.UserTopicPartitions <= 0 {
		errs = append(errs, fmt.Errorf("USER_TOPIC_PARTITIONS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// BrokerEnabled reports whether a Kafka cluster is configured at all. Without
// one the process runs live-session-only.
func (c Config) BrokerEnabled() bool { return len(c.KafkaBrokers) > 0 }

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

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
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
