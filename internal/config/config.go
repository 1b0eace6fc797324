// README: Config loader with env defaults for HTTP, store, integrations and matching settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type MatchingConfig struct {
	// TickSeconds is the re-match scheduler period; 0 disables it.
	TickSeconds int
	// BatchSize caps how many pending bookings one tick retries.
	BatchSize int
}

type FareConfig struct {
	Base    float64
	PerKm   float64
	BaseKm  float64
	Minimum float64
}

type Config struct {
	HTTP struct {
		Addr            string
		ShutdownTimeout time.Duration
		AuthDisabled    bool
	}
	Log struct {
		Level  string
		Format string
	}
	// Location defines "today" for contributions and daily stats.
	Location *time.Location
	Store    struct {
		Backend string
	}
	Firebase struct {
		ProjectID       string
		CredentialsFile string
		DatabaseURL     string
		ResyncInterval  time.Duration
		FCMEnabled      bool
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr     string
		Password string
		RFIDTTL  time.Duration
	}
	Kafka struct {
		Brokers []string
		Topic   string
	}
	AMQP struct {
		URL      string
		Exchange string
	}
	Maps struct {
		APIKey string
	}
	Matching MatchingConfig
	Fare     FareConfig
}

func Load() (Config, error) {
	var cfg Config
	var errs []error

	cfg.HTTP.Addr = envOrDefault("TODA_HTTP_ADDR", ":8080")
	cfg.HTTP.ShutdownTimeout = envOrDefaultDuration("TODA_HTTP_SHUTDOWN_TIMEOUT", 15*time.Second, &errs)
	cfg.HTTP.AuthDisabled = envBool("TODA_AUTH_DISABLED")

	cfg.Log.Level = envOrDefault("TODA_LOG_LEVEL", "info")
	cfg.Log.Format = envOrDefault("TODA_LOG_FORMAT", "json")

	tz := envOrDefault("TODA_TIMEZONE", "Asia/Manila")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid TODA_TIMEZONE: %w", err))
		loc = time.Local
	}
	cfg.Location = loc

	cfg.Store.Backend = strings.ToLower(envOrDefault("TODA_STORE", "memory"))
	cfg.Firebase.ProjectID = os.Getenv("TODA_FIREBASE_PROJECT_ID")
	cfg.Firebase.CredentialsFile = os.Getenv("TODA_FIREBASE_CREDENTIALS")
	cfg.Firebase.DatabaseURL = os.Getenv("TODA_FIREBASE_DATABASE_URL")
	cfg.Firebase.ResyncInterval = envOrDefaultDuration("TODA_FIREBASE_POLL", 2*time.Second, &errs)
	cfg.Firebase.FCMEnabled = envBool("TODA_FCM_ENABLED")

	cfg.DB.DSN = os.Getenv("TODA_DB_DSN")

	cfg.Redis.Addr = os.Getenv("TODA_REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("TODA_REDIS_PASSWORD")
	cfg.Redis.RFIDTTL = envOrDefaultDuration("TODA_RFID_CACHE_TTL", 10*time.Minute, &errs)

	if brokers := os.Getenv("TODA_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitAndTrim(brokers)
	}
	cfg.Kafka.Topic = envOrDefault("TODA_KAFKA_TOPIC", "toda.booking-events")

	cfg.AMQP.URL = os.Getenv("TODA_AMQP_URL")
	cfg.AMQP.Exchange = envOrDefault("TODA_AMQP_EXCHANGE", "toda.events")

	cfg.Maps.APIKey = os.Getenv("TODA_MAPS_API_KEY")

	cfg.Matching.TickSeconds = envOrDefaultInt("TODA_MATCH_TICK", 5, &errs)
	cfg.Matching.BatchSize = envOrDefaultInt("TODA_MATCH_BATCH", 10, &errs)

	cfg.Fare.Base = envOrDefaultFloat("TODA_FARE_BASE", 20, &errs)
	cfg.Fare.PerKm = envOrDefaultFloat("TODA_FARE_PER_KM", 5, &errs)
	cfg.Fare.BaseKm = envOrDefaultFloat("TODA_FARE_BASE_KM", 1, &errs)
	cfg.Fare.Minimum = envOrDefaultFloat("TODA_FARE_MINIMUM", 20, &errs)

	switch cfg.Store.Backend {
	case "memory":
	case "firebase":
		if cfg.Firebase.DatabaseURL == "" {
			errs = append(errs, errors.New("TODA_FIREBASE_DATABASE_URL is required for the firebase store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TODA_STORE %q", cfg.Store.Backend))
	}
	if cfg.Matching.TickSeconds < 0 {
		errs = append(errs, errors.New("TODA_MATCH_TICK must be >= 0"))
	}
	if cfg.Matching.BatchSize <= 0 {
		errs = append(errs, errors.New("TODA_MATCH_BATCH must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return b
}

func envOrDefaultInt(key string, def int, errs *[]error) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return def
		}
		return n
	}
	return def
}

func envOrDefaultFloat(key string, def float64, errs *[]error) float64 {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return def
		}
		return n
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration, errs *[]error) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return def
		}
		return d
	}
	return def
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
