package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env                string
	HTTPAddr           string
	StoreMode          string
	MongoURI           string
	MongoDB            string
	RedisAddr          string
	RecentCacheSize    int
	KafkaBrokers       []string
	KafkaTopicPrefix   string
	OutboxPollInterval time.Duration
	RetryBackoff       []time.Duration
	S3Endpoint         string
	S3PublicEndpoint   string
	S3AccessKey        string
	S3SecretKey        string
	S3Bucket           string
	S3UseSSL           bool
	TranslateURL       string
	SpeechURL          string
	ProviderTimeout    time.Duration
	SessionSweep       time.Duration
	SessionStaleAfter  time.Duration
	WSRateLimit        float64
	WSRateBurst        int
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:              getEnv("APP_ENV", "dev"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		StoreMode:        strings.ToLower(getEnv("STORE_MODE", "memory")),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnv("MONGO_DB", "bizlink"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", ""),
		TranslateURL:     getEnv("TRANSLATE_URL", "http://localhost:8100/translate"),
		SpeechURL:        getEnv("SPEECH_URL", "http://localhost:8200"),
		S3Endpoint:       getEnv("S3_ENDPOINT", "http://localhost:9000"),
		S3PublicEndpoint: getEnv("S3_PUBLIC_ENDPOINT", ""),
		S3AccessKey:      getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:      getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:         getEnv("S3_BUCKET", "bizlink-voice"),
	}
	brokers := getEnv("KAFKA_BROKERS", "")
	if brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	poll, err := parseDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	cfg.OutboxPollInterval = poll

	providerTimeout, err := parseDurationEnv("PROVIDER_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.ProviderTimeout = providerTimeout

	sweep, err := parseDurationEnv("SESSION_SWEEP_INTERVAL", 60*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionSweep = sweep

	stale, err := parseDurationEnv("SESSION_STALE_AFTER", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionStaleAfter = stale

	cacheSize, err := parseIntEnv("RECENT_CACHE_SIZE", 50)
	if err != nil {
		return Config{}, err
	}
	cfg.RecentCacheSize = cacheSize

	rateLimit, err := parseIntEnv("WS_RATE_LIMIT", 25)
	if err != nil {
		return Config{}, err
	}
	cfg.WSRateLimit = float64(rateLimit)

	rateBurst, err := parseIntEnv("WS_RATE_BURST", 50)
	if err != nil {
		return Config{}, err
	}
	cfg.WSRateBurst = rateBurst

	retryStr := getEnv("RETRY_BACKOFF", "1s,5s,30s")
	for _, raw := range strings.Split(retryStr, ",") {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RETRY_BACKOFF component %q: %w", raw, err)
		}
		cfg.RetryBackoff = append(cfg.RetryBackoff, d)
	}
	useSSL, err := parseBoolEnv("S3_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg.S3UseSSL = useSSL
	if cfg.S3PublicEndpoint == "" {
		cfg.S3PublicEndpoint = cfg.S3Endpoint
	}

	if cfg.StoreMode != "memory" && cfg.StoreMode != "mongo" {
		return Config{}, fmt.Errorf("invalid STORE_MODE %q: want memory or mongo", cfg.StoreMode)
	}
	if cfg.StoreMode == "mongo" && cfg.MongoURI == "" {
		return Config{}, fmt.Errorf("MONGO_URI is required when STORE_MODE=mongo")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(raw), "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid %s integer: %q", key, raw)
	}
	return n, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}
