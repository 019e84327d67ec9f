package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"fxcandles/internal/model"
)

// Config holds all application configuration loaded from environment variables.
// It is built once in main and passed by reference into the components that
// need it; there is no module-level configuration state.
type Config struct {
	// Tick stream
	StreamURL    string
	StreamAPIKey string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	MetricsAddr   string
	APIAddr       string

	// Currency pairs: "EURUSD:100000,USDJPY:1000,XAGUSD:"
	// An empty contract size excludes the pair from subscription,
	// aggregation and repopulation.
	Pairs string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		StreamURL:    mustEnv("STREAM_URL"),
		StreamAPIKey: getEnv("STREAM_API_KEY", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ":8080"),

		Pairs: getEnv("PAIRS", "EURUSD:100000,GBPUSD:100000,USDJPY:100000"),
	}
}

// ParsePairs parses the Pairs string into pair descriptors. Entries without a
// contract size are kept (so exclusions are visible in logs) but flagged.
func (c *Config) ParsePairs() []model.CurrencyPairInfo {
	parts := strings.Split(c.Pairs, ",")
	pairs := make([]model.CurrencyPairInfo, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		symbol, size, hasColon := strings.Cut(p, ":")
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			log.Printf("[config] skipping pair entry with empty symbol: %q", p)
			continue
		}

		info := model.CurrencyPairInfo{Symbol: symbol}
		if hasColon && strings.TrimSpace(size) != "" {
			cs, err := strconv.ParseFloat(strings.TrimSpace(size), 64)
			if err != nil || cs <= 0 {
				log.Printf("[config] invalid contract size for %s: %q", symbol, size)
			} else {
				info.ContractSize = cs
				info.HasContract = true
			}
		}
		pairs = append(pairs, info)
	}
	return pairs
}

// SubscribedPairs returns only the pairs with a present contract size.
func (c *Config) SubscribedPairs() []model.CurrencyPairInfo {
	var out []model.CurrencyPairInfo
	for _, p := range c.ParsePairs() {
		if p.HasContract {
			out = append(out, p)
		}
	}
	return out
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
