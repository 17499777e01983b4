package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Storage struct {
	DataDir          string
	BalanceCacheSize int
}

type Engine struct {
	MinOrderAmount   int64
	MaxOrderAmount   int64
	MaxFillsPerOrder int
	TakerFeeBps      int64
	// LockTimeout bounds how long a request waits for a busy market before
	// it fails with a concurrency conflict.
	LockTimeout time.Duration
}

type API struct {
	Addr           string
	AllowedOrigins []string
}

type Events struct {
	Buffer       int
	KafkaBrokers []string // empty disables the Kafka sink
	KafkaTopic   string
}

// Loadgen feeds synthetic orders into the engine (devnet only)
type Loadgen struct {
	Enabled bool
	Mode    string // "default" or "high"
}

type Log struct {
	File  string
	Level string
}

type Config struct {
	Storage     Storage
	Engine      Engine
	API         API
	Events      Events
	Log         Log
	Loadgen     Loadgen
	MarketsFile string
}

func Default() Config {
	return Config{
		Storage: Storage{
			DataDir:          "data/predikt",
			BalanceCacheSize: 10000,
		},
		Engine: Engine{
			MinOrderAmount:   100,
			MaxOrderAmount:   100_000_000,
			MaxFillsPerOrder: 50,
			TakerFeeBps:      0,
			LockTimeout:      5 * time.Second,
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Events: Events{
			Buffer:     4096,
			KafkaTopic: "predikt.trades",
		},
		Log: Log{
			File:  "data/node.log",
			Level: "info",
		},
		Loadgen: Loadgen{
			Mode: "default",
		},
		MarketsFile: "markets.yaml",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)
	cfg.MarketsFile = getEnv("MARKETS_FILE", cfg.MarketsFile)
	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Events.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Events.KafkaTopic)

	// Enable with: ENABLE_LOADGEN=true LOADGEN_MODE=default|high
	if enabled := os.Getenv("ENABLE_LOADGEN"); enabled != "" {
		cfg.Loadgen.Enabled = enabled == "true"
	}
	cfg.Loadgen.Mode = getEnv("LOADGEN_MODE", cfg.Loadgen.Mode)

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = splitList(origins)
	}
	// Example: "kafka-1:9092,kafka-2:9092"
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Events.KafkaBrokers = splitList(brokers)
	}

	if v, ok := getInt64("MIN_ORDER_AMOUNT"); ok {
		cfg.Engine.MinOrderAmount = v
	}
	if v, ok := getInt64("MAX_ORDER_AMOUNT"); ok {
		cfg.Engine.MaxOrderAmount = v
	}
	if v, ok := getInt64("MAX_FILLS_PER_ORDER"); ok {
		cfg.Engine.MaxFillsPerOrder = int(v)
	}
	if v, ok := getInt64("TAKER_FEE_BPS"); ok {
		cfg.Engine.TakerFeeBps = v
	}
	if ms, ok := getInt64("MARKET_LOCK_TIMEOUT_MS"); ok {
		cfg.Engine.LockTimeout = time.Duration(ms) * time.Millisecond
	}
	if v, ok := getInt64("BALANCE_CACHE_SIZE"); ok {
		cfg.Storage.BalanceCacheSize = int(v)
	}
	if v, ok := getInt64("EVENT_BUFFER"); ok {
		cfg.Events.Buffer = int(v)
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt64 ignores unset and malformed values so the default stays in place
func getInt64(key string) (int64, bool) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
