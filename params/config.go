package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/uhyunpark/dexgate/pkg/errs"
)

type Server struct {
	Port    int
	LogFile string
}

type Chain struct {
	Node string
	// TxTimeout bounds the wait for a submitted transaction to reach a block.
	// Zero waits indefinitely.
	TxTimeout time.Duration
}

type Indexer struct {
	Endpoint string
	// LookbackBlocks is how many recent blocks each trade poll asks for.
	// The block cadence must never outrun this window or trades are lost.
	LookbackBlocks uint64
	Timeout        time.Duration
}

type Gateway struct {
	Tokens []string
	// ActionRateLimit caps inbound messages per second per connection (0 = off).
	ActionRateLimit float64
}

type Signer struct {
	SeedPhrase string
}

type Storage struct {
	// JournalPath is the pebble directory for transaction outcomes; empty keeps
	// the journal in memory.
	JournalPath string
}

type Config struct {
	Server  Server
	Chain   Chain
	Indexer Indexer
	Gateway Gateway
	Signer  Signer
	Storage Storage

	// Warnings lists settings that fell back to defaults.
	Warnings []string
}

func Default() Config {
	return Config{
		Server: Server{
			Port:    9000,
			LogFile: "data/gateway.log",
		},
		Chain: Chain{
			Node: "wss://devnet.genshiro.io",
		},
		Indexer: Indexer{
			Endpoint:       "https://apiv3.equilibrium.io/api",
			LookbackBlocks: 5,
			Timeout:        10 * time.Second,
		},
		Gateway: Gateway{
			Tokens: []string{"WBTC", "ETH"},
		},
		Storage: Storage{
			JournalPath: "data/journal",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	warn := func(key string, fallback any) {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("env var %s not found, using default %v", key, fallback))
	}

	if port := getEnv("PORT", ""); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			cfg.Server.Port = n
		} else {
			warn("PORT", cfg.Server.Port)
		}
	} else {
		warn("PORT", cfg.Server.Port)
	}

	cfg.Signer.SeedPhrase = strings.TrimSpace(getEnv("SEED_PHRASE", ""))
	if cfg.Signer.SeedPhrase == "" {
		cfg.Warnings = append(cfg.Warnings, "env var SEED_PHRASE not found, orders cannot be managed")
	}

	if node := getEnv("CHAIN_NODE", ""); node != "" {
		cfg.Chain.Node = node
	} else {
		warn("CHAIN_NODE", cfg.Chain.Node)
	}

	if endpoint := getEnv("API_ENDPOINT", ""); endpoint != "" {
		cfg.Indexer.Endpoint = strings.TrimRight(endpoint, "/")
	} else {
		warn("API_ENDPOINT", cfg.Indexer.Endpoint)
	}

	if blocks := getEnv("PREV_BLOCKS_COUNT", ""); blocks != "" {
		if n, err := strconv.ParseUint(blocks, 10, 64); err == nil {
			cfg.Indexer.LookbackBlocks = n
		} else {
			warn("PREV_BLOCKS_COUNT", cfg.Indexer.LookbackBlocks)
		}
	} else {
		warn("PREV_BLOCKS_COUNT", cfg.Indexer.LookbackBlocks)
	}

	if tokens := getEnv("AVAILABLE_TOKENS", ""); tokens != "" {
		var list []string
		for _, t := range strings.Split(tokens, ",") {
			if t = strings.TrimSpace(t); t != "" {
				list = append(list, t)
			}
		}
		if len(list) > 0 {
			cfg.Gateway.Tokens = list
		}
	}

	if ms := getEnv("TX_TIMEOUT_MS", ""); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil && n >= 0 {
			cfg.Chain.TxTimeout = time.Duration(n) * time.Millisecond
		}
	}

	if ms := getEnv("INDEXER_TIMEOUT_MS", ""); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil && n > 0 {
			cfg.Indexer.Timeout = time.Duration(n) * time.Millisecond
		}
	}

	if limit := getEnv("ACTION_RATE_LIMIT", ""); limit != "" {
		if f, err := strconv.ParseFloat(limit, 64); err == nil && f >= 0 {
			cfg.Gateway.ActionRateLimit = f
		}
	}

	if path, ok := os.LookupEnv("JOURNAL_PATH"); ok {
		cfg.Storage.JournalPath = strings.TrimSpace(path)
	}

	if logFile := getEnv("LOG_FILE", ""); logFile != "" {
		cfg.Server.LogFile = logFile
	}

	return cfg
}

// Validate reports settings the gateway cannot run without.
func (c Config) Validate() error {
	words := strings.Fields(c.Signer.SeedPhrase)
	if len(words) != 12 {
		return errs.New("params", errs.CodeStartup,
			errs.WithMessage("no valid seed phrase found, expected 12 words"))
	}
	if c.Chain.Node == "" {
		return errs.New("params", errs.CodeStartup, errs.WithMessage("chain node endpoint is empty"))
	}
	if c.Indexer.Endpoint == "" {
		return errs.New("params", errs.CodeStartup, errs.WithMessage("indexer endpoint is empty"))
	}
	if len(c.Gateway.Tokens) == 0 {
		return errs.New("params", errs.CodeStartup, errs.WithMessage("no tokens configured"))
	}
	return nil
}

// ListenAddr is the address the websocket server binds to.
func (c Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
