package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// MarketDefaults seeds a freshly created market (spec §6.2 CreateMarket)
// when the devnet harness is not given explicit overrides.
type MarketDefaults struct {
	InitialBlocks        uint32
	InitialMarginBps      uint64
	MaintenanceMarginBps  uint64
	LiquidationBufferBps  uint64
	TakerFeeBps           uint64
	BaseDecimals          uint8
	QuoteDecimals         uint8
}

// Harness holds settings for the standalone devnet driver (cmd/enginectl):
// where it logs to, what address it serves reads on, and where it snapshots
// the buffer between restarts. None of this is read by the core engine.
type Harness struct {
	LogFile      string
	APIAddr      string
	SnapshotPath string
}

type Config struct {
	Market  MarketDefaults
	Harness Harness
}

func Default() Config {
	return Config{
		Market: MarketDefaults{
			InitialBlocks:        1024,
			InitialMarginBps:     1000, // 10% => 10x max leverage
			MaintenanceMarginBps: 500,  // 5%
			LiquidationBufferBps: 200,  // 2%
			TakerFeeBps:          10,   // 0.10%
			BaseDecimals:         9,
			QuoteDecimals:        6,
		},
		Harness: Harness{
			LogFile:      "data/engine.log",
			APIAddr:      ":8080",
			SnapshotPath: "data/market.snapshot",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("MARKET_INITIAL_BLOCKS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Market.InitialBlocks = uint32(n)
		}
	}
	if v := os.Getenv("MARKET_INITIAL_MARGIN_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Market.InitialMarginBps = n
		}
	}
	if v := os.Getenv("MARKET_MAINTENANCE_MARGIN_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Market.MaintenanceMarginBps = n
		}
	}
	if v := os.Getenv("MARKET_LIQUIDATION_BUFFER_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Market.LiquidationBufferBps = n
		}
	}
	if v := os.Getenv("MARKET_TAKER_FEE_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Market.TakerFeeBps = n
		}
	}

	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Harness.LogFile = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Harness.APIAddr = v
	}
	if v := os.Getenv("SNAPSHOT_PATH"); v != "" {
		cfg.Harness.SnapshotPath = v
	}

	return cfg
}
