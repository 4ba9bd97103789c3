// Command enginectl is the standalone devnet harness: it owns exactly
// one market's Dispatcher, restores it from the snapshot store on
// startup, serves the read/submit API over it, and periodically cranks
// funding against a static oracle feed. It is not a consensus node —
// spec §1 names "the host blockchain runtime" that actually sequences
// operations as an out-of-scope collaborator, so this binary plays
// that collaborator's role with a single in-process ticker instead of
// the teacher's HotStuff engine.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/valleyfi/perpengine/params"
	"github.com/valleyfi/perpengine/pkg/api"
	"github.com/valleyfi/perpengine/pkg/engine"
	"github.com/valleyfi/perpengine/pkg/oracle"
	"github.com/valleyfi/perpengine/pkg/opauth"
	"github.com/valleyfi/perpengine/pkg/storage"
	"github.com/valleyfi/perpengine/pkg/util"
	"github.com/valleyfi/perpengine/pkg/vault"
)

// devnetMarket is the fixed market identity this harness serves. A
// production deployment would derive one common.Hash per listed
// market; the devnet harness only ever runs one.
var devnetMarket = common.HexToHash("0x1")

// devnetOracleID mirrors devnetMarket: a single static oracle feed id,
// since this harness has no real oracle account layout to read from.
var devnetOracleID = common.HexToHash("0x2")

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Harness.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Harness.LogFile)

	store, err := storage.Open(cfg.Harness.SnapshotPath)
	if err != nil {
		sugar.Fatalw("snapshot_store_open_failed", "err", err)
	}
	defer store.Close()

	mb, found, err := store.Load(devnetMarket)
	if err != nil {
		sugar.Fatalw("snapshot_load_failed", "err", err)
	}
	if !found {
		sugar.Infow("snapshot_absent_creating_market")
		mb, err = engine.CreateMarket(engine.MarketParams{
			BaseMintIndex:        0,
			QuoteMint:            common.HexToHash("0x3"),
			BaseDecimals:         cfg.Market.BaseDecimals,
			QuoteDecimals:        cfg.Market.QuoteDecimals,
			InitialMarginBps:     cfg.Market.InitialMarginBps,
			MaintenanceMarginBps: cfg.Market.MaintenanceMarginBps,
			LiquidationBufferBps: cfg.Market.LiquidationBufferBps,
			TakerFeeBps:          cfg.Market.TakerFeeBps,
			OracleID:             devnetOracleID,
			InitialBlocks:        cfg.Market.InitialBlocks,
		})
		if err != nil {
			sugar.Fatalw("market_create_failed", "err", err)
		}
	} else {
		sugar.Infow("snapshot_loaded", "market", devnetMarket.Hex())
	}

	oracleReader := oracle.NewClampedReader(oracle.StaticReader{Quote: oracle.Quote{
		Mantissa:  mb.OraclePriceMantissa,
		Exponent:  mb.OraclePriceExponent,
		Status:    oracle.StatusTrading,
		Timestamp: time.Now().Unix(),
	}})
	tv := vault.NewMemVault()
	verifier := opauth.NewVerifier(opauth.DefaultDomain())

	disp := engine.NewDispatcher(mb, oracleReader, tv, verifier, sugar)

	apiServer := api.NewServer(devnetMarket, disp, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Harness.APIAddr)
		if err := apiServer.Start(cfg.Harness.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	fundingTicker := time.NewTicker(engine.FundingPeriodSeconds * time.Second)
	defer fundingTicker.Stop()

	snapshotTicker := time.NewTicker(30 * time.Second)
	defer snapshotTicker.Stop()

	sugar.Infow("enginectl_starting", "market", devnetMarket.Hex())

	for {
		select {
		case <-ctx.Done():
			if err := store.Save(devnetMarket, disp.Buffer()); err != nil {
				sugar.Errorw("snapshot_save_failed_on_shutdown", "err", err)
			}
			sugar.Info("enginectl_stopped")
			return
		case <-fundingTicker.C:
			req := engine.Request{Op: engine.OpCrankFunding, Now: time.Now().Unix()}
			if err := disp.Dispatch(req); err != nil {
				sugar.Warnw("funding_crank_failed", "err", err)
			}
		case <-snapshotTicker.C:
			if err := store.Save(devnetMarket, disp.Buffer()); err != nil {
				sugar.Errorw("snapshot_save_failed", "err", err)
			}
		}
	}
}

