package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"termlend/config"
	"termlend/core/state"
	"termlend/crypto"
	nativecommon "termlend/native/common"
	"termlend/native/lendpool"
	"termlend/native/oracle"
	"termlend/native/orderbook"
	"termlend/native/router"
	"termlend/native/token"
	"termlend/observability"
	"termlend/observability/logging"
	"termlend/rpc"
	"termlend/storage"
)

const envVar = "TERMLEND_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envVar))
	logger := logging.Setup("termlendd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	gen, err := config.LoadGenesis(cfg.GenesisFile)
	if err != nil {
		logger.Error("failed to load genesis", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	ledger := token.NewLedger()
	ledger.SetState(manager)

	if err := applyGenesis(ledger, gen); err != nil {
		logger.Error("failed to apply genesis", slog.Any("error", err))
		os.Exit(1)
	}

	bookAddr := moduleAddress("orderbook-module")
	poolAddr := moduleAddress("lendpool-module")
	routerAddr := moduleAddress("router-module")

	pauses := nativecommon.NewPauseSet()
	emitter := observability.NewMetricsEmitter(observability.NewSlogEmitter(logger))

	feeder, err := crypto.DecodeAddress(gen.Oracle.Feeder)
	if err != nil {
		logger.Error("invalid oracle feeder address", slog.Any("error", err))
		os.Exit(1)
	}
	feed := oracle.NewFeed(feeder.Raw(), time.Duration(gen.Oracle.MaxAgeSeconds)*time.Second)
	if gen.Oracle.InitialPrice != "" {
		price, err := config.ParseAmount(gen.Oracle.InitialPrice)
		if err != nil {
			logger.Error("invalid oracle initial price", slog.Any("error", err))
			os.Exit(1)
		}
		if err := feed.Post(feeder.Raw(), price); err != nil {
			logger.Error("failed to post initial price", slog.Any("error", err))
			os.Exit(1)
		}
	}

	rateTick, err := config.ParseAmount(gen.Book.RateTick)
	if err != nil {
		logger.Error("invalid book rate tick", slog.Any("error", err))
		os.Exit(1)
	}
	maxRate, err := config.ParseAmount(gen.Book.MaxRate)
	if err != nil {
		logger.Error("invalid book max rate", slog.Any("error", err))
		os.Exit(1)
	}
	ltv, err := config.ParseAmount(gen.Pool.LTV)
	if err != nil {
		logger.Error("invalid pool ltv", slog.Any("error", err))
		os.Exit(1)
	}

	book := orderbook.NewBook(orderbook.Params{
		DebtToken:       gen.Pool.DebtToken,
		CollateralToken: gen.Pool.CollateralToken,
		RateTick:        rateTick,
		MaxRate:         maxRate,
	}, bookAddr, routerAddr)
	book.SetLedger(ledger)
	book.SetEmitter(emitter)
	book.SetPauses(pauses)

	pool := lendpool.NewEngine(lendpool.Params{
		DebtToken:          gen.Pool.DebtToken,
		CollateralToken:    gen.Pool.CollateralToken,
		CollateralDecimals: gen.Pool.CollateralDecimals,
		Maturity:           gen.Pool.Maturity,
		MaturityLabel:      gen.Pool.MaturityLabel,
		LTV:                ltv,
	}, poolAddr, routerAddr)
	pool.SetState(manager)
	pool.SetLedger(ledger)
	pool.SetOracle(feed)
	pool.SetEmitter(emitter)
	pool.SetPauses(pauses)

	rt := router.New(routerAddr)
	rt.SetBook(book)
	rt.SetPool(pool)

	server := rpc.NewServer(rpc.Deps{
		Ledger:    ledger,
		Book:      book,
		Pool:      pool,
		Router:    rt,
		Feed:      feed,
		Pauses:    pauses,
		Logger:    logger,
		AuthToken: cfg.RPCAuthToken,
		RateLimit: cfg.RPCRateLimit,
		RateBurst: cfg.RPCRateBurst,
	})

	logger.Info("node ready",
		"network", cfg.NetworkName,
		"maturity", gen.Pool.Maturity,
		"debtToken", gen.Pool.DebtToken,
		"collateralToken", gen.Pool.CollateralToken,
	)
	if cfg.MetricsAddress != "" && cfg.MetricsAddress != cfg.RPCAddress {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				logger.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
	}
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// moduleAddress derives a stable custody address from a module name.
func moduleAddress(name string) [20]byte {
	hash := ethcrypto.Keccak256([]byte("termlend/" + name))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// applyGenesis registers the declared tokens and mints the initial
// allocations. A token that is already registered marks a restarted node, so
// its seeding is skipped.
func applyGenesis(ledger *token.Ledger, gen *config.Genesis) error {
	for _, tok := range gen.Tokens {
		var treasury [20]byte
		if strings.TrimSpace(tok.Treasury) != "" {
			addr, err := crypto.DecodeAddress(tok.Treasury)
			if err != nil {
				return fmt.Errorf("token %s treasury: %w", tok.Symbol, err)
			}
			treasury = addr.Raw()
		}
		if err := ledger.Register(tok.Symbol, tok.Decimals, treasury); err != nil {
			if err == token.ErrTokenExists {
				continue
			}
			return err
		}
		if tok.InitialSupply == "" {
			continue
		}
		supply, err := config.ParseAmount(tok.InitialSupply)
		if err != nil {
			return fmt.Errorf("token %s initial supply: %w", tok.Symbol, err)
		}
		if err := ledger.Mint(treasury, tok.Symbol, treasury, supply); err != nil {
			return err
		}
		for _, bal := range gen.Balances {
			if token.NormalizeSymbol(bal.Symbol) != token.NormalizeSymbol(tok.Symbol) {
				continue
			}
			addr, err := crypto.DecodeAddress(bal.Address)
			if err != nil {
				return fmt.Errorf("balance for %s: %w", bal.Address, err)
			}
			amount, err := config.ParseAmount(bal.Amount)
			if err != nil {
				return fmt.Errorf("balance for %s: %w", bal.Address, err)
			}
			if err := ledger.Transfer(treasury, addr.Raw(), bal.Symbol, amount); err != nil {
				return err
			}
		}
	}
	return nil
}
