package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"nhbescrow/config"
	"nhbescrow/core"
	"nhbescrow/crypto"
	"nhbescrow/native/escrow"
	"nhbescrow/observability/logging"
	telemetry "nhbescrow/observability/otel"
	"nhbescrow/rpc"
	"nhbescrow/rpc/middleware"
	"nhbescrow/services/archive"
	"nhbescrow/services/keeper"
	"nhbescrow/storage"
)

func main() {
	configFile := flag.String("config", "./escrow.toml", "Path to the configuration file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("NHB_ENV"))
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if env == "" {
		env = cfg.Environment
	}
	logger, logCloser := logging.SetupWithOptions("escrowd", env, logging.Options{
		File:  cfg.LogFile,
		Level: logging.ParseLevel(*logLevel),
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, env, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("escrowd stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("escrowd stopped")
}

func run(ctx context.Context, cfg *config.Config, env string, logger *slog.Logger) error {
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:   "escrowd",
			Environment:   env,
			Network:       cfg.NetworkName,
			Endpoint:      cfg.Telemetry.Endpoint,
			Headers:       telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Insecure:      cfg.Telemetry.Insecure,
			Metrics:       true,
			Traces:        true,
			SamplingRatio: cfg.Telemetry.Sampling,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	logger.Info("escrowd starting",
		slog.String("rpc", cfg.RPCAddress),
		slog.String("db", cfg.DBBackend),
		slog.String("network", cfg.NetworkName),
		slog.Bool("auth", cfg.Auth.Enabled),
		logging.MaskField("hmacSecret", cfg.AuthSecret()),
	)

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	opts, err := nodeOptions(cfg, logger)
	if err != nil {
		return err
	}
	node, err := core.NewNode(db, opts)
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	server, err := rpc.NewServer(node, rpc.ServerConfig{
		Auth: middleware.AuthConfig{
			Enabled: cfg.Auth.Enabled,
			Secret:  cfg.AuthSecret(),
			Issuer:  cfg.Auth.Issuer,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		LogRequests: env == "dev",
		ServiceName: "escrowd",
	}, logger)
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Start(ctx, cfg.RPCAddress)
	})

	if cfg.Keeper.Enabled {
		keeperCfg := keeper.Config{
			Interval:       time.Duration(cfg.Keeper.IntervalSeconds) * time.Second,
			CallsPerSecond: cfg.Keeper.CallsPerSecond,
		}
		if addr := strings.TrimSpace(cfg.Keeper.Address); addr != "" {
			keeperCfg.Address, err = crypto.ParseAddress(addr)
			if err != nil {
				return fmt.Errorf("keeper address: %w", err)
			}
		}
		runner, err := keeper.New(node, keeperCfg, logger)
		if err != nil {
			return err
		}
		group.Go(func() error {
			return runner.Run(ctx)
		})
	}

	if cfg.Archive.Enabled {
		store, err := archive.Open(cfg.ArchivePath())
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer store.Close()
		archiver, err := archive.NewArchiver(node, store, logger)
		if err != nil {
			return err
		}
		group.Go(func() error {
			return archiver.Run(ctx)
		})
	}

	return group.Wait()
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	if cfg.DBBackend == "memory" {
		return storage.NewMemDB(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, err
	}
	if cfg.DBBackend == "bolt" {
		db, err := storage.NewBoltDB(filepath.Join(cfg.DataDir, "escrow.bolt"))
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "leveldb"))
	if err != nil {
		return nil, err
	}
	return db, nil
}

func nodeOptions(cfg *config.Config, logger *slog.Logger) (core.Options, error) {
	mode, err := escrow.ParseReleaseMode(cfg.Escrow.ReleaseMode)
	if err != nil {
		return core.Options{}, err
	}
	opts := core.Options{
		ReleaseMode: mode,
		Limits: escrow.Limits{
			MinDuration: cfg.Escrow.MinDurationSeconds,
			MaxDuration: cfg.Escrow.MaxDurationSeconds,
			KeeperBatch: cfg.Escrow.KeeperBatchSize,
		},
		Tokens: cfg.Escrow.Tokens,
		Pauses: cfg.Pauses,
		Logger: logger,
	}
	if addr := strings.TrimSpace(cfg.Escrow.VaultAddress); addr != "" {
		opts.Vault, err = crypto.ParseAddress(addr)
		if err != nil {
			return core.Options{}, fmt.Errorf("vault address: %w", err)
		}
	}
	if cfg.Faucet.Enabled {
		opts.FaucetCap, err = cfg.FaucetCap()
		if err != nil {
			return core.Options{}, err
		}
	}
	return opts, nil
}
