package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/SatoshiNakamoto1024/city-chain-project-4/config"
	"github.com/SatoshiNakamoto1024/city-chain-project-4/consensus"
	"github.com/SatoshiNakamoto1024/city-chain-project-4/geo"
	"github.com/SatoshiNakamoto1024/city-chain-project-4/ledger"
	"github.com/SatoshiNakamoto1024/city-chain-project-4/repository"
	"github.com/SatoshiNakamoto1024/city-chain-project-4/server"
	"github.com/SatoshiNakamoto1024/city-chain-project-4/srvreg"
	"github.com/SatoshiNakamoto1024/city-chain-project-4/sweeper"
)

var (
	configPath string
	httpPort   string
	host       string
)

func main() {
	flag.StringVar(&configPath, "config", "./config.yaml", "Path to the node configuration file")
	flag.StringVar(&httpPort, "http-port", "", "HTTP port override")
	flag.StringVar(&host, "host", "127.0.0.1", "Host the chain tiers listen on")
	flag.Parse()

	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}
	if httpPort != "" {
		cfg.HTTP.Port = httpPort
	}
	logger.Info("Configuration loaded", "path", configPath, "continent", cfg.CurrentContinent)

	directory, err := geo.NewDirectory(cfg.Municipalities, host)
	if err != nil {
		logger.Error("Failed to build municipality directory", "err", err)
		os.Exit(1)
	}

	router := repository.NewShardRouter(logger)
	if err := router.ConnectShards(cfg.Shards); err != nil {
		logger.Error("Failed to connect shards", "err", err)
		os.Exit(1)
	}
	if err := router.OpenArchives(cfg.Archives); err != nil {
		logger.Error("Failed to open analytics archives", "err", err)
		os.Exit(1)
	}
	if err := router.Validate(); err != nil {
		logger.Error("Shard routing misconfigured", "err", err)
		os.Exit(1)
	}
	defer router.Close()

	strategy, err := electionStrategy(cfg.Election)
	if err != nil {
		logger.Error("Invalid election strategy", "err", err)
		os.Exit(1)
	}
	gate := consensus.NewGate(strategy, logger)

	forwarder := ledger.NewChainForwarder(cfg.HTTP.RequestTimeout, logger)
	limiter := ledger.NewRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	core := ledger.New(directory, gate, router, forwarder, limiter, logger, ledger.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	swp := sweeper.New(router, cfg.CurrentContinent, cfg.Sweeper.TTL, cfg.Sweeper.Interval, logger)
	swp.Start(ctx)
	defer swp.Stop()

	registry := srvreg.NewServiceRegistry(core, directory, logger)
	registry.RegisterDefaultServices()

	webserver := server.NewWebServer(cfg.HTTP.Port, cfg.HTTP.RequestTimeout, cfg.CurrentContinent, logger, registry)
	if err := webserver.Start(); err != nil {
		logger.Error("Failed to start web server", "err", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutdown signal received")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := webserver.Shutdown(shutdownCtx); err != nil {
		logger.Error("Web server shutdown failed", "err", err)
	}
	logger.Info("Node stopped")
}

func electionStrategy(name string) (consensus.ElectionStrategy, error) {
	switch name {
	case "random":
		return consensus.NewRandomElection(time.Now().UnixNano()), nil
	case "round_robin":
		return consensus.NewRoundRobinElection(), nil
	case "stake_weighted":
		return consensus.NewStakeWeightedElection(nil, time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("unknown election strategy %q", name)
	}
}
