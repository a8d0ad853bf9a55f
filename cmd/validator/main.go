// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.
//
// The subnet-validator library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation, either version 3
// of the License, or (at your option) any later version.

// Command validator runs one subnet validator node: it fetches pending
// orders from the off-chain aggregator, simulates them against a pool
// of Docker worker containers, scores and normalizes the results into
// miner weights chain-aligned to the subnet's Tempo, and submits those
// weights with a set_weights extrinsic.
package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	isatty "github.com/mattn/go-isatty"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ethereum/go-ethereum/log"

	"github.com/subnetval/subnet-validator/internal/aggregator"
	"github.com/subnetval/subnet-validator/internal/bittensor"
	"github.com/subnetval/subnet-validator/internal/config"
	"github.com/subnetval/subnet-validator/internal/emitter"
	"github.com/subnetval/subnet-validator/internal/metagraph"
	"github.com/subnetval/subnet-validator/internal/signer"
	"github.com/subnetval/subnet-validator/internal/simulator"
	"github.com/subnetval/subnet-validator/internal/state"
	"github.com/subnetval/subnet-validator/internal/validation"
	"github.com/subnetval/subnet-validator/internal/window"
)

func main() {
	glogger := log.NewGlogHandler(log.NewTerminalHandler(os.Stderr, true))
	glogger.Verbosity(log.LvlInfo)
	log.SetDefault(log.NewLogger(glogger))

	if _, err := maxprocs.Set(maxprocs.Logger(func(f string, a ...interface{}) { log.Debug(fmt.Sprintf(f, a...)) })); err != nil {
		log.Warn("validator: failed to set GOMAXPROCS from cgroup", "error", err)
	}

	printBanner()

	cfg, err := config.Load(os.Getenv)
	if err != nil {
		log.Crit("validator: invalid configuration", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wrapper, pool, err := build(ctx, cfg)
	if err != nil {
		log.Crit("validator: failed to build node", "error", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go wrapper.Run(ctx)

	<-sigCh
	log.Info("📡 validator: shutdown signal received")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	pool.Shutdown(shutdownCtx)
	log.Info("👋 validator: stopped")
}

// build wires every component into the chain-aligned wrapper.
func build(ctx context.Context, cfg *config.Config) (*bittensor.Wrapper, *simulator.Pool, error) {
	aggClient := aggregator.New(
		cfg.AggregatorURL.String(), cfg.AggregatorAPIKey, cfg.AggregatorTimeout,
		cfg.AggregatorMaxRetries, cfg.AggregatorBackoff,
	)

	docker, err := simulator.NewDockerClient()
	if err != nil {
		return nil, nil, fmt.Errorf("connect to docker: %w", err)
	}

	rpcURLs := make(map[string]string, len(cfg.ChainRPCURLs))
	for chainID, u := range cfg.ChainRPCURLs {
		rpcURLs[chainID] = u.String()
	}

	pool, err := simulator.NewPool(ctx, simulator.Config{
		Docker:       docker,
		Runner:       simulator.ExecRunner{ScriptPath: "/usr/local/bin/simulate"},
		Image:        cfg.SimulatorDockerImage,
		PoolSize:     cfg.SimulatorPoolSize,
		RPCURLs:      rpcURLs,
		DefaultChain: cfg.DefaultChainID,
		Timeout:      cfg.SimulatorTimeout,
		FailedDir:    cfg.StateDir + "/failed_simulations",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start simulator pool: %w", err)
	}

	validatorHotkey := os.Getenv("VALIDATOR_HOTKEY")
	if validatorHotkey == "" {
		return nil, nil, fmt.Errorf("VALIDATOR_HOTKEY is required")
	}

	signingKey := resolveSigner(validatorHotkey)

	store := state.Open(cfg.StateDir + "/validator-state.json")

	chainURL := cfg.ChainRPCURLs[cfg.DefaultChainID].String()
	substrateForWindow, err := window.DialSubstrate(chainURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial substrate for window planner: %w", err)
	}
	planner := window.New(substrateForWindow, cfg.NetUID, cfg.FinalizationBufferBlocks)

	substrateForMetagraph, err := metagraph.DialSubstrate(chainURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial substrate for metagraph: %w", err)
	}
	metagraphMgr := metagraph.New(substrateForMetagraph, cfg.NetUID, validatorHotkey)

	validatorSeed := os.Getenv("VALIDATOR_SR25519_SEED")
	if validatorSeed == "" {
		return nil, nil, fmt.Errorf("VALIDATOR_SR25519_SEED is required to sign set_weights extrinsics")
	}
	emitterAPI, keyring, err := emitter.DialSubstrate(chainURL, validatorSeed)
	if err != nil {
		return nil, nil, fmt.Errorf("dial substrate for emitter: %w", err)
	}
	chainParams := emitter.NewSubstrateChainParams(emitterAPI, keyring)
	weightEmitter := emitter.New(chainParams, cfg.NetUID)

	engine := validation.NewEngine(validation.Config{
		AggregatorClient:  aggClient,
		Simulator:         pool,
		ValidatorID:       validatorHotkey,
		SigningKey:        signingKey,
		BurnPercentage:    cfg.BurnPercentage,
		CreatorMinerID:    cfg.CreatorMinerID,
		MaxConcurrentSims: cfg.SimulatorPoolSize,
		PollInterval:      cfg.PollSeconds,
		HistoryRetention:  cfg.HistoryRetention,
	})

	wrapper := bittensor.New(bittensor.Config{
		Engine:          engine,
		Planner:         planner,
		Metagraph:       metagraphMgr,
		Emitter:         weightEmitter,
		ChainHeight:     substrateForWindow,
		Store:           store,
		ValidatorHotkey: validatorHotkey,
		PollSeconds:     cfg.PollSeconds,
	})

	return wrapper, pool, nil
}

// resolveSigner picks the validator's signing scheme from the
// environment. A missing VALIDATOR_SR25519_SEED or VALIDATOR_ED25519_SEED
// falls back to the deterministic placeholder scheme, which the
// production aggregator rejects — suitable only for local testing.
func resolveSigner(validatorHotkey string) signer.Signer {
	if seedHex := os.Getenv("VALIDATOR_SR25519_SEED"); seedHex != "" {
		seed := sha256.Sum256([]byte(seedHex))
		s, err := signer.NewSr25519Signer(seed)
		if err != nil {
			log.Warn("validator: failed to build sr25519 signer, falling back to placeholder", "error", err)
			return signer.Placeholder{}
		}
		return s
	}
	if seedHex := os.Getenv("VALIDATOR_ED25519_SEED"); seedHex != "" {
		seed := sha256.Sum256([]byte(seedHex))
		return signer.NewEd25519Signer(seed)
	}
	log.Warn("validator: no signing seed configured, weight submissions will use the placeholder scheme")
	return signer.Placeholder{}
}

func printBanner() {
	out := colorable.NewColorable(os.Stdout)
	banner := color.New(color.FgCyan, color.Bold)
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		banner.DisableColor()
	}
	banner.Fprintln(out, "subnet-validator")
	banner.Fprintln(out, "================")
}
