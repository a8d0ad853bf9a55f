// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.
//
// The subnet-validator library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation, either version 3
// of the License, or (at your option) any later version.
//
// The subnet-validator library is distributed in the hope that it will be
// useful, but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU Lesser
// General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public
// License along with the subnet-validator library. If not, see
// <http://www.gnu.org/licenses/>.

// Package config resolves every environment-supplied option into a
// single immutable Config value at startup. Components receive the
// pieces they need by explicit construction; nothing reads the
// environment after Load returns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the fully resolved, immutable configuration for one
// validator process.
type Config struct {
	// Aggregator transport.
	AggregatorURL        URL
	AggregatorAPIKey     string
	AggregatorTimeout    time.Duration
	AggregatorVerifySSL  bool
	AggregatorMaxRetries int
	AggregatorBackoff    time.Duration
	AggregatorPageLimit  int

	// Subnet / chain.
	NetUID uint16

	// Scheduling.
	PollSeconds              time.Duration
	FinalizationBufferBlocks uint64
	EpochMinutes             time.Duration
	Continuous               bool

	// Burn policy.
	BurnPercentage float64
	CreatorMinerID string

	// Simulator pool.
	ChainRPCURLs        map[string]URL
	DefaultChainID      string
	SimulatorDockerImage string
	SimulatorPoolSize    int
	SimulatorTimeout     time.Duration
	SimulatorAutoPull    bool

	// History.
	HistoryRetention time.Duration

	// Mode.
	Mode Mode

	// Filesystem.
	StateDir string
}

// Mode selects between a real chain-aligned validator and a
// structurally-identical mock used only in tests of external
// collaborators; the mock variant itself is out of scope for this
// repository.
type Mode string

const (
	ModeBittensor Mode = "bittensor"
	ModeMock      Mode = "mock"
)

// Error is a startup configuration failure. It is always fatal: the
// process should not attempt to run with an invalid Config.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("config: %s: %v", e.Field, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Load resolves a Config from the process environment. It never returns
// a partially-valid Config: any error means the process must not start.
func Load(getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	c := &Config{}

	apiKey := getenv("VALIDATOR_API_KEY")
	if apiKey == "" {
		return nil, &Error{"VALIDATOR_API_KEY", fmt.Errorf("required")}
	}
	c.AggregatorAPIKey = apiKey

	aggURL, err := parseURL(orDefault(getenv("AGGREGATOR_URL"), "https://aggregator.invalid"))
	if err != nil {
		return nil, &Error{"AGGREGATOR_URL", err}
	}
	c.AggregatorURL = aggURL

	c.AggregatorTimeout, err = durationSeconds(getenv("AGGREGATOR_TIMEOUT"), 10*time.Second)
	if err != nil {
		return nil, &Error{"AGGREGATOR_TIMEOUT", err}
	}
	c.AggregatorVerifySSL = orDefault(getenv("AGGREGATOR_VERIFY_SSL"), "true") != "false"
	c.AggregatorMaxRetries, err = intOrDefault(getenv("AGGREGATOR_MAX_RETRIES"), 3)
	if err != nil {
		return nil, &Error{"AGGREGATOR_MAX_RETRIES", err}
	}
	c.AggregatorBackoff, err = durationSeconds(getenv("AGGREGATOR_BACKOFF_SECONDS"), 2*time.Second)
	if err != nil {
		return nil, &Error{"AGGREGATOR_BACKOFF_SECONDS", err}
	}
	c.AggregatorPageLimit, err = intOrDefault(getenv("AGGREGATOR_PAGE_LIMIT"), 100)
	if err != nil {
		return nil, &Error{"AGGREGATOR_PAGE_LIMIT", err}
	}

	netuid, err := intOrDefault(getenv("NETUID"), -1)
	if err != nil || netuid < 0 || netuid > 65535 {
		return nil, &Error{"NETUID", fmt.Errorf("required, must be 0-65535")}
	}
	c.NetUID = uint16(netuid)

	c.PollSeconds, err = durationSeconds(getenv("VALIDATOR_POLL_SECONDS"), 15*time.Second)
	if err != nil {
		return nil, &Error{"VALIDATOR_POLL_SECONDS", err}
	}
	buf, err := intOrDefault(getenv("VALIDATOR_FINALIZATION_BUFFER_BLOCKS"), 12)
	if err != nil {
		return nil, &Error{"VALIDATOR_FINALIZATION_BUFFER_BLOCKS", err}
	}
	c.FinalizationBufferBlocks = uint64(buf)
	c.EpochMinutes, err = durationMinutes(getenv("VALIDATOR_EPOCH_MINUTES"), 20*time.Minute)
	if err != nil {
		return nil, &Error{"VALIDATOR_EPOCH_MINUTES", err}
	}
	c.Continuous = orDefault(getenv("VALIDATOR_CONTINUOUS"), "true") != "false"

	c.BurnPercentage, err = floatOrDefault(getenv("BURN_PERCENTAGE"), 0)
	if err != nil || c.BurnPercentage < 0 || c.BurnPercentage > 1 {
		return nil, &Error{"BURN_PERCENTAGE", fmt.Errorf("must be in [0,1]")}
	}
	c.CreatorMinerID = getenv("CREATOR_MINER_ID")

	c.ChainRPCURLs = map[string]URL{}
	c.DefaultChainID = "1"
	for chainID, envVar := range map[string]string{
		"1":     "ETHEREUM_RPC_URL",
		"8453":  "BASE_RPC_URL",
		"default": "SIMULATOR_RPC_URL",
	} {
		if v := getenv(envVar); v != "" {
			u, err := parseURL(v)
			if err != nil {
				return nil, &Error{envVar, err}
			}
			c.ChainRPCURLs[chainID] = u
		}
	}
	if _, ok := c.ChainRPCURLs["default"]; !ok {
		return nil, &Error{"SIMULATOR_RPC_URL", fmt.Errorf("required")}
	}

	c.SimulatorDockerImage = orDefault(getenv("SIMULATOR_DOCKER_IMAGE"), "subnetval/simulator:latest")
	c.SimulatorPoolSize, err = intOrDefault(getenv("SIMULATOR_MAX_CONCURRENT"), 4)
	if err != nil || c.SimulatorPoolSize < 1 {
		return nil, &Error{"SIMULATOR_MAX_CONCURRENT", fmt.Errorf("must be >= 1")}
	}
	c.SimulatorTimeout, err = durationSeconds(getenv("SIMULATOR_TIMEOUT_SECONDS"), 300*time.Second)
	if err != nil {
		return nil, &Error{"SIMULATOR_TIMEOUT_SECONDS", err}
	}
	c.SimulatorAutoPull = orDefault(getenv("SIMULATOR_AUTO_PULL"), "false") == "true"

	c.HistoryRetention, err = durationSeconds(getenv("VALIDATION_HISTORY_RETENTION_SECONDS"), 7200*time.Second)
	if err != nil {
		return nil, &Error{"VALIDATION_HISTORY_RETENTION_SECONDS", err}
	}

	mode := Mode(orDefault(getenv("VALIDATOR_MODE"), string(ModeBittensor)))
	if mode != ModeBittensor && mode != ModeMock {
		return nil, &Error{"VALIDATOR_MODE", fmt.Errorf("must be %q or %q", ModeBittensor, ModeMock)}
	}
	c.Mode = mode

	c.StateDir = orDefault(getenv("VALIDATOR_STATE_DIR"), "./state")

	return c, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intOrDefault(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func floatOrDefault(v string, def float64) (float64, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseFloat(v, 64)
}

func durationSeconds(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(n * float64(time.Second)), nil
}

func durationMinutes(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(n * float64(time.Minute)), nil
}
