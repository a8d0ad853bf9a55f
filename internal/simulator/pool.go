// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.
//
// The subnet-validator library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation, either version 3
// of the License, or (at your option) any later version.

// Package simulator runs pre-signed EVM orders through a pool of
// long-lived container workers. The pool owns the workers' entire
// lifecycle — create, health-check, restart-on-crash, remove — and
// exposes a single bounded-concurrency Simulate operation.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/subnetval/subnet-validator/internal/types"
)

// WorkerState is a ContainerWorker's last-observed health.
type WorkerState int

const (
	WorkerRunning WorkerState = iota
	WorkerCrashed
)

// ContainerWorker is runtime-only state owned exclusively by the Pool.
type ContainerWorker struct {
	Name  string
	Index int
	State WorkerState
}

// DockerAPI is the subset of *client.Client the pool needs to manage
// worker containers. Narrowing it to an interface is what lets the pool
// be tested without a real Docker daemon.
type DockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options dockertypes.ContainerStartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (dockertypes.ContainerJSON, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options dockertypes.ContainerRemoveOptions) error
}

// Runner executes one simulation against an already-running worker
// container and returns its raw stdout/stderr. Production wiring pipes
// through `docker exec` via os/exec; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, containerName string, stdin []byte, rpcURL string) (stdout, stderr []byte, exitErr error)
}

// SimResult is the outcome of one Simulate call.
type SimResult struct {
	Success        bool
	Notes          string
	ExecutionTimeS float64
}

// Pool maintains N long-lived worker containers and runs simulations
// against them with strict parallelism <= poolSize.
type Pool struct {
	docker DockerAPI
	runner Runner

	image     string
	poolSize  int
	rpcURLs   map[string]string
	defaultChain string
	timeout   time.Duration
	failedDir string
	diagLog   *lumberjack.Logger

	mu      sync.Mutex
	workers []*ContainerWorker

	sem  *semaphore.Weighted
	once sync.Once

	nextWorker atomic.Uint64
}

// Config bundles Pool's construction-time parameters.
type Config struct {
	Docker       DockerAPI
	Runner       Runner
	Image        string
	PoolSize     int
	RPCURLs      map[string]string
	DefaultChain string
	Timeout      time.Duration
	FailedDir    string
}

// NewPool launches poolSize worker containers and returns a ready Pool.
// Pool-level startup failure — no worker could start — is fatal, per
// spec; individual worker recreation failures later in the pool's life
// are logged, not fatal.
func NewPool(ctx context.Context, cfg Config) (*Pool, error) {
	p := &Pool{
		docker:       cfg.Docker,
		runner:       cfg.Runner,
		image:        cfg.Image,
		poolSize:     cfg.PoolSize,
		rpcURLs:      cfg.RPCURLs,
		defaultChain: cfg.DefaultChain,
		timeout:      cfg.Timeout,
		failedDir:    cfg.FailedDir,
	}
	if cfg.FailedDir != "" {
		p.diagLog = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.FailedDir, "diagnostics.log"),
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     14,
		}
	}

	started := 0
	for i := 0; i < cfg.PoolSize; i++ {
		w, err := p.startWorker(ctx, i)
		if err != nil {
			log.Warn("simulator pool: worker failed to start", "index", i, "error", err)
			continue
		}
		p.workers = append(p.workers, w)
		started++
	}
	if started == 0 {
		return nil, fmt.Errorf("simulator pool: no workers could start out of %d requested", cfg.PoolSize)
	}
	log.Info("🧰 simulator pool: started", "requested", cfg.PoolSize, "started", started)
	return p, nil
}

func (p *Pool) workerName(index int) string {
	return fmt.Sprintf("subnet-validator-sim-worker-%d", index)
}

func (p *Pool) startWorker(ctx context.Context, index int) (*ContainerWorker, error) {
	name := p.workerName(index)
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	created, err := p.docker.ContainerCreate(startCtx, &container.Config{
		Image: p.image,
		Cmd:   []string{"tail", "-f", "/dev/null"},
		Tty:   false,
	}, &container.HostConfig{AutoRemove: false}, name)
	if err != nil {
		return nil, fmt.Errorf("create worker container: %w", err)
	}
	if err := p.docker.ContainerStart(startCtx, created.ID, dockertypes.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("start worker container: %w", err)
	}
	return &ContainerWorker{Name: name, Index: index, State: WorkerRunning}, nil
}

// lazySemaphore creates the pool's semaphore exactly once, in the
// goroutine/scheduling context where it is first needed, per spec.md
// §4.1's "created lazily in the same scheduling context" requirement.
func (p *Pool) lazySemaphore() *semaphore.Weighted {
	p.once.Do(func() {
		p.sem = semaphore.NewWeighted(int64(len(p.workers)))
	})
	return p.sem
}

// Simulate runs one order through the next available worker, bounded by
// the pool's semaphore. It never returns a Go error for a simulation
// failure — a false success plus the returned notes carry the diagnostic,
// matching spec.md §4.1's "per-order failures are returned, never
// raised."
func (p *Pool) Simulate(ctx context.Context, order types.Order) (bool, string, float64, error) {
	chainID, ok := order.ChainID()
	if !ok {
		chainID = p.defaultChain
	}
	rpcURL, ok := p.rpcURLs[chainID]
	if !ok {
		return false, fmt.Sprintf("no RPC URL configured for chain %q", chainID), 0, nil
	}

	sem := p.lazySemaphore()
	if err := sem.Acquire(ctx, 1); err != nil {
		return false, "", 0, fmt.Errorf("acquire simulator slot: %w", err)
	}
	defer sem.Release(1)

	worker := p.pickWorker()
	if !p.isHealthy(ctx, worker) {
		if err := p.restartWorker(ctx, worker); err != nil {
			return false, fmt.Sprintf("worker restart failed: %v", err), 0, nil
		}
	}

	start := time.Now()
	stdin, err := json.Marshal(map[string]interface{}{
		"quoteDetails": json.RawMessage(order.QuoteDetails),
		"signature":    order.Signature,
	})
	if err != nil {
		return false, fmt.Sprintf("encode simulation payload: %v", err), 0, nil
	}

	simCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	stdout, stderr, runErr := p.runner.Run(simCtx, worker.Name, stdin, rpcURL)
	elapsed := time.Since(start).Seconds()

	if runErr != nil {
		notes := diagnosticFrom(stderr, stdout, runErr)
		p.recordFailure(order, stdin, stdout, stderr, notes)
		return false, notes, elapsed, nil
	}

	var result struct {
		Success      bool   `json:"success"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(stdout, &result); err != nil {
		notes := diagnosticFrom(stderr, stdout, err)
		p.recordFailure(order, stdin, stdout, stderr, notes)
		return false, notes, elapsed, nil
	}
	if !result.Success {
		notes := result.ErrorMessage
		if notes == "" {
			notes = diagnosticFrom(stderr, stdout, nil)
		}
		p.recordFailure(order, stdin, stdout, stderr, notes)
		return false, notes, elapsed, nil
	}
	return true, result.ErrorMessage, elapsed, nil
}

func (p *Pool) pickWorker() *ContainerWorker {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.nextWorker.Add(1) % uint64(len(p.workers))
	return p.workers[idx]
}

func (p *Pool) isHealthy(ctx context.Context, w *ContainerWorker) bool {
	info, err := p.docker.ContainerInspect(ctx, w.Name)
	if err != nil {
		return false
	}
	return info.State != nil && info.State.Running
}

func (p *Pool) restartWorker(ctx context.Context, w *ContainerWorker) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_ = p.docker.ContainerRemove(ctx, w.Name, dockertypes.ContainerRemoveOptions{Force: true})
	fresh, err := p.startWorker(ctx, w.Index)
	if err != nil {
		w.State = WorkerCrashed
		return err
	}
	*w = *fresh
	return nil
}

func (p *Pool) recordFailure(order types.Order, stdin, stdout, stderr []byte, notes string) {
	if p.failedDir == "" {
		return
	}
	if err := os.MkdirAll(p.failedDir, 0o755); err != nil {
		log.Warn("simulator pool: failed to create failed_simulations dir", "error", err)
		return
	}
	record := map[string]interface{}{
		"order_id":   order.OrderID,
		"miner_id":   order.MinerID,
		"solver_id":  order.SolverID,
		"stdin":      string(stdin),
		"stdout":     string(stdout),
		"stderr":     string(stderr),
		"diagnostic": notes,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	encoded, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(p.failedDir, fmt.Sprintf("failed_%s_%s.json", order.OrderID, uuid.NewString()))
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		log.Warn("simulator pool: failed to write diagnostic file", "path", path, "error", err)
	}
	if p.diagLog != nil {
		fmt.Fprintf(p.diagLog, "%s order=%s file=%s notes=%s\n", time.Now().UTC().Format(time.RFC3339), order.OrderID, filepath.Base(path), notes)
	}
}

func diagnosticFrom(stderr, stdout []byte, err error) string {
	if len(stderr) > 0 {
		return truncate(string(stderr), 500)
	}
	if len(stdout) > 0 {
		return truncate(string(stdout), 500)
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Shutdown stops and removes every worker container. It is the pool's
// cleanup hook, called once at process shutdown.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if err := p.docker.ContainerStop(ctx, w.Name, container.StopOptions{}); err != nil {
			log.Warn("simulator pool: stop worker failed", "worker", w.Name, "error", err)
		}
		if err := p.docker.ContainerRemove(ctx, w.Name, dockertypes.ContainerRemoveOptions{Force: true}); err != nil {
			log.Warn("simulator pool: remove worker failed", "worker", w.Name, "error", err)
		}
	}
	log.Info("🧹 simulator pool: all workers removed")
	if p.diagLog != nil {
		if err := p.diagLog.Close(); err != nil {
			log.Warn("simulator pool: failed to close diagnostic log", "error", err)
		}
	}
}

