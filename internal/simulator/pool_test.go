// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.

package simulator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/require"

	"github.com/subnetval/subnet-validator/internal/types"
)

type fakeDocker struct {
	mu       sync.Mutex
	created  int
	running  map[string]bool
	removed  []string
	failCreate bool
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{running: map[string]bool{}}
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, name string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return container.CreateResponse{}, context.DeadlineExceeded
	}
	f.created++
	return container.CreateResponse{ID: name}, nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, id string, options dockertypes.ContainerStartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = true
	return nil
}

func (f *fakeDocker) ContainerInspect(ctx context.Context, id string) (dockertypes.ContainerJSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := &dockertypes.ContainerState{Running: f.running[id]}
	return dockertypes.ContainerJSON{ContainerJSONBase: &dockertypes.ContainerJSONBase{State: state}}, nil
}

func (f *fakeDocker) ContainerStop(ctx context.Context, id string, options container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = false
	return nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, id string, options dockertypes.ContainerRemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, id)
	f.removed = append(f.removed, id)
	return nil
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	success bool
	notes   string
	err     error
}

func (r *fakeRunner) Run(ctx context.Context, containerName string, stdin []byte, rpcURL string) ([]byte, []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, []byte("boom"), r.err
	}
	out, _ := json.Marshal(map[string]interface{}{"success": r.success, "errorMessage": r.notes})
	return out, nil, nil
}

func newTestPool(t *testing.T, docker *fakeDocker, runner *fakeRunner, size int) *Pool {
	t.Helper()
	pool, err := NewPool(context.Background(), Config{
		Docker:       docker,
		Runner:       runner,
		Image:        "sim-image:latest",
		PoolSize:     size,
		RPCURLs:      map[string]string{"base": "https://base.example"},
		DefaultChain: "base",
		Timeout:      time.Second,
	})
	require.NoError(t, err)
	return pool
}

func quoteFor(chainID string) []byte {
	encoded, _ := json.Marshal(map[string]string{"chain_id": chainID})
	return encoded
}

func TestNewPoolStartsAllWorkers(t *testing.T) {
	docker := newFakeDocker()
	runner := &fakeRunner{success: true}
	pool := newTestPool(t, docker, runner, 3)
	require.Len(t, pool.workers, 3)
	require.Equal(t, 3, docker.created)
}

func TestNewPoolFailsWhenNoWorkerStarts(t *testing.T) {
	docker := newFakeDocker()
	docker.failCreate = true
	_, err := NewPool(context.Background(), Config{
		Docker:   docker,
		Runner:   &fakeRunner{},
		PoolSize: 2,
		Timeout:  time.Second,
	})
	require.Error(t, err)
}

func TestSimulateSuccess(t *testing.T) {
	docker := newFakeDocker()
	runner := &fakeRunner{success: true, notes: "ok"}
	pool := newTestPool(t, docker, runner, 2)

	order := types.Order{OrderID: "o1", MinerID: "m1", QuoteDetails: quoteFor("base")}
	success, notes, _, err := pool.Simulate(context.Background(), order)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, "ok", notes)
}

func TestSimulateUnknownChainFails(t *testing.T) {
	docker := newFakeDocker()
	runner := &fakeRunner{success: true}
	pool := newTestPool(t, docker, runner, 1)

	order := types.Order{OrderID: "o1", MinerID: "m1", QuoteDetails: quoteFor("nochain")}
	success, notes, _, err := pool.Simulate(context.Background(), order)
	require.NoError(t, err)
	require.False(t, success)
	require.Contains(t, notes, "no RPC URL")
}

func TestSimulateFailureWritesDiagnostic(t *testing.T) {
	docker := newFakeDocker()
	runner := &fakeRunner{success: false, notes: "reverted"}
	dir := t.TempDir()
	pool, err := NewPool(context.Background(), Config{
		Docker:       docker,
		Runner:       runner,
		PoolSize:     1,
		RPCURLs:      map[string]string{"base": "https://base.example"},
		DefaultChain: "base",
		Timeout:      time.Second,
		FailedDir:    dir,
	})
	require.NoError(t, err)

	order := types.Order{OrderID: "o1", MinerID: "m1", QuoteDetails: quoteFor("base")}
	success, notes, _, err := pool.Simulate(context.Background(), order)
	require.NoError(t, err)
	require.False(t, success)
	require.Equal(t, "reverted", notes)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var failedFiles []string
	for _, entry := range entries {
		if entry.Name() != "diagnostics.log" {
			failedFiles = append(failedFiles, entry.Name())
		}
	}
	require.Len(t, failedFiles, 1)
	require.Contains(t, filepath.Base(failedFiles[0]), "failed_o1_")
}

func TestSimulateRestartsUnhealthyWorker(t *testing.T) {
	docker := newFakeDocker()
	runner := &fakeRunner{success: true}
	pool := newTestPool(t, docker, runner, 1)

	docker.mu.Lock()
	for id := range docker.running {
		docker.running[id] = false
	}
	docker.mu.Unlock()

	order := types.Order{OrderID: "o1", MinerID: "m1", QuoteDetails: quoteFor("base")}
	success, _, _, err := pool.Simulate(context.Background(), order)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, 2, docker.created)
}

func TestShutdownRemovesAllWorkers(t *testing.T) {
	docker := newFakeDocker()
	pool := newTestPool(t, docker, &fakeRunner{success: true}, 2)
	pool.Shutdown(context.Background())
	require.Len(t, docker.removed, 2)
}
