// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.
//
// The subnet-validator library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation, either version 3
// of the License, or (at your option) any later version.

package simulator

import (
	"bytes"
	"context"
	"os/exec"
)

// ExecRunner is the production Runner: it shells out to `docker exec`
// and pipes the order payload to the worker's simulation script over
// stdin, passing the chain RPC URL as an argument.
type ExecRunner struct {
	// ScriptPath is the simulation entrypoint inside the worker image.
	ScriptPath string
}

// Run implements Runner. The worker script's argv is [script_path, "",
// rpc_url]: the empty positional argument is part of the contract every
// simulation script expects, ahead of the RPC URL.
func (r ExecRunner) Run(ctx context.Context, containerName string, stdin []byte, rpcURL string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, "docker", "exec", "-i", containerName, "env", "-u", "SIM_INPUT_PATH", r.ScriptPath, "", rpcURL)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
