// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.
//
// The subnet-validator library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation, either version 3
// of the License, or (at your option) any later version.

package simulator

import (
	"context"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// dockerClient adapts *client.Client's wider signature down to the
// narrow DockerAPI surface the pool depends on.
type dockerClient struct {
	cli *client.Client
}

// NewDockerClient builds a DockerAPI from the environment's Docker
// daemon socket, the same way the Docker CLI itself connects.
func NewDockerClient() (DockerAPI, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &dockerClient{cli: cli}, nil
}

func (d *dockerClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, containerName string) (container.CreateResponse, error) {
	return d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
}

func (d *dockerClient) ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error {
	return d.cli.ContainerStart(ctx, containerID, options)
}

func (d *dockerClient) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	return d.cli.ContainerInspect(ctx, containerID)
}

func (d *dockerClient) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	return d.cli.ContainerStop(ctx, containerID, options)
}

func (d *dockerClient) ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error {
	return d.cli.ContainerRemove(ctx, containerID, options)
}
