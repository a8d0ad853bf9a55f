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

// Package aggregator is the thin REST client the Validation Engine uses
// to exchange orders, verdicts, health, and signed weights with the
// off-chain aggregator. It owns the canonical payload format that the
// aggregator verifies weight-submission signatures against.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/subnetval/subnet-validator/internal/signer"
	"github.com/subnetval/subnet-validator/internal/types"
)

// Client talks to the aggregator's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

// New builds an aggregator Client.
func New(baseURL, apiKey string, timeout time.Duration, maxRetries int, backoff time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// FetchPendingOrders returns the orders awaiting validation for this
// validator. Per spec, transport errors degrade to an empty list rather
// than an error — the background validation loop simply has nothing to
// do this tick.
func (c *Client) FetchPendingOrders(ctx context.Context, validatorID string) []types.Order {
	var orders []types.Order
	err := c.doRetrying(ctx, http.MethodGet, "/v1/validators/orders?validator_id="+validatorID, nil, &orders)
	if err != nil {
		log.Warn("aggregator: fetch pending orders failed", "error", err)
		return nil
	}
	return orders
}

// SubmitValidation reports one order's verdict back to the aggregator.
func (c *Client) SubmitValidation(ctx context.Context, orderID, validatorID string, success bool, notes string) bool {
	body := map[string]interface{}{
		"orderId":     orderID,
		"validatorId": validatorID,
		"success":     success,
	}
	if notes != "" {
		body["notes"] = notes
	}
	err := c.doRetrying(ctx, http.MethodPost, "/v1/validators/validate", body, nil)
	if err != nil {
		log.Warn("aggregator: submit validation failed", "orderId", orderID, "error", err)
		return false
	}
	return true
}

// FetchHealth returns the aggregator's self-reported health, or nil on
// any failure. Health checks never retry — a stalled health probe
// should surface as "unhealthy" immediately, not after a backoff delay.
func (c *Client) FetchHealth(ctx context.Context) *types.HealthDoc {
	var doc types.HealthDoc
	if err := c.doOnce(ctx, http.MethodGet, "/health", nil, &doc); err != nil {
		log.Debug("aggregator: health probe failed", "error", err)
		return nil
	}
	return &doc
}

// WeightSubmission is the payload SubmitWeights sends after the caller
// has already computed the canonical string and signed it.
type WeightSubmission struct {
	ValidatorID   string
	EpochKey      string
	Weights       map[string]float64
	Stats         types.EpochStats
	WeightsSum    float64
	Timestamp     time.Time
	BlockNumber   *int64
	Signature     [64]byte
	SignatureType signer.Type
}

// SubmitWeights posts a signed weight vector. Returns nil on any
// failure; the caller (the Validation Engine) treats that as "this
// epoch's submission did not land" without crashing.
func (c *Client) SubmitWeights(ctx context.Context, sub WeightSubmission) *types.SubmissionReceipt {
	body := map[string]interface{}{
		"validatorId": sub.ValidatorID,
		"epochKey":    sub.EpochKey,
		"timestamp":   sub.Timestamp.UTC().Format(time.RFC3339),
		"weights":     sub.Weights,
		"stats": map[string]interface{}{
			"totalSimulations": sub.Stats.TotalSimulations,
			"validMiners":      sub.Stats.ValidMiners,
			"totalMiners":      sub.Stats.TotalMiners,
			"burnPercentage":   sub.Stats.BurnPercentage,
			"weightsSum":       sub.WeightsSum,
		},
		"signature":     hexSignature(sub.Signature),
		"signatureType": string(sub.SignatureType),
	}
	if sub.BlockNumber != nil {
		body["blockNumber"] = *sub.BlockNumber
	}

	var receipt types.SubmissionReceipt
	if err := c.doRetrying(ctx, http.MethodPost, "/v1/validators/weights", body, &receipt); err != nil {
		log.Warn("aggregator: submit weights failed", "epochKey", sub.EpochKey, "error", err)
		return nil
	}
	return &receipt
}

// doRetrying attempts a request up to maxRetries+1 times with linear
// backoff (backoff * attempt), matching spec.md §4.2's simple
// (non-idempotency-aware) retry policy: any non-2xx or transport error
// is retried.
func (c *Client) doRetrying(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries+1; attempt++ {
		err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt <= c.maxRetries {
			if err := sleepCtx(ctx, c.backoff*time.Duration(attempt)); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("after %d attempts: %w", c.maxRetries+1, lastErr)
}

// sleepCtx sleeps for d or returns ctx.Err() early if ctx is cancelled
// first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) doOnce(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
