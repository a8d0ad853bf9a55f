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

// Package types holds the data model shared across the validator's
// components: orders consumed from the aggregator, the results produced
// by running them through the simulator, and the records derived from
// aggregating those results into an epoch's weight vector.
package types

import (
	"encoding/json"
	"time"
)

// Order is a pending, pre-signed transaction offered for validation by a
// miner/solver, as returned by the aggregator's pending-orders endpoint.
// QuoteDetails is forwarded to the simulator as-is; the core reads only
// its chain_id and settlement user_address (see ChainID, UserAddress).
type Order struct {
	OrderID      string          `json:"order_id"`
	SolverID     string          `json:"solver_id"`
	MinerID      string          `json:"miner_id"`
	QuoteDetails json.RawMessage `json:"quote_details"`
	Signature    string          `json:"signature"`
}

// UserAddress extracts the settlement user address from QuoteDetails, if
// present. Returns "" when absent or unparseable; callers treat that as
// "no filter match" rather than an error.
func (o Order) UserAddress() string {
	var probe struct {
		Settlement struct {
			UserAddress string `json:"user_address"`
		} `json:"settlement"`
	}
	if err := json.Unmarshal(o.QuoteDetails, &probe); err != nil {
		return ""
	}
	return probe.Settlement.UserAddress
}

// ChainID extracts the target chain identifier from QuoteDetails.
func (o Order) ChainID() (string, bool) {
	var probe struct {
		ChainID string `json:"chain_id"`
	}
	if err := json.Unmarshal(o.QuoteDetails, &probe); err != nil {
		return "", false
	}
	if probe.ChainID == "" {
		return "", false
	}
	return probe.ChainID, true
}

// ValidationResult is the immutable outcome of running a single order
// through the simulator. Once appended to a ValidationHistory it is
// never mutated.
type ValidationResult struct {
	OrderID        string    `json:"order_id"`
	SolverID       string    `json:"solver_id"`
	MinerID        string    `json:"miner_id"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ExecutionTimeS float64   `json:"execution_time_s,omitempty"`
	UserAddress    string    `json:"user_address,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// EpochStats summarizes an EpochResult's scoring run.
type EpochStats struct {
	TotalSimulations int     `json:"total_simulations"`
	ValidMiners      int     `json:"valid_miners"`
	TotalMiners      int     `json:"total_miners"`
	BurnPercentage   float64 `json:"burn_percentage"`
	BurnFallback     bool    `json:"burn_fallback,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// EpochResult is the materialized output of scoring one chain-aligned
// epoch: the weight vector plus the validation results it was derived
// from.
type EpochResult struct {
	EpochKey          string             `json:"epoch_key"`
	StartTime         time.Time          `json:"start_time"`
	EndTime           time.Time          `json:"end_time"`
	ValidationResults []ValidationResult `json:"validation_results"`
	Weights           map[string]float64 `json:"weights"`
	Stats             EpochStats         `json:"stats"`
}

// HealthDoc is the aggregator's self-reported health document.
type HealthDoc struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Storage struct {
		Healthy bool `json:"healthy"`
	} `json:"storage"`
}

// Healthy reports whether the aggregator considers itself usable: the
// status must be "healthy" or "ok", and its storage layer must report
// healthy.
func (h *HealthDoc) Healthy() bool {
	if h == nil {
		return false
	}
	if h.Status != "healthy" && h.Status != "ok" {
		return false
	}
	return h.Storage.Healthy
}

// SubmissionReceipt is returned by the aggregator on a successful weight
// submission.
type SubmissionReceipt struct {
	WeightSubmissionID string `json:"weightSubmissionId"`
}

// StateRecord is the single persisted document tracked across process
// restarts: the last processed epoch, the watermark up to which history
// has been scored, the most recent per-miner scores, and the last block
// at which weights were emitted on-chain.
type StateRecord struct {
	LastEpochIndex  *int64             `json:"last_epoch_index,omitempty"`
	WatermarkToTS   *time.Time         `json:"watermark_to_ts,omitempty"`
	LastScores      map[string]float64 `json:"last_scores"`
	LastWeightBlock *int64             `json:"last_weight_block,omitempty"`
	LastSavedAt     float64            `json:"last_saved_at"`
}

// MetagraphSnapshot is an immutable view of subnet membership as of some
// cached block height.
type MetagraphSnapshot struct {
	UIDForHotkey    map[string]uint16 `json:"uid_for_hotkey"`
	Size            int               `json:"size"`
	ValidatorPermit bool              `json:"validator_permit"`
	ValidatorUID    *uint16           `json:"validator_uid,omitempty"`
	AtBlock         uint64            `json:"-"`
}
