// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.
//
// The subnet-validator library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation, either version 3
// of the License, or (at your option) any later version.

package aggregator

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CanonicalWeightsPayload builds the exact newline-delimited string the
// aggregator signs over for a weight submission. The server performs
// the identical construction and verifies the submitted signature
// against it, so every formatting choice here (key sort order, decimal
// formatting, the empty-weights literal) is part of the wire contract,
// not a style preference.
func CanonicalWeightsPayload(
	validatorID, epochKey string,
	timestamp time.Time,
	blockNumber *int64,
	weights map[string]float64,
	totalSimulations, validMiners, totalMiners int,
	burnPercentage float64,
) string {
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = formatWeight(weights[k])
	}

	weightsLine := strings.Join(keys, ",") + ":" + strings.Join(values, ",")

	blockStr := ""
	if blockNumber != nil {
		blockStr = strconv.FormatInt(*blockNumber, 10)
	}

	lines := []string{
		"validator-weights",
		validatorID,
		epochKey,
		timestamp.UTC().Format(time.RFC3339),
		blockStr,
		weightsLine,
		strconv.Itoa(totalSimulations),
		strconv.Itoa(validMiners),
		strconv.Itoa(totalMiners),
		formatWeight(burnPercentage),
	}
	return strings.Join(lines, "\n")
}

// formatWeight renders a float with up to 12 fractional digits,
// stripping trailing zeros, collapsing an exact zero to "0".
func formatWeight(v float64) string {
	if v == 0 {
		return "0"
	}
	s := strconv.FormatFloat(v, 'f', 12, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// hexSignature renders a 64-byte signature as the "0x"-prefixed hex
// string the aggregator expects.
func hexSignature(sig [64]byte) string {
	return hexutil.Encode(sig[:])
}
