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

package config

import (
	"testing"
)

func TestURLParsing(t *testing.T) {
	t.Parallel()
	url, err := parseURL("https://aggregator.example")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if url.Scheme != "https" {
		t.Errorf("expected: %v, got: %v", "https", url.Scheme)
	}
	if url.Path != "aggregator.example" {
		t.Errorf("expected: %v, got: %v", "aggregator.example", url.Path)
	}

	for _, u := range []string{"aggregator.example", ""} {
		if _, err = parseURL(u); err == nil {
			t.Errorf("input %v, expected err, got: nil", u)
		}
	}
}

func TestURLString(t *testing.T) {
	t.Parallel()
	url := URL{Scheme: "https", Path: "aggregator.example"}
	if url.String() != "https://aggregator.example" {
		t.Errorf("expected: %v, got: %v", "https://aggregator.example", url.String())
	}

	url = URL{Scheme: "", Path: "aggregator.example"}
	if url.String() != "aggregator.example" {
		t.Errorf("expected: %v, got: %v", "aggregator.example", url.String())
	}
}

func TestURLMarshalJSON(t *testing.T) {
	t.Parallel()
	url := URL{Scheme: "https", Path: "aggregator.example"}
	json, err := url.MarshalJSON()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if string(json) != "\"https://aggregator.example\"" {
		t.Errorf("expected: %v, got: %v", "\"https://aggregator.example\"", string(json))
	}
}

func TestURLUnmarshalJSON(t *testing.T) {
	t.Parallel()
	url := &URL{}
	err := url.UnmarshalJSON([]byte("\"https://aggregator.example\""))
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if url.Scheme != "https" {
		t.Errorf("expected: %v, got: %v", "https", url.Scheme)
	}
	if url.Path != "aggregator.example" {
		t.Errorf("expected: %v, got: %v", "aggregator.example", url.Path)
	}
}

func TestURLComparison(t *testing.T) {
	t.Parallel()
	tests := []struct {
		urlA   URL
		urlB   URL
		expect int
	}{
		{URL{"https", "aggregator.example"}, URL{"https", "aggregator.example"}, 0},
		{URL{"http", "aggregator.example"}, URL{"https", "aggregator.example"}, -1},
		{URL{"https", "aggregator.example/a"}, URL{"https", "aggregator.example"}, 1},
		{URL{"https", "abc.example"}, URL{"https", "aggregator.example"}, -1},
	}

	for i, tt := range tests {
		result := tt.urlA.Cmp(tt.urlB)
		if result != tt.expect {
			t.Errorf("test %d: cmp mismatch: expected: %d, got: %d", i, tt.expect, result)
		}
	}
}
