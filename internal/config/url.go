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
	"fmt"
	"strings"
)

// URL represents the scheme and path of a validated endpoint, e.g. an
// aggregator base URL or a chain RPC URL. It exists so that config
// validation happens once, at startup, rather than at first use deep
// inside a component.
type URL struct {
	Scheme string
	Path   string
}

// parseURL parses a "scheme://path" string into a URL, rejecting inputs
// with no scheme.
func parseURL(s string) (URL, error) {
	parts := strings.SplitN(s, "://", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return URL{}, fmt.Errorf("invalid URL %q: missing scheme", s)
	}
	return URL{Scheme: parts[0], Path: parts[1]}, nil
}

// String reassembles the URL. A URL with no scheme renders as a bare
// path, matching how accounts.URL treated unscheme'd local paths.
func (u URL) String() string {
	if u.Scheme == "" {
		return u.Path
	}
	return u.Scheme + "://" + u.Path
}

// MarshalJSON implements json.Marshaler.
func (u URL) MarshalJSON() ([]byte, error) {
	return []byte(`"` + u.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *URL) UnmarshalJSON(input []byte) error {
	s := strings.Trim(string(input), `"`)
	parsed, err := parseURL(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Cmp orders two URLs lexicographically by scheme, then by path.
func (u URL) Cmp(other URL) int {
	if u.Scheme == other.Scheme {
		return strings.Compare(u.Path, other.Path)
	}
	return strings.Compare(u.Scheme, other.Scheme)
}
