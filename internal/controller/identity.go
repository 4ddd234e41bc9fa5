// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controller

import (
	"context"
	"errors"
	"strings"

	"machinery/internal/logger"

	"github.com/rs/zerolog"
)

var (
	ErrNoIdentity       = errors.New("controller: certificate carries no device identity")
	ErrUnknownClient    = errors.New("controller: device is not provisioned")
	ErrDuplicateSession = errors.New("controller: device already has a live session")
)

// Lookup answers whether a device identity is known and provisioned
type Lookup interface {
	IsProvisioned(ctx context.Context, identity string) (bool, error)
}

// LookupFunc adapts a plain function to Lookup
type LookupFunc func(ctx context.Context, identity string) (bool, error)

func (f LookupFunc) IsProvisioned(ctx context.Context, identity string) (bool, error) {
	return f(ctx, identity)
}

// ExtractIdentity returns the device identity encoded in a certificate
// common name: everything up to the first '.'.
func ExtractIdentity(commonName string) (string, error) {
	identity, _, _ := strings.Cut(strings.TrimSpace(commonName), ".")
	if identity == "" {
		return "", ErrNoIdentity
	}
	return identity, nil
}

// Resolver turns a verified certificate common name into a provisioned
// device identity.
type Resolver struct {
	lookup Lookup
	logger zerolog.Logger
}

func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{
		lookup: lookup,
		logger: logger.GetLogger("controller.identity"),
	}
}

// Resolve returns the device identity for commonName, or ErrNoIdentity /
// ErrUnknownClient. A failing lookup counts as unprovisioned.
func (r *Resolver) Resolve(ctx context.Context, commonName string) (string, error) {
	identity, err := ExtractIdentity(commonName)
	if err != nil {
		return "", err
	}

	ok, err := r.lookup.IsProvisioned(ctx, identity)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("sensor_id", identity).
			Msg("Identity lookup failed, treating device as unprovisioned")
		return "", ErrUnknownClient
	}
	if !ok {
		return "", ErrUnknownClient
	}
	return identity, nil
}
