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
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"machinery/internal/logger"
	"machinery/internal/network"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Daemon runs the controller: the command gate, the telemetry gate and the
// HTTP front-end, sharing one sensor store.
type Daemon struct {
	config    *Config
	store     *Store
	relay     *Registry
	telemetry *Registry
	cache     *ReadingCache

	commandGate   *Gate
	telemetryGate *Gate
	collector     *Collector
	api           *APIServer

	relayLn     net.Listener
	telemetryLn net.Listener
	apiLn       net.Listener

	logger zerolog.Logger
}

// NewDaemon wires the controller from config. The store is opened here
// and closed by Close.
func NewDaemon(config *Config) (*Daemon, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	tlsConfig, err := network.ServerTLSConfig(config.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to load tls material: %w", err)
	}

	store, err := OpenStore(config.Database.Path)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		config:    config,
		store:     store,
		relay:     NewRegistry(config.Relay.QueueDepth),
		telemetry: NewRegistry(1),
		cache:     NewReadingCache(config.Telemetry.CacheSize, config.StaleAfter()),
		logger:    logger.GetLogger("controller"),
	}

	resolver := NewResolver(store)
	commandTimeout := config.CommandTimeout()

	d.commandGate = NewGate(GateConfig{
		Name:             "relay",
		TLS:              tlsConfig,
		Backlog:          config.Server.Backlog,
		HandshakeTimeout: config.HandshakeTimeout(),
	}, resolver, d.relay, func(ctx context.Context, session *Session, queue <-chan *CommandEnvelope) {
		NewRelayWorker(session, queue, d.relay, commandTimeout).Run(ctx)
	})

	d.collector = NewCollector(d.telemetry, store, d.cache)
	d.telemetryGate = NewGate(GateConfig{
		Name:             "telemetry",
		TLS:              tlsConfig,
		Backlog:          config.Server.Backlog,
		HandshakeTimeout: config.HandshakeTimeout(),
	}, resolver, d.telemetry, d.collector.Serve)

	d.api = NewAPIServer(store, d.relay, d.telemetry, d.cache, config.API)

	return d, nil
}

// Listen binds all three listeners so that a port conflict fails startup
// before anything is served.
func (d *Daemon) Listen() error {
	var err error
	if d.relayLn, err = net.Listen("tcp", d.config.Server.Relay.Address); err != nil {
		return fmt.Errorf("failed to listen for relay: %w", err)
	}
	if d.telemetryLn, err = net.Listen("tcp", d.config.Server.Telemetry.Address); err != nil {
		d.relayLn.Close()
		return fmt.Errorf("failed to listen for telemetry: %w", err)
	}
	if d.apiLn, err = net.Listen("tcp", d.config.Server.API.Address); err != nil {
		d.relayLn.Close()
		d.telemetryLn.Close()
		return fmt.Errorf("failed to listen for api: %w", err)
	}
	return nil
}

func (d *Daemon) RelayAddr() net.Addr     { return d.relayLn.Addr() }
func (d *Daemon) TelemetryAddr() net.Addr { return d.telemetryLn.Addr() }
func (d *Daemon) APIAddr() net.Addr       { return d.apiLn.Addr() }

func (d *Daemon) Relay() *Registry { return d.relay }
func (d *Daemon) Store() *Store    { return d.store }

// Serve runs every component until ctx is cancelled or one of them fails
func (d *Daemon) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.commandGate.Serve(ctx, d.relayLn) })
	g.Go(func() error { return d.telemetryGate.Serve(ctx, d.telemetryLn) })
	g.Go(func() error { return d.api.Serve(ctx, d.apiLn) })
	g.Go(func() error {
		d.healthLoop(ctx)
		return nil
	})

	d.logger.Info().
		Str("relay", d.relayLn.Addr().String()).
		Str("telemetry", d.telemetryLn.Addr().String()).
		Str("api", d.apiLn.Addr().String()).
		Dur("command_timeout", d.config.CommandTimeout()).
		Msg("Controller started")

	err := g.Wait()
	d.logger.Info().Msg("Controller stopped")
	return err
}

// Run listens, serves and stops on SIGINT or SIGTERM
func (d *Daemon) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Listen(); err != nil {
		return err
	}
	return d.Serve(ctx)
}

func (d *Daemon) Close() error {
	return d.store.Close()
}

func (d *Daemon) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.logger.Debug().
				Int("relay_sessions", d.relay.Len()).
				Int("telemetry_sessions", d.telemetry.Len()).
				Int("cached_readings", d.cache.Len()).
				Msg("Health check")
		case <-ctx.Done():
			return
		}
	}
}
