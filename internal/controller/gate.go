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
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"machinery/internal/logger"
	"machinery/internal/network"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// SessionHandler takes ownership of an admitted session. It must release
// the registry entry and close the connection before returning.
type SessionHandler func(ctx context.Context, session *Session, queue <-chan *CommandEnvelope)

// GateConfig configures one mutually authenticated listener
type GateConfig struct {
	Name             string
	TLS              *tls.Config
	Backlog          int
	HandshakeTimeout time.Duration
}

// Gate accepts device connections, authenticates them and hands each
// admitted session to its handler.
type Gate struct {
	config   GateConfig
	resolver *Resolver
	registry *Registry
	handler  SessionHandler
	pending  *semaphore.Weighted
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

func NewGate(config GateConfig, resolver *Resolver, registry *Registry, handler SessionHandler) *Gate {
	if config.Backlog <= 0 {
		config.Backlog = 50
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	return &Gate{
		config:   config,
		resolver: resolver,
		registry: registry,
		handler:  handler,
		pending:  semaphore.NewWeighted(int64(config.Backlog)),
		logger:   logger.GetLogger("controller.gate").With().Str("listener", config.Name).Logger(),
	}
}

// Serve runs the accept loop on ln. A failing connection never stops the
// loop; only closing the listener or cancelling ctx does. Serve returns
// after every session it started has ended.
func (g *Gate) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer g.wg.Wait()

	g.logger.Info().Str("address", ln.Addr().String()).Msg("Gate listening")

	for {
		raw, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				g.logger.Info().Msg("Gate stopped")
				return nil
			}
			g.logger.Error().Err(err).Msg("Accept failed")
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
			}
			continue
		}

		// Bounds connections sitting in the handshake, like a listen backlog
		if err := g.pending.Acquire(ctx, 1); err != nil {
			raw.Close()
			continue
		}

		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.admit(ctx, raw)
		}()
	}
}

func (g *Gate) admit(ctx context.Context, raw net.Conn) {
	admitted := false
	defer func() {
		if !admitted {
			g.pending.Release(1)
		}
	}()

	log := g.logger.With().Str("remote_addr", raw.RemoteAddr().String()).Logger()

	conn := tls.Server(raw, g.config.TLS)
	session := newSession(conn)

	hctx, cancel := context.WithTimeout(ctx, g.config.HandshakeTimeout)
	err := conn.HandshakeContext(hctx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("TLS handshake failed")
		raw.Close()
		return
	}

	commonName, err := network.PeerCommonName(conn.ConnectionState())
	if err == nil {
		session.Identity, err = g.resolver.Resolve(ctx, commonName)
	}
	if err != nil {
		log.Warn().Err(err).Str("common_name", commonName).Msg("Rejecting unknown client")
		g.reject(conn, network.StatusUnknownClient)
		return
	}
	session.setState(StateAuthenticated)
	log = log.With().Str("sensor_id", session.Identity).Logger()

	queue, err := g.registry.Register(session)
	if err != nil {
		log.Warn().Msg("Rejecting duplicate connection")
		g.reject(conn, network.StatusDuplicate)
		return
	}

	if err := g.sendStatus(conn, network.StatusOkay); err != nil {
		log.Warn().Err(err).Msg("Failed to acknowledge device")
		conn.Close()
		if n := g.registry.Release(session, queue); n > 0 {
			log.Debug().Int("pending_resolved", n).Msg("Resolved commands queued before acknowledgement")
		}
		return
	}

	admitted = true
	g.pending.Release(1)
	log.Info().Str("session_id", session.ID.String()).Msg("Device admitted")

	g.handler(ctx, session, queue)
}

func (g *Gate) reject(conn net.Conn, status string) {
	_ = g.sendStatus(conn, status)
	conn.Close()
}

func (g *Gate) sendStatus(conn net.Conn, status string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(g.config.HandshakeTimeout)); err != nil {
		return err
	}
	if err := network.WriteFrame(conn, status, network.MaxStatusFrame); err != nil {
		return err
	}
	return conn.SetWriteDeadline(time.Time{})
}
