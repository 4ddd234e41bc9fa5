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
	"time"

	"machinery/internal/logger"
	"machinery/internal/network"

	"github.com/rs/zerolog"
)

type inboundFrame struct {
	data string
	err  error
}

// RelayWorker owns one device's command session. It forwards queued
// commands one at a time and resolves each envelope with the device reply
// or the timeout sentinel.
type RelayWorker struct {
	session  *Session
	queue    <-chan *CommandEnvelope
	registry *Registry
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewRelayWorker(session *Session, queue <-chan *CommandEnvelope, registry *Registry, timeout time.Duration) *RelayWorker {
	return &RelayWorker{
		session:  session,
		queue:    queue,
		registry: registry,
		timeout:  timeout,
		logger: logger.GetLogger("controller.relay").With().
			Str("sensor_id", session.Identity).
			Str("session_id", session.ID.String()).
			Logger(),
	}
}

// Run serves the session until the connection fails or ctx is cancelled.
// On return the registry entry is gone, the connection is closed and
// every envelope that reached the queue has been resolved.
func (w *RelayWorker) Run(ctx context.Context) {
	inbound := make(chan inboundFrame)
	done := make(chan struct{})
	go w.readLoop(inbound, done)

	var inFlight *CommandEnvelope
	defer func() {
		w.teardown(inFlight)
		close(done)
	}()

	w.session.setState(StateRelaying)
	w.logger.Info().Str("remote_addr", w.session.RemoteAddr).Msg("Relay worker started")

	for {
		w.session.setPhase(PhaseIdle)
		select {
		case <-ctx.Done():
			w.logger.Debug().Msg("Relay worker cancelled")
			return

		case frame := <-inbound:
			if frame.err != nil {
				w.logDisconnect(frame.err)
				return
			}
			w.logger.Debug().Str("data", frame.data).Msg("Discarding unsolicited data")

		case env := <-w.queue:
			inFlight = env
			if !w.exchange(ctx, env, inbound) {
				return
			}
			inFlight = nil
		}
	}
}

// exchange forwards one command and resolves its sink. It returns false
// when the session can no longer be used.
//
// Frames carry no correlation id. Stale data is only discarded before a
// command is forwarded, so a reply to a timed out command that arrives
// after that point is taken as the answer to the command now in flight.
func (w *RelayWorker) exchange(ctx context.Context, env *CommandEnvelope, inbound <-chan inboundFrame) bool {
	log := w.logger.With().Str("command_id", env.ID.String()).Logger()

	// Bytes already sitting on the connection belong to an earlier,
	// timed out exchange.
	for drained := false; !drained; {
		select {
		case frame := <-inbound:
			if frame.err != nil {
				w.logDisconnect(frame.err)
				return false
			}
			log.Debug().Str("data", frame.data).Msg("Discarding stale data before forwarding")
		default:
			drained = true
		}
	}

	w.session.setPhase(PhaseForwarding)
	w.session.commands.Add(1)
	if err := network.WriteFrame(w.session.conn, env.Command, network.MaxCommandFrame); err != nil {
		w.logDisconnect(err)
		return false
	}
	log.Debug().Str("command", env.Command).Msg("Command forwarded")

	w.session.setPhase(PhaseAwaitingResponse)
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case frame := <-inbound:
		if frame.err != nil {
			w.logDisconnect(frame.err)
			return false
		}
		env.Sink.Resolve(frame.data)
		log.Debug().
			Str("response", frame.data).
			Dur("latency", time.Since(env.EnqueuedAt)).
			Msg("Command answered")
		return true

	case <-timer.C:
		w.session.timeouts.Add(1)
		env.Sink.Resolve(network.TimeoutSentinel)
		log.Warn().Dur("timeout", w.timeout).Msg("Command timed out, keeping session")
		return true

	case <-ctx.Done():
		return false
	}
}

func (w *RelayWorker) readLoop(inbound chan<- inboundFrame, done <-chan struct{}) {
	for {
		data, err := network.ReadFrame(w.session.conn, network.MaxStatusFrame)
		if err == nil {
			w.session.touch()
		}
		select {
		case inbound <- inboundFrame{data: data, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (w *RelayWorker) teardown(inFlight *CommandEnvelope) {
	w.session.conn.Close()
	w.session.setState(StateClosed)

	if inFlight != nil {
		inFlight.Sink.Resolve(network.TimeoutSentinel)
	}
	pending := w.registry.Release(w.session, w.queue)

	w.logger.Info().
		Int("pending_resolved", pending).
		Dur("uptime", time.Since(w.session.CreatedAt)).
		Msg("Relay worker stopped")
}

func (w *RelayWorker) logDisconnect(err error) {
	if network.IsExpectedClose(err) {
		w.logger.Info().Msg("Device disconnected")
		return
	}
	w.logger.Warn().Err(err).Msg("Device connection failed")
}
