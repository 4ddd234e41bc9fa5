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

package sensor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"machinery/internal/logger"
	"machinery/internal/network"

	"github.com/rs/zerolog"
)

var (
	// ErrPeerIdentityMismatch means the controller presented a certificate
	// for a different name. Retrying cannot fix it.
	ErrPeerIdentityMismatch = errors.New("sensor: controller identity mismatch")
	// ErrServiceDenied means the controller refused this device
	ErrServiceDenied = errors.New("sensor: controller denied service")
)

// ChannelState represents the state of a channel
type ChannelState int

const (
	ChannelDisconnected ChannelState = iota
	ChannelConnecting
	ChannelConnected
	ChannelWaiting
	ChannelStopped
)

func (s ChannelState) String() string {
	switch s {
	case ChannelDisconnected:
		return "disconnected"
	case ChannelConnecting:
		return "connecting"
	case ChannelConnected:
		return "connected"
	case ChannelWaiting:
		return "waiting"
	case ChannelStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ChannelStats represents channel statistics
type ChannelStats struct {
	Attempts    int       `json:"attempts"`
	Connections int       `json:"connections"`
	Failures    int       `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
	LastConnect time.Time `json:"last_connect"`
	State       string    `json:"state"`
}

// ChannelConfig describes how a channel reaches the controller
type ChannelConfig struct {
	Name              string
	SensorID          string
	Address           string
	ExpectedPeer      string
	TLS               *tls.Config
	ReconnectInterval time.Duration
	DialTimeout       time.Duration
}

// serveFunc drives one established connection until it fails
type serveFunc func(ctx context.Context, conn net.Conn) error

// Channel keeps one self-healing connection to the controller. Transient
// failures are retried forever at a fixed interval; identity mismatches and
// explicit rejections stop the channel.
type Channel struct {
	config ChannelConfig
	serve  serveFunc
	logger zerolog.Logger

	mutex sync.RWMutex
	state ChannelState
	stats ChannelStats
}

func newChannel(config ChannelConfig, serve serveFunc) *Channel {
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = 10 * time.Second
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	return &Channel{
		config: config,
		serve:  serve,
		logger: logger.GetLogger("sensor.channel").With().
			Str("channel", config.Name).
			Str("sensor_id", config.SensorID).
			Logger(),
	}
}

// Run connects and serves until ctx is cancelled (returning nil) or a
// non-retryable error stops the channel.
func (c *Channel) Run(ctx context.Context) error {
	defer c.setState(ChannelStopped)

	for {
		established, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		switch {
		case errors.Is(err, ErrPeerIdentityMismatch), errors.Is(err, ErrServiceDenied):
			c.recordFailure(err)
			c.logger.Error().Err(err).Msg("Channel stopped")
			return err
		case established:
			// A working session ended; reconnect right away
			c.logger.Info().Err(err).Msg("Connection lost, reconnecting")
			continue
		default:
			c.recordFailure(err)
			c.logger.Warn().
				Err(err).
				Dur("retry_in", c.config.ReconnectInterval).
				Msg("Connection attempt failed")
		}

		c.setState(ChannelWaiting)
		select {
		case <-time.After(c.config.ReconnectInterval):
		case <-ctx.Done():
			return nil
		}
	}
}

// session runs one connection attempt. established reports whether the
// controller admitted the device before the session ended.
func (c *Channel) session(ctx context.Context) (established bool, err error) {
	c.setState(ChannelConnecting)
	c.mutex.Lock()
	c.stats.Attempts++
	c.mutex.Unlock()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: c.config.DialTimeout},
		Config:    c.config.TLS,
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	conn, err := dialer.DialContext(dialCtx, "tcp", c.config.Address)
	cancel()
	if err != nil {
		return false, fmt.Errorf("failed to connect to %s: %w", c.config.Address, err)
	}
	defer conn.Close()

	peer, err := network.PeerCommonName(conn.(*tls.Conn).ConnectionState())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPeerIdentityMismatch, err)
	}
	if peer != c.config.ExpectedPeer {
		return false, fmt.Errorf("%w: got %q, want %q", ErrPeerIdentityMismatch, peer, c.config.ExpectedPeer)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.SetReadDeadline(time.Now().Add(c.config.DialTimeout)); err != nil {
		return false, err
	}
	status, err := network.ReadFrame(conn, network.MaxStatusFrame)
	if err != nil {
		return false, fmt.Errorf("failed to read controller status: %w", err)
	}
	if status != network.StatusOkay {
		return false, fmt.Errorf("%w: %s", ErrServiceDenied, status)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return false, err
	}

	c.setState(ChannelConnected)
	c.mutex.Lock()
	c.stats.Connections++
	c.stats.LastConnect = time.Now()
	c.mutex.Unlock()
	c.logger.Info().Str("address", c.config.Address).Msg("Connected to controller")

	return true, c.serve(ctx, conn)
}

func (c *Channel) setState(state ChannelState) {
	c.mutex.Lock()
	c.state = state
	c.mutex.Unlock()
}

func (c *Channel) recordFailure(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.stats.Failures++
	if err != nil {
		c.stats.LastError = err.Error()
	}
}

// Stats returns channel statistics
func (c *Channel) Stats() ChannelStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	stats := c.stats
	stats.State = c.state.String()
	return stats
}
