package sensor

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"machinery/internal/network"
	"machinery/internal/testutil/tlstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idleServe(ctx context.Context, conn net.Conn) error {
	_, err := network.ReadFrame(conn, network.MaxCommandFrame)
	return err
}

func runChannel(t *testing.T, ch *Channel, ctx context.Context) chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- ch.Run(ctx) }()
	return errc
}

func TestChannelRetriesAtFixedInterval(t *testing.T) {
	ca := tlstest.NewAuthority(t, "machinery-ca")
	cfg := channelConfig(t, ca, closedAddress(t))
	cfg.ReconnectInterval = 100 * time.Millisecond
	ch := newChannel(cfg, idleServe)

	ctx, cancel := context.WithTimeout(context.Background(), 550*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := <-runChannel(t, ch, ctx)
	require.NoError(t, err)

	stats := ch.Stats()
	elapsed := time.Since(start)
	// one attempt immediately, then one per interval
	maxAttempts := int(elapsed/cfg.ReconnectInterval) + 1
	assert.GreaterOrEqual(t, stats.Attempts, 4)
	assert.LessOrEqual(t, stats.Attempts, maxAttempts)
	assert.Equal(t, stats.Attempts, stats.Failures)
	assert.Zero(t, stats.Connections)
	assert.Equal(t, "stopped", stats.State)
}

func TestChannelStopsOnIdentityMismatch(t *testing.T) {
	ca := tlstest.NewAuthority(t, "machinery-ca")
	fc := startFakeController(t, ca, "impostor.machinery.com", func(conn *tls.Conn) {
		network.WriteFrame(conn, network.StatusOkay, network.MaxStatusFrame)
	})

	ch := newChannel(channelConfig(t, ca, fc.addr), idleServe)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := <-runChannel(t, ch, ctx)
	assert.ErrorIs(t, err, ErrPeerIdentityMismatch)

	// give a wrongly scheduled retry the chance to show up
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, ch.Stats().Attempts)
	assert.Zero(t, ch.Stats().Connections)
}

func TestChannelStopsWhenDenied(t *testing.T) {
	ca := tlstest.NewAuthority(t, "machinery-ca")
	fc := startFakeController(t, ca, "controller.machinery.com", func(conn *tls.Conn) {
		network.WriteFrame(conn, network.StatusUnknownClient, network.MaxStatusFrame)
	})

	ch := newChannel(channelConfig(t, ca, fc.addr), idleServe)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := <-runChannel(t, ch, ctx)
	assert.ErrorIs(t, err, ErrServiceDenied)
	assert.Contains(t, err.Error(), network.StatusUnknownClient)
	assert.Equal(t, 1, ch.Stats().Attempts)
}

func TestChannelReconnectsAfterDisconnect(t *testing.T) {
	ca := tlstest.NewAuthority(t, "machinery-ca")
	fc := startFakeController(t, ca, "controller.machinery.com", func(conn *tls.Conn) {
		network.WriteFrame(conn, network.StatusOkay, network.MaxStatusFrame)
		// drop the device right after admitting it
	})

	cfg := channelConfig(t, ca, fc.addr)
	cfg.ReconnectInterval = time.Hour
	ch := newChannel(cfg, idleServe)
	ctx, cancel := context.WithCancel(context.Background())
	errc := runChannel(t, ch, ctx)

	require.Eventually(t, func() bool { return ch.Stats().Connections >= 3 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-errc)
}

func TestChannelRetriesWhenHandshakeFails(t *testing.T) {
	ca := tlstest.NewAuthority(t, "machinery-ca")
	rogue := tlstest.NewAuthority(t, "rogue-ca")
	fc := startFakeController(t, rogue, "controller.machinery.com", func(conn *tls.Conn) {})

	ch := newChannel(channelConfig(t, ca, fc.addr), idleServe)
	ctx, cancel := context.WithCancel(context.Background())
	errc := runChannel(t, ch, ctx)

	require.Eventually(t, func() bool { return ch.Stats().Attempts >= 3 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-errc)
	assert.Zero(t, ch.Stats().Connections)
}
