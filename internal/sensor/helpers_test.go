package sensor

import (
	"crypto/tls"
	"net"
	"sync"
	"testing"
	"time"

	"machinery/internal/network"
	"machinery/internal/testutil/tlstest"

	"github.com/stretchr/testify/require"
)

// fakeController is a TLS listener that runs handle for every device
// connection.
type fakeController struct {
	addr string
	ca   *tlstest.Authority
	wg   sync.WaitGroup
}

func startFakeController(t *testing.T, ca *tlstest.Authority, commonName string, handle func(conn *tls.Conn)) *fakeController {
	t.Helper()
	pair := ca.IssueServer(t, commonName)
	cfg, err := network.ServerTLSConfig(network.TLSFiles{CAFile: ca.CAFile(), CertFile: pair.CertFile, KeyFile: pair.KeyFile})
	require.NoError(t, err)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", cfg)
	require.NoError(t, err)

	fc := &fakeController{addr: ln.Addr().String(), ca: ca}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			fc.wg.Add(1)
			go func() {
				defer fc.wg.Done()
				defer conn.Close()
				tconn := conn.(*tls.Conn)
				_ = tconn.SetDeadline(time.Now().Add(5 * time.Second))
				if err := tconn.Handshake(); err != nil {
					return
				}
				handle(tconn)
			}()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		fc.wg.Wait()
	})
	return fc
}

func channelConfig(t *testing.T, ca *tlstest.Authority, address string) ChannelConfig {
	t.Helper()
	pair := ca.IssueClient(t, "sensor-42.example")
	cfg, err := network.ClientTLSConfig(network.TLSFiles{CAFile: ca.CAFile(), CertFile: pair.CertFile, KeyFile: pair.KeyFile})
	require.NoError(t, err)
	return ChannelConfig{
		SensorID:          "sensor-42",
		Address:           address,
		ExpectedPeer:      "controller.machinery.com",
		TLS:               cfg,
		ReconnectInterval: 50 * time.Millisecond,
		DialTimeout:       time.Second,
	}
}

// closedAddress returns an address nothing listens on
func closedAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}
