package network

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"machinery/internal/testutil/tlstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handshakePair(t *testing.T, server, client *tls.Config) (*tls.Conn, *tls.Conn, error, error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		conn *tls.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			done <- result{err: err}
			return
		}
		t.Cleanup(func() { raw.Close() })
		srv := tls.Server(raw, server)
		done <- result{conn: srv, err: srv.HandshakeContext(ctx)}
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	cli := tls.Client(raw, client)
	cerr := cli.HandshakeContext(ctx)
	if cerr == nil {
		// TLS 1.3 reports client certificate failures on the first read
		_ = cli.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		_, _ = cli.Read(make([]byte, 1))
	}
	res := <-done
	return res.conn, cli, res.err, cerr
}

func TestMutualHandshake(t *testing.T) {
	ca := tlstest.NewAuthority(t, "machinery-ca")
	srvPair := ca.IssueServer(t, "controller.machinery.com")
	devPair := ca.IssueClient(t, "sensor-42.example")

	serverCfg, err := ServerTLSConfig(TLSFiles{CAFile: ca.CAFile(), CertFile: srvPair.CertFile, KeyFile: srvPair.KeyFile})
	require.NoError(t, err)
	clientCfg, err := ClientTLSConfig(TLSFiles{CAFile: ca.CAFile(), CertFile: devPair.CertFile, KeyFile: devPair.KeyFile})
	require.NoError(t, err)

	srv, cli, serr, cerr := handshakePair(t, serverCfg, clientCfg)
	require.NoError(t, serr)
	require.NoError(t, cerr)

	cn, err := PeerCommonName(srv.ConnectionState())
	require.NoError(t, err)
	assert.Equal(t, "sensor-42.example", cn)

	cn, err = PeerCommonName(cli.ConnectionState())
	require.NoError(t, err)
	assert.Equal(t, "controller.machinery.com", cn)
}

func TestClientRejectsForeignController(t *testing.T) {
	ca := tlstest.NewAuthority(t, "machinery-ca")
	rogue := tlstest.NewAuthority(t, "rogue-ca")
	srvPair := rogue.IssueServer(t, "controller.machinery.com")
	devPair := ca.IssueClient(t, "sensor-42.example")

	serverCfg, err := ServerTLSConfig(TLSFiles{CAFile: ca.CAFile(), CertFile: srvPair.CertFile, KeyFile: srvPair.KeyFile})
	require.NoError(t, err)
	clientCfg, err := ClientTLSConfig(TLSFiles{CAFile: ca.CAFile(), CertFile: devPair.CertFile, KeyFile: devPair.KeyFile})
	require.NoError(t, err)

	_, _, _, cerr := handshakePair(t, serverCfg, clientCfg)
	assert.Error(t, cerr)
}

func TestServerRejectsUnsignedDevice(t *testing.T) {
	ca := tlstest.NewAuthority(t, "machinery-ca")
	rogue := tlstest.NewAuthority(t, "rogue-ca")
	srvPair := ca.IssueServer(t, "controller.machinery.com")
	devPair := rogue.IssueClient(t, "sensor-42.example")

	serverCfg, err := ServerTLSConfig(TLSFiles{CAFile: ca.CAFile(), CertFile: srvPair.CertFile, KeyFile: srvPair.KeyFile})
	require.NoError(t, err)
	clientCfg, err := ClientTLSConfig(TLSFiles{CAFile: ca.CAFile(), CertFile: devPair.CertFile, KeyFile: devPair.KeyFile})
	require.NoError(t, err)

	_, _, serr, _ := handshakePair(t, serverCfg, clientCfg)
	assert.Error(t, serr)
}

func TestLoadCertPoolMissingFile(t *testing.T) {
	_, err := LoadCertPool("/nonexistent/ca.crt")
	assert.Error(t, err)
}

func TestPeerCommonNameWithoutCertificate(t *testing.T) {
	_, err := PeerCommonName(tls.ConnectionState{})
	assert.ErrorIs(t, err, ErrNoPeerCertificate)
}
