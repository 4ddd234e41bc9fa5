package controller

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"machinery/internal/network"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeSession returns a session on one end of an in-memory connection and
// the device end.
func pipeSession(t *testing.T, identity string) (*Session, net.Conn) {
	t.Helper()
	server, device := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		device.Close()
	})
	s := newSession(server)
	s.Identity = identity
	return s, device
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry(4)
	first, _ := pipeSession(t, "sensor-42")
	second, _ := pipeSession(t, "sensor-42")

	queue, err := r.Register(first)
	require.NoError(t, err)
	require.NotNil(t, queue)
	assert.True(t, r.Connected("sensor-42"))

	_, err = r.Register(second)
	assert.ErrorIs(t, err, ErrDuplicateSession)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryEnqueueAbsent(t *testing.T) {
	r := NewRegistry(4)
	env := NewCommandEnvelope("status")

	assert.False(t, r.Enqueue("sensor-42", env))
	assert.Equal(t, 0, r.Len())
	select {
	case v := <-env.Sink.C():
		t.Fatalf("sink resolved with %q", v)
	default:
	}
}

func TestRegistryEnqueueFullQueue(t *testing.T) {
	r := NewRegistry(2)
	s, _ := pipeSession(t, "sensor-42")
	queue, err := r.Register(s)
	require.NoError(t, err)

	first, ok := r.Submit("sensor-42", "a")
	require.True(t, ok)
	_, ok = r.Submit("sensor-42", "b")
	require.True(t, ok)
	_, ok = r.Submit("sensor-42", "c")
	assert.False(t, ok)

	assert.Same(t, first, <-queue)
}

func TestRegistryUnregisterOnlyOwnSession(t *testing.T) {
	r := NewRegistry(1)
	old, _ := pipeSession(t, "sensor-42")
	current, _ := pipeSession(t, "sensor-42")

	_, err := r.Register(old)
	require.NoError(t, err)
	assert.True(t, r.Unregister(old))
	assert.False(t, r.Connected("sensor-42"))

	_, err = r.Register(current)
	require.NoError(t, err)

	// A late teardown of the old session must not evict the new one
	assert.False(t, r.Unregister(old))
	assert.True(t, r.Connected("sensor-42"))
}

func TestRegistryConcurrentRegister(t *testing.T) {
	r := NewRegistry(1)
	const attempts = 32

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		s, _ := pipeSession(t, "sensor-42")
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := r.Register(s); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, r.Len())
}

func TestRegistryReleaseResolvesQueued(t *testing.T) {
	r := NewRegistry(4)
	session, _ := pipeSession(t, "sensor-42")
	queue, err := r.Register(session)
	require.NoError(t, err)

	first, ok := r.Submit("sensor-42", "status")
	require.True(t, ok)
	second, ok := r.Submit("sensor-42", "reading")
	require.True(t, ok)

	assert.Equal(t, 2, r.Release(session, queue))
	assert.False(t, r.Connected("sensor-42"))
	assert.Equal(t, network.TimeoutSentinel, <-first.Sink.C())
	assert.Equal(t, network.TimeoutSentinel, <-second.Sink.C())

	_, ok = r.Submit("sensor-42", "status")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Release(session, queue))
}

func TestRegistrySessions(t *testing.T) {
	r := NewRegistry(1)
	b, _ := pipeSession(t, "sensor-b")
	a, _ := pipeSession(t, "sensor-a")
	_, err := r.Register(b)
	require.NoError(t, err)
	_, err = r.Register(a)
	require.NoError(t, err)

	infos := r.Sessions()
	require.Len(t, infos, 2)
	assert.Equal(t, "sensor-a", infos[0].Identity)
	assert.Equal(t, "sensor-b", infos[1].Identity)
	assert.Equal(t, "handshaking", infos[0].State)
}

func TestResponseSinkResolvesOnce(t *testing.T) {
	sink := NewResponseSink()
	assert.True(t, sink.Resolve("running"))
	assert.False(t, sink.Resolve("timeout"))

	assert.Equal(t, "running", <-sink.C())
	select {
	case v := <-sink.C():
		t.Fatalf("second value %q delivered", v)
	default:
	}
}
