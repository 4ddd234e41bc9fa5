package sensor

import (
	"context"
	"crypto/tls"
	"sync/atomic"
	"testing"
	"time"

	"machinery/internal/network"
	"machinery/internal/testutil/tlstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetryChannelSendsOnlyNewestSample(t *testing.T) {
	ca := tlstest.NewAuthority(t, "machinery-ca")
	first := make(chan string, 1)
	proceed := make(chan struct{})
	rest := make(chan []string, 1)
	release := make(chan struct{})

	var sessions atomic.Int32
	fc := startFakeController(t, ca, "controller.machinery.com", func(conn *tls.Conn) {
		if sessions.Add(1) > 1 {
			<-release
			return
		}
		network.WriteFrame(conn, network.StatusOkay, network.MaxStatusFrame)

		frame, err := network.ReadFrame(conn, network.MaxStatusFrame)
		if err != nil {
			return
		}
		first <- frame
		<-proceed
		network.WriteFrame(conn, network.StatusOkay, network.MaxStatusFrame)

		var frames []string
		for {
			conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
			frame, err := network.ReadFrame(conn, network.MaxStatusFrame)
			if err != nil {
				break
			}
			frames = append(frames, frame)
			network.WriteFrame(conn, network.StatusOkay, network.MaxStatusFrame)
		}
		rest <- frames
		<-release
	})
	t.Cleanup(func() { close(release) })

	cell := NewSampleCell()
	cell.Publish(1)
	ch := NewTelemetryChannel(channelConfig(t, ca, fc.addr), "TMP-0042", cell, 2*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runChannel(t, ch, ctx)

	select {
	case frame := <-first:
		assert.Equal(t, "TMP-0042:1", frame)
	case <-time.After(5 * time.Second):
		t.Fatal("first sample not received")
	}

	// both arrive while the first acknowledgement is outstanding
	cell.Publish(2)
	cell.Publish(3)
	close(proceed)

	select {
	case frames := <-rest:
		assert.Equal(t, []string{"TMP-0042:3"}, frames)
	case <-time.After(5 * time.Second):
		t.Fatal("follow-up samples not received")
	}
}

func TestTelemetryAckTimeoutKeepsConnection(t *testing.T) {
	ca := tlstest.NewAuthority(t, "machinery-ca")
	frames := make(chan string, 4)
	release := make(chan struct{})

	fc := startFakeController(t, ca, "controller.machinery.com", func(conn *tls.Conn) {
		network.WriteFrame(conn, network.StatusOkay, network.MaxStatusFrame)
		conn.SetDeadline(time.Time{})
		for i := 0; i < 2; i++ {
			frame, err := network.ReadFrame(conn, network.MaxStatusFrame)
			if err != nil {
				return
			}
			frames <- frame
			// only the second sample is acknowledged
			if i == 1 {
				network.WriteFrame(conn, network.StatusOkay, network.MaxStatusFrame)
			}
		}
		<-release
	})
	t.Cleanup(func() { close(release) })

	cell := NewSampleCell()
	cell.Publish(10)
	ch := NewTelemetryChannel(channelConfig(t, ca, fc.addr), "TMP-0042", cell, 100*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runChannel(t, ch, ctx)

	assert.Equal(t, "TMP-0042:10", <-frames)
	time.Sleep(250 * time.Millisecond)
	cell.Publish(20.5)

	select {
	case frame := <-frames:
		assert.Equal(t, "TMP-0042:20.5", frame)
	case <-time.After(5 * time.Second):
		t.Fatal("second sample not received")
	}
	assert.Equal(t, 1, ch.Stats().Connections)
	assert.Equal(t, "connected", ch.Stats().State)
}

func TestSampleCell(t *testing.T) {
	cell := NewSampleCell()
	_, ok := cell.Take()
	assert.False(t, ok)
	_, ok = cell.Last()
	assert.False(t, ok)

	cell.Publish(1)
	cell.Publish(2)
	cell.Publish(3)

	select {
	case <-cell.C():
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-cell.C():
		t.Fatal("signal must not queue per publish")
	default:
	}

	v, ok := cell.Take()
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
	_, ok = cell.Take()
	assert.False(t, ok)

	last, ok := cell.Last()
	require.True(t, ok)
	assert.Equal(t, 3.0, last)
}

func TestSamplerRanges(t *testing.T) {
	ranges := map[string][2]float64{
		network.KindTemperature: {20, 100},
		network.KindVibration:   {0, 20},
		network.KindPressure:    {10, 100},
	}
	for kind, r := range ranges {
		s := NewSampler(kind, time.Minute, NewSampleCell())
		for i := 0; i < 200; i++ {
			v := s.Sample()
			assert.GreaterOrEqual(t, v, r[0], kind)
			assert.LessOrEqual(t, v, r[1], kind)
			assert.InDelta(t, v, float64(int64(v*100+0.5))/100, 1e-9, "rounded to two decimals")
		}
	}
}

func TestSamplerPublishesImmediately(t *testing.T) {
	cell := NewSampleCell()
	s := NewSampler(network.KindPressure, time.Hour, cell)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-cell.C():
	case <-time.After(2 * time.Second):
		t.Fatal("no sample published")
	}
	cancel()
	<-done
}
