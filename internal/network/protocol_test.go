package network

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFrame(t *testing.T) {
	t.Run("trims trailing whitespace", func(t *testing.T) {
		got, err := ReadFrame(strings.NewReader("running\r\n"), MaxStatusFrame)
		require.NoError(t, err)
		assert.Equal(t, "running", got)
	})

	t.Run("keeps leading whitespace", func(t *testing.T) {
		got, err := ReadFrame(strings.NewReader("  ok \n"), MaxStatusFrame)
		require.NoError(t, err)
		assert.Equal(t, "  ok", got)
	})

	t.Run("caps read at frame size", func(t *testing.T) {
		got, err := ReadFrame(strings.NewReader(strings.Repeat("a", 200)), MaxCommandFrame)
		require.NoError(t, err)
		assert.Len(t, got, MaxCommandFrame)
	})

	t.Run("eof is connection lost", func(t *testing.T) {
		_, err := ReadFrame(strings.NewReader(""), MaxStatusFrame)
		assert.ErrorIs(t, err, ErrConnectionLost)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := ReadFrame(errReader{boom}, MaxStatusFrame)
		assert.ErrorIs(t, err, boom)
	})
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, "status", MaxCommandFrame))
	assert.Equal(t, "status", buf.String())

	buf.Reset()
	err := WriteFrame(&buf, strings.Repeat("x", MaxCommandFrame+1), MaxCommandFrame)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Zero(t, buf.Len())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "status", Truncate("status", 10))
	assert.Equal(t, "sta", Truncate("status", 3))
	assert.Equal(t, "", Truncate("status", 0))

	// "é" is two bytes; the cut backs off rather than split it
	assert.Equal(t, "aé", Truncate("aéé", 4))
	assert.Equal(t, "a", Truncate("aéé", 2))

	long := strings.Repeat("°", MaxStatusFrame)
	got := Truncate(long, MaxStatusFrame-1)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), MaxStatusFrame-1)
	assert.Greater(t, len(got), MaxStatusFrame-1-utf8.UTFMax)
}

func TestIsExpectedClose(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("read: %w", io.EOF), true},
		{"closed", net.ErrClosed, true},
		{"lost", ErrConnectionLost, true},
		{"epipe", &net.OpError{Op: "write", Err: syscall.EPIPE}, true},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"other", errors.New("tls: bad certificate"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpectedClose(tt.err))
		})
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestTelemetryFrame(t *testing.T) {
	frame := FormatTelemetry("TMP-0042", 73.25)
	assert.Equal(t, "TMP-0042:73.25", frame)

	serial, value, err := ParseTelemetry(frame)
	require.NoError(t, err)
	assert.Equal(t, "TMP-0042", serial)
	assert.Equal(t, 73.25, value)

	serial, _, err = ParseTelemetry("rack:2:TMP:1.5")
	require.NoError(t, err)
	assert.Equal(t, "rack:2:TMP", serial)

	for _, bad := range []string{"", "no-separator", ":1.0", "TMP-1:", "TMP-1:abc", "TMP-1:NaN", "TMP-1:+Inf"} {
		_, _, err := ParseTelemetry(bad)
		assert.ErrorIs(t, err, ErrMalformedTelemetry, bad)
	}
}

func TestValidKind(t *testing.T) {
	assert.True(t, ValidKind(KindTemperature))
	assert.True(t, ValidKind(KindVibration))
	assert.True(t, ValidKind(KindPressure))
	assert.False(t, ValidKind("humidity"))
}
