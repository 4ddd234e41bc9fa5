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

package network

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"strings"
	"syscall"
	"unicode/utf8"
)

// Status tokens written by the controller right after the TLS handshake
const (
	StatusOkay          = "okay"
	StatusUnknownClient = "Unknown client"
	StatusDuplicate     = "Client already exists"

	// StatusInvalid acknowledges a telemetry frame that could not be parsed
	StatusInvalid = "invalid"
)

// TimeoutSentinel is delivered to a command's response sink when the device
// did not answer within the command timeout. Device replies are trimmed of
// trailing whitespace, so a reply never needs to collide with it in practice.
const TimeoutSentinel = "timeout"

// Frame sizes. Frames carry no length prefix, a reader takes at most this
// many bytes per read.
const (
	MaxCommandFrame = 64
	MaxStatusFrame  = 128
)

// Sensor kinds
const (
	KindTemperature = "temperature"
	KindVibration   = "vibration"
	KindPressure    = "pressure"
)

// ValidKind reports whether kind is a known sensor kind
func ValidKind(kind string) bool {
	switch kind {
	case KindTemperature, KindVibration, KindPressure:
		return true
	}
	return false
}

var (
	ErrConnectionLost = errors.New("network: connection lost")
	ErrEmptyFrame     = errors.New("network: empty frame")
	ErrFrameTooLarge  = errors.New("network: frame too large")
)

// ReadFrame reads a single frame of up to max bytes and trims trailing
// whitespace. A zero-length read is reported as ErrConnectionLost.
func ReadFrame(r io.Reader, max int) (string, error) {
	buf := make([]byte, max)
	n, err := r.Read(buf)
	if n > 0 {
		return strings.TrimRight(string(buf[:n]), " \t\r\n"), nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return "", ErrConnectionLost
	}
	return "", err
}

// WriteFrame writes s as a single frame. Frames larger than max are refused
// before anything touches the wire.
func WriteFrame(w io.Writer, s string, max int) error {
	if len(s) > max {
		return fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, len(s), max)
	}
	_, err := io.WriteString(w, s)
	return err
}

// Truncate shortens s to at most n bytes without splitting a UTF-8
// sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// IsExpectedClose reports whether err is an ordinary end of a connection:
// peer EOF, a locally closed socket, broken pipe or connection reset.
func IsExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrConnectionLost) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// IsTimeout reports whether err is a deadline expiry
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var ErrMalformedTelemetry = errors.New("network: malformed telemetry frame")

// FormatTelemetry renders a telemetry frame as "<serial>:<value>"
func FormatTelemetry(serial string, value float64) string {
	return serial + ":" + strconv.FormatFloat(value, 'f', -1, 64)
}

// ParseTelemetry splits a telemetry frame on its last ':'
func ParseTelemetry(frame string) (string, float64, error) {
	i := strings.LastIndexByte(frame, ':')
	if i <= 0 || i == len(frame)-1 {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedTelemetry, frame)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(frame[i+1:]), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return "", 0, fmt.Errorf("%w: bad value in %q", ErrMalformedTelemetry, frame)
	}
	return frame[:i], value, nil
}
