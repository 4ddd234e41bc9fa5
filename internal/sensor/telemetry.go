package sensor

import (
	"context"
	"net"
	"time"

	"machinery/internal/network"
)

// NewTelemetryChannel returns a channel that pushes each new sample from
// cell as "<serial>:<value>" and waits up to ackTimeout for the
// controller's acknowledgement. A missing acknowledgement is logged and
// does not drop the connection.
func NewTelemetryChannel(config ChannelConfig, serial string, cell *SampleCell, ackTimeout time.Duration) *Channel {
	if config.Name == "" {
		config.Name = "telemetry"
	}
	if ackTimeout <= 0 {
		ackTimeout = 5 * time.Second
	}
	var ch *Channel
	ch = newChannel(config, func(ctx context.Context, conn net.Conn) error {
		for {
			select {
			case <-cell.C():
			case <-ctx.Done():
				return ctx.Err()
			}
			value, ok := cell.Take()
			if !ok {
				continue
			}

			frame := network.FormatTelemetry(serial, value)
			if err := network.WriteFrame(conn, frame, network.MaxStatusFrame); err != nil {
				// The sample is lost with the connection; the next one
				// goes out on the new session.
				return err
			}

			if err := conn.SetReadDeadline(time.Now().Add(ackTimeout)); err != nil {
				return err
			}
			ack, err := network.ReadFrame(conn, network.MaxStatusFrame)
			if err != nil && !network.IsTimeout(err) {
				return err
			}
			if err := conn.SetReadDeadline(time.Time{}); err != nil {
				return err
			}

			switch {
			case err != nil:
				ch.logger.Warn().Float64("value", value).Dur("ack_timeout", ackTimeout).Msg("Telemetry acknowledgement timed out")
			case ack != network.StatusOkay:
				ch.logger.Warn().Float64("value", value).Str("ack", ack).Msg("Telemetry sample refused")
			default:
				ch.logger.Debug().Float64("value", value).Msg("Telemetry sample acknowledged")
			}
		}
	})
	return ch
}
