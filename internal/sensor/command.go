package sensor

import (
	"context"
	"net"

	"machinery/internal/network"
)

// CommandHandler answers one command from the controller
type CommandHandler interface {
	Handle(command string) string
}

// HandlerFunc adapts a function to CommandHandler
type HandlerFunc func(command string) string

func (f HandlerFunc) Handle(command string) string {
	return f(command)
}

// NewCommandChannel returns a channel that serves controller commands with
// handler, one at a time, until the connection drops.
func NewCommandChannel(config ChannelConfig, handler CommandHandler) *Channel {
	if config.Name == "" {
		config.Name = "command"
	}
	var ch *Channel
	ch = newChannel(config, func(ctx context.Context, conn net.Conn) error {
		for {
			command, err := network.ReadFrame(conn, network.MaxCommandFrame)
			if err != nil {
				return err
			}

			reply := network.Truncate(handler.Handle(command), network.MaxStatusFrame-1)
			ch.logger.Debug().Str("command", command).Str("reply", reply).Msg("Command served")

			if err := network.WriteFrame(conn, reply+"\n", network.MaxStatusFrame); err != nil {
				return err
			}
		}
	})
	return ch
}
