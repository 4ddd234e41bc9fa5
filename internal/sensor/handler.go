package sensor

import (
	"strconv"
	"strings"
)

const (
	ReplyRunning = "running"
	ReplyUnknown = "unknown command"
	ReplyNone    = "none"
)

// DefaultHandler answers the built-in sensor commands
type DefaultHandler struct {
	Serial string
	Kind   string
	Cell   *SampleCell
}

func (h *DefaultHandler) Handle(command string) string {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "status":
		return ReplyRunning
	case "serial":
		return h.Serial
	case "kind":
		return h.Kind
	case "reading":
		if v, ok := h.Cell.Last(); ok {
			return strconv.FormatFloat(v, 'f', 2, 64)
		}
		return ReplyNone
	default:
		return ReplyUnknown
	}
}
