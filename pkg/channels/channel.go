package channels

import (
	"context"

	"github.com/mendhq/mendbot/pkg/bus"
)

// Channel is one chat transport. Implementations publish inbound
// messages to the bus and deliver outbound replies.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}

// FileCapable channels can deliver generated files (calendar exports).
type FileCapable interface {
	SendFile(ctx context.Context, chatID, filename string, content []byte, caption string) error
}

// allowedSender reports whether senderID passes the allow list. An
// empty list allows everyone.
func allowedSender(allowFrom []string, senderID string) bool {
	if len(allowFrom) == 0 {
		return true
	}
	for _, allowed := range allowFrom {
		if allowed == senderID {
			return true
		}
	}
	return false
}
