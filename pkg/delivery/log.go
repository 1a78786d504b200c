package delivery

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
)

// LogGateway writes messages to the logger instead of a real channel.
type LogGateway struct {
	logger    *slog.Logger
	maxLength int
	sent      atomic.Int64
}

func NewLogGateway(logger *slog.Logger, maxLength int) *LogGateway {
	return &LogGateway{
		logger:    logger.With("module", "log_gateway"),
		maxLength: maxLength,
	}
}

func (g *LogGateway) MaxLength() int {
	return g.maxLength
}

func (g *LogGateway) Send(ctx context.Context, message OutboundMessage) Result {
	id := g.sent.Add(1)

	g.logger.InfoContext(ctx, "Message delivered",
		"destination", message.Destination,
		"format_mode", message.FormatMode,
		"text", message.Text,
		"message_id", id,
	)

	return Result{OK: true, MessageID: strconv.FormatInt(id, 10)}
}
