// Package delivery sends rendered messages to subscribers through a channel gateway.
package delivery

import (
	"context"
	"time"

	"github.com/dukex/drip/pkg/models"
)

// OutboundMessage is one message addressed to a channel destination.
type OutboundMessage struct {
	Destination string
	Text        string
	FormatMode  string
}

// Result is the outcome reported by a gateway. Gateways never return Go
// errors for delivery failures; they are part of the result.
type Result struct {
	OK         bool
	MessageID  string
	Error      string
	RetryAfter time.Duration
}

// Gateway delivers messages to one channel.
type Gateway interface {
	Send(ctx context.Context, message OutboundMessage) Result
	// MaxLength is the longest text, in characters, the channel accepts.
	MaxLength() int
}

// Classify maps a gateway result to the recorded delivery status.
func Classify(result Result) models.DeliveryStatus {
	switch {
	case result.OK:
		return models.DeliveryStatusSent
	case result.RetryAfter > 0:
		return models.DeliveryStatusRateLimited
	default:
		return models.DeliveryStatusFailed
	}
}
