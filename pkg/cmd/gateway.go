package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/drip/pkg/delivery"
)

// GatewayConfig selects and configures the delivery channel.
type GatewayConfig struct {
	Type          string
	TelegramToken string
	TelegramURL   string
	Timeout       time.Duration
}

// NewGateway creates the telegram gateway, or the log gateway for local runs.
func NewGateway(config GatewayConfig, logger *slog.Logger) (delivery.Gateway, error) {
	switch config.Type {
	case "telegram":
		if config.TelegramToken == "" {
			return nil, errors.New("telegram gateway requires a bot token")
		}

		return delivery.NewTelegramGateway(logger, config.TelegramToken, config.TelegramURL, config.Timeout), nil
	case "log", "":
		return delivery.NewLogGateway(logger, delivery.TelegramMaxLength), nil
	default:
		return nil, fmt.Errorf("unsupported gateway type: %s", config.Type)
	}
}
