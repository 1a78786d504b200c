package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	// TelegramMaxLength is the Bot API limit for sendMessage text.
	TelegramMaxLength = 4096

	defaultTelegramURL = "https://api.telegram.org"
)

// TelegramGateway sends messages with the Telegram Bot API sendMessage method.
type TelegramGateway struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

type telegramRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Parameters struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// NewTelegramGateway creates a gateway for the bot token. An empty baseURL
// uses the public Bot API.
func NewTelegramGateway(logger *slog.Logger, token, baseURL string, timeout time.Duration) *TelegramGateway {
	if baseURL == "" {
		baseURL = defaultTelegramURL
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &TelegramGateway{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("module", "telegram_gateway"),
	}
}

func (g *TelegramGateway) MaxLength() int {
	return TelegramMaxLength
}

func (g *TelegramGateway) Send(ctx context.Context, message OutboundMessage) Result {
	body, err := json.Marshal(telegramRequest{
		ChatID:    message.Destination,
		Text:      message.Text,
		ParseMode: message.FormatMode,
	})
	if err != nil {
		return Result{Error: fmt.Sprintf("failed to encode request: %v", err)}
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", g.baseURL, g.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("failed to create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{Error: fmt.Sprintf("request failed: %v", g.redact(err))}
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{Error: fmt.Sprintf("failed to read response: %v", err)}
	}

	var parsed telegramResponse

	// Proxies may answer 429 with a plain body; the header still counts.
	parseErr := json.Unmarshal(respBody, &parsed)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parsed.Parameters.RetryAfter
		if retryAfter <= 0 {
			retryAfter, _ = strconv.Atoi(resp.Header.Get("Retry-After"))
		}

		if retryAfter <= 0 {
			retryAfter = 1
		}

		g.logger.WarnContext(ctx, "Telegram rate limit hit", "retry_after", retryAfter)

		description := parsed.Description
		if description == "" {
			description = http.StatusText(resp.StatusCode)
		}

		return Result{Error: description, RetryAfter: time.Duration(retryAfter) * time.Second}
	}

	if parseErr != nil {
		return Result{Error: fmt.Sprintf("HTTP %d: unexpected response", resp.StatusCode)}
	}

	if !parsed.OK || resp.StatusCode >= 400 {
		return Result{Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, parsed.Description)}
	}

	return Result{OK: true, MessageID: strconv.FormatInt(parsed.Result.MessageID, 10)}
}

// redact keeps the bot token out of transport errors, which embed the URL.
func (g *TelegramGateway) redact(err error) string {
	return string(bytes.ReplaceAll([]byte(err.Error()), []byte(g.token), []byte("<token>")))
}
