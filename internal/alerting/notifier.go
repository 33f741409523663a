package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/credit-markets/vitalfi-data/internal/layout"
)

// Event describes a vault lifecycle transition worth reporting.
type Event struct {
	Vault             string
	VaultID           uint64
	From              layout.Status
	To                layout.Status
	TotalDeposited    decimal.Decimal
	PayoutNumerator   string
	PayoutDenominator string
	At                time.Time
}

// Notifier delivers lifecycle events to an external channel.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify delivers the event text via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, event Event) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(event),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("vault", event.Vault).
		Str("from", event.From.String()).
		Str("to", event.To.String()).
		Msg("alert sent (Telegram)")
	return nil
}

func renderMessage(event Event) string {
	builder := strings.Builder{}
	builder.WriteString("[VitalFi Vault Alert]\n")
	builder.WriteString(fmt.Sprintf("Vault: %s (id %d)\n", event.Vault, event.VaultID))
	builder.WriteString(fmt.Sprintf("Status: %s -> %s\n", event.From, event.To))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", event.At.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Total deposited: %s\n", event.TotalDeposited.String()))
	if event.To == layout.StatusMatured && event.PayoutDenominator != "" {
		builder.WriteString(fmt.Sprintf("Payout ratio: %s/%s\n", event.PayoutNumerator, event.PayoutDenominator))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
