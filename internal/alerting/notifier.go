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

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
)

// Notifier 定义告警输送接口。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert domain.Alert) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
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

func (n *TelegramNotifier) Name() string { return "telegram" }

// Notify 调用 sendMessage API 推送渲染后的告警文本。
func (n *TelegramNotifier) Notify(ctx context.Context, alert domain.Alert) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(alert),
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
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram 返回 ok=false: %s", result.Description)
	}

	n.logger.Info().Str("alert_id", alert.ID).
		Str("monitor_id", alert.MonitorID).
		Str("urgency", string(alert.Urgency)).
		Msg("告警已发送 (Telegram)")
	return nil
}

// RenderMessage formats an alert as plain text.
func RenderMessage(alert domain.Alert) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[%s] %s\n", strings.ToUpper(string(alert.Urgency)), alert.Title))
	builder.WriteString(fmt.Sprintf("Generated: %s UTC\n", alert.GeneratedAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Priority: %s/10\n", decimal.NewFromFloat(alert.PriorityScore).StringFixed(1)))
	for _, f := range alert.Findings {
		line := fmt.Sprintf("Anomaly: %s %s severity %s", f.Metric, f.Kind, decimal.NewFromFloat(f.Severity).StringFixed(1))
		if f.Bounds != nil {
			line += fmt.Sprintf(" observed %s expected %s..%s",
				decimal.NewFromFloat(f.Observed).StringFixed(2),
				decimal.NewFromFloat(f.Bounds.Lower).StringFixed(2),
				decimal.NewFromFloat(f.Bounds.Upper).StringFixed(2))
		}
		if f.Stale {
			line += " (stale model)"
		}
		builder.WriteString(line + "\n")
	}
	for _, c := range alert.Changes {
		line := fmt.Sprintf("Change: %s [%s]", c.Title, c.Category)
		if c.PercentChange != 0 {
			line += fmt.Sprintf(" %s%%", decimal.NewFromFloat(c.PercentChange).StringFixed(1))
		}
		builder.WriteString(line + "\n")
	}
	if alert.Kind == domain.AlertKindMonitorPaused && alert.Message != "" {
		builder.WriteString(alert.Message)
	}
	return strings.TrimRight(builder.String(), "\n")
}

var _ Notifier = (*TelegramNotifier)(nil)
