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
)

// Notification kinds.
const (
	KindThresholdAlert = "alert"
	KindDailyReport    = "daily_report"
)

// Notification 封装一次通知的上下文。
type Notification struct {
	Kind       string
	Rate       decimal.Decimal
	TargetRate decimal.Decimal
	State      string
	Confidence string
	Sources    []string
	Trend      string
	SentAt     time.Time
}

// Savings is how far the rate sits below target; positive only for
// threshold alerts.
func (n Notification) Savings() decimal.Decimal {
	return n.TargetRate.Sub(n.Rate)
}

// Title renders the channel-agnostic headline.
func (n Notification) Title() string {
	if n.Kind == KindThresholdAlert {
		return fmt.Sprintf("🚨 Refinance Rate Alert - %s", n.State)
	}
	return fmt.Sprintf("📊 Daily Refinance Rate Report - %s", n.State)
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
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
		timeout = 30 * time.Second
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

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id":    n.chatID,
		"text":       renderTelegramMessage(note),
		"parse_mode": "HTML",
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
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("kind", note.Kind).
		Str("rate", note.Rate.StringFixed(3)).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderTelegramMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(note.Title())
	builder.WriteString("\n\n")
	builder.WriteString("📊 <b>Rate Information:</b>\n")
	builder.WriteString(fmt.Sprintf("• Current Rate: <b>%s%%</b>\n", note.Rate.StringFixed(3)))
	builder.WriteString(fmt.Sprintf("• Target Rate: %s%%\n", note.TargetRate.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("• Confidence: %s\n", note.Confidence))
	if len(note.Sources) > 0 {
		builder.WriteString(fmt.Sprintf("• Sources: %s\n", strings.Join(note.Sources, ", ")))
	}
	if note.Trend != "" {
		builder.WriteString(fmt.Sprintf("• Trend: %s\n", note.Trend))
	}
	builder.WriteString(fmt.Sprintf("• Date: %s\n", note.SentAt.Format("January 2, 2006")))
	if note.Kind == KindThresholdAlert {
		builder.WriteString(fmt.Sprintf("• Potential Savings: <b>%s%%</b>\n", note.Savings().StringFixed(2)))
		builder.WriteString("\n💡 Rates dropped below your target threshold. This could be a good time to consider refinancing.")
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
