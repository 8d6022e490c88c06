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

// Notification 封装价格波动告警上下文。
type Notification struct {
	SampledAt     time.Time
	Price         decimal.Decimal
	ReferenceAt   time.Time
	Reference     decimal.Decimal
	ChangePct     decimal.Decimal
	ThresholdPct  decimal.Decimal
	Window        time.Duration
	Direction     string
	Channels      []string
	AdditionalMsg string
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

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
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

	n.logger.Info().Time("sampled_at", note.SampledAt).
		Str("direction", note.Direction).
		Str("change_pct", note.ChangePct.StringFixed(2)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

// LogNotifier 仅写日志, 没有配置 Telegram 时使用。
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a notifier that only logs.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify writes the rendered alert at warn level.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().Time("sampled_at", note.SampledAt).
		Str("price", note.Price.StringFixed(2)).
		Str("reference", note.Reference.StringFixed(2)).
		Str("change_pct", note.ChangePct.StringFixed(2)).
		Str("direction", note.Direction).
		Msg("price move alert")
	return nil
}

// RenderMessage formats the plain-text alert body.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[TusCoin Price Alert]\n")
	builder.WriteString(fmt.Sprintf("Sampled: %s UTC\n", note.SampledAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Price: €%s\n", note.Price.StringFixed(2)))
	if !note.ReferenceAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Reference: €%s at %s UTC\n", note.Reference.StringFixed(2), note.ReferenceAt.UTC().Format(time.RFC3339)))
	} else {
		builder.WriteString(fmt.Sprintf("Reference: €%s\n", note.Reference.StringFixed(2)))
	}
	builder.WriteString(fmt.Sprintf("Change: %s%% (threshold %s%%)\n", note.ChangePct.StringFixed(2), note.ThresholdPct.StringFixed(2)))
	if note.Window > 0 {
		builder.WriteString(fmt.Sprintf("Window: %s\n", note.Window))
	}
	builder.WriteString(fmt.Sprintf("Direction: %s\n", note.Direction))
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
