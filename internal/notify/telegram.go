package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

var telegramMarks = map[Severity]string{
	SeverityInfo:  "ℹ️",
	SeverityWarn:  "⚠️",
	SeverityAlert: "🚨",
}

// TelegramSender delivers notifications through the Bot API sendMessage
// call, formatted as HTML.
type TelegramSender struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPI,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func formatTelegram(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>", telegramMarks[msg.Severity], html.EscapeString(msg.Title))
	if msg.Body != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(msg.Body))
	}
	for _, f := range msg.Fields {
		fmt.Fprintf(&b, "\n<b>%s:</b> <code>%s</code>", html.EscapeString(f.Name), html.EscapeString(f.Value))
	}
	if msg.URL != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">details</a>", html.EscapeString(msg.URL))
	}
	return b.String()
}

// Send posts msg to the configured chat.
func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)

	body, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     formatTelegram(msg),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
