package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chainpulse/defi-monitor/internal/alert"
)

const (
	telegramAPI = "https://api.telegram.org/bot"

	// Telegram caps messages at 4096 chars.
	telegramMaxText = 4000
)

// Telegram sends alerts to a fixed chat via the bot API.
type Telegram struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		baseURL: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) SendAlert(ctx context.Context, e alert.Event) error {
	return t.sendMessage(ctx, FormatEvent(e))
}

func (t *Telegram) SendReport(ctx context.Context, title, body string) error {
	text := fmt.Sprintf("<b>%s</b>\n<pre>%s</pre>", title, truncate(body, telegramMaxText))
	return t.sendMessage(ctx, text)
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+t.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("telegram API error %d: %s", resp.StatusCode, errResp.Description)
	}
	return nil
}
