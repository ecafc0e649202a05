package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chainpulse/defi-monitor/internal/alert"
	"github.com/chainpulse/defi-monitor/internal/monitor"
	"github.com/chainpulse/defi-monitor/internal/report"
)

const (
	telegramAPI = "https://api.telegram.org/bot"

	// Telegram caps messages at 4096 chars.
	maxText = 4000
)

// Bot answers operator commands in one authorized chat. Rules are managed
// over the HTTP API; the bot is a read-only window for quick checks from a
// phone.
type Bot struct {
	baseURL string
	token   string
	chatID  string
	rules   *alert.Store
	engine  *monitor.Engine
	reports *report.Builder
	logger  *slog.Logger
	client  *http.Client
	offset  int64
}

func NewBot(token, chatID string, rules *alert.Store, engine *monitor.Engine, reports *report.Builder, logger *slog.Logger) *Bot {
	return &Bot{
		baseURL: telegramAPI,
		token:   token,
		chatID:  chatID,
		rules:   rules,
		engine:  engine,
		reports: reports,
		logger:  logger,
		// Must outlive the 30s long poll.
		client: &http.Client{Timeout: 35 * time.Second},
	}
}

// Run starts the long-polling loop for incoming Telegram messages.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("telegram bot started")
	for {
		select {
		case <-ctx.Done():
			return
		default:
			b.poll(ctx)
		}
	}
}

func (b *Bot) poll(ctx context.Context) {
	url := fmt.Sprintf("%s%s/getUpdates?offset=%d&timeout=30", b.baseURL, b.token, b.offset)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		b.logger.Error("create poll request", "error", err)
		return
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("poll updates", "error", err)
		time.Sleep(5 * time.Second)
		return
	}
	defer resp.Body.Close()

	var result struct {
		OK     bool `json:"ok"`
		Result []struct {
			UpdateID int64 `json:"update_id"`
			Message  *struct {
				Chat struct {
					ID int64 `json:"id"`
				} `json:"chat"`
				From struct {
					Username string `json:"username"`
				} `json:"from"`
				Text string `json:"text"`
			} `json:"message"`
		} `json:"result"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		b.logger.Error("decode updates", "error", err)
		return
	}

	for _, u := range result.Result {
		b.offset = u.UpdateID + 1
		if u.Message == nil {
			continue
		}
		if !b.authorized(u.Message.Chat.ID) {
			b.logger.Warn("ignoring message from unknown chat", "chat_id", u.Message.Chat.ID)
			continue
		}

		text := strings.TrimSpace(u.Message.Text)
		cmd, _, _ := strings.Cut(text, "@")

		switch cmd {
		case "/start":
			b.handleStart(ctx, u.Message.From.Username)
		case "/help":
			b.handleHelp(ctx)
		case "/rules":
			b.handleRules(ctx)
		case "/status":
			b.handleStatus(ctx)
		case "/report":
			b.handleReport(ctx)
		default:
			_ = b.send(ctx, "Unknown command. Send /help for available commands.")
		}
	}
}

// authorized limits the bot to the chat it was configured with.
func (b *Bot) authorized(chatID int64) bool {
	return strconv.FormatInt(chatID, 10) == b.chatID
}

func (b *Bot) handleStart(ctx context.Context, username string) {
	greeting := "👋 DeFi Monitor online."
	if username != "" {
		greeting = fmt.Sprintf("👋 Hello @%s, DeFi Monitor online.", username)
	}
	_ = b.send(ctx, greeting+"\n\nSend /help for available commands.")
}

func (b *Bot) handleHelp(ctx context.Context) {
	msg := "🤖 <b>DeFi Monitor Bot</b>\n\n" +
		"Commands:\n" +
		"/rules — List alert rules and their state\n" +
		"/status — Poller and snapshot overview\n" +
		"/report — Build the summary report now\n" +
		"/help — Show this message\n\n" +
		"Rules are managed over the HTTP API."
	_ = b.send(ctx, msg)
}

func (b *Bot) handleRules(ctx context.Context) {
	rules := b.rules.List("")
	if len(rules) == 0 {
		_ = b.send(ctx, "No alert rules configured.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 <b>Alert rules</b> (%d)\n\n", len(rules))
	for _, r := range rules {
		fmt.Fprintf(&sb, "#%d %s %s %s — %s", r.ID, r.Metric, r.Comparator, trimFloat(r.Threshold), r.State)
		if !r.Enabled {
			sb.WriteString(" (disabled)")
		}
		sb.WriteString("\n")
	}
	_ = b.send(ctx, sb.String())
}

func (b *Bot) handleStatus(ctx context.Context) {
	names := b.engine.SourceNames()
	sort.Strings(names)

	rules := b.rules.List("")
	triggered := 0
	for _, r := range rules {
		if r.State == alert.Triggered {
			triggered++
		}
	}

	var sb strings.Builder
	sb.WriteString("📡 <b>Monitor status</b>\n\n")
	fmt.Fprintf(&sb, "Pollers: %s\n", strings.Join(names, ", "))
	fmt.Fprintf(&sb, "Poll interval: %s\n", b.engine.PollInterval())
	fmt.Fprintf(&sb, "Rules: %d (%d triggered)\n", len(rules), triggered)

	snaps := b.engine.Snapshots()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Source < snaps[j].Source })
	if len(snaps) > 0 {
		sb.WriteString("\nLatest snapshots:\n")
		for _, s := range snaps {
			fmt.Fprintf(&sb, "• %s — %d metrics, %s ago\n",
				s.Source, len(s.Metrics), time.Since(s.FetchedAt).Round(time.Second))
		}
	}
	_ = b.send(ctx, sb.String())
}

func (b *Bot) handleReport(ctx context.Context) {
	r, err := b.reports.Build(ctx)
	if err != nil {
		b.logger.Error("build report failed", "error", err)
		_ = b.send(ctx, "❌ Report build failed.")
		return
	}
	text := r.Text()
	if len(text) > maxText {
		text = text[:maxText] + "\n…"
	}
	_ = b.send(ctx, "<pre>"+text+"</pre>")
}

func (b *Bot) send(ctx context.Context, text string) error {
	payload := map[string]interface{}{
		"chat_id":    b.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+b.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
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

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
