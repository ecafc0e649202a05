package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chainpulse/defi-monitor/internal/alert"
)

const (
	discordColorUp   = 0x2ecc71
	discordColorDown = 0xff0000

	// Discord caps message content at 2000 chars.
	discordMaxContent = 1990
)

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

// Discord posts alerts as webhook embeds.
type Discord struct {
	webhookURL string
	client     *http.Client
}

func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) SendAlert(ctx context.Context, e alert.Event) error {
	color := discordColorUp
	verb := "crossed above"
	if e.Direction == alert.CrossedDown {
		color = discordColorDown
		verb = "crossed below"
	}

	embed := discordEmbed{
		Title: fmt.Sprintf("🚨 DeFi Alert: %s", strings.ToUpper(e.Metric)),
		Description: fmt.Sprintf("%s %s %s\nCurrent: %s",
			strings.ToUpper(e.Metric), verb, formatNum(e.Threshold), formatNum(e.Value)),
		Color: color,
		Fields: []discordField{
			{Name: "Direction", Value: string(e.Direction), Inline: true},
			{Name: "Rule", Value: fmt.Sprintf("#%d", e.RuleID), Inline: true},
			{Name: "Time", Value: e.At.Format(time.RFC3339), Inline: false},
		},
	}
	return d.post(ctx, discordPayload{Embeds: []discordEmbed{embed}})
}

func (d *Discord) SendReport(ctx context.Context, title, body string) error {
	content := fmt.Sprintf("**%s**\n```\n%s\n```", title, body)
	return d.post(ctx, discordPayload{Content: truncate(content, discordMaxContent)})
}

func (d *Discord) post(ctx context.Context, payload discordPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("discord webhook status: %d", resp.StatusCode)
	}
	return nil
}
