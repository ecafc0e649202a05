package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chainpulse/defi-monitor/internal/alert"
)

var testEvent = alert.Event{
	RuleID:     3,
	Metric:     "ETH",
	Value:      3100,
	Threshold:  3000,
	Comparator: alert.Above,
	Direction:  alert.CrossedUp,
	At:         time.Date(2025, 6, 1, 12, 2, 0, 0, time.UTC),
}

func TestFormatEvent(t *testing.T) {
	msg := FormatEvent(testEvent)

	for _, want := range []string{"ETH", "ABOVE", "3,100.00", "3,000.00", "Rule #3", "📈"} {
		if !strings.Contains(msg, want) {
			t.Errorf("FormatEvent missing %q in:\n%s", want, msg)
		}
	}

	down := testEvent
	down.Direction = alert.CrossedDown
	down.Comparator = alert.Below
	msg = FormatEvent(down)
	if !strings.Contains(msg, "BELOW") || !strings.Contains(msg, "📉") {
		t.Errorf("FormatEvent(down) missing BELOW marker:\n%s", msg)
	}
}

func TestFormatNum(t *testing.T) {
	tests := []struct {
		input float64
		want  string
	}{
		{0.00123, "0.0012"},
		{0.5, "0.5000"},
		{999.99, "999.9900"},
		{1000, "1,000.00"},
		{1234.56, "1,234.56"},
		{12345.67, "12,345.67"},
		{999999.99, "999,999.99"},
		{1000000, "1.00M"},
		{1500000, "1.50M"},
		{123456789, "123.46M"},
	}
	for _, tt := range tests {
		got := formatNum(tt.input)
		if got != tt.want {
			t.Errorf("formatNum(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAddCommas(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"0", "0"},
		{"100", "100"},
		{"1000", "1,000"},
		{"12345", "12,345"},
		{"1234567", "1,234,567"},
		{"1000.50", "1,000.50"},
		{"12345678.99", "12,345,678.99"},
		{"100.25", "100.25"},
	}
	for _, tt := range tests {
		got := addCommas(tt.input)
		if got != tt.want {
			t.Errorf("addCommas(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	got := truncate(strings.Repeat("x", 50), 10)
	if len(got) > 12 { // ellipsis rune is 3 bytes
		t.Errorf("truncate left %d bytes", len(got))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncate missing ellipsis: %q", got)
	}
}

func TestDiscordSendAlert(t *testing.T) {
	var payload discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := &Discord{webhookURL: srv.URL, client: srv.Client()}
	if err := d.SendAlert(context.Background(), testEvent); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}

	if len(payload.Embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(payload.Embeds))
	}
	embed := payload.Embeds[0]
	if embed.Color != discordColorUp {
		t.Errorf("color = %#x, want %#x for crossed_up", embed.Color, discordColorUp)
	}
	if !strings.Contains(embed.Title, "ETH") {
		t.Errorf("title = %q, want metric in title", embed.Title)
	}

	down := testEvent
	down.Direction = alert.CrossedDown
	if err := d.SendAlert(context.Background(), down); err != nil {
		t.Fatalf("SendAlert(down): %v", err)
	}
	if payload.Embeds[0].Color != discordColorDown {
		t.Errorf("color = %#x, want %#x for crossed_down", payload.Embeds[0].Color, discordColorDown)
	}
}

func TestDiscordSendReportTruncates(t *testing.T) {
	var payload discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := &Discord{webhookURL: srv.URL, client: srv.Client()}
	if err := d.SendReport(context.Background(), "Daily", strings.Repeat("y", 5000)); err != nil {
		t.Fatalf("SendReport: %v", err)
	}
	if len(payload.Content) > discordMaxContent+3 {
		t.Errorf("content = %d bytes, want <= %d", len(payload.Content), discordMaxContent)
	}
}

func TestDiscordErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := &Discord{webhookURL: srv.URL, client: srv.Client()}
	if err := d.SendAlert(context.Background(), testEvent); err == nil {
		t.Error("expected error on 401, got nil")
	}
}

func TestTelegramSendAlert(t *testing.T) {
	var gotPath string
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&payload)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := &Telegram{baseURL: srv.URL + "/bot", token: "tok123", chatID: "-100200", client: srv.Client()}
	if err := tg.SendAlert(context.Background(), testEvent); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}

	if gotPath != "/bottok123/sendMessage" {
		t.Errorf("path = %q, want /bottok123/sendMessage", gotPath)
	}
	if payload["chat_id"] != "-100200" {
		t.Errorf("chat_id = %v, want -100200", payload["chat_id"])
	}
	if payload["parse_mode"] != "HTML" {
		t.Errorf("parse_mode = %v, want HTML", payload["parse_mode"])
	}
	text, _ := payload["text"].(string)
	if !strings.Contains(text, "ETH") {
		t.Errorf("text = %q, want alert message", text)
	}
}

func TestTelegramAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	tg := &Telegram{baseURL: srv.URL + "/bot", token: "tok", chatID: "1", client: srv.Client()}
	err := tg.SendAlert(context.Background(), testEvent)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error = %v, want telegram description included", err)
	}
}

type recordingSink struct {
	name    string
	alerts  int
	reports int
	fail    bool
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) SendAlert(context.Context, alert.Event) error {
	r.alerts++
	if r.fail {
		return errors.New("boom")
	}
	return nil
}

func (r *recordingSink) SendReport(context.Context, string, string) error {
	r.reports++
	if r.fail {
		return errors.New("boom")
	}
	return nil
}

func TestMultiSwallowsFailures(t *testing.T) {
	bad := &recordingSink{name: "bad", fail: true}
	good := &recordingSink{name: "good"}
	m := NewMulti(slog.Default(), bad, good)

	if err := m.SendAlert(context.Background(), testEvent); err != nil {
		t.Fatalf("SendAlert returned error: %v", err)
	}
	if err := m.SendReport(context.Background(), "Daily", "body"); err != nil {
		t.Fatalf("SendReport returned error: %v", err)
	}

	if bad.alerts != 1 || good.alerts != 1 {
		t.Errorf("alert fan-out = bad %d / good %d, want 1 / 1", bad.alerts, good.alerts)
	}
	if bad.reports != 1 || good.reports != 1 {
		t.Errorf("report fan-out = bad %d / good %d, want 1 / 1", bad.reports, good.reports)
	}
}

func TestConsoleSink(t *testing.T) {
	c := NewConsole(slog.Default())
	if err := c.SendAlert(context.Background(), testEvent); err != nil {
		t.Errorf("console SendAlert: %v", err)
	}
	if err := c.SendReport(context.Background(), "Daily", "body"); err != nil {
		t.Errorf("console SendReport: %v", err)
	}
}
