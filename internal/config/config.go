package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	infisical "github.com/infisical/go-sdk"
	"github.com/joho/godotenv"
)

type Config struct {
	Port              string
	DatabaseURL       string
	RedisURL          string
	RedisPassword     string
	TelegramToken     string
	TelegramChatID    string
	DiscordWebhookURL string
	CoinGeckoAPIKey   string
	EthRPCURL         string
	FrontendOrigin    string
	WatchlistPath     string
	ReportDir         string
	PollInterval      time.Duration
	ReportHour        int
	RetentionDays     int
}

func Load() Config {
	// A local .env is a dev convenience; in clusters everything arrives
	// through real env vars or Infisical.
	_ = godotenv.Load()

	cfg := Config{
		Port:              envOr("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          envOr("REDIS_URL", "redis://redis-master.redis.svc.cluster.local:6379/0"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		TelegramToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:    os.Getenv("TELEGRAM_CHAT_ID"),
		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		CoinGeckoAPIKey:   os.Getenv("COINGECKO_API_KEY"),
		EthRPCURL:         envOr("ETH_RPC_URL", "https://eth.llamarpc.com"),
		FrontendOrigin:    envOr("FRONTEND_ORIGIN", "*"),
		WatchlistPath:     envOr("WATCHLIST_PATH", "watchlist.yaml"),
		ReportDir:         envOr("REPORT_DIR", "reports"),
		PollInterval:      durationOr("POLL_INTERVAL", time.Minute),
		ReportHour:        intOr("REPORT_HOUR", 8),
		RetentionDays:     intOr("RETENTION_DAYS", 30),
	}

	// If Infisical credentials are available, fetch secrets from Infisical
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		loadFromInfisical(&cfg, clientID, clientSecret)
	}

	return cfg
}

func loadFromInfisical(cfg *Config, clientID, clientSecret string) {
	siteURL := envOr("INFISICAL_SITE_URL",
		"http://infisical-infisical-standalone-infisical.infisical.svc.cluster.local:8080")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := envOr("INFISICAL_ENV", "prod")

	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		slog.Error("infisical auth failed", "error", err)
		return
	}

	secrets := map[string]*string{
		"TELEGRAM_BOT_TOKEN":  &cfg.TelegramToken,
		"DISCORD_WEBHOOK_URL": &cfg.DiscordWebhookURL,
		"COINGECKO_API_KEY":   &cfg.CoinGeckoAPIKey,
		"REDIS_PASSWORD":      &cfg.RedisPassword,
	}

	for key, target := range secrets {
		if *target != "" {
			continue // env var already set, skip
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  "/",
		})
		if err != nil {
			slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		slog.Info("loaded secret from infisical", "key", key)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func intOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}
