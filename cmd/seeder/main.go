package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/arhyth/paygate"
)

// seeder prepares the database schema and, optionally, registers the bot
// webhook with the Bot API.
func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfp := flag.String("config", "config.yml", "path to configuration file")
	envfl := flag.String("env", ".env", "optional dotenv file")
	seed := flag.String("seed", "", "comma separated id=address pairs of accounts to create")
	setWebhook := flag.Bool("set-webhook", false, "register telegram.webhook_url with the Bot API")
	flag.Parse()

	if err := godotenv.Load(*envfl); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Fatal().Err(err).Msg("error loading env file")
	}
	cfg, err := paygate.LoadConfig(*cfp)
	if err != nil {
		logger.Fatal().Err(err).Msg("error loading config file")
	}
	ctx := context.Background()

	if cfg.Database.ConnectionString != "" {
		lh, err := paygate.NewLocalHelper(ctx, cfg.Database.ConnectionString)
		if err != nil {
			logger.Fatal().Err(err).Msg("error starting local helper")
		}
		defer lh.Conn.Close(ctx)
		if _, err = lh.InitDB(); err != nil {
			logger.Fatal().Err(err).Msg("error initializing database")
		}
		accts, err := parseSeed(*seed)
		if err != nil {
			logger.Fatal().Err(err).Msg("error parsing seed accounts")
		}
		if err = lh.SeedAccounts(accts); err != nil {
			logger.Fatal().Err(err).Msg("error seeding accounts")
		}
		logger.Info().Int("seeded", len(accts)).Msg("database ready")
	}

	if *setWebhook {
		msgr := paygate.NewTelegramMessenger(&http.Client{Timeout: cfg.Telegram.Timeout}, cfg.Telegram.APIURL, cfg.Telegram.Token)
		if err = msgr.SetWebhook(ctx, cfg.Telegram.WebhookURL, cfg.Server.WebhookSecret); err != nil {
			logger.Fatal().Err(err).Msg("error setting webhook")
		}
		logger.Info().Str("url", cfg.Telegram.WebhookURL).Msg("webhook registered")
	}
}

func parseSeed(s string) ([]paygate.SeedAccount, error) {
	var accts []paygate.SeedAccount
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, addr, ok := strings.Cut(pair, "=")
		if !ok || id == "" || addr == "" {
			return nil, paygate.ErrBadRequest{Fields: map[string]string{"seed": "expected id=address, got " + pair}}
		}
		accts = append(accts, paygate.SeedAccount{ID: id, DepositAddress: addr})
	}
	return accts, nil
}
