package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinwhistle/sentinel/alert"
	"github.com/coinwhistle/sentinel/common"
	"github.com/coinwhistle/sentinel/config"
	"github.com/coinwhistle/sentinel/dispatch"
	"github.com/coinwhistle/sentinel/market"
	"github.com/coinwhistle/sentinel/userconfig"
)

func main() {
	logger, cfg := initialize()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("data_dir", cfg.DataDir).Msg("failed to create data directory")
	}

	store, err := userconfig.Open(filepath.Join(cfg.DataDir, "users.json"), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("config file corruption: refusing to start")
	}

	clock := common.RealClock{}

	feed := market.NewFeed(market.Config{
		SpotRESTBaseURL:    cfg.SpotRESTBaseURL,
		FuturesRESTBaseURL: cfg.FuturesRESTBaseURL,
		SpotStreamBaseURL:  cfg.SpotStreamBaseURL,
		FutStreamBaseURL:   cfg.FutStreamBaseURL,
		QuoteAsset:         cfg.QuoteAsset,
	}, nil, clock, logger.With().Str("component", "feed").Logger())

	engine := alert.NewEngine(store, nil, feed, clock, logger.With().Str("component", "alert").Logger())
	feed.SetSink(engine)

	chat := dispatch.NewChatChannel(chatSendStub(logger))

	var email dispatch.Channel
	if cfg.SMTPHost != "" {
		email = dispatch.NewEmailChannel(dispatch.EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, logger.With().Str("component", "email").Logger())
	}

	dispatcher := dispatch.NewDispatcher(store, engine, chat, email, clock, logger.With().Str("component", "dispatch").Logger())
	engine.SetSink(dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("market feed exited with error")
			cancel()
		}
	}()

	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	wg.Wait()
	logger.Info().Msg("sentinel stopped")
}

// chatSendStub stands in for the boundary-supplied chat transport; the bot
// command/UI surface lives outside this module, so the wired process only
// logs what would be sent.
func chatSendStub(logger zerolog.Logger) dispatch.ChatSendFunc {
	return func(ctx context.Context, userID, body string) error {
		logger.Info().Str("user", userID).Str("body", body).Msg("chat send (boundary transport not wired)")
		return nil
	}
}

func initialize() (zerolog.Logger, *config.Config) {
	writer := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.StampMicro,
		NoColor:    false,
	}

	bootLogger := zerolog.New(writer).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := bootLogger.Level(config.ParseLogLevel(cfg.LogLevel))
	return logger, cfg
}
