package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"content-review-bot/command"
	"content-review-bot/config"
	"content-review-bot/fetcher"
	"content-review-bot/generator"
	"content-review-bot/mailer"
	"content-review-bot/pipeline"
	"content-review-bot/poller"
	"content-review-bot/publisher"
	"content-review-bot/scheduler"
	"content-review-bot/store"
	"content-review-bot/telegram"
)

func main() {
	configPath := config.GetConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("starting content review bot", "config", configPath, "transport", cfg.Transport)

	db, err := store.NewStore(cfg.DBPath)
	if err != nil {
		slog.Error("failed to initialize database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database initialized", "path", cfg.DBPath)

	var (
		inbox    poller.Inbox
		notifier poller.Notifier
	)
	switch cfg.Transport {
	case "telegram":
		transport, err := telegram.New(cfg.TelegramToken, cfg.TelegramChatID, db)
		if err != nil {
			slog.Error("failed to initialize Telegram transport", "error", err)
			os.Exit(1)
		}
		slog.Info("telegram transport initialized", "username", transport.Username())
		inbox, notifier = transport, transport
	case "mail":
		client := mailer.NewClient(cfg.Mail.APIKey, cfg.Mail.From, cfg.Mail.To,
			mailer.WithBaseURL(cfg.Mail.BaseURL),
		)
		slog.Info("mail transport initialized", "to", cfg.Mail.To)
		inbox, notifier = client, client
	}

	llm, err := generator.NewOpenAILLM(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	if err != nil {
		slog.Error("failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	gen := generator.NewGenerator(llm,
		generator.WithCandidateCount(cfg.CandidateCount),
	)

	pub, err := publisher.NewPublisher(publisher.Config{
		AppID:        cfg.WeChat.AppID,
		AppSecret:    cfg.WeChat.AppSecret,
		Author:       cfg.WeChat.Author,
		ThumbMediaID: cfg.WeChat.ThumbMediaID,
	})
	if err != nil {
		slog.Error("failed to initialize publisher", "error", err)
		os.Exit(1)
	}

	sources := fetcher.NewFetcher(cfg.SourceURLs,
		fetcher.WithTimeout(time.Duration(cfg.FetchTimeoutSecs)*time.Second),
	)

	engine := poller.NewPoller(db, inbox, notifier, pub, gen,
		poller.WithTTL(time.Duration(cfg.ReviewTTLHours)*time.Hour),
		poller.WithMaxPublishRetries(cfg.MaxPublishRetries),
		poller.WithMaxGenerateRetries(cfg.MaxGenerateRetries),
		poller.WithParser(command.NewParser(command.WithTokens(commandTokens(cfg)))),
	)

	runner := pipeline.NewRunner(&collectorAdapter{sources}, gen, db, notifier,
		pipeline.WithTopic(cfg.Topic),
	)

	sched, err := scheduler.NewScheduler(cfg.Timezone)
	if err != nil {
		slog.Error("failed to initialize scheduler", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := sched.Daily(cfg.GenerateTime, func() {
		if err := runner.Run(context.Background()); err != nil {
			slog.Error("generation run failed", "error", err)
		}
	}); err != nil {
		slog.Error("failed to schedule generation", "error", err)
		os.Exit(1)
	}
	if err := sched.Every(time.Duration(cfg.PollIntervalSecs)*time.Second, func() {
		if err := engine.RunCycle(context.Background()); err != nil {
			slog.Error("poll cycle failed", "error", err)
		}
	}); err != nil {
		slog.Error("failed to schedule polling", "error", err)
		os.Exit(1)
	}

	sched.Start()
	defer sched.Stop()
	slog.Info("scheduled", "generate_time", cfg.GenerateTime, "timezone", cfg.Timezone,
		"poll_interval_secs", cfg.PollIntervalSecs)

	<-ctx.Done()
	slog.Info("bot stopped")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func commandTokens(cfg *config.Config) command.Tokens {
	tokens := command.DefaultTokens()
	if len(cfg.Commands.Select) > 0 {
		tokens.Select = cfg.Commands.Select
	}
	if len(cfg.Commands.Modify) > 0 {
		tokens.Modify = cfg.Commands.Modify
	}
	if len(cfg.Commands.Regenerate) > 0 {
		tokens.Regenerate = cfg.Commands.Regenerate
	}
	if len(cfg.Commands.Skip) > 0 {
		tokens.Skip = cfg.Commands.Skip
	}
	if len(cfg.Commands.Discuss) > 0 {
		tokens.Discuss = cfg.Commands.Discuss
	}
	return tokens
}

// collectorAdapter bridges the fetcher to the pipeline's Collector.
type collectorAdapter struct {
	fetcher *fetcher.Fetcher
}

func (c *collectorAdapter) Collect(ctx context.Context) ([]pipeline.Reference, error) {
	collected, err := c.fetcher.Collect(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]pipeline.Reference, len(collected))
	for i, r := range collected {
		refs[i] = pipeline.Reference{
			Title:   r.Title,
			URL:     r.URL,
			Excerpt: r.Excerpt,
		}
	}
	return refs, nil
}
