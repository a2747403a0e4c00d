package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/eventwire/eventwire/pkg/cache"
	"github.com/eventwire/eventwire/pkg/feed"
	"github.com/eventwire/eventwire/pkg/logging"
	"github.com/eventwire/eventwire/pkg/metrics"
	"github.com/eventwire/eventwire/pkg/pipeline"
	"github.com/eventwire/eventwire/pkg/provider"
	"github.com/eventwire/eventwire/pkg/server"
	"github.com/eventwire/eventwire/pkg/store"
	"github.com/eventwire/eventwire/pkg/telegram"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler, the bot and the HTTP endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := cfg.Validate(provider.Known()); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			lock := flock.New(cfg.LockPath)
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return errors.New("another eventwire instance is already running")
			}
			defer func() {
				if err := lock.Unlock(); err != nil {
					logger.Warn("failed to release lock", "error", err)
				}
			}()

			m := metrics.New()
			llm, err := newLLMStack(cfg, logger, m)
			if err != nil {
				return err
			}
			defer func() { _ = llm.Close() }()

			st, err := store.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init store: %w", err)
			}
			defer func() { _ = st.Close() }()

			outcomes := cache.New(cfg.Cache.PositiveTTL(), cfg.Cache.NegativeTTL())
			tg := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.BaseURL)
			pipe := pipeline.New(pipeline.Deps{
				Source:      feed.NewClient(cfg.VK, feed.WithLogger(logging.Component(logger, "feed"))),
				Classifier:  llm.classifier,
				Cache:       outcomes,
				Notifier:    tg,
				Subscribers: st,
				Metrics:     m,
				Logger:      logging.Component(logger, "pipeline"),
				Summary:     cfg.Summary,
				Keyword:     cfg.VK.Keyword,
				FetchCount:  cfg.VK.FetchCount,
				Location:    cfg.Location(),
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if once {
				res, err := pipe.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d event(s) delivered\n", res.Count)
				return nil
			}

			bot := telegram.NewBot(tg, pipe, llm.classifier, st, telegram.BotConfig{
				RefreshLabel:    cfg.Telegram.RefreshLabel,
				WelcomeText:     cfg.Telegram.WelcomeText,
				DefaultKeyword:  cfg.VK.Keyword,
				KeywordLanguage: cfg.Summary.KeywordLanguage,
			}, logging.Component(logger, "bot"))

			opts := server.Options{Listen: cfg.Listen, Metrics: m, Cache: outcomes}
			if cfg.Telegram.Mode == "webhook" {
				opts.WebhookPath = webhookPath(cfg.Telegram.WebhookURL, cfg.Telegram.BotToken)
				opts.Webhook = bot.Webhook(ctx)
				if err := tg.SetWebhook(ctx, cfg.Telegram.WebhookURL); err != nil {
					return fmt.Errorf("set webhook: %w", err)
				}
			}
			srv := server.New(opts, logging.Component(logger, "http"))

			logger.Info("starting eventwire",
				"config", flags.configPath,
				"mode", cfg.Telegram.Mode,
				"interval", cfg.Scheduler.Interval().String(),
				"providers", len(llm.router.Providers()),
			)

			tasks := []func(context.Context) error{
				func(ctx context.Context) error { return pipe.Run(ctx, cfg.Scheduler.Interval()) },
			}
			if cfg.Telegram.Mode == "polling" {
				tasks = append(tasks,
					func(ctx context.Context) error { return srv.ListenAndServe(ctx) },
					func(ctx context.Context) error { return bot.Poll(ctx) },
				)
			} else {
				// Webhook refreshes start from server handlers; drain them
				// after shutdown.
				tasks = append(tasks, func(ctx context.Context) error {
					err := srv.ListenAndServe(ctx)
					bot.Wait()
					return err
				})
			}
			return runAll(ctx, stop, tasks...)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single pipeline pass and exit")
	return cmd
}

// runAll runs every task until ctx ends. The first task error cancels the
// rest and is returned.
func runAll(ctx context.Context, cancel context.CancelFunc, tasks ...func(context.Context) error) error {
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := task(ctx); err != nil && !errors.Is(err, context.Canceled) {
				once.Do(func() { firstErr = err })
				cancel()
			}
		}()
	}
	wg.Wait()
	return firstErr
}

// webhookPath is the path part of the public webhook URL, or a token-scoped
// default when the URL has none.
func webhookPath(webhookURL, token string) string {
	u, err := url.Parse(webhookURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "/telegram/" + token
	}
	return u.Path
}
