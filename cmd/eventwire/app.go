package main

import (
	"fmt"
	"log/slog"

	"github.com/eventwire/eventwire/pkg/classify"
	"github.com/eventwire/eventwire/pkg/config"
	"github.com/eventwire/eventwire/pkg/invoke"
	"github.com/eventwire/eventwire/pkg/logging"
	"github.com/eventwire/eventwire/pkg/metrics"
	"github.com/eventwire/eventwire/pkg/provider"
	"github.com/eventwire/eventwire/pkg/router"
	"github.com/eventwire/eventwire/pkg/tracker"
)

// loadConfig reads dotenv files, then the config file.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	if err := config.LoadDotEnv(flags.envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(logger)
	return logger, nil
}

// llmStack is everything needed to call the language-model backends.
type llmStack struct {
	router     *router.Router
	tracker    *tracker.SQLiteTracker
	classifier *classify.Classifier
}

func (s *llmStack) Close() error {
	if s.tracker == nil {
		return nil
	}
	return s.tracker.Close()
}

// newLLMStack validates the AI section and wires router, invoker, tracker
// and classifier. m may be nil.
func newLLMStack(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*llmStack, error) {
	if err := cfg.ValidateAI(provider.Known()); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	rt, err := router.New(cfg.AI.Providers, cfg.AI.Fallback, logging.Component(logger, "router"))
	if err != nil {
		return nil, err
	}

	tr, err := tracker.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init tracker: %w", err)
	}

	opts := []invoke.Option{
		invoke.WithLogger(logging.Component(logger, "invoke")),
		invoke.WithRecorder(tr),
	}
	if m != nil {
		opts = append(opts, invoke.WithObserver(m))
	}
	inv := invoke.New(opts...)

	return &llmStack{
		router:     rt,
		tracker:    tr,
		classifier: classify.New(rt, inv, logging.Component(logger, "classify")),
	}, nil
}
