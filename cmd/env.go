package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geolens/geo-audit/internal/audit"
	"github.com/geolens/geo-audit/internal/config"
	"github.com/geolens/geo-audit/internal/cost"
	"github.com/geolens/geo-audit/internal/dispatch"
	"github.com/geolens/geo-audit/internal/extract"
	"github.com/geolens/geo-audit/internal/model"
	"github.com/geolens/geo-audit/internal/resilience"
	"github.com/geolens/geo-audit/internal/scorer"
	"github.com/geolens/geo-audit/internal/store"
	"github.com/geolens/geo-audit/pkg/anthropic"
	"github.com/geolens/geo-audit/pkg/gemini"
	"github.com/geolens/geo-audit/pkg/grok"
	"github.com/geolens/geo-audit/pkg/openai"
	"github.com/geolens/geo-audit/pkg/perplexity"
)

// env bundles everything a command needs after wiring.
type env struct {
	Store   store.Store
	Service *audit.Service
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close", zap.Error(err))
	}
}

// initAudit validates config and wires store, providers, dispatcher,
// extractor, scorer, and the audit service.
func initAudit(ctx context.Context, mode string) (*env, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	extractClient := anthropic.NewClient(cfg.Anthropic.Key)
	providers := buildProviders(cfg, extractClient)

	dispatcher := dispatch.NewDispatcher(providers, dispatch.Config{
		Concurrency:     cfg.Dispatch.Concurrency,
		PerProbeTimeout: time.Duration(cfg.Dispatch.ProbeTimeoutSecs) * time.Second,
		MinSuccess:      cfg.Dispatch.MinSuccess,
		ProviderRPS:     cfg.Dispatch.ProviderRPS,
		ProviderBurst:   cfg.Dispatch.ProviderBurst,
		Retry: resilience.ProbeRetrySettings{
			MaxAttempts:      cfg.Retry.MaxAttempts,
			InitialBackoffMs: cfg.Retry.InitialBackoffMs,
			MaxBackoffMs:     cfg.Retry.MaxBackoffMs,
			Multiplier:       cfg.Retry.Multiplier,
			JitterFraction:   cfg.Retry.JitterFraction,
		}.Build(),
		Breakers: resilience.NewProviderBreakers(resilience.BreakerSettings{
			FailureThreshold: cfg.Circuit.FailureThreshold,
			ResetTimeoutSecs: cfg.Circuit.ResetTimeoutSecs,
		}.Build()),
	})

	factory := func(target extract.Target) audit.Extractor {
		return extract.New(extractClient, target, extract.Config{
			Model:          cfg.Anthropic.HaikuModel,
			MaxTokens:      cfg.Extract.MaxTokens,
			MaxTextLength:  cfg.Extract.MaxTextLength,
			RepairMaxScans: cfg.Extract.RepairMaxScans,
		})
	}

	sc := scorer.New(scorer.Config{
		Weights: model.Weights{
			ShareOfModel: cfg.Scorer.WeightSOM,
			Citation:     cfg.Scorer.WeightCitation,
			Ranking:      cfg.Scorer.WeightRanking,
			Accuracy:     cfg.Scorer.WeightAccuracy,
		},
		UnrankedMentionCredit: cfg.Scorer.UnrankedMentionCredit,
		NeutralAccuracy:       cfg.Scorer.NeutralAccuracy,
		MinSampleForCI:        cfg.Scorer.MinSampleForCI,
	})

	svc := audit.NewService(st, dispatcher, factory, sc, cost.NewCalculator(cost.DefaultRates()), audit.Config{
		Providers:         enabledProviders(providers),
		SamplesPerKeyword: cfg.Dispatch.SamplesPerKeyword,
		MaxKeywords:       cfg.Audit.MaxKeywords,
		Deadline:          time.Duration(cfg.Audit.DeadlineSecs) * time.Second,
		ProviderModels:    providerModels(cfg),
		ExtractModel:      cfg.Anthropic.HaikuModel,
	})

	return &env{Store: st, Service: svc}, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// buildProviders returns adapters for every configured provider that has a
// credential. Providers named in audit.providers but missing a key are
// skipped with a warning rather than failing the whole audit.
func buildProviders(cfg *config.Config, claudeClient anthropic.Client) []dispatch.Provider {
	var out []dispatch.Provider
	for _, name := range cfg.Audit.Providers {
		switch name {
		case "openai":
			if cfg.OpenAI.Key == "" {
				break
			}
			out = append(out, dispatch.NewOpenAIProvider(openai.NewClient(cfg.OpenAI.Key,
				openai.WithBaseURL(cfg.OpenAI.BaseURL), openai.WithModel(cfg.OpenAI.Model))))
		case "claude":
			if cfg.Anthropic.Key == "" {
				break
			}
			out = append(out, dispatch.NewClaudeProvider(claudeClient, cfg.Anthropic.SonnetModel))
		case "gemini":
			if cfg.Gemini.Key == "" {
				break
			}
			out = append(out, dispatch.NewGeminiProvider(gemini.NewClient(cfg.Gemini.Key,
				gemini.WithBaseURL(cfg.Gemini.BaseURL), gemini.WithModel(cfg.Gemini.Model))))
		case "perplexity":
			if cfg.Perplexity.Key == "" {
				break
			}
			out = append(out, dispatch.NewPerplexityProvider(perplexity.NewClient(cfg.Perplexity.Key,
				perplexity.WithBaseURL(cfg.Perplexity.BaseURL), perplexity.WithModel(cfg.Perplexity.Model))))
		case "grok":
			if cfg.Grok.Key == "" {
				break
			}
			out = append(out, dispatch.NewGrokProvider(grok.NewClient(cfg.Grok.Key,
				grok.WithBaseURL(cfg.Grok.BaseURL), grok.WithModel(cfg.Grok.Model))))
		}
	}

	if len(out) < len(cfg.Audit.Providers) {
		zap.L().Warn("some configured providers have no API key and were skipped",
			zap.Int("configured", len(cfg.Audit.Providers)),
			zap.Int("enabled", len(out)))
	}
	return out
}

func enabledProviders(providers []dispatch.Provider) []string {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	return names
}

func providerModels(cfg *config.Config) map[string]string {
	return map[string]string{
		"openai":     cfg.OpenAI.Model,
		"claude":     cfg.Anthropic.SonnetModel,
		"gemini":     cfg.Gemini.Model,
		"perplexity": cfg.Perplexity.Model,
		"grok":       cfg.Grok.Model,
	}
}
