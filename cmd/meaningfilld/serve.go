package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meaningfill/class-sub000/internal/analysis"
	"github.com/meaningfill/class-sub000/internal/api"
	"github.com/meaningfill/class-sub000/internal/assistant"
	"github.com/meaningfill/class-sub000/internal/auth"
	"github.com/meaningfill/class-sub000/internal/config"
	"github.com/meaningfill/class-sub000/internal/knowledge"
	"github.com/meaningfill/class-sub000/internal/observability/metrics"
)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 API 服务与影子分析处理器",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) (err error) {
	c, err := newComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			c.logger.Warn("释放资源失败", slog.Any("error", closeErr))
		}
	}()

	knowledgeStore, err := c.knowledgeStore()
	if err != nil {
		return err
	}
	catalogStore, err := c.catalogStore()
	if err != nil {
		return err
	}
	sessions := c.sessionStore()
	teams, err := c.teamRegistry()
	if err != nil {
		return err
	}
	authn, err := auth.NewService(cfg.Auth.Enabled, authTokens(cfg.Auth.Tokens)...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	deps := assistant.Deps{
		Backend:   c.backend,
		Retriever: knowledge.NewIndex(knowledgeStore,
			knowledge.WithMaxKeywords(cfg.Knowledge.MaxKeywords),
			knowledge.WithCandidateLimit(cfg.Knowledge.CandidateLimit),
			knowledge.WithTopN(cfg.Knowledge.TopN),
		),
		Catalog:   catalogStore,
		Sessions:  sessions,
	}
	var dispatcher *analysis.Dispatcher
	if !cfg.Analysis.Disabled {
		queue, err := c.analysisQueue(ctx)
		if err != nil {
			return err
		}
		alerts, err := c.alertDispatcher(ctx)
		if err != nil {
			return err
		}
		analyzer, err := analysis.NewAnalyzer(c.backend, sessions, analysis.WithAlertDispatcher(alerts))
		if err != nil {
			return err
		}
		processor := analysis.NewProcessor(analyzer, queue, analysis.WithWorkerCount(cfg.Analysis.Workers))
		g.Go(func() error { return processor.Start(gctx) })

		dispatcher = analysis.NewDispatcher(queue, cfg.Analysis.PublishTimeout)
		deps.Shadow = dispatcher
	}

	opts := []assistant.Option{
		assistant.WithPersona(cfg.Assistant.Persona),
		assistant.WithHistoryWindow(cfg.Assistant.HistoryWindow),
	}
	if cfg.Assistant.Temperature > 0 {
		opts = append(opts, assistant.WithTemperature(cfg.Assistant.Temperature))
	}
	concierge, err := assistant.New(ctx, deps, opts...)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, api.Dependencies{
		Assistant: concierge,
		Sessions:  sessions,
		Teams:     teams,
		Auth:      authn,
	}, api.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout))
	g.Go(func() error { return server.Start(gctx) })

	if cfg.Metrics.Address != "" {
		g.Go(func() error { return metrics.StartServer(gctx, cfg.Metrics.Address) })
	}

	c.logger.Info("meaningfilld 已启动",
		slog.String("addr", cfg.Server.Address),
		slog.String("llm", cfg.LLM.Provider),
		slog.String("knowledge", cfg.Knowledge.Driver),
		slog.String("storage", cfg.Storage.Driver),
		slog.Bool("analysis", !cfg.Analysis.Disabled),
		slog.Any("teams", teams.Names()),
	)

	err = g.Wait()
	if dispatcher != nil {
		dispatcher.Wait()
	}
	if errors.Is(err, context.Canceled) {
		c.logger.Info("meaningfilld 已停止")
		return nil
	}
	return err
}

func authTokens(tokens []config.TokenConfig) []auth.Token {
	out := make([]auth.Token, 0, len(tokens))
	for _, token := range tokens {
		out = append(out, auth.Token{Subject: token.Subject, Value: token.Token, Scopes: token.Scopes})
	}
	return out
}
