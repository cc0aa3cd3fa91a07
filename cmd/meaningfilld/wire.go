package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meaningfill/class-sub000/internal/agent"
	"github.com/meaningfill/class-sub000/internal/analysis"
	"github.com/meaningfill/class-sub000/internal/catalog"
	"github.com/meaningfill/class-sub000/internal/config"
	"github.com/meaningfill/class-sub000/internal/knowledge"
	"github.com/meaningfill/class-sub000/internal/llm"
	"github.com/meaningfill/class-sub000/internal/llm/gemini"
	"github.com/meaningfill/class-sub000/internal/llm/openai"
	"github.com/meaningfill/class-sub000/internal/observability/alerting"
	"github.com/meaningfill/class-sub000/internal/session"
	"github.com/meaningfill/class-sub000/internal/storage/elastic"
	"github.com/meaningfill/class-sub000/internal/storage/sqlstore"
	"github.com/meaningfill/class-sub000/internal/team"
	"github.com/meaningfill/class-sub000/pkg/logger"
)

// components 保存按配置装配好的依赖，Close 按创建的逆序释放。
type components struct {
	cfg     *config.Config
	backend llm.Backend
	db      *sqlstore.DB
	closers []func() error
	logger  *slog.Logger
}

func newComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{cfg: cfg, logger: logger.Named("meaningfilld")}
	backend, err := createBackend(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	c.backend = backend

	if cfg.UsesSQL() {
		db, err := sqlstore.Open(ctx, cfg.Storage.SQL)
		if err != nil {
			return nil, err
		}
		c.db = db
		c.closers = append(c.closers, db.Close)
	}
	return c, nil
}

// Close 释放全部资源。
func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := logger.Sync(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// createBackend 按 provider 创建大模型后端，并统一包上指标记录。
func createBackend(ctx context.Context, cfg config.LLMConfig) (llm.Backend, error) {
	switch cfg.Provider {
	case "openai", "":
		client, err := openai.NewClient(openai.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return llm.Instrument("openai", client), nil
	case "gemini":
		client, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return llm.Instrument("gemini", client), nil
	default:
		return nil, fmt.Errorf("未知的大模型提供方: %s", cfg.Provider)
	}
}

func (c *components) knowledgeStore() (knowledge.Store, error) {
	switch c.cfg.Knowledge.Driver {
	case config.DriverSQL:
		return sqlstore.NewKnowledgeStore(c.db), nil
	case config.DriverElasticsearch:
		return elastic.NewKnowledgeStore(c.cfg.Knowledge.Elasticsearch)
	default:
		if c.cfg.Knowledge.SeedFile == "" {
			c.logger.Warn("未配置知识库种子文件，检索将始终为空")
			return knowledge.NewMemoryStore(), nil
		}
		records, err := knowledge.LoadFile(c.cfg.Knowledge.SeedFile)
		if err != nil {
			return nil, err
		}
		return knowledge.NewMemoryStore(records...), nil
	}
}

func (c *components) catalogStore() (catalog.Store, error) {
	if c.cfg.Catalog.Driver == config.DriverSQL {
		return sqlstore.NewCatalogStore(c.db), nil
	}
	if c.cfg.Catalog.SeedFile == "" {
		return catalog.NewMemoryStore(), nil
	}
	items, err := catalog.LoadFile(c.cfg.Catalog.SeedFile)
	if err != nil {
		return nil, err
	}
	return catalog.NewMemoryStore(items...), nil
}

func (c *components) sessionStore() session.Store {
	if c.cfg.Storage.Driver == config.DriverSQL {
		return sqlstore.NewSessionStore(c.db)
	}
	return session.NewMemoryStore()
}

func (c *components) analysisQueue(ctx context.Context) (analysis.Queue, error) {
	cfg := c.cfg.Analysis
	var (
		queue analysis.Queue
		err   error
	)
	switch cfg.Queue {
	case config.QueueRedis:
		queue, err = analysis.NewRedisQueue(ctx, cfg.Redis)
	case config.QueueRabbitMQ:
		queue, err = analysis.NewRabbitMQQueue(cfg.RabbitMQ)
	default:
		queue = analysis.NewMemoryQueue(cfg.QueueSize)
	}
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, queue.Close)
	return queue, nil
}

// alertDispatcher 返回 nil 表示未配置任何通知渠道。
func (c *components) alertDispatcher(ctx context.Context) (alerting.Dispatcher, error) {
	var notifiers []alerting.Notifier
	if c.cfg.Notify.Log {
		notifiers = append(notifiers, alerting.LogNotifier{})
	}
	if c.cfg.Notify.SNS.Enabled {
		sns, err := alerting.NewSNSNotifier(ctx, c.cfg.Notify.SNS.Alerting())
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, sns)
	}
	if len(notifiers) == 0 {
		return nil, nil
	}
	return alerting.NewFanout(notifiers...), nil
}

// teamRegistry 注册内置营销团队以及定义文件中的团队，同名时后者覆盖。
func (c *components) teamRegistry() (*team.Registry, error) {
	defs := []team.Definition{team.MarketingDefinition()}
	if path := c.cfg.Teams.DefinitionFile; path != "" {
		loaded, err := team.LoadDefinitions(path)
		if err != nil {
			return nil, err
		}
		defs = append(defs, loaded...)
	}

	registry := team.NewRegistry()
	for _, def := range defs {
		pipeline, err := def.Build(c.backend, agent.WithLanguage(c.cfg.LLM.Language))
		if err != nil {
			return nil, err
		}
		registry.Register(pipeline)
	}
	return registry, nil
}
