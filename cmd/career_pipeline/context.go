package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/jonathan/career-pipeline/internal/agents"
	"github.com/jonathan/career-pipeline/internal/broadcast"
	"github.com/jonathan/career-pipeline/internal/config"
	"github.com/jonathan/career-pipeline/internal/db"
	"github.com/jonathan/career-pipeline/internal/llm"
	"github.com/jonathan/career-pipeline/internal/logging"
	"github.com/jonathan/career-pipeline/internal/pipeline"
	"github.com/jonathan/career-pipeline/internal/server"
)

// localUserID owns runs started from the command line when --user is not given
var localUserID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("career_pipeline/local"))

// modelFactory builds the LLM client the agents call
type modelFactory func(ctx context.Context, cfg *config.Config) (llm.Client, error)

type commandContext struct {
	fs         afero.Fs
	configPath string
	envFile    string
	newModel   modelFactory

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext() *commandContext {
	return &commandContext{
		fs:       afero.NewOsFs(),
		newModel: geminiModel,
	}
}

func geminiModel(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	if err := cfg.RequireLLM(); err != nil {
		return nil, err
	}
	return llm.NewClient(ctx, llm.DefaultConfig(), cfg.GeminiAPIKey)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		if c.envFile != "" {
			if err := config.LoadDotEnv(c.fs, c.envFile); err != nil {
				c.configErr = err
				return
			}
		}
		cfg, err := config.Load(c.fs, strings.TrimSpace(c.configPath))
		if err != nil {
			c.configErr = fmt.Errorf("load config: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger(out io.Writer) (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: out})
}

// store is everything the commands need from a backing database
type store interface {
	pipeline.RunStore
	pipeline.ProjectionStore
	server.Store
}

// openStore opens the configured database and brings its schema up to date
func (c *commandContext) openStore(ctx context.Context) (store, func(), error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.UsePostgres() {
		pg, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	lite, err := db.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return lite, func() { _ = lite.Close() }, nil
}

// runtime is a fully wired engine with its store, hub and model
type runtime struct {
	store  store
	hub    *broadcast.Hub
	engine *pipeline.Engine
	model  llm.Client
	logger *slog.Logger

	closeStore func()
}

func (c *commandContext) newRuntime(ctx context.Context, logger *slog.Logger) (*runtime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	model, err := c.newModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	st, closeStore, err := c.openStore(ctx)
	if err != nil {
		_ = model.Close()
		return nil, err
	}

	hub := broadcast.NewHub(logger)
	tasks := agents.New(model, agents.Options{
		Logger:          logger,
		CoverLetterTone: cfg.CoverLetterTone,
		RoadmapLevel:    cfg.RoadmapLevel,
	}).Tasks()
	engine := pipeline.NewEngine(st, hub, pipeline.NewPersister(st, logger), tasks, pipeline.Options{
		TaskTimeout: cfg.StageTaskTimeout.Duration(),
		Logger:      logger,
	})

	return &runtime{
		store:      st,
		hub:        hub,
		engine:     engine,
		model:      model,
		logger:     logger,
		closeStore: closeStore,
	}, nil
}

// Close stops the engine, then releases the hub, model and store
func (r *runtime) Close(ctx context.Context) error {
	err := r.engine.Shutdown(ctx)
	r.hub.Close()
	if cerr := r.model.Close(); cerr != nil {
		r.logger.Warn("failed to close LLM client", "error", cerr)
	}
	r.closeStore()
	return err
}

func parseUserFlag(value string) (uuid.UUID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return localUserID, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --user %q: %w", value, err)
	}
	return id, nil
}

func parseRunID(value string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid run id %q: %w", value, err)
	}
	return id, nil
}
