package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"archivist/internal/arklog"
	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/jobs"
	"archivist/internal/logging"
	"archivist/internal/register"
	"archivist/internal/sink"
	"archivist/internal/sink/arkivum"
	"archivist/internal/sink/filesink"
	"archivist/internal/workflow"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// log returns the process logger. A logger that cannot open its file output
// falls back to console-only logging.
func (c *commandContext) log() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, _ := c.ensureConfig()
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			logger, _ = logging.New(logging.Options{Level: "info", Format: "console"})
			logging.WarnWithContext(logger, "file logging unavailable", "logger_fallback",
				logging.Error(err),
				logging.String(logging.FieldImpact, "logs written to stdout only"),
			)
		}
		c.logger = logger
	})
	return c.logger
}

// environment bundles the stores a command works on.
type environment struct {
	cfg      *config.Config
	logger   *slog.Logger
	jobs     *jobs.Store
	register *register.Register
	catalog  *catalog.Store
	arklog   *arklog.Log
	sink     sink.Sink
	engine   *workflow.Engine

	closers []func() error
}

func (e *environment) close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// withEnvironment opens every store and builds the engine, then hands them
// to fn and closes them again.
func (c *commandContext) withEnvironment(cmd *cobra.Command, fn func(*environment) error) error {
	env, err := c.openEnvironment(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if err := env.close(); err != nil {
			logging.WarnWithContext(env.logger, "closing stores failed", "close_failed", logging.Error(err))
		}
	}()
	return fn(env)
}

func (c *commandContext) openEnvironment(ctx context.Context) (*environment, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	env := &environment{cfg: cfg, logger: c.log()}
	fail := func(err error) (*environment, error) {
		_ = env.close()
		return nil, err
	}

	if env.jobs, err = jobs.Open(cfg.Paths.JobRoot); err != nil {
		return fail(fmt.Errorf("open job tree: %w", err))
	}
	if env.arklog, err = arklog.Open(cfg.Paths.ArchiveLog); err != nil {
		return fail(fmt.Errorf("open archive log: %w", err))
	}
	if env.register, err = register.Open(ctx, cfg.Paths.RegisterDB); err != nil {
		return fail(fmt.Errorf("open register: %w", err))
	}
	env.closers = append(env.closers, env.register.Close)
	if env.catalog, err = catalog.Open(ctx, cfg.Paths.CatalogDB); err != nil {
		return fail(fmt.Errorf("open catalog: %w", err))
	}
	env.closers = append(env.closers, env.catalog.Close)
	if env.sink, err = buildSink(cfg, env.arklog); err != nil {
		return fail(err)
	}

	env.engine, err = workflow.New(cfg, workflow.Deps{
		Jobs:     env.jobs,
		Register: env.register,
		Catalog:  env.catalog,
		Sink:     env.sink,
		Arklog:   env.arklog,
	}, env.logger)
	if err != nil {
		return fail(err)
	}
	return env, nil
}

func buildSink(cfg *config.Config, log *arklog.Log) (sink.Sink, error) {
	switch cfg.Sink.Kind {
	case config.SinkFile:
		s, err := filesink.New(cfg.Sink.File.ArchiveRoot, log)
		if err != nil {
			return nil, fmt.Errorf("file sink: %w", err)
		}
		return s, nil
	case config.SinkArkivum:
		s, err := arkivum.New(cfg.Sink.Arkivum, log)
		if err != nil {
			return nil, fmt.Errorf("arkivum sink: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported sink kind %q", cfg.Sink.Kind)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
