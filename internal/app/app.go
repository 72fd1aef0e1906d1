// Package app assembles the analysis engine and its collaborators from
// configuration. Both binaries build through it.
package app

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/analyzer"
	"github.com/raaihank/pii-sentinel/internal/audit"
	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/recognizer"
)

// App holds the wired engine. Cache and Audit are nil when disabled.
type App struct {
	Library  *privacy.Library
	Analyzer *analyzer.Analyzer
	Cache    *cache.Cache
	Audit    *audit.Store
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig) (*logger.Logger, error) {
	lc := logger.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
	}
	if cfg.File.Enabled {
		lc.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.File.Path,
		}
	}
	return logger.New(lc)
}

// Build wires the pattern library, entity sources, analyzer, cache and
// audit store. On error everything already opened is closed.
func Build(cfg *config.Config, log *logger.Logger) (*App, error) {
	lib, err := privacy.NewLibrary(privacy.LibraryConfig{
		PatternFile: cfg.Privacy.PatternFile,
		Enabled:     cfg.Privacy.EnabledRules,
	})
	if err != nil {
		return nil, fmt.Errorf("pattern library: %w", err)
	}
	log.Info("Pattern library loaded",
		zap.Int("rules", lib.Len()),
		zap.String("pattern_file", cfg.Privacy.PatternFile),
	)

	sources, err := BuildSources(cfg.Sources, lib, log)
	if err != nil {
		return nil, err
	}

	a, err := analyzer.New(analyzer.Config{
		Timeout:   cfg.Analysis.Timeout,
		EagerMask: cfg.Privacy.EagerMask,
		Locale:    cfg.Privacy.Locale,
	}, log.WithComponent("analyzer"), sources...)
	if err != nil {
		return nil, err
	}

	app := &App{Library: lib, Analyzer: a}

	if cfg.Cache.Enabled {
		tokens, _ := privacy.Tokens(a.Locale())
		app.Cache, err = cache.Open(cfg.Cache, tokens, log.WithComponent("cache"))
		if err != nil {
			return nil, fmt.Errorf("analysis cache: %w", err)
		}
	}

	if cfg.Audit.Enabled {
		app.Audit, err = audit.NewStore(cfg.Audit, log.WithComponent("audit"))
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("audit store: %w", err)
		}
	}

	return app, nil
}

// BuildSources returns the enabled entity sources in a fixed order: local,
// then remote and ollama, chained when fallback is set.
func BuildSources(cfg config.SourcesConfig, lib *privacy.Library, log *logger.Logger) ([]recognizer.Source, error) {
	log = log.WithComponent("recognizer")
	var sources []recognizer.Source

	if cfg.Local.Enabled {
		sources = append(sources, recognizer.NewLocalSource(privacy.NewDetector(lib, log)))
	}

	var remote, ollama recognizer.Source
	if cfg.Remote.Enabled {
		rs, err := recognizer.NewRemoteSource(recognizer.RemoteConfig{
			URL:     cfg.Remote.URL,
			Timeout: cfg.Remote.Timeout,
		}, log)
		if err != nil {
			return nil, err
		}
		remote = rs
	}
	if cfg.Ollama.Enabled {
		src, err := recognizer.NewOllamaSource(recognizer.OllamaConfig{
			URL:       cfg.Ollama.URL,
			Model:     cfg.Ollama.Model,
			Threshold: cfg.Ollama.Threshold,
			Timeout:   cfg.Ollama.Timeout,
		}, log)
		if err != nil {
			return nil, err
		}
		ollama = src
	}

	switch {
	case cfg.Fallback && remote != nil && ollama != nil:
		sources = append(sources, recognizer.NewFallbackSource(remote, ollama, log))
	default:
		if remote != nil {
			sources = append(sources, remote)
		}
		if ollama != nil {
			sources = append(sources, ollama)
		}
	}

	if len(sources) == 0 {
		return nil, errors.New("no entity source enabled")
	}
	return sources, nil
}

// Close releases the cache and audit connections.
func (a *App) Close() error {
	var errs []error
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.Audit != nil {
		errs = append(errs, a.Audit.Close())
	}
	return errors.Join(errs...)
}
