// Package app wires configuration, logging, storage and the memory engine
// services into one application instance.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/a-marczewski/mnemo/internal/assemble"
	"github.com/a-marczewski/mnemo/internal/config"
	"github.com/a-marczewski/mnemo/internal/entity"
	"github.com/a-marczewski/mnemo/internal/llm"
	"github.com/a-marczewski/mnemo/internal/logging"
	"github.com/a-marczewski/mnemo/internal/memory"
	"github.com/a-marczewski/mnemo/internal/procedural"
	"github.com/a-marczewski/mnemo/internal/recall"
	"github.com/a-marczewski/mnemo/internal/reflect"
	"github.com/a-marczewski/mnemo/internal/semantic"
	"github.com/a-marczewski/mnemo/internal/store"
	"github.com/a-marczewski/mnemo/internal/temporal"
)

// NewApp loads configuration, opens storage and constructs every service.
func NewApp(dataDir string) (*App, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logDir := filepath.Join(cfg.DataDir, "logs")
		logFile = filepath.Join(logDir, fmt.Sprintf("mnemo-%s.log", time.Now().Format("2006-01-02")))
	} else if !filepath.IsAbs(logFile) {
		logFile = filepath.Join(cfg.DataDir, logFile)
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel, logFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	st, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", zap.Error(err))
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	completions := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.CompletionTimeout)

	var embedder semantic.Embedder
	if cfg.SemanticEnabled {
		embedder = semantic.NewCachedEmbedder(semantic.NewClient(cfg), cfg.EmbeddingCacheTTL)
	}

	memories := memory.NewService(st, cfg, logger)
	engine := recall.NewEngine(memories, embedder, cfg, logger)
	assembler := assemble.NewAssembler(memories, engine, cfg, logger)
	orchestrator := reflect.NewOrchestrator(
		memories,
		temporal.NewValidator(memories, cfg, logger),
		procedural.NewSynthesizer(memories, completions, cfg, logger),
		entity.NewExtractor(memories, completions, cfg, logger),
		completions,
		cfg,
		logger,
	)

	return &App{
		Core: CoreModule{
			Config: cfg,
			Logger: logger,
			Store:  st,
		},
		Engine: EngineModule{
			Memory:       memories,
			Recall:       engine,
			Assembler:    assembler,
			Triggers:     reflect.NewTriggers(st, cfg, logger),
			Orchestrator: orchestrator,
		},
	}, nil
}

// Close flushes the logger and closes storage.
func (a *App) Close() error {
	_ = a.Core.Logger.Sync()
	if closer, ok := a.Core.Store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
