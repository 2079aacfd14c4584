package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/DmytroChyzh/ciedenmanager/internal/chat"
	"github.com/DmytroChyzh/ciedenmanager/internal/completion"
	"github.com/DmytroChyzh/ciedenmanager/internal/config"
	"github.com/DmytroChyzh/ciedenmanager/internal/history"
	"github.com/DmytroChyzh/ciedenmanager/internal/logging"
	"github.com/DmytroChyzh/ciedenmanager/internal/storage"
	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// loadConfig resolves the working directory and loads layered configuration.
func loadConfig() (*types.Config, error) {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if ephemeral {
		cfg.Storage.Ephemeral = true
	}
	return cfg, nil
}

// setupLogging initializes the global logger. Without --print-logs output
// goes to the state directory so it does not interleave with chat output.
func setupLogging(cfg *types.Config) (io.Closer, error) {
	logCfg := logging.FromSettings(cfg.Log)
	if logLevel != "" {
		logCfg.Level = logging.ParseLevel(logLevel)
	}

	if printLogs {
		logCfg.Output = os.Stderr
		logging.Init(logCfg)
		return nopCloser{}, nil
	}

	logPath := config.GetPaths().LogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logCfg.Output = f
	logCfg.Pretty = false
	logging.Init(logCfg)
	return f, nil
}

// openStore builds the history store selected by the configuration.
func openStore(cfg *types.Config) *history.Store {
	var backend storage.Backend
	if cfg.Storage.Ephemeral {
		backend = storage.NewMemory()
	} else {
		backend = storage.New(config.StorageDir(cfg))
	}
	return history.New(backend, history.WithLogger(logging.Component("history")))
}

// openController wires the store, completer and controller together.
func openController(ctx context.Context, cfg *types.Config) (*chat.Controller, error) {
	completer, err := completion.New(ctx, cfg.Completion)
	if err != nil {
		return nil, err
	}
	return chat.Open(ctx, openStore(cfg), completer, chat.Options{
		SystemPrompt: cfg.Completion.SystemPrompt,
	}), nil
}
