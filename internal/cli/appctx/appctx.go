// Package appctx provides a shared bootstrap helper for CLI commands.
// It centralizes config loading, flag overrides, logger construction and
// ledger opening to reduce boilerplate across commands.
package appctx

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lherron/dsmerge/internal/config"
	"github.com/lherron/dsmerge/internal/errs"
	"github.com/lherron/dsmerge/internal/logging"
	"github.com/lherron/dsmerge/internal/store"
)

// App holds the shared application context for commands.
type App struct {
	// Config is the loaded configuration with flag overrides applied
	Config *config.Config

	Logger zerolog.Logger

	// Ledger is the opened run ledger, nil when none is configured or the
	// command does not use it
	Ledger *store.Store
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	if a.Ledger != nil {
		a.Ledger.Close()
		a.Ledger = nil
	}
}

// LedgerMode says whether a command uses the run ledger.
type LedgerMode int

const (
	// LedgerNone never opens the ledger.
	LedgerNone LedgerMode = iota
	// LedgerOptional opens the ledger when a path is configured.
	LedgerOptional
	// LedgerRequired fails when no ledger path is configured.
	LedgerRequired
)

// Options configures the bootstrap behavior.
type Options struct {
	Ledger LedgerMode
}

// RunFunc is the signature for command run functions.
type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// WithApp wraps a command's run function with shared bootstrap logic.
// The ledger is closed automatically when the wrapped function returns.
func WithApp(opts Options, fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := Bootstrap(cmd, opts)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(app, cmd, args)
	}
}

// Bootstrap initializes the App according to the given options.
// Callers are responsible for calling App.Close() when done.
func Bootstrap(cmd *cobra.Command, opts Options) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	overrides := map[string]*string{
		"raw-root":   &cfg.RawRoot,
		"ledger":     &cfg.LedgerPath,
		"log-level":  &cfg.LogLevel,
		"log-format": &cfg.LogFormat,
	}
	for name, dst := range overrides {
		if f := cmd.Flag(name); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Format = cfg.LogFormat
	app := &App{
		Config: cfg,
		Logger: logging.New(logCfg),
	}

	switch {
	case opts.Ledger == LedgerNone:
	case cfg.LedgerPath == "" && opts.Ledger == LedgerRequired:
		return nil, errs.NewValidationError("ledger", "", "no ledger configured (use --ledger or DSMERGE_LEDGER)")
	case cfg.LedgerPath != "":
		ledger, err := store.Open(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger: %w", err)
		}
		app.Ledger = ledger
	}

	return app, nil
}
