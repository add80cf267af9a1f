package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"outreach/pipeline/internal/artifacts"
	"outreach/pipeline/internal/config"
	"outreach/pipeline/internal/logging"
	"outreach/pipeline/internal/pipeline"
	"outreach/pipeline/internal/sendlog"
	"outreach/pipeline/internal/store"
)

var (
	configPath string
	account    string
	dataDir    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "outreach",
	Short:         "Track LinkedIn outreach candidates through fetch, score, message and send",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&account, "account", "", "Account namespace (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory holding per-account data")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// LoadConfig reads the configuration and applies the persistent flags.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if account != "" {
		cfg.Account = account
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// DiscoverDataDir finds the data directory using priority: env > flag > config > XDG fallback
func DiscoverDataDir(cfg *config.Config) (string, error) {
	// 1. Environment variable
	if envPath := os.Getenv("OUTREACH_DATA_DIR"); envPath != "" {
		return envPath, nil
	}

	// 2. CLI flag
	if dataDir != "" {
		return dataDir, nil
	}

	// 3. Config file
	if cfg != nil && cfg.DataDir != "" {
		return cfg.DataDir, nil
	}

	// 4. XDG fallback
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "outreach"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("no data directory (set OUTREACH_DATA_DIR, use --data-dir, or set data_dir in config): %w", err)
	}
	return filepath.Join(home, ".local", "share", "outreach"), nil
}

// Workspace is one account's open data: config, logger, record store, send
// log and artifacts.
type Workspace struct {
	Config    *config.Config
	Logger    *zap.Logger
	Dir       string
	Store     store.Store
	Log       *sendlog.Log
	Artifacts *artifacts.Store
}

// OpenWorkspace discovers and opens the current account's data.
func OpenWorkspace(ctx context.Context) (*Workspace, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	root, err := DiscoverDataDir(cfg)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(root, cfg.Account)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating account directory: %w", err)
	}

	st, err := store.Open(ctx, store.Options{
		Backend:     store.Backend(cfg.Store.Backend),
		Dir:         dir,
		Account:     cfg.Account,
		PostgresDSN: cfg.Store.PostgresDSN,
	})
	if err != nil {
		if cfg.Store.Backend == string(store.BackendPostgres) {
			return nil, fmt.Errorf("opening postgres store: %s", logging.SanitizeError(err))
		}
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}
	log, err := sendlog.Open(filepath.Join(dir, sendlog.FileName))
	if err != nil {
		st.Close()
		return nil, err
	}
	if log.Torn() {
		logger.Warn("send log ends in an interrupted row; it will be dropped on the next send",
			zap.String("path", log.Path()))
	}

	logger.Debug("workspace opened",
		zap.String("account", cfg.Account),
		zap.String("dir", dir),
		zap.String("backend", cfg.Store.Backend),
		zap.String("dsn", logging.SanitizeDSN(cfg.Store.PostgresDSN)),
		zap.String("config", cfg.Path))

	return &Workspace{
		Config:    cfg,
		Logger:    logger,
		Dir:       dir,
		Store:     st,
		Log:       log,
		Artifacts: artifacts.New(filepath.Join(dir, "artifacts")),
	}, nil
}

// Runner returns a pipeline runner over the workspace.
func (w *Workspace) Runner() *pipeline.Runner {
	return &pipeline.Runner{
		Store:     w.Store,
		Log:       w.Log,
		Artifacts: w.Artifacts,
		Logger:    w.Logger.Named("pipeline"),
		DailyCap:  w.Config.Limits.DailySendCap,
	}
}

// Lock takes the account's single-writer lock.
func (w *Workspace) Lock(ctx context.Context) (*store.Lock, error) {
	l, err := store.AcquireLock(ctx, w.Dir, w.Config.Store.LockTTL)
	if errors.Is(err, store.ErrLocked) {
		return nil, fmt.Errorf("another outreach command is writing to %s: %w", w.Dir, err)
	}
	return l, err
}

func (w *Workspace) Close() error {
	_ = w.Logger.Sync()
	return w.Store.Close()
}
