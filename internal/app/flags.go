package app

import (
	"flag"
	"fmt"
	"os"

	"signal-board/internal/config"
	"signal-board/internal/logger"
)

// Environment defaults of the common flags.
const (
	EnvConfigPath = "SIGNAL_BOARD_CONFIG"
	EnvBackend    = "STORE_BACKEND"
	EnvLogMode    = "LOG_MODE"
)

// Flags are the flags shared by every command.
type Flags struct {
	ConfigPath string
	EnvFile    string
	Backend    string
	LogMode    string
	UseMemory  bool
}

// Register adds the common flags to fs, defaulting from the environment.
func (f *Flags) Register(fs *flag.FlagSet) {
	fs.StringVar(&f.ConfigPath, "config", envOr(EnvConfigPath, "config.yaml"), "YAML configuration file")
	fs.StringVar(&f.EnvFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	fs.StringVar(&f.Backend, "backend", envOr(EnvBackend, BackendTelegram), "object store backend (telegram, postgres, memory)")
	fs.StringVar(&f.LogMode, "log-mode", envOr(EnvLogMode, "production"), "log mode (production or development)")
	fs.BoolVar(&f.UseMemory, "use-memory", false, "use in-memory storage (overrides --backend)")
}

// BackendName resolves the selected backend.
func (f *Flags) BackendName() string {
	if f.UseMemory {
		return BackendMemory
	}
	return f.Backend
}

// Load reads the env file and the configuration and builds the logger.
func (f *Flags) Load() (*config.Config, *logger.Logger, error) {
	if err := config.LoadEnv(f.EnvFile); err != nil {
		return nil, nil, fmt.Errorf("load env: %w", err)
	}
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(f.LogMode)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
