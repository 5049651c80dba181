package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/glueco/keywarden/internal/config"
	"github.com/glueco/keywarden/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// KEYWARDEN_DATA_DIR env var, or ~/.keywarden as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("KEYWARDEN_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.keywarden"
}

// loadConfig reads the YAML configuration from --config, ./keywarden.yaml, or
// ~/.keywarden/keywarden.yaml, falling back to defaults when no file exists.
func loadConfig() (*config.YAMLConfig, error) {
	candidates := []string{cfgFile}
	if cfgFile == "" {
		home, _ := os.UserHomeDir()
		candidates = []string{"keywarden.yaml", filepath.Join(home, ".keywarden", "keywarden.yaml")}
	}
	for _, path := range candidates {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			if cfgFile != "" {
				return nil, fmt.Errorf("config file %s: %w", path, err)
			}
			continue
		}
		return config.LoadYAMLConfig(path)
	}
	return config.DefaultYAMLConfig(), nil
}

// openStore opens the persistence backend named by the config: an explicit
// DSN wins, otherwise SQLite under the resolved data directory.
func openStore(cfg *config.YAMLConfig) (*store.Store, error) {
	if cfg.Store.DSN != "" {
		driver := cfg.Store.Driver
		if driver == "" || driver == "sqlite" {
			return nil, fmt.Errorf("store.dsn requires store.driver (pgx or mysql)")
		}
		return store.Open(driver, cfg.Store.DSN)
	}
	dir := cfg.Store.DataDir
	if dataDir != "" || dir == "" {
		dir = resolveDataDir()
	}
	return store.NewStore(dir)
}

// parseDuration parses a duration string, returning fallback for empty or
// invalid input.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// parseByteSize parses sizes like "10MB", "512KB", or a bare byte count.
func parseByteSize(s string, fallback int64) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return fallback
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "GB"):
		mult, s = 1<<30, strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		mult, s = 1<<20, strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		mult, s = 1<<10, strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n * mult
}

// cmdCtx returns a background context for CLI initialization.
func cmdCtx() context.Context {
	return context.Background()
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "keywarden.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

func logFilePath() string {
	return filepath.Join(resolveDataDir(), "keywarden.log")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
