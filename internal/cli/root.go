// Package cli implements the working-memory CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/working-memory/internal/config"
	"github.com/rcliao/working-memory/internal/logging"
	"github.com/rcliao/working-memory/internal/longterm"
	"github.com/rcliao/working-memory/internal/model"
	"github.com/rcliao/working-memory/internal/store"
	"github.com/rcliao/working-memory/internal/workingmem"
)

var (
	dbPath     string
	configPath string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "working-memory",
	Short: "Session-scoped working memory for agents",
	Long:  "A bounded, time-decaying cache of session context. Entries expire, get evicted under pressure, or are promoted to long-term memory. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $WORKING_MEMORY_DB, config database.path, or ~/.working-memory/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $WORKING_MEMORY_CONFIG or ~/.working-memory/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("WORKING_MEMORY_CONFIG"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".working-memory", "config.yaml")
}

func getDBPath(cfg *config.Config) string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("WORKING_MEMORY_DB"); env != "" {
		return env
	}
	if cfg != nil && cfg.Database.Path != "" {
		return cfg.Database.Path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".working-memory", "memory.db")
}

// app bundles everything a command needs.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	entries  *store.SQLiteStore
	longterm *longterm.SQLiteStore
	mgr      *workingmem.Manager
}

func (a *app) Close() {
	a.entries.Close()
	a.longterm.Close()
	a.logger.Sync()
}

func openApp() (*app, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	path := getDBPath(cfg)
	entries, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("open entry store: %w", err)
	}
	lt, err := longterm.NewSQLiteStore(path)
	if err != nil {
		entries.Close()
		return nil, fmt.Errorf("open long-term store: %w", err)
	}

	mgr, err := workingmem.New(entries, lt, cfg.WorkingMemory, workingmem.WithLogger(logger))
	if err != nil {
		entries.Close()
		lt.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, entries: entries, longterm: lt, mgr: mgr}, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func printEntries(entries []model.Entry) {
	if formatFlag != "text" {
		if len(entries) == 0 {
			fmt.Println("[]")
			return
		}
		printJSON(entries)
		return
	}
	for _, e := range entries {
		fmt.Printf("[%s] %s (%s, importance %.2f, expires %s)\n",
			e.ID, e.Content, e.Priority, e.Importance, e.Expires.Format("15:04:05"))
	}
}

// checkLimit rejects --limit values below 1. The library treats 0 as "use
// the default"; on the command line an explicit 0 is a mistake.
func checkLimit(limit int) error {
	if limit < 1 {
		return fmt.Errorf("--limit must be at least 1, got %d", limit)
	}
	return nil
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
