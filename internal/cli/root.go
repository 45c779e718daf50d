// Package cli implements the kaidison-memory CLI commands.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wanyview/kaidison-system/internal/config"
	"github.com/wanyview/kaidison-system/internal/engine"
	"github.com/wanyview/kaidison-system/internal/model"
	"github.com/wanyview/kaidison-system/internal/observe"
)

var (
	configPath  string
	storagePath string
	verbose     bool
	logFormat   string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "kaidison-memory",
	Short: "Persistent memory with hybrid recall",
	Long:  "Store short notes with context and recall them by keyword and embedding similarity. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	RootCmd.PersistentFlags().StringVarP(&storagePath, "path", "p", "", "Storage directory (default: $KAIDISON_MEMORY_PATH or ~/.kaidison-memory)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log info messages to stderr")
	RootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format: console or json")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if storagePath != "" {
		cfg.StoragePath = storagePath
	}
	return cfg, nil
}

func newObserver() *observe.Observer {
	if logFormat == "json" {
		return observe.NewJSON(os.Stderr, verbose)
	}
	return observe.New(os.Stderr, verbose)
}

func openEngine(cmd *cobra.Command) (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return engine.Open(cmd.Context(), cfg, engine.WithObserver(newObserver()))
}

// parseLayer accepts "", "daily" or "global".
func parseLayer(s string) (model.Layer, error) {
	l := model.Layer(strings.ToLower(strings.TrimSpace(s)))
	if l == "" || l.Valid() {
		return l, nil
	}
	return "", fmt.Errorf("unknown layer %q (use daily or global)", s)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
