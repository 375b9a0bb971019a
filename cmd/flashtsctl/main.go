// Command flashtsctl is a host-side tool for creating, inspecting, and
// driving a flashts storage core against a simulated flash device: a
// single file on disk, or an ephemeral in-memory device for quick
// experiments.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tinkerator/flashts/internal/config"
	"github.com/tinkerator/flashts/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "flashtsctl",
	Short: "Inspect and drive a flashts storage core against a simulated flash device",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a flashts.yaml config (defaults built in if omitted)")
	rootCmd.AddCommand(initCmd, writeCmd, layoutCmd, checkCmd, dumpCmd, browseCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file when configPath is set, else returns
// the built-in defaults.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(configPath)
}

// newLogger builds the development logger the commands pass into
// flashtsdb.Options so ring diagnostics are observable on the CLI's
// stderr instead of discarded.
func newLogger() *zap.SugaredLogger {
	log, err := logging.NewDevelopment()
	if err != nil {
		return logging.NewNop()
	}
	return log
}
