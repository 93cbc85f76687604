package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/exerceo/internal/common"
)

// Command-line flags shared by the subcommands
var (
	configFiles []string
	serverPort  int
	serverHost  string
)

var rootCmd = &cobra.Command{
	Use:   "exerceo-data",
	Short: "Exerceo dataset service",
	Long:  `Exerceo-data assembles instruction-tuning datasets from the document corpus and exports them in JSONL, columnar and CSV formats.`,
	// Bare invocation serves, so the binary works as a systemd unit
	// without arguments.
	RunE: runServe,
}

func init() {
	// A .version file next to the executable overrides the compiled-in
	// version.
	rootCmd.Version = common.LoadVersionFromFile()

	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil,
		"Configuration file path (can be specified multiple times, later files override earlier ones)")
	rootCmd.PersistentFlags().IntVarP(&serverPort, "port", "p", 0, "Server port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverHost, "host", "", "Server host (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	defer common.RecoverWithCrashFile()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
