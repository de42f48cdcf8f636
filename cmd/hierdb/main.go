package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nebliotech/hierdb/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hierdb",
	Short: "hierdb - hierarchical transactional cache engine",
	Long: `hierdb is a hierarchical, transactional cache engine layered above
a persistent key-value store, supporting write-back, write-through, and
journal-based caching policies over a fixed set of logical indices.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"hierdb version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("data-dir", "./hierdb-data", "Directory holding the database file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("layer", "writeback", "Cache policy: writeback, readthrough, or lru")
	rootCmd.PersistentFlags().Int64("flush-on-size", 0, "Buffered bytes that trigger an automatic flush (writeback/lru only, 0 disables)")
	rootCmd.PersistentFlags().String("config", "", "YAML file overriding the flags above (command line still wins)")

	cobra.OnInitialize(applyConfigFile, initLogging)

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(eraseCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
}

func applyConfigFile() {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	if path == "" {
		return
	}
	cfg, err := loadFileConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return
	}
	applyFileConfig(rootCmd, cfg)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
