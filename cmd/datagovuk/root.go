package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	verbose    bool
	debug      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "datagovuk",
	Short: "Scrape public data from data.gov.uk without an API key",
	Long: `datagovuk searches the data.gov.uk catalog by keyword, downloads the
distribution files matching a requested format, and saves a metadata
record for every dataset it fetched.

Downloads and metadata land in $HOME/datagovuk by default, one
directory per dataset.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is $HOME/.datagovuk.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "put the logger in info mode")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "put the logger in debug mode")

	rootCmd.SetVersionTemplate(`datagovuk {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// logLevel maps the verbosity flags to a log level, warnings by default
func logLevel() string {
	switch {
	case debug:
		return "debug"
	case verbose:
		return "info"
	default:
		return "warn"
	}
}
