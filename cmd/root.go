// Package cmd defines the CLI commands of the downloader.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JakeFAU/submission-downloader/internal/config"
)

// newRootCmd creates the root command. Flags of every subcommand bind into v,
// so the precedence is flag, environment, config file, default.
func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "bulkdl",
		Short: "Bulk downloader for submission media with retry and content-addressed dedup.",
		Long: `bulkdl reads submission listings, resolves each link to its media through a
registry of extractors, and downloads the files with per-domain rate limits,
bounded retries and a persistent hash store that skips or hard-links duplicates.`,
		SilenceUsage: true,

		PersistentPreRunE: func(*cobra.Command, []string) error {
			return readConfig(v, cfgFile)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.bulkdl/config.yaml)")
	cmd.AddCommand(newDownloadCmd(v))
	return cmd
}

// readConfig loads an explicit file, or searches the usual locations. A missing
// file in the search path is not an error.
func readConfig(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.bulkdl")
	v.AddConfigPath("/etc/bulkdl/")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the run, which
// abandons in-flight submissions and still saves the hash store.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(config.NewViper()).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "bulkdl:", err)
		os.Exit(1)
	}
}
