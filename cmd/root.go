/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jjudge-oj/mediastore/config"
	"github.com/jjudge-oj/mediastore/internal/logging"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mediastore",
	Short: "Media storage service over local, S3-compatible and GCS backends",
	Long: `mediastore stores uploaded media in a local directory, an S3-compatible
object store or Google Cloud Storage, selected by configuration.

Configuration is read from the environment (see STORAGE_*, DB_*, MQ_*).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Init(config.LoadConfig().Log)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.Sync()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
