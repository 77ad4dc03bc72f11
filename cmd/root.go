// Package cmd implements the command-line interface for scrapecore.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/scrapecore/cmd/serve"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "scrapecore",
	Short: "A job-orchestration core for a scraping service",
	Long:  `scrapecore queues, dispatches, and stores scrape jobs across a bounded worker pool.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	_ = godotenv.Load()
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println("scrapecore version 0.1.0")
		},
	})
	rootCmd.AddCommand(serve.Command(&cfgFile))
}

func init() {
	cobra.OnInitialize(func() {
		if _, err := os.Stat(cfgFile); cfgFile != "" && err != nil {
			fmt.Fprintf(os.Stderr, "warning: config file %q not found\n", cfgFile)
		}
	})
}
