package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath string
	indexFlag  string
	typeFlag   string
	engineFlag string
)

var rootCmd = &cobra.Command{
	Use:           "esquery",
	Short:         "Compile and run where-clause queries against Elasticsearch",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&indexFlag, "index", "", "Index name, overrides elastic.index")
	rootCmd.PersistentFlags().StringVar(&typeFlag, "type", "", "Document type used when the query names none")
	rootCmd.PersistentFlags().StringVar(&engineFlag, "engine", "elastic", "Search engine: elastic or memory")

	rootCmd.AddCommand(newCompileCmd(), newSearchCmd(), newServeCmd(), newReindexCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
