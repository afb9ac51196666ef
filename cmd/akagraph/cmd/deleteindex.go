package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apingali/akagraph/internal/logger"
)

var deleteYes bool

var deleteIndexCmd = &cobra.Command{
	Use:   "delete-index",
	Short: "Delete the graph index and all of its data",
	RunE:  runDeleteIndex,
}

func init() {
	deleteIndexCmd.Flags().BoolVar(&deleteYes, "yes", false,
		"Confirm deletion (required)")

	rootCmd.AddCommand(deleteIndexCmd)
}

func runDeleteIndex(cmd *cobra.Command, args []string) error {
	if !deleteYes {
		return fmt.Errorf("refusing to delete without --yes")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	graph, err := buildGraph(cfg, log)
	if err != nil {
		return err
	}
	if err := graph.DeleteIndex(context.Background()); err != nil {
		return err
	}
	log.Infow("index deleted", "index", cfg.Store.Index)
	return nil
}
