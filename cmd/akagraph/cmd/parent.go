package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/apingali/akagraph/internal/logger"
	"github.com/apingali/akagraph/internal/render"
)

var parentCmd = &cobra.Command{
	Use:   "parent <url>",
	Short: "Show a record's union-find parent in every replica",
	Long: `Parent looks up the union-find row for the given record URL in each
Monte-Carlo replica and prints its parent pointer, or its rank and tree
cardinality when the node is a root. Mostly useful for debugging merges.`,
	Args: cobra.ExactArgs(1),
	RunE: runParent,
}

func init() {
	rootCmd.AddCommand(parentCmd)
}

func runParent(cmd *cobra.Command, args []string) error {
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

	rows, err := graph.Parents(context.Background(), args[0])
	if err != nil {
		return err
	}
	table := render.NewTable("REPLICA", "PARENT", "RANK", "CARDINALITY")
	for _, row := range rows {
		if row.Parent != "" {
			table.AddRow(strconv.Itoa(row.Replica), row.Parent, "", "")
			continue
		}
		table.AddRow(strconv.Itoa(row.Replica), "(root)",
			strconv.Itoa(row.Rank), strconv.Itoa(row.Cardinality))
	}
	fmt.Fprint(cmd.OutOrStdout(), table.String())
	return nil
}
