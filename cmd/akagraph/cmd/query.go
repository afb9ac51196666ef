package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/apingali/akagraph/internal/logger"
	"github.com/apingali/akagraph/internal/render"
)

var (
	queryNoSoft bool
	queryJSON   bool
)

var queryCmd = &cobra.Command{
	Use:   "query <identifier>",
	Short: "Find the connected component of an identifier",
	Long: `Query resolves an identifier — a record URL, an email, a phone
number, any configured selector value — to the records connected to it, with
a confidence equal to the fraction of Monte-Carlo replicas in which each
record shares a root with the identifier.

Example:
  akagraph query foo@mail.com`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().BoolVar(&queryNoSoft, "no-soft", false,
		"Match the identifier against hard selectors and URLs only")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false,
		"Emit the component as JSON instead of a table")

	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
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

	members, err := graph.FindConnectedComponent(context.Background(), args[0], !queryNoSoft)
	if err != nil {
		return err
	}
	if queryJSON {
		out, err := json.MarshalIndent(members, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}
	if len(members) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no records found")
		return nil
	}
	table := render.NewTable("URL", "CONFIDENCE", "IDENTIFIERS")
	for _, m := range members {
		table.AddRow(m.Record.URL, formatConfidence(m.Confidence), summarizeFields(m.Record.Fields))
	}
	fmt.Fprint(cmd.OutOrStdout(), table.String())
	return nil
}

// formatConfidence colors confidence values so near-certain members stand
// out from speculative ones.
func formatConfidence(c float64) string {
	text := fmt.Sprintf("%.2f", c)
	switch {
	case c >= 0.9:
		return color.Green.Render(text)
	case c >= 0.5:
		return color.Yellow.Render(text)
	default:
		return color.Red.Render(text)
	}
}

func summarizeFields(fields map[string][]string) string {
	var parts []string
	for _, name := range sortedKeys(fields) {
		parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(fields[name], ",")))
	}
	return strings.Join(parts, " ")
}

func sortedKeys(fields map[string][]string) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
