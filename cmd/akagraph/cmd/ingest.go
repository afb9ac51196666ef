package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/apingali/akagraph/internal/akagraph"
	"github.com/apingali/akagraph/internal/etl"
	"github.com/apingali/akagraph/internal/logger"
)

var (
	ingestFormat    string
	ingestLimit     int
	ingestNoUnion   bool
	ingestCSVURL    string
	ingestCSVFields map[string]string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest record files into the graph",
	Long: `Ingest reads entity records from the given files and feeds them
through an ingest session: records are bulk-written, then equivalence
discovery links each record to the records sharing its identifiers.

Supported formats are JSON lines, CBOR streams, and field-mapped CSV, each
optionally gzipped. Use "-" to read from stdin.

Example:
  akagraph ingest profiles.json.gz --k-replicas 10`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFormat, "format", "",
		"Input format: jsonl, cbor, or csv (default: inferred from extension)")
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 0,
		"Stop after this many records (0 = no limit)")
	ingestCmd.Flags().BoolVar(&ingestNoUnion, "no-union", false,
		"Store records without linking them to anything")
	ingestCmd.Flags().StringVar(&ingestCSVURL, "csv-url-column", "url",
		"CSV column holding the record URL")
	ingestCmd.Flags().StringToStringVar(&ingestCSVFields, "csv-map", nil,
		"CSV column-to-field mapping, e.g. --csv-map title=name,mail=email")

	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
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

	var mapping *etl.Mapping
	if len(ingestCSVFields) > 0 || ingestFormat == etl.FormatCSV {
		mapping = &etl.Mapping{
			URLColumn:     ingestCSVURL,
			Fields:        ingestCSVFields,
			HardSelectors: cfg.Graph.HardSelectors,
		}
	}

	ctx := context.Background()
	start := time.Now()
	total := 0
	err = graph.Session(ctx, func(g *akagraph.Graph) error {
		for _, path := range args {
			log.Infow("loading", "path", path)
			err := etl.Load(path, ingestFormat, mapping, func(rec akagraph.Record) error {
				if ingestLimit > 0 && total >= ingestLimit {
					return errLimitReached
				}
				if err := g.Add(ctx, rec, !ingestNoUnion); err != nil {
					return err
				}
				total++
				if total%1000 == 0 {
					elapsed := time.Since(start).Seconds()
					log.Infow("progress",
						"records", humanize.Comma(int64(total)),
						"rate", fmt.Sprintf("%.1f/s", float64(total)/elapsed))
				}
				return nil
			})
			if err == errLimitReached {
				return nil
			}
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Infow("ingest finished",
		"records", humanize.Comma(int64(total)),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

var errLimitReached = fmt.Errorf("record limit reached")
