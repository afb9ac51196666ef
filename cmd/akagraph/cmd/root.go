package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/apingali/akagraph/internal/akagraph"
	"github.com/apingali/akagraph/internal/config"
	"github.com/apingali/akagraph/internal/handles"
	"github.com/apingali/akagraph/internal/logger"
	"github.com/apingali/akagraph/internal/store"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// CLI flags that override config file values
var (
	cfgFile    string
	logLevel   string
	logFormat  string
	indexName  string
	kReplicas  int
	bufferSize int
	shards     int
)

var rootCmd = &cobra.Command{
	Use:   "akagraph",
	Short: "Probabilistic entity equivalence graph",
	Long: `akagraph maintains a probabilistic equivalence graph over entity
records carrying noisy identifiers (emails, phones, usernames, names).

Incoming records are merged through K independent Monte-Carlo replicas of a
persisted union-find forest: globally unique identifiers always merge, shared
identifiers merge in a fraction of replicas proportional to how informative
they are. Querying any identifier returns its connected component with a
confidence equal to the fraction of replicas agreeing on each member.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Path to configuration file (optional; defaults apply without one)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")

	rootCmd.PersistentFlags().StringVar(&indexName, "index", "",
		"Override store index name")
	rootCmd.PersistentFlags().IntVar(&kReplicas, "k-replicas", 0,
		"Override the number of Monte-Carlo replicas")
	rootCmd.PersistentFlags().IntVar(&bufferSize, "buffer-size", 0,
		"Override how many records/edges to buffer per flush")
	rootCmd.PersistentFlags().IntVar(&shards, "shards", 0,
		"Override store shard count (only honored at index creation)")
}

// loadConfig loads the config file if one was given, otherwise starts from
// defaults, then applies CLI overrides and validates.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}
	cfg.ApplyOverrides(logLevel, logFormat, indexName, kReplicas, bufferSize, shards)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildGraph wires the store adapter, scorer, and graph from configuration.
func buildGraph(cfg *config.Config, log *logger.Logger) (*akagraph.Graph, error) {
	adapter, err := store.NewElastic(cfg.Store.Endpoints, cfg.Store.Index, cfg.Store.Shards)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}
	var scoreFn akagraph.ScoreFunc
	if cfg.Scorer.BigramsPath != "" {
		model, err := handles.LoadModel(cfg.Scorer.BigramsPath, cfg.Scorer.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to load scorer model: %w", err)
		}
		scoreFn = model.Score
	}
	return akagraph.New(adapter, akagraph.Params{
		Config:  cfg.Graph,
		ScoreFn: scoreFn,
		Log:     log,
	}), nil
}
