// Package config provides configuration structures and loading for the AKA
// graph service.
package config

// Config represents the complete application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Graph   GraphConfig   `yaml:"graph" mapstructure:"graph"`
	Scorer  ScorerConfig  `yaml:"scorer" mapstructure:"scorer"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// StoreConfig describes the Elasticsearch backend holding the graph.
type StoreConfig struct {
	Endpoints []string `yaml:"endpoints" mapstructure:"endpoints"`
	Index     string   `yaml:"index" mapstructure:"index"`
	// Shards is fixed at index-creation time and can never be changed.
	Shards int `yaml:"shards" mapstructure:"shards"`
}

// GraphConfig holds the session-scoped knobs of the probabilistic graph.
type GraphConfig struct {
	// Replicas is K, the number of independent Monte-Carlo copies of the
	// union-find forest.
	Replicas int `yaml:"replicas" mapstructure:"replicas"`
	// HardSelectors are identifier fields treated as globally unique.
	HardSelectors []string `yaml:"hard_selectors" mapstructure:"hard_selectors"`
	// SoftSelectors are identifier fields shared between entities but
	// still informative, scored by the soft-selector scorer.
	SoftSelectors []string `yaml:"soft_selectors" mapstructure:"soft_selectors"`
	// BufferSize is how many records or edges to buffer before a flush.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size"`
	// NumIdentifierDownweight loosens edges from records carrying many
	// identifiers: weight = exp(-a*(m-1)). Zero disables.
	NumIdentifierDownweight float64 `yaml:"num_identifier_downweight" mapstructure:"num_identifier_downweight"`
	// PopularIdentifierDownweight loosens edges through identifiers
	// matching many records: weight = exp(-b*(h-1)). Zero disables.
	PopularIdentifierDownweight float64 `yaml:"popular_identifier_downweight" mapstructure:"popular_identifier_downweight"`
	// ScoreCutoff drops soft-selector edges at or below this score.
	ScoreCutoff float64 `yaml:"score_cutoff" mapstructure:"score_cutoff"`
	// ComponentMinEmitted and ComponentCountCutoff control component-walk
	// truncation: once at least ComponentMinEmitted members have been
	// emitted, the ranked member list is cut at the first member seen in
	// ComponentCountCutoff or fewer replicas.
	ComponentMinEmitted  int `yaml:"component_min_emitted" mapstructure:"component_min_emitted"`
	ComponentCountCutoff int `yaml:"component_count_cutoff" mapstructure:"component_count_cutoff"`
}

// ScorerConfig configures the character-bigram soft-selector scorer.
type ScorerConfig struct {
	// BigramsPath points at a gzipped JSON file of bigram counts. Empty
	// disables soft-selector scoring entirely.
	BigramsPath string `yaml:"bigrams_path" mapstructure:"bigrams_path"`
	CacheSize   int    `yaml:"cache_size" mapstructure:"cache_size"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
	Output string `yaml:"output" mapstructure:"output"` // stdout, stderr, or file path
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Endpoints: []string{"http://127.0.0.1:9200"},
			Index:     "akagraph",
		},
		Graph: GraphConfig{
			Replicas:             10,
			HardSelectors:        []string{"email", "phone", "skype", "hostname"},
			SoftSelectors:        []string{"name", "username", "postal_address"},
			BufferSize:           20,
			ScoreCutoff:          0.001,
			ComponentMinEmitted:  10,
			ComponentCountCutoff: 2,
		},
		Scorer: ScorerConfig{
			CacheSize: 4096,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
