package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for inconsistencies that would only
// surface mid-ingest otherwise. It should be called once at startup.
func (c *Config) Validate() error {
	var problems []string

	if c.Store.Index == "" {
		problems = append(problems, "store.index must not be empty")
	}
	if len(c.Store.Endpoints) == 0 {
		problems = append(problems, "store.endpoints must not be empty")
	}
	if c.Store.Shards < 0 {
		problems = append(problems, "store.shards must not be negative")
	}
	if c.Graph.Replicas < 1 {
		problems = append(problems, "graph.replicas must be at least 1")
	}
	if c.Graph.BufferSize < 1 {
		problems = append(problems, "graph.buffer_size must be at least 1")
	}
	if c.Graph.ScoreCutoff < 0 || c.Graph.ScoreCutoff >= 1 {
		problems = append(problems, "graph.score_cutoff must be in [0, 1)")
	}
	if c.Graph.NumIdentifierDownweight < 0 {
		problems = append(problems, "graph.num_identifier_downweight must not be negative")
	}
	if c.Graph.PopularIdentifierDownweight < 0 {
		problems = append(problems, "graph.popular_identifier_downweight must not be negative")
	}
	if c.Graph.ComponentMinEmitted < 1 {
		problems = append(problems, "graph.component_min_emitted must be at least 1")
	}
	if c.Graph.ComponentCountCutoff < 0 {
		problems = append(problems, "graph.component_count_cutoff must not be negative")
	}

	hard := make(map[string]bool, len(c.Graph.HardSelectors))
	for _, s := range c.Graph.HardSelectors {
		if s == "url" {
			problems = append(problems, "\"url\" cannot be a hard selector")
		}
		hard[s] = true
	}
	for _, s := range c.Graph.SoftSelectors {
		if s == "url" {
			problems = append(problems, "\"url\" cannot be a soft selector")
		}
		if hard[s] {
			problems = append(problems,
				fmt.Sprintf("selector %q is both hard and soft", s))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
