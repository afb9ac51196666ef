package akagraph

import (
	"context"
	"sort"
)

// Cluster is one connected component found by AnalyzeClusters: its size,
// its records keyed by URL, and the identifiers shared by more than one of
// them.
type Cluster struct {
	Count    int                       `json:"count"`
	Records  map[string]Record         `json:"records"`
	Overlaps map[string]map[string]int `json:"overlaps"`
}

// ClusterStats aggregates cluster sizes across an analysis run.
type ClusterStats struct {
	Largest   int         `json:"largest"`
	Median    int         `json:"median"`
	Mean      float64     `json:"mean"`
	Smallest  int         `json:"smallest"`
	Histogram map[int]int `json:"histogram"`
}

// Analysis is the result of AnalyzeClusters.
type Analysis struct {
	Clusters []Cluster    `json:"clusters"`
	Stats    ClusterStats `json:"aggregate_stats"`
}

// AnalyzeClusters hunts for multi-record clusters and reports them sorted
// by size with their identifier overlaps. Only clusters of at least two
// records are considered; a positive limit bounds how many records are
// scanned for roots.
func (g *Graph) AnalyzeClusters(ctx context.Context, limit int) (*Analysis, error) {
	roots, err := g.AllRoots(ctx, 1, limit, 0)
	if err != nil {
		return nil, err
	}
	var clusters []Cluster
	for _, root := range roots {
		component, err := g.ConnectedComponent(ctx, root.URL)
		if err != nil {
			return nil, err
		}
		urls := make([]string, 0, len(component))
		for _, uc := range component {
			urls = append(urls, uc.URL)
		}
		g.log.Debugw("found connected component", "root", root.URL, "size", len(urls))
		recs, err := g.GetRecords(ctx, urls...)
		if err != nil {
			return nil, err
		}
		byURL := make(map[string]Record, len(recs))
		for _, rec := range recs {
			byURL[rec.URL] = rec
		}
		clusters = append(clusters, Cluster{
			Count:    len(urls),
			Records:  byURL,
			Overlaps: FindOverlaps(recs),
		})
	}
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].Count > clusters[j].Count
	})
	analysis := &Analysis{Clusters: clusters}
	if len(clusters) > 0 {
		histogram := make(map[int]int)
		total := 0
		for _, c := range clusters {
			histogram[c.Count]++
			total += c.Count
		}
		analysis.Stats = ClusterStats{
			Largest:   clusters[0].Count,
			Median:    clusters[len(clusters)/2].Count,
			Mean:      float64(total) / float64(len(clusters)),
			Smallest:  clusters[len(clusters)-1].Count,
			Histogram: histogram,
		}
	}
	return analysis, nil
}

// FindOverlaps collects the identifiers shared by more than one of the
// given records, as a map from field name to identifier to the number of
// records carrying it.
func FindOverlaps(recs []Record) map[string]map[string]int {
	type key struct {
		field string
		value string
	}
	counter := make(map[key]int)
	for _, rec := range recs {
		for field, values := range rec.Fields {
			for _, value := range values {
				counter[key{field, value}]++
			}
		}
	}
	overlaps := make(map[string]map[string]int)
	for k, count := range counter {
		if count == 1 {
			continue
		}
		if overlaps[k.field] == nil {
			overlaps[k.field] = make(map[string]int)
		}
		overlaps[k.field][k.value] = count
	}
	return overlaps
}
