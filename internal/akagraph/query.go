package akagraph

import (
	"context"
	"fmt"
	"sort"

	"github.com/apingali/akagraph/internal/store"
	"github.com/apingali/akagraph/internal/unionfind"
)

// Member is one record of a connected component with the fraction of
// replicas in which it shares a root with the queried identifier.
type Member struct {
	Record     Record  `json:"record"`
	Confidence float64 `json:"confidence"`
}

// URLCount pairs a component member URL with the number of replica-nodes it
// was discovered through.
type URLCount struct {
	URL   string
	Count int
}

// FindURLsBySelector returns the distinct URLs of records carrying the
// given identifier: as their URL, in any hard-selector field, and when
// useSoft is set in any soft-selector field too.
func (g *Graph) FindURLsBySelector(ctx context.Context, selector string, useSoft bool) ([]string, error) {
	if err := g.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	terms := []store.Term{{Field: "url", Value: selector}}
	for _, field := range sortedNames(g.hardSelectors) {
		terms = append(terms, store.Term{Field: field, Value: selector})
	}
	if useSoft {
		for _, field := range sortedNames(g.softSelectors) {
			terms = append(terms, store.Term{Field: field, Value: selector})
		}
	}
	docs, err := g.store.Search(ctx, store.Query{
		Kind:    store.KindRecord,
		Should:  terms,
		IDsOnly: true,
	})
	if err != nil {
		return nil, err
	}
	return uniqueIDs(docs), nil
}

// ConnectedComponent walks the union forest outward from the given URLs
// across every replica and counts, per URL, how many discovered
// replica-nodes carry it. URLs are ranked by descending count with the URL
// string as tie-break; the walk result is truncated after the configured
// minimum has been emitted and counts drop to the low-count cutoff.
func (g *Graph) ConnectedComponent(ctx context.Context, urls ...string) ([]URLCount, error) {
	var frontier []*unionfind.Node
	seeds := make(map[string]bool)
	for _, url := range urls {
		for replica := 0; replica < g.replicas; replica++ {
			root, err := g.forest.Root(ctx, unionfind.NewNode(url, replica))
			if err != nil {
				return nil, err
			}
			if seeds[root.Canonical()] {
				continue
			}
			seeds[root.Canonical()] = true
			frontier = append(frontier, root)
		}
	}
	counts := make(map[string]int)
	for i := 0; i < len(frontier); i++ {
		node := frontier[i]
		counts[node.URL]++
		children, err := g.forest.Children(ctx, node)
		if err != nil {
			return nil, err
		}
		frontier = append(frontier, children...)
	}
	ranked := make([]URLCount, 0, len(counts))
	for url, count := range counts {
		ranked = append(ranked, URLCount{URL: url, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].URL < ranked[j].URL
	})
	var out []URLCount
	for _, uc := range ranked {
		if len(out) >= g.componentMinEmitted && uc.Count <= g.componentCountCutoff {
			break
		}
		out = append(out, uc)
	}
	return out, nil
}

// FindConnectedComponent resolves an identifier to records, walks their
// connected component, and returns the members with confidence count/K. An
// identifier matching nothing is treated as an orphan URL candidate; a
// degenerate single-member component yields its record with confidence 1
// only when that record actually exists.
func (g *Graph) FindConnectedComponent(ctx context.Context, selector string, useSoft bool) ([]Member, error) {
	urls, err := g.FindURLsBySelector(ctx, selector, useSoft)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		urls = []string{selector}
	}
	component, err := g.ConnectedComponent(ctx, urls...)
	if err != nil {
		return nil, err
	}
	if len(component) == 1 {
		// Only this record was found, possibly a URL never ingested.
		recs, err := g.GetRecords(ctx, component[0].URL)
		if err != nil {
			return nil, err
		}
		if recs[0].Empty() {
			return nil, nil
		}
		return []Member{{Record: recs[0], Confidence: 1.0}}, nil
	}
	members := make([]Member, 0, len(component))
	for _, uc := range component {
		recs, err := g.GetRecords(ctx, uc.URL)
		if err != nil {
			return nil, err
		}
		members = append(members, Member{
			Record:     recs[0],
			Confidence: float64(uc.Count) / float64(g.replicas),
		})
	}
	return members, nil
}

// GetRecords fetches records by URL, in order. URLs that were never
// ingested yield a placeholder record carrying only the URL.
func (g *Graph) GetRecords(ctx context.Context, urls ...string) ([]Record, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("GetRecords called with no urls")
	}
	docs, err := g.store.MultiGet(ctx, store.KindRecord, urls)
	if err != nil {
		return nil, err
	}
	recs := make([]Record, 0, len(docs))
	for _, doc := range docs {
		recs = append(recs, recordFromDoc(doc))
	}
	return recs, nil
}

// AllURLs returns up to limit record URLs from the index; limit <= 0 means
// all of them.
func (g *Graph) AllURLs(ctx context.Context, limit int) ([]string, error) {
	var urls []string
	err := g.store.Scan(ctx, store.Query{Kind: store.KindRecord, IDsOnly: true}, func(doc store.Doc) error {
		if limit > 0 && len(urls) >= limit {
			return errScanDone
		}
		urls = append(urls, doc.ID)
		return nil
	})
	if err != nil && err != errScanDone {
		return nil, err
	}
	return urls, nil
}

var errScanDone = fmt.Errorf("scan complete")

// AllRoots walks every record in one replica to its root and returns the
// roots covering more than sizeLimit records, largest first. A positive
// candidatesLimit bounds how many records are examined.
func (g *Graph) AllRoots(ctx context.Context, sizeLimit, candidatesLimit, replica int) ([]URLCount, error) {
	urls, err := g.AllURLs(ctx, candidatesLimit)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, url := range urls {
		root, err := g.forest.Root(ctx, unionfind.NewNode(url, replica))
		if err != nil {
			return nil, err
		}
		counts[root.URL]++
	}
	var out []URLCount
	for url, count := range counts {
		if count > sizeLimit {
			out = append(out, URLCount{URL: url, Count: count})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].URL < out[j].URL
	})
	return out, nil
}

// ParentRow describes a record's union-find row in one replica: either the
// canonical form of its parent, or rank and cardinality when it is a root.
type ParentRow struct {
	Replica     int    `json:"replica"`
	Parent      string `json:"parent,omitempty"`
	Rank        int    `json:"rank,omitempty"`
	Cardinality int    `json:"cardinality,omitempty"`
}

// Parents looks up the union-find row for url in every replica.
func (g *Graph) Parents(ctx context.Context, url string) ([]ParentRow, error) {
	rows := make([]ParentRow, 0, g.replicas)
	for replica := 0; replica < g.replicas; replica++ {
		node := unionfind.NewNode(url, replica)
		parent, err := g.forest.Parent(ctx, node)
		if err != nil {
			return nil, err
		}
		row := ParentRow{Replica: replica}
		if parent != nil {
			row.Parent = parent.Canonical()
		} else {
			row.Rank = node.Rank
			row.Cardinality = node.Cardinality
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// GetSizes reads the root_size rows for the given ids. IDs with no row are
// left out of the result.
func (g *Graph) GetSizes(ctx context.Context, ids ...string) (map[string]int, error) {
	docs, err := g.store.MultiGet(ctx, store.KindRootSize, ids)
	if err != nil {
		return nil, err
	}
	sizes := make(map[string]int)
	for _, doc := range docs {
		if !doc.Found {
			g.log.Debugw("no root_size row", "id", doc.ID)
			continue
		}
		if size, ok := store.IntField(doc, "size"); ok {
			sizes[doc.ID] = size
		}
	}
	return sizes, nil
}

func sortedNames(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
