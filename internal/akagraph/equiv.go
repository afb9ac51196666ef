package akagraph

import (
	"context"
	"encoding/json"
	"math"

	"github.com/apingali/akagraph/internal/store"
)

// equivalence is one discovered edge: the source record, the candidate URLs
// matched through one of its identifiers, the combined inclusion
// probability, and the evidence token that makes re-discovery idempotent.
type equivalence struct {
	rec      Record
	score    float64
	evidence string
	urls     []string
}

// findEquivalents discovers candidate equivalents for each record through a
// single multi-search round-trip. Each record contributes one combined
// query over all of its hard-selector values and one query per scoreable
// soft-selector value. A record may appear in several of the returned
// equivalences, once per query (its combined hard query or one of its soft
// queries) that matched anything.
func (g *Graph) findEquivalents(ctx context.Context, records []Record) ([]equivalence, error) {
	var (
		queries []store.Query
		pending []equivalence // score/evidence/rec per query, urls filled in later
	)
	for _, rec := range records {
		// Records loaded with many identifiers bind more loosely: every
		// edge they spawn is downweighted by exp(-a*(m-1)).
		weight := 1.0
		if g.numIdentifierDownweight > 0 {
			m := g.identifierCount(rec)
			weight = math.Exp(-g.numIdentifierDownweight * float64(m-1))
			g.log.Debugw("identifier downweight", "url", rec.URL, "count", m, "weight", weight)
		}

		if q, evidence, ok := g.hardQuery(rec); ok {
			queries = append(queries, q)
			pending = append(pending, equivalence{rec: rec, score: weight, evidence: evidence})
		} else {
			g.log.Debugw("no hard identifiers", "url", rec.URL)
		}

		// With a single replica there is no way to express partial
		// confidence, so soft selectors are pointless.
		if g.scoreFn == nil || g.replicas == 1 {
			continue
		}
		for _, field := range rec.FieldNames() {
			if !g.softSelectors[field] {
				continue
			}
			for _, value := range rec.Fields[field] {
				if value == "" {
					continue
				}
				score := g.scoreFn(value)
				if score <= g.scoreCutoff {
					continue
				}
				g.log.Debugw("soft selector", "value", value, "score", score)
				queries = append(queries, store.Query{
					Kind:       store.KindRecord,
					Should:     []store.Term{{Field: field, Value: value}},
					ExcludeIDs: []string{rec.URL},
					IDsOnly:    true,
				})
				pending = append(pending, equivalence{rec: rec, score: score * weight, evidence: value})
			}
		}
	}
	if len(queries) == 0 {
		return nil, nil
	}

	results, err := g.store.MultiSearch(ctx, queries)
	if err != nil {
		return nil, err
	}
	var out []equivalence
	for i, res := range results {
		eq := pending[i]
		if res.Err != nil {
			// A failed sub-query loses at worst a merge, never data:
			// ingest is idempotent and the record can be re-offered.
			g.log.Warnw("equivalence sub-query failed",
				"url", eq.rec.URL, "evidence", eq.evidence, "error", res.Err)
			continue
		}
		urls := uniqueIDs(res.Docs)
		if len(urls) == 0 {
			continue
		}
		// Identifiers matching many records bind loosely too.
		if g.popularIdentifierDownweight > 0 {
			eq.score *= math.Exp(-g.popularIdentifierDownweight * float64(len(urls)-1))
		}
		eq.urls = urls
		out = append(out, eq)
	}
	return out, nil
}

// hardQuery builds the combined OR query over every hard-selector value the
// record carries, excluding the record itself. The serialized OR clause is
// the edge's evidence: the same identifiers rediscovered later produce the
// same token and therefore the same replica draws.
func (g *Graph) hardQuery(rec Record) (store.Query, string, bool) {
	var terms []store.Term
	for _, field := range rec.FieldNames() {
		if !g.hardSelectors[field] {
			continue
		}
		for _, value := range rec.Fields[field] {
			terms = append(terms, store.Term{Field: field, Value: value})
		}
	}
	if len(terms) == 0 {
		return store.Query{}, "", false
	}
	q := store.Query{
		Kind:       store.KindRecord,
		Should:     terms,
		ExcludeIDs: []string{rec.URL},
		IDsOnly:    true,
	}
	return q, orClauseEvidence(terms), true
}

// orClauseEvidence serializes an OR clause deterministically. Term order is
// already fixed by FieldNames, so equal identifier sets always serialize to
// the same token.
func orClauseEvidence(terms []store.Term) string {
	clauses := make([]map[string]string, 0, len(terms))
	for _, t := range terms {
		clauses = append(clauses, map[string]string{t.Field: t.Value})
	}
	buf, err := json.Marshal(clauses)
	if err != nil {
		return ""
	}
	return string(buf)
}

// identifierCount is the total number of hard and soft selector values the
// record carries.
func (g *Graph) identifierCount(rec Record) int {
	count := 0
	for field, values := range rec.Fields {
		if g.hardSelectors[field] || g.softSelectors[field] {
			count += len(values)
		}
	}
	return count
}

// uniqueIDs collects the distinct document IDs of a hit list, preserving
// hit order.
func uniqueIDs(docs []store.Doc) []string {
	seen := make(map[string]bool, len(docs))
	var out []string
	for _, doc := range docs {
		if seen[doc.ID] {
			continue
		}
		seen[doc.ID] = true
		out = append(out, doc.ID)
	}
	return out
}
