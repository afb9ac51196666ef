package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/olivere/elastic/v7"
)

// Elastic is the production Adapter, backed by an Elasticsearch index over
// the olivere client. Transient failures (timeouts, queue-full responses)
// are retried up to maxRetries times with exponential backoff before the
// error is surfaced to the caller.
type Elastic struct {
	client *elastic.Client
	index  string
	shards int
}

const (
	bulkTimeout  = "60s"
	scanPageSize = 500
	maxRetries   = 5
)

// NewElastic connects to the given endpoints and returns an adapter bound to
// one index. The shard count only matters at index-creation time and can
// never be changed afterwards; zero leaves it to the server default.
func NewElastic(endpoints []string, index string, shards int) (*Elastic, error) {
	client, err := elastic.NewClient(
		elastic.SetURL(endpoints...),
		elastic.SetSniff(false),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to elasticsearch: %w", err)
	}
	return &Elastic{client: client, index: index, shards: shards}, nil
}

// NewElasticFromClient wraps an existing client; used when the caller
// manages the connection itself.
func NewElasticFromClient(client *elastic.Client, index string, shards int) *Elastic {
	return &Elastic{client: client, index: index, shards: shards}
}

// EnsureIndex implements Adapter.
func (e *Elastic) EnsureIndex(ctx context.Context, selectors []string) error {
	exists, err := e.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = e.client.CreateIndex(e.index).BodyJson(e.mapping(selectors)).Do(ctx)
	if err != nil && elastic.IsStatusCode(err, 400) {
		// Lost a create race with another ingester.
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating index %s: %w", e.index, err)
	}
	return nil
}

// mapping builds the index body: every selector and union-find pointer is an
// exact-match keyword, counters are integers, and unknown record fields fall
// through a dynamic template onto keywords.
func (e *Elastic) mapping(selectors []string) map[string]interface{} {
	props := map[string]interface{}{
		"kind":        map[string]interface{}{"type": "keyword"},
		"url":         map[string]interface{}{"type": "keyword"},
		"parent":      map[string]interface{}{"type": "keyword"},
		"child":       map[string]interface{}{"type": "keyword"},
		"replica":     map[string]interface{}{"type": "keyword"},
		"rank":        map[string]interface{}{"type": "integer"},
		"cardinality": map[string]interface{}{"type": "integer"},
		"size":        map[string]interface{}{"type": "integer"},
	}
	for _, s := range selectors {
		props[s] = map[string]interface{}{"type": "keyword"}
	}
	settings := map[string]interface{}{}
	if e.shards > 0 {
		settings["number_of_shards"] = e.shards
	}
	return map[string]interface{}{
		"settings": settings,
		"mappings": map[string]interface{}{
			"dynamic_templates": []map[string]interface{}{
				{
					"strings_as_keywords": map[string]interface{}{
						"match_mapping_type": "string",
						"mapping":            map[string]interface{}{"type": "keyword"},
					},
				},
			},
			"properties": props,
		},
	}
}

// Exists implements Adapter.
func (e *Elastic) Exists(ctx context.Context) (bool, error) {
	var exists bool
	err := e.retry(ctx, func() error {
		var err error
		exists, err = e.client.IndexExists(e.index).Do(ctx)
		return err
	})
	return exists, err
}

// DeleteIndex implements Adapter. A missing index is not an error.
func (e *Elastic) DeleteIndex(ctx context.Context) error {
	_, err := e.client.DeleteIndex(e.index).Do(ctx)
	if err != nil && elastic.IsNotFound(err) {
		return nil
	}
	return err
}

// Bulk implements Adapter.
func (e *Elastic) Bulk(ctx context.Context, ops []BulkOp) error {
	if len(ops) == 0 {
		return nil
	}
	svc := e.client.Bulk().Timeout(bulkTimeout)
	for _, op := range ops {
		doc := make(map[string]interface{}, len(op.Fields)+1)
		for k, v := range op.Fields {
			doc[k] = v
		}
		doc["kind"] = op.Kind
		svc.Add(elastic.NewBulkIndexRequest().
			Index(e.index).
			Id(DocID(op.Kind, op.ID)).
			Doc(doc))
	}
	return e.retry(ctx, func() error {
		resp, err := svc.Do(ctx)
		if err != nil {
			return err
		}
		if resp.Errors {
			for _, item := range resp.Failed() {
				reason := "unknown"
				if item.Error != nil {
					reason = item.Error.Reason
				}
				return fmt.Errorf("bulk write failed for %s: %s", item.Id, reason)
			}
		}
		return nil
	})
}

// MultiGet implements Adapter.
func (e *Elastic) MultiGet(ctx context.Context, kind string, ids []string) ([]Doc, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	svc := e.client.MultiGet()
	for _, id := range ids {
		svc.Add(elastic.NewMultiGetItem().Index(e.index).Id(DocID(kind, id)))
	}
	var out []Doc
	err := e.retry(ctx, func() error {
		resp, err := svc.Do(ctx)
		if err != nil {
			return err
		}
		out = out[:0]
		for i, item := range resp.Docs {
			doc := Doc{ID: ids[i], Found: item.Found}
			if item.Found && item.Source != nil {
				if err := json.Unmarshal(item.Source, &doc.Fields); err != nil {
					return fmt.Errorf("decoding document %s: %w", item.Id, err)
				}
			}
			out = append(out, doc)
		}
		return nil
	})
	return out, err
}

// Search implements Adapter.
func (e *Elastic) Search(ctx context.Context, q Query) ([]Doc, error) {
	size := q.Size
	if size <= 0 {
		size = defaultSearchSize
	}
	svc := e.client.Search(e.index).Query(e.buildQuery(q)).Size(size)
	if q.IDsOnly {
		svc.FetchSource(false)
	} else if len(q.Fields) > 0 {
		svc.FetchSourceContext(elastic.NewFetchSourceContext(true).Include(q.Fields...))
	}
	var out []Doc
	err := e.retry(ctx, func() error {
		resp, err := svc.Do(ctx)
		if err != nil {
			return err
		}
		out, err = e.hits(q.Kind, resp.Hits)
		return err
	})
	return out, err
}

// MultiSearch implements Adapter. Sub-query failures are reported in the
// corresponding Result, not as a round-trip error.
func (e *Elastic) MultiSearch(ctx context.Context, queries []Query) ([]Result, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	svc := e.client.MultiSearch()
	for _, q := range queries {
		size := q.Size
		if size <= 0 {
			size = defaultSearchSize
		}
		src := elastic.NewSearchSource().Query(e.buildQuery(q)).Size(size)
		if q.IDsOnly {
			src.FetchSource(false)
		} else if len(q.Fields) > 0 {
			src.FetchSourceContext(elastic.NewFetchSourceContext(true).Include(q.Fields...))
		}
		svc.Add(elastic.NewSearchRequest().Index(e.index).SearchSource(src))
	}
	var out []Result
	err := e.retry(ctx, func() error {
		resp, err := svc.Do(ctx)
		if err != nil {
			return err
		}
		out = out[:0]
		for i, sub := range resp.Responses {
			if sub.Error != nil {
				out = append(out, Result{Err: fmt.Errorf("sub-query failed: %s", sub.Error.Reason)})
				continue
			}
			docs, err := e.hits(queries[i].Kind, sub.Hits)
			if err != nil {
				out = append(out, Result{Err: err})
				continue
			}
			out = append(out, Result{Docs: docs})
		}
		return nil
	})
	return out, err
}

// Scan implements Adapter, streaming matches through the scroll API.
func (e *Elastic) Scan(ctx context.Context, q Query, fn func(Doc) error) error {
	svc := e.client.Scroll(e.index).Query(e.buildQuery(q)).Size(scanPageSize)
	if q.IDsOnly {
		svc.FetchSource(false)
	}
	defer svc.Clear(context.Background()) //nolint:errcheck
	for {
		resp, err := svc.Do(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("scanning %s: %w", e.index, err)
		}
		docs, err := e.hits(q.Kind, resp.Hits)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := fn(doc); err != nil {
				return err
			}
		}
	}
}

// DeleteByTerm implements Adapter.
func (e *Elastic) DeleteByTerm(ctx context.Context, kind string, t Term) error {
	q := e.buildQuery(Query{Kind: kind, Should: []Term{t}})
	return e.retry(ctx, func() error {
		_, err := e.client.DeleteByQuery(e.index).Query(q).Do(ctx)
		return err
	})
}

// Refresh implements Adapter.
func (e *Elastic) Refresh(ctx context.Context) error {
	return e.retry(ctx, func() error {
		_, err := e.client.Refresh(e.index).Do(ctx)
		return err
	})
}

// buildQuery translates a Query into a constant-score filtered bool query.
func (e *Elastic) buildQuery(q Query) elastic.Query {
	b := elastic.NewBoolQuery()
	if q.Kind != "" {
		b.Filter(elastic.NewTermQuery("kind", q.Kind))
	}
	if len(q.Should) > 0 {
		for _, t := range q.Should {
			b.Should(elastic.NewTermQuery(t.Field, t.Value))
		}
		b.MinimumNumberShouldMatch(1)
	}
	if len(q.ExcludeIDs) > 0 {
		ids := make([]string, len(q.ExcludeIDs))
		for i, id := range q.ExcludeIDs {
			ids[i] = DocID(q.Kind, id)
		}
		b.MustNot(elastic.NewIdsQuery().Ids(ids...))
	}
	return elastic.NewConstantScoreQuery(b)
}

// hits converts a hit list into Docs, stripping the kind namespace from IDs.
func (e *Elastic) hits(kind string, hits *elastic.SearchHits) ([]Doc, error) {
	if hits == nil {
		return nil, nil
	}
	out := make([]Doc, 0, len(hits.Hits))
	for _, hit := range hits.Hits {
		doc := Doc{ID: strings.TrimPrefix(hit.Id, kind+":"), Found: true}
		if hit.Source != nil {
			if err := json.Unmarshal(hit.Source, &doc.Fields); err != nil {
				return nil, fmt.Errorf("decoding hit %s: %w", hit.Id, err)
			}
		}
		out = append(out, doc)
	}
	return out, nil
}

// retry runs op with exponential backoff, retrying only transient store
// errors up to maxRetries times.
func (e *Elastic) retry(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newBackoff(), maxRetries), ctx)
	return backoff.Retry(wrapped, policy)
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func isTransient(err error) bool {
	if elastic.IsTimeout(err) || elastic.IsConnErr(err) {
		return true
	}
	// 429 is the queue-capacity rejection, 503 a node mid-restart.
	return elastic.IsStatusCode(err, 429) || elastic.IsStatusCode(err, 503)
}
