package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/elliotchance/orderedmap/v2"
)

// Memory is an in-process Adapter backed by an insertion-ordered document
// map. It implements the same contract as the Elasticsearch backend with
// linear term matching, which keeps scan and search results deterministic —
// the property the tests lean on.
type Memory struct {
	mu     sync.Mutex
	docs   *orderedmap.OrderedMap[string, map[string]interface{}]
	exists bool
}

// NewMemory returns an empty in-memory store. The index does not exist until
// EnsureIndex is called.
func NewMemory() *Memory {
	return &Memory{docs: orderedmap.NewOrderedMap[string, map[string]interface{}]()}
}

// EnsureIndex implements Adapter. Selector mappings are meaningless here;
// every field is matched exactly.
func (m *Memory) EnsureIndex(ctx context.Context, selectors []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists = true
	return nil
}

// Exists implements Adapter.
func (m *Memory) Exists(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists, nil
}

// DeleteIndex implements Adapter.
func (m *Memory) DeleteIndex(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = orderedmap.NewOrderedMap[string, map[string]interface{}]()
	m.exists = false
	return nil
}

// Bulk implements Adapter. Ops are upserts keyed by kind-namespaced ID.
func (m *Memory) Bulk(ctx context.Context, ops []BulkOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		fields := copyFields(op.Fields)
		fields["kind"] = op.Kind
		m.docs.Set(DocID(op.Kind, op.ID), fields)
	}
	return nil
}

// MultiGet implements Adapter.
func (m *Memory) MultiGet(ctx context.Context, kind string, ids []string) ([]Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Doc, 0, len(ids))
	for _, id := range ids {
		fields, ok := m.docs.Get(DocID(kind, id))
		if !ok {
			out = append(out, Doc{ID: id})
			continue
		}
		out = append(out, Doc{ID: id, Found: true, Fields: copyFields(fields)})
	}
	return out, nil
}

// Search implements Adapter.
func (m *Memory) Search(ctx context.Context, q Query) ([]Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	size := q.Size
	if size <= 0 {
		size = defaultSearchSize
	}
	var out []Doc
	for el := m.docs.Front(); el != nil; el = el.Next() {
		if len(out) >= size {
			break
		}
		if doc, ok := m.match(q, el.Key, el.Value); ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// MultiSearch implements Adapter.
func (m *Memory) MultiSearch(ctx context.Context, queries []Query) ([]Result, error) {
	out := make([]Result, 0, len(queries))
	for _, q := range queries {
		docs, err := m.Search(ctx, q)
		out = append(out, Result{Docs: docs, Err: err})
	}
	return out, nil
}

// Scan implements Adapter.
func (m *Memory) Scan(ctx context.Context, q Query, fn func(Doc) error) error {
	m.mu.Lock()
	var matched []Doc
	for el := m.docs.Front(); el != nil; el = el.Next() {
		if doc, ok := m.match(q, el.Key, el.Value); ok {
			matched = append(matched, doc)
		}
	}
	m.mu.Unlock()
	for _, doc := range matched {
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

// DeleteByTerm implements Adapter.
func (m *Memory) DeleteByTerm(ctx context.Context, kind string, t Term) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var doomed []string
	q := Query{Kind: kind, Should: []Term{t}}
	for el := m.docs.Front(); el != nil; el = el.Next() {
		if _, ok := m.match(q, el.Key, el.Value); ok {
			doomed = append(doomed, el.Key)
		}
	}
	for _, key := range doomed {
		m.docs.Delete(key)
	}
	return nil
}

// Refresh implements Adapter. Writes are immediately visible here.
func (m *Memory) Refresh(ctx context.Context) error {
	return nil
}

// Len reports the number of stored documents, for tests.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs.Len()
}

const defaultSearchSize = 1000

// match applies a Query to one stored document.
func (m *Memory) match(q Query, key string, fields map[string]interface{}) (Doc, bool) {
	kind, _ := fields["kind"].(string)
	if q.Kind != "" && kind != q.Kind {
		return Doc{}, false
	}
	id := strings.TrimPrefix(key, kind+":")
	for _, ex := range q.ExcludeIDs {
		if id == ex {
			return Doc{}, false
		}
	}
	if len(q.Should) > 0 && !anyTermMatches(q.Should, fields) {
		return Doc{}, false
	}
	doc := Doc{ID: id, Found: true}
	if !q.IDsOnly {
		doc.Fields = copyFields(fields)
	}
	return doc, true
}

func anyTermMatches(terms []Term, fields map[string]interface{}) bool {
	for _, t := range terms {
		switch v := fields[t.Field].(type) {
		case string:
			if v == t.Value {
				return true
			}
		case []string:
			for _, s := range v {
				if s == t.Value {
					return true
				}
			}
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok && s == t.Value {
					return true
				}
			}
		case int, int64, float64:
			if fmt.Sprintf("%v", v) == t.Value {
				return true
			}
		}
	}
	return false
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		switch vv := v.(type) {
		case []string:
			c := make([]string, len(vv))
			copy(c, vv)
			out[k] = c
		case []interface{}:
			c := make([]interface{}, len(vv))
			copy(c, vv)
			out[k] = c
		default:
			out[k] = v
		}
	}
	return out
}
