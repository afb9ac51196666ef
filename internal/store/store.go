// Package store abstracts the indexed document store that persists the AKA
// graph. Three document kinds share one index: records, union-find rows, and
// root sizes. The contract is deliberately narrow — bulk index, multi-get,
// term search, multi-search, term scan, term delete, refresh, index create —
// so that an alternative backend can replace Elasticsearch without touching
// the union-find logic.
package store

import "context"

// Document kinds stored in the index. The kind is written as a keyword field
// on every document and also namespaces document IDs, so a record and a
// root-size row may share the same URL without colliding.
const (
	KindRecord    = "record"
	KindUnionFind = "union_find"
	KindRootSize  = "root_size"
)

// Term is an exact-match condition on an unanalyzed field.
type Term struct {
	Field string
	Value string
}

// Query is a disjunction of exact-match terms against one document kind.
type Query struct {
	Kind       string
	Should     []Term   // OR over these terms; empty matches every document of Kind
	ExcludeIDs []string // document IDs to exclude
	Fields     []string // source fields to fetch; ignored when IDsOnly
	IDsOnly    bool     // suppress source retrieval entirely
	Size       int      // maximum hits; 0 means the adapter default
}

// Doc is one stored document. Fields holds the document source; list-valued
// record fields come back as []interface{} of strings when decoded from JSON
// (Elasticsearch) and as the []string that was written (Memory).
type Doc struct {
	ID     string
	Found  bool
	Fields map[string]interface{}
}

// Result is one sub-response of a multi-search. A failed sub-query carries
// its error here rather than failing the whole round-trip.
type Result struct {
	Docs []Doc
	Err  error
}

// BulkOp is a single upsert in a bulk write. The adapter adds the kind field
// to the stored document.
type BulkOp struct {
	ID     string
	Kind   string
	Fields map[string]interface{}
}

// Adapter is the persistence contract shared by the Elasticsearch backend
// and the in-memory backend.
type Adapter interface {
	// EnsureIndex creates the index with exact-match mappings for the
	// given selector fields if it does not already exist.
	EnsureIndex(ctx context.Context, selectors []string) error
	// Exists reports whether the index has been created.
	Exists(ctx context.Context) (bool, error)
	// DeleteIndex removes the index and everything in it.
	DeleteIndex(ctx context.Context) error
	// Bulk applies all upserts in one round-trip.
	Bulk(ctx context.Context, ops []BulkOp) error
	// MultiGet fetches documents of one kind by ID, in order; misses come
	// back with Found == false.
	MultiGet(ctx context.Context, kind string, ids []string) ([]Doc, error)
	// Search runs one term query.
	Search(ctx context.Context, q Query) ([]Doc, error)
	// MultiSearch runs all queries in one round-trip, one Result each.
	MultiSearch(ctx context.Context, queries []Query) ([]Result, error)
	// Scan streams every document matching q to fn, unbounded by Size.
	Scan(ctx context.Context, q Query, fn func(Doc) error) error
	// DeleteByTerm removes every document of kind matching the term.
	DeleteByTerm(ctx context.Context, kind string, t Term) error
	// Refresh makes all prior writes visible to searches.
	Refresh(ctx context.Context) error
}

// DocID namespaces a logical identifier by document kind.
func DocID(kind, id string) string {
	return kind + ":" + id
}

// StringField extracts a string field from a document source.
func StringField(d Doc, name string) (string, bool) {
	v, ok := d.Fields[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntField extracts an integer field from a document source, tolerating the
// float64 that JSON decoding produces.
func IntField(d Doc, name string) (int, bool) {
	switch v := d.Fields[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// StringsField extracts a list-of-strings field from a document source,
// tolerating []interface{} from JSON decoding.
func StringsField(d Doc, name string) ([]string, bool) {
	switch v := d.Fields[name].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out, true
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case string:
		return []string{v}, true
	default:
		return nil, false
	}
}
