// Package akagraph implements the probabilistic equivalence graph: batched
// record ingest, equivalence discovery over hard and soft selectors,
// K-replica Monte-Carlo unions, and component queries with confidence
// scores.
package akagraph

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/apingali/akagraph/internal/store"
)

// Record is one immutable observation of an entity: a unique URL plus a
// multi-map of identifier fields. Unknown fields are tolerated and stored
// verbatim; only the fields configured as hard or soft selectors take part
// in equivalence discovery.
type Record struct {
	URL    string
	Fields map[string][]string
}

// Empty reports whether the record carries nothing beyond its URL. Query
// paths use it to suppress placeholder records for never-ingested URLs.
func (r Record) Empty() bool {
	return len(r.Fields) == 0
}

// FieldNames returns the record's field names in sorted order, so that
// evidence strings and query construction are deterministic across runs.
func (r Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON renders the record in the flat ingest shape: a JSON object
// with a "url" string and one list of strings per field.
func (r Record) MarshalJSON() ([]byte, error) {
	flat := make(map[string]interface{}, len(r.Fields)+1)
	flat["url"] = r.URL
	for name, values := range r.Fields {
		flat[name] = values
	}
	return json.Marshal(flat)
}

// UnmarshalJSON parses the flat ingest shape. Scalar string fields are
// promoted to single-element lists; non-string values are rejected.
func (r *Record) UnmarshalJSON(data []byte) error {
	var flat map[string]interface{}
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	return r.fromFlat(flat)
}

// NewRecordFromFlat builds a Record from a decoded flat object, as produced
// by non-JSON loaders (CBOR, CSV).
func NewRecordFromFlat(flat map[string]interface{}) (Record, error) {
	var rec Record
	err := rec.fromFlat(flat)
	return rec, err
}

func (r *Record) fromFlat(flat map[string]interface{}) error {
	url, ok := flat["url"].(string)
	if !ok || url == "" {
		return fmt.Errorf("record has no url field: %v", flat)
	}
	r.URL = url
	r.Fields = make(map[string][]string, len(flat)-1)
	for name, raw := range flat {
		if name == "url" || name == "kind" {
			continue
		}
		switch v := raw.(type) {
		case string:
			r.Fields[name] = []string{v}
		case []string:
			values := make([]string, len(v))
			copy(values, v)
			r.Fields[name] = values
		case []interface{}:
			values := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return fmt.Errorf("record %s: field %s has non-string value %v", url, name, item)
				}
				values = append(values, s)
			}
			r.Fields[name] = values
		default:
			return fmt.Errorf("record %s: field %s has unsupported value %v", url, name, raw)
		}
	}
	return nil
}

// storeFields renders the record as a stored document source.
func (r Record) storeFields() map[string]interface{} {
	fields := make(map[string]interface{}, len(r.Fields)+1)
	fields["url"] = r.URL
	for name, values := range r.Fields {
		fields[name] = values
	}
	return fields
}

// recordFromDoc rebuilds a Record from a stored document. Missing documents
// come back as a bare placeholder carrying only the URL, so component walks
// survive dangling references.
func recordFromDoc(doc store.Doc) Record {
	if !doc.Found {
		return Record{URL: doc.ID}
	}
	rec := Record{URL: doc.ID, Fields: make(map[string][]string)}
	if url, ok := store.StringField(doc, "url"); ok {
		rec.URL = url
	}
	for name := range doc.Fields {
		if name == "url" || name == "kind" {
			continue
		}
		if values, ok := store.StringsField(doc, name); ok {
			rec.Fields[name] = values
		}
	}
	return rec
}
