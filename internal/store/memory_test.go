package store

import (
	"context"
	"testing"
)

func seedMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	ctx := context.Background()
	if err := m.EnsureIndex(ctx, []string{"email", "name"}); err != nil {
		t.Fatal(err)
	}
	ops := []BulkOp{
		{ID: "a", Kind: KindRecord, Fields: map[string]interface{}{
			"url": "a", "email": []string{"x@mail.com"}, "name": []string{"foo"},
		}},
		{ID: "b", Kind: KindRecord, Fields: map[string]interface{}{
			"url": "b", "email": []string{"x@mail.com", "y@mail.com"},
		}},
		{ID: "0://a", Kind: KindUnionFind, Fields: map[string]interface{}{
			"child": "0://a", "parent": "0://b", "replica": "0",
		}},
	}
	if err := m.Bulk(ctx, ops); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestMemorySearchByTerm(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	docs, err := m.Search(ctx, Query{
		Kind:   KindRecord,
		Should: []Term{{Field: "email", Value: "x@mail.com"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d hits, want 2", len(docs))
	}
	// Insertion order is preserved.
	if docs[0].ID != "a" || docs[1].ID != "b" {
		t.Errorf("hit order = %s, %s; want a, b", docs[0].ID, docs[1].ID)
	}
}

func TestMemorySearchKindIsolation(t *testing.T) {
	m := seedMemory(t)
	docs, err := m.Search(context.Background(), Query{
		Kind:   KindUnionFind,
		Should: []Term{{Field: "child", Value: "0://a"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d union rows, want 1", len(docs))
	}
	if parent, _ := StringField(docs[0], "parent"); parent != "0://b" {
		t.Errorf("parent = %q, want 0://b", parent)
	}
}

func TestMemorySearchExcludesIDs(t *testing.T) {
	m := seedMemory(t)
	docs, err := m.Search(context.Background(), Query{
		Kind:       KindRecord,
		Should:     []Term{{Field: "email", Value: "x@mail.com"}},
		ExcludeIDs: []string{"a"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID != "b" {
		t.Errorf("got %v, want just b", docs)
	}
}

func TestMemoryIDsOnly(t *testing.T) {
	m := seedMemory(t)
	docs, err := m.Search(context.Background(), Query{
		Kind:    KindRecord,
		Should:  []Term{{Field: "url", Value: "a"}},
		IDsOnly: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Fields != nil {
		t.Errorf("IDsOnly hit carried fields: %v", docs)
	}
}

func TestMemoryMultiGet(t *testing.T) {
	m := seedMemory(t)
	docs, err := m.MultiGet(context.Background(), KindRecord, []string{"a", "missing", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d docs, want 3", len(docs))
	}
	if !docs[0].Found || docs[1].Found || !docs[2].Found {
		t.Errorf("found flags = %v %v %v, want true false true",
			docs[0].Found, docs[1].Found, docs[2].Found)
	}
	if docs[1].ID != "missing" {
		t.Errorf("miss kept ID %q, want \"missing\"", docs[1].ID)
	}
}

func TestMemoryKindNamespacesIDs(t *testing.T) {
	// A record and a root_size row may share an ID without clobbering
	// each other.
	m := NewMemory()
	ctx := context.Background()
	ops := []BulkOp{
		{ID: "a", Kind: KindRecord, Fields: map[string]interface{}{"url": "a"}},
		{ID: "a", Kind: KindRootSize, Fields: map[string]interface{}{"size": 3}},
	}
	if err := m.Bulk(ctx, ops); err != nil {
		t.Fatal(err)
	}
	docs, err := m.MultiGet(ctx, KindRootSize, []string{"a"})
	if err != nil {
		t.Fatal(err)
	}
	if size, ok := IntField(docs[0], "size"); !ok || size != 3 {
		t.Errorf("root_size doc = %v, want size 3", docs[0])
	}
}

func TestMemoryScanAndDelete(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	var ids []string
	err := m.Scan(ctx, Query{Kind: KindRecord}, func(doc Doc) error {
		ids = append(ids, doc.ID)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("scan found %v, want 2 records", ids)
	}
	if err := m.DeleteByTerm(ctx, KindRecord, Term{Field: "url", Value: "a"}); err != nil {
		t.Fatal(err)
	}
	docs, err := m.MultiGet(ctx, KindRecord, []string{"a"})
	if err != nil {
		t.Fatal(err)
	}
	if docs[0].Found {
		t.Error("deleted document still found")
	}
}

func TestMemoryBulkCopiesFields(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	fields := map[string]interface{}{"url": "a", "name": []string{"foo"}}
	if err := m.Bulk(ctx, []BulkOp{{ID: "a", Kind: KindRecord, Fields: fields}}); err != nil {
		t.Fatal(err)
	}
	fields["name"].([]string)[0] = "mutated"
	docs, err := m.MultiGet(ctx, KindRecord, []string{"a"})
	if err != nil {
		t.Fatal(err)
	}
	if names, _ := StringsField(docs[0], "name"); names[0] != "foo" {
		t.Errorf("stored document aliased caller memory: %v", names)
	}
}

func TestFieldHelpers(t *testing.T) {
	doc := Doc{Found: true, Fields: map[string]interface{}{
		"rank":   float64(3),
		"child":  "0://a",
		"values": []interface{}{"x", "y"},
	}}
	if rank, ok := IntField(doc, "rank"); !ok || rank != 3 {
		t.Errorf("IntField = %d, %v", rank, ok)
	}
	if child, ok := StringField(doc, "child"); !ok || child != "0://a" {
		t.Errorf("StringField = %q, %v", child, ok)
	}
	values, ok := StringsField(doc, "values")
	if !ok || len(values) != 2 || values[0] != "x" {
		t.Errorf("StringsField = %v, %v", values, ok)
	}
	if _, ok := IntField(doc, "absent"); ok {
		t.Error("IntField found an absent field")
	}
}
