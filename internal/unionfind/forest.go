package unionfind

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/apingali/akagraph/internal/prng"
	"github.com/apingali/akagraph/internal/store"
)

// parentLookupRetries bounds re-reads of a node's row on transient scan
// errors before the lookup is surfaced as failed.
const parentLookupRetries = 3

// CycleError reports a parent chain that loops back on itself. The forest
// never writes such a chain — redirects are rank-monotone — so hitting one
// means the stored data is corrupt and needs operator intervention.
type CycleError struct {
	Start string   // canonical form of the node the walk started from
	Path  []string // node URLs visited before the repeat
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected in union-find parent chain starting at %s: %s",
		e.Start, strings.Join(e.Path, " -> "))
}

// Forest is the persisted K-replica union-find. Every node that has taken
// part in a union is one row in the store, keyed by its canonical form: roots carry rank and cardinality,
// everything else carries a parent pointer. Replicas never mix; a union in
// replica r touches only replica-r rows.
type Forest struct {
	store store.Adapter
	log   *zap.SugaredLogger
}

// NewForest returns a forest over the given store.
func NewForest(adapter store.Adapter, log *zap.SugaredLogger) *Forest {
	return &Forest{store: adapter, log: log}
}

// Parent returns the parent of node, or nil if node is a root. Root lookups
// stamp the node with its stored rank and cardinality; nodes that have never
// been united are implicit rank-1 roots of themselves.
func (f *Forest) Parent(ctx context.Context, node *Node) (*Node, error) {
	q := store.Query{
		Kind:   store.KindUnionFind,
		Should: []store.Term{{Field: "child", Value: node.Canonical()}},
		Fields: []string{"parent", "rank", "cardinality"},
		Size:   1,
	}
	var lastErr error
	for try := 0; try <= parentLookupRetries; try++ {
		docs, err := f.store.Search(ctx, q)
		if err != nil {
			lastErr = err
			f.log.Warnw("retrying parent lookup",
				"node", node.Canonical(), "remaining", parentLookupRetries-try, "error", err)
			continue
		}
		if len(docs) == 0 {
			node.markRoot(1, 1)
			return nil, nil
		}
		if parent, ok := store.StringField(docs[0], "parent"); ok {
			return ParseCanonical(parent)
		}
		rank, _ := store.IntField(docs[0], "rank")
		cardinality, _ := store.IntField(docs[0], "cardinality")
		node.markRoot(rank, cardinality)
		return nil, nil
	}
	return nil, fmt.Errorf("parent lookup for %s: %w", node.Canonical(), lastErr)
}

// Root walks parent pointers from node until it reaches a root, which is
// node itself when it has never been united. The returned node carries rank
// and cardinality. A repeated URL on the walk is corruption and comes back
// as a CycleError.
func (f *Forest) Root(ctx context.Context, node *Node) (*Node, error) {
	start := node.Canonical()
	seen := make(map[string]bool)
	var path []string
	for {
		parent, err := f.Parent(ctx, node)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return node, nil
		}
		if seen[parent.URL] {
			return nil, &CycleError{Start: start, Path: append(path, parent.URL)}
		}
		seen[parent.URL] = true
		path = append(path, parent.URL)
		node = parent
	}
}

// Unite merges the trees containing the given nodes, all of which must share
// a replica. Roots are ordered by (rank, deterministic hash) so concurrent
// ingesters agree on the survivor; the highest wins, a rank tie bumps its
// rank, and its cardinality absorbs the merged trees. The new root row is
// written ahead of the redirect rows in a single bulk request. Returns the
// surviving root, which is nil when the nodes were already united.
func (f *Forest) Unite(ctx context.Context, nodes ...*Node) (*Node, error) {
	roots := make(map[string]*Node)
	for _, node := range nodes {
		root, err := f.Root(ctx, node)
		if err != nil {
			return nil, err
		}
		roots[root.URL] = root
	}
	if len(roots) < 2 {
		return nil, nil
	}
	ranked := make([]*Node, 0, len(roots))
	for _, root := range roots {
		ranked = append(ranked, root)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Rank != ranked[j].Rank {
			return ranked[i].Rank < ranked[j].Rank
		}
		return prng.Det(ranked[i].URL, ranked[i].Replica) < prng.Det(ranked[j].URL, ranked[j].Replica)
	})
	newRoot := ranked[len(ranked)-1]
	others := ranked[:len(ranked)-1]
	if newRoot.Rank == others[len(others)-1].Rank {
		newRoot.Rank++
	}
	for _, old := range others {
		newRoot.Cardinality += old.Cardinality
	}
	if err := f.setParents(ctx, newRoot, others); err != nil {
		return nil, err
	}
	return newRoot, nil
}

// setParents writes the new root row followed by one redirect row per old
// root. The ordering inside the bulk matters: the root row lands before any
// row that references it, so a partially applied bulk leaves at most a
// redundant hop, never a dangling parent.
func (f *Forest) setParents(ctx context.Context, newRoot *Node, others []*Node) error {
	ops := make([]store.BulkOp, 0, len(others)+1)
	ops = append(ops, store.BulkOp{
		ID:   newRoot.Canonical(),
		Kind: store.KindUnionFind,
		Fields: map[string]interface{}{
			"child":       newRoot.Canonical(),
			"url":         newRoot.URL,
			"replica":     strconv.Itoa(newRoot.Replica),
			"rank":        newRoot.Rank,
			"cardinality": newRoot.Cardinality,
		},
	})
	for _, child := range others {
		ops = append(ops, store.BulkOp{
			ID:   child.Canonical(),
			Kind: store.KindUnionFind,
			Fields: map[string]interface{}{
				"child":   child.Canonical(),
				"url":     child.URL,
				"parent":  newRoot.Canonical(),
				"replica": strconv.Itoa(child.Replica),
			},
		})
	}
	f.log.Debugw("uniting", "root", newRoot.Canonical(), "children", len(others))
	return f.store.Bulk(ctx, ops)
}

// Children returns the nodes whose parent pointer references node.
func (f *Forest) Children(ctx context.Context, node *Node) ([]*Node, error) {
	q := store.Query{
		Kind:   store.KindUnionFind,
		Should: []store.Term{{Field: "parent", Value: node.Canonical()}},
		Fields: []string{"child"},
	}
	var children []*Node
	err := f.store.Scan(ctx, q, func(doc store.Doc) error {
		canonical, ok := store.StringField(doc, "child")
		if !ok {
			return fmt.Errorf("union row %s has no child field", doc.ID)
		}
		child, err := ParseCanonical(canonical)
		if err != nil {
			return err
		}
		children = append(children, child)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return children, nil
}

// AllRows streams every union-find row, for diagnostics.
func (f *Forest) AllRows(ctx context.Context, fn func(store.Doc) error) error {
	return f.store.Scan(ctx, store.Query{Kind: store.KindUnionFind}, fn)
}
