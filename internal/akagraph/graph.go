package akagraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/apingali/akagraph/internal/config"
	"github.com/apingali/akagraph/internal/logger"
	"github.com/apingali/akagraph/internal/prng"
	"github.com/apingali/akagraph/internal/store"
	"github.com/apingali/akagraph/internal/unionfind"
)

// ErrNotInSession is returned when Add or AddEdge is called outside a
// Session. Buffered mutations only make sense inside the session scope that
// decides whether they flush or get discarded.
var ErrNotInSession = errors.New("akagraph: Add and AddEdge must be called inside a Session")

// ErrSessionActive is returned when a Session is opened while another one is
// in progress on the same Graph.
var ErrSessionActive = errors.New("akagraph: a session is already active")

// ScoreFunc scores how plausible a string is as a shared identifier, in
// [0, 1]. The character-n-gram username scorer is the usual implementation;
// any scalar function of a string works.
type ScoreFunc func(string) float64

// Graph is the interface to the store-backed probabilistic proximity
// engine. Its main operations are adding records containing identifiers and
// querying for the records close to a given identifier. A Graph is not safe
// for concurrent use; run one session at a time.
type Graph struct {
	store  store.Adapter
	forest *unionfind.Forest
	log    *logger.Logger

	replicas      int
	hardSelectors map[string]bool
	softSelectors map[string]bool
	bufferSize    int

	scoreFn                     ScoreFunc
	scoreCutoff                 float64
	numIdentifierDownweight     float64
	popularIdentifierDownweight float64

	componentMinEmitted  int
	componentCountCutoff int

	uniform func() float64

	inSession    bool
	recordBuffer []bufferedRecord
	edgeBuffer   []bufferedEdge
}

type bufferedRecord struct {
	rec   Record
	union bool
}

type bufferedEdge struct {
	ids      []string
	strength float64
	evidence string
}

// Params bundles the collaborators a Graph needs beyond its configuration.
// ScoreFn may be nil, which disables soft-selector discovery. Uniform may be
// nil, in which case the default uniform sampler is used; tests install a
// cycling sequence here.
type Params struct {
	Config  config.GraphConfig
	ScoreFn ScoreFunc
	Uniform func() float64
	Log     *logger.Logger
}

// New builds a Graph over the given store adapter.
func New(adapter store.Adapter, p Params) *Graph {
	cfg := p.Config
	if cfg.Replicas < 1 {
		cfg.Replicas = 1
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	log := p.Log
	if log == nil {
		log = logger.NewDefault()
	}
	uniform := p.Uniform
	if uniform == nil {
		uniform = prng.Uniform
	}
	g := &Graph{
		store:                       adapter,
		forest:                      unionfind.NewForest(adapter, log.SugaredLogger),
		log:                         log,
		replicas:                    cfg.Replicas,
		hardSelectors:               selectorSet(cfg.HardSelectors),
		softSelectors:               selectorSet(cfg.SoftSelectors),
		bufferSize:                  cfg.BufferSize,
		scoreFn:                     p.ScoreFn,
		scoreCutoff:                 cfg.ScoreCutoff,
		numIdentifierDownweight:     cfg.NumIdentifierDownweight,
		popularIdentifierDownweight: cfg.PopularIdentifierDownweight,
		componentMinEmitted:         cfg.ComponentMinEmitted,
		componentCountCutoff:        cfg.ComponentCountCutoff,
		uniform:                     uniform,
	}
	if g.componentMinEmitted < 1 {
		g.componentMinEmitted = 10
	}
	return g
}

func selectorSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// Replicas returns K, the number of Monte-Carlo replicas.
func (g *Graph) Replicas() int {
	return g.replicas
}

// Session runs fn inside a record/edge session. On a nil return from fn the
// buffered records and edges are flushed to the store; on error the buffers
// are discarded and the error is returned unchanged.
func (g *Graph) Session(ctx context.Context, fn func(*Graph) error) error {
	if g.inSession {
		return ErrSessionActive
	}
	g.inSession = true
	defer func() { g.inSession = false }()
	if err := fn(g); err != nil {
		g.recordBuffer = g.recordBuffer[:0]
		g.edgeBuffer = g.edgeBuffer[:0]
		return err
	}
	return g.Flush(ctx)
}

// Add buffers a record for ingest. When union is true the record takes part
// in equivalence discovery at flush time; when false it is stored but never
// linked, which supports adding records and explicit edges separately. The
// buffer flushes itself when it reaches the configured size.
func (g *Graph) Add(ctx context.Context, rec Record, union bool) error {
	if !g.inSession {
		return ErrNotInSession
	}
	if rec.URL == "" {
		return fmt.Errorf("record has no url")
	}
	g.recordBuffer = append(g.recordBuffer, bufferedRecord{rec: rec, union: union})
	if len(g.recordBuffer) >= g.bufferSize {
		return g.flushRecords(ctx)
	}
	return nil
}

// AddEdge buffers a pairwise assertion that all identifiers in ids refer to
// the same entity with the given strength in (0, 1]. No records are
// created; when the identifiers match record URLs, querying those records
// behaves exactly as if the link had been discovered at ingest.
//
// Evidence controls how repeated calls compose. With evidence, the
// per-replica inclusion decision is a deterministic function of (evidence,
// replica), so identical calls are idempotent. With empty evidence each
// call is an independent Bernoulli draw: asserting strength 0.5 twice is
// equivalent to asserting 0.75 once.
func (g *Graph) AddEdge(ctx context.Context, ids []string, strength float64, evidence string) error {
	if !g.inSession {
		return ErrNotInSession
	}
	if strength <= 0 || strength > 1 {
		return fmt.Errorf("edge strength %v outside (0, 1]", strength)
	}
	edge := bufferedEdge{ids: append([]string(nil), ids...), strength: strength, evidence: evidence}
	g.edgeBuffer = append(g.edgeBuffer, edge)
	if len(g.edgeBuffer) >= g.bufferSize {
		return g.flushEdges(ctx)
	}
	return nil
}

// Flush writes out both buffers: records first, then explicit edges.
func (g *Graph) Flush(ctx context.Context) error {
	if err := g.flushRecords(ctx); err != nil {
		return err
	}
	return g.flushEdges(ctx)
}

// flushRecords persists the buffered records, refreshes so they are
// queryable, then runs equivalence discovery over the records flagged for
// union and applies the resulting probabilistic unions.
func (g *Graph) flushRecords(ctx context.Context) error {
	if len(g.recordBuffer) == 0 {
		return nil
	}
	if err := g.EnsureIndex(ctx); err != nil {
		return err
	}
	g.log.Debugw("flushing record buffer", "size", len(g.recordBuffer))
	ops := make([]store.BulkOp, 0, len(g.recordBuffer))
	for _, buf := range g.recordBuffer {
		ops = append(ops, store.BulkOp{
			ID:     buf.rec.URL,
			Kind:   store.KindRecord,
			Fields: buf.rec.storeFields(),
		})
	}
	if err := g.store.Bulk(ctx, ops); err != nil {
		return fmt.Errorf("flushing records: %w", err)
	}
	// The finder queries the store for what was just written; without the
	// refresh the new records would be invisible to it.
	if err := g.store.Refresh(ctx); err != nil {
		return err
	}

	// Batches repeat the same unions over and over. A per-flush local
	// forest collapses those repeats so the store only sees new work.
	local := unionfind.NewMemory()

	unionRecs := make([]Record, 0, len(g.recordBuffer))
	for _, buf := range g.recordBuffer {
		if buf.union {
			unionRecs = append(unionRecs, buf.rec)
		}
	}
	equivs, err := g.findEquivalents(ctx, unionRecs)
	if err != nil {
		return err
	}
	for _, eq := range equivs {
		g.log.Debugw("found equivalents",
			"url", eq.rec.URL, "count", len(eq.urls), "score", eq.score, "evidence", eq.evidence)
		ids := append(eq.urls, eq.rec.URL)
		if err := g.probabilisticallyUnite(ctx, ids, eq.score, eq.evidence, local); err != nil {
			return err
		}
	}
	g.recordBuffer = g.recordBuffer[:0]
	return nil
}

// flushEdges applies the buffered explicit edges.
func (g *Graph) flushEdges(ctx context.Context) error {
	if len(g.edgeBuffer) == 0 {
		return nil
	}
	if err := g.EnsureIndex(ctx); err != nil {
		return err
	}
	local := unionfind.NewMemory()
	for _, edge := range g.edgeBuffer {
		g.log.Debugw("applying edge",
			"ids", edge.ids, "strength", edge.strength, "evidence", edge.evidence)
		if err := g.probabilisticallyUnite(ctx, edge.ids, edge.strength, edge.evidence, local); err != nil {
			return err
		}
	}
	g.edgeBuffer = g.edgeBuffer[:0]
	return nil
}

// probabilisticallyUnite unites ids in each replica where the edge is
// included. Strength-1 edges are included everywhere, so they collapse
// through the local forest first and skip the store when the batch has
// already united them. Weaker edges are included per replica: a
// deterministic draw on (evidence, replica) when evidence is given, an
// independent uniform draw otherwise. Replicas are processed in index order
// so that deterministic runs reproduce exactly.
func (g *Graph) probabilisticallyUnite(ctx context.Context, ids []string, strength float64, evidence string, local *unionfind.Memory) error {
	if strength >= 1 && local != nil {
		ids = local.FindAllAndUnion(ids...)
		if len(ids) < 2 {
			return nil
		}
	}
	include := func(replica int) bool {
		if strength >= 1 {
			return true
		}
		if evidence != "" {
			return prng.Det(evidence, replica) < strength
		}
		return g.uniform() < strength
	}
	for replica := 0; replica < g.replicas; replica++ {
		if !include(replica) {
			continue
		}
		nodes := make([]*unionfind.Node, 0, len(ids))
		for _, id := range ids {
			nodes = append(nodes, unionfind.NewNode(id, replica))
		}
		if _, err := g.forest.Unite(ctx, nodes...); err != nil {
			return err
		}
	}
	return g.store.Refresh(ctx)
}

// EnsureIndex creates the index with selector mappings if it is absent.
func (g *Graph) EnsureIndex(ctx context.Context) error {
	selectors := make([]string, 0, len(g.hardSelectors)+len(g.softSelectors))
	for s := range g.hardSelectors {
		selectors = append(selectors, s)
	}
	for s := range g.softSelectors {
		selectors = append(selectors, s)
	}
	return g.store.EnsureIndex(ctx, selectors)
}

// DeleteIndex removes the index and all graph state.
func (g *Graph) DeleteIndex(ctx context.Context) error {
	return g.store.DeleteIndex(ctx)
}

// Sync forces all prior writes to be visible to queries.
func (g *Graph) Sync(ctx context.Context) error {
	return g.store.Refresh(ctx)
}
