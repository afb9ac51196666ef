package akagraph

import (
	"context"
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/apingali/akagraph/internal/config"
	"github.com/apingali/akagraph/internal/logger"
	"github.com/apingali/akagraph/internal/prng"
	"github.com/apingali/akagraph/internal/store"
)

// uniformFixture is a fixed cycle of draws standing in for the uniform
// sampler, so that edges with independent evidence are reproducible.
var uniformFixture = []float64{
	0.0607, 0.1474, 0.037, 0.9118, 0.353, 0.3549, 0.4509, 0.6694, 0.6033, 0.0424,
	0.2345, 0.0005, 0.6237, 0.647, 0.1401, 0.6782, 0.3207, 0.6538, 0.7681, 0.4805,
	0.4934, 0.3134, 0.2269, 0.9257, 0.9147, 0.4915, 0.2829, 0.2345, 0.1139, 0.9229,
	0.7149, 0.6885, 0.2881, 0.4665, 0.3018, 0.3008, 0.4896, 0.5462, 0.3342, 0.2676,
	0.9385, 0.1902, 0.1997, 0.7592, 0.6843, 0.5238, 0.7127, 0.5245, 0.1827, 0.7681,
	0.5855, 0.4648, 0.0723, 0.7006, 0.1429, 0.1367, 0.7325, 0.4641, 0.6702, 0.7616,
	0.1671, 0.3075, 0.7183, 0.4821,
}

func newTestGraph(k int, scoreFn ScoreFunc, uniform func() float64) (*Graph, *store.Memory) {
	mem := store.NewMemory()
	g := New(mem, Params{
		Config: config.GraphConfig{
			Replicas:             k,
			HardSelectors:        []string{"email", "phone", "skype", "hostname"},
			SoftSelectors:        []string{"name", "username"},
			BufferSize:           20,
			ScoreCutoff:          0.001,
			ComponentMinEmitted:  10,
			ComponentCountCutoff: 2,
		},
		ScoreFn: scoreFn,
		Uniform: uniform,
		Log:     logger.NewNop(),
	})
	return g, mem
}

// twoTriangles has two connected components, to verify that they do not get
// merged accidentally (or, with soft selectors on, that they get merged the
// right amount). The names "кс" and "x" also recur across the triangles but
// score 0 under lengthScorer; the only cross-component identifier scoring
// above the cutoff is the soft username "username" shared by c and b2.
func twoTriangles() []Record {
	return []Record{
		{URL: "a", Fields: map[string][]string{
			"name": {"foo"}, "email": {"foo@mail.com"},
		}},
		{URL: "b", Fields: map[string][]string{
			"name": {"кс"}, "email": {"foo@mail.com"}, "skype": {"skype1"}, "username": {"username1"},
		}},
		{URL: "c", Fields: map[string][]string{
			"skype": {"skype1"}, "name": {"x"}, "username": {"username"},
		}},
		{URL: "a2", Fields: map[string][]string{
			"name": {"foo2"}, "email": {"foo2@mail.com"},
		}},
		{URL: "b2", Fields: map[string][]string{
			"name": {"кс"}, "email": {"foo2@mail.com"}, "skype": {"skype2"}, "username": {"username"},
		}},
		{URL: "c2", Fields: map[string][]string{
			"skype": {"skype2"}, "name": {"x"}, "username": {"username2"},
		}},
	}
}

// lengthScorer mirrors the faked soft scorer from the reference scenarios:
// longer strings are more handle-like.
func lengthScorer(s string) float64 {
	score := 0.5 - 1.0/float64(utf8.RuneCountInString(s))
	if score < 0 {
		return 0
	}
	return score
}

func ingest(t *testing.T, g *Graph, recs []Record) {
	t.Helper()
	err := g.Session(context.Background(), func(g *Graph) error {
		for _, rec := range recs {
			if err := g.Add(context.Background(), rec, true); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// componentCounts walks the component of id and returns URL -> replica
// count, excluding id itself.
func componentCounts(t *testing.T, g *Graph, id string) map[string]int {
	t.Helper()
	component, err := g.ConnectedComponent(context.Background(), id)
	require.NoError(t, err)
	counts := make(map[string]int)
	for _, uc := range component {
		if uc.URL != id {
			counts[uc.URL] = uc.Count
		}
	}
	return counts
}

func TestAddOutsideSession(t *testing.T) {
	g, _ := newTestGraph(10, nil, nil)
	ctx := context.Background()
	err := g.Add(ctx, Record{URL: "a"}, true)
	if !errors.Is(err, ErrNotInSession) {
		t.Errorf("Add outside session: %v, want ErrNotInSession", err)
	}
	err = g.AddEdge(ctx, []string{"a", "b"}, 0.5, "")
	if !errors.Is(err, ErrNotInSession) {
		t.Errorf("AddEdge outside session: %v, want ErrNotInSession", err)
	}
}

func TestNestedSession(t *testing.T) {
	g, _ := newTestGraph(10, nil, nil)
	ctx := context.Background()
	err := g.Session(ctx, func(g *Graph) error {
		return g.Session(ctx, func(*Graph) error { return nil })
	})
	if !errors.Is(err, ErrSessionActive) {
		t.Errorf("nested session: %v, want ErrSessionActive", err)
	}
}

func TestSessionErrorDiscardsBuffers(t *testing.T) {
	g, mem := newTestGraph(10, nil, nil)
	ctx := context.Background()
	boom := errors.New("boom")
	err := g.Session(ctx, func(g *Graph) error {
		if err := g.Add(ctx, Record{URL: "a"}, true); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, mem.Len(), "aborted session left documents behind")

	// The graph is reusable afterwards.
	ingest(t, g, []Record{{URL: "a", Fields: map[string][]string{"name": {"foo"}}}})
	require.NotZero(t, mem.Len())
}

func TestAddEdgeRejectsBadStrength(t *testing.T) {
	g, _ := newTestGraph(10, nil, nil)
	ctx := context.Background()
	err := g.Session(ctx, func(g *Graph) error {
		for _, s := range []float64{0, -0.5, 1.5} {
			if err := g.AddEdge(ctx, []string{"a", "b"}, s, ""); err == nil {
				t.Errorf("AddEdge accepted strength %v", s)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestHardChainFullConfidence(t *testing.T) {
	// a and b share an email, b and c a skype handle: one component at
	// confidence 1.0 in every replica.
	g, _ := newTestGraph(10, nil, nil)
	ingest(t, g, []Record{
		{URL: "a", Fields: map[string][]string{"email": {"x"}}},
		{URL: "b", Fields: map[string][]string{"email": {"x"}, "skype": {"y"}}},
		{URL: "c", Fields: map[string][]string{"skype": {"y"}}},
	})
	members, err := g.FindConnectedComponent(context.Background(), "x", true)
	require.NoError(t, err)
	require.Len(t, members, 3)
	urls := make(map[string]float64)
	for _, m := range members {
		urls[m.Record.URL] = m.Confidence
	}
	for _, url := range []string{"a", "b", "c"} {
		require.Equal(t, 1.0, urls[url], "confidence of %s", url)
	}
}

func TestTwoDisjointComponents(t *testing.T) {
	// Soft scoring disabled: the two triangles stay apart.
	g, _ := newTestGraph(10, func(string) float64 { return 0 }, nil)
	ingest(t, g, twoTriangles())
	for id, want := range map[string][]string{
		"a": {"b", "c"}, "b": {"a", "c"}, "c": {"a", "b"},
		"a2": {"b2", "c2"}, "b2": {"a2", "c2"}, "c2": {"a2", "b2"},
	} {
		counts := componentCounts(t, g, id)
		require.Len(t, counts, 2, "component of %s", id)
		for _, other := range want {
			require.Equal(t, 10, counts[other], "count of %s from %s", other, id)
		}
	}
}

func TestSoftClusters(t *testing.T) {
	// With the length scorer the triangles link through the shared
	// username in some fraction of the 20 replicas. The within-triangle
	// members stay at full count; the cross-triangle members share one
	// deterministic count below full.
	const k = 20
	g, _ := newTestGraph(k, lengthScorer, nil)
	ingest(t, g, twoTriangles())

	counts := componentCounts(t, g, "a")
	require.Equal(t, k, counts["b"])
	require.Equal(t, k, counts["c"])

	cross := -1
	for _, url := range []string{"a2", "b2", "c2"} {
		count := counts[url]
		require.LessOrEqual(t, count, k, "cross count of %s", url)
		if cross == -1 {
			cross = count
		} else {
			require.Equal(t, cross, count, "cross counts differ at %s", url)
		}
	}

	// Re-ingesting the same records leaves every count unchanged: hard
	// edges are strength 1 and soft edges re-derive the same evidence.
	before := componentCounts(t, g, "b")
	ingest(t, g, twoTriangles())
	require.Equal(t, before, componentCounts(t, g, "b"))
}

func TestEvidenceEdgeIsIdempotent(t *testing.T) {
	// Identical (ids, strength, evidence) calls merge identical replica
	// sets, however often they repeat. No uniform draws are involved.
	ctx := context.Background()
	g, _ := newTestGraph(20, nil, func() float64 {
		panic("uniform sampler must not be consulted for evidence edges")
	})
	addEdge := func() {
		err := g.Session(ctx, func(g *Graph) error {
			return g.AddEdge(ctx, []string{"a", "a2"}, 0.3, "username")
		})
		require.NoError(t, err)
	}
	addEdge()
	first := componentCounts(t, g, "a")
	addEdge()
	addEdge()
	require.Equal(t, first, componentCounts(t, g, "a"))
}

func TestIndependentEdgesCompound(t *testing.T) {
	// Two strength-0.3 assertions with no evidence are independent
	// draws. With the cycling fixture the first call merges replicas
	// {0,1,2,9,10,11,14}, the second adds {2,6,7,8,12,19}: 7 then 12.
	ctx := context.Background()
	g, _ := newTestGraph(20, nil, prng.Cycle(uniformFixture...))
	addEdge := func() {
		err := g.Session(ctx, func(g *Graph) error {
			return g.AddEdge(ctx, []string{"b", "b2"}, 0.3, "")
		})
		require.NoError(t, err)
	}
	addEdge()
	require.Equal(t, 7, componentCounts(t, g, "b")["b2"])
	addEdge()
	require.Equal(t, 12, componentCounts(t, g, "b")["b2"])

	// A strength-1 edge saturates the count.
	err := g.Session(ctx, func(g *Graph) error {
		return g.AddEdge(ctx, []string{"b", "b2"}, 1, "")
	})
	require.NoError(t, err)
	require.Equal(t, 20, componentCounts(t, g, "b")["b2"])
}

func TestTransitiveChainDecay(t *testing.T) {
	// Chained independent edges decay with distance. With the fixture
	// the per-edge replica sets are all-but-{3}, all-but-{8}, and
	// {0,1,2,5,6,7,8}, so from d: e=9, f=8, g=6.
	ctx := context.Background()
	g, _ := newTestGraph(10, nil, prng.Cycle(uniformFixture...))
	err := g.Session(ctx, func(g *Graph) error {
		for _, pair := range [][]string{{"d", "e"}, {"e", "f"}, {"f", "g"}} {
			if err := g.AddEdge(ctx, pair, 0.7, ""); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	fromD := componentCounts(t, g, "d")
	require.Equal(t, 9, fromD["e"])
	require.Equal(t, 8, fromD["f"])
	require.Equal(t, 6, fromD["g"])

	fromE := componentCounts(t, g, "e")
	require.Equal(t, fromD["e"], fromE["d"])
	require.GreaterOrEqual(t, fromE["f"], fromE["g"])
}

func TestSharedEvidenceChainIsTransitive(t *testing.T) {
	// Edges carrying the same evidence and strength are included in the
	// same replicas, so the whole chain merges wherever any link does
	// and every member sees the same counts.
	ctx := context.Background()
	g, _ := newTestGraph(10, nil, func() float64 {
		panic("uniform sampler must not be consulted for evidence edges")
	})
	err := g.Session(ctx, func(g *Graph) error {
		for _, pair := range [][]string{{"d", "e"}, {"e", "f"}, {"f", "g"}} {
			if err := g.AddEdge(ctx, pair, 0.2, "evidence1"); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	fromE := componentCounts(t, g, "e")
	fromF := componentCounts(t, g, "f")
	require.Equal(t, fromE["d"], fromF["d"])
	require.Equal(t, fromE["g"], fromF["g"])
	require.Equal(t, fromE["d"], fromE["g"])
}

func TestStrengthOneEdgeIdempotent(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGraph(10, nil, nil)
	for i := 0; i < 3; i++ {
		err := g.Session(ctx, func(g *Graph) error {
			return g.AddEdge(ctx, []string{"p", "q"}, 1, "")
		})
		require.NoError(t, err)
	}
	require.Equal(t, 10, componentCounts(t, g, "p")["q"])
}

func TestRecordWithoutUnionStaysUnlinked(t *testing.T) {
	g, _ := newTestGraph(10, func(string) float64 { return 0 }, nil)
	ingest(t, g, twoTriangles())
	ctx := context.Background()
	err := g.Session(ctx, func(g *Graph) error {
		return g.Add(ctx, Record{URL: "h", Fields: map[string][]string{
			"name": {"foo"}, "email": {"foo@mail.com"},
		}}, false)
	})
	require.NoError(t, err)
	require.Empty(t, componentCounts(t, g, "h"))
	// The record itself was stored.
	recs, err := g.GetRecords(ctx, "h")
	require.NoError(t, err)
	require.False(t, recs[0].Empty())
}

func TestSingleReplicaDisablesSoft(t *testing.T) {
	g, _ := newTestGraph(1, lengthScorer, nil)
	ingest(t, g, []Record{
		{URL: "u1", Fields: map[string][]string{"username": {"longusername"}}},
		{URL: "u2", Fields: map[string][]string{"username": {"longusername"}}},
	})
	require.Empty(t, componentCounts(t, g, "u1"))
}

func TestNilScorerDisablesSoft(t *testing.T) {
	g, _ := newTestGraph(10, nil, nil)
	ingest(t, g, []Record{
		{URL: "u1", Fields: map[string][]string{"username": {"longusername"}}},
		{URL: "u2", Fields: map[string][]string{"username": {"longusername"}}},
	})
	require.Empty(t, componentCounts(t, g, "u1"))
}

func TestBufferAutoFlush(t *testing.T) {
	mem := store.NewMemory()
	g := New(mem, Params{
		Config: config.GraphConfig{
			Replicas:      2,
			HardSelectors: []string{"email"},
			BufferSize:    2,
		},
		Log: logger.NewNop(),
	})
	ctx := context.Background()
	err := g.Session(ctx, func(g *Graph) error {
		if err := g.Add(ctx, Record{URL: "r1", Fields: map[string][]string{"email": {"e1"}}}, true); err != nil {
			return err
		}
		if err := g.Add(ctx, Record{URL: "r2", Fields: map[string][]string{"email": {"e1"}}}, true); err != nil {
			return err
		}
		// Buffer size 2: both records must already be flushed and
		// linked before the session closes.
		counts := componentCounts(t, g, "r1")
		require.Equal(t, 2, counts["r2"])
		return nil
	})
	require.NoError(t, err)
}
