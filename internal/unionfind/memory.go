package unionfind

import "sort"

// Memory is an in-memory disjoint-set forest with union by rank and path
// compression. A batch flush builds one to collapse redundant unions before
// they reach the store: once a set of identifiers has been united locally,
// uniting it again is a no-op and costs no round-trips.
type Memory struct {
	parents map[string]string
	ranks   map[string]int
}

// NewMemory returns an empty forest.
func NewMemory() *Memory {
	return &Memory{
		parents: make(map[string]string),
		ranks:   make(map[string]int),
	}
}

// find walks to the root of name, compressing the path behind it.
func (m *Memory) find(name string) string {
	seen := []string{}
	for {
		parent, ok := m.parents[name]
		if !ok {
			break
		}
		seen = append(seen, name)
		name = parent
	}
	for _, s := range seen {
		m.parents[s] = name
	}
	return name
}

// rank returns the rank of a root; names never seen before are rank 1.
func (m *Memory) rank(name string) int {
	if r, ok := m.ranks[name]; ok {
		return r
	}
	return 1
}

// FindAllAndUnion unites the sets containing the given names and returns the
// roots that existed before the union. The highest-ranked root survives;
// ties increment the survivor's rank. Nil is returned when fewer than two
// distinct roots are involved, i.e. when the union would change nothing.
func (m *Memory) FindAllAndUnion(names ...string) []string {
	if len(names) < 2 {
		return nil
	}
	rootSet := make(map[string]bool)
	for _, name := range names {
		rootSet[m.find(name)] = true
	}
	if len(rootSet) < 2 {
		return nil
	}
	roots := make([]string, 0, len(rootSet))
	for root := range rootSet {
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool {
		ri, rj := m.rank(roots[i]), m.rank(roots[j])
		if ri != rj {
			return ri < rj
		}
		return roots[i] < roots[j]
	})
	newRoot := roots[len(roots)-1]
	newRank := m.rank(newRoot)
	if m.rank(roots[len(roots)-2]) == newRank {
		newRank++
	}
	m.ranks[newRoot] = newRank
	for _, old := range roots[:len(roots)-1] {
		m.parents[old] = newRoot
	}
	return roots
}
