// Package handles scores how plausible a string is as a username or other
// shared handle, using a character-bigram Markov model. The score feeds the
// equivalence finder as the strength of soft-selector edges: a rare,
// handle-looking string binds records tightly, a common word binds them
// barely at all.
package handles

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Score levels. maxScore caps the bigram-model score: a string can look
// exactly like a handle and still not prove identity. Letter-digit mixtures
// score mixedAlnumScore and strings longer than longStringLen score
// longStringScore, both above that cap.
const (
	maxScore        = 0.65
	mixedAlnumScore = 0.7
	longStringScore = 1.0
	longStringLen   = 30
)

// commonWords never score: sharing one of these as a "username" is
// meaningless.
var commonWords = map[string]bool{
	"about": true, "account": true, "admin": true, "contact": true,
	"default": true, "guest": true, "home": true, "info": true,
	"login": true, "mail": true, "news": true, "none": true,
	"official": true, "page": true, "profile": true, "root": true,
	"search": true, "shop": true, "support": true, "test": true,
	"unknown": true, "user": true, "webmaster": true, "welcome": true,
}

// Model holds character unigram and bigram counts and a cache of computed
// scores. Scoring the same value is common — every record carrying a
// popular name re-scores it — so results are kept in an LRU.
type Model struct {
	unigrams map[string]float64
	bigrams  map[string]float64
	perChar  float64 // mean per-character log10 transition probability
	cache    *lru.Cache[string, float64]
}

// LoadModel reads a gzipped JSON object of bigram counts ("ab": count) and
// builds a model; unigram counts are derived by marginalizing over the
// first character.
func LoadModel(path string, cacheSize int) (*Model, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bigram counts: %w", err)
	}
	defer fh.Close()
	gz, err := gzip.NewReader(fh)
	if err != nil {
		return nil, fmt.Errorf("reading bigram counts: %w", err)
	}
	defer gz.Close()
	var bigrams map[string]float64
	if err := json.NewDecoder(gz).Decode(&bigrams); err != nil {
		return nil, fmt.Errorf("decoding bigram counts: %w", err)
	}
	return NewModel(bigrams, cacheSize)
}

// NewModel builds a model from raw bigram counts.
func NewModel(bigrams map[string]float64, cacheSize int) (*Model, error) {
	if cacheSize < 1 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, float64](cacheSize)
	if err != nil {
		return nil, err
	}
	m := &Model{
		unigrams: make(map[string]float64),
		bigrams:  bigrams,
		cache:    cache,
	}
	for bigram, count := range bigrams {
		if len(bigram) > 0 {
			m.unigrams[bigram[:1]] += count
		}
	}
	// The per-character mean transition weight is the yardstick a
	// string's own weight is compared against.
	var total, weighted float64
	for bigram, count := range bigrams {
		uni := m.unigrams[bigram[:1]]
		if uni <= 0 || count <= 0 {
			continue
		}
		weighted += count * (math.Log10(count) - math.Log10(uni))
		total += count
	}
	if total > 0 {
		m.perChar = weighted / total
	}
	return m, nil
}

// BigramWeight returns log10 p(word) under the bigram Markov model, padding
// the word with boundary spaces. Words containing a transition the model
// has never seen weigh -Inf.
func (m *Model) BigramWeight(word string) float64 {
	padded := " " + strings.ToLower(word) + " "
	weight := 0.0
	for i := 0; i+1 < len(padded); i++ {
		bigram := padded[i : i+2]
		count := m.bigrams[bigram]
		if count == 0 {
			return math.Inf(-1)
		}
		weight += math.Log10(count) - math.Log10(m.unigrams[bigram[:1]])
	}
	return weight
}

// Score maps a string to a handle-plausibility in [0, 1]. Common words and
// empty strings score zero; very long strings and letter-digit mixtures are
// almost certainly handles; everything else is scored by how much rarer the
// string is than typical text of its length.
func (m *Model) Score(s string) float64 {
	if cached, ok := m.cache.Get(s); ok {
		return cached
	}
	score := m.score(s)
	m.cache.Add(s, score)
	return score
}

func (m *Model) score(s string) float64 {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || commonWords[strings.ToLower(trimmed)] {
		return 0
	}
	if len(trimmed) > longStringLen {
		return longStringScore
	}
	if isAlnumMix(trimmed) {
		return mixedAlnumScore
	}
	weight := m.BigramWeight(trimmed)
	if math.IsInf(weight, -1) {
		// Never-seen transitions mean the string looks nothing like
		// the corpus: as rare as it gets.
		return maxScore
	}
	// Rarity relative to typical text of the same length. Strings more
	// probable than typical approach zero, rarer strings approach the
	// ceiling.
	typical := m.perChar * float64(len(trimmed)+1)
	rarity := 1 - math.Pow(10, (weight-typical)/float64(len(trimmed)+1))
	if rarity < 0 {
		rarity = 0
	}
	return math.Min(maxScore, rarity)
}

// isAlnumMix reports whether s mixes letters and digits and contains
// nothing else — the classic handle shape.
func isAlnumMix(s string) bool {
	var hasLetter, hasDigit bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			return false
		}
	}
	return hasLetter && hasDigit
}
