// Package prng provides the two random sources used by the probabilistic
// union-find: a deterministic hash-based sampler that is stable across
// processes, and a plain uniform sampler that callers can swap out in tests.
package prng

import (
	"encoding/json"
	"math/rand"

	"github.com/spaolacci/murmur3"
)

// Det maps an argument tuple to a float in [0, 1). The same arguments yield
// the same value on every machine: the tuple is serialized as canonical JSON
// and hashed with 32-bit MurmurHash3.
func Det(args ...interface{}) float64 {
	buf, err := json.Marshal(args)
	if err != nil {
		// Only non-serializable arguments can land here; callers pass
		// strings and integers.
		buf = []byte{}
	}
	raw := murmur3.Sum32(buf) ^ (1 << 31)
	return float64(raw) / float64(1<<32)
}

// Uniform returns a fresh uniform sample in [0, 1). It exists as a named
// default so that components taking a sampler function have something to
// fall back to; tests install their own sampler instead.
func Uniform() float64 {
	return rand.Float64()
}

// Cycle returns a sampler that loops over the given values. Tests use it to
// make independent-evidence unions reproducible.
func Cycle(values ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := values[i%len(values)]
		i++
		return v
	}
}
