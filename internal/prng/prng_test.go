package prng

import "testing"

func TestDetRange(t *testing.T) {
	inputs := [][]interface{}{
		{"username", 0},
		{"username", 1},
		{"foo@mail.com", 19},
		{""},
		{"a", "b", 3},
	}
	for _, args := range inputs {
		v := Det(args...)
		if v < 0 || v >= 1 {
			t.Errorf("Det(%v) = %v, outside [0, 1)", args, v)
		}
	}
}

func TestDetDeterministic(t *testing.T) {
	for i := 0; i < 10; i++ {
		a := Det("evidence", i)
		b := Det("evidence", i)
		if a != b {
			t.Fatalf("Det not stable for replica %d: %v != %v", i, a, b)
		}
	}
}

func TestDetDistinguishesArgs(t *testing.T) {
	// Different argument tuples should land on different values; a few
	// collisions would be tolerable, identical outputs everywhere would
	// mean the arguments are being ignored.
	seen := make(map[float64]bool)
	for i := 0; i < 50; i++ {
		seen[Det("evidence", i)] = true
	}
	if len(seen) < 45 {
		t.Errorf("expected near-distinct values across replicas, got %d of 50", len(seen))
	}
	if Det("a", 0) == Det("b", 0) {
		t.Error("different evidence hashed to the same value")
	}
}

func TestUniformRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		v := Uniform()
		if v < 0 || v >= 1 {
			t.Fatalf("Uniform() = %v, outside [0, 1)", v)
		}
	}
}

func TestCycle(t *testing.T) {
	c := Cycle(0.1, 0.2, 0.3)
	want := []float64{0.1, 0.2, 0.3, 0.1, 0.2}
	for i, w := range want {
		if got := c(); got != w {
			t.Errorf("draw %d = %v, want %v", i, got, w)
		}
	}
}
