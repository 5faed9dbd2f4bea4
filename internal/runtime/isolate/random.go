package isolate

// Random is the per-isolate pseudo-random capability. Each isolate owns
// exactly one generator seeded at construction; generators are never
// shared across isolates, so no locking is needed or provided.
type Random struct {
	state uint64
}

// NewRandom returns a generator seeded with seed. A zero seed is
// replaced so the stream never degenerates.
func NewRandom(seed uint64) *Random {
	if seed == 0 {
		seed = 0x853c49e6748fea9b
	}
	return &Random{state: seed}
}

// NextUint64 returns the next value of the stream.
func (r *Random) NextUint64() uint64 {
	r.state += 0x9e3779b97f4a7c15
	z := r.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// NextIntn returns a value in [0, n). n must be positive.
func (r *Random) NextIntn(n int64) int64 {
	if n <= 0 {
		panic("isolate: NextIntn with non-positive bound")
	}
	return int64(r.NextUint64() % uint64(n))
}
