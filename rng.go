package main

import (
	"strconv"

	"github.com/dgryski/go-wyhash"
	"pgregory.net/rand"
)

// wyhash seed for deriving stream seeds; any fixed value works, but changing it
// changes every generated request.
const streamHashSeed = 2467825690

// Rng is a single seeded random stream. It is not safe for concurrent use; every
// worker gets its own.
type Rng struct {
	rng *rand.Rand
}

// NewRng derives an independent stream from the run seed and a stream name, so
// that the same (seed, name) always produces the same sequence.
func NewRng(seed int64, stream string) Rng {
	key := strconv.FormatInt(seed, 10) + "/" + stream
	return Rng{rand.New(wyhash.Hash([]byte(key), streamHashSeed))}
}

// WorkerStream is the stream name used by worker n.
func WorkerStream(n int) string {
	return "worker-" + strconv.Itoa(n)
}

// Float64 returns a value in [0, 1).
func (r Rng) Float64() float64 {
	return r.rng.Float64()
}

// Float returns a value in [min, max).
func (r Rng) Float(min, max float64) float64 {
	return r.rng.Float64()*(max-min) + min
}

// IntRange returns a value in [min, max], inclusive on both ends.
func (r Rng) IntRange(min, max int) int {
	return min + r.rng.Intn(max-min+1)
}

func (r Rng) Choice(a []string) string {
	return a[r.rng.Intn(len(a))]
}

// Chance returns true with probability p.
func (r Rng) Chance(p float64) bool {
	return r.rng.Float64() < p
}

// Int63 is used to seed the text generator that belongs to the same stream.
func (r Rng) Int63() int64 {
	return int64(r.rng.Uint64() >> 1)
}
