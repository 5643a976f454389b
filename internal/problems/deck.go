package problems

import "math/rand/v2"

// Source is an effectively infinite sequence of problems.
type Source interface {
	Next() Problem
}

// Sequential cycles through its catalog in order.
type Sequential struct {
	catalog Catalog
	pos     int
}

func NewSequential(c Catalog) *Sequential {
	return &Sequential{catalog: c}
}

func (s *Sequential) Next() Problem {
	p := s.catalog[s.pos%len(s.catalog)]
	s.pos++
	return p
}

// Random draws uniformly from its catalog, never repeating the previous draw
// when there is more than one problem.
type Random struct {
	catalog Catalog
	rng     *rand.Rand
	last    int
}

func NewRandom(c Catalog, rng *rand.Rand) *Random {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Random{catalog: c, rng: rng, last: -1}
}

func (r *Random) Next() Problem {
	n := len(r.catalog)
	i := r.rng.IntN(n)
	if n > 1 && i == r.last {
		// shift by a non-zero offset to stay uniform over the other n-1
		i = (i + 1 + r.rng.IntN(n-1)) % n
	}
	r.last = i
	return r.catalog[i]
}

// NewDeck starts a fresh source over c. Each lobby gets its own deck so draws
// never interfere across lobbies.
func NewDeck(c Catalog, randomized bool, rng *rand.Rand) (Source, error) {
	if len(c) == 0 {
		return nil, ErrNoProblems
	}
	owned := make(Catalog, len(c))
	copy(owned, c)
	if randomized {
		return NewRandom(owned, rng), nil
	}
	return NewSequential(owned), nil
}
