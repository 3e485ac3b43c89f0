package consensus

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrEmptyCandidateSet is returned when an election is attempted with no
// candidates.
var ErrEmptyCandidateSet = errors.New("empty candidate set")

// ElectionStrategy selects one representative from a candidate set. The
// strategy is pluggable; the elect -> approve -> stamp contract of the gate
// stays the same across variants.
type ElectionStrategy interface {
	Elect(candidates []string) (string, error)
}

// RandomElection picks a candidate uniformly at random.
type RandomElection struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomElection seeds a random strategy. A zero seed uses a
// time-dependent source.
func NewRandomElection(seed int64) *RandomElection {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomElection{rng: rand.New(rand.NewSource(seed))}
}

func (e *RandomElection) Elect(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrEmptyCandidateSet
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return candidates[e.rng.Intn(len(candidates))], nil
}

// RoundRobinElection cycles deterministically through the candidate set.
type RoundRobinElection struct {
	mu   sync.Mutex
	next int
}

func NewRoundRobinElection() *RoundRobinElection {
	return &RoundRobinElection{}
}

func (e *RoundRobinElection) Elect(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrEmptyCandidateSet
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	chosen := candidates[e.next%len(candidates)]
	e.next++
	return chosen, nil
}

// StakeWeightedElection picks candidates with probability proportional to
// their configured stake. Candidates without a stake entry weigh one.
type StakeWeightedElection struct {
	mu     sync.Mutex
	rng    *rand.Rand
	stakes map[string]int64
}

func NewStakeWeightedElection(stakes map[string]int64, seed int64) *StakeWeightedElection {
	return &StakeWeightedElection{
		rng:    rand.New(rand.NewSource(seed)),
		stakes: stakes,
	}
}

func (e *StakeWeightedElection) Elect(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrEmptyCandidateSet
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var total int64
	weights := make([]int64, len(candidates))
	for i, candidate := range candidates {
		w := int64(1)
		if stake, ok := e.stakes[candidate]; ok && stake > 0 {
			w = stake
		}
		weights[i] = w
		total += w
	}

	pick := e.rng.Int63n(total)
	for i, w := range weights {
		if pick < w {
			return candidates[i], nil
		}
		pick -= w
	}
	return candidates[len(candidates)-1], nil
}
