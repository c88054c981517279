// Package draft assigns every participant of a gift exchange exactly one
// recipient other than themself.
package draft

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
)

const (
	// DefaultAttempts is how many full draws Match makes before giving up.
	DefaultAttempts = 12
	// DefaultInvalidPicks bounds the self-picks tolerated for a single giver
	// within one draw.
	DefaultInvalidPicks = 10
)

var (
	// ErrInsufficientParticipants is returned for fewer than two ids.
	ErrInsufficientParticipants = errors.New("draft: at least two participants are required")
	// ErrMatchingFailed is returned once every attempt produced an invalid draw.
	ErrMatchingFailed = errors.New("draft: matching failed")
)

// Pair is one assignment: Giver buys a present for Receiver.
type Pair struct {
	Giver    int64 `json:"giver"`
	Receiver int64 `json:"receiver"`
}

// Outcome classifies a single draw.
type Outcome int

const (
	// OK means the draw produced a complete derangement.
	OK Outcome = iota
	// TooManyInvalidPicks means a giver kept drawing themself.
	TooManyInvalidPicks
	// StuckOnLastItem means the last giver was left with only themself and
	// no placed pair could be swapped to free another receiver.
	StuckOnLastItem
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case TooManyInvalidPicks:
		return "too many invalid picks"
	case StuckOnLastItem:
		return "stuck on last item"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Rand is the randomness a draw consumes. *rand.Rand from math/rand/v2
// satisfies it; tests inject scripted sources.
type Rand interface {
	IntN(n int) int
}

// Draw performs one construction attempt. Givers are taken in the order of
// ids; each picks a random receiver among those not yet taken, re-picking
// when it draws itself. A last giver left with only themself trades with a
// randomly chosen placed pair. The returned pairs are only meaningful when
// the outcome is OK.
func Draw(ids []int64, rng Rand, maxInvalidPicks int) ([]Pair, Outcome) {
	if maxInvalidPicks <= 0 {
		maxInvalidPicks = DefaultInvalidPicks
	}
	pool := make([]int64, len(ids))
	copy(pool, ids)

	pairs := make([]Pair, 0, len(ids))
	for _, giver := range ids {
		if len(pool) == 1 {
			if pool[0] == giver {
				var ok bool
				if pairs, ok = swapLast(pairs, giver, rng); !ok {
					return nil, StuckOnLastItem
				}
				pool = pool[:0]
				continue
			}
			pairs = append(pairs, Pair{Giver: giver, Receiver: pool[0]})
			pool = pool[:0]
			continue
		}

		invalid := 0
		idx := rng.IntN(len(pool))
		for pool[idx] == giver {
			invalid++
			if invalid >= maxInvalidPicks {
				return nil, TooManyInvalidPicks
			}
			idx = rng.IntN(len(pool))
		}
		pairs = append(pairs, Pair{Giver: giver, Receiver: pool[idx]})
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return pairs, OK
}

// swapLast hands last, the only giver left with themself, the receiver of a
// placed pair whose giver then takes last. The search starts at a random
// pair and wraps around.
func swapLast(pairs []Pair, last int64, rng Rand) ([]Pair, bool) {
	n := len(pairs)
	if n == 0 {
		return pairs, false
	}
	start := rng.IntN(n)
	for k := 0; k < n; k++ {
		i := (start + k) % n
		p := pairs[i]
		if p.Giver == last || p.Receiver == last {
			continue
		}
		pairs[i].Receiver = last
		return append(pairs, Pair{Giver: last, Receiver: p.Receiver}), true
	}
	return pairs, false
}

// Result describes a successful Match call.
type Result struct {
	Pairs          []Pair
	FailedAttempts int
	// Failures counts the transient outcomes hit before success.
	Failures map[Outcome]int
}

// Matcher retries Draw until it produces a valid assignment or runs out of
// attempts. It is safe for concurrent use; a nil Rand uses the global
// math/rand/v2 source.
type Matcher struct {
	Attempts     int
	InvalidPicks int
	Rand         Rand

	mu sync.Mutex
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// NewMatcher returns a Matcher seeded from crypto/rand.
func NewMatcher(attempts, invalidPicks int) (*Matcher, error) {
	var seed [16]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("draft: read random seed: %w", err)
	}
	src := rand.NewPCG(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:]))
	return &Matcher{
		Attempts:     attempts,
		InvalidPicks: invalidPicks,
		Rand:         rand.New(src),
	}, nil
}

// Match assigns a receiver to every id. On failure nothing is returned but
// the error, which wraps ErrMatchingFailed and reports the per-outcome counts.
func (m *Matcher) Match(ids []int64) (*Result, error) {
	if len(ids) < 2 {
		return nil, ErrInsufficientParticipants
	}
	attempts := m.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var rng Rand = globalRand{}
	if m.Rand != nil {
		rng = m.Rand
	}

	failures := make(map[Outcome]int)
	for i := 0; i < attempts; i++ {
		pairs, outcome := Draw(ids, rng, m.InvalidPicks)
		if outcome == OK {
			if !Valid(ids, pairs) {
				return nil, fmt.Errorf("%w: draw produced an invalid assignment for %d ids", ErrMatchingFailed, len(ids))
			}
			return &Result{
				Pairs:          pairs,
				FailedAttempts: i,
				Failures:       failures,
			}, nil
		}
		failures[outcome]++
	}
	return nil, fmt.Errorf("%w after %d attempts (%d invalid picks, %d stuck on last item)",
		ErrMatchingFailed, attempts, failures[TooManyInvalidPicks], failures[StuckOnLastItem])
}

// Valid reports whether pairs is a derangement of ids: every id gives and
// receives exactly once and nobody is paired with themself.
func Valid(ids []int64, pairs []Pair) bool {
	if len(pairs) != len(ids) {
		return false
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	givers := make(map[int64]bool, len(pairs))
	receivers := make(map[int64]bool, len(pairs))
	for _, p := range pairs {
		if p.Giver == p.Receiver || !want[p.Giver] || !want[p.Receiver] {
			return false
		}
		if givers[p.Giver] || receivers[p.Receiver] {
			return false
		}
		givers[p.Giver] = true
		receivers[p.Receiver] = true
	}
	return true
}
