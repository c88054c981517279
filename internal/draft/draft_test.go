package draft

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
)

// scriptedRand replays a fixed sequence of picks, wrapping around when
// exhausted. Values are reduced modulo n so they are always in range.
type scriptedRand struct {
	vals  []int
	calls int
}

func (r *scriptedRand) IntN(n int) int {
	v := r.vals[r.calls%len(r.vals)]
	r.calls++
	return v % n
}

func TestDraw_Cycle(t *testing.T) {
	ids := []int64{1, 2, 3}
	pairs, outcome := Draw(ids, &scriptedRand{vals: []int{1, 1}}, DefaultInvalidPicks)
	if outcome != OK {
		t.Fatalf("outcome = %v, want ok", outcome)
	}
	want := []Pair{{1, 2}, {2, 3}, {3, 1}}
	if len(pairs) != len(want) {
		t.Fatalf("got %d pairs, want %d", len(pairs), len(want))
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Errorf("pairs[%d] = %+v, want %+v", i, pairs[i], want[i])
		}
	}
}

func TestDraw_DoesNotMutateInput(t *testing.T) {
	ids := []int64{10, 20, 30, 40}
	Draw(ids, &scriptedRand{vals: []int{3, 0, 1}}, DefaultInvalidPicks)
	want := []int64{10, 20, 30, 40}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids mutated: %v", ids)
		}
	}
}

func TestDraw_TooManyInvalidPicks(t *testing.T) {
	// Index 0 is always the first giver itself.
	_, outcome := Draw([]int64{1, 2, 3}, &scriptedRand{vals: []int{0}}, 5)
	if outcome != TooManyInvalidPicks {
		t.Errorf("outcome = %v, want %v", outcome, TooManyInvalidPicks)
	}
}

func TestDraw_RepicksAfterSelf(t *testing.T) {
	// Giver 1 draws itself once, then 2; giver 2 draws 3; giver 3 gets 1.
	pairs, outcome := Draw([]int64{1, 2, 3}, &scriptedRand{vals: []int{0, 1, 1}}, 5)
	if outcome != OK {
		t.Fatalf("outcome = %v, want ok", outcome)
	}
	if pairs[0] != (Pair{1, 2}) {
		t.Errorf("pairs[0] = %+v, want {1 2}", pairs[0])
	}
}

func TestDraw_SwapsStuckLastGiver(t *testing.T) {
	// 1 -> 2, 2 -> 1 leaves 3 with only itself; 3 trades with the 2 -> 1 pair.
	pairs, outcome := Draw([]int64{1, 2, 3}, &scriptedRand{vals: []int{1, 0}}, 5)
	if outcome != OK {
		t.Fatalf("outcome = %v, want ok", outcome)
	}
	want := []Pair{{1, 2}, {2, 3}, {3, 1}}
	if len(pairs) != len(want) {
		t.Fatalf("pairs = %+v, want %+v", pairs, want)
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Errorf("pairs[%d] = %+v, want %+v", i, pairs[i], want[i])
		}
	}
}

func TestDraw_SwapPicksRandomPair(t *testing.T) {
	// 1 -> 2, 2 -> 3, 3 -> 1 leaves 4 with itself; the swap starts at index 2
	// and takes the 3 -> 1 pair.
	pairs, outcome := Draw([]int64{1, 2, 3, 4}, &scriptedRand{vals: []int{1, 1, 0, 2}}, 5)
	if outcome != OK {
		t.Fatalf("outcome = %v, want ok", outcome)
	}
	if !Valid([]int64{1, 2, 3, 4}, pairs) {
		t.Fatalf("not a derangement: %+v", pairs)
	}
	if pairs[2] != (Pair{3, 4}) || pairs[3] != (Pair{4, 1}) {
		t.Errorf("pairs = %+v, want 3 -> 4 and 4 -> 1", pairs)
	}
}

func TestDraw_StuckOnLastItem(t *testing.T) {
	// Duplicate ids: 1 -> 2, 2 -> 1 leaves the second 2 with itself, and
	// every placed pair involves 2.
	_, outcome := Draw([]int64{1, 2, 2}, &scriptedRand{vals: []int{1, 0}}, 5)
	if outcome != StuckOnLastItem {
		t.Errorf("outcome = %v, want %v", outcome, StuckOnLastItem)
	}
}

func TestMatch_InsufficientParticipants(t *testing.T) {
	m := &Matcher{Rand: &scriptedRand{vals: []int{0}}}
	for _, ids := range [][]int64{nil, {}, {7}} {
		res, err := m.Match(ids)
		if !errors.Is(err, ErrInsufficientParticipants) {
			t.Errorf("Match(%v) err = %v, want ErrInsufficientParticipants", ids, err)
		}
		if res != nil {
			t.Errorf("Match(%v) returned a result", ids)
		}
	}
}

func TestMatch_ExhaustsAttempts(t *testing.T) {
	m := &Matcher{Attempts: 4, InvalidPicks: 3, Rand: &scriptedRand{vals: []int{0}}}
	res, err := m.Match([]int64{1, 2, 3})
	if !errors.Is(err, ErrMatchingFailed) {
		t.Fatalf("err = %v, want ErrMatchingFailed", err)
	}
	if res != nil {
		t.Error("expected nil result on failure")
	}
	if !strings.Contains(err.Error(), "after 4 attempts") {
		t.Errorf("error = %q, want attempt count", err.Error())
	}
	if !strings.Contains(err.Error(), "4 invalid picks") {
		t.Errorf("error = %q, want invalid pick count", err.Error())
	}
}

func TestMatch_RetriesTransientFailures(t *testing.T) {
	// First draw has giver 1 pick itself twice, second draw is the
	// 1->2->3->1 cycle.
	m := &Matcher{Attempts: 3, InvalidPicks: 2, Rand: &scriptedRand{vals: []int{0, 0, 1, 1}}}
	res, err := m.Match([]int64{1, 2, 3})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.FailedAttempts != 1 {
		t.Errorf("FailedAttempts = %d, want 1", res.FailedAttempts)
	}
	if res.Failures[TooManyInvalidPicks] != 1 {
		t.Errorf("invalid pick failures = %d, want 1", res.Failures[TooManyInvalidPicks])
	}
	if !Valid([]int64{1, 2, 3}, res.Pairs) {
		t.Errorf("invalid pairs: %+v", res.Pairs)
	}
}

func TestMatch_RejectsInvalidAssignment(t *testing.T) {
	// With 1 listed twice the draw completes but 1 gives twice.
	m := &Matcher{Attempts: 3, Rand: &scriptedRand{vals: []int{2, 2, 0}}}
	res, err := m.Match([]int64{1, 1, 2, 3})
	if !errors.Is(err, ErrMatchingFailed) {
		t.Fatalf("err = %v, want ErrMatchingFailed", err)
	}
	if res != nil {
		t.Error("expected nil result")
	}
	if !strings.Contains(err.Error(), "invalid assignment") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestMatch_AlwaysDerangement(t *testing.T) {
	m := &Matcher{Attempts: 50, Rand: rand.New(rand.NewPCG(1, 2))}
	for n := 2; n <= 40; n++ {
		ids := make([]int64, n)
		for i := range ids {
			ids[i] = int64(1000 + i*7)
		}
		for round := 0; round < 20; round++ {
			res, err := m.Match(ids)
			if err != nil {
				t.Fatalf("n=%d round=%d: %v", n, round, err)
			}
			if !Valid(ids, res.Pairs) {
				t.Fatalf("n=%d round=%d: not a derangement: %+v", n, round, res.Pairs)
			}
		}
	}
}

func TestMatch_NilRandUsesGlobalSource(t *testing.T) {
	var m Matcher
	res, err := m.Match([]int64{1, 2})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !Valid([]int64{1, 2}, res.Pairs) {
		t.Errorf("invalid pairs: %+v", res.Pairs)
	}
}

func TestNewMatcher(t *testing.T) {
	m, err := NewMatcher(5, 4)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	if m.Attempts != 5 || m.InvalidPicks != 4 || m.Rand == nil {
		t.Errorf("unexpected matcher: %+v", m)
	}
}

func TestValid(t *testing.T) {
	ids := []int64{1, 2, 3}
	tests := []struct {
		name  string
		pairs []Pair
		want  bool
	}{
		{"cycle", []Pair{{1, 2}, {2, 3}, {3, 1}}, true},
		{"fixed point", []Pair{{1, 1}, {2, 3}, {3, 2}}, false},
		{"duplicate receiver", []Pair{{1, 2}, {2, 3}, {3, 2}}, false},
		{"short", []Pair{{1, 2}, {2, 1}}, false},
		{"unknown id", []Pair{{1, 2}, {2, 9}, {3, 1}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Valid(ids, tt.pairs); got != tt.want {
				t.Errorf("Valid = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOutcomeString(t *testing.T) {
	if OK.String() != "ok" || StuckOnLastItem.String() != "stuck on last item" {
		t.Error("unexpected outcome strings")
	}
	if Outcome(42).String() != "outcome(42)" {
		t.Errorf("got %q", Outcome(42).String())
	}
}
