package segment

import (
	"strings"
	"testing"
)

func TestTwoSentencesInOneFeed(t *testing.T) {
	s := New(0)
	units := s.Feed("Hello world. How are you? ")
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d: %v", len(units), units)
	}
	if units[0].Text != "Hello world." {
		t.Fatalf("expected first unit %q, got %q", "Hello world.", units[0].Text)
	}
	if units[1].Text != "How are you?" {
		t.Fatalf("expected second unit %q, got %q", "How are you?", units[1].Text)
	}
	if units[0].Sequence != 0 || units[1].Sequence != 1 {
		t.Fatalf("expected sequences 0,1 got %d,%d", units[0].Sequence, units[1].Sequence)
	}
	if units[0].Final || units[1].Final {
		t.Fatal("feed must never emit final units")
	}
}

func TestSentenceAcrossFragments(t *testing.T) {
	s := New(0)
	if units := s.Feed("The oracle "); len(units) != 0 {
		t.Fatalf("expected no units mid-sentence, got %v", units)
	}
	units := s.Feed("speaks slowly.")
	if len(units) != 1 || units[0].Text != "The oracle speaks slowly." {
		t.Fatalf("unexpected units: %v", units)
	}
}

func TestEmptyFragmentIsNoOp(t *testing.T) {
	s := New(0)
	if units := s.Feed(""); units != nil {
		t.Fatalf("expected nil for empty fragment, got %v", units)
	}
}

func TestSoftPauseRequiresThreshold(t *testing.T) {
	s := New(80)
	if units := s.Feed("short clause,"); len(units) != 0 {
		t.Fatalf("comma below threshold must not emit, got %v", units)
	}
	long := strings.Repeat("a", 85) + ","
	s2 := New(80)
	units := s2.Feed(long)
	if len(units) != 1 {
		t.Fatalf("expected soft-pause emission past threshold, got %v", units)
	}
	if units[0].Text != long {
		t.Fatalf("expected full clause, got %q", units[0].Text)
	}
}

func TestFlushEmitsFinalUnit(t *testing.T) {
	s := New(0)
	s.Feed("First sentence. trailing words")
	unit, ok := s.Flush()
	if !ok {
		t.Fatal("expected a final unit")
	}
	if unit.Text != "trailing words" {
		t.Fatalf("unexpected final text %q", unit.Text)
	}
	if !unit.Final {
		t.Fatal("flush unit must be final")
	}
	if unit.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", unit.Sequence)
	}
}

func TestFlushEmptyBufferIsNoOp(t *testing.T) {
	s := New(0)
	if _, ok := s.Flush(); ok {
		t.Fatal("flush of empty buffer must emit nothing")
	}
	s.Feed("Complete sentence. ")
	if _, ok := s.Flush(); ok {
		t.Fatal("flush of whitespace-only buffer must emit nothing")
	}
}

func TestSequenceStrictlyIncreasingNoGaps(t *testing.T) {
	s := New(0)
	var all []Unit
	for _, frag := range []string{"One. ", "Two! ", "Thr", "ee? ", "tail"} {
		all = append(all, s.Feed(frag)...)
	}
	if unit, ok := s.Flush(); ok {
		all = append(all, unit)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 units, got %d: %v", len(all), all)
	}
	for i, unit := range all {
		if unit.Sequence != i {
			t.Fatalf("expected sequence %d, got %d", i, unit.Sequence)
		}
	}
}

// Segmentation must not lose any spoken content: joining emitted units
// reproduces the input up to the whitespace trimmed at boundaries.
func TestSegmentationIsLossless(t *testing.T) {
	fragments := []string{
		"The spiral turns. Each phase", " holds a mirror: fire, water, ",
		"earth, air! What remains", " unseen?", " The rest is silence",
	}
	s := New(20)
	var all []Unit
	for _, frag := range fragments {
		all = append(all, s.Feed(frag)...)
	}
	if unit, ok := s.Flush(); ok {
		all = append(all, unit)
	}

	var joined, input strings.Builder
	for _, unit := range all {
		joined.WriteString(unit.Text)
	}
	for _, frag := range fragments {
		input.WriteString(frag)
	}
	stripped := func(v string) string {
		return strings.Join(strings.Fields(v), "")
	}
	if stripped(joined.String()) != stripped(input.String()) {
		t.Fatalf("segmentation lost content:\n in: %q\nout: %q", input.String(), joined.String())
	}
}

func TestDecimalSplitsEarlyByDesign(t *testing.T) {
	s := New(0)
	units := s.Feed("Version 3.5 ships")
	if len(units) != 1 || units[0].Text != "Version 3." {
		t.Fatalf("expected heuristic split after decimal point, got %v", units)
	}
}
