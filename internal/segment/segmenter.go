// Package segment cuts an unbounded stream of response fragments into
// speakable units sized for low-latency synthesis.
package segment

import "strings"

// Unit is one speakable chunk of the response. Sequence is the correlation
// key between the text stream and synthesized audio; it is strictly
// increasing within a turn and never reused.
type Unit struct {
	Sequence int
	Text     string
	Final    bool
}

// Segmenter accumulates fragments and emits a unit whenever the buffer ends
// in terminal punctuation, or exceeds the length threshold and ends in a
// soft-pause character. Purely synchronous; no I/O.
//
// The boundary heuristic intentionally splits on any terminal punctuation,
// so abbreviations and decimals ("3.5") segment early. That is a voice-feel
// tradeoff carried over from the product, not something to correct here.
type Segmenter struct {
	buf       strings.Builder
	threshold int
	seq       int
}

const DefaultThreshold = 80

func New(threshold int) *Segmenter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Segmenter{threshold: threshold}
}

// Feed appends a fragment and returns every unit completed by it, in order.
// A fragment holding multiple sentences yields multiple units. Empty
// fragments are no-ops.
func (s *Segmenter) Feed(fragment string) []Unit {
	if fragment == "" {
		return nil
	}

	var units []Unit
	for _, r := range fragment {
		s.buf.WriteRune(r)
		if isTerminal(r) || (isSoftPause(r) && s.buf.Len() > s.threshold) {
			if unit, ok := s.cut(false); ok {
				units = append(units, unit)
			}
		}
	}
	return units
}

// Flush emits whatever remains in the buffer as a final unit. Returns false
// when the buffer holds nothing speakable.
func (s *Segmenter) Flush() (Unit, bool) {
	return s.cut(true)
}

func (s *Segmenter) cut(final bool) (Unit, bool) {
	text := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if text == "" {
		return Unit{}, false
	}
	unit := Unit{Sequence: s.seq, Text: text, Final: final}
	s.seq++
	return unit, true
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isSoftPause(r rune) bool {
	return r == ',' || r == ';' || r == ':'
}
