package anonymizer

import (
	"sort"
	"unicode/utf8"

	"github.com/raaihank/pii-anonymizer/internal/detect"
)

// validSpan reports whether s addresses whole characters of text.
func validSpan(text string, s detect.Span) bool {
	if s.Start < 0 || s.End > len(text) || s.Start >= s.End {
		return false
	}
	if !utf8.RuneStart(text[s.Start]) {
		return false
	}
	return s.End == len(text) || utf8.RuneStart(text[s.End])
}

// resolveOverlaps keeps a maximal set of non-overlapping spans, preferring
// the higher score, then the longer span, then the earlier start. The result
// is ordered by start.
func resolveOverlaps(spans []detect.Span) []detect.Span {
	ranked := append([]detect.Span(nil), spans...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if la, lb := a.End-a.Start, b.End-b.Start; la != lb {
			return la > lb
		}
		return a.Start < b.Start
	})

	kept := make([]detect.Span, 0, len(ranked))
	for _, s := range ranked {
		overlaps := false
		for _, k := range kept {
			if s.Start < k.End && k.Start < s.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, s)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// runeOffsets converts ascending byte offsets to character offsets in one
// pass over text.
type runeOffsets struct {
	text  string
	pos   int
	runes int
}

func (r *runeOffsets) at(byteOffset int) int {
	for r.pos < byteOffset {
		_, size := utf8.DecodeRuneInString(r.text[r.pos:])
		r.pos += size
		r.runes++
	}
	return r.runes
}
