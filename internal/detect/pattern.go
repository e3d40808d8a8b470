package detect

import (
	"context"
	"iter"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

const (
	// contextBoost is added to the score of a match with a context word nearby.
	contextBoost = 0.35
	// minContextScore is the floor for a boosted score.
	minContextScore = 0.4
	// words inspected on each side of a match for context
	contextWordsBefore = 6
	contextWordsAfter  = 3
	contextWindowBytes = 96
)

// PatternDetector is the in-process Detection Engine. It runs one regular
// expression recognizer per entity type and is safe for concurrent use.
type PatternDetector struct {
	recognizers []recognizer
	byType      map[string]*recognizer
	logger      *zap.Logger
}

// NewPatternDetector builds a detector with the built-in recognizers.
func NewPatternDetector(logger *zap.Logger) *PatternDetector {
	d := &PatternDetector{
		recognizers: defaultRecognizers(),
		logger:      logger,
	}
	d.byType = make(map[string]*recognizer, len(d.recognizers))
	patterns := 0
	for i := range d.recognizers {
		d.byType[d.recognizers[i].entityType] = &d.recognizers[i]
		patterns += len(d.recognizers[i].patterns)
	}

	logger.Info("Pattern detector initialized",
		zap.Int("entity_types", len(d.recognizers)),
		zap.Int("patterns", patterns))

	return d
}

// SupportedEntityTypes lists the recognizers in registration order.
func (d *PatternDetector) SupportedEntityTypes() []EntityTypeInfo {
	out := make([]EntityTypeInfo, len(d.recognizers))
	for i, r := range d.recognizers {
		out[i] = EntityTypeInfo{Name: r.entityType, Description: r.description}
	}
	return out
}

// Detect yields spans per recognizer. Within one entity type a region matched
// by several patterns is reported once, with its best score. The language is
// not used; the recognizers are language neutral.
func (d *PatternDetector) Detect(ctx context.Context, req Request) iter.Seq2[Span, error] {
	return func(yield func(Span, error) bool) {
		for _, r := range d.selected(req.EntityTypes) {
			if err := ctx.Err(); err != nil {
				yield(Span{}, err)
				return
			}
			for _, span := range r.scan(req.Text, req.ScoreThreshold) {
				if !yield(span, nil) {
					return
				}
			}
		}
	}
}

func (d *PatternDetector) selected(types []string) []*recognizer {
	if len(types) == 0 {
		out := make([]*recognizer, len(d.recognizers))
		for i := range d.recognizers {
			out[i] = &d.recognizers[i]
		}
		return out
	}
	out := make([]*recognizer, 0, len(types))
	seen := make(map[string]bool, len(types))
	for _, t := range types {
		if r, ok := d.byType[t]; ok && !seen[t] {
			seen[t] = true
			out = append(out, r)
		}
	}
	return out
}

func (r *recognizer) scan(text string, threshold float64) []Span {
	type region struct{ start, end int }
	best := make(map[region]float64)
	var order []region

	for _, pat := range r.patterns {
		for _, m := range pat.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[0], m[1]
			if pat.group > 0 {
				start, end = m[2*pat.group], m[2*pat.group+1]
			}
			if start < 0 || end <= start {
				continue
			}

			match := text[start:end]
			score := pat.score
			if r.validate != nil {
				if !r.validate(match) {
					continue
				}
				if r.validatedScore > 0 {
					score = r.validatedScore
				}
			}
			if score < 1 && hasContext(text, start, end, r.context) {
				score = max(minContextScore, min(1, score+contextBoost))
			}
			if score < threshold {
				continue
			}

			key := region{start, end}
			prev, seen := best[key]
			if !seen {
				order = append(order, key)
			}
			if !seen || score > prev {
				best[key] = score
			}
		}
	}

	spans := make([]Span, 0, len(order))
	for _, k := range order {
		spans = append(spans, Span{Start: k.start, End: k.end, EntityType: r.entityType, Score: best[k]})
	}
	return spans
}

// hasContext reports whether any context word appears among the words
// around text[start:end]. Multi-word context entries match as substrings of
// the surrounding window.
func hasContext(text string, start, end int, words []string) bool {
	if len(words) == 0 {
		return false
	}

	before := strings.ToLower(text[max(0, start-contextWindowBytes):start])
	after := strings.ToLower(text[end:min(len(text), end+contextWindowBytes)])

	split := func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '#' && r != '-' }
	prev := strings.FieldsFunc(before, split)
	if len(prev) > contextWordsBefore {
		prev = prev[len(prev)-contextWordsBefore:]
	}
	next := strings.FieldsFunc(after, split)
	if len(next) > contextWordsAfter {
		next = next[:contextWordsAfter]
	}

	nearby := make(map[string]struct{}, len(prev)+len(next))
	for _, w := range prev {
		nearby[w] = struct{}{}
	}
	for _, w := range next {
		nearby[w] = struct{}{}
	}

	for _, w := range words {
		if strings.Contains(w, " ") {
			if strings.Contains(before, w) || strings.Contains(after, w) {
				return true
			}
			continue
		}
		if _, ok := nearby[w]; ok {
			return true
		}
	}
	return false
}
