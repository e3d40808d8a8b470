// Package detect defines the Detection Engine contract consumed by the
// anonymizer and ships an in-process, pattern based implementation.
package detect

import (
	"context"
	"iter"
	"sort"
)

// Span is a detected region of text. Start and End are byte offsets into
// the request text, End exclusive.
type Span struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	EntityType string  `json:"entity_type"`
	Score      float64 `json:"score"`
}

// Request describes one detection call. An empty EntityTypes selects every
// supported type.
type Request struct {
	Text           string
	EntityTypes    []string
	Language       string
	ScoreThreshold float64
}

// EntityTypeInfo names a supported entity type.
type EntityTypeInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Detector finds PII spans in text.
//
// Detect returns a finite, single-use sequence. Iteration stops at the first
// non-nil error, which is yielded with a zero Span. Implementations must
// observe ctx and yield its error when it is done.
type Detector interface {
	Detect(ctx context.Context, req Request) iter.Seq2[Span, error]
	SupportedEntityTypes() []EntityTypeInfo
}

// Collect drains seq into a slice ordered by start offset.
func Collect(seq iter.Seq2[Span, error]) ([]Span, error) {
	var spans []Span
	for span, err := range seq {
		if err != nil {
			return nil, err
		}
		spans = append(spans, span)
	}
	SortSpans(spans)
	return spans, nil
}

// SortSpans orders spans by start, then longer first, then entity type.
func SortSpans(spans []Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		a, b := spans[i], spans[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End > b.End
		}
		return a.EntityType < b.EntityType
	})
}

// Supports reports whether d lists entityType.
func Supports(d Detector, entityType string) bool {
	for _, info := range d.SupportedEntityTypes() {
		if info.Name == entityType {
			return true
		}
	}
	return false
}
