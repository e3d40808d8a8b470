// Package anonymizer orchestrates detection, strategy resolution and the
// consistent mapping store into single-text and batch anonymization.
package anonymizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/raaihank/pii-anonymizer/internal/detect"
	"github.com/raaihank/pii-anonymizer/internal/errs"
	"github.com/raaihank/pii-anonymizer/internal/fingerprint"
	"github.com/raaihank/pii-anonymizer/internal/settings"
	"github.com/raaihank/pii-anonymizer/internal/store"
	"github.com/raaihank/pii-anonymizer/internal/strategy"
	"github.com/raaihank/pii-anonymizer/internal/synth"
	"go.uber.org/zap"
)

const (
	DefaultMaxTextLength    = 1_000_000
	DefaultMaxBatchSize     = 1000
	DefaultDetectionTimeout = 30 * time.Second
	DefaultBatchConcurrency = 4
)

// Config bounds requests and detection.
type Config struct {
	MaxTextLength    int           `yaml:"max_text_length" mapstructure:"max_text_length"`
	MaxBatchSize     int           `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	DetectionTimeout time.Duration `yaml:"detection_timeout" mapstructure:"detection_timeout"`
	BatchConcurrency int           `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
}

func (c Config) withDefaults() Config {
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = DefaultMaxTextLength
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.DetectionTimeout <= 0 {
		c.DetectionTimeout = DefaultDetectionTimeout
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = DefaultBatchConcurrency
	}
	return c
}

// MappingStore resolves replace-strategy spans.
type MappingStore interface {
	FindOrCreate(ctx context.Context, key fingerprint.Key, entityType string, synthesize store.SynthesizeFunc) (store.Resolution, error)
}

// AuditRecorder appends operation records.
type AuditRecorder interface {
	Log(ctx context.Context, rec store.OperationRecord) error
}

// SettingsSource provides the active configuration snapshot.
type SettingsSource interface {
	Current() *settings.Settings
}

// Listener is told about every completed call. Summaries carry counts only.
type Listener interface {
	AnonymizationCompleted(s Summary)
}

// Deps are the collaborators of an Anonymizer. Audit may be nil.
type Deps struct {
	Detector     detect.Detector
	Mappings     MappingStore
	Synthesizer  *synth.Synthesizer
	Fingerprints *fingerprint.Fingerprinter
	Settings     SettingsSource
	Audit        AuditRecorder
}

// Options override the configured entity types and threshold for one call.
// Requested types narrow the enabled set; they never enable a disabled type.
type Options struct {
	EntityTypes         []string `json:"entity_types,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
}

// Substitution describes one rewritten span. Start and End are character
// offsets into the original text.
type Substitution struct {
	Start          int               `json:"start"`
	End            int               `json:"end"`
	EntityType     string            `json:"entity_type"`
	OriginalLength int               `json:"original_length"`
	Substitute     string            `json:"substitute"`
	Strategy       strategy.Strategy `json:"strategy"`
	Score          float64           `json:"score"`
}

// Failure flags a span left unanonymized.
type Failure struct {
	Start      int       `json:"start"`
	End        int       `json:"end"`
	EntityType string    `json:"entity_type"`
	Error      errs.Kind `json:"error"`
	Message    string    `json:"message"`
}

// Metadata holds the per-call counters.
type Metadata struct {
	EntitiesDetected     int   `json:"entities_detected"`
	EntitiesAnonymized   int   `json:"entities_anonymized"`
	NewMappingsCreated   int   `json:"new_mappings_created"`
	ExistingMappingsUsed int   `json:"existing_mappings_used"`
	SynthesisFailures    int   `json:"synthesis_failures"`
	ProcessingTimeMs     int64 `json:"processing_time_ms"`
}

// Result is the outcome of anonymizing one text.
type Result struct {
	AnonymizedText string         `json:"anonymized_text"`
	Substitutions  []Substitution `json:"substitutions"`
	Failures       []Failure      `json:"failures,omitempty"`
	Metadata       Metadata       `json:"metadata"`
}

// Summary is what listeners see of a call.
type Summary struct {
	Operation   string         `json:"operation"`
	Texts       int            `json:"texts"`
	InputLength int64          `json:"input_length"`
	EntityTypes map[string]int `json:"entity_types"`
	Metadata    Metadata       `json:"metadata"`
}

// Anonymizer runs Detect, Filter, Resolve, Rewrite and Summarize for each
// text. It is safe for concurrent use.
type Anonymizer struct {
	deps      Deps
	cfg       Config
	logger    *zap.Logger
	listeners []Listener
}

// New creates an Anonymizer.
func New(deps Deps, cfg Config, logger *zap.Logger) *Anonymizer {
	return &Anonymizer{deps: deps, cfg: cfg.withDefaults(), logger: logger}
}

// Subscribe registers l. Not safe to call concurrently with anonymization.
func (a *Anonymizer) Subscribe(l Listener) {
	a.listeners = append(a.listeners, l)
}

// Limits returns the effective request limits.
func (a *Anonymizer) Limits() Config {
	return a.cfg
}

// plan is the per-call view of the configuration, fixed before detection.
type plan struct {
	settings  *settings.Settings
	types     []string
	allowed   map[string]bool
	threshold float64
}

func (a *Anonymizer) plan(opts Options) (*plan, error) {
	const op = "anonymize.plan"

	snap := a.deps.Settings.Current()
	pl := &plan{settings: snap, threshold: snap.ConfidenceThreshold, allowed: map[string]bool{}}

	if opts.ConfidenceThreshold != nil {
		t := *opts.ConfidenceThreshold
		if t < 0 || t > 1 {
			return nil, errs.Validation(op, "confidence_threshold must be between 0 and 1")
		}
		pl.threshold = t
	}

	candidates := opts.EntityTypes
	if len(candidates) == 0 {
		for _, info := range a.deps.Detector.SupportedEntityTypes() {
			candidates = append(candidates, info.Name)
		}
	} else {
		for _, t := range candidates {
			if !detect.Supports(a.deps.Detector, t) {
				return nil, errs.Validation(op, "unsupported entity type %s", t)
			}
		}
	}

	for _, t := range candidates {
		if pl.allowed[t] || !snap.For(t).Enabled {
			continue
		}
		pl.allowed[t] = true
		pl.types = append(pl.types, t)
	}
	sort.Strings(pl.types)
	return pl, nil
}

func (a *Anonymizer) checkText(op, text string) error {
	if text == "" {
		return errs.Validation(op, "text must not be empty")
	}
	if !utf8.ValidString(text) {
		return errs.Validation(op, "text must be valid UTF-8")
	}
	if n := utf8.RuneCountInString(text); n > a.cfg.MaxTextLength {
		return errs.Validation(op, "text length %d exceeds the maximum of %d characters", n, a.cfg.MaxTextLength)
	}
	return nil
}

// Anonymize rewrites the PII in text. Validation happens before detection.
// A span whose substitute could not be synthesized is left as is and
// reported in Result.Failures; any other failure fails the whole call.
func (a *Anonymizer) Anonymize(ctx context.Context, text string, opts Options) (*Result, error) {
	const op = "anonymize"

	if err := a.checkText(op, text); err != nil {
		return nil, err
	}
	pl, err := a.plan(opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, counts, err := a.run(ctx, text, pl)
	if err != nil {
		a.logger.Warn("Anonymization failed",
			zap.String("error_kind", string(errs.KindOf(err))),
			zap.Int("input_length", len(text)),
			zap.Error(err))
		return nil, err
	}

	a.finish(ctx, store.OperationAnonymize, pl, 1, int64(utf8.RuneCountInString(text)), counts, res.Metadata, time.Since(start))
	return res, nil
}

// run executes one text against a fixed plan.
func (a *Anonymizer) run(ctx context.Context, text string, pl *plan) (*Result, map[string]int, error) {
	const op = "anonymize.run"
	start := time.Now()

	res := &Result{Substitutions: []Substitution{}}
	counts := map[string]int{}

	if len(pl.types) == 0 {
		res.AnonymizedText = text
		res.Metadata.ProcessingTimeMs = time.Since(start).Milliseconds()
		return res, counts, nil
	}

	spans, err := a.detect(ctx, text, pl)
	if err != nil {
		return nil, nil, err
	}
	res.Metadata.EntitiesDetected = len(spans)

	var (
		out     strings.Builder
		cursor  int
		offsets = &runeOffsets{text: text}
	)
	out.Grow(len(text))

	for _, span := range resolveOverlaps(spans) {
		original := text[span.Start:span.End]
		ec := pl.settings.For(span.EntityType)
		runeStart := offsets.at(span.Start)
		runeEnd := offsets.at(span.End)

		substitute, created, err := a.resolve(ctx, ec, original, pl.settings.Locale)
		if errs.Is(err, errs.KindSynthesisExhausted) {
			res.Metadata.SynthesisFailures++
			res.Failures = append(res.Failures, Failure{
				Start:      runeStart,
				End:        runeEnd,
				EntityType: span.EntityType,
				Error:      errs.KindSynthesisExhausted,
				Message:    errs.Message(err),
			})
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		out.WriteString(text[cursor:span.Start])
		out.WriteString(substitute)
		cursor = span.End

		if ec.Strategy == strategy.Replace {
			if created {
				res.Metadata.NewMappingsCreated++
			} else {
				res.Metadata.ExistingMappingsUsed++
			}
		}
		res.Metadata.EntitiesAnonymized++
		counts[span.EntityType]++
		res.Substitutions = append(res.Substitutions, Substitution{
			Start:          runeStart,
			End:            runeEnd,
			EntityType:     span.EntityType,
			OriginalLength: runeEnd - runeStart,
			Substitute:     substitute,
			Strategy:       ec.Strategy,
			Score:          span.Score,
		})
	}
	out.WriteString(text[cursor:])

	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	res.AnonymizedText = out.String()
	res.Metadata.ProcessingTimeMs = time.Since(start).Milliseconds()
	return res, counts, nil
}

// detect runs the Detection Engine under the configured timeout and drops
// spans that are malformed, disabled or under the threshold.
func (a *Anonymizer) detect(ctx context.Context, text string, pl *plan) ([]detect.Span, error) {
	const op = "anonymize.detect"

	dctx, cancel := context.WithTimeout(ctx, a.cfg.DetectionTimeout)
	defer cancel()

	seq := a.deps.Detector.Detect(dctx, detect.Request{
		Text:           text,
		EntityTypes:    pl.types,
		Language:       pl.settings.Language,
		ScoreThreshold: pl.threshold,
	})

	var (
		spans   []detect.Span
		dropped int
	)
	for span, err := range seq {
		if err != nil {
			msg := "detection engine failed"
			if errors.Is(err, context.DeadlineExceeded) {
				msg = "detection engine timed out"
			} else if errors.Is(err, context.Canceled) {
				msg = "detection cancelled"
			}
			return nil, errs.Wrap(errs.KindDetectionUnavailable, op, err, "%s", msg)
		}
		if !validSpan(text, span) || !pl.allowed[span.EntityType] || span.Score < pl.threshold {
			dropped++
			continue
		}
		spans = append(spans, span)
	}

	if dropped > 0 {
		a.logger.Warn("Dropped invalid detection spans", zap.Int("dropped", dropped))
	}
	detect.SortSpans(spans)
	return spans, nil
}

// resolve applies the entity type's strategy to one original value.
func (a *Anonymizer) resolve(ctx context.Context, ec settings.EntityConfig, original, locale string) (string, bool, error) {
	if ec.Strategy.Stateless() {
		out, err := strategy.Apply(ec.Strategy, original, ec.EntityType, ec.Params)
		if err != nil {
			return "", false, errs.Wrap(errs.KindInternal, "anonymize.resolve", err, "strategy failed")
		}
		return out, false, nil
	}

	key := a.deps.Fingerprints.Of(original, ec.EntityType)
	res, err := a.deps.Mappings.FindOrCreate(ctx, key, ec.EntityType,
		func(ctx context.Context, salt string, attempt int) (string, error) {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			return a.deps.Synthesizer.Synthesize(synth.Request{
				EntityType: ec.EntityType,
				Locale:     locale,
				Seed:       key.Seed(salt, attempt),
				Attempt:    attempt,
				Original:   original,
			}), nil
		})
	if err != nil {
		return "", false, err
	}
	return res.Substitute, res.Created, nil
}

// finish writes the audit record and notifies listeners. Audit failures are
// logged; the anonymization result stands.
func (a *Anonymizer) finish(ctx context.Context, operation string, pl *plan, texts int, inputLength int64, counts map[string]int, md Metadata, elapsed time.Duration) {
	if a.deps.Audit != nil {
		rec := store.OperationRecord{
			Timestamp:          time.Now().UTC(),
			Operation:          operation,
			EntityTypes:        pl.types,
			InputLength:        inputLength,
			EntitiesDetected:   md.EntitiesDetected,
			EntitiesAnonymized: md.EntitiesAnonymized,
			SynthesisFailures:  md.SynthesisFailures,
			DurationMs:         elapsed.Milliseconds(),
		}
		if err := a.deps.Audit.Log(context.WithoutCancel(ctx), rec); err != nil {
			a.logger.Error("Failed to write audit record", zap.String("operation", operation), zap.Error(err))
		}
	}

	a.logger.Info("Anonymization completed",
		zap.String("operation", operation),
		zap.Int("texts", texts),
		zap.Int("entities_detected", md.EntitiesDetected),
		zap.Int("entities_anonymized", md.EntitiesAnonymized),
		zap.Int("new_mappings", md.NewMappingsCreated),
		zap.Int("synthesis_failures", md.SynthesisFailures),
		zap.Duration("duration", elapsed))

	summary := Summary{
		Operation:   operation,
		Texts:       texts,
		InputLength: inputLength,
		EntityTypes: counts,
		Metadata:    md,
	}
	for _, l := range a.listeners {
		l.AnonymizationCompleted(summary)
	}
}
