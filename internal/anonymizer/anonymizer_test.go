package anonymizer

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/raaihank/pii-anonymizer/internal/detect"
	"github.com/raaihank/pii-anonymizer/internal/errs"
	"github.com/raaihank/pii-anonymizer/internal/fingerprint"
	"github.com/raaihank/pii-anonymizer/internal/settings"
	"github.com/raaihank/pii-anonymizer/internal/store"
	"github.com/raaihank/pii-anonymizer/internal/strategy"
	"github.com/raaihank/pii-anonymizer/internal/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedDetector returns spans computed by fn and counts calls.
type scriptedDetector struct {
	mu    sync.Mutex
	calls int
	fn    func(req detect.Request) ([]detect.Span, error)
}

func (d *scriptedDetector) Detect(_ context.Context, req detect.Request) iter.Seq2[detect.Span, error] {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return func(yield func(detect.Span, error) bool) {
		spans, err := d.fn(req)
		if err != nil {
			yield(detect.Span{}, err)
			return
		}
		for _, s := range spans {
			if !yield(s, nil) {
				return
			}
		}
	}
}

func (d *scriptedDetector) SupportedEntityTypes() []detect.EntityTypeInfo {
	return []detect.EntityTypeInfo{
		{Name: "PERSON"}, {Name: "LOCATION"}, {Name: "EMAIL_ADDRESS"}, {Name: "CREDIT_CARD"},
	}
}

// spanOf locates the n-th occurrence of value in text as a byte span.
func spanOf(text, value, entityType string, score float64) detect.Span {
	i := strings.Index(text, value)
	return detect.Span{Start: i, End: i + len(value), EntityType: entityType, Score: score}
}

type recordingListener struct {
	mu        sync.Mutex
	summaries []Summary
}

func (l *recordingListener) AnonymizationCompleted(s Summary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summaries = append(l.summaries, s)
}

type fixture struct {
	anon     *Anonymizer
	mappings *store.MappingStore
	audit    *store.AuditLog
	settings *settings.Service
	listener *recordingListener
}

func newFixture(t *testing.T, detector detect.Detector, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := store.OpenMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc, err := settings.NewService(ctx, store.NewSettingsRepository(db), nil, zap.NewNop())
	require.NoError(t, err)

	f := &fixture{
		mappings: store.NewMappingStore(db, 0, zap.NewNop()),
		audit:    store.NewAuditLog(db),
		settings: svc,
		listener: &recordingListener{},
	}
	f.anon = New(Deps{
		Detector:     detector,
		Mappings:     f.mappings,
		Synthesizer:  synth.New(),
		Fingerprints: fingerprint.New("test-secret"),
		Settings:     svc,
		Audit:        f.audit,
	}, cfg, zap.NewNop())
	f.anon.Subscribe(f.listener)
	return f
}

func TestAnonymizeRepeatedValue(t *testing.T) {
	f := newFixture(t, detect.NewPatternDetector(zap.NewNop()), Config{})
	ctx := context.Background()
	text := "Email john@x.com twice: john@x.com"

	res, err := f.anon.Anonymize(ctx, text, Options{EntityTypes: []string{"EMAIL_ADDRESS"}})
	require.NoError(t, err)

	require.Len(t, res.Substitutions, 2)
	assert.Equal(t, 1, res.Metadata.NewMappingsCreated)
	assert.Equal(t, 1, res.Metadata.ExistingMappingsUsed)
	assert.Equal(t, 2, res.Metadata.EntitiesDetected)
	assert.Equal(t, 2, res.Metadata.EntitiesAnonymized)
	assert.Equal(t, res.Substitutions[0].Substitute, res.Substitutions[1].Substitute)
	assert.NotContains(t, res.AnonymizedText, "john@x.com")
	assert.Equal(t, "Email "+res.Substitutions[0].Substitute+" twice: "+res.Substitutions[0].Substitute, res.AnonymizedText)

	runes := []rune(text)
	for _, s := range res.Substitutions {
		assert.Equal(t, "john@x.com", string(runes[s.Start:s.End]))
		assert.Equal(t, 10, s.OriginalLength)
		assert.Equal(t, strategy.Replace, s.Strategy)
	}

	// a later call reuses the mapping
	again, err := f.anon.Anonymize(ctx, "reply to john@x.com", Options{EntityTypes: []string{"EMAIL_ADDRESS"}})
	require.NoError(t, err)
	require.Len(t, again.Substitutions, 1)
	assert.Equal(t, res.Substitutions[0].Substitute, again.Substitutions[0].Substitute)
	assert.Equal(t, 0, again.Metadata.NewMappingsCreated)
}

func TestAnonymizeOffsetsAreCharacterBased(t *testing.T) {
	text := "Café ☕ → Jane and Bob"
	d := &scriptedDetector{fn: func(detect.Request) ([]detect.Span, error) {
		return []detect.Span{
			spanOf(text, "Jane", "PERSON", 0.9),
			spanOf(text, "Bob", "PERSON", 0.9),
		}, nil
	}}
	f := newFixture(t, d, Config{})

	res, err := f.anon.Anonymize(context.Background(), text, Options{})
	require.NoError(t, err)
	require.Len(t, res.Substitutions, 2)

	runes := []rune(text)
	assert.Equal(t, "Jane", string(runes[res.Substitutions[0].Start:res.Substitutions[0].End]))
	assert.Equal(t, "Bob", string(runes[res.Substitutions[1].Start:res.Substitutions[1].End]))
	assert.True(t, strings.HasPrefix(res.AnonymizedText, "Café ☕ → "))
	assert.NotEqual(t, res.Substitutions[0].Substitute, res.Substitutions[1].Substitute)
}

func TestAnonymizeOverlapPrefersScore(t *testing.T) {
	text := "Paris Hilton"
	d := &scriptedDetector{fn: func(detect.Request) ([]detect.Span, error) {
		return []detect.Span{
			{Start: 0, End: 5, EntityType: "PERSON", Score: 0.9},
			{Start: 0, End: 3, EntityType: "LOCATION", Score: 0.95},
		}, nil
	}}
	f := newFixture(t, d, Config{})

	res, err := f.anon.Anonymize(context.Background(), text, Options{})
	require.NoError(t, err)
	require.Len(t, res.Substitutions, 1)
	assert.Equal(t, "LOCATION", res.Substitutions[0].EntityType)
	assert.Equal(t, 2, res.Metadata.EntitiesDetected)
	assert.Equal(t, 1, res.Metadata.EntitiesAnonymized)
}

func TestResolveOverlaps(t *testing.T) {
	spans := []detect.Span{
		{Start: 10, End: 20, EntityType: "A", Score: 0.8},
		{Start: 12, End: 30, EntityType: "B", Score: 0.8},
		{Start: 0, End: 5, EntityType: "C", Score: 0.5},
		{Start: 25, End: 28, EntityType: "D", Score: 0.7},
	}
	kept := resolveOverlaps(spans)
	var types []string
	for _, s := range kept {
		types = append(types, s.EntityType)
	}
	// equal scores: the longer B beats A; D overlaps B
	assert.Equal(t, []string{"C", "B"}, types)
}

func TestAnonymizeDropsInvalidSpans(t *testing.T) {
	text := "héllo Jane"
	d := &scriptedDetector{fn: func(detect.Request) ([]detect.Span, error) {
		return []detect.Span{
			{Start: 2, End: 4, EntityType: "PERSON", Score: 0.9}, // splits é
			{Start: 6, End: 99, EntityType: "PERSON", Score: 0.9},
			{Start: 5, End: 5, EntityType: "PERSON", Score: 0.9},
			{Start: 7, End: 11, EntityType: "PERSON", Score: 0.1}, // below threshold
			spanOf(text, "Jane", "PERSON", 0.9),
		}, nil
	}}
	f := newFixture(t, d, Config{})

	res, err := f.anon.Anonymize(context.Background(), text, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Metadata.EntitiesDetected)
	require.Len(t, res.Substitutions, 1)
	assert.True(t, strings.HasPrefix(res.AnonymizedText, "héllo "))
}

func TestAnonymizeMaskDoesNotTouchStore(t *testing.T) {
	f := newFixture(t, detect.NewPatternDetector(zap.NewNop()), Config{})
	ctx := context.Background()

	mask := strategy.Mask
	_, err := f.settings.Apply(ctx, settings.Update{EntityTypes: []settings.EntityUpdate{
		{EntityType: "CREDIT_CARD", Strategy: &mask, Params: strategy.Params{"visible_tail": float64(4)}},
	}})
	require.NoError(t, err)

	res, err := f.anon.Anonymize(ctx, "card 4111111111111111", Options{EntityTypes: []string{"CREDIT_CARD"}})
	require.NoError(t, err)
	assert.Equal(t, "card ************1111", res.AnonymizedText)
	assert.Equal(t, 0, res.Metadata.NewMappingsCreated)
	assert.Equal(t, 0, res.Metadata.ExistingMappingsUsed)
	assert.Equal(t, 1, res.Metadata.EntitiesAnonymized)

	n, err := f.mappings.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAnonymizeRespectsDisabledTypes(t *testing.T) {
	text := "Jane lives in Paris"
	d := &scriptedDetector{fn: func(req detect.Request) ([]detect.Span, error) {
		assert.NotContains(t, req.EntityTypes, "PERSON")
		return []detect.Span{
			spanOf(text, "Jane", "PERSON", 0.9),
			spanOf(text, "Paris", "LOCATION", 0.9),
		}, nil
	}}
	f := newFixture(t, d, Config{})
	ctx := context.Background()

	_, err := f.settings.Apply(ctx, settings.Update{EntityTypes: []settings.EntityUpdate{
		{EntityType: "PERSON", Enabled: ptr(false)},
	}})
	require.NoError(t, err)

	res, err := f.anon.Anonymize(ctx, text, Options{})
	require.NoError(t, err)
	require.Len(t, res.Substitutions, 1)
	assert.Equal(t, "LOCATION", res.Substitutions[0].EntityType)
	assert.True(t, strings.HasPrefix(res.AnonymizedText, "Jane lives in "))

	// requesting only the disabled type detects nothing
	d.calls = 0
	res, err = f.anon.Anonymize(ctx, text, Options{EntityTypes: []string{"PERSON"}})
	require.NoError(t, err)
	assert.Equal(t, text, res.AnonymizedText)
	assert.Zero(t, d.calls)
}

func TestAnonymizeValidation(t *testing.T) {
	d := &scriptedDetector{fn: func(detect.Request) ([]detect.Span, error) { return nil, nil }}
	f := newFixture(t, d, Config{MaxTextLength: 10})
	ctx := context.Background()

	cases := map[string]struct {
		text string
		opts Options
	}{
		"empty":            {text: "", opts: Options{}},
		"too long":         {text: strings.Repeat("é", 11), opts: Options{}},
		"unsupported type": {text: "hi", opts: Options{EntityTypes: []string{"FAVORITE_COLOR"}}},
		"threshold":        {text: "hi", opts: Options{ConfidenceThreshold: ptr(1.5)}},
		"invalid utf8":     {text: "\xff\xfe", opts: Options{}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.anon.Anonymize(ctx, tc.text, tc.opts)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.KindValidation), err.Error())
		})
	}
	assert.Zero(t, d.calls)

	_, err := f.anon.Anonymize(ctx, strings.Repeat("é", 10), Options{})
	assert.NoError(t, err)
}

func TestAnonymizeDetectionFailure(t *testing.T) {
	d := &scriptedDetector{fn: func(detect.Request) ([]detect.Span, error) {
		return nil, errors.New("engine crashed")
	}}
	f := newFixture(t, d, Config{})

	_, err := f.anon.Anonymize(context.Background(), "Jane", Options{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDetectionUnavailable))

	records, err := f.audit.Query(context.Background(), store.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAnonymizeCancelled(t *testing.T) {
	f := newFixture(t, detect.NewPatternDetector(zap.NewNop()), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.anon.Anonymize(ctx, "john@x.com", Options{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDetectionUnavailable))
	assert.ErrorIs(t, err, context.Canceled)
}

type failingStore struct {
	inner    MappingStore
	failType string
	err      error
}

func (s *failingStore) FindOrCreate(ctx context.Context, key fingerprint.Key, entityType string, fn store.SynthesizeFunc) (store.Resolution, error) {
	if entityType == s.failType {
		return store.Resolution{}, s.err
	}
	return s.inner.FindOrCreate(ctx, key, entityType, fn)
}

func TestAnonymizeSynthesisExhaustedIsPerSpan(t *testing.T) {
	text := "Jane in Paris"
	d := &scriptedDetector{fn: func(detect.Request) ([]detect.Span, error) {
		return []detect.Span{
			spanOf(text, "Jane", "PERSON", 0.9),
			spanOf(text, "Paris", "LOCATION", 0.9),
		}, nil
	}}
	f := newFixture(t, d, Config{})
	f.anon.deps.Mappings = &failingStore{
		inner:    f.mappings,
		failType: "PERSON",
		err:      errs.New(errs.KindSynthesisExhausted, "mappings.find_or_create", "could not synthesize a unique PERSON substitute after 5 attempts"),
	}

	res, err := f.anon.Anonymize(context.Background(), text, Options{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.AnonymizedText, "Jane in "))
	assert.NotContains(t, res.AnonymizedText, "Paris")
	require.Len(t, res.Failures, 1)
	assert.Equal(t, Failure{
		Start: 0, End: 4, EntityType: "PERSON",
		Error:   errs.KindSynthesisExhausted,
		Message: "could not synthesize a unique PERSON substitute after 5 attempts",
	}, res.Failures[0])
	assert.Equal(t, 1, res.Metadata.SynthesisFailures)
	assert.Equal(t, 1, res.Metadata.EntitiesAnonymized)

	// degraded calls are still audited
	records, err := f.audit.Query(context.Background(), store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].SynthesisFailures)
}

func TestAnonymizeStorageFailureFailsCall(t *testing.T) {
	text := "Jane"
	d := &scriptedDetector{fn: func(detect.Request) ([]detect.Span, error) {
		return []detect.Span{spanOf(text, "Jane", "PERSON", 0.9)}, nil
	}}
	f := newFixture(t, d, Config{})
	f.anon.deps.Mappings = &failingStore{
		inner:    f.mappings,
		failType: "PERSON",
		err:      errs.Storage("mappings.find_or_create", errors.New("disk I/O error")),
	}

	_, err := f.anon.Anonymize(context.Background(), text, Options{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindStorageUnavailable))
}

func TestAnonymizeAfterResetGetsNewSubstitute(t *testing.T) {
	f := newFixture(t, detect.NewPatternDetector(zap.NewNop()), Config{})
	ctx := context.Background()
	opts := Options{EntityTypes: []string{"EMAIL_ADDRESS"}}

	before, err := f.anon.Anonymize(ctx, "john@x.com", opts)
	require.NoError(t, err)

	_, err = f.mappings.DeleteAll(ctx)
	require.NoError(t, err)

	after, err := f.anon.Anonymize(ctx, "john@x.com", opts)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Metadata.NewMappingsCreated)
	assert.NotEqual(t, before.AnonymizedText, after.AnonymizedText)

	m, err := f.mappings.Lookup(ctx, fingerprint.New("test-secret").Of("john@x.com", "EMAIL_ADDRESS"), "EMAIL_ADDRESS")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.UsageCount)
}

func TestAnonymizeConcurrentSameValue(t *testing.T) {
	f := newFixture(t, detect.NewPatternDetector(zap.NewNop()), Config{})
	ctx := context.Background()

	const callers = 12
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.anon.Anonymize(ctx, "mail jane@corp.example now", Options{EntityTypes: []string{"EMAIL_ADDRESS"}})
			if assert.NoError(t, err) {
				results[i] = res.AnonymizedText
			}
		}()
	}
	wg.Wait()

	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
	m, err := f.mappings.Lookup(ctx, fingerprint.New("test-secret").Of("jane@corp.example", "EMAIL_ADDRESS"), "EMAIL_ADDRESS")
	require.NoError(t, err)
	assert.Equal(t, int64(callers), m.UsageCount)
}

func TestAnonymizeAuditsAndNotifies(t *testing.T) {
	f := newFixture(t, detect.NewPatternDetector(zap.NewNop()), Config{})
	ctx := context.Background()

	_, err := f.anon.Anonymize(ctx, "write to a@x.org", Options{EntityTypes: []string{"EMAIL_ADDRESS"}})
	require.NoError(t, err)

	records, err := f.audit.Query(ctx, store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, store.OperationAnonymize, records[0].Operation)
	assert.Equal(t, []string{"EMAIL_ADDRESS"}, records[0].EntityTypes)
	assert.Equal(t, int64(16), records[0].InputLength)
	assert.Equal(t, 1, records[0].EntitiesAnonymized)

	require.Len(t, f.listener.summaries, 1)
	assert.Equal(t, map[string]int{"EMAIL_ADDRESS": 1}, f.listener.summaries[0].EntityTypes)
}

func TestAnonymizeBatch(t *testing.T) {
	d := &scriptedDetector{fn: func(req detect.Request) ([]detect.Span, error) {
		if strings.Contains(req.Text, "boom") {
			return nil, errors.New("engine crashed")
		}
		if i := strings.Index(req.Text, "Jane"); i >= 0 {
			return []detect.Span{{Start: i, End: i + 4, EntityType: "PERSON", Score: 0.9}}, nil
		}
		return nil, nil
	}}
	f := newFixture(t, d, Config{MaxBatchSize: 5, BatchConcurrency: 2})
	ctx := context.Background()

	t.Run("IsolatesItemFailures", func(t *testing.T) {
		res, err := f.anon.AnonymizeBatch(ctx, []string{"Hi Jane", "", "boom", "Bye Jane", "nothing here"}, Options{})
		require.NoError(t, err)
		require.Len(t, res.Results, 5)

		for i, item := range res.Results {
			assert.Equal(t, i, item.Index)
		}
		require.NotNil(t, res.Results[0].Result)
		require.NotNil(t, res.Results[3].Result)
		assert.Equal(t, errs.KindValidation, res.Results[1].Error.Kind)
		assert.Equal(t, errs.KindDetectionUnavailable, res.Results[2].Error.Kind)
		assert.Equal(t, "nothing here", res.Results[4].Result.AnonymizedText)

		sub := res.Results[0].Result.Substitutions[0].Substitute
		assert.Equal(t, "Bye "+sub, res.Results[3].Result.AnonymizedText)

		md := res.BatchMetadata
		assert.Equal(t, 5, md.TotalTexts)
		assert.Equal(t, 3, md.Succeeded)
		assert.Equal(t, 2, md.Failed)
		assert.Equal(t, 2, md.TotalEntitiesDetected)

		records, err := f.audit.Query(ctx, store.AuditFilter{Operation: store.OperationBatchAnonymize})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 2, records[0].EntitiesAnonymized)
	})

	t.Run("RejectsEmptyBatch", func(t *testing.T) {
		_, err := f.anon.AnonymizeBatch(ctx, nil, Options{})
		assert.True(t, errs.Is(err, errs.KindValidation))
	})

	t.Run("RejectsOversizedBatch", func(t *testing.T) {
		_, err := f.anon.AnonymizeBatch(ctx, make([]string, 6), Options{})
		assert.True(t, errs.Is(err, errs.KindValidation))
	})
}

func ptr[T any](v T) *T { return &v }
