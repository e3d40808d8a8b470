package anonymizer

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/raaihank/pii-anonymizer/internal/errs"
	"github.com/raaihank/pii-anonymizer/internal/store"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// ItemError reports why one batch item failed.
type ItemError struct {
	Kind    errs.Kind `json:"error"`
	Message string    `json:"message"`
}

// BatchItem is the outcome of one input text. Exactly one of Result and
// Error is set.
type BatchItem struct {
	Index  int        `json:"index"`
	Result *Result    `json:"result,omitempty"`
	Error  *ItemError `json:"error,omitempty"`
}

// BatchMetadata aggregates a batch.
type BatchMetadata struct {
	TotalTexts              int   `json:"total_texts"`
	Succeeded               int   `json:"succeeded"`
	Failed                  int   `json:"failed"`
	TotalEntitiesDetected   int   `json:"total_entities_detected"`
	TotalEntitiesAnonymized int   `json:"total_entities_anonymized"`
	TotalProcessingTimeMs   int64 `json:"total_processing_time_ms"`
}

// BatchResult holds per-item outcomes in input order.
type BatchResult struct {
	Results       []BatchItem   `json:"results"`
	BatchMetadata BatchMetadata `json:"batch_metadata"`
}

// AnonymizeBatch anonymizes texts independently with bounded concurrency.
// All items share one configuration snapshot. An item failure is reported
// in its BatchItem and never aborts the others; only a malformed batch or
// options fail the call.
func (a *Anonymizer) AnonymizeBatch(ctx context.Context, texts []string, opts Options) (*BatchResult, error) {
	const op = "anonymize.batch"

	if len(texts) == 0 {
		return nil, errs.Validation(op, "texts must not be empty")
	}
	if len(texts) > a.cfg.MaxBatchSize {
		return nil, errs.Validation(op, "batch size %d exceeds the maximum of %d texts", len(texts), a.cfg.MaxBatchSize)
	}
	pl, err := a.plan(opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	items := make([]BatchItem, len(texts))
	counts := make([]map[string]int, len(texts))

	p := pool.New().WithMaxGoroutines(a.cfg.BatchConcurrency)
	for i, text := range texts {
		p.Go(func() {
			items[i].Index = i
			if err := a.checkText(op, text); err != nil {
				items[i].Error = itemError(err)
				return
			}
			res, c, err := a.run(ctx, text, pl)
			if err != nil {
				a.logger.Warn("Batch item failed",
					zap.Int("index", i),
					zap.String("error_kind", string(errs.KindOf(err))),
					zap.Error(err))
				items[i].Error = itemError(err)
				return
			}
			items[i].Result = res
			counts[i] = c
		})
	}
	p.Wait()

	var (
		md       BatchMetadata
		totals   Metadata
		merged   = map[string]int{}
		inputLen int64
	)
	md.TotalTexts = len(texts)
	for i, item := range items {
		inputLen += int64(utf8.RuneCountInString(texts[i]))
		if item.Error != nil {
			md.Failed++
			continue
		}
		md.Succeeded++
		r := item.Result.Metadata
		md.TotalEntitiesDetected += r.EntitiesDetected
		md.TotalEntitiesAnonymized += r.EntitiesAnonymized
		totals.EntitiesDetected += r.EntitiesDetected
		totals.EntitiesAnonymized += r.EntitiesAnonymized
		totals.NewMappingsCreated += r.NewMappingsCreated
		totals.ExistingMappingsUsed += r.ExistingMappingsUsed
		totals.SynthesisFailures += r.SynthesisFailures
		for t, n := range counts[i] {
			merged[t] += n
		}
	}
	elapsed := time.Since(start)
	md.TotalProcessingTimeMs = elapsed.Milliseconds()
	totals.ProcessingTimeMs = md.TotalProcessingTimeMs

	if md.Succeeded > 0 {
		a.finish(ctx, store.OperationBatchAnonymize, pl, len(texts), inputLen, merged, totals, elapsed)
	}
	return &BatchResult{Results: items, BatchMetadata: md}, nil
}

func itemError(err error) *ItemError {
	return &ItemError{Kind: errs.KindOf(err), Message: errs.Message(err)}
}
