package detect

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"iter"
	"math"
	"sort"

	"go.uber.org/zap"
)

// SpanCache stores span lists by request digest. Implementations never see
// the request text.
type SpanCache interface {
	GetSpans(ctx context.Context, key string) ([]Span, bool, error)
	SetSpans(ctx context.Context, key string, spans []Span) error
}

// CachingDetector serves repeated requests from a SpanCache. Cache failures
// are logged and fall through to the wrapped detector.
type CachingDetector struct {
	next   Detector
	cache  SpanCache
	secret []byte
	logger *zap.Logger
}

// NewCachingDetector wraps next with cache. A non-empty secret keys cache
// entries with HMAC-SHA256 so a reader of the cache cannot confirm a guessed
// text by hashing it.
func NewCachingDetector(next Detector, cache SpanCache, secret string, logger *zap.Logger) *CachingDetector {
	c := &CachingDetector{next: next, cache: cache, logger: logger}
	if secret != "" {
		c.secret = []byte(secret)
	}
	return c
}

func (c *CachingDetector) SupportedEntityTypes() []EntityTypeInfo {
	return c.next.SupportedEntityTypes()
}

// Detect yields cached spans on a hit. On a miss it streams the wrapped
// detector and stores the result only if the sequence was fully consumed
// without error.
func (c *CachingDetector) Detect(ctx context.Context, req Request) iter.Seq2[Span, error] {
	return func(yield func(Span, error) bool) {
		key := CacheKey(req, c.secret)

		spans, hit, err := c.cache.GetSpans(ctx, key)
		if err != nil {
			c.logger.Warn("Span cache lookup failed", zap.Error(err))
		}
		if hit {
			for _, s := range spans {
				if !yield(s, nil) {
					return
				}
			}
			return
		}

		collected := []Span{}
		for s, err := range c.next.Detect(ctx, req) {
			if err != nil {
				yield(Span{}, err)
				return
			}
			collected = append(collected, s)
			if !yield(s, nil) {
				return
			}
		}

		if err := c.cache.SetSpans(ctx, key, collected); err != nil {
			c.logger.Warn("Span cache store failed", zap.Error(err))
		}
	}
}

// CacheKey digests every input that influences detection, with HMAC-SHA256
// when secret is set and plain SHA-256 otherwise.
func CacheKey(req Request, secret []byte) string {
	types := append([]string(nil), req.EntityTypes...)
	sort.Strings(types)

	var h hash.Hash
	if len(secret) > 0 {
		h = hmac.New(sha256.New, secret)
	} else {
		h = sha256.New()
	}
	var n [8]byte
	writeField := func(b []byte) {
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		h.Write(n[:])
		h.Write(b)
	}
	writeField([]byte(req.Text))
	writeField([]byte(req.Language))
	binary.BigEndian.PutUint64(n[:], math.Float64bits(req.ScoreThreshold))
	h.Write(n[:])
	for _, t := range types {
		writeField([]byte(t))
	}
	return hex.EncodeToString(h.Sum(nil))
}
