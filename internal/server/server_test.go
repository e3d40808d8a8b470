package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/pii-anonymizer/internal/anonymizer"
	"github.com/raaihank/pii-anonymizer/internal/config"
	"github.com/raaihank/pii-anonymizer/internal/detect"
	"github.com/raaihank/pii-anonymizer/internal/errs"
	"github.com/raaihank/pii-anonymizer/internal/fingerprint"
	"github.com/raaihank/pii-anonymizer/internal/logger"
	"github.com/raaihank/pii-anonymizer/internal/settings"
	"github.com/raaihank/pii-anonymizer/internal/store"
	"github.com/raaihank/pii-anonymizer/internal/synth"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	ctx := context.Background()

	cfg := config.GetDefaults()
	cfg.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	db, err := store.OpenMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc, err := settings.NewService(ctx, store.NewSettingsRepository(db), cfg.Anonymizer.Defaults.Settings(), zap.NewNop())
	require.NoError(t, err)

	detector := detect.NewPatternDetector(zap.NewNop())
	mappings := store.NewMappingStore(db, cfg.Anonymizer.SynthesisAttempts, zap.NewNop())
	audit := store.NewAuditLog(db)

	anon := anonymizer.New(anonymizer.Deps{
		Detector:     detector,
		Mappings:     mappings,
		Synthesizer:  synth.New(),
		Fingerprints: fingerprint.New("test-secret"),
		Settings:     svc,
		Audit:        audit,
	}, cfg.Anonymizer.Limits(), zap.NewNop())

	return New(cfg, Deps{
		Anonymizer: anon,
		Detector:   detector,
		Settings:   svc,
		DB:         db,
		Mappings:   mappings,
		Audit:      audit,
		Version:    "test",
	}, logger.NewNop())
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAnonymizeEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("consistent substitution across calls", func(t *testing.T) {
		first := do(t, s, http.MethodPost, "/anonymize", map[string]any{"text": "Contact ann@example.com"})
		require.Equal(t, http.StatusOK, first.Code, first.Body.String())
		r1 := decode[anonymizer.Result](t, first)
		require.Len(t, r1.Substitutions, 1)
		assert.NotContains(t, r1.AnonymizedText, "ann@example.com")
		assert.Equal(t, 1, r1.Metadata.NewMappingsCreated)

		second := do(t, s, http.MethodPost, "/anonymize", map[string]any{"text": "Reply to ann@example.com"})
		require.Equal(t, http.StatusOK, second.Code)
		r2 := decode[anonymizer.Result](t, second)
		require.Len(t, r2.Substitutions, 1)
		assert.Equal(t, r1.Substitutions[0].Substitute, r2.Substitutions[0].Substitute)
		assert.Equal(t, 1, r2.Metadata.ExistingMappingsUsed)
	})

	t.Run("empty text is a validation error", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/anonymize", map[string]any{"text": ""})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation_error", decode[errorResponse](t, rec).Error)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/anonymize", `{"text":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation_error", decode[errorResponse](t, rec).Error)
	})

	t.Run("unknown entity type", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/anonymize", map[string]any{"text": "hi", "entity_types": []string{"NOPE"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/anonymize", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestAnonymizeBodyLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Server.MaxBodyBytes = 64 })

	rec := do(t, s, http.MethodPost, "/anonymize", map[string]any{"text": strings.Repeat("a", 200)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Message, "exceeds")
}

func TestBatchEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/anonymize/batch", map[string]any{
		"texts": []string{"mail bob@example.com", "again bob@example.com", ""},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[anonymizer.BatchResult](t, rec)
	require.Len(t, res.Results, 3)
	assert.Equal(t, 2, res.BatchMetadata.Succeeded)
	assert.Equal(t, 1, res.BatchMetadata.Failed)
	require.NotNil(t, res.Results[2].Error)
	assert.Equal(t, errs.KindValidation, res.Results[2].Error.Kind)
	assert.Equal(t,
		res.Results[0].Result.Substitutions[0].Substitute,
		res.Results[1].Result.Substitutions[0].Substitute)

	t.Run("empty batch", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/anonymize/batch", map[string]any{"texts": []string{}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestConfigEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	before := decode[configResponse](t, rec)
	assert.Equal(t, 0.7, before.ConfidenceThreshold)
	assert.Equal(t, "en_US", before.Locale)

	t.Run("update bumps version", func(t *testing.T) {
		rec := do(t, s, http.MethodPut, "/config", map[string]any{
			"confidence_threshold": 0.5,
			"entity_types": []map[string]any{
				{"entity_type": "EMAIL_ADDRESS", "strategy": "redact"},
			},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		after := decode[configResponse](t, rec)
		assert.Equal(t, 0.5, after.ConfidenceThreshold)
		assert.Greater(t, after.Version, before.Version)

		anon := decode[anonymizer.Result](t, do(t, s, http.MethodPost, "/anonymize", map[string]any{"text": "x carl@example.com"}))
		require.Len(t, anon.Substitutions, 1)
		assert.Equal(t, "redact", string(anon.Substitutions[0].Strategy))
	})

	t.Run("invalid threshold keeps config", func(t *testing.T) {
		current := decode[configResponse](t, do(t, s, http.MethodGet, "/config", nil))
		rec := do(t, s, http.MethodPut, "/config", map[string]any{"confidence_threshold": 1.5})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, current.Version, decode[configResponse](t, do(t, s, http.MethodGet, "/config", nil)).Version)
	})

	t.Run("unsupported entity type", func(t *testing.T) {
		rec := do(t, s, http.MethodPut, "/config", map[string]any{
			"entity_types": []map[string]any{{"entity_type": "SHOE_SIZE", "enabled": true}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("entity types and locales", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/config/entity-types", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		types := decode[map[string][]entityTypeResponse](t, rec)["entity_types"]
		assert.NotEmpty(t, types)

		rec = do(t, s, http.MethodGet, "/config/locales", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "en_US")
	})
}

func TestMappingEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	for _, text := range []string{"a dora@example.com", "b eve@example.com"} {
		require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/anonymize", map[string]any{"text": text}).Code)
	}

	rec := do(t, s, http.MethodGet, "/mappings?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[mappingPage](t, rec)
	require.Len(t, page.Mappings, 2)
	assert.EqualValues(t, 2, page.Total)
	assert.NotContains(t, rec.Body.String(), "dora@example.com")

	first, second := page.Mappings[0], page.Mappings[1]

	t.Run("get", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, fmt.Sprintf("/mappings/%d", first.ID), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, first.Substitute, decode[store.Mapping](t, rec).Substitute)

		assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/mappings/999999", nil).Code)
	})

	t.Run("update conflict", func(t *testing.T) {
		rec := do(t, s, http.MethodPut, fmt.Sprintf("/mappings/%d", first.ID), map[string]any{"substitute": second.Substitute})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("update", func(t *testing.T) {
		rec := do(t, s, http.MethodPut, fmt.Sprintf("/mappings/%d", first.ID), map[string]any{"substitute": "someone@example.org"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "someone@example.org", decode[store.Mapping](t, rec).Substitute)
	})

	t.Run("export csv", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/mappings/export?format=csv", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "mappings_export.csv")

		rows, err := csv.NewReader(rec.Body).ReadAll()
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})

	t.Run("export bad since", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/mappings/export?since=yesterday", nil).Code)
	})

	t.Run("delete one", func(t *testing.T) {
		path := fmt.Sprintf("/mappings/%d", second.ID)
		assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, path, nil).Code)
		assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, path, nil).Code)
	})

	t.Run("delete all", func(t *testing.T) {
		rec := do(t, s, http.MethodDelete, "/mappings", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1, decode[map[string]int64](t, rec)["deleted"])
		assert.EqualValues(t, 0, decode[mappingPage](t, do(t, s, http.MethodGet, "/mappings", nil)).Total)
	})

	t.Run("bad limit", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/mappings?limit=abc", nil).Code)
	})
}

func TestStatsEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	do(t, s, http.MethodPost, "/anonymize", map[string]any{"text": "fay@example.com and fay@example.com"})

	rec := do(t, s, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[store.Stats](t, rec)
	assert.EqualValues(t, 1, stats.TotalMappings)
	assert.EqualValues(t, 2, stats.TotalUsage)

	t.Run("export csv has total row", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/stats/export?format=csv", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		rows, err := csv.NewReader(rec.Body).ReadAll()
		require.NoError(t, err)
		assert.Equal(t, []string{"TOTAL", "1", "2"}, rows[len(rows)-1])
	})

	t.Run("parquet is not offered for stats", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/stats/export?format=parquet", nil).Code)
	})

	t.Run("per entity type", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/stats/EMAIL_ADDRESS", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		es := decode[store.EntityStats](t, rec)
		assert.EqualValues(t, 2, es.TotalUsage)
		assert.Len(t, es.TopSubstitutes, 1)
	})
}

func TestAuditEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	do(t, s, http.MethodPost, "/anonymize", map[string]any{"text": "gus@example.com"})

	rec := do(t, s, http.MethodGet, "/audit?operation=anonymize", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "gus@example.com")

	var body struct {
		Records []store.OperationRecord `json:"records"`
		Count   int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/audit?limit=0", nil).Code)
}

func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[healthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.DatabaseConnected)
	assert.Equal(t, "disabled", health.Cache)

	rec = do(t, s, http.MethodGet, "/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[map[string]any](t, rec)
	assert.Equal(t, "sqlite", info["database"])
	assert.Equal(t, "test", info["version"])
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("echoes caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	})

	t.Run("generates one when missing", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/health", nil)
		assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
	})

	t.Run("unknown route is json", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decode[errorResponse](t, rec).Error)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 1, Burst: 2}
	})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/info", nil).Code)
	}
	rec := do(t, s, http.MethodGet, "/info", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decode[errorResponse](t, rec).Error)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", nil).Code)
}

func TestRateLimiter(t *testing.T) {
	t.Run("disabled allows everything", func(t *testing.T) {
		rl := NewRateLimiter(config.RateLimitConfig{Enabled: false, RequestsPerMin: 1, Burst: 1})
		for i := 0; i < 10; i++ {
			assert.True(t, rl.Allow("10.0.0.1"))
		}
	})

	t.Run("per client buckets", func(t *testing.T) {
		rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 1, Burst: 1})
		assert.True(t, rl.Allow("10.0.0.1"))
		assert.False(t, rl.Allow("10.0.0.1"))
		assert.True(t, rl.Allow("10.0.0.2"))
	})

	t.Run("update can disable", func(t *testing.T) {
		rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 1, Burst: 1})
		assert.True(t, rl.Allow("10.0.0.1"))
		rl.Update(config.RateLimitConfig{Enabled: false})
		assert.True(t, rl.Allow("10.0.0.1"))
	})

	t.Run("cleanup", func(t *testing.T) {
		rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 5})
		rl.Allow("10.0.0.1")
		rl.Allow("10.0.0.2")
		assert.Equal(t, 0, rl.CleanupOldClients(time.Hour))
		assert.Equal(t, 2, rl.CleanupOldClients(-time.Second))
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind errs.Kind
		want int
	}{
		{errs.KindValidation, http.StatusBadRequest},
		{errs.KindDetectionUnavailable, http.StatusServiceUnavailable},
		{errs.KindStorageUnavailable, http.StatusServiceUnavailable},
		{errs.KindNotFound, http.StatusNotFound},
		{errs.KindConflict, http.StatusConflict},
		{errs.KindSynthesisExhausted, http.StatusInternalServerError},
		{errs.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.kind))
		})
	}
}
