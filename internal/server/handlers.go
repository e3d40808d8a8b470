package server

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pii-anonymizer/internal/anonymizer"
	"github.com/raaihank/pii-anonymizer/internal/detect"
	"github.com/raaihank/pii-anonymizer/internal/errs"
	"github.com/raaihank/pii-anonymizer/internal/export"
	"github.com/raaihank/pii-anonymizer/internal/settings"
	"github.com/raaihank/pii-anonymizer/internal/store"
	"github.com/raaihank/pii-anonymizer/internal/strategy"
	"github.com/raaihank/pii-anonymizer/internal/synth"
)

const defaultPageSize = 100

type anonymizeRequest struct {
	Text                string   `json:"text"`
	EntityTypes         []string `json:"entity_types,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
}

type batchRequest struct {
	Texts               []string `json:"texts"`
	EntityTypes         []string `json:"entity_types,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	var req anonymizeRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.Anonymizer.Anonymize(r.Context(), req.Text, anonymizer.Options{
		EntityTypes:         req.EntityTypes,
		ConfidenceThreshold: req.ConfidenceThreshold,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnonymizeBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.Anonymizer.AnonymizeBatch(r.Context(), req.Texts, anonymizer.Options{
		EntityTypes:         req.EntityTypes,
		ConfidenceThreshold: req.ConfidenceThreshold,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type configResponse struct {
	Version             int64                   `json:"version"`
	ConfidenceThreshold float64                 `json:"confidence_threshold"`
	Language            string                  `json:"language"`
	Locale              string                  `json:"locale"`
	EntityTypes         []settings.EntityConfig `json:"entity_types"`
	UpdatedAt           time.Time               `json:"updated_at"`
}

func newConfigResponse(snap *settings.Settings) configResponse {
	return configResponse{
		Version:             snap.Version,
		ConfidenceThreshold: snap.ConfidenceThreshold,
		Language:            snap.Language,
		Locale:              snap.Locale,
		EntityTypes:         snap.Entities(),
		UpdatedAt:           snap.UpdatedAt,
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newConfigResponse(s.deps.Settings.Current()))
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var update settings.Update
	if err := s.decodeJSON(w, r, &update); err != nil {
		s.writeError(w, r, err)
		return
	}
	for _, eu := range update.EntityTypes {
		if !detect.Supports(s.deps.Detector, eu.EntityType) {
			s.writeError(w, r, errs.Validation("config.put", "unsupported entity type %s", eu.EntityType))
			return
		}
	}

	next, err := s.deps.Settings.Apply(r.Context(), update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newConfigResponse(next))
}

type entityTypeResponse struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Enabled     bool              `json:"enabled"`
	Strategy    strategy.Strategy `json:"strategy"`
	Params      strategy.Params   `json:"strategy_params,omitempty"`
}

func (s *Server) handleEntityTypes(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Settings.Current()
	infos := s.deps.Detector.SupportedEntityTypes()

	out := make([]entityTypeResponse, 0, len(infos))
	for _, info := range infos {
		ec := snap.For(info.Name)
		out = append(out, entityTypeResponse{
			Name:        info.Name,
			Description: info.Description,
			Enabled:     ec.Enabled,
			Strategy:    ec.Strategy,
			Params:      ec.Params,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity_types": out})
}

func (s *Server) handleLocales(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"locales": synth.SupportedLocales(),
		"current": s.deps.Settings.Current().Locale,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Mappings.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleExportStats(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil || format == export.FormatParquet {
		s.writeError(w, r, errs.Validation("stats.export", "format must be csv or json"))
		return
	}

	stats, err := s.deps.Mappings.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteStats(&buf, format, stats); err != nil {
		s.writeError(w, r, errs.Wrap(errs.KindInternal, "stats.export", err, "export failed"))
		return
	}
	s.writeAttachment(w, format, "stats", buf.Bytes())
}

func (s *Server) handleEntityStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Mappings.EntityStats(r.Context(), mux.Vars(r)["entity_type"], store.MaxTopSubstitutes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type mappingPage struct {
	Mappings []store.Mapping `json:"mappings"`
	Total    int64           `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	const op = "mappings.list"
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"), defaultPageSize)
	if err != nil {
		s.writeError(w, r, errs.Validation(op, "limit must be an integer"))
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		s.writeError(w, r, errs.Validation(op, "offset must be an integer"))
		return
	}

	mappings, total, err := s.deps.Mappings.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mappingPage{Mappings: mappings, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleExportMappings(w http.ResponseWriter, r *http.Request) {
	const op = "mappings.export"
	q := r.URL.Query()

	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		s.writeError(w, r, errs.Validation(op, "format must be json, csv or parquet"))
		return
	}
	filter := store.ExportFilter{EntityType: q.Get("entity_type")}
	if filter.Since, err = timeParam(q.Get("since")); err != nil {
		s.writeError(w, r, errs.Validation(op, "since must be an RFC 3339 timestamp"))
		return
	}
	if filter.Until, err = timeParam(q.Get("until")); err != nil {
		s.writeError(w, r, errs.Validation(op, "until must be an RFC 3339 timestamp"))
		return
	}

	mappings, err := s.deps.Mappings.Export(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteMappings(&buf, format, mappings); err != nil {
		s.writeError(w, r, errs.Wrap(errs.KindInternal, op, err, "export failed"))
		return
	}
	s.writeAttachment(w, format, "mappings", buf.Bytes())
}

func (s *Server) writeAttachment(w http.ResponseWriter, format export.Format, kind string, body []byte) {
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename="+format.Filename(kind))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func mappingID(r *http.Request) int64 {
	// the route pattern guarantees digits; overflow yields 0, which never exists
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Mappings.Get(r.Context(), mappingID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type updateMappingRequest struct {
	Substitute string `json:"substitute"`
}

func (s *Server) handleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	var req updateMappingRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	m, err := s.deps.Mappings.UpdateSubstitute(r.Context(), mappingID(r), req.Substitute)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	id := mappingID(r)
	if err := s.deps.Mappings.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.hub != nil {
		s.hub.MappingsReset(1, id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAllMappings(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.deps.Mappings.DeleteAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.WithRequestID(requestIDFrom(r.Context())).Warn("All mappings deleted", zap.Int64("deleted", deleted))
	if s.hub != nil {
		s.hub.MappingsReset(deleted, 0)
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	const op = "audit.query"
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"), defaultPageSize)
	if err != nil || limit < 1 || limit > store.MaxListLimit {
		s.writeError(w, r, errs.Validation(op, "limit must be between 1 and %d", store.MaxListLimit))
		return
	}
	filter := store.AuditFilter{Operation: q.Get("operation"), Limit: limit}
	if filter.Since, err = timeParam(q.Get("since")); err != nil {
		s.writeError(w, r, errs.Validation(op, "since must be an RFC 3339 timestamp"))
		return
	}
	if filter.Until, err = timeParam(q.Get("until")); err != nil {
		s.writeError(w, r, errs.Validation(op, "until must be an RFC 3339 timestamp"))
		return
	}

	records, err := s.deps.Audit.Query(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

type healthResponse struct {
	Status            string    `json:"status"`
	Version           string    `json:"version"`
	DatabaseConnected bool      `json:"database_connected"`
	MappingsCount     int64     `json:"mappings_count"`
	Cache             string    `json:"cache"`
	Timestamp         time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "healthy", Version: s.deps.Version, Cache: "disabled", Timestamp: time.Now().UTC()}
	status := http.StatusOK

	if count, err := s.deps.Mappings.Count(ctx); err != nil {
		s.logger.Warn("Health check database failure", zap.Error(err))
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	} else {
		resp.DatabaseConnected = true
		resp.MappingsCount = count
	}

	if s.deps.Cache != nil {
		resp.Cache = "ok"
		if err := s.deps.Cache.Ping(ctx); err != nil {
			resp.Cache = "unavailable"
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	limits := s.deps.Anonymizer.Limits()
	snap := s.deps.Settings.Current()

	writeJSON(w, http.StatusOK, map[string]any{
		"name":                   "pii-anonymizer",
		"version":                s.deps.Version,
		"database":               s.deps.DB.Driver(),
		"cache_enabled":          s.deps.Cache != nil,
		"websocket_enabled":      s.hub != nil,
		"supported_entity_types": len(s.deps.Detector.SupportedEntityTypes()),
		"supported_locales":      len(synth.SupportedLocales()),
		"config_version":         snap.Version,
		"max_text_length":        limits.MaxTextLength,
		"max_batch_size":         limits.MaxBatchSize,
	})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func timeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
