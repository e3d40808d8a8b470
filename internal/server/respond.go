package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/raaihank/pii-anonymizer/internal/errs"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindDetectionUnavailable, errs.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	status := statusFor(kind)
	msg := errs.Message(err)

	log := s.logger.WithRequestID(requestIDFrom(r.Context()))
	if status >= http.StatusInternalServerError {
		log.Error("Request failed",
			zap.String("error_kind", string(kind)),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	} else {
		log.Debug("Request rejected",
			zap.String("error_kind", string(kind)),
			zap.String("message", msg))
	}

	if kind == errs.KindInternal {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: string(kind), Message: msg})
}

// decodeJSON reads a size-limited JSON body into dst.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	const op = "server.decode"

	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errs.Validation(op, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return errs.Validation(op, "invalid JSON body: %s", jsonProblem(err))
	}
	return nil
}

// jsonProblem describes a decode error without echoing body content.
func jsonProblem(err error) string {
	var syntax *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntax):
		return fmt.Sprintf("syntax error at offset %d", syntax.Offset)
	case errors.As(err, &typeErr):
		return fmt.Sprintf("field %s must be %s", typeErr.Field, typeErr.Type)
	default:
		return "malformed body"
	}
}
