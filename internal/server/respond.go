package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dwellscope/listing-cli/internal/pipeline"
)

// errorBody is the machine-readable error envelope.
type errorBody struct {
	Error   string   `json:"error"`
	Reason  string   `json:"reason,omitempty"`
	Used    *int     `json:"used,omitempty"`
	Limit   *int     `json:"limit,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, reason string, missing []string) {
	writeJSON(w, status, errorBody{
		Error:   http.StatusText(status),
		Reason:  reason,
		Missing: missing,
	})
}

// statusFor maps a pipeline failure kind to its HTTP status.
func statusFor(kind pipeline.Kind) int {
	switch kind {
	case pipeline.KindUnauthorized:
		return http.StatusUnauthorized
	case pipeline.KindForbidden:
		return http.StatusForbidden
	case pipeline.KindNotFound:
		return http.StatusNotFound
	case pipeline.KindConflict:
		return http.StatusConflict
	case pipeline.KindQuotaExceeded:
		return http.StatusPaymentRequired
	case pipeline.KindPreconditionFailed, pipeline.KindValidationFailed:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writePipelineError renders a stage failure. Non-pipeline errors are
// logged and reported as opaque 500s.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		zap.L().Error("server: internal error",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}

	status := statusFor(pe.Kind)
	if status == http.StatusInternalServerError {
		zap.L().Error("server: upstream failure",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	body := errorBody{
		Error:   http.StatusText(status),
		Reason:  pe.Reason,
		Missing: pe.Missing,
	}
	if pe.Kind == pipeline.KindQuotaExceeded {
		used, limit := pe.Used, pe.Limit
		body.Used = &used
		body.Limit = &limit
	}
	writeJSON(w, status, body)
}
