package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/haasonsaas/dualpath/internal/abtest"
	"github.com/haasonsaas/dualpath/internal/observability"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
}

type analysisBody struct {
	abtest.Analysis
	Significant bool `json:"significant"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"operations": s.dispatcher.Operations()})
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	fallback := false
	if v := r.URL.Query().Get("fallback"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, r, abtest.ErrInvalidArguments(fmt.Sprintf("invalid fallback value %q", v), err))
			return
		}
		fallback = parsed
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: errorDetail{
				Code:    string(abtest.ErrCodeInvalidArguments),
				Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			}})
			return
		}
		s.writeError(w, r, abtest.ErrInvalidArguments("read request body", err))
		return
	}

	handle := s.dispatcher.Handle
	if fallback {
		handle = s.dispatcher.HandleWithFallback
	}
	resp, err := handle(r.Context(), name, json.RawMessage(body))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if resp.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.experiment.Metrics())
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis := s.experiment.Analyze()
	writeJSON(w, http.StatusOK, analysisBody{Analysis: analysis, Significant: analysis.Significant()})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := abtest.NormalizeFormat(r.URL.Query().Get("format"))
	data, err := s.experiment.Export(format)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	switch format {
	case abtest.FormatPrometheus:
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.experiment.Config())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.experiment.Reset()
	s.logger.InfoContext(r.Context(), "experiment metrics reset over http")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// statusForError maps error codes onto HTTP statuses.
func statusForError(err error) int {
	switch abtest.GetErrorCode(err) {
	case abtest.ErrCodeUnsupportedOperation, abtest.ErrCodeInvalidArguments:
		return http.StatusBadRequest
	case abtest.ErrCodeCollaboratorNotFound:
		return http.StatusServiceUnavailable
	case abtest.ErrCodeHandlerExecution:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	detail := errorDetail{
		Code:      string(abtest.GetErrorCode(err)),
		Message:   err.Error(),
		RequestID: observability.GetRequestID(r.Context()),
	}
	var coded *abtest.Error
	if errors.As(err, &coded) {
		detail.Context = coded.Context
	}
	if detail.Code == "" {
		detail.Code = "INTERNAL_ERROR"
	}
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return
	}
}
