// Package api exposes routing, runtime truth and the booking toggle over
// HTTP for callers outside the process engine.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"agent-engine/internal/agent/rollout"
	"agent-engine/internal/agent/router"
	"agent-engine/internal/common/errors"
	"agent-engine/internal/common/logger"
	"agent-engine/internal/common/observability"
	"agent-engine/internal/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	maxBodyBytes    = 64 << 10
	requestIDHeader = "X-Request-ID"
)

type TurnRouter interface {
	Route(ctx context.Context, turn router.Turn) (*models.RouteDecision, error)
}

type TruthReporter interface {
	Report(ctx context.Context, companyID string) (*models.RuntimeHealth, error)
}

type BookingToggler interface {
	SetBookingV2(ctx context.Context, companyID string, enabled bool) (*rollout.Result, error)
}

type Server struct {
	router   TurnRouter
	reporter TruthReporter
	toggler  BookingToggler
	obs      *observability.Observability
	logger   logger.Logger
}

func NewServer(r TurnRouter, reporter TruthReporter, toggler BookingToggler, obs *observability.Observability, log logger.Logger) *Server {
	return &Server{
		router:   r,
		reporter: reporter,
		toggler:  toggler,
		obs:      obs,
		logger:   log.WithFields(map[string]interface{}{"component": "api"}),
	}
}

// Register mounts the /v1 routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	s.handle(mux, "POST /v1/route", s.route)
	s.handle(mux, "GET /v1/runtime-truth/{companyId}", s.runtimeTruth)
	s.handle(mux, "POST /v1/booking/{companyId}/v2", s.toggleBooking)
}

// Handler returns a mux serving only the /v1 routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type errorBody struct {
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Details  string                 `json:"details,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, errors.NewInvalidRouteInputError("request body too large or unreadable"))
		return
	}
	turn, err := router.DecodeTurn(raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	decision, err := s.router.Route(r.Context(), turn)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, decision)
}

func (s *Server) runtimeTruth(w http.ResponseWriter, r *http.Request) {
	report, err := s.reporter.Report(r.Context(), r.PathValue("companyId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) toggleBooking(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil || req.Enabled == nil {
		s.writeError(w, r, errors.NewInvalidRouteInputError(`body must be {"enabled": true|false}`))
		return
	}

	res, err := s.toggler.SetBookingV2(r.Context(), r.PathValue("companyId"), *req.Enabled)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handle wraps h with request ids, a span and request metrics labelled by
// pattern.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)

		ctx, span := s.obs.StartSpan(r.Context(), "http "+pattern,
			attribute.String("http.request_id", reqID),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		s.obs.RecordRequest(ctx, pattern, rec.status, elapsed)
		s.logger.Debug("request served", map[string]interface{}{
			"requestId":  reqID,
			"route":      pattern,
			"status":     rec.status,
			"durationMs": elapsed.Milliseconds(),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	std := errors.Normalize(err)
	status := statusFor(err, std.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{
			"path":      r.URL.Path,
			"errorCode": string(std.Code),
			"error":     err.Error(),
		})
	}
	s.writeJSON(w, status, map[string]errorBody{"error": {
		Code:     string(std.Code),
		Message:  std.Message,
		Details:  std.Details,
		Metadata: std.Metadata,
	}})
}

func statusFor(err error, code errors.ErrorCode) int {
	switch {
	case stderrors.Is(err, errors.ErrConfigMissing):
		return http.StatusNotFound
	case code == errors.ErrCodeInvalidRouteInput:
		return http.StatusBadRequest
	case code == errors.ErrCodeBookingEnableRejected:
		return http.StatusConflict
	case code == errors.ErrCodeConfigLoadFailed,
		code == errors.ErrCodeFlagWriteFailed,
		code == errors.ErrCodeInvalidationFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
