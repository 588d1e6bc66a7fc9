// Package control exposes the simulation to operators over HTTP: lifecycle
// commands, motor interactions, live parameter tuning and frame inspection.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/internal/observability"
	"github.com/signalsfoundry/conveyor-simulator/internal/params"
	"github.com/signalsfoundry/conveyor-simulator/internal/render"
	"github.com/signalsfoundry/conveyor-simulator/model"
)

// Engine is the subset of core.SimulationEngine the API drives.
type Engine interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Tick(ctx context.Context) (core.Frame, error)
	OnMotorInteraction(ctx context.Context, motorID int) error
	Running() bool
	RunID() string
	Snapshot() core.Frame
	Line() model.Line
}

var _ Engine = (*core.SimulationEngine)(nil)

// Server routes control requests to an engine and a parameter store.
type Server struct {
	engine   Engine
	store    *params.Store
	recorder *render.Recorder
	metrics  *observability.SimCollector
	log      logging.Logger
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithRecorder enables GET /api/frames backed by r.
func WithRecorder(r *render.Recorder) ServerOption {
	return func(s *Server) { s.recorder = r }
}

// WithMetrics records per-route request metrics.
func WithMetrics(m *observability.SimCollector) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer builds a control server.
func NewServer(engine Engine, store *params.Store, opts ...ServerOption) *Server {
	s := &Server{engine: engine, store: store, log: logging.Noop()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/start", s.lifecycle(s.engine.Start)).Methods(http.MethodPost)
	api.HandleFunc("/stop", s.lifecycle(s.engine.Stop)).Methods(http.MethodPost)
	api.HandleFunc("/restart", s.lifecycle(s.engine.Restart)).Methods(http.MethodPost)
	api.HandleFunc("/tick", s.tick).Methods(http.MethodPost)
	api.HandleFunc("/motors/{id:[0-9]+}/interact", s.motorInteraction).Methods(http.MethodPost)
	api.HandleFunc("/parameters", s.getParameters).Methods(http.MethodGet)
	api.HandleFunc("/parameters", s.putParameters).Methods(http.MethodPut, http.MethodPatch)
	api.HandleFunc("/snapshot", s.snapshot).Methods(http.MethodGet)
	api.HandleFunc("/frames", s.frames).Methods(http.MethodGet)
	api.HandleFunc("/line", s.line).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	return r
}

// StatusResponse reports the engine lifecycle state.
type StatusResponse struct {
	Running bool   `json:"running"`
	RunID   string `json:"run_id"`
}

// ParametersDTO carries parameters on the wire with durations in milliseconds.
type ParametersDTO struct {
	Speed          float64 `json:"speed"`
	MoveDurationMs int64   `json:"move_duration_ms"`
	WaitDurationMs int64   `json:"wait_duration_ms"`
}

// parametersPatch is a partial update; nil fields keep their current value.
type parametersPatch struct {
	Speed          *float64 `json:"speed"`
	MoveDurationMs *int64   `json:"move_duration_ms"`
	WaitDurationMs *int64   `json:"wait_duration_ms"`
}

func toDTO(p model.Parameters) ParametersDTO {
	return ParametersDTO{
		Speed:          p.Speed,
		MoveDurationMs: p.MoveDuration.Milliseconds(),
		WaitDurationMs: p.WaitDuration.Milliseconds(),
	}
}

// maxDurationMs is the largest millisecond count a time.Duration can hold.
const maxDurationMs = math.MaxInt64 / int64(time.Millisecond)

// validate rejects millisecond values that would overflow time.Duration.
func (p parametersPatch) validate() error {
	fields := []struct {
		name string
		v    *int64
	}{
		{"move_duration_ms", p.MoveDurationMs},
		{"wait_duration_ms", p.WaitDurationMs},
	}
	for _, f := range fields {
		if f.v != nil && (*f.v > maxDurationMs || *f.v < -maxDurationMs) {
			return fmt.Errorf("%w: %s out of range: %d", errBadRequest, f.name, *f.v)
		}
	}
	return nil
}

func (p parametersPatch) apply(cur *model.Parameters) {
	if p.Speed != nil {
		cur.Speed = *p.Speed
	}
	if p.MoveDurationMs != nil {
		cur.MoveDuration = time.Duration(*p.MoveDurationMs) * time.Millisecond
	}
	if p.WaitDurationMs != nil {
		cur.WaitDuration = time.Duration(*p.WaitDurationMs) * time.Millisecond
	}
}

// FramesResponse lists recorded frames oldest first.
type FramesResponse struct {
	Frames []core.Frame `json:"frames"`
}

func (s *Server) lifecycle(op func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, StatusResponse{Running: s.engine.Running(), RunID: s.engine.RunID()})
	}
}

func (s *Server) tick(w http.ResponseWriter, r *http.Request) {
	frame, err := s.engine.Tick(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, frame)
}

func (s *Server) motorInteraction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, fmt.Errorf("motor id: %w", core.ErrUnknownMotor))
		return
	}
	if err := s.engine.OnMotorInteraction(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) getParameters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toDTO(s.store.Parameters()))
}

func (s *Server) putParameters(w http.ResponseWriter, r *http.Request) {
	var patch parametersPatch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: decode body: %w", errBadRequest, err))
		return
	}
	if err := patch.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.Update(patch.apply); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated := s.store.Parameters()
	s.log.Info(r.Context(), "parameters updated",
		logging.Float64("speed", updated.Speed),
		logging.Duration("move_duration", updated.MoveDuration),
		logging.Duration("wait_duration", updated.WaitDuration),
	)
	writeJSON(w, http.StatusOK, toDTO(updated))
}

func (s *Server) snapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) frames(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		s.writeError(w, r, errNoRecorder)
		return
	}
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, r, fmt.Errorf("%w: n must be a non-negative integer", errBadRequest))
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, FramesResponse{Frames: s.recorder.History(n)})
}

func (s *Server) line(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Line())
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Running: s.engine.Running(), RunID: s.engine.RunID()})
}

var (
	errBadRequest = errors.New("bad request")
	errNoRecorder = errors.New("frame history not enabled")
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrAlreadyRunning), errors.Is(err, core.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, core.ErrUnknownMotor), errors.Is(err, errNoRecorder):
		return http.StatusNotFound
	case errors.Is(err, params.ErrInvalidParameters), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error(r.Context(), "control request failed", logging.String("path", r.URL.Path), logging.Err(err))
	}
	writeJSON(w, code, ErrorResponse{Error: err.Error(), RequestID: logging.RequestIDFromContext(r.Context())})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// requestMiddleware tags each request with an id, logs it and records metrics.
func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		if id := r.Header.Get(logging.RequestIDHeader); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, log := logging.WithRequestLogger(ctx, s.log)
		w.Header().Set(logging.RequestIDHeader, logging.RequestIDFromContext(ctx))

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		took := time.Since(start)
		s.metrics.ObserveControlRequest(route, r.Method, rec.code, took)
		log.Debug(ctx, "control request",
			logging.String("method", r.Method),
			logging.String("route", route),
			logging.Int("status", rec.code),
			logging.Duration("took", took),
		)
	})
}
