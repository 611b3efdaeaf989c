package serving

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"jamwatch/internal/dataset"
	"jamwatch/internal/evaluate"
)

// maxBodyBytes bounds a request body; a day of 5-minute rows is well below it.
const maxBodyBytes = 64 << 20

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port         int
	Threshold    float64 // default decision threshold
	LabelColumn  string  // label column of validation payloads
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	// FailureRate reports the share of rows that failed prediction on /health.
	FailureRate func() float64
}

// Server exposes a Service over HTTP.
type Server struct {
	svc     *Service
	cfg     ServerConfig
	metrics MetricsInterface
	router  *mux.Router
	server  *http.Server
}

// NewServer builds the router and the http.Server.
func NewServer(svc *Service, cfg ServerConfig) *Server {
	if cfg.LabelColumn == "" {
		cfg.LabelColumn = "Y"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	s := &Server{svc: svc, cfg: cfg, metrics: svc.metrics, router: mux.NewRouter()}

	s.router.HandleFunc("/model/", s.handleLoadModel).Methods("POST")
	s.router.HandleFunc("/model/inference/", s.handleInference).Methods("POST")
	s.router.HandleFunc("/model/validation/", s.handleValidation).Methods("POST")
	s.router.HandleFunc("/model/learning/", s.handleLearning).Methods("POST")
	s.router.HandleFunc("/model/info", s.handleModelInfo).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/history", s.handleHistory).Methods("GET")
	s.router.HandleFunc("/drift", s.handleDrift).Methods("GET")
	if cfg.MetricsHandler != nil {
		s.router.Handle("/metrics", cfg.MetricsHandler).Methods("GET")
	}
	s.router.Use(s.observe)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting model server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.RequestObserve(route, rec.code)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// fail answers every request error with 404 and a JSON error body.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	log.Warn().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
}

func readTable(w http.ResponseWriter, r *http.Request) (*dataset.Table, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return dataset.DecodeJSON(body)
}

func (s *Server) threshold(r *http.Request) (float64, error) {
	raw := r.URL.Query().Get("threshold")
	if raw == "" {
		return s.cfg.Threshold, nil
	}
	t, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadThreshold, raw)
	}
	return t, nil
}

type loadModelRequest struct {
	ModelPath string `json:"model_path"`
}

func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	var req loadModelRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		fail(w, r, fmt.Errorf("invalid request: %w", err))
		return
	}
	if req.ModelPath == "" {
		fail(w, r, errors.New("model_path is required"))
		return
	}
	if err := s.svc.LoadModel(r.Context(), req.ModelPath); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Success"})
}

func (s *Server) handleInference(w http.ResponseWriter, r *http.Request) {
	threshold, err := s.threshold(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	table, err := readTable(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}

	inf, err := s.svc.Infer(r.Context(), table.Rows(), threshold)
	if err != nil {
		fail(w, r, err)
		return
	}

	if r.URL.Query().Get("labels") == "true" {
		writeJSON(w, http.StatusOK, inf)
		return
	}
	writeJSON(w, http.StatusOK, inf.Probabilities)
}

type validationResponse struct {
	Accuracy evaluate.Float `json:"accuracy"`
	Recall   evaluate.Float `json:"recall-rate"`
	F1       evaluate.Float `json:"f1 score"`
}

func (s *Server) handleValidation(w http.ResponseWriter, r *http.Request) {
	threshold, err := s.threshold(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	table, err := readTable(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}

	sample, err := s.svc.Validate(r.Context(), table, s.cfg.LabelColumn, threshold)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validationResponse{
		Accuracy: sample.Accuracy,
		Recall:   sample.Recall,
		F1:       sample.F1,
	})
}

func (s *Server) handleLearning(w http.ResponseWriter, r *http.Request) {
	table, err := readTable(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	n, err := s.svc.Learn(r.Context(), table, s.cfg.LabelColumn)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"learned": n})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Info())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.svc.State()
	status, code := "ok", http.StatusOK
	if state != StateReady {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	body := map[string]any{
		"status":  status,
		"state":   state,
		"samples": s.svc.History().Len(),
	}
	if s.cfg.FailureRate != nil {
		body["failure_rate"] = s.cfg.FailureRate()
	}
	writeJSON(w, code, body)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	since := 0
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fail(w, r, fmt.Errorf("invalid since: %w", err))
			return
		}
		since = n
	}
	writeJSON(w, http.StatusOK, s.svc.History().Since(since))
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	dd := s.svc.Drift()
	if dd == nil || !dd.IsEnabled() {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": dd.Status(), "alerts": dd.LastAlerts()})
}
