package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/miradorstack/defect-analyzer/internal/config"
	"github.com/miradorstack/defect-analyzer/internal/models"
	"github.com/miradorstack/defect-analyzer/internal/utils"
)

const (
	apiVersion   = "1.0.0"
	maxBodyBytes = 1 << 20
)

// Analyzer is the service surface exposed over HTTP and gRPC.
type Analyzer interface {
	AnalyzeCorrelation(ctx context.Context, req models.AnalysisRequest) (models.CorrelationResponse, error)
	AnalyzeFeatureImportance(ctx context.Context, req models.AnalysisRequest) (models.FeatureImportanceResponse, error)
	AnalyzeAll(ctx context.Context, req models.AnalysisRequest) (models.CombinedResponse, error)
	ListModels(ctx context.Context) ([]string, error)
	DefectRates(ctx context.Context, modelIDs []string) ([]models.DefectRateRecord, error)
	Parameters(ctx context.Context, modelIDs []string) ([]models.ParameterRecord, error)
	History(ctx context.Context, req models.ListHistoryRequest) (models.ListHistoryResponse, error)
	HistoryRecord(ctx context.Context, id string) (models.AnalysisRecord, error)
	Latency() utils.LatencySnapshot
}

type handlers struct {
	analyzer Analyzer
	logger   *slog.Logger
	now      func() time.Time
}

// NewRouter builds the REST API. A zero RPS in limit disables rate limiting on the analyze routes.
func NewRouter(analyzer Analyzer, limit config.RateLimitConfig, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{analyzer: analyzer, logger: logger, now: time.Now}
	limiter := newRateLimiter(limit.RPS, limit.Burst, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(allowAllOrigins)

	r.Get("/", h.index)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limiter.handler)
			r.Post("/correlation/analyze", h.analyzeCorrelation)
			r.Post("/feature-importance/analyze", h.analyzeFeatureImportance)
			r.Post("/analysis/analyze", h.analyzeAll)
		})

		r.Get("/analysis/history", h.listHistory)
		r.Get("/analysis/history/{id}", h.getHistory)
		r.Get("/analysis/latency", h.latency)

		r.Route("/data", func(r chi.Router) {
			r.Get("/health", h.health)
			r.Post("/process", h.process)
			r.Get("/models", h.listModels)
			r.Get("/defect-rates", h.defectRates)
			r.Get("/params", h.parameters)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"message": "Defect analyzer API",
		"version": apiVersion,
		"endpoints": []string{
			"GET /api/data/health",
			"POST /api/data/process",
			"GET /api/data/models",
			"GET /api/data/defect-rates?modelIds=a,b",
			"GET /api/data/params?modelIds=a,b",
			"POST /api/correlation/analyze",
			"POST /api/feature-importance/analyze",
			"POST /api/analysis/analyze",
			"GET /api/analysis/history",
			"GET /api/analysis/history/{id}",
			"GET /api/analysis/latency",
		},
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{"status": "healthy", "timestamp": h.now().UTC()})
}

func (h *handlers) process(w http.ResponseWriter, r *http.Request) {
	var body ProcessRequest
	if !h.decode(w, r, &body) {
		return
	}
	if err := validateStruct(body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	from, errFrom := utils.ParseTimestamp(body.From)
	to, errTo := utils.ParseTimestamp(body.To)
	if err := errors.Join(errFrom, errTo); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if from.After(to) {
		writeError(w, r, http.StatusBadRequest, "From date must be before or equal to To date")
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"message":     "Data processed successfully",
		"from":        from,
		"to":          to,
		"modelCount":  len(body.ModelIDs),
		"modelIds":    body.ModelIDs,
		"processedAt": h.now().UTC(),
	})
}

func (h *handlers) analyzeCorrelation(w http.ResponseWriter, r *http.Request) {
	req, ok := h.analysisRequest(w, r)
	if !ok {
		return
	}
	resp, err := h.analyzer.AnalyzeCorrelation(r.Context(), req)
	if err != nil {
		h.fail(w, r, err, "An error occurred while analyzing correlation")
		return
	}
	render.JSON(w, r, resp)
}

func (h *handlers) analyzeFeatureImportance(w http.ResponseWriter, r *http.Request) {
	req, ok := h.analysisRequest(w, r)
	if !ok {
		return
	}
	resp, err := h.analyzer.AnalyzeFeatureImportance(r.Context(), req)
	if err != nil {
		h.fail(w, r, err, "An error occurred while analyzing feature importance")
		return
	}
	render.JSON(w, r, resp)
}

func (h *handlers) analyzeAll(w http.ResponseWriter, r *http.Request) {
	req, ok := h.analysisRequest(w, r)
	if !ok {
		return
	}
	resp, err := h.analyzer.AnalyzeAll(r.Context(), req)
	if err != nil {
		h.fail(w, r, err, "An error occurred while running the analyses")
		return
	}
	render.JSON(w, r, resp)
}

func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	ids, err := h.analyzer.ListModels(r.Context())
	if err != nil {
		h.fail(w, r, err, "An error occurred while listing models")
		return
	}
	render.JSON(w, r, ids)
}

func (h *handlers) defectRates(w http.ResponseWriter, r *http.Request) {
	records, err := h.analyzer.DefectRates(r.Context(), splitIDs(r.URL.Query().Get("modelIds")))
	if err != nil {
		h.fail(w, r, err, "An error occurred while reading defect rates")
		return
	}
	render.JSON(w, r, records)
}

func (h *handlers) parameters(w http.ResponseWriter, r *http.Request) {
	records, err := h.analyzer.Parameters(r.Context(), splitIDs(r.URL.Query().Get("modelIds")))
	if err != nil {
		h.fail(w, r, err, "An error occurred while reading parameters")
		return
	}
	render.JSON(w, r, records)
}

func (h *handlers) listHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := models.ListHistoryRequest{
		Kind:      models.AnalysisKind(q.Get("kind")),
		ModelID:   q.Get("modelId"),
		PageToken: q.Get("pageToken"),
	}
	if v := q.Get("pageSize"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 0 {
			writeError(w, r, http.StatusBadRequest, "pageSize must be a non-negative integer")
			return
		}
		req.PageSize = size
	}
	for name, dst := range map[string]*time.Time{"start": &req.Start, "end": &req.End} {
		if v := q.Get(name); v != "" {
			ts, err := utils.ParseTimestamp(v)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, fmt.Sprintf("%s: %v", name, err))
				return
			}
			*dst = ts
		}
	}

	resp, err := h.analyzer.History(r.Context(), req)
	if err != nil {
		h.fail(w, r, err, "An error occurred while listing analysis history")
		return
	}
	render.JSON(w, r, resp)
}

func (h *handlers) getHistory(w http.ResponseWriter, r *http.Request) {
	rec, err := h.analyzer.HistoryRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "An error occurred while reading analysis history")
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"record":   rec,
		"response": json.RawMessage(rec.Payload),
	})
}

func (h *handlers) latency(w http.ResponseWriter, r *http.Request) {
	snap := h.analyzer.Latency()
	render.JSON(w, r, map[string]interface{}{
		"count": snap.Count,
		"p50":   snap.P50.String(),
		"p95":   snap.P95.String(),
		"p99":   snap.P99.String(),
		"max":   snap.Max.String(),
	})
}

// analysisRequest decodes and validates the body shared by the analyze routes.
func (h *handlers) analysisRequest(w http.ResponseWriter, r *http.Request) (models.AnalysisRequest, bool) {
	var body AnalyzeRequest
	if !h.decode(w, r, &body) {
		return models.AnalysisRequest{}, false
	}
	req, err := body.ToDomain()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return models.AnalysisRequest{}, false
	}
	return req, true
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		writeError(w, r, http.StatusBadRequest, "Request body cannot be null")
		return false
	}
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status, msg := httpStatus(err, fallback)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	writeError(w, r, status, msg)
}

// HTTPServer serves the REST API.
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
}

// NewHTTPServer binds the REST API to cfg.HTTPAddress.
func NewHTTPServer(cfg config.ServerConfig, analyzer Analyzer, logger *slog.Logger) (*HTTPServer, error) {
	lis, err := net.Listen("tcp", cfg.HTTPAddress)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddress, err)
	}
	return &HTTPServer{
		server: &http.Server{
			Handler:           NewRouter(analyzer, cfg.RateLimit, logger),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: lis,
	}, nil
}

// Start serves until Shutdown is invoked; it returns nil after a clean shutdown.
func (s *HTTPServer) Start() error {
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Address exposes the bound listener address (useful for tests).
func (s *HTTPServer) Address() string {
	return s.listener.Addr().String()
}
