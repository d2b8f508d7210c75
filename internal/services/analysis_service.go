package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/defect-analyzer/internal/cache"
	"github.com/miradorstack/defect-analyzer/internal/engine"
	"github.com/miradorstack/defect-analyzer/internal/metrics"
	"github.com/miradorstack/defect-analyzer/internal/models"
	"github.com/miradorstack/defect-analyzer/internal/telemetry"
	"github.com/miradorstack/defect-analyzer/internal/utils"
)

// ErrInvalidRequest is returned for requests rejected before any computation.
var ErrInvalidRequest = models.ErrInvalidRequest

// ErrHistoryDisabled is returned by history lookups when no store is configured.
var ErrHistoryDisabled = errors.New("analysis history is not enabled")

const kindCombined = "combined"

// DatasetSource returns the current snapshot of both record sets.
type DatasetSource interface {
	Load(ctx context.Context) (*models.Datasets, error)
}

// HistoryRepo persists completed analyses.
type HistoryRepo interface {
	Save(ctx context.Context, rec models.AnalysisRecord) error
	List(ctx context.Context, req models.ListHistoryRequest) (models.ListHistoryResponse, error)
	Get(ctx context.Context, id string) (models.AnalysisRecord, error)
}

// AnalysisService runs the correlation and feature-importance analyses over the
// loaded datasets and serves the supporting data lookups.
type AnalysisService struct {
	logger      *slog.Logger
	datasets    DatasetSource
	history     HistoryRepo
	cache       cache.Provider
	cacheTTL    time.Duration
	correlation *engine.CorrelationEngine
	importance  *engine.ImportanceEngine
	latencies   *utils.LatencyTracker
	tracer      trace.Tracer
	newID       func() string
	now         func() time.Time
}

// NewAnalysisService constructs the service facade. history and cacheProvider may be nil.
func NewAnalysisService(logger *slog.Logger, datasets DatasetSource, history HistoryRepo, cacheProvider cache.Provider, cacheTTL time.Duration) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	recorder := metrics.SkipCounter{}
	return &AnalysisService{
		logger:      logger,
		datasets:    datasets,
		history:     history,
		cache:       cacheProvider,
		cacheTTL:    cacheTTL,
		correlation: engine.NewCorrelationEngine(logger, recorder),
		importance:  engine.NewImportanceEngine(logger, recorder),
		latencies:   utils.NewLatencyTracker(1024),
		tracer:      telemetry.Tracer(),
		newID:       func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// AnalyzeCorrelation computes Pearson correlations between each parameter type and defect rate.
func (s *AnalysisService) AnalyzeCorrelation(ctx context.Context, req models.AnalysisRequest) (models.CorrelationResponse, error) {
	ctx, span := s.startSpan(ctx, "AnalysisService.AnalyzeCorrelation", req)
	defer span.End()

	start := s.now()
	kind := string(models.AnalysisKindCorrelation)
	ds, err := s.prepare(ctx, span, kind, req, start)
	if err != nil {
		return models.CorrelationResponse{}, err
	}

	resp, err := s.runCorrelation(ctx, req, ds, s.joiner(ds, req))
	s.finish(span, kind, start, err)
	return resp, err
}

// AnalyzeFeatureImportance ranks parameter types by their importance for predicting defect rate.
func (s *AnalysisService) AnalyzeFeatureImportance(ctx context.Context, req models.AnalysisRequest) (models.FeatureImportanceResponse, error) {
	ctx, span := s.startSpan(ctx, "AnalysisService.AnalyzeFeatureImportance", req)
	defer span.End()

	start := s.now()
	kind := string(models.AnalysisKindFeatureImportance)
	ds, err := s.prepare(ctx, span, kind, req, start)
	if err != nil {
		return models.FeatureImportanceResponse{}, err
	}

	resp, err := s.runImportance(ctx, req, ds, s.joiner(ds, req))
	s.finish(span, kind, start, err)
	return resp, err
}

// AnalyzeAll runs both analyses concurrently over one load and one join.
func (s *AnalysisService) AnalyzeAll(ctx context.Context, req models.AnalysisRequest) (models.CombinedResponse, error) {
	ctx, span := s.startSpan(ctx, "AnalysisService.AnalyzeAll", req)
	defer span.End()

	start := s.now()
	ds, err := s.prepare(ctx, span, kindCombined, req, start)
	if err != nil {
		return models.CombinedResponse{}, err
	}

	join := s.joiner(ds, req)
	var out models.CombinedResponse
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp, err := s.runCorrelation(gctx, req, ds, join)
		out.Correlation = resp
		return err
	})
	g.Go(func() error {
		resp, err := s.runImportance(gctx, req, ds, join)
		out.FeatureImportance = resp
		return err
	})
	err = g.Wait()
	s.finish(span, kindCombined, start, err)
	if err != nil {
		return models.CombinedResponse{}, err
	}
	return out, nil
}

// ListModels returns the distinct model ids present in the defect-rate data, sorted.
func (s *AnalysisService) ListModels(ctx context.Context) ([]string, error) {
	ds, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	out := []string{}
	for _, rec := range ds.DefectRates {
		if rec.ModelID == "" {
			continue
		}
		if _, ok := seen[rec.ModelID]; ok {
			continue
		}
		seen[rec.ModelID] = struct{}{}
		out = append(out, rec.ModelID)
	}
	sort.Strings(out)
	return out, nil
}

// DefectRates returns the defect-rate records of the given models; all records when modelIDs is empty.
func (s *AnalysisService) DefectRates(ctx context.Context, modelIDs []string) ([]models.DefectRateRecord, error) {
	ds, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	wanted := models.AnalysisRequest{ModelIDs: modelIDs}.ModelSet()
	out := []models.DefectRateRecord{}
	for _, rec := range ds.DefectRates {
		if len(wanted) > 0 {
			if _, ok := wanted[rec.ModelID]; !ok {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// Parameters returns parameter records whose lot id starts with one of the given
// model ids; all records when modelIDs is empty. Lot ids are conventionally
// prefixed with their model id.
func (s *AnalysisService) Parameters(ctx context.Context, modelIDs []string) ([]models.ParameterRecord, error) {
	ds, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := []models.ParameterRecord{}
	for _, rec := range ds.Parameters {
		if len(modelIDs) > 0 && !hasAnyPrefix(rec.LotID, modelIDs) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// History lists previously completed analyses.
func (s *AnalysisService) History(ctx context.Context, req models.ListHistoryRequest) (models.ListHistoryResponse, error) {
	if s.history == nil {
		return models.ListHistoryResponse{}, ErrHistoryDisabled
	}
	resp, err := s.history.List(ctx, req)
	if errors.Is(err, ErrInvalidRequest) {
		return models.ListHistoryResponse{}, err
	}
	if err != nil {
		return models.ListHistoryResponse{}, utils.NewAppError("services.History", "failed to list analysis history", err)
	}
	return resp, nil
}

// HistoryRecord returns one stored analysis including its response payload.
func (s *AnalysisService) HistoryRecord(ctx context.Context, id string) (models.AnalysisRecord, error) {
	if s.history == nil {
		return models.AnalysisRecord{}, ErrHistoryDisabled
	}
	return s.history.Get(ctx, id)
}

// Latency returns percentiles of recent successful analyses.
func (s *AnalysisService) Latency() utils.LatencySnapshot {
	return s.latencies.Snapshot()
}

func (s *AnalysisService) runCorrelation(ctx context.Context, req models.AnalysisRequest, ds *models.Datasets, join func() *engine.Dataset) (models.CorrelationResponse, error) {
	return analyze(ctx, s, models.AnalysisKindCorrelation, req, ds,
		func() models.CorrelationResponse { return s.correlation.AnalyzeDataset(req, join()) },
		func(r models.CorrelationResponse) (int, int, string) { return r.TotalLots, len(r.Results), r.Summary },
	)
}

func (s *AnalysisService) runImportance(ctx context.Context, req models.AnalysisRequest, ds *models.Datasets, join func() *engine.Dataset) (models.FeatureImportanceResponse, error) {
	return analyze(ctx, s, models.AnalysisKindFeatureImportance, req, ds,
		func() models.FeatureImportanceResponse { return s.importance.AnalyzeDataset(req, join()) },
		func(r models.FeatureImportanceResponse) (int, int, string) { return r.TotalLots, len(r.Results), r.Summary },
	)
}

// analyze serves one analysis from the response cache or computes it, then caches
// and records it. Cache and history failures are logged and never fail the analysis.
func analyze[T any](ctx context.Context, s *AnalysisService, kind models.AnalysisKind, req models.AnalysisRequest, ds *models.Datasets, compute func() T, describe func(T) (int, int, string)) (T, error) {
	var zero T
	key := cacheKey(kind, ds.Version, req)

	if cached, err := s.cache.Get(ctx, key); err == nil {
		var resp T
		if err := json.Unmarshal(cached, &resp); err == nil {
			s.logger.Debug("analysis served from cache", slog.String("kind", string(kind)))
			return resp, nil
		}
		s.logger.Warn("discarding undecodable cache entry", slog.String("key", key))
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("cache lookup failed", slog.String("kind", string(kind)), slog.Any("error", err))
	}

	if err := ctx.Err(); err != nil {
		return zero, err
	}
	resp := compute()

	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal analysis response", slog.String("kind", string(kind)), slog.Any("error", err))
		return resp, nil
	}
	if err := s.cache.Set(ctx, key, payload, s.cacheTTL); err != nil {
		s.logger.Warn("cache store failed", slog.String("kind", string(kind)), slog.Any("error", err))
	}

	totalLots, resultCount, summary := describe(resp)
	s.record(ctx, models.AnalysisRecord{
		Kind:        kind,
		DateFrom:    req.DateFrom,
		DateTo:      req.DateTo,
		ModelIDs:    append([]string(nil), req.ModelIDs...),
		TotalLots:   totalLots,
		ResultCount: resultCount,
		Summary:     summary,
		Payload:     payload,
		CreatedAt:   s.now(),
	})
	return resp, nil
}

func (s *AnalysisService) record(ctx context.Context, rec models.AnalysisRecord) {
	if s.history == nil {
		return
	}
	rec.ID = s.newID()
	if err := s.history.Save(ctx, rec); err != nil {
		s.logger.Warn("failed to store analysis history", slog.String("kind", string(rec.Kind)), slog.Any("error", err))
	}
}

// prepare validates req and loads the datasets, recording the failure outcome when either step fails.
func (s *AnalysisService) prepare(ctx context.Context, span trace.Span, kind string, req models.AnalysisRequest, start time.Time) (*models.Datasets, error) {
	if err := req.Validate(); err != nil {
		metrics.ObserveAnalysis(kind, s.now().Sub(start), metrics.OutcomeInvalid)
		span.SetStatus(codes.Error, "invalid request")
		return nil, err
	}
	ds, err := s.load(ctx)
	if err != nil {
		metrics.ObserveAnalysis(kind, s.now().Sub(start), metrics.OutcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "dataset load failed")
		s.logger.Error("dataset load failed", slog.String("kind", kind), slog.Any("error", err))
		return nil, err
	}
	span.SetAttributes(attribute.String("dataset.version", ds.Version))
	return ds, nil
}

func (s *AnalysisService) finish(span trace.Span, kind string, start time.Time, err error) {
	duration := s.now().Sub(start)
	if err != nil {
		metrics.ObserveAnalysis(kind, duration, metrics.OutcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	metrics.ObserveAnalysis(kind, duration, metrics.OutcomeSuccess)
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		snap := s.latencies.Snapshot()
		s.logger.Info("analysis latency", slog.Duration("p95", snap.P95), slog.Int("samples", snap.Count))
	}
}

func (s *AnalysisService) load(ctx context.Context) (*models.Datasets, error) {
	if s.datasets == nil {
		return nil, utils.NewAppError("services.load", "dataset source not configured", nil)
	}
	ds, err := s.datasets.Load(ctx)
	if err != nil {
		return nil, utils.NewAppError("services.load", "failed to load datasets", err)
	}
	return ds, nil
}

func (s *AnalysisService) joiner(ds *models.Datasets, req models.AnalysisRequest) func() *engine.Dataset {
	return sync.OnceValue(func() *engine.Dataset {
		return engine.Join(ds.DefectRates, ds.Parameters, req)
	})
}

func (s *AnalysisService) startSpan(ctx context.Context, name string, req models.AnalysisRequest) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.StringSlice("analysis.model_ids", req.ModelIDs),
		attribute.String("analysis.date_from", req.DateFrom.UTC().Format(time.RFC3339)),
		attribute.String("analysis.date_to", req.DateTo.UTC().Format(time.RFC3339)),
	))
}

func cacheKey(kind models.AnalysisKind, version string, req models.AnalysisRequest) string {
	return "analysis:" + string(kind) + ":" + version + ":" + req.Fingerprint()
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
