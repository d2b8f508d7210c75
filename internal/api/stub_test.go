package api

import (
	"context"
	"sync"
	"time"

	"github.com/miradorstack/defect-analyzer/internal/models"
	"github.com/miradorstack/defect-analyzer/internal/utils"
)

type stubAnalyzer struct {
	mu          sync.Mutex
	lastRequest models.AnalysisRequest
	err         error

	correlation models.CorrelationResponse
	importance  models.FeatureImportanceResponse
	modelIDs    []string
	defects     []models.DefectRateRecord
	params      []models.ParameterRecord
	history     models.ListHistoryResponse
	historyReq  models.ListHistoryRequest
	record      models.AnalysisRecord
	lastIDs     []string
}

func (s *stubAnalyzer) remember(req models.AnalysisRequest) {
	s.mu.Lock()
	s.lastRequest = req
	s.mu.Unlock()
}

func (s *stubAnalyzer) AnalyzeCorrelation(_ context.Context, req models.AnalysisRequest) (models.CorrelationResponse, error) {
	s.remember(req)
	if s.err != nil {
		return models.CorrelationResponse{}, s.err
	}
	resp := s.correlation
	resp.DateFrom, resp.DateTo, resp.ModelIDs = req.DateFrom, req.DateTo, req.ModelIDs
	return resp, nil
}

func (s *stubAnalyzer) AnalyzeFeatureImportance(_ context.Context, req models.AnalysisRequest) (models.FeatureImportanceResponse, error) {
	s.remember(req)
	if s.err != nil {
		return models.FeatureImportanceResponse{}, s.err
	}
	resp := s.importance
	resp.DateFrom, resp.DateTo, resp.ModelIDs = req.DateFrom, req.DateTo, req.ModelIDs
	return resp, nil
}

func (s *stubAnalyzer) AnalyzeAll(ctx context.Context, req models.AnalysisRequest) (models.CombinedResponse, error) {
	corr, err := s.AnalyzeCorrelation(ctx, req)
	if err != nil {
		return models.CombinedResponse{}, err
	}
	imp, err := s.AnalyzeFeatureImportance(ctx, req)
	if err != nil {
		return models.CombinedResponse{}, err
	}
	return models.CombinedResponse{Correlation: corr, FeatureImportance: imp}, nil
}

func (s *stubAnalyzer) ListModels(context.Context) ([]string, error) {
	return s.modelIDs, s.err
}

func (s *stubAnalyzer) DefectRates(_ context.Context, ids []string) ([]models.DefectRateRecord, error) {
	s.lastIDs = ids
	return s.defects, s.err
}

func (s *stubAnalyzer) Parameters(_ context.Context, ids []string) ([]models.ParameterRecord, error) {
	s.lastIDs = ids
	return s.params, s.err
}

func (s *stubAnalyzer) History(_ context.Context, req models.ListHistoryRequest) (models.ListHistoryResponse, error) {
	s.historyReq = req
	return s.history, s.err
}

func (s *stubAnalyzer) HistoryRecord(_ context.Context, id string) (models.AnalysisRecord, error) {
	if s.err != nil {
		return models.AnalysisRecord{}, s.err
	}
	rec := s.record
	rec.ID = id
	return rec, nil
}

func (s *stubAnalyzer) Latency() utils.LatencySnapshot {
	return utils.LatencySnapshot{Count: 3, P50: 2 * time.Millisecond, P95: 5 * time.Millisecond, P99: 5 * time.Millisecond, Max: 5 * time.Millisecond}
}

func sampleCorrelation() models.CorrelationResponse {
	return models.CorrelationResponse{
		TotalLots: 3,
		Results: []models.CorrelationResult{{
			ParameterType:  "temp",
			Coefficient:    0.9449,
			PValue:         0.2123,
			SampleSize:     3,
			Interpretation: "Very strong positive correlation",
		}},
		Summary: "Found 1 significant correlations. Strongest: temp (0.945, Very strong positive correlation).",
	}
}
