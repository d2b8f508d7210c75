package engine

import (
	"log/slog"
	"math"

	"github.com/miradorstack/defect-analyzer/internal/models"
)

// Skip reasons reported while pairing lots with parameter values.
const (
	SkipMissingDefectRate = "missing_defect_rate"
	SkipMissingParams     = "missing_params"
	SkipNaNValue          = "nan_value" // NaN or infinite
)

// SkipRecorder receives counts of lots dropped from an analysis. It is diagnostic only.
type SkipRecorder interface {
	RecordSkipped(reason string, count int)
}

// CorrelationEngine pairs each common lot's defect rate with its averaged parameter
// value and reports a Pearson coefficient and p-value per parameter type.
type CorrelationEngine struct {
	logger   *slog.Logger
	recorder SkipRecorder
}

// NewCorrelationEngine constructs a CorrelationEngine. recorder may be nil.
func NewCorrelationEngine(logger *slog.Logger, recorder SkipRecorder) *CorrelationEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &CorrelationEngine{logger: logger, recorder: recorder}
}

// Analyze joins the records for req and runs the correlation analysis.
func (e *CorrelationEngine) Analyze(req models.AnalysisRequest, defects []models.DefectRateRecord, params []models.ParameterRecord) models.CorrelationResponse {
	return e.AnalyzeDataset(req, Join(defects, params, req))
}

// AnalyzeDataset runs the correlation analysis over an already joined dataset.
// Each parameter type drops lots independently; types with fewer than two pairs are omitted.
func (e *CorrelationEngine) AnalyzeDataset(req models.AnalysisRequest, ds *Dataset) models.CorrelationResponse {
	resp := models.CorrelationResponse{
		DateFrom:  req.DateFrom,
		DateTo:    req.DateTo,
		ModelIDs:  append([]string(nil), req.ModelIDs...),
		TotalLots: ds.TotalLots(),
		Results:   []models.CorrelationResult{},
	}

	for _, paramType := range ds.ParameterTypes {
		rates, values, skipped := e.pairs(ds, paramType)

		e.logger.Debug("correlation pairs",
			slog.String("parameter", paramType),
			slog.Int("total_lots", ds.TotalLots()),
			slog.Int("missing_defect_rate", skipped.missingDefectRate),
			slog.Int("missing_params", skipped.missingParams),
			slog.Int("nan_values", skipped.nanValues),
			slog.Int("valid_samples", len(rates)),
		)
		e.record(skipped)

		if len(rates) < 2 {
			continue
		}

		r := Pearson(rates, values)
		resp.Results = append(resp.Results, models.CorrelationResult{
			ParameterType:  paramType,
			Coefficient:    Round(r, 4),
			PValue:         PValue(r, len(rates)),
			SampleSize:     len(rates),
			Interpretation: InterpretCorrelation(r),
		})
	}

	resp.Summary = CorrelationSummary(resp.Results)
	return resp
}

type skipCounts struct {
	missingDefectRate int
	missingParams     int
	nanValues         int
}

func (e *CorrelationEngine) pairs(ds *Dataset, paramType string) (rates, values []float64, skipped skipCounts) {
	for _, lot := range ds.CommonLots {
		value, ok := ds.AverageValue(lot, paramType)
		if !ok {
			skipped.missingParams++
			continue
		}
		rate, ok := ds.DefectRate(lot)
		if !ok {
			skipped.missingDefectRate++
			continue
		}
		if !Finite(value) || !Finite(rate) {
			skipped.nanValues++
			continue
		}
		rates = append(rates, rate)
		values = append(values, value)
	}
	return rates, values, skipped
}

func (e *CorrelationEngine) record(s skipCounts) {
	if e.recorder == nil {
		return
	}
	if s.missingDefectRate > 0 {
		e.recorder.RecordSkipped(SkipMissingDefectRate, s.missingDefectRate)
	}
	if s.missingParams > 0 {
		e.recorder.RecordSkipped(SkipMissingParams, s.missingParams)
	}
	if s.nanValues > 0 {
		e.recorder.RecordSkipped(SkipNaNValue, s.nanValues)
	}
}

// InterpretCorrelation buckets a coefficient by magnitude and names its direction.
func InterpretCorrelation(r float64) string {
	direction := "positive"
	if r < 0 {
		direction = "negative"
	}

	switch abs := math.Abs(r); {
	case abs >= 0.9:
		return "Very strong " + direction + " correlation"
	case abs >= 0.7:
		return "Strong " + direction + " correlation"
	case abs >= 0.5:
		return "Moderate " + direction + " correlation"
	case abs >= 0.3:
		return "Weak " + direction + " correlation"
	default:
		return "Very weak or no correlation"
	}
}
