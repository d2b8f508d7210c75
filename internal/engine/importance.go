package engine

import (
	"log/slog"
	"math"
	"sort"

	"github.com/miradorstack/defect-analyzer/internal/models"
)

const (
	correlationWeight = 0.6
	varianceWeight    = 0.4
)

// ImportanceEngine scores parameter types by a blend of correlation strength and
// the target variance explained by a median split of the feature.
type ImportanceEngine struct {
	logger   *slog.Logger
	recorder SkipRecorder
}

// NewImportanceEngine constructs an ImportanceEngine. recorder may be nil.
func NewImportanceEngine(logger *slog.Logger, recorder SkipRecorder) *ImportanceEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportanceEngine{logger: logger, recorder: recorder}
}

// featureMatrix holds complete-case rows: every row has a value for every parameter type.
type featureMatrix struct {
	types   []string
	columns map[string][]float64
	target  []float64
}

func (m featureMatrix) rows() int { return len(m.target) }

// Analyze joins the records for req and runs the feature-importance analysis.
func (e *ImportanceEngine) Analyze(req models.AnalysisRequest, defects []models.DefectRateRecord, params []models.ParameterRecord) models.FeatureImportanceResponse {
	return e.AnalyzeDataset(req, Join(defects, params, req))
}

// AnalyzeDataset runs the feature-importance analysis over an already joined dataset.
func (e *ImportanceEngine) AnalyzeDataset(req models.AnalysisRequest, ds *Dataset) models.FeatureImportanceResponse {
	resp := models.FeatureImportanceResponse{
		DateFrom:  req.DateFrom,
		DateTo:    req.DateTo,
		ModelIDs:  append([]string(nil), req.ModelIDs...),
		TotalLots: ds.TotalLots(),
		Results:   []models.FeatureImportanceResult{},
	}

	matrix := e.completeCases(ds)
	e.logger.Debug("feature matrix",
		slog.Int("total_lots", ds.TotalLots()),
		slog.Int("complete_rows", matrix.rows()),
		slog.Int("parameter_types", len(matrix.types)),
	)

	if matrix.rows() >= 2 && len(matrix.types) > 0 {
		scores := scoreFeatures(matrix)
		for _, paramType := range matrix.types {
			score := scores[paramType]
			resp.Results = append(resp.Results, models.FeatureImportanceResult{
				ParameterType:      paramType,
				Importance:         Round(score, 4),
				AbsoluteImportance: Round(math.Abs(score), 4),
				SampleSize:         matrix.rows(),
				Interpretation:     InterpretImportance(score),
			})
		}
	}

	sort.SliceStable(resp.Results, func(i, j int) bool {
		return resp.Results[i].AbsoluteImportance > resp.Results[j].AbsoluteImportance
	})

	resp.Summary = ImportanceSummary(resp.Results)
	return resp
}

// completeCases keeps only lots with a finite defect rate and a finite averaged
// value for every parameter type.
func (e *ImportanceEngine) completeCases(ds *Dataset) featureMatrix {
	matrix := featureMatrix{
		types:   ds.ParameterTypes,
		columns: make(map[string][]float64, len(ds.ParameterTypes)),
	}

	dropped := 0
	for _, lot := range ds.CommonLots {
		rate, ok := ds.DefectRate(lot)
		if !ok {
			continue
		}
		if !Finite(rate) {
			dropped++
			continue
		}

		row := make([]float64, 0, len(ds.ParameterTypes))
		complete := true
		for _, paramType := range ds.ParameterTypes {
			value, ok := ds.AverageValue(lot, paramType)
			if !ok || !Finite(value) {
				complete = false
				break
			}
			row = append(row, value)
		}
		if !complete {
			dropped++
			continue
		}

		for i, paramType := range ds.ParameterTypes {
			matrix.columns[paramType] = append(matrix.columns[paramType], row[i])
		}
		matrix.target = append(matrix.target, rate)
	}

	if dropped > 0 && e.recorder != nil {
		e.recorder.RecordSkipped(SkipMissingParams, dropped)
	}
	return matrix
}

// scoreFeatures returns the combined score per type, normalized so the absolute
// values sum to 1 unless every raw score is zero.
func scoreFeatures(matrix featureMatrix) map[string]float64 {
	scores := make(map[string]float64, len(matrix.types))

	targetVariance := PopulationVariance(matrix.target)
	if IsConstant(matrix.target) || !Finite(targetVariance) || targetVariance <= 0 {
		for _, paramType := range matrix.types {
			scores[paramType] = 0
		}
		return scores
	}

	total := 0.0
	for _, paramType := range matrix.types {
		feature := matrix.columns[paramType]
		corr := math.Abs(Pearson(feature, matrix.target))
		variance := varianceImportance(feature, matrix.target, targetVariance)
		score := correlationWeight*corr + varianceWeight*variance
		if !Finite(score) {
			score = 0
		}
		scores[paramType] = score
		total += math.Abs(score)
	}

	if total > 0 {
		for paramType, score := range scores {
			scores[paramType] = score / total
		}
	}
	return scores
}

// varianceImportance is the fraction of target variance removed by splitting rows at the
// feature's upper median (values <= median on one side, > median on the other).
func varianceImportance(feature, target []float64, targetVariance float64) float64 {
	if IsConstant(target) || !Finite(targetVariance) || targetVariance <= 0 {
		return 0
	}
	median := UpperMedian(feature)

	var below, above []float64
	for i, v := range feature {
		if v <= median {
			below = append(below, target[i])
		} else {
			above = append(above, target[i])
		}
	}
	if len(below) == 0 || len(above) == 0 {
		return 0
	}

	n := float64(len(feature))
	within := float64(len(below))/n*PopulationVariance(below) +
		float64(len(above))/n*PopulationVariance(above)

	explained := (targetVariance - within) / targetVariance
	if !Finite(explained) {
		return 0
	}
	return math.Max(0, explained)
}

// InterpretImportance buckets a normalized importance by magnitude.
func InterpretImportance(importance float64) string {
	switch abs := math.Abs(importance); {
	case abs >= 0.3:
		return "High importance"
	case abs >= 0.15:
		return "Moderate importance"
	case abs >= 0.05:
		return "Low importance"
	default:
		return "Very low importance"
	}
}
