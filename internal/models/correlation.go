package models

import "time"

// CorrelationResult reports the Pearson relationship between one parameter type and defect rate.
type CorrelationResult struct {
	ParameterType  string  `json:"parameterType"`
	Coefficient    float64 `json:"correlationCoefficient"`
	PValue         float64 `json:"pValue"`
	SampleSize     int     `json:"sampleSize"`
	Interpretation string  `json:"interpretation"`
}

// CorrelationResponse is the full correlation analysis for one request.
type CorrelationResponse struct {
	DateFrom  time.Time           `json:"dateFrom"`
	DateTo    time.Time           `json:"dateTo"`
	ModelIDs  []string            `json:"modelIds"`
	TotalLots int                 `json:"totalLots"`
	Results   []CorrelationResult `json:"results"`
	Summary   string              `json:"summary"`
}

// FeatureImportanceResult reports the normalized importance of one parameter type.
type FeatureImportanceResult struct {
	ParameterType      string  `json:"parameterType"`
	Importance         float64 `json:"importance"`
	AbsoluteImportance float64 `json:"absoluteImportance"`
	SampleSize         int     `json:"sampleSize"`
	Interpretation     string  `json:"interpretation"`
}

// FeatureImportanceResponse is the full feature-importance analysis for one request.
type FeatureImportanceResponse struct {
	DateFrom  time.Time                 `json:"dateFrom"`
	DateTo    time.Time                 `json:"dateTo"`
	ModelIDs  []string                  `json:"modelIds"`
	TotalLots int                       `json:"totalLots"`
	Results   []FeatureImportanceResult `json:"results"`
	Summary   string                    `json:"summary"`
}

// CombinedResponse carries both analyses computed over the same joined dataset.
type CombinedResponse struct {
	Correlation       CorrelationResponse       `json:"correlation"`
	FeatureImportance FeatureImportanceResponse `json:"featureImportance"`
}

// AnalysisKind enumerates the analyses the engine offers.
type AnalysisKind string

const (
	AnalysisKindCorrelation       AnalysisKind = "correlation"
	AnalysisKindFeatureImportance AnalysisKind = "feature_importance"
)
