package models

import "time"

// AnalysisRecord is a persisted summary of a completed analysis.
type AnalysisRecord struct {
	ID          string       `json:"id"`
	Kind        AnalysisKind `json:"kind"`
	DateFrom    time.Time    `json:"dateFrom"`
	DateTo      time.Time    `json:"dateTo"`
	ModelIDs    []string     `json:"modelIds"`
	TotalLots   int          `json:"totalLots"`
	ResultCount int          `json:"resultCount"`
	Summary     string       `json:"summary"`
	Payload     []byte       `json:"-"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// ListHistoryRequest captures filters for past analyses.
type ListHistoryRequest struct {
	Kind      AnalysisKind
	ModelID   string
	Start     time.Time
	End       time.Time
	PageSize  int
	PageToken string
}

// ListHistoryResponse contains history records and pagination state.
type ListHistoryResponse struct {
	Records       []AnalysisRecord `json:"records"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}
