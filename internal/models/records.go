package models

import "time"

// DefectRateRecord is one defect-rate row: the measured rate for a lot of a given model.
type DefectRateRecord struct {
	ModelID string  `json:"modelId"`
	LotID   string  `json:"lotId"`
	Rate    float64 `json:"defectRate"`
}

// ParameterRecord is one process-parameter reading taken for a lot.
// A lot may carry several readings of the same type; consumers average them.
type ParameterRecord struct {
	LotID     string    `json:"lotId"`
	Timestamp time.Time `json:"dateTime"`
	Type      string    `json:"type"`
	Value     float64   `json:"value"`
}

// Datasets bundles both loaded record sequences with a version tag identifying the source snapshot.
type Datasets struct {
	DefectRates []DefectRateRecord
	Parameters  []ParameterRecord
	Version     string
	LoadedAt    time.Time
}
