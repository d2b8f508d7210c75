package engine

import (
	"time"

	"github.com/miradorstack/defect-analyzer/internal/models"
)

var (
	windowStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	inWindow    = time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
)

func request(modelIDs ...string) models.AnalysisRequest {
	return models.AnalysisRequest{DateFrom: windowStart, DateTo: windowEnd, ModelIDs: modelIDs}
}

func defect(model, lot string, rate float64) models.DefectRateRecord {
	return models.DefectRateRecord{ModelID: model, LotID: lot, Rate: rate}
}

func param(lot, typ string, value float64) models.ParameterRecord {
	return models.ParameterRecord{LotID: lot, Timestamp: inWindow, Type: typ, Value: value}
}

type countingRecorder struct {
	counts map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{counts: make(map[string]int)}
}

func (c *countingRecorder) RecordSkipped(reason string, count int) {
	c.counts[reason] += count
}
