package engine

import (
	"github.com/miradorstack/defect-analyzer/internal/models"
)

// Dataset is the request-scoped join of filtered defect rates and parameters.
// It is built once and only read afterwards, so both pipelines may share it.
type Dataset struct {
	DefectRates    []models.DefectRateRecord
	Parameters     []models.ParameterRecord
	CommonLots     []string
	ParameterTypes []string

	defectByLot map[string]float64
	readings    map[string]map[string]*reading
}

type reading struct {
	sum   float64
	count int
}

// Join filters defect rates by model and parameters by inclusive date range, then
// computes the lots present in both filtered sets and the distinct parameter types.
// Common lots keep the order of first appearance among the filtered defect rates.
func Join(defects []models.DefectRateRecord, params []models.ParameterRecord, req models.AnalysisRequest) *Dataset {
	wanted := req.ModelSet()

	ds := &Dataset{
		defectByLot: make(map[string]float64),
		readings:    make(map[string]map[string]*reading),
	}

	for _, rec := range defects {
		if _, ok := wanted[rec.ModelID]; !ok {
			continue
		}
		ds.DefectRates = append(ds.DefectRates, rec)
		if _, seen := ds.defectByLot[rec.LotID]; !seen {
			ds.defectByLot[rec.LotID] = rec.Rate
		}
	}

	seenTypes := make(map[string]struct{})
	for _, rec := range params {
		if rec.Timestamp.Before(req.DateFrom) || rec.Timestamp.After(req.DateTo) {
			continue
		}
		ds.Parameters = append(ds.Parameters, rec)

		byType, ok := ds.readings[rec.LotID]
		if !ok {
			byType = make(map[string]*reading)
			ds.readings[rec.LotID] = byType
		}
		acc, ok := byType[rec.Type]
		if !ok {
			acc = &reading{}
			byType[rec.Type] = acc
		}
		acc.sum += rec.Value
		acc.count++

		if _, ok := seenTypes[rec.Type]; !ok {
			seenTypes[rec.Type] = struct{}{}
			ds.ParameterTypes = append(ds.ParameterTypes, rec.Type)
		}
	}

	seenLots := make(map[string]struct{})
	for _, rec := range ds.DefectRates {
		if _, dup := seenLots[rec.LotID]; dup {
			continue
		}
		seenLots[rec.LotID] = struct{}{}
		if _, ok := ds.readings[rec.LotID]; ok {
			ds.CommonLots = append(ds.CommonLots, rec.LotID)
		}
	}

	return ds
}

// DefectRate returns the first filtered defect rate recorded for the lot.
func (d *Dataset) DefectRate(lotID string) (float64, bool) {
	rate, ok := d.defectByLot[lotID]
	return rate, ok
}

// AverageValue returns the mean of all in-range readings of paramType for the lot.
// The result is NaN when any contributing reading is NaN.
func (d *Dataset) AverageValue(lotID, paramType string) (float64, bool) {
	byType, ok := d.readings[lotID]
	if !ok {
		return 0, false
	}
	acc, ok := byType[paramType]
	if !ok || acc.count == 0 {
		return 0, false
	}
	return acc.sum / float64(acc.count), true
}

// TotalLots is the number of common lots, the unit of analysis.
func (d *Dataset) TotalLots() int {
	return len(d.CommonLots)
}
