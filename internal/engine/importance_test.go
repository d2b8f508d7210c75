package engine

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/miradorstack/defect-analyzer/internal/models"
)

func linearFixture() ([]models.DefectRateRecord, []models.ParameterRecord) {
	var defects []models.DefectRateRecord
	var params []models.ParameterRecord
	for i, rate := range []float64{0.1, 0.2, 0.3, 0.4} {
		lot := fmt.Sprintf("L%d", i+1)
		defects = append(defects, defect("M1", lot, rate))
		params = append(params,
			param(lot, "temp", float64(10*(i+1))),
			param(lot, "const", 5),
		)
	}
	return defects, params
}

func TestImportanceConstantFeatureScoresZero(t *testing.T) {
	engine := NewImportanceEngine(nil, nil)
	defects, params := linearFixture()

	resp := engine.Analyze(request("M1"), defects, params)
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}

	top, constant := resp.Results[0], resp.Results[1]
	if top.ParameterType != "temp" || top.Importance != 1 || top.AbsoluteImportance != 1 {
		t.Fatalf("expected temp to carry all importance, got %+v", top)
	}
	if top.Interpretation != "High importance" || top.SampleSize != 4 {
		t.Fatalf("unexpected temp result: %+v", top)
	}
	if constant.ParameterType != "const" || constant.Importance != 0 {
		t.Fatalf("expected zero importance for constant feature, got %+v", constant)
	}
	if constant.Interpretation != "Very low importance" {
		t.Fatalf("unexpected interpretation %q", constant.Interpretation)
	}

	want := "Found 1 important features. Most important: temp (importance: 1.000, High importance)."
	if resp.Summary != want {
		t.Fatalf("unexpected summary %q", resp.Summary)
	}
}

func TestVarianceImportanceComponents(t *testing.T) {
	target := []float64{0.1, 0.2, 0.3, 0.4}
	total := PopulationVariance(target)

	if got := varianceImportance([]float64{5, 5, 5, 5}, target, total); got != 0 {
		t.Fatalf("expected 0 for constant feature, got %v", got)
	}
	// Upper median of 10..40 is 30, leaving {10,20,30} below and {40} above.
	if got := varianceImportance([]float64{10, 20, 30, 40}, target, total); math.Abs(got-0.6) > 1e-9 {
		t.Fatalf("expected 0.6, got %v", got)
	}
}

func TestVarianceImportanceUsesUpperMedianForEvenCounts(t *testing.T) {
	// An averaged median (2.5) would split perfectly and explain all variance;
	// the upper median (3) leaves one positive target in the lower half.
	target := []float64{0, 0, 1, 1}
	got := varianceImportance([]float64{1, 2, 3, 4}, target, PopulationVariance(target))
	if math.Abs(got-1.0/3.0) > 1e-9 {
		t.Fatalf("expected 1/3 with upper-median split, got %v", got)
	}
}

func TestImportanceCompleteCaseDropsWholeLots(t *testing.T) {
	recorder := newCountingRecorder()
	engine := NewImportanceEngine(nil, recorder)

	var defects []models.DefectRateRecord
	var params []models.ParameterRecord
	for i, temp := range []float64{10, 25, 20, 40, 35} {
		lot := fmt.Sprintf("L%d", i+1)
		defects = append(defects, defect("M1", lot, 0.02*float64(i+1)))
		params = append(params, param(lot, "temp", temp))
	}
	params = append(params, param("L1", "humidity", 55))

	resp := engine.Analyze(request("M1"), defects, params)
	if resp.TotalLots != 5 {
		t.Fatalf("expected 5 lots, got %d", resp.TotalLots)
	}
	if len(resp.Results) != 0 {
		t.Fatalf("expected no results from a single complete row, got %+v", resp.Results)
	}
	if recorder.counts[SkipMissingParams] != 4 {
		t.Fatalf("expected 4 dropped lots, got %d", recorder.counts[SkipMissingParams])
	}
	if resp.Summary != "No feature importance analysis could be performed due to insufficient data." {
		t.Fatalf("unexpected summary %q", resp.Summary)
	}
}

func TestImportanceZeroTargetVariance(t *testing.T) {
	engine := NewImportanceEngine(nil, nil)
	defects := []models.DefectRateRecord{defect("M1", "L1", 0.2), defect("M1", "L2", 0.2), defect("M1", "L3", 0.2)}
	params := []models.ParameterRecord{
		param("L1", "temp", 1), param("L2", "temp", 2), param("L3", "temp", 3),
		param("L1", "speed", 9), param("L2", "speed", 3), param("L3", "speed", 4),
	}

	resp := engine.Analyze(request("M1"), defects, params)
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	for _, res := range resp.Results {
		if res.Importance != 0 {
			t.Fatalf("expected zero importance with constant target, got %+v", res)
		}
	}
	want := "Analyzed 2 features. No highly important features found for predicting defect rate."
	if resp.Summary != want {
		t.Fatalf("unexpected summary %q", resp.Summary)
	}
}

func TestImportanceNoCommonLots(t *testing.T) {
	engine := NewImportanceEngine(nil, nil)
	defects := []models.DefectRateRecord{defect("M1", "L1", 0.1)}
	params := []models.ParameterRecord{param("L2", "temp", 1)}

	resp := engine.Analyze(request("M1"), defects, params)
	if resp.TotalLots != 0 || resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty response, got %+v", resp)
	}
}

func TestImportanceNormalizedAndSorted(t *testing.T) {
	engine := NewImportanceEngine(nil, nil)
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 20; trial++ {
		var defects []models.DefectRateRecord
		var params []models.ParameterRecord
		for i := 0; i < 12+rng.Intn(20); i++ {
			lot := fmt.Sprintf("L%d", i)
			rate := rng.Float64()
			defects = append(defects, defect("M1", lot, rate))
			params = append(params,
				param(lot, "temp", 100*rate+rng.NormFloat64()),
				param(lot, "pressure", rng.NormFloat64()),
				param(lot, "speed", -20*rate+5*rng.NormFloat64()),
			)
		}

		resp := engine.Analyze(request("M1"), defects, params)
		if len(resp.Results) != 3 {
			t.Fatalf("expected 3 results, got %d", len(resp.Results))
		}

		sum := 0.0
		for i, res := range resp.Results {
			sum += res.AbsoluteImportance
			if i > 0 && res.AbsoluteImportance > resp.Results[i-1].AbsoluteImportance {
				t.Fatalf("results not sorted descending: %+v", resp.Results)
			}
		}
		if math.Abs(sum-1) > 1e-3 {
			t.Fatalf("expected absolute importances to sum to 1, got %v", sum)
		}
	}
}

func TestInterpretImportance(t *testing.T) {
	cases := map[float64]string{
		0.3:   "High importance",
		-0.45: "High importance",
		0.15:  "Moderate importance",
		0.05:  "Low importance",
		0.049: "Very low importance",
	}
	for importance, want := range cases {
		if got := InterpretImportance(importance); got != want {
			t.Fatalf("importance %v: expected %q, got %q", importance, want, got)
		}
	}
}

func TestImportanceConstantFractionalTargets(t *testing.T) {
	for _, rate := range []float64{0.2, 0.7} {
		engine := NewImportanceEngine(nil, nil)
		defects := []models.DefectRateRecord{
			defect("M1", "L1", rate), defect("M1", "L2", rate), defect("M1", "L3", rate), defect("M1", "L4", rate),
		}
		params := []models.ParameterRecord{
			param("L1", "temp", 1), param("L2", "temp", 2), param("L3", "temp", 3), param("L4", "temp", 4),
			param("L1", "speed", 7), param("L2", "speed", 1), param("L3", "speed", 5), param("L4", "speed", 2),
		}

		resp := engine.Analyze(request("M1"), defects, params)
		if len(resp.Results) != 2 {
			t.Fatalf("rate %v: expected 2 results, got %d", rate, len(resp.Results))
		}
		for _, res := range resp.Results {
			if res.Importance != 0 || res.Interpretation != "Very low importance" {
				t.Fatalf("rate %v: expected zero importance, got %+v", rate, res)
			}
		}

		target := []float64{rate, rate, rate}
		if got := varianceImportance([]float64{1, 2, 3}, target, PopulationVariance(target)); got != 0 {
			t.Fatalf("rate %v: expected variance importance 0, got %v", rate, got)
		}
	}
}

func TestImportanceDropsNonFiniteLots(t *testing.T) {
	recorder := newCountingRecorder()
	engine := NewImportanceEngine(nil, recorder)
	defects := []models.DefectRateRecord{
		defect("M1", "L1", 0.1), defect("M1", "L2", 0.2), defect("M1", "L3", 0.3),
		defect("M1", "L4", 0.4), defect("M1", "L5", math.Inf(1)),
	}
	params := []models.ParameterRecord{
		param("L1", "temp", 1), param("L2", "temp", math.Inf(1)), param("L3", "temp", 3),
		param("L4", "temp", 4), param("L5", "temp", 5),
	}

	resp := engine.Analyze(request("M1"), defects, params)
	if len(resp.Results) != 1 {
		t.Fatalf("expected 1 result, got %+v", resp.Results)
	}
	res := resp.Results[0]
	if res.SampleSize != 3 || !Finite(res.Importance) || res.AbsoluteImportance != 1 {
		t.Fatalf("expected finite importance over 3 lots, got %+v", res)
	}
	if recorder.counts[SkipMissingParams] != 2 {
		t.Fatalf("expected 2 dropped lots, got %d", recorder.counts[SkipMissingParams])
	}
}
