package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/miradorstack/defect-analyzer/internal/models"
)

const (
	strongCorrelationThreshold = 0.5
	importantFeatureThreshold  = 0.15
)

// CorrelationSummary rolls correlation results up into one sentence or two.
func CorrelationSummary(results []models.CorrelationResult) string {
	if len(results) == 0 {
		return "No correlation analysis could be performed due to insufficient data."
	}

	strong := make([]models.CorrelationResult, 0, len(results))
	for _, r := range results {
		if math.Abs(r.Coefficient) >= strongCorrelationThreshold {
			strong = append(strong, r)
		}
	}
	if len(strong) == 0 {
		return fmt.Sprintf("Analyzed %d parameters. No strong correlations found with defect rate.", len(results))
	}

	sort.SliceStable(strong, func(i, j int) bool {
		return math.Abs(strong[i].Coefficient) > math.Abs(strong[j].Coefficient)
	})
	top := strong[0]
	return fmt.Sprintf("Found %d significant correlations. Strongest: %s (%.3f, %s).",
		len(strong), top.ParameterType, top.Coefficient, top.Interpretation)
}

// ImportanceSummary rolls feature-importance results up. results must already be
// sorted by descending absolute importance.
func ImportanceSummary(results []models.FeatureImportanceResult) string {
	if len(results) == 0 {
		return "No feature importance analysis could be performed due to insufficient data."
	}

	important := 0
	for _, r := range results {
		if r.AbsoluteImportance >= importantFeatureThreshold {
			important++
		}
	}
	if important == 0 {
		return fmt.Sprintf("Analyzed %d features. No highly important features found for predicting defect rate.", len(results))
	}

	top := results[0]
	return fmt.Sprintf("Found %d important features. Most important: %s (importance: %.3f, %s).",
		important, top.ParameterType, top.AbsoluteImportance, top.Interpretation)
}
