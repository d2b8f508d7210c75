package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRequest marks requests rejected before any computation runs.
var ErrInvalidRequest = errors.New("invalid analysis request")

// AnalysisRequest selects the date window and model set an analysis runs over.
type AnalysisRequest struct {
	DateFrom time.Time
	DateTo   time.Time
	ModelIDs []string
}

// Validate enforces a non-empty model set and a strictly increasing date range.
func (r AnalysisRequest) Validate() error {
	if len(r.ModelIDs) == 0 {
		return fmt.Errorf("%w: at least one model ID must be provided", ErrInvalidRequest)
	}
	for _, id := range r.ModelIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: model IDs must not be blank", ErrInvalidRequest)
		}
	}
	if !r.DateFrom.Before(r.DateTo) {
		return fmt.Errorf("%w: DateFrom must be earlier than DateTo", ErrInvalidRequest)
	}
	return nil
}

// ModelSet returns the requested model ids as a lookup set.
func (r AnalysisRequest) ModelSet() map[string]struct{} {
	set := make(map[string]struct{}, len(r.ModelIDs))
	for _, id := range r.ModelIDs {
		set[id] = struct{}{}
	}
	return set
}

// Fingerprint is a stable textual identity of the request. Instants are compared
// in UTC; model order is kept because responses echo it.
func (r AnalysisRequest) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%s",
		r.DateFrom.UTC().Format(time.RFC3339Nano),
		r.DateTo.UTC().Format(time.RFC3339Nano),
		strings.Join(r.ModelIDs, ","))
}
