package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/defect-analyzer/internal/config"
	"github.com/miradorstack/defect-analyzer/internal/loader"
	"github.com/miradorstack/defect-analyzer/internal/models"
	"github.com/miradorstack/defect-analyzer/internal/repo"
	"github.com/miradorstack/defect-analyzer/internal/services"
	"github.com/miradorstack/defect-analyzer/internal/utils"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(a Analyzer) http.Handler {
	return NewRouter(a, config.RateLimitConfig{}, quietLogger())
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

const validBody = `{"dateFrom":"2024-01-01","dateTo":"2024-01-31T23:59:59Z","modelIds":["M1","M2"]}`

func TestAnalyzeCorrelation(t *testing.T) {
	stub := &stubAnalyzer{correlation: sampleCorrelation()}
	rec := doJSON(t, newTestRouter(stub), http.MethodPost, "/api/correlation/analyze", validBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.CorrelationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"M1", "M2"}, resp.ModelIDs)
	assert.Equal(t, 3, resp.TotalLots)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "temp", resp.Results[0].ParameterType)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), stub.lastRequest.DateFrom)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC), stub.lastRequest.DateTo)
}

func TestAnalyzeFeatureImportanceAndCombined(t *testing.T) {
	stub := &stubAnalyzer{
		correlation: sampleCorrelation(),
		importance: models.FeatureImportanceResponse{
			TotalLots: 3,
			Results:   []models.FeatureImportanceResult{{ParameterType: "temp", Importance: 1, AbsoluteImportance: 1, SampleSize: 3, Interpretation: "High importance"}},
		},
	}
	router := newTestRouter(stub)

	rec := doJSON(t, router, http.MethodPost, "/api/feature-importance/analyze", validBody)
	require.Equal(t, http.StatusOK, rec.Code)
	var imp models.FeatureImportanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &imp))
	assert.Equal(t, "High importance", imp.Results[0].Interpretation)

	rec = doJSON(t, router, http.MethodPost, "/api/analysis/analyze", validBody)
	require.Equal(t, http.StatusOK, rec.Code)
	var combined models.CombinedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &combined))
	assert.Len(t, combined.Correlation.Results, 1)
	assert.Len(t, combined.FeatureImportance.Results, 1)
}

func TestAnalyzeRejectsInvalidRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"empty body", "", "Request body cannot be null"},
		{"malformed json", `{"dateFrom":`, "invalid JSON body"},
		{"missing models", `{"dateFrom":"2024-01-01","dateTo":"2024-02-01"}`, "modelIds is required"},
		{"empty models", `{"dateFrom":"2024-01-01","dateTo":"2024-02-01","modelIds":[]}`, "modelIds must contain at least 1 item(s)"},
		{"blank model", `{"dateFrom":"2024-01-01","dateTo":"2024-02-01","modelIds":["M1",""]}`, "is required"},
		{"bad date", `{"dateFrom":"yesterday","dateTo":"2024-02-01","modelIds":["M1"]}`, "dateFrom"},
		{"reversed range", `{"dateFrom":"2024-02-01","dateTo":"2024-01-01","modelIds":["M1"]}`, "DateFrom must be earlier than DateTo"},
		{"equal range", `{"dateFrom":"2024-01-01","dateTo":"2024-01-01","modelIds":["M1"]}`, "DateFrom must be earlier than DateTo"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubAnalyzer{}
			rec := doJSON(t, newTestRouter(stub), http.MethodPost, "/api/correlation/analyze", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, decodeError(t, rec), tc.want)
			assert.Empty(t, stub.lastRequest.ModelIDs, "analyzer must not run")
		})
	}
}

func TestAnalyzeMapsServiceErrors(t *testing.T) {
	missing := fmt.Errorf("load datasets: %w", fmt.Errorf("%w: data/defect_rate.csv", loader.ErrMissingSource))

	cases := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{"missing source", missing, http.StatusNotFound, "record source not found: data/defect_rate.csv"},
		{"invalid", fmt.Errorf("%w: nope", models.ErrInvalidRequest), http.StatusBadRequest, "nope"},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, "An error occurred while analyzing correlation"},
		{"app error", utils.NewAppError("services.load", "failed to load datasets", errors.New("disk on fire")), http.StatusInternalServerError, "failed to load datasets"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubAnalyzer{err: tc.err}
			rec := doJSON(t, newTestRouter(stub), http.MethodPost, "/api/correlation/analyze", validBody)
			require.Equal(t, tc.status, rec.Code)
			msg := decodeError(t, rec)
			assert.Contains(t, msg, tc.want)
			assert.NotContains(t, msg, "disk on fire")
		})
	}
}

func TestAnalyzeRateLimited(t *testing.T) {
	stub := &stubAnalyzer{correlation: sampleCorrelation()}
	router := NewRouter(stub, config.RateLimitConfig{RPS: 0.001, Burst: 1}, quietLogger())

	first := doJSON(t, router, http.MethodPost, "/api/correlation/analyze", validBody)
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, router, http.MethodPost, "/api/correlation/analyze", validBody)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	// data routes are not limited
	health := doJSON(t, router, http.MethodGet, "/api/data/health", "")
	assert.Equal(t, http.StatusOK, health.Code)
}

func TestDataRoutes(t *testing.T) {
	ts := time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC)
	stub := &stubAnalyzer{
		modelIDs: []string{"M1", "M2"},
		defects:  []models.DefectRateRecord{{ModelID: "M1", LotID: "M1-L1", Rate: 0.02}},
		params:   []models.ParameterRecord{{LotID: "M1-L1", Timestamp: ts, Type: "temp", Value: 200}},
	}
	router := newTestRouter(stub)

	rec := doJSON(t, router, http.MethodGet, "/api/data/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ids []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ids))
	assert.Equal(t, []string{"M1", "M2"}, ids)

	rec = doJSON(t, router, http.MethodGet, "/api/data/defect-rates?modelIds=M1,%20,M2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"M1", "M2"}, stub.lastIDs)
	assert.Contains(t, rec.Body.String(), `"defectRate":0.02`)

	rec = doJSON(t, router, http.MethodGet, "/api/data/params?modelIds=M1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var params []models.ParameterRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &params))
	require.Len(t, params, 1)
	assert.True(t, params[0].Timestamp.Equal(ts))
}

func TestDataRoutesMissingSource(t *testing.T) {
	stub := &stubAnalyzer{err: fmt.Errorf("%w: data/params.csv", loader.ErrMissingSource)}
	rec := doJSON(t, newTestRouter(stub), http.MethodGet, "/api/data/models", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "record source not found: data/params.csv", decodeError(t, rec))
}

func TestProcessEcho(t *testing.T) {
	router := newTestRouter(&stubAnalyzer{})

	rec := doJSON(t, router, http.MethodPost, "/api/data/process", `{"from":"2024-01-01","to":"2024-01-02","modelIds":["M1"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Data processed successfully", body["message"])
	assert.EqualValues(t, 1, body["modelCount"])

	rec = doJSON(t, router, http.MethodPost, "/api/data/process", `{"from":"2024-01-02","to":"2024-01-01","modelIds":["M1"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "From date must be before or equal to To date", decodeError(t, rec))
}

func TestHistoryRoutes(t *testing.T) {
	stub := &stubAnalyzer{
		history: models.ListHistoryResponse{
			Records:       []models.AnalysisRecord{{ID: "a1", Kind: models.AnalysisKindCorrelation}},
			NextPageToken: "1",
		},
		record: models.AnalysisRecord{Kind: models.AnalysisKindCorrelation, Payload: []byte(`{"totalLots":3}`)},
	}
	router := newTestRouter(stub)

	rec := doJSON(t, router, http.MethodGet, "/api/analysis/history?kind=correlation&modelId=M1&pageSize=5&pageToken=2&start=2024-01-01", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.AnalysisKindCorrelation, stub.historyReq.Kind)
	assert.Equal(t, "M1", stub.historyReq.ModelID)
	assert.Equal(t, 5, stub.historyReq.PageSize)
	assert.Equal(t, "2", stub.historyReq.PageToken)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), stub.historyReq.Start)
	assert.True(t, stub.historyReq.End.IsZero())
	assert.Contains(t, rec.Body.String(), `"nextPageToken":"1"`)

	rec = doJSON(t, router, http.MethodGet, "/api/analysis/history?pageSize=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/analysis/history/abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Record   models.AnalysisRecord `json:"record"`
		Response map[string]int        `json:"response"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "abc", detail.Record.ID)
	assert.Equal(t, 3, detail.Response["totalLots"])
}

func TestHistoryNotFound(t *testing.T) {
	stub := &stubAnalyzer{err: repo.ErrNotFound}
	rec := doJSON(t, newTestRouter(stub), http.MethodGet, "/api/analysis/history/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "analysis not found", decodeError(t, rec))
}

func TestHistoryMalformedPageToken(t *testing.T) {
	store, err := repo.NewHistoryStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	router := newTestRouter(services.NewAnalysisService(quietLogger(), nil, store, nil, 0))

	for _, token := range []string{"abc", "-3"} {
		rec := doJSON(t, router, http.MethodGet, "/api/analysis/history?pageToken="+token, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, token)
		assert.Contains(t, decodeError(t, rec), "invalid page token")
	}

	rec := doJSON(t, router, http.MethodGet, "/api/analysis/history?pageToken=0", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLatencyRoute(t *testing.T) {
	rec := doJSON(t, newTestRouter(&stubAnalyzer{}), http.MethodGet, "/api/analysis/latency", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":3,"p50":"2ms","p95":"5ms","p99":"5ms","max":"5ms"}`, rec.Body.String())
}

func TestCORSAndFallbackRoutes(t *testing.T) {
	router := newTestRouter(&stubAnalyzer{})

	rec := doJSON(t, router, http.MethodOptions, "/api/correlation/analyze", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = doJSON(t, router, http.MethodGet, "/api/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "route not found", decodeError(t, rec))

	rec = doJSON(t, router, http.MethodGet, "/api/correlation/analyze", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = doJSON(t, router, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "POST /api/correlation/analyze")
}
