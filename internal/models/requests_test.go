package models

import (
	"errors"
	"testing"
	"time"
)

func TestAnalysisRequestValidate(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	cases := []struct {
		name    string
		req     AnalysisRequest
		wantErr bool
	}{
		{name: "valid", req: AnalysisRequest{DateFrom: from, DateTo: to, ModelIDs: []string{"M1"}}},
		{name: "no models", req: AnalysisRequest{DateFrom: from, DateTo: to}, wantErr: true},
		{name: "blank model", req: AnalysisRequest{DateFrom: from, DateTo: to, ModelIDs: []string{"M1", " "}}, wantErr: true},
		{name: "equal dates", req: AnalysisRequest{DateFrom: from, DateTo: from, ModelIDs: []string{"M1"}}, wantErr: true},
		{name: "reversed dates", req: AnalysisRequest{DateFrom: to, DateTo: from, ModelIDs: []string{"M1"}}, wantErr: true},
	}

	for _, tc := range cases {
		err := tc.req.Validate()
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("%s: expected ErrInvalidRequest, got %v", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestFingerprint(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	a := AnalysisRequest{DateFrom: from, DateTo: to, ModelIDs: []string{"M1", "M2"}}
	b := AnalysisRequest{DateFrom: from.In(time.FixedZone("X", 3600)), DateTo: to, ModelIDs: []string{"M1", "M2"}}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("expected equal fingerprints for the same instants, got %q and %q", a.Fingerprint(), b.Fingerprint())
	}

	reordered := AnalysisRequest{DateFrom: from, DateTo: to, ModelIDs: []string{"M2", "M1"}}
	if a.Fingerprint() == reordered.Fingerprint() {
		t.Fatalf("expected model order to be part of the fingerprint")
	}

	c := AnalysisRequest{DateFrom: from, DateTo: to, ModelIDs: []string{"M1"}}
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatalf("expected fingerprints to differ for different model sets")
	}
}
