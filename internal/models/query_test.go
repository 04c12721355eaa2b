package models

import (
	"testing"
)

func TestRecallQuery_Validate(t *testing.T) {
	zero := 0.0
	tests := []struct {
		name         string
		query        *RecallQuery
		wantErr      bool
		wantMax      int
		wantMinScore float64
	}{
		{"empty query", &RecallQuery{Query: ""}, true, 0, 0},
		{"blank query", &RecallQuery{Query: "   "}, true, 0, 0},
		{"defaults", &RecallQuery{Query: "hello"}, false, DefaultMaxResults, DefaultMinScore},
		{"caps max results", &RecallQuery{Query: "x", MaxResults: 500}, false, 100, DefaultMinScore},
		{"keeps explicit zero min score", &RecallQuery{Query: "x", MinScore: &zero}, false, DefaultMaxResults, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.query.MaxResults != tt.wantMax {
				t.Errorf("MaxResults = %d, want %d", tt.query.MaxResults, tt.wantMax)
			}
			if tt.query.MinScoreValue() != tt.wantMinScore {
				t.Errorf("MinScore = %f, want %f", tt.query.MinScoreValue(), tt.wantMinScore)
			}
		})
	}
}
