package models

import "strings"

const (
	// DefaultMaxResults is the recall result cap when none is given.
	DefaultMaxResults = 15
	// DefaultMinScore is the recall score floor when none is given.
	DefaultMinScore = 0.25
	maxResultsCap   = 100
)

// RecallQuery is a retrieval request from the assistant layer.
type RecallQuery struct {
	Query      string   `json:"query"`
	MaxResults int      `json:"max_results,omitempty"`
	MinScore   *float64 `json:"min_score,omitempty"`
}

// Validate trims the query and fills in defaults.
// Returns ErrEmptyQuery if nothing is left to search for.
func (q *RecallQuery) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return ErrEmptyQuery
	}
	if q.MaxResults <= 0 {
		q.MaxResults = DefaultMaxResults
	}
	if q.MaxResults > maxResultsCap {
		q.MaxResults = maxResultsCap
	}
	if q.MinScore == nil {
		v := DefaultMinScore
		q.MinScore = &v
	}
	return nil
}

// MinScoreValue returns the score floor, or the default when unset.
func (q *RecallQuery) MinScoreValue() float64 {
	if q.MinScore == nil {
		return DefaultMinScore
	}
	return *q.MinScore
}
