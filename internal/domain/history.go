package domain

import (
	"context"
	"time"
)

// HistoryEntry records one dispatched search for suggestion scoring.
type HistoryEntry struct {
	ID          string    `json:"id"`
	Query       string    `json:"query"`
	EngineIDs   []string  `json:"engineIds"`
	Timestamp   time.Time `json:"timestamp"`
	ResultCount int       `json:"resultCount"`
}

// Suggestion is a distinct prior query ranked against a partial input.
type Suggestion struct {
	Query string
	Score float64
}

// HistoryLog is the bounded, best-effort query log. SaveEntry must never
// block or fail a search; callers treat it as fire-and-forget.
type HistoryLog interface {
	SaveEntry(ctx context.Context, query string, engineIDs []string) error
	LoadRecent(ctx context.Context, limit int, substringFilter string) ([]HistoryEntry, error)
	Suggest(ctx context.Context, partial string, limit int) ([]Suggestion, error)
	Clear(ctx context.Context) error
}
