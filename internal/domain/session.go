package domain

import "time"

// ResultStatus is the settlement state of one engine's slot in a session.
type ResultStatus string

const (
	StatusPending ResultStatus = "pending"
	StatusReady   ResultStatus = "ready"
	StatusError   ResultStatus = "error"
)

// EngineResult is one engine's outcome within a search session: either a
// navigable dispatch URL or the error that prevented building one.
type EngineResult struct {
	EngineID string       `json:"engineId"`
	Status   ResultStatus `json:"status"`
	URL      string       `json:"url,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// SearchSummary aggregates a session once every engine has settled.
type SearchSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// SearchSession is the ephemeral per-search state. It is never persisted;
// consumers discard it after processing the completion event, and compare
// SearchID against their current id to drop late results from superseded
// or cancelled searches.
type SearchSession struct {
	SearchID  string                  `json:"searchId"`
	Query     string                  `json:"query"`
	StartedAt time.Time               `json:"startedAt"`
	Results   map[string]EngineResult `json:"results"`
	Summary   SearchSummary           `json:"summary"`
	Cancelled bool                    `json:"cancelled"`
}
