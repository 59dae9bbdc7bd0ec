package domain

// Preference is one keyed setting. Stored values shadow built-in defaults
// at read time; absent keys resolve to their default.
type Preference struct {
	Key      string `json:"key"`
	Value    any    `json:"value"`
	Category string `json:"category,omitempty"`
}

// Preference keys understood by the core.
const (
	PrefEnableHistory   = "enableHistory"
	PrefOpenInNewTab    = "openInNewTab"
	PrefShowSuggestions = "showSuggestions"
	PrefHistoryMax      = "historyMax"
)

// DefaultPreferences returns the built-in preference set. Callers receive
// a fresh map and may mutate it freely.
func DefaultPreferences() map[string]Preference {
	return map[string]Preference{
		PrefEnableHistory:   {Key: PrefEnableHistory, Value: true, Category: "history"},
		PrefShowSuggestions: {Key: PrefShowSuggestions, Value: true, Category: "history"},
		PrefOpenInNewTab:    {Key: PrefOpenInNewTab, Value: true, Category: "dispatch"},
		PrefHistoryMax:      {Key: PrefHistoryMax, Value: 500, Category: "history"},
	}
}
