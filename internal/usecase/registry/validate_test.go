package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnisearch/internal/domain"
)

func TestValidateEngine(t *testing.T) {
	valid := domain.Engine{
		Name:        "DuckDuckGo",
		URLTemplate: "https://duckduckgo.com/?q={query}",
		Color:       "#DE5833",
		Icon:        "https://duckduckgo.com/favicon.ico",
	}
	require.NoError(t, validateEngine(valid))

	cases := []struct {
		name   string
		mutate func(*domain.Engine)
	}{
		{"blank name", func(e *domain.Engine) { e.Name = "   " }},
		{"symbol-only name", func(e *domain.Engine) { e.Name = "!!!" }},
		{"no placeholder", func(e *domain.Engine) { e.URLTemplate = "https://duckduckgo.com/?q=" }},
		{"no scheme", func(e *domain.Engine) { e.URLTemplate = "duckduckgo.com/?q={query}" }},
		{"no host", func(e *domain.Engine) { e.URLTemplate = "https:///?q={query}" }},
		{"short color", func(e *domain.Engine) { e.Color = "#FFF" }},
		{"named color", func(e *domain.Engine) { e.Color = "orange" }},
		{"bad icon", func(e *domain.Engine) { e.Icon = "not-a-url" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := valid
			tc.mutate(&e)
			assert.ErrorIs(t, validateEngine(e), domain.ErrInvalidInput)
		})
	}
}

func TestValidateEngineOptionalFields(t *testing.T) {
	// Color and icon are optional: empty passes.
	e := domain.Engine{Name: "E", URLTemplate: "https://e.com/?q={query}"}
	assert.NoError(t, validateEngine(e))
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"DuckDuckGo":     "duckduckgo",
		"Google Scholar": "google-scholar",
		"  Wiki (en)  ":  "wiki-en",
		"C++ Reference":  "c-reference",
	}
	for in, want := range cases {
		assert.Equal(t, want, slugify(in), "slugify(%q)", in)
	}
}
