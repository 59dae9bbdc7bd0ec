package dispatch

import (
	"fmt"
	"net/url"
	"strings"

	"omnisearch/internal/domain"
)

// EncodeQuery percent-encodes a query for template substitution. Spaces
// encode as %20, not +, so the result is valid in any URL component.
func EncodeQuery(query string) string {
	return strings.ReplaceAll(url.QueryEscape(query), "+", "%20")
}

// BuildDispatchURL substitutes the encoded query into every occurrence of
// the placeholder and validates that the result parses as a URL.
func BuildDispatchURL(template, query string) (string, error) {
	dispatch := strings.ReplaceAll(template, domain.QueryPlaceholder, EncodeQuery(query))
	u, err := url.Parse(dispatch)
	if err != nil {
		return "", fmt.Errorf("dispatch url does not parse: %w", domain.ErrInvalidInput)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("dispatch url missing scheme or host: %w", domain.ErrInvalidInput)
	}
	return dispatch, nil
}
