package registry

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"omnisearch/internal/domain"
)

var colorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// validateEngine checks the field shape of an engine before anything is
// persisted. It never touches the store.
func validateEngine(e domain.Engine) error {
	if strings.TrimSpace(e.Name) == "" {
		return domain.NewDomainError("Registry.validate", domain.ErrInvalidInput, "name is required")
	}
	// A name with no alphanumerics slugifies to an empty id.
	if slugify(e.Name) == "" {
		return domain.NewDomainError("Registry.validate", domain.ErrInvalidInput,
			"name must contain a letter or digit")
	}
	if !strings.Contains(e.URLTemplate, domain.QueryPlaceholder) {
		return domain.NewDomainError("Registry.validate", domain.ErrInvalidInput,
			fmt.Sprintf("url template must contain %s", domain.QueryPlaceholder))
	}
	probe := strings.ReplaceAll(e.URLTemplate, domain.QueryPlaceholder, "probe")
	if !parsesAsURL(probe) {
		return domain.NewDomainError("Registry.validate", domain.ErrInvalidInput,
			"url template does not yield a valid URL")
	}
	if e.Color != "" && !colorRe.MatchString(e.Color) {
		return domain.NewDomainError("Registry.validate", domain.ErrInvalidInput,
			"color must be #RRGGBB")
	}
	if e.Icon != "" && !parsesAsURL(e.Icon) {
		return domain.NewDomainError("Registry.validate", domain.ErrInvalidInput,
			"icon is not a valid URL")
	}
	return nil
}

func parsesAsURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

var slugStripRe = regexp.MustCompile(`[^a-z0-9]+`)

// slugify derives a stable engine id from a display name.
func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugStripRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
