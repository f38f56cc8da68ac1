package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/aluiziolira/go-scrape-cinemateca/models"
)

// ValidateMovie ensures the scraper captured every required field.
func ValidateMovie(m *models.ScrapedMovie) error {
	if m == nil {
		return fmt.Errorf("movie is nil")
	}
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("movie missing id")
	}
	if m.ScrapedAt.IsZero() {
		return fmt.Errorf("movie missing scrape time for %s", m.ID)
	}
	required := []struct {
		name  string
		value string
	}{
		{"place", m.Place},
		{"when", m.When},
		{"more info url", m.MoreInfoURL},
		{"start time", m.StartTime},
		{"end time", m.EndTime},
		{"description", m.Description},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("movie missing %s for %s", field.name, m.ID)
		}
	}
	return nil
}

// SanitizeHTML strips newlines and tabs from raw card markup.
func SanitizeHTML(raw string) string {
	return strings.NewReplacer("\n", "", "\r", "", "\t", "").Replace(raw)
}

// NormalizePlace trims and lower-cases a venue name.
func NormalizePlace(place string) string {
	return strings.ToLower(strings.TrimSpace(place))
}

// NormalizeDescription trims the text, collapses paragraph breaks into a
// single space and removes a leading label such as "Descrição:".
func NormalizeDescription(text, label string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\n\n", " ")

	if label == "" {
		return text
	}
	runes := []rune(text)
	labelRunes := []rune(label)
	if len(runes) < len(labelRunes) {
		return text
	}
	if !strings.EqualFold(string(runes[:len(labelRunes)]), label) {
		return text
	}
	return strings.TrimLeft(string(runes[len(labelRunes):]), ": \t\n")
}

// ResolveURL resolves href against base. Absolute hrefs are returned as is.
func ResolveURL(base, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("empty link")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", href, err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// DeriveID turns a detail page URL into a stable record id: the part after
// the base origin with slashes replaced by dashes, e.g.
// "https://guia.curitiba.pr.gov.br/Evento/Ver/123" -> "Evento-Ver-123".
func DeriveID(base, moreInfoURL string) string {
	rest := moreInfoURL
	trimmedBase := strings.TrimSuffix(base, "/")
	if trimmedBase != "" && strings.HasPrefix(moreInfoURL, trimmedBase) {
		rest = moreInfoURL[len(trimmedBase):]
	} else if u, err := url.Parse(moreInfoURL); err == nil && u.Host != "" {
		rest = u.RequestURI()
	}

	id := strings.ReplaceAll(rest, "/", "-")
	id = strings.TrimPrefix(id, "-")
	id = strings.TrimSuffix(id, "-")
	return id
}
