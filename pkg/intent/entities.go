package intent

import (
	"regexp"
	"strings"

	"github.com/veritas-engine/veritas/pkg/models"
)

// Entity extraction runs on the original query text, not the normalized form,
// because statute abbreviations are case-sensitive ("LBO" vs "lbo").

var (
	// "§ 58 LBO BW", "§§ 35, 36 BauGB", "§ 40 Abs. 1 VwVfG"
	sectionRe = regexp.MustCompile(`§{1,2}\s*\d+[a-z]?(?:\s*(?:Abs\.|Absatz)\s*\d+)?(?:\s*(?:S\.|Satz)\s*\d+)?(?:\s+[A-ZÄÖÜ][A-Za-zÄÖÜäöüß]{1,14}){0,3}`)

	// "15.03.2024", "1.1.24"
	dateRe = regexp.MustCompile(`\b\d{1,2}\.\d{1,2}\.\d{2,4}\b`)

	yearRe = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)

	// "2,5 Mio. Euro", "500 €", "1200 m²", "40 %"
	amountRe = regexp.MustCompile(`\b\d+(?:[.,]\d+)?(?:\s*Mio\.?|\s*Mrd\.?)?\s*(?:€|EUR|Euro|m²|m2|qm|ha|km|kWh|dB\(A\)|dB|%)`)

	// Article references like "Art. 14 GG".
	articleRe = regexp.MustCompile(`\bArt\.?\s*\d+[a-z]?(?:\s+[A-ZÄÖÜ][A-Za-z]{1,10})?`)
)

// Curated statute abbreviations from the deployment domains. A generic
// uppercase-suffix pattern drags in too many false positives (BW, EU, GmbH).
var lawCodes = []string{
	"VwVfG", "VwGO", "VwZG", "BauGB", "BauNVO", "LBO", "BImSchG", "BImSchV",
	"WHG", "KrWG", "UVPG", "BNatSchG", "GemO", "GG", "BGB", "StGB", "GewO",
	"TA Lärm", "TA Luft",
}

// Place and authority vocabularies for the deployment region.
var knownPlaces = []string{
	"Baden-Württemberg", "Stuttgart", "Karlsruhe", "Mannheim", "Freiburg",
	"Heidelberg", "Ulm", "Tübingen", "Heilbronn",
}

var knownOrgs = []string{
	"Regierungspräsidium", "Landratsamt", "Gemeinderat", "Bauamt",
	"Baurechtsamt", "Umweltamt", "Verwaltungsgericht", "VGH",
	"Bundesverwaltungsgericht", "Untere Naturschutzbehörde",
}

// extractEntities pulls typed spans from the raw query. Results keep document
// order within each kind; duplicates are dropped.
func extractEntities(query string) []models.Entity {
	var out []models.Entity
	seen := make(map[string]bool)
	add := func(kind models.EntityKind, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		key := string(kind) + "\x00" + value
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, models.Entity{Kind: kind, Value: value})
	}

	for _, m := range sectionRe.FindAllString(query, -1) {
		add(models.EntitySection, m)
	}
	for _, m := range articleRe.FindAllString(query, -1) {
		add(models.EntityReference, m)
	}
	for _, code := range lawCodes {
		if containsWord(query, code) {
			add(models.EntityLawCode, code)
		}
	}
	for _, m := range dateRe.FindAllString(query, -1) {
		add(models.EntityDate, m)
	}
	for _, m := range yearRe.FindAllString(query, -1) {
		if !partOfDate(query, m) {
			add(models.EntityDate, m)
		}
	}
	for _, m := range amountRe.FindAllString(query, -1) {
		add(models.EntityAmount, m)
	}
	for _, p := range knownPlaces {
		if strings.Contains(query, p) {
			add(models.EntityPlace, p)
		}
	}
	for _, o := range knownOrgs {
		if strings.Contains(query, o) {
			add(models.EntityOrg, o)
		}
	}
	return out
}

// containsWord matches code as a whole token so "LBO" does not fire on
// "Kolbenhub". Multi-word codes ("TA Lärm") match as substrings.
func containsWord(s, code string) bool {
	if strings.Contains(code, " ") {
		return strings.Contains(s, code)
	}
	idx := 0
	for {
		i := strings.Index(s[idx:], code)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordByte(s[i-1])
		after := i+len(code) == len(s) || !isWordByte(s[i+len(code)])
		if before && after {
			return true
		}
		idx = i + len(code)
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// partOfDate reports whether a bare year match sits inside a dotted date that
// the date pattern already captured.
func partOfDate(query, year string) bool {
	i := strings.Index(query, year)
	return i > 0 && query[i-1] == '.'
}
