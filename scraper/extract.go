package scraper

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"homefinder/models"
)

// Field extractors: each maps one fragment of site text to a typed optional
// value. Malformed input yields nil (unknown), never a panic or an error
// that could escape the adapter boundary.

var (
	numberRunRe   = regexp.MustCompile(`[0-9][0-9.,]*`)
	intRunRe      = regexp.MustCompile(`-?[0-9]+`)
	energyClassRe = regexp.MustCompile(`(?i)\b([A-G][1-4]?)\b`)
	energyStyleRe = regexp.MustCompile(`classe_energetica/([A-G][1-5]?)\.png`)
	multiSpaceRe  = regexp.MustCompile(`\s+`)
	italianDateRe = regexp.MustCompile(`([0-9]{1,2})/([0-9]{1,2})/([0-9]{4})`)
)

// cleanText collapses runs of whitespace (including NBSP) to single spaces.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}

// parseLocaleNumber reads an Italian-formatted number out of arbitrary text:
// "€ 250.000", "1.234,56 m²", "120". Dot groups of three digits are
// thousands separators, a comma is the decimal mark.
func parseLocaleNumber(s string) *float64 {
	match := numberRunRe.FindString(cleanText(s))
	if match == "" {
		return nil
	}

	// "1.234.567,89" -> "1234567.89"; a dot not followed by exactly three
	// digits is treated as a decimal mark ("3.5").
	if strings.Contains(match, ",") {
		match = strings.ReplaceAll(match, ".", "")
		match = strings.Replace(match, ",", ".", 1)
	} else if parts := strings.Split(match, "."); len(parts) > 1 {
		thousands := true
		for _, p := range parts[1:] {
			if len(p) != 3 {
				thousands = false
				break
			}
		}
		if thousands {
			match = strings.Join(parts, "")
		}
	}

	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return nil
	}
	return &v
}

// parsePositiveNumber is parseLocaleNumber restricted to values > 0, for
// fields like price and area where zero or negative means "unknown".
func parsePositiveNumber(s string) *float64 {
	v := parseLocaleNumber(s)
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}

// parseCount reads a small non-negative integer (rooms, bathrooms).
func parseCount(s string) *int {
	v := parseLocaleNumber(s)
	if v == nil || *v < 0 {
		return nil
	}
	n := int(*v)
	return &n
}

// parseYear accepts plausible construction years only.
func parseYear(s string) *int {
	v := parseCount(s)
	if v == nil || *v < 1500 || *v > time.Now().Year()+1 {
		return nil
	}
	return v
}

// parseFloor maps Italian floor descriptions to the signed ground=0
// convention: "Piano Terra" and "Rialzato" are 0, basements are negative.
func parseFloor(s string) *int {
	t := strings.ToLower(cleanText(s))
	if t == "" {
		return nil
	}
	// Basement vocabulary first: "seminterrato" contains "terra".
	switch {
	case strings.Contains(t, "seminterrato"), strings.Contains(t, "interrato"):
		return models.IntPtr(-1)
	case strings.Contains(t, "terra"), strings.Contains(t, "rialzato"):
		return models.IntPtr(0)
	}
	m := intRunRe.FindString(t)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

// parseEnergyClass accepts the open A-G( digit) vocabulary, e.g. "A4", "G".
func parseEnergyClass(s string) string {
	m := energyClassRe.FindStringSubmatch(cleanText(s))
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

// energyClassFromStyle pulls the class out of a background-image style
// attribute pointing at the classe_energetica badge.
func energyClassFromStyle(style string) string {
	m := energyStyleRe.FindStringSubmatch(style)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

// featurePresence decides a tri-state feature from a site's amenity text
// block. A missing block is no evidence either way; a present block that
// enumerates amenities makes keyword absence a negative fact.
func featurePresence(block string, keywords ...string) models.TriState {
	t := strings.ToLower(cleanText(block))
	if t == "" {
		return models.TriUnknown
	}
	for _, kw := range keywords {
		if strings.Contains(t, kw) {
			return models.TriTrue
		}
	}
	return models.TriFalse
}

// parseItalianDate reads dd/mm/yyyy anywhere in the text.
func parseItalianDate(s string) *time.Time {
	m := italianDateRe.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return &t
}

// splitFeatures turns a comma/semicolon separated amenity list into tags.
func splitFeatures(block string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(block, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	}) {
		if f := cleanText(part); f != "" {
			out = append(out, f)
		}
	}
	return out
}
