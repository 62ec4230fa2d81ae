package dateclaim

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Claimer recovers publication timestamps from free-text date strings. It
// is a priority table, not a general date parser: rigid machine formats are
// trusted fully before fuzzy human-entered prose is attempted. A failed
// claim returns ok=false; the claimer never guesses.

// Bare dates resolve to 08:00 rather than midnight, so date-only entries do
// not read as night-time events.
const defaultHour = 8

type formatRule struct {
	pattern *regexp.Regexp
	layout  string
	hasTime bool
}

// Ordered: numeric-only forms before month-name forms, shorter numeric
// forms before longer ones, to avoid ambiguous partial matches.
// Credits https://stackoverflow.com/a/3390252
var formatRules = []formatRule{
	{regexp.MustCompile(`^\d{8}$`), "20060102", false},
	{regexp.MustCompile(`^\d{1,2} \d{1,2} \d{4}$`), "2 1 2006", false},
	{regexp.MustCompile(`^\d{4} \d{1,2} \d{1,2}$`), "2006 1 2", false},
	{regexp.MustCompile(`(?i)^\d{1,2} [a-z]{3} \d{4}$`), "2 Jan 2006", false},
	{regexp.MustCompile(`(?i)^\d{1,2} [a-z]{4,} \d{4}$`), "2 Jan 2006", false},
	{regexp.MustCompile(`(?i)^[a-z]{3,} \d{1,2} \d{4}$`), "Jan 2 2006", false},
	{regexp.MustCompile(`^\d{12}$`), "200601021504", true},
	{regexp.MustCompile(`^\d{8} \d{4}$`), "20060102 1504", true},
	{regexp.MustCompile(`^\d{1,2} \d{1,2} \d{4} \d{1,2}:\d{2}$`), "2 1 2006 15:04", true},
	{regexp.MustCompile(`^\d{4} \d{1,2} \d{1,2} \d{1,2}:\d{2}$`), "2006 1 2 15:04", true},
	{regexp.MustCompile(`(?i)^\d{1,2} [a-z]{3} \d{4} \d{1,2}:\d{2}$`), "2 Jan 2006 15:04", true},
	{regexp.MustCompile(`(?i)^\d{1,2} [a-z]{4,} \d{4} \d{1,2}:\d{2}$`), "2 Jan 2006 15:04", true},
	{regexp.MustCompile(`^\d{14}$`), "20060102150405", true},
	{regexp.MustCompile(`^\d{8} \d{6}$`), "20060102 150405", true},
	{regexp.MustCompile(`^\d{1,2} \d{1,2} \d{4} \d{1,2}:\d{2}:\d{2}$`), "2 1 2006 15:04:05", true},
	{regexp.MustCompile(`^\d{4} \d{1,2} \d{1,2} \d{1,2}:\d{2}:\d{2}$`), "2006 1 2 15:04:05", true},
	{regexp.MustCompile(`(?i)^\d{1,2} [a-z]{3} \d{4} \d{1,2}:\d{2}:\d{2}$`), "2 Jan 2006 15:04:05", true},
	{regexp.MustCompile(`(?i)^\d{1,2} [a-z]{4,} \d{4} \d{1,2}:\d{2}:\d{2}$`), "2 Jan 2006 15:04:05", true},
}

var (
	// Separator punctuation becomes a token boundary; any other non-ASCII
	// noise (diacritics included) is dropped so "März" folds via "mrz".
	separatorPattern = regexp.MustCompile(`[.,/\-_()!?;]+`)
	stripPattern     = regexp.MustCompile(`[^a-zA-Z0-9: ]`)
	collapsePattern  = regexp.MustCompile(`\s+`)
)

var isoLayouts = []struct {
	layout  string
	hasTime bool
}{
	{"2006-01-02T15:04:05", true},        // ISO local date-time
	{"2006-01-02T15:04:05Z07:00", true},  // ISO zoned date-time
	{"2006-01-02T15:04:05Z0700", true},   // ISO offset date-time
	{"2006-01-02", false},                // bare ISO date
}

// monthNames folds locale month tokens to the English short form the table
// layouts parse. Keys are lowercase, ASCII-stripped the same way input is.
var monthNames = map[language.Tag]map[string]string{
	language.English: {
		"jan": "Jan", "january": "Jan",
		"feb": "Feb", "february": "Feb",
		"mar": "Mar", "march": "Mar",
		"apr": "Apr", "april": "Apr",
		"may": "May",
		"jun": "Jun", "june": "Jun",
		"jul": "Jul", "july": "Jul",
		"aug": "Aug", "august": "Aug",
		"sep": "Sep", "sept": "Sep", "september": "Sep",
		"oct": "Oct", "october": "Oct",
		"nov": "Nov", "november": "Nov",
		"dec": "Dec", "december": "Dec",
	},
	language.German: {
		"jan": "Jan", "januar": "Jan",
		"feb": "Feb", "februar": "Feb",
		"mrz": "Mar", "marz": "Mar", "maerz": "Mar",
		"apr": "Apr", "april": "Apr",
		"mai": "May",
		"jun": "Jun", "juni": "Jun",
		"jul": "Jul", "juli": "Jul",
		"aug": "Aug", "august": "Aug",
		"sep": "Sep", "september": "Sep",
		"okt": "Oct", "oktober": "Oct",
		"nov": "Nov", "november": "Nov",
		"dez": "Dec", "dezember": "Dec",
	},
}

var localeMatcher = language.NewMatcher([]language.Tag{
	language.English,
	language.German,
})

type Claimer struct {
	defaultLocale language.Tag
}

func NewClaimer(defaultLocale language.Tag) *Claimer {
	if defaultLocale == language.Und {
		defaultLocale = language.English
	}
	return &Claimer{defaultLocale: defaultLocale}
}

// Claim parses a free-text date string using the default locale.
func (c *Claimer) Claim(text string) (time.Time, bool) {
	return c.ClaimIn(text, c.defaultLocale)
}

// ClaimIn parses a free-text date string using the given locale for
// month-name forms. Ordered attempts, first success wins.
func (c *Claimer) ClaimIn(text string, locale language.Tag) (time.Time, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return time.Time{}, false
	}

	for _, iso := range isoLayouts {
		if parsed, err := time.ParseInLocation(iso.layout, trimmed, time.Local); err == nil {
			return withDefaultHour(parsed, iso.hasTime), true
		}
	}

	return c.claimHeuristic(trimmed, locale)
}

func (c *Claimer) claimHeuristic(text string, locale language.Tag) (time.Time, bool) {
	simplified := separatorPattern.ReplaceAllString(text, " ")
	simplified = stripPattern.ReplaceAllString(simplified, "")
	simplified = collapsePattern.ReplaceAllString(simplified, " ")
	simplified = strings.TrimSpace(simplified)

	for _, rule := range formatRules {
		if !rule.pattern.MatchString(simplified) {
			continue
		}
		candidate := c.foldMonths(simplified, locale)
		parsed, err := time.ParseInLocation(rule.layout, candidate, time.Local)
		if err != nil {
			return time.Time{}, false
		}
		return withDefaultHour(parsed, rule.hasTime), true
	}

	return time.Time{}, false
}

// foldMonths rewrites locale month tokens to the English short form.
func (c *Claimer) foldMonths(text string, locale language.Tag) string {
	if locale == language.Und {
		locale = c.defaultLocale
	}
	_, index, _ := localeMatcher.Match(locale)
	tags := []language.Tag{language.English, language.German}
	names := monthNames[tags[index]]

	words := strings.Split(text, " ")
	for i, word := range words {
		if folded, ok := names[strings.ToLower(word)]; ok {
			words[i] = folded
		}
	}
	return strings.Join(words, " ")
}

func withDefaultHour(t time.Time, hasTime bool) time.Time {
	if hasTime {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), defaultHour, 0, 0, 0, t.Location())
}
