package webfeed

import (
	"fmt"
)

// RuleVersion is the currently supported rule-format version. External rule
// invocations carrying any other version are rejected before any fetch.
const RuleVersion = "0.1"

type ExtendContext string

const (
	ExtendNone            ExtendContext = ""
	ExtendPrevious        ExtendContext = "p"
	ExtendNext            ExtendContext = "n"
	ExtendPreviousAndNext ExtendContext = "pn"
)

func ParseExtendContext(value string) (ExtendContext, error) {
	switch ExtendContext(value) {
	case ExtendNone, ExtendPrevious, ExtendNext, ExtendPreviousAndNext:
		return ExtendContext(value), nil
	}
	return ExtendNone, &RuleValidationError{Reason: fmt.Sprintf("unknown extendContext %q", value)}
}

// Selectors is a user-declared structural rule turning an arbitrary HTML
// page into a synthetic feed. Immutable once applied to a request.
type Selectors struct {
	LinkPath           string
	ContextPath        string
	DatePath           string
	PaginationPath     string
	ExtendContext      ExtendContext
	DateIsStartOfEvent bool
}

type ParserOptions struct {
	StrictMode bool
	Version    string
}

// FetchOptions describes how the target page is retrieved. Passed by
// value, never mutated after construction.
type FetchOptions struct {
	WebsiteURL         string
	Prerender          bool
	PrerenderWaitUntil string
	PrerenderScript    string
}

// RuleValidationError marks a bad or unsupported rule. Surfaced to the
// caller immediately; no fetch is performed.
type RuleValidationError struct {
	Reason string
}

func (e *RuleValidationError) Error() string {
	return "invalid rule: " + e.Reason
}
