package webfeed

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateRule checks a rule before any network access. A version mismatch
// is a hard failure so no I/O is wasted on rules we cannot evaluate.
func ValidateRule(selectors Selectors, opts ParserOptions) error {
	if opts.Version != RuleVersion {
		return &RuleValidationError{
			Reason: fmt.Sprintf("unsupported rule version %q, expected %q", opts.Version, RuleVersion),
		}
	}
	if strings.TrimSpace(selectors.ContextPath) == "" {
		return &RuleValidationError{Reason: "contextPath is required"}
	}
	if strings.TrimSpace(selectors.LinkPath) == "" {
		return &RuleValidationError{Reason: "linkPath is required"}
	}
	if _, err := ParseExtendContext(string(selectors.ExtendContext)); err != nil {
		return err
	}
	return nil
}

// CanonicalFeedURL derives the stable feed URL for a rule. The encoding is
// deterministic (url.Values sorts keys), so the same rule always yields the
// same URL and the result can be cached or bookmarked.
func CanonicalFeedURL(baseURL string, websiteURL string, selectors Selectors, fetch FetchOptions) string {
	params := url.Values{}
	params.Set("url", websiteURL)
	params.Set("context", selectors.ContextPath)
	params.Set("link", selectors.LinkPath)
	if selectors.DatePath != "" {
		params.Set("date", selectors.DatePath)
	}
	if selectors.PaginationPath != "" {
		params.Set("pp", selectors.PaginationPath)
	}
	if selectors.ExtendContext != ExtendNone {
		params.Set("x", string(selectors.ExtendContext))
	}
	if selectors.DateIsStartOfEvent {
		params.Set("event", "true")
	}
	if fetch.Prerender {
		params.Set("prerender", "true")
		if fetch.PrerenderWaitUntil != "" {
			params.Set("waitUntil", fetch.PrerenderWaitUntil)
		}
	}
	params.Set("version", RuleVersion)

	return strings.TrimRight(baseURL, "/") + "/api/w2f?" + params.Encode()
}

// fixRelativePath rewrites a selector scoped to a single element into its
// absolute-within-context form, so the same selector works whether matched
// against the document root or one context node.
func fixRelativePath(selector string) string {
	trimmed := strings.TrimSpace(selector)
	trimmed = strings.TrimPrefix(trimmed, "./")
	// A leading child combinator has no reference node once evaluated inside
	// a context scope; descendant matching within the scope covers it.
	if strings.HasPrefix(trimmed, ">") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, ">"))
	}
	return trimmed
}
