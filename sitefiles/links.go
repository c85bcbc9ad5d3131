// sitefiles/links.go
package sitefiles

import (
	"fmt"
	"regexp"
	"strings"
)

var hrefRe = regexp.MustCompile(`(?i)(href=)(["'])([^"']*)(["'])`)

// externalPrefixes are reference forms that must never be rewritten.
var externalPrefixes = []string{"http://", "https://", "mailto:", "tel:", "#"}

// RewriteLinks rewrites every internal hyperlink in html so that links
// between pages generated in the same run resolve as relative files:
// href="about" and href="about.html" both become href="about.html" when
// "about" is in pages. External URLs, same-page anchors, empty hrefs and
// asset references are left untouched. References that look like a page
// link but match no known page are kept as-is and reported as warnings.
//
// The function is idempotent: applying it to already-rewritten HTML is a
// no-op.
func RewriteLinks(html string, pages map[string]struct{}) (string, []string) {
	var warnings []string
	warned := make(map[string]bool)

	out := hrefRe.ReplaceAllStringFunc(html, func(match string) string {
		sub := hrefRe.FindStringSubmatch(match)
		attr, quote, value := sub[1], sub[2], sub[3]

		if isExternalRef(value) || isAssetRef(value) {
			return match
		}

		target := strings.TrimSuffix(value, ".html")
		if _, ok := pages[target]; ok {
			return attr + quote + target + ".html" + quote
		}

		// Unknown target: do not guess, just surface it once.
		if !warned[value] {
			warned[value] = true
			warnings = append(warnings, fmt.Sprintf("unresolved internal link %q", value))
		}
		return match
	})

	return out, warnings
}

func isExternalRef(v string) bool {
	if v == "" || v == "#" {
		return true
	}
	for _, p := range externalPrefixes {
		if strings.HasPrefix(v, p) {
			return true
		}
	}
	return false
}

// isAssetRef reports references that clearly point at files rather than
// pages (stylesheets, images, anything in a subdirectory). These are kept
// untouched without a warning.
func isAssetRef(v string) bool {
	if strings.Contains(v, "/") {
		return true
	}
	if strings.Contains(v, ".") && !strings.HasSuffix(v, ".html") {
		return true
	}
	return false
}
