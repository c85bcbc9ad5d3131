// sitefiles/css.go
package sitefiles

import (
	"fmt"
	"regexp"
	"strings"
)

// StylesheetName is the single shared stylesheet every saved page links to.
const StylesheetName = "style.css"

var (
	styleBlockRe = regexp.MustCompile(`(?is)<style[^>]*>(.*?)</style>`)
	headCloseRe  = regexp.MustCompile(`(?i)</head>`)
	htmlCloseRe  = regexp.MustCompile(`(?i)</html>`)
)

// ExtractStyles removes every embedded <style> block from html and returns
// the stripped document plus the concatenated rule content of the removed
// blocks, in document order.
func ExtractStyles(html string) (stripped string, css string) {
	matches := styleBlockRe.FindAllStringSubmatch(html, -1)
	if len(matches) == 0 {
		return html, ""
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, m[1])
	}
	css = strings.TrimSpace(strings.Join(parts, "\n\n"))
	stripped = styleBlockRe.ReplaceAllString(html, "")
	return stripped, css
}

// InsertStylesheetLink adds one <link> reference to cssFilename in the head
// region of html. If the document already carries a <link> tag referencing
// cssFilename the input is returned unchanged; a mention of the filename in
// body text does not count. Fallback insertion points: before </html>, then
// plain prepend for fragments with no document structure.
func InsertStylesheetLink(html, cssFilename string) string {
	linkRe := regexp.MustCompile(`(?i)<link\b[^>]*` + regexp.QuoteMeta(cssFilename))
	if linkRe.MatchString(html) {
		return html
	}
	link := fmt.Sprintf(`<link rel="stylesheet" href="%s">`, cssFilename)

	if loc := headCloseRe.FindStringIndex(html); loc != nil {
		return html[:loc[0]] + "    " + link + "\n" + html[loc[0]:]
	}
	if loc := htmlCloseRe.FindStringIndex(html); loc != nil {
		return html[:loc[0]] + "    " + link + "\n" + html[loc[0]:]
	}
	return link + "\n" + html
}
