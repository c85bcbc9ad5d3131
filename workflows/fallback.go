// workflows/fallback.go
package workflows

import (
	"fmt"
	"strings"

	"sitesmith/shared"
)

// Catalog maps section names to stock image descriptions used when the
// model refuses or keeps failing to describe a section.
type Catalog map[string]string

// NewCatalog returns descriptions for the section names planners commonly
// produce.
func NewCatalog() Catalog {
	return Catalog{
		"hero":         "A wide, bright photograph of a welcoming modern space with soft natural light and clean lines",
		"about":        "A warm photograph of a small team collaborating around a wooden table in a sunlit room",
		"team":         "A candid group photograph of smiling colleagues in a bright open office",
		"services":     "A tidy flat-lay photograph of professional tools arranged on a neutral background",
		"products":     "A studio photograph of featured products arranged on a clean pastel backdrop",
		"menu":         "An overhead photograph of freshly prepared dishes arranged on a rustic wooden table",
		"gallery":      "A collage-style photograph of varied finished work displayed in a bright gallery space",
		"contact":      "A photograph of a tidy desk with a notebook, a phone and a cup of coffee by a window",
		"testimonials": "A photograph of a happy customer smiling in a softly lit, friendly setting",
		"features":     "A minimal photograph of geometric shapes and clean surfaces suggesting clarity and order",
	}
}

// Describe returns the stock description for a section, matching loosely on
// the section name before falling back to a generic scene.
func (c Catalog) Describe(section string) string {
	key := strings.ToLower(strings.TrimSpace(section))
	if d, ok := c[key]; ok {
		return d
	}
	for name, d := range c {
		if strings.Contains(key, name) {
			return d
		}
	}
	return fmt.Sprintf("A clean, professional photograph representing the %s section of a modern website", section)
}

// fallbackPage builds a minimal valid page when generation for it failed.
// It keeps the site navigable so the rest of the run stays useful.
func fallbackPage(page shared.PagePlan, pageNames []string) shared.Page {
	var nav strings.Builder
	for _, name := range pageNames {
		fmt.Fprintf(&nav, `<a href="%s.html">%s</a> `, name, titleCase(name))
	}

	title := titleCase(page.Name)
	html := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>%s</title>
    <style>
        body { font-family: sans-serif; margin: 0; color: #333; }
        nav { padding: 1rem 2rem; background: #f5f5f5; }
        nav a { margin-right: 1rem; color: #333; text-decoration: none; }
        main { padding: 3rem 2rem; max-width: 720px; margin: 0 auto; }
    </style>
</head>
<body>
    <nav>%s</nav>
    <main>
        <h1>%s</h1>
        <p>This page could not be generated. Please try again.</p>
    </main>
</body>
</html>`, title, strings.TrimSpace(nav.String()), title)

	return shared.Page{HTML: html}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
