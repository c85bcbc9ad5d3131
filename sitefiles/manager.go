// sitefiles/manager.go
package sitefiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"sitesmith/shared"
)

// ManifestName is the per-site metadata file written alongside the pages.
const ManifestName = "metadata.json"

const maxFolderAttempts = 100

// Manager consolidates a generated page set into one deployable site
// folder: unique directory, shared stylesheet, rewritten internal links,
// home-page redirect and a manifest.
type Manager struct {
	fs      billy.Filesystem
	baseDir string
	now     func() time.Time
	mu      sync.Mutex
}

// NewManager creates a Manager rooted at baseDir, creating the directory
// if needed. Failure to create the storage root is fatal for the manager.
func NewManager(baseDir string) (*Manager, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, &shared.StorageError{Op: "resolve base dir", Err: err}
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, &shared.StorageError{Op: "create base dir", Err: err}
	}
	log.Printf("Site storage initialized: %s", abs)
	return &Manager{fs: osfs.New(abs), baseDir: abs, now: time.Now}, nil
}

// newManagerWithFS builds a Manager on an arbitrary filesystem. Used by
// tests to run the consolidator on an in-memory fs.
func newManagerWithFS(fs billy.Filesystem, baseDir string) *Manager {
	return &Manager{fs: fs, baseDir: baseDir, now: time.Now}
}

// SaveResult describes what one SaveSite call produced on disk.
type SaveResult struct {
	FolderPath   string
	SavedFiles   map[string]string
	ManifestPath string
	Warnings     []string
}

// SaveSite persists the finished page set as one static site. Per-file
// write failures are reported through the returned error but never roll
// back files already written; the manifest reflects what was actually
// produced. All writes target the run's unique folder only.
func (m *Manager) SaveSite(pages map[string]shared.Page, plan *shared.Plan, description string, imageURLs map[string]string) (*SaveResult, error) {
	if len(pages) == 0 {
		return nil, &shared.StorageError{Op: "save site", Err: errors.New("no pages to save")}
	}

	folder, err := m.createSiteFolder(siteBaseName(plan, description))
	if err != nil {
		return nil, err
	}

	order := pageOrder(pages, plan)
	known := make(map[string]struct{}, len(pages))
	for name := range pages {
		known[name] = struct{}{}
	}

	result := &SaveResult{
		FolderPath: filepath.Join(m.baseDir, folder),
		SavedFiles: make(map[string]string, len(pages)),
	}

	// Transform pass: extract styles, rewrite links, link the shared
	// stylesheet. Pure in-memory work; nothing is written yet.
	var cssChunks []string
	finalHTML := make(map[string]string, len(pages))
	for _, name := range order {
		page := pages[name]
		stripped, extracted := ExtractStyles(page.HTML)
		chunk := extracted
		if chunk == "" {
			chunk = strings.TrimSpace(page.CSS)
		}
		if chunk != "" {
			cssChunks = append(cssChunks, fmt.Sprintf("/* %s */\n%s", name, chunk))
		}
		html, warns := RewriteLinks(stripped, known)
		result.Warnings = append(result.Warnings, warns...)
		finalHTML[name] = InsertStylesheetLink(html, StylesheetName)
	}

	var firstErr error
	record := func(op string, err error) {
		if err == nil {
			return
		}
		log.Printf("Site save: %s failed: %v", op, err)
		if firstErr == nil {
			firstErr = &shared.StorageError{Op: op, Err: err}
		}
	}

	if css := strings.Join(cssChunks, "\n\n"); css != "" {
		record("write stylesheet", m.writeFile(folder, StylesheetName, []byte(css)))
	}

	savedNames := make([]string, 0, len(order))
	for _, name := range order {
		if err := m.writeFile(folder, name+".html", []byte(finalHTML[name])); err != nil {
			record("write page "+name, err)
			continue
		}
		result.SavedFiles[name] = filepath.Join(m.baseDir, folder, name+".html")
		savedNames = append(savedNames, name)
	}

	// Root redirect to the home page, unless a generated page already
	// claims index.html.
	if _, taken := known["index"]; !taken {
		home := homePage(order, known, plan)
		record("write redirect", m.writeFile(folder, "index.html", []byte(redirectDocument(home))))
	}

	manifest := shared.SiteManifest{
		CreatedAt:    m.now().UTC(),
		Description:  description,
		Plan:         plan,
		Pages:        savedNames,
		ImageURLs:    imageURLs,
		LinkWarnings: result.Warnings,
	}
	if manifest.ImageURLs == nil {
		manifest.ImageURLs = map[string]string{}
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = m.writeFile(folder, ManifestName, data)
	}
	if err != nil {
		record("write manifest", err)
	} else {
		result.ManifestPath = filepath.Join(m.baseDir, folder, ManifestName)
	}

	log.Printf("Site saved: %s (%d pages, %d warnings)", result.FolderPath, len(savedNames), len(result.Warnings))
	return result, firstErr
}

// createSiteFolder materializes a unique folder: sanitized base name plus a
// second-granularity timestamp, with a numeric suffix when two runs collide
// within the same second.
func (m *Manager) createSiteFolder(base string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := base + "_" + m.now().Format("20060102_150405")
	candidate := name
	for i := 2; i <= maxFolderAttempts; i++ {
		_, err := m.fs.Stat(candidate)
		if err != nil {
			if !os.IsNotExist(err) {
				return "", &shared.StorageError{Op: "stat site folder", Err: err}
			}
			if err := m.fs.MkdirAll(candidate, 0o755); err != nil {
				return "", &shared.StorageError{Op: "create site folder", Err: err}
			}
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d", name, i)
	}
	return "", &shared.StorageError{Op: "create site folder", Err: fmt.Errorf("no free folder name for %q", name)}
}

func (m *Manager) writeFile(folder, name string, data []byte) error {
	return util.WriteFile(m.fs, m.fs.Join(folder, name), data, 0o644)
}

var (
	invalidNameChars = regexp.MustCompile(`[^\w\s-]`)
	nameWhitespace   = regexp.MustCompile(`\s+`)
)

// siteBaseName derives the folder base from the plan's name when present,
// else the first three words of the description, sanitized to a
// filesystem-safe token.
func siteBaseName(plan *shared.Plan, description string) string {
	name := ""
	if plan != nil {
		name = plan.Name
	}
	if name == "" {
		words := strings.Fields(description)
		if len(words) > 3 {
			words = words[:3]
		}
		name = strings.Join(words, " ")
	}
	name = invalidNameChars.ReplaceAllString(name, "")
	name = nameWhitespace.ReplaceAllString(strings.TrimSpace(name), "_")
	name = strings.ReplaceAll(name, "-", "_")
	if name == "" {
		name = "website"
	}
	return name
}

// pageOrder returns page names in plan order, with any pages outside the
// plan appended in sorted order so output stays deterministic.
func pageOrder(pages map[string]shared.Page, plan *shared.Plan) []string {
	order := make([]string, 0, len(pages))
	seen := make(map[string]bool, len(pages))
	if plan != nil {
		for _, pg := range plan.Pages {
			if _, ok := pages[pg.Name]; ok && !seen[pg.Name] {
				order = append(order, pg.Name)
				seen[pg.Name] = true
			}
		}
	}
	var extras []string
	for name := range pages {
		if !seen[name] {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	return append(order, extras...)
}

// homePage picks the redirect target: first navigation entry that exists,
// else a page literally named "home", else the first page in plan order.
func homePage(order []string, known map[string]struct{}, plan *shared.Plan) string {
	if plan != nil {
		for _, name := range plan.Navigation {
			if _, ok := known[name]; ok {
				return name
			}
		}
	}
	if _, ok := known["home"]; ok {
		return "home"
	}
	return order[0]
}

func redirectDocument(home string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <meta http-equiv="refresh" content="0; url=%[1]s.html">
    <title>Redirecting...</title>
</head>
<body>
    <p>If you are not redirected automatically, <a href="%[1]s.html">click here</a>.</p>
</body>
</html>
`, home)
}
