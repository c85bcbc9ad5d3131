// shared/types.go
package shared

import "time"

// Pipeline step names. A run always moves forward through these; "failed"
// is absorbing and reachable from any step.
const (
	StepPlanning         = "planning"
	StepImageDescription = "image_description"
	StepImageGeneration  = "image_generation"
	StepHTMLGeneration   = "html_generation"
	StepFileStorage      = "file_storage"
	StepComplete         = "complete"
	StepFailed           = "failed"
)

// Run statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// PagePlan describes one page of the planned site.
type PagePlan struct {
	Name     string   `json:"name"`
	Purpose  string   `json:"purpose"`
	Sections []string `json:"sections"`
}

// Styling holds the site-wide styling strategy chosen by the planner.
type Styling struct {
	Theme          string `json:"theme"`
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
	FontFamily     string `json:"font_family"`
	DesignStyle    string `json:"design_style"`
}

// Plan is the website structure produced by the planning stage.
// ImageSections lists the section names that need a generated image;
// Navigation lists page names in display order.
type Plan struct {
	Name          string     `json:"name,omitempty"`
	Pages         []PagePlan `json:"pages"`
	Styling       Styling    `json:"styling"`
	ImageSections []string   `json:"image_sections"`
	Navigation    []string   `json:"navigation"`
}

// PageNames returns the plan's page names in plan order.
func (p *Plan) PageNames() []string {
	names := make([]string, 0, len(p.Pages))
	for _, pg := range p.Pages {
		names = append(names, pg.Name)
	}
	return names
}

// PageForSection returns the name of the first plan page listing the
// section, defaulting to "home".
func (p *Plan) PageForSection(section string) string {
	for _, pg := range p.Pages {
		for _, s := range pg.Sections {
			if s == section {
				return pg.Name
			}
		}
	}
	return "home"
}

// HasPage reports whether the plan contains a page with the given name.
func (p *Plan) HasPage(name string) bool {
	for _, pg := range p.Pages {
		if pg.Name == name {
			return true
		}
	}
	return false
}

// Page is one generated page. CSS may be empty when all styling lives in
// embedded <style> blocks inside HTML; the consolidator extracts those.
type Page struct {
	HTML string `json:"html"`
	CSS  string `json:"css"`
}

// PageContext is everything the text provider needs to generate one page.
type PageContext struct {
	Plan        *Plan
	Page        PagePlan
	PageNames   []string
	ImageURLs   map[string]string
	Description string
	Template    string
}

// WorkflowState is the mutable record threaded through one pipeline run.
// It is owned exclusively by that run and never shared across requests.
type WorkflowState struct {
	Description  string
	Template     string
	Plan         *Plan
	ImagePrompts map[string]string
	ImageURLs    map[string]string
	Pages        map[string]Page
	CurrentStep  string
	Status       string
	Progress     int
	Error        string
	FolderPath   string
	SavedFiles   map[string]string
}

// FinalPayload is the data carried by the terminal event of a successful run.
type FinalPayload struct {
	Pages      map[string]Page   `json:"pages"`
	ImageURLs  map[string]string `json:"image_urls"`
	Plan       *Plan             `json:"plan"`
	FolderPath string            `json:"folder_path,omitempty"`
	SavedFiles map[string]string `json:"saved_files,omitempty"`
}

// ProgressEvent is one streamed progress update. Events are emitted and
// forgotten; they carry no state beyond the snapshot fields below.
type ProgressEvent struct {
	Step     string        `json:"step"`
	Status   string        `json:"status"`
	Progress int           `json:"progress"`
	Message  string        `json:"message"`
	Error    string        `json:"error,omitempty"`
	Data     *FinalPayload `json:"data,omitempty"`
}

// SiteManifest is the metadata.json record written once per saved site.
type SiteManifest struct {
	CreatedAt    time.Time         `json:"created_at"`
	Description  string            `json:"description"`
	Plan         *Plan             `json:"plan"`
	Pages        []string          `json:"pages"`
	ImageURLs    map[string]string `json:"image_urls"`
	LinkWarnings []string          `json:"link_warnings,omitempty"`
}
