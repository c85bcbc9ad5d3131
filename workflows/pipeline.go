// workflows/pipeline.go
package workflows

import (
	"context"
	"fmt"
	"log"
	"strings"

	"sitesmith/db"
	"sitesmith/shared"
	"sitesmith/sitefiles"
)

// PlanProvider produces the site plan for a description.
type PlanProvider interface {
	GeneratePlan(ctx context.Context, description string) (*shared.Plan, error)
}

// TextProvider produces image prompts and page HTML.
type TextProvider interface {
	GenerateImagePrompt(ctx context.Context, section, pageName, description string, plan *shared.Plan) (string, error)
	GeneratePageHTML(ctx context.Context, pc shared.PageContext) (shared.Page, error)
}

// ImageProvider turns an image prompt into a locally hosted URL.
type ImageProvider interface {
	Fetch(ctx context.Context, section, prompt string) (string, error)
	PlaceholderURL() string
}

// SiteStore consolidates generated pages into a site folder.
type SiteStore interface {
	SaveSite(pages map[string]shared.Page, plan *shared.Plan, description string, imageURLs map[string]string) (*sitefiles.SaveResult, error)
}

// Publisher versions a saved site folder.
type Publisher interface {
	PublishSite(folderPath, description string) (string, error)
}

// Progress checkpoints at stage boundaries. Progress only ever moves
// forward within a run.
const (
	progressStarted      = 5
	progressPlanned      = 25
	progressDescriptions = 40
	progressImages       = 65
	progressHTML         = 90
	progressDone         = 100
)

// Pipeline runs the five-stage generation sequence: planning, image
// descriptions, image generation, page generation, file storage. Runs is
// optional persistence, Publisher optional versioning; both may be nil.
type Pipeline struct {
	Planner     PlanProvider
	Text        TextProvider
	Images      ImageProvider
	Sites       SiteStore
	Publisher   Publisher
	Runs        *db.RunStore
	Fallbacks   Catalog
	Concurrency int
}

func (p *Pipeline) concurrency() int {
	if p.Concurrency > 0 {
		return p.Concurrency
	}
	return 4
}

// Run starts one generation run and returns its event stream. The channel
// is closed after exactly one terminal event: "complete" with the final
// payload, or "failed" with the error. The caller owns draining the
// channel; the run itself does not stop when the caller goes away.
func (p *Pipeline) Run(ctx context.Context, runID, description, template string) <-chan shared.ProgressEvent {
	events := make(chan shared.ProgressEvent, 16)
	go p.run(ctx, runID, strings.TrimSpace(description), template, events)
	return events
}

func (p *Pipeline) run(ctx context.Context, runID, description, template string, events chan<- shared.ProgressEvent) {
	defer close(events)

	state := &shared.WorkflowState{
		Description: description,
		Template:    template,
		Status:      shared.StatusInProgress,
		CurrentStep: shared.StepPlanning,
	}

	emit := func(step string, progress int, message string) {
		if progress < state.Progress {
			progress = state.Progress
		}
		state.Progress = progress
		state.CurrentStep = step
		events <- shared.ProgressEvent{
			Step:     step,
			Status:   shared.StatusInProgress,
			Progress: progress,
			Message:  message,
		}
		p.saveRun(runID, state)
	}

	fail := func(err error) {
		log.Printf("Run %s failed at %s: %v", runID, state.CurrentStep, err)
		state.Status = shared.StatusFailed
		state.Error = err.Error()
		state.CurrentStep = shared.StepFailed
		events <- shared.ProgressEvent{
			Step:     shared.StepFailed,
			Status:   shared.StatusFailed,
			Progress: state.Progress,
			Message:  "generation failed",
			Error:    err.Error(),
		}
		p.saveRun(runID, state)
	}

	if p.Runs != nil && runID != "" {
		if err := p.Runs.CreateRun(context.Background(), runID, description); err != nil {
			log.Printf("Run %s: could not create run record: %v", runID, err)
		}
	}

	emit(shared.StepPlanning, progressStarted, "Planning site structure")
	if err := p.runPlanning(ctx, state); err != nil {
		fail(err)
		return
	}
	emit(shared.StepImageDescription, progressPlanned,
		fmt.Sprintf("Plan ready: %d pages, %d image sections", len(state.Plan.Pages), len(state.Plan.ImageSections)))

	if err := p.runImageDescriptions(ctx, state); err != nil {
		fail(err)
		return
	}
	emit(shared.StepImageGeneration, progressDescriptions, "Generating images")

	generated, err := p.runImageGeneration(ctx, state)
	if err != nil {
		fail(err)
		return
	}
	emit(shared.StepHTMLGeneration, progressImages,
		fmt.Sprintf("%d/%d images generated", generated, len(state.ImagePrompts)))

	err = p.runHTMLGeneration(ctx, state, func(done, total int) {
		progress := progressImages + done*(progressHTML-progressImages)/total
		emit(shared.StepHTMLGeneration, progress, fmt.Sprintf("Generated page %d/%d", done, total))
	})
	if err != nil {
		fail(err)
		return
	}
	emit(shared.StepFileStorage, progressHTML, "Saving site files")

	message := "Website generated successfully"
	if err := p.runFileStorage(ctx, state); err != nil {
		if ctx.Err() != nil {
			fail(err)
			return
		}
		// Generation succeeded; only persistence failed. Deliver the
		// payload without a folder.
		log.Printf("Run %s: %v", runID, err)
		message = "Website generated; saving files to disk failed"
	}

	state.Status = shared.StatusCompleted
	state.CurrentStep = shared.StepComplete
	state.Progress = progressDone
	events <- shared.ProgressEvent{
		Step:     shared.StepComplete,
		Status:   shared.StatusCompleted,
		Progress: progressDone,
		Message:  message,
		Data: &shared.FinalPayload{
			Pages:      state.Pages,
			ImageURLs:  state.ImageURLs,
			Plan:       state.Plan,
			FolderPath: state.FolderPath,
			SavedFiles: state.SavedFiles,
		},
	}
	p.saveRun(runID, state)
	log.Printf("Run %s complete: %d pages, folder %q", runID, len(state.Pages), state.FolderPath)
}

// saveRun persists the run snapshot. Uses a background context so the
// record outlives a cancelled request; persistence failures are logged and
// never interrupt the run.
func (p *Pipeline) saveRun(runID string, state *shared.WorkflowState) {
	if p.Runs == nil || runID == "" {
		return
	}
	rec := db.RunRecord{
		ID:          runID,
		Description: state.Description,
		Status:      state.Status,
		Step:        state.CurrentStep,
		Progress:    state.Progress,
		FolderPath:  state.FolderPath,
		Error:       state.Error,
	}
	if err := p.Runs.UpdateRun(context.Background(), rec); err != nil {
		log.Printf("Run %s: could not persist state: %v", runID, err)
	}
}
