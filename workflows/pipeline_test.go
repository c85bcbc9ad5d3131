// workflows/pipeline_test.go
package workflows

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sitesmith/db"
	"sitesmith/shared"
	"sitesmith/sitefiles"
)

type fakePlanner struct {
	plan *shared.Plan
	err  error
}

func (f *fakePlanner) GeneratePlan(_ context.Context, _ string) (*shared.Plan, error) {
	return f.plan, f.err
}

type fakeText struct {
	mu        sync.Mutex
	promptErr map[string]error
	pageErr   map[string]error
	inFlight  int
	peak      int
	pageOrder []string
}

func (f *fakeText) GenerateImagePrompt(_ context.Context, section, _, _ string, _ *shared.Plan) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.promptErr[section]; err != nil {
		return "", err
	}
	return "a photo of " + section, nil
}

func (f *fakeText) GeneratePageHTML(_ context.Context, pc shared.PageContext) (shared.Page, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.pageOrder = append(f.pageOrder, pc.Page.Name)
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	err := f.pageErr[pc.Page.Name]
	f.mu.Unlock()
	if err != nil {
		return shared.Page{}, err
	}
	html := fmt.Sprintf("<!DOCTYPE html><html><body>%s</body></html>", pc.Page.Name)
	return shared.Page{HTML: html}, nil
}

type fakeImages struct {
	mu      sync.Mutex
	failFor map[string]bool
}

func (f *fakeImages) Fetch(_ context.Context, section, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[section] {
		return "", errors.New("image backend down")
	}
	return "/uploads/" + section + ".png", nil
}

func (f *fakeImages) PlaceholderURL() string { return "/uploads/placeholder.svg" }

type fakeSites struct {
	err   error
	saved map[string]shared.Page
}

func (f *fakeSites) SaveSite(pages map[string]shared.Page, _ *shared.Plan, _ string, _ map[string]string) (*sitefiles.SaveResult, error) {
	f.saved = pages
	if f.err != nil {
		return nil, f.err
	}
	return &sitefiles.SaveResult{FolderPath: "/sites/test_site"}, nil
}

func testPlan() *shared.Plan {
	return &shared.Plan{
		Pages: []shared.PagePlan{
			{Name: "home", Purpose: "landing", Sections: []string{"hero", "features"}},
			{Name: "about", Purpose: "who we are", Sections: []string{"team"}},
		},
		ImageSections: []string{"hero", "team"},
		Navigation:    []string{"home", "about"},
	}
}

func testPipeline() (*Pipeline, *fakeText, *fakeImages, *fakeSites) {
	text := &fakeText{promptErr: map[string]error{}, pageErr: map[string]error{}}
	images := &fakeImages{failFor: map[string]bool{}}
	sites := &fakeSites{}
	p := &Pipeline{
		Planner:   &fakePlanner{plan: testPlan()},
		Text:      text,
		Images:    images,
		Sites:     sites,
		Fallbacks: NewCatalog(),
	}
	return p, text, images, sites
}

func collect(t *testing.T, events <-chan shared.ProgressEvent) []shared.ProgressEvent {
	t.Helper()
	var all []shared.ProgressEvent
	for ev := range events {
		all = append(all, ev)
	}
	require.NotEmpty(t, all)
	return all
}

// requireTerminal asserts the stream ends with exactly one terminal event
// and returns it.
func requireTerminal(t *testing.T, events []shared.ProgressEvent) shared.ProgressEvent {
	t.Helper()
	for i, ev := range events[:len(events)-1] {
		require.Equal(t, shared.StatusInProgress, ev.Status, "event %d must not be terminal", i)
	}
	last := events[len(events)-1]
	require.NotEqual(t, shared.StatusInProgress, last.Status)
	return last
}

func TestRunHappyPath(t *testing.T) {
	p, _, _, sites := testPipeline()

	events := collect(t, p.Run(context.Background(), "run-1", "a cozy bakery in the old town", ""))
	last := requireTerminal(t, events)

	require.Equal(t, shared.StepComplete, last.Step)
	require.Equal(t, shared.StatusCompleted, last.Status)
	require.Equal(t, 100, last.Progress)
	require.NotNil(t, last.Data)
	require.Len(t, last.Data.Pages, 2)
	require.Equal(t, "/uploads/hero.png", last.Data.ImageURLs["hero"])
	require.Equal(t, "/sites/test_site", last.Data.FolderPath)
	require.Len(t, sites.saved, 2)

	require.Equal(t, shared.StepPlanning, events[0].Step)
	progress := 0
	for _, ev := range events {
		require.GreaterOrEqual(t, ev.Progress, progress, "progress must never move backwards")
		progress = ev.Progress
	}
}

func TestRunGeneratesPagesSequentiallyInPlanOrder(t *testing.T) {
	p, text, _, _ := testPipeline()

	events := collect(t, p.Run(context.Background(), "run-10", "a cozy bakery in the old town", ""))
	requireTerminal(t, events)

	require.Equal(t, []string{"home", "about"}, text.pageOrder)
	require.Equal(t, 1, text.peak, "pages must be generated one at a time")
}

func TestRunShortDescription(t *testing.T) {
	p, _, _, _ := testPipeline()

	events := collect(t, p.Run(context.Background(), "run-2", "too short", ""))
	last := requireTerminal(t, events)

	require.Equal(t, shared.StepFailed, last.Step)
	require.Contains(t, last.Error, "at least 10 characters")
	require.Nil(t, last.Data)
}

func TestRunPlanningFailureIsFatal(t *testing.T) {
	p, _, _, _ := testPipeline()
	p.Planner = &fakePlanner{err: &shared.PlanningError{Reason: "plan contains no pages"}}

	events := collect(t, p.Run(context.Background(), "run-3", "a description long enough", ""))
	last := requireTerminal(t, events)

	require.Equal(t, shared.StatusFailed, last.Status)
	require.Contains(t, last.Error, "no pages")
}

func TestRunImageFailureUsesPlaceholder(t *testing.T) {
	p, _, images, _ := testPipeline()
	images.failFor["team"] = true

	events := collect(t, p.Run(context.Background(), "run-4", "a cozy bakery in the old town", ""))
	last := requireTerminal(t, events)

	require.Equal(t, shared.StatusCompleted, last.Status)
	require.Equal(t, "/uploads/placeholder.svg", last.Data.ImageURLs["team"])
	require.Equal(t, "/uploads/hero.png", last.Data.ImageURLs["hero"])

	var sawPartial bool
	for _, ev := range events {
		if ev.Message == "1/2 images generated" {
			sawPartial = true
		}
	}
	require.True(t, sawPartial, "expected partial image count message")
}

func TestRunAllImagesFailedIsFatal(t *testing.T) {
	p, _, images, _ := testPipeline()
	images.failFor["hero"] = true
	images.failFor["team"] = true

	events := collect(t, p.Run(context.Background(), "run-9", "a cozy bakery in the old town", ""))
	last := requireTerminal(t, events)

	require.Equal(t, shared.StatusFailed, last.Status)
	require.Contains(t, last.Error, "no images could be generated")
}

func TestRunRefusedDescriptionUsesCatalog(t *testing.T) {
	p, text, _, _ := testPipeline()
	text.promptErr["hero"] = &shared.RefusalError{Provider: "chat model", Detail: "nope"}

	events := collect(t, p.Run(context.Background(), "run-5", "a cozy bakery in the old town", ""))
	last := requireTerminal(t, events)
	require.Equal(t, shared.StatusCompleted, last.Status)
}

func TestRunPageFailureUsesFallbackPage(t *testing.T) {
	p, text, _, _ := testPipeline()
	text.pageErr["about"] = &shared.RefusalError{Provider: "chat model", Detail: "refused"}

	events := collect(t, p.Run(context.Background(), "run-6", "a cozy bakery in the old town", ""))
	last := requireTerminal(t, events)

	require.Equal(t, shared.StatusCompleted, last.Status)
	require.Len(t, last.Data.Pages, 2)
	require.Contains(t, last.Data.Pages["about"].HTML, "could not be generated")
	require.Contains(t, last.Data.Pages["about"].HTML, `href="home.html"`)
	require.Contains(t, last.Data.Pages["home"].HTML, "home")
}

func TestRunStorageFailureStillCompletes(t *testing.T) {
	p, _, _, sites := testPipeline()
	sites.err = &shared.StorageError{Op: "create site folder", Err: errors.New("disk full")}

	events := collect(t, p.Run(context.Background(), "run-7", "a cozy bakery in the old town", ""))
	last := requireTerminal(t, events)

	require.Equal(t, shared.StatusCompleted, last.Status)
	require.Empty(t, last.Data.FolderPath)
	require.Contains(t, last.Message, "saving files to disk failed")
	require.Len(t, last.Data.Pages, 2)
}

func TestRunPersistsHistory(t *testing.T) {
	database, err := db.InitDB(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer database.Close()

	p, _, _, _ := testPipeline()
	p.Runs = db.NewRunStore(database)

	collect(t, p.Run(context.Background(), "run-8", "a cozy bakery in the old town", ""))

	runs, err := p.Runs.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "run-8", runs[0].ID)
	require.Equal(t, shared.StatusCompleted, runs[0].Status)
	require.Equal(t, 100, runs[0].Progress)
	require.Equal(t, "/sites/test_site", runs[0].FolderPath)
}

func TestCatalogDescribe(t *testing.T) {
	c := NewCatalog()
	require.Equal(t, c["hero"], c.Describe("hero"))
	require.Equal(t, c["hero"], c.Describe("Hero Banner"))
	generic := c.Describe("quarterly_report")
	require.Contains(t, generic, "quarterly_report")
	require.True(t, strings.HasPrefix(generic, "A clean"))
}
