// workflows/stages.go
package workflows

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"sitesmith/shared"
)

// retryOnce runs op with one retry on transient failure. Content-policy
// refusals are permanent: retrying a refusal just repeats it.
func retryOnce[T any](ctx context.Context, op func() (T, error)) (T, error) {
	wrapped := func() (T, error) {
		v, err := op()
		if err != nil && shared.IsContentPolicy(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(2))
}

// runPlanning validates the request and produces the site plan. Any error
// here fails the whole run.
func (p *Pipeline) runPlanning(ctx context.Context, state *shared.WorkflowState) error {
	if len(strings.TrimSpace(state.Description)) < 10 {
		return &shared.ValidationError{Reason: "description must be at least 10 characters"}
	}
	plan, err := p.Planner.GeneratePlan(ctx, state.Description)
	if err != nil {
		return err
	}
	state.Plan = plan
	return nil
}

// runImageDescriptions produces one image prompt per planned image section.
// A section whose description cannot be obtained falls back to the stock
// catalog; this stage never fails the run.
func (p *Pipeline) runImageDescriptions(ctx context.Context, state *shared.WorkflowState) error {
	state.ImagePrompts = make(map[string]string, len(state.Plan.ImageSections))
	for _, section := range state.Plan.ImageSections {
		if err := ctx.Err(); err != nil {
			return err
		}
		pageName := state.Plan.PageForSection(section)
		prompt, err := retryOnce(ctx, func() (string, error) {
			return p.Text.GenerateImagePrompt(ctx, section, pageName, state.Description, state.Plan)
		})
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Printf("Image description for %q failed, using stock description: %v", section, err)
			prompt = p.Fallbacks.Describe(section)
		}
		state.ImagePrompts[section] = prompt
	}
	return nil
}

// runImageGeneration fetches all section images concurrently. Failed
// sections get the placeholder and the stage reports how many real images
// it produced. It fails only when not a single image could be generated.
func (p *Pipeline) runImageGeneration(ctx context.Context, state *shared.WorkflowState) (int, error) {
	state.ImageURLs = make(map[string]string, len(state.ImagePrompts))
	if len(state.ImagePrompts) == 0 {
		return 0, nil
	}

	var (
		mu        sync.Mutex
		generated atomic.Int32
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency())

	for section, prompt := range state.ImagePrompts {
		g.Go(func() error {
			url, err := p.Images.Fetch(gctx, section, prompt)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Printf("Image for %q failed, using placeholder: %v", section, err)
				url = p.Images.PlaceholderURL()
			} else {
				generated.Add(1)
			}
			mu.Lock()
			state.ImageURLs[section] = url
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(generated.Load()), err
	}
	if generated.Load() == 0 {
		return 0, errors.New("no images could be generated")
	}
	return int(generated.Load()), nil
}

// runHTMLGeneration generates every planned page, one at a time in plan
// order; fan-out is reserved for the image stage. A page that cannot be
// generated after one retry gets a minimal fallback so the site stays
// navigable. onPage is called after each page for progress reporting.
func (p *Pipeline) runHTMLGeneration(ctx context.Context, state *shared.WorkflowState, onPage func(done, total int)) error {
	total := len(state.Plan.Pages)
	pageNames := state.Plan.PageNames()
	state.Pages = make(map[string]shared.Page, total)

	for i, pagePlan := range state.Plan.Pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		pc := shared.PageContext{
			Plan:        state.Plan,
			Page:        pagePlan,
			PageNames:   pageNames,
			ImageURLs:   state.ImageURLs,
			Description: state.Description,
			Template:    state.Template,
		}
		page, err := retryOnce(ctx, func() (shared.Page, error) {
			return p.Text.GeneratePageHTML(ctx, pc)
		})
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Printf("Page %q failed, using fallback page: %v", pagePlan.Name, err)
			page = fallbackPage(pagePlan, pageNames)
		}
		state.Pages[pagePlan.Name] = page
		onPage(i+1, total)
	}
	return nil
}

// runFileStorage consolidates the generated pages into a site folder.
// Storage failure is not fatal: generation succeeded and the payload is
// still delivered, just without a folder on disk.
func (p *Pipeline) runFileStorage(ctx context.Context, state *shared.WorkflowState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := p.Sites.SaveSite(state.Pages, state.Plan, state.Description, state.ImageURLs)
	if res != nil {
		state.FolderPath = res.FolderPath
		state.SavedFiles = res.SavedFiles
		for _, w := range res.Warnings {
			log.Printf("Site save warning: %s", w)
		}
	}
	if err != nil {
		return fmt.Errorf("site storage: %w", err)
	}

	if p.Publisher != nil && state.FolderPath != "" {
		if _, perr := p.Publisher.PublishSite(state.FolderPath, state.Description); perr != nil {
			log.Printf("Site publish failed: %v", perr)
		}
	}
	return nil
}
