// handlers/handlers.go
package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"sitesmith/db"
	"sitesmith/shared"
	"sitesmith/sitefiles"
	"sitesmith/workflows"
)

const minDescriptionLen = 10

// Runner starts generation runs and streams their progress.
type Runner interface {
	Run(ctx context.Context, runID, description, template string) <-chan shared.ProgressEvent
}

// TextService exposes the single-shot generation operations used by the
// staged endpoints.
type TextService interface {
	GeneratePlan(ctx context.Context, description string) (*shared.Plan, error)
	GenerateImagePrompt(ctx context.Context, section, pageName, description string, plan *shared.Plan) (string, error)
	GeneratePageHTML(ctx context.Context, pc shared.PageContext) (shared.Page, error)
	GenerateLandingPage(ctx context.Context, description string) (shared.Page, error)
	EditHTML(ctx context.Context, html, instruction string) (string, error)
}

// ImageFetcher turns image prompts into hosted URLs.
type ImageFetcher interface {
	Fetch(ctx context.Context, section, prompt string) (string, error)
	PlaceholderURL() string
}

// Handler holds dependencies for HTTP handlers. Fallbacks is the same
// catalog the pipeline uses, so staged endpoints degrade identically.
type Handler struct {
	Pipeline  Runner
	Text      TextService
	Images    ImageFetcher
	Runs      *db.RunStore
	Fallbacks workflows.Catalog
	UploadDir string
	SitesDir  string
}

// NewHandler creates a new Handler instance.
func NewHandler(pipeline Runner, text TextService, images ImageFetcher, runs *db.RunStore, fallbacks workflows.Catalog, uploadDir, sitesDir string) *Handler {
	return &Handler{
		Pipeline:  pipeline,
		Text:      text,
		Images:    images,
		Runs:      runs,
		Fallbacks: fallbacks,
		UploadDir: uploadDir,
		SitesDir:  sitesDir,
	}
}

// RegisterRoutes mounts all routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/health/live", h.Health)
	r.Get("/health/ready", h.Ready)

	r.Post("/api/generate-website", h.GenerateWebsite)
	r.Post("/api/generate-prompts", h.GeneratePrompts)
	r.Post("/api/generate-images", h.GenerateImages)
	r.Post("/api/generate-html", h.GenerateHTML)
	r.Post("/api/edit-html", h.EditHTML)
	r.Get("/api/runs", h.ListRuns)

	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(h.UploadDir))))
	r.Handle("/sites/*", http.StripPrefix("/sites/", http.FileServer(http.Dir(h.SitesDir))))
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports whether generation dependencies are wired.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	if h.Pipeline == nil || h.Text == nil || h.Images == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type generateRequest struct {
	Description string `json:"description"`
	Template    string `json:"template,omitempty"`
}

// GenerateWebsite runs the full pipeline and streams progress as
// server-sent events. The run is detached from the request context: a
// client that disconnects mid-run gets no more events, but the run finishes
// and the site is still saved.
func (h *Handler) GenerateWebsite(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if !validDescription(req.Description) {
		http.Error(w, "description must be at least 10 characters", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	runID := newRunID()
	log.Printf("Starting run %s", runID)
	events := h.Pipeline.Run(context.Background(), runID, req.Description, req.Template)

	clientGone := r.Context().Done()
	writing := true
	for ev := range events {
		if !writing {
			continue
		}
		select {
		case <-clientGone:
			log.Printf("Run %s: client disconnected, run continues in background", runID)
			writing = false
			continue
		default:
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			log.Printf("Run %s: could not marshal event: %v", runID, err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			writing = false
			continue
		}
		flusher.Flush()
	}
}

type promptsResponse struct {
	Plan         *shared.Plan      `json:"plan"`
	ImagePrompts map[string]string `json:"image_prompts"`
}

// GeneratePrompts runs only the planning and image description stages.
func (h *Handler) GeneratePrompts(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if !validDescription(req.Description) {
		http.Error(w, "description must be at least 10 characters", http.StatusBadRequest)
		return
	}

	plan, err := h.Text.GeneratePlan(r.Context(), req.Description)
	if err != nil {
		writeError(w, err)
		return
	}

	prompts := make(map[string]string, len(plan.ImageSections))
	for _, section := range plan.ImageSections {
		prompt, err := h.Text.GenerateImagePrompt(r.Context(), section, plan.PageForSection(section), req.Description, plan)
		if err != nil {
			log.Printf("Image prompt for %q failed, using stock description: %v", section, err)
			prompt = h.Fallbacks.Describe(section)
		}
		prompts[section] = prompt
	}

	respondJSON(w, http.StatusOK, promptsResponse{Plan: plan, ImagePrompts: prompts})
}

type imagesRequest struct {
	Prompts map[string]string `json:"prompts"`
}

type imagesResponse struct {
	ImageURLs map[string]string `json:"image_urls"`
	Generated int               `json:"generated"`
}

// GenerateImages turns section prompts into hosted image URLs. Failed
// sections get the placeholder, mirroring the full pipeline's behavior.
func (h *Handler) GenerateImages(w http.ResponseWriter, r *http.Request) {
	var req imagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(req.Prompts) == 0 {
		http.Error(w, "prompts are required", http.StatusBadRequest)
		return
	}

	urls := make(map[string]string, len(req.Prompts))
	generated := 0
	for section, prompt := range req.Prompts {
		url, err := h.Images.Fetch(r.Context(), section, prompt)
		if err != nil {
			log.Printf("Image for %q failed, using placeholder: %v", section, err)
			url = h.Images.PlaceholderURL()
		} else {
			generated++
		}
		urls[section] = url
	}

	respondJSON(w, http.StatusOK, imagesResponse{ImageURLs: urls, Generated: generated})
}

type htmlRequest struct {
	Description string            `json:"description"`
	Plan        *shared.Plan      `json:"plan"`
	ImageURLs   map[string]string `json:"image_urls"`
	Template    string            `json:"template,omitempty"`
}

type htmlResponse struct {
	Pages map[string]shared.Page `json:"pages"`
}

// GenerateHTML generates all pages for an already-produced plan, or a
// single self-contained landing page when no plan is supplied. Pages come
// back with embedded styles extracted and the shared stylesheet linked.
func (h *Handler) GenerateHTML(w http.ResponseWriter, r *http.Request) {
	var req htmlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Plan == nil {
		if !validDescription(req.Description) {
			http.Error(w, "a plan or a description of at least 10 characters is required", http.StatusBadRequest)
			return
		}
		page, err := h.Text.GenerateLandingPage(r.Context(), req.Description)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, htmlResponse{
			Pages: map[string]shared.Page{"landing": splitStyles(page)},
		})
		return
	}
	if len(req.Plan.Pages) == 0 {
		http.Error(w, "plan with pages is required", http.StatusBadRequest)
		return
	}

	pageNames := req.Plan.PageNames()
	pages := make(map[string]shared.Page, len(req.Plan.Pages))
	for _, pagePlan := range req.Plan.Pages {
		page, err := h.Text.GeneratePageHTML(r.Context(), shared.PageContext{
			Plan:        req.Plan,
			Page:        pagePlan,
			PageNames:   pageNames,
			ImageURLs:   req.ImageURLs,
			Description: req.Description,
			Template:    req.Template,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		pages[pagePlan.Name] = splitStyles(page)
	}

	respondJSON(w, http.StatusOK, htmlResponse{Pages: pages})
}

// splitStyles moves embedded styles into the CSS field and links the shared
// stylesheet, so staged-endpoint output matches what the consolidator would
// write.
func splitStyles(page shared.Page) shared.Page {
	stripped, css := sitefiles.ExtractStyles(page.HTML)
	if css == "" {
		return page
	}
	page.HTML = sitefiles.InsertStylesheetLink(stripped, sitefiles.StylesheetName)
	page.CSS = css
	return page
}

type editRequest struct {
	HTML        string `json:"html"`
	Instruction string `json:"instruction"`
}

// EditHTML applies one natural-language edit to a document.
func (h *Handler) EditHTML(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.HTML == "" || len(req.Instruction) < 5 {
		http.Error(w, "html and an instruction of at least 5 characters are required", http.StatusBadRequest)
		return
	}

	edited, err := h.Text.EditHTML(r.Context(), req.HTML, req.Instruction)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"html": edited})
}

// ListRuns returns recent run history, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		http.Error(w, "run history not available", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		log.Printf("ListRuns failed: %v", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []db.RunRecord{}
	}
	respondJSON(w, http.StatusOK, runs)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// writeError maps generation errors to HTTP statuses: caller mistakes are
// 400, content refusals 422, provider failures 502.
func writeError(w http.ResponseWriter, err error) {
	var (
		validation *shared.ValidationError
		refusal    *shared.RefusalError
		planning   *shared.PlanningError
	)
	switch {
	case errors.As(err, &validation):
		http.Error(w, validation.Error(), http.StatusBadRequest)
	case errors.As(err, &refusal):
		http.Error(w, refusal.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &planning):
		http.Error(w, planning.Error(), http.StatusBadGateway)
	default:
		log.Printf("Request failed: %v", err)
		http.Error(w, "generation failed", http.StatusBadGateway)
	}
}

func validDescription(d string) bool {
	return len(strings.TrimSpace(d)) >= minDescriptionLen
}

func newRunID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("run_%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("run_%d_%s", time.Now().Unix(), hex.EncodeToString(buf))
}
