// services/llm_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	_ "embed"

	"github.com/sashabaranov/go-openai"

	"sitesmith/shared"
)

//go:embed prompts/planner.txt
var plannerPromptBytes []byte

//go:embed prompts/image_prompt.txt
var imagePromptBytes []byte

//go:embed prompts/page.txt
var pagePromptBytes []byte

//go:embed prompts/template_page.txt
var templatePagePromptBytes []byte

//go:embed prompts/landing.txt
var landingPromptBytes []byte

//go:embed prompts/edit.txt
var editPromptBytes []byte

var (
	plannerPrompt      string
	imagePromptPrompt  string
	pagePrompt         string
	templatePagePrompt string
	landingPrompt      string
	editPrompt         string
)

func init() {
	plannerPrompt = string(plannerPromptBytes)
	imagePromptPrompt = string(imagePromptBytes)
	pagePrompt = string(pagePromptBytes)
	templatePagePrompt = string(templatePagePromptBytes)
	landingPrompt = string(landingPromptBytes)
	editPrompt = string(editPromptBytes)

	if plannerPrompt == "" || imagePromptPrompt == "" || pagePrompt == "" ||
		templatePagePrompt == "" || landingPrompt == "" || editPrompt == "" {
		log.Fatal("FATAL: one or more prompts failed to load from embedded files.")
	}
}

// LLMService generates site plans, image descriptions and page HTML through
// a chat completion model.
type LLMService struct {
	client *openai.Client
	model  string
}

// NewLLMService creates the service. An empty model selects GPT-4o.
func NewLLMService(apiKey, model string) *LLMService {
	if model == "" {
		model = openai.GPT4o
	}
	return &LLMService{client: openai.NewClient(apiKey), model: model}
}

// chat centralizes chat completion calls: one system + one user message,
// refusals surfaced as shared.RefusalError so callers can substitute
// fallback content instead of failing the run.
func (s *LLMService) chat(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	log.Printf("Calling model %s (system %d bytes, user %d bytes)", s.model, len(systemPrompt), len(userPrompt))

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.5,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && shared.IsContentPolicy(err) {
			return "", &shared.RefusalError{Provider: "chat model", Detail: apiErr.Message}
		}
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from chat model")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", &shared.RefusalError{Provider: "chat model", Detail: "response stopped by content filter"}
	}
	if choice.Message.Content == "" {
		return "", errors.New("empty response content from chat model")
	}
	return choice.Message.Content, nil
}

// GeneratePlan asks the planner for a site structure and validates it.
// Any failure here is fatal for the run: there is no useful fallback for a
// missing or malformed plan.
func (s *LLMService) GeneratePlan(ctx context.Context, description string) (*shared.Plan, error) {
	raw, err := s.chat(ctx, plannerPrompt, description, 2000)
	if err != nil {
		return nil, &shared.PlanningError{Reason: "plan generation failed", Err: err}
	}

	plan, err := parsePlan(raw)
	if err != nil {
		return nil, err
	}
	log.Printf("Plan generated: %d pages, %d image sections", len(plan.Pages), len(plan.ImageSections))
	return plan, nil
}

// parsePlan turns raw model output into a validated Plan.
func parsePlan(raw string) (*shared.Plan, error) {
	text := stripFences(raw)
	var plan shared.Plan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		// Models sometimes wrap the object in prose. Retry on the
		// outermost brace span before giving up.
		start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return nil, &shared.PlanningError{Reason: "plan is not JSON", Err: err}
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &plan); err != nil {
			return nil, &shared.PlanningError{Reason: "plan is not valid JSON", Err: err}
		}
	}
	if err := validatePlan(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func validatePlan(plan *shared.Plan) error {
	if len(plan.Pages) == 0 {
		return &shared.PlanningError{Reason: "plan contains no pages"}
	}
	for _, pg := range plan.Pages {
		if strings.TrimSpace(pg.Name) == "" {
			return &shared.PlanningError{Reason: "plan contains a page with no name"}
		}
	}
	if plan.ImageSections == nil {
		return &shared.PlanningError{Reason: "plan is missing image_sections"}
	}
	for _, nav := range plan.Navigation {
		if !plan.HasPage(nav) {
			return &shared.PlanningError{Reason: fmt.Sprintf("navigation references unknown page %q", nav)}
		}
	}
	if len(plan.Navigation) == 0 {
		plan.Navigation = plan.PageNames()
	}
	return nil
}

// GenerateImagePrompt produces one image-model prompt for a section.
func (s *LLMService) GenerateImagePrompt(ctx context.Context, section, pageName, description string, plan *shared.Plan) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Website: %s\n", description)
	if plan != nil {
		fmt.Fprintf(&b, "Theme: %s, design style: %s, primary color: %s\n",
			plan.Styling.Theme, plan.Styling.DesignStyle, plan.Styling.PrimaryColor)
	}
	fmt.Fprintf(&b, "Section: %q on the %q page.", section, pageName)

	out, err := s.chat(ctx, imagePromptPrompt, b.String(), 200)
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(out), `"`), nil
}

// GeneratePageHTML generates one full page. When the context carries a
// template the model adapts it and the template's visual identity wins over
// the plan's styling hints.
func (s *LLMService) GeneratePageHTML(ctx context.Context, pc shared.PageContext) (shared.Page, error) {
	system := pagePrompt
	if pc.Template != "" {
		system = templatePagePrompt
	}

	out, err := s.chat(ctx, system, buildPageRequest(pc), 4000)
	if err != nil {
		return shared.Page{}, err
	}

	html := stripFences(out)
	if !looksLikeHTML(html) {
		return shared.Page{}, fmt.Errorf("model returned non-HTML content for page %q", pc.Page.Name)
	}
	return shared.Page{HTML: html}, nil
}

func buildPageRequest(pc shared.PageContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Website description: %s\n\n", pc.Description)

	if pc.Plan != nil {
		styling, _ := json.Marshal(pc.Plan.Styling)
		fmt.Fprintf(&b, "Site styling: %s\n", styling)
	}
	fmt.Fprintf(&b, "Site pages (for navigation): %s\n\n", strings.Join(pc.PageNames, ", "))

	fmt.Fprintf(&b, "Generate the %q page.\n", pc.Page.Name)
	if pc.Page.Purpose != "" {
		fmt.Fprintf(&b, "Purpose: %s\n", pc.Page.Purpose)
	}
	if len(pc.Page.Sections) > 0 {
		fmt.Fprintf(&b, "Sections: %s\n", strings.Join(pc.Page.Sections, ", "))
	}

	var withImages []string
	for _, section := range pc.Page.Sections {
		if url, ok := pc.ImageURLs[section]; ok {
			withImages = append(withImages, fmt.Sprintf("%s: %s", section, url))
		}
	}
	if len(withImages) > 0 {
		fmt.Fprintf(&b, "\nSection images (use these exact URLs):\n%s\n", strings.Join(withImages, "\n"))
	}

	if pc.Template != "" {
		fmt.Fprintf(&b, "\nTemplate to adapt:\n%s\n", pc.Template)
	}
	return b.String()
}

// GenerateLandingPage generates one self-contained landing page outside of
// any plan.
func (s *LLMService) GenerateLandingPage(ctx context.Context, description string) (shared.Page, error) {
	out, err := s.chat(ctx, landingPrompt, description, 4000)
	if err != nil {
		return shared.Page{}, err
	}
	html := stripFences(out)
	if !looksLikeHTML(html) {
		return shared.Page{}, errors.New("model returned non-HTML content for landing page")
	}
	return shared.Page{HTML: html}, nil
}

// EditHTML applies one natural-language edit to an existing document.
func (s *LLMService) EditHTML(ctx context.Context, html, instruction string) (string, error) {
	user := fmt.Sprintf("Change request: %s\n\nCurrent document:\n%s", instruction, html)
	out, err := s.chat(ctx, editPrompt, user, 4000)
	if err != nil {
		return "", err
	}
	edited := stripFences(out)
	if !looksLikeHTML(edited) {
		return "", errors.New("model returned non-HTML content for edit")
	}
	return edited, nil
}

// stripFences removes one level of markdown code fencing, with or without a
// language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") {
		return s
	}
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimPrefix(s, "```")
	if nl := strings.Index(s, "\n"); nl >= 0 {
		// Drop a language tag like "json" or "html" on the fence line.
		first := strings.TrimSpace(s[:nl])
		if first != "" && !strings.ContainsAny(first, " \t<{") {
			s = s[nl+1:]
		}
	}
	return strings.TrimSpace(s)
}

func looksLikeHTML(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "<!doctype") || strings.Contains(lower, "<html")
}
