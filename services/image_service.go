// services/image_service.go
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "embed"

	"github.com/sashabaranov/go-openai"

	"sitesmith/shared"
)

//go:embed assets/placeholder.svg
var placeholderSVG []byte

// PlaceholderFile is the stand-in image served when generation or download
// fails for a section.
const PlaceholderFile = "placeholder.svg"

// Image sizes accepted by the image model. Hero sections get the wide
// format, everything else the square one.
const (
	SizeWide   = "1792x1024"
	SizeSquare = "1024x1024"
)

const maxImageBytes = 10 << 20

// ImageGenerator produces an image for a prompt and returns a URL the
// result can be downloaded from.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, size string) (string, error)
}

// ImageService generates images through the images API.
type ImageService struct {
	client *openai.Client
	model  string
}

// NewImageService creates the service. An empty model selects DALL-E 3.
func NewImageService(apiKey, model string) *ImageService {
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	return &ImageService{client: openai.NewClient(apiKey), model: model}
}

// GenerateImage requests one image and returns its download URL. Refusals
// come back as shared.RefusalError so callers can fall back to the
// placeholder instead of failing the section.
func (s *ImageService) GenerateImage(ctx context.Context, prompt, size string) (string, error) {
	log.Printf("Calling image model %s (size %s, prompt %d bytes)", s.model, size, len(prompt))

	resp, err := s.client.CreateImage(ctx, openai.ImageRequest{
		Model:          s.model,
		Prompt:         prompt,
		Size:           size,
		Quality:        openai.CreateImageQualityStandard,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		if shared.IsContentPolicy(err) {
			return "", &shared.RefusalError{Provider: "image model", Detail: err.Error()}
		}
		return "", fmt.Errorf("image generation failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", errors.New("image model returned no image URL")
	}
	return resp.Data[0].URL, nil
}

// ImageFetcher turns section prompts into locally hosted image URLs:
// generate, download, validate and store under the upload directory.
type ImageFetcher struct {
	gen       ImageGenerator
	uploadDir string
	baseURL   string
	client    *http.Client
	now       func() time.Time
}

// NewImageFetcher creates a fetcher storing files in uploadDir and
// addressing them under baseURL/uploads/.
func NewImageFetcher(gen ImageGenerator, uploadDir, baseURL string) (*ImageFetcher, error) {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &ImageFetcher{
		gen:       gen,
		uploadDir: uploadDir,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		client:    &http.Client{Timeout: 120 * time.Second},
		now:       time.Now,
	}, nil
}

// Fetch generates the image for one section, downloads it into the upload
// directory and returns the local URL pages should embed.
func (f *ImageFetcher) Fetch(ctx context.Context, section, prompt string) (string, error) {
	size := SizeSquare
	if strings.Contains(strings.ToLower(section), "hero") {
		size = SizeWide
	}

	remoteURL, err := f.gen.GenerateImage(ctx, prompt, size)
	if err != nil {
		return "", err
	}

	filename, err := f.download(ctx, section, remoteURL)
	if err != nil {
		return "", err
	}
	return f.baseURL + "/uploads/" + filename, nil
}

func (f *ImageFetcher) download(ctx context.Context, section, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build image download request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download image: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image body: %w", err)
	}
	if len(data) > maxImageBytes {
		return "", fmt.Errorf("image exceeds %d byte limit", maxImageBytes)
	}

	ext, ok := sniffImageType(data)
	if !ok {
		return "", errors.New("downloaded content is not a recognized image format")
	}

	filename := fmt.Sprintf("%s_%d%s", sanitizeFileToken(section), f.now().Unix(), ext)
	if err := os.WriteFile(filepath.Join(f.uploadDir, filename), data, 0o644); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	log.Printf("Image stored: %s (%d bytes)", filename, len(data))
	return filename, nil
}

// EnsurePlaceholder writes the bundled placeholder image into the upload
// directory if it is not there yet.
func (f *ImageFetcher) EnsurePlaceholder() error {
	path := filepath.Join(f.uploadDir, PlaceholderFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, placeholderSVG, 0o644)
}

// PlaceholderURL returns the local URL of the placeholder image.
func (f *ImageFetcher) PlaceholderURL() string {
	return f.baseURL + "/uploads/" + PlaceholderFile
}

var fileTokenRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func sanitizeFileToken(s string) string {
	token := fileTokenRe.ReplaceAllString(strings.TrimSpace(s), "_")
	token = strings.Trim(token, "_")
	if token == "" {
		token = "image"
	}
	return token
}

// sniffImageType checks the magic bytes of the usual web image formats and
// returns the matching file extension.
func sniffImageType(data []byte) (string, bool) {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return ".png", true
	case bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return ".jpg", true
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return ".gif", true
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return ".webp", true
	}
	return "", false
}
