// services/image_service_test.go
package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

type fakeGenerator struct {
	url      string
	err      error
	lastSize string
}

func (g *fakeGenerator) GenerateImage(_ context.Context, _, size string) (string, error) {
	g.lastSize = size
	return g.url, g.err
}

func testFetcher(t *testing.T, gen ImageGenerator) *ImageFetcher {
	t.Helper()
	f, err := NewImageFetcher(gen, t.TempDir(), "http://localhost:8080/")
	require.NoError(t, err)
	return f
}

func TestFetchStoresImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(append(pngHeader, []byte("imagedata")...))
	}))
	defer srv.Close()

	gen := &fakeGenerator{url: srv.URL}
	f := testFetcher(t, gen)

	url, err := f.Fetch(context.Background(), "breads", "fresh loaves on a rack")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://localhost:8080/uploads/breads_"), url)
	require.True(t, strings.HasSuffix(url, ".png"), url)
	require.Equal(t, SizeSquare, gen.lastSize)

	stored := filepath.Join(f.uploadDir, strings.TrimPrefix(url, "http://localhost:8080/uploads/"))
	data, err := os.ReadFile(stored)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), string(pngHeader)))
}

func TestFetchHeroGetsWideFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(pngHeader)
	}))
	defer srv.Close()

	gen := &fakeGenerator{url: srv.URL}
	f := testFetcher(t, gen)

	_, err := f.Fetch(context.Background(), "hero", "wide banner shot")
	require.NoError(t, err)
	require.Equal(t, SizeWide, gen.lastSize)
}

func TestFetchRejectsNonImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>not an image</html>"))
	}))
	defer srv.Close()

	f := testFetcher(t, &fakeGenerator{url: srv.URL})
	_, err := f.Fetch(context.Background(), "hero", "p")
	require.ErrorContains(t, err, "not a recognized image format")
}

func TestFetchRejectsOversizedImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(pngHeader)
		w.Write(make([]byte, maxImageBytes))
	}))
	defer srv.Close()

	f := testFetcher(t, &fakeGenerator{url: srv.URL})
	_, err := f.Fetch(context.Background(), "hero", "p")
	require.ErrorContains(t, err, "byte limit")
}

func TestFetchRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := testFetcher(t, &fakeGenerator{url: srv.URL})
	_, err := f.Fetch(context.Background(), "hero", "p")
	require.ErrorContains(t, err, "unexpected status")
}

func TestEnsurePlaceholder(t *testing.T) {
	f := testFetcher(t, &fakeGenerator{})

	require.NoError(t, f.EnsurePlaceholder())
	data, err := os.ReadFile(filepath.Join(f.uploadDir, PlaceholderFile))
	require.NoError(t, err)
	require.Contains(t, string(data), "<svg")

	// Idempotent.
	require.NoError(t, f.EnsurePlaceholder())
	require.Equal(t, "http://localhost:8080/uploads/placeholder.svg", f.PlaceholderURL())
}

func TestSniffImageType(t *testing.T) {
	cases := []struct {
		data []byte
		ext  string
		ok   bool
	}{
		{pngHeader, ".png", true},
		{[]byte("\xff\xd8\xff\xe0rest"), ".jpg", true},
		{[]byte("GIF89a..."), ".gif", true},
		{[]byte("RIFF\x00\x00\x00\x00WEBPVP8 "), ".webp", true},
		{[]byte("plain text"), "", false},
		{nil, "", false},
	}
	for _, tc := range cases {
		ext, ok := sniffImageType(tc.data)
		require.Equal(t, tc.ok, ok)
		require.Equal(t, tc.ext, ext)
	}
}

func TestSanitizeFileToken(t *testing.T) {
	require.Equal(t, "hero", sanitizeFileToken("hero"))
	require.Equal(t, "our_team", sanitizeFileToken("our team!"))
	require.Equal(t, "image", sanitizeFileToken("///"))
}
