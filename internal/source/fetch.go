package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrNotFound = errors.New("resource not found")

// Fetcher retrieves the raw bytes behind a slide, audio or asset URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, rawURL string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return f(ctx, rawURL)
}

// HTTPFetcher GETs http(s) URLs. Relative URLs are resolved against BaseURL.
type HTTPFetcher struct {
	Client  *http.Client
	BaseURL string
	// MaxBytes caps a response body; 0 means 64 MiB.
	MaxBytes int64
}

func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		Client:  &http.Client{Timeout: timeout},
		BaseURL: baseURL,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := f.resolve(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("get %s: %w", target, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("get %s: unexpected status %s", target, resp.Status)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = 64 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("get %s: body exceeds %d bytes", target, limit)
	}
	return data, nil
}

func (f *HTTPFetcher) resolve(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	u.Fragment = ""
	if u.IsAbs() || f.BaseURL == "" {
		return u.String(), nil
	}
	base, err := url.Parse(f.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", f.BaseURL, err)
	}
	return base.ResolveReference(u).String(), nil
}

// FileFetcher reads URLs as paths under Root. "/slides/a.svg" and
// "file:///slides/a.svg" both map to Root/slides/a.svg; paths cannot
// escape Root.
type FileFetcher struct {
	Root string
}

func (f *FileFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := f.Path(rawURL)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", p, ErrNotFound)
	}
	return data, err
}

// Path maps a URL to its local file.
func (f *FileFetcher) Path(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Scheme != "" && u.Scheme != "file" {
		return "", fmt.Errorf("unsupported scheme %q for file fetcher", u.Scheme)
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	if f.Root == "" {
		return filepath.FromSlash(p), nil
	}
	clean := filepath.Clean("/" + strings.TrimPrefix(filepath.ToSlash(p), "/"))
	return filepath.Join(f.Root, filepath.FromSlash(clean)), nil
}

// Router sends http(s) URLs to HTTP and everything else to File.
type Router struct {
	HTTP Fetcher
	File Fetcher
}

func (r *Router) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	lower := strings.ToLower(rawURL)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		if r.HTTP == nil {
			return nil, fmt.Errorf("no http fetcher for %s", rawURL)
		}
		return r.HTTP.Fetch(ctx, rawURL)
	}
	if r.File == nil {
		return nil, fmt.Errorf("no file fetcher for %s", rawURL)
	}
	return r.File.Fetch(ctx, rawURL)
}

// NewRouter wires a file fetcher rooted at assetRoot and an HTTP fetcher
// with the given timeout.
func NewRouter(assetRoot string, timeout time.Duration) *Router {
	return &Router{
		HTTP: NewHTTPFetcher("", timeout),
		File: &FileFetcher{Root: assetRoot},
	}
}
