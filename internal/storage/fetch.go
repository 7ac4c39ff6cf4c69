package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"skyforge/internal/infra"
)

// ErrAssetTooLarge is returned when an asset exceeds the fetcher's size limit.
var ErrAssetTooLarge = errors.New("storage: asset exceeds size limit")

// Asset is a downloaded provider file.
type Asset struct {
	Data        []byte
	ContentType string
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	HTTPClient *http.Client
	// ProxyURL is the download boundary endpoint; the source URL is passed in
	// its "url" query parameter.
	ProxyURL   string
	ProxyHosts []string
	MaxBytes   int64
	Logger     *infra.Logger
}

// Fetcher downloads provider assets. Hosts listed in ProxyHosts go through
// the proxy endpoint first and fall back to a direct fetch.
type Fetcher struct {
	client     *http.Client
	proxyURL   string
	proxyHosts []string
	maxBytes   int64
	logger     infra.Logger
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	l := infra.NopLogger()
	if opts.Logger != nil {
		l = *opts.Logger
	}
	hosts := make([]string, 0, len(opts.ProxyHosts))
	for _, h := range opts.ProxyHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &Fetcher{
		client:     client,
		proxyURL:   strings.TrimSpace(opts.ProxyURL),
		proxyHosts: hosts,
		maxBytes:   opts.MaxBytes,
		logger:     l,
	}
}

// ProxyAllowed reports whether rawURL points at an allow-listed host.
// Subdomains of a listed host match.
func (f *Fetcher) ProxyAllowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range f.proxyHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Fetch downloads sourceURL into memory.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string) (*Asset, error) {
	if f.proxyURL != "" && f.ProxyAllowed(sourceURL) {
		proxied := f.proxyURL + "?url=" + url.QueryEscape(sourceURL)
		asset, err := f.get(ctx, proxied)
		if err == nil {
			return asset, nil
		}
		if errors.Is(err, ErrAssetTooLarge) || ctx.Err() != nil {
			return nil, err
		}
		f.logger.Warn().Err(err).Str("url", sourceURL).Msg("storage: proxy fetch failed, trying direct")
	}
	return f.get(ctx, sourceURL)
}

// Open starts a direct download and returns the response for streaming.
// The caller closes the body.
func (f *Fetcher) Open(ctx context.Context, sourceURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("storage: fetch: unexpected status %d", resp.StatusCode)
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		resp.Body.Close()
		return nil, ErrAssetTooLarge
	}
	return resp, nil
}

// MaxBytes is the configured size limit, zero when unlimited.
func (f *Fetcher) MaxBytes() int64 { return f.maxBytes }

func (f *Fetcher) get(ctx context.Context, rawURL string) (*Asset, error) {
	resp, err := f.Open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("storage: read body: %w", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, ErrAssetTooLarge
	}
	return &Asset{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}
