package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"dayplan/internal/config"
	appLog "dayplan/internal/log"
)

// maxBodyBytes bounds a single feed download.
const maxBodyBytes = 32 << 20

// Outbound URL fetches are paced so many sources on one host do not burst.
const (
	fetchRate  = rate.Limit(4)
	fetchBurst = 2
)

// Source is a single ICS feed: either an http(s) URL or a local file.
type Source struct {
	// ID becomes the SourceID of every event parsed from this feed.
	ID   string
	Name string
	URL  string
	Path string
}

// SourcesFromConfig converts configured feeds into fetchable sources.
func SourcesFromConfig(cfgs []config.ICSConfig) []Source {
	out := make([]Source, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, Source{ID: c.ID, Name: c.Name, URL: c.URL, Path: c.Path})
	}
	return out
}

// String is the log-safe location of the source.
func (s Source) String() string {
	if s.Path != "" {
		return s.Path
	}
	return redactURL(s.URL)
}

// FetchResult contains the outcome of fetching a single ICS source.
type FetchResult struct {
	Source    Source
	Body      []byte // ICS payload (either freshly fetched or from cache)
	FromCache bool   // true if the cached body was reused
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher fetches ICS feeds. URL sources use conditional requests
// (ETag / Last-Modified) backed by a disk cache that also serves as a
// fallback when the remote is unreachable.
type Fetcher struct {
	client   *http.Client
	limiter  *rate.Limiter
	cacheDir string
}

// NewFetcher creates a Fetcher that keeps per-URL cache directories under
// cacheDir. An empty cacheDir falls back to ./var/ics-cache so development
// runs work without root permissions.
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter:  rate.NewLimiter(fetchRate, fetchBurst),
		cacheDir: cacheDir,
	}
}

// FetchAll fetches every source. Failures are logged and returned in the
// error slice; they never stop the remaining sources.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(sources))
	var errs []error

	for _, src := range sources {
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("ics source %s: %w", src.ID, err))
			appLog.Error("ics fetch failed", err, "id", src.ID, "src", src)
			continue
		}
		results = append(results, res)
	}

	return results, errs
}

// FetchOne fetches a single source.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	switch {
	case src.Path != "":
		return f.readFile(ctx, src)
	case src.URL != "":
		return f.fetchURL(ctx, src)
	default:
		return FetchResult{}, errors.New("source has neither url nor path")
	}
}

func (f *Fetcher) readFile(ctx context.Context, src Source) (FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return FetchResult{}, err
	}
	body, err := os.ReadFile(src.Path)
	if err != nil {
		return FetchResult{}, err
	}
	appLog.Debug("ics file read", "id", src.ID, "path", src.Path, "bytes", len(body))
	return FetchResult{Source: src, Body: body}, nil
}

func (f *Fetcher) fetchURL(ctx context.Context, src Source) (FetchResult, error) {
	cachePath := f.cachePathForURL(src.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := f.loadCacheBody(cachePath)

	fallback := func(reason error) (FetchResult, error) {
		if len(cachedBody) == 0 {
			return FetchResult{}, reason
		}
		appLog.Warn("ics fetch failed, using cached body", "id", src.ID, "url", redactURL(src.URL), "err", reason)
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
	}

	if err := f.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return FetchResult{}, ctx.Err()
		}
		return fallback(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return FetchResult{}, ctx.Err()
		}
		return fallback(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
		if err != nil {
			return fallback(err)
		}
		if len(body) > maxBodyBytes {
			// A cut feed would silently lose events; never cache it.
			return fallback(fmt.Errorf("body exceeds %d bytes", maxBodyBytes))
		}

		newMeta := cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			appLog.Error("ics cache save failed", err, "id", src.ID, "url", redactURL(src.URL))
		}

		appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "id", src.ID, "url", redactURL(src.URL))
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		return fallback(fmt.Errorf("unexpected status %s", resp.Status))
	}
}

func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host, since subscription URLs usually
// carry a secret token in the path or query.
//
//	https://example.com/private/abc.ics?token=x -> https://example.com/...(redacted)
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
