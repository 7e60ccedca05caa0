// Package assets keeps a versioned on-disk copy of the form UI's static files
// so the UI still opens when the origin is unreachable.
package assets

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
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// maxAssetSize is the largest response body stored in the cache (16 MB).
const maxAssetSize = 16 << 20

// DefaultPrecache lists the files the UI needs to open offline.
var DefaultPrecache = []string{
	"/",
	"/index.html",
	"/login.html",
	"/primeiro_acesso.html",
	"/seletor_lotes.html",
	"/profeta_diario_lote08.html",
	"/offline.html",
	"/manifest.webmanifest",
	"/queue.js",
	"/send_data.gif",
	"/inicial.jpg",
	"/provider.jpg",
	"/icons/icon-192.png",
	"/icons/icon-512.png",
}

// Config describes where assets come from and where they are kept.
type Config struct {
	Origin      string   // base URL of the UI, e.g. https://example.github.io/app-campo
	Dir         string   // root directory holding one subdirectory per version
	Version     string   // cache version; older versions are removed by Activate
	OfflinePage string   // path served for navigations when nothing else is available
	Precache    []string // paths fetched by Install (default: DefaultPrecache)
}

// Cache serves UI assets from the origin, falling back to the on-disk copy.
type Cache struct {
	origin      *url.URL
	dir         string
	version     string
	offlinePage string
	precache    []string
	httpClient  *http.Client
	logger      logrus.FieldLogger
}

// Option configures the Cache.
type Option func(*Cache)

// WithHTTPClient replaces the HTTP client used to reach the origin.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Cache) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache. It does not touch the network or the disk.
func New(cfg Config, opts ...Option) (*Cache, error) {
	origin, err := url.Parse(strings.TrimSuffix(cfg.Origin, "/"))
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid asset origin %q", cfg.Origin)
	}
	if cfg.Dir == "" || cfg.Version == "" {
		return nil, errors.New("asset cache dir and version are required")
	}
	c := &Cache{
		origin:      origin,
		dir:         cfg.Dir,
		version:     cfg.Version,
		offlinePage: "/" + strings.TrimPrefix(cfg.OfflinePage, "/"),
		precache:    cfg.Precache,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		logger:      logrus.StandardLogger(),
	}
	if len(c.precache) == 0 {
		c.precache = DefaultPrecache
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Install fetches every precache path into the current version. Paths that
// cannot be fetched are logged and skipped. It returns the number stored.
func (c *Cache) Install(ctx context.Context) (int, error) {
	if err := os.MkdirAll(c.versionDir(), 0o755); err != nil {
		return 0, fmt.Errorf("create cache dir: %w", err)
	}
	stored := 0
	for _, p := range c.precache {
		resp, body, err := c.fetch(ctx, p)
		if err == nil && resp.StatusCode != http.StatusOK {
			err = fmt.Errorf("status %d", resp.StatusCode)
		}
		if err != nil {
			c.logger.WithError(err).WithField("path", p).Warn("skipping precache asset")
			continue
		}
		if err := c.put(p, resp.Header.Get("Content-Type"), body); err != nil {
			return stored, err
		}
		stored++
	}
	c.logger.WithFields(logrus.Fields{
		"version": c.version,
		"stored":  stored,
		"listed":  len(c.precache),
	}).Info("asset cache installed")
	return stored, nil
}

// Activate removes the directories of every other cache version.
func (c *Cache) Activate() error {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cache root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == c.version {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.dir, e.Name())); err != nil {
			return fmt.Errorf("remove cache %s: %w", e.Name(), err)
		}
		c.logger.WithField("version", e.Name()).Info("removed old asset cache")
	}
	return nil
}

// ServeHTTP serves GET requests: network-first for page navigations,
// cache-first for everything else.
func (c *Cache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := r.URL.Path
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}
	if isNavigation(r) {
		c.serveNetworkFirst(w, r, key)
		return
	}
	c.serveCacheFirst(w, r, key)
}

func (c *Cache) serveNetworkFirst(w http.ResponseWriter, r *http.Request, key string) {
	resp, body, err := c.fetch(r.Context(), key)
	if err == nil {
		if resp.StatusCode == http.StatusOK {
			c.store(key, resp.Header.Get("Content-Type"), body)
		}
		write(w, resp.StatusCode, resp.Header.Get("Content-Type"), body)
		return
	}
	c.logger.WithError(err).WithField("path", key).Debug("origin unreachable, serving cached page")
	for _, candidate := range []string{key, c.offlinePage} {
		if e, body, ok := c.get(candidate); ok {
			write(w, http.StatusOK, e.ContentType, body)
			return
		}
	}
	http.Error(w, "offline", http.StatusServiceUnavailable)
}

func (c *Cache) serveCacheFirst(w http.ResponseWriter, r *http.Request, key string) {
	if e, body, ok := c.get(key); ok {
		write(w, http.StatusOK, e.ContentType, body)
		return
	}
	resp, body, err := c.fetch(r.Context(), key)
	if err != nil {
		http.Error(w, "offline", http.StatusBadGateway)
		return
	}
	if resp.StatusCode == http.StatusOK {
		c.store(key, resp.Header.Get("Content-Type"), body)
	}
	write(w, resp.StatusCode, resp.Header.Get("Content-Type"), body)
}

func (c *Cache) fetch(ctx context.Context, key string) (*http.Response, []byte, error) {
	u := c.origin.String() + "/" + strings.TrimPrefix(key, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Cache-Control", "no-store")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize))
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

// ---------------------------------------------------------------------------
// on-disk entries
// ---------------------------------------------------------------------------

type entry struct {
	Path        string    `json:"path"`
	ContentType string    `json:"content_type"`
	StoredAt    time.Time `json:"stored_at"`
}

func (c *Cache) versionDir() string {
	return filepath.Join(c.dir, c.version)
}

func (c *Cache) entryPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.versionDir(), hex.EncodeToString(sum[:]))
}

// store is put with the error logged; serving never fails on a cache write.
func (c *Cache) store(key, contentType string, body []byte) {
	if err := c.put(key, contentType, body); err != nil {
		c.logger.WithError(err).WithField("path", key).Warn("asset cache write failed")
	}
}

func (c *Cache) put(key, contentType string, body []byte) error {
	if err := os.MkdirAll(c.versionDir(), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	meta, err := json.Marshal(entry{Path: key, ContentType: contentType, StoredAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	base := c.entryPath(key)
	if err := writeFileAtomic(base+".body", body); err != nil {
		return err
	}
	return writeFileAtomic(base+".json", meta)
}

func (c *Cache) get(key string) (entry, []byte, bool) {
	base := c.entryPath(key)
	meta, err := os.ReadFile(base + ".json")
	if err != nil {
		return entry{}, nil, false
	}
	var e entry
	if err := json.Unmarshal(meta, &e); err != nil {
		return entry{}, nil, false
	}
	body, err := os.ReadFile(base + ".body")
	if err != nil {
		return entry{}, nil, false
	}
	return e, body, true
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func isNavigation(r *http.Request) bool {
	return r.Header.Get("Sec-Fetch-Mode") == "navigate" ||
		strings.Contains(r.Header.Get("Accept"), "text/html")
}

func write(w http.ResponseWriter, status int, contentType string, body []byte) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
	w.Write(body)
}
