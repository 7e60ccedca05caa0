package assets

import (
	"context"
	"slices"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type origin struct {
	srv  *httptest.Server
	down atomic.Bool
	hits atomic.Int32
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{}
	mux := http.NewServeMux()
	mux.HandleFunc("/app/index.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<h1>form</h1>"))
	})
	mux.HandleFunc("/app/offline.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<h1>offline</h1>"))
	})
	mux.HandleFunc("/app/queue.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript")
		w.Write([]byte("// queue"))
	})
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		if o.down.Load() {
			// Drop the connection so the client sees a transport error.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(o.srv.Close)
	return o
}

func newTestCache(t *testing.T, o *origin, dir string) *Cache {
	t.Helper()
	logger, _ := test.NewNullLogger()
	c, err := New(Config{
		Origin:      o.srv.URL + "/app/",
		Dir:         dir,
		Version:     "v7",
		OfflinePage: "offline.html",
		Precache:    []string{"/index.html", "/offline.html", "/queue.js", "/missing.png"},
	}, WithLogger(logger))
	require.NoError(t, err)
	return c
}

func get(c *Cache, path string, html bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if html {
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
	}
	rec := httptest.NewRecorder()
	c.ServeHTTP(rec, req)
	return rec
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Origin: "not a url", Dir: "x", Version: "v1"})
	assert.Error(t, err)
	_, err = New(Config{Origin: "https://example.com"})
	assert.Error(t, err)
}

func TestDefaultPrecache(t *testing.T) {
	for _, p := range []string{"/", "/offline.html", "/profeta_diario_lote08.html", "/inicial.jpg", "/provider.jpg"} {
		assert.True(t, slices.Contains(DefaultPrecache, p), "missing %s", p)
	}
}

func TestInstall_SkipsMissing(t *testing.T) {
	o := newOrigin(t)
	c := newTestCache(t, o, t.TempDir())

	stored, err := c.Install(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stored)
}

func TestServe_CacheFirstForAssets(t *testing.T) {
	o := newOrigin(t)
	c := newTestCache(t, o, t.TempDir())
	_, err := c.Install(context.Background())
	require.NoError(t, err)

	before := o.hits.Load()
	rec := get(c, "/queue.js", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "// queue", rec.Body.String())
	assert.Equal(t, "text/javascript", rec.Header().Get("Content-Type"))
	assert.Equal(t, before, o.hits.Load(), "cached asset must not reach the origin")
}

func TestServe_NetworkFirstForPages(t *testing.T) {
	o := newOrigin(t)
	c := newTestCache(t, o, t.TempDir())

	rec := get(c, "/index.html", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<h1>form</h1>", rec.Body.String())

	// Origin goes away: the page comes from the copy stored above.
	o.down.Store(true)
	rec = get(c, "/index.html", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<h1>form</h1>", rec.Body.String())
}

func TestServe_OfflineFallback(t *testing.T) {
	o := newOrigin(t)
	c := newTestCache(t, o, t.TempDir())
	_, err := c.Install(context.Background())
	require.NoError(t, err)

	o.down.Store(true)
	rec := get(c, "/never-seen.html", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<h1>offline</h1>", rec.Body.String())
}

func TestServe_NothingCached(t *testing.T) {
	o := newOrigin(t)
	c := newTestCache(t, o, t.TempDir())
	o.down.Store(true)

	assert.Equal(t, http.StatusServiceUnavailable, get(c, "/index.html", true).Code)
	assert.Equal(t, http.StatusBadGateway, get(c, "/queue.js", false).Code)
}

func TestServe_RejectsNonGet(t *testing.T) {
	o := newOrigin(t)
	c := newTestCache(t, o, t.TempDir())

	rec := httptest.NewRecorder()
	c.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/index.html", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestActivate_RemovesOldVersions(t *testing.T) {
	o := newOrigin(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "v6"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v6", "stale"), []byte("x"), 0o644))

	c := newTestCache(t, o, dir)
	_, err := c.Install(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Activate())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "v7", entries[0].Name())
}

func TestActivate_MissingRoot(t *testing.T) {
	o := newOrigin(t)
	c := newTestCache(t, o, filepath.Join(t.TempDir(), "absent"))
	assert.NoError(t, c.Activate())
}
