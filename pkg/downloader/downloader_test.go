package downloader_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdist-tools/sdist-meta/pkg/downloader"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/simple/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
			<a href="/simple/requests/">requests</a>
			<a href="/simple/wheel-only/">wheel-only</a>
		</body></html>`))
	})
	mux.HandleFunc("/pypi/requests/json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"urls": [
			{"python_version": "py3", "url": "` + "http://" + r.Host + `/packages/requests-2.31.0-py3-none-any.whl", "filename": "requests-2.31.0-py3-none-any.whl"},
			{"python_version": "source", "url": "` + "http://" + r.Host + `/packages/requests-2.31.0.tar.gz", "filename": "requests-2.31.0.tar.gz"}
		]}`))
	})
	mux.HandleFunc("/pypi/wheel-only/json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"urls": [
			{"python_version": "py3", "url": "http://` + r.Host + `/packages/wheel_only-1.0-py3-none-any.whl", "filename": "wheel_only-1.0-py3-none-any.whl"}
		]}`))
	})
	mux.HandleFunc("/packages/requests-2.31.0.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("sdist bytes"))
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newDownloader(t *testing.T, ts *httptest.Server, cacheDir string) downloader.Downloader {
	t.Helper()

	d, err := downloader.NewDownloader(downloader.Option{
		PypiUrl:  ts.URL + "/pypi/",
		IndexUrl: ts.URL + "/simple/",
		Limit:    2,
		CacheDir: cacheDir,
	})
	require.NoError(t, err)
	return d
}

func TestDownload(t *testing.T) {
	ts := newTestServer(t)
	cacheDir := t.TempDir()
	d := newDownloader(t, ts, cacheDir)

	err := d.Download(context.Background(), []string{"requests", "wheel-only", "gone"})
	require.NoError(t, err)

	// Only the project with a published sdist ends up in the cache.
	archivePath := filepath.Join(cacheDir, "archives", "requests-2.31.0.tar.gz")
	b, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	assert.Equal(t, "sdist bytes", string(b))

	entries, err := os.ReadDir(filepath.Join(cacheDir, "archives"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDownloadKeepsExistingArchives(t *testing.T) {
	ts := newTestServer(t)
	cacheDir := t.TempDir()
	d := newDownloader(t, ts, cacheDir)

	archivePath := filepath.Join(cacheDir, "archives", "requests-2.31.0.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, []byte("already here"), 0644))

	err := d.Download(context.Background(), []string{"requests"})
	require.NoError(t, err)

	b, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	assert.Equal(t, "already here", string(b))
}

func TestListProjects(t *testing.T) {
	ts := newTestServer(t)
	d := newDownloader(t, ts, t.TempDir())

	got, err := d.ListProjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"requests", "wheel-only"}, got)
}

func TestReadTopPackages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "top.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rows": [
		{"project": "requests"},
		{"project": "flask"},
		{"project": "numpy"}
	]}`), 0644))

	tests := []struct {
		name   string
		number int
		want   []string
	}{
		{
			name:   "limited",
			number: 2,
			want:   []string{"requests", "flask"},
		},
		{
			name:   "all",
			number: 0,
			want:   []string{"requests", "flask", "numpy"},
		},
		{
			name:   "limit above the row count",
			number: 10,
			want:   []string{"requests", "flask", "numpy"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := downloader.ReadTopPackages(path, tt.number)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
