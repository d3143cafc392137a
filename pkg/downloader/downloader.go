package downloader

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/xerrors"

	"github.com/sdist-tools/sdist-meta/pkg/types"
)

const (
	pypiURL        = "https://pypi.org/pypi/"
	simpleIndexURL = "https://pypi.org/simple/"
)

type Option struct {
	PypiUrl  string
	IndexUrl string
	Limit    int64
	CacheDir string
}

type Downloader struct {
	http       *retryablehttp.Client
	pypiUrl    string
	indexUrl   string
	limit      *semaphore.Weighted
	archiveDir string
}

// topPackages is the format of the top-pypi-packages JSON dumps.
type topPackages struct {
	Rows []struct {
		Project string `json:"project"`
	} `json:"rows"`
}

// packageInfo is the subset of the PyPI JSON API response we need.
type packageInfo struct {
	URLs []struct {
		PythonVersion string `json:"python_version"`
		URL           string `json:"url"`
		Filename      string `json:"filename"`
	} `json:"urls"`
}

func NewDownloader(opt Option) (Downloader, error) {
	client := retryablehttp.NewClient()
	client.RetryMax = 10
	client.Logger = slog.Default()
	client.RetryWaitMin = 30 * time.Second
	client.RetryWaitMax = 5 * time.Minute
	client.Backoff = retryablehttp.LinearJitterBackoff
	client.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
		// Projects without any release return 404 from the JSON API.
		// They are skipped later, no need to warn about them.
		if resp.StatusCode == http.StatusNotFound {
			return
		}
		if resp.StatusCode != http.StatusOK {
			slog.Warn("Unexpected http response", slog.String("url", resp.Request.URL.String()), slog.String("status", resp.Status))
		}
	}
	client.ErrorHandler = func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		logger := slog.Default()
		if resp != nil {
			logger = slog.With(slog.String("url", resp.Request.URL.String()), slog.Int("status_code", resp.StatusCode),
				slog.Int("num_tries", numTries))
		}
		if err != nil {
			logger = logger.With(slog.String("error", err.Error()))
		}
		logger.Error("HTTP request failed after retries")
		return resp, xerrors.Errorf("HTTP request failed after retries: %w", err)
	}

	if opt.PypiUrl == "" {
		opt.PypiUrl = pypiURL
	}
	if opt.IndexUrl == "" {
		opt.IndexUrl = simpleIndexURL
	}
	if opt.Limit == 0 {
		opt.Limit = 10
	}

	archiveDir := filepath.Join(opt.CacheDir, types.ArchivesDir)
	if err := os.MkdirAll(archiveDir, os.ModePerm); err != nil {
		return Downloader{}, err
	}
	slog.Info("Archives dir", slog.String("path", archiveDir))

	return Downloader{
		http:       client,
		pypiUrl:    opt.PypiUrl,
		indexUrl:   opt.IndexUrl,
		limit:      semaphore.NewWeighted(opt.Limit),
		archiveDir: archiveDir,
	}, nil
}

// ReadTopPackages returns up to number project names from a top-pypi-packages
// JSON file. number <= 0 means all of them.
func ReadTopPackages(path string, number int) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("unable to read %s: %w", path, err)
	}

	var top topPackages
	if err = json.Unmarshal(b, &top); err != nil {
		return nil, xerrors.Errorf("unable to unmarshal %s: %w", path, err)
	}

	var projects []string
	for _, row := range top.Rows {
		projects = append(projects, row.Project)
	}
	if number > 0 && number < len(projects) {
		projects = projects[:number]
	}
	return projects, nil
}

// ListProjects enumerates project names from the PyPI simple index.
func (d Downloader) ListProjects(ctx context.Context) ([]string, error) {
	resp, err := d.httpGet(ctx, d.indexUrl)
	if err != nil {
		return nil, xerrors.Errorf("http get error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.Errorf("unexpected status %s for %s", resp.Status, d.indexUrl)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, xerrors.Errorf("can't create new goquery doc: %w", err)
	}

	var projects []string
	doc.Find("a").Each(func(i int, selection *goquery.Selection) {
		if name := strings.TrimSpace(selection.Text()); name != "" {
			projects = append(projects, name)
		}
	})
	return projects, nil
}

// Download fetches the sdist of every listed project into the archive dir.
// Already present sdists are kept as is, so reruns only fetch what is missing.
func (d Downloader) Download(ctx context.Context, projects []string) error {
	slog.Info("Downloading sdists", slog.Int("count", len(projects)))

	g, ctx := errgroup.WithContext(ctx)
	for _, project := range projects {
		project := project
		if err := d.limit.Acquire(ctx, 1); err != nil {
			return xerrors.Errorf("semaphore acquire error: %w", err)
		}
		g.Go(func() error {
			defer d.limit.Release(1)
			return d.downloadProject(ctx, project)
		})
	}
	if err := g.Wait(); err != nil {
		return xerrors.Errorf("download error: %w", err)
	}
	slog.Info("Download completed")
	return nil
}

func (d Downloader) downloadProject(ctx context.Context, project string) error {
	jsonURL, err := url.JoinPath(d.pypiUrl, project, "json")
	if err != nil {
		return xerrors.Errorf("unable to build a URL for %s: %w", project, err)
	}

	resp, err := d.httpGet(ctx, jsonURL)
	if err != nil {
		return xerrors.Errorf("http get error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("Skipping project without package info", slog.String("project", project), slog.String("status", resp.Status))
		return nil
	}

	var info packageInfo
	if err = json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return xerrors.Errorf("%s decode error: %w", jsonURL, err)
	}

	// Packages publishing only wheels have no source distribution.
	for _, u := range info.URLs {
		if u.PythonVersion == "source" {
			return d.fetchSdist(ctx, u.URL, u.Filename)
		}
	}
	slog.Warn("No sdist published", slog.String("project", project))
	return nil
}

func (d Downloader) fetchSdist(ctx context.Context, sdistURL, filename string) error {
	if filename == "" {
		filename = path.Base(sdistURL)
	}
	archivePath := filepath.Join(d.archiveDir, filename)
	if _, err := os.Stat(archivePath); err == nil {
		return nil
	}

	resp, err := d.httpGet(ctx, sdistURL)
	if err != nil {
		return xerrors.Errorf("http get error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return xerrors.Errorf("unexpected status %s for %s", resp.Status, sdistURL)
	}

	f, err := os.Create(archivePath)
	if err != nil {
		return xerrors.Errorf("can't create file %s: %w", archivePath, err)
	}
	defer f.Close()

	slog.Info("Saving archive", slog.String("path", archivePath))
	if _, err = io.Copy(f, resp.Body); err != nil {
		return xerrors.Errorf("can't copy file %s: %w", archivePath, err)
	}
	return nil
}

func (d Downloader) httpGet(ctx context.Context, url string) (*http.Response, error) {
	// Sleep for a while to avoid 429 error
	randomSleep()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, xerrors.Errorf("unable to create a HTTP request: %w", err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, xerrors.Errorf("http error (%s): %w", url, err)
	}
	return resp, nil
}

func randomSleep() {
	r := rand.New(rand.NewSource(int64(time.Now().Nanosecond())))
	time.Sleep(time.Duration(r.Float64() * float64(100*time.Millisecond)))
}
