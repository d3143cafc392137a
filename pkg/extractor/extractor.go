package extractor

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/sdist-tools/sdist-meta/pkg/queue"
	"github.com/sdist-tools/sdist-meta/pkg/result"
	"github.com/sdist-tools/sdist-meta/pkg/types"
)

type Option struct {
	Workers    int      // number of concurrent workers, defaults to the number of CPUs
	Patterns   []string // member glob patterns, defaults to types.DefaultPatterns
	OutputRoot string
}

type Extractor struct {
	workers    int
	patterns   []string
	outputRoot string
	logger     *slog.Logger
}

func New(opt Option) (*Extractor, error) {
	if opt.Workers <= 0 {
		opt.Workers = runtime.NumCPU()
	}
	if len(opt.Patterns) == 0 {
		opt.Patterns = types.DefaultPatterns
	}
	for _, p := range opt.Patterns {
		if _, err := path.Match(p, ""); err != nil {
			return nil, xerrors.Errorf("invalid member pattern %q: %w", p, err)
		}
	}

	// The output root must exist before the pool starts.
	if err := os.MkdirAll(opt.OutputRoot, os.ModePerm); err != nil {
		return nil, xerrors.Errorf("unable to create the output root: %w", err)
	}

	return &Extractor{
		workers:    opt.Workers,
		patterns:   opt.Patterns,
		outputRoot: opt.OutputRoot,
		logger:     slog.With(slog.String("component", "extractor")),
	}, nil
}

// Run processes jobs from q until the queue is drained or ctx is canceled.
// Every fully processed job is reported to the sink exactly once; jobs still
// buffered at cancellation are abandoned without a report.
func (e *Extractor) Run(ctx context.Context, q *queue.Queue, sink result.Sink) error {
	e.logger.Info("Extracting archives", slog.Int("workers", e.workers))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.workers; i++ {
		g.Go(func() error {
			for {
				job, ok := q.Dequeue(ctx)
				if !ok {
					return ctx.Err()
				}
				if res, done := e.process(ctx, job); done {
					sink.Report(res)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return xerrors.Errorf("extraction interrupted: %w", err)
	}
	return nil
}

// process extracts the matching members of one archive. It returns done=false
// when the run was canceled mid-archive; the job is then left unreported and
// a later resumed run picks it up again.
func (e *Extractor) process(ctx context.Context, job types.Job) (types.Result, bool) {
	f, err := os.Open(job.Path)
	if err != nil {
		return types.Failure(job.Path, types.OpenError, err.Error()), true
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return types.Failure(job.Path, types.OpenError, fmt.Sprintf("gzip open error: %s", err)), true
	}
	defer gz.Close()

	subdir := ArchiveStem(job.Path)
	tr := tar.NewReader(gz)

	var extracted []string
	for {
		if err = ctx.Err(); err != nil {
			return types.Result{}, false
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.Failure(job.Path, types.OpenError, fmt.Sprintf("tar read error: %s", err)), true
		}

		if !e.match(hdr.Name) {
			continue
		}

		if hdr.Typeflag != tar.TypeReg {
			return types.Failure(job.Path, types.MemberExtractionError,
				fmt.Sprintf("unsupported member type for %s", hdr.Name)), true
		}

		dst, err := destPath(e.outputRoot, subdir, hdr.Name)
		if err != nil {
			return types.Failure(job.Path, types.UnsafeMemberPath, err.Error()), true
		}

		if err = writeMember(dst, tr); err != nil {
			return types.Failure(job.Path, types.MemberExtractionError, err.Error()), true
		}
		extracted = append(extracted, dst)
	}

	return types.Success(job.Path, extracted), true
}

// match reports whether the member name matches any configured pattern.
// `*` does not cross path separators; the first match wins.
func (e *Extractor) match(name string) bool {
	for _, p := range e.patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

// destPath maps an in-archive member name to a destination under root.
// The member's leading path element (the sdist's own top-level directory) is
// replaced by subdir, so every archive writes into its own namespace.
// Absolute member paths and paths escaping root via `..` are rejected, never
// sanitized.
func destPath(root, subdir, member string) (string, error) {
	if path.IsAbs(member) {
		return "", xerrors.Errorf("absolute member path %q", member)
	}

	clean := path.Clean(member)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", xerrors.Errorf("member path %q escapes the output root", member)
	}

	rest := clean
	if i := strings.Index(clean, "/"); i >= 0 {
		rest = clean[i+1:]
	}
	return filepath.Join(root, subdir, filepath.FromSlash(rest)), nil
}

func writeMember(dst string, r io.Reader) error {
	// Pre-existing directories are fine, runs over the same output root are
	// expected to overwrite.
	if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return xerrors.Errorf("unable to create a directory: %w", err)
	}

	f, err := os.Create(dst)
	if err != nil {
		return xerrors.Errorf("unable to open %s: %w", dst, err)
	}

	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		return xerrors.Errorf("unable to write %s: %w", dst, err)
	}
	return f.Close()
}

// ArchiveStem returns the archive base name without its tarball extension.
// e.g. /cache/archives/requests-2.31.0.tar.gz -> requests-2.31.0
func ArchiveStem(archivePath string) string {
	base := filepath.Base(archivePath)
	for _, suffix := range []string{".tar.gz", ".tgz"} {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix)
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
