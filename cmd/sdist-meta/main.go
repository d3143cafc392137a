package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/sdist-tools/sdist-meta/pkg/db"
	"github.com/sdist-tools/sdist-meta/pkg/downloader"
	"github.com/sdist-tools/sdist-meta/pkg/extractor"
	"github.com/sdist-tools/sdist-meta/pkg/fileutil"
	"github.com/sdist-tools/sdist-meta/pkg/metadata"
	"github.com/sdist-tools/sdist-meta/pkg/queue"
	"github.com/sdist-tools/sdist-meta/pkg/result"
	"github.com/sdist-tools/sdist-meta/pkg/summary"
	"github.com/sdist-tools/sdist-meta/pkg/types"
)

var (
	cacheDir string

	// download flags
	number        int
	downloadLimit int64

	// extract flags
	workers     int
	patterns    []string
	outputRoot  string
	resume      bool
	failOnError bool

	// summary flags
	outputFile string

	rootCmd = &cobra.Command{
		Use:           "sdist-meta",
		Short:         "Extract build metadata files from Python sdist archives",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	downloadCmd = &cobra.Command{
		Use:   "download [top-packages.json]",
		Short: "Download sdists from PyPI into the archive cache",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return download(cmd.Context(), args)
		},
	}

	extractCmd = &cobra.Command{
		Use:   "extract",
		Short: "Extract matching members from every cached archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return extract(cmd.Context())
		},
	}

	summaryCmd = &cobra.Command{
		Use:   "summary",
		Short: "Report aggregate counts from the result store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return report()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", defaultCacheDir(), "cache directory")

	downloadCmd.Flags().IntVarP(&number, "number", "n", 100, "number of packages to download, 0 means all")
	downloadCmd.Flags().Int64Var(&downloadLimit, "limit", 10, "maximum parallel downloads")

	extractCmd.Flags().IntVarP(&workers, "parallel", "p", runtime.NumCPU(), "number of extraction workers")
	extractCmd.Flags().StringSliceVar(&patterns, "pattern", types.DefaultPatterns, "member glob patterns")
	extractCmd.Flags().StringVarP(&outputRoot, "output", "o", "", "output root (default <cache-dir>/extracted)")
	extractCmd.Flags().BoolVar(&resume, "resume", false, "skip archives already extracted successfully")
	extractCmd.Flags().BoolVar(&failOnError, "fail-on-error", true, "exit nonzero if any archive failed")

	summaryCmd.Flags().StringVarP(&outputFile, "output", "o", "", "also write the summary as JSON to this file")

	rootCmd.AddCommand(downloadCmd, extractCmd, summaryCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("Fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "sdist-meta")
}

func download(ctx context.Context, args []string) error {
	d, err := downloader.NewDownloader(downloader.Option{
		Limit:    downloadLimit,
		CacheDir: cacheDir,
	})
	if err != nil {
		return xerrors.Errorf("downloader init error: %w", err)
	}

	var projects []string
	if len(args) > 0 {
		projects, err = downloader.ReadTopPackages(args[0], number)
	} else {
		projects, err = d.ListProjects(ctx)
		if err == nil && number > 0 && number < len(projects) {
			projects = projects[:number]
		}
	}
	if err != nil {
		return xerrors.Errorf("project list error: %w", err)
	}

	return d.Download(ctx, projects)
}

func extract(ctx context.Context) error {
	archiveDir := filepath.Join(cacheDir, types.ArchivesDir)
	if outputRoot == "" {
		outputRoot = filepath.Join(cacheDir, types.ExtractedDir)
	}

	archives, err := fileutil.ListArchives(archiveDir)
	if err != nil {
		return xerrors.Errorf("archive discovery error: %w", err)
	}

	dbc, err := db.New(cacheDir)
	if err != nil {
		return xerrors.Errorf("db open error: %w", err)
	}
	defer dbc.Close()
	if err = dbc.Init(); err != nil {
		return xerrors.Errorf("db init error: %w", err)
	}

	if resume {
		processed, err := dbc.ProcessedArchives()
		if err != nil {
			return xerrors.Errorf("resume query error: %w", err)
		}
		archives = lo.Filter(archives, func(path string, _ int) bool {
			_, ok := processed[path]
			return !ok
		})
		slog.Info("Resuming", slog.Int("skipped", len(processed)), slog.Int("remaining", len(archives)))
	}

	q := queue.New(len(archives))
	for _, a := range archives {
		if err = q.Enqueue(types.Job{Path: a}); err != nil {
			return xerrors.Errorf("enqueue error: %w", err)
		}
	}
	q.Close()

	ext, err := extractor.New(extractor.Option{
		Workers:    workers,
		Patterns:   patterns,
		OutputRoot: outputRoot,
	})
	if err != nil {
		return xerrors.Errorf("extractor init error: %w", err)
	}

	collector := result.NewCollector()
	sink := result.NewProgress(collector, len(archives))
	runErr := ext.Run(ctx, q, sink)
	sink.Finish()

	// Persist whatever completed, even on an interrupted run, so the next
	// --resume run picks up where this one stopped.
	results := collector.Results()
	if err = dbc.InsertResults(results); err != nil {
		return xerrors.Errorf("failed to insert results to db: %w", err)
	}
	if err = dbc.VacuumDB(); err != nil {
		return xerrors.Errorf("failed to vacuum db: %w", err)
	}

	s := summary.Build(results, clock.RealClock{})
	meta := metadata.New(cacheDir)
	if err = meta.Update(metadata.Metadata{
		Version:        db.SchemaVersion,
		UpdatedAt:      s.GeneratedAt,
		ArchiveCount:   s.Archives,
		ExtractedCount: s.ExtractedFiles,
	}); err != nil {
		return xerrors.Errorf("failed to update metadata: %w", err)
	}

	s.Log()

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			slog.Warn("Extraction canceled", slog.Int("completed", len(results)))
		}
		return runErr
	}
	if code := summary.ExitCode(results, failOnError); code != 0 {
		return xerrors.Errorf("%d of %d archives failed", s.Failed, s.Archives)
	}
	return nil
}

func report() error {
	if _, err := os.Stat(db.Path(cacheDir)); err != nil {
		return xerrors.Errorf("no result store found, run extract first: %w", err)
	}

	dbc, err := db.New(cacheDir)
	if err != nil {
		return xerrors.Errorf("db open error: %w", err)
	}
	defer dbc.Close()

	results, err := dbc.SelectResults()
	if err != nil {
		return xerrors.Errorf("select results error: %w", err)
	}

	s := summary.Build(results, clock.RealClock{})
	s.Log()

	if outputFile != "" {
		if err = fileutil.WriteJSON(outputFile, s); err != nil {
			return xerrors.Errorf("summary write error: %w", err)
		}
	}
	return nil
}
