package summary

import (
	"log/slog"
	"time"

	"github.com/samber/lo"
	"k8s.io/utils/clock"

	"github.com/sdist-tools/sdist-meta/pkg/types"
)

// Summary aggregates the results of one extraction run.
type Summary struct {
	Archives       int
	Succeeded      int
	Failed         int
	ExtractedFiles int
	FailuresByKind map[types.ErrorKind]int
	FailedArchives []string
	GeneratedAt    time.Time
}

func Build(results []types.Result, c clock.PassiveClock) Summary {
	failures := lo.Filter(results, func(r types.Result, _ int) bool {
		return r.Failed()
	})

	return Summary{
		Archives:  len(results),
		Succeeded: len(results) - len(failures),
		Failed:    len(failures),
		ExtractedFiles: lo.SumBy(results, func(r types.Result) int {
			return len(r.ExtractedPaths)
		}),
		FailuresByKind: lo.CountValuesBy(failures, func(r types.Result) types.ErrorKind {
			return r.ErrorKind
		}),
		FailedArchives: lo.Map(failures, func(r types.Result, _ int) string {
			return r.ArchivePath
		}),
		GeneratedAt: c.Now().UTC(),
	}
}

// Log reports the aggregate counts and one line per failed archive.
func (s Summary) Log() {
	slog.Info("Extraction summary",
		slog.Int("archives", s.Archives),
		slog.Int("succeeded", s.Succeeded),
		slog.Int("failed", s.Failed),
		slog.Int("extracted_files", s.ExtractedFiles))
	for kind, count := range s.FailuresByKind {
		slog.Info("Failures", slog.String("kind", string(kind)), slog.Int("count", count))
	}
	for _, path := range s.FailedArchives {
		slog.Warn("Failed archive", slog.String("path", path))
	}
}

// ExitCode implements the aggregation policy: any failed archive makes the
// whole run exit nonzero, unless the caller opted out.
func ExitCode(results []types.Result, failOnError bool) int {
	if !failOnError {
		return 0
	}
	if lo.SomeBy(results, func(r types.Result) bool { return r.Failed() }) {
		return 1
	}
	return 0
}
