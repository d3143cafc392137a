package result

import (
	"sync"

	"github.com/cheggaaa/pb/v3"

	"github.com/sdist-tools/sdist-meta/pkg/types"
)

// Sink consumes one result per processed archive. Implementations must be
// safe for concurrent use and must not block the reporting worker beyond an
// O(1) handoff.
type Sink interface {
	Report(types.Result)
}

// Collector buffers reported results in memory.
type Collector struct {
	mu      sync.Mutex
	results []types.Result
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Report(r types.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

// Results returns a copy of everything reported so far.
func (c *Collector) Results() []types.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	results := make([]types.Result, len(c.results))
	copy(results, c.results)
	return results
}

// Progress decorates a sink with a progress bar tick per reported archive.
type Progress struct {
	next Sink
	bar  *pb.ProgressBar
}

func NewProgress(next Sink, total int) *Progress {
	return &Progress{
		next: next,
		bar:  pb.StartNew(total),
	}
}

func (p *Progress) Report(r types.Result) {
	p.bar.Increment()
	p.next.Report(r)
}

func (p *Progress) Finish() {
	p.bar.Finish()
}
