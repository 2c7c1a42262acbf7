package progress

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Reporter tracks patients moving through one run.
type Reporter interface {
	Start(total int)
	Advance(patientID, outcome string)
	Finish()
}

// MPBReporter renders a single terminal bar with the mpb library.
type MPBReporter struct {
	out       io.Writer
	mu        sync.Mutex
	container *mpb.Progress
	bar       *mpb.Bar
	last      atomic.Value
}

// NewMPBReporter creates a bar reporter writing to out.
func NewMPBReporter(out io.Writer) *MPBReporter {
	r := &MPBReporter{out: out}
	r.last.Store("")
	return r
}

// Start creates the bar; a run with no queued patients draws nothing.
func (r *MPBReporter) Start(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if total <= 0 {
		return
	}
	r.container = mpb.New(mpb.WithOutput(r.out), mpb.WithWidth(40))
	r.bar = r.container.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name("patients ", decor.WCSyncSpaceR),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncSpace),
			decor.Any(func(decor.Statistics) string {
				return r.last.Load().(string)
			}),
		),
	)
}

func (r *MPBReporter) Advance(patientID, outcome string) {
	r.last.Store(" " + outcome)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		r.bar.Increment()
	}
}

// Finish completes or aborts the bar and waits for the final render.
func (r *MPBReporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.container == nil {
		return
	}
	if !r.bar.Completed() {
		r.bar.Abort(false)
	}
	r.container.Wait()
	r.container = nil
	r.bar = nil
}

// NoopReporter counts progress without drawing anything; used for the
// HTTP trigger and the scheduled lambda.
type NoopReporter struct {
	Total    int32
	Advanced int32
}

func (r *NoopReporter) Start(total int) {
	atomic.StoreInt32(&r.Total, int32(total))
}

func (r *NoopReporter) Advance(patientID, outcome string) {
	atomic.AddInt32(&r.Advanced, 1)
}

func (r *NoopReporter) Finish() {}
