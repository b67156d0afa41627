// Package progress renders download progress to the terminal. It wraps
// github.com/schollz/progressbar/v3 behind a small interface so the engine
// never depends on the rendering library directly.
package progress

import (
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Reporter receives progress updates during a depot download run.
// Implementations must be safe for concurrent use, since workers in
// internal/engine call Add from multiple goroutines.
type Reporter interface {
	SetTotal(total int64)
	Add(delta int64)
	Describe(text string)
	Finish()
}

// BarReporter renders progress as a terminal byte-progress bar.
type BarReporter struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// NewBarReporter creates a reporter with an initial total size in bytes.
func NewBarReporter(total int64, description string) *BarReporter {
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
	return &BarReporter{bar: bar}
}

func (r *BarReporter) SetTotal(total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bar.ChangeMax64(total)
}

func (r *BarReporter) Add(delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.bar.Add64(delta)
}

func (r *BarReporter) Describe(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bar.Describe(text)
}

func (r *BarReporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.bar.Finish()
}

// NullReporter discards all updates; used when --quiet suppresses output.
type NullReporter struct{}

func (NullReporter) SetTotal(int64)     {}
func (NullReporter) Add(int64)          {}
func (NullReporter) Describe(string)    {}
func (NullReporter) Finish()            {}
