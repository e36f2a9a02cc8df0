package run

import (
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/flarebyte/scribe/internal/config"
	"github.com/flarebyte/scribe/internal/pipeline"
	"github.com/flarebyte/scribe/internal/processor"
)

// progressReporter prints periodic counters while records are processed. It
// implements pipeline.Observer.
type progressReporter struct {
	enabled  bool
	interval time.Duration
	w        io.Writer
	printer  *message.Printer

	mu        sync.Mutex
	state     pipeline.State
	processed int
	written   int
	failed    int
	malformed int
	stop      chan struct{}
}

func newProgressReporter(ui config.UI, w io.Writer, tty bool) *progressReporter {
	if !ui.Progress && !tty {
		return &progressReporter{enabled: false}
	}
	interval := ui.ProgressIntervalMs
	if interval <= 0 {
		interval = 1000
	}
	return &progressReporter{
		enabled:  true,
		interval: time.Duration(interval) * time.Millisecond,
		w:        w,
		printer:  message.NewPrinter(language.English),
	}
}

func (p *progressReporter) StateChanged(runID string, s pipeline.State) {
	if p == nil || !p.enabled {
		return
	}
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	switch {
	case s == pipeline.StateProcessing:
		p.start()
	case s.Terminal():
		p.halt()
		p.emit()
	}
}

func (p *progressReporter) RecordDone(runID string, index int, out processor.Outcome) {
	if p == nil || !p.enabled {
		return
	}
	p.mu.Lock()
	p.written++
	switch {
	case out.Malformed:
		p.malformed++
	case out.Status == processor.Failed:
		p.processed++
		p.failed++
	default:
		p.processed++
	}
	p.mu.Unlock()
}

func (p *progressReporter) start() {
	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.emit()
			case <-stop:
				return
			}
		}
	}()
}

func (p *progressReporter) halt() {
	p.mu.Lock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	p.mu.Unlock()
}

func (p *progressReporter) emit() {
	if p == nil || !p.enabled || p.w == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, "progress state=%s processed=%d written=%d failed=%d malformed=%d\n",
		p.state, p.processed, p.written, p.failed, p.malformed)
}

// finish prints a readable closing line.
func (p *progressReporter) finish(sum pipeline.Summary) {
	if p == nil || !p.enabled || p.w == nil {
		return
	}
	_, _ = p.printer.Fprintf(p.w, "%s: %d written (%d augmented, %d passed through, %d failed, %d malformed), resumed at %d\n",
		sum.State, sum.Written, sum.Augmented, sum.PassedThrough, sum.Failed, sum.Malformed, sum.Offset)
}
