package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	ProgressBar   = "━"
	ProgressEmpty = "─"

	barWidth       = 20
	renderInterval = 100 * time.Millisecond
)

// ProgressReporter renders the download in flight as a single line that is
// rewritten in place with a carriage return.
type ProgressReporter struct {
	mu         sync.Mutex
	out        io.Writer
	now        func() time.Time
	name       string
	total      int64
	received   int64
	lastRender time.Time
	lastWidth  int
	active     bool
}

// NewProgressReporter creates a reporter writing to out (Out when nil)
func NewProgressReporter(out io.Writer) *ProgressReporter {
	if out == nil {
		out = Out
	}
	return &ProgressReporter{out: out, now: time.Now}
}

// Start begins a new line for name. total is -1 when unknown.
func (p *ProgressReporter) Start(name string, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active {
		p.endLine()
	}
	p.name = name
	p.total = total
	p.received = 0
	p.lastWidth = 0
	p.active = true
	p.render()
}

// Update records the bytes received so far. Renders are throttled.
func (p *ProgressReporter) Update(received int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}
	p.received = received
	if p.now().Sub(p.lastRender) < renderInterval {
		return
	}
	p.render()
}

// Finish renders the final state and ends the line
func (p *ProgressReporter) Finish(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}
	if success && p.total > 0 {
		p.received = p.total
	}
	p.render()
	p.endLine()
}

// Close ends an unfinished line
func (p *ProgressReporter) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active {
		p.endLine()
	}
}

func (p *ProgressReporter) endLine() {
	p.active = false
	if !IsQuietMode() {
		fmt.Fprint(p.out, "\n")
	}
}

func (p *ProgressReporter) render() {
	p.lastRender = p.now()
	if IsQuietMode() {
		return
	}

	line := FormatProgress(p.name, p.received, p.total)
	width := len([]rune(line))
	pad := ""
	if width < p.lastWidth {
		pad = strings.Repeat(" ", p.lastWidth-width)
	}
	p.lastWidth = width

	// write errors are ignored
	fmt.Fprint(p.out, "\r"+line+pad)
}

// FormatProgress formats one progress line without color
func FormatProgress(name string, received, total int64) string {
	if received < 0 {
		received = 0
	}
	if total <= 0 {
		return fmt.Sprintf("  %s  %s received", name, humanize.Bytes(uint64(received)))
	}
	if received > total {
		received = total
	}

	ratio := float64(received) / float64(total)
	filled := int(ratio * barWidth)
	bar := strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, barWidth-filled)

	return fmt.Sprintf("  %s  [%s]  %5.1f%%  %s / %s",
		name,
		bar,
		ratio*100,
		humanize.Bytes(uint64(received)),
		humanize.Bytes(uint64(total)),
	)
}
