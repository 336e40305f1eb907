// Package ui provides the plain-terminal progress display for long batch
// phases (reference scanning, dataset resolution, downloads).
package ui

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const defaultWidth = 80

// Progress renders a single-line progress bar on stderr. A nil *Progress is
// a valid no-op, so callers can disable display without branching.
type Progress struct {
	mu    sync.Mutex
	label string
	total int
	done  int
	width int
}

// NewProgress creates a progress bar for total items under the given label
func NewProgress(label string, total int) *Progress {
	width := defaultWidth
	if w, _, err := term.GetSize(int(os.Stderr.Fd())); err == nil && w > 0 {
		width = w
	}
	p := &Progress{label: label, total: total, width: width}
	p.render()
	return p
}

// Increment marks one more item complete
func (p *Progress) Increment() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.done++
	p.render()
	p.mu.Unlock()
}

// SetTotal adjusts the expected item count mid-run
func (p *Progress) SetTotal(total int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.total = total
	p.render()
	p.mu.Unlock()
}

// Finish completes the bar and moves to the next line
func (p *Progress) Finish() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.done = p.total
	p.render()
	fmt.Fprintln(os.Stderr)
	p.mu.Unlock()
}

// render draws the bar. Caller must hold the mutex.
func (p *Progress) render() {
	if p.total <= 0 {
		return
	}

	// label [=====>     ] done/total
	counter := fmt.Sprintf(" %d/%d", p.done, p.total)
	barWidth := p.width - len(p.label) - len(counter) - 4
	if barWidth < 10 {
		barWidth = 10
	}

	filled := barWidth * p.done / p.total
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)

	fmt.Fprintf(os.Stderr, "\r%s [%s]%s", p.label, bar, counter)
}
