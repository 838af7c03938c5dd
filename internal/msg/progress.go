package msg

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Progress prints one numbered line per finished build step. It is safe for
// concurrent use by compile and link workers.
type Progress struct {
	Total int
	W     io.Writer
	Start time.Time

	mu      sync.Mutex
	current int
}

func NewProgress(total int, w io.Writer) *Progress {
	return &Progress{
		Total: total,
		W:     w,
		Start: time.Now(),
	}
}

// Step advances the counter and prints `[ n/N] VERB subject`.
func (p *Progress) Step(verb, subject string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	width := len(strconv.Itoa(p.Total))
	fmt.Fprintf(p.W, "[%*d/%d] %s %s\n", width, p.current, p.Total, color.HiCyanString("%-4s", verb), subject)
}

// Current reports how many steps have been printed.
func (p *Progress) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.W, "%s %d step(s) in %s\n", color.HiGreenString("Finished"), p.current, time.Since(p.Start).Round(time.Millisecond))
}
