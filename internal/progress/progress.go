package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// BarWidth is the number of cells in the rendered bar.
const BarWidth = 40

// SourcePlan is the metadata needed to size one source's work.
type SourcePlan struct {
	Cases    int
	Channels int
}

// Ops returns one operation per channel file plus one per label file.
func (p SourcePlan) Ops() int {
	return p.Cases * (p.Channels + 1)
}

// PlanTotal sums the operations of every source.
func PlanTotal(plans []SourcePlan) int {
	total := 0
	for _, p := range plans {
		total += p.Ops()
	}
	return total
}

// Tracker renders a bounded number of progress updates for a known total.
// Updates are drawn when done crosses a 1% step or reaches total.
type Tracker struct {
	w        io.Writer
	total    int
	done     int
	interval int
	inPlace  bool

	renders      int
	lastRendered int
	finished     bool
}

// New returns a Tracker writing to w. Terminals get in-place updates,
// anything else one line per update.
func New(w io.Writer, total int) *Tracker {
	if w == nil {
		w = io.Discard
	}
	if total < 0 {
		total = 0
	}
	interval := total / 100
	if interval < 1 {
		interval = 1
	}
	return &Tracker{
		w:            w,
		total:        total,
		interval:     interval,
		inPlace:      isatty(w),
		lastRendered: -1,
	}
}

// Start draws the initial 0% state.
func (t *Tracker) Start() {
	t.render()
}

// Advance records n completed operations. done never exceeds total.
func (t *Tracker) Advance(n int) {
	if n <= 0 || t.finished {
		return
	}
	prev := t.done
	t.done += n
	if t.done > t.total {
		t.done = t.total
	}
	if t.done == t.total || prev/t.interval != t.done/t.interval {
		t.render()
	}
}

// Finish draws the final state unless it was the last thing drawn, then
// ends the line. Calling it again has no effect.
func (t *Tracker) Finish() {
	if t.finished {
		return
	}
	if t.lastRendered != t.done {
		t.render()
	}
	if t.inPlace {
		fmt.Fprint(t.w, "\n")
	}
	t.finished = true
}

// Done returns the completed operation count.
func (t *Tracker) Done() int {
	return t.done
}

// Total returns the planned operation count.
func (t *Tracker) Total() int {
	return t.total
}

// Renders returns how many updates have been drawn.
func (t *Tracker) Renders() int {
	return t.renders
}

// Percent returns the completed share in whole percent. An empty plan is
// complete.
func (t *Tracker) Percent() int {
	if t.total == 0 {
		return 100
	}
	return t.done * 100 / t.total
}

func (t *Tracker) render() {
	pct := t.Percent()
	line := fmt.Sprintf("Progress: [%s] %d/%d (%d%%)", progressBar(pct, BarWidth), t.done, t.total, pct)
	if t.inPlace {
		fmt.Fprint(t.w, "\r"+line)
	} else {
		fmt.Fprintln(t.w, line)
	}
	t.renders++
	t.lastRendered = t.done
}

// progressBar creates a simple ASCII progress bar
func progressBar(percent, width int) string {
	filled := percent * width / 100
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("#", filled) + strings.Repeat("-", width-filled)
}

func isatty(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
