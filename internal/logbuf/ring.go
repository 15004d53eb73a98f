package logbuf

import (
	"io"
	"strings"
	"sync"
)

// Ring is a thread-safe ring buffer that stores the last N lines of
// worker output.
type Ring struct {
	mu    sync.Mutex
	lines []string
	size  int
	pos   int
	full  bool
}

// New creates a ring buffer that stores the last n lines.
func New(n int) *Ring {
	return &Ring{
		lines: make([]string, n),
		size:  n,
	}
}

// Append stores one line, evicting the oldest once the buffer is full.
func (r *Ring) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % r.size
	if r.pos == 0 {
		r.full = true
	}
}

// Lines returns all stored lines in order, oldest first.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		result := make([]string, r.pos)
		copy(result, r.lines[:r.pos])
		return result
	}

	result := make([]string, r.size)
	copy(result, r.lines[r.pos:])
	copy(result[r.size-r.pos:], r.lines[:r.pos])
	return result
}

// Last returns the last n lines. If fewer lines exist, returns all of them.
func (r *Ring) Last(n int) []string {
	all := r.Lines()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Reader returns an io.Reader over the current buffer contents.
func (r *Ring) Reader() io.Reader {
	lines := r.Lines()
	return strings.NewReader(strings.Join(lines, "\n"))
}
