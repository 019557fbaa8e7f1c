// Package customlog keeps the most recent breadcrumb lines attached to
// crash reports.
package customlog

import (
	"fmt"
	"strings"
	"sync"

	"crashrelay/internal/domain"
)

const lineSeparator = "\r\n"

var ErrSizeLimit = domain.ErrSizeLimit

// Buffer is a fixed-capacity FIFO ring of log lines.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	head  int
	size  int
}

// New returns a buffer retaining at most capacity lines. A non-positive
// value selects domain.MaxLogEntries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = domain.MaxLogEntries
	}
	return &Buffer{lines: make([]string, capacity)}
}

// Append adds line at the tail, evicting the oldest line when full. Empty
// lines are ignored.
func (b *Buffer) Append(line string) error {
	if line == "" {
		return nil
	}
	if len(line) > domain.MaxLineBytes {
		return fmt.Errorf("log line of %d bytes: %w", len(line), ErrSizeLimit)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	capacity := len(b.lines)
	if b.size == capacity {
		b.lines[b.head] = ""
		b.head = (b.head + 1) % capacity
		b.size--
	}
	b.lines[(b.head+b.size)%capacity] = line
	b.size++
	return nil
}

// Lines returns the buffered lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.linesLocked()
}

// Render joins the buffered lines, each followed by CRLF. An empty buffer
// renders as "".
func (b *Buffer) Render() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var sb strings.Builder
	for _, l := range b.linesLocked() {
		sb.WriteString(l)
		sb.WriteString(lineSeparator)
	}
	return sb.String()
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Buffer) linesLocked() []string {
	out := make([]string, b.size)
	for i := range out {
		out[i] = b.lines[(b.head+i)%len(b.lines)]
	}
	return out
}
