// Package progress carries the operator-facing status lines a run emits.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Sink receives progress messages. Implementations stamp and store or print them.
type Sink interface {
	Emit(msg string)
}

// Emitf formats and emits a message. A nil sink discards it.
func Emitf(s Sink, format string, args ...any) {
	if s == nil {
		return
	}
	s.Emit(fmt.Sprintf(format, args...))
}

// Errorf emits an ERROR line.
func Errorf(s Sink, format string, args ...any) {
	Emitf(s, "ERROR: "+format, args...)
}

// Warnf emits a WARNING line.
func Warnf(s Sink, format string, args ...any) {
	Emitf(s, "WARNING: "+format, args...)
}

// Stamp prefixes msg with the wall-clock time as "[15:04:05] ".
func Stamp(t time.Time, msg string) string {
	return "[" + t.Format(time.TimeOnly) + "] " + msg
}

// Writer prints stamped lines to an io.Writer.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewWriter creates a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, now: time.Now}
}

// Emit implements Sink.
func (w *Writer) Emit(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.w, Stamp(w.now(), msg))
}

// Buffer keeps stamped lines in memory for polling. Safe for concurrent use.
type Buffer struct {
	mu    sync.RWMutex
	lines []string
	now   func() time.Time
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{now: time.Now}
}

// Emit implements Sink.
func (b *Buffer) Emit(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, Stamp(b.now(), msg))
}

// Lines returns a copy of the lines from index since onward. since past the
// end yields an empty slice.
func (b *Buffer) Lines(since int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if since < 0 {
		since = 0
	}
	if since >= len(b.lines) {
		return []string{}
	}
	return append([]string(nil), b.lines[since:]...)
}

// Len is the number of lines emitted so far.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}
