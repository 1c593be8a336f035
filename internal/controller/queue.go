package controller

import (
	"strings"
	"sync"
)

// CommandQueue buffers console lines between the interactive producer and
// the control loop. Lines are drained in arrival order; a line identical to
// one still pending is dropped.
type CommandQueue struct {
	mu      sync.Mutex
	items   []string
	pending map[string]struct{}
}

// NewCommandQueue returns an empty queue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{pending: make(map[string]struct{})}
}

// Push enqueues line after trimming surrounding space. It reports false for
// blank lines and for duplicates of a pending line.
func (q *CommandQueue) Push(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.pending[line]; dup {
		return false
	}
	q.pending[line] = struct{}{}
	q.items = append(q.items, line)
	return true
}

// Drain removes and returns every pending line, oldest first.
func (q *CommandQueue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	clear(q.pending)
	return out
}

// Len returns the number of pending lines.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
