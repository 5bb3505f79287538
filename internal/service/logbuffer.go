package service

import (
	"fmt"
	"sync"
	"time"
)

const defaultLogCapacity = 200

// LogBuffer keeps the most recent run log lines for the dashboard.
// Subscribers receive new lines as they are appended; a subscriber that falls behind loses lines.
type LogBuffer struct {
	mu      sync.RWMutex
	lines   []string
	start   int
	size    int
	subs    map[int]chan string
	nextSub int
	clock   func() time.Time
}

// NewLogBuffer creates a ring buffer holding up to capacity lines.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &LogBuffer{
		lines: make([]string, capacity),
		subs:  make(map[int]chan string),
		clock: time.Now,
	}
}

// Appendf formats a line, prefixes it with the wall-clock time and stores it.
func (b *LogBuffer) Appendf(format string, args ...interface{}) string {
	line := fmt.Sprintf("[%s] %s", b.clock().Format("15:04:05"), fmt.Sprintf(format, args...))

	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.lines)
	if b.size < capacity {
		b.lines[(b.start+b.size)%capacity] = line
		b.size++
	} else {
		b.lines[b.start] = line
		b.start = (b.start + 1) % capacity
	}

	for _, ch := range b.subs {
		select {
		case ch <- line:
		default:
		}
	}
	return line
}

// Lines returns the buffered lines, oldest first.
func (b *LogBuffer) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *LogBuffer) snapshotLocked() []string {
	out := make([]string, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.lines[(b.start+i)%len(b.lines)]
	}
	return out
}

// Subscribe returns a channel of new lines and a function that ends the subscription.
func (b *LogBuffer) Subscribe() (<-chan string, func()) {
	_, ch, cancel := b.SubscribeWithSnapshot()
	return ch, cancel
}

// SubscribeWithSnapshot returns the buffered lines together with a subscription that starts
// right after them, so every line is seen exactly once.
func (b *LogBuffer) SubscribeWithSnapshot() ([]string, <-chan string, func()) {
	ch := make(chan string, 64)

	b.mu.Lock()
	snapshot := b.snapshotLocked()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return snapshot, ch, cancel
}
