package logging

import (
	"encoding/json"
	"sync"
	"time"
)

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
	Raw       string    `json:"raw"`
}

// LogBuffer is a thread-safe ring buffer holding the most recent log lines
// written by zerolog.
type LogBuffer struct {
	entries []LogEntry
	size    int
	head    int
	count   int
	mu      sync.RWMutex
}

// NewLogBuffer creates a new log buffer with the specified capacity
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = 1
	}
	return &LogBuffer{
		entries: make([]LogEntry, size),
		size:    size,
	}
}

// Write implements io.Writer for capturing log output
func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	entry := parseEntry(p)

	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.entries[lb.head] = entry
	lb.head = (lb.head + 1) % lb.size
	if lb.count < lb.size {
		lb.count++
	}

	return len(p), nil
}

// Entries returns all log entries in chronological order
func (lb *LogBuffer) Entries() []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	result := make([]LogEntry, lb.count)
	start := 0
	if lb.count == lb.size {
		start = lb.head
	}
	for i := 0; i < lb.count; i++ {
		result[i] = lb.entries[(start+i)%lb.size]
	}
	return result
}

// Recent returns the most recent n entries
func (lb *LogBuffer) Recent(n int) []LogEntry {
	entries := lb.Entries()
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

// parseEntry extracts level, component and message from a zerolog JSON line.
// Lines that are not JSON are kept raw at info level.
func parseEntry(p []byte) LogEntry {
	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     "info",
		Raw:       string(p),
	}

	var line struct {
		Level     string `json:"level"`
		Component string `json:"component"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(p, &line); err != nil {
		entry.Message = entry.Raw
		return entry
	}
	if line.Level != "" {
		entry.Level = line.Level
	}
	entry.Component = line.Component
	entry.Message = line.Message
	return entry
}
