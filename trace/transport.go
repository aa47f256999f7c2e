package trace

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slog"
)

// Transport is the platform log. Records handed to Write have already been through Sanitize; a
// transport is free to treat them as format strings.
type Transport interface {
	Write(level Level, sanitized string)
	// Flush blocks until every record written so far is durable. It is called on the fatal path
	// before the process is terminated.
	Flush() error
}

// SlogTransport writes trace records to a slog.Logger
type SlogTransport struct {
	logger  *slog.Logger
	sync    func() error
	minimum atomic.Int32
}

var _ Transport = (*SlogTransport)(nil)

// NewSlogTransport creates a transport that logs to logger. If sync is not nil, Flush calls it;
// pass the Sync method of the file the logger's handler writes to.
func NewSlogTransport(logger *slog.Logger, sync func() error) *SlogTransport {
	if logger == nil {
		logger = slog.Default()
	}

	t := &SlogTransport{
		logger: logger,
		sync:   sync,
	}
	t.minimum.Store(int32(LevelDebug))
	return t
}

// SetMinimumLevel silences every record below level. This is how WARN and ERROR records, which
// are always compiled in, get switched off administratively.
func (t *SlogTransport) SetMinimumLevel(level Level) {
	t.minimum.Store(int32(level))
}

func (t *SlogTransport) Write(level Level, sanitized string) {
	if int32(level) < t.minimum.Load() {
		return
	}

	t.logger.LogAttrs(context.Background(),
		level.SlogLevel(),
		strings.TrimRight(Unescape(sanitized), "\n"),
		slog.String("trace", level.String()),
	)
}

func (t *SlogTransport) Flush() error {
	if t.sync == nil {
		return nil
	}
	return t.sync()
}

// Record is a single trace record captured by a MemoryTransport
type Record struct {
	Level Level
	// Sanitized is the record exactly as it crossed the transport boundary
	Sanitized string
}

// Text returns the record as the platform log would print it
func (r Record) Text() string {
	return Unescape(r.Sanitized)
}

// MemoryTransport keeps every record in memory. It backs the diagnostics test harness and the
// CLI's captured fatal output.
type MemoryTransport struct {
	mutex   sync.Mutex
	records []Record
	flushes int
}

var _ Transport = (*MemoryTransport)(nil)

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{}
}

func (t *MemoryTransport) Write(level Level, sanitized string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.records = append(t.records, Record{Level: level, Sanitized: sanitized})
}

func (t *MemoryTransport) Flush() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.flushes++
	return nil
}

// Records returns a copy of every record written so far
func (t *MemoryTransport) Records() []Record {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	records := make([]Record, len(t.records))
	copy(records, t.records)
	return records
}

// RecordsAt returns a copy of the records written at exactly level
func (t *MemoryTransport) RecordsAt(level Level) []Record {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	var records []Record
	for _, record := range t.records {
		if record.Level == level {
			records = append(records, record)
		}
	}
	return records
}

// Flushes returns how many times Flush has been called
func (t *MemoryTransport) Flushes() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.flushes
}

func (t *MemoryTransport) Reset() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.records = nil
	t.flushes = 0
}
