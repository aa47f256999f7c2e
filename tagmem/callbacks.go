package tagmem

import (
	"sync/atomic"

	"github.com/embedmem/tagmem/trace"
)

// TextSink receives diagnostic text one line at a time. Lines handed to a sink by the reporter have
// already been sanitized for the platform log.
type TextSink interface {
	WriteLine(line string)
}

// TextSinkFunc adapts a plain function to TextSink
type TextSinkFunc func(line string)

func (f TextSinkFunc) WriteLine(line string) {
	f(line)
}

// DebugConsumer is an external subsystem that contributes its own diagnostics to usage reports and
// debug snapshots
type DebugConsumer interface {
	DumpMemoryDebug(sink TextSink)
}

// DebugConsumerFunc adapts a plain function to DebugConsumer
type DebugConsumerFunc func(sink TextSink)

func (f DebugConsumerFunc) DumpMemoryDebug(sink TextSink) {
	f(sink)
}

type debugConsumerEntry struct {
	consumer DebugConsumer
}

// debugCallbacks is the single registered consumer slot. Readers never block writers.
type debugCallbacks struct {
	slot atomic.Pointer[debugConsumerEntry]
}

func (c *debugCallbacks) Register(consumer DebugConsumer) {
	if consumer == nil {
		c.slot.Store(nil)
		return
	}

	c.slot.Store(&debugConsumerEntry{consumer: consumer})
}

func (c *debugCallbacks) Dump(sink TextSink) bool {
	entry := c.slot.Load()
	if entry == nil {
		return false
	}

	entry.consumer.DumpMemoryDebug(sink)
	return true
}

// sanitizingSink sanitizes every line before handing it on, so consumers can write free-form text
type sanitizingSink struct {
	sink TextSink
}

func (s sanitizingSink) WriteLine(line string) {
	s.sink.WriteLine(trace.Sanitize(line))
}

// tracerSink writes already sanitized lines to the platform log at a fixed level
type tracerSink struct {
	tracer *trace.Tracer
	level  trace.Level
}

func (s tracerSink) WriteLine(line string) {
	s.tracer.WriteSanitized(s.level, line)
}
