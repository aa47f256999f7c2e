package tagmem_test

import (
	"io"
	"testing"

	"github.com/embedmem/tagmem/memutils/heap"
	"github.com/embedmem/tagmem/tagmem"
	"github.com/embedmem/tagmem/trace"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type harness struct {
	allocator  *tagmem.Allocator
	transport  *trace.MemoryTransport
	terminated []trace.CrashCode
}

func newHarness(t testing.TB, h heap.Heap, options tagmem.CreateOptions) *harness {
	t.Helper()

	harness := &harness{
		transport: trace.NewMemoryTransport(),
	}
	options.Transport = harness.transport
	options.Terminator = func(code trace.CrashCode) {
		harness.terminated = append(harness.terminated, code)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard))

	allocator, err := tagmem.New(logger, h, options)
	require.NoError(t, err)
	harness.allocator = allocator

	return harness
}

// expectFatal runs f, which must end in a fatal escalation, and returns the escalation's details
func (h *harness) expectFatal(t testing.TB, f func()) *trace.FatalError {
	t.Helper()

	var fatal *trace.FatalError
	func() {
		defer func() {
			recovered := recover()
			require.NotNil(t, recovered, "expected a fatal escalation")

			var ok bool
			fatal, ok = recovered.(*trace.FatalError)
			require.True(t, ok, "unexpected panic: %v", recovered)
		}()

		f()
	}()

	require.NotEmpty(t, h.terminated)
	require.Equal(t, fatal.Code, h.terminated[len(h.terminated)-1])
	return fatal
}

func requireStats(t testing.TB, allocator *tagmem.Allocator, consumed, objects, highWater int) {
	t.Helper()

	stats := allocator.MemoryStats()
	require.Equal(t, consumed, stats.Consumed, "consumed")
	require.Equal(t, objects, stats.ObjectsAllocated, "objects allocated")
	require.Equal(t, highWater, stats.HighWater, "high water")
	require.NoError(t, allocator.Validate())
}

// significantRecords returns every record at WARN or above. DEBUG records depend on build tags.
func significantRecords(transport *trace.MemoryTransport) []trace.Record {
	var records []trace.Record
	for _, record := range transport.Records() {
		if record.Level >= trace.LevelWarn {
			records = append(records, record)
		}
	}
	return records
}
