package tagmem_test

import (
	"strings"
	"testing"

	"github.com/embedmem/tagmem/memutils/heap"
	"github.com/embedmem/tagmem/tagmem"
	"github.com/embedmem/tagmem/trace"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

type collectingSink struct {
	lines []string
}

func (s *collectingSink) WriteLine(line string) {
	s.lines = append(s.lines, line)
}

func populatedReportHarness(t *testing.T) (*harness, [][]byte) {
	h := newHarness(t, heap.NewLimitedHeap(nil, 1000), tagmem.CreateOptions{Budget: 2048})

	regions := [][]byte{
		h.allocator.Allocate(100, tagmem.CategoryGeneral),
		h.allocator.Allocate(50, tagmem.CategoryDOM),
		h.allocator.DuplicateString("hello", tagmem.CategoryString),
	}
	return h, regions
}

func TestRenderUsageReport_Golden(t *testing.T) {
	h, regions := populatedReportHarness(t)

	h.allocator.RegisterDebugCallback(tagmem.DebugConsumerFunc(func(sink tagmem.TextSink) {
		sink.WriteLine("image cache at 50% capacity")
	}))

	sink := &collectingSink{}
	h.allocator.RenderUsageReport(true, true, sink)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "usage_report", []byte(strings.Join(sink.lines, "\n")+"\n"))

	for _, region := range regions {
		h.allocator.Release(region)
	}
}

func TestRenderUsageReport_Sections(t *testing.T) {
	h, regions := populatedReportHarness(t)

	called := false
	h.allocator.RegisterDebugCallback(tagmem.DebugConsumerFunc(func(sink tagmem.TextSink) {
		called = true
	}))

	sink := &collectingSink{}
	h.allocator.RenderUsageReport(false, false, sink)
	require.Len(t, sink.lines, 6)
	require.Equal(t, "Memory Pool Stats:", sink.lines[0])
	require.False(t, called)

	sink = &collectingSink{}
	h.allocator.RenderUsageReport(true, false, sink)
	require.Len(t, sink.lines, 10)
	require.Equal(t, "Category Breakdown:", sink.lines[6])
	require.False(t, called)

	h.allocator.RenderUsageReport(false, true, &collectingSink{})
	require.True(t, called)

	// A nil sink is ignored
	h.allocator.RenderUsageReport(true, true, nil)

	for _, region := range regions {
		h.allocator.Release(region)
	}
}

func TestEmitDebugSnapshot_Sanitizes(t *testing.T) {
	h := newHarness(t, heap.NewGoHeap(), tagmem.CreateOptions{})

	var consumerLines []string
	h.allocator.RegisterDebugCallback(tagmem.DebugConsumerFunc(func(sink tagmem.TextSink) {
		sink.WriteLine("decoder holds %s of 100%")
		consumerLines = append(consumerLines, "called")
	}))

	h.allocator.EmitDebugSnapshot("remote inspector: %d%% %s %n")

	require.Equal(t, []string{"called"}, consumerLines)

	warnings := h.transport.RecordsAt(trace.LevelWarn)
	require.Len(t, warnings, 2)

	require.Equal(t, "remote inspector: %%d%%%% %%s %%n", warnings[0].Sanitized)
	require.Equal(t, "remote inspector: %d%% %s %n", warnings[0].Text())

	require.Equal(t, "decoder holds %%s of 100%%", warnings[1].Sanitized)
	require.Equal(t, "decoder holds %s of 100%", warnings[1].Text())
}

func TestEmitDebugSnapshot_WithoutConsumer(t *testing.T) {
	h := newHarness(t, heap.NewGoHeap(), tagmem.CreateOptions{})

	h.allocator.EmitDebugSnapshot("snapshot")
	require.Len(t, h.transport.RecordsAt(trace.LevelWarn), 1)
}

func TestRegisterDebugCallback_ReplaceAndClear(t *testing.T) {
	h := newHarness(t, heap.NewGoHeap(), tagmem.CreateOptions{})

	var calls []string
	h.allocator.RegisterDebugCallback(tagmem.DebugConsumerFunc(func(sink tagmem.TextSink) {
		calls = append(calls, "first")
	}))
	h.allocator.RegisterDebugCallback(tagmem.DebugConsumerFunc(func(sink tagmem.TextSink) {
		calls = append(calls, "second")
	}))
	h.allocator.EmitDebugSnapshot("one")

	h.allocator.RegisterDebugCallback(nil)
	h.allocator.EmitDebugSnapshot("two")

	require.Equal(t, []string{"second"}, calls)
}

func TestBuildStatsString(t *testing.T) {
	h, regions := populatedReportHarness(t)

	require.JSONEq(t, `{
		"Total": {"Consumed": 156, "Available": 1892, "HighWater": 156, "ObjectsAllocated": 3, "LargestFree": 844},
		"Categories": {
			"General": {"AllocationCount": 1, "AllocationBytes": 100, "HighWaterBytes": 100},
			"String": {"AllocationCount": 1, "AllocationBytes": 6, "HighWaterBytes": 6},
			"DOM": {"AllocationCount": 1, "AllocationBytes": 50, "HighWaterBytes": 50}
		}
	}`, h.allocator.BuildStatsString(false))

	h.allocator.Release(regions[0])

	require.JSONEq(t, `{
		"Total": {"Consumed": 56, "Available": 1992, "HighWater": 156, "ObjectsAllocated": 2, "LargestFree": 944,
			"AllocationSizeMin": 6, "AllocationSizeMax": 50},
		"Categories": {
			"General": {"AllocationCount": 0, "AllocationBytes": 0, "HighWaterBytes": 100},
			"String": {"AllocationCount": 1, "AllocationBytes": 6, "HighWaterBytes": 6,
				"AllocationSizeMin": 6, "AllocationSizeMax": 6},
			"DOM": {"AllocationCount": 1, "AllocationBytes": 50, "HighWaterBytes": 50,
				"AllocationSizeMin": 50, "AllocationSizeMax": 50}
		},
		"LiveAllocations": {
			"String": [6],
			"DOM": [50]
		}
	}`, h.allocator.BuildStatsString(true))

	h.allocator.Release(regions[1])
	h.allocator.Release(regions[2])
}
