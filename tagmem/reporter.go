package tagmem

import (
	"fmt"

	"github.com/embedmem/tagmem/memutils"
	"github.com/embedmem/tagmem/trace"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const bytesPerMegabyte = 1024.0 * 1024.0

func megabytes(bytes int) float64 {
	return float64(bytes) / bytesPerMegabyte
}

// RenderUsageReport writes a human-readable usage report to sink, one line per call. The report
// always starts with the counters from MemoryStats. includePoolBreakdown adds a line per category, and
// includeOther appends whatever the registered debug consumer contributes. Every line is sanitized
// before it reaches sink, and sink is not retained.
func (a *Allocator) RenderUsageReport(includePoolBreakdown, includeOther bool, sink TextSink) {
	if sink == nil {
		return
	}

	safeSink := sanitizingSink{sink: sink}

	a.mutex.Lock()
	snapshot := a.snapshotLocked()
	var breakdown map[Category]memutils.Statistics
	if includePoolBreakdown {
		breakdown = make(map[Category]memutils.Statistics, a.categories.Count())
		a.categories.Iter(func(category Category, stats *memutils.Statistics) (stop bool) {
			breakdown[category] = *stats
			return false
		})
	}
	a.mutex.Unlock()

	safeSink.WriteLine("Memory Pool Stats:")
	safeSink.WriteLine(fmt.Sprintf("      Bytes Consumed: %5.2f (MB) %d (Bytes)", megabytes(snapshot.Consumed), snapshot.Consumed))
	safeSink.WriteLine(fmt.Sprintf("     Bytes Available: %5.2f (MB) %d (Bytes)", megabytes(snapshot.Available), snapshot.Available))
	safeSink.WriteLine(fmt.Sprintf("    Bytes High Water: %5.2f (MB) %d (Bytes)", megabytes(snapshot.HighWater), snapshot.HighWater))
	safeSink.WriteLine(fmt.Sprintf("   Objects Allocated: %d", snapshot.ObjectsAllocated))
	safeSink.WriteLine(fmt.Sprintf("        Largest Free: %5.2f (MB) %d (Bytes)", megabytes(snapshot.LargestFree), snapshot.LargestFree))

	if includePoolBreakdown {
		categories := maps.Keys(breakdown)
		slices.Sort(categories)

		safeSink.WriteLine("Category Breakdown:")
		for _, category := range categories {
			stats := breakdown[category]
			safeSink.WriteLine(fmt.Sprintf("%20s: %d objects, %d (Bytes), high water %d (Bytes)",
				category,
				stats.AllocationCount,
				stats.AllocationBytes,
				stats.HighWaterBytes,
			))
		}
	}

	if includeOther {
		// The consumer runs outside the lock: it is free to allocate or query statistics
		a.debugCallbacks.Dump(safeSink)
	}
}

// EmitDebugSnapshot writes info to the platform log at WARN, then hands the registered debug consumer
// a sink that writes to the platform log as well
func (a *Allocator) EmitDebugSnapshot(info string) {
	a.tracer.WriteLog(trace.LevelWarn, info)

	a.debugCallbacks.Dump(sanitizingSink{
		sink: tracerSink{tracer: a.tracer, level: trace.LevelWarn},
	})
}

// RegisterDebugCallback installs consumer as the allocator's debug consumer, replacing any previous
// one. Passing nil clears the registration.
func (a *Allocator) RegisterDebugCallback(consumer DebugConsumer) {
	a.debugCallbacks.Register(consumer)
}

// BuildStatsString returns a JSON document describing the allocator's counters and category
// breakdown. When detailed is true, category minimum and maximum sizes and the size of every live
// allocation are included.
func (a *Allocator) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()

	a.mutex.Lock()
	defer a.mutex.Unlock()

	objState := writer.Object()

	stats := a.detailedStatisticsLocked()
	categories := maps.Keys(stats)
	slices.Sort(categories)

	var liveSizes memutils.DetailedStatistics
	liveSizes.Clear()
	for _, categoryStats := range stats {
		if categoryStats.AllocationCount > 0 {
			liveSizes.AddDetailedStatistics(categoryStats)
		}
	}

	snapshot := a.snapshotLocked()
	total := objState.Name("Total").Object()
	total.Name("Consumed").Int(snapshot.Consumed)
	total.Name("Available").Int(snapshot.Available)
	total.Name("HighWater").Int(snapshot.HighWater)
	total.Name("ObjectsAllocated").Int(snapshot.ObjectsAllocated)
	total.Name("LargestFree").Int(snapshot.LargestFree)
	if detailed && liveSizes.AllocationCount > 0 {
		total.Name("AllocationSizeMin").Int(liveSizes.AllocationSizeMin)
		total.Name("AllocationSizeMax").Int(liveSizes.AllocationSizeMax)
	}
	total.End()

	categoriesState := objState.Name("Categories").Object()
	for _, category := range categories {
		categoryStats := stats[category]

		categoryState := categoriesState.Name(category.String()).Object()
		categoryState.Name("AllocationCount").Int(categoryStats.AllocationCount)
		categoryState.Name("AllocationBytes").Int(categoryStats.AllocationBytes)
		categoryState.Name("HighWaterBytes").Int(categoryStats.HighWaterBytes)

		if detailed && categoryStats.AllocationCount > 0 {
			categoryState.Name("AllocationSizeMin").Int(categoryStats.AllocationSizeMin)
			categoryState.Name("AllocationSizeMax").Int(categoryStats.AllocationSizeMax)
		}
		categoryState.End()
	}
	categoriesState.End()

	if detailed {
		a.records.PrintRecords(&objState)
	}

	objState.End()

	return string(writer.Bytes())
}
