package tagmem

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/embedmem/tagmem/memutils"
	"github.com/embedmem/tagmem/memutils/heap"
	"github.com/embedmem/tagmem/tagmem/internal/utils"
	"github.com/embedmem/tagmem/trace"
	"golang.org/x/exp/slog"
)

// Allocator tags, accounts for and reports on every region obtained from an underlying heap. Strict
// entry points never return a nil region: when the heap is exhausted they write diagnostics and end
// the process. Try* entry points return nil and an error instead, and leave every counter untouched.
type Allocator struct {
	useMutex    bool
	logger      *slog.Logger
	tracer      *trace.Tracer
	heap        heap.Heap
	freeSpace   heap.FreeSpaceReporter
	createFlags CreateFlags
	budget      int

	mutex      utils.OptionalMutex
	totals     memutils.Statistics
	categories *swiss.Map[Category, *memutils.Statistics]
	records    liveRecordSet

	debugCallbacks      debugCallbacks
	memoryOut           *MemoryOutManager
	handlingOutOfMemory atomic.Bool
}

// Tracer returns the diagnostic channel this allocator escalates through
func (a *Allocator) Tracer() *trace.Tracer {
	return a.tracer
}

// MemoryOut returns the memory-out manager, or nil if memory-out recovery was not enabled
func (a *Allocator) MemoryOut() *MemoryOutManager {
	return a.memoryOut
}

func normalizeSize(size int) (int, error) {
	if size < 0 {
		return 0, errors.Wrapf(ErrNegativeSize, "requested %d bytes", size)
	}
	if size == 0 {
		return 1, nil
	}
	return size, nil
}

func (a *Allocator) categoryStatistics(category Category) *memutils.Statistics {
	stats, ok := a.categories.Get(category)
	if !ok {
		stats = &memutils.Statistics{}
		a.categories.Put(category, stats)
	}
	return stats
}

func (a *Allocator) withinBudget(delta int) bool {
	if a.createFlags&AllocatorCreateEnforceBudget == 0 || delta <= 0 {
		return true
	}

	return a.totals.AllocationBytes+delta <= a.budget
}

func (a *Allocator) recoverMemory() bool {
	return a.memoryOut != nil && a.memoryOut.FreeMemory()
}

func (a *Allocator) allocateOnce(size int, category Category) []byte {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.withinBudget(size) {
		return nil
	}

	region := a.heap.Allocate(size)
	if region == nil {
		return nil
	}

	a.records.Register(region, size, category)
	a.totals.AddAllocation(size)
	a.categoryStatistics(category).AddAllocation(size)
	memutils.DebugValidate(validateFunc(a.validateLocked))

	memutils.FillPattern(region, memutils.CreatedFillPattern)
	return region
}

func (a *Allocator) allocate(size int, category Category) ([]byte, error) {
	size, err := normalizeSize(size)
	if err != nil {
		return nil, err
	}

	for {
		region := a.allocateOnce(size, category)
		if region != nil {
			return region, nil
		}

		if !a.recoverMemory() {
			return nil, errors.Wrapf(ErrOutOfMemory, "failed to allocate %d bytes for category %s", size, category)
		}
	}
}

type reallocateOutcome int

const (
	reallocateSucceeded reallocateOutcome = iota
	reallocateExhausted
	reallocateUnknownRegion
)

func (a *Allocator) reallocateOnce(b []byte, size int) ([]byte, reallocateOutcome) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	record, ok := a.records.Lookup(b)
	if !ok {
		return nil, reallocateUnknownRegion
	}

	oldSize := record.size
	if !a.withinBudget(size - oldSize) {
		return nil, reallocateExhausted
	}

	region := a.heap.Reallocate(record.region, size)
	if region == nil {
		return nil, reallocateExhausted
	}

	a.records.Migrate(record, region, size)
	a.totals.ResizeAllocation(oldSize, size)
	a.categoryStatistics(record.category).ResizeAllocation(oldSize, size)
	memutils.DebugValidate(validateFunc(a.validateLocked))

	if size > oldSize {
		memutils.FillPattern(region[oldSize:], memutils.CreatedFillPattern)
	}
	return region, reallocateSucceeded
}

func (a *Allocator) reallocate(b []byte, size int, category Category) ([]byte, error) {
	if b == nil {
		return a.allocate(size, category)
	}

	size, err := normalizeSize(size)
	if err != nil {
		return nil, err
	}

	for {
		region, outcome := a.reallocateOnce(b, size)
		switch outcome {
		case reallocateSucceeded:
			return region, nil
		case reallocateUnknownRegion:
			return a.reallocateUnknown(b, size, category)
		}

		if !a.recoverMemory() {
			return nil, errors.Wrapf(ErrOutOfMemory, "failed to reallocate region to %d bytes", size)
		}
	}
}

// reallocateUnknown handles a region this allocator never handed out. Builds with provenance checks
// escalate; otherwise the contents are moved into a fresh allocation and b is left to its owner.
func (a *Allocator) reallocateUnknown(b []byte, size int, category Category) ([]byte, error) {
	if memutils.ProvenanceChecks {
		file, line, function := trace.CallerLocation(3)
		a.unknownRegion(file, line, function)
	}

	region, err := a.allocate(size, category)
	if err != nil {
		return nil, err
	}

	copy(region, b)
	return region, nil
}

func (a *Allocator) unknownRegion(file string, line int, function string) {
	a.tracer.ArgumentAssertionFailed(file, line, function, "region", "region was not allocated by this allocator")
	a.tracer.RaiseFatal(trace.CodeAssertionFailure, file, line)
}

func (a *Allocator) release(b []byte) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	record, ok := a.records.Lookup(b)
	if !ok {
		return false
	}

	a.records.Unregister(record)
	a.totals.RemoveAllocation(record.size)
	a.categoryStatistics(record.category).RemoveAllocation(record.size)
	memutils.DebugValidate(validateFunc(a.validateLocked))

	memutils.FillPattern(record.region, memutils.DestroyedFillPattern)
	a.heap.Free(record.region)
	return true
}

// fail escalates a strict request that could not be satisfied. It must be called directly from the
// exported entry point so the reported location is the entry point's caller.
func (a *Allocator) fail(err error, requested int) {
	file, line, _ := trace.CallerLocation(2)

	if errors.Is(err, ErrSizeOverflow) || errors.Is(err, ErrNegativeSize) {
		a.tracer.Errorf("invalid allocation size: %v", err)
		a.tracer.RaiseFatal(trace.CodeOverflow, file, line)
	}

	a.handleOutOfMemory(requested, file, line)
}

func (a *Allocator) handleOutOfMemory(requested int, file string, line int) {
	// A debug consumer that allocates while the report is being written re-enters here; skip
	// straight to the fatal record in that case
	if a.handlingOutOfMemory.CompareAndSwap(false, true) {
		a.tracer.Warnf("---------------------------------------------------")
		a.tracer.Warnf("FATAL ERROR - failed to allocate requested")
		a.tracer.Warnf("memory!!  This will result in a 0x%X error.", uint32(trace.CodePoolExhausted))
		a.tracer.Warnf("%s, line %d", file, line)
		a.tracer.Warnf("Bytes Requested: %d", requested)

		a.RenderUsageReport(true, true, tracerSink{tracer: a.tracer, level: trace.LevelWarn})

		a.handlingOutOfMemory.Store(false)
	}

	a.tracer.RaiseFatal(trace.CodePoolExhausted, file, line)
}

// Allocate returns a region of size bytes tagged with category. A zero size is treated as one byte.
// If the request cannot be satisfied, the process is terminated with trace.CodePoolExhausted.
func (a *Allocator) Allocate(size int, category Category) []byte {
	if trace.DebugEnabled {
		a.tracer.Debugf("Allocator::Allocate size=%d category=%s", size, category)
	}

	region, err := a.allocate(size, category)
	if err != nil {
		a.fail(err, size)
	}
	return region
}

// TryAllocate returns a region of size bytes tagged with category, or nil and an error wrapping
// ErrOutOfMemory if the request cannot be satisfied
func (a *Allocator) TryAllocate(size int, category Category) ([]byte, error) {
	if trace.DebugEnabled {
		a.tracer.Debugf("Allocator::TryAllocate size=%d category=%s", size, category)
	}

	return a.allocate(size, category)
}

// AllocateZeroed is Allocate, with every byte of the region set to zero
func (a *Allocator) AllocateZeroed(size int, category Category) []byte {
	if trace.DebugEnabled {
		a.tracer.Debugf("Allocator::AllocateZeroed size=%d category=%s", size, category)
	}

	region, err := a.allocate(size, category)
	if err != nil {
		a.fail(err, size)
	}

	clear(region)
	return region
}

func (a *Allocator) TryAllocateZeroed(size int, category Category) ([]byte, error) {
	if trace.DebugEnabled {
		a.tracer.Debugf("Allocator::TryAllocateZeroed size=%d category=%s", size, category)
	}

	region, err := a.allocate(size, category)
	if err != nil {
		return nil, err
	}

	clear(region)
	return region, nil
}

// AllocateArray allocates a zeroed region for count elements of elementSize bytes. A count and size
// whose product overflows terminates the process with trace.CodeOverflow.
func (a *Allocator) AllocateArray(count, elementSize int, category Category) []byte {
	if trace.DebugEnabled {
		a.tracer.Debugf("Allocator::AllocateArray count=%d elementSize=%d category=%s", count, elementSize, category)
	}

	size, err := memutils.CheckedMul(count, elementSize)
	if err != nil {
		a.fail(err, 0)
	}

	region, err := a.allocate(size, category)
	if err != nil {
		a.fail(err, size)
	}

	clear(region)
	return region
}

// TryAllocateArray is AllocateArray, returning an error wrapping ErrSizeOverflow or ErrOutOfMemory
// instead of terminating
func (a *Allocator) TryAllocateArray(count, elementSize int, category Category) ([]byte, error) {
	if trace.DebugEnabled {
		a.tracer.Debugf("Allocator::TryAllocateArray count=%d elementSize=%d category=%s", count, elementSize, category)
	}

	size, err := memutils.CheckedMul(count, elementSize)
	if err != nil {
		return nil, err
	}

	region, err := a.allocate(size, category)
	if err != nil {
		return nil, err
	}

	clear(region)
	return region, nil
}

// Reallocate resizes b to size bytes and returns the resized region, which may or may not share an
// address with b. The region keeps the category it was allocated with; category is only used when
// b is nil, in which case Reallocate behaves like Allocate.
func (a *Allocator) Reallocate(b []byte, size int, category Category) []byte {
	if trace.DebugEnabled {
		a.tracer.Debugf("Allocator::Reallocate size=%d category=%s", size, category)
	}

	region, err := a.reallocate(b, size, category)
	if err != nil {
		a.fail(err, size)
	}
	return region
}

// TryReallocate is Reallocate, returning nil and an error wrapping ErrOutOfMemory instead of
// terminating. On failure b remains valid and its accounting is unchanged.
func (a *Allocator) TryReallocate(b []byte, size int, category Category) ([]byte, error) {
	if trace.DebugEnabled {
		a.tracer.Debugf("Allocator::TryReallocate size=%d category=%s", size, category)
	}

	return a.reallocate(b, size, category)
}

func (a *Allocator) duplicateString(text string, category Category) ([]byte, error) {
	region, err := a.allocate(len(text)+1, category)
	if err != nil {
		return nil, err
	}

	copy(region, text)
	region[len(text)] = 0
	return region, nil
}

// DuplicateString copies text into a new region with a trailing NUL terminator
func (a *Allocator) DuplicateString(text string, category Category) []byte {
	if trace.DebugEnabled {
		a.tracer.Debugf("Allocator::DuplicateString length=%d category=%s", len(text), category)
	}

	region, err := a.duplicateString(text, category)
	if err != nil {
		a.fail(err, len(text)+1)
	}
	return region
}

func (a *Allocator) TryDuplicateString(text string, category Category) ([]byte, error) {
	if trace.DebugEnabled {
		a.tracer.Debugf("Allocator::TryDuplicateString length=%d category=%s", len(text), category)
	}

	return a.duplicateString(text, category)
}

// Release hands b back to the heap. Releasing nil does nothing. Regions this allocator did not hand
// out are ignored, unless the build has provenance checks, in which case they are fatal.
func (a *Allocator) Release(b []byte) {
	if trace.DebugEnabled {
		a.tracer.Debugf("Allocator::Release size=%d", len(b))
	}

	if b == nil {
		return
	}

	if !a.release(b) && memutils.ProvenanceChecks {
		file, line, function := trace.CallerLocation(1)
		a.unknownRegion(file, line, function)
	}
}

// SizeOf returns the recorded size of a live region
func (a *Allocator) SizeOf(b []byte) (int, bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	record, ok := a.records.Lookup(b)
	if !ok {
		return 0, false
	}
	return record.size, true
}
