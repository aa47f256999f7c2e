package tagmem

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/embedmem/tagmem/memutils"
	"github.com/embedmem/tagmem/memutils/heap"
	"github.com/embedmem/tagmem/tagmem/internal/utils"
	"github.com/embedmem/tagmem/trace"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = utils.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return allocatorCreateFlagsMapping.FlagsToString(f)
}

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator will not be synchronized
	// internally. The consumer must guarantee it is used from only one goroutine at a time or is
	// synchronized by some other mechanism, but performance may improve because internal mutexes
	// are not used.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
	// AllocatorCreateEnforceBudget causes requests that would push consumed bytes past
	// CreateOptions.Budget to fail as though the underlying heap were exhausted. Without it, Budget
	// only feeds the Available statistic.
	AllocatorCreateEnforceBudget
)

func init() {
	AllocatorCreateExternallySynchronized.Register("AllocatorCreateExternallySynchronized")
	AllocatorCreateEnforceBudget.Register("AllocatorCreateEnforceBudget")
}

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags

	// Budget is the externally supplied memory ceiling in bytes, usually the platform-reported pool
	// size. Available is computed against it. Zero means no ceiling is known.
	Budget int

	// MemoryOut enables memory-out recovery: when nil, failed requests are not retried
	MemoryOut *MemoryOutOptions

	// Transport is the platform log that diagnostics and fatal records are written to. If it is
	// left nil, records are written to the logger passed to New.
	Transport trace.Transport

	// Terminator ends the process after a fatal record. If it is left nil, trace.ExitTerminator is used.
	Terminator trace.Terminator
}

// New creates a new Allocator
//
// logger - The logger that construction, teardown and memory-out events are logged to
//
// h - The heap that memory will actually be obtained from
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, h heap.Heap, options CreateOptions) (*Allocator, error) {
	if h == nil {
		return nil, errors.New("tagmem.New requires an underlying heap")
	}
	if options.Budget < 0 {
		return nil, errors.Wrapf(memutils.NegativeSizeError, "tagmem.CreateOptions.Budget was %d", options.Budget)
	}
	if options.Flags&AllocatorCreateEnforceBudget != 0 && options.Budget == 0 {
		return nil, errors.New("AllocatorCreateEnforceBudget was specified without a tagmem.CreateOptions.Budget")
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := options.Transport
	if transport == nil {
		transport = trace.NewSlogTransport(logger, nil)
	}

	useMutex := options.Flags&AllocatorCreateExternallySynchronized == 0

	allocator := &Allocator{
		useMutex:    useMutex,
		logger:      logger,
		tracer:      trace.NewTracer(transport, options.Terminator),
		heap:        h,
		createFlags: options.Flags,
		budget:      options.Budget,

		mutex:      utils.OptionalMutex{UseMutex: useMutex},
		categories: swiss.NewMap[Category, *memutils.Statistics](16),
	}
	allocator.records.Init()

	if reporter, ok := h.(heap.FreeSpaceReporter); ok {
		allocator.freeSpace = reporter
	}

	if options.MemoryOut != nil {
		var err error
		allocator.memoryOut, err = newMemoryOutManager(allocator, *options.MemoryOut)
		if err != nil {
			return nil, err
		}
	}

	logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::New",
		slog.String("flags", options.Flags.String()),
		slog.Int("budget", options.Budget),
		slog.Bool("memoryOut", options.MemoryOut != nil),
	)

	return allocator, nil
}

// Destroy tears the allocator down. Memory-out buffers are released, and any allocations that are
// still live are handed back to the heap and reported as an error.
func (a *Allocator) Destroy() error {
	a.logger.Debug("Allocator::Destroy")

	if a.memoryOut != nil {
		a.memoryOut.destroy()
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	leakedCount := a.records.Count()
	leakedBytes := a.records.bytes

	a.records.Drain(func(record *liveRecord) {
		a.heap.Free(record.region)
	})
	a.totals.Clear()
	a.categories.Clear()

	if leakedCount > 0 {
		a.logger.LogAttrs(context.Background(), slog.LevelWarn, "allocator destroyed with live allocations",
			slog.Int("count", leakedCount),
			slog.Int("bytes", leakedBytes),
		)
		return errors.Newf("allocator destroyed with %d live allocations (%d bytes) outstanding", leakedCount, leakedBytes)
	}

	return nil
}
