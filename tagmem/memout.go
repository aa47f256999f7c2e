package tagmem

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/embedmem/tagmem/tagmem/internal/utils"
	"github.com/embedmem/tagmem/trace"
	"golang.org/x/exp/slog"
)

// MemoryOutPhase is how aggressively a MemoryOutClient is being asked to give memory back
type MemoryOutPhase int32

const (
	// FreeInactiveCacheMemory asks clients to drop memory nothing is currently using
	FreeInactiveCacheMemory MemoryOutPhase = iota
	// FreeActiveCacheMemory asks clients to drop memory even if it is in use and will have to be rebuilt
	FreeActiveCacheMemory
)

var memoryOutPhaseMapping = make(map[MemoryOutPhase]string)

func (p MemoryOutPhase) String() string {
	str, ok := memoryOutPhaseMapping[p]
	if !ok {
		return fmt.Sprintf("MemoryOutPhase(%d)", int32(p))
	}
	return str
}

func init() {
	memoryOutPhaseMapping[FreeInactiveCacheMemory] = "FreeInactiveCacheMemory"
	memoryOutPhaseMapping[FreeActiveCacheMemory] = "FreeActiveCacheMemory"
}

// MemoryOutClient is a subsystem holding memory it can give back when the heap is exhausted, such as
// a resource cache. Clients are compared by identity, so they should be pointers. Callbacks run on the
// goroutine whose request started recovery, and must not wait on other goroutines that allocate.
type MemoryOutClient interface {
	// FreeMemory releases memory according to phase, and returns true only if something was released
	FreeMemory(phase MemoryOutPhase) bool
	// MemoryOutAbort is called once when recovery has failed and the emergency buffer has been
	// given up: clients should abandon whatever work is in flight
	MemoryOutAbort()
	// MemoryOutReset is called when the embedder returns the system to normal operation
	MemoryOutReset()
}

const (
	defaultAbortBufferSize int = 1024 * 1024
	defaultReserveSize     int = 10240
)

// MemoryOutOptions contains optional settings for memory-out recovery
type MemoryOutOptions struct {
	// AbortBufferSize is the size of the emergency buffer that is released once all clients have
	// failed to free memory. Defaults to 1MiB.
	AbortBufferSize int
	// ReserveSize is the size of the buffer released before clients are asked to free memory, so
	// that the clients have room to work. Defaults to 10KiB.
	ReserveSize int
}

// MemoryOutManager coordinates memory-out recovery. When a request cannot be satisfied, registered
// clients are asked to free memory, least disruptive phase first, and the request is retried for as
// long as something was freed. If nothing can be freed, the emergency buffer is released and the
// system enters abort mode until Reset is called.
//
// Only one recovery round runs at a time. Requests that fail while a round is running wait for it and
// then retry.
type MemoryOutManager struct {
	allocator *Allocator
	logger    *slog.Logger

	mutex           utils.OptionalMutex
	clients         []MemoryOutClient
	abortBufferSize int
	abortBuffer     []byte
	reserveSize     int
	reserve         []byte

	abortActive atomic.Bool

	roundMutex utils.OptionalMutex
	roundOwner atomic.Int64
	rounds     atomic.Uint64
}

func newMemoryOutManager(allocator *Allocator, options MemoryOutOptions) (*MemoryOutManager, error) {
	if options.AbortBufferSize < 0 || options.ReserveSize < 0 {
		return nil, errors.Wrapf(ErrNegativeSize, "memory out buffers were %d and %d bytes", options.AbortBufferSize, options.ReserveSize)
	}

	m := &MemoryOutManager{
		allocator:       allocator,
		logger:          allocator.logger,
		mutex:           utils.OptionalMutex{UseMutex: allocator.useMutex},
		abortBufferSize: options.AbortBufferSize,
		reserveSize:     options.ReserveSize,
		roundMutex:      utils.OptionalMutex{UseMutex: allocator.useMutex},
	}

	if m.abortBufferSize == 0 {
		m.abortBufferSize = defaultAbortBufferSize
	}
	if m.reserveSize == 0 {
		m.reserveSize = defaultReserveSize
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.abortBuffer = allocator.allocateOnce(m.abortBufferSize, CategoryMemoryOut)
	if m.abortBuffer == nil {
		return nil, errors.Wrapf(ErrOutOfMemory, "failed to allocate the %d byte memory out abort buffer", m.abortBufferSize)
	}

	m.reserve = allocator.allocateOnce(m.reserveSize, CategoryMemoryOut)
	if m.reserve == nil {
		allocator.release(m.abortBuffer)
		m.abortBuffer = nil
		return nil, errors.Wrapf(ErrOutOfMemory, "failed to allocate the %d byte memory out reserve", m.reserveSize)
	}

	return m, nil
}

// RegisterClient adds client to the set of clients asked to free memory. Registering a client that
// is already registered does nothing.
func (m *MemoryOutManager) RegisterClient(client MemoryOutClient) {
	m.logger.Debug("MemoryOutManager::RegisterClient")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, registered := range m.clients {
		if registered == client {
			return
		}
	}
	m.clients = append(m.clients, client)
}

// UnregisterClient removes client. Unknown clients are ignored.
func (m *MemoryOutManager) UnregisterClient(client MemoryOutClient) {
	m.logger.Debug("MemoryOutManager::UnregisterClient")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	for i, registered := range m.clients {
		if registered == client {
			m.clients = append(m.clients[:i], m.clients[i+1:]...)
			return
		}
	}
}

// AbortReached reports whether the emergency buffer has been given up
func (m *MemoryOutManager) AbortReached() bool {
	return m.abortActive.Load()
}

func (m *MemoryOutManager) snapshotClients() []MemoryOutClient {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	clients := make([]MemoryOutClient, len(m.clients))
	copy(clients, m.clients)
	return clients
}

func (m *MemoryOutManager) releaseReserve() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.reserve != nil {
		m.allocator.release(m.reserve)
		m.reserve = nil
	}
}

func (m *MemoryOutManager) acquireReserve() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.reserve == nil {
		m.reserve = m.allocator.allocateOnce(m.reserveSize, CategoryMemoryOut)
	}
}

func (m *MemoryOutManager) releaseAbortBuffer() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.abortBuffer != nil {
		m.allocator.release(m.abortBuffer)
		m.abortBuffer = nil
	}
}

func freeMemoryPhase(clients []MemoryOutClient, phase MemoryOutPhase) bool {
	for _, client := range clients {
		if client.FreeMemory(phase) {
			return true
		}
	}
	return false
}

// FreeMemory runs one round of recovery and reports whether the failed request is worth retrying.
// If another goroutine is already running a round, FreeMemory waits for it to finish and reports
// true. A client that allocates and fails inside its own callback does not start a nested round.
func (m *MemoryOutManager) FreeMemory() bool {
	caller := utils.GoroutineID()
	if caller != 0 && m.roundOwner.Load() == caller {
		return false
	}

	observed := m.rounds.Load()

	m.roundMutex.Lock()
	defer m.roundMutex.Unlock()

	if m.rounds.Load() != observed {
		// A round finished while this request waited for the lock
		return true
	}

	m.roundOwner.Store(caller)
	defer func() {
		m.roundOwner.Store(0)
		m.rounds.Add(1)
	}()

	tracer := m.allocator.tracer

	// Clients may need a little memory to free memory
	m.releaseReserve()

	tracer.Warnf("MemoryOutManager::FreeMemory(), attempting to recover from memory out.")

	clients := m.snapshotClients()
	result := freeMemoryPhase(clients, FreeInactiveCacheMemory)
	if !result {
		result = freeMemoryPhase(clients, FreeActiveCacheMemory)
	}

	m.acquireReserve()

	if !result && m.abortActive.CompareAndSwap(false, true) {
		result = true

		tracer.Warnf("=======================================================")
		tracer.Warnf("MemoryOutManager: freeing emergency buffer,")
		tracer.Warnf("aborting work currently in progress.")

		m.releaseAbortBuffer()

		tracer.Warnf("Memory Usage:")
		m.allocator.RenderUsageReport(true, true, tracerSink{tracer: tracer, level: trace.LevelWarn})
		tracer.Warnf("=======================================================")

		m.logger.Warn("memory out abort reached", slog.Int("clients", len(clients)))

		for _, client := range clients {
			client.MemoryOutAbort()
		}
	}

	return result
}

// Reset leaves abort mode, re-acquires the emergency buffer and the reserve, and tells every client
// to return to normal operation
func (m *MemoryOutManager) Reset() error {
	m.logger.Debug("MemoryOutManager::Reset")

	m.abortActive.Store(false)

	err := m.SetAbortBufferSize(m.AbortBufferSize())
	m.acquireReserve()

	for _, client := range m.snapshotClients() {
		client.MemoryOutReset()
	}

	return err
}

func (m *MemoryOutManager) AbortBufferSize() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.abortBufferSize
}

// SetAbortBufferSize changes the size of the emergency buffer, re-acquiring it if it is not held
func (m *MemoryOutManager) SetAbortBufferSize(size int) error {
	m.logger.Debug("MemoryOutManager::SetAbortBufferSize", slog.Int("size", size))

	size, err := normalizeSize(size)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if size != m.abortBufferSize && m.abortBuffer != nil {
		m.allocator.release(m.abortBuffer)
		m.abortBuffer = nil
	}

	m.abortBufferSize = size

	if m.abortBuffer == nil {
		m.abortBuffer = m.allocator.allocateOnce(size, CategoryMemoryOut)
		if m.abortBuffer == nil {
			return errors.Wrapf(ErrOutOfMemory, "failed to allocate the %d byte memory out abort buffer", size)
		}
	}

	return nil
}

func (m *MemoryOutManager) destroy() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.abortBuffer != nil {
		m.allocator.release(m.abortBuffer)
		m.abortBuffer = nil
	}
	if m.reserve != nil {
		m.allocator.release(m.reserve)
		m.reserve = nil
	}
	m.clients = nil
}
