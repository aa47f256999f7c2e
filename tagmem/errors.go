package tagmem

import (
	"github.com/cockroachdb/errors"
	"github.com/embedmem/tagmem/memutils"
)

// ErrOutOfMemory is wrapped by every error returned from a failed Try* request
var ErrOutOfMemory = errors.New("out of memory")

// ErrSizeOverflow is wrapped by the error returned from TryAllocateArray when count * elementSize does
// not fit in an int
var ErrSizeOverflow = memutils.SizeOverflowError

// ErrNegativeSize is wrapped by the error returned from a Try* request for fewer than zero bytes
var ErrNegativeSize = memutils.NegativeSizeError
