package tagmem

import (
	"unsafe"

	"github.com/dolthub/swiss"
	"github.com/embedmem/tagmem/memutils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// liveRecord is the bookkeeping kept for every region currently handed out. region is the slice
// exactly as the heap returned it, so the heap always gets back what it produced.
type liveRecord struct {
	region   []byte
	size     int
	category Category
}

func regionKey(b []byte) unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(b))
}

// liveRecordSet maps region identity to its record. It is not synchronized: the allocator's mutex
// guards it along with the counters it must agree with.
type liveRecordSet struct {
	records *swiss.Map[unsafe.Pointer, *liveRecord]
	bytes   int
}

func (s *liveRecordSet) Init() {
	s.records = swiss.NewMap[unsafe.Pointer, *liveRecord](64)
	s.bytes = 0
}

func (s *liveRecordSet) Count() int {
	return s.records.Count()
}

func (s *liveRecordSet) Lookup(b []byte) (*liveRecord, bool) {
	if b == nil {
		return nil, false
	}
	return s.records.Get(regionKey(b))
}

func (s *liveRecordSet) Register(region []byte, size int, category Category) {
	s.records.Put(regionKey(region), &liveRecord{
		region:   region,
		size:     size,
		category: category,
	})
	s.bytes += size
}

func (s *liveRecordSet) Unregister(record *liveRecord) {
	s.records.Delete(regionKey(record.region))
	s.bytes -= record.size
}

// Migrate moves record to a region returned by a successful reallocation. The old key is dropped
// first because the heap may hand back the same address.
func (s *liveRecordSet) Migrate(record *liveRecord, region []byte, size int) {
	s.records.Delete(regionKey(record.region))
	s.bytes += size - record.size

	record.region = region
	record.size = size
	s.records.Put(regionKey(region), record)
}

func (s *liveRecordSet) Visit(visit func(record *liveRecord)) {
	s.records.Iter(func(_ unsafe.Pointer, record *liveRecord) (stop bool) {
		visit(record)
		return false
	})
}

// Drain removes every record, handing each one to drain on the way out
func (s *liveRecordSet) Drain(drain func(record *liveRecord)) {
	var records []*liveRecord
	s.Visit(func(record *liveRecord) {
		records = append(records, record)
	})

	for _, record := range records {
		s.Unregister(record)
		drain(record)
	}
}

func (s *liveRecordSet) AddDetailedStatistics(stats map[Category]*memutils.DetailedStatistics) {
	s.Visit(func(record *liveRecord) {
		detailed, ok := stats[record.category]
		if !ok {
			detailed = &memutils.DetailedStatistics{}
			detailed.Clear()
			stats[record.category] = detailed
		}

		detailed.AddAllocation(record.size)
	})
}

func (s *liveRecordSet) Validate() error {
	actualBytes := 0
	s.Visit(func(record *liveRecord) {
		actualBytes += record.size
	})

	if actualBytes != s.bytes {
		return errors.Errorf("the listed number of live bytes (%d) does not match the sum of the live records (%d)", s.bytes, actualBytes)
	}

	return nil
}

// PrintRecords writes the size of every live region, grouped by category in ascending order
func (s *liveRecordSet) PrintRecords(json *jwriter.ObjectState) {
	sizes := make(map[Category][]int)
	s.Visit(func(record *liveRecord) {
		sizes[record.category] = append(sizes[record.category], record.size)
	})

	categories := maps.Keys(sizes)
	slices.Sort(categories)

	obj := json.Name("LiveAllocations").Object()
	defer obj.End()

	for _, category := range categories {
		categorySizes := sizes[category]
		slices.Sort(categorySizes)

		arrayState := obj.Name(category.String()).Array()
		for _, size := range categorySizes {
			arrayState.Int(size)
		}
		arrayState.End()
	}
}
