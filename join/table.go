// Package join implements the partitioned, thread-local stream join spec
// §4.5 describes: a build phase where each worker appends to its own
// hash table, and a probe phase that merges per-partition buckets and
// emits matching pairs once a window's watermark closes it.
package join

import "github.com/cespare/xxhash/v2"

// Record is one joinable row: its key (used for partitioning and
// matching), its event timestamp, and the row payload itself.
type Record struct {
	Key   string
	TS    int64
	Value map[string]interface{}
}

// page is a fixed-capacity run of records; a bucket overflow allocates a
// new page rather than growing one, so no record ever moves once placed
// (spec §4.5: "each bucket is a linked list of fixed-capacity pages").
type page struct {
	records []Record
	next    *page
}

func newPage(capacity int) *page {
	return &page{records: make([]Record, 0, capacity)}
}

// Table is one worker's thread-local, partitioned hash table for one
// side of a join, scoped to a single window. It is built by one
// goroutine only (spec §4.5: "a record is fully owned by one worker
// until window close"), so it holds no internal locking.
type Table struct {
	pageSize     int
	numPartitions int
	partitions    []*page // head page per partition; newest page first
	sizeBytes     int64
	recordSize    int64
}

// NewTable builds an empty per-worker table with numPartitions buckets,
// each bucket's pages holding up to pageSize/recordSize records.
func NewTable(numPartitions, pageSize int, recordSize int64) *Table {
	return &Table{
		pageSize:      pageSize,
		numPartitions: numPartitions,
		partitions:    make([]*page, numPartitions),
		recordSize:    recordSize,
	}
}

func (t *Table) partitionOf(key string) int {
	return int(xxhash.Sum64String(key) % uint64(t.numPartitions))
}

// Append adds r to its partition's head page, allocating an overflow page
// when the head page is full.
func (t *Table) Append(r Record) {
	p := t.partitionOf(r.Key)
	head := t.partitions[p]
	capacity := t.pageSize / int(t.recordSize)
	if capacity < 1 {
		capacity = 1
	}
	if head == nil || len(head.records) >= capacity {
		fresh := newPage(capacity)
		fresh.next = head
		t.partitions[p] = fresh
		head = fresh
	}
	head.records = append(head.records, r)
	t.sizeBytes += t.recordSize
}

// SizeBytes reports the table's current memory footprint, compared
// against a window's joinSizeInByte budget (spec §4.5).
func (t *Table) SizeBytes() int64 {
	return t.sizeBytes
}

// Bucket returns every record in partition p across all of the table's
// overflow pages, in no particular order.
func (t *Table) Bucket(p int) []Record {
	var out []Record
	for page := t.partitions[p]; page != nil; page = page.next {
		out = append(out, page.records...)
	}
	return out
}

// NumPartitions reports the table's fixed partition count.
func (t *Table) NumPartitions() int {
	return t.numPartitions
}
