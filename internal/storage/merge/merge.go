// Package merge streams the union of sorted spool runs in ascending order.
//
// The iterator owns its runs: each run file is removed as soon as it is
// exhausted, and Close removes whatever is left, including after an error
// or when the caller stops early.
package merge

import (
	"container/heap"
	"fmt"
	"slices"

	"github.com/xtxerr/rastercalc/internal/errors"
	"github.com/xtxerr/rastercalc/internal/storage/spool"
)

// Compile time check to ensure runHeap satisfies the heap interface.
var _ heap.Interface = (*runHeap)(nil)

// cursor is the head of one open run.
type cursor struct {
	run    *spool.Run
	reader *spool.RunReader
	value  float64
}

// release closes the reader and removes the run file.
func (c *cursor) release() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
		c.reader = nil
	}
	if rerr := c.run.Remove(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// runHeap is a min-heap of cursors ordered by their head value.
type runHeap []*cursor

func (h runHeap) Len() int           { return len(h) }
func (h runHeap) Less(i, j int) bool { return h[i].value < h[j].value }
func (h runHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *runHeap) Push(x any) {
	*h = append(*h, x.(*cursor))
}

func (h *runHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil // Avoid memory leak
	*h = old[:n-1]
	return c
}

// Iterator yields the values of all runs in non-decreasing order.
type Iterator struct {
	heap    runHeap
	pending []*cursor // every cursor not yet released
	total   int64
	emitted int64
	stats   Stats

	value  float64
	err    error
	closed bool
}

// New opens every run and primes the heap. The iterator takes ownership of
// runs immediately: if New fails, every run has already been removed.
func New(runs []*spool.Run) (*Iterator, error) {
	it := &Iterator{
		heap:    make(runHeap, 0, len(runs)),
		pending: make([]*cursor, 0, len(runs)),
	}

	for _, run := range runs {
		it.pending = append(it.pending, &cursor{run: run})
		it.total += run.Count()
	}

	// release shrinks pending, so walk a snapshot.
	for _, c := range slices.Clone(it.pending) {
		if c.run.Count() == 0 {
			it.release(c)
			continue
		}

		r, err := c.run.Open()
		if err != nil {
			it.Close()
			return nil, fmt.Errorf("open run %s: %w", c.run.Path(), err)
		}
		c.reader = r

		if !r.Next() {
			err := r.Err()
			if err == nil {
				err = fmt.Errorf("run %s is shorter than its header", c.run.Path())
			}
			it.Close()
			return nil, err
		}
		c.value = r.Value()
		it.heap = append(it.heap, c)
	}

	heap.Init(&it.heap)
	return it, nil
}

// Total returns the number of values across all runs.
func (it *Iterator) Total() int64 {
	return it.total
}

// Emitted returns the number of values consumed so far.
func (it *Iterator) Emitted() int64 {
	return it.emitted
}

// Next advances to the next smallest value.
// Returns false when all runs are exhausted or an error occurred.
func (it *Iterator) Next() bool {
	if it.closed || it.err != nil || len(it.heap) == 0 {
		return false
	}

	top := it.heap[0]
	it.value = top.value
	it.emitted++

	if top.reader.Next() {
		top.value = top.reader.Value()
		heap.Fix(&it.heap, 0)
		return true
	}

	if err := top.reader.Err(); err != nil {
		it.err = fmt.Errorf("read run %s: %w", top.run.Path(), err)
		return false
	}

	heap.Pop(&it.heap)
	it.release(top)
	return true
}

// Value returns the current value.
func (it *Iterator) Value() float64 {
	return it.value
}

// Stats reports how much of the merge was bypassed by Skip.
type Stats struct {
	ValuesSkipped int64 // values discarded inside a run reader without decoding
	ChunksSkipped int64 // whole chunks discarded by run readers
}

// Stats returns the skip counters accumulated so far.
func (it *Iterator) Stats() Stats {
	return it.stats
}

// Skip discards up to n values and returns the number discarded.
//
// While every remaining value of the smallest run sorts at or below the
// heads of all other runs, that run's values are next in merge order and
// are discarded by its reader, a whole chunk at a time where possible.
func (it *Iterator) Skip(n int64) int64 {
	var skipped int64
	for skipped < n && !it.closed && it.err == nil && len(it.heap) > 0 {
		top := it.heap[0]
		avail := 1 + top.reader.Remaining()
		if n-skipped < 2 || avail < 2 || !it.leads(top) {
			if !it.Next() {
				break
			}
			skipped++
			continue
		}

		// Consume the head plus k-1 records behind it.
		k := min(n-skipped, avail)
		before := top.reader.Stats().ChunksSkipped
		got := top.reader.Skip(k - 1)
		it.stats.ChunksSkipped += top.reader.Stats().ChunksSkipped - before
		it.stats.ValuesSkipped += got
		it.emitted += 1 + got
		skipped += 1 + got

		if got != k-1 {
			it.fail(top)
			break
		}
		if k < avail {
			if !top.reader.Next() {
				it.fail(top)
				break
			}
			top.value = top.reader.Value()
			heap.Fix(&it.heap, 0)
			continue
		}
		heap.Pop(&it.heap)
		it.release(top)
	}
	return skipped
}

// leads reports whether no other run has a head below top's largest value.
// The smallest head among the rest is one of the root's children.
func (it *Iterator) leads(top *cursor) bool {
	hi := top.run.Max()
	for i := 1; i <= 2 && i < len(it.heap); i++ {
		if it.heap[i].value < hi {
			return false
		}
	}
	return true
}

// fail records a read failure on c.
func (it *Iterator) fail(c *cursor) {
	err := c.reader.Err()
	if err == nil {
		err = errors.New("shorter than its header")
	}
	it.err = fmt.Errorf("read run %s: %w", c.run.Path(), err)
}

// Err returns the first error encountered.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases every remaining run. It is safe to call more than once.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true

	var errs []error
	for _, c := range it.pending {
		if err := c.release(); err != nil {
			errs = append(errs, err)
		}
	}
	it.pending = nil
	it.heap = nil
	return errors.Join(errs...)
}

// release frees an exhausted cursor and stops tracking it.
func (it *Iterator) release(c *cursor) {
	if err := c.release(); err != nil && it.err == nil {
		it.err = err
	}
	for i, p := range it.pending {
		if p == c {
			it.pending = append(it.pending[:i], it.pending[i+1:]...)
			break
		}
	}
}
