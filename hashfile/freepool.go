package hashfile

import "container/heap"

// freeBlock is one reusable region of the record area: offset and size are
// both measured in bytes (not align units) for arithmetic convenience; they
// are always multiples of 1<<apow.
type freeBlock struct {
	offset int64
	size   int64
}

// freePool is an in-memory max-heap of free blocks ordered by size, so the
// largest block is always popped first - "largest free blocks win on
// allocation", per spec section 4.2. It is capped at 1<<fpow entries;
// blocks evicted to stay under the cap become counted fragmentation
// (frgcnt) rather than being tracked for reuse.
type freePool struct {
	blocks freeBlockHeap
	cap    int
	frgcnt int64
}

func newFreePool(fpow uint8) *freePool {
	return &freePool{cap: 1 << fpow}
}

// Add inserts a free block, evicting the smallest tracked block (counting
// it as fragmentation) if the pool is at capacity and the new block is
// larger than the smallest.
func (p *freePool) Add(offset, size int64) {
	if len(p.blocks) >= p.cap {
		if len(p.blocks) == 0 {
			p.frgcnt += size

			return
		}

		smallest := p.smallestIndex()
		if p.blocks[smallest].size >= size {
			p.frgcnt += size

			return
		}

		p.frgcnt += p.blocks[smallest].size
		heap.Remove(&p.blocks, smallest)
	}

	heap.Push(&p.blocks, freeBlock{offset: offset, size: size})
}

func (p *freePool) smallestIndex() int {
	smallest := 0

	for i := 1; i < len(p.blocks); i++ {
		if p.blocks[i].size < p.blocks[smallest].size {
			smallest = i
		}
	}

	return smallest
}

// Take pops the largest block with size >= needed, splitting the remainder
// back into the pool if it is usefully large. ok is false if no block is
// big enough and the caller must append at end-of-region instead.
func (p *freePool) Take(needed int64) (offset int64, ok bool) {
	if len(p.blocks) == 0 || p.blocks[0].size < needed {
		return 0, false
	}

	best := heap.Pop(&p.blocks).(freeBlock)

	remainder := best.size - needed
	if remainder > 0 {
		p.Add(best.offset+needed, remainder)
	}

	return best.offset, true
}

// Reset clears the pool, used when rebuilding it from a full scan (on open
// and after defrag).
func (p *freePool) Reset() {
	p.blocks = nil
	p.frgcnt = 0
}

// Count returns the number of distinct free blocks currently tracked.
func (p *freePool) Count() int { return len(p.blocks) }

// freeBlockHeap implements container/heap as a max-heap on size.
type freeBlockHeap []freeBlock

func (h freeBlockHeap) Len() int            { return len(h) }
func (h freeBlockHeap) Less(i, j int) bool  { return h[i].size > h[j].size }
func (h freeBlockHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *freeBlockHeap) Push(x interface{}) { *h = append(*h, x.(freeBlock)) }

func (h *freeBlockHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}
