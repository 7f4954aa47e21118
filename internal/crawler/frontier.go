package crawler

import (
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/BenjaminSRussell/siteaudit/internal/types"
)

const (
	// DefaultExpectedURLs sizes the bloom prefilter when the caller has no estimate.
	DefaultExpectedURLs = 10_000
	bloomFilterRate     = 0.01
)

// Frontier is the FIFO work queue of one crawl. Popping from the front in
// wave-sized chunks is what gives breadth-first order. It is owned by the
// crawl loop and is not safe for concurrent use.
type Frontier struct {
	items []types.FrontierItem
	head  int
}

// NewFrontier creates an empty frontier
func NewFrontier() *Frontier {
	return &Frontier{}
}

// Push appends an item to the back of the queue
func (f *Frontier) Push(item types.FrontierItem) {
	f.items = append(f.items, item)
}

// PopWave removes up to n items from the front of the queue
func (f *Frontier) PopWave(n int) []types.FrontierItem {
	if n <= 0 || f.Len() == 0 {
		return nil
	}
	end := f.head + n
	if end > len(f.items) {
		end = len(f.items)
	}

	wave := make([]types.FrontierItem, end-f.head)
	copy(wave, f.items[f.head:end])
	f.head = end

	// reclaim the consumed prefix once it dominates the backing array
	if f.head > 1024 && f.head*2 > len(f.items) {
		f.items = append([]types.FrontierItem(nil), f.items[f.head:]...)
		f.head = 0
	}
	return wave
}

// Len returns the number of queued items
func (f *Frontier) Len() int {
	return len(f.items) - f.head
}

// VisitedSet records normalized URLs that have been scheduled. The map is
// authoritative; the bloom filter is only a lookup prefilter that lets most
// unseen URLs skip the map. Going past the expected size raises its false
// positive rate, which costs map lookups and never changes the answer.
type VisitedSet struct {
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

// NewVisitedSet creates an empty visited set with the prefilter sized for
// about expected URLs. Zero uses DefaultExpectedURLs.
func NewVisitedSet(expected uint) *VisitedSet {
	if expected == 0 {
		expected = DefaultExpectedURLs
	}
	return &VisitedSet{
		filter: bloom.NewWithEstimates(expected, bloomFilterRate),
		exact:  make(map[string]struct{}),
	}
}

// Add marks url as visited and reports whether it was new
func (v *VisitedSet) Add(url string) bool {
	if v.Contains(url) {
		return false
	}
	v.filter.AddString(url)
	v.exact[url] = struct{}{}
	return true
}

// Contains reports whether url was already added
func (v *VisitedSet) Contains(url string) bool {
	if !v.filter.TestString(url) {
		return false
	}
	_, ok := v.exact[url]
	return ok
}

// Len returns the number of distinct URLs added
func (v *VisitedSet) Len() int {
	return len(v.exact)
}
