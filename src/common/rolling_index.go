package common

import "strconv"

// RollingIndex is a bounded window over a sequence of consecutively indexed
// items. It holds at most 2*size items; when the window is full, the oldest
// size items are dropped. Items are only ever appended, so indexes are dense
// and increasing.
type RollingIndex struct {
	name      string
	size      int
	lastIndex int
	items     []interface{}
}

// NewRollingIndex ...
func NewRollingIndex(name string, size int) *RollingIndex {
	return &RollingIndex{
		name:      name,
		size:      size,
		items:     make([]interface{}, 0, 2*size),
		lastIndex: -1,
	}
}

// GetLastWindow returns all the items currently in the window along with the
// index of the last item.
func (r *RollingIndex) GetLastWindow() (lastWindow []interface{}, lastIndex int) {
	return r.items, r.lastIndex
}

// Get returns all items with index greater than skipIndex. A TooLate error
// indicates that items after skipIndex have already been evicted.
func (r *RollingIndex) Get(skipIndex int) ([]interface{}, error) {
	res := make([]interface{}, 0)

	if skipIndex > r.lastIndex {
		return res, nil
	}

	cachedItems := len(r.items)
	oldestCachedIndex := r.lastIndex - cachedItems + 1
	if skipIndex+1 < oldestCachedIndex {
		return res, NewStoreErr(r.name, TooLate, strconv.Itoa(skipIndex))
	}

	start := skipIndex - oldestCachedIndex + 1

	return r.items[start:], nil
}

// GetItem returns the item at the given index, a TooLate error if it was
// evicted, or a KeyNotFound error if it was never appended.
func (r *RollingIndex) GetItem(index int) (interface{}, error) {
	items := len(r.items)
	oldestCached := r.lastIndex - items + 1
	if index < oldestCached {
		return nil, NewStoreErr(r.name, TooLate, strconv.Itoa(index))
	}
	findex := index - oldestCached
	if findex >= items {
		return nil, NewStoreErr(r.name, KeyNotFound, strconv.Itoa(index))
	}
	return r.items[findex], nil
}

// Append adds an item at the end of the window, rolling it first if it is
// full, and returns the index assigned to the item.
func (r *RollingIndex) Append(item interface{}) int {
	if len(r.items) >= 2*r.size {
		r.roll()
	}
	r.items = append(r.items, item)
	r.lastIndex++
	return r.lastIndex
}

func (r *RollingIndex) roll() {
	newList := make([]interface{}, 0, 2*r.size)
	newList = append(newList, r.items[r.size:]...)
	r.items = newList
}
