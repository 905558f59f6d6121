package journal

import (
	"sync"

	"github.com/wicketnetworks/wicket/src/common"
)

// InmemJournal keeps a bounded window of recent events in memory. Older
// events are evicted as new ones arrive.
type InmemJournal struct {
	sync.Mutex
	window *common.RollingIndex
	seq    int
}

// NewInmemJournal creates an InmemJournal retaining in the order of cacheSize
// events.
func NewInmemJournal(cacheSize int) *InmemJournal {
	return &InmemJournal{
		window: common.NewRollingIndex("journal", cacheSize),
	}
}

// Append implements the Journal interface.
func (j *InmemJournal) Append(ev Event) (int, error) {
	j.Lock()
	defer j.Unlock()

	ev.Seq = j.seq
	j.window.Append(ev)
	j.seq++

	return ev.Seq, nil
}

// Recent implements the Journal interface. It returns at most as many events
// as the window still holds.
func (j *InmemJournal) Recent(count int) ([]Event, error) {
	j.Lock()
	defer j.Unlock()

	items, _ := j.window.GetLastWindow()
	if count > len(items) {
		count = len(items)
	}
	if count < 0 {
		count = 0
	}

	res := make([]Event, 0, count)
	for _, item := range items[len(items)-count:] {
		res = append(res, item.(Event))
	}

	return res, nil
}

// Close implements the Journal interface.
func (j *InmemJournal) Close() error {
	return nil
}

// nextSeq returns the sequence number the next appended event will get.
func (j *InmemJournal) nextSeq() int {
	j.Lock()
	defer j.Unlock()
	return j.seq
}

// cached returns the number of events currently held in the window.
func (j *InmemJournal) cached() int {
	j.Lock()
	defer j.Unlock()
	items, _ := j.window.GetLastWindow()
	return len(items)
}

// insert appends an event whose sequence number was already assigned.
func (j *InmemJournal) insert(ev Event) {
	j.Lock()
	defer j.Unlock()

	j.window.Append(ev)
	j.seq = ev.Seq + 1
}
