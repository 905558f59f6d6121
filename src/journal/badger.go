package journal

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger"
)

var seqKey = []byte("journal_seq")

func eventKey(seq int) []byte {
	return []byte(fmt.Sprintf("event_%012d", seq))
}

// BadgerJournal persists events in a Badger database so the record survives
// restarts. A bounded in-memory window fronts the database for fast reads of
// recent events.
type BadgerJournal struct {
	sync.Mutex
	cache *InmemJournal
	db    *badger.DB
	path  string
}

// NewBadgerJournal opens or creates a Badger database at the given path and
// resumes the sequence where a previous run left off.
func NewBadgerJournal(cacheSize int, path string) (*BadgerJournal, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	j := &BadgerJournal{
		cache: NewInmemJournal(cacheSize),
		db:    db,
		path:  path,
	}

	if err := j.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}

	return j, nil
}

func (j *BadgerJournal) loadSeq() error {
	return j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(seqKey)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}

		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		seq, err := strconv.Atoi(string(data))
		if err != nil {
			return fmt.Errorf("corrupt journal sequence %q: %v", data, err)
		}

		j.cache.seq = seq

		return nil
	})
}

// Append implements the Journal interface. The event is written to the
// database before it becomes visible in the window.
func (j *BadgerJournal) Append(ev Event) (int, error) {
	j.Lock()
	defer j.Unlock()

	ev.Seq = j.cache.nextSeq()

	data, err := ev.Marshal()
	if err != nil {
		return 0, err
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(eventKey(ev.Seq), data); err != nil {
			return err
		}
		return txn.Set(seqKey, []byte(strconv.Itoa(ev.Seq+1)))
	})
	if err != nil {
		return 0, err
	}

	j.cache.insert(ev)

	return ev.Seq, nil
}

// Recent implements the Journal interface. Reads beyond the in-memory window
// fall through to the database.
func (j *BadgerJournal) Recent(count int) ([]Event, error) {
	if count <= j.cache.cached() {
		return j.cache.Recent(count)
	}
	return j.dbRecent(count)
}

func (j *BadgerJournal) dbRecent(count int) ([]Event, error) {
	last := j.cache.nextSeq()
	first := last - count
	if first < 0 {
		first = 0
	}

	res := make([]Event, 0, last-first)
	err := j.db.View(func(txn *badger.Txn) error {
		for seq := first; seq < last; seq++ {
			item, err := txn.Get(eventKey(seq))
			if err != nil {
				return err
			}

			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			ev := Event{}
			if err := ev.Unmarshal(data); err != nil {
				return err
			}

			res = append(res, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// Close implements the Journal interface.
func (j *BadgerJournal) Close() error {
	return j.db.Close()
}
