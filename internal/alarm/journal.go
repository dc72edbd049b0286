package alarm

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"robotcell/internal/events"
	"robotcell/internal/logging"
	"robotcell/pkg/types"
)

var journalPrefix = []byte("alarm/")

// 写入队列长度
const journalQueue = 256

// Entry 报警历史条目
type Entry struct {
	Event  string             `json:"event"`
	Record *types.AlarmRecord `json:"record,omitempty"`
	Count  int                `json:"count,omitempty"`
	At     time.Time          `json:"at"`
}

// Journal is the persistent alarm history. It subscribes to the event bus and appends one
// entry per raised, resolved or cleared event. Writes happen on the journal's own goroutine so
// a slow disk never holds up the publisher; reads may trail the last event by one write.
type Journal struct {
	db     *badger.DB
	seq    atomic.Uint64
	logger *logging.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan Entry
	done    chan struct{}
	dropped atomic.Uint64
}

// OpenJournal opens the journal at cfg.JournalPath, or in memory when cfg.InMemory is set.
func OpenJournal(cfg types.AlarmJournalConfig) (*Journal, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.JournalPath == "" {
			return nil, fmt.Errorf("alarm journal path is required")
		}
		if err := os.MkdirAll(cfg.JournalPath, 0750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", cfg.JournalPath, err)
		}
		opts = badger.DefaultOptions(cfg.JournalPath)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open alarm journal: %w", err)
	}
	j := &Journal{
		db:     db,
		logger: logging.GetLogger("alarm_journal"),
		queue:  make(chan Entry, journalQueue),
		done:   make(chan struct{}),
	}
	go j.writeLoop()
	return j, nil
}

// Handle is the bus subscriber. It only queues the entry; a full queue drops it.
func (j *Journal) Handle(e events.Event) {
	entry := Entry{Event: string(e.Type()), At: e.Timestamp()}
	switch ev := e.(type) {
	case *events.AlarmEvent:
		rec := ev.Record
		entry.Record = &rec
	case *events.ClearedEvent:
		entry.Count = ev.Count
	default:
		return
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- entry:
	default:
		j.dropped.Add(1)
		j.logger.Warn("Alarm journal queue full, entry dropped", "event", entry.Event, "dropped", j.dropped.Load())
	}
}

// Dropped returns how many entries were lost to a full queue.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

func (j *Journal) writeLoop() {
	defer close(j.done)
	for entry := range j.queue {
		if err := j.Append(entry); err != nil {
			j.logger.Error("Failed to journal alarm event", "event", entry.Event, "error", err)
		}
	}
}

// Append stores an entry keyed by time so iteration order is chronological.
func (j *Journal) Append(entry Entry) error {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	key := []byte(fmt.Sprintf("%s%020d/%010d", journalPrefix, entry.At.UnixNano(), j.seq.Add(1)))

	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	var out []Entry
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = journalPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, journalPrefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(journalPrefix); it.Next() {
			if n > 0 && len(out) >= n {
				break
			}
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read alarm journal: %w", err)
	}
	return out, nil
}

// Close stops accepting events, writes what is queued and closes the store.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	<-j.done
	return j.db.Close()
}
