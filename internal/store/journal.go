// internal/store/journal.go
package store

import (
	"sync"
	"time"
)

// Record is one handled announce, kept for diagnostics only.
type Record struct {
	Time      time.Time
	Seq       uint64
	Direction string // "inbound" or "outbound"
	Type      string
	Remote    string
	Outcome   string
}

// Journal is a bounded in-memory log of announce activity. Oldest records
// are dropped once the capacity is reached.
type Journal struct {
	records []Record
	cap     int
	mu      sync.RWMutex
}

func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = 128
	}
	return &Journal{cap: capacity}
}

func (j *Journal) Append(r Record) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.records = append(j.records, r)
	if len(j.records) > j.cap {
		j.records = j.records[len(j.records)-j.cap:]
	}
}

// Recent returns up to n records, newest last.
func (j *Journal) Recent(n int) []Record {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if n <= 0 || n > len(j.records) {
		n = len(j.records)
	}
	out := make([]Record, n)
	copy(out, j.records[len(j.records)-n:])
	return out
}

func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.records)
}
