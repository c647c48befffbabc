// pkg/dht/table.go
package dht

import (
	"sync"

	"github.com/voidlane/Meshwire/pkg/identity"
	"github.com/voidlane/Meshwire/pkg/types"
)

// MaxEntries is the global table capacity, independent of how entries are
// spread across prefixes.
const MaxEntries = 32

// Outcome is the observable result of an insert. Rejections are routine,
// never errors.
type Outcome int

const (
	Inserted Outcome = iota
	Replaced
	RejectedSelf
	RejectedFurther
	RejectedFull
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case RejectedSelf:
		return "rejected-self"
	case RejectedFurther:
		return "rejected-further"
	case RejectedFull:
		return "rejected-full"
	default:
		return "unknown"
	}
}

// Accepted reports whether the candidate now occupies a slot.
func (o Outcome) Accepted() bool {
	return o == Inserted || o == Replaced
}

// Entry is one routing-table slot: a peer keyed by the number of leading
// bits its ID shares with the owner's.
type Entry struct {
	Prefix int
	Peer   types.Peer
}

// Table is the owner's local view of the overlay. At most one entry per
// prefix value; the owner itself never appears. Shared across connection
// goroutines, so every mutation happens under the lock.
type Table struct {
	owner   types.Peer
	entries []Entry
	mu      sync.Mutex
}

func NewTable(owner types.Peer) *Table {
	return &Table{owner: owner}
}

func (t *Table) Owner() types.Peer {
	return t.owner
}

// Insert places candidate into the slot for its shared-prefix length. A
// colliding slot is only taken over when the candidate is strictly closer
// to the owner by XOR distance, so re-inserting a present peer is a no-op
// and any insertion order converges on the closest peer per prefix.
func (t *Table) Insert(candidate types.Peer) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	if candidate.ID == t.owner.ID {
		return RejectedSelf
	}

	prefix := identity.CommonPrefixLength(t.owner.ID, candidate.ID)

	for i, entry := range t.entries {
		if entry.Prefix != prefix {
			continue
		}
		if identity.Closer(t.owner.ID, candidate.ID, entry.Peer.ID) {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			t.entries = append(t.entries, Entry{Prefix: prefix, Peer: candidate})
			return Replaced
		}
		return RejectedFurther
	}

	if len(t.entries) < MaxEntries {
		t.entries = append(t.entries, Entry{Prefix: prefix, Peer: candidate})
		return Inserted
	}

	return RejectedFull
}

// Merge inserts every peer in list order and returns the per-peer outcomes.
func (t *Table) Merge(peers []types.Peer) []Outcome {
	outcomes := make([]Outcome, 0, len(peers))
	for _, peer := range peers {
		outcomes = append(outcomes, t.Insert(peer))
	}
	return outcomes
}

// LookupByPort scans for an entry whose peer listens on port. Matching by
// port rather than ID is inherited behavior: peers sharing a port across
// different addresses are conflated.
func (t *Table) LookupByPort(port int) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.entries {
		if entry.Peer.Port == port {
			return entry, true
		}
	}
	return Entry{}, false
}

// Snapshot copies the current peers in table order.
func (t *Table) Snapshot() []types.Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	peers := make([]types.Peer, 0, len(t.entries))
	for _, entry := range t.entries {
		peers = append(peers, entry.Peer)
	}
	return peers
}

// Entries copies the current entries in table order.
func (t *Table) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]Entry, len(t.entries))
	copy(entries, t.entries)
	return entries
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
