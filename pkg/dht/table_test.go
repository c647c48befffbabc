// pkg/dht/table_test.go
package dht

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/voidlane/Meshwire/pkg/identity"
	"github.com/voidlane/Meshwire/pkg/types"
)

// peerWithID crafts a peer with a chosen ID so prefix collisions can be
// arranged deterministically. Ports are kept unique per ID for lookups.
func peerWithID(id identity.NodeID) types.Peer {
	return types.Peer{
		Name:    fmt.Sprintf("peer-%08x", uint32(id)),
		Address: "127.0.0.1",
		Port:    int(3001 + id%60000),
		ID:      id,
	}
}

func TestInsertSelfIsNoOp(t *testing.T) {
	owner := peerWithID(0x00000001)
	table := NewTable(owner)

	require.Equal(t, RejectedSelf, table.Insert(owner))
	require.Equal(t, 0, table.Len())

	// Same ID under a different name is still self.
	imposter := owner
	imposter.Name = "imposter"
	require.Equal(t, RejectedSelf, table.Insert(imposter))
	require.Equal(t, 0, table.Len())
}

func TestInsertIdempotent(t *testing.T) {
	table := NewTable(peerWithID(0))
	peer := peerWithID(0x0000000c)

	require.Equal(t, Inserted, table.Insert(peer))
	before := table.Entries()

	// Distance tie with itself: rejected, no churn.
	require.Equal(t, RejectedFurther, table.Insert(peer))
	require.Equal(t, before, table.Entries())
}

func TestInsertReplacesWithCloser(t *testing.T) {
	table := NewTable(peerWithID(0))

	// IDs 8..15 all share prefix 28 with owner 0; distance equals value.
	far := peerWithID(0x0000000f)
	near := peerWithID(0x00000009)

	require.Equal(t, Inserted, table.Insert(far))
	require.Equal(t, Replaced, table.Insert(near))
	require.Equal(t, 1, table.Len())
	require.Equal(t, near.ID, table.Snapshot()[0].ID)

	// The farther peer can never displace the closer occupant.
	require.Equal(t, RejectedFurther, table.Insert(far))
	require.Equal(t, near.ID, table.Snapshot()[0].ID)
}

func TestClosestWinsAnyOrder(t *testing.T) {
	// Three peers sharing prefix 28 with owner 0; 9 is closest.
	peers := []types.Peer{peerWithID(9), peerWithID(12), peerWithID(15)}
	orders := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	for _, order := range orders {
		table := NewTable(peerWithID(0))
		for _, i := range order {
			table.Insert(peers[i])
		}
		require.Equal(t, 1, table.Len(), "order %v", order)
		require.Equal(t, identity.NodeID(9), table.Snapshot()[0].ID, "order %v", order)
	}
}

func TestAdjacentIDsCollideOnPrefix(t *testing.T) {
	// Owner 1: IDs 2 and 3 both share prefix 30. 1^3 == 2 and 1^2 == 3,
	// so 3 is the closer of the two and survives either order.
	owner := peerWithID(0x00000001)
	a := peerWithID(0x00000002)
	b := peerWithID(0x00000003)

	require.Equal(t, 30, identity.CommonPrefixLength(owner.ID, a.ID))
	require.Equal(t, 30, identity.CommonPrefixLength(owner.ID, b.ID))

	table := NewTable(owner)
	table.Insert(a)
	table.Insert(b)
	require.Equal(t, b.ID, table.Snapshot()[0].ID)

	table = NewTable(owner)
	table.Insert(b)
	table.Insert(a)
	require.Equal(t, 1, table.Len())
	require.Equal(t, b.ID, table.Snapshot()[0].ID)
}

func TestCapacity(t *testing.T) {
	table := NewTable(peerWithID(0))

	// 0x80000000 >> i shares exactly i leading bits with owner 0, so the
	// 32 possible prefixes (0..31) all fill with distinct peers.
	for i := 0; i < 32; i++ {
		outcome := table.Insert(peerWithID(0x80000000 >> i))
		require.Equal(t, Inserted, outcome, "prefix %d", i)
	}
	require.Equal(t, MaxEntries, table.Len())

	// Every further candidate collides with an occupied prefix; the table
	// never grows past capacity.
	extra := table.Insert(peerWithID(0x00000003))
	require.False(t, extra.Accepted() && table.Len() > MaxEntries)
	require.Equal(t, MaxEntries, table.Len())
}

func TestMergeOrderIndependent(t *testing.T) {
	peers := []types.Peer{peerWithID(9), peerWithID(12), peerWithID(15), peerWithID(0x80000001)}

	forward := NewTable(peerWithID(0))
	forward.Merge(peers)

	backward := NewTable(peerWithID(0))
	backward.Merge([]types.Peer{peers[3], peers[2], peers[1], peers[0]})

	require.Equal(t, forward.Len(), backward.Len())
	require.ElementsMatch(t, forward.Snapshot(), backward.Snapshot())
}

func TestMergeOutcomes(t *testing.T) {
	table := NewTable(peerWithID(0))
	outcomes := table.Merge([]types.Peer{peerWithID(15), peerWithID(9), peerWithID(15)})
	require.Equal(t, []Outcome{Inserted, Replaced, RejectedFurther}, outcomes)
}

func TestLookupByPort(t *testing.T) {
	table := NewTable(types.NewPeer("owner", "127.0.0.1", 4000))
	peer := types.NewPeer("target", "127.0.0.1", 4100)
	table.Insert(peer)
	table.Insert(types.NewPeer("", "127.0.0.1", 4200))

	entry, ok := table.LookupByPort(4100)
	require.True(t, ok)
	require.Equal(t, peer.ID, entry.Peer.ID)

	_, ok = table.LookupByPort(9999)
	require.False(t, ok)
}

func TestSnapshotOrderFollowsInsertion(t *testing.T) {
	table := NewTable(peerWithID(0))
	first := peerWithID(0x80000000)  // prefix 0
	second := peerWithID(0x40000000) // prefix 1
	third := peerWithID(0x0000000f)  // prefix 28

	table.Insert(first)
	table.Insert(second)
	table.Insert(third)

	snap := table.Snapshot()
	require.Equal(t, []identity.NodeID{first.ID, second.ID, third.ID},
		[]identity.NodeID{snap[0].ID, snap[1].ID, snap[2].ID})

	// Replacement re-appends at the tail.
	closer := peerWithID(0x00000009)
	require.Equal(t, Replaced, table.Insert(closer))
	snap = table.Snapshot()
	require.Equal(t, closer.ID, snap[len(snap)-1].ID)
}

func TestConcurrentInsertsKeepInvariants(t *testing.T) {
	table := NewTable(peerWithID(0))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := identity.NodeID(8); i < 16; i++ {
				table.Insert(peerWithID(i))
			}
		}()
	}
	wg.Wait()

	// All contenders shared prefix 28: exactly one survivor, the closest.
	require.Equal(t, 1, table.Len())
	require.Equal(t, identity.NodeID(8), table.Snapshot()[0].ID)

	seen := make(map[int]bool)
	for _, entry := range table.Entries() {
		require.False(t, seen[entry.Prefix], "duplicate prefix %d", entry.Prefix)
		seen[entry.Prefix] = true
	}
}
