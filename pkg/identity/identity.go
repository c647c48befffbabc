// pkg/identity/identity.go
package identity

import (
	"crypto/sha1"
	"fmt"
	"math/bits"
	"math/rand"
	"sync/atomic"
	"time"
)

// IDBits is the width of a node identifier in bits.
const IDBits = 32

// NodeID is a 32-bit peer identifier derived from the peer's endpoint.
type NodeID uint32

// DeriveID hashes "<address>:<port>" with SHA-1 and keeps the first four
// bytes. Deterministic: the same endpoint always maps to the same ID.
func DeriveID(address string, port int) NodeID {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s:%d", address, port)))
	return NodeID(uint32(sum[0])<<24 | uint32(sum[1])<<16 | uint32(sum[2])<<8 | uint32(sum[3]))
}

// Bits renders the ID as a 32-character bit string, most significant bit
// first. Used for logging and distance comparisons in tests.
func (id NodeID) Bits() string {
	return fmt.Sprintf("%032b", uint32(id))
}

// CommonPrefixLength returns the number of leading bits a and b share,
// 0 through 32. Symmetric; CommonPrefixLength(a, a) == 32.
func CommonPrefixLength(a, b NodeID) int {
	return bits.LeadingZeros32(uint32(a) ^ uint32(b))
}

// Distance is the XOR distance between two IDs. Unsigned comparison of the
// result is equivalent to lexicographic comparison of the MSB-first bit
// strings; smaller means closer.
func Distance(a, b NodeID) uint32 {
	return uint32(a) ^ uint32(b)
}

// Closer reports whether a is strictly closer to ref than b is.
func Closer(ref, a, b NodeID) bool {
	return Distance(ref, a) < Distance(ref, b)
}

var sequence atomic.Uint64

// NextSequence returns a process-wide monotonic counter value, used only for
// diagnostics, never for protocol correctness.
func NextSequence() uint64 {
	return sequence.Add(1)
}

// Now returns the current timestamp for diagnostic records.
func Now() time.Time {
	return time.Now()
}

// RandomPort picks a random listen port above 3000.
func RandomPort() int {
	return 3001 + rand.Intn(62000)
}
