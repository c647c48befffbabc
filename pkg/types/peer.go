// pkg/types/peer.go
package types

import (
	"fmt"

	"github.com/voidlane/Meshwire/pkg/identity"
)

// Peer is one known node in the overlay. The ID is always derived from the
// endpoint, never transmitted; Name may stay empty until a handshake
// supplies it.
type Peer struct {
	Name    string
	Address string
	Port    int
	ID      identity.NodeID
}

// NewPeer builds a Peer for an endpoint, deriving its ID. Two peers with the
// same (address, port) always carry the same ID.
func NewPeer(name, address string, port int) Peer {
	return Peer{
		Name:    name,
		Address: address,
		Port:    port,
		ID:      identity.DeriveID(address, port),
	}
}

// Endpoint returns the peer's "<address>:<port>" form.
func (p Peer) Endpoint() string {
	return fmt.Sprintf("%s:%d", p.Address, p.Port)
}

func (p Peer) String() string {
	if p.Name == "" {
		return p.Endpoint()
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.Endpoint())
}
