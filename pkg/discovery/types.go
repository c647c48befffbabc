// pkg/discovery/types.go
package discovery

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/voidlane/Meshwire/internal/store"
)

// Conn is one short-lived transport connection. The protocol never touches
// raw sockets; it sees connections only through this contract.
type Conn interface {
	// Send writes one encoded message.
	Send(data []byte) error
	// CloseWrite half-closes the send side, signalling the remote end
	// that no further data follows.
	CloseWrite() error
	Close() error
	// RemoteAddress is the observed remote endpoint.
	RemoteAddress() (string, int)
	// LocalPort is the local port this connection is bound to.
	LocalPort() int
}

// Handler receives a connection's asynchronous events. Within one
// connection, every data event is delivered before the close event and the
// close event is delivered exactly once; no ordering holds across
// connections.
type Handler interface {
	OnData(conn Conn, data []byte)
	OnClose(conn Conn)
}

// AcceptFunc is called once per accepted inbound connection and returns the
// handler that will receive its events.
type AcceptFunc func(Conn) Handler

// Transport is the raw socket collaborator.
type Transport interface {
	Listen(port int, accept AcceptFunc) error
	// Connect dials address:port. A localPort of 0 lets the transport
	// pick one; events are delivered to h on the connection's own
	// goroutine.
	Connect(address string, port, localPort int, h Handler) (Conn, error)
}

// DefaultFanoutDelay spaces the serial presence fan-out.
const DefaultFanoutDelay = 500 * time.Millisecond

type Config struct {
	// Name is this node's display name, sent in every announce.
	Name string
	// FanoutDelay overrides DefaultFanoutDelay when positive.
	FanoutDelay time.Duration
	Journal     *store.Journal
	Logger      *logrus.Logger
}
