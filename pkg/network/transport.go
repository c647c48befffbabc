// pkg/network/transport.go
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/voidlane/Meshwire/pkg/discovery"
)

// Transport is the TCP implementation of the discovery transport contract:
// a listener with an accept loop and dialed short-lived connections, one
// goroutine per connection.
type Transport struct {
	log      *logrus.Logger
	mu       sync.Mutex
	listener net.Listener
}

func NewTransport(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transport{log: logger}
}

func (t *Transport) Listen(port int, accept discovery.AcceptFunc) error {
	lc := net.ListenConfig{Control: reusePort}
	listener, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on port %d failed: %w", port, err)
	}

	t.mu.Lock()
	t.listener = listener
	t.mu.Unlock()

	go t.acceptLoop(listener, accept)
	return nil
}

func (t *Transport) acceptLoop(listener net.Listener, accept discovery.AcceptFunc) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.WithError(err).Warn("Failed to accept connection")
			continue
		}

		sc := WrapConn(conn, t.log)
		t.log.WithFields(logrus.Fields{
			"conn":   sc.ID(),
			"remote": conn.RemoteAddr().String(),
		}).Debug("Inbound connection")

		// The accept callback runs here so its greeting is on the wire
		// before the pump starts delivering events.
		go Pump(sc, accept(sc))
	}
}

func (t *Transport) Connect(address string, port, localPort int, h discovery.Handler) (discovery.Conn, error) {
	dialer := net.Dialer{Timeout: connTimeout, Control: reusePort}
	if localPort > 0 {
		// Bind the source port the caller will listen on afterwards;
		// reusePort lets the listener share it while this connection
		// is still open.
		dialer.LocalAddr = &net.TCPAddr{Port: localPort}
	}

	conn, err := dialer.Dial("tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	sc := WrapConn(conn, t.log)
	t.log.WithFields(logrus.Fields{
		"conn":   sc.ID(),
		"remote": conn.RemoteAddr().String(),
	}).Debug("Outbound connection")

	go Pump(sc, h)
	return sc, nil
}

// Stop closes the listener; connections already accepted keep running.
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener == nil {
		return nil
	}
	err := t.listener.Close()
	t.listener = nil
	return err
}
