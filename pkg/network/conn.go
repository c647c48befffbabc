// pkg/network/conn.go
package network

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/voidlane/Meshwire/pkg/discovery"
)

// StreamConn adapts a net.Conn to the discovery connection contract. Also
// used by the Tor transport, which produces plain net.Conn values from its
// SOCKS dialer.
type StreamConn struct {
	id   string
	conn net.Conn
	log  *logrus.Logger
}

func WrapConn(conn net.Conn, logger *logrus.Logger) *StreamConn {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StreamConn{
		id:   uuid.NewString(),
		conn: conn,
		log:  logger,
	}
}

// ID is the connection's trace identifier, present on all its log lines.
func (c *StreamConn) ID() string {
	return c.id
}

func (c *StreamConn) Send(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// CloseWrite half-closes the send side when the underlying connection
// supports it (TCP does; a SOCKS stream may not, in which case the remote
// end simply sees the eventual full close).
func (c *StreamConn) CloseWrite() error {
	if cw, ok := c.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (c *StreamConn) Close() error {
	return c.conn.Close()
}

func (c *StreamConn) RemoteAddress() (string, int) {
	return splitAddr(c.conn.RemoteAddr())
}

func (c *StreamConn) LocalPort() int {
	_, port := splitAddr(c.conn.LocalAddr())
	return port
}

func splitAddr(addr net.Addr) (string, int) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// Pump delivers the connection's events in order: every read as one data
// event, then exactly one close event when the peer closes or the read
// fails. Runs on the connection's own goroutine.
func Pump(c *StreamConn, h discovery.Handler) {
	buf := make([]byte, readBufSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.OnData(c, chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.log.WithError(err).WithField("conn", c.id).Debug("Connection read ended")
			}
			h.OnClose(c)
			c.conn.Close()
			return
		}
	}
}
