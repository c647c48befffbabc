// pkg/discovery/protocol.go
package discovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/voidlane/Meshwire/internal/store"
	"github.com/voidlane/Meshwire/pkg/dht"
	"github.com/voidlane/Meshwire/pkg/identity"
	"github.com/voidlane/Meshwire/pkg/types"
	"github.com/voidlane/Meshwire/pkg/wire"
)

// Protocol drives peer discovery over short-lived connections. A node plays
// the listener role for every accepted connection and, while joining, the
// initiator role on its one outbound bootstrap connection. Both roles share
// the routing table; all mutation goes through its insert/merge lock.
type Protocol struct {
	table     *dht.Table
	transport Transport
	name      string
	delay     time.Duration
	journal   *store.Journal
	log       *logrus.Logger

	mu        sync.Mutex
	listening bool
}

func New(table *dht.Table, transport Transport, cfg Config) *Protocol {
	delay := cfg.FanoutDelay
	if delay <= 0 {
		delay = DefaultFanoutDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Protocol{
		table:     table,
		transport: transport,
		name:      cfg.Name,
		delay:     delay,
		journal:   cfg.Journal,
		log:       logger,
	}
}

// Listen starts the listener role on port. Safe to call again once
// listening; later calls are no-ops so the initiator path can promote
// itself without tracking state.
func (p *Protocol) Listen(port int) error {
	p.mu.Lock()
	if p.listening {
		p.mu.Unlock()
		return nil
	}
	p.listening = true
	p.mu.Unlock()

	if err := p.transport.Listen(port, p.accept); err != nil {
		p.mu.Lock()
		p.listening = false
		p.mu.Unlock()
		return fmt.Errorf("discovery listen failed: %w", err)
	}
	p.log.WithField("port", port).Info("Listening for peers")
	return nil
}

// Join connects to a bootstrap peer as the initiator. localPort is the port
// this node will later listen on; the transport binds the outbound
// connection to it so the bootstrap peer observes the right endpoint.
func (p *Protocol) Join(address string, port, localPort int) error {
	session := &initiatorSession{proto: p}
	if _, err := p.transport.Connect(address, port, localPort, session); err != nil {
		return fmt.Errorf("bootstrap connect to %s:%d failed: %w", address, port, err)
	}
	return nil
}

// accept runs the listener role's greeting: announce the local table with a
// JOIN_ANNOUNCE, then half-close so the remote end sees a clean EOF.
func (p *Protocol) accept(conn Conn) Handler {
	addr, port := conn.RemoteAddress()
	p.log.WithField("remote", fmt.Sprintf("%s:%d", addr, port)).Info("Accepted connection")

	data, err := wire.Encode(wire.JoinAnnounce, p.name, p.table.Snapshot())
	if err != nil {
		p.log.WithError(err).Error("Failed to encode join announce")
	} else if err := conn.Send(data); err != nil {
		p.log.WithError(err).Warn("Failed to send join announce")
	} else if err := conn.CloseWrite(); err != nil {
		p.log.WithError(err).Warn("Failed to half-close after join announce")
	}

	return &listenerSession{proto: p}
}

// decodeEvent turns one raw data event into a message. Truncated buffers
// are reported and dropped without tearing the connection down; an
// unsupported type is reported here but still returned, since a received
// message of any type counts as "heard from" at close time.
func (p *Protocol) decodeEvent(data []byte, remote string) *wire.Message {
	msg, err := wire.Decode(data)
	if err != nil {
		p.log.WithError(err).WithField("remote", remote).Warn("Undecodable announce")
		return nil
	}
	if !msg.Type.Supported() {
		p.log.WithFields(logrus.Fields{
			"remote": remote,
			"type":   msg.Type.String(),
		}).Warn("Unsupported message type")
	}
	return msg
}

func (p *Protocol) insertAndLog(peer types.Peer) dht.Outcome {
	outcome := p.table.Insert(peer)
	p.log.WithFields(logrus.Fields{
		"peer":    peer.String(),
		"prefix":  identity.CommonPrefixLength(p.table.Owner().ID, peer.ID),
		"outcome": outcome.String(),
	}).Info("Routing table decision")
	return outcome
}

func (p *Protocol) mergePeerList(peers []types.Peer) {
	for i, outcome := range p.table.Merge(peers) {
		p.log.WithFields(logrus.Fields{
			"peer":    peers[i].String(),
			"outcome": outcome.String(),
		}).Debug("Merged announced peer")
	}
}

func (p *Protocol) record(direction, msgType, remote, outcome string) {
	if p.journal == nil {
		return
	}
	p.journal.Append(store.Record{
		Time:      identity.Now(),
		Seq:       identity.NextSequence(),
		Direction: direction,
		Type:      msgType,
		Remote:    remote,
		Outcome:   outcome,
	})
}

// listenerSession tracks one accepted connection. Only the most recent
// decodable message is kept; the table is touched only once the connection
// closes. Events for one connection are strictly ordered, so no lock.
type listenerSession struct {
	proto *Protocol
	last  *wire.Message
}

func (s *listenerSession) OnData(conn Conn, data []byte) {
	addr, port := conn.RemoteAddress()
	if msg := s.proto.decodeEvent(data, fmt.Sprintf("%s:%d", addr, port)); msg != nil {
		s.last = msg
	}
}

func (s *listenerSession) OnClose(conn Conn) {
	p := s.proto
	addr, port := conn.RemoteAddress()
	remote := fmt.Sprintf("%s:%d", addr, port)

	if s.last == nil {
		// Silent caller: remember the bare endpoint with no name.
		peer := types.NewPeer("", addr, port)
		outcome := p.insertAndLog(peer)
		p.record("inbound", "none", remote, outcome.String())
		return
	}

	switch s.last.Type {
	case wire.PresenceAnnounce:
		sender := types.NewPeer(s.last.SenderName, addr, port)
		outcome := p.insertAndLog(sender)
		p.mergePeerList(s.last.Peers)
		p.record("inbound", wire.PresenceAnnounce.String(), remote, outcome.String())
	case wire.JoinAnnounce:
		// Join announces only drive merges on the initiator path.
		p.log.WithField("remote", remote).Debug("Join announce on inbound path ignored")
		p.record("inbound", wire.JoinAnnounce.String(), remote, "ignored")
	default:
		p.record("inbound", s.last.Type.String(), remote, "unsupported")
	}
}

// initiatorSession is the one outbound bootstrap connection. On the
// bootstrap peer's JOIN_ANNOUNCE it promotes this node to a listener and
// absorbs the announced table; when the bootstrap peer half-closes, it
// fans the node's presence out to everyone it now knows.
type initiatorSession struct {
	proto  *Protocol
	joined bool
}

func (s *initiatorSession) OnData(conn Conn, data []byte) {
	p := s.proto
	addr, port := conn.RemoteAddress()
	remote := fmt.Sprintf("%s:%d", addr, port)

	msg := p.decodeEvent(data, remote)
	if msg == nil {
		return
	}
	if msg.Type != wire.JoinAnnounce {
		p.log.WithFields(logrus.Fields{
			"remote": remote,
			"type":   msg.Type.String(),
		}).Debug("Announce ignored on outbound path")
		return
	}
	if s.joined {
		return
	}
	s.joined = true

	p.log.WithFields(logrus.Fields{
		"remote": remote,
		"name":   msg.SenderName,
	}).Info("Joined overlay via bootstrap peer")

	// Reachable from now on: accept inbound connections on the port the
	// bootstrap peer saw us dial from.
	if err := p.Listen(conn.LocalPort()); err != nil {
		p.log.WithError(err).Error("Failed to start listening after join")
	}

	sender := types.NewPeer(msg.SenderName, addr, port)
	outcome := p.insertAndLog(sender)
	p.mergePeerList(msg.Peers)
	p.record("inbound", wire.JoinAnnounce.String(), remote, outcome.String())
}

func (s *initiatorSession) OnClose(conn Conn) {
	if s.joined {
		s.proto.fanout()
	}
}

// fanout announces presence to every table entry, one connection at a time
// with a fixed delay between attempts. The serial pacing is a deliberate
// throttle; a failed target never aborts the rest.
func (p *Protocol) fanout() {
	targets := p.table.Snapshot()
	p.log.WithField("targets", len(targets)).Info("Announcing presence")

	for _, target := range targets {
		conn := p.announceTo(target)
		time.Sleep(p.delay)
		if conn != nil {
			conn.Close()
		}
	}
}

func (p *Protocol) announceTo(target types.Peer) Conn {
	conn, err := p.transport.Connect(target.Address, target.Port, 0, fanoutSink{})
	if err != nil {
		p.log.WithError(err).WithField("peer", target.String()).Warn("Fan-out connect failed")
		p.record("outbound", wire.PresenceAnnounce.String(), target.Endpoint(), "connect-failed")
		return nil
	}

	data, err := wire.Encode(wire.PresenceAnnounce, p.name, p.table.Snapshot())
	if err != nil {
		p.log.WithError(err).WithField("peer", target.String()).Error("Failed to encode presence announce")
		return conn
	}
	if err := conn.Send(data); err != nil {
		p.log.WithError(err).WithField("peer", target.String()).Warn("Failed to send presence announce")
		p.record("outbound", wire.PresenceAnnounce.String(), target.Endpoint(), "send-failed")
		return conn
	}

	p.record("outbound", wire.PresenceAnnounce.String(), target.Endpoint(), "sent")
	return conn
}

// fanoutSink discards events on fan-out connections; the target's greeting
// carries nothing this node needs.
type fanoutSink struct{}

func (fanoutSink) OnData(Conn, []byte) {}
func (fanoutSink) OnClose(Conn)        {}
