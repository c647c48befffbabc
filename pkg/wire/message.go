// pkg/wire/message.go
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/voidlane/Meshwire/pkg/types"
)

// Version is the protocol version stamped into every header. It is carried
// for information only; decoders never validate it.
const Version = 9

const (
	headerSize    = 4
	peerEntrySize = 8
	maxPeers      = 1<<9 - 1  // 9-bit field
	maxNameSize   = 1<<12 - 1 // 12-bit field
)

type MessageType uint8

const (
	JoinAnnounce     MessageType = 1
	PresenceAnnounce MessageType = 2
)

// Supported reports whether the discovery protocol defines a handler for
// this type. Decoding still succeeds structurally for unsupported values.
func (t MessageType) Supported() bool {
	return t == JoinAnnounce || t == PresenceAnnounce
}

func (t MessageType) String() string {
	switch t {
	case JoinAnnounce:
		return "JOIN_ANNOUNCE"
	case PresenceAnnounce:
		return "PRESENCE_ANNOUNCE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

var (
	// ErrTruncatedMessage means the buffer is shorter than the sizes its
	// own header declares. The caller decides whether to drop the
	// connection; the codec never does.
	ErrTruncatedMessage = errors.New("wire: truncated message")
)

// Message is the decoded form of one announce. Constructed fresh for every
// send and every receive, never persisted.
type Message struct {
	Version    uint8
	Type       MessageType
	SenderName string
	Peers      []types.Peer
}

// Encode packs a message into the wire form: a 4-byte bit-packed header
// (version:4, msgType:7, numPeers:9, nameSize:12, MSB first), the encoded
// sender name, then one 8-byte entry per peer (4 IP octets, big-endian
// port, 2 reserved zero bytes) in the order given.
func Encode(msgType MessageType, senderName string, peers []types.Peer) ([]byte, error) {
	name := encodeName(senderName)
	if len(name) > maxNameSize {
		return nil, fmt.Errorf("wire: encoded sender name is %d bytes, max %d", len(name), maxNameSize)
	}
	if len(peers) > maxPeers {
		return nil, fmt.Errorf("wire: %d peers exceed the %d entry limit", len(peers), maxPeers)
	}

	header := uint32(Version)<<28 | uint32(msgType)<<21 | uint32(len(peers))<<12 | uint32(len(name))

	buf := new(bytes.Buffer)
	buf.Grow(headerSize + len(name) + len(peers)*peerEntrySize)
	if err := binary.Write(buf, binary.BigEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	buf.Write(name)

	for _, peer := range peers {
		ip := net.ParseIP(peer.Address)
		if ip != nil {
			ip = ip.To4()
		}
		if ip == nil {
			return nil, fmt.Errorf("wire: peer %s has no IPv4 address", peer.Endpoint())
		}
		buf.Write(ip)
		if err := binary.Write(buf, binary.BigEndian, uint16(peer.Port)); err != nil {
			return nil, fmt.Errorf("failed to write peer port: %w", err)
		}
		buf.Write([]byte{0, 0}) // reserved
	}

	return buf.Bytes(), nil
}

// Decode is the inverse of Encode. Each peer's ID is re-derived from its
// (ip, port); IDs never travel on the wire. Trailing bytes beyond the
// header-declared sizes are ignored; a buffer shorter than those sizes
// fails with ErrTruncatedMessage.
func Decode(data []byte) (*Message, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes, need %d for header", ErrTruncatedMessage, len(data), headerSize)
	}

	header := binary.BigEndian.Uint32(data)
	msg := &Message{
		Version: uint8(header >> 28),
		Type:    MessageType(header >> 21 & 0x7f),
	}
	numPeers := int(header >> 12 & 0x1ff)
	nameSize := int(header & 0xfff)

	need := headerSize + nameSize + numPeers*peerEntrySize
	if len(data) < need {
		return nil, fmt.Errorf("%w: %d bytes, header declares %d", ErrTruncatedMessage, len(data), need)
	}

	msg.SenderName = decodeName(data[headerSize : headerSize+nameSize])

	msg.Peers = make([]types.Peer, 0, numPeers)
	for i := 0; i < numPeers; i++ {
		entry := data[headerSize+nameSize+i*peerEntrySize:]
		address := net.IPv4(entry[0], entry[1], entry[2], entry[3]).String()
		port := int(binary.BigEndian.Uint16(entry[4:6]))
		// entry[6:8] reserved, discarded
		msg.Peers = append(msg.Peers, types.NewPeer("", address, port))
	}

	return msg, nil
}

// encodeName writes each character code as its minimal big-endian byte
// sequence. Printable single-byte characters round-trip exactly; NUL and
// multi-byte code points do not (known protocol limitation).
func encodeName(name string) []byte {
	out := make([]byte, 0, len(name))
	for _, r := range name {
		code := uint32(r)
		switch {
		case code < 1<<8:
			out = append(out, byte(code))
		case code < 1<<16:
			out = append(out, byte(code>>8), byte(code))
		case code < 1<<24:
			out = append(out, byte(code>>16), byte(code>>8), byte(code))
		default:
			out = append(out, byte(code>>24), byte(code>>16), byte(code>>8), byte(code))
		}
	}
	return out
}

// decodeName treats every non-zero byte as one character and skips zero
// bytes, mirroring the encoder's limitation.
func decodeName(raw []byte) string {
	var sb strings.Builder
	for _, b := range raw {
		if b == 0 {
			continue
		}
		sb.WriteRune(rune(b))
	}
	return sb.String()
}
