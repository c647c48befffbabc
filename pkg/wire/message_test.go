// pkg/wire/message_test.go
package wire

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/voidlane/Meshwire/pkg/identity"
	"github.com/voidlane/Meshwire/pkg/types"
)

func TestEncodeHeaderPacking(t *testing.T) {
	data, err := Encode(JoinAnnounce, "ab", nil)
	require.NoError(t, err)

	// version=9 (4 bits), msgType=1 (7 bits), numPeers=0 (9 bits),
	// nameSize=2 (12 bits) -> 0x90200002, then the two name bytes.
	require.Equal(t, []byte{0x90, 0x20, 0x00, 0x02, 'a', 'b'}, data)
}

func TestEncodeHeaderPackingWithPeers(t *testing.T) {
	peers := []types.Peer{
		types.NewPeer("", "192.168.1.10", 4040),
		types.NewPeer("", "10.0.0.1", 65535),
	}
	data, err := Encode(PresenceAnnounce, "x", peers)
	require.NoError(t, err)

	// 9<<28 | 2<<21 | 2<<12 | 1 == 0x90402001
	require.Equal(t, []byte{0x90, 0x40, 0x20, 0x01}, data[:4])
	require.Len(t, data, 4+1+2*8)

	require.Equal(t, []byte{192, 168, 1, 10, 0x0f, 0xc8, 0, 0}, data[5:13])
	require.Equal(t, []byte{10, 0, 0, 1, 0xff, 0xff, 0, 0}, data[13:21])
}

func TestRoundTrip(t *testing.T) {
	peers := []types.Peer{
		types.NewPeer("", "127.0.0.1", 4041),
		types.NewPeer("", "192.168.0.2", 3001),
		types.NewPeer("", "8.8.8.8", 53),
	}

	data, err := Encode(PresenceAnnounce, "node-seven", peers)
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)

	require.Equal(t, uint8(Version), msg.Version)
	require.Equal(t, PresenceAnnounce, msg.Type)
	require.Equal(t, "node-seven", msg.SenderName)
	require.Len(t, msg.Peers, len(peers))
	for i, peer := range msg.Peers {
		require.Equal(t, peers[i].Address, peer.Address)
		require.Equal(t, peers[i].Port, peer.Port)
	}
}

func TestRoundTripEmpty(t *testing.T) {
	data, err := Encode(JoinAnnounce, "", nil)
	require.NoError(t, err)
	require.Len(t, data, 4)

	msg, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, JoinAnnounce, msg.Type)
	require.Empty(t, msg.SenderName)
	require.Empty(t, msg.Peers)
}

func TestDecodeDerivesPeerIDs(t *testing.T) {
	data, err := Encode(JoinAnnounce, "seed", []types.Peer{types.NewPeer("", "10.9.8.7", 6000)})
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, identity.DeriveID("10.9.8.7", 6000), msg.Peers[0].ID)
	require.Empty(t, msg.Peers[0].Name, "names are never carried per peer")
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	data, err := Encode(PresenceAnnounce, "tail", []types.Peer{types.NewPeer("", "1.2.3.4", 80)})
	require.NoError(t, err)

	msg, err := Decode(append(data, 0xde, 0xad, 0xbe, 0xef))
	require.NoError(t, err)
	require.Equal(t, "tail", msg.SenderName)
	require.Len(t, msg.Peers, 1)
}

func TestDecodeTruncated(t *testing.T) {
	data, err := Encode(PresenceAnnounce, "victim", []types.Peer{
		types.NewPeer("", "1.2.3.4", 80),
		types.NewPeer("", "5.6.7.8", 81),
	})
	require.NoError(t, err)

	for cut := 1; cut < len(data); cut++ {
		_, err := Decode(data[:cut])
		require.Error(t, err, "cut at %d bytes", cut)
		require.ErrorIs(t, err, ErrTruncatedMessage)
	}

	_, err = Decode(nil)
	require.ErrorIs(t, err, ErrTruncatedMessage)
}

func TestDecodeUnsupportedTypeStructurally(t *testing.T) {
	// Type 5 is not defined; decode must still succeed and report the
	// value so the protocol layer can log it.
	header := []byte{0x90, 0xa0, 0x00, 0x00} // version 9, msgType 5, 0 peers, 0 name
	msg, err := Decode(header)
	require.NoError(t, err)
	require.Equal(t, MessageType(5), msg.Type)
	require.False(t, msg.Type.Supported())
}

func TestEncodeRejectsOversizedName(t *testing.T) {
	long := make([]byte, maxNameSize+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := Encode(JoinAnnounce, string(long), nil)
	require.Error(t, err)
}

func TestEncodeRejectsNonIPv4Peer(t *testing.T) {
	_, err := Encode(JoinAnnounce, "n", []types.Peer{{Address: "not-an-ip", Port: 1}})
	require.Error(t, err)
}

func TestNameMaxBoundary(t *testing.T) {
	name := make([]byte, maxNameSize)
	for i := range name {
		name[i] = byte('a' + i%26)
	}
	data, err := Encode(JoinAnnounce, string(name), nil)
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, string(name), msg.SenderName)
}

func TestRoundTripManyPeers(t *testing.T) {
	peers := make([]types.Peer, 0, 40)
	for i := 0; i < 40; i++ {
		peers = append(peers, types.NewPeer("", fmt.Sprintf("10.0.%d.%d", i/250, i%250+1), 3001+i))
	}
	data, err := Encode(PresenceAnnounce, "dense", peers)
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, msg.Peers, 40)
	for i, peer := range msg.Peers {
		require.Equal(t, peers[i].Port, peer.Port)
	}
}

func TestHeaderAloneTruncated(t *testing.T) {
	_, err := Decode([]byte{0x90})
	require.True(t, errors.Is(err, ErrTruncatedMessage))
}
