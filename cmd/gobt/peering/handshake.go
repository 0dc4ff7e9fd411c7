package peering

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"net"
	"time"
)

const protocolName = "BitTorrent protocol"

// 1 length byte + protocol name + 8 reserved + info hash + peer id.
const handshakeLen = 1 + len(protocolName) + 8 + sha1.Size + 20

// Handshake holds the fields read back from the remote side of the
// fixed 68-byte exchange.
type Handshake struct {
	Protocol string
	InfoHash [sha1.Size]byte
	PeerID   [20]byte
}

// PerformHandshake runs the fixed-layout exchange on conn. The remote
// info hash must equal ours: a peer serving different content fails
// the connection with ErrProtocol.
func PerformHandshake(conn net.Conn, infoHash [sha1.Size]byte, peerID string) (*Handshake, error) {
	if len(peerID) != 20 {
		return nil, fmt.Errorf("peer id is %d bytes, want 20", len(peerID))
	}

	msg := make([]byte, 0, handshakeLen)
	msg = append(msg, byte(len(protocolName)))
	msg = append(msg, protocolName...)
	msg = append(msg, make([]byte, 8)...) // reserved, all zero
	msg = append(msg, infoHash[:]...)
	msg = append(msg, peerID...)

	if err := conn.SetWriteDeadline(time.Now().Add(ioTimeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(msg); err != nil {
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(ioTimeout)); err != nil {
		return nil, err
	}
	reply := make([]byte, handshakeLen)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return nil, fmt.Errorf("failed to receive handshake: %w", err)
	}

	if int(reply[0]) != len(protocolName) || string(reply[1:20]) != protocolName {
		return nil, fmt.Errorf("%w: unexpected protocol string %q", ErrProtocol, reply[1:20])
	}

	hs := &Handshake{Protocol: string(reply[1:20])}
	copy(hs.InfoHash[:], reply[28:48])
	copy(hs.PeerID[:], reply[48:68])

	if !bytes.Equal(hs.InfoHash[:], infoHash[:]) {
		return nil, fmt.Errorf("%w: info hash mismatch, peer has %x", ErrProtocol, hs.InfoHash)
	}

	return hs, nil
}
