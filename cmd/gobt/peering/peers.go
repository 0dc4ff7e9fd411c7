package peering

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Peer is one reachable address from a tracker response.
type Peer struct {
	IP   net.IP
	Port uint16
}

func (p Peer) Addr() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

const compactPeerLen = 6

// ParsePeers decodes the compact tracker peer list: 6 bytes per peer,
// 4 for the IPv4 address and 2 for the big-endian port, in response
// order.
func ParsePeers(data []byte) ([]Peer, error) {
	if len(data)%compactPeerLen != 0 {
		return nil, fmt.Errorf("compact peer list is %d bytes, not a multiple of %d", len(data), compactPeerLen)
	}

	peers := make([]Peer, 0, len(data)/compactPeerLen)
	for i := 0; i < len(data); i += compactPeerLen {
		peers = append(peers, Peer{
			IP:   net.IPv4(data[i], data[i+1], data[i+2], data[i+3]),
			Port: binary.BigEndian.Uint16(data[i+4 : i+6]),
		})
	}
	return peers, nil
}
