package peering

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"io"
	"net"
	"testing"
)

func testInfoHash() [sha1.Size]byte {
	return sha1.Sum([]byte("test content"))
}

// fakeHandshakePeer reads our 68 bytes and answers with the given
// info hash and peer id.
func fakeHandshakePeer(t *testing.T, conn net.Conn, infoHash [sha1.Size]byte, peerID string) {
	t.Helper()

	request := make([]byte, handshakeLen)
	if _, err := io.ReadFull(conn, request); err != nil {
		t.Errorf("fake peer failed to read handshake: %v", err)
		return
	}

	if request[0] != byte(len(protocolName)) || string(request[1:20]) != protocolName {
		t.Errorf("fake peer got protocol %q", request[1:20])
	}
	if !bytes.Equal(request[20:28], make([]byte, 8)) {
		t.Errorf("reserved bytes not zero: %x", request[20:28])
	}

	reply := make([]byte, 0, handshakeLen)
	reply = append(reply, byte(len(protocolName)))
	reply = append(reply, protocolName...)
	reply = append(reply, make([]byte, 8)...)
	reply = append(reply, infoHash[:]...)
	reply = append(reply, peerID...)
	if _, err := conn.Write(reply); err != nil {
		t.Errorf("fake peer failed to write handshake: %v", err)
	}
}

func TestPerformHandshake(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	hash := testInfoHash()
	go fakeHandshakePeer(t, remote, hash, "-RM0001-aaaaaaaaaaaa")

	hs, err := PerformHandshake(local, hash, "-GB0001-bbbbbbbbbbbb")
	if err != nil {
		t.Fatal(err)
	}

	if hs.Protocol != protocolName {
		t.Errorf("protocol = %q", hs.Protocol)
	}
	if hs.InfoHash != hash {
		t.Errorf("info hash = %x", hs.InfoHash)
	}
	if string(hs.PeerID[:]) != "-RM0001-aaaaaaaaaaaa" {
		t.Errorf("peer id = %q", hs.PeerID)
	}
}

// A peer announcing a different content identifier is rejected, not
// merely observed.
func TestPerformHandshakeRejectsWrongInfoHash(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	go fakeHandshakePeer(t, remote, sha1.Sum([]byte("other content")), "-RM0001-aaaaaaaaaaaa")

	_, err := PerformHandshake(local, testInfoHash(), "-GB0001-bbbbbbbbbbbb")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("got %v, want ErrProtocol", err)
	}
}

func TestPerformHandshakeRejectsWrongProtocol(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	go func() {
		request := make([]byte, handshakeLen)
		io.ReadFull(remote, request)

		reply := make([]byte, handshakeLen)
		copy(reply, []byte("\x13BitTorrent protocoX"))
		remote.Write(reply)
	}()

	_, err := PerformHandshake(local, testInfoHash(), "-GB0001-bbbbbbbbbbbb")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("got %v, want ErrProtocol", err)
	}
}

func TestPerformHandshakeShortStream(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()

	go func() {
		request := make([]byte, handshakeLen)
		io.ReadFull(remote, request)
		remote.Write([]byte{19}) // then hang up
		remote.Close()
	}()

	if _, err := PerformHandshake(local, testInfoHash(), "-GB0001-bbbbbbbbbbbb"); err == nil {
		t.Fatal("handshake against a closed stream succeeded")
	}
}

func TestPerformHandshakeRejectsBadPeerID(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	if _, err := PerformHandshake(local, testInfoHash(), "short"); err == nil {
		t.Fatal("5-byte peer id accepted")
	}
}
