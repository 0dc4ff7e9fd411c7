package peering

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"testing"
)

// writeFramed writes a raw length-prefixed message to the test side of
// a pipe.
func writeFramed(t *testing.T, conn net.Conn, id byte, payload []byte) {
	t.Helper()

	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(1+len(payload)))
	buf.WriteByte(id)
	buf.Write(payload)
	if _, err := conn.Write(buf.Bytes()); err != nil {
		t.Errorf("failed to write framed message: %v", err)
	}
}

func TestReadMessage(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	go writeFramed(t, remote, byte(MsgUnchoke), nil)

	msg, err := readMessage(local)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != MsgUnchoke || len(msg.Payload) != 0 {
		t.Errorf("got %s with %d payload bytes, want unchoke with none", msg.ID, len(msg.Payload))
	}
}

// A zero-length header is a keepalive; the reader must swallow it and
// deliver the next real message, so keepalive-then-bitfield behaves
// exactly like bitfield alone.
func TestReadMessageSkipsKeepalive(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	go func() {
		remote.Write([]byte{0, 0, 0, 0})
		writeFramed(t, remote, byte(MsgBitfield), []byte{0xff})
	}()

	msg, err := readMessage(local)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != MsgBitfield {
		t.Errorf("got %s, want bitfield", msg.ID)
	}
}

// Unknown ids are extension traffic: read, discarded, and never fatal.
func TestReadMessageSkipsUnknownID(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	go func() {
		writeFramed(t, remote, 20, []byte("extension payload"))
		writeFramed(t, remote, byte(MsgUnchoke), nil)
	}()

	msg, err := readMessage(local)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != MsgUnchoke {
		t.Errorf("got %s, want unchoke", msg.ID)
	}
}

// Choke, have, not-interested and cancel are legal wire traffic but
// play no part in the download state machine; they are discarded the
// same way extension messages are.
func TestReadMessageSkipsUnhandledIDs(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	go func() {
		writeFramed(t, remote, byte(MsgChoke), nil)
		writeFramed(t, remote, byte(MsgHave), []byte{0, 0, 0, 1})
		writeFramed(t, remote, byte(MsgNotInterested), nil)
		writeFramed(t, remote, byte(MsgCancel), encodeRequest(0, 0, 16384))
		writeFramed(t, remote, byte(MsgBitfield), []byte{0xff})
	}()

	msg, err := readMessage(local)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != MsgBitfield {
		t.Errorf("got %s, want bitfield", msg.ID)
	}
}

func TestReadMessageRejectsOversized(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	go func() {
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], 1<<20)
		remote.Write(header[:])
	}()

	_, err := readMessage(local)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("got %v, want ErrProtocol", err)
	}
}

func TestReadMessageTruncatedStream(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()

	go func() {
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], 10)
		remote.Write(header[:])
		remote.Write([]byte{byte(MsgPiece), 1, 2}) // 3 of the promised 10 bytes
		remote.Close()
	}()

	if _, err := readMessage(local); err == nil {
		t.Fatal("truncated message read succeeded, want error")
	}
}

func TestSendMessageFraming(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	done := make(chan error, 1)
	go func() {
		done <- sendMessage(local, MsgRequest, encodeRequest(1, 16384, 1024))
	}()

	read := make([]byte, 17)
	if _, err := remote.Read(read); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if got := binary.BigEndian.Uint32(read[0:4]); got != 13 {
		t.Errorf("length prefix = %d, want 13", got)
	}
	if read[4] != byte(MsgRequest) {
		t.Errorf("id byte = %d, want %d", read[4], MsgRequest)
	}
	if idx := binary.BigEndian.Uint32(read[5:9]); idx != 1 {
		t.Errorf("request index = %d, want 1", idx)
	}
	if begin := binary.BigEndian.Uint32(read[9:13]); begin != 16384 {
		t.Errorf("request begin = %d, want 16384", begin)
	}
	if length := binary.BigEndian.Uint32(read[13:17]); length != 1024 {
		t.Errorf("request length = %d, want 1024", length)
	}
}

func TestParsePiecePayload(t *testing.T) {
	payload := make([]byte, 8, 11)
	binary.BigEndian.PutUint32(payload[0:4], 3)
	binary.BigEndian.PutUint32(payload[4:8], 32768)
	payload = append(payload, 'a', 'b', 'c')

	index, begin, block, err := parsePiece(payload)
	if err != nil {
		t.Fatal(err)
	}
	if index != 3 || begin != 32768 || string(block) != "abc" {
		t.Errorf("parsePiece = %d, %d, %q", index, begin, block)
	}

	if _, _, _, err := parsePiece([]byte{1, 2, 3}); !errors.Is(err, ErrProtocol) {
		t.Errorf("short payload: got %v, want ErrProtocol", err)
	}
}
