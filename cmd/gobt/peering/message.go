package peering

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrProtocol marks handshake or message-sequence violations.
	ErrProtocol = errors.New("peer protocol violation")
	// ErrIntegrity marks a downloaded piece whose digest does not
	// match the metainfo.
	ErrIntegrity = errors.New("piece integrity mismatch")
)

type MessageID byte

const (
	MsgChoke MessageID = iota
	MsgUnchoke
	MsgInterested
	MsgNotInterested
	MsgHave
	MsgBitfield
	MsgRequest
	MsgPiece
	MsgCancel
)

func (id MessageID) String() string {
	switch id {
	case MsgChoke:
		return "choke"
	case MsgUnchoke:
		return "unchoke"
	case MsgInterested:
		return "interested"
	case MsgNotInterested:
		return "not interested"
	case MsgHave:
		return "have"
	case MsgBitfield:
		return "bitfield"
	case MsgRequest:
		return "request"
	case MsgPiece:
		return "piece"
	case MsgCancel:
		return "cancel"
	default:
		return fmt.Sprintf("unknown(%d)", byte(id))
	}
}

// recognized reports whether the download state machine consumes this
// id. Everything else on the wire (choke, have, not-interested,
// cancel, extension traffic) is discarded like a keepalive.
func (id MessageID) recognized() bool {
	switch id {
	case MsgUnchoke, MsgInterested, MsgBitfield, MsgRequest, MsgPiece:
		return true
	}
	return false
}

type Message struct {
	ID      MessageID
	Payload []byte
}

const ioTimeout = 30 * time.Second

// A block plus the piece message header, with slack for oversized
// bitfields. Anything longer is rejected before allocation.
const maxMessageLen = 1 << 17

// readMessage returns the next recognized message on the connection.
// Zero-length keepalives and messages with ids outside the recognized
// set are consumed and skipped, never surfaced to the caller.
func readMessage(conn net.Conn) (*Message, error) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(ioTimeout)); err != nil {
			return nil, err
		}

		var length uint32
		if err := binary.Read(conn, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("failed to read message length: %w", err)
		}
		if length == 0 {
			// keepalive
			continue
		}
		if length > maxMessageLen {
			return nil, fmt.Errorf("%w: message length %d exceeds limit", ErrProtocol, length)
		}

		header := make([]byte, 1)
		if _, err := io.ReadFull(conn, header); err != nil {
			return nil, fmt.Errorf("failed to read message id: %w", err)
		}

		payload := make([]byte, length-1)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return nil, fmt.Errorf("failed to read message payload: %w", err)
		}

		id := MessageID(header[0])
		if !id.recognized() {
			zap.L().Debug("Skipping unhandled message", zap.Stringer("id", id))
			continue
		}

		return &Message{ID: id, Payload: payload}, nil
	}
}

func sendMessage(conn net.Conn, id MessageID, payload []byte) error {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(1+len(payload)))
	buf.WriteByte(byte(id))
	buf.Write(payload)

	if err := conn.SetWriteDeadline(time.Now().Add(ioTimeout)); err != nil {
		return err
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send %s message: %w", id, err)
	}
	return nil
}

func encodeRequest(index, begin, length int) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return payload
}

func parsePiece(payload []byte) (index, begin int, block []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, nil, fmt.Errorf("%w: piece payload is %d bytes, want at least 8", ErrProtocol, len(payload))
	}
	index = int(binary.BigEndian.Uint32(payload[0:4]))
	begin = int(binary.BigEndian.Uint32(payload[4:8]))
	return index, begin, payload[8:], nil
}
