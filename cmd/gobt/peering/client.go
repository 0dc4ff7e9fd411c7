// Package peering talks to trackers and peers: discovery, the wire
// handshake, message framing and the piece-download state machine.
package peering

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"gobt/cmd/gobt/metainfo"
)

// BlockSize is the transfer unit requested from a peer. Clients in the
// wild use 16 KiB and drop peers that ask for more.
const BlockSize = 16 * 1024

// Connection owns one peer socket. It copies the descriptor it needs
// by value, so the metainfo that spawned it can be dropped. One
// request is in flight at a time; message boundaries are strictly
// request/response paired.
type Connection struct {
	conn   net.Conn
	info   metainfo.Info
	peerID [20]byte // remote
	ready  bool     // bitfield/interested/unchoke exchange done
}

// Connect dials the peer, performs the handshake and returns a
// connection ready for piece downloads.
func Connect(peer Peer, info metainfo.Info, localPeerID string) (*Connection, error) {
	conn, err := net.DialTimeout("tcp", peer.Addr(), 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to peer: %w", err)
	}

	hs, err := PerformHandshake(conn, info.Hash(), localPeerID)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Connection{conn: conn, info: info, peerID: hs.PeerID}, nil
}

func (c *Connection) RemotePeerID() [20]byte {
	return c.peerID
}

func (c *Connection) Close() error {
	return c.conn.Close()
}

// prepare runs the one-time post-handshake exchange: the peer must
// open with bitfield, then unchoke us once we declare interest. Any
// other message id in either slot is fatal.
func (c *Connection) prepare() error {
	msg, err := readMessage(c.conn)
	if err != nil {
		return fmt.Errorf("failed to read bitfield: %w", err)
	}
	if msg.ID != MsgBitfield {
		return fmt.Errorf("%w: expected bitfield, got %s", ErrProtocol, msg.ID)
	}

	if err := sendMessage(c.conn, MsgInterested, nil); err != nil {
		return err
	}

	msg, err = readMessage(c.conn)
	if err != nil {
		return fmt.Errorf("failed to read unchoke: %w", err)
	}
	if msg.ID != MsgUnchoke {
		return fmt.Errorf("%w: expected unchoke, got %s", ErrProtocol, msg.ID)
	}

	c.ready = true
	return nil
}

// DownloadPiece fetches one piece block by block, verifies its SHA-1
// digest against the metainfo and writes the verified bytes to sink in
// a single call. Nothing reaches the sink on any failure. An index at
// or past the piece count downloads nothing and is not an error.
func (c *Connection) DownloadPiece(index int, sink io.Writer) error {
	if !c.ready {
		if err := c.prepare(); err != nil {
			return err
		}
	}

	pieceLen := c.info.PieceSize(index)
	if pieceLen == 0 {
		return nil
	}

	data := make([]byte, pieceLen)
	for begin := 0; begin < pieceLen; begin += BlockSize {
		blockLen := min(BlockSize, pieceLen-begin)

		if err := sendMessage(c.conn, MsgRequest, encodeRequest(index, begin, blockLen)); err != nil {
			return err
		}

		msg, err := readMessage(c.conn)
		if err != nil {
			return fmt.Errorf("failed to read piece message: %w", err)
		}
		if msg.ID != MsgPiece {
			return fmt.Errorf("%w: expected piece, got %s", ErrProtocol, msg.ID)
		}

		gotIndex, gotBegin, block, err := parsePiece(msg.Payload)
		if err != nil {
			return err
		}
		if gotIndex != index {
			return fmt.Errorf("%w: piece %d delivered while waiting for %d", ErrProtocol, gotIndex, index)
		}
		if gotBegin != begin || len(block) != blockLen {
			return fmt.Errorf("%w: block %d:%d delivered while waiting for %d:%d",
				ErrProtocol, gotBegin, len(block), begin, blockLen)
		}

		copy(data[begin:], block)
	}

	expected, err := c.info.PieceHash(index)
	if err != nil {
		return err
	}
	if got := sha1.Sum(data); got != expected {
		return fmt.Errorf("%w: piece %d hashed to %x, want %x", ErrIntegrity, index, got, expected)
	}

	_, err = sink.Write(data)
	return err
}

// Client drives a whole download: tracker discovery plus a pool of
// workers pulling piece indices from a shared queue, one worker per
// known peer.
type Client struct {
	Meta   *metainfo.Meta
	Peers  []Peer
	PeerID string

	// PieceRetries is how many attempts each piece gets, each against
	// the next peer in rotation, before the download is abandoned.
	PieceRetries int
}

// NewClient announces to the torrent's tracker and returns a client
// holding the discovered peers.
func NewClient(meta *metainfo.Meta) (*Client, error) {
	peerID := GeneratePeerID()

	peers, err := DiscoverPeers(meta.Announce, meta.Info.Hash(), peerID, meta.Info.Length)
	if err != nil {
		return nil, err
	}

	return &Client{
		Meta:         meta,
		Peers:        peers,
		PeerID:       peerID,
		PieceRetries: len(peers),
	}, nil
}

// DownloadPiece fetches one piece, rotating through known peers until
// an attempt succeeds or the attempts run out. Every attempt uses
// a fresh connection; a failed connection is never reused.
func (c *Client) DownloadPiece(index int) ([]byte, error) {
	attempts := max(c.PieceRetries, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		peer := c.Peers[attempt%len(c.Peers)]

		data, err := c.downloadFromPeer(peer, index)
		if err != nil {
			zap.L().Warn("Piece attempt failed",
				zap.Int("piece", index),
				zap.String("peer", peer.Addr()),
				zap.Error(err))
			lastErr = err
			continue
		}
		return data, nil
	}
	return nil, fmt.Errorf("piece %d failed after %d attempts: %w", index, attempts, lastErr)
}

func (c *Client) downloadFromPeer(peer Peer, index int) ([]byte, error) {
	conn, err := Connect(peer, c.Meta.Info, c.PeerID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var buf bytes.Buffer
	if err := conn.DownloadPiece(index, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type pieceResult struct {
	index int
	data  []byte
	err   error
}

// DownloadAll fetches every piece and assembles them at their offsets.
// Pieces complete in any order; each was verified before its worker
// reported it, so placement is safe whenever it arrives.
func (c *Client) DownloadAll() ([]byte, error) {
	total := c.Meta.Info.PieceCount()

	work := make(chan int, total)
	for index := 0; index < total; index++ {
		work <- index
	}
	close(work)

	results := make(chan pieceResult, total)

	var workers sync.WaitGroup
	for range c.Peers {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for index := range work {
				data, err := c.DownloadPiece(index)
				results <- pieceResult{index: index, data: data, err: err}
			}
		}()
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	return c.assemble(results, total)
}

// assemble places verified pieces at their offsets as they complete,
// tracking progress until every piece has arrived.
func (c *Client) assemble(results <-chan pieceResult, total int) ([]byte, error) {
	bar := progressbar.Default(int64(total), "downloading")

	fileData := make([]byte, c.Meta.Info.Length)
	for result := range results {
		if result.err != nil {
			_ = bar.Clear()
			return nil, fmt.Errorf("failed to download piece %d: %w", result.index, result.err)
		}
		copy(fileData[result.index*c.Meta.Info.PieceLength:], result.data)
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	return fileData, nil
}
