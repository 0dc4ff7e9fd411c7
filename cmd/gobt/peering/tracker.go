package peering

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gobt/cmd/gobt/bencode"
)

// DefaultPort is the port reported to trackers. Nothing listens on it;
// this client only downloads.
const DefaultPort = 6881

// GeneratePeerID builds a 20-byte peer id: the client prefix followed
// by twelve hex characters drawn from a fresh UUID.
func GeneratePeerID() string {
	const prefix = "-GB0001-"
	id := uuid.New()
	return prefix + hex.EncodeToString(id[:6])
}

type trackerResponse struct {
	Interval      int    `mapstructure:"interval"`
	Peers         string `mapstructure:"peers"`
	FailureReason string `mapstructure:"failure reason"`
}

// DiscoverPeers announces to the tracker and returns the peers it
// knows for the content identified by infoHash. left is the number of
// bytes still needed, reported verbatim.
func DiscoverPeers(announce string, infoHash [sha1.Size]byte, peerID string, left int) ([]Peer, error) {
	params := url.Values{
		"peer_id":    []string{peerID},
		"port":       []string{strconv.Itoa(DefaultPort)},
		"uploaded":   []string{"0"},
		"downloaded": []string{"0"},
		"left":       []string{strconv.Itoa(left)},
		"compact":    []string{"1"},
	}

	// info_hash is appended by hand: the digest is raw bytes and every
	// byte must be %XX-escaped, which url.Values does not guarantee.
	trackerURL := fmt.Sprintf("%s?%s&info_hash=%s", announce, params.Encode(), escapeBytes(infoHash[:]))

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Get(trackerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to contact tracker: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tracker response: %w", err)
	}

	value, _, err := bencode.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tracker response: %w", err)
	}
	if value.Kind != bencode.KindDict {
		return nil, fmt.Errorf("tracker response is a %s, want dictionary", value.Kind)
	}

	var tracker trackerResponse
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &tracker,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(value.Interface()); err != nil {
		return nil, fmt.Errorf("unexpected tracker response shape: %w", err)
	}
	if tracker.FailureReason != "" {
		return nil, fmt.Errorf("tracker refused announce: %s", tracker.FailureReason)
	}

	peers, err := ParsePeers([]byte(tracker.Peers))
	if err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		return nil, fmt.Errorf("tracker returned no peers")
	}

	zap.L().Debug("Tracker announce complete",
		zap.Int("peers", len(peers)),
		zap.Int("interval", tracker.Interval))

	return peers, nil
}

// escapeBytes percent-encodes every byte as %XX, printable or not.
func escapeBytes(data []byte) string {
	var sb strings.Builder
	sb.Grow(3 * len(data))
	for _, b := range data {
		fmt.Fprintf(&sb, "%%%02x", b)
	}
	return sb.String()
}
