// Package magnet parses magnet URIs. Parsing only: peer discovery for
// magnet links is out of scope.
package magnet

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Link is a parsed magnet URI. The info hash is carried in the same
// 20-byte form the handshake and tracker layers use.
type Link struct {
	InfoHash [sha1.Size]byte
	Name     string
	Trackers []string
}

// Parse validates a magnet URI and extracts the info hash, display
// name and tracker list.
func Parse(uri string) (*Link, error) {
	query, ok := strings.CutPrefix(uri, "magnet:?")
	if !ok {
		return nil, fmt.Errorf("not a magnet URI: %q", uri)
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse magnet URI query: %w", err)
	}

	topic, ok := strings.CutPrefix(values.Get("xt"), "urn:btih:")
	if !ok {
		return nil, fmt.Errorf("missing urn:btih exact topic")
	}

	hash, err := hex.DecodeString(topic)
	if err != nil {
		return nil, fmt.Errorf("info hash is not hex: %w", err)
	}
	if len(hash) != sha1.Size {
		return nil, fmt.Errorf("info hash is %d bytes, want %d", len(hash), sha1.Size)
	}

	link := &Link{
		Name:     values.Get("dn"),
		Trackers: values["tr"],
	}
	copy(link.InfoHash[:], hash)
	return link, nil
}
