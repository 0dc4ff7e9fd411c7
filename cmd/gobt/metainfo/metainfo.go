// Package metainfo parses .torrent files and derives the info hash
// that identifies their content on the wire.
package metainfo

import (
	"crypto/sha1"
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"gobt/cmd/gobt/bencode"
)

// ErrStructure marks a metainfo file that decoded cleanly but does not
// have the shape of a torrent descriptor.
var ErrStructure = errors.New("invalid metainfo structure")

type Meta struct {
	Announce  string `mapstructure:"announce"`
	CreatedBy string `mapstructure:"created by"`
	Info      Info   `mapstructure:"info"`
}

type Info struct {
	Length      int    `mapstructure:"length"`
	Name        string `mapstructure:"name"`
	PieceLength int    `mapstructure:"piece length"`
	Pieces      []byte `mapstructure:"pieces"`
}

// Parse decodes a raw .torrent file. The pieces buffer is kept exactly
// as it appeared in the file; it is opaque digest data and is never
// re-derived.
func Parse(data []byte) (*Meta, error) {
	value, _, err := bencode.Decode(data)
	if err != nil {
		return nil, err
	}
	if value.Kind != bencode.KindDict {
		return nil, fmt.Errorf("%w: top-level value is a %s, want dictionary", ErrStructure, value.Kind)
	}

	var meta Meta
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &meta,
		WeaklyTypedInput: true, // pieces arrive as a string, land in []byte
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(value.Interface()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructure, err)
	}

	if err := meta.validate(); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (m *Meta) validate() error {
	switch {
	case m.Announce == "":
		return fmt.Errorf("%w: missing announce URL", ErrStructure)
	case m.Info.Name == "":
		return fmt.Errorf("%w: missing name", ErrStructure)
	case m.Info.Length < 0:
		return fmt.Errorf("%w: negative length %d", ErrStructure, m.Info.Length)
	case m.Info.PieceLength <= 0:
		return fmt.Errorf("%w: piece length %d, want positive", ErrStructure, m.Info.PieceLength)
	case len(m.Info.Pieces)%sha1.Size != 0:
		return fmt.Errorf("%w: pieces buffer is %d bytes, not a multiple of %d", ErrStructure, len(m.Info.Pieces), sha1.Size)
	case len(m.Info.Pieces) != m.Info.PieceCount()*sha1.Size:
		return fmt.Errorf("%w: %d piece hashes for %d pieces", ErrStructure, len(m.Info.Pieces)/sha1.Size, m.Info.PieceCount())
	}
	return nil
}

// Hash is the SHA-1 digest of the canonical bencoding of the info
// dictionary. Canonical key order makes the digest independent of how
// the source file ordered its keys.
func (i Info) Hash() [sha1.Size]byte {
	encoded := bencode.Encode(bencode.DictOf(map[string]bencode.Value{
		"length":       bencode.Int(int64(i.Length)),
		"name":         bencode.String(i.Name),
		"piece length": bencode.Int(int64(i.PieceLength)),
		"pieces":       bencode.Bytes(i.Pieces),
	}))
	return sha1.Sum(encoded)
}

func (i Info) PieceCount() int {
	if i.PieceLength <= 0 {
		return 0
	}
	return (i.Length + i.PieceLength - 1) / i.PieceLength
}

// PieceHash returns the expected digest of one piece.
func (i Info) PieceHash(index int) ([sha1.Size]byte, error) {
	if index < 0 || index >= i.PieceCount() {
		return [sha1.Size]byte{}, fmt.Errorf("piece %d out of range, torrent has %d pieces", index, i.PieceCount())
	}

	var hash [sha1.Size]byte
	copy(hash[:], i.Pieces[index*sha1.Size:])
	return hash, nil
}

// PieceSize is the on-wire length of one piece: PieceLength for every
// piece except the last, which carries the remainder. Out-of-range
// indices have size zero.
func (i Info) PieceSize(index int) int {
	count := i.PieceCount()
	if index < 0 || index >= count {
		return 0
	}
	if index == count-1 {
		if rem := i.Length % i.PieceLength; rem != 0 {
			return rem
		}
	}
	return i.PieceLength
}
