package bencode

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformed is wrapped by every decoding error.
var ErrMalformed = errors.New("malformed bencode")

// maxDepth bounds recursion so a short hostile input cannot blow the
// stack with nested list/dictionary openers.
const maxDepth = 2048

// Decode reads a single bencoded value from the front of data and
// reports how many bytes it consumed. Values are self-delimited, so a
// caller can decode consecutive siblings by re-slicing at the consumed
// offset, or pull one value out of a larger buffer such as an HTTP
// body.
func Decode(data []byte) (Value, int, error) {
	return decode(data, 0)
}

func decode(data []byte, depth int) (Value, int, error) {
	if depth > maxDepth {
		return Value{}, 0, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxDepth)
	}
	if len(data) == 0 {
		return Value{}, 0, fmt.Errorf("%w: empty input", ErrMalformed)
	}

	switch c := data[0]; {
	case c >= '0' && c <= '9':
		return decodeString(data)
	case c == 'i':
		return decodeInteger(data)
	case c == 'l':
		return decodeList(data, depth)
	case c == 'd':
		return decodeDict(data, depth)
	default:
		return Value{}, 0, fmt.Errorf("%w: unexpected byte %q", ErrMalformed, c)
	}
}

func decodeInteger(data []byte) (Value, int, error) {
	end := bytes.IndexByte(data, 'e')
	if end < 0 {
		return Value{}, 0, fmt.Errorf("%w: integer missing 'e' terminator", ErrMalformed)
	}

	digits := data[1:end]
	if !validIntegerDigits(digits) {
		return Value{}, 0, fmt.Errorf("%w: invalid integer %q", ErrMalformed, digits)
	}

	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return Value{}, 0, fmt.Errorf("%w: invalid integer %q", ErrMalformed, digits)
	}

	return Int(n), end + 1, nil
}

// An integer has exactly one encoding: no empty digit run, no "-0",
// no leading zeros.
func validIntegerDigits(digits []byte) bool {
	if len(digits) > 0 && digits[0] == '-' {
		digits = digits[1:]
		if len(digits) > 0 && digits[0] == '0' {
			return false
		}
	}
	if len(digits) == 0 {
		return false
	}
	return len(digits) == 1 || digits[0] != '0'
}

func decodeString(data []byte) (Value, int, error) {
	colon := bytes.IndexByte(data, ':')
	if colon < 0 {
		return Value{}, 0, fmt.Errorf("%w: string missing colon separator", ErrMalformed)
	}

	length, err := strconv.Atoi(string(data[:colon]))
	if err != nil || length < 0 {
		return Value{}, 0, fmt.Errorf("%w: invalid string length %q", ErrMalformed, data[:colon])
	}

	end := colon + 1 + length
	if end > len(data) {
		return Value{}, 0, fmt.Errorf("%w: string declares %d bytes, only %d remain", ErrMalformed, length, len(data)-colon-1)
	}

	return Bytes(data[colon+1 : end]), end, nil
}

func decodeList(data []byte, depth int) (Value, int, error) {
	items := []Value{}
	pos := 1

	for {
		if pos >= len(data) {
			return Value{}, 0, fmt.Errorf("%w: list missing end marker", ErrMalformed)
		}
		if data[pos] == 'e' {
			return ListOf(items...), pos + 1, nil
		}

		item, n, err := decode(data[pos:], depth+1)
		if err != nil {
			return Value{}, 0, err
		}
		items = append(items, item)
		pos += n
	}
}

func decodeDict(data []byte, depth int) (Value, int, error) {
	dict := make(map[string]Value)
	pos := 1

	for {
		if pos >= len(data) {
			return Value{}, 0, fmt.Errorf("%w: dictionary missing end marker", ErrMalformed)
		}
		if data[pos] == 'e' {
			return DictOf(dict), pos + 1, nil
		}

		key, n, err := decode(data[pos:], depth+1)
		if err != nil {
			return Value{}, 0, fmt.Errorf("invalid dictionary key: %w", err)
		}
		if key.Kind != KindString {
			return Value{}, 0, fmt.Errorf("%w: dictionary key is a %s, want string", ErrMalformed, key.Kind)
		}
		pos += n

		value, n, err := decode(data[pos:], depth+1)
		if err != nil {
			return Value{}, 0, fmt.Errorf("invalid dictionary value: %w", err)
		}
		pos += n

		dict[string(key.Str)] = value
	}
}
