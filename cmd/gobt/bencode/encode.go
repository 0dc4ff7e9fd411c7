package bencode

import (
	"bytes"
	"fmt"
	"slices"
)

// Encode renders v in canonical form: dictionary keys are emitted in
// lexicographic byte order regardless of how the value was built, so
// the output of Encode is stable and suitable for hashing.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encode(&buf, v)
	return buf.Bytes()
}

func encode(buf *bytes.Buffer, v Value) {
	switch v.Kind {
	case KindInteger:
		fmt.Fprintf(buf, "i%de", v.Int)
	case KindString:
		fmt.Fprintf(buf, "%d:", len(v.Str))
		buf.Write(v.Str)
	case KindList:
		buf.WriteByte('l')
		for _, item := range v.List {
			encode(buf, item)
		}
		buf.WriteByte('e')
	case KindDict:
		keys := make([]string, 0, len(v.Dict))
		for key := range v.Dict {
			keys = append(keys, key)
		}
		slices.Sort(keys)

		buf.WriteByte('d')
		for _, key := range keys {
			fmt.Fprintf(buf, "%d:%s", len(key), key)
			encode(buf, v.Dict[key])
		}
		buf.WriteByte('e')
	}
}
