package bencode

// Kind selects which payload field of a Value is meaningful.
type Kind int

const (
	KindInteger Kind = iota
	KindString
	KindList
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindDict:
		return "dictionary"
	default:
		return "invalid"
	}
}

// Value is one bencoded value: an integer, a byte string, a list or a
// dictionary with byte-string keys. Exactly one payload field is set,
// chosen by Kind; consumers switch on Kind rather than sniffing types.
type Value struct {
	Kind Kind
	Int  int64
	Str  []byte
	List []Value
	Dict map[string]Value
}

func Int(n int64) Value {
	return Value{Kind: KindInteger, Int: n}
}

func String(s string) Value {
	return Value{Kind: KindString, Str: []byte(s)}
}

func Bytes(b []byte) Value {
	return Value{Kind: KindString, Str: b}
}

func ListOf(items ...Value) Value {
	return Value{Kind: KindList, List: items}
}

func DictOf(pairs map[string]Value) Value {
	return Value{Kind: KindDict, Dict: pairs}
}

// Interface converts v into the generic map[string]any shape expected
// by mapstructure and encoding/json. Byte strings become Go strings,
// which hold arbitrary bytes unharmed.
func (v Value) Interface() any {
	switch v.Kind {
	case KindInteger:
		return v.Int
	case KindString:
		return string(v.Str)
	case KindList:
		items := make([]any, len(v.List))
		for i, item := range v.List {
			items[i] = item.Interface()
		}
		return items
	case KindDict:
		dict := make(map[string]any, len(v.Dict))
		for key, item := range v.Dict {
			dict[key] = item.Interface()
		}
		return dict
	default:
		return nil
	}
}
