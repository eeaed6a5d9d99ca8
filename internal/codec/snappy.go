package codec

import "github.com/golang/snappy"

// Snappy compresses values with Google's Snappy algorithm. It favors
// encode/decode speed over compression ratio, which suits record values
// that are read far more often than they are rewritten.
type Snappy struct{}

func (Snappy) Encode(dst, src []byte) []byte {
	encoded := snappy.Encode(nil, src)

	return append(dst, encoded...)
}

func (Snappy) Decode(dst, src []byte) ([]byte, error) {
	decoded, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, err
	}

	return append(dst, decoded...), nil
}

func (Snappy) Name() string { return "snappy" }

// ByName returns the registered codec for name, or nil if name is unknown.
// Hash file headers store the codec name in flags so a file can be reopened
// without the caller having to remember which codec it was created with.
func ByName(name string) Codec {
	switch name {
	case "none", "":
		return None{}
	case "snappy":
		return Snappy{}
	default:
		return nil
	}
}
