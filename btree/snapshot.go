package btree

import (
	"fmt"
	"io"

	"github.com/shelfdb/shelfdb/internal/varint"
	"github.com/shelfdb/shelfdb/shelf"
)

// Dump writes every live record to w as a sequence of
// varint(len(key)) + key + varint(len(value)) + value, in key order -
// the same wire framing hashfile.Dump uses, so a tree's snapshot can be
// loaded into either engine.
func (db *DB) Dump(w io.Writer) error {
	return db.Iterate(shelf.VisitorFuncs{
		Full: func(key, value []byte) shelf.Decision {
			buf := varint.Append(nil, uint64(len(key)))
			buf = append(buf, key...)
			buf = varint.Append(buf, uint64(len(value)))
			buf = append(buf, value...)

			if _, err := w.Write(buf); err != nil {
				return shelf.Keep()
			}

			return shelf.Keep()
		},
	}, false)
}

// Load reads records written by Dump (from either engine) and installs
// them via Set, overwriting any existing value for the same key.
func (db *DB) Load(r io.Reader) error {
	br := &byteReader{r: r}

	for {
		key, err := readLengthPrefixed(br)
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return shelf.WrapOp("load", fmt.Errorf("%w: %v", ErrBroken, err))
		}

		value, err := readLengthPrefixed(br)
		if err != nil {
			return shelf.WrapOp("load", fmt.Errorf("%w: %v", ErrBroken, err))
		}

		if err := db.Set(key, value); err != nil {
			return err
		}
	}
}

type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	_, err := io.ReadFull(b.r, b.buf[:])

	return b.buf[0], err
}

func readLengthPrefixed(b *byteReader) ([]byte, error) {
	var raw []byte

	for {
		by, err := b.ReadByte()
		if err != nil {
			if len(raw) == 0 {
				return nil, err
			}

			return nil, fmt.Errorf("truncated varint")
		}

		raw = append(raw, by)

		if by&0x80 == 0 {
			break
		}
	}

	n, consumed := varint.Decode(raw)
	if consumed != len(raw) {
		return nil, fmt.Errorf("malformed varint")
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(b.r, buf); err != nil {
		return nil, err
	}

	return buf, nil
}
