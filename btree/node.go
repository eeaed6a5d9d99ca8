package btree

import (
	"encoding/binary"

	"github.com/shelfdb/shelfdb/internal/varint"
)

// leafEntry is one key/value pair inside a leaf node.
type leafEntry struct {
	key   []byte
	value []byte
}

// leafNode is the serialized form of one leaf record, per spec section
// 4.3 "Each leaf ... is a serialized variable-length payload". Entries
// are kept sorted by the tree's comparator.
type leafNode struct {
	id      uint64
	prev    uint64 // 0 means none
	next    uint64 // 0 means none
	entries []leafEntry
}

func (n *leafNode) encode() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], n.prev)
	binary.BigEndian.PutUint64(buf[8:16], n.next)

	buf = varint.Append(buf, uint64(len(n.entries)))

	for _, e := range n.entries {
		buf = varint.Append(buf, uint64(len(e.key)))
		buf = append(buf, e.key...)
		buf = varint.Append(buf, uint64(len(e.value)))
		buf = append(buf, e.value...)
	}

	return buf
}

func decodeLeafNode(id uint64, buf []byte) (*leafNode, error) {
	if len(buf) < 16 {
		return nil, ErrBroken
	}

	n := &leafNode{
		id:   id,
		prev: binary.BigEndian.Uint64(buf[0:8]),
		next: binary.BigEndian.Uint64(buf[8:16]),
	}

	rest := buf[16:]

	count, consumed := varint.Decode(rest)
	if consumed == 0 && len(rest) != 0 {
		return nil, ErrBroken
	}

	rest = rest[consumed:]

	n.entries = make([]leafEntry, 0, count)

	for i := uint64(0); i < count; i++ {
		klen, kc := varint.Decode(rest)
		if kc == 0 {
			return nil, ErrBroken
		}

		rest = rest[kc:]
		key := rest[:klen]
		rest = rest[klen:]

		vlen, vc := varint.Decode(rest)
		if vc == 0 {
			return nil, ErrBroken
		}

		rest = rest[vc:]
		value := rest[:vlen]
		rest = rest[vlen:]

		n.entries = append(n.entries, leafEntry{key: key, value: value})
	}

	return n, nil
}

// byteSize approximates this leaf's on-disk record size, used against
// psiz to decide whether to split.
func (n *leafNode) byteSize() int {
	size := 16
	for _, e := range n.entries {
		size += varint.Size(uint64(len(e.key))) + len(e.key)
		size += varint.Size(uint64(len(e.value))) + len(e.value)
	}

	return size
}

// link is one (key, childID) pair inside an inner node: every key
// reachable through childID is >= key and < the next link's key.
type link struct {
	key     []byte
	childID uint64
}

// innerNode is the serialized form of one inner record. heir is the child
// for keys before the first link's key, per spec section 4.3 "choose the
// heir if the target precedes the first link".
type innerNode struct {
	id    uint64
	heir  uint64
	links []link
}

func (n *innerNode) encode() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf[0:8], n.heir)

	buf = varint.Append(buf, uint64(len(n.links)))

	for _, l := range n.links {
		buf = varint.Append(buf, uint64(len(l.key)))
		buf = append(buf, l.key...)

		childBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(childBuf, l.childID)
		buf = append(buf, childBuf...)
	}

	return buf
}

func decodeInnerNode(id uint64, buf []byte) (*innerNode, error) {
	if len(buf) < 8 {
		return nil, ErrBroken
	}

	n := &innerNode{id: id, heir: binary.BigEndian.Uint64(buf[0:8])}

	rest := buf[8:]

	count, consumed := varint.Decode(rest)
	if consumed == 0 && len(rest) != 0 {
		return nil, ErrBroken
	}

	rest = rest[consumed:]

	n.links = make([]link, 0, count)

	for i := uint64(0); i < count; i++ {
		klen, kc := varint.Decode(rest)
		if kc == 0 {
			return nil, ErrBroken
		}

		rest = rest[kc:]
		key := rest[:klen]
		rest = rest[klen:]

		if len(rest) < 8 {
			return nil, ErrBroken
		}

		childID := binary.BigEndian.Uint64(rest[:8])
		rest = rest[8:]

		n.links = append(n.links, link{key: key, childID: childID})
	}

	return n, nil
}

func (n *innerNode) byteSize() int {
	size := 8
	for _, l := range n.links {
		size += varint.Size(uint64(len(l.key))) + len(l.key) + 8
	}

	return size
}

// childFor returns the child ID to descend into for target, per spec
// section 4.3's upper_bound descent: the heir if target precedes the
// first link's key, else the child of the largest link whose key <=
// target.
func (n *innerNode) childFor(target []byte, cmp Comparator) uint64 {
	if len(n.links) == 0 || cmp.Compare(target, n.links[0].key) < 0 {
		return n.heir
	}

	chosen := n.links[0].childID

	for _, l := range n.links {
		if cmp.Compare(l.key, target) <= 0 {
			chosen = l.childID
		} else {
			break
		}
	}

	return chosen
}
