// Package btree implements the B+ tree engine layered on top of a
// [hashfile.DB]: leaf and inner nodes are serialized records stored under
// reserved keys in the underlying hash engine, with a striped hot/warm
// page cache, split/merge with cascading collapse, and cursors that
// relocate themselves after a split or merge.
package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/shelfdb/shelfdb/shelf"
)

// metaKey is the reserved hash-engine key holding the tree's root state,
// per spec section 4.3 "dump_meta/load_meta read and write the '@' record".
const metaKey = "@"

// Comparator tags recorded in the meta record so a reopen can refuse an
// incompatible comparator, per spec section 4.3.
const (
	comparatorLexical uint8 = iota
	comparatorDecimal
	comparatorCustom
)

// metaSize is the fixed 64-byte wire size from spec.md section 6.
const metaSize = 64

// meta is the tree's full reopen state.
type meta struct {
	pageSize     uint32
	root         uint64
	firstLeaf    uint64
	lastLeaf     uint64
	leafCount    uint64
	innerCount   uint64
	recordCount  uint64
	comparator   uint8
	nextLeafID   uint64
	nextInnerID  uint64
}

func (m *meta) encode() []byte {
	buf := make([]byte, metaSize)
	binary.BigEndian.PutUint32(buf[0:4], m.pageSize)
	binary.BigEndian.PutUint64(buf[4:12], m.root)
	binary.BigEndian.PutUint64(buf[12:20], m.firstLeaf)
	binary.BigEndian.PutUint64(buf[20:28], m.lastLeaf)
	binary.BigEndian.PutUint64(buf[28:36], m.leafCount)
	binary.BigEndian.PutUint64(buf[36:44], m.innerCount)
	binary.BigEndian.PutUint64(buf[44:52], m.recordCount)
	buf[52] = m.comparator
	binary.BigEndian.PutUint64(buf[53:61], m.nextLeafID)
	// bytes 61..64 reserved/padding, matching the fixed 64-byte layout.

	return buf
}

func decodeMeta(buf []byte) (*meta, error) {
	if len(buf) != metaSize {
		return nil, fmt.Errorf("%w: meta record size %d, want %d", ErrBroken, len(buf), metaSize)
	}

	m := &meta{
		pageSize:    binary.BigEndian.Uint32(buf[0:4]),
		root:        binary.BigEndian.Uint64(buf[4:12]),
		firstLeaf:   binary.BigEndian.Uint64(buf[12:20]),
		lastLeaf:    binary.BigEndian.Uint64(buf[20:28]),
		leafCount:   binary.BigEndian.Uint64(buf[28:36]),
		innerCount:  binary.BigEndian.Uint64(buf[36:44]),
		recordCount: binary.BigEndian.Uint64(buf[44:52]),
		comparator:  buf[52],
		nextLeafID:  binary.BigEndian.Uint64(buf[53:61]),
	}

	return m, nil
}

// leafKey and innerKey implement spec section 4.3's key-namespace
// partition: "L"+hex(id) for leaves, "I"+hex(id-2^48) for inners.
const innerIDOffset = 1 << 48

func leafKey(id uint64) []byte {
	return []byte(fmt.Sprintf("L%016x", id))
}

func innerKey(id uint64) []byte {
	return []byte(fmt.Sprintf("I%016x", id-innerIDOffset))
}

func isLeafID(id uint64) bool { return id < innerIDOffset }

func nodeKey(id uint64) []byte {
	if isLeafID(id) {
		return leafKey(id)
	}

	return innerKey(id)
}

// ErrBroken, etc. are re-exported from shelf for local use without an
// import cycle back through hashfile.
var (
	ErrBroken  = shelf.ErrBroken
	ErrNoImpl  = shelf.ErrNoImpl
	ErrInvalid = shelf.ErrInvalid
	ErrNoPerm  = shelf.ErrNoPerm
	ErrDupRec  = shelf.ErrDupRec
	ErrNoRec   = shelf.ErrNoRec
	ErrLogic   = shelf.ErrLogic
	ErrSystem  = shelf.ErrSystem
)
