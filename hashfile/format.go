package hashfile

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/shelfdb/shelfdb/internal/varint"
)

// fileMagic identifies this format at bytes 0..15 of the header.
var fileMagic = [16]byte{'S', 'H', 'E', 'L', 'F', 'H', 'A', 'S', 'H', 0, 0, 0, 0, 0, 0, 0}

const (
	libMajor = 1
	libMinor = 0
	fmtVer   = 1
)

// Options bitmap (header byte 22).
const (
	optSmall    = 1 << 0 // 4-byte offsets rather than 6-byte
	optLinear   = 1 << 1 // linear chaining rather than binary-tree chaining
	optCompress = 1 << 2 // values pass through the configured codec
)

// Status flags (header byte 23).
const (
	statusOpen  = 1 << 0
	statusFatal = 1 << 1
)

const headerSize = 128

// offsetWidth is the on-disk width of a bucket/child pointer. This
// implementation always sets optSmall, resolving the "pick one concrete
// byte layout" open question in favor of the 4-byte (optSmall) variant;
// see DESIGN.md.
const offsetWidth = 4

// eofMarker terminates a cleanly-closed record region. Its absence on open
// triggers auto-repair unless ONOREPAIR is set.
var eofMarker = [4]byte{0xFA, 0xCE, 0xFA, 0xCE}

// header is the in-memory decoding of the 128-byte file prefix.
type header struct {
	apow       uint8
	fpow       uint8
	options    uint8
	status     uint8
	bucketNum  uint64
	recordNum  uint64
	fileSize   uint64
	userSlot   [16]byte
}

func (h *header) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:16], fileMagic[:])
	buf[16] = libMajor
	buf[17] = libMinor
	buf[18] = fmtVer
	buf[19] = 1 // big-endian marker; this implementation always writes big-endian
	buf[20] = h.apow
	buf[21] = h.fpow
	buf[22] = h.options
	buf[23] = h.status
	binary.BigEndian.PutUint64(buf[24:32], h.bucketNum)
	binary.BigEndian.PutUint64(buf[32:40], h.recordNum)
	binary.BigEndian.PutUint64(buf[40:48], h.fileSize)
	copy(buf[48:64], h.userSlot[:])

	return buf
}

func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("hashfile: short header (%d bytes)", len(buf))
	}

	if !bytes.Equal(buf[0:16], fileMagic[:]) {
		return nil, fmt.Errorf("hashfile: %w: bad magic", ErrBroken)
	}

	if buf[18] != fmtVer {
		return nil, fmt.Errorf("hashfile: %w: unsupported format version %d", ErrBroken, buf[18])
	}

	h := &header{
		apow:      buf[20],
		fpow:      buf[21],
		options:   buf[22],
		status:    buf[23],
		bucketNum: binary.BigEndian.Uint64(buf[24:32]),
		recordNum: binary.BigEndian.Uint64(buf[32:40]),
		fileSize:  binary.BigEndian.Uint64(buf[40:48]),
	}
	copy(h.userSlot[:], buf[48:64])

	return h, nil
}

const (
	recordMagicLive = 0xC8
	recordMagicFree = 0xFE

	// recordFixedSize is magic(1) + blockSize(4) + left(4) + right(4) +
	// foldHash(4), the portion of a record header that precedes the
	// varint-encoded key/value sizes.
	recordFixedSize = 1 + 4 + 4 + 4 + 4
)

// recordHeader is the decoded fixed-width prefix of one record. left and
// right are child-block offsets, in align units, for the binary-tree
// chaining within the owning bucket; 0 means "no child".
type recordHeader struct {
	magic     byte
	blockSize uint32 // total allocated size for this block, in align units
	left      uint32
	right     uint32
	foldHash  uint32
	ksiz      uint64
	vsiz      uint64
	headerLen int // bytes consumed by magic+blockSize+left+right+foldHash+varints
}

func encodeRecordHeader(blockSizeAlign uint32, left, right, foldHash uint32, ksiz, vsiz uint64) []byte {
	buf := make([]byte, recordFixedSize, recordFixedSize+20)
	buf[0] = recordMagicLive
	binary.BigEndian.PutUint32(buf[1:5], blockSizeAlign)
	binary.BigEndian.PutUint32(buf[5:9], left)
	binary.BigEndian.PutUint32(buf[9:13], right)
	binary.BigEndian.PutUint32(buf[13:17], foldHash)
	buf = varint.Append(buf, ksiz)
	buf = varint.Append(buf, vsiz)

	return buf
}

// decodeRecordHeader reads a record header from buf, which must contain at
// least recordFixedSize+20 bytes (enough for the two varints in the worst
// case).
func decodeRecordHeader(buf []byte) (*recordHeader, error) {
	if len(buf) < recordFixedSize {
		return nil, fmt.Errorf("hashfile: %w: short record header", ErrBroken)
	}

	rh := &recordHeader{
		magic:     buf[0],
		blockSize: binary.BigEndian.Uint32(buf[1:5]),
		left:      binary.BigEndian.Uint32(buf[5:9]),
		right:     binary.BigEndian.Uint32(buf[9:13]),
		foldHash:  binary.BigEndian.Uint32(buf[13:17]),
	}

	rest := buf[recordFixedSize:]

	ksiz, n1 := varint.Decode(rest)
	if n1 == 0 {
		return nil, fmt.Errorf("hashfile: %w: bad ksiz varint", ErrBroken)
	}

	vsiz, n2 := varint.Decode(rest[n1:])
	if n2 == 0 {
		return nil, fmt.Errorf("hashfile: %w: bad vsiz varint", ErrBroken)
	}

	rh.ksiz = ksiz
	rh.vsiz = vsiz
	rh.headerLen = recordFixedSize + n1 + n2

	return rh, nil
}

// alignUp rounds size up to a multiple of 1<<apow.
func alignUp(size int64, apow uint8) int64 {
	align := int64(1) << apow
	if size%align == 0 {
		return size
	}

	return (size/align + 1) * align
}
