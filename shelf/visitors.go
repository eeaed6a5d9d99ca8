package shelf

import (
	"bytes"
	"encoding/binary"
)

// This file expresses every higher-level operation as a Visitor dispatched
// through Accept, per spec section 4.1: "Higher-level operations ... are
// NOT primitive and implementers must derive them from the visitor
// protocol." Engines only ever implement Accept/Iterate/Cursor.

// Get reads the current value of key via a read-only Accept.
func Get(db DB, key []byte) ([]byte, error) {
	v := &getVisitor{}

	err := db.Accept(key, v, false)
	if err != nil {
		return nil, err
	}

	if !v.found {
		return nil, WrapKey("get", key, ErrNoRec)
	}

	return v.value, nil
}

type getVisitor struct {
	found bool
	value []byte
}

func (v *getVisitor) VisitFull(_, value []byte) Decision {
	v.found = true
	v.value = append([]byte(nil), value...)

	return Keep()
}

func (v *getVisitor) VisitEmpty(_ []byte) Decision { return Keep() }

// Set writes value unconditionally, creating or overwriting the record.
func Set(db DB, key, value []byte) error {
	return db.Accept(key, replaceAlwaysVisitor{value: value}, true)
}

type replaceAlwaysVisitor struct{ value []byte }

func (v replaceAlwaysVisitor) VisitFull(_, _ []byte) Decision  { return Replace(v.value) }
func (v replaceAlwaysVisitor) VisitEmpty(_ []byte) Decision    { return Replace(v.value) }

// Add writes value only if key is currently absent; returns ErrDupRec
// otherwise, per spec section 4.2 "Duplicate-key violation (in add)".
func Add(db DB, key, value []byte) error {
	v := &addVisitor{value: value}

	err := db.Accept(key, v, true)
	if err != nil {
		return err
	}

	if v.existed {
		return WrapKey("add", key, ErrDupRec)
	}

	return nil
}

type addVisitor struct {
	value   []byte
	existed bool
}

func (v *addVisitor) VisitFull(_, _ []byte) Decision {
	v.existed = true

	return Keep()
}

func (v *addVisitor) VisitEmpty(_ []byte) Decision { return Replace(v.value) }

// Append concatenates suffix onto the current value (or writes suffix
// alone if the key is absent).
func Append(db DB, key, suffix []byte) error {
	v := &appendVisitor{suffix: suffix}

	return db.Accept(key, v, true)
}

type appendVisitor struct{ suffix []byte }

func (v *appendVisitor) VisitFull(_, value []byte) Decision {
	out := make([]byte, 0, len(value)+len(v.suffix))
	out = append(out, value...)
	out = append(out, v.suffix...)

	return Replace(out)
}

func (v *appendVisitor) VisitEmpty(_ []byte) Decision {
	return Replace(append([]byte(nil), v.suffix...))
}

// Increment adds delta to the int64 stored big-endian at key (treating an
// absent key as 0) and returns the new value.
func Increment(db DB, key []byte, delta int64) (int64, error) {
	v := &incrementVisitor{delta: delta}

	err := db.Accept(key, v, true)
	if err != nil {
		return 0, err
	}

	return v.result, nil
}

type incrementVisitor struct {
	delta  int64
	result int64
}

func (v *incrementVisitor) VisitFull(_, value []byte) Decision {
	var current int64
	if len(value) == 8 {
		current = int64(binary.BigEndian.Uint64(value))
	}

	v.result = current + v.delta

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v.result))

	return Replace(buf)
}

func (v *incrementVisitor) VisitEmpty(_ []byte) Decision {
	v.result = v.delta

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v.result))

	return Replace(buf)
}

// fixedPointScale is the units-of-10^15 scale for the fractional word of
// IncrementDouble's wire encoding. This mixed fixed-point scheme is
// surprising but is the documented, preserved contract - see DESIGN.md
// "Open Question decisions" #3.
const fixedPointScale = 1_000_000_000_000_000

// IncrementDouble adds delta to the float64 stored at key, encoded as two
// big-endian int64 words: integer part, then fractional part in units of
// 10^15. An absent key is treated as 0.
func IncrementDouble(db DB, key []byte, delta float64) (float64, error) {
	v := &incrementDoubleVisitor{delta: delta}

	err := db.Accept(key, v, true)
	if err != nil {
		return 0, err
	}

	return v.result, nil
}

type incrementDoubleVisitor struct {
	delta  float64
	result float64
}

func decodeDouble(value []byte) float64 {
	if len(value) != 16 {
		return 0
	}

	intPart := int64(binary.BigEndian.Uint64(value[0:8]))
	fracPart := int64(binary.BigEndian.Uint64(value[8:16]))

	return float64(intPart) + float64(fracPart)/fixedPointScale
}

func encodeDouble(f float64) []byte {
	intPart := int64(f)
	fracPart := int64((f - float64(intPart)) * fixedPointScale)

	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(intPart))
	binary.BigEndian.PutUint64(buf[8:16], uint64(fracPart))

	return buf
}

func (v *incrementDoubleVisitor) VisitFull(_, value []byte) Decision {
	v.result = decodeDouble(value) + v.delta

	return Replace(encodeDouble(v.result))
}

func (v *incrementDoubleVisitor) VisitEmpty(_ []byte) Decision {
	v.result = v.delta

	return Replace(encodeDouble(v.result))
}

// CompareAndSwap replaces key's value with newValue iff its current value
// equals oldValue byte-for-byte (or, when oldValue is nil, iff the key is
// currently absent). Returns ErrLogic on mismatch, per spec section 4.2
// "Logical conflicts (CAS mismatch...)".
func CompareAndSwap(db DB, key, oldValue, newValue []byte) error {
	v := &casVisitor{old: oldValue, new: newValue}

	err := db.Accept(key, v, true)
	if err != nil {
		return err
	}

	if !v.matched {
		return WrapKey("cas", key, ErrLogic)
	}

	return nil
}

type casVisitor struct {
	old, new []byte
	matched  bool
}

func (v *casVisitor) VisitFull(_, value []byte) Decision {
	if v.old == nil || !bytes.Equal(value, v.old) {
		return Keep()
	}

	v.matched = true

	return Replace(v.new)
}

func (v *casVisitor) VisitEmpty(_ []byte) Decision {
	if v.old != nil {
		return Keep()
	}

	v.matched = true

	return Replace(v.new)
}

// Remove deletes key. Returns ErrNoRec if it does not exist, per spec
// section 4.2 "Missing-key in remove".
func Remove(db DB, key []byte) error {
	v := &removeVisitor{}

	err := db.Accept(key, v, true)
	if err != nil {
		return err
	}

	if !v.existed {
		return WrapKey("remove", key, ErrNoRec)
	}

	return nil
}

type removeVisitor struct{ existed bool }

func (v *removeVisitor) VisitFull(_, _ []byte) Decision {
	v.existed = true

	return Delete()
}

func (v *removeVisitor) VisitEmpty(_ []byte) Decision { return Keep() }
