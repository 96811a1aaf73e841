package mtconnect

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strings"
	"time"
)

// ChangeID is the content fingerprint of an input value.
type ChangeID [16]byte

// IsZero reports whether the id is unset.
func (c ChangeID) IsZero() bool {
	return c == ChangeID{}
}

// String returns the id as upper-case hex.
func (c ChangeID) String() string {
	return strings.ToUpper(hex.EncodeToString(c[:]))
}

// hasher accumulates length-prefixed fields so that adjacent fields can never
// run together into the same byte stream.
type hasher struct {
	buf []byte
}

func (h *hasher) str(s string) {
	h.buf = binary.AppendUvarint(h.buf, uint64(len(s)))
	h.buf = append(h.buf, s...)
}

func (h *hasher) int(n int) {
	h.buf = binary.AppendUvarint(h.buf, uint64(n))
}

func (h *hasher) bool(b bool) {
	if b {
		h.buf = append(h.buf, 1)
		return
	}
	h.buf = append(h.buf, 0)
}

func (h *hasher) byte(b byte) {
	h.buf = append(h.buf, b)
}

func (h *hasher) float(f float64) {
	h.buf = binary.BigEndian.AppendUint64(h.buf, math.Float64bits(f))
}

func (h *hasher) sum() ChangeID {
	full := sha256.Sum256(h.buf)
	var id ChangeID
	copy(id[:], full[:len(id)])
	return id
}

// Timestamp converts t to Unix milliseconds.
func Timestamp(t time.Time) int64 {
	return t.UnixMilli()
}

// Time converts Unix milliseconds to a UTC time.
func Time(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
