package peparse

import (
	"encoding/binary"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/text/encoding/unicode"

	"petriage/source"
)

// leReader is a bounds-checked little-endian cursor. cryptobyte reads
// integers big-endian, so fixed-width fields are taken as raw bytes and
// decoded here.
type leReader struct {
	s cryptobyte.String
}

func newReader(b []byte) *leReader {
	return &leReader{s: cryptobyte.String(b)}
}

func (r *leReader) u8(out *uint8) bool {
	return r.s.ReadUint8(out)
}

func (r *leReader) u16(out *uint16) bool {
	var b []byte
	if !r.s.ReadBytes(&b, 2) {
		return false
	}
	*out = binary.LittleEndian.Uint16(b)
	return true
}

func (r *leReader) u32(out *uint32) bool {
	var b []byte
	if !r.s.ReadBytes(&b, 4) {
		return false
	}
	*out = binary.LittleEndian.Uint32(b)
	return true
}

func (r *leReader) u64(out *uint64) bool {
	var b []byte
	if !r.s.ReadBytes(&b, 8) {
		return false
	}
	*out = binary.LittleEndian.Uint64(b)
	return true
}

// u32or64 reads a pointer-sized field, widening PE32 values.
func (r *leReader) u32or64(is64 bool, out *uint64) bool {
	if is64 {
		return r.u64(out)
	}
	var v uint32
	if !r.u32(&v) {
		return false
	}
	*out = uint64(v)
	return true
}

func (r *leReader) bytes(out []byte) bool {
	return r.s.CopyBytes(out)
}

func (r *leReader) skip(n int) bool {
	return r.s.Skip(n)
}

func (r *leReader) empty() bool {
	return r.s.Empty()
}

// readRecord copies exactly size bytes at off and decodes them as T. The
// decode function fills *T from a cursor positioned at the record start.
func readRecord[T any](src source.ByteSource, off uint64, size int, decode func(r *leReader, out *T) bool) (T, bool) {
	var v T
	b, ok := source.Exact(src, off, size)
	if !ok {
		return v, false
	}
	if !decode(newReader(b), &v) {
		var zero T
		return zero, false
	}
	return v, true
}

func readU16(src source.ByteSource, off uint64) (uint16, bool) {
	return readRecord(src, off, 2, func(r *leReader, v *uint16) bool { return r.u16(v) })
}

func readU32(src source.ByteSource, off uint64) (uint32, bool) {
	return readRecord(src, off, 4, func(r *leReader, v *uint32) bool { return r.u32(v) })
}

func readU64(src source.ByteSource, off uint64) (uint64, bool) {
	return readRecord(src, off, 8, func(r *leReader, v *uint64) bool { return r.u64(v) })
}

// readPointer reads a 4 or 8 byte value depending on image width.
func readPointer(src source.ByteSource, off uint64, is64 bool) (uint64, bool) {
	if is64 {
		return readU64(src, off)
	}
	v, ok := readU32(src, off)
	return uint64(v), ok
}

// readCString reads a zero-terminated ASCII string of at most maxLen
// bytes. A string that reaches maxLen without a terminator is returned
// truncated; one cut off by the end of the source is rejected.
func readCString(src source.ByteSource, off uint64, maxLen int) (string, bool) {
	b := src.Slice(off, maxLen)
	if len(b) == 0 {
		return "", false
	}
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), true
		}
	}
	if len(b) < maxLen {
		return "", false
	}
	return string(b), true
}

// isPrintableName reports whether s only holds printable ASCII.
func isPrintableName(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7E {
			return false
		}
	}
	return true
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// decodeUTF16 converts little-endian UTF-16 bytes to a Go string, stopping
// at the first NUL character.
func decodeUTF16(b []byte) string {
	b = b[:len(b)&^1]
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			b = b[:i]
			break
		}
	}
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(out)
}

// SectionAlign rounds value up to align. A zero alignment leaves the
// value unchanged and a zero value occupies one full alignment unit.
func SectionAlign(value, align uint64) uint64 {
	if align == 0 {
		return value
	}
	if value == 0 {
		return align
	}
	if r := value % align; r != 0 {
		return value + align - r
	}
	return value
}
