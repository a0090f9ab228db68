// Package source provides bounds-checked random access to the bytes of a
// file being inspected. Every read made by the parser goes through a
// ByteSource so that no component ever indexes past the end of its input.
package source

import "io"

// ByteSource is a read-only view over an input image.
type ByteSource interface {
	// Size returns the total number of bytes available.
	Size() uint64
	// Slice returns up to maxLen bytes starting at offset. The result is
	// shorter than requested near the end of the source and nil when
	// offset is out of range.
	Slice(offset uint64, maxLen int) []byte
}

// Exact returns exactly n bytes read at offset, or false if the source
// does not hold that many bytes there. The result aliases the source.
func Exact(src ByteSource, offset uint64, n int) ([]byte, bool) {
	if n < 0 {
		return nil, false
	}
	if n == 0 {
		return []byte{}, offset <= src.Size()
	}
	b := src.Slice(offset, n)
	if len(b) != n {
		return nil, false
	}
	return b, true
}

// Contains reports whether [offset, offset+n) lies inside the source.
func Contains(src ByteSource, offset, n uint64) bool {
	end := offset + n
	if end < offset {
		return false
	}
	return end <= src.Size()
}

// Memory is a ByteSource over an in-memory buffer.
type Memory struct {
	data []byte
}

func NewMemory(data []byte) *Memory {
	return &Memory{data: data}
}

func (m *Memory) Size() uint64 {
	return uint64(len(m.data))
}

func (m *Memory) Slice(offset uint64, maxLen int) []byte {
	return sliceOf(m.data, offset, maxLen)
}

func sliceOf(data []byte, offset uint64, maxLen int) []byte {
	if maxLen <= 0 || offset >= uint64(len(data)) {
		return nil
	}
	end := offset + uint64(maxLen)
	if end > uint64(len(data)) || end < offset {
		end = uint64(len(data))
	}
	return data[offset:end]
}

const readChunk = 1 << 20

type reader struct {
	src ByteSource
	off uint64
}

// NewReader streams src from offset 0 to its end.
func NewReader(src ByteSource) io.Reader {
	return &reader{src: src}
}

func (r *reader) Read(p []byte) (int, error) {
	if r.off >= r.src.Size() {
		return 0, io.EOF
	}
	n := len(p)
	if n > readChunk {
		n = readChunk
	}
	b := r.src.Slice(r.off, n)
	if len(b) == 0 {
		return 0, io.EOF
	}
	copy(p, b)
	r.off += uint64(len(b))
	return len(b), nil
}
