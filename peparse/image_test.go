package peparse

import (
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/require"

	"petriage/source"
)

// Geometry of the synthetic images: three sections, each 0x1000 bytes in
// memory and on disk, with raw data starting at 0x400.
const (
	imgLfanew      = 0x40
	imgOptOffset   = imgLfanew + 4 + fileHeaderSize
	imgHeaderSize  = 0x400
	imgRawDelta    = 0xC00
	imgImageBase32 = 0x400000
	imgImageBase64 = 0x140000000

	textRVA  = 0x1000
	rdataRVA = 0x2000
	dataRVA  = 0x3000
	imgEnd   = 0x4000
)

type testImage struct {
	buf  []byte
	is64 bool
}

// newTestImage builds a well-formed executable that parses without any
// diagnostic.
func newTestImage(is64 bool) *testImage {
	m := &testImage{buf: make([]byte, imgHeaderSize+3*0x1000), is64: is64}

	m.put16(0, magicDOS)
	m.put32(lfanewOffs, imgLfanew)
	m.put32(imgLfanew, magicNT)

	fh := imgLfanew + 4
	optSize := optionalHeader32Size + numDataDirectory*dataDirectorySize
	m.put16(fh, 0x14C)
	m.put16(fh+18, 0x0102)
	if is64 {
		optSize = optionalHeader64Size + numDataDirectory*dataDirectorySize
		m.put16(fh, 0x8664)
		m.put16(fh+18, 0x0022)
	}
	m.put16(fh+2, 3)
	m.put32(fh+4, 0x5F5E1000)
	m.put16(fh+16, uint16(optSize))

	o := imgOptOffset
	if is64 {
		m.put16(o, magicPE64)
		m.put64(o+24, imgImageBase64)
		m.put32(o+108, numDataDirectory)
	} else {
		m.put16(o, magicPE32)
		m.put32(o+28, imgImageBase32)
		m.put32(o+92, numDataDirectory)
	}
	m.put32(o+16, textRVA)
	m.put32(o+32, 0x1000)
	m.put32(o+36, 0x200)
	m.put32(o+56, imgEnd)
	m.put32(o+60, imgHeaderSize)
	m.put16(o+68, 3)

	m.setSection(0, ".text", textRVA, SectionCode|SectionExecute|SectionRead)
	m.setSection(1, ".rdata", rdataRVA, SectionInitializedData|SectionRead)
	m.setSection(2, ".data", dataRVA, SectionInitializedData|SectionRead|SectionWrite)

	for i := 0; i < 16; i++ {
		m.buf[m.at(textRVA)+i] = 0x90
	}
	m.buf[m.at(textRVA)+16] = 0xC3
	return m
}

func (m *testImage) put16(off int, v uint16) { binary.LittleEndian.PutUint16(m.buf[off:], v) }
func (m *testImage) put32(off int, v uint32) { binary.LittleEndian.PutUint32(m.buf[off:], v) }
func (m *testImage) put64(off int, v uint64) { binary.LittleEndian.PutUint64(m.buf[off:], v) }

// putString writes a NUL-terminated string.
func (m *testImage) putString(off int, s string) {
	copy(m.buf[off:], s)
	m.buf[off+len(s)] = 0
}

// at maps an RVA inside the three sections to its file offset.
func (m *testImage) at(rva uint32) int {
	return int(rva) - imgRawDelta
}

func (m *testImage) optSize() int {
	if m.is64 {
		return optionalHeader64Size
	}
	return optionalHeader32Size
}

func (m *testImage) sectionTable() int {
	return imgOptOffset + m.optSize() + numDataDirectory*dataDirectorySize
}

func (m *testImage) setSection(i int, name string, rva uint32, chars uint32) {
	off := m.sectionTable() + i*sectionHeaderSize
	var raw [8]byte
	copy(raw[:], name)
	copy(m.buf[off:], raw[:])
	m.put32(off+8, 0x1000)
	m.put32(off+12, rva)
	m.put32(off+16, 0x1000)
	m.put32(off+20, uint32(m.at(rva)))
	m.put32(off+36, chars)
}

func (m *testImage) sectionField(i, field int) int {
	return m.sectionTable() + i*sectionHeaderSize + field
}

func (m *testImage) setNumberOfSections(n uint16) { m.put16(imgLfanew+4+2, n) }
func (m *testImage) setFileCharacteristics(c uint16) { m.put16(imgLfanew+4+18, c) }
func (m *testImage) setEntryPoint(rva uint32) { m.put32(imgOptOffset+16, rva) }
func (m *testImage) setSizeOfImage(v uint32) { m.put32(imgOptOffset+56, v) }
func (m *testImage) setDllCharacteristics(c uint16) { m.put16(imgOptOffset+70, c) }

func (m *testImage) setDirectory(kind DirectoryKind, rva, size uint32) {
	off := imgOptOffset + m.optSize() + int(kind)*dataDirectorySize
	m.put32(off, rva)
	m.put32(off+4, size)
}

func (m *testImage) imageBase() uint64 {
	if m.is64 {
		return imgImageBase64
	}
	return imgImageBase32
}

func (m *testImage) parse(t *testing.T) *File {
	t.Helper()
	f, err := ParseBytes(m.buf)
	require.NoError(t, err)
	require.NotNil(t, f)
	return f
}

// utf16Bytes encodes s as little-endian UTF-16 without a terminator.
func utf16Bytes(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[2*i:], u)
	}
	return out
}

func sourceOf(b []byte) source.ByteSource {
	return source.NewMemory(b)
}
