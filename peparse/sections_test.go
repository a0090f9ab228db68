package peparse

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petriage/common"
)

func TestInvalidSectionCount(t *testing.T) {
	for _, n := range []uint16{0, MaxSections + 1} {
		m := newTestImage(false)
		m.setNumberOfSections(n)
		f := m.parse(t)
		assert.Empty(t, f.Sections)
		assert.Contains(t, f.Diagnostics.Messages(common.SeverityError), fmt.Sprintf("Invalid number of sections (%d)", n))

		// Nothing translates without sections.
		_, ok := f.Translator().RVAToFile(textRVA)
		assert.False(t, ok)
		assert.Contains(t, f.Diagnostics.Messages(common.SeverityWarning), "EP is not inside any section")
	}
}

func TestSectionRecords(t *testing.T) {
	f := newTestImage(false).parse(t)
	require.Len(t, f.Sections, 3)

	text := f.Sections[0]
	assert.Equal(t, ".text", text.Name)
	assert.Equal(t, uint32(textRVA), text.VirtualAddress)
	assert.Equal(t, uint32(0x400), text.PointerToRawData)
	assert.True(t, text.IsExecutable)
	assert.True(t, text.IsReadable)
	assert.False(t, text.IsWritable)
	assert.NotEmpty(t, text.SHA256Hash)
	assert.Greater(t, text.Entropy, 0.0)

	data := f.Sections[2]
	assert.Equal(t, 2, data.Index)
	assert.True(t, data.IsWritable)
	assert.False(t, data.IsExecutable)
}

func TestSectionsNotConsecutive(t *testing.T) {
	m := newTestImage(false)
	m.put32(m.sectionField(2, 12), 0x3800)
	m.setSizeOfImage(0x5000)
	f := m.parse(t)
	assert.Equal(t, []string{"Section 2 and 3 are not consecutive."}, f.Diagnostics.Messages(common.SeverityError))
	assert.Empty(t, f.Diagnostics.Messages(common.SeverityWarning))
}

func TestDuplicateSectionNames(t *testing.T) {
	m := newTestImage(false)
	m.setSection(1, ".text", rdataRVA, SectionInitializedData|SectionRead)
	f := m.parse(t)
	assert.Equal(t, []string{"Sections 1 and 2 have the same name: [.text]"}, f.Diagnostics.Messages(common.SeverityWarning))
	assert.Empty(t, f.Diagnostics.Messages(common.SeverityError))
}

func TestSizeOfImageValidation(t *testing.T) {
	type sizeCase struct {
		name        string
		sizeOfImage uint32
		warnings    []string
		errors      []string
	}
	tests := []sizeCase{
		{name: "aligned", sizeOfImage: 0x4000},
		{
			name:        "unaligned end of last section",
			sizeOfImage: 0x3800,
			errors:      []string{"SizeOfImage is invalid (0x3800, expected 0x4000)"},
		},
		{
			name:        "one byte short",
			sizeOfImage: 0x3FFF,
			errors:      []string{"SizeOfImage is invalid (0x3FFF, expected 0x4000)"},
		},
		{
			name:        "invalid",
			sizeOfImage: 0x5000,
			errors:      []string{"SizeOfImage is invalid (0x5000, expected 0x4000)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestImage(false)
			m.put32(m.sectionField(2, 8), 0x800)
			m.setSizeOfImage(tt.sizeOfImage)
			f := m.parse(t)
			assert.Equal(t, tt.warnings, f.Diagnostics.Messages(common.SeverityWarning))
			assert.Equal(t, tt.errors, f.Diagnostics.Messages(common.SeverityError))
			assert.Equal(t, uint64(0x3800), f.Layout.VirtualComputedSize)
		})
	}
}

func TestTruncatedFile(t *testing.T) {
	m := newTestImage(false)
	f, err := ParseBytes(m.buf[:0x3000])
	require.NoError(t, err)
	assert.Contains(t, f.Diagnostics.Messages(common.SeverityError), "File is truncated. Missing 1024 bytes (  7%)")
	assert.Equal(t, uint64(0x3400), f.Layout.ComputedSize)
	assert.True(t, f.Valid)
}

func TestLastSectionRawSizeZero(t *testing.T) {
	m := newTestImage(false)
	m.put32(m.sectionField(2, 16), 0)
	f := m.parse(t)
	assert.Equal(t, []string{"File is using LastSection.SizeOfRawData = 0 trick"}, f.Diagnostics.Messages(common.SeverityWarning))
	assert.Equal(t, uint64(len(m.buf)), f.Layout.ComputedSize)
	assert.False(t, f.Layout.HasOverlay)
}

func TestOverlayDetection(t *testing.T) {
	m := newTestImage(false)
	m.buf = append(m.buf, bytes.Repeat([]byte{0xAA}, 0x200)...)
	f := m.parse(t)
	assert.Empty(t, f.Diagnostics.Items())
	assert.True(t, f.Layout.HasOverlay)
	assert.Equal(t, uint64(0x3400), f.Layout.OverlayOffset)
	assert.Equal(t, uint64(0x200), f.Layout.OverlaySize)
	assert.Equal(t, 0.0, f.Layout.OverlayEntropy)
}

func TestCertificateInsideSections(t *testing.T) {
	m := newTestImage(false)
	m.setDirectory(DirSecurity, 0x3000, 0x100)
	f := m.parse(t)
	warnings := f.Diagnostics.Messages(common.SeverityWarning)
	require.NotEmpty(t, warnings)
	assert.Equal(t, "Security certificate starts within the file", warnings[0])
	assert.Equal(t, uint64(0x3400), f.Layout.ComputedWithCertificate)
}

func TestSanitizeSectionName(t *testing.T) {
	name := func(s string) [8]byte {
		var raw [8]byte
		copy(raw[:], s)
		return raw
	}
	assert.Equal(t, ".text", sanitizeSectionName(name(".text"), 0))
	assert.Equal(t, ".textbss", sanitizeSectionName(name(".textbss"), 0))
	assert.Equal(t, "<unnamed_3>", sanitizeSectionName(name(""), 3))
	assert.Equal(t, "<mangled_1>", sanitizeSectionName(name("\x01\x02\x03a"), 1))
	assert.Equal(t, "UPX?0", sanitizeSectionName(name("UPX\x010"), 0))
}

func TestCalculateEntropy(t *testing.T) {
	assert.Equal(t, 0.0, CalculateEntropy(nil))
	assert.Equal(t, 0.0, CalculateEntropy(bytes.Repeat([]byte{7}, 64)))

	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	assert.InDelta(t, 8.0, CalculateEntropy(all), 1e-9)
}

func TestSectionAlign(t *testing.T) {
	assert.Equal(t, uint64(0x1000), SectionAlign(0, 0x1000))
	assert.Equal(t, uint64(0x1000), SectionAlign(1, 0x1000))
	assert.Equal(t, uint64(0x2000), SectionAlign(0x2000, 0x1000))
	assert.Equal(t, uint64(0x123), SectionAlign(0x123, 0))
}

func TestSectionHasherBudget(t *testing.T) {
	data := make([]byte, 0x200)
	for i := range data {
		data[i] = byte(i)
	}
	h := newSectionHasher(sourceOf(data), 0x100)

	shared := make([]Section, 3)
	for i := range shared {
		shared[i] = Section{PointerToRawData: 0, SizeOfRawData: 0x100}
		h.fill(&shared[i])
	}
	for _, s := range shared {
		assert.Equal(t, shared[0].SHA256Hash, s.SHA256Hash)
		assert.InDelta(t, 8.0, s.Entropy, 1e-9)
	}
	assert.NotEmpty(t, shared[0].SHA256Hash)
	assert.False(t, h.exhausted)
	assert.Equal(t, uint64(0), h.budget)

	other := Section{PointerToRawData: 0x100, SizeOfRawData: 0x100}
	h.fill(&other)
	assert.True(t, h.exhausted)
	assert.Empty(t, other.SHA256Hash)
	assert.Equal(t, 0.0, other.Entropy)
}

func TestSectionsSharingRawDataAreNotReported(t *testing.T) {
	m := newTestImage(false)
	for i := 1; i < 3; i++ {
		m.put32(m.sectionField(i, 20), textRVA-0xC00)
	}
	f := m.parse(t)
	assert.Equal(t, f.Sections[0].SHA256Hash, f.Sections[2].SHA256Hash)
	assert.NotContains(t, f.Diagnostics.Messages(common.SeverityWarning),
		fmt.Sprintf("Section data exceeds %d bytes, remaining sections were not hashed", uint64(MaxSectionHashBytes)))
}
