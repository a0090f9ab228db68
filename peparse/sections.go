package peparse

import (
	"crypto/sha256"
	"fmt"
	"math"
	"strings"

	"petriage/common"
	"petriage/source"
)

const maxHashedBytes = 64 << 20

type rawRange struct {
	offset uint64
	size   uint32
}

type rangeDigest struct {
	entropy float64
	sha256  string
}

// sectionHasher fills section hashes and entropy. Ranges shared by several
// headers are scanned once and budget caps the bytes scanned per parse.
type sectionHasher struct {
	src       source.ByteSource
	budget    uint64
	seen      map[rawRange]rangeDigest
	exhausted bool
}

func newSectionHasher(src source.ByteSource, budget uint64) *sectionHasher {
	return &sectionHasher{src: src, budget: budget, seen: make(map[rawRange]rangeDigest)}
}

func decodeSectionHeader(r *leReader, s *Section) bool {
	return r.bytes(s.RawName[:]) &&
		r.u32(&s.VirtualSize) && r.u32(&s.VirtualAddress) &&
		r.u32(&s.SizeOfRawData) && r.u32(&s.PointerToRawData) &&
		r.u32(&s.PointerToRelocations) && r.u32(&s.PointerToLinenumbers) &&
		r.u16(&s.NumberOfRelocations) && r.u16(&s.NumberOfLinenumbers) &&
		r.u32(&s.Characteristics)
}

// buildSections decodes the section table and validates the count, the
// virtual layout of adjacent sections and duplicate names.
func buildSections(src source.ByteSource, h *Headers, diags *common.Diagnostics) ([]Section, *common.OperationResult) {
	count := int(h.File.NumberOfSections)
	if count < 1 || count > MaxSections {
		diags.Errorf("Invalid number of sections (%d)", count)
		return []Section{}, common.NewFailed("invalid section count", 0)
	}

	sections := make([]Section, 0, count)
	hasher := newSectionHasher(src, MaxSectionHashBytes)
	unreadable := 0
	for i := 0; i < count; i++ {
		off := h.SectionTableOffset + uint64(i*sectionHeaderSize)
		s, ok := readRecord(src, off, sectionHeaderSize, decodeSectionHeader)
		if !ok {
			diags.Warnf("Unable to read section header #%d at offset 0x%X", i+1, off)
			s = Section{}
			unreadable++
		}
		s.Index = i
		s.Name = sanitizeSectionName(s.RawName, i)
		s.IsExecutable = s.Characteristics&SectionExecute != 0
		s.IsReadable = s.Characteristics&SectionRead != 0
		s.IsWritable = s.Characteristics&SectionWrite != 0
		hasher.fill(&s)
		sections = append(sections, s)
	}
	if hasher.exhausted {
		diags.Warnf("Section data exceeds %d bytes, remaining sections were not hashed", uint64(MaxSectionHashBytes))
	}

	align := uint64(h.Optional.SectionAlignment)
	for i := 0; i+1 < len(sections); i++ {
		cur, next := &sections[i], &sections[i+1]
		expected := uint64(cur.VirtualAddress) + SectionAlign(uint64(cur.VirtualSize), align)
		if expected != uint64(next.VirtualAddress) {
			diags.Errorf("Section %d and %d are not consecutive.", i+1, i+2)
		}
		if cur.RawName == next.RawName {
			diags.Warnf("Sections %d and %d have the same name: [%s]", i+1, i+2, cur.Name)
		}
	}

	if unreadable > 0 {
		return sections, common.NewFailed(fmt.Sprintf("%d unreadable section headers", unreadable), len(sections))
	}
	return sections, common.NewApplied("section table", len(sections))
}

// sanitizeSectionName produces a printable display name. Raw names are
// kept on the Section for comparisons.
func sanitizeSectionName(raw [8]byte, index int) string {
	name := strings.TrimRight(string(raw[:]), "\x00")
	if len(name) == 0 {
		return fmt.Sprintf("<unnamed_%d>", index)
	}

	nonPrintable := 0
	for i := 0; i < len(name); i++ {
		if name[i] < 32 || name[i] > 126 {
			nonPrintable++
		}
	}
	if nonPrintable == 0 {
		return name
	}
	if nonPrintable > len(name)/2 {
		return fmt.Sprintf("<mangled_%d>", index)
	}
	return strings.Map(func(r rune) rune {
		if r < 32 || r > 126 {
			return '?'
		}
		return r
	}, name)
}

func (h *sectionHasher) fill(s *Section) {
	if s.SizeOfRawData == 0 {
		return
	}
	key := rawRange{offset: uint64(s.PointerToRawData), size: s.SizeOfRawData}
	if d, ok := h.seen[key]; ok {
		s.Entropy, s.SHA256Hash = d.entropy, d.sha256
		return
	}
	data := h.src.Slice(key.offset, int(min(uint64(key.size), maxHashedBytes)))
	if len(data) == 0 {
		return
	}
	if uint64(len(data)) > h.budget {
		h.exhausted = true
		return
	}
	h.budget -= uint64(len(data))

	d := rangeDigest{entropy: CalculateEntropy(data), sha256: fmt.Sprintf("%x", sha256.Sum256(data))}
	h.seen[key] = d
	s.Entropy, s.SHA256Hash = d.entropy, d.sha256
}

// CalculateEntropy returns the Shannon entropy of data in bits per byte.
func CalculateEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0.0
	}
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}
	entropy := 0.0
	length := float64(len(data))
	for _, count := range freq {
		if count > 0 {
			p := float64(count) / length
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// computeLayout derives the raw and virtual extents of the image, checks
// them against the file size and SizeOfImage, and locates any overlay.
func computeLayout(src source.ByteSource, h *Headers, sections []Section, diags *common.Diagnostics) (Layout, *common.OperationResult) {
	fileSize := src.Size()
	layout := Layout{
		ComputedSize:            fileSize,
		ComputedWithCertificate: fileSize,
	}
	if len(sections) == 0 {
		return layout, common.NewSkipped("no sections")
	}

	var rawEnd, virtEnd uint64
	for i := range sections {
		s := &sections[i]
		if s.SizeOfRawData > 0 {
			rawEnd = max(rawEnd, uint64(s.PointerToRawData)+uint64(s.SizeOfRawData))
		}
		virtEnd = max(virtEnd, uint64(s.VirtualAddress)+uint64(s.VirtualSize))
	}
	layout.VirtualComputedSize = virtEnd

	last := &sections[len(sections)-1]
	if last.SizeOfRawData == 0 {
		diags.Warnf("File is using LastSection.SizeOfRawData = 0 trick")
		layout.ComputedSize = fileSize
	} else {
		layout.ComputedSize = rawEnd
	}

	if layout.ComputedSize > fileSize {
		missing := layout.ComputedSize - fileSize
		diags.Errorf("File is truncated. Missing %d bytes (%3d%%)", missing, missing*100/layout.ComputedSize)
	}

	layout.ComputedWithCertificate = layout.ComputedSize
	if sec := h.Directory(DirSecurity); sec.VirtualAddress > 0 && sec.Size > 0 {
		start := uint64(sec.VirtualAddress)
		if start < layout.ComputedSize {
			diags.Warnf("Security certificate starts within the file")
		}
		layout.ComputedWithCertificate = max(layout.ComputedWithCertificate, start+uint64(sec.Size))
	}

	align := uint64(h.Optional.SectionAlignment)
	virtualEnd := uint64(last.VirtualAddress) + uint64(last.VirtualSize)
	expected := SectionAlign(virtualEnd, align)
	if sizeOfImage := uint64(h.Optional.SizeOfImage); sizeOfImage != expected {
		diags.Errorf("SizeOfImage is invalid (0x%X, expected 0x%X)", sizeOfImage, expected)
	}

	detectOverlay(src, &layout)
	return layout, common.NewApplied("layout", 0)
}

// detectOverlay marks bytes past the sections and certificate as overlay.
func detectOverlay(src source.ByteSource, layout *Layout) {
	fileSize := src.Size()
	if layout.ComputedWithCertificate >= fileSize {
		return
	}
	layout.HasOverlay = true
	layout.OverlayOffset = layout.ComputedWithCertificate
	layout.OverlaySize = fileSize - layout.ComputedWithCertificate
	data := src.Slice(layout.OverlayOffset, int(min(layout.OverlaySize, maxHashedBytes)))
	layout.OverlayEntropy = CalculateEntropy(data)
}
