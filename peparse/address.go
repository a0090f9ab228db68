package peparse

import "fmt"

// AddressKind names one of the three coordinate systems of an image.
type AddressKind int

const (
	// AddressFA is a byte offset in the file on disk.
	AddressFA AddressKind = iota
	// AddressRVA is an offset from the image base once mapped.
	AddressRVA
	// AddressVA is an RVA plus the preferred image base.
	AddressVA
)

func (k AddressKind) String() string {
	switch k {
	case AddressFA:
		return "FA"
	case AddressRVA:
		return "RVA"
	case AddressVA:
		return "VA"
	default:
		return fmt.Sprintf("AddressKind(%d)", int(k))
	}
}

// InvalidAddress is returned together with ok == false by every
// conversion that fails.
const InvalidAddress = ^uint64(0)

// Translator converts between file offsets, RVAs and VAs using a
// section table. It never reads the image and holds no mutable state.
type Translator struct {
	sections  []Section
	imageBase uint64
}

func NewTranslator(sections []Section, imageBase uint64) *Translator {
	return &Translator{sections: sections, imageBase: imageBase}
}

func (t *Translator) ImageBase() uint64 {
	return t.imageBase
}

// RVAToFile maps an RVA to a file offset. RVAs below the first section are
// invalid. The owning section is the last one starting at or before the
// RVA, so addresses past every section fall into the last one.
func (t *Translator) RVAToFile(rva uint64) (uint64, bool) {
	if len(t.sections) == 0 || rva < uint64(t.sections[0].VirtualAddress) {
		return InvalidAddress, false
	}
	owner := len(t.sections) - 1
	for i := 1; i < len(t.sections); i++ {
		if rva < uint64(t.sections[i].VirtualAddress) {
			owner = i - 1
			break
		}
	}
	s := &t.sections[owner]
	return uint64(s.PointerToRawData) + (rva - uint64(s.VirtualAddress)), true
}

// FileToRVA maps a file offset back to an RVA. The offset must lie in a
// mapped section's raw data and inside its virtual size.
func (t *Translator) FileToRVA(fa uint64) (uint64, bool) {
	for i := range t.sections {
		s := &t.sections[i]
		start := uint64(s.PointerToRawData)
		if s.VirtualAddress == 0 || fa < start || fa >= start+uint64(s.SizeOfRawData) {
			continue
		}
		delta := fa - start
		if delta < uint64(s.VirtualSize) {
			return uint64(s.VirtualAddress) + delta, true
		}
	}
	return InvalidAddress, false
}

func (t *Translator) RVAToVA(rva uint64) (uint64, bool) {
	va := rva + t.imageBase
	if va < rva {
		return InvalidAddress, false
	}
	return va, true
}

// VAToRVA subtracts the image base. Addresses at or below the base are invalid.
func (t *Translator) VAToRVA(va uint64) (uint64, bool) {
	if va <= t.imageBase {
		return InvalidAddress, false
	}
	return va - t.imageBase, true
}

func (t *Translator) FileToVA(fa uint64) (uint64, bool) {
	rva, ok := t.FileToRVA(fa)
	if !ok {
		return InvalidAddress, false
	}
	return t.RVAToVA(rva)
}

func (t *Translator) VAToFile(va uint64) (uint64, bool) {
	rva, ok := t.VAToRVA(va)
	if !ok {
		return InvalidAddress, false
	}
	return t.RVAToFile(rva)
}

// Convert translates addr between any two address kinds.
func (t *Translator) Convert(addr uint64, from, to AddressKind) (uint64, bool) {
	if from == to {
		switch from {
		case AddressFA, AddressRVA, AddressVA:
			return addr, true
		default:
			return InvalidAddress, false
		}
	}
	switch {
	case from == AddressFA && to == AddressRVA:
		return t.FileToRVA(addr)
	case from == AddressFA && to == AddressVA:
		return t.FileToVA(addr)
	case from == AddressRVA && to == AddressFA:
		return t.RVAToFile(addr)
	case from == AddressRVA && to == AddressVA:
		return t.RVAToVA(addr)
	case from == AddressVA && to == AddressFA:
		return t.VAToFile(addr)
	case from == AddressVA && to == AddressRVA:
		return t.VAToRVA(addr)
	}
	return InvalidAddress, false
}

// SectionIndex returns the index of the section whose virtual range
// contains rva, or -1. A zero virtual size falls back to the raw size.
func (t *Translator) SectionIndex(rva uint64) int {
	for i := range t.sections {
		s := &t.sections[i]
		size := uint64(s.VirtualSize)
		if size == 0 {
			size = uint64(s.SizeOfRawData)
		}
		start := uint64(s.VirtualAddress)
		if rva >= start && rva < start+size {
			return i
		}
	}
	return -1
}
