package peparse

import (
	"github.com/pkg/errors"

	"petriage/common"
	"petriage/source"
)

var (
	// ErrFatal is wrapped by every error returned for an image whose
	// headers cannot be used.
	ErrFatal = errors.New("fatal PE header error")
	// ErrUnsupportedMagic is returned for ROM images and unknown optional
	// header magics.
	ErrUnsupportedMagic = errors.WithMessage(ErrFatal, "unsupported optional header magic")
)

// fatalError records a Fatal diagnostic and builds the matching error
// around sentinel, which defaults to ErrFatal.
func fatalError(diags *common.Diagnostics, sentinel error, format string, args ...any) error {
	diags.Fatalf(format, args...)
	if sentinel == nil {
		sentinel = ErrFatal
	}
	return errors.Wrapf(sentinel, format, args...)
}

func decodeDOSHeader(r *leReader, h *DOSHeader) bool {
	ok := r.u16(&h.Magic) && r.u16(&h.BytesOnLastPage) && r.u16(&h.Pages) &&
		r.u16(&h.Relocations) && r.u16(&h.HeaderParagraphs) && r.u16(&h.MinAlloc) &&
		r.u16(&h.MaxAlloc) && r.u16(&h.InitialSS) && r.u16(&h.InitialSP) &&
		r.u16(&h.Checksum) && r.u16(&h.InitialIP) && r.u16(&h.InitialCS) &&
		r.u16(&h.RelocTable) && r.u16(&h.Overlay)
	for i := range h.Reserved {
		ok = ok && r.u16(&h.Reserved[i])
	}
	ok = ok && r.u16(&h.OEMID) && r.u16(&h.OEMInfo)
	for i := range h.Reserved2 {
		ok = ok && r.u16(&h.Reserved2[i])
	}
	return ok && r.u32(&h.Lfanew)
}

func decodeFileHeader(r *leReader, h *FileHeader) bool {
	return r.u16(&h.Machine) && r.u16(&h.NumberOfSections) && r.u32(&h.TimeDateStamp) &&
		r.u32(&h.PointerToSymbolTable) && r.u32(&h.NumberOfSymbols) &&
		r.u16(&h.SizeOfOptionalHeader) && r.u16(&h.Characteristics)
}

// decodeOptionalHeader reads the fixed part of the optional header. The
// layout is chosen by h.Is64, set by the caller from the magic.
func decodeOptionalHeader(r *leReader, h *OptionalHeader) bool {
	ok := r.u16(&h.Magic) && r.u8(&h.MajorLinkerVersion) && r.u8(&h.MinorLinkerVersion) &&
		r.u32(&h.SizeOfCode) && r.u32(&h.SizeOfInitializedData) &&
		r.u32(&h.SizeOfUninitializedData) && r.u32(&h.AddressOfEntryPoint) &&
		r.u32(&h.BaseOfCode)
	if !ok {
		return false
	}
	if !h.Is64 && !r.u32(&h.BaseOfData) {
		return false
	}
	return r.u32or64(h.Is64, &h.ImageBase) &&
		r.u32(&h.SectionAlignment) && r.u32(&h.FileAlignment) &&
		r.u16(&h.MajorOperatingSystemVersion) && r.u16(&h.MinorOperatingSystemVersion) &&
		r.u16(&h.MajorImageVersion) && r.u16(&h.MinorImageVersion) &&
		r.u16(&h.MajorSubsystemVersion) && r.u16(&h.MinorSubsystemVersion) &&
		r.u32(&h.Win32VersionValue) && r.u32(&h.SizeOfImage) &&
		r.u32(&h.SizeOfHeaders) && r.u32(&h.CheckSum) &&
		r.u16(&h.Subsystem) && r.u16(&h.DllCharacteristics) &&
		r.u32or64(h.Is64, &h.SizeOfStackReserve) && r.u32or64(h.Is64, &h.SizeOfStackCommit) &&
		r.u32or64(h.Is64, &h.SizeOfHeapReserve) && r.u32or64(h.Is64, &h.SizeOfHeapCommit) &&
		r.u32(&h.LoaderFlags) && r.u32(&h.NumberOfRvaAndSizes)
}

func decodeDataDirectory(r *leReader, d *DataDirectory) bool {
	return r.u32(&d.VirtualAddress) && r.u32(&d.Size)
}

// loadHeaders decodes the DOS header, the NT signature and file header,
// and the optional header with its data directories. Any failure that
// leaves the image unusable is Fatal and returned as an error wrapping
// ErrFatal.
func loadHeaders(src source.ByteSource, diags *common.Diagnostics) (*Headers, error) {
	h := &Headers{}

	dos, ok := readRecord(src, 0, dosHeaderSize, decodeDOSHeader)
	if !ok {
		return nil, fatalError(diags, nil, "Unable to read IMAGE_DOS_HEADER (file has %d bytes)", src.Size())
	}
	h.DOS = dos
	if dos.Magic != magicDOS {
		diags.Warnf("Invalid DOS signature (0x%04X)", dos.Magic)
	}

	ntOffset := uint64(dos.Lfanew)
	sig, ok := readU32(src, ntOffset)
	if !ok {
		return nil, fatalError(diags, nil, "Unable to read NT header signature at offset 0x%X", ntOffset)
	}
	h.Signature = sig
	if sig != magicNT {
		diags.Warnf("Invalid NT header signature (0x%08X)", sig)
	}

	fh, ok := readRecord(src, ntOffset+4, fileHeaderSize, decodeFileHeader)
	if !ok {
		return nil, fatalError(diags, nil, "Unable to read IMAGE_FILE_HEADER at offset 0x%X", ntOffset+4)
	}
	h.File = fh

	optOffset := ntOffset + 4 + fileHeaderSize
	h.SectionTableOffset = optOffset + uint64(fh.SizeOfOptionalHeader)

	magic, ok := readU16(src, optOffset)
	if !ok {
		return nil, fatalError(diags, nil, "Unable to read optional header magic at offset 0x%X", optOffset)
	}

	var fixedSize int
	switch magic {
	case magicPE32:
		fixedSize = optionalHeader32Size
	case magicPE64:
		fixedSize = optionalHeader64Size
	case magicROM:
		return nil, fatalError(diags, ErrUnsupportedMagic, "ROM images are not supported (optional header magic 0x%04X)", magic)
	default:
		return nil, fatalError(diags, ErrUnsupportedMagic, "Unsupported optional header magic (0x%04X)", magic)
	}

	opt, ok := readRecord(src, optOffset, fixedSize, func(r *leReader, o *OptionalHeader) bool {
		o.Is64 = magic == magicPE64
		return decodeOptionalHeader(r, o)
	})
	if !ok {
		return nil, fatalError(diags, nil, "Unable to read %s optional header at offset 0x%X", peKind(magic), optOffset)
	}

	dirOffset := optOffset + uint64(fixedSize)
	for i := 0; i < numDataDirectory; i++ {
		d, ok := readRecord(src, dirOffset+uint64(i*dataDirectorySize), dataDirectorySize, decodeDataDirectory)
		if !ok {
			diags.Warnf("Data directory array is truncated (%d of %d entries readable)", i, numDataDirectory)
			break
		}
		opt.DataDirectory[i] = d
	}
	h.Optional = opt

	if opt.DllCharacteristics&dllCharAppContainer != 0 {
		diags.Warnf("Image should execute in an AppContainer")
	}
	return h, nil
}

func peKind(magic uint16) string {
	if magic == magicPE64 {
		return "PE32+"
	}
	return "PE32"
}
