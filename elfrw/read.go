package elfrw

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/yalue/elf_reader"
)

var elfMagic = []byte{0x7F, 'E', 'L', 'F'}

// ErrNotELF is returned by Probe when the data does not start with the ELF magic.
var ErrNotELF = errors.New("not an ELF image")

type Section struct {
	Name   string `json:"name"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
	Type   uint32 `json:"type"`
	Flags  uint64 `json:"flags"`
	Index  uint16 `json:"index"`
}

type Segment struct {
	Offset   uint64 `json:"offset"`
	Size     uint64 `json:"size"`
	Type     uint32 `json:"type"`
	Flags    uint32 `json:"flags"`
	Loadable bool   `json:"loadable"`
	Index    uint16 `json:"index"`
}

// File is the summary petriage prints for inputs that turn out to be ELF
// rather than PE images.
type File struct {
	Is64Bit  bool      `json:"is_64_bit"`
	FileType uint16    `json:"file_type"`
	Sections []Section `json:"sections"`
	Segments []Segment `json:"segments"`
}

// IsELF reports whether data starts with the ELF magic.
func IsELF(data []byte) bool {
	return bytes.HasPrefix(data, elfMagic)
}

// Probe parses the section and program header tables of an ELF image.
// Unreadable individual headers are skipped.
func Probe(data []byte) (*File, error) {
	if !IsELF(data) {
		return nil, ErrNotELF
	}

	elfFile, err := elf_reader.ParseELFFile(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse ELF file")
	}

	return &File{
		Is64Bit:  len(data) > 4 && data[4] == 2,
		FileType: uint16(elfFile.GetFileType()),
		Sections: parseSections(elfFile),
		Segments: parseSegments(elfFile),
	}, nil
}

// IsExecutableOrShared reports whether the image is ET_EXEC or ET_DYN.
func (f *File) IsExecutableOrShared() bool {
	return f.FileType == 2 || f.FileType == 3
}

func parseSections(ef elf_reader.ELFFile) []Section {
	count := ef.GetSectionCount()
	sections := make([]Section, 0, count)
	for i := uint16(0); i < count; i++ {
		header, err := ef.GetSectionHeader(i)
		if err != nil {
			continue
		}
		name, _ := ef.GetSectionName(i)
		sections = append(sections, Section{
			Name:   name,
			Offset: header.GetFileOffset(),
			Size:   header.GetSize(),
			Type:   uint32(header.GetType()),
			Flags:  parseFlags(header.GetFlags()),
			Index:  i,
		})
	}
	return sections
}

func parseSegments(ef elf_reader.ELFFile) []Segment {
	count := ef.GetSegmentCount()
	segments := make([]Segment, 0, count)
	for i := uint16(0); i < count; i++ {
		phdr, err := ef.GetProgramHeader(i)
		if err != nil {
			continue
		}
		segments = append(segments, Segment{
			Offset:   phdr.GetFileOffset(),
			Size:     phdr.GetFileSize(),
			Type:     uint32(phdr.GetType()),
			Flags:    uint32(phdr.GetFlags()),
			Loadable: phdr.GetType() == elf_reader.ProgramHeaderType(1),
			Index:    i,
		})
	}
	return segments
}

func parseFlags(flags elf_reader.ELFSectionFlags) uint64 {
	var result uint64
	if flags.Executable() {
		result |= 0x4
	}
	if flags.Allocated() {
		result |= 0x2
	}
	if flags.Writable() {
		result |= 0x1
	}
	return result
}
