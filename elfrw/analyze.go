package elfrw

import (
	"fmt"
	"io"
	"strings"

	"petriage/common"
)

// Report prints a short table of the ELF image's sections and segments.
func (f *File) Report(w io.Writer, name string) {
	bits := "32"
	if f.Is64Bit {
		bits = "64"
	}
	fmt.Fprintf(w, "=== ELF File Analysis: %s ===\n", name)
	fmt.Fprintf(w, "File Format:     ELF (%s-bit)\n", bits)
	fmt.Fprintf(w, "File Type:       %s\n", getFileTypeString(f.FileType))
	fmt.Fprintf(w, "Status:          ⚠️  ELF image, PE analysis not applicable\n")

	fmt.Fprintf(w, "\n%s SECTIONS (%d)\n", common.SymbolInfo, len(f.Sections))
	for _, s := range f.Sections {
		fmt.Fprintf(w, "   %-20s %-14s 0x%08X %10s  %s\n",
			common.TruncateString(s.Name, 20), getSectionTypeString(s.Type),
			s.Offset, common.FormatFileSize(int64(s.Size)), getSectionFlagsString(s.Flags))
	}

	fmt.Fprintf(w, "\n%s SEGMENTS (%d)\n", common.SymbolInfo, len(f.Segments))
	for _, s := range f.Segments {
		fmt.Fprintf(w, "   %-12s 0x%08X %10s  %s\n",
			getSegmentTypeString(s.Type), s.Offset,
			common.FormatFileSize(int64(s.Size)), getSegmentFlagsString(s.Flags))
	}
}

func getFileTypeString(fileType uint16) string {
	switch fileType {
	case 1:
		return "Relocatable file"
	case 2:
		return "Executable file"
	case 3:
		return "Shared object file"
	case 4:
		return "Core file"
	default:
		return fmt.Sprintf("Unknown (%d)", fileType)
	}
}

func getSectionTypeString(sectionType uint32) string {
	switch sectionType {
	case 0:
		return "SHT_NULL"
	case 1:
		return "SHT_PROGBITS"
	case 2:
		return "SHT_SYMTAB"
	case 3:
		return "SHT_STRTAB"
	case 4:
		return "SHT_RELA"
	case 5:
		return "SHT_HASH"
	case 6:
		return "SHT_DYNAMIC"
	case 7:
		return "SHT_NOTE"
	case 8:
		return "SHT_NOBITS"
	case 9:
		return "SHT_REL"
	case 11:
		return "SHT_DYNSYM"
	default:
		return fmt.Sprintf("Unknown (0x%X)", sectionType)
	}
}

func getSectionFlagsString(flags uint64) string {
	var parts []string
	if flags&0x1 != 0 {
		parts = append(parts, "WRITE")
	}
	if flags&0x2 != 0 {
		parts = append(parts, "ALLOC")
	}
	if flags&0x4 != 0 {
		parts = append(parts, "EXECINSTR")
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, " | ")
}

func getSegmentTypeString(segmentType uint32) string {
	switch segmentType {
	case 0:
		return "PT_NULL"
	case 1:
		return "PT_LOAD"
	case 2:
		return "PT_DYNAMIC"
	case 3:
		return "PT_INTERP"
	case 4:
		return "PT_NOTE"
	case 5:
		return "PT_SHLIB"
	case 6:
		return "PT_PHDR"
	case 7:
		return "PT_TLS"
	default:
		return fmt.Sprintf("Unknown (0x%X)", segmentType)
	}
}

func getSegmentFlagsString(flags uint32) string {
	var parts []string
	if flags&0x4 != 0 {
		parts = append(parts, "READ")
	}
	if flags&0x2 != 0 {
		parts = append(parts, "WRITE")
	}
	if flags&0x1 != 0 {
		parts = append(parts, "EXECUTE")
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, " | ")
}
