package peparse

import (
	"encoding/json"

	"github.com/elliotchance/orderedmap/v2"

	"petriage/common"
)

// Limits applied to attacker-controlled counts.
const (
	MaxSections          = 256
	MaxImportedModules   = 1024
	MaxImportedFunctions = 4096 // per module
	MaxExportedFunctions = 0xFFFF
	MaxResourceEntries   = 1024 // per directory table
	MaxResourceDepth     = 3
	MaxResources         = 16384
	MaxResourceVisits    = 65536
	MaxDebugEntries      = 14
	MaxPDBName           = 255
	MaxVersionBuffer     = 64 * 1024
	MaxTLSCallbacks      = 64
	MaxCertificates      = 8
	MaxSectionHashBytes  = 256 << 20 // per parse

	maxNameLength           = 256
	maxResourceNameLength   = 255
	entryPointProbeSize     = 16
	numInterpretedDirectory = 15
	numDataDirectory        = 16
)

// Record sizes of the on-disk structures.
const (
	dosHeaderSize        = 0x40
	fileHeaderSize       = 20
	optionalHeader32Size = 96
	optionalHeader64Size = 112
	dataDirectorySize    = 8
	sectionHeaderSize    = 40
	exportDirectorySize  = 40
	importDescriptorSize = 20
	resourceDirSize      = 16
	resourceEntrySize    = 8
	resourceDataSize     = 16
	debugDirectorySize   = 28
	tls32Size            = 24
	tls64Size            = 40
	winCertificateSize   = 8
)

const (
	magicDOS   = 0x5A4D     // "MZ"
	magicNT    = 0x00004550 // "PE\0\0"
	magicPE32  = 0x10B
	magicPE64  = 0x20B
	magicROM   = 0x107
	lfanewOffs = 0x3C
)

// Section characteristics used by validation.
const (
	SectionCode              = 0x00000020
	SectionInitializedData   = 0x00000040
	SectionUninitializedData = 0x00000080
	SectionDiscardable       = 0x02000000
	SectionShared            = 0x10000000
	SectionExecute           = 0x20000000
	SectionRead              = 0x40000000
	SectionWrite             = 0x80000000
)

const (
	fileCharDLL         = 0x2000
	fileCharExecutable  = 0x0002
	dllCharAppContainer = 0x1000
)

type DOSHeader struct {
	Magic            uint16     `json:"magic"`
	BytesOnLastPage  uint16     `json:"bytes_on_last_page"`
	Pages            uint16     `json:"pages"`
	Relocations      uint16     `json:"relocations"`
	HeaderParagraphs uint16     `json:"header_paragraphs"`
	MinAlloc         uint16     `json:"min_alloc"`
	MaxAlloc         uint16     `json:"max_alloc"`
	InitialSS        uint16     `json:"initial_ss"`
	InitialSP        uint16     `json:"initial_sp"`
	Checksum         uint16     `json:"checksum"`
	InitialIP        uint16     `json:"initial_ip"`
	InitialCS        uint16     `json:"initial_cs"`
	RelocTable       uint16     `json:"reloc_table"`
	Overlay          uint16     `json:"overlay"`
	Reserved         [4]uint16  `json:"-"`
	OEMID            uint16     `json:"oem_id"`
	OEMInfo          uint16     `json:"oem_info"`
	Reserved2        [10]uint16 `json:"-"`
	Lfanew           uint32     `json:"lfanew"`
}

type FileHeader struct {
	Machine              uint16 `json:"machine"`
	NumberOfSections     uint16 `json:"number_of_sections"`
	TimeDateStamp        uint32 `json:"time_date_stamp"`
	PointerToSymbolTable uint32 `json:"pointer_to_symbol_table"`
	NumberOfSymbols      uint32 `json:"number_of_symbols"`
	SizeOfOptionalHeader uint16 `json:"size_of_optional_header"`
	Characteristics      uint16 `json:"characteristics"`
}

type DataDirectory struct {
	VirtualAddress uint32 `json:"virtual_address"`
	Size           uint32 `json:"size"`
}

// OptionalHeader holds both PE32 and PE32+ layouts. Pointer-sized fields
// are widened to 64 bits; BaseOfData only exists in PE32.
type OptionalHeader struct {
	Magic                       uint16 `json:"magic"`
	Is64                        bool   `json:"is64"`
	MajorLinkerVersion          uint8  `json:"major_linker_version"`
	MinorLinkerVersion          uint8  `json:"minor_linker_version"`
	SizeOfCode                  uint32 `json:"size_of_code"`
	SizeOfInitializedData       uint32 `json:"size_of_initialized_data"`
	SizeOfUninitializedData     uint32 `json:"size_of_uninitialized_data"`
	AddressOfEntryPoint         uint32 `json:"address_of_entry_point"`
	BaseOfCode                  uint32 `json:"base_of_code"`
	BaseOfData                  uint32 `json:"base_of_data,omitempty"`
	ImageBase                   uint64 `json:"image_base"`
	SectionAlignment            uint32 `json:"section_alignment"`
	FileAlignment               uint32 `json:"file_alignment"`
	MajorOperatingSystemVersion uint16 `json:"major_os_version"`
	MinorOperatingSystemVersion uint16 `json:"minor_os_version"`
	MajorImageVersion           uint16 `json:"major_image_version"`
	MinorImageVersion           uint16 `json:"minor_image_version"`
	MajorSubsystemVersion       uint16 `json:"major_subsystem_version"`
	MinorSubsystemVersion       uint16 `json:"minor_subsystem_version"`
	Win32VersionValue           uint32 `json:"win32_version_value"`
	SizeOfImage                 uint32 `json:"size_of_image"`
	SizeOfHeaders               uint32 `json:"size_of_headers"`
	CheckSum                    uint32 `json:"checksum"`
	Subsystem                   uint16 `json:"subsystem"`
	DllCharacteristics          uint16 `json:"dll_characteristics"`
	SizeOfStackReserve          uint64 `json:"size_of_stack_reserve"`
	SizeOfStackCommit           uint64 `json:"size_of_stack_commit"`
	SizeOfHeapReserve           uint64 `json:"size_of_heap_reserve"`
	SizeOfHeapCommit            uint64 `json:"size_of_heap_commit"`
	LoaderFlags                 uint32 `json:"loader_flags"`
	NumberOfRvaAndSizes         uint32 `json:"number_of_rva_and_sizes"`

	DataDirectory [numDataDirectory]DataDirectory `json:"data_directory"`
}

// Headers is the decoded DOS and NT header block.
type Headers struct {
	DOS       DOSHeader      `json:"dos"`
	Signature uint32         `json:"signature"`
	File      FileHeader     `json:"file"`
	Optional  OptionalHeader `json:"optional"`

	// SectionTableOffset is the file offset of the first section record.
	SectionTableOffset uint64 `json:"section_table_offset"`
}

// Directory returns the data directory entry of the given kind.
func (h *Headers) Directory(kind DirectoryKind) DataDirectory {
	if int(kind) < 0 || int(kind) >= numInterpretedDirectory {
		return DataDirectory{}
	}
	return h.Optional.DataDirectory[kind]
}

func (h *Headers) IsDLL() bool {
	return h.File.Characteristics&fileCharDLL != 0
}

type Section struct {
	Index                int     `json:"index"`
	RawName              [8]byte `json:"-"`
	Name                 string  `json:"name"`
	VirtualSize          uint32  `json:"virtual_size"`
	VirtualAddress       uint32  `json:"virtual_address"`
	SizeOfRawData        uint32  `json:"size_of_raw_data"`
	PointerToRawData     uint32  `json:"pointer_to_raw_data"`
	PointerToRelocations uint32  `json:"pointer_to_relocations"`
	PointerToLinenumbers uint32  `json:"pointer_to_linenumbers"`
	NumberOfRelocations  uint16  `json:"number_of_relocations"`
	NumberOfLinenumbers  uint16  `json:"number_of_linenumbers"`
	Characteristics      uint32  `json:"characteristics"`
	IsExecutable         bool    `json:"executable"`
	IsReadable           bool    `json:"readable"`
	IsWritable           bool    `json:"writable"`
	Entropy              float64 `json:"entropy"`
	SHA256Hash           string  `json:"sha256,omitempty"`
}

// Layout holds the sizes derived from the section table.
type Layout struct {
	ComputedSize            uint64  `json:"computed_size"`
	VirtualComputedSize     uint64  `json:"virtual_computed_size"`
	ComputedWithCertificate uint64  `json:"computed_with_certificate"`
	HasOverlay              bool    `json:"has_overlay"`
	OverlayOffset           uint64  `json:"overlay_offset,omitempty"`
	OverlaySize             uint64  `json:"overlay_size,omitempty"`
	OverlayEntropy          float64 `json:"overlay_entropy,omitempty"`
}

type ExportEntry struct {
	Name      string `json:"name"`
	Ordinal   uint32 `json:"ordinal"`
	RVA       uint32 `json:"rva"`
	Forwarder string `json:"forwarder,omitempty"`
}

type ExportTable struct {
	DLLName string        `json:"dll_name"`
	Base    uint32        `json:"base"`
	Entries []ExportEntry `json:"entries"`
}

type ImportedModule struct {
	NameRVA uint32 `json:"name_rva"`
	Name    string `json:"name"`
}

type ImportedFunction struct {
	Module    int    `json:"module"`
	IATSlot   uint64 `json:"iat_slot"`
	Name      string `json:"name"`
	Ordinal   uint16 `json:"ordinal,omitempty"`
	ByOrdinal bool   `json:"by_ordinal,omitempty"`
}

// ResourceNode is one leaf of the resource tree, flattened.
type ResourceNode struct {
	Type     uint32 `json:"type"`
	ID       uint32 `json:"id"`
	Language uint32 `json:"language"`
	Start    uint64 `json:"start"`
	Size     uint32 `json:"size"`
	CodePage uint32 `json:"code_page"`
	Name     string `json:"name,omitempty"`
}

type DebugEntry struct {
	Characteristics  uint32 `json:"characteristics"`
	TimeDateStamp    uint32 `json:"time_date_stamp"`
	MajorVersion     uint16 `json:"major_version"`
	MinorVersion     uint16 `json:"minor_version"`
	Type             uint32 `json:"type"`
	SizeOfData       uint32 `json:"size_of_data"`
	AddressOfRawData uint32 `json:"address_of_raw_data"`
	PointerToRawData uint32 `json:"pointer_to_raw_data"`
}

// DebugRecord is a decoded CodeView payload.
type DebugRecord struct {
	Signature string `json:"signature"` // "NB10" or "RSDS"
	PDBName   string `json:"pdb_name"`
	GUID      string `json:"guid,omitempty"`
	Stamp     uint32 `json:"stamp,omitempty"`
	Age       uint32 `json:"age"`
	GUIDAge   string `json:"guid_age"`
}

type DebugInfo struct {
	Entries []DebugEntry  `json:"entries"`
	Records []DebugRecord `json:"records"`
}

type TLSDirectory struct {
	Present               bool     `json:"present"`
	StartAddressOfRawData uint64   `json:"start_address_of_raw_data"`
	EndAddressOfRawData   uint64   `json:"end_address_of_raw_data"`
	AddressOfIndex        uint64   `json:"address_of_index"`
	AddressOfCallBacks    uint64   `json:"address_of_callbacks"`
	SizeOfZeroFill        uint32   `json:"size_of_zero_fill"`
	Characteristics       uint32   `json:"characteristics"`
	Callbacks             []uint64 `json:"callbacks,omitempty"`
}

type FixedFileInfo struct {
	FileVersion    string `json:"file_version"`
	ProductVersion string `json:"product_version"`
	FileFlagsMask  uint32 `json:"file_flags_mask"`
	FileFlags      uint32 `json:"file_flags"`
	FileOS         uint32 `json:"file_os"`
	FileType       uint32 `json:"file_type"`
	FileSubtype    uint32 `json:"file_subtype"`
}

type VersionInfo struct {
	Present      bool                                   `json:"present"`
	Fixed        *FixedFileInfo                         `json:"fixed,omitempty"`
	Strings      *orderedmap.OrderedMap[string, string] `json:"-"`
	Translations []string                               `json:"translations,omitempty"`
}

// StringPairs returns the version strings in file order.
func (v *VersionInfo) StringPairs() [][2]string {
	if v == nil || v.Strings == nil {
		return nil
	}
	out := make([][2]string, 0, v.Strings.Len())
	for el := v.Strings.Front(); el != nil; el = el.Next() {
		out = append(out, [2]string{el.Key, el.Value})
	}
	return out
}

// Lookup returns a version string by key.
func (v *VersionInfo) Lookup(key string) (string, bool) {
	if v == nil || v.Strings == nil {
		return "", false
	}
	return v.Strings.Get(key)
}

// MarshalJSON emits the string table as an ordered list of pairs.
func (v VersionInfo) MarshalJSON() ([]byte, error) {
	type versionString struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	type plain VersionInfo
	out := struct {
		plain
		Strings []versionString `json:"strings,omitempty"`
	}{plain: plain(v)}
	for _, kv := range v.StringPairs() {
		out.Strings = append(out.Strings, versionString{Key: kv[0], Value: kv[1]})
	}
	return json.Marshal(out)
}

type CertificateSummary struct {
	Subject      string `json:"subject"`
	Issuer       string `json:"issuer"`
	SerialNumber string `json:"serial_number"`
	NotBefore    string `json:"not_before"`
	NotAfter     string `json:"not_after"`
}

type CertificateEntry struct {
	Offset       uint64               `json:"offset"`
	Length       uint32               `json:"length"`
	Revision     uint16               `json:"revision"`
	Type         uint16               `json:"type"`
	Certificates []CertificateSummary `json:"certificates,omitempty"`
}

type CertificateTable struct {
	Present bool               `json:"present"`
	Entries []CertificateEntry `json:"entries,omitempty"`
}

// Stage records the outcome of one parsing stage.
type Stage struct {
	Name   string
	Result *common.OperationResult
}

// File is the decoded model of one PE image. It is built once by Parse
// and not modified afterwards.
type File struct {
	Size    uint64   `json:"size"`
	Valid   bool     `json:"valid"`
	Headers *Headers `json:"headers,omitempty"`

	Sections []Section `json:"sections"`
	Layout   Layout    `json:"layout"`

	Exports         *ExportTable       `json:"exports,omitempty"`
	ImportedModules []ImportedModule   `json:"imported_modules"`
	Imports         []ImportedFunction `json:"imports"`
	Resources       []ResourceNode     `json:"resources"`
	Debug           *DebugInfo         `json:"debug,omitempty"`
	TLS             TLSDirectory       `json:"tls"`
	Version         VersionInfo        `json:"version"`
	Certificate     CertificateTable   `json:"certificate"`

	Stages      []Stage             `json:"-"`
	Diagnostics *common.Diagnostics `json:"diagnostics"`

	translator *Translator
}

// Translator returns the address translator built for this image. It is
// nil when the headers could not be decoded.
func (f *File) Translator() *Translator {
	return f.translator
}

// Is64 reports whether the image uses the PE32+ layout.
func (f *File) Is64() bool {
	return f.Headers != nil && f.Headers.Optional.Is64
}
