package peparse

import (
	"fmt"
	"strings"
)

// DirectoryKind identifies one of the interpreted data directory slots.
type DirectoryKind int

const (
	DirExport DirectoryKind = iota
	DirImport
	DirResource
	DirException
	DirSecurity
	DirBaseReloc
	DirDebug
	DirArchitecture
	DirGlobalPtr
	DirTLS
	DirLoadConfig
	DirBoundImport
	DirIAT
	DirDelayImport
	DirComRuntime
)

var directoryNames = [numInterpretedDirectory]string{
	"Export",
	"Import",
	"Resource",
	"Exceptions",
	"Security",
	"Base Reloc",
	"Debug",
	"Architecture",
	"Global Ptr",
	"TLS",
	"Load Config",
	"Bound Import",
	"IAT",
	"Delay Import Desc",
	"COM+ Runtime",
}

func (k DirectoryKind) String() string {
	if k < 0 || int(k) >= len(directoryNames) {
		return fmt.Sprintf("Directory #%d", int(k))
	}
	return directoryNames[k]
}

// DirectoryKinds lists every interpreted directory in slot order.
func DirectoryKinds() []DirectoryKind {
	kinds := make([]DirectoryKind, numInterpretedDirectory)
	for i := range kinds {
		kinds[i] = DirectoryKind(i)
	}
	return kinds
}

var machineNames = map[uint16]string{
	0x0000: "Unknown",
	0x014c: "Intel 386",
	0x0162: "MIPS R3000",
	0x0166: "MIPS R4000",
	0x0168: "MIPS R10000",
	0x0169: "MIPS WCE v2",
	0x0184: "Alpha AXP",
	0x01a2: "Hitachi SH3",
	0x01a3: "Hitachi SH3 DSP",
	0x01a6: "Hitachi SH4",
	0x01a8: "Hitachi SH5",
	0x01c0: "ARM",
	0x01c2: "ARM Thumb",
	0x01c4: "ARM Thumb-2",
	0x01d3: "Matsushita AM33",
	0x01f0: "PowerPC",
	0x01f1: "PowerPC FP",
	0x0200: "Intel Itanium",
	0x0266: "MIPS16",
	0x0284: "Alpha64",
	0x0366: "MIPS FPU",
	0x0466: "MIPS16 FPU",
	0x0520: "Infineon TriCore",
	0x0cef: "CEF",
	0x0ebc: "EFI Byte Code",
	0x5032: "RISC-V 32",
	0x5064: "RISC-V 64",
	0x5128: "RISC-V 128",
	0x6232: "LoongArch 32",
	0x6264: "LoongArch 64",
	0x8664: "AMD64",
	0x9041: "Mitsubishi M32R",
	0xa641: "ARM64EC",
	0xa64e: "ARM64X",
	0xaa64: "ARM64",
	0xc0ee: "CEE",
}

// MachineName returns the display name of a FileHeader.Machine value.
func MachineName(machine uint16) string {
	if name, ok := machineNames[machine]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (0x%04X)", machine)
}

var subsystemNames = map[uint16]string{
	0:  "Unknown",
	1:  "Native",
	2:  "Windows GUI",
	3:  "Windows Console",
	5:  "OS/2 Console",
	7:  "POSIX Console",
	8:  "Native Win9x Driver",
	9:  "Windows CE GUI",
	10: "EFI Application",
	11: "EFI Boot Service Driver",
	12: "EFI Runtime Driver",
	13: "EFI ROM",
	14: "Xbox",
	16: "Windows Boot Application",
}

// SubsystemName returns the display name of an OptionalHeader.Subsystem value.
func SubsystemName(subsystem uint16) string {
	if name, ok := subsystemNames[subsystem]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (%d)", subsystem)
}

// Resource type identifiers.
const (
	RTCursor       = 1
	RTBitmap       = 2
	RTIcon         = 3
	RTMenu         = 4
	RTDialog       = 5
	RTString       = 6
	RTFontDir      = 7
	RTFont         = 8
	RTAccelerator  = 9
	RTRCData       = 10
	RTMessageTable = 11
	RTGroupCursor  = 12
	RTGroupIcon    = 14
	RTVersion      = 16
	RTDlgInclude   = 17
	RTPlugPlay     = 19
	RTVXD          = 20
	RTAniCursor    = 21
	RTAniIcon      = 22
	RTHTML         = 23
	RTManifest     = 24
)

var resourceTypeNames = map[uint32]string{
	RTCursor:       "Cursor",
	RTBitmap:       "Bitmap",
	RTIcon:         "Icon",
	RTMenu:         "Menu",
	RTDialog:       "Dialog",
	RTString:       "String",
	RTFontDir:      "FontDir",
	RTFont:         "Font",
	RTAccelerator:  "Accelerator",
	RTRCData:       "RCData",
	RTMessageTable: "MessageTable",
	RTGroupCursor:  "Group Cursor",
	RTGroupIcon:    "Group Icon",
	RTVersion:      "Version",
	RTDlgInclude:   "DLG Include",
	RTPlugPlay:     "Plug & Play",
	RTVXD:          "VXD",
	RTAniCursor:    "Animated Cursor",
	RTAniIcon:      "Animated Icon",
	RTHTML:         "Html",
	RTManifest:     "Manifest",
}

// ResourceTypeName returns the display name of a resource type id.
func ResourceTypeName(t uint32) string {
	if name, ok := resourceTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (%d)", t)
}

var debugTypeNames = map[uint32]string{
	0:  "Unknown",
	1:  "COFF",
	2:  "CodeView",
	3:  "FPO",
	4:  "Misc",
	5:  "Exception",
	6:  "Fixup",
	7:  "OMAP to Src",
	8:  "OMAP from Src",
	9:  "Borland",
	10: "Reserved10",
	11: "CLSID",
	12: "VC Feature",
	13: "POGO",
	14: "ILTCG",
	15: "MPX",
	16: "Repro",
	20: "Ex DLL Characteristics",
}

// DebugTypeName returns the display name of a debug directory type.
func DebugTypeName(t uint32) string {
	if name, ok := debugTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (%d)", t)
}

type flagName struct {
	mask uint32
	name string
}

var sectionFlagNames = []flagName{
	{SectionCode, "CODE"},
	{SectionInitializedData, "INITIALIZED_DATA"},
	{SectionUninitializedData, "UNINITIALIZED_DATA"},
	{SectionExecute, "EXECUTABLE"},
	{SectionRead, "READABLE"},
	{SectionWrite, "WRITABLE"},
	{SectionShared, "SHARED"},
	{SectionDiscardable, "DISCARDABLE"},
}

var dllCharacteristicNames = []flagName{
	{0x0001, "PROCESS_INIT"},
	{0x0002, "PROCESS_TERM"},
	{0x0004, "THREAD_INIT"},
	{0x0008, "THREAD_TERM"},
	{0x0020, "HIGH_ENTROPY_VA"},
	{0x0040, "DYNAMIC_BASE"},
	{0x0080, "FORCE_INTEGRITY"},
	{0x0100, "NX_COMPAT"},
	{0x0200, "NO_ISOLATION"},
	{0x0400, "NO_SEH"},
	{0x0800, "NO_BIND"},
	{0x1000, "APPCONTAINER"},
	{0x2000, "WDM_DRIVER"},
	{0x4000, "GUARD_CF"},
	{0x8000, "TERMINAL_SERVER_AWARE"},
}

var fileCharacteristicNames = []flagName{
	{0x0001, "RELOCS_STRIPPED"},
	{0x0002, "EXECUTABLE_IMAGE"},
	{0x0004, "LINE_NUMS_STRIPPED"},
	{0x0008, "LOCAL_SYMS_STRIPPED"},
	{0x0010, "AGGRESSIVE_WS_TRIM"},
	{0x0020, "LARGE_ADDRESS_AWARE"},
	{0x0080, "BYTES_REVERSED_LO"},
	{0x0100, "32BIT_MACHINE"},
	{0x0200, "DEBUG_STRIPPED"},
	{0x0400, "REMOVABLE_RUN_FROM_SWAP"},
	{0x0800, "NET_RUN_FROM_SWAP"},
	{0x1000, "SYSTEM"},
	{0x2000, "DLL"},
	{0x4000, "UP_SYSTEM_ONLY"},
	{0x8000, "BYTES_REVERSED_HI"},
}

func decodeFlags(flags uint32, names []flagName) string {
	var out []string
	for _, f := range names {
		if flags&f.mask != 0 {
			out = append(out, f.name)
		}
	}
	if len(out) == 0 {
		return "None"
	}
	return strings.Join(out, ", ")
}

// SectionFlagsString returns human-readable section flags.
func SectionFlagsString(flags uint32) string {
	return decodeFlags(flags, sectionFlagNames)
}

func DLLCharacteristicsString(flags uint16) string {
	return decodeFlags(uint32(flags), dllCharacteristicNames)
}

func FileCharacteristicsString(flags uint16) string {
	return decodeFlags(uint32(flags), fileCharacteristicNames)
}
