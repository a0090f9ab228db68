package peparse

import (
	"fmt"

	"petriage/common"
	"petriage/source"
)

const (
	ordinalFlag32 = uint64(0x80000000)
	ordinalFlag64 = uint64(0x8000000000000000)
	// thunk64RVAMask covers bits 32..62 of a 64-bit name thunk, which must
	// be clear for the value to be an RVA.
	thunk64RVAMask = uint64(0x7FFFFFFF00000000)
)

type importDescriptor struct {
	OriginalFirstThunk uint32
	TimeDateStamp      uint32
	ForwarderChain     uint32
	Name               uint32
	FirstThunk         uint32
}

func decodeImportDescriptor(r *leReader, d *importDescriptor) bool {
	return r.u32(&d.OriginalFirstThunk) && r.u32(&d.TimeDateStamp) &&
		r.u32(&d.ForwarderChain) && r.u32(&d.Name) && r.u32(&d.FirstThunk)
}

// importTable accumulates the modules and functions decoded so far.
type importTable struct {
	modules   []ImportedModule
	functions []ImportedFunction
}

func (t *importTable) failed(reason string) *common.OperationResult {
	return common.NewFailed(reason, len(t.functions))
}

// buildImports walks the import descriptors until the zero-name
// terminator. The thunk width is selected by the optional header magic.
func buildImports(src source.ByteSource, h *Headers, tr *Translator, diags *common.Diagnostics) ([]ImportedModule, []ImportedFunction, *common.OperationResult) {
	t := &importTable{modules: []ImportedModule{}, functions: []ImportedFunction{}}

	dir := h.Directory(DirImport)
	if dir.VirtualAddress == 0 {
		return t.modules, t.functions, common.NewSkipped("no import directory")
	}
	dirFA, ok := tr.RVAToFile(uint64(dir.VirtualAddress))
	if !ok {
		diags.Errorf("Invalid RVA for Import directory (0x%08X)", dir.VirtualAddress)
		return t.modules, t.functions, t.failed("invalid import directory RVA")
	}

	is64 := h.Optional.Is64
	for index := 0; ; index++ {
		if index >= MaxImportedModules {
			diags.Errorf("Too many imported modules (>%d)", MaxImportedModules)
			return t.modules, t.functions, t.failed("too many imported modules")
		}
		descRVA := uint64(dir.VirtualAddress) + uint64(index*importDescriptorSize)
		desc, ok := readRecord(src, dirFA+uint64(index*importDescriptorSize), importDescriptorSize, decodeImportDescriptor)
		if !ok {
			diags.Errorf("Unable to read import directory data from RVA (0x%08X)", descRVA)
			return t.modules, t.functions, t.failed("unreadable import descriptor")
		}
		if desc.Name == 0 {
			break
		}

		nameFA, ok := tr.RVAToFile(uint64(desc.Name))
		if !ok {
			diags.Errorf("Invalid RVA for import module name (0x%08X)", desc.Name)
			return t.modules, t.functions, t.failed("invalid module name RVA")
		}
		name, ok := readCString(src, nameFA, maxNameLength)
		if !ok || name == "" {
			break
		}
		t.modules = append(t.modules, ImportedModule{NameRVA: desc.Name, Name: name})

		if err := t.walkThunks(src, tr, desc, len(t.modules)-1, is64, diags); err != "" {
			return t.modules, t.functions, t.failed(err)
		}
	}

	return t.modules, t.functions, common.NewApplied("imports", len(t.functions))
}

// walkThunks decodes the thunk array of one descriptor. It returns a
// non-empty reason when decoding had to stop on an error.
func (t *importTable) walkThunks(src source.ByteSource, tr *Translator, desc importDescriptor, module int, is64 bool, diags *common.Diagnostics) string {
	var thunkFA uint64
	var ok bool
	if desc.OriginalFirstThunk != 0 {
		thunkFA, ok = tr.RVAToFile(uint64(desc.OriginalFirstThunk))
	}
	if !ok {
		thunkFA, ok = tr.RVAToFile(uint64(desc.FirstThunk))
	}
	if !ok {
		diags.Errorf("Invalid RVA for OriginalFirstThunk (0x%08X)", desc.OriginalFirstThunk)
		return "invalid thunk array RVA"
	}
	if _, ok := tr.RVAToFile(uint64(desc.FirstThunk)); !ok {
		diags.Errorf("Invalid RVA for FirstThunk (0x%08X)", desc.FirstThunk)
		return "invalid FirstThunk RVA"
	}

	thunkSize := uint64(4)
	ordinalFlag := ordinalFlag32
	if is64 {
		thunkSize = 8
		ordinalFlag = ordinalFlag64
	}

	for i := uint64(0); ; i++ {
		if i >= MaxImportedFunctions {
			diags.Errorf("Too many imported functions (>%d in module %d)", MaxImportedFunctions, module+1)
			return "too many imported functions"
		}
		value, ok := readPointer(src, thunkFA+i*thunkSize, is64)
		if !ok {
			diags.Errorf("Unable to read import thunk #%d of module %d", i, module+1)
			return "unreadable thunk"
		}
		if value == 0 {
			return ""
		}

		fn := ImportedFunction{
			Module:  module,
			IATSlot: uint64(desc.FirstThunk) + i*thunkSize,
		}
		switch {
		case value&ordinalFlag != 0:
			fn.ByOrdinal = true
			fn.Ordinal = uint16(value)
			fn.Name = fmt.Sprintf("Ordinal:%d", fn.Ordinal)
		case is64 && value&thunk64RVAMask != 0:
			diags.Errorf("Invalid 64-bit import thunk value (0x%016X) in module %d", value, module+1)
			return "invalid 64-bit thunk"
		default:
			nameFA, ok := tr.RVAToFile((value & 0xFFFFFFFF) + 2)
			if !ok {
				diags.Errorf("Invalid RVA import name (0x%08X)", value)
				return "invalid import name RVA"
			}
			name, ok := readCString(src, nameFA, maxNameLength)
			if !ok {
				diags.Errorf("Unable to read import name at offset 0x%X", nameFA)
				return "unreadable import name"
			}
			fn.Name = name
		}
		t.functions = append(t.functions, fn)
	}
}
