package peparse

import (
	"fmt"

	"petriage/common"
	"petriage/source"
)

type exportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

func decodeExportDirectory(r *leReader, d *exportDirectory) bool {
	return r.u32(&d.Characteristics) && r.u32(&d.TimeDateStamp) &&
		r.u16(&d.MajorVersion) && r.u16(&d.MinorVersion) &&
		r.u32(&d.Name) && r.u32(&d.Base) &&
		r.u32(&d.NumberOfFunctions) && r.u32(&d.NumberOfNames) &&
		r.u32(&d.AddressOfFunctions) && r.u32(&d.AddressOfNames) &&
		r.u32(&d.AddressOfNameOrdinals)
}

// buildExports reconstructs the export table. Named exports come first in
// name-table order, then every unnamed function slot with a nonzero RVA.
func buildExports(src source.ByteSource, h *Headers, tr *Translator, diags *common.Diagnostics) (*ExportTable, *common.OperationResult) {
	dir := h.Directory(DirExport)
	if dir.VirtualAddress == 0 {
		return nil, common.NewSkipped("no export directory")
	}

	dirFA, ok := tr.RVAToFile(uint64(dir.VirtualAddress))
	if !ok {
		diags.Errorf("Invalid RVA for Export directory (0x%08X)", dir.VirtualAddress)
		return nil, common.NewFailed("invalid export directory RVA", 0)
	}
	ed, ok := readRecord(src, dirFA, exportDirectorySize, decodeExportDirectory)
	if !ok {
		diags.Errorf("Unable to read Export directory at offset 0x%X", dirFA)
		return nil, common.NewFailed("unreadable export directory", 0)
	}

	table := &ExportTable{Base: ed.Base, Entries: []ExportEntry{}}
	if ed.Name == 0 {
		diags.Warnf("Invalid RVA for export name")
	} else {
		nameFA, ok := tr.RVAToFile(uint64(ed.Name))
		if !ok {
			diags.Errorf("Invalid RVA for export DLL name (0x%08X)", ed.Name)
			return table, common.NewFailed("invalid export DLL name", 0)
		}
		name, ok := readCString(src, nameFA, maxNameLength)
		if !ok {
			diags.Errorf("Unable to read export DLL name at offset 0x%X", nameFA)
			return table, common.NewFailed("unreadable export DLL name", 0)
		}
		if !isPrintableName(name) {
			diags.Warnf("Export DLL name contains invalid characters")
		}
		table.DLLName = name
	}

	if ed.NumberOfFunctions == 0 && ed.NumberOfNames == 0 {
		diags.Warnf("No functions in Export Directory")
		return table, common.NewSkipped("empty export directory")
	}
	if ed.NumberOfFunctions > MaxExportedFunctions {
		diags.Errorf("Too many exported functions (0x%08X). Maximum allowed is 0x%X.", ed.NumberOfFunctions, MaxExportedFunctions)
		return table, common.NewFailed("too many exported functions", 0)
	}
	if ed.NumberOfNames > MaxExportedFunctions {
		diags.Errorf("Too many exported names (0x%08X). Maximum allowed is 0x%X.", ed.NumberOfNames, MaxExportedFunctions)
		return table, common.NewFailed("too many exported names", 0)
	}

	namesFA, ok := tr.RVAToFile(uint64(ed.AddressOfNames))
	if !ok && ed.NumberOfNames > 0 {
		diags.Errorf("Invalid RVA for AddressOfNames (0x%08X)", ed.AddressOfNames)
		return table, common.NewFailed("invalid AddressOfNames", 0)
	}
	ordinalsFA, ok := tr.RVAToFile(uint64(ed.AddressOfNameOrdinals))
	if !ok && ed.NumberOfNames > 0 {
		diags.Errorf("Invalid RVA for AddressOfNameOrdinals (0x%08X)", ed.AddressOfNameOrdinals)
		return table, common.NewFailed("invalid AddressOfNameOrdinals", 0)
	}
	functionsFA, ok := tr.RVAToFile(uint64(ed.AddressOfFunctions))
	if !ok {
		diags.Errorf("Invalid RVA for AddressOfFunctions (0x%08X)", ed.AddressOfFunctions)
		return table, common.NewFailed("invalid AddressOfFunctions", 0)
	}

	var named []bool
	if ed.NumberOfNames < ed.NumberOfFunctions {
		named = make([]bool, ed.NumberOfFunctions)
	}

	resolve := func(rva uint32) string {
		if rva < dir.VirtualAddress || uint64(rva) >= uint64(dir.VirtualAddress)+uint64(dir.Size) {
			return ""
		}
		fa, ok := tr.RVAToFile(uint64(rva))
		if !ok {
			return ""
		}
		fwd, _ := readCString(src, fa, maxNameLength)
		return fwd
	}

	for i := uint32(0); i < ed.NumberOfNames; i++ {
		nameRVA, ok := readU32(src, namesFA+4*uint64(i))
		if !ok {
			diags.Errorf("Unable to read export name pointer #%d", i)
			return table, common.NewFailed("unreadable name pointer", len(table.Entries))
		}
		index, ok := readU16(src, ordinalsFA+2*uint64(i))
		if !ok {
			diags.Errorf("Unable to read export ordinal #%d", i)
			return table, common.NewFailed("unreadable ordinal", len(table.Entries))
		}
		if uint32(index) >= ed.NumberOfFunctions {
			diags.Errorf("Invalid ordinal index %d for export #%d (NumberOfFunctions = %d)", index, i, ed.NumberOfFunctions)
			return table, common.NewFailed("ordinal out of range", len(table.Entries))
		}
		rva, ok := readU32(src, functionsFA+4*uint64(index))
		if !ok {
			diags.Errorf("Unable to read export function RVA for ordinal index %d", index)
			return table, common.NewFailed("unreadable function RVA", len(table.Entries))
		}
		nameFA, ok := tr.RVAToFile(uint64(nameRVA))
		if !ok {
			diags.Errorf("Invalid RVA for export name #%d (0x%08X)", i, nameRVA)
			return table, common.NewFailed("invalid export name RVA", len(table.Entries))
		}
		name, ok := readCString(src, nameFA, maxNameLength)
		if !ok {
			diags.Errorf("Unable to read export name #%d at offset 0x%X", i, nameFA)
			return table, common.NewFailed("unreadable export name", len(table.Entries))
		}
		if named != nil {
			named[index] = true
		}
		table.Entries = append(table.Entries, ExportEntry{
			Name:      name,
			Ordinal:   uint32(index) + ed.Base,
			RVA:       rva,
			Forwarder: resolve(rva),
		})
	}

	for slot := range named {
		if named[slot] {
			continue
		}
		rva, ok := readU32(src, functionsFA+4*uint64(slot))
		if !ok {
			diags.Errorf("Unable to read export function RVA for ordinal index %d", slot)
			return table, common.NewFailed("unreadable function RVA", len(table.Entries))
		}
		if rva == 0 {
			continue
		}
		table.Entries = append(table.Entries, ExportEntry{
			Name:      fmt.Sprintf("_Ordinal_%d", slot),
			Ordinal:   uint32(slot) + ed.Base,
			RVA:       rva,
			Forwarder: resolve(rva),
		})
	}

	return table, common.NewApplied("exports", len(table.Entries))
}
