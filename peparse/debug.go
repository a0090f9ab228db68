package peparse

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"petriage/common"
	"petriage/source"
)

const (
	debugTypeCodeView = 2
	cvHeaderMin       = 5
	nb10NameOffset    = 16
	rsdsNameOffset    = 24
)

func decodeDebugEntry(r *leReader, e *DebugEntry) bool {
	return r.u32(&e.Characteristics) && r.u32(&e.TimeDateStamp) &&
		r.u16(&e.MajorVersion) && r.u16(&e.MinorVersion) &&
		r.u32(&e.Type) && r.u32(&e.SizeOfData) &&
		r.u32(&e.AddressOfRawData) && r.u32(&e.PointerToRawData)
}

// buildDebug decodes the debug directory and every CodeView record it
// points to.
func buildDebug(src source.ByteSource, h *Headers, tr *Translator, diags *common.Diagnostics) (*DebugInfo, *common.OperationResult) {
	dir := h.Directory(DirDebug)
	if dir.VirtualAddress == 0 {
		return nil, common.NewSkipped("no debug directory")
	}
	dirFA, ok := tr.RVAToFile(uint64(dir.VirtualAddress))
	if !ok {
		diags.Errorf("Invalid RVA for Debug directory (0x%08X)", dir.VirtualAddress)
		return nil, common.NewFailed("invalid debug directory RVA", 0)
	}

	count := dir.Size / debugDirectorySize
	if dir.Size%debugDirectorySize != 0 || count == 0 || count > MaxDebugEntries {
		diags.Warnf("Invalid alignment for Debug directory (size 0x%X)", dir.Size)
	}
	count = min(count, MaxDebugEntries)

	info := &DebugInfo{Entries: []DebugEntry{}, Records: []DebugRecord{}}
	for i := uint32(0); i < count; i++ {
		off := dirFA + uint64(i*debugDirectorySize)
		entry, ok := readRecord(src, off, debugDirectorySize, decodeDebugEntry)
		if !ok {
			diags.Errorf("Unable to read IMAGE_DEBUG_DIRECTORY #%d at offset 0x%X", i, off)
			return info, common.NewFailed("unreadable debug entry", len(info.Entries))
		}
		info.Entries = append(info.Entries, entry)
		if entry.Type != debugTypeCodeView {
			continue
		}
		if rec, ok := readCodeView(src, entry, diags); ok {
			info.Records = append(info.Records, rec)
		}
	}
	return info, common.NewApplied("debug directory", len(info.Entries))
}

// readCodeView decodes an NB10 (PDB 2.0) or RSDS (PDB 7.0) record.
func readCodeView(src source.ByteSource, entry DebugEntry, diags *common.Diagnostics) (DebugRecord, bool) {
	size := min(int(entry.SizeOfData), MaxPDBName+64)
	buf := src.Slice(uint64(entry.PointerToRawData), size)
	if len(buf) < cvHeaderMin {
		diags.Warnf("Invalid IMAGE_DEBUG_TYPE_CODEVIEW record at offset 0x%X (%d bytes)", entry.PointerToRawData, len(buf))
		return DebugRecord{}, false
	}

	var rec DebugRecord
	var nameOffset int
	switch sig := string(buf[:4]); sig {
	case "NB10":
		if len(buf) < nb10NameOffset {
			diags.Warnf("Truncated NB10 CodeView record (%d bytes)", len(buf))
			return DebugRecord{}, false
		}
		rec.Signature = sig
		rec.Stamp = binary.LittleEndian.Uint32(buf[8:12])
		rec.Age = binary.LittleEndian.Uint32(buf[12:16])
		rec.GUIDAge = fmt.Sprintf("%08X%X", rec.Stamp, rec.Age)
		nameOffset = nb10NameOffset
	case "RSDS":
		if len(buf) < rsdsNameOffset {
			diags.Warnf("Truncated RSDS CodeView record (%d bytes)", len(buf))
			return DebugRecord{}, false
		}
		rec.Signature = sig
		rec.GUID = formatGUID(buf[4:20])
		rec.Age = binary.LittleEndian.Uint32(buf[20:24])
		rec.GUIDAge = fmt.Sprintf("%s%X", rec.GUID, rec.Age)
		nameOffset = rsdsNameOffset
	default:
		diags.Warnf("Unknown signature in IMAGE_DEBUG_TYPE_CODEVIEW: %q", buf[:4])
		return DebugRecord{}, false
	}

	name := buf[nameOffset:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	rec.PDBName = string(name)
	return rec, true
}

// formatGUID renders a 16-byte GUID as used in symbol server paths.
func formatGUID(b []byte) string {
	return fmt.Sprintf("%08X%04X%04X%02X%02X%02X%02X%02X%02X%02X%02X",
		binary.LittleEndian.Uint32(b[0:4]),
		binary.LittleEndian.Uint16(b[4:6]),
		binary.LittleEndian.Uint16(b[6:8]),
		b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15])
}
