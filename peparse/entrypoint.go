package peparse

import (
	"petriage/common"
	"petriage/source"
)

// validateEntryPoint runs the entry point heuristics.
func validateEntryPoint(src source.ByteSource, h *Headers, tr *Translator, sections []Section, diags *common.Diagnostics) *common.OperationResult {
	ep := uint64(h.Optional.AddressOfEntryPoint)
	fileSize := src.Size()

	if ep == 0 {
		diags.Warnf("Possible executable resource file (Entry Point RVA = 0)")
		if !h.IsDLL() {
			diags.Warnf("NON-DLL file with EP RVA = 0")
		}
		return common.NewSkipped("no entry point")
	}

	fa, ok := tr.RVAToFile(ep)
	switch {
	case !ok:
		diags.Errorf("Invalid Entry Point RVA (0x%x)", ep)
		if ep < fileSize {
			diags.Warnf("Entry Point is a File Address")
		}
	case fa >= fileSize:
		diags.Errorf("Entry Point is outside the file RVA=(0x%x)", ep)
	default:
		code := src.Slice(fa, entryPointProbeSize)
		if len(code) == 0 {
			diags.Errorf("Unable to read data from Entry Point")
			break
		}
		sum := 0
		for _, b := range code {
			sum += int(b)
		}
		if sum == 0 {
			diags.Errorf("Invalid code at Entry Point RVA=(0x%x)", ep)
		}
	}

	idx := tr.SectionIndex(ep)
	if idx < 0 {
		diags.Warnf("EP is not inside any section")
		return common.NewApplied("entry point outside sections", 0)
	}
	s := &sections[idx]
	if !s.IsExecutable {
		diags.Warnf("EP section without Executable characteristic")
		if !s.IsReadable && !s.IsWritable {
			diags.Errorf("EP section (%s) has no Execute, Read or Write characteristic", s.Name)
		}
	}
	return common.NewApplied("entry point", 1)
}
