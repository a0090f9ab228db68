package peparse

import (
	"petriage/common"
)

// validateDirectories bounds-checks each interpreted data directory and
// reports pairs that overlap. The Security directory holds a file offset
// rather than an RVA, so it is not translated and not overlap-checked.
func validateDirectories(h *Headers, tr *Translator, fileSize uint64, diags *common.Diagnostics) *common.OperationResult {
	issues := diags.Len()

	for _, kind := range DirectoryKinds() {
		d := h.Directory(kind)
		if d.Size > 0 && uint64(d.Size) > fileSize {
			diags.Warnf("Directory '%s' (#%d) has an invalid Size (0x%08X)", kind, int(kind), d.Size)
		}
		if d.VirtualAddress == 0 {
			if d.Size > 0 {
				diags.Warnf("Directory '%s' (#%d) has no address but size bigger than 0", kind, int(kind))
			}
			continue
		}
		if d.Size == 0 {
			diags.Warnf("Directory '%s' (#%d) has size equal to 0 and a valid address", kind, int(kind))
		}

		fa := uint64(d.VirtualAddress)
		if kind != DirSecurity {
			var ok bool
			if fa, ok = tr.RVAToFile(uint64(d.VirtualAddress)); !ok {
				diags.Warnf("Directory '%s' (#%d) has an invalid RVA address (0x%08X)", kind, int(kind), d.VirtualAddress)
				continue
			}
		}
		if end := fa + uint64(d.Size); end > fileSize {
			diags.Warnf("Directory '%s' (#%d) extends outside the file (to: 0x%08X)", kind, int(kind), end)
		}
	}

	kinds := DirectoryKinds()
	for i, k1 := range kinds {
		d1 := h.Directory(k1)
		if k1 == DirSecurity || d1.VirtualAddress == 0 || d1.Size == 0 {
			continue
		}
		for _, k2 := range kinds[i+1:] {
			d2 := h.Directory(k2)
			if k2 == DirSecurity || d2.VirtualAddress == 0 || d2.Size == 0 {
				continue
			}
			if rangesOverlap(uint64(d1.VirtualAddress), uint64(d1.Size), uint64(d2.VirtualAddress), uint64(d2.Size)) {
				diags.Warnf("Directory '%s' and '%s' overlap", k1, k2)
			}
		}
	}

	return common.NewApplied("data directories", diags.Len()-issues)
}

func rangesOverlap(start1, size1, start2, size2 uint64) bool {
	return start1 < start2+size2 && start2 < start1+size1
}
