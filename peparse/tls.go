package peparse

import (
	"petriage/common"
	"petriage/source"
)

func decodeTLSDirectory(is64 bool) func(r *leReader, d *TLSDirectory) bool {
	return func(r *leReader, d *TLSDirectory) bool {
		return r.u32or64(is64, &d.StartAddressOfRawData) &&
			r.u32or64(is64, &d.EndAddressOfRawData) &&
			r.u32or64(is64, &d.AddressOfIndex) &&
			r.u32or64(is64, &d.AddressOfCallBacks) &&
			r.u32(&d.SizeOfZeroFill) && r.u32(&d.Characteristics)
	}
}

// buildTLS reads the TLS directory. TLS is optional metadata: any failure
// leaves it absent without a diagnostic.
func buildTLS(src source.ByteSource, h *Headers, tr *Translator) (TLSDirectory, *common.OperationResult) {
	dir := h.Directory(DirTLS)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return TLSDirectory{}, common.NewSkipped("no TLS directory")
	}
	fa, ok := tr.RVAToFile(uint64(dir.VirtualAddress))
	if !ok {
		return TLSDirectory{}, common.NewSkipped("invalid TLS directory RVA")
	}

	is64 := h.Optional.Is64
	size := tls32Size
	if is64 {
		size = tls64Size
	}
	tls, ok := readRecord(src, fa, size, decodeTLSDirectory(is64))
	if !ok {
		return TLSDirectory{}, common.NewSkipped("unreadable TLS directory")
	}
	tls.Present = true
	tls.Callbacks = readTLSCallbacks(src, tr, tls.AddressOfCallBacks, is64)
	return tls, common.NewApplied("TLS directory", len(tls.Callbacks))
}

// readTLSCallbacks follows the zero-terminated callback array, which is
// addressed by VA.
func readTLSCallbacks(src source.ByteSource, tr *Translator, va uint64, is64 bool) []uint64 {
	if va == 0 {
		return nil
	}
	fa, ok := tr.VAToFile(va)
	if !ok {
		return nil
	}
	width := uint64(4)
	if is64 {
		width = 8
	}
	var callbacks []uint64
	for i := uint64(0); i < MaxTLSCallbacks; i++ {
		cb, ok := readPointer(src, fa+i*width, is64)
		if !ok || cb == 0 {
			break
		}
		callbacks = append(callbacks, cb)
	}
	return callbacks
}
