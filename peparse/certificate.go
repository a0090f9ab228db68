package peparse

import (
	"bytes"
	"time"

	"go.mozilla.org/pkcs7"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"petriage/common"
	"petriage/source"
)

const (
	certTypeX509      = 0x0001
	certTypePKCS7     = 0x0002
	maxCertificateLen = 16 << 20
)

type winCertificate struct {
	Length   uint32
	Revision uint16
	Type     uint16
}

func decodeWinCertificate(r *leReader, c *winCertificate) bool {
	return r.u32(&c.Length) && r.u16(&c.Revision) && r.u16(&c.Type)
}

// buildCertificates decodes the WIN_CERTIFICATE entries of the Security
// directory and lists the X.509 certificates of PKCS#7 payloads. No
// signature or chain is verified.
func buildCertificates(src source.ByteSource, h *Headers, diags *common.Diagnostics) (CertificateTable, *common.OperationResult) {
	dir := h.Directory(DirSecurity)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return CertificateTable{}, common.NewSkipped("no security directory")
	}

	table := CertificateTable{}
	off := uint64(dir.VirtualAddress)
	end := off + uint64(dir.Size)
	for len(table.Entries) < MaxCertificates && off+winCertificateSize <= end {
		hdr, ok := readRecord(src, off, winCertificateSize, decodeWinCertificate)
		if !ok {
			diags.Warnf("Unable to read WIN_CERTIFICATE at offset 0x%X", off)
			break
		}
		if hdr.Length < winCertificateSize || off+uint64(hdr.Length) > end {
			diags.Warnf("Invalid WIN_CERTIFICATE length (0x%X) at offset 0x%X", hdr.Length, off)
			break
		}

		entry := CertificateEntry{Offset: off, Length: hdr.Length, Revision: hdr.Revision, Type: hdr.Type}
		if hdr.Type == certTypePKCS7 {
			entry.Certificates = parseSignedData(src, off+winCertificateSize, int(hdr.Length)-winCertificateSize, diags)
		}
		table.Entries = append(table.Entries, entry)
		off += uint64(align8(hdr.Length))
	}

	if len(table.Entries) == 0 {
		return table, common.NewFailed("no readable certificate", 0)
	}
	table.Present = true
	return table, common.NewApplied("certificate table", len(table.Entries))
}

func align8(n uint32) uint32 {
	return (n + 7) &^ 7
}

func parseSignedData(src source.ByteSource, off uint64, n int, diags *common.Diagnostics) []CertificateSummary {
	if n > maxCertificateLen {
		diags.Warnf("PKCS#7 certificate data too large (%d bytes)", n)
		return nil
	}
	raw, ok := source.Exact(src, off, n)
	if !ok {
		diags.Warnf("Unable to read PKCS#7 certificate data at offset 0x%X", off)
		return nil
	}
	// dwLength may include the zero padding after the DER structure.
	var der cryptobyte.String
	if in := cryptobyte.String(raw); in.ReadASN1Element(&der, cbasn1.SEQUENCE) {
		raw = []byte(der)
	}
	p7, err := pkcs7.Parse(bytes.Clone(raw))
	if err != nil {
		diags.Warnf("Unable to parse PKCS#7 certificate data: %v", err)
		return nil
	}
	out := make([]CertificateSummary, 0, len(p7.Certificates))
	for _, c := range p7.Certificates {
		out = append(out, CertificateSummary{
			Subject:      c.Subject.String(),
			Issuer:       c.Issuer.String(),
			SerialNumber: c.SerialNumber.String(),
			NotBefore:    c.NotBefore.UTC().Format(time.RFC3339),
			NotAfter:     c.NotAfter.UTC().Format(time.RFC3339),
		})
	}
	return out
}
