package peparse

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"petriage/common"
)

var (
	packerSectionNames    = []string{"UPX0", "UPX1", "UPX2", ".MPRESS1", ".MPRESS2", ".petite", ".themida", ".vmp0", ".vmp1"}
	packerSectionPrefixes = []string{".aspack", ".adata", ".nsp", "PEC2", "pebundle"}
)

// Report writes the full text report for a.
func (a *Analysis) Report(w io.Writer) {
	a.printHeader(w)
	a.printBasicInfo(w)
	if a.File.Headers == nil {
		a.printDiagnostics(w)
		return
	}
	a.printPEHeaders(w)
	a.printDirectories(w)
	a.printSectionAnalysis(w)
	a.printSectionAnomalies(w)
	a.printImportsAnalysis(w)
	a.printExportAnalysis(w)
	a.printResourceAnalysis(w)
	a.printDebugInfo(w)
	a.printTLSInfo(w)
	a.printVersionInfo(w)
	a.printCertificateInfo(w)
	a.printDiagnostics(w)
}

// ReportDiagnostics writes only the diagnostics block.
func (a *Analysis) ReportDiagnostics(w io.Writer) {
	fmt.Fprintf(w, "📄 %s\n", a.Name)
	a.printDiagnostics(w)
}

func (a *Analysis) printHeader(w io.Writer) {
	fmt.Fprintln(w, "╔══════════════════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                           PE FILE ANALYSIS REPORT                            ║")
	fmt.Fprintln(w, "╚══════════════════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
}

func (a *Analysis) printBasicInfo(w io.Writer) {
	f := a.File
	fmt.Fprintln(w, "📁 BINARY INFORMATION")
	fmt.Fprintln(w, "═════════════════════")

	fmt.Fprintf(w, "File Name:       %s\n", a.Name)
	fmt.Fprintf(w, "File Size:       %s (%d bytes)\n", common.FormatFileSize(int64(f.Size)), f.Size)
	if a.Hashes.SHA256 != "" {
		fmt.Fprintf(w, "MD5 Hash:        %s\n", a.Hashes.MD5)
		fmt.Fprintf(w, "SHA1 Hash:       %s\n", a.Hashes.SHA1)
		fmt.Fprintf(w, "SHA256 Hash:     %s\n", a.Hashes.SHA256)
	}
	if f.Headers == nil {
		fmt.Fprintf(w, "Status:          %s Not a usable PE image\n", common.SymbolFatal)
		fmt.Fprintln(w)
		return
	}

	h := f.Headers
	fmt.Fprintf(w, "Format:          %s\n", peKind(h.Optional.Magic))
	fmt.Fprintf(w, "Architecture:    %s\n", map[bool]string{true: "x64 (64-bit)", false: "x86 (32-bit)"}[f.Is64()])
	fmt.Fprintf(w, "Machine Type:    %s\n", MachineName(h.File.Machine))
	fmt.Fprintf(w, "Compile Time:    %s\n", formatTimestamp(h.File.TimeDateStamp))
	fmt.Fprintf(w, "Sections:        %d total\n", len(f.Sections))

	fmt.Fprintf(w, "\n💾 SPACE UTILIZATION:\n")
	fmt.Fprintf(w, "Computed Size:      %s\n", common.FormatFileSize(int64(f.Layout.ComputedSize)))
	fmt.Fprintf(w, "Virtual Size:       %s\n", common.FormatFileSize(int64(f.Layout.VirtualComputedSize)))
	if f.Layout.ComputedWithCertificate != f.Layout.ComputedSize {
		fmt.Fprintf(w, "With Certificate:   %s\n", common.FormatFileSize(int64(f.Layout.ComputedWithCertificate)))
	}

	fmt.Fprintf(w, "\n🗂️  OVERLAY ANALYSIS:\n")
	if f.Layout.HasOverlay {
		fmt.Fprintf(w, "Overlay Status:     %s Present at 0x%X\n", common.SymbolWarn, f.Layout.OverlayOffset)
		fmt.Fprintf(w, "Overlay Size:       %s\n", common.FormatFileSize(int64(f.Layout.OverlaySize)))
		fmt.Fprintf(w, "Overlay Entropy:    %.2f\n", f.Layout.OverlayEntropy)
	} else {
		fmt.Fprintf(w, "Overlay Status:     %s No overlay detected\n", common.SymbolCheck)
	}
	fmt.Fprintln(w)
}

func formatTimestamp(stamp uint32) string {
	if stamp == 0 {
		return "Not set"
	}
	return time.Unix(int64(stamp), 0).UTC().Format("2006-01-02 15:04:05 MST")
}

func (a *Analysis) printPEHeaders(w io.Writer) {
	h := a.File.Headers
	o := &h.Optional
	fmt.Fprintln(w, "🏗️  PE HEADER INFORMATION")
	fmt.Fprintln(w, "═══════════════════════════")

	fmt.Fprintf(w, "e_lfanew:        0x%X\n", h.DOS.Lfanew)
	fmt.Fprintf(w, "Image Base:      0x%X\n", o.ImageBase)
	fmt.Fprintf(w, "Entry Point:     0x%X (RVA)\n", o.AddressOfEntryPoint)
	fmt.Fprintf(w, "Size of Image:   %d bytes (%s)\n", o.SizeOfImage, common.FormatFileSize(int64(o.SizeOfImage)))
	fmt.Fprintf(w, "Size of Headers: %d bytes\n", o.SizeOfHeaders)
	fmt.Fprintf(w, "Alignment:       section 0x%X, file 0x%X\n", o.SectionAlignment, o.FileAlignment)
	if o.CheckSum != 0 {
		fmt.Fprintf(w, "Checksum:        0x%X\n", o.CheckSum)
	} else {
		fmt.Fprintf(w, "Checksum:        Not set\n")
	}
	fmt.Fprintf(w, "Characteristics: 0x%X (%s)\n", h.File.Characteristics, FileCharacteristicsString(h.File.Characteristics))
	fmt.Fprintf(w, "Subsystem:       %d (%s)\n", o.Subsystem, SubsystemName(o.Subsystem))
	fmt.Fprintf(w, "DLL Characteristics: 0x%X (%s)\n", o.DllCharacteristics, DLLCharacteristicsString(o.DllCharacteristics))
	fmt.Fprintf(w, "Stack:           reserve 0x%X, commit 0x%X\n", o.SizeOfStackReserve, o.SizeOfStackCommit)
	fmt.Fprintf(w, "Heap:            reserve 0x%X, commit 0x%X\n", o.SizeOfHeapReserve, o.SizeOfHeapCommit)
	fmt.Fprintln(w)
}

func (a *Analysis) printDirectories(w io.Writer) {
	h := a.File.Headers
	fmt.Fprintln(w, "📂 DATA DIRECTORIES")
	fmt.Fprintln(w, "═══════════════════")
	active := 0
	for _, kind := range DirectoryKinds() {
		dir := h.Directory(kind)
		if dir.VirtualAddress == 0 && dir.Size == 0 {
			continue
		}
		active++
		fmt.Fprintf(w, "   • %-24s RVA: 0x%08X  Size: 0x%08X\n", kind.String(), dir.VirtualAddress, dir.Size)
	}
	if active == 0 {
		fmt.Fprintf(w, "%s No data directories in use\n", common.SymbolInfo)
	}
	fmt.Fprintln(w)
}

func (a *Analysis) printSectionAnalysis(w io.Writer) {
	f := a.File
	fmt.Fprintln(w, "📊 SECTION ANALYSIS")
	fmt.Fprintln(w, "═══════════════════")
	if len(f.Sections) == 0 {
		fmt.Fprintln(w, "❌ No sections found")
		fmt.Fprintln(w)
		return
	}
	var (
		totalSize          int64
		executableSections int
		writableSections   int
	)
	for _, section := range f.Sections {
		totalSize += int64(section.SizeOfRawData)
		if section.IsExecutable {
			executableSections++
		}
		if section.IsWritable {
			writableSections++
		}
	}
	fmt.Fprintf(w, "Total Sections:     %d\nExecutable Secs:    %d\nWritable Secs:      %d\nTotal Size:         %s\n\n",
		len(f.Sections), executableSections, writableSections, common.FormatFileSize(totalSize))
	fmt.Fprintln(w, "SECTION TABLE:")
	fmt.Fprintln(w, "┌──────────────────┬─────────────┬─────────────┬─────────────┬─────────────┬──────────┐")
	fmt.Fprintln(w, "│ Name             │ Virtual Addr│ File Offset │ Size        │ Permissions │ Entropy  │")
	fmt.Fprintln(w, "├──────────────────┼─────────────┼─────────────┼─────────────┼─────────────┼──────────┤")
	for _, section := range f.Sections {
		fmt.Fprintf(w, "│ %-16s │ 0x%08X  │ 0x%08X  │ %-11s │ %-11s │ %s%.2f%s     │\n",
			common.TruncateString(section.Name, 16),
			section.VirtualAddress,
			section.PointerToRawData,
			common.FormatFileSize(int64(section.SizeOfRawData)),
			common.FormatPermissions(section.IsExecutable, section.IsReadable, section.IsWritable),
			common.GetEntropyColor(section.Entropy),
			section.Entropy,
			common.ColorReset())
	}
	fmt.Fprintln(w, "└──────────────────┴─────────────┴─────────────┴─────────────┴─────────────┴──────────┘")
	fmt.Fprintln(w)
}

// SectionAnomalies lists layout oddities that are legal but worth a look.
func SectionAnomalies(sections []Section) []string {
	var issues []string
	for i, s := range sections {
		if s.SizeOfRawData == 0 && s.VirtualSize == 0 {
			issues = append(issues, common.SymbolWarn+" Section '"+s.Name+"' has zero size")
		}
		if s.IsExecutable && s.IsWritable {
			issues = append(issues, common.SymbolWarn+" Section '"+s.Name+"' is both executable and writable")
		}
		if common.MatchesPattern(s.Name, packerSectionNames, packerSectionPrefixes) {
			issues = append(issues, common.SymbolWarn+" Section '"+s.Name+"' matches a known packer name")
		}
		if s.Entropy > 7.5 {
			issues = append(issues, fmt.Sprintf("%s Section '%s' has high entropy (%.2f)", common.SymbolWarn, s.Name, s.Entropy))
		}
		if i > 0 && s.SizeOfRawData > 0 {
			prev := sections[i-1]
			if uint64(s.PointerToRawData) < uint64(prev.PointerToRawData)+uint64(prev.SizeOfRawData) && s.PointerToRawData >= prev.PointerToRawData {
				issues = append(issues, common.SymbolWarn+" Section '"+s.Name+"' overlaps previous section")
			}
		}
	}
	return issues
}

func (a *Analysis) printSectionAnomalies(w io.Writer) {
	fmt.Fprintln(w, "🚨 SECTION ANOMALY ANALYSIS")
	fmt.Fprintln(w, "════════════════════════════")
	issues := SectionAnomalies(a.File.Sections)
	if len(issues) == 0 {
		fmt.Fprintf(w, "%s No section anomalies detected\n", common.SymbolCheck)
	} else {
		for _, issue := range issues {
			fmt.Fprintln(w, issue)
		}
	}
	fmt.Fprintln(w)
}

func (a *Analysis) printImportsAnalysis(w io.Writer) {
	f := a.File
	fmt.Fprintln(w, "📦 IMPORTS ANALYSIS")
	fmt.Fprintln(w, "═══════════════════")
	if len(f.ImportedModules) == 0 {
		fmt.Fprintln(w, "❌ No imports found")
		fmt.Fprintln(w)
		return
	}

	fmt.Fprintf(w, "Total Imported Functions: %d\n", len(f.Imports))
	fmt.Fprintf(w, "Total DLLs: %d\n", len(f.ImportedModules))

	for i, mod := range f.ImportedModules {
		functions := f.ModuleFunctions(i)
		names := make([]string, 0, len(functions))
		for _, fn := range functions {
			names = append(names, fn.Name)
		}
		sort.Strings(names)

		fmt.Fprintf(w, "\n📚 %s (%d functions)\n", strings.ToUpper(mod.Name), len(functions))
		for _, name := range names {
			fmt.Fprintf(w, "   • %s\n", name)
		}
	}
	fmt.Fprintln(w)
}

func (a *Analysis) printExportAnalysis(w io.Writer) {
	exports := a.File.Exports
	fmt.Fprintln(w, "🔍 EXPORT ANALYSIS")
	fmt.Fprintln(w, "══════════════════")
	if exports == nil || len(exports.Entries) == 0 {
		fmt.Fprintln(w, "❌ No exported symbols found")
		fmt.Fprintln(w)
		return
	}

	if exports.DLLName != "" {
		fmt.Fprintf(w, "DLL Name:        %s\n", exports.DLLName)
	}
	fmt.Fprintf(w, "Ordinal Base:    %d\n", exports.Base)
	fmt.Fprintf(w, "Total Exported Functions: %d\n\n", len(exports.Entries))
	fmt.Fprintln(w, "EXPORTED FUNCTIONS:")
	for _, exp := range exports.Entries {
		if exp.Forwarder != "" {
			fmt.Fprintf(w, "   • %s (Ordinal: %d) -> %s\n", exp.Name, exp.Ordinal, exp.Forwarder)
		} else {
			fmt.Fprintf(w, "   • %s (Ordinal: %d, RVA: 0x%08X)\n", exp.Name, exp.Ordinal, exp.RVA)
		}
	}
	fmt.Fprintln(w)
}

func (a *Analysis) printResourceAnalysis(w io.Writer) {
	resources := a.File.Resources
	fmt.Fprintln(w, "🎨 RESOURCE ANALYSIS")
	fmt.Fprintln(w, "════════════════════")
	if len(resources) == 0 {
		fmt.Fprintln(w, "❌ No resources found")
		fmt.Fprintln(w)
		return
	}

	counts := make(map[uint32]int)
	var order []uint32
	for _, r := range resources {
		if counts[r.Type] == 0 {
			order = append(order, r.Type)
		}
		counts[r.Type]++
	}
	fmt.Fprintf(w, "Total Resources: %d\n\n", len(resources))
	for _, t := range order {
		fmt.Fprintf(w, "   • %-16s %d\n", ResourceTypeName(t), counts[t])
	}
	fmt.Fprintln(w)
	for _, r := range resources {
		label := fmt.Sprintf("%d", r.ID)
		if r.Name != "" {
			label = r.Name
		}
		fmt.Fprintf(w, "   %-14s %-20s lang %-6d at 0x%08X  %s\n",
			ResourceTypeName(r.Type), common.TruncateString(label, 20), r.Language, r.Start, common.FormatFileSize(int64(r.Size)))
	}
	fmt.Fprintln(w)
}

func (a *Analysis) printDebugInfo(w io.Writer) {
	debug := a.File.Debug
	if debug == nil || len(debug.Entries) == 0 {
		return
	}
	fmt.Fprintln(w, "🐛 DEBUG INFO")
	fmt.Fprintln(w, "═════════════")
	for _, e := range debug.Entries {
		fmt.Fprintf(w, "   • %-14s size 0x%X at 0x%08X\n", DebugTypeName(e.Type), e.SizeOfData, e.PointerToRawData)
	}
	for _, r := range debug.Records {
		fmt.Fprintf(w, "%s PDB:        %s\n", r.Signature, r.PDBName)
		fmt.Fprintf(w, "GUID/Age:        %s\n", r.GUIDAge)
	}
	fmt.Fprintln(w)
}

func (a *Analysis) printTLSInfo(w io.Writer) {
	tls := a.File.TLS
	if !tls.Present {
		return
	}
	fmt.Fprintln(w, "🧵 TLS DIRECTORY")
	fmt.Fprintln(w, "════════════════")
	fmt.Fprintf(w, "Raw Data:        0x%X - 0x%X\n", tls.StartAddressOfRawData, tls.EndAddressOfRawData)
	fmt.Fprintf(w, "Index Address:   0x%X\n", tls.AddressOfIndex)
	fmt.Fprintf(w, "Callbacks:       0x%X (%d)\n", tls.AddressOfCallBacks, len(tls.Callbacks))
	for _, cb := range tls.Callbacks {
		fmt.Fprintf(w, "   • 0x%X\n", cb)
	}
	fmt.Fprintln(w)
}

var preferredVersionKeys = []string{"FileDescription", "FileVersion", "ProductVersion", "CompanyName", "LegalCopyright", "OriginalFilename", "ProductName", "InternalName"}

func (a *Analysis) printVersionInfo(w io.Writer) {
	v := &a.File.Version
	if !v.Present {
		return
	}
	fmt.Fprintln(w, "📄 VERSION DETAILS")
	fmt.Fprintln(w, "══════════════════")
	if v.Fixed != nil {
		fmt.Fprintf(w, "%-20s %s\n", "File Version:", v.Fixed.FileVersion)
		fmt.Fprintf(w, "%-20s %s\n", "Product Version:", v.Fixed.ProductVersion)
	}
	for _, key := range preferredVersionKeys {
		if value, ok := v.Lookup(key); ok {
			fmt.Fprintf(w, "%-20s %s\n", key+":", value)
		}
	}
	for _, kv := range v.StringPairs() {
		if !common.MatchesPattern(kv[0], preferredVersionKeys, nil) {
			fmt.Fprintf(w, "%-20s %s\n", kv[0]+":", kv[1])
		}
	}
	if len(v.Translations) > 0 {
		fmt.Fprintf(w, "%-20s %s\n", "Translations:", strings.Join(v.Translations, ", "))
	}
	fmt.Fprintln(w)
}

func certificateTypeName(t uint16) string {
	switch t {
	case certTypeX509:
		return "X.509"
	case certTypePKCS7:
		return "PKCS#7 SignedData"
	}
	return fmt.Sprintf("Unknown (0x%04X)", t)
}

func (a *Analysis) printCertificateInfo(w io.Writer) {
	c := a.File.Certificate
	if !c.Present {
		return
	}
	fmt.Fprintln(w, "🔏 CERTIFICATE TABLE")
	fmt.Fprintln(w, "════════════════════")
	for _, e := range c.Entries {
		fmt.Fprintf(w, "Entry at 0x%X:   %s, %s, revision 0x%04X\n",
			e.Offset, certificateTypeName(e.Type), common.FormatFileSize(int64(e.Length)), e.Revision)
		for _, cert := range e.Certificates {
			fmt.Fprintf(w, "   • Subject:    %s\n", cert.Subject)
			fmt.Fprintf(w, "     Issuer:     %s\n", cert.Issuer)
			fmt.Fprintf(w, "     Serial:     %s\n", cert.SerialNumber)
			fmt.Fprintf(w, "     Valid:      %s - %s\n", cert.NotBefore, cert.NotAfter)
		}
	}
	fmt.Fprintln(w)
}

func (a *Analysis) printDiagnostics(w io.Writer) {
	fmt.Fprintln(w, common.FormatDiagnostics("🩺 DIAGNOSTICS\n══════════════", a.File.Diagnostics.Items()))
	fmt.Fprintln(w)
}
