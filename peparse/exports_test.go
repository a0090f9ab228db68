package peparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petriage/common"
)

const (
	expDirRVA       = 0x2000
	expNameRVA      = 0x2100
	expFunctionsRVA = 0x2200
	expNamesRVA     = 0x2300
	expOrdinalsRVA  = 0x2400
)

// withExports lays out an export directory with five functions, two of
// them named.
func withExports(m *testImage) {
	d := m.at(expDirRVA)
	m.put32(d+12, expNameRVA)
	m.put32(d+16, 10)
	m.put32(d+20, 5)
	m.put32(d+24, 2)
	m.put32(d+28, expFunctionsRVA)
	m.put32(d+32, expNamesRVA)
	m.put32(d+36, expOrdinalsRVA)
	m.putString(m.at(expNameRVA), "sample.dll")

	for i, rva := range []uint32{0x1010, 0x1020, 0x1030, 0x1040, 0x1050} {
		m.put32(m.at(expFunctionsRVA)+4*i, rva)
	}
	m.put32(m.at(expNamesRVA), 0x2500)
	m.put32(m.at(expNamesRVA)+4, 0x2510)
	m.putString(m.at(0x2500), "Alpha")
	m.putString(m.at(0x2510), "Beta")
	m.put16(m.at(expOrdinalsRVA), 3)
	m.put16(m.at(expOrdinalsRVA)+2, 0)

	m.setDirectory(DirExport, expDirRVA, 0x600)
	m.setFileCharacteristics(fileCharDLL | fileCharExecutable)
}

func TestExportsNamedThenSynthesized(t *testing.T) {
	m := newTestImage(false)
	withExports(m)
	f := m.parse(t)
	assert.Empty(t, f.Diagnostics.Items())

	require.NotNil(t, f.Exports)
	assert.Equal(t, "sample.dll", f.Exports.DLLName)
	assert.Equal(t, uint32(10), f.Exports.Base)
	assert.Equal(t, []ExportEntry{
		{Name: "Alpha", Ordinal: 13, RVA: 0x1040},
		{Name: "Beta", Ordinal: 10, RVA: 0x1010},
		{Name: "_Ordinal_1", Ordinal: 11, RVA: 0x1020},
		{Name: "_Ordinal_2", Ordinal: 12, RVA: 0x1030},
		{Name: "_Ordinal_4", Ordinal: 14, RVA: 0x1050},
	}, f.Exports.Entries)
	assert.Contains(t, f.Panels(), PanelExports)
}

func TestExportsSkipEmptySlotsAndResolveForwarders(t *testing.T) {
	m := newTestImage(false)
	withExports(m)
	m.put32(m.at(expFunctionsRVA)+4*2, 0)
	m.put32(m.at(expFunctionsRVA)+4*4, 0x2580)
	m.putString(m.at(0x2580), "NTDLL.RtlAllocateHeap")
	f := m.parse(t)

	require.NotNil(t, f.Exports)
	require.Len(t, f.Exports.Entries, 4)
	last := f.Exports.Entries[3]
	assert.Equal(t, "_Ordinal_4", last.Name)
	assert.Equal(t, "NTDLL.RtlAllocateHeap", last.Forwarder)
	assert.Empty(t, f.Exports.Entries[0].Forwarder)
}

func TestExportsAllNamed(t *testing.T) {
	m := newTestImage(false)
	withExports(m)
	d := m.at(expDirRVA)
	m.put32(d+20, 2)
	m.put16(m.at(expOrdinalsRVA), 1)
	f := m.parse(t)

	require.NotNil(t, f.Exports)
	assert.Equal(t, []ExportEntry{
		{Name: "Alpha", Ordinal: 11, RVA: 0x1020},
		{Name: "Beta", Ordinal: 10, RVA: 0x1010},
	}, f.Exports.Entries)
}

func TestExportProblems(t *testing.T) {
	type exportCase struct {
		name     string
		setup    func(m *testImage)
		warnings []string
		errors   []string
		entries  int
	}
	tests := []exportCase{
		{
			name:    "ordinal index out of range",
			setup:   func(m *testImage) { m.put16(m.at(expOrdinalsRVA), 7) },
			errors:  []string{"Invalid ordinal index 7 for export #0 (NumberOfFunctions = 5)"},
			entries: 0,
		},
		{
			name:   "too many functions",
			setup:  func(m *testImage) { m.put32(m.at(expDirRVA)+20, 0x10000) },
			errors: []string{"Too many exported functions (0x00010000). Maximum allowed is 0xFFFF."},
		},
		{
			name: "no functions",
			setup: func(m *testImage) {
				m.put32(m.at(expDirRVA)+20, 0)
				m.put32(m.at(expDirRVA)+24, 0)
			},
			warnings: []string{"No functions in Export Directory"},
		},
		{
			name:     "missing DLL name",
			setup:    func(m *testImage) { m.put32(m.at(expDirRVA)+12, 0) },
			warnings: []string{"Invalid RVA for export name"},
			entries:  5,
		},
		{
			name:   "unmapped function table",
			setup:  func(m *testImage) { m.put32(m.at(expDirRVA)+28, 0x100) },
			errors: []string{"Invalid RVA for AddressOfFunctions (0x00000100)"},
		},
		{
			name:   "unmapped name table",
			setup:  func(m *testImage) { m.put32(m.at(expDirRVA)+32, 0x100) },
			errors: []string{"Invalid RVA for AddressOfNames (0x00000100)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestImage(false)
			withExports(m)
			tt.setup(m)
			f := m.parse(t)
			assert.Equal(t, tt.warnings, f.Diagnostics.Messages(common.SeverityWarning))
			assert.Equal(t, tt.errors, f.Diagnostics.Messages(common.SeverityError))
			require.NotNil(t, f.Exports)
			assert.Len(t, f.Exports.Entries, tt.entries)
		})
	}
}

func TestExportDirectoryOutsideSections(t *testing.T) {
	m := newTestImage(false)
	m.setDirectory(DirExport, 0x100, 0x28)
	f := m.parse(t)
	assert.Nil(t, f.Exports)
	assert.Equal(t, []string{"Invalid RVA for Export directory (0x00000100)"}, f.Diagnostics.Messages(common.SeverityError))
	assert.NotContains(t, f.Panels(), PanelExports)
}
