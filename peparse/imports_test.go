package peparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petriage/common"
)

const impDirRVA = 0x2000

func (m *testImage) putThunk(off int, v uint64) {
	if m.is64 {
		m.put64(off, v)
	} else {
		m.put32(off, uint32(v))
	}
}

func (m *testImage) thunkSize() int {
	if m.is64 {
		return 8
	}
	return 4
}

func (m *testImage) ordinalThunk(n uint16) uint64 {
	if m.is64 {
		return ordinalFlag64 | uint64(n)
	}
	return ordinalFlag32 | uint64(n)
}

// withImports lays out two modules: KERNEL32.dll importing a name and an
// ordinal, and USER32.dll importing one name.
func withImports(m *testImage) {
	d := m.at(impDirRVA)
	m.put32(d, 0x2100)
	m.put32(d+12, 0x2200)
	m.put32(d+16, 0x3000)
	m.put32(d+20, 0x2140)
	m.put32(d+32, 0x2210)
	m.put32(d+36, 0x3040)
	m.putString(m.at(0x2200), "KERNEL32.dll")
	m.putString(m.at(0x2210), "USER32.dll")

	ts := m.thunkSize()
	m.putThunk(m.at(0x2100), 0x2300)
	m.putThunk(m.at(0x2100)+ts, m.ordinalThunk(16))
	m.putThunk(m.at(0x2140), 0x2320)
	m.putString(m.at(0x2300)+2, "ExitProcess")
	m.putString(m.at(0x2320)+2, "MessageBoxA")

	m.setDirectory(DirImport, impDirRVA, 3*importDescriptorSize)
}

func TestImportsByNameAndOrdinal(t *testing.T) {
	for _, is64 := range []bool{false, true} {
		m := newTestImage(is64)
		withImports(m)
		f := m.parse(t)
		assert.Empty(t, f.Diagnostics.Items(), "is64=%v", is64)

		assert.Equal(t, []ImportedModule{
			{NameRVA: 0x2200, Name: "KERNEL32.dll"},
			{NameRVA: 0x2210, Name: "USER32.dll"},
		}, f.ImportedModules)

		ts := uint64(m.thunkSize())
		assert.Equal(t, []ImportedFunction{
			{Module: 0, IATSlot: 0x3000, Name: "ExitProcess"},
			{Module: 0, IATSlot: 0x3000 + ts, Name: "Ordinal:16", Ordinal: 16, ByOrdinal: true},
			{Module: 1, IATSlot: 0x3040, Name: "MessageBoxA"},
		}, f.Imports, "is64=%v", is64)

		assert.Len(t, f.ModuleFunctions(0), 2)
		assert.Len(t, f.ModuleFunctions(1), 1)
		assert.Contains(t, f.Panels(), PanelImports)
	}
}

func TestImportsImmediateTerminator(t *testing.T) {
	m := newTestImage(false)
	m.setDirectory(DirImport, impDirRVA, importDescriptorSize)
	f := m.parse(t)
	assert.Empty(t, f.ImportedModules)
	assert.Empty(t, f.Imports)
	assert.Empty(t, f.Diagnostics.Items())
	assert.NotContains(t, f.Panels(), PanelImports)
}

func TestImportsFallBackToFirstThunk(t *testing.T) {
	m := newTestImage(false)
	withImports(m)
	d := m.at(impDirRVA)
	m.put32(d+20, 0)
	m.put32(m.at(0x3040), 0x2320)
	f := m.parse(t)
	assert.Empty(t, f.Diagnostics.Items())
	require.Len(t, f.Imports, 3)
	assert.Equal(t, "MessageBoxA", f.Imports[2].Name)
}

func TestImports32BitThunksInPE32Plus(t *testing.T) {
	m := newTestImage(true)
	withImports(m)
	m.put32(m.at(0x2100), 0x2300)
	m.put32(m.at(0x2100)+4, 0x2310)
	f := m.parse(t)
	assert.Equal(t, []string{"Invalid 64-bit import thunk value (0x0000231000002300) in module 1"},
		f.Diagnostics.Messages(common.SeverityError))
	assert.Len(t, f.ImportedModules, 1)
	assert.Empty(t, f.Imports)
}

func TestImportProblems(t *testing.T) {
	type importCase struct {
		name      string
		setup     func(m *testImage)
		errors    []string
		modules   int
		functions int
	}
	tests := []importCase{
		{
			name:    "unmapped FirstThunk",
			setup:   func(m *testImage) { m.put32(m.at(impDirRVA)+16, 0x100) },
			errors:  []string{"Invalid RVA for FirstThunk (0x00000100)"},
			modules: 1,
		},
		{
			name: "unmapped thunk arrays",
			setup: func(m *testImage) {
				m.put32(m.at(impDirRVA), 0x100)
				m.put32(m.at(impDirRVA)+16, 0x100)
			},
			errors:  []string{"Invalid RVA for OriginalFirstThunk (0x00000100)"},
			modules: 1,
		},
		{
			name:      "unmapped import name",
			setup:     func(m *testImage) { m.put32(m.at(0x2140), 0x100) },
			errors:    []string{"Invalid RVA import name (0x00000100)"},
			modules:   2,
			functions: 2,
		},
		{
			name:   "unmapped module name",
			setup:  func(m *testImage) { m.put32(m.at(impDirRVA)+12, 0x100) },
			errors: []string{"Invalid RVA for import module name (0x00000100)"},
		},
		{
			name:      "empty module name ends the walk",
			setup:     func(m *testImage) { m.buf[m.at(0x2210)] = 0 },
			modules:   1,
			functions: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestImage(false)
			withImports(m)
			tt.setup(m)
			f := m.parse(t)
			assert.Equal(t, tt.errors, f.Diagnostics.Messages(common.SeverityError))
			assert.Len(t, f.ImportedModules, tt.modules)
			assert.Len(t, f.Imports, tt.functions)
		})
	}
}
