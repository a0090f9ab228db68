package peparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petriage/common"
)

const resDirRVA = 0x2000

func subdir(off uint32) uint32 { return resourceDataIsDir | off }

// resDir writes a directory table at relative offset off of the resource
// tree. Each entry is a (Name, OffsetToData) pair.
func (m *testImage) resDir(off int, named, ids uint16, entries ...[2]uint32) {
	p := m.at(resDirRVA) + off
	m.put16(p+12, named)
	m.put16(p+14, ids)
	for i, e := range entries {
		m.put32(p+resourceDirSize+i*resourceEntrySize, e[0])
		m.put32(p+resourceDirSize+i*resourceEntrySize+4, e[1])
	}
}

func (m *testImage) resData(off int, rva, size, codePage uint32) {
	p := m.at(resDirRVA) + off
	m.put32(p, rva)
	m.put32(p+4, size)
	m.put32(p+8, codePage)
}

func (m *testImage) resName(off int, s string) {
	p := m.at(resDirRVA) + off
	m.put16(p, uint16(len([]rune(s))))
	copy(m.buf[p+2:], utf16Bytes(s))
}

// withResources builds an icon with a numeric id and an RCDATA entry
// with a string id, both in language 0x409.
func withResources(m *testImage) {
	m.resDir(0x000, 0, 2, [2]uint32{RTIcon, subdir(0x100)}, [2]uint32{RTRCData, subdir(0x200)})
	m.resDir(0x100, 0, 1, [2]uint32{1, subdir(0x180)})
	m.resDir(0x180, 0, 1, [2]uint32{0x409, 0x300})
	m.resDir(0x200, 1, 0, [2]uint32{resourceNameIsString | 0x400, subdir(0x280)})
	m.resDir(0x280, 0, 1, [2]uint32{0x409, 0x320})
	m.resData(0x300, 0x2800, 0x20, 1252)
	m.resData(0x320, 0x2900, 0x40, 0)
	m.resName(0x400, "CONFIG")
	m.setDirectory(DirResource, resDirRVA, 0x1000)
}

func TestResourcesFlattened(t *testing.T) {
	m := newTestImage(false)
	withResources(m)
	f := m.parse(t)
	assert.Empty(t, f.Diagnostics.Items())
	assert.Equal(t, []ResourceNode{
		{Type: RTIcon, ID: 1, Language: 0x409, Start: uint64(m.at(0x2800)), Size: 0x20, CodePage: 1252},
		{Type: RTRCData, ID: 0x400, Language: 0x409, Start: uint64(m.at(0x2900)), Size: 0x40, Name: "CONFIG"},
	}, f.Resources)

	panels := f.Panels()
	assert.Contains(t, panels, PanelResources)
	assert.Contains(t, panels, PanelIcons)
}

func TestResourceDepthLimit(t *testing.T) {
	m := newTestImage(false)
	m.resDir(0x000, 0, 1, [2]uint32{RTRCData, subdir(0x100)})
	m.resDir(0x100, 0, 1, [2]uint32{1, subdir(0x180)})
	m.resDir(0x180, 0, 1, [2]uint32{0x409, subdir(0x200)})
	m.resDir(0x200, 0, 1, [2]uint32{1, subdir(0x280)})
	m.resDir(0x280, 0, 1, [2]uint32{1, 0x300})
	m.resData(0x300, 0x2800, 0x20, 0)
	m.setDirectory(DirResource, resDirRVA, 0x1000)

	f := m.parse(t)
	assert.Equal(t, []string{"Resource depth is too big (>3)"}, f.Diagnostics.Messages(common.SeverityError))
	assert.Empty(t, f.Resources)
}

func TestResourceCycleIsReported(t *testing.T) {
	m := newTestImage(false)
	m.resDir(0x000, 0, 1, [2]uint32{RTRCData, subdir(0x100)})
	m.resDir(0x100, 0, 1, [2]uint32{1, subdir(0x100)})
	m.setDirectory(DirResource, resDirRVA, 0x1000)

	f := m.parse(t)
	assert.Equal(t, []string{"Resource directory at offset 0x1500 contains itself"},
		f.Diagnostics.Messages(common.SeverityWarning))
	assert.Empty(t, f.Resources)
}

func TestResourceSharedSubdirectory(t *testing.T) {
	m := newTestImage(false)
	m.resDir(0x000, 0, 2, [2]uint32{RTIcon, subdir(0x100)}, [2]uint32{RTGroupIcon, subdir(0x100)})
	m.resDir(0x100, 0, 1, [2]uint32{1, subdir(0x180)})
	m.resDir(0x180, 0, 1, [2]uint32{0x409, 0x300})
	m.resData(0x300, 0x2800, 0x20, 0)
	m.setDirectory(DirResource, resDirRVA, 0x1000)

	f := m.parse(t)
	assert.Empty(t, f.Diagnostics.Items())
	require.Len(t, f.Resources, 2)
	assert.Equal(t, uint32(RTIcon), f.Resources[0].Type)
	assert.Equal(t, uint32(RTGroupIcon), f.Resources[1].Type)
	assert.Equal(t, f.Resources[0].Start, f.Resources[1].Start)
}

func TestResourceInvalidCharacteristicsSkipsOnlyThatTable(t *testing.T) {
	m := newTestImage(false)
	withResources(m)
	m.put32(m.at(resDirRVA)+0x100, 1)

	f := m.parse(t)
	assert.Equal(t, []string{"IMAGE_RESOURCE_DIRECTORY (Invalid Characteristics field) at offset 0x1500"},
		f.Diagnostics.Messages(common.SeverityWarning))
	require.Len(t, f.Resources, 1)
	assert.Equal(t, "CONFIG", f.Resources[0].Name)
	assert.NotContains(t, f.Panels(), PanelIcons)
}

func TestResourceTooManyEntries(t *testing.T) {
	m := newTestImage(false)
	m.resDir(0x000, 0, MaxResourceEntries+1)
	m.setDirectory(DirResource, resDirRVA, 0x1000)

	f := m.parse(t)
	assert.Equal(t, []string{"Too many resources (>1024)"}, f.Diagnostics.Messages(common.SeverityWarning))
	assert.Empty(t, f.Resources)
}

func TestResourceDirectoryOutsideSections(t *testing.T) {
	m := newTestImage(false)
	m.setDirectory(DirResource, 0x100, 0x100)
	f := m.parse(t)
	assert.Contains(t, f.Diagnostics.Messages(common.SeverityWarning), "Invalid RVA for Resource directory (0x00000100)")
	assert.Empty(t, f.Resources)
}

func TestReadResourceName(t *testing.T) {
	buf := append([]byte{3, 0}, utf16Bytes("Añb")...)
	name, ok := readResourceName(sourceOf(buf), 0)
	require.True(t, ok)
	assert.Equal(t, "Añb", name)

	_, ok = readResourceName(sourceOf([]byte{0x01, 0x02}), 0)
	assert.False(t, ok)

	_, ok = readResourceName(sourceOf([]byte{10, 0, 'a', 0}), 0)
	assert.False(t, ok)
}
