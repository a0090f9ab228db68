package peparse

import (
	"petriage/common"
	"petriage/source"
)

const (
	resourceNameIsString = 0x80000000
	resourceDataIsDir    = 0x80000000
)

type resourceDirectory struct {
	Characteristics      uint32
	TimeDateStamp        uint32
	MajorVersion         uint16
	MinorVersion         uint16
	NumberOfNamedEntries uint16
	NumberOfIDEntries    uint16
}

type resourceDirEntry struct {
	Name         uint32
	OffsetToData uint32
}

type resourceDataEntry struct {
	OffsetToData uint32
	Size         uint32
	CodePage     uint32
	Reserved     uint32
}

func decodeResourceDirectory(r *leReader, d *resourceDirectory) bool {
	return r.u32(&d.Characteristics) && r.u32(&d.TimeDateStamp) &&
		r.u16(&d.MajorVersion) && r.u16(&d.MinorVersion) &&
		r.u16(&d.NumberOfNamedEntries) && r.u16(&d.NumberOfIDEntries)
}

func decodeResourceDirEntry(r *leReader, e *resourceDirEntry) bool {
	return r.u32(&e.Name) && r.u32(&e.OffsetToData)
}

func decodeResourceDataEntry(r *leReader, e *resourceDataEntry) bool {
	return r.u32(&e.OffsetToData) && r.u32(&e.Size) && r.u32(&e.CodePage) && r.u32(&e.Reserved)
}

// resourceWalker flattens the resource tree. Offsets inside the tree are
// relative to base, the file offset of the root directory. onPath holds the
// directories of the current recursion path; visits bounds the whole walk.
// Named entries keep the low 16 bits of their name offset as key.
type resourceWalker struct {
	src     source.ByteSource
	tr      *Translator
	diags   *common.Diagnostics
	base    uint64
	nodes   []ResourceNode
	onPath  map[uint64]bool
	visits  int
	full    bool
	errored bool
}

// buildResources walks the resource directory and returns its leaves.
func buildResources(src source.ByteSource, h *Headers, tr *Translator, diags *common.Diagnostics) ([]ResourceNode, *common.OperationResult) {
	dir := h.Directory(DirResource)
	if dir.VirtualAddress == 0 {
		return []ResourceNode{}, common.NewSkipped("no resource directory")
	}
	base, ok := tr.RVAToFile(uint64(dir.VirtualAddress))
	if !ok {
		diags.Warnf("Invalid RVA for Resource directory (0x%08X)", dir.VirtualAddress)
		return []ResourceNode{}, common.NewFailed("invalid resource directory RVA", 0)
	}

	w := &resourceWalker{
		src:     src,
		tr:      tr,
		diags:   diags,
		base:    base,
		nodes:   []ResourceNode{},
		onPath:  make(map[uint64]bool),
	}
	w.walk(0, 0, [3]uint32{}, "")

	if w.errored {
		return w.nodes, common.NewFailed("resource tree too deep", len(w.nodes))
	}
	return w.nodes, common.NewApplied("resources", len(w.nodes))
}

// walk decodes the directory table at relative offset off. Problems in one
// entry are reported and the walk moves on to its siblings.
func (w *resourceWalker) walk(off uint64, depth int, key [3]uint32, name string) {
	if w.full {
		return
	}
	if depth > MaxResourceDepth {
		w.diags.Errorf("Resource depth is too big (>%d)", MaxResourceDepth)
		w.errored = true
		return
	}
	if w.onPath[off] {
		w.diags.Warnf("Resource directory at offset 0x%X contains itself", w.base+off)
		return
	}
	w.onPath[off] = true
	defer delete(w.onPath, off)

	fa := w.base + off
	dir, ok := readRecord(w.src, fa, resourceDirSize, decodeResourceDirectory)
	if !ok {
		w.diags.Warnf("Unable to read IMAGE_RESOURCE_DIRECTORY at offset 0x%X", fa)
		return
	}

	count := int(dir.NumberOfIDEntries)
	if depth == 0 {
		count += int(dir.NumberOfNamedEntries)
	}
	if int(dir.NumberOfNamedEntries) > count {
		count = int(dir.NumberOfNamedEntries)
	}
	if count > MaxResourceEntries {
		w.diags.Warnf("Too many resources (>%d)", MaxResourceEntries)
		return
	}
	if dir.Characteristics != 0 {
		w.diags.Warnf("IMAGE_RESOURCE_DIRECTORY (Invalid Characteristics field) at offset 0x%X", fa)
		return
	}

	for i := 0; i < count; i++ {
		if w.full {
			return
		}
		w.visits++
		if w.visits > MaxResourceVisits {
			w.diags.Warnf("Too many resource entries visited (>%d)", MaxResourceVisits)
			w.full = true
			return
		}

		entryFA := fa + resourceDirSize + uint64(i*resourceEntrySize)
		entry, ok := readRecord(w.src, entryFA, resourceEntrySize, decodeResourceDirEntry)
		if !ok {
			w.diags.Warnf("Unable to read IMAGE_RESOURCE_DIRECTORY_ENTRY at offset 0x%X", entryFA)
			return
		}

		entryName := name
		entryKey := key
		if entry.Name&resourceNameIsString != 0 {
			nameFA := w.base + uint64(entry.Name&^resourceNameIsString)
			if s, ok := readResourceName(w.src, nameFA); ok {
				entryName = s
			} else {
				w.diags.Warnf("Unable to read resource name at offset 0x%X", nameFA)
			}
		}
		if depth < len(entryKey) {
			entryKey[depth] = entry.Name & 0xFFFF
		}

		if entry.OffsetToData&resourceDataIsDir != 0 {
			w.walk(uint64(entry.OffsetToData&^resourceDataIsDir), depth+1, entryKey, entryName)
			continue
		}
		w.addLeaf(uint64(entry.OffsetToData), entryKey, entryName)
	}
}

func (w *resourceWalker) addLeaf(off uint64, key [3]uint32, name string) {
	fa := w.base + off
	data, ok := readRecord(w.src, fa, resourceDataSize, decodeResourceDataEntry)
	if !ok {
		w.diags.Warnf("Unable to read IMAGE_RESOURCE_DATA_ENTRY at offset 0x%X", fa)
		return
	}
	start, ok := w.tr.RVAToFile(uint64(data.OffsetToData))
	if !ok {
		w.diags.Warnf("Invalid RVA for resource data (0x%08X)", data.OffsetToData)
		return
	}
	if len(w.nodes) >= MaxResources {
		w.diags.Warnf("Too many resources (>%d), remaining entries ignored", MaxResources)
		w.full = true
		return
	}
	w.nodes = append(w.nodes, ResourceNode{
		Type:     key[0],
		ID:       key[1],
		Language: key[2],
		Start:    start,
		Size:     data.Size,
		CodePage: data.CodePage,
		Name:     name,
	})
}

// readResourceName decodes a length-prefixed UTF-16 directory string.
func readResourceName(src source.ByteSource, off uint64) (string, bool) {
	length, ok := readU16(src, off)
	if !ok || int(length) > maxNameLength {
		return "", false
	}
	n := min(int(length), maxResourceNameLength)
	b, ok := source.Exact(src, off+2, 2*n)
	if !ok {
		return "", false
	}
	return decodeUTF16(b), true
}
