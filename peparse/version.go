package peparse

import (
	"encoding/binary"
	"fmt"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/pkg/errors"

	"petriage/common"
	"petriage/source"
)

const (
	fixedFileInfoSignature = 0xFEEF04BD
	fixedFileInfoSize      = 52
	versionBlockHeaderSize = 6
	maxVersionDepth        = 8
	maxVersionChildren     = 512
	versionTypeText        = 1
)

var errVersionBlock = errors.New("malformed version block")

// versionBlock is one node of a VS_VERSIONINFO tree: a UTF-16 key, an
// optional value and nested children, each aligned to 32 bits.
type versionBlock struct {
	key       string
	valueType uint16
	value     []byte
	children  []versionBlock
}

func align4(n int) int {
	return (n + 3) &^ 3
}

func parseVersionBlock(b []byte, off, depth int) (versionBlock, int, error) {
	var blk versionBlock
	if depth > maxVersionDepth {
		return blk, 0, errors.Wrapf(errVersionBlock, "nesting deeper than %d", maxVersionDepth)
	}
	if off+versionBlockHeaderSize > len(b) {
		return blk, 0, errors.Wrapf(errVersionBlock, "header at 0x%X past end of buffer", off)
	}
	length := int(binary.LittleEndian.Uint16(b[off:]))
	valueLength := int(binary.LittleEndian.Uint16(b[off+2:]))
	blk.valueType = binary.LittleEndian.Uint16(b[off+4:])
	if length < versionBlockHeaderSize || off+length > len(b) {
		return blk, 0, errors.Wrapf(errVersionBlock, "invalid length %d at 0x%X", length, off)
	}
	end := off + length

	p := off + versionBlockHeaderSize
	keyStart := p
	for p+1 < end && (b[p] != 0 || b[p+1] != 0) {
		p += 2
	}
	if p+1 >= end {
		return blk, 0, errors.Wrapf(errVersionBlock, "unterminated key at 0x%X", keyStart)
	}
	blk.key = decodeUTF16(b[keyStart:p])
	p = min(align4(p+2), end)

	if blk.valueType == versionTypeText {
		valueLength *= 2
	}
	valueLength = min(valueLength, end-p)
	blk.value = b[p : p+valueLength]
	p = min(align4(p+valueLength), end)

	for p < end {
		if len(blk.children) >= maxVersionChildren {
			return blk, 0, errors.Wrapf(errVersionBlock, "more than %d children in %q", maxVersionChildren, blk.key)
		}
		child, next, err := parseVersionBlock(b, p, depth+1)
		if err != nil {
			return blk, 0, err
		}
		blk.children = append(blk.children, child)
		p = next
	}
	return blk, align4(end), nil
}

// decodeVersionInfo decodes a VS_VERSIONINFO resource.
func decodeVersionInfo(b []byte) (VersionInfo, error) {
	info := VersionInfo{Strings: orderedmap.NewOrderedMap[string, string]()}

	root, _, err := parseVersionBlock(b, 0, 0)
	if err != nil {
		return info, err
	}
	if root.key != "VS_VERSION_INFO" {
		return info, errors.Errorf("unexpected root key %q", root.key)
	}
	if len(root.value) > 0 {
		fixed, err := decodeFixedFileInfo(root.value)
		if err != nil {
			return info, err
		}
		info.Fixed = fixed
	}

	for _, child := range root.children {
		switch child.key {
		case "StringFileInfo":
			for _, table := range child.children {
				for _, s := range table.children {
					info.Strings.Set(s.key, decodeUTF16(s.value))
				}
			}
		case "VarFileInfo":
			for _, v := range child.children {
				if v.key != "Translation" {
					continue
				}
				for i := 0; i+4 <= len(v.value); i += 4 {
					info.Translations = append(info.Translations, fmt.Sprintf("%04X%04X",
						binary.LittleEndian.Uint16(v.value[i:]), binary.LittleEndian.Uint16(v.value[i+2:])))
				}
			}
		}
	}
	return info, nil
}

func decodeFixedFileInfo(b []byte) (*FixedFileInfo, error) {
	var sig, strucVersion, fileMS, fileLS, productMS, productLS uint32
	fixed := &FixedFileInfo{}
	r := newReader(b)
	ok := r.u32(&sig) && r.u32(&strucVersion) &&
		r.u32(&fileMS) && r.u32(&fileLS) && r.u32(&productMS) && r.u32(&productLS) &&
		r.u32(&fixed.FileFlagsMask) && r.u32(&fixed.FileFlags) &&
		r.u32(&fixed.FileOS) && r.u32(&fixed.FileType) && r.u32(&fixed.FileSubtype)
	if !ok {
		return nil, errors.Errorf("VS_FIXEDFILEINFO too short (%d bytes)", len(b))
	}
	if sig != fixedFileInfoSignature {
		return nil, errors.Errorf("invalid VS_FIXEDFILEINFO signature 0x%08X", sig)
	}
	fixed.FileVersion = formatVersion(fileMS, fileLS)
	fixed.ProductVersion = formatVersion(productMS, productLS)
	return fixed, nil
}

func formatVersion(ms, ls uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", ms>>16, ms&0xFFFF, ls>>16, ls&0xFFFF)
}

// buildVersion decodes the first usable RT_VERSION resource.
func buildVersion(src source.ByteSource, resources []ResourceNode, diags *common.Diagnostics) (VersionInfo, *common.OperationResult) {
	fileSize := src.Size()
	for _, node := range resources {
		if node.Type != RTVersion {
			continue
		}
		if node.Start >= fileSize {
			break
		}
		size := min(uint64(node.Size), MaxVersionBuffer, fileSize-node.Start)
		buf := src.Slice(node.Start, int(size))
		if len(buf) == 0 {
			diags.Warnf("Unable to read version information resource")
			continue
		}
		info, err := decodeVersionInfo(buf)
		if err != nil {
			diags.Warnf("Invalid version information resource. (%v)", err)
			continue
		}
		info.Present = true
		return info, common.NewApplied("version information", info.Strings.Len())
	}
	return VersionInfo{}, common.NewSkipped("no version resource")
}
