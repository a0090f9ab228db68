package peparse

import (
	"petriage/common"
	"petriage/source"
)

// Parse decodes the PE image in src. The returned File is never nil and
// always carries the diagnostics. When the headers are unusable a Fatal
// diagnostic is recorded, File.Valid is false and the error wraps
// ErrFatal. Otherwise every stage runs, whatever the earlier ones found.
func Parse(src source.ByteSource) (*File, error) {
	f := &File{
		Size:            src.Size(),
		Sections:        []Section{},
		ImportedModules: []ImportedModule{},
		Imports:         []ImportedFunction{},
		Resources:       []ResourceNode{},
		Diagnostics:     common.NewDiagnostics(),
	}

	h, err := loadHeaders(src, f.Diagnostics)
	if err != nil {
		f.record("headers", common.NewFailed(err.Error(), 0))
		return f, err
	}
	f.Headers = h
	f.record("headers", common.NewApplied("headers", 1))

	f.parseAllComponents(src)
	f.Valid = !f.Diagnostics.HasFatal()
	return f, nil
}

// ParseBytes is Parse over an in-memory buffer.
func ParseBytes(data []byte) (*File, error) {
	return Parse(source.NewMemory(data))
}

func (f *File) record(stage string, result *common.OperationResult) {
	f.Stages = append(f.Stages, Stage{Name: stage, Result: result})
}

// parseAllComponents runs the builders in a fixed order. Each one owns a
// distinct part of the model and only reads headers and sections.
func (f *File) parseAllComponents(src source.ByteSource) {
	h, diags := f.Headers, f.Diagnostics

	var result *common.OperationResult
	f.Sections, result = buildSections(src, h, diags)
	f.record("sections", result)

	f.translator = NewTranslator(f.Sections, h.Optional.ImageBase)
	tr := f.translator

	f.Layout, result = computeLayout(src, h, f.Sections, diags)
	f.record("layout", result)

	f.Resources, result = buildResources(src, h, tr, diags)
	f.record("resources", result)

	f.Exports, result = buildExports(src, h, tr, diags)
	f.record("exports", result)

	f.ImportedModules, f.Imports, result = buildImports(src, h, tr, diags)
	f.record("imports", result)

	f.Version, result = buildVersion(src, f.Resources, diags)
	f.record("version", result)

	f.TLS, result = buildTLS(src, h, tr)
	f.record("tls", result)

	f.Debug, result = buildDebug(src, h, tr, diags)
	f.record("debug", result)

	f.Certificate, result = buildCertificates(src, h, diags)
	f.record("certificate", result)

	f.record("entry point", validateEntryPoint(src, h, tr, f.Sections, diags))
	f.record("directories", validateDirectories(h, tr, src.Size(), diags))
}

// Panel names a view a front end can show for a parsed image.
type Panel string

const (
	PanelInformation Panel = "Information"
	PanelDirectories Panel = "Directories"
	PanelSections    Panel = "Sections"
	PanelHeaders     Panel = "Headers"
	PanelImports     Panel = "Imports"
	PanelExports     Panel = "Exports"
	PanelResources   Panel = "Resources"
	PanelIcons       Panel = "Icons"
	PanelTLS         Panel = "TLS"
	PanelDebug       Panel = "Debug"
	PanelVersion     Panel = "Version"
	PanelCertificate Panel = "Certificate"
)

// Panels derives the views worth showing from what was decoded. An
// invalid File gets none.
func (f *File) Panels() []Panel {
	if !f.Valid {
		return nil
	}
	panels := []Panel{PanelInformation, PanelDirectories, PanelSections, PanelHeaders}
	if len(f.ImportedModules) > 0 {
		panels = append(panels, PanelImports)
	}
	if f.Exports != nil && len(f.Exports.Entries) > 0 {
		panels = append(panels, PanelExports)
	}
	if len(f.Resources) > 0 {
		panels = append(panels, PanelResources)
		for _, r := range f.Resources {
			if r.Type == RTIcon {
				panels = append(panels, PanelIcons)
				break
			}
		}
	}
	if f.TLS.Present {
		panels = append(panels, PanelTLS)
	}
	if f.Debug != nil && len(f.Debug.Records) > 0 {
		panels = append(panels, PanelDebug)
	}
	if f.Version.Present {
		panels = append(panels, PanelVersion)
	}
	if f.Certificate.Present {
		panels = append(panels, PanelCertificate)
	}
	return panels
}

// ModuleFunctions returns the functions imported from module index i.
func (f *File) ModuleFunctions(i int) []ImportedFunction {
	var out []ImportedFunction
	for _, fn := range f.Imports {
		if fn.Module == i {
			out = append(out, fn)
		}
	}
	return out
}

// IsPE reports whether src starts with an MZ header pointing at a PE
// signature. It does not validate anything else.
func IsPE(src source.ByteSource) bool {
	magic, ok := readU16(src, 0)
	if !ok || magic != magicDOS {
		return false
	}
	lfanew, ok := readU32(src, lfanewOffs)
	if !ok {
		return false
	}
	sig, ok := readU32(src, uint64(lfanew))
	return ok && sig == magicNT
}
