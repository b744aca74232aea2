package binary

import (
	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

var sizePrefixedName = []byte{4, 'n', 'a', 'm', 'e'}

// sectionOrder is the order known sections are encoded in, which is not the order of their IDs.
var sectionOrder = []wasm.SectionID{
	wasm.SectionIDType,
	wasm.SectionIDImport,
	wasm.SectionIDFunction,
	wasm.SectionIDTable,
	wasm.SectionIDMemory,
	wasm.SectionIDGlobal,
	wasm.SectionIDExport,
	wasm.SectionIDStart,
	wasm.SectionIDElement,
	wasm.SectionIDDataCount,
	wasm.SectionIDCode,
	wasm.SectionIDData,
}

// EncodeModule implements wasm.EncodeModule for the WebAssembly Binary Format. Empty sections are skipped, and custom
// sections are written after the known section they followed when decoded.
//
// Note: If saving to a file, the conventional extension is wasm
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-format%E2%91%A0
func EncodeModule(m *wasm.Module) (bytes []byte) {
	bytes = append(append([]byte{}, magic...), version...)
	bytes = appendCustomSections(bytes, m, wasm.SectionIDCustom)
	for _, sectionID := range sectionOrder {
		bytes = append(bytes, encodeKnownSection(m, sectionID)...)
		bytes = appendCustomSections(bytes, m, sectionID)
	}
	// >> The name section should appear only once in a module, and only after the data section.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-namesec
	if m.NameSection != nil {
		nameSection := append(append([]byte{}, sizePrefixedName...), encodeNameSectionData(m.NameSection)...)
		bytes = append(bytes, encodeSection(wasm.SectionIDCustom, nameSection)...)
	}
	return
}

func appendCustomSections(bytes []byte, m *wasm.Module, after wasm.SectionID) []byte {
	for _, c := range m.CustomSections {
		if c.After == after {
			bytes = append(bytes, encodeCustomSection(c)...)
		}
	}
	return bytes
}

// encodeKnownSection returns nil when the section is empty.
func encodeKnownSection(m *wasm.Module, sectionID wasm.SectionID) []byte {
	switch sectionID {
	case wasm.SectionIDType:
		if len(m.TypeSection) > 0 {
			return encodeTypeSection(m.TypeSection)
		}
	case wasm.SectionIDImport:
		if len(m.ImportSection) > 0 {
			return encodeImportSection(m.ImportSection)
		}
	case wasm.SectionIDFunction:
		if len(m.FunctionSection) > 0 {
			return encodeFunctionSection(m.FunctionSection)
		}
	case wasm.SectionIDTable:
		if len(m.TableSection) > 0 {
			return encodeTableSection(m.TableSection)
		}
	case wasm.SectionIDMemory:
		if len(m.MemorySection) > 0 {
			return encodeMemorySection(m.MemorySection)
		}
	case wasm.SectionIDGlobal:
		if len(m.GlobalSection) > 0 {
			return encodeGlobalSection(m.GlobalSection)
		}
	case wasm.SectionIDExport:
		if len(m.ExportSection) > 0 {
			return encodeExportSection(m.ExportSection)
		}
	case wasm.SectionIDStart:
		if m.StartSection != nil {
			return encodeStartSection(*m.StartSection)
		}
	case wasm.SectionIDElement:
		if len(m.ElementSection) > 0 {
			return encodeElementSection(m.ElementSection)
		}
	case wasm.SectionIDDataCount:
		if m.DataCountSection != nil {
			return encodeDataCountSection(*m.DataCountSection)
		}
	case wasm.SectionIDCode:
		if len(m.CodeSection) > 0 {
			return encodeCodeSection(m.CodeSection)
		}
	case wasm.SectionIDData:
		if len(m.DataSection) > 0 {
			return encodeDataSection(m.DataSection)
		}
	}
	return nil
}
