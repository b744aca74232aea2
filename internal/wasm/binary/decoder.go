package binary

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/wasmedge-go/wasmedge/internal/leb128"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

// DecodeModule implements wasm.DecodeModule for the WebAssembly Binary Format.
//
// Errors are *wasm.DecodeError, which match wasm.ErrMalformedBinary and carry the byte offset of the failure.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-format%E2%91%A0
func DecodeModule(binary []byte, enabledFeatures wasm.Features) (*wasm.Module, error) {
	r := bytes.NewReader(binary)
	m, err := decodeModule(r, enabledFeatures)
	if err != nil {
		return nil, &wasm.DecodeError{Offset: position(r), Err: err}
	}
	return m, nil
}

func decodeModule(r *bytes.Reader, enabledFeatures wasm.Features) (*wasm.Module, error) {
	// Magic number.
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, magic) {
		return nil, ErrInvalidMagicNumber
	}

	// Version.
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, version) {
		return nil, ErrInvalidVersion
	}

	m := &wasm.Module{}
	lastSectionID := wasm.SectionIDCustom
	lastRank := 0
	for {
		sectionID, err := r.ReadByte()
		if err == io.EOF {
			break
		}

		sectionSize, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("get size of section %s: %v", wasm.SectionIDName(sectionID), err)
		}
		if int64(sectionSize) > int64(r.Len()) {
			return nil, fmt.Errorf("%w: section %s declares %d bytes, but only %d remain",
				ErrUnexpectedEndOfInput, wasm.SectionIDName(sectionID), sectionSize, r.Len())
		}

		sectionContentStart := position(r)
		if sectionID == wasm.SectionIDCustom {
			err = decodeCustomSection(r, m, sectionContentStart+uint64(sectionSize), lastSectionID)
		} else {
			rank := sectionRank(sectionID)
			if rank == 0 {
				return nil, fmt.Errorf("%w: %#x", ErrInvalidSectionID, sectionID)
			}
			if rank <= lastRank {
				return nil, fmt.Errorf("%w: %s section after %s section",
					ErrInvalidSectionOrder, wasm.SectionIDName(sectionID), wasm.SectionIDName(lastSectionID))
			}
			lastRank, lastSectionID = rank, sectionID
			err = decodeSection(r, m, sectionID, enabledFeatures)
		}
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", wasm.SectionIDName(sectionID), err)
		}

		if read := position(r) - sectionContentStart; read != uint64(sectionSize) {
			return nil, fmt.Errorf("%w: section %s declared %d bytes, but %d were read",
				ErrSectionSizeMismatch, wasm.SectionIDName(sectionID), sectionSize, read)
		}
	}

	if functionCount, codeCount := len(m.FunctionSection), len(m.CodeSection); functionCount != codeCount {
		return nil, fmt.Errorf("function and code section have inconsistent lengths: %d != %d", functionCount, codeCount)
	}
	if m.DataCountSection != nil && int(*m.DataCountSection) != len(m.DataSection) {
		return nil, fmt.Errorf("data count and data section have inconsistent lengths: %d != %d",
			*m.DataCountSection, len(m.DataSection))
	}
	return m, nil
}

func decodeSection(r *bytes.Reader, m *wasm.Module, sectionID wasm.SectionID, enabledFeatures wasm.Features) (err error) {
	switch sectionID {
	case wasm.SectionIDType:
		m.TypeSection, err = decodeTypeSection(r)
	case wasm.SectionIDImport:
		m.ImportSection, err = decodeImportSection(r)
	case wasm.SectionIDFunction:
		m.FunctionSection, err = decodeFunctionSection(r)
	case wasm.SectionIDTable:
		m.TableSection, err = decodeTableSection(r)
	case wasm.SectionIDMemory:
		m.MemorySection, err = decodeMemorySection(r)
	case wasm.SectionIDGlobal:
		m.GlobalSection, err = decodeGlobalSection(r)
	case wasm.SectionIDExport:
		m.ExportSection, err = decodeExportSection(r)
	case wasm.SectionIDStart:
		m.StartSection, err = decodeStartSection(r)
	case wasm.SectionIDElement:
		m.ElementSection, err = decodeElementSection(r, enabledFeatures)
	case wasm.SectionIDDataCount:
		if err = enabledFeatures.Require(wasm.FeatureBulkMemoryOperations); err != nil {
			return fmt.Errorf("data count section not supported as %w", err)
		}
		m.DataCountSection, err = decodeDataCountSection(r)
	case wasm.SectionIDCode:
		m.CodeSection, err = decodeCodeSection(r)
	case wasm.SectionIDData:
		m.DataSection, err = decodeDataSection(r, enabledFeatures)
	}
	return
}

// sectionRank is the position of a known section in the required order, or zero if the section ID is unknown. The
// data count section is ordered between the element and code sections, despite its higher ID.
func sectionRank(sectionID wasm.SectionID) int {
	switch {
	case sectionID >= wasm.SectionIDType && sectionID <= wasm.SectionIDElement:
		return int(sectionID)
	case sectionID == wasm.SectionIDDataCount:
		return int(wasm.SectionIDElement) + 1
	case sectionID == wasm.SectionIDCode, sectionID == wasm.SectionIDData:
		return int(sectionID) + 1
	}
	return 0
}

// position is the count of bytes consumed so far, which is the offset of the next byte to read.
func position(r *bytes.Reader) uint64 {
	return uint64(r.Size()) - uint64(r.Len())
}

// decodeCount reads a vector length, failing if it cannot possibly fit in the remaining input. This avoids large
// allocations for corrupt counts, as each element is encoded in at least one byte.
func decodeCount(r *bytes.Reader, what string) (uint32, error) {
	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, fmt.Errorf("get size of %s vector: %w", what, err)
	}
	if int64(count) > int64(r.Len()) {
		return 0, fmt.Errorf("%w: %s vector of %d elements exceeds remaining %d bytes",
			ErrUnexpectedEndOfInput, what, count, r.Len())
	}
	return count, nil
}

// readByte is like r.ReadByte, except it returns ErrUnexpectedEndOfInput instead of io.EOF.
func readByte(r *bytes.Reader, what string) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", what, eofToUnexpectedEnd(err))
	}
	return b, nil
}

func eofToUnexpectedEnd(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrUnexpectedEndOfInput
	}
	return err
}
