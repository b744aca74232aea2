package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

// decodeCustomSection reads a custom section ending at the offset end. The first "name" section is decoded into
// wasm.Module NameSection, unless it has subsections that aren't understood, in which case it is kept raw like any
// other custom section.
func decodeCustomSection(r *bytes.Reader, m *wasm.Module, end uint64, after wasm.SectionID) error {
	name, _, err := decodeUTF8(r, "custom section name")
	if err != nil {
		return err
	}
	if position(r) > end {
		return fmt.Errorf("%w: custom section name overruns the section", ErrSectionSizeMismatch)
	}

	var data []byte
	if dataSize := end - position(r); dataSize > 0 {
		data = make([]byte, dataSize)
		if _, err = io.ReadFull(r, data); err != nil {
			return fmt.Errorf("read custom section %q: %w", name, eofToUnexpectedEnd(err))
		}
	}

	if name == "name" && m.NameSection == nil {
		if ns, err := decodeNameSection(data); err == nil {
			m.NameSection = ns
			return nil
		}
	}
	m.CustomSections = append(m.CustomSections, &wasm.CustomSection{Name: name, Data: data, After: after})
	return nil
}

func encodeCustomSection(c *wasm.CustomSection) []byte {
	contents := encodeSizePrefixed([]byte(c.Name))
	contents = append(contents, c.Data...)
	return encodeSection(wasm.SectionIDCustom, contents)
}
