package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wasmedge-go/wasmedge/internal/leb128"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

// dataSegmentPrefix represents three types of data segments.
//
// https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/binary/modules.html#data-section
type dataSegmentPrefix = uint32

const (
	// dataSegmentPrefixActive is the prefix for the version 1.0 compatible data segment, which is classified as "active" in 2.0.
	dataSegmentPrefixActive dataSegmentPrefix = 0x0
	// dataSegmentPrefixPassive prefixes the "passive" data segment as in version 2.0 specification.
	dataSegmentPrefixPassive dataSegmentPrefix = 0x1
	// dataSegmentPrefixActiveWithMemoryIndex is the active prefix with memory index encoded which is defined for futur use as of 2.0.
	dataSegmentPrefixActiveWithMemoryIndex dataSegmentPrefix = 0x2
)

func decodeDataSegment(r *bytes.Reader, enabledFeatures wasm.Features) (*wasm.DataSegment, error) {
	dataSegmentPrefix, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read data segment prefix: %w", err)
	}

	if dataSegmentPrefix != dataSegmentPrefixActive {
		if err = enabledFeatures.Require(wasm.FeatureBulkMemoryOperations); err != nil {
			return nil, fmt.Errorf("non-zero prefix for data segment is invalid as %w", err)
		}
	}

	ret := &wasm.DataSegment{}
	switch dataSegmentPrefix {
	case dataSegmentPrefixActive, dataSegmentPrefixActiveWithMemoryIndex:
		// Active data segment as in
		// https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/binary/modules.html#data-section
		if dataSegmentPrefix == dataSegmentPrefixActiveWithMemoryIndex {
			d, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("read memory index: %w", err)
			}
			if d != 0 {
				return nil, fmt.Errorf("memory index must be zero but was %d", d)
			}
		}

		if ret.OffsetExpression, err = decodeConstantExpression(r); err != nil {
			return nil, fmt.Errorf("read offset expression: %w", err)
		}
	case dataSegmentPrefixPassive:
		// Passive data segment doesn't need const expr nor memory index encoded.
		// https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/binary/modules.html#data-section
		ret.Passive = true
	default:
		return nil, fmt.Errorf("%w: invalid data segment prefix: %#x", ErrInvalidByte, dataSegmentPrefix)
	}

	vs, err := decodeCount(r, "data segment")
	if err != nil {
		return nil, err
	}

	if vs == 0 {
		return ret, nil
	}
	ret.Init = make([]byte, vs)
	if _, err = io.ReadFull(r, ret.Init); err != nil {
		return nil, fmt.Errorf("read bytes for init: %w", eofToUnexpectedEnd(err))
	}
	return ret, nil
}

func encodeDataSegment(d *wasm.DataSegment) (ret []byte) {
	if d.Passive {
		ret = leb128.EncodeUint32(dataSegmentPrefixPassive)
	} else {
		ret = append(leb128.EncodeUint32(dataSegmentPrefixActive), encodeConstantExpression(d.OffsetExpression)...)
	}
	return append(ret, encodeSizePrefixed(d.Init)...)
}
