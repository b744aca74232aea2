package binary

import (
	"bytes"
	"fmt"

	"github.com/wasmedge-go/wasmedge/internal/leb128"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

// elemKindFuncref is the only element kind, used by segment flags which don't carry an expression vector.
const elemKindFuncref = 0x00

// decodeElementSegment decodes one of the segment forms of the bulk memory operations proposal which encode function
// indices. Forms which encode expressions (flags 4 to 7) need reference types, which are not supported.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/binary/modules.html#element-section
func decodeElementSegment(r *bytes.Reader, enabledFeatures wasm.Features) (*wasm.ElementSegment, error) {
	prefix, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read element prefix: %w", err)
	}

	if prefix != 0 {
		if err = enabledFeatures.Require(wasm.FeatureBulkMemoryOperations); err != nil {
			return nil, fmt.Errorf("non-zero prefix for element segment is invalid as %w", err)
		}
	}

	ret := &wasm.ElementSegment{}
	switch prefix {
	case 0: // active, table 0, function indices
		if ret.OffsetExpr, err = decodeConstantExpression(r); err != nil {
			return nil, fmt.Errorf("read expr for offset: %w", err)
		}
	case 1: // passive, function indices
		ret.Mode = wasm.ElementModePassive
		if err = decodeElemKind(r); err != nil {
			return nil, err
		}
	case 2: // active, explicit table, function indices
		if ret.TableIndex, _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("get table index: %w", err)
		}
		if ret.OffsetExpr, err = decodeConstantExpression(r); err != nil {
			return nil, fmt.Errorf("read expr for offset: %w", err)
		}
		if err = decodeElemKind(r); err != nil {
			return nil, err
		}
	case 3: // declarative, function indices
		ret.Mode = wasm.ElementModeDeclarative
		if err = decodeElemKind(r); err != nil {
			return nil, err
		}
	case 4, 5, 6, 7:
		return nil, fmt.Errorf("element segment prefix %d needs reference types, which are not supported", prefix)
	default:
		return nil, fmt.Errorf("%w: invalid element segment prefix: %#x", ErrInvalidByte, prefix)
	}

	if ret.Init, err = decodeFunctionIndices(r); err != nil {
		return nil, err
	}
	return ret, nil
}

func decodeElemKind(r *bytes.Reader) error {
	kind, err := readByte(r, "element kind")
	if err != nil {
		return err
	}
	if kind != elemKindFuncref {
		return fmt.Errorf("%w: element kind must be zero but was %#x", ErrInvalidByte, kind)
	}
	return nil
}

func decodeFunctionIndices(r *bytes.Reader) ([]wasm.Index, error) {
	vs, err := decodeCount(r, "function index")
	if err != nil || vs == 0 {
		return nil, err
	}

	init := make([]wasm.Index, vs)
	for i := range init {
		if init[i], _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("read function index: %w", err)
		}
	}
	return init, nil
}

// encodeElementSegment picks the shortest segment form. Active segments of table zero use the MVP encoding.
func encodeElementSegment(e *wasm.ElementSegment) (ret []byte) {
	switch e.Mode {
	case wasm.ElementModeActive:
		if e.TableIndex == 0 {
			ret = append(leb128.EncodeUint32(0), encodeConstantExpression(e.OffsetExpr)...)
		} else {
			ret = append(leb128.EncodeUint32(2), leb128.EncodeUint32(e.TableIndex)...)
			ret = append(ret, encodeConstantExpression(e.OffsetExpr)...)
			ret = append(ret, elemKindFuncref)
		}
	case wasm.ElementModePassive:
		ret = []byte{1, elemKindFuncref}
	case wasm.ElementModeDeclarative:
		ret = []byte{3, elemKindFuncref}
	}

	ret = append(ret, leb128.EncodeUint32(uint32(len(e.Init)))...)
	for _, idx := range e.Init {
		ret = append(ret, leb128.EncodeUint32(idx)...)
	}
	return
}
