package binary

import (
	"bytes"
	"fmt"

	"github.com/wasmedge-go/wasmedge/internal/leb128"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

// decodeLimitsType returns the wasm.LimitsType decoded with the WebAssembly Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#limits%E2%91%A6
func decodeLimitsType(r *bytes.Reader) (*wasm.LimitsType, error) {
	b, err := readByte(r, "leading byte")
	if err != nil {
		return nil, err
	}

	ret := &wasm.LimitsType{}
	switch b {
	case 0x00:
		if ret.Min, _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("read min of limit: %w", err)
		}
	case 0x01:
		if ret.Min, _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("read min of limit: %w", err)
		}
		m, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read max of limit: %w", err)
		}
		ret.Max = &m
	default:
		return nil, fmt.Errorf("%w for limits: %#x != 0x00 or 0x01", ErrInvalidByte, b)
	}
	return ret, nil
}

// encodeLimitsType returns the wasm.LimitsType encoded in WebAssembly Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#limits%E2%91%A6
func encodeLimitsType(l *wasm.LimitsType) []byte {
	if l.Max == nil {
		return append([]byte{0x00}, leb128.EncodeUint32(l.Min)...)
	}
	return append(append([]byte{0x01}, leb128.EncodeUint32(l.Min)...), leb128.EncodeUint32(*l.Max)...)
}

// decodeTableType returns the wasm.TableType decoded with the WebAssembly Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-table
func decodeTableType(r *bytes.Reader) (*wasm.TableType, error) {
	elemType, err := readByte(r, "element type")
	if err != nil {
		return nil, err
	}

	if elemType != wasm.ElemTypeFuncref {
		return nil, fmt.Errorf("%w: table element type %#x != funcref(%#x)", ErrInvalidByte, elemType, wasm.ElemTypeFuncref)
	}

	limit, err := decodeLimitsType(r)
	if err != nil {
		return nil, fmt.Errorf("read limits: %w", err)
	}
	return &wasm.TableType{ElemType: elemType, Limit: limit}, nil
}

func encodeTableType(t *wasm.TableType) []byte {
	return append([]byte{t.ElemType}, encodeLimitsType(t.Limit)...)
}
