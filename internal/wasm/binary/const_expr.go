package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wasmedge-go/wasmedge/internal/leb128"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

func decodeConstantExpression(r *bytes.Reader) (*wasm.ConstantExpression, error) {
	opcode, err := readByte(r, "opcode")
	if err != nil {
		return nil, err
	}

	remaining := r.Len()
	switch opcode {
	case wasm.OpcodeI32Const:
		_, _, err = leb128.DecodeInt32(r)
	case wasm.OpcodeI64Const:
		_, _, err = leb128.DecodeInt64(r)
	case wasm.OpcodeF32Const:
		err = skip(r, 4)
	case wasm.OpcodeF64Const:
		err = skip(r, 8)
	case wasm.OpcodeGlobalGet:
		_, _, err = leb128.DecodeUint32(r)
	default:
		return nil, fmt.Errorf("%w for const expression opcode: %#x", ErrInvalidByte, opcode)
	}
	if err != nil {
		return nil, fmt.Errorf("read value: %w", err)
	}
	// Rewind to capture the immediate as raw bytes.
	n := remaining - r.Len()
	if _, err = r.Seek(int64(-n), io.SeekCurrent); err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if _, err = io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read value: %w", eofToUnexpectedEnd(err))
	}

	end, err := readByte(r, "end opcode")
	if err != nil {
		return nil, err
	}
	if end != wasm.OpcodeEnd {
		return nil, fmt.Errorf("constant expression has not been terminated")
	}

	return &wasm.ConstantExpression{Opcode: opcode, Data: data}, nil
}

func encodeConstantExpression(expr *wasm.ConstantExpression) (ret []byte) {
	ret = append(ret, expr.Opcode)
	ret = append(ret, expr.Data...)
	ret = append(ret, wasm.OpcodeEnd)
	return
}

// skip advances n bytes. Unlike Seek, this fails when fewer than n bytes remain.
func skip(r *bytes.Reader, n int) error {
	if r.Len() < n {
		return ErrUnexpectedEndOfInput
	}
	_, err := r.Seek(int64(n), io.SeekCurrent)
	return err
}
