package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wasmedge-go/wasmedge/internal/leb128"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

// maximumLocals bounds the count of locals in a function. The binary format allows up to 2^32-1, but expanding that
// many would exhaust memory on any host.
const maximumLocals = 50000

func decodeCode(r *bytes.Reader) (*wasm.Code, error) {
	ss, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get the size of code: %w", err)
	}
	if int64(ss) > int64(r.Len()) {
		return nil, fmt.Errorf("%w: code of %d bytes", ErrUnexpectedEndOfInput, ss)
	}
	start := position(r)

	// parse locals
	ls, err := decodeCount(r, "locals")
	if err != nil {
		return nil, err
	}

	var nums []uint64
	var types []wasm.ValueType
	var sum uint64
	for i := uint32(0); i < ls; i++ {
		n, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read n of locals: %w", err)
		}
		sum += uint64(n)
		if sum > maximumLocals {
			return nil, fmt.Errorf("too many locals: %d > %d", sum, maximumLocals)
		}
		nums = append(nums, uint64(n))

		b, err := readByte(r, "type of local")
		if err != nil {
			return nil, err
		}
		if !isValueType(b) {
			return nil, fmt.Errorf("%w: invalid local type: %#x", ErrInvalidByte, b)
		}
		types = append(types, b)
	}

	var localTypes []wasm.ValueType
	if sum > 0 {
		localTypes = make([]wasm.ValueType, 0, sum)
	}
	for i, num := range nums {
		t := types[i]
		for j := uint64(0); j < num; j++ {
			localTypes = append(localTypes, t)
		}
	}

	read := position(r) - start
	if read >= uint64(ss) {
		return nil, fmt.Errorf("locals overrun the code size of %d bytes", ss)
	}

	body := make([]byte, uint64(ss)-read)
	if _, err = io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", eofToUnexpectedEnd(err))
	}

	if body[len(body)-1] != wasm.OpcodeEnd {
		return nil, fmt.Errorf("expr not end with OpcodeEnd")
	}

	return &wasm.Code{Body: body, LocalTypes: localTypes}, nil
}

// encodeCode returns the wasm.Code encoded in WebAssembly Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-code
func encodeCode(c *wasm.Code) []byte {
	if c.GoFunc != nil {
		panic("BUG: GoFunc is not encodable")
	}

	// local blocks compress locals while preserving index order by grouping locals of the same type.
	// https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#code-section%E2%91%A0
	localBlockCount := uint32(0) // how many blocks of locals with the same type (types can repeat!)
	var localBlocks []byte
	localTypeLen := len(c.LocalTypes)
	if localTypeLen > 0 {
		i := localTypeLen - 1
		var runCount uint32               // count of the same type
		var lastValueType wasm.ValueType // initialize to an invalid type 0

		// iterate backwards so it is easier to size prefix
		for ; i >= 0; i-- {
			vt := c.LocalTypes[i]
			if lastValueType != vt {
				if runCount != 0 { // Only on the first iteration, this is zero when vt is compared against invalid
					localBlocks = append(leb128.EncodeUint32(runCount), localBlocks...)
				}
				lastValueType = vt
				localBlocks = append([]byte{vt}, localBlocks...)
				localBlockCount++
				runCount = 1
			} else {
				runCount++
			}
		}
		localBlocks = append(leb128.EncodeUint32(runCount), localBlocks...)
		localBlocks = append(leb128.EncodeUint32(localBlockCount), localBlocks...)
	} else {
		localBlocks = leb128.EncodeUint32(0)
	}
	code := append(localBlocks, c.Body...)
	return append(leb128.EncodeUint32(uint32(len(code))), code...)
}
