package wasm

import (
	"fmt"
)

// TableInstance represents a table of (ElemTypeFuncref) elements in a module.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#table-instances%E2%91%A0
type TableInstance struct {
	// References are the functions of each element, or nil when the element is uninitialized.
	References []*FunctionInstance

	// Min is the minimum (function) elements in this table.
	Min uint32

	// Max if present is the maximum (function) elements in this table, or nil if unbounded.
	Max *uint32
}

// NewTableInstance allocates min elements, failing with ErrResourceLimitExceeded when that exceeds limitElements.
func NewTableInstance(t *TableType, limitElements uint32) (*TableInstance, error) {
	if t.Limit.Min > limitElements {
		return nil, fmt.Errorf("%w: table min %d elements over limit of %d", ErrResourceLimitExceeded, t.Limit.Min, limitElements)
	}
	return &TableInstance{
		References: make([]*FunctionInstance, t.Limit.Min),
		Min:        t.Limit.Min,
		Max:        t.Limit.Max,
	}, nil
}

// Size returns the current count of elements.
func (t *TableInstance) Size() uint32 {
	return uint32(len(t.References))
}

// checkSegmentBounds fails if offset+count elements do not fit in the table.
func (t *TableInstance) checkSegmentBounds(offset uint32, count int) error {
	if uint64(offset)+uint64(count) > uint64(len(t.References)) { // uint64 in case offset was set to -1
		return fmt.Errorf("%w: offset %d + %d elements > table size %d",
			ErrTrapInvalidTableAccess, offset, count, len(t.References))
	}
	return nil
}

// limitsCompatible returns true when an exporting table or memory with the actual limits may satisfy an import
// declaring the expected ones.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#limits%E2%91%A2
func limitsCompatible(actualMin uint32, actualMax *uint32, expected *LimitsType) bool {
	if actualMin < expected.Min {
		return false
	}
	if expected.Max == nil {
		return true
	}
	return actualMax != nil && *actualMax <= *expected.Max
}
