package interpreter

import (
	"encoding/binary"
	"fmt"

	"github.com/wasmedge-go/wasmedge/internal/leb128"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

// unionOperation is one lowered instruction. Kind is the opcode of the instruction, or wasm.OpcodeMiscPrefix with B1
// holding the misc opcode. Block, loop, nop and end produce no operation.
type unionOperation struct {
	Kind wasm.Opcode
	B1   wasm.OpcodeMisc
	// U1 and U2 hold immediates: indexes, memory offsets, or the raw bits of a constant. For OpcodeIf and OpcodeElse,
	// U1 is the position to continue at when the then-branch is skipped or finished.
	U1, U2 uint64
	// Target is the label of br, br_if and return.
	Target *label
	// Targets are the labels of br_table, with the default last.
	Targets []*label
}

// label is a resolved branch target. Branching keeps the top arity values, drops the operand stack of the current
// frame down to height, and continues at pc.
type label struct {
	pc     int
	height int
	arity  int
}

func (l *label) String() string {
	return fmt.Sprintf("label{pc: %d, height: %d, arity: %d}", l.pc, l.height, l.arity)
}

// controlBlock is a block, loop or if being lowered.
type controlBlock struct {
	kind  wasm.Opcode
	label *label
	// height is the operand stack height below the block params.
	height          int
	params, results int
	// ifOp and elseOp are the positions of the if and else operations, or -1.
	ifOp, elseOp int
}

type compiler struct {
	types  []*wasm.FunctionType
	module *wasm.Module
	body   []byte
	pc     uint64

	result []unionOperation
	ctrls  []*controlBlock
	height int

	// unreachable is set after an unconditional branch, until the end or else of the current block.
	unreachable bool
	// skippedBlocks counts the blocks opened while unreachable.
	skippedBlocks int
}

// compile lowers the body of a validated function. Stack heights are tracked so that every branch knows how many
// operands to drop.
func compile(module *wasm.Module, f *wasm.FunctionInstance) ([]unionOperation, error) {
	c := &compiler{types: module.TypeSection, module: module, body: f.Body}
	fn := &label{arity: len(f.Type.Results)}
	c.ctrls = []*controlBlock{{kind: wasm.OpcodeBlock, label: fn, results: fn.arity, ifOp: -1, elseOp: -1}}

	for c.pc < uint64(len(c.body)) {
		if err := c.next(); err != nil {
			return nil, fmt.Errorf("%s at offset %#x: %w", f.Name, c.pc, err)
		}
		if len(c.ctrls) == 0 {
			return c.result, nil
		}
	}
	return nil, fmt.Errorf("%s: missing end", f.Name)
}

func (c *compiler) emit(op unionOperation) {
	c.result = append(c.result, op)
}

func (c *compiler) readU32() (uint32, error) {
	v, n, err := leb128.LoadUint32(c.body[c.pc:])
	c.pc += n
	return v, err
}

func (c *compiler) label(depth uint32) *label {
	return c.ctrls[len(c.ctrls)-1-int(depth)].label
}

func (c *compiler) markUnreachable() {
	c.unreachable = true
	c.skippedBlocks = 0
}

func (c *compiler) functionType(funcIdx wasm.Index) *wasm.FunctionType {
	if t := c.module.TypeOfFunction(funcIdx); t != nil {
		return t
	}
	return &wasm.FunctionType{}
}

// next lowers the instruction at c.pc. Immediates are decoded even when unreachable, to find the next instruction.
func (c *compiler) next() error {
	op := c.body[c.pc]
	c.pc++

	switch {
	case op >= wasm.OpcodeI32Load && op <= wasm.OpcodeI64Store32:
		if _, err := c.readU32(); err != nil { // alignment
			return err
		}
		offset, err := c.readU32()
		if err != nil {
			return err
		}
		if c.unreachable {
			return nil
		}
		if op >= wasm.OpcodeI32Store {
			c.height -= 2
		}
		// Loads pop the address and push the value, so they don't change the height.
		c.emit(unionOperation{Kind: op, U1: uint64(offset)})
		return nil
	case op >= wasm.OpcodeI32Eqz && op <= wasm.OpcodeI64Extend32S:
		if !c.unreachable {
			if isBinary(op) {
				c.height--
			}
			c.emit(unionOperation{Kind: op})
		}
		return nil
	}

	switch op {
	case wasm.OpcodeUnreachable:
		if !c.unreachable {
			c.emit(unionOperation{Kind: op})
			c.markUnreachable()
		}
	case wasm.OpcodeNop:
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		bt, n, err := wasm.DecodeBlockType(c.types, c.body[c.pc:], wasm.FeaturesFinished)
		if err != nil {
			return err
		}
		c.pc += n
		if c.unreachable {
			c.skippedBlocks++
			return nil
		}
		if op == wasm.OpcodeIf {
			c.height--
		}
		block := &controlBlock{
			kind:    op,
			height:  c.height - len(bt.Params),
			params:  len(bt.Params),
			results: len(bt.Results),
			ifOp:    -1,
			elseOp:  -1,
		}
		switch op {
		case wasm.OpcodeLoop:
			block.label = &label{pc: len(c.result), height: block.height, arity: block.params}
		case wasm.OpcodeIf:
			block.ifOp = len(c.result)
			c.emit(unionOperation{Kind: op})
			fallthrough
		default:
			block.label = &label{height: block.height, arity: block.results}
		}
		c.ctrls = append(c.ctrls, block)
	case wasm.OpcodeElse:
		if c.unreachable && c.skippedBlocks > 0 {
			return nil
		}
		c.unreachable = false
		block := c.ctrls[len(c.ctrls)-1]
		block.elseOp = len(c.result)
		c.emit(unionOperation{Kind: op})
		c.result[block.ifOp].U1 = uint64(len(c.result))
		c.height = block.height + block.params
	case wasm.OpcodeEnd:
		if c.unreachable && c.skippedBlocks > 0 {
			c.skippedBlocks--
			return nil
		}
		c.unreachable = false
		block := c.ctrls[len(c.ctrls)-1]
		c.ctrls = c.ctrls[:len(c.ctrls)-1]
		end := len(c.result)
		if block.kind != wasm.OpcodeLoop {
			block.label.pc = end
		}
		if block.elseOp >= 0 {
			c.result[block.elseOp].U1 = uint64(end)
		} else if block.ifOp >= 0 {
			c.result[block.ifOp].U1 = uint64(end)
		}
		c.height = block.height + block.results
		if len(c.ctrls) == 0 { // the end of the function
			c.emit(unionOperation{Kind: wasm.OpcodeReturn})
		}
	case wasm.OpcodeBr, wasm.OpcodeBrIf:
		depth, err := c.readU32()
		if err != nil {
			return err
		}
		if c.unreachable {
			return nil
		}
		c.emit(unionOperation{Kind: op, Target: c.label(depth)})
		if op == wasm.OpcodeBr {
			c.markUnreachable()
		} else {
			c.height--
		}
	case wasm.OpcodeBrTable:
		count, err := c.readU32()
		if err != nil {
			return err
		}
		depths := make([]uint32, count+1)
		for i := range depths {
			if depths[i], err = c.readU32(); err != nil {
				return err
			}
		}
		if c.unreachable {
			return nil
		}
		targets := make([]*label, len(depths))
		for i, d := range depths {
			targets[i] = c.label(d)
		}
		c.emit(unionOperation{Kind: op, Targets: targets})
		c.markUnreachable()
	case wasm.OpcodeReturn:
		if !c.unreachable {
			c.emit(unionOperation{Kind: op})
			c.markUnreachable()
		}
	case wasm.OpcodeCall:
		funcIdx, err := c.readU32()
		if err != nil {
			return err
		}
		if c.unreachable {
			return nil
		}
		t := c.functionType(funcIdx)
		c.height += len(t.Results) - len(t.Params)
		c.emit(unionOperation{Kind: op, U1: uint64(funcIdx)})
	case wasm.OpcodeCallIndirect:
		typeIdx, err := c.readU32()
		if err != nil {
			return err
		}
		if _, err = c.readU32(); err != nil { // table index
			return err
		}
		if c.unreachable {
			return nil
		}
		t := c.types[typeIdx]
		c.height += len(t.Results) - len(t.Params) - 1
		c.emit(unionOperation{Kind: op, U1: uint64(typeIdx)})
	case wasm.OpcodeDrop:
		if !c.unreachable {
			c.height--
			c.emit(unionOperation{Kind: op})
		}
	case wasm.OpcodeSelect:
		if !c.unreachable {
			c.height -= 2
			c.emit(unionOperation{Kind: op})
		}
	case wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee, wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet:
		idx, err := c.readU32()
		if err != nil {
			return err
		}
		if c.unreachable {
			return nil
		}
		switch op {
		case wasm.OpcodeLocalGet, wasm.OpcodeGlobalGet:
			c.height++
		case wasm.OpcodeLocalSet, wasm.OpcodeGlobalSet:
			c.height--
		}
		c.emit(unionOperation{Kind: op, U1: uint64(idx)})
	case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		if _, err := c.readU32(); err != nil { // memory index
			return err
		}
		if c.unreachable {
			return nil
		}
		if op == wasm.OpcodeMemorySize {
			c.height++
		}
		c.emit(unionOperation{Kind: op})
	case wasm.OpcodeI32Const, wasm.OpcodeI64Const, wasm.OpcodeF32Const, wasm.OpcodeF64Const:
		var bits uint64
		switch op {
		case wasm.OpcodeI32Const:
			v, n, err := leb128.LoadInt32(c.body[c.pc:])
			if err != nil {
				return err
			}
			c.pc += n
			bits = uint64(uint32(v))
		case wasm.OpcodeI64Const:
			v, n, err := leb128.LoadInt64(c.body[c.pc:])
			if err != nil {
				return err
			}
			c.pc += n
			bits = uint64(v)
		case wasm.OpcodeF32Const:
			if uint64(len(c.body)) < c.pc+4 {
				return fmt.Errorf("short f32.const")
			}
			bits = uint64(binary.LittleEndian.Uint32(c.body[c.pc:]))
			c.pc += 4
		case wasm.OpcodeF64Const:
			if uint64(len(c.body)) < c.pc+8 {
				return fmt.Errorf("short f64.const")
			}
			bits = binary.LittleEndian.Uint64(c.body[c.pc:])
			c.pc += 8
		}
		if !c.unreachable {
			c.height++
			c.emit(unionOperation{Kind: op, U1: bits})
		}
	case wasm.OpcodeMiscPrefix:
		return c.nextMisc()
	default:
		return fmt.Errorf("unsupported instruction %#x", op)
	}
	return nil
}

func (c *compiler) nextMisc() error {
	misc, err := c.readU32()
	if err != nil {
		return err
	}
	var u1, u2 uint32
	switch wasm.OpcodeMisc(misc) {
	case wasm.OpcodeMiscI32TruncSatF32S, wasm.OpcodeMiscI32TruncSatF32U,
		wasm.OpcodeMiscI32TruncSatF64S, wasm.OpcodeMiscI32TruncSatF64U,
		wasm.OpcodeMiscI64TruncSatF32S, wasm.OpcodeMiscI64TruncSatF32U,
		wasm.OpcodeMiscI64TruncSatF64S, wasm.OpcodeMiscI64TruncSatF64U:
	case wasm.OpcodeMiscMemoryInit, wasm.OpcodeMiscTableInit, wasm.OpcodeMiscMemoryCopy, wasm.OpcodeMiscTableCopy:
		// memory.init and table.init: segment index then memory or table index. The copies have two indexes.
		if u1, err = c.readU32(); err != nil {
			return err
		}
		if u2, err = c.readU32(); err != nil {
			return err
		}
		c.height -= 3
	case wasm.OpcodeMiscDataDrop, wasm.OpcodeMiscElemDrop:
		if u1, err = c.readU32(); err != nil {
			return err
		}
	case wasm.OpcodeMiscMemoryFill:
		if _, err = c.readU32(); err != nil {
			return err
		}
		c.height -= 3
	default:
		return fmt.Errorf("unsupported misc instruction %#x", misc)
	}
	if !c.unreachable {
		c.emit(unionOperation{Kind: wasm.OpcodeMiscPrefix, B1: wasm.OpcodeMisc(misc), U1: uint64(u1), U2: uint64(u2)})
	}
	return nil
}

// isBinary returns true for the numeric instructions which pop two operands and push one. The others in the numeric
// range pop and push one.
func isBinary(op wasm.Opcode) bool {
	switch {
	case op >= wasm.OpcodeI32Eq && op <= wasm.OpcodeI32GeU,
		op >= wasm.OpcodeI64Eq && op <= wasm.OpcodeF64Ge,
		op >= wasm.OpcodeI32Add && op <= wasm.OpcodeI32Rotr,
		op >= wasm.OpcodeI64Add && op <= wasm.OpcodeI64Rotr,
		op >= wasm.OpcodeF32Add && op <= wasm.OpcodeF32Copysign,
		op >= wasm.OpcodeF64Add && op <= wasm.OpcodeF64Copysign:
		return true
	}
	return false
}
