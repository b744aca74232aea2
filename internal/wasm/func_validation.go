package wasm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wasmedge-go/wasmedge/internal/leb128"
)

// valueTypeUnknown is pushed in stack-polymorphic code, after an unconditional branch, and matches any type.
const valueTypeUnknown = ValueType(0xFF)

// errTypeMismatch is the cause of every operand type error, so tests can match on it.
var errTypeMismatch = errors.New("type mismatch")

func loadIndex(b []byte) (Index, uint64, error) {
	return leb128.LoadUint32(b)
}

// controlFrame is a block, loop, if or else being validated. The function body itself is the outermost frame.
type controlFrame struct {
	opcode      Opcode
	blockType   *FunctionType
	height      int
	unreachable bool
}

// labelTypes are the values a branch to this frame carries.
func (c *controlFrame) labelTypes() []ValueType {
	if c.opcode == OpcodeLoop {
		return c.blockType.Params
	}
	return c.blockType.Results
}

// valueTypeStack is the abstract operand stack used to type-check a function body.
type valueTypeStack struct {
	stack []ValueType
	ctrls []*controlFrame
}

func (s *valueTypeStack) push(v ValueType) {
	s.stack = append(s.stack, v)
}

func (s *valueTypeStack) pushAll(vs []ValueType) {
	s.stack = append(s.stack, vs...)
}

func (s *valueTypeStack) pop() (ValueType, error) {
	frame := s.ctrls[len(s.ctrls)-1]
	if len(s.stack) == frame.height {
		if frame.unreachable {
			return valueTypeUnknown, nil
		}
		return 0, fmt.Errorf("%w: operand stack underflow", errTypeMismatch)
	}
	ret := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return ret, nil
}

func (s *valueTypeStack) popAndVerifyType(expected ValueType) (ValueType, error) {
	actual, err := s.pop()
	if err != nil {
		return 0, err
	}
	if actual != expected && actual != valueTypeUnknown && expected != valueTypeUnknown {
		return 0, fmt.Errorf("%w: expected %s, but was %s", errTypeMismatch, typeName(expected), typeName(actual))
	}
	if actual == valueTypeUnknown {
		return expected, nil
	}
	return actual, nil
}

// popAll pops the expected types in reverse, returning what was popped in stack order.
func (s *valueTypeStack) popAll(expected []ValueType) ([]ValueType, error) {
	popped := make([]ValueType, len(expected))
	for i := len(expected) - 1; i >= 0; i-- {
		actual, err := s.popAndVerifyType(expected[i])
		if err != nil {
			return nil, err
		}
		popped[i] = actual
	}
	return popped, nil
}

func (s *valueTypeStack) pushCtrl(opcode Opcode, bt *FunctionType) {
	s.ctrls = append(s.ctrls, &controlFrame{opcode: opcode, blockType: bt, height: len(s.stack)})
	s.pushAll(bt.Params)
}

func (s *valueTypeStack) popCtrl() (*controlFrame, error) {
	frame := s.ctrls[len(s.ctrls)-1]
	if _, err := s.popAll(frame.blockType.Results); err != nil {
		return nil, err
	}
	if len(s.stack) != frame.height {
		return nil, fmt.Errorf("%w: %d unexpected values left on the stack at the end of %s",
			errTypeMismatch, len(s.stack)-frame.height, InstructionName(frame.opcode))
	}
	s.ctrls = s.ctrls[:len(s.ctrls)-1]
	return frame, nil
}

func (s *valueTypeStack) unreachable() {
	frame := s.ctrls[len(s.ctrls)-1]
	s.stack = s.stack[:frame.height]
	frame.unreachable = true
}

func (s *valueTypeStack) String() string {
	typeStrs := make([]string, 0, len(s.stack))
	for _, v := range s.stack {
		typeStrs = append(typeStrs, typeName(v))
	}
	return fmt.Sprintf("{stack: [%s], frames: %d}", strings.Join(typeStrs, ", "), len(s.ctrls))
}

func typeName(v ValueType) string {
	if v == valueTypeUnknown {
		return "unknown"
	}
	return ValueTypeName(v)
}

// signature is the operand type transition of an instruction without immediates.
type signature struct {
	in, out []ValueType
}

var (
	i32     = []ValueType{ValueTypeI32}
	i64     = []ValueType{ValueTypeI64}
	f32     = []ValueType{ValueTypeF32}
	f64     = []ValueType{ValueTypeF64}
	i32i32  = []ValueType{ValueTypeI32, ValueTypeI32}
	i64i64  = []ValueType{ValueTypeI64, ValueTypeI64}
	f32f32  = []ValueType{ValueTypeF32, ValueTypeF32}
	f64f64  = []ValueType{ValueTypeF64, ValueTypeF64}
	i32x3   = []ValueType{ValueTypeI32, ValueTypeI32, ValueTypeI32}
	numeric [256]*signature
	misc    [OpcodeMiscTableCopy + 1]*signature
)

func init() {
	set := func(from, to Opcode, sig *signature) {
		for op := int(from); op <= int(to); op++ {
			numeric[op] = sig
		}
	}
	set(OpcodeI32Eqz, OpcodeI32Eqz, &signature{i32, i32})
	set(OpcodeI32Eq, OpcodeI32GeU, &signature{i32i32, i32})
	set(OpcodeI64Eqz, OpcodeI64Eqz, &signature{i64, i32})
	set(OpcodeI64Eq, OpcodeI64GeU, &signature{i64i64, i32})
	set(OpcodeF32Eq, OpcodeF32Ge, &signature{f32f32, i32})
	set(OpcodeF64Eq, OpcodeF64Ge, &signature{f64f64, i32})
	set(OpcodeI32Clz, OpcodeI32Popcnt, &signature{i32, i32})
	set(OpcodeI32Add, OpcodeI32Rotr, &signature{i32i32, i32})
	set(OpcodeI64Clz, OpcodeI64Popcnt, &signature{i64, i64})
	set(OpcodeI64Add, OpcodeI64Rotr, &signature{i64i64, i64})
	set(OpcodeF32Abs, OpcodeF32Sqrt, &signature{f32, f32})
	set(OpcodeF32Add, OpcodeF32Copysign, &signature{f32f32, f32})
	set(OpcodeF64Abs, OpcodeF64Sqrt, &signature{f64, f64})
	set(OpcodeF64Add, OpcodeF64Copysign, &signature{f64f64, f64})
	set(OpcodeI32WrapI64, OpcodeI32WrapI64, &signature{i64, i32})
	set(OpcodeI32TruncF32S, OpcodeI32TruncF32U, &signature{f32, i32})
	set(OpcodeI32TruncF64S, OpcodeI32TruncF64U, &signature{f64, i32})
	set(OpcodeI64ExtendI32S, OpcodeI64ExtendI32U, &signature{i32, i64})
	set(OpcodeI64TruncF32S, OpcodeI64TruncF32U, &signature{f32, i64})
	set(OpcodeI64TruncF64S, OpcodeI64TruncF64U, &signature{f64, i64})
	set(OpcodeF32ConvertI32S, OpcodeF32ConvertI32U, &signature{i32, f32})
	set(OpcodeF32ConvertI64S, OpcodeF32ConvertI64U, &signature{i64, f32})
	set(OpcodeF32DemoteF64, OpcodeF32DemoteF64, &signature{f64, f32})
	set(OpcodeF64ConvertI32S, OpcodeF64ConvertI32U, &signature{i32, f64})
	set(OpcodeF64ConvertI64S, OpcodeF64ConvertI64U, &signature{i64, f64})
	set(OpcodeF64PromoteF32, OpcodeF64PromoteF32, &signature{f32, f64})
	set(OpcodeI32ReinterpretF32, OpcodeI32ReinterpretF32, &signature{f32, i32})
	set(OpcodeI64ReinterpretF64, OpcodeI64ReinterpretF64, &signature{f64, i64})
	set(OpcodeF32ReinterpretI32, OpcodeF32ReinterpretI32, &signature{i32, f32})
	set(OpcodeF64ReinterpretI64, OpcodeF64ReinterpretI64, &signature{i64, f64})
	set(OpcodeI32Extend8S, OpcodeI32Extend16S, &signature{i32, i32})
	set(OpcodeI64Extend8S, OpcodeI64Extend32S, &signature{i64, i64})

	misc[OpcodeMiscI32TruncSatF32S] = &signature{f32, i32}
	misc[OpcodeMiscI32TruncSatF32U] = &signature{f32, i32}
	misc[OpcodeMiscI32TruncSatF64S] = &signature{f64, i32}
	misc[OpcodeMiscI32TruncSatF64U] = &signature{f64, i32}
	misc[OpcodeMiscI64TruncSatF32S] = &signature{f32, i64}
	misc[OpcodeMiscI64TruncSatF32U] = &signature{f32, i64}
	misc[OpcodeMiscI64TruncSatF64S] = &signature{f64, i64}
	misc[OpcodeMiscI64TruncSatF64U] = &signature{f64, i64}
	misc[OpcodeMiscMemoryInit] = &signature{i32x3, nil}
	misc[OpcodeMiscMemoryCopy] = &signature{i32x3, nil}
	misc[OpcodeMiscMemoryFill] = &signature{i32x3, nil}
	misc[OpcodeMiscTableInit] = &signature{i32x3, nil}
	misc[OpcodeMiscTableCopy] = &signature{i32x3, nil}
	misc[OpcodeMiscDataDrop] = &signature{}
	misc[OpcodeMiscElemDrop] = &signature{}
}

// memoryAccess is the natural alignment (as a power of two) and operand type of a load or store.
type memoryAccess struct {
	maxAlign  uint32
	valueType ValueType
	store     bool
}

var memoryAccesses = map[Opcode]memoryAccess{
	OpcodeI32Load:    {2, ValueTypeI32, false},
	OpcodeI64Load:    {3, ValueTypeI64, false},
	OpcodeF32Load:    {2, ValueTypeF32, false},
	OpcodeF64Load:    {3, ValueTypeF64, false},
	OpcodeI32Load8S:  {0, ValueTypeI32, false},
	OpcodeI32Load8U:  {0, ValueTypeI32, false},
	OpcodeI32Load16S: {1, ValueTypeI32, false},
	OpcodeI32Load16U: {1, ValueTypeI32, false},
	OpcodeI64Load8S:  {0, ValueTypeI64, false},
	OpcodeI64Load8U:  {0, ValueTypeI64, false},
	OpcodeI64Load16S: {1, ValueTypeI64, false},
	OpcodeI64Load16U: {1, ValueTypeI64, false},
	OpcodeI64Load32S: {2, ValueTypeI64, false},
	OpcodeI64Load32U: {2, ValueTypeI64, false},
	OpcodeI32Store:   {2, ValueTypeI32, true},
	OpcodeI64Store:   {3, ValueTypeI64, true},
	OpcodeF32Store:   {2, ValueTypeF32, true},
	OpcodeF64Store:   {3, ValueTypeF64, true},
	OpcodeI32Store8:  {0, ValueTypeI32, true},
	OpcodeI32Store16: {1, ValueTypeI32, true},
	OpcodeI64Store8:  {0, ValueTypeI64, true},
	OpcodeI64Store16: {1, ValueTypeI64, true},
	OpcodeI64Store32: {2, ValueTypeI64, true},
}

// DecodeBlockType decodes the block type at the head of b, which is either empty (0x40), a single result value type,
// or with FeatureMultiValue a type index.
func DecodeBlockType(types []*FunctionType, b []byte, enabledFeatures Features) (*FunctionType, uint64, error) {
	raw, num, err := leb128.LoadInt33AsInt64(b)
	if err != nil {
		return nil, 0, fmt.Errorf("decode block type: %w", err)
	}
	switch raw {
	case -64: // 0x40 in original byte = nil
		return blockTypeEmpty, num, nil
	case -1: // 0x7f in original byte = i32
		return blockTypeI32, num, nil
	case -2: // 0x7e in original byte = i64
		return blockTypeI64, num, nil
	case -3: // 0x7d in original byte = f32
		return blockTypeF32, num, nil
	case -4: // 0x7c in original byte = f64
		return blockTypeF64, num, nil
	}
	if raw < 0 {
		return nil, 0, fmt.Errorf("invalid block type: %d", raw)
	}
	if err = enabledFeatures.Require(FeatureMultiValue); err != nil {
		return nil, 0, fmt.Errorf("block with function type: %w", err)
	}
	if raw >= int64(len(types)) {
		return nil, 0, fmt.Errorf("type index out of range: %d", raw)
	}
	return types[raw], num, nil
}

var (
	blockTypeEmpty = &FunctionType{}
	blockTypeI32   = &FunctionType{Results: i32}
	blockTypeI64   = &FunctionType{Results: i64}
	blockTypeF32   = &FunctionType{Results: f32}
	blockTypeF64   = &FunctionType{Results: f64}
)

func (m *Module) validateFunctions(enabledFeatures Features, functions []Index, globals []*GlobalType, memories []*MemoryType, tables []*TableType) error {
	importCount := m.ImportFuncCount()
	// Calls may target any function, so all type indices must be in range before bodies are checked.
	for idx, typeIndex := range m.FunctionSection {
		if typeIndex >= uint32(len(m.TypeSection)) {
			return &ValidationError{Context: fmt.Sprintf("function[%d]", importCount+Index(idx)),
				Err: fmt.Errorf("type index out of range: %d", typeIndex)}
		}
	}
	for idx := range m.FunctionSection {
		funcIdx := importCount + Index(idx)
		if err := m.validateFunction(enabledFeatures, Index(idx), functions, globals, memories, tables); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				ve.Context = fmt.Sprintf("function[%d]", funcIdx)
				return ve
			}
			return &ValidationError{Context: fmt.Sprintf("function[%d]", funcIdx), Err: err}
		}
	}
	return nil
}

// validateFunction type-checks the body of a function defined in this module, by abstract interpretation of the
// operand stack.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#validation-algorithm%E2%91%A0
func (m *Module) validateFunction(
	enabledFeatures Features,
	idx Index,
	functions []Index,
	globals []*GlobalType,
	memories []*MemoryType,
	tables []*TableType,
) error {
	functionType := m.TypeSection[m.FunctionSection[idx]]
	code := m.CodeSection[idx]
	body := code.Body
	locals := append(append([]ValueType{}, functionType.Params...), code.LocalTypes...)

	s := &valueTypeStack{}
	s.ctrls = append(s.ctrls, &controlFrame{opcode: OpcodeBlock, blockType: functionType})

	fail := func(pc uint64, err error) error {
		offset := pc
		return &ValidationError{Offset: &offset, Err: err}
	}

	var pc uint64
	for pc < uint64(len(body)) {
		start := pc
		op := body[pc]
		pc++

		if sig := numeric[op]; sig != nil {
			if op >= OpcodeI32Extend8S && op <= OpcodeI64Extend32S {
				if err := enabledFeatures.Require(FeatureSignExtensionOps); err != nil {
					return fail(start, fmt.Errorf("%s invalid as %w", InstructionName(op), err))
				}
			}
			if _, err := s.popAll(sig.in); err != nil {
				return fail(start, fmt.Errorf("cannot pop the operand for %s: %w", InstructionName(op), err))
			}
			s.pushAll(sig.out)
			continue
		}

		if access, ok := memoryAccesses[op]; ok {
			if len(memories) == 0 {
				return fail(start, fmt.Errorf("memory must exist for %s", InstructionName(op)))
			}
			align, n, err := leb128.LoadUint32(body[pc:])
			if err != nil {
				return fail(start, fmt.Errorf("read memory align for %s: %w", InstructionName(op), err))
			}
			pc += n
			if align > access.maxAlign {
				return fail(start, fmt.Errorf("invalid memory alignment"))
			}
			if _, n, err = leb128.LoadUint32(body[pc:]); err != nil {
				return fail(start, fmt.Errorf("read memory offset for %s: %w", InstructionName(op), err))
			}
			pc += n
			if access.store {
				if _, err = s.popAndVerifyType(access.valueType); err != nil {
					return fail(start, fmt.Errorf("cannot pop the operand for %s: %w", InstructionName(op), err))
				}
				if _, err = s.popAndVerifyType(ValueTypeI32); err != nil {
					return fail(start, fmt.Errorf("cannot pop the address for %s: %w", InstructionName(op), err))
				}
			} else {
				if _, err = s.popAndVerifyType(ValueTypeI32); err != nil {
					return fail(start, fmt.Errorf("cannot pop the address for %s: %w", InstructionName(op), err))
				}
				s.push(access.valueType)
			}
			continue
		}

		switch op {
		case OpcodeUnreachable:
			s.unreachable()
		case OpcodeNop:
		case OpcodeBlock, OpcodeLoop, OpcodeIf:
			bt, n, err := DecodeBlockType(m.TypeSection, body[pc:], enabledFeatures)
			if err != nil {
				return fail(start, fmt.Errorf("read block type for %s: %w", InstructionName(op), err))
			}
			pc += n
			if op == OpcodeIf {
				if _, err = s.popAndVerifyType(ValueTypeI32); err != nil {
					return fail(start, fmt.Errorf("cannot pop the condition for if: %w", err))
				}
			}
			if _, err = s.popAll(bt.Params); err != nil {
				return fail(start, fmt.Errorf("cannot pop the params for %s: %w", InstructionName(op), err))
			}
			s.pushCtrl(op, bt)
		case OpcodeElse:
			frame := s.ctrls[len(s.ctrls)-1]
			if frame.opcode != OpcodeIf {
				return fail(start, fmt.Errorf("else instruction must be used in if block"))
			}
			if _, err := s.popCtrl(); err != nil {
				return fail(start, fmt.Errorf("in then branch: %w", err))
			}
			s.pushCtrl(OpcodeElse, frame.blockType)
		case OpcodeEnd:
			frame, err := s.popCtrl()
			if err != nil {
				return fail(start, err)
			}
			if frame.opcode == OpcodeIf && string(frame.blockType.Params) != string(frame.blockType.Results) {
				return fail(start, fmt.Errorf("%w: if without else must not change the stack: %s", errTypeMismatch, frame.blockType))
			}
			if len(s.ctrls) == 0 {
				if pc != uint64(len(body)) {
					return fail(start, fmt.Errorf("instructions after the end of the function"))
				}
				return nil
			}
			s.pushAll(frame.blockType.Results)
		case OpcodeBr, OpcodeBrIf:
			label, n, err := leb128.LoadUint32(body[pc:])
			if err != nil {
				return fail(start, fmt.Errorf("read label for %s: %w", InstructionName(op), err))
			}
			pc += n
			if int(label) >= len(s.ctrls) {
				return fail(start, fmt.Errorf("invalid %s operation: label %d out of range", InstructionName(op), label))
			}
			if op == OpcodeBrIf {
				if _, err = s.popAndVerifyType(ValueTypeI32); err != nil {
					return fail(start, fmt.Errorf("cannot pop the condition for br_if: %w", err))
				}
			}
			target := s.ctrls[len(s.ctrls)-1-int(label)].labelTypes()
			popped, err := s.popAll(target)
			if err != nil {
				return fail(start, fmt.Errorf("type mismatch on %s: %w", InstructionName(op), err))
			}
			if op == OpcodeBr {
				s.unreachable()
			} else {
				s.pushAll(popped)
			}
		case OpcodeBrTable:
			if _, err := s.popAndVerifyType(ValueTypeI32); err != nil {
				return fail(start, fmt.Errorf("cannot pop the index for br_table: %w", err))
			}
			count, n, err := leb128.LoadUint32(body[pc:])
			if err != nil {
				return fail(start, fmt.Errorf("read br_table target count: %w", err))
			}
			pc += n
			if uint64(count) > uint64(len(body))-pc {
				return fail(start, fmt.Errorf("br_table target count %d exceeds the function body", count))
			}
			labels := make([]uint32, count+1)
			for i := range labels {
				if labels[i], n, err = leb128.LoadUint32(body[pc:]); err != nil {
					return fail(start, fmt.Errorf("read br_table target: %w", err))
				}
				pc += n
				if int(labels[i]) >= len(s.ctrls) {
					return fail(start, fmt.Errorf("invalid br_table operation: label %d out of range", labels[i]))
				}
			}
			defaultTypes := s.ctrls[len(s.ctrls)-1-int(labels[count])].labelTypes()
			for _, l := range labels[:count] {
				lt := s.ctrls[len(s.ctrls)-1-int(l)].labelTypes()
				if len(lt) != len(defaultTypes) {
					return fail(start, fmt.Errorf("%w: br_table target %d has %d values, but the default has %d",
						errTypeMismatch, l, len(lt), len(defaultTypes)))
				}
				popped, err := s.popAll(lt)
				if err != nil {
					return fail(start, fmt.Errorf("type mismatch on br_table target %d: %w", l, err))
				}
				s.pushAll(popped)
			}
			if _, err = s.popAll(defaultTypes); err != nil {
				return fail(start, fmt.Errorf("type mismatch on br_table default target: %w", err))
			}
			s.unreachable()
		case OpcodeReturn:
			if _, err := s.popAll(functionType.Results); err != nil {
				return fail(start, fmt.Errorf("cannot pop the results for return: %w", err))
			}
			s.unreachable()
		case OpcodeCall:
			index, n, err := leb128.LoadUint32(body[pc:])
			if err != nil {
				return fail(start, fmt.Errorf("read function index for call: %w", err))
			}
			pc += n
			if int(index) >= len(functions) {
				return fail(start, fmt.Errorf("invalid function index %d", index))
			}
			ft := m.TypeSection[functions[index]]
			if _, err = s.popAll(ft.Params); err != nil {
				return fail(start, fmt.Errorf("type mismatch on call operation param type: %w", err))
			}
			s.pushAll(ft.Results)
		case OpcodeCallIndirect:
			typeIndex, n, err := leb128.LoadUint32(body[pc:])
			if err != nil {
				return fail(start, fmt.Errorf("read type index for call_indirect: %w", err))
			}
			pc += n
			tableIndex, n, err := leb128.LoadUint32(body[pc:])
			if err != nil {
				return fail(start, fmt.Errorf("read table index for call_indirect: %w", err))
			}
			pc += n
			if int(tableIndex) >= len(tables) {
				return fail(start, fmt.Errorf("unknown table index %d for call_indirect", tableIndex))
			}
			if int(typeIndex) >= len(m.TypeSection) {
				return fail(start, fmt.Errorf("invalid type index at call_indirect: %d", typeIndex))
			}
			if _, err = s.popAndVerifyType(ValueTypeI32); err != nil {
				return fail(start, fmt.Errorf("cannot pop the table offset for call_indirect: %w", err))
			}
			ft := m.TypeSection[typeIndex]
			if _, err = s.popAll(ft.Params); err != nil {
				return fail(start, fmt.Errorf("type mismatch on call_indirect operation input type: %w", err))
			}
			s.pushAll(ft.Results)
		case OpcodeDrop:
			if _, err := s.pop(); err != nil {
				return fail(start, fmt.Errorf("invalid drop: %w", err))
			}
		case OpcodeSelect:
			if _, err := s.popAndVerifyType(ValueTypeI32); err != nil {
				return fail(start, fmt.Errorf("cannot pop the condition for select: %w", err))
			}
			v1, err := s.pop()
			if err != nil {
				return fail(start, fmt.Errorf("invalid select: %w", err))
			}
			v2, err := s.pop()
			if err != nil {
				return fail(start, fmt.Errorf("invalid select: %w", err))
			}
			if v1 != v2 && v1 != valueTypeUnknown && v2 != valueTypeUnknown {
				return fail(start, fmt.Errorf("%w: select operands must match: %s != %s", errTypeMismatch, typeName(v1), typeName(v2)))
			}
			if v1 == valueTypeUnknown {
				s.push(v2)
			} else {
				s.push(v1)
			}
		case OpcodeLocalGet, OpcodeLocalSet, OpcodeLocalTee:
			index, n, err := leb128.LoadUint32(body[pc:])
			if err != nil {
				return fail(start, fmt.Errorf("read local index for %s: %w", InstructionName(op), err))
			}
			pc += n
			if int(index) >= len(locals) {
				return fail(start, fmt.Errorf("invalid local index for %s: %d >= %d", InstructionName(op), index, len(locals)))
			}
			t := locals[index]
			switch op {
			case OpcodeLocalGet:
				s.push(t)
			case OpcodeLocalSet:
				if _, err = s.popAndVerifyType(t); err != nil {
					return fail(start, fmt.Errorf("cannot pop the operand for local.set: %w", err))
				}
			case OpcodeLocalTee:
				if _, err = s.popAndVerifyType(t); err != nil {
					return fail(start, fmt.Errorf("cannot pop the operand for local.tee: %w", err))
				}
				s.push(t)
			}
		case OpcodeGlobalGet, OpcodeGlobalSet:
			index, n, err := leb128.LoadUint32(body[pc:])
			if err != nil {
				return fail(start, fmt.Errorf("read global index for %s: %w", InstructionName(op), err))
			}
			pc += n
			if int(index) >= len(globals) {
				return fail(start, fmt.Errorf("invalid global index for %s: %d", InstructionName(op), index))
			}
			g := globals[index]
			if op == OpcodeGlobalGet {
				s.push(g.ValType)
			} else {
				if !g.Mutable {
					return fail(start, fmt.Errorf("global.set when not mutable"))
				}
				if _, err = s.popAndVerifyType(g.ValType); err != nil {
					return fail(start, fmt.Errorf("cannot pop the operand for global.set: %w", err))
				}
			}
		case OpcodeMemorySize, OpcodeMemoryGrow:
			if len(memories) == 0 {
				return fail(start, fmt.Errorf("memory must exist for %s", InstructionName(op)))
			}
			if pc >= uint64(len(body)) || body[pc] != 0 {
				return fail(start, fmt.Errorf("%s reserved byte must be zero encoded with 1 byte", InstructionName(op)))
			}
			pc++
			if op == OpcodeMemoryGrow {
				if _, err := s.popAndVerifyType(ValueTypeI32); err != nil {
					return fail(start, fmt.Errorf("cannot pop the operand for memory.grow: %w", err))
				}
			}
			s.push(ValueTypeI32)
		case OpcodeI32Const:
			_, n, err := leb128.LoadInt32(body[pc:])
			if err != nil {
				return fail(start, fmt.Errorf("read i32 immediate: %w", err))
			}
			pc += n
			s.push(ValueTypeI32)
		case OpcodeI64Const:
			_, n, err := leb128.LoadInt64(body[pc:])
			if err != nil {
				return fail(start, fmt.Errorf("read i64 immediate: %w", err))
			}
			pc += n
			s.push(ValueTypeI64)
		case OpcodeF32Const:
			if pc+4 > uint64(len(body)) {
				return fail(start, fmt.Errorf("read f32 immediate: unexpected end"))
			}
			pc += 4
			s.push(ValueTypeF32)
		case OpcodeF64Const:
			if pc+8 > uint64(len(body)) {
				return fail(start, fmt.Errorf("read f64 immediate: unexpected end"))
			}
			pc += 8
			s.push(ValueTypeF64)
		case OpcodeMiscPrefix:
			n, err := m.validateMisc(enabledFeatures, s, body[pc:], memories, tables)
			if err != nil {
				return fail(start, err)
			}
			pc += n
		default:
			return fail(start, fmt.Errorf("invalid instruction %#x", op))
		}
	}
	return fail(pc, fmt.Errorf("function body must end with the end instruction"))
}

// validateMisc validates the instruction following OpcodeMiscPrefix, returning the count of bytes read.
func (m *Module) validateMisc(enabledFeatures Features, s *valueTypeStack, b []byte, memories []*MemoryType, tables []*TableType) (uint64, error) {
	miscOp32, pc, err := leb128.LoadUint32(b)
	if err != nil {
		return 0, fmt.Errorf("read misc opcode: %w", err)
	}
	if miscOp32 >= uint32(len(misc)) || misc[miscOp32] == nil {
		return 0, fmt.Errorf("invalid misc opcode %#x", miscOp32)
	}
	miscOp := OpcodeMisc(miscOp32)
	name := MiscInstructionName(miscOp)
	if miscOp <= OpcodeMiscI64TruncSatF64U {
		if err = enabledFeatures.Require(FeatureNonTrappingFloatToIntConversion); err != nil {
			return 0, fmt.Errorf("%s invalid as %w", name, err)
		}
	} else if err = enabledFeatures.Require(FeatureBulkMemoryOperations); err != nil {
		return 0, fmt.Errorf("%s invalid as %w", name, err)
	}

	readIndex := func(what string) (uint32, error) {
		v, n, err := leb128.LoadUint32(b[pc:])
		if err != nil {
			return 0, fmt.Errorf("read %s for %s: %w", what, name, err)
		}
		pc += n
		return v, nil
	}
	readZero := func() error {
		if pc >= uint64(len(b)) || b[pc] != 0 {
			return fmt.Errorf("%s reserved byte must be zero encoded with 1 byte", name)
		}
		pc++
		return nil
	}

	switch miscOp {
	case OpcodeMiscMemoryInit, OpcodeMiscDataDrop:
		dataIndex, err := readIndex("data index")
		if err != nil {
			return 0, err
		}
		if m.DataCountSection == nil {
			return 0, fmt.Errorf("%s requires the data count section", name)
		}
		if dataIndex >= *m.DataCountSection {
			return 0, fmt.Errorf("invalid data index for %s: %d", name, dataIndex)
		}
		if miscOp == OpcodeMiscMemoryInit {
			if len(memories) == 0 {
				return 0, fmt.Errorf("memory must exist for %s", name)
			}
			if err = readZero(); err != nil {
				return 0, err
			}
		}
	case OpcodeMiscMemoryCopy, OpcodeMiscMemoryFill:
		if len(memories) == 0 {
			return 0, fmt.Errorf("memory must exist for %s", name)
		}
		if err = readZero(); err != nil {
			return 0, err
		}
		if miscOp == OpcodeMiscMemoryCopy {
			if err = readZero(); err != nil {
				return 0, err
			}
		}
	case OpcodeMiscTableInit, OpcodeMiscElemDrop:
		elemIndex, err := readIndex("element index")
		if err != nil {
			return 0, err
		}
		if elemIndex >= uint32(len(m.ElementSection)) {
			return 0, fmt.Errorf("invalid element index for %s: %d", name, elemIndex)
		}
		if miscOp == OpcodeMiscTableInit {
			tableIndex, err := readIndex("table index")
			if err != nil {
				return 0, err
			}
			if tableIndex >= uint32(len(tables)) {
				return 0, fmt.Errorf("table index out of range for %s: %d", name, tableIndex)
			}
		}
	case OpcodeMiscTableCopy:
		for _, what := range []string{"destination table index", "source table index"} {
			tableIndex, err := readIndex(what)
			if err != nil {
				return 0, err
			}
			if tableIndex >= uint32(len(tables)) {
				return 0, fmt.Errorf("table index out of range for %s: %d", name, tableIndex)
			}
		}
	}

	sig := misc[miscOp]
	if _, err = s.popAll(sig.in); err != nil {
		return 0, fmt.Errorf("cannot pop the operand for %s: %w", name, err)
	}
	s.pushAll(sig.out)
	return pc, nil
}
