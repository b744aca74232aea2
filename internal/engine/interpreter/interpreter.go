package interpreter

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"strings"

	"github.com/wasmedge-go/wasmedge/internal/moremath"
	"github.com/wasmedge-go/wasmedge/internal/statistics"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

// DefaultMaxCallStackDepth is the call depth at which execution traps with wasm.ErrTrapCallStackOverflow unless
// configured otherwise.
const DefaultMaxCallStackDepth = 2000

// MaxCallStackDepthLimit is the largest MaxCallStackDepth. Each wasm call nests a Go call, so a deeper stack would
// exceed the Go stack limit, which is fatal rather than a trap.
const MaxCallStackDepthLimit = 100_000

// Config configures NewEngine.
type Config struct {
	// MaxCallStackDepth defaults to DefaultMaxCallStackDepth when not positive, and is at most MaxCallStackDepthLimit.
	MaxCallStackDepth int
	// Statistics are updated on each instruction and host call when non-nil.
	Statistics *statistics.Statistics
}

// engine is an interpreter implementation of wasm.Engine
type engine struct {
	callStackCeiling int
	stats            *statistics.Statistics
}

func NewEngine(cfg Config) wasm.Engine {
	ceiling := cfg.MaxCallStackDepth
	if ceiling <= 0 {
		ceiling = DefaultMaxCallStackDepth
	} else if ceiling > MaxCallStackDepthLimit {
		ceiling = MaxCallStackDepthLimit
	}
	return &engine{callStackCeiling: ceiling, stats: cfg.Statistics}
}

// moduleEngine implements wasm.ModuleEngine
type moduleEngine struct {
	// name is the name the module was instantiated with used for error handling.
	name   string
	parent *engine
	// functions are compiled functions in the function index namespace of the module, imported ones first.
	functions []*function
}

// function is a compiled function, or a Go function when hostFn is set.
type function struct {
	source         *wasm.FunctionInstance
	moduleInstance *wasm.ModuleInstance
	parent         *moduleEngine
	body           []unionOperation
	hostFn         *wasm.HostFunc

	paramCount, resultCount, localCount int
}

func newFunction(parent *moduleEngine, f *wasm.FunctionInstance, body []unionOperation) *function {
	return &function{
		source:         f,
		moduleInstance: f.Module,
		parent:         parent,
		body:           body,
		hostFn:         f.GoFunc,
		paramCount:     len(f.Type.Params),
		resultCount:    len(f.Type.Results),
		localCount:     len(f.LocalTypes),
	}
}

// NewModuleEngine implements the same method as documented on wasm.Engine.
func (e *engine) NewModuleEngine(name string, module *wasm.Module, importedFunctions, moduleFunctions []*wasm.FunctionInstance) (wasm.ModuleEngine, error) {
	me := &moduleEngine{
		name:      name,
		parent:    e,
		functions: make([]*function, 0, len(importedFunctions)+len(moduleFunctions)),
	}

	for _, f := range importedFunctions {
		fn, err := e.resolve(f)
		if err != nil {
			return nil, err
		}
		me.functions = append(me.functions, fn)
	}

	for _, f := range moduleFunctions {
		var body []unionOperation
		if f.GoFunc == nil {
			var err error
			if body, err = compile(module, f); err != nil {
				return nil, fmt.Errorf("failed to lower func[%d]: %w", f.Idx, err)
			}
		}
		me.functions = append(me.functions, newFunction(me, f, body))
	}
	return me, nil
}

// resolve returns the compiled function of a function instance, which belongs to a module this engine compiled.
func (e *engine) resolve(f *wasm.FunctionInstance) (*function, error) {
	if me, ok := f.Module.Engine.(*moduleEngine); ok && int(f.Idx) < len(me.functions) {
		if fn := me.functions[f.Idx]; fn.source == f {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("%s is not compiled by this engine", f.Name)
}

// Name implements the same method as documented on wasm.ModuleEngine.
func (me *moduleEngine) Name() string {
	return me.name
}

// Close implements the same method as documented on wasm.ModuleEngine. Compiled functions stay reachable from the
// modules which imported them or hold them in a table, so nothing is released eagerly.
func (me *moduleEngine) Close() {}

// Call implements the same method as documented on wasm.ModuleEngine.
func (me *moduleEngine) Call(ctx context.Context, callCtx *wasm.ModuleContext, f *wasm.FunctionInstance, params ...uint64) (results []uint64, err error) {
	fn, err := me.parent.resolve(f)
	if err != nil {
		return nil, err
	}
	if len(params) != fn.paramCount {
		return nil, fmt.Errorf("%w: %s expects %d params, but passed %d",
			wasm.ErrArityOrTypeMismatch, f.Name, fn.paramCount, len(params))
	}

	ce := me.newCallEngine()
	defer func() {
		// A trap unwinds every frame of this call, so it is only recovered here.
		if v := recover(); v != nil {
			results, err = nil, ce.recovered(v)
		}
	}()

	if s := ce.stats; s != nil {
		s.StartWasm()
		defer s.StopWasm()
	}

	for _, p := range params {
		ce.pushValue(p)
	}
	ce.callFunction(ctx, callCtx, fn)
	results = ce.popValues(fn.resultCount)
	return
}

// callEngine holds the context per moduleEngine.Call, and is not goroutine-safe.
type callEngine struct {
	// stack contains the operands.
	// Note that all the values are represented as uint64.
	stack []uint64

	// frames are the function call stack.
	frames []*callFrame

	callStackCeiling int
	stats            *statistics.Statistics
}

func (me *moduleEngine) newCallEngine() *callEngine {
	return &callEngine{
		stack:            make([]uint64, 0, 64),
		callStackCeiling: me.parent.callStackCeiling,
		stats:            me.parent.stats,
	}
}

// callFrame holds the state of one function invocation.
type callFrame struct {
	// pc is the position of the next operation in f.body.
	pc int
	f  *function
	// locals are the parameters followed by the declared locals.
	locals []uint64
	// base is the height of the operand stack when the function was entered, after its parameters were popped.
	base int
}

func (ce *callEngine) pushValue(v uint64) {
	ce.stack = append(ce.stack, v)
}

func (ce *callEngine) popValue() (v uint64) {
	stackTopIndex := len(ce.stack) - 1
	v = ce.stack[stackTopIndex]
	ce.stack = ce.stack[:stackTopIndex]
	return
}

// popPair pops two operands, returning them in the order they were pushed.
func (ce *callEngine) popPair() (x1, x2 uint64) {
	x2 = ce.popValue()
	x1 = ce.popValue()
	return
}

// popValues pops n values into a new slice, in the order they were pushed.
func (ce *callEngine) popValues(n int) []uint64 {
	if n == 0 {
		return nil
	}
	top := len(ce.stack) - n
	ret := make([]uint64, n)
	copy(ret, ce.stack[top:])
	ce.stack = ce.stack[:top]
	return ret
}

// peekValues peeks api.ValueType values from the stack and returns them.
func (ce *callEngine) peekValues(count int) []uint64 {
	if count == 0 {
		return nil
	}
	stackLen := len(ce.stack)
	return ce.stack[stackLen-count : stackLen]
}

// dropTo keeps the top arity values, moving them down so that they start at height.
func (ce *callEngine) dropTo(height, arity int) {
	top := len(ce.stack) - arity
	if top != height {
		copy(ce.stack[height:], ce.stack[top:])
	}
	ce.stack = ce.stack[:height+arity]
}

func (ce *callEngine) pushFrame(frame *callFrame) {
	if len(ce.frames) >= ce.callStackCeiling {
		panic(wasm.ErrTrapCallStackOverflow)
	}
	ce.frames = append(ce.frames, frame)
}

func (ce *callEngine) popFrame() {
	ce.frames = ce.frames[:len(ce.frames)-1]
}

// stackTrace returns the names of the functions on the call stack, innermost first.
func (ce *callEngine) stackTrace() []string {
	names := make([]string, 0, len(ce.frames))
	for i := len(ce.frames) - 1; i >= 0; i-- {
		if src := ce.frames[i].f.source; src != nil {
			names = append(names, src.Name)
		}
	}
	return names
}

var trapReasons = []error{
	wasm.ErrTrapCallStackOverflow,
	wasm.ErrTrapInvalidConversionToInteger,
	wasm.ErrTrapIntegerOverflow,
	wasm.ErrTrapIntegerDivideByZero,
	wasm.ErrTrapUnreachable,
	wasm.ErrTrapOutOfBoundsMemoryAccess,
	wasm.ErrTrapInvalidTableAccess,
	wasm.ErrTrapUninitializedElement,
	wasm.ErrTrapIndirectCallTypeMismatch,
	wasm.ErrTrapCostLimitExceeded,
}

// recovered converts a panic during a call into its error. Trap reasons become a *wasm.Trap with the stack trace,
// errors returned by host functions, including *sys.ExitError, are passed through, and anything else is a bug in a
// host function.
func (ce *callEngine) recovered(v interface{}) error {
	stack := ce.stackTrace()
	err, ok := v.(error)
	if !ok {
		return fmt.Errorf("%v (recovered by wasmedge)\nwasm stack trace:\n\t%s", v, strings.Join(stack, "\n\t"))
	}
	for _, reason := range trapReasons {
		if err == reason {
			return &wasm.Trap{Reason: reason, Stack: stack}
		}
	}
	return err
}

func (ce *callEngine) callFunction(ctx context.Context, callCtx *wasm.ModuleContext, f *function) {
	if f.hostFn != nil {
		ce.callGoFunc(ctx, callCtx, f)
	} else {
		ce.callNativeFunc(ctx, f)
	}
}

// callGoFunc passes callCtx, the module of the caller, to the host function.
func (ce *callEngine) callGoFunc(ctx context.Context, callCtx *wasm.ModuleContext, f *function) {
	params := ce.popValues(f.paramCount)
	ce.pushFrame(&callFrame{f: f})
	if s := ce.stats; s != nil {
		if !s.AddHostCost(f.hostFn.Cost) {
			panic(wasm.ErrTrapCostLimitExceeded)
		}
		s.StartHost()
		defer s.StopHost()
	}

	results, err := f.hostFn.Call(ctx, callCtx, params)
	if err != nil {
		panic(err)
	}
	if len(results) != f.resultCount {
		panic(fmt.Errorf("%w: %s returned %d results, but its type has %d",
			wasm.ErrArityOrTypeMismatch, f.source.Name, len(results), f.resultCount))
	}
	ce.popFrame()
	base := len(ce.stack)
	ce.stack = append(ce.stack, results...)
	// The rest of the interpreter relies on 32-bit values having zero upper bits.
	for i, t := range f.source.Type.Results {
		if t == wasm.ValueTypeI32 || t == wasm.ValueTypeF32 {
			ce.stack[base+i] = uint64(uint32(ce.stack[base+i]))
		}
	}
}

// memoryRange pops the base address and returns the size bytes at base+offset.
func (ce *callEngine) memoryRange(mem *wasm.MemoryInstance, offset, size uint64) []byte {
	ea := uint64(uint32(ce.popValue())) + offset // both are 32-bit, so this cannot overflow.
	if mem == nil || ea+size > uint64(len(mem.Buffer)) {
		panic(wasm.ErrTrapOutOfBoundsMemoryAccess)
	}
	return mem.Buffer[ea : ea+size]
}

func (ce *callEngine) callNativeFunc(ctx context.Context, f *function) {
	frame := &callFrame{f: f, locals: make([]uint64, f.paramCount+f.localCount)}
	copy(frame.locals, ce.stack[len(ce.stack)-f.paramCount:])
	ce.stack = ce.stack[:len(ce.stack)-f.paramCount]
	frame.base = len(ce.stack)
	ce.pushFrame(frame)

	m := f.moduleInstance
	body := f.body
	stats := ce.stats
	for frame.pc < len(body) {
		op := &body[frame.pc]
		if stats != nil && !stats.AddInstrCost(op.Kind) {
			panic(wasm.ErrTrapCostLimitExceeded)
		}

		switch op.Kind {
		case wasm.OpcodeUnreachable:
			panic(wasm.ErrTrapUnreachable)
		case wasm.OpcodeIf:
			if ce.popValue() == 0 {
				frame.pc = int(op.U1)
				continue
			}
		case wasm.OpcodeElse: // the end of the then-branch
			frame.pc = int(op.U1)
			continue
		case wasm.OpcodeBr:
			ce.dropTo(frame.base+op.Target.height, op.Target.arity)
			frame.pc = op.Target.pc
			continue
		case wasm.OpcodeBrIf:
			if ce.popValue() != 0 {
				ce.dropTo(frame.base+op.Target.height, op.Target.arity)
				frame.pc = op.Target.pc
				continue
			}
		case wasm.OpcodeBrTable:
			i := ce.popValue()
			if last := uint64(len(op.Targets) - 1); i > last {
				i = last
			}
			target := op.Targets[i]
			ce.dropTo(frame.base+target.height, target.arity)
			frame.pc = target.pc
			continue
		case wasm.OpcodeReturn:
			ce.dropTo(frame.base, f.resultCount)
			ce.popFrame()
			return
		case wasm.OpcodeCall:
			ce.callFunction(ctx, m.Ctx, f.parent.functions[op.U1])
		case wasm.OpcodeCallIndirect:
			ce.callFunction(ctx, m.Ctx, ce.indirectCallee(m, op.U1))
		case wasm.OpcodeDrop:
			ce.stack = ce.stack[:len(ce.stack)-1]
		case wasm.OpcodeSelect:
			c := ce.popValue()
			x2 := ce.popValue()
			if c == 0 {
				ce.stack[len(ce.stack)-1] = x2
			}
		case wasm.OpcodeLocalGet:
			ce.pushValue(frame.locals[op.U1])
		case wasm.OpcodeLocalSet:
			frame.locals[op.U1] = ce.popValue()
		case wasm.OpcodeLocalTee:
			frame.locals[op.U1] = ce.stack[len(ce.stack)-1]
		case wasm.OpcodeGlobalGet:
			ce.pushValue(m.Globals[op.U1].Val)
		case wasm.OpcodeGlobalSet:
			m.Globals[op.U1].Val = ce.popValue()
		case wasm.OpcodeI32Load, wasm.OpcodeF32Load:
			ce.pushValue(uint64(binary.LittleEndian.Uint32(ce.memoryRange(m.Memory, op.U1, 4))))
		case wasm.OpcodeI64Load, wasm.OpcodeF64Load:
			ce.pushValue(binary.LittleEndian.Uint64(ce.memoryRange(m.Memory, op.U1, 8)))
		case wasm.OpcodeI32Load8S:
			ce.pushValue(uint64(uint32(int8(ce.memoryRange(m.Memory, op.U1, 1)[0]))))
		case wasm.OpcodeI32Load8U, wasm.OpcodeI64Load8U:
			ce.pushValue(uint64(ce.memoryRange(m.Memory, op.U1, 1)[0]))
		case wasm.OpcodeI32Load16S:
			ce.pushValue(uint64(uint32(int16(binary.LittleEndian.Uint16(ce.memoryRange(m.Memory, op.U1, 2))))))
		case wasm.OpcodeI32Load16U, wasm.OpcodeI64Load16U:
			ce.pushValue(uint64(binary.LittleEndian.Uint16(ce.memoryRange(m.Memory, op.U1, 2))))
		case wasm.OpcodeI64Load8S:
			ce.pushValue(uint64(int8(ce.memoryRange(m.Memory, op.U1, 1)[0])))
		case wasm.OpcodeI64Load16S:
			ce.pushValue(uint64(int16(binary.LittleEndian.Uint16(ce.memoryRange(m.Memory, op.U1, 2)))))
		case wasm.OpcodeI64Load32S:
			ce.pushValue(uint64(int32(binary.LittleEndian.Uint32(ce.memoryRange(m.Memory, op.U1, 4)))))
		case wasm.OpcodeI64Load32U:
			ce.pushValue(uint64(binary.LittleEndian.Uint32(ce.memoryRange(m.Memory, op.U1, 4))))
		case wasm.OpcodeI32Store, wasm.OpcodeF32Store, wasm.OpcodeI64Store32:
			v := ce.popValue()
			binary.LittleEndian.PutUint32(ce.memoryRange(m.Memory, op.U1, 4), uint32(v))
		case wasm.OpcodeI64Store, wasm.OpcodeF64Store:
			v := ce.popValue()
			binary.LittleEndian.PutUint64(ce.memoryRange(m.Memory, op.U1, 8), v)
		case wasm.OpcodeI32Store8, wasm.OpcodeI64Store8:
			v := ce.popValue()
			ce.memoryRange(m.Memory, op.U1, 1)[0] = byte(v)
		case wasm.OpcodeI32Store16, wasm.OpcodeI64Store16:
			v := ce.popValue()
			binary.LittleEndian.PutUint16(ce.memoryRange(m.Memory, op.U1, 2), uint16(v))
		case wasm.OpcodeMemorySize:
			ce.pushValue(uint64(m.Memory.PageSize()))
		case wasm.OpcodeMemoryGrow:
			if previous, ok := m.Memory.Grow(uint32(ce.popValue())); ok {
				ce.pushValue(uint64(previous))
			} else {
				ce.pushValue(math.MaxUint32) // -1 as i32
			}
		case wasm.OpcodeI32Const, wasm.OpcodeI64Const, wasm.OpcodeF32Const, wasm.OpcodeF64Const:
			ce.pushValue(op.U1)
		case wasm.OpcodeMiscPrefix:
			ce.execMisc(m, op)
		default:
			ce.execNumeric(op.Kind)
		}
		frame.pc++
	}
	panic(fmt.Errorf("BUG: %s has no return", f.source.Name))
}

// indirectCallee pops the table offset of call_indirect and returns the function there, checking its type against
// the type index of the instruction.
func (ce *callEngine) indirectCallee(m *wasm.ModuleInstance, typeIdx uint64) *function {
	offset := ce.popValue()
	table := m.Table
	if table == nil || offset >= uint64(len(table.References)) {
		panic(wasm.ErrTrapInvalidTableAccess)
	}
	ref := table.References[offset]
	if ref == nil {
		panic(wasm.ErrTrapUninitializedElement)
	}
	if ref.TypeID != m.TypeIDs[typeIdx] {
		panic(wasm.ErrTrapIndirectCallTypeMismatch)
	}
	callee, err := ce.resolve(ref)
	if err != nil {
		panic(err)
	}
	return callee
}

func (ce *callEngine) resolve(f *wasm.FunctionInstance) (*function, error) {
	if me, ok := f.Module.Engine.(*moduleEngine); ok {
		return me.parent.resolve(f)
	}
	return nil, fmt.Errorf("%s is not compiled by an interpreter", f.Name)
}

func (ce *callEngine) execMisc(m *wasm.ModuleInstance, op *unionOperation) {
	switch op.B1 {
	case wasm.OpcodeMiscI32TruncSatF32S:
		ce.pushValue(i32TruncS(float64(popF32(ce)), true))
	case wasm.OpcodeMiscI32TruncSatF32U:
		ce.pushValue(i32TruncU(float64(popF32(ce)), true))
	case wasm.OpcodeMiscI32TruncSatF64S:
		ce.pushValue(i32TruncS(popF64(ce), true))
	case wasm.OpcodeMiscI32TruncSatF64U:
		ce.pushValue(i32TruncU(popF64(ce), true))
	case wasm.OpcodeMiscI64TruncSatF32S:
		ce.pushValue(i64TruncS(float64(popF32(ce)), true))
	case wasm.OpcodeMiscI64TruncSatF32U:
		ce.pushValue(i64TruncU(float64(popF32(ce)), true))
	case wasm.OpcodeMiscI64TruncSatF64S:
		ce.pushValue(i64TruncS(popF64(ce), true))
	case wasm.OpcodeMiscI64TruncSatF64U:
		ce.pushValue(i64TruncU(popF64(ce), true))
	case wasm.OpcodeMiscMemoryInit:
		n, s, d := ce.popRange()
		data := m.DataInstances[op.U1]
		if s+n > uint64(len(data)) || m.Memory == nil || d+n > uint64(len(m.Memory.Buffer)) {
			panic(wasm.ErrTrapOutOfBoundsMemoryAccess)
		}
		copy(m.Memory.Buffer[d:d+n], data[s:s+n])
	case wasm.OpcodeMiscDataDrop:
		m.DataInstances[op.U1] = nil
	case wasm.OpcodeMiscMemoryCopy:
		n, s, d := ce.popRange()
		if m.Memory == nil || s+n > uint64(len(m.Memory.Buffer)) || d+n > uint64(len(m.Memory.Buffer)) {
			panic(wasm.ErrTrapOutOfBoundsMemoryAccess)
		}
		copy(m.Memory.Buffer[d:d+n], m.Memory.Buffer[s:s+n])
	case wasm.OpcodeMiscMemoryFill:
		n, v, d := ce.popRange()
		if m.Memory == nil || d+n > uint64(len(m.Memory.Buffer)) {
			panic(wasm.ErrTrapOutOfBoundsMemoryAccess)
		}
		buf := m.Memory.Buffer[d : d+n]
		for i := range buf {
			buf[i] = byte(v)
		}
	case wasm.OpcodeMiscTableInit:
		n, s, d := ce.popRange()
		elem := m.ElementInstances[op.U1]
		if s+n > uint64(len(elem)) || m.Table == nil || d+n > uint64(len(m.Table.References)) {
			panic(wasm.ErrTrapInvalidTableAccess)
		}
		copy(m.Table.References[d:d+n], elem[s:s+n])
	case wasm.OpcodeMiscElemDrop:
		m.ElementInstances[op.U1] = nil
	case wasm.OpcodeMiscTableCopy:
		n, s, d := ce.popRange()
		if m.Table == nil || s+n > uint64(len(m.Table.References)) || d+n > uint64(len(m.Table.References)) {
			panic(wasm.ErrTrapInvalidTableAccess)
		}
		copy(m.Table.References[d:d+n], m.Table.References[s:s+n])
	default:
		panic(fmt.Errorf("BUG: unsupported misc instruction %#x", op.B1))
	}
}

// popRange pops the three operands of the bulk memory and table instructions: the count n, then the source (or
// fill value) s, then the destination d.
func (ce *callEngine) popRange() (n, s, d uint64) {
	n = ce.popValue()
	s = ce.popValue()
	d = ce.popValue()
	return
}

func popF32(ce *callEngine) float32 {
	return math.Float32frombits(uint32(ce.popValue()))
}

func popF64(ce *callEngine) float64 {
	return math.Float64frombits(ce.popValue())
}

func pushF32(ce *callEngine, v float32) {
	ce.pushValue(uint64(math.Float32bits(v)))
}

func pushF64(ce *callEngine, v float64) {
	ce.pushValue(math.Float64bits(v))
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

const (
	f32SignBit = uint32(1) << 31
	f64SignBit = uint64(1) << 63
)

// execNumeric executes the instructions between wasm.OpcodeI32Eqz and wasm.OpcodeI64Extend32S. i32 results are
// zero-extended and floats are kept as their bit patterns.
func (ce *callEngine) execNumeric(kind wasm.Opcode) {
	switch kind {
	case wasm.OpcodeI32Eqz:
		ce.pushValue(b2u(uint32(ce.popValue()) == 0))
	case wasm.OpcodeI64Eqz:
		ce.pushValue(b2u(ce.popValue() == 0))
	case wasm.OpcodeI32Eq, wasm.OpcodeI32Ne, wasm.OpcodeI32LtS, wasm.OpcodeI32LtU, wasm.OpcodeI32GtS,
		wasm.OpcodeI32GtU, wasm.OpcodeI32LeS, wasm.OpcodeI32LeU, wasm.OpcodeI32GeS, wasm.OpcodeI32GeU:
		x1, x2 := ce.popPair()
		ce.pushValue(b2u(compareI32(kind, uint32(x1), uint32(x2))))
	case wasm.OpcodeI64Eq, wasm.OpcodeI64Ne, wasm.OpcodeI64LtS, wasm.OpcodeI64LtU, wasm.OpcodeI64GtS,
		wasm.OpcodeI64GtU, wasm.OpcodeI64LeS, wasm.OpcodeI64LeU, wasm.OpcodeI64GeS, wasm.OpcodeI64GeU:
		x1, x2 := ce.popPair()
		ce.pushValue(b2u(compareI64(kind, x1, x2)))
	case wasm.OpcodeF32Eq, wasm.OpcodeF32Ne, wasm.OpcodeF32Lt, wasm.OpcodeF32Gt, wasm.OpcodeF32Le, wasm.OpcodeF32Ge:
		x2 := popF32(ce)
		x1 := popF32(ce)
		ce.pushValue(b2u(compareFloat(kind-wasm.OpcodeF32Eq, float64(x1), float64(x2))))
	case wasm.OpcodeF64Eq, wasm.OpcodeF64Ne, wasm.OpcodeF64Lt, wasm.OpcodeF64Gt, wasm.OpcodeF64Le, wasm.OpcodeF64Ge:
		x2 := popF64(ce)
		x1 := popF64(ce)
		ce.pushValue(b2u(compareFloat(kind-wasm.OpcodeF64Eq, x1, x2)))

	case wasm.OpcodeI32Clz:
		ce.pushValue(uint64(bits.LeadingZeros32(uint32(ce.popValue()))))
	case wasm.OpcodeI32Ctz:
		ce.pushValue(uint64(bits.TrailingZeros32(uint32(ce.popValue()))))
	case wasm.OpcodeI32Popcnt:
		ce.pushValue(uint64(bits.OnesCount32(uint32(ce.popValue()))))
	case wasm.OpcodeI32Add, wasm.OpcodeI32Sub, wasm.OpcodeI32Mul, wasm.OpcodeI32DivS, wasm.OpcodeI32DivU,
		wasm.OpcodeI32RemS, wasm.OpcodeI32RemU, wasm.OpcodeI32And, wasm.OpcodeI32Or, wasm.OpcodeI32Xor,
		wasm.OpcodeI32Shl, wasm.OpcodeI32ShrS, wasm.OpcodeI32ShrU, wasm.OpcodeI32Rotl, wasm.OpcodeI32Rotr:
		x1, x2 := ce.popPair()
		ce.pushValue(uint64(binaryI32(kind, uint32(x1), uint32(x2))))

	case wasm.OpcodeI64Clz:
		ce.pushValue(uint64(bits.LeadingZeros64(ce.popValue())))
	case wasm.OpcodeI64Ctz:
		ce.pushValue(uint64(bits.TrailingZeros64(ce.popValue())))
	case wasm.OpcodeI64Popcnt:
		ce.pushValue(uint64(bits.OnesCount64(ce.popValue())))
	case wasm.OpcodeI64Add, wasm.OpcodeI64Sub, wasm.OpcodeI64Mul, wasm.OpcodeI64DivS, wasm.OpcodeI64DivU,
		wasm.OpcodeI64RemS, wasm.OpcodeI64RemU, wasm.OpcodeI64And, wasm.OpcodeI64Or, wasm.OpcodeI64Xor,
		wasm.OpcodeI64Shl, wasm.OpcodeI64ShrS, wasm.OpcodeI64ShrU, wasm.OpcodeI64Rotl, wasm.OpcodeI64Rotr:
		x1, x2 := ce.popPair()
		ce.pushValue(binaryI64(kind, x1, x2))

	case wasm.OpcodeF32Abs:
		ce.pushValue(uint64(uint32(ce.popValue()) &^ f32SignBit))
	case wasm.OpcodeF32Neg:
		ce.pushValue(uint64(uint32(ce.popValue()) ^ f32SignBit))
	case wasm.OpcodeF32Ceil:
		pushF32(ce, float32(math.Ceil(float64(popF32(ce)))))
	case wasm.OpcodeF32Floor:
		pushF32(ce, float32(math.Floor(float64(popF32(ce)))))
	case wasm.OpcodeF32Trunc:
		pushF32(ce, float32(math.Trunc(float64(popF32(ce)))))
	case wasm.OpcodeF32Nearest:
		pushF32(ce, moremath.WasmCompatNearestF32(popF32(ce)))
	case wasm.OpcodeF32Sqrt:
		pushF32(ce, float32(math.Sqrt(float64(popF32(ce)))))
	case wasm.OpcodeF32Add, wasm.OpcodeF32Sub, wasm.OpcodeF32Mul, wasm.OpcodeF32Div,
		wasm.OpcodeF32Min, wasm.OpcodeF32Max:
		x2 := popF32(ce)
		x1 := popF32(ce)
		pushF32(ce, binaryF32(kind, x1, x2))
	case wasm.OpcodeF32Copysign:
		x1, x2 := ce.popPair()
		ce.pushValue(uint64(uint32(x1)&^f32SignBit | uint32(x2)&f32SignBit))

	case wasm.OpcodeF64Abs:
		ce.pushValue(ce.popValue() &^ f64SignBit)
	case wasm.OpcodeF64Neg:
		ce.pushValue(ce.popValue() ^ f64SignBit)
	case wasm.OpcodeF64Ceil:
		pushF64(ce, math.Ceil(popF64(ce)))
	case wasm.OpcodeF64Floor:
		pushF64(ce, math.Floor(popF64(ce)))
	case wasm.OpcodeF64Trunc:
		pushF64(ce, math.Trunc(popF64(ce)))
	case wasm.OpcodeF64Nearest:
		pushF64(ce, moremath.WasmCompatNearestF64(popF64(ce)))
	case wasm.OpcodeF64Sqrt:
		pushF64(ce, math.Sqrt(popF64(ce)))
	case wasm.OpcodeF64Add, wasm.OpcodeF64Sub, wasm.OpcodeF64Mul, wasm.OpcodeF64Div,
		wasm.OpcodeF64Min, wasm.OpcodeF64Max:
		x2 := popF64(ce)
		x1 := popF64(ce)
		pushF64(ce, binaryF64(kind, x1, x2))
	case wasm.OpcodeF64Copysign:
		x1, x2 := ce.popPair()
		ce.pushValue(x1&^f64SignBit | x2&f64SignBit)

	case wasm.OpcodeI32WrapI64:
		ce.pushValue(uint64(uint32(ce.popValue())))
	case wasm.OpcodeI32TruncF32S:
		ce.pushValue(i32TruncS(float64(popF32(ce)), false))
	case wasm.OpcodeI32TruncF32U:
		ce.pushValue(i32TruncU(float64(popF32(ce)), false))
	case wasm.OpcodeI32TruncF64S:
		ce.pushValue(i32TruncS(popF64(ce), false))
	case wasm.OpcodeI32TruncF64U:
		ce.pushValue(i32TruncU(popF64(ce), false))
	case wasm.OpcodeI64ExtendI32S:
		ce.pushValue(uint64(int64(int32(ce.popValue()))))
	case wasm.OpcodeI64ExtendI32U:
		ce.pushValue(uint64(uint32(ce.popValue())))
	case wasm.OpcodeI64TruncF32S:
		ce.pushValue(i64TruncS(float64(popF32(ce)), false))
	case wasm.OpcodeI64TruncF32U:
		ce.pushValue(i64TruncU(float64(popF32(ce)), false))
	case wasm.OpcodeI64TruncF64S:
		ce.pushValue(i64TruncS(popF64(ce), false))
	case wasm.OpcodeI64TruncF64U:
		ce.pushValue(i64TruncU(popF64(ce), false))
	case wasm.OpcodeF32ConvertI32S:
		pushF32(ce, float32(int32(ce.popValue())))
	case wasm.OpcodeF32ConvertI32U:
		pushF32(ce, float32(uint32(ce.popValue())))
	case wasm.OpcodeF32ConvertI64S:
		pushF32(ce, float32(int64(ce.popValue())))
	case wasm.OpcodeF32ConvertI64U:
		pushF32(ce, float32(ce.popValue()))
	case wasm.OpcodeF32DemoteF64:
		pushF32(ce, float32(popF64(ce)))
	case wasm.OpcodeF64ConvertI32S:
		pushF64(ce, float64(int32(ce.popValue())))
	case wasm.OpcodeF64ConvertI32U:
		pushF64(ce, float64(uint32(ce.popValue())))
	case wasm.OpcodeF64ConvertI64S:
		pushF64(ce, float64(int64(ce.popValue())))
	case wasm.OpcodeF64ConvertI64U:
		pushF64(ce, float64(ce.popValue()))
	case wasm.OpcodeF64PromoteF32:
		pushF64(ce, float64(popF32(ce)))
	case wasm.OpcodeI32ReinterpretF32, wasm.OpcodeI64ReinterpretF64,
		wasm.OpcodeF32ReinterpretI32, wasm.OpcodeF64ReinterpretI64:
		// Values are already kept as bits.

	case wasm.OpcodeI32Extend8S:
		ce.pushValue(uint64(uint32(int8(ce.popValue()))))
	case wasm.OpcodeI32Extend16S:
		ce.pushValue(uint64(uint32(int16(ce.popValue()))))
	case wasm.OpcodeI64Extend8S:
		ce.pushValue(uint64(int8(ce.popValue())))
	case wasm.OpcodeI64Extend16S:
		ce.pushValue(uint64(int16(ce.popValue())))
	case wasm.OpcodeI64Extend32S:
		ce.pushValue(uint64(int32(ce.popValue())))
	default:
		panic(fmt.Errorf("BUG: unsupported instruction %s", wasm.InstructionName(kind)))
	}
}
