// Package vm is THE CORE stack machine: it executes the bytecode the code
// generator produces over a value stack, a frame stack, a globals array,
// and a bump-allocated heap collected by a precise mark-and-sweep GC.
package vm

import (
	"fmt"
	"io"
	"os"

	"mirlang/internal/bytecode"
	"mirlang/internal/mirerrors"
)

// Limits bounds every VM resource, mirroring the original's compile-time
// MAX_* constants but made configurable at runtime instead.
type Limits struct {
	MaxStack     int
	MaxCode      int
	MaxFrames    int
	MaxHeap      int
	MaxStrings   int
	MaxConstants int
	MaxFunctions int
	MaxGlobals   int
}

// DefaultLimits matches the original reference implementation's bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxStack:     2048,
		MaxCode:      8192,
		MaxFrames:    256,
		MaxHeap:      65536,
		MaxStrings:   1024,
		MaxConstants: 1024,
		MaxFunctions: 256,
		MaxGlobals:   1024,
	}
}

// VM is the stack machine. Exported fields are the wiring points a caller
// (REPL, debug server, CLI) needs; everything GC- and pool-related stays
// unexported and is manipulated only through the methods in pool.go/heap.go.
type VM struct {
	Limits Limits
	Out    io.Writer
	In     io.Reader
	Debug  bool

	// OnBreakpoint, when set, is called synchronously every time a
	// BREAKPOINT instruction executes, before control resumes at the next
	// instruction. internal/debugserver sets this to stream a state
	// snapshot to any connected inspector.
	OnBreakpoint func(m *VM)

	code bytecode.Code
	pc   int

	stack []Value
	sp    int

	frames     []Frame
	frameCount int
	fp         int // base of the active frame's locals within stack

	globals []Value

	constants []Value
	functions []Function
	strings   []StringEntry

	objects     []*heapObject
	handleIndex map[int]*heapObject
	nextHandle  int
	heapUsed    int

	bytesAllocated int
	gcThreshold    int
	gcCount        int

	handlers []handler // active TRY blocks, innermost last

	natives map[string]NativeFunc

	currentLine      int
	instructionCount int
	halted           bool
	err              *mirerrors.Error
}

// NativeFunc is a Go-implemented function reachable from mirlang code by
// name, bypassing bytecode entirely (the helper-library builtins; the
// array pseudo-calls are lowered by codegen to heap opcodes instead).
type NativeFunc func(m *VM, args []Value) Value

type handler struct {
	catchAddr int
	sp        int // stack depth to restore on throw
	fp        int
	frameCnt  int
}

// New builds a VM ready to execute code, with globals pre-sized to
// numGlobals slots (all Null) and an initial GC threshold chosen so the
// first collection only triggers once real pressure builds.
func New(code bytecode.Code, numGlobals int, limits Limits) *VM {
	m := &VM{
		Limits:      limits,
		Out:         os.Stdout,
		In:          os.Stdin,
		code:        code,
		stack:       make([]Value, limits.MaxStack),
		sp:          -1,
		frames:      make([]Frame, limits.MaxFrames),
		globals:     make([]Value, numGlobals),
		handleIndex: make(map[int]*heapObject),
		gcThreshold: 1 << 16,
	}
	for i := range m.globals {
		m.globals[i] = NullValue()
	}
	return m
}

// Err returns the error that halted the VM, if any.
func (m *VM) Err() *mirerrors.Error { return m.err }

// SetGlobal and GetGlobal let a caller seed or read a global slot
// directly, without going through bytecode — used by internal/repl to
// carry variable values across one incremental compile to the next,
// since each compile assigns slot numbers from scratch.
func (m *VM) SetGlobal(slot int, v Value) {
	if slot >= 0 && slot < len(m.globals) {
		m.globals[slot] = v
	}
}

func (m *VM) GetGlobal(slot int) Value {
	if slot < 0 || slot >= len(m.globals) {
		return NullValue()
	}
	return m.globals[slot]
}

// RegisterNative binds name to a Go implementation. A CALL to a function
// whose table entry has Address < 0 dispatches here instead of jumping
// into bytecode.
func (m *VM) RegisterNative(name string, arity int, fn NativeFunc) {
	if m.natives == nil {
		m.natives = make(map[string]NativeFunc)
	}
	m.natives[name] = fn
	m.AddFunction(name, -1, arity)
}

// GCStats reports counters useful for --debug banners and tests.
func (m *VM) GCStats() (collections int, bytesAllocated int) {
	return m.gcCount, m.bytesAllocated
}

func (m *VM) fail(format string, args ...interface{}) {
	if m.halted {
		return
	}
	e := mirerrors.New(mirerrors.Runtime, m.currentLine, format, args...)
	var frames []mirerrors.StackFrame
	for i := m.frameCount - 1; i >= 0; i-- {
		f := m.frames[i]
		name := "?"
		if f.FuncID >= 0 && f.FuncID < len(m.functions) {
			name = m.functions[f.FuncID].Name
		}
		frames = append(frames, mirerrors.StackFrame{Function: name, Address: f.ReturnAddr})
	}
	m.err = e.WithStack(frames)
	m.halted = true
}

func (m *VM) push(v Value) {
	if m.sp+1 >= len(m.stack) {
		m.fail("stack overflow")
		return
	}
	m.sp++
	m.stack[m.sp] = v
}

func (m *VM) pop() Value {
	if m.sp < 0 {
		m.fail("stack underflow")
		return NullValue()
	}
	v := m.stack[m.sp]
	m.sp--
	return v
}

func (m *VM) peek() Value {
	if m.sp < 0 {
		return NullValue()
	}
	return m.stack[m.sp]
}

// Run executes from pc 0 until HALT, a runtime error, or an uncaught
// throw, then returns the accumulated error (nil on a clean halt).
func (m *VM) Run() error {
	for !m.halted && m.pc < len(m.code) {
		m.step()
	}
	if m.err != nil {
		return m.err
	}
	return nil
}

// Step executes a single instruction; callers driving a debugger loop can
// call this directly instead of Run.
func (m *VM) Step() bool {
	if m.halted || m.pc >= len(m.code) {
		return false
	}
	m.step()
	return !m.halted
}

func (m *VM) fnum(v Value) float32 { return v.AsFloat() }

func (m *VM) binArith(apply func(a, b float32) float32, applyInt func(a, b int32) int32) {
	b := m.pop()
	a := m.pop()
	if a.Tag == TagFloat || b.Tag == TagFloat {
		m.push(FloatValue(apply(a.AsFloat(), b.AsFloat())))
		return
	}
	m.push(IntValue(applyInt(a.Int, b.Int)))
}

func boolValue(b bool) Value {
	if b {
		return IntValue(1)
	}
	return IntValue(0)
}

func (m *VM) step() {
	instr := m.code[m.pc]
	m.currentLine = instr.Line
	m.instructionCount++
	next := m.pc + 1

	switch instr.Op {
	case bytecode.HALT:
		m.halted = true
		return
	case bytecode.NOP, bytecode.LINE:
		// no-op at execution time.
	case bytecode.BREAKPOINT:
		if m.OnBreakpoint != nil {
			m.OnBreakpoint(m)
		}

	case bytecode.PUSH:
		m.push(IntValue(int32(instr.Arg)))
	case bytecode.POP:
		m.pop()
	case bytecode.DUP:
		m.push(m.peek())

	case bytecode.ADD:
		m.binArith(func(a, b float32) float32 { return a + b }, func(a, b int32) int32 { return a + b })
	case bytecode.SUB:
		m.binArith(func(a, b float32) float32 { return a - b }, func(a, b int32) int32 { return a - b })
	case bytecode.MUL:
		m.binArith(func(a, b float32) float32 { return a * b }, func(a, b int32) int32 { return a * b })
	case bytecode.DIV:
		b := m.pop()
		a := m.pop()
		if b.Tag != TagFloat && b.Int == 0 {
			m.fail("Division by zero")
			return
		}
		if b.Tag == TagFloat && b.Float == 0 {
			m.fail("Division by zero")
			return
		}
		if a.Tag == TagFloat || b.Tag == TagFloat {
			m.push(FloatValue(a.AsFloat() / b.AsFloat()))
		} else {
			m.push(IntValue(a.Int / b.Int))
		}
	case bytecode.MOD:
		b := m.pop()
		a := m.pop()
		if b.Int == 0 {
			m.fail("modulo by zero")
			return
		}
		m.push(IntValue(a.Int % b.Int))
	case bytecode.NEG:
		a := m.pop()
		if a.Tag == TagFloat {
			m.push(FloatValue(-a.Float))
		} else {
			m.push(IntValue(-a.Int))
		}

	case bytecode.EQ:
		b, a := m.pop(), m.pop()
		m.push(boolValue(valuesEqual(a, b)))
	case bytecode.NEQ:
		b, a := m.pop(), m.pop()
		m.push(boolValue(!valuesEqual(a, b)))
	case bytecode.LT:
		b, a := m.pop(), m.pop()
		m.push(boolValue(a.AsFloat() < b.AsFloat()))
	case bytecode.GT:
		b, a := m.pop(), m.pop()
		m.push(boolValue(a.AsFloat() > b.AsFloat()))
	case bytecode.LTE:
		b, a := m.pop(), m.pop()
		m.push(boolValue(a.AsFloat() <= b.AsFloat()))
	case bytecode.GTE:
		b, a := m.pop(), m.pop()
		m.push(boolValue(a.AsFloat() >= b.AsFloat()))

	case bytecode.AND:
		b, a := m.pop(), m.pop()
		m.push(boolValue(!a.IsZero() && !b.IsZero()))
	case bytecode.OR:
		b, a := m.pop(), m.pop()
		m.push(boolValue(!a.IsZero() || !b.IsZero()))
	case bytecode.NOT:
		a := m.pop()
		m.push(boolValue(a.IsZero()))

	case bytecode.LOAD_LOCAL:
		idx := m.fp + instr.Arg
		if idx < 0 || idx >= len(m.stack) {
			m.fail("invalid local slot %d", instr.Arg)
			return
		}
		if idx > m.sp {
			m.push(IntValue(0))
		} else {
			m.push(m.stack[idx])
		}
	case bytecode.STORE_LOCAL:
		v := m.pop()
		idx := m.fp + instr.Arg
		if idx >= len(m.stack) {
			m.fail("local slot %d out of range", instr.Arg)
			return
		}
		if idx > m.sp {
			// permissive padding: a store past the current top extends the
			// frame's window rather than erroring, matching the original's
			// tolerance of sparse slot numbering from the code generator.
			for m.sp < idx {
				m.sp++
				m.stack[m.sp] = IntValue(0)
			}
		}
		m.stack[idx] = v

	case bytecode.LOAD_GLOBAL:
		if instr.Arg < 0 || instr.Arg >= len(m.globals) {
			m.fail("invalid global slot %d", instr.Arg)
			return
		}
		m.push(m.globals[instr.Arg])
	case bytecode.STORE_GLOBAL:
		v := m.pop()
		if instr.Arg < 0 || instr.Arg >= len(m.globals) {
			m.fail("invalid global slot %d", instr.Arg)
			return
		}
		m.globals[instr.Arg] = v

	case bytecode.LOAD_CONST:
		m.push(m.GetConstant(instr.Arg))
	case bytecode.LOAD_STR:
		m.push(StringValue(int32(instr.Arg)))

	case bytecode.JMP:
		next = instr.Arg
	case bytecode.JMP_FALSE:
		v := m.pop()
		if v.IsZero() {
			next = instr.Arg
		}
	case bytecode.JMP_TRUE:
		v := m.pop()
		if !v.IsZero() {
			next = instr.Arg
		}

	case bytecode.CALL:
		fn := instr.Arg
		if fn < 0 || fn >= len(m.functions) {
			m.fail("call to undefined function %d", fn)
			return
		}
		if m.frameCount >= len(m.frames) {
			m.fail("call stack overflow")
			return
		}
		f := m.functions[fn]
		if f.Address < 0 {
			native, ok := m.natives[f.Name]
			if !ok {
				m.fail("no native implementation registered for %s", f.Name)
				return
			}
			args := make([]Value, f.NumParams)
			for i := f.NumParams - 1; i >= 0; i-- {
				args[i] = m.pop()
			}
			m.push(native(m, args))
			break
		}
		newFP := m.sp - f.NumParams + 1
		if newFP < 0 {
			m.fail("not enough arguments for %s", f.Name)
			return
		}
		m.frames[m.frameCount] = Frame{ReturnAddr: next, FramePtr: newFP, NumLocals: f.NumParams, FuncID: fn}
		m.frameCount++
		m.fp = newFP
		next = f.Address

	case bytecode.RETURN:
		retVal := m.pop()
		if m.frameCount == 0 {
			m.fail("return with no active frame")
			return
		}
		m.frameCount--
		frame := m.frames[m.frameCount]
		m.sp = frame.FramePtr - 1
		m.push(retVal)
		if m.frameCount > 0 {
			m.fp = m.frames[m.frameCount-1].FramePtr
		} else {
			m.fp = 0
		}
		next = frame.ReturnAddr

	case bytecode.ENTER:
		for i := 0; i < instr.Arg; i++ {
			m.push(NullValue())
		}
	case bytecode.LEAVE:
		for i := 0; i < instr.Arg; i++ {
			m.pop()
		}

	case bytecode.ALLOC:
		size := int(m.pop().Int)
		handle := m.AllocHeap(size)
		if m.halted {
			return
		}
		m.push(HeapValue(int32(handle)))
	case bytecode.FREE:
		m.pop() // GC-managed; FREE is a historical no-op kept for bytecode compatibility

	case bytecode.LOAD_HEAP:
		offIdx := int(m.pop().Int)
		h := m.pop()
		obj := m.HeapObject(int(h.Heap))
		if obj == nil || offIdx < 0 || offIdx >= len(obj.Data) {
			m.fail("invalid heap access")
			return
		}
		m.push(IntValue(int32(obj.Data[offIdx])))
	case bytecode.STORE_HEAP:
		val := m.pop()
		offIdx := int(m.pop().Int)
		h := m.pop()
		obj := m.HeapObject(int(h.Heap))
		if obj == nil || offIdx < 0 || offIdx >= len(obj.Data) {
			m.fail("invalid heap access")
			return
		}
		obj.Data[offIdx] = byte(val.Int)

	case bytecode.CONCAT:
		b, a := m.pop(), m.pop()
		sa := m.GetString(int(a.Str))
		sb := m.GetString(int(b.Str))
		id := m.addString(sa + sb)
		if m.halted {
			return
		}
		m.push(StringValue(int32(id)))

	case bytecode.PRINT:
		v := m.pop()
		fmt.Fprintln(m.Out, m.formatValue(v))
	case bytecode.PRINT_STR:
		v := m.pop()
		fmt.Fprintln(m.Out, m.GetString(int(v.Str)))
	case bytecode.INPUT:
		var s string
		fmt.Fscanln(m.In, &s)
		id := m.addString(s)
		if m.halted {
			return
		}
		m.push(StringValue(int32(id)))

	case bytecode.TRY:
		m.handlers = append(m.handlers, handler{catchAddr: instr.Arg, sp: m.sp, fp: m.fp, frameCnt: m.frameCount})
	case bytecode.ENDTRY:
		if len(m.handlers) > 0 {
			m.handlers = m.handlers[:len(m.handlers)-1]
		}
	case bytecode.THROW:
		v := m.pop()
		if len(m.handlers) == 0 {
			m.fail("uncaught throw: %s", m.formatValue(v))
			return
		}
		h := m.handlers[len(m.handlers)-1]
		m.handlers = m.handlers[:len(m.handlers)-1]
		m.sp = h.sp
		m.fp = h.fp
		m.frameCount = h.frameCnt
		m.push(v)
		next = h.catchAddr

	default:
		m.fail("unknown opcode %v", instr.Op)
		return
	}

	m.pc = next
}

func valuesEqual(a, b Value) bool {
	if a.Tag == TagString && b.Tag == TagString {
		return a.Str == b.Str
	}
	if (a.Tag == TagFloat || b.Tag == TagFloat) && a.Tag != TagString && b.Tag != TagString {
		return a.AsFloat() == b.AsFloat()
	}
	return a.Tag == b.Tag && a.Int == b.Int && a.Heap == b.Heap
}

// formatValue renders v for generic PRINT the same way PRINT_STR renders a
// known-string operand, so print(concat("a","b")) and similar native-
// returned strings show their text instead of the Value struct itself.
func (m *VM) formatValue(v Value) string {
	switch v.Tag {
	case TagInt:
		return fmt.Sprintf("%d", v.Int)
	case TagFloat:
		return fmt.Sprintf("%g", v.Float)
	case TagString:
		return m.GetString(int(v.Str))
	case TagNull:
		return "null"
	default:
		return fmt.Sprintf("%v", v)
	}
}
