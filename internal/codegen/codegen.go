// Package codegen is THE CORE's second translation stage: a two-pass
// lowering from three-address IR to the VM's stack bytecode. Pass one
// walks the IR purely to compute addresses (every label's address and
// every function's entry point); pass two walks it again to emit actual
// instructions. Both passes size each IR instruction using the exact same
// per-opcode instruction count (see instrCount), which is the only thing
// that keeps the two passes from drifting apart — a lesson learned the
// hard way from the original lowering's NEQ/LTE/GTE and RETURN counts
// (see the comments inside instrCount).
//
// The IR builder emits a function's body inline, at whatever point in
// the instruction stream its declaration appeared in source. Both
// passes hoist every function body below an unconditional HALT instead
// of walking the IR in that order (see splitProgram), so the VM — which
// always starts running at address 0 — executes top-level code first and
// only ever enters a function through CALL.
package codegen

import (
	"strconv"
	"strings"

	"mirlang/internal/bytecode"
	"mirlang/internal/ir"
	"mirlang/internal/vm"
)

// Output is everything the VM needs to run a compiled program.
type Output struct {
	Code       bytecode.Code
	Strings    []string
	Constants  []vm.Value
	Functions  []vm.Function
	NumGlobals int
	// GlobalNames is each global's declared name, indexed by its slot, so
	// a caller driving incremental compiles against one persistent set of
	// values (see internal/repl) can carry them across compiles by name
	// instead of relying on slot numbers staying put.
	GlobalNames []string
}

type funcInfo struct {
	address   int
	numParams int
}

// Generator holds the mutable state threaded through both passes. A fresh
// Generator is used per Generate call; nothing here is package-level.
type Generator struct {
	builder *ir.Builder

	labelAddr map[string]int
	funcs     map[string]funcInfo
	funcOrder []string

	globalSlot  map[string]int
	globalOrder []string

	stringIDs map[string]int
	strings   []string
	constants []vm.Value

	currentFunc string
	localSlot   map[string]map[string]int // func name -> var name -> slot
	nextLocal   map[string]int            // func name -> next free slot

	pendingParams []string // operand names from PARAMs feeding a reserved pseudo-call

	out bytecode.Code
}

// New builds a Generator from the IR Builder's output.
func New(builder *ir.Builder) *Generator {
	return &Generator{
		builder:    builder,
		labelAddr:  make(map[string]int),
		funcs:      make(map[string]funcInfo),
		globalSlot: make(map[string]int),
		stringIDs:  make(map[string]int),
		localSlot:  make(map[string]map[string]int),
		nextLocal:  make(map[string]int),
	}
}

// instrCount is consulted identically by both passes. Every branch here
// must emit EXACTLY this many bytecode instructions in pass two — see
// emit* below, one function per IR opcode class.
func instrCount(instr *ir.Instr) int {
	switch instr.Op {
	case ir.LABEL:
		return 0
	case ir.ASSIGN:
		return 2
	case ir.ADD, ir.SUB, ir.MUL, ir.DIV, ir.MOD:
		return 4
	case ir.EQ, ir.LT, ir.GT:
		return 4
	case ir.NEQ, ir.LTE, ir.GTE:
		// load, load, [comparison, push 0, eq] inversion, store.
		return 6
	case ir.GOTO:
		return 1
	case ir.IF_FALSE:
		return 2
	case ir.PARAM:
		if _, ok := reservedCallTarget(instr); ok {
			// Feeds __array_new/__array_get, which reload their operands
			// by name instead of off the stack (see emitArrayNew):
			// nothing to emit here.
			return 0
		}
		return 1
	case ir.CALL:
		switch instr.Arg1 {
		case "__array_new":
			argc, _ := strconv.Atoi(instr.Arg2)
			// alloc+store-handle(3), store element count(4), 4 per
			// element, reload-handle+store-result(2).
			return 9 + 4*argc
		case "__array_get":
			return 6 // load arr, load idx, push 1, add (element 0 sits at heap offset 1), LOAD_HEAP, store
		default:
			return 3 // LINE marker, CALL, store(result)
		}
	case ir.RETURN:
		// Always a load (a placeholder PUSH 0 when there is no return
		// value) followed by RETURN, so
		// pass one's count never depends on whether this RETURN carries a
		// value.
		return 2
	case ir.PRINT:
		return 2
	case ir.TRY_START:
		return 1
	case ir.TRY_END:
		return 1
	case ir.THROW:
		return 2
	default:
		return 1
	}
}

// Generate runs both passes and returns the compiled program.
func Generate(prog *ir.Program, builder *ir.Builder) *Output {
	g := New(builder)
	top, funcBodies := splitProgram(prog)
	g.passOne(top, funcBodies)
	g.passTwo(top, funcBodies)

	return &Output{
		Code:        g.out,
		Strings:     g.strings,
		Constants:   g.constants,
		Functions:   g.functionTable(),
		NumGlobals:  len(g.globalSlot),
		GlobalNames: g.globalOrder,
	}
}

func (g *Generator) functionTable() []vm.Function {
	fns := make([]vm.Function, len(g.funcOrder))
	for i, name := range g.funcOrder {
		fi := g.funcs[name]
		fns[i] = vm.Function{Name: name, Address: fi.address, NumParams: fi.numParams}
	}
	return fns
}

// splitProgram partitions prog's linked instruction sequence into its
// top-level instructions and, in first-declaration order, every
// function's body (from its func_ label through its matching endfunc_
// label). The returned funcBodies slice is top-level's IR analogue of
// code hoisted below a HALT: concatenating top and funcBodies reproduces
// every instruction in prog, just with function bodies moved after
// whatever top-level code surrounded their declaration.
func splitProgram(prog *ir.Program) (top, funcBodies []*ir.Instr) {
	var order []string
	bodies := make(map[string][]*ir.Instr)
	current := ""
	prog.Each(func(instr *ir.Instr) {
		if instr.Op == ir.LABEL {
			if name, ok := strings_cutPrefix(instr.Result, "func_"); ok {
				current = name
				order = append(order, name)
				bodies[name] = append(bodies[name], instr)
				return
			}
			if _, ok := strings_cutPrefix(instr.Result, "endfunc_"); ok {
				bodies[current] = append(bodies[current], instr)
				current = ""
				return
			}
		}
		if current != "" {
			bodies[current] = append(bodies[current], instr)
			return
		}
		top = append(top, instr)
	})
	for _, name := range order {
		funcBodies = append(funcBodies, bodies[name]...)
	}
	return top, funcBodies
}

// passOne computes every label's address and every function's entry
// point, without emitting anything. It walks top-level instructions
// first, reserves one address for the HALT passTwo emits between the two
// sections, then walks the hoisted function bodies.
func (g *Generator) passOne(top, funcBodies []*ir.Instr) {
	addr := 0
	for _, instr := range top {
		addr = g.passOneInstr(instr, addr)
	}
	addr++ // the HALT separating top-level code from hoisted function bodies
	for _, instr := range funcBodies {
		addr = g.passOneInstr(instr, addr)
	}
}

func (g *Generator) passOneInstr(instr *ir.Instr, addr int) int {
	if instr.Op == ir.LABEL {
		g.labelAddr[instr.Result] = addr
		if name, ok := strings_cutPrefix(instr.Result, "func_"); ok {
			g.registerFunc(name, addr)
		}
		return addr
	}
	return addr + instrCount(instr)
}

func (g *Generator) registerFunc(name string, addr int) {
	if _, exists := g.funcs[name]; !exists {
		g.funcOrder = append(g.funcOrder, name)
	}
	g.funcs[name] = funcInfo{address: addr, numParams: len(g.builder.FuncParams[name])}
}

// reservedCallTarget reports whether instr is a PARAM tagged, at IR-build
// time, as feeding one of the reserved pseudo-calls the IR builder uses
// to keep array construction inside the closed IR opcode set (see
// ast.ArrayDecl/ast.ArrayAccess lowering, which stamps the target name
// into Arg2). Pass one and pass two both consult this, through
// instrCount and the PARAM case below respectively, so they can never
// disagree about how many bytecode instructions a given PARAM costs.
// Tagging the PARAM itself, instead of looking ahead past it for the
// reserved CALL, keeps this correct even when an array element is
// itself a call — which emits instructions between the PARAM and the
// CALL it feeds.
func reservedCallTarget(instr *ir.Instr) (string, bool) {
	if instr.Op != ir.PARAM {
		return "", false
	}
	if instr.Arg2 == "__array_new" || instr.Arg2 == "__array_get" {
		return instr.Arg2, true
	}
	return "", false
}

func strings_cutPrefix(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return "", false
}

// passTwo walks the IR again, emitting bytecode: top-level instructions,
// then a HALT, then every hoisted function body. Addresses for jumps and
// calls come entirely from the tables passOne already built, so this
// pass never needs to patch anything after the fact.
func (g *Generator) passTwo(top, funcBodies []*ir.Instr) {
	for _, instr := range top {
		g.passTwoInstr(instr)
	}
	g.emit(bytecode.Instr{Op: bytecode.HALT})
	for _, instr := range funcBodies {
		g.passTwoInstr(instr)
	}
}

func (g *Generator) passTwoInstr(instr *ir.Instr) {
	switch instr.Op {
	case ir.LABEL:
		g.enterOrLeaveFunc(instr.Result)
	case ir.ASSIGN:
		g.emit(g.load(instr.Arg1))
		g.emit(g.store(instr.Result))
	case ir.ADD:
		g.emitArith(instr, bytecode.ADD)
	case ir.SUB:
		g.emitArith(instr, bytecode.SUB)
	case ir.MUL:
		g.emitArith(instr, bytecode.MUL)
	case ir.DIV:
		g.emitArith(instr, bytecode.DIV)
	case ir.MOD:
		g.emitArith(instr, bytecode.MOD)
	case ir.EQ:
		g.emitArith(instr, bytecode.EQ)
	case ir.LT:
		g.emitArith(instr, bytecode.LT)
	case ir.GT:
		g.emitArith(instr, bytecode.GT)
	case ir.NEQ:
		g.emitInvertedCompare(instr, bytecode.EQ)
	case ir.LTE:
		g.emitInvertedCompare(instr, bytecode.GT)
	case ir.GTE:
		g.emitInvertedCompare(instr, bytecode.LT)
	case ir.GOTO:
		g.emit(bytecode.Instr{Op: bytecode.JMP, Arg: g.labelAddr[instr.Result], Line: instr.Line})
	case ir.IF_FALSE:
		g.emit(g.load(instr.Arg1))
		g.emit(bytecode.Instr{Op: bytecode.JMP_FALSE, Arg: g.labelAddr[instr.Result], Line: instr.Line})
	case ir.PARAM:
		if _, ok := reservedCallTarget(instr); ok {
			g.pendingParams = append(g.pendingParams, instr.Arg1)
		} else {
			g.emit(g.load(instr.Arg1))
		}
	case ir.CALL:
		g.emitCall(instr)
	case ir.RETURN:
		if instr.Arg1 != "" {
			g.emit(g.load(instr.Arg1))
		} else {
			g.emit(bytecode.Instr{Op: bytecode.PUSH, Arg: 0, Line: instr.Line})
		}
		g.emit(bytecode.Instr{Op: bytecode.RETURN, Line: instr.Line})
	case ir.PRINT:
		g.emit(g.load(instr.Arg1))
		g.emit(bytecode.Instr{Op: bytecode.PRINT, Line: instr.Line})
	case ir.TRY_START:
		g.emit(bytecode.Instr{Op: bytecode.TRY, Arg: g.labelAddr[instr.Arg1], Line: instr.Line})
	case ir.TRY_END:
		g.emit(bytecode.Instr{Op: bytecode.ENDTRY, Line: instr.Line})
	case ir.THROW:
		g.emit(g.load(instr.Arg1))
		g.emit(bytecode.Instr{Op: bytecode.THROW, Line: instr.Line})
	case ir.NOP:
		g.emit(bytecode.Instr{Op: bytecode.NOP, Line: instr.Line})
	}
}

func (g *Generator) enterOrLeaveFunc(label string) {
	if name, ok := strings_cutPrefix(label, "func_"); ok {
		g.currentFunc = name
		if _, ok := g.localSlot[name]; !ok {
			g.localSlot[name] = make(map[string]int)
			for i, p := range g.builder.FuncParams[name] {
				g.localSlot[name][p] = i
			}
			g.nextLocal[name] = len(g.builder.FuncParams[name])
		}
		return
	}
	if _, ok := strings_cutPrefix(label, "endfunc_"); ok {
		g.currentFunc = ""
	}
}

func (g *Generator) emitArith(instr *ir.Instr, op bytecode.Op) {
	g.emit(g.load(instr.Arg1))
	g.emit(g.load(instr.Arg2))
	g.emit(bytecode.Instr{Op: op, Line: instr.Line})
	g.emit(g.store(instr.Result))
}

// emitInvertedCompare synthesizes NEQ/LTE/GTE the way the original lacked
// a dedicated opcode for: compute the complementary comparison, then
// invert it by comparing the boolean result against zero.
func (g *Generator) emitInvertedCompare(instr *ir.Instr, base bytecode.Op) {
	g.emit(g.load(instr.Arg1))
	g.emit(g.load(instr.Arg2))
	g.emit(bytecode.Instr{Op: base, Line: instr.Line})
	g.emit(bytecode.Instr{Op: bytecode.PUSH, Arg: 0, Line: instr.Line})
	g.emit(bytecode.Instr{Op: bytecode.EQ, Line: instr.Line})
	g.emit(g.store(instr.Result))
}

func (g *Generator) emitCall(instr *ir.Instr) {
	name := instr.Arg1
	switch name {
	case "__array_new":
		g.emitArrayNew(instr)
		return
	case "__array_get":
		g.emitArrayGet(instr)
		return
	}
	_, known := g.funcs[name]
	idx := -1
	for i, n := range g.funcOrder {
		if n == name {
			idx = i
			break
		}
	}
	if !known {
		// Referenced but never declared in this program (e.g. a helper
		// library native); still reserve a function-table slot so the
		// bytecode's CALL index is stable, resolved at load time by
		// whatever registers natives (see internal/corelib).
		g.registerFunc(name, -1)
		idx = len(g.funcOrder) - 1
	}
	g.emit(bytecode.Instr{Op: bytecode.LINE, Line: instr.Line})
	g.emit(bytecode.Instr{Op: bytecode.CALL, Arg: idx, Line: instr.Line})
	g.emit(g.store(instr.Result))
}

// arrayScratchSlot is a reserved global slot holding the in-progress
// array's heap handle while its elements are stored; '%' can't appear in
// a user identifier, so this never collides with a real variable.
func (g *Generator) arrayScratchSlot() int {
	return g.globalSlotFor("%array_scratch")
}

// emitArrayNew lowers the reserved __array_new pseudo-call directly onto
// the heap primitives: a size-(argc+1) block, slot 0 holding the element
// count and slots 1..argc the elements, matching corelib's array layout.
// Elements were captured by name (not value) when their PARAMs were
// visited, since STORE_HEAP needs [handle, offset, value] with value on
// top — reloading by name lets each be pushed last, in the right order.
func (g *Generator) emitArrayNew(instr *ir.Instr) {
	elems := g.pendingParams
	g.pendingParams = nil
	scratch := g.arrayScratchSlot()

	g.emit(bytecode.Instr{Op: bytecode.PUSH, Arg: len(elems) + 1, Line: instr.Line})
	g.emit(bytecode.Instr{Op: bytecode.ALLOC, Line: instr.Line})
	g.emit(bytecode.Instr{Op: bytecode.STORE_GLOBAL, Arg: scratch, Line: instr.Line})

	g.emit(bytecode.Instr{Op: bytecode.LOAD_GLOBAL, Arg: scratch, Line: instr.Line})
	g.emit(bytecode.Instr{Op: bytecode.PUSH, Arg: 0, Line: instr.Line})
	g.emit(bytecode.Instr{Op: bytecode.PUSH, Arg: len(elems), Line: instr.Line})
	g.emit(bytecode.Instr{Op: bytecode.STORE_HEAP, Line: instr.Line})

	for i, name := range elems {
		g.emit(bytecode.Instr{Op: bytecode.LOAD_GLOBAL, Arg: scratch, Line: instr.Line})
		g.emit(bytecode.Instr{Op: bytecode.PUSH, Arg: i + 1, Line: instr.Line})
		g.emit(g.load(name))
		g.emit(bytecode.Instr{Op: bytecode.STORE_HEAP, Line: instr.Line})
	}

	g.emit(bytecode.Instr{Op: bytecode.LOAD_GLOBAL, Arg: scratch, Line: instr.Line})
	g.emit(g.store(instr.Result))
}

// emitArrayGet lowers the reserved __array_get pseudo-call to a single
// heap read. Its two operands (array, index) were likewise captured by
// name rather than pushed, so they can be reloaded in the exact order
// LOAD_HEAP expects: index on top, handle beneath it.
func (g *Generator) emitArrayGet(instr *ir.Instr) {
	args := g.pendingParams
	g.pendingParams = nil
	g.emit(g.load(args[0]))
	g.emit(g.load(args[1]))
	g.emit(bytecode.Instr{Op: bytecode.PUSH, Arg: 1, Line: instr.Line})
	g.emit(bytecode.Instr{Op: bytecode.ADD, Line: instr.Line})
	g.emit(bytecode.Instr{Op: bytecode.LOAD_HEAP, Line: instr.Line})
	g.emit(g.store(instr.Result))
}

// load returns the single instruction that pushes operand's value: a
// quoted string literal interns and loads it, a literal containing a '.'
// is a float constant, a bare digit sequence is a direct int push, and
// anything else is a variable/temporary resolved against the current
// scope.
func (g *Generator) load(operand string) bytecode.Instr {
	if operand == "" {
		return bytecode.Instr{Op: bytecode.PUSH, Arg: 0}
	}
	if strings.HasPrefix(operand, `"`) && strings.HasSuffix(operand, `"`) {
		id := g.intern(operand[1 : len(operand)-1])
		return bytecode.Instr{Op: bytecode.LOAD_STR, Arg: id}
	}
	if n, err := strconv.Atoi(operand); err == nil {
		return bytecode.Instr{Op: bytecode.PUSH, Arg: n}
	}
	if strings.Contains(operand, ".") {
		if f, err := strconv.ParseFloat(operand, 32); err == nil {
			id := len(g.constants)
			g.constants = append(g.constants, vm.FloatValue(float32(f)))
			return bytecode.Instr{Op: bytecode.LOAD_CONST, Arg: id}
		}
	}
	return g.variableLoad(operand)
}

func (g *Generator) variableLoad(name string) bytecode.Instr {
	if g.currentFunc != "" {
		return bytecode.Instr{Op: bytecode.LOAD_LOCAL, Arg: g.slot(name)}
	}
	return bytecode.Instr{Op: bytecode.LOAD_GLOBAL, Arg: g.globalSlotFor(name)}
}

func (g *Generator) store(name string) bytecode.Instr {
	if name == "" {
		return bytecode.Instr{Op: bytecode.POP}
	}
	if g.currentFunc != "" {
		return bytecode.Instr{Op: bytecode.STORE_LOCAL, Arg: g.slot(name)}
	}
	return bytecode.Instr{Op: bytecode.STORE_GLOBAL, Arg: g.globalSlotFor(name)}
}

// slot resolves (allocating if necessary) name's local slot within the
// function currently being generated. Parameters were already seeded at
// slots 0..N-1 when the function's LABEL was visited.
func (g *Generator) slot(name string) int {
	slots := g.localSlot[g.currentFunc]
	if id, ok := slots[name]; ok {
		return id
	}
	id := g.nextLocal[g.currentFunc]
	g.nextLocal[g.currentFunc]++
	slots[name] = id
	return id
}

func (g *Generator) globalSlotFor(name string) int {
	if id, ok := g.globalSlot[name]; ok {
		return id
	}
	id := len(g.globalSlot)
	g.globalSlot[name] = id
	g.globalOrder = append(g.globalOrder, name)
	return id
}

func (g *Generator) intern(text string) int {
	if id, ok := g.stringIDs[text]; ok {
		return id
	}
	id := len(g.strings)
	g.strings = append(g.strings, text)
	g.stringIDs[text] = id
	return id
}

func (g *Generator) emit(instr bytecode.Instr) {
	g.out = append(g.out, instr)
}
