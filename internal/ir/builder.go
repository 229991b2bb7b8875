package ir

import (
	"fmt"
	"strconv"
	"strings"

	"mirlang/internal/ast"
)

// Builder lowers an AST to three-address IR. Fresh temporary and label
// names come from counters scoped to one Builder value — never package-
// level mutable state, so two Builders never collide over shared
// counters.
type Builder struct {
	tempCount  int
	labelCount int
	Warnings   []string
	prog       *Program

	// FuncParams records each function's formal parameter names in
	// declaration order. The IR itself never binds parameters to storage
	// (a CALL's PARAM instructions describe actuals, not formals) — the
	// code generator consults this to seed a function's slot map so
	// parameter references resolve to the same slots the VM's CALL
	// convention already populated, instead of allocating fresh ones.
	FuncParams map[string][]string
}

func NewBuilder() *Builder {
	return &Builder{prog: &Program{}, FuncParams: make(map[string][]string)}
}

func (b *Builder) newTemp() string {
	name := fmt.Sprintf("t%d", b.tempCount)
	b.tempCount++
	return name
}

func (b *Builder) newLabel() string {
	name := fmt.Sprintf("L%d", b.labelCount)
	b.labelCount++
	return name
}

func (b *Builder) emit(op Opcode, arg1, arg2, result string) {
	b.prog.append(&Instr{Op: op, Arg1: arg1, Arg2: arg2, Result: result})
}

// Build lowers the statement list rooted at node (linked through
// ast.Node.Sibling) into a linked IR sequence equivalent to in-order
// execution of the statements and left-to-right, innermost-first
// evaluation of expressions.
func Build(node *ast.Node) (*Program, *Builder) {
	b := NewBuilder()
	b.genStmts(node)
	return b.prog, b
}

func (b *Builder) genStmts(node *ast.Node) {
	for n := node; n != nil; n = n.Sibling {
		b.genStmt(n)
	}
}

func (b *Builder) genStmt(n *ast.Node) {
	switch n.Kind {
	case ast.Block:
		b.genStmts(n.Body)

	case ast.VarDecl, ast.Assign:
		val := b.genExpr(n.Left)
		b.emit(ASSIGN, val, "", n.SVal)

	case ast.Print:
		val := b.genExpr(n.Left)
		b.emit(PRINT, val, "", "")

	case ast.If:
		cond := b.genExpr(n.Cond)
		lElse := b.newLabel()
		lEnd := b.newLabel()
		b.emit(IF_FALSE, cond, "", lElse)
		b.genStmt(n.Body)
		b.emit(GOTO, "", "", lEnd)
		// The original lowering emits this label definition twice in
		// succession; that's collapsed here to a single definition —
		// every label must be defined exactly once.
		b.emit(LABEL, "", "", lElse)
		if n.CatchBody != nil {
			b.genStmt(n.CatchBody)
		}
		b.emit(LABEL, "", "", lEnd)

	case ast.While:
		lStart := b.newLabel()
		lEnd := b.newLabel()
		b.emit(LABEL, "", "", lStart)
		cond := b.genExpr(n.Cond)
		b.emit(IF_FALSE, cond, "", lEnd)
		b.genStmt(n.Body)
		b.emit(GOTO, "", "", lStart)
		b.emit(LABEL, "", "", lEnd)

	case ast.For:
		if n.Init != nil {
			b.genStmt(n.Init)
		}
		lStart := b.newLabel()
		lEnd := b.newLabel()
		b.emit(LABEL, "", "", lStart)
		cond := b.genExpr(n.Cond)
		b.emit(IF_FALSE, cond, "", lEnd)
		b.genStmt(n.Body)
		if n.Step != nil {
			b.genStmt(n.Step)
		}
		b.emit(GOTO, "", "", lStart)
		b.emit(LABEL, "", "", lEnd)

	case ast.Return:
		var val string
		if n.Left != nil {
			val = b.genExpr(n.Left)
		}
		b.emit(RETURN, val, "", "")

	case ast.UnOp:
		b.genIncDec(n)

	case ast.FuncDecl:
		var params []string
		for _, p := range n.Params {
			params = append(params, p.SVal)
		}
		b.FuncParams[n.SVal] = params
		b.emit(LABEL, "", "", "func_"+n.SVal)
		if n.Body != nil {
			b.genStmt(n.Body)
		}
		b.emit(RETURN, "", "", "")
		// Marks where the function's body ends so the code generator can
		// tell when to stop resolving local-variable references against
		// this function's slot map and fall back to globals.
		b.emit(LABEL, "", "", "endfunc_"+n.SVal)

	case ast.FuncCall:
		result := b.genExpr(n)
		_ = result // statement-position call: result temp is unused

	case ast.Try:
		lCatch := b.newLabel()
		lEnd := b.newLabel()
		b.emit(TRY_START, lCatch, "", "")
		b.genStmt(n.Body)
		b.emit(TRY_END, "", "", "")
		b.emit(GOTO, "", "", lEnd)
		b.emit(LABEL, "", "", lCatch)
		if n.CatchBody != nil {
			b.genStmt(n.CatchBody)
		}
		b.emit(LABEL, "", "", lEnd)

	case ast.Throw:
		val := b.genExpr(n.Left)
		b.emit(THROW, val, "", "")

	default:
		// Expression used in statement position.
		b.genExpr(n)
	}
}

// genIncDec rewrites i++ / i-- into i := i ± 1 through a temporary.
func (b *Builder) genIncDec(n *ast.Node) {
	one := b.newTemp()
	b.emit(ASSIGN, "1", "", one)
	result := b.newTemp()
	op := ADD
	if n.Op == ast.OpDec {
		op = SUB
	}
	b.emit(op, n.SVal, one, result)
	b.emit(ASSIGN, result, "", n.SVal)
}

// genExpr lowers an expression and returns the name holding its value: a
// fresh temporary, or the variable name itself for a bare reference.
func (b *Builder) genExpr(n *ast.Node) string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case ast.IntLit:
		t := b.newTemp()
		b.emit(ASSIGN, strconv.Itoa(n.IVal), "", t)
		return t

	case ast.FloatLit:
		t := b.newTemp()
		lit := strconv.FormatFloat(n.FVal, 'f', -1, 64)
		if !strings.Contains(lit, ".") {
			// Keep the '.' that marks a float literal for codegen's load.
			lit += ".0"
		}
		b.emit(ASSIGN, lit, "", t)
		return t

	case ast.StringLit:
		t := b.newTemp()
		b.emit(ASSIGN, `"`+n.SVal+`"`, "", t)
		return t

	case ast.VarRef:
		return n.SVal

	case ast.BinOp:
		left := b.genExpr(n.Left)
		right := b.genExpr(n.Right)
		t := b.newTemp()
		op, ok := opMap[n.Op]
		if !ok {
			b.Warnings = append(b.Warnings, fmt.Sprintf("unknown operator %v, defaulting to ADD", n.Op))
			op = ADD
		}
		b.emit(op, left, right, t)
		return t

	case ast.FuncCall:
		argc := 0
		for _, arg := range n.Params {
			val := b.genExpr(arg)
			b.emit(PARAM, val, "", "")
			argc++
		}
		t := b.newTemp()
		b.emit(CALL, n.SVal, strconv.Itoa(argc), t)
		return t

	case ast.ArrayDecl:
		for _, elem := range n.Params {
			val := b.genExpr(elem)
			// Arg2 tags this PARAM as feeding __array_new directly, rather
			// than leaving the code generator to infer it by looking ahead
			// for the reserved CALL — a lookahead that breaks the moment an
			// element is itself a call and emits instructions between this
			// PARAM and that CALL.
			b.emit(PARAM, val, "__array_new", "")
		}
		t := b.newTemp()
		b.emit(CALL, "__array_new", strconv.Itoa(len(n.Params)), t)
		return t

	case ast.ArrayAccess:
		arr := b.genExpr(n.Left)
		idx := b.genExpr(n.Right)
		b.emit(PARAM, arr, "__array_get", "")
		b.emit(PARAM, idx, "__array_get", "")
		t := b.newTemp()
		b.emit(CALL, "__array_get", "2", t)
		return t

	default:
		return ""
	}
}

var opMap = map[ast.Op]Opcode{
	ast.OpAdd: ADD,
	ast.OpSub: SUB,
	ast.OpMul: MUL,
	ast.OpDiv: DIV,
	ast.OpMod: MOD,
	ast.OpEq:  EQ,
	ast.OpNeq: NEQ,
	ast.OpLt:  LT,
	ast.OpGt:  GT,
	ast.OpLte: LTE,
	ast.OpGte: GTE,
}
