// Package interp is an alternative execution path alongside the VM: it
// walks the AST directly instead of going through IR, code generation,
// and bytecode. Grounded on
// original_source/kotha/interp.c's flat variable table and its
// recursive eval_expr/exec_stmt split, but using mirlang's shared
// vm.Value tagged union instead of the original's separate int/float/
// string fields so results compare equal to what the VM would produce.
package interp

import (
	"fmt"
	"io"
	"os"

	"mirlang/internal/ast"
	"mirlang/internal/vm"
)

// Interp is a tree-walking evaluator. Top-level variables live in one
// flat name-keyed table, like the original's single global InterpVar
// table; each function call gets a fresh table holding only its
// parameters, so recursive calls do not share locals and a function body
// does not see the top-level variables.
type Interp struct {
	Out     io.Writer
	globals map[string]vm.Value
	funcs   map[string]*ast.Node
	strings []string
}

func New() *Interp {
	return &Interp{Out: os.Stdout, globals: make(map[string]vm.Value), funcs: make(map[string]*ast.Node)}
}

func (in *Interp) intern(s string) int32 {
	for i, existing := range in.strings {
		if existing == s {
			return int32(i)
		}
	}
	in.strings = append(in.strings, s)
	return int32(len(in.strings) - 1)
}

// returnSignal unwinds exec calls back to the enclosing function call,
// the same way has_returned short-circuits execution in the original.
type returnSignal struct{ value vm.Value }

func (returnSignal) Error() string { return "return" }

// throwSignal unwinds to the nearest enclosing Try.
type throwSignal struct{ value vm.Value }

func (throwSignal) Error() string { return "throw" }

// Run executes every top-level statement in order.
func (in *Interp) Run(node *ast.Node) error {
	for n := node; n != nil; n = n.Sibling {
		if n.Kind == ast.FuncDecl {
			in.funcs[n.SVal] = n
			continue
		}
		if err := in.exec(n, in.globals); err != nil {
			if _, ok := err.(returnSignal); ok {
				return nil
			}
			if t, ok := err.(throwSignal); ok {
				return fmt.Errorf("uncaught throw: %s", in.formatValue(t.value))
			}
			return err
		}
	}
	return nil
}

func (in *Interp) exec(n *ast.Node, scope map[string]vm.Value) error {
	switch n.Kind {
	case ast.Block:
		for s := n.Body; s != nil; s = s.Sibling {
			if err := in.exec(s, scope); err != nil {
				return err
			}
		}

	case ast.VarDecl, ast.Assign:
		v, err := in.eval(n.Left, scope)
		if err != nil {
			return err
		}
		scope[n.SVal] = v

	case ast.Print:
		v, err := in.eval(n.Left, scope)
		if err != nil {
			return err
		}
		fmt.Fprintln(in.Out, in.formatValue(v))

	case ast.If:
		cond, err := in.eval(n.Cond, scope)
		if err != nil {
			return err
		}
		if !cond.IsZero() {
			return in.exec(n.Body, scope)
		}
		if n.CatchBody != nil {
			return in.exec(n.CatchBody, scope)
		}

	case ast.While:
		for {
			cond, err := in.eval(n.Cond, scope)
			if err != nil {
				return err
			}
			if cond.IsZero() {
				return nil
			}
			if err := in.exec(n.Body, scope); err != nil {
				return err
			}
		}

	case ast.For:
		if n.Init != nil {
			if err := in.exec(n.Init, scope); err != nil {
				return err
			}
		}
		for {
			cond, err := in.eval(n.Cond, scope)
			if err != nil {
				return err
			}
			if cond.IsZero() {
				return nil
			}
			if err := in.exec(n.Body, scope); err != nil {
				return err
			}
			if n.Step != nil {
				if err := in.exec(n.Step, scope); err != nil {
					return err
				}
			}
		}

	case ast.Return:
		var v vm.Value
		if n.Left != nil {
			var err error
			v, err = in.eval(n.Left, scope)
			if err != nil {
				return err
			}
		}
		return returnSignal{v}

	case ast.UnOp:
		cur := scope[n.SVal]
		delta := int32(1)
		if n.Op == ast.OpDec {
			delta = -1
		}
		scope[n.SVal] = vm.IntValue(cur.Int + delta)

	case ast.FuncDecl:
		in.funcs[n.SVal] = n

	case ast.Try:
		err := in.exec(n.Body, scope)
		if t, ok := err.(throwSignal); ok {
			scope["__thrown"] = t.value
			if n.CatchBody != nil {
				return in.exec(n.CatchBody, scope)
			}
			return nil
		}
		return err

	case ast.Throw:
		v, err := in.eval(n.Left, scope)
		if err != nil {
			return err
		}
		return throwSignal{v}

	default:
		_, err := in.eval(n, scope)
		return err
	}
	return nil
}

func (in *Interp) eval(n *ast.Node, scope map[string]vm.Value) (vm.Value, error) {
	if n == nil {
		return vm.NullValue(), nil
	}
	switch n.Kind {
	case ast.IntLit:
		return vm.IntValue(int32(n.IVal)), nil
	case ast.FloatLit:
		return vm.FloatValue(float32(n.FVal)), nil
	case ast.StringLit:
		return vm.StringValue(in.intern(n.SVal)), nil
	case ast.VarRef:
		return scope[n.SVal], nil

	case ast.BinOp:
		left, err := in.eval(n.Left, scope)
		if err != nil {
			return vm.NullValue(), err
		}
		right, err := in.eval(n.Right, scope)
		if err != nil {
			return vm.NullValue(), err
		}
		return applyOp(n.Op, left, right), nil

	case ast.FuncCall:
		return in.call(n, scope)

	default:
		return vm.NullValue(), nil
	}
}

func (in *Interp) call(n *ast.Node, scope map[string]vm.Value) (vm.Value, error) {
	fn, ok := in.funcs[n.SVal]
	if !ok {
		return vm.NullValue(), fmt.Errorf("call to undefined function %q", n.SVal)
	}
	callScope := make(map[string]vm.Value, len(fn.Params))
	for i, p := range fn.Params {
		if i >= len(n.Params) {
			break
		}
		v, err := in.eval(n.Params[i], scope)
		if err != nil {
			return vm.NullValue(), err
		}
		callScope[p.SVal] = v
	}
	err := in.exec(fn.Body, callScope)
	if ret, ok := err.(returnSignal); ok {
		return ret.value, nil
	}
	return vm.NullValue(), err
}

func applyOp(op ast.Op, a, b vm.Value) vm.Value {
	if op == ast.OpAdd || op == ast.OpSub || op == ast.OpMul || op == ast.OpDiv || op == ast.OpMod {
		if a.Tag == vm.TagFloat || b.Tag == vm.TagFloat {
			af, bf := a.AsFloat(), b.AsFloat()
			switch op {
			case ast.OpAdd:
				return vm.FloatValue(af + bf)
			case ast.OpSub:
				return vm.FloatValue(af - bf)
			case ast.OpMul:
				return vm.FloatValue(af * bf)
			case ast.OpDiv:
				return vm.FloatValue(af / bf)
			}
		}
		switch op {
		case ast.OpAdd:
			return vm.IntValue(a.Int + b.Int)
		case ast.OpSub:
			return vm.IntValue(a.Int - b.Int)
		case ast.OpMul:
			return vm.IntValue(a.Int * b.Int)
		case ast.OpDiv:
			if b.Int == 0 {
				return vm.NullValue()
			}
			return vm.IntValue(a.Int / b.Int)
		case ast.OpMod:
			if b.Int == 0 {
				return vm.NullValue()
			}
			return vm.IntValue(a.Int % b.Int)
		}
	}

	boolVal := func(ok bool) vm.Value {
		if ok {
			return vm.IntValue(1)
		}
		return vm.IntValue(0)
	}
	switch op {
	case ast.OpEq:
		return boolVal(a.AsFloat() == b.AsFloat())
	case ast.OpNeq:
		return boolVal(a.AsFloat() != b.AsFloat())
	case ast.OpLt:
		return boolVal(a.AsFloat() < b.AsFloat())
	case ast.OpGt:
		return boolVal(a.AsFloat() > b.AsFloat())
	case ast.OpLte:
		return boolVal(a.AsFloat() <= b.AsFloat())
	case ast.OpGte:
		return boolVal(a.AsFloat() >= b.AsFloat())
	}
	return vm.NullValue()
}

func (in *Interp) formatValue(v vm.Value) string {
	switch v.Tag {
	case vm.TagFloat:
		return fmt.Sprintf("%g", v.Float)
	case vm.TagString:
		if int(v.Str) >= 0 && int(v.Str) < len(in.strings) {
			return in.strings[v.Str]
		}
		return ""
	case vm.TagNull:
		return "null"
	default:
		return fmt.Sprintf("%d", v.Int)
	}
}
