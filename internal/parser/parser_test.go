package parser

import (
	"testing"

	"mirlang/internal/ast"
	"mirlang/internal/lexer"
)

func parseString(src string) (*ast.Node, []error) {
	scanner := lexer.NewScanner(src)
	tokens := scanner.ScanTokens()
	p := NewParser(tokens)
	root := p.Parse()
	return root, p.Errors
}

func TestParseArithmeticPrint(t *testing.T) {
	root, errs := parseString(`print(2 + 3 * 4);`)
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if root == nil || root.Kind != ast.Print {
		t.Fatalf("expected a single print statement, got %+v", root)
	}
	bin := root.Left
	if bin.Kind != ast.BinOp || bin.Op != ast.OpAdd {
		t.Fatalf("expected top-level add, got %+v", bin)
	}
	mul := bin.Right
	if mul.Kind != ast.BinOp || mul.Op != ast.OpMul {
		t.Fatalf("expected multiplication to bind tighter, got %+v", mul)
	}
}

func TestParseWhileLoop(t *testing.T) {
	root, errs := parseString(`i := 0; while (i < 3) { print(i); i := i + 1; }`)
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if root.Kind != ast.Assign {
		t.Fatalf("expected first statement to be an assignment, got %+v", root)
	}
	loop := root.Sibling
	if loop == nil || loop.Kind != ast.While {
		t.Fatalf("expected a while loop, got %+v", loop)
	}
	if loop.Cond.Kind != ast.BinOp || loop.Cond.Op != ast.OpLt {
		t.Fatalf("expected < condition, got %+v", loop.Cond)
	}
}

func TestParseIfElse(t *testing.T) {
	root, errs := parseString(`if (x < 3) print(1); else print(2);`)
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if root.Kind != ast.If {
		t.Fatalf("expected if statement, got %+v", root)
	}
	if root.Body == nil || root.CatchBody == nil {
		t.Fatalf("expected both branches present")
	}
}

func TestParseFunctionCall(t *testing.T) {
	root, errs := parseString(`func add(a, b) { return a + b; } print(add(7, 8));`)
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if root.Kind != ast.FuncDecl || root.SVal != "add" {
		t.Fatalf("expected function declaration, got %+v", root)
	}
	if len(root.Params) != 2 {
		t.Fatalf("expected 2 parameters, got %d", len(root.Params))
	}
	callStmt := root.Sibling
	if callStmt == nil || callStmt.Kind != ast.Print {
		t.Fatalf("expected print statement after function, got %+v", callStmt)
	}
	call := callStmt.Left
	if call.Kind != ast.FuncCall || call.SVal != "add" || len(call.Params) != 2 {
		t.Fatalf("expected call to add/2, got %+v", call)
	}
}

func TestParseTryThrow(t *testing.T) {
	root, errs := parseString(`try { throw 1; } catch (e) { print(e); }`)
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if root.Kind != ast.Try {
		t.Fatalf("expected try statement, got %+v", root)
	}
	if root.Body == nil || root.CatchBody == nil {
		t.Fatalf("expected both try body and catch body")
	}
}

func TestParseErrorRecovery(t *testing.T) {
	_, errs := parseString(`print(;`)
	if len(errs) == 0 {
		t.Fatalf("expected parse errors for malformed input")
	}
}

func TestParseWellFormedProgramHasNoWarnings(t *testing.T) {
	scanner := lexer.NewScanner(`var x := 1; func add(a, b) { return a + b; } print(add(x, 2));`)
	p := NewParser(scanner.ScanTokens())
	p.Parse()
	if len(p.Errors) != 0 {
		t.Fatalf("unexpected parse errors: %v", p.Errors)
	}
	if len(p.Warnings) != 0 {
		t.Fatalf("expected no warnings for a well-formed program, got %v", p.Warnings)
	}
}

func TestParseUndeclaredVariableWarns(t *testing.T) {
	scanner := lexer.NewScanner(`print(y);`)
	p := NewParser(scanner.ScanTokens())
	p.Parse()
	if len(p.Warnings) == 0 {
		t.Fatalf("expected a warning for an undeclared variable")
	}
}

func TestParseDuplicateDeclarationWarns(t *testing.T) {
	scanner := lexer.NewScanner(`var x := 1; var x := 2;`)
	p := NewParser(scanner.ScanTokens())
	p.Parse()
	if len(p.Warnings) == 0 {
		t.Fatalf("expected a warning for redeclaring a variable in the same scope")
	}
}

func TestParseBlockScopeLimitsVisibility(t *testing.T) {
	scanner := lexer.NewScanner(`while (1 < 2) { var x := 1; } print(x);`)
	p := NewParser(scanner.ScanTokens())
	p.Parse()
	if len(p.Warnings) == 0 {
		t.Fatalf("expected a warning for referencing a variable outside its block scope")
	}
}
