package codegen_test

import (
	"bytes"
	"strings"
	"testing"

	"mirlang/internal/codegen"
	"mirlang/internal/ir"
	"mirlang/internal/lexer"
	"mirlang/internal/parser"
	"mirlang/internal/vm"
)

func compileAndRun(t *testing.T, src string) string {
	t.Helper()
	tokens := lexer.NewScanner(src).ScanTokens()
	p := parser.NewParser(tokens)
	tree := p.Parse()
	if len(p.Errors) > 0 {
		t.Fatalf("parse errors: %v", p.Errors)
	}
	prog, builder := ir.Build(tree)
	if len(builder.Warnings) > 0 {
		t.Fatalf("builder warnings: %v", builder.Warnings)
	}
	out := codegen.Generate(prog, builder)

	m := vm.New(out.Code, out.NumGlobals, vm.DefaultLimits())
	m.LoadStrings(out.Strings)
	m.LoadConstants(out.Constants)
	m.LoadFunctions(out.Functions)

	var buf bytes.Buffer
	m.Out = &buf
	if err := m.Run(); err != nil {
		t.Fatalf("vm error: %v", err)
	}
	return buf.String()
}

func TestEndToEndArithmetic(t *testing.T) {
	out := compileAndRun(t, `print(2 + 3 * 4);`)
	if strings.TrimSpace(out) != "14" {
		t.Fatalf("got %q, want 14", out)
	}
}

func TestEndToEndWhileLoop(t *testing.T) {
	out := compileAndRun(t, `
		var i := 0;
		while (i < 3) {
			print(i);
			i := i + 1;
		}
	`)
	if strings.TrimSpace(out) != "0\n1\n2" {
		t.Fatalf("got %q", out)
	}
}

func TestEndToEndIfElse(t *testing.T) {
	out := compileAndRun(t, `
		if (1) {
			print(2);
		} else {
			print(3);
		}
	`)
	if strings.TrimSpace(out) != "2" {
		t.Fatalf("got %q, want 2", out)
	}
}

func TestEndToEndFunctionCall(t *testing.T) {
	out := compileAndRun(t, `
		func add(a, b) {
			return a + b;
		}
		print(add(7, 8));
	`)
	if strings.TrimSpace(out) != "15" {
		t.Fatalf("got %q, want 15", out)
	}
}

func TestEndToEndNeqLteGte(t *testing.T) {
	out := compileAndRun(t, `
		print(1 != 2);
		print(3 <= 3);
		print(4 >= 5);
	`)
	if strings.TrimSpace(out) != "1\n1\n0" {
		t.Fatalf("got %q, want 1\\n1\\n0", out)
	}
}

func TestEndToEndArray(t *testing.T) {
	out := compileAndRun(t, `
		var xs := [10, 20, 30];
		print(xs[0]);
		print(xs[2]);
	`)
	if strings.TrimSpace(out) != "10\n30" {
		t.Fatalf("got %q, want 10\\n30", out)
	}
}

func TestEndToEndArrayWithCallElement(t *testing.T) {
	out := compileAndRun(t, `
		func one() {
			return 1;
		}
		var xs := [one(), 2];
		print(xs[0]);
		print(xs[1]);
	`)
	if strings.TrimSpace(out) != "1\n2" {
		t.Fatalf("got %q, want 1\\n2", out)
	}
}

func TestEndToEndArrayAccessWithCallIndex(t *testing.T) {
	out := compileAndRun(t, `
		func idx() {
			return 1;
		}
		var xs := [10, 20, 30];
		print(xs[idx()]);
	`)
	if strings.TrimSpace(out) != "20" {
		t.Fatalf("got %q, want 20", out)
	}
}

func TestEveryJumpTargetIsValid(t *testing.T) {
	src := `
		var i := 0;
		while (i < 5) {
			if (i == 2) {
				print(i);
			}
			i := i + 1;
		}
	`
	tokens := lexer.NewScanner(src).ScanTokens()
	tree := parser.NewParser(tokens).Parse()
	prog, builder := ir.Build(tree)
	out := codegen.Generate(prog, builder)

	for pc, instr := range out.Code {
		target := -1
		switch instr.Op.String() {
		case "JMP", "JMP_FALSE", "JMP_TRUE":
			target = instr.Arg
		}
		if target < 0 {
			continue
		}
		if target < 0 || target >= len(out.Code) {
			t.Fatalf("instruction %d (%s) jumps to out-of-range address %d", pc, instr.Op, target)
		}
	}
}

func TestDivisionByZeroHalts(t *testing.T) {
	tokens := lexer.NewScanner(`print(1 / 0);`).ScanTokens()
	tree := parser.NewParser(tokens).Parse()
	prog, builder := ir.Build(tree)
	out := codegen.Generate(prog, builder)

	m := vm.New(out.Code, out.NumGlobals, vm.DefaultLimits())
	m.LoadStrings(out.Strings)
	m.LoadConstants(out.Constants)
	m.LoadFunctions(out.Functions)
	var buf bytes.Buffer
	m.Out = &buf
	if err := m.Run(); err == nil {
		t.Fatal("expected a division-by-zero runtime error")
	}
}
