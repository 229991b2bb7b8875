package corelib_test

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"mirlang/internal/codegen"
	"mirlang/internal/corelib"
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
	corelib.Register(m)

	var buf bytes.Buffer
	m.Out = &buf
	if err := m.Run(); err != nil {
		t.Fatalf("vm error: %v", err)
	}
	return buf.String()
}

func TestLenOfString(t *testing.T) {
	out := compileAndRun(t, `print(len("hello"));`)
	if strings.TrimSpace(out) != "5" {
		t.Fatalf("got %q, want 5", out)
	}
}

func TestConcatStrings(t *testing.T) {
	out := compileAndRun(t, `print(concat("foo", "bar"));`)
	if strings.TrimSpace(out) != "foobar" {
		t.Fatalf("got %q, want foobar", out)
	}
}

func TestSqrtOfPerfectSquare(t *testing.T) {
	out := compileAndRun(t, `print(sqrt(9));`)
	if strings.TrimSpace(out) != "3" {
		t.Fatalf("got %q, want 3", out)
	}
}

func TestSqrtOfNegativeReturnsZero(t *testing.T) {
	out := compileAndRun(t, `print(sqrt(0 - 4));`)
	if strings.TrimSpace(out) != "0" {
		t.Fatalf("got %q, want 0", out)
	}
}

func TestReadFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "corelib-*.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("contents"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	out := compileAndRun(t, `print(read_file("`+f.Name()+`"));`)
	if strings.TrimSpace(out) != "contents" {
		t.Fatalf("got %q, want contents", out)
	}
}

func TestReadFileMissingReturnsEmpty(t *testing.T) {
	out := compileAndRun(t, `print(read_file("/no/such/path"));`)
	if strings.TrimSpace(out) != "" {
		t.Fatalf("got %q, want empty", out)
	}
}
