package repl_test

import (
	"bytes"
	"strings"
	"testing"

	"mirlang/internal/repl"
)

func TestGlobalsPersistAcrossLines(t *testing.T) {
	in := strings.NewReader("var x := 10;\nprint(x + 5);\n:quit\n")
	var out bytes.Buffer
	r := repl.New(in, &out, false)
	if err := r.Run(); err != nil {
		t.Fatalf("repl error: %v", err)
	}
	if !strings.Contains(out.String(), "15") {
		t.Fatalf("expected persisted global to be visible on the next line, got:\n%s", out.String())
	}
}

func TestStringGlobalsPersistAcrossLines(t *testing.T) {
	in := strings.NewReader(`var s := "abc";` + "\n" + `print(concat(s, "def"));` + "\n:quit\n")
	var out bytes.Buffer
	r := repl.New(in, &out, false)
	if err := r.Run(); err != nil {
		t.Fatalf("repl error: %v", err)
	}
	if !strings.Contains(out.String(), "abcdef") {
		t.Fatalf("expected persisted string global, got:\n%s", out.String())
	}
}

func TestVarsCommand(t *testing.T) {
	in := strings.NewReader("var x := 42;\n:vars\n:quit\n")
	var out bytes.Buffer
	r := repl.New(in, &out, false)
	if err := r.Run(); err != nil {
		t.Fatalf("repl error: %v", err)
	}
	if !strings.Contains(out.String(), "x = 42") {
		t.Fatalf("expected :vars to show x = 42, got:\n%s", out.String())
	}
}

func TestResetCommandClearsGlobals(t *testing.T) {
	in := strings.NewReader("var x := 1;\n:reset\nprint(x);\n:quit\n")
	var out bytes.Buffer
	r := repl.New(in, &out, false)
	if err := r.Run(); err != nil {
		t.Fatalf("repl error: %v", err)
	}
	if strings.Contains(out.String(), "> 1\n") {
		t.Fatalf("expected x to be gone after :reset, got:\n%s", out.String())
	}
}

func TestSyntaxErrorDoesNotCrashSession(t *testing.T) {
	in := strings.NewReader("var x := ;\nprint(1);\n:quit\n")
	var out bytes.Buffer
	r := repl.New(in, &out, false)
	if err := r.Run(); err != nil {
		t.Fatalf("repl error: %v", err)
	}
	if !strings.Contains(out.String(), "> 1\n") {
		t.Fatalf("expected the session to recover and still run the next line, got:\n%s", out.String())
	}
}
