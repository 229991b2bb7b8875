package vm_test

import (
	"bytes"
	"strings"
	"testing"

	"mirlang/internal/bytecode"
	"mirlang/internal/vm"
)

func run(t *testing.T, code bytecode.Code, numGlobals int, setup func(*vm.VM)) (*vm.VM, string) {
	t.Helper()
	var out bytes.Buffer
	m := vm.New(code, numGlobals, vm.DefaultLimits())
	m.Out = &out
	if setup != nil {
		setup(m)
	}
	if err := m.Run(); err != nil {
		return m, out.String()
	}
	return m, out.String()
}

// S1: arithmetic + print.
func TestScenarioArithmeticPrint(t *testing.T) {
	code := bytecode.Code{
		{Op: bytecode.PUSH, Arg: 3},
		{Op: bytecode.PUSH, Arg: 4},
		{Op: bytecode.MUL},
		{Op: bytecode.PUSH, Arg: 2},
		{Op: bytecode.ADD},
		{Op: bytecode.PRINT},
		{Op: bytecode.HALT},
	}
	_, out := run(t, code, 0, nil)
	if strings.TrimSpace(out) != "14" {
		t.Fatalf("got %q, want 14", out)
	}
}

// S2: while loop counting 0..2.
func TestScenarioWhileLoop(t *testing.T) {
	code := bytecode.Code{
		{Op: bytecode.PUSH, Arg: 0},        // 0
		{Op: bytecode.STORE_GLOBAL, Arg: 0}, // 1
		{Op: bytecode.LOAD_GLOBAL, Arg: 0},  // 2 loop start
		{Op: bytecode.PUSH, Arg: 3},         // 3
		{Op: bytecode.LT},                   // 4
		{Op: bytecode.JMP_FALSE, Arg: 13},   // 5
		{Op: bytecode.LOAD_GLOBAL, Arg: 0},  // 6
		{Op: bytecode.PRINT},                // 7
		{Op: bytecode.LOAD_GLOBAL, Arg: 0},  // 8
		{Op: bytecode.PUSH, Arg: 1},         // 9
		{Op: bytecode.ADD},                  // 10
		{Op: bytecode.STORE_GLOBAL, Arg: 0}, // 11
		{Op: bytecode.JMP, Arg: 2},          // 12
		{Op: bytecode.HALT},                 // 13
	}
	_, out := run(t, code, 1, nil)
	if strings.TrimSpace(out) != "0\n1\n2" {
		t.Fatalf("got %q, want 0\\n1\\n2", out)
	}
}

// S3: if/else taking the true branch.
func TestScenarioIfElse(t *testing.T) {
	code := bytecode.Code{
		{Op: bytecode.PUSH, Arg: 1},      // 0
		{Op: bytecode.JMP_FALSE, Arg: 5}, // 1
		{Op: bytecode.PUSH, Arg: 2},      // 2
		{Op: bytecode.PRINT},             // 3
		{Op: bytecode.JMP, Arg: 7},       // 4
		{Op: bytecode.PUSH, Arg: 3},      // 5
		{Op: bytecode.PRINT},             // 6
		{Op: bytecode.HALT},              // 7
	}
	_, out := run(t, code, 0, nil)
	if strings.TrimSpace(out) != "2" {
		t.Fatalf("got %q, want 2", out)
	}
}

// S4: division by zero halts the VM with a runtime error and no output.
func TestScenarioDivisionByZero(t *testing.T) {
	code := bytecode.Code{
		{Op: bytecode.PUSH, Arg: 5},
		{Op: bytecode.PUSH, Arg: 0},
		{Op: bytecode.DIV},
		{Op: bytecode.PRINT},
		{Op: bytecode.HALT},
	}
	m, out := run(t, code, 0, nil)
	if m.Err() == nil {
		t.Fatal("expected a division-by-zero error")
	}
	if out != "" {
		t.Fatalf("expected no output before the error, got %q", out)
	}
}

// S5: function call with return value.
func TestScenarioFunctionCall(t *testing.T) {
	code := bytecode.Code{
		{Op: bytecode.PUSH, Arg: 7},        // 0
		{Op: bytecode.PUSH, Arg: 8},        // 1
		{Op: bytecode.CALL, Arg: 0},        // 2
		{Op: bytecode.PRINT},               // 3
		{Op: bytecode.HALT},                // 4: top-level code halts before the function body below it
		{Op: bytecode.LOAD_LOCAL, Arg: 0}, // 5
		{Op: bytecode.LOAD_LOCAL, Arg: 1}, // 6
		{Op: bytecode.ADD},                // 7
		{Op: bytecode.RETURN},             // 8
	}
	_, out := run(t, code, 0, func(m *vm.VM) {
		m.AddFunction("add", 5, 2)
	})
	if strings.TrimSpace(out) != "15" {
		t.Fatalf("got %q, want 15", out)
	}
}

// S6: GC reclaims unreachable allocations, and the freed space can be
// reused by a subsequent large allocation.
func TestScenarioGCReclamation(t *testing.T) {
	limits := vm.DefaultLimits()
	m := vm.New(bytecode.Code{{Op: bytecode.HALT}}, 0, limits)

	for i := 0; i < 1000; i++ {
		if h := m.AllocHeap(64); h < 0 {
			t.Fatalf("allocation %d failed unexpectedly", i)
		}
	}
	_, allocated := m.GCStats()
	if allocated == 0 {
		t.Fatal("expected bytes_allocated to reflect the 1000 allocations")
	}

	// No root anywhere keeps these handles alive: Run() never executed a
	// PUSH/STORE so the stack, globals, and frames are all still empty.
	m.GCCollect()

	_, allocated = m.GCStats()
	if allocated != 0 {
		t.Fatalf("expected bytes_allocated == 0 after collecting garbage, got %d", allocated)
	}

	if h := m.AllocHeap(limits.MaxHeap / 2); h < 0 {
		t.Fatal("expected the reclaimed space to satisfy a large allocation")
	}
}

// A program that is nothing but HALT stops cleanly and prints nothing.
func TestEmptyProgramHalts(t *testing.T) {
	_, out := run(t, bytecode.Code{{Op: bytecode.HALT}}, 0, nil)
	if out != "" {
		t.Fatalf("expected no output, got %q", out)
	}
}

func TestGetFunctionUnknownNameReturnsMinusOne(t *testing.T) {
	m := vm.New(bytecode.Code{{Op: bytecode.HALT}}, 0, vm.DefaultLimits())
	a := m.AddConstant(vm.NullValue())
	_ = a
	id1 := m.GetFunction("nonexistent")
	if id1 != -1 {
		t.Fatalf("expected -1 for an unregistered function, got %d", id1)
	}
}

func TestFunctionTableUpsert(t *testing.T) {
	m := vm.New(bytecode.Code{{Op: bytecode.HALT}}, 0, vm.DefaultLimits())
	id1 := m.AddFunction("f", 10, 1)
	id2 := m.AddFunction("f", 20, 2)
	if id1 != id2 {
		t.Fatalf("expected a re-registration of the same name to keep its id, got %d and %d", id1, id2)
	}
	if got := m.GetFunction("f"); got != id1 {
		t.Fatalf("expected lookup to return %d, got %d", id1, got)
	}
}

func TestGCIdempotentBackToBack(t *testing.T) {
	m := vm.New(bytecode.Code{{Op: bytecode.HALT}}, 0, vm.DefaultLimits())
	m.AllocHeap(32)
	m.GCCollect()
	first, allocFirst := m.GCStats()
	m.GCCollect()
	second, allocSecond := m.GCStats()
	if second != first+1 {
		t.Fatalf("expected gc collection count to advance by exactly 1, got %d -> %d", first, second)
	}
	if allocSecond != allocFirst {
		t.Fatalf("expected a back-to-back collection to leave the heap unchanged, got %d -> %d bytes", allocFirst, allocSecond)
	}
}
