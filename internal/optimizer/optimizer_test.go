package optimizer_test

import (
	"testing"

	"mirlang/internal/bytecode"
	"mirlang/internal/optimizer"
)

func TestConstantFoldPreservesLength(t *testing.T) {
	code := bytecode.Code{
		{Op: bytecode.PUSH, Arg: 2},
		{Op: bytecode.PUSH, Arg: 3},
		{Op: bytecode.ADD},
		{Op: bytecode.PRINT},
		{Op: bytecode.HALT},
	}
	before := len(code)
	stats := optimizer.Run(code)
	if len(code) != before {
		t.Fatalf("optimizer must preserve instruction count, got %d want %d", len(code), before)
	}
	if stats.ConstantFolds != 1 {
		t.Fatalf("expected 1 constant fold, got %d", stats.ConstantFolds)
	}
	if code[0].Op != bytecode.PUSH || code[0].Arg != 5 {
		t.Fatalf("expected folded PUSH 5, got %v", code[0])
	}
	if code[1].Op != bytecode.NOP || code[2].Op != bytecode.NOP {
		t.Fatalf("expected the folded-away instructions to become NOP, got %v %v", code[1], code[2])
	}
}

func TestAlgebraicSimplificationAddZero(t *testing.T) {
	code := bytecode.Code{
		{Op: bytecode.LOAD_GLOBAL, Arg: 0},
		{Op: bytecode.PUSH, Arg: 0},
		{Op: bytecode.ADD},
		{Op: bytecode.PRINT},
	}
	optimizer.Run(code)
	if code[1].Op != bytecode.NOP || code[2].Op != bytecode.NOP {
		t.Fatalf("expected PUSH 0; ADD to become NOP; NOP, got %v %v", code[1], code[2])
	}
}

func TestJumpAddressesSurviveOptimization(t *testing.T) {
	code := bytecode.Code{
		{Op: bytecode.PUSH, Arg: 2},
		{Op: bytecode.PUSH, Arg: 3},
		{Op: bytecode.ADD},
		{Op: bytecode.JMP, Arg: 0},
	}
	optimizer.Run(code)
	if len(code) != 4 {
		t.Fatalf("expected the jump target's address to remain reachable by keeping length fixed, got %d instructions", len(code))
	}
	if code[3].Op != bytecode.JMP || code[3].Arg != 0 {
		t.Fatalf("JMP target must be untouched by optimization, got %v", code[3])
	}
}
