// Package corelib registers a handful of native helper functions,
// without growing into the full standard library original_source/kotha
// ships across array_lib.c, string_lib.c, math_lib.c, and file_io.c —
// that expansion is explicitly out of scope. Each function is wired into a
// VM via vm.RegisterNative and then dispatched through CALL exactly
// like a user-defined function, so user code never needs to know a
// given name resolves to Go instead of bytecode.
package corelib

import (
	"math"
	"os"

	"mirlang/internal/vm"
)

// Register installs every helper function into m. Must be called after
// vm.LoadFunctions, since LoadFunctions replaces the function table
// wholesale and RegisterNative upserts into it by name.
func Register(m *vm.VM) {
	m.RegisterNative("len", 1, nativeLen)
	m.RegisterNative("concat", 2, nativeConcat)
	m.RegisterNative("sqrt", 1, nativeSqrt)
	m.RegisterNative("read_file", 1, nativeReadFile)
}

// nativeLen mirrors kotha_strlen/kotha_array_length: a string argument
// reports its byte length, a heap argument (an array) its element count.
func nativeLen(m *vm.VM, args []vm.Value) vm.Value {
	a := args[0]
	switch a.Tag {
	case vm.TagString:
		return vm.IntValue(int32(len(m.GetString(int(a.Str)))))
	case vm.TagHeap:
		obj := m.HeapObject(int(a.Heap))
		if obj == nil || obj.Size == 0 {
			return vm.IntValue(0)
		}
		// Slot 0 holds the element count; the other Size-1 slots are
		// the elements themselves.
		return vm.IntValue(int32(obj.Size - 1))
	default:
		return vm.IntValue(0)
	}
}

// nativeConcat mirrors kotha_strcat, building a new interned string
// rather than mutating either argument in place — string values here are
// always immutable pool entries, never a buffer a caller could own.
func nativeConcat(m *vm.VM, args []vm.Value) vm.Value {
	a, b := args[0], args[1]
	sa := m.GetString(int(a.Str))
	sb := m.GetString(int(b.Str))
	id := m.InternString(sa + sb)
	return vm.StringValue(int32(id))
}

// nativeSqrt mirrors kotha_sqrt's choice to return 0 for a negative
// argument instead of NaN or a runtime fault.
func nativeSqrt(m *vm.VM, args []vm.Value) vm.Value {
	x := float64(args[0].AsFloat())
	if x < 0 {
		return vm.FloatValue(0)
	}
	return vm.FloatValue(float32(math.Sqrt(x)))
}

// nativeReadFile mirrors file_io.c's whole-file read, returning its
// contents as an interned string, or an empty string if the path cannot
// be opened — the VM has no exception type to surface an OS error
// through, so a missing file behaves the same as an empty one.
func nativeReadFile(m *vm.VM, args []vm.Value) vm.Value {
	path := m.GetString(int(args[0].Str))
	data, err := os.ReadFile(path)
	if err != nil {
		return vm.StringValue(int32(m.InternString("")))
	}
	return vm.StringValue(int32(m.InternString(string(data))))
}
