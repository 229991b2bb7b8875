package vm

// State is a point-in-time snapshot of the running machine, the Go
// equivalent of the original's vm_print_state dump: instruction
// pointer, stack depth, active frame, and the top few stack slots.
// internal/debugserver marshals this to JSON and streams it to
// connected inspectors whenever a BREAKPOINT fires.
type State struct {
	PC               int
	SP               int
	FramePtr         int
	FrameCount       int
	InstructionCount int
	GCCollections    int
	BytesAllocated   int
	TopOfStack       []Value
}

// maxStackPreview bounds how many top-of-stack values State reports, so
// a breakpoint deep in a large computation doesn't serialize the whole
// operand stack on every hit.
const maxStackPreview = 16

// Snapshot captures the VM's current state for a debug inspector.
func (m *VM) Snapshot() State {
	top := m.sp + 1
	start := top - maxStackPreview
	if start < 0 {
		start = 0
	}
	preview := make([]Value, 0, top-start)
	for i := start; i < top; i++ {
		preview = append(preview, m.stack[i])
	}
	return State{
		PC:               m.pc,
		SP:               m.sp,
		FramePtr:         m.fp,
		FrameCount:       m.frameCount,
		InstructionCount: m.instructionCount,
		GCCollections:    m.gcCount,
		BytesAllocated:   m.bytesAllocated,
		TopOfStack:       preview,
	}
}
