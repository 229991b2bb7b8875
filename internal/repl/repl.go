// Package repl is an interactive line-at-a-time shell, grounded on the
// teacher's internal/repl.Start (a persistent VM re-compiled fresh per
// line) and original_source/kotha/repl.c's colon-command set and its
// globals-carried-forward-by-value behavior across each line's throwaway
// VM. Functions declared on one line are not visible to a later line,
// matching the original: each line's IR and bytecode are generated from
// scratch, so only global variable values persist between them.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-isatty"

	"mirlang/internal/codegen"
	"mirlang/internal/corelib"
	"mirlang/internal/ir"
	"mirlang/internal/lexer"
	"mirlang/internal/parser"
	"mirlang/internal/vm"
)

const version = "0.1.0"

// persisted is a global's value captured independently of any one VM's
// string pool, since a pool id is only meaningful to the VM that minted
// it. Every compile re-interns Text into its own fresh pool.
type persisted struct {
	tag  vm.Tag
	ival int32
	fval float32
	text string
}

// REPL holds the variable values that survive from one compiled line to
// the next, plus the I/O streams a session reads from and writes to.
type REPL struct {
	In  io.Reader
	Out io.Writer

	colorPrompt bool
	globals     map[string]persisted
	line        int
}

// New builds a REPL. isTTY decides whether prompts carry ANSI coloring
// or stay plain — the same distinction sentra's CLI draws between an
// interactive terminal and piped/redirected input.
func New(in io.Reader, out io.Writer, isTTY bool) *REPL {
	return &REPL{In: in, Out: out, colorPrompt: isTTY, globals: make(map[string]persisted), line: 1}
}

// Run drives the read-eval-print loop until EOF or a :quit command.
func (r *REPL) Run() error {
	fmt.Fprintf(r.Out, "mirlang REPL v%s | :help for commands, :quit to exit\n", version)
	scanner := bufio.NewScanner(r.In)
	for {
		fmt.Fprint(r.Out, r.promptText())
		if !scanner.Scan() {
			fmt.Fprintln(r.Out)
			return scanner.Err()
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			if r.handleCommand(line) {
				return nil
			}
			continue
		}
		r.evalLine(line)
		r.line++
	}
}

func (r *REPL) promptText() string {
	if r.colorPrompt {
		return fmt.Sprintf("\033[36mmirlang[%d]>\033[0m ", r.line)
	}
	return fmt.Sprintf("mirlang[%d]> ", r.line)
}

func (r *REPL) handleCommand(cmd string) (exit bool) {
	switch strings.TrimSpace(cmd) {
	case ":help", ":h":
		fmt.Fprint(r.Out, "\nCommands:\n"+
			"  :help, :h    show this help\n"+
			"  :quit, :q    exit the REPL\n"+
			"  :vars, :v    show persisted global variables\n"+
			"  :reset, :r   clear all persisted variables\n\n")
	case ":quit", ":q":
		fmt.Fprintln(r.Out, "goodbye")
		return true
	case ":vars", ":v":
		if len(r.globals) == 0 {
			fmt.Fprintln(r.Out, "(no variables yet)")
			break
		}
		for name, v := range r.globals {
			fmt.Fprintf(r.Out, "  %s = %s\n", name, describePersisted(v))
		}
	case ":reset", ":r":
		r.globals = make(map[string]persisted)
		fmt.Fprintln(r.Out, "state reset")
	default:
		fmt.Fprintf(r.Out, "unknown command: %s (try :help)\n", cmd)
	}
	return false
}

// evalLine compiles and runs one line against a fresh VM, seeding its
// globals from r.globals before running and copying them back out
// afterward — the same "copy globals in, run, copy globals out" shape
// original_source/kotha/repl.c's repl_execute_line uses around its
// throwaway temp_vm, adapted here to carry values by name rather than by
// raw slot index, since every compile reassigns slots from scratch.
func (r *REPL) evalLine(line string) {
	tokens := lexer.NewScanner(line).ScanTokens()
	p := parser.NewParser(tokens)
	tree := p.Parse()
	if len(p.Errors) > 0 {
		fmt.Fprintf(r.Out, "syntax error: %v\n", p.Errors[0])
		return
	}
	if tree == nil {
		return
	}

	prog, builder := ir.Build(tree)
	out := codegen.Generate(prog, builder)

	m := vm.New(out.Code, out.NumGlobals, vm.DefaultLimits())
	m.LoadStrings(out.Strings)
	m.LoadConstants(out.Constants)
	m.LoadFunctions(out.Functions)
	corelib.Register(m)
	m.Out = r.Out

	for slot, name := range out.GlobalNames {
		if p, ok := r.globals[name]; ok {
			m.SetGlobal(slot, p.toValue(m))
		}
	}

	if err := m.Run(); err != nil {
		fmt.Fprintf(r.Out, "runtime error: %v\n", err)
		return
	}

	for slot, name := range out.GlobalNames {
		r.globals[name] = capture(m, m.GetGlobal(slot))
	}
}

// toValue re-interns a string into m's fresh pool; every other tag is
// plain data that needs no pool lookup.
func (p persisted) toValue(m *vm.VM) vm.Value {
	switch p.tag {
	case vm.TagString:
		return vm.StringValue(int32(m.InternString(p.text)))
	case vm.TagFloat:
		return vm.FloatValue(p.fval)
	case vm.TagNull:
		return vm.NullValue()
	default:
		return vm.IntValue(p.ival)
	}
}

// capture snapshots v independently of m's pool: a string's text is
// pulled out now, while m is still alive to resolve it.
func capture(m *vm.VM, v vm.Value) persisted {
	p := persisted{tag: v.Tag, ival: v.Int, fval: v.Float}
	if v.Tag == vm.TagString {
		p.text = m.GetString(int(v.Str))
	}
	return p
}

func describePersisted(p persisted) string {
	switch p.tag {
	case vm.TagInt:
		return fmt.Sprintf("%d", p.ival)
	case vm.TagFloat:
		return fmt.Sprintf("%g", p.fval)
	case vm.TagString:
		return fmt.Sprintf("%q", p.text)
	case vm.TagNull:
		return "null"
	default:
		return "(heap value)"
	}
}

// IsTerminal reports whether fd looks like an interactive TTY, deferring
// entirely to go-isatty the way sentra's CLI checks stdout before
// deciding whether to emit ANSI color.
func IsTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
