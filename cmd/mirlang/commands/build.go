// Package commands implements mirlang's subcommands and legacy flag
// modes, grounded on sentra/cmd/sentra/commands' split of each
// subcommand into its own function returning an error for main to
// report. Each function here owns one pipeline: front-end compile,
// cache lookup, VM execution, or REPL startup.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"mirlang/internal/ast"
	"mirlang/internal/buildcache"
	"mirlang/internal/bytecode"
	"mirlang/internal/codegen"
	"mirlang/internal/corelib"
	"mirlang/internal/debugserver"
	"mirlang/internal/interp"
	"mirlang/internal/ir"
	"mirlang/internal/lexer"
	"mirlang/internal/mirerrors"
	"mirlang/internal/optimizer"
	"mirlang/internal/parser"
	"mirlang/internal/repl"
	"mirlang/internal/vm"
)

// DefaultCacheDSN is the zero-config build cache location: a sqlite file
// under the user's cache directory, one per machine rather than per
// project, since compiled bytecode for identical source is reusable
// across any project that happens to produce it.
func DefaultCacheDSN() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return "sqlite://" + filepath.Join(dir, "mirlang", "cache.db")
}

// DefaultDebugAddr is the websocket debug server's bind address when
// --debug is set without an explicit --debug-addr.
const DefaultDebugAddr = "127.0.0.1:4747"

// Options carries every flag both the subcommand surface and the legacy
// flag surface can set, parsed once by main and threaded down here.
type Options struct {
	InputFile  string
	OutputFile string
	VMMode     bool
	Debug      bool
	CacheDSN   string
	DebugAddr  string
}

// compiled is the front-end's output: the lowering pipeline's every
// intermediate stage, kept around so legacy modes that want to print IR
// or disassemble bytecode don't have to rerun anything.
type compiled struct {
	tree *ast.Node
	prog *ir.Program
	out  *codegen.Output
}

// compile runs THE CORE's three stages — parse, IR build, code generate
// — over source. Lexer/parser errors are collected rather than panicked
// (see internal/parser), so a single mirerrors.Error summarizing the
// first one is returned to the caller.
func compile(source, filename string) (*compiled, error) {
	toks := lexer.NewScanner(source).ScanTokens()
	p := parser.NewParser(toks)
	tree := p.Parse()
	if len(p.Errors) > 0 {
		return nil, p.Errors[0]
	}

	prog, builder := ir.Build(tree)
	out := codegen.Generate(prog, builder)
	return &compiled{tree: tree, prog: prog, out: out}, nil
}

func readSource(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", mirerrors.New(mirerrors.Syntax, 0, "cannot open file %q", path).Wrap(err)
	}
	return string(data), nil
}

// newVM builds a VM preloaded with a compiled program's pools and the
// core helper functions, ready to Run.
func newVM(out *codegen.Output, stdout io.Writer) *vm.VM {
	m := vm.New(out.Code, out.NumGlobals, vm.DefaultLimits())
	m.Out = stdout
	m.LoadStrings(out.Strings)
	m.LoadConstants(out.Constants)
	m.LoadFunctions(out.Functions)
	corelib.Register(m)
	return m
}

// openCache opens the build cache at dsn, falling back to the default
// location when dsn is empty. Failing to open the cache is non-fatal —
// a toolchain invocation shouldn't fail just because its memoization
// layer is unavailable — so callers get a nil *Cache and a warning line.
func openCache(dsn string) *buildcache.Cache {
	if dsn == "" {
		dsn = DefaultCacheDSN()
	}
	c, err := buildcache.Open(dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: build cache unavailable (%v), compiling uncached\n", err)
		return nil
	}
	return c
}

// Build compiles opts.InputFile and writes the resulting bytecode
// program to opts.OutputFile (default: input name with its extension
// replaced by .mbc), the mirlang analogue of the original driver's
// "build <file.kotha> [-o output]".
func Build(opts Options) error {
	if opts.InputFile == "" {
		return fmt.Errorf("no input file specified for build command\nusage: mirlang build <file> [-o output]")
	}
	source, err := readSource(opts.InputFile)
	if err != nil {
		return err
	}

	fmt.Printf("compiling %s...\n", opts.InputFile)
	c, err := compile(source, opts.InputFile)
	if err != nil {
		return err
	}

	if opts.OutputFile == "" {
		base := strings.TrimSuffix(filepath.Base(opts.InputFile), filepath.Ext(opts.InputFile))
		opts.OutputFile = base + ".mbc"
	}

	if cache := openCache(opts.CacheDSN); cache != nil {
		defer cache.Close()
		ctx := context.Background()
		if _, err := cache.BuildOrGet(ctx, source, func() (bytecode.Code, error) {
			return c.out.Code, nil
		}); err != nil {
			fmt.Fprintf(os.Stderr, "warning: build cache store failed: %v\n", err)
		}
	}

	if err := writeProgram(opts.OutputFile, c.out); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", opts.OutputFile)
	return nil
}

// Run compiles opts.InputFile and executes it in the VM, the mirlang
// analogue of "run <file.kotha> [--vm] [--debug]". --debug attaches a
// websocket inspector (internal/debugserver) and prints GC/runtime
// statistics after execution.
func Run(opts Options) error {
	if opts.InputFile == "" {
		return fmt.Errorf("no input file specified for run command\nusage: mirlang run <file> [--vm] [--debug]")
	}

	sessionID := uuid.NewString()
	if opts.Debug {
		fmt.Fprintf(os.Stderr, "[%s] running %s...\n", sessionID, opts.InputFile)
	}

	// A previously `build`-produced .mbc artifact skips the front end
	// entirely, the mirlang analogue of sentra's runCompiledBytecode.
	var out *codegen.Output
	if filepath.Ext(opts.InputFile) == ".mbc" {
		loaded, err := loadProgram(opts.InputFile)
		if err != nil {
			return err
		}
		out = loaded
	} else {
		source, err := readSource(opts.InputFile)
		if err != nil {
			return err
		}

		c, err := compile(source, opts.InputFile)
		if err != nil {
			return err
		}
		out = c.out

		if cache := openCache(opts.CacheDSN); cache != nil {
			defer cache.Close()
			if _, err := cache.BuildOrGet(context.Background(), source, func() (bytecode.Code, error) {
				return out.Code, nil
			}); err != nil {
				fmt.Fprintf(os.Stderr, "warning: build cache store failed: %v\n", err)
			}
		}
	}

	m := newVM(out, os.Stdout)

	var srv *debugserver.Server
	if opts.Debug {
		addr := opts.DebugAddr
		if addr == "" {
			addr = DefaultDebugAddr
		}
		srv = debugserver.New(addr)
		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: debug server disabled: %v\n", err)
			srv = nil
		} else {
			srv.Attach(m)
			defer srv.Stop()
			fmt.Fprintf(os.Stderr, "[%s] debug inspector listening on ws://%s/debug\n", sessionID, srv.Addr())
		}
	}

	runErr := m.Run()

	if opts.Debug {
		collections, allocated := m.GCStats()
		fmt.Fprintf(os.Stderr, "\n[%s] GC collections: %d, heap allocated: %s\n",
			sessionID, collections, humanize.Bytes(uint64(allocated)))
	}

	if runErr != nil {
		if me, ok := runErr.(*mirerrors.Error); ok && opts.Debug {
			if trace := me.DebugTrace(); trace != "" {
				fmt.Fprintln(os.Stderr, trace)
			}
		}
		return runErr
	}
	return nil
}

// Repl starts an interactive session over stdin/stdout.
func Repl(opts Options) error {
	isTTY := repl.IsTerminal(os.Stdin.Fd())
	r := repl.New(os.Stdin, os.Stdout, isTTY)
	return r.Run()
}

// Legacy dispatches one of the deprecated single-letter flag modes that
// predate the build/run/repl subcommands, mirroring
// original_source/kotha/main.c's MODE_* switch. Compiling to a native
// target (the original's default "compile to C" mode) is out of scope
// here, so -c/--compile is repurposed to mean "run the front end and
// confirm the program lowers cleanly," the nearest equivalent that
// doesn't require a C backend.
func Legacy(mode string, opts Options) error {
	if opts.InputFile == "" {
		return fmt.Errorf("no input file specified\nuse --help for usage information")
	}
	source, err := readSource(opts.InputFile)
	if err != nil {
		return err
	}

	switch mode {
	case "compile":
		c, err := compile(source, opts.InputFile)
		if err != nil {
			return err
		}
		if opts.Debug {
			fmt.Fprintf(os.Stderr, "IR generated, %d bytecode instructions\n", len(c.out.Code))
		}
		fmt.Println("compiled successfully")
		return nil

	case "vm":
		c, err := compile(source, opts.InputFile)
		if err != nil {
			return err
		}
		m := newVM(c.out, os.Stdout)
		if opts.Debug {
			m.Debug = true
			fmt.Fprintln(os.Stderr, "running in VM...")
		}
		start := time.Now()
		runErr := m.Run()
		if opts.Debug {
			collections, allocated := m.GCStats()
			fmt.Fprintf(os.Stderr, "\nVM statistics:\n  instructions executed: %d\n  GC runs: %d\n  heap allocated: %s\n  elapsed: %s\n",
				m.Snapshot().InstructionCount, collections, humanize.Bytes(uint64(allocated)), time.Since(start))
		}
		return runErr

	case "interpret":
		if opts.Debug {
			fmt.Fprintln(os.Stderr, "interpreting...")
		}
		toks := lexer.NewScanner(source).ScanTokens()
		p := parser.NewParser(toks)
		tree := p.Parse()
		if len(p.Errors) > 0 {
			return p.Errors[0]
		}
		in := interp.New()
		in.Out = os.Stdout
		return in.Run(tree)

	case "optimize":
		c, err := compile(source, opts.InputFile)
		if err != nil {
			return err
		}
		fmt.Print(c.prog.Text())
		stats := optimizer.Run(c.out.Code)
		fmt.Printf("\nconstant folds: %d\nalgebraic simplifications: %d\n",
			stats.ConstantFolds, stats.AlgebraicSimps)
		return nil

	case "bytecode":
		c, err := compile(source, opts.InputFile)
		if err != nil {
			return err
		}
		disassemble(os.Stdout, c.out.Code)
		return nil

	default:
		return fmt.Errorf("unknown execution mode %q", mode)
	}
}

// disassemble prints one line per instruction in "addr: OP arg (line N)"
// form, the mirlang analogue of vm_disassemble.
func disassemble(w io.Writer, code bytecode.Code) {
	for addr, instr := range code {
		fmt.Fprintf(w, "%4d: %-14s %6d  (line %d)\n", addr, instr.Op, instr.Arg, instr.Line)
	}
}
