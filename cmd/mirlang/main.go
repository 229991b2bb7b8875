// cmd/mirlang/main.go
package main

import (
	"fmt"
	"os"

	"mirlang/cmd/mirlang/commands"
)

const version = "0.1.0"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var cmd string
	rest := args
	if args[0][0] != '-' {
		cmd = args[0]
		rest = args[1:]
	}

	switch cmd {
	case "help", "--help", "-h":
		printUsage()
		return
	case "version", "--version":
		printVersion()
		return
	case "build":
		opts := parseFlags(rest)
		runCommand(func() error { return commands.Build(opts) })
		return
	case "run":
		opts := parseFlags(rest)
		runCommand(func() error { return commands.Run(opts) })
		return
	case "repl":
		opts := parseFlags(rest)
		runCommand(func() error { return commands.Repl(opts) })
		return
	}

	// No subcommand recognized — fall back to the legacy flag-driven
	// surface: mirlang [-c|-v|-i|-O|-b] [-o FILE] [-d] <file>, mirroring
	// original_source/kotha/main.c's CMD_LEGACY path.
	legacyMode, opts := parseLegacyFlags(args)
	switch legacyMode {
	case "help":
		printUsage()
		return
	case "version":
		printVersion()
		return
	}
	runCommand(func() error { return commands.Legacy(legacyMode, opts) })
}

// runCommand reports err (if any) to stderr and exits 1, mirroring the
// original driver's "parse error" / "no input file" paths returning 1.
func runCommand(fn func() error) {
	if err := fn(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// parseFlags parses the flag surface shared by build/run/repl:
// -o FILE, --vm, --debug, -cache-dsn DSN, --debug-addr ADDR, and a
// trailing positional input file.
func parseFlags(args []string) commands.Options {
	var opts commands.Options
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-o" && i+1 < len(args):
			i++
			opts.OutputFile = args[i]
		case a == "--vm":
			opts.VMMode = true
		case a == "--debug" || a == "-d":
			opts.Debug = true
		case a == "-cache-dsn" && i+1 < len(args):
			i++
			opts.CacheDSN = args[i]
		case a == "--debug-addr" && i+1 < len(args):
			i++
			opts.DebugAddr = args[i]
		case len(a) > 0 && a[0] != '-':
			opts.InputFile = a
		}
	}
	return opts
}

// parseLegacyFlags parses the deprecated single-letter surface and
// returns the execution mode it selects, matching main.c's parse_args:
// later flags win, -o/-d/file apply regardless of mode.
func parseLegacyFlags(args []string) (string, commands.Options) {
	mode := "compile"
	var opts commands.Options
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch a {
		case "-h", "--help":
			return "help", opts
		case "--version":
			return "version", opts
		case "-c", "--compile":
			mode = "compile"
		case "-v", "--vm":
			mode = "vm"
		case "-i", "--interpret":
			mode = "interpret"
		case "-O", "--optimize":
			mode = "optimize"
		case "-b", "--bytecode":
			mode = "bytecode"
		case "-d", "--debug":
			opts.Debug = true
		case "-o":
			if i+1 < len(args) {
				i++
				opts.OutputFile = args[i]
			}
		default:
			if len(a) > 0 && a[0] != '-' {
				opts.InputFile = a
			}
		}
	}
	return mode, opts
}

func printUsage() {
	fmt.Println("mirlang - a small stack-machine toolchain")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  mirlang <command> [options] [file]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  build <file>     Compile a mirlang file to a bytecode artifact")
	fmt.Println("  run <file>       Compile and run a mirlang file")
	fmt.Println("  repl             Start the interactive REPL")
	fmt.Println("  help             Show this help message")
	fmt.Println("  version          Show version information")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -o FILE          Output file for build")
	fmt.Println("  --vm             Build/run in VM mode (default)")
	fmt.Println("  --debug          Enable debug output and the websocket inspector")
	fmt.Println("  -cache-dsn DSN   Build cache location (default sqlite file under the user cache dir)")
	fmt.Println("  --debug-addr A   Debug inspector bind address (default 127.0.0.1:4747)")
	fmt.Println()
	fmt.Println("Legacy options (deprecated):")
	fmt.Println("  -c, --compile    Run the front end and confirm the program lowers cleanly")
	fmt.Println("  -v, --vm         Compile to bytecode and run in the VM")
	fmt.Println("  -i, --interpret  Walk the AST directly, bypassing IR/codegen/VM")
	fmt.Println("  -O, --optimize   Print IR and run the peephole optimizer")
	fmt.Println("  -b, --bytecode   Print the generated bytecode")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  mirlang build program.mir -o program.mbc")
	fmt.Println("  mirlang run program.mir --debug")
	fmt.Println("  mirlang repl")
}

func printVersion() {
	fmt.Printf("mirlang v%s\n", version)
}
