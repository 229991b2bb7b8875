package commands

import (
	"encoding/gob"
	"fmt"
	"os"

	"mirlang/internal/codegen"
)

// programFile is the on-disk shape a `build`-produced artifact takes:
// every pool a VM needs to run the program, gob-encoded the same way
// internal/buildcache persists bytecode, extended here to cover the
// pools buildcache intentionally leaves out since it only memoizes
// Code itself.
type programFile struct {
	Out codegen.Output
}

// writeProgram serializes out to path so a later `mirlang run path.mbc`
// (or any other VM embedder) can load it without recompiling.
func writeProgram(path string, out *codegen.Output) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(programFile{Out: *out}); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return nil
}

// loadProgram reads back a program file written by writeProgram.
func loadProgram(path string) (*codegen.Output, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()
	var pf programFile
	if err := gob.NewDecoder(f).Decode(&pf); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &pf.Out, nil
}
