package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"

	"github.com/roach88/lazyjit/internal/engine"
	"github.com/roach88/lazyjit/internal/objfile"
	"github.com/roach88/lazyjit/internal/orc"
)

// InputKind distinguishes the two unit sources the CLI accepts.
type InputKind string

const (
	InputIR     InputKind = "ir"
	InputObject InputKind = "object"
)

// Input is one file named on the command line.
type Input struct {
	Path string
	Kind InputKind
	Data []byte
}

// LoadInput reads path and classifies it. Files ending in .ll are LLVM
// assembly; anything else must carry a recognizable object-file magic.
// Non-ELF objects are accepted here and rejected by the object layer with
// UNSUPPORTED_FORMAT, so the user sees the core's error.
func LoadInput(path string) (*Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("input not found: %s", path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".ll") {
		return &Input{Path: path, Kind: InputIR, Data: data}, nil
	}
	if objfile.Detect(data) == objfile.FormatUnknown {
		return nil, fmt.Errorf("%s: neither LLVM assembly (.ll) nor an object file", path)
	}
	return &Input{Path: path, Kind: InputObject, Data: data}, nil
}

// LoadInputs loads every path, failing on the first bad one.
func LoadInputs(paths []string) ([]*Input, error) {
	inputs := make([]*Input, 0, len(paths))
	for _, p := range paths {
		in, err := LoadInput(p)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// Module parses an IR input.
func (in *Input) Module() (*ir.Module, error) {
	if in.Kind != InputIR {
		return nil, fmt.Errorf("%s is not LLVM assembly", in.Path)
	}
	m, err := asm.ParseBytes(in.Path, in.Data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", in.Path, err)
	}
	return m, nil
}

// Key derives a unit key from the file name, so traces name the file a
// unit came from.
func (in *Input) Key() orc.ModuleKey {
	return orc.ModuleKey(filepath.Base(in.Path))
}

// AddTo adds the input to library lib of eng under its file-name key.
func (in *Input) AddTo(eng *engine.Engine, lib string) (orc.ModuleKey, error) {
	if in.Kind == InputIR {
		return eng.AddModuleSource(lib, in.Key(), in.Path, string(in.Data))
	}
	return eng.AddObject(lib, in.Key(), in.Data)
}

// Flags computes the symbols the input would define in session s.
func (in *Input) Flags(s *orc.Session) (orc.SymbolFlagsMap, error) {
	if in.Kind == InputObject {
		return orc.ObjectSymbolFlags(s, in.Data)
	}
	m, err := in.Module()
	if err != nil {
		return nil, err
	}
	u, err := orc.NewIRUnit(s, m)
	if err != nil {
		return nil, err
	}
	return u.Symbols(), nil
}
