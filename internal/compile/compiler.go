// Package compile lowers IR modules to relocatable objects.
//
// Two compilers are provided. StubCompiler writes an ELF object directly
// from the module's symbol table, one placeholder body per definition; it
// needs no toolchain and is what tests and the CLI use by default.
// LLCCompiler pipes the module's assembly through an external llc.
//
// Emitter adapts a Compiler to orc.IREmitter and forwards the resulting
// object, with the unchanged responsibility, to an object layer.
package compile

import (
	"bytes"
	"context"
	"debug/elf"
	"fmt"
	"os/exec"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"

	"github.com/roach88/lazyjit/internal/objfile"
)

// Compiler turns a module into a relocatable object.
type Compiler interface {
	Compile(ctx context.Context, m *ir.Module) ([]byte, error)
}

// StubCompiler emits one symbol per definition in m, with binding and
// visibility taken from the IR linkage. Function bodies are a run of NOPs
// (one per instruction) ending in RET; data is zero-filled to the size of
// its type.
//
// Declarations and available_externally definitions produce no symbol, so
// a definition demoted by a discard is not defined twice.
type StubCompiler struct {
	// Machine is the ELF machine written to the header. Default EM_X86_64.
	Machine elf.Machine
	// GlobalPrefix is prepended to every symbol name.
	GlobalPrefix string
}

// Compile implements Compiler.
func (c StubCompiler) Compile(_ context.Context, m *ir.Module) ([]byte, error) {
	machine := c.Machine
	if machine == elf.EM_NONE {
		machine = elf.EM_X86_64
	}
	w := objfile.NewWriter(machine)

	for _, g := range m.Globals {
		if g.Init == nil || g.Linkage == enum.LinkageAvailableExternally || g.Linkage == enum.LinkageAppending {
			continue
		}
		sym := c.symbol(g.Name(), g.Linkage, g.Visibility)
		sym.Type = elf.STT_OBJECT
		size := typeSize(g.ContentType)
		if g.Linkage == enum.LinkageCommon {
			sym.Section = objfile.SectionCommon
			sym.Size = size
		} else {
			sym.Section = objfile.SectionData
			sym.Contents = make([]byte, size)
		}
		w.Add(sym)
	}
	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 || f.Linkage == enum.LinkageAvailableExternally {
			continue
		}
		sym := c.symbol(f.Name(), f.Linkage, f.Visibility)
		sym.Type = elf.STT_FUNC
		sym.Section = objfile.SectionText
		sym.Contents = funcBody(f)
		w.Add(sym)
	}
	for _, a := range m.Aliases {
		if a.Linkage == enum.LinkageAvailableExternally {
			continue
		}
		sym := c.symbol(a.Name(), a.Linkage, a.Visibility)
		if _, ok := a.Aliasee.(*ir.Func); ok {
			sym.Type = elf.STT_FUNC
			sym.Section = objfile.SectionText
			sym.Contents = []byte{0xc3}
		} else {
			sym.Type = elf.STT_OBJECT
			sym.Section = objfile.SectionData
			sym.Contents = make([]byte, 8)
		}
		w.Add(sym)
	}

	return w.Bytes(), nil
}

func (c StubCompiler) symbol(name string, l enum.Linkage, vis enum.Visibility) objfile.WriterSymbol {
	sym := objfile.WriterSymbol{Name: name, Binding: elf.STB_GLOBAL}
	switch l {
	case enum.LinkageInternal, enum.LinkagePrivate:
		sym.Binding = elf.STB_LOCAL
	case enum.LinkageWeak, enum.LinkageWeakODR, enum.LinkageLinkOnce,
		enum.LinkageLinkOnceODR, enum.LinkageCommon, enum.LinkageExternWeak:
		sym.Binding = elf.STB_WEAK
	}
	if sym.Binding != elf.STB_LOCAL {
		sym.Name = c.GlobalPrefix + name
	}
	switch vis {
	case enum.VisibilityHidden:
		sym.Visibility = elf.STV_HIDDEN
	case enum.VisibilityProtected:
		sym.Visibility = elf.STV_PROTECTED
	}
	return sym
}

func funcBody(f *ir.Func) []byte {
	n := 0
	for _, b := range f.Blocks {
		n += len(b.Insts)
	}
	body := bytes.Repeat([]byte{0x90}, n)
	return append(body, 0xc3)
}

// typeSize approximates the in-memory size of t on a 64-bit target.
func typeSize(t types.Type) uint64 {
	switch t := t.(type) {
	case *types.IntType:
		return (t.BitSize + 7) / 8
	case *types.FloatType:
		switch t.Kind {
		case types.FloatKindHalf:
			return 2
		case types.FloatKindFloat:
			return 4
		}
		return 8
	case *types.ArrayType:
		return t.Len * typeSize(t.ElemType)
	case *types.VectorType:
		return t.Len * typeSize(t.ElemType)
	case *types.StructType:
		var size uint64
		for _, f := range t.Fields {
			size += typeSize(f)
		}
		return size
	}
	return 8
}

// LLCCompiler runs llc on the module's textual assembly.
type LLCCompiler struct {
	// Path is the llc executable. Default "llc".
	Path string
	// Triple is passed as -mtriple when set.
	Triple string
	// Args are appended to the command line.
	Args []string
}

// Compile implements Compiler.
func (c LLCCompiler) Compile(ctx context.Context, m *ir.Module) ([]byte, error) {
	path := c.Path
	if path == "" {
		path = "llc"
	}
	args := []string{"-filetype=obj", "-o", "-"}
	if c.Triple != "" {
		args = append(args, "-mtriple="+c.Triple)
	}
	args = append(args, c.Args...)

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = strings.NewReader(m.String())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("llc: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
