// Package testutil provides fixtures shared by package tests: parsed IR
// modules, generated relocatable objects and a silent logger.
package testutil

import (
	"debug/elf"
	"io"
	"log/slog"
	"testing"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"

	"github.com/roach88/lazyjit/internal/objfile"
)

// QuietLogger returns a logger that discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseModule parses LLVM assembly, failing the test on error.
func ParseModule(t testing.TB, src string) *ir.Module {
	t.Helper()
	m, err := asm.ParseString("test.ll", src)
	if err != nil {
		t.Fatalf("parse module: %v", err)
	}
	return m
}

// Object writes an x86-64 relocatable with the given symbols.
func Object(syms ...objfile.WriterSymbol) []byte {
	w := objfile.NewWriter(elf.EM_X86_64)
	for _, s := range syms {
		w.Add(s)
	}
	return w.Bytes()
}

// Func is a one-byte function in .text.
func Func(name string, bind elf.SymBind) objfile.WriterSymbol {
	return objfile.WriterSymbol{Name: name, Binding: bind, Type: elf.STT_FUNC, Section: objfile.SectionText, Contents: []byte{0xc3}}
}

// Data is an eight-byte object in .data.
func Data(name string, bind elf.SymBind) objfile.WriterSymbol {
	return objfile.WriterSymbol{Name: name, Binding: bind, Type: elf.STT_OBJECT, Section: objfile.SectionData, Contents: make([]byte, 8)}
}
