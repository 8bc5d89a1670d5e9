// Package objfile reads the parts of a relocatable object that a JIT needs
// before linking: the symbol table and each section's flags.
//
// Only ELF is parsed. Other containers are recognized by their magic so
// callers can tell "not an object" apart from "object we cannot load".
package objfile

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
)

// Format identifies an object container.
type Format string

const (
	FormatUnknown Format = "unknown"
	FormatELF     Format = "elf"
	FormatMachO   Format = "mach-o"
	FormatPE      Format = "pe/coff"
	FormatWasm    Format = "wasm"
)

// FormatError reports bytes that are not a parseable object.
type FormatError struct {
	Format Format
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed %s object: %v", e.Format, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// UnsupportedError reports a recognized container this package does not load.
type UnsupportedError struct {
	Format Format
	Reason string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported %s object: %s", e.Format, e.Reason)
}

// Section is a section header summary.
type Section struct {
	Name       string
	Type       elf.SectionType
	Flags      elf.SectionFlag
	Size       uint64
	Addralign  uint64
	Executable bool
}

// Symbol is one symbol table entry.
type Symbol struct {
	Name       string
	Binding    elf.SymBind
	Type       elf.SymType
	Visibility elf.SymVis
	// Section is the raw section index, including SHN_UNDEF/ABS/COMMON.
	Section elf.SectionIndex
	Value   uint64
	Size    uint64
}

// Defined reports whether the object itself provides the symbol.
func (s Symbol) Defined() bool { return s.Section != elf.SHN_UNDEF }

// File is a parsed object.
type File struct {
	Class    elf.Class
	Machine  elf.Machine
	Type     elf.Type
	Sections []Section
	Symbols  []Symbol
}

// Section returns the section a symbol lives in, or nil for special
// indices (UNDEF, ABS, COMMON) and out-of-range indices.
func (f *File) Section(idx elf.SectionIndex) *Section {
	if idx == elf.SHN_UNDEF || idx >= elf.SHN_LORESERVE || int(idx) >= len(f.Sections) {
		return nil
	}
	return &f.Sections[idx]
}

// Detect identifies the container format from its leading bytes.
func Detect(obj []byte) Format {
	switch {
	case bytes.HasPrefix(obj, []byte(elf.ELFMAG)):
		return FormatELF
	case bytes.HasPrefix(obj, []byte("\x00asm")):
		return FormatWasm
	case bytes.HasPrefix(obj, []byte("MZ")):
		return FormatPE
	}
	if len(obj) >= 4 {
		switch binary.BigEndian.Uint32(obj) {
		case 0xfeedface, 0xfeedfacf, 0xcefaedfe, 0xcffaedfe, 0xcafebabe:
			return FormatMachO
		}
	}
	if isCOFF(obj) {
		return FormatPE
	}
	return FormatUnknown
}

// coffHeaderSize is the size of the COFF file header.
const coffHeaderSize = 20

// isCOFF reports whether obj starts with a plausible bare COFF object
// header: a known machine, at least one section, no optional header, and a
// section table and symbol table that lie inside obj.
func isCOFF(obj []byte) bool {
	if len(obj) < coffHeaderSize {
		return false
	}
	switch binary.LittleEndian.Uint16(obj[0:]) {
	case 0x8664, 0x014c, 0xaa64, 0x01c4:
	default:
		return false
	}
	sections := int(binary.LittleEndian.Uint16(obj[2:]))
	symtab := uint64(binary.LittleEndian.Uint32(obj[8:]))
	optional := binary.LittleEndian.Uint16(obj[16:])
	if sections == 0 || sections > 0xfeff || optional != 0 {
		return false
	}
	if coffHeaderSize+40*sections > len(obj) {
		return false
	}
	return symtab == 0 || symtab < uint64(len(obj))
}

// Parse reads obj's section headers and symbol table. It never returns a
// partially filled File: on error the result is nil.
func Parse(obj []byte) (*File, error) {
	switch format := Detect(obj); format {
	case FormatELF:
	case FormatUnknown:
		return nil, &FormatError{Format: format, Err: errors.New("unrecognized file magic")}
	default:
		return nil, &UnsupportedError{Format: format, Reason: "only ELF objects can be loaded"}
	}

	ef, err := elf.NewFile(bytes.NewReader(obj))
	if err != nil {
		return nil, &FormatError{Format: FormatELF, Err: err}
	}
	defer ef.Close()

	if ef.Type != elf.ET_REL {
		return nil, &UnsupportedError{
			Format: FormatELF,
			Reason: fmt.Sprintf("file type %s is not relocatable", ef.Type),
		}
	}

	f := &File{
		Class:    ef.Class,
		Machine:  ef.Machine,
		Type:     ef.Type,
		Sections: make([]Section, len(ef.Sections)),
	}
	for i, sec := range ef.Sections {
		f.Sections[i] = Section{
			Name:       sec.Name,
			Type:       sec.Type,
			Flags:      sec.Flags,
			Size:       sec.Size,
			Addralign:  sec.Addralign,
			Executable: sec.Flags&elf.SHF_EXECINSTR != 0,
		}
	}

	syms, err := ef.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, &FormatError{Format: FormatELF, Err: err}
	}
	f.Symbols = make([]Symbol, 0, len(syms))
	for _, s := range syms {
		f.Symbols = append(f.Symbols, Symbol{
			Name:       s.Name,
			Binding:    elf.ST_BIND(s.Info),
			Type:       elf.ST_TYPE(s.Info),
			Visibility: elf.ST_VISIBILITY(s.Other),
			Section:    s.Section,
			Value:      s.Value,
			Size:       s.Size,
		})
	}

	return f, nil
}

// IsExternal reports whether s is a definition visible to other objects:
// defined, GLOBAL or WEAK binding, and not a section/file/debug entry.
func (f *File) IsExternal(s Symbol) bool {
	if !s.Defined() {
		return false
	}
	if s.Binding != elf.STB_GLOBAL && s.Binding != elf.STB_WEAK {
		return false
	}
	if s.Type == elf.STT_SECTION || s.Type == elf.STT_FILE {
		return false
	}
	if sec := f.Section(s.Section); sec != nil && isDebugSection(sec) {
		return false
	}
	return s.Name != ""
}

func isDebugSection(sec *Section) bool {
	return sec.Flags&elf.SHF_ALLOC == 0 && len(sec.Name) >= 6 && sec.Name[:6] == ".debug"
}
