package objfile

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// Section indices used by Writer. Index 0 is the null section.
const (
	textIndex     = 1
	dataIndex     = 2
	symtabIndex   = 3
	strtabIndex   = 4
	shstrtabIndex = 5
	numSections   = 6
)

// WriterSymbol describes a symbol to emit.
type WriterSymbol struct {
	Name       string
	Binding    elf.SymBind
	Type       elf.SymType
	Visibility elf.SymVis
	// Section is one of SectionText, SectionData, SectionUndef, SectionCommon, SectionAbs.
	Section WriterSection
	// Contents is copied into the section. Ignored for undefined, common
	// and absolute symbols.
	Contents []byte
	// Value is used for absolute symbols; Size for common symbols.
	Value uint64
	Size  uint64
}

// WriterSection selects where a WriterSymbol is placed.
type WriterSection int

const (
	SectionText WriterSection = iota
	SectionData
	SectionUndef
	SectionCommon
	SectionAbs
)

// Writer builds a minimal little-endian ELF64 relocatable object with a
// .text and a .data section. It emits no relocations.
type Writer struct {
	machine elf.Machine
	locals  []WriterSymbol
	globals []WriterSymbol
}

// NewWriter creates a writer for machine.
func NewWriter(machine elf.Machine) *Writer {
	return &Writer{machine: machine}
}

// Add appends a symbol. LOCAL symbols are placed before all others in the
// symbol table, as ELF requires.
func (w *Writer) Add(s WriterSymbol) {
	if s.Binding == elf.STB_LOCAL {
		w.locals = append(w.locals, s)
		return
	}
	w.globals = append(w.globals, s)
}

// AddFunc appends a function to .text.
func (w *Writer) AddFunc(name string, bind elf.SymBind, code []byte) {
	w.Add(WriterSymbol{Name: name, Binding: bind, Type: elf.STT_FUNC, Section: SectionText, Contents: code})
}

// AddData appends a data object to .data.
func (w *Writer) AddData(name string, bind elf.SymBind, contents []byte) {
	w.Add(WriterSymbol{Name: name, Binding: bind, Type: elf.STT_OBJECT, Section: SectionData, Contents: contents})
}

// AddUndefined appends a reference to a symbol defined elsewhere.
func (w *Writer) AddUndefined(name string) {
	w.Add(WriterSymbol{Name: name, Binding: elf.STB_GLOBAL, Type: elf.STT_NOTYPE, Section: SectionUndef})
}

// Bytes lays out and returns the object file.
func (w *Writer) Bytes() []byte {
	var text, data bytes.Buffer
	strtab := newStringTable()

	syms := []elf.Sym64{{}} // null symbol
	// Section symbols, then user locals, then globals.
	syms = append(syms,
		elf.Sym64{Info: elf.ST_INFO(elf.STB_LOCAL, elf.STT_SECTION), Shndx: textIndex},
		elf.Sym64{Info: elf.ST_INFO(elf.STB_LOCAL, elf.STT_SECTION), Shndx: dataIndex},
	)
	place := func(s WriterSymbol) elf.Sym64 {
		sym := elf.Sym64{
			Name:  strtab.add(s.Name),
			Info:  elf.ST_INFO(s.Binding, s.Type),
			Other: uint8(s.Visibility) & 0x3,
		}
		switch s.Section {
		case SectionText:
			alignBuffer(&text, 16)
			sym.Shndx = textIndex
			sym.Value = uint64(text.Len())
			sym.Size = uint64(len(s.Contents))
			text.Write(s.Contents)
		case SectionData:
			alignBuffer(&data, 8)
			sym.Shndx = dataIndex
			sym.Value = uint64(data.Len())
			sym.Size = uint64(len(s.Contents))
			data.Write(s.Contents)
		case SectionUndef:
			sym.Shndx = uint16(elf.SHN_UNDEF)
		case SectionCommon:
			sym.Shndx = uint16(elf.SHN_COMMON)
			sym.Value = 8 // alignment
			sym.Size = s.Size
		case SectionAbs:
			sym.Shndx = uint16(elf.SHN_ABS)
			sym.Value = s.Value
		}
		return sym
	}
	for _, s := range w.locals {
		syms = append(syms, place(s))
	}
	firstGlobal := len(syms)
	for _, s := range w.globals {
		syms = append(syms, place(s))
	}

	var symtab bytes.Buffer
	for _, s := range syms {
		binary.Write(&symtab, binary.LittleEndian, s)
	}

	shstrtab := newStringTable()
	names := [numSections]uint32{
		0,
		shstrtab.add(".text"),
		shstrtab.add(".data"),
		shstrtab.add(".symtab"),
		shstrtab.add(".strtab"),
		shstrtab.add(".shstrtab"),
	}

	// Layout: header, .text, .data, .symtab, .strtab, .shstrtab, section headers.
	var out bytes.Buffer
	out.Write(make([]byte, 64))

	offsets := [numSections]uint64{}
	write := func(idx int, b []byte, align int) {
		alignBuffer(&out, align)
		offsets[idx] = uint64(out.Len())
		out.Write(b)
	}
	write(textIndex, text.Bytes(), 16)
	write(dataIndex, data.Bytes(), 8)
	write(symtabIndex, symtab.Bytes(), 8)
	write(strtabIndex, strtab.bytes(), 1)
	write(shstrtabIndex, shstrtab.bytes(), 1)

	alignBuffer(&out, 8)
	shoff := uint64(out.Len())

	headers := [numSections]elf.Section64{
		{},
		{
			Name: names[textIndex], Type: uint32(elf.SHT_PROGBITS),
			Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Off:   offsets[textIndex], Size: uint64(text.Len()), Addralign: 16,
		},
		{
			Name: names[dataIndex], Type: uint32(elf.SHT_PROGBITS),
			Flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE),
			Off:   offsets[dataIndex], Size: uint64(data.Len()), Addralign: 8,
		},
		{
			Name: names[symtabIndex], Type: uint32(elf.SHT_SYMTAB),
			Off: offsets[symtabIndex], Size: uint64(symtab.Len()),
			Link: strtabIndex, Info: uint32(firstGlobal), Addralign: 8, Entsize: elf.Sym64Size,
		},
		{
			Name: names[strtabIndex], Type: uint32(elf.SHT_STRTAB),
			Off: offsets[strtabIndex], Size: uint64(len(strtab.bytes())), Addralign: 1,
		},
		{
			Name: names[shstrtabIndex], Type: uint32(elf.SHT_STRTAB),
			Off: offsets[shstrtabIndex], Size: uint64(len(shstrtab.bytes())), Addralign: 1,
		},
	}
	for _, h := range headers {
		binary.Write(&out, binary.LittleEndian, h)
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(w.machine),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shoff,
		Ehsize:    64,
		Shentsize: 64,
		Shnum:     numSections,
		Shstrndx:  shstrtabIndex,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var hb bytes.Buffer
	binary.Write(&hb, binary.LittleEndian, hdr)

	b := out.Bytes()
	copy(b, hb.Bytes())
	return b
}

func alignBuffer(b *bytes.Buffer, align int) {
	for b.Len()%align != 0 {
		b.WriteByte(0)
	}
}

type stringTable struct {
	buf     bytes.Buffer
	offsets map[string]uint32
}

func newStringTable() *stringTable {
	t := &stringTable{offsets: make(map[string]uint32)}
	t.buf.WriteByte(0)
	return t
}

func (t *stringTable) add(s string) uint32 {
	if s == "" {
		return 0
	}
	if off, ok := t.offsets[s]; ok {
		return off
	}
	off := uint32(t.buf.Len())
	t.buf.WriteString(s)
	t.buf.WriteByte(0)
	t.offsets[s] = off
	return off
}

func (t *stringTable) bytes() []byte { return t.buf.Bytes() }
