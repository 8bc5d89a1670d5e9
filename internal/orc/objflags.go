package orc

import (
	"debug/elf"
	"errors"
	"fmt"

	"github.com/roach88/lazyjit/internal/objfile"
)

// ObjectSymbolFlags derives the flags map of a relocatable object.
//
// Every defined GLOBAL or WEAK symbol that is not a section, file or debug
// entry gets an entry: callable if its section is executable, data
// otherwise; weak if its binding is WEAK; exported unless its visibility
// is hidden or internal. COMMON symbols are data with FlagCommon.
//
// Bytes that do not parse yield *ObjectFormatError; recognized objects that
// cannot be loaded for the session target yield *UnsupportedFormatError.
// On error the map is nil. The result depends only on obj.
func ObjectSymbolFlags(s *Session, obj []byte) (SymbolFlagsMap, error) {
	f, err := objfile.Parse(obj)
	if err != nil {
		return nil, convertObjfileError(err)
	}
	if target := s.Target(); target != elf.EM_NONE && f.Machine != target {
		return nil, &UnsupportedFormatError{
			Format: string(objfile.FormatELF),
			Reason: fmt.Sprintf("machine %s does not match target %s", f.Machine, target),
		}
	}

	flags := make(SymbolFlagsMap)
	for _, sym := range f.Symbols {
		if !f.IsExternal(sym) {
			continue
		}
		name, err := s.Intern(sym.Name)
		if err != nil {
			return nil, &ObjectFormatError{Reason: "bad symbol name", Err: err}
		}
		flags[name] = objectSymbolFlags(f, sym)
	}
	return flags, nil
}

func objectSymbolFlags(f *objfile.File, sym objfile.Symbol) SymbolFlags {
	var flags SymbolFlags
	if sym.Binding == elf.STB_WEAK {
		flags |= FlagWeak
	}
	if sym.Visibility != elf.STV_HIDDEN && sym.Visibility != elf.STV_INTERNAL {
		flags |= FlagExported
	}
	if sym.Section == elf.SHN_COMMON {
		flags |= FlagCommon
	}
	if sec := f.Section(sym.Section); sec != nil && sec.Executable {
		flags |= FlagCallable
	}
	return flags
}

func convertObjfileError(err error) error {
	var fe *objfile.FormatError
	if errors.As(err, &fe) {
		return &ObjectFormatError{Reason: fmt.Sprintf("cannot parse %s object", fe.Format), Err: fe.Err}
	}
	var ue *objfile.UnsupportedError
	if errors.As(err, &ue) {
		return &UnsupportedFormatError{Format: string(ue.Format), Reason: ue.Reason}
	}
	return &ObjectFormatError{Reason: "cannot parse object", Err: err}
}
