package orc

import (
	"errors"
	"fmt"
	"strings"

	crdberrors "github.com/cockroachdb/errors"
)

// ErrorCode categorizes layer and library errors.
type ErrorCode string

const (
	// ErrCodeDuplicateDefinition indicates a strong definition already exists.
	ErrCodeDuplicateDefinition ErrorCode = "DUPLICATE_DEFINITION"

	// ErrCodeObjectFormat indicates bytes that do not parse as an object file.
	ErrCodeObjectFormat ErrorCode = "OBJECT_FORMAT"

	// ErrCodeUnsupportedFormat indicates a recognized but unsupported object.
	ErrCodeUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"

	// ErrCodeInvalidSymbolName indicates a name that cannot be interned.
	ErrCodeInvalidSymbolName ErrorCode = "INVALID_SYMBOL_NAME"

	// ErrCodeSymbolsNotFound indicates a lookup of undefined symbols.
	ErrCodeSymbolsNotFound ErrorCode = "SYMBOLS_NOT_FOUND"

	// ErrCodeFailedToMaterialize indicates a backend failed the symbols.
	ErrCodeFailedToMaterialize ErrorCode = "FAILED_TO_MATERIALIZE"

	// ErrCodeProtocolViolation indicates a responsibility misuse.
	ErrCodeProtocolViolation ErrorCode = "PROTOCOL_VIOLATION"
)

// DuplicateDefinitionError is returned by Library.Define when a unit
// strongly defines a name that is already strongly defined (or already
// materializing) in the library. Nothing was registered.
type DuplicateDefinitionError struct {
	Library string
	Names   []string
}

func (e *DuplicateDefinitionError) Error() string {
	return fmt.Sprintf("%s: duplicate definition of %s in library %q",
		ErrCodeDuplicateDefinition, strings.Join(e.Names, ", "), e.Library)
}

// Code returns ErrCodeDuplicateDefinition.
func (e *DuplicateDefinitionError) Code() ErrorCode { return ErrCodeDuplicateDefinition }

// ObjectFormatError is returned when an object buffer cannot be parsed.
type ObjectFormatError struct {
	Reason string
	Err    error
}

func (e *ObjectFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrCodeObjectFormat, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrCodeObjectFormat, e.Reason)
}

func (e *ObjectFormatError) Unwrap() error { return e.Err }

// Code returns ErrCodeObjectFormat.
func (e *ObjectFormatError) Code() ErrorCode { return ErrCodeObjectFormat }

// UnsupportedFormatError is returned for object containers that are
// recognized but cannot be loaded for the session target.
type UnsupportedFormatError struct {
	Format string
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrCodeUnsupportedFormat, e.Format, e.Reason)
}

// Code returns ErrCodeUnsupportedFormat.
func (e *UnsupportedFormatError) Code() ErrorCode { return ErrCodeUnsupportedFormat }

// InvalidSymbolNameError is returned when a name cannot be interned.
type InvalidSymbolNameError struct {
	Name   string
	Reason string
}

func (e *InvalidSymbolNameError) Error() string {
	return fmt.Sprintf("%s: %q: %s", ErrCodeInvalidSymbolName, e.Name, e.Reason)
}

// Code returns ErrCodeInvalidSymbolName.
func (e *InvalidSymbolNameError) Code() ErrorCode { return ErrCodeInvalidSymbolName }

// SymbolsNotFoundError is returned by lookups of names with no definition.
type SymbolsNotFoundError struct {
	Library string
	Names   []string
}

func (e *SymbolsNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s in library %q",
		ErrCodeSymbolsNotFound, strings.Join(e.Names, ", "), e.Library)
}

// Code returns ErrCodeSymbolsNotFound.
func (e *SymbolsNotFoundError) Code() ErrorCode { return ErrCodeSymbolsNotFound }

// FailedToMaterializeError is returned by lookups of names a backend failed.
type FailedToMaterializeError struct {
	Library string
	Names   []string
}

func (e *FailedToMaterializeError) Error() string {
	return fmt.Sprintf("%s: %s in library %q",
		ErrCodeFailedToMaterialize, strings.Join(e.Names, ", "), e.Library)
}

// Code returns ErrCodeFailedToMaterialize.
func (e *FailedToMaterializeError) Code() ErrorCode { return ErrCodeFailedToMaterialize }

// ProtocolViolationError reports a responsibility that was misused or left
// symbols neither emitted nor failed.
type ProtocolViolationError struct {
	Key     ModuleKey
	Message string
	Names   []string
}

func (e *ProtocolViolationError) Error() string {
	if len(e.Names) == 0 {
		return fmt.Sprintf("%s: %s (key=%s)", ErrCodeProtocolViolation, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s: %s (key=%s)",
		ErrCodeProtocolViolation, e.Message, strings.Join(e.Names, ", "), e.Key)
}

// Code returns ErrCodeProtocolViolation.
func (e *ProtocolViolationError) Code() ErrorCode { return ErrCodeProtocolViolation }

// coded is implemented by every error type in this package.
type coded interface {
	error
	Code() ErrorCode
}

// CodeOf returns the ErrorCode carried by err, or "" if none.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var c coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// IsDuplicateDefinition returns true if err is a duplicate-definition error.
func IsDuplicateDefinition(err error) bool {
	var de *DuplicateDefinitionError
	return errors.As(err, &de)
}

// IsObjectFormatError returns true if err is an object-format error.
func IsObjectFormatError(err error) bool {
	var oe *ObjectFormatError
	return errors.As(err, &oe)
}

// IsUnsupportedFormat returns true if err is an unsupported-format error.
func IsUnsupportedFormat(err error) bool {
	var ue *UnsupportedFormatError
	return errors.As(err, &ue)
}

// IsFailedToMaterialize returns true if a backend failed the looked-up symbols.
func IsFailedToMaterialize(err error) bool {
	var fe *FailedToMaterializeError
	return errors.As(err, &fe)
}

// IsProtocolViolation returns true if err reports a responsibility misuse.
func IsProtocolViolation(err error) bool {
	var pe *ProtocolViolationError
	return errors.As(err, &pe)
}

// fatalf aborts on an internal-consistency violation. These are programmer
// errors in a library or backend and are never retried.
func fatalf(format string, args ...any) {
	panic(crdberrors.AssertionFailedf(format, args...))
}
