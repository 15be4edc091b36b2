package core

import (
	"errors"
	"fmt"
)

// Eligibility errors, raised before any stream is opened.
var (
	ErrFileDoesntExist         = errors.New("file doesn't exist")
	ErrFileAlreadyCompressed   = errors.New("file is already compressed")
	ErrFileAlreadyDecompressed = errors.New("file is already decompressed")
	ErrNotKFExtension          = errors.New("wrong extension")
	ErrIsKFPackage             = errors.New("core KF1 package")
	ErrFileName                = errors.New("unable to extract file name")
	ErrCreateDir               = errors.New("unable to create output directory")
	ErrInvalidPackage          = errors.New("not a KF package")
	ErrOutputCollision         = errors.New("output path already used by another input")
)

// Format errors, raised while consuming a redirect stream. All of them
// wrap ErrInvalidData.
var (
	ErrInvalidData   = errors.New("invalid data")
	ErrChunkTooLarge = fmt.Errorf("%w: chunk size exceeds maximum", ErrInvalidData)
	ErrDamaged       = fmt.Errorf("%w: damaged file", ErrInvalidData)
	ErrTruncated     = fmt.Errorf("%w: truncated file", ErrInvalidData)
)

// ErrCanceled reports a file that was skipped because processing was canceled.
var ErrCanceled = errors.New("processing canceled")

// PathError records an eligibility failure and the path that caused it.
type PathError struct {
	Op   string // "compress" or "decompress"
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// FormatError records a malformed chunk.
type FormatError struct {
	Chunk  uint32 // Zero-based index of the offending chunk
	Field  string // Header field or stage that failed
	Value  uint64 // Offending value
	Limit  uint64 // Bound or declared value it was checked against
	Detail string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("chunk %d: %s: %v", e.Chunk, e.Detail, e.Err)
	}
	return fmt.Sprintf("chunk %d: %s: %v", e.Chunk, e.Field, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// IsEligibilityError reports whether err was raised by path validation.
func IsEligibilityError(err error) bool {
	var pe *PathError
	return errors.As(err, &pe)
}

// IsFormatError reports whether err describes a malformed redirect stream.
func IsFormatError(err error) bool {
	return errors.Is(err, ErrInvalidData)
}

// IsIgnorable reports whether err means the file was skipped rather than failed.
func IsIgnorable(err error) bool {
	return errors.Is(err, ErrIsKFPackage) ||
		errors.Is(err, ErrFileAlreadyCompressed) ||
		errors.Is(err, ErrFileAlreadyDecompressed) ||
		errors.Is(err, ErrNotKFExtension) ||
		errors.Is(err, ErrCanceled)
}
