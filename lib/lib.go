// Package lib is the small surface the CLI, server and other frontends build
// on. It re-exports the redirect codec and path validation from the core
// package.
package lib

import (
	"context"
	"io"

	"kfuz2/pkg/core"
)

// Format limits re-exported from core
const (
	CompressedExtension  = core.CompressedExtension
	MaxCompressedChunk   = core.MaxCompressedChunk
	MaxUncompressedChunk = core.MaxUncompressedChunk
)

// Request re-exported from core
type Request = core.Request

// Result re-exported from core
type Result = core.Result

// LogLevel re-exported from core
type LogLevel = core.LogLevel

// Re-export log levels
const (
	LevelDefault = core.LevelDefault
	LevelVerbose = core.LevelVerbose
	LevelMinimal = core.LevelMinimal
)

// Option re-exported from core
type Option = core.Option

// PathError and FormatError re-exported from core
type (
	PathError   = core.PathError
	FormatError = core.FormatError
)

// Re-export error kinds so callers never match on message text
var (
	ErrFileDoesntExist         = core.ErrFileDoesntExist
	ErrFileAlreadyCompressed   = core.ErrFileAlreadyCompressed
	ErrFileAlreadyDecompressed = core.ErrFileAlreadyDecompressed
	ErrNotKFExtension          = core.ErrNotKFExtension
	ErrIsKFPackage             = core.ErrIsKFPackage
	ErrFileName                = core.ErrFileName
	ErrCreateDir               = core.ErrCreateDir
	ErrInvalidPackage          = core.ErrInvalidPackage
	ErrOutputCollision         = core.ErrOutputCollision
	ErrInvalidData             = core.ErrInvalidData
	ErrChunkTooLarge           = core.ErrChunkTooLarge
	ErrDamaged                 = core.ErrDamaged
	ErrTruncated               = core.ErrTruncated
	ErrCanceled                = core.ErrCanceled
)

// defaultValidator uses the embedded vanilla package list
var defaultValidator = core.NewValidator()

// NewRequest is a wrapper around core.NewRequest
func NewRequest(input, output string) *Request {
	return core.NewRequest(input, output)
}

// ValidateCompressiblePath checks req for compression and rewrites
// req.OutputPath to the final redirect file path.
func ValidateCompressiblePath(req *Request) error {
	return defaultValidator.ValidateCompressible(req)
}

// ValidateDecompressiblePath checks req for decompression and rewrites
// req.OutputPath to the restored file path.
func ValidateDecompressiblePath(req *Request) error {
	return defaultValidator.ValidateDecompressible(req)
}

// Compress is a wrapper around core.Compress
func Compress(r io.Reader, w io.Writer, opts ...Option) (Result, error) {
	return core.Compress(r, w, opts...)
}

// Decompress is a wrapper around core.Decompress
func Decompress(r io.Reader, w io.Writer, opts ...Option) (Result, error) {
	return core.Decompress(r, w, opts...)
}

// CompressFile validates req and compresses the file it names
func CompressFile(ctx context.Context, req *Request, opts ...Option) (Result, error) {
	return defaultValidator.CompressFile(ctx, req, opts...)
}

// DecompressFile validates req and decompresses the file it names
func DecompressFile(ctx context.Context, req *Request, opts ...Option) (Result, error) {
	return defaultValidator.DecompressFile(ctx, req, opts...)
}

// WithLevel is a wrapper around core.WithLevel
func WithLevel(level int) Option { return core.WithLevel(level) }

// IsEligibilityError reports whether err was raised by path validation
func IsEligibilityError(err error) bool { return core.IsEligibilityError(err) }

// IsFormatError reports whether err describes a malformed redirect file
func IsFormatError(err error) bool { return core.IsFormatError(err) }

// IsIgnorable reports whether err means the file was skipped, not failed
func IsIgnorable(err error) bool { return core.IsIgnorable(err) }
