package diag

import (
	"context"
	"errors"
	"io/fs"

	"kfuz2/pkg/core"
)

// Code is a coarse error class for log aggregation. It is independent of
// process exit codes.
type Code string

const (
	CodeUnknown     Code = "unknown"
	CodeEligibility Code = "eligibility"
	CodeFormat      Code = "format"
	CodeCancel      Code = "cancel"
	CodeIO          Code = "io"
)

// Classify maps err to a Code using sentinel errors and error types only.
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if errors.Is(err, core.ErrCanceled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if core.IsFormatError(err) {
		return CodeFormat
	}
	if core.IsEligibilityError(err) {
		return CodeEligibility
	}
	var perr *fs.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	return CodeUnknown
}
