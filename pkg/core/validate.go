package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Validator decides whether a file may be processed and where its output goes.
type Validator struct {
	Packages   *PackageSet // Base-game files that are never compressed
	Extensions []string    // Asset extensions eligible for compression, without dots
}

// NewValidator returns a validator using the base-game package list.
func NewValidator() *Validator {
	return &Validator{Packages: DefaultPackageSet(), Extensions: DefaultExtensions}
}

// ValidateCompressible checks req for compression and rewrites req.OutputPath
// into the final redirect file path.
func (v *Validator) ValidateCompressible(req *Request) error {
	const op = "compress"
	if !isRegularFile(req.InputPath) {
		return &PathError{Op: op, Path: req.InputPath, Err: ErrFileDoesntExist}
	}
	if HasCompressedExtension(req.InputPath) {
		return &PathError{Op: op, Path: req.InputPath, Err: ErrFileAlreadyCompressed}
	}
	if req.CheckEligibility {
		if !v.isAssetExtension(req.InputPath) {
			return &PathError{Op: op, Path: req.InputPath, Err: ErrNotKFExtension}
		}
		if v.Packages.Contains(filepath.Base(req.InputPath)) {
			return &PathError{Op: op, Path: req.InputPath, Err: ErrIsKFPackage}
		}
	}

	if !hasExplicitOutput(req) {
		req.OutputPath = req.InputPath + "." + CompressedExtension
		return nil
	}
	if err := ensureDir(op, req.OutputPath); err != nil {
		return err
	}
	name, err := fileName(op, req.InputPath)
	if err != nil {
		return err
	}
	req.OutputPath = filepath.Join(req.OutputPath, name+"."+CompressedExtension)
	return nil
}

// ValidateDecompressible checks req for decompression and rewrites
// req.OutputPath into the final restored file path.
func (v *Validator) ValidateDecompressible(req *Request) error {
	const op = "decompress"
	if !isRegularFile(req.InputPath) {
		return &PathError{Op: op, Path: req.InputPath, Err: ErrFileDoesntExist}
	}
	if !HasCompressedExtension(req.InputPath) {
		return &PathError{Op: op, Path: req.InputPath, Err: ErrFileAlreadyDecompressed}
	}

	if !hasExplicitOutput(req) {
		req.OutputPath = stripExtension(req.InputPath)
		return nil
	}
	if err := ensureDir(op, req.OutputPath); err != nil {
		return err
	}
	name, err := fileName(op, req.InputPath)
	if err != nil {
		return err
	}
	req.OutputPath = filepath.Join(req.OutputPath, stripExtension(name))
	return nil
}

// HasCompressedExtension reports whether path ends in the redirect extension.
func HasCompressedExtension(path string) bool {
	return strings.EqualFold(extension(path), CompressedExtension)
}

// CheckSignature verifies that r starts with the KF1 package signature and
// rewinds it.
func CheckSignature(r io.ReadSeeker) error {
	var sig [packageSignatureBytes]byte
	if _, err := io.ReadFull(r, sig[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrInvalidPackage
		}
		return fmt.Errorf("read signature: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind input: %w", err)
	}
	if !bytes.Equal(sig[:], PackageSignature[:]) {
		return ErrInvalidPackage
	}
	return nil
}

func (v *Validator) isAssetExtension(path string) bool {
	ext := extension(path)
	for _, e := range v.Extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

func hasExplicitOutput(req *Request) bool {
	if req.OutputPath == "" {
		return false
	}
	return filepath.Clean(req.OutputPath) != filepath.Clean(req.InputPath)
}

// ensureDir creates the output directory if it does not exist yet.
func ensureDir(op, dir string) error {
	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return &PathError{Op: op, Path: dir, Err: fmt.Errorf("%w: not a directory", ErrCreateDir)}
	case !errors.Is(err, os.ErrNotExist):
		return &PathError{Op: op, Path: dir, Err: fmt.Errorf("%w: %w", ErrCreateDir, err)}
	}
	if err := os.Mkdir(dir, 0755); err != nil && !errors.Is(err, os.ErrExist) {
		return &PathError{Op: op, Path: dir, Err: fmt.Errorf("%w: %w", ErrCreateDir, err)}
	}
	return nil
}

func fileName(op, path string) (string, error) {
	name := filepath.Base(path)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return "", &PathError{Op: op, Path: path, Err: ErrFileName}
	}
	return name, nil
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func extension(path string) string {
	return strings.TrimPrefix(filepath.Ext(path), ".")
}

func stripExtension(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}
