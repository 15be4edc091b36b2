package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

type streamFunc func(r io.Reader, w io.Writer, opts ...Option) (Result, error)

// CompressFile validates req, compresses req.InputPath into the derived
// output path and returns the run's result. ctx is checked once before
// the file is started; a running file is never interrupted.
func (v *Validator) CompressFile(ctx context.Context, req *Request, opts ...Option) (Result, error) {
	if err := checkCanceled(ctx); err != nil {
		return Result{}, err
	}
	if err := v.ValidateCompressible(req); err != nil {
		return Result{}, err
	}
	return processFile(req, Compress, req.RequireSignature, opts)
}

// DecompressFile validates req and restores req.InputPath into the derived
// output path.
func (v *Validator) DecompressFile(ctx context.Context, req *Request, opts ...Option) (Result, error) {
	if err := checkCanceled(ctx); err != nil {
		return Result{}, err
	}
	if err := v.ValidateDecompressible(req); err != nil {
		return Result{}, err
	}
	return processFile(req, Decompress, false, opts)
}

func checkCanceled(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return nil
}

// processFile runs fn over the request's streams. checkSig requires the
// input to start with the package signature, which only plain packages
// carry. The output file is removed if anything fails after it was created.
func processFile(req *Request, fn streamFunc, checkSig bool, opts []Option) (Result, error) {
	in, err := os.Open(req.InputPath)
	if err != nil {
		return Result{}, fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	if checkSig {
		if err := CheckSignature(in); err != nil {
			if errors.Is(err, ErrInvalidPackage) {
				return Result{}, &PathError{Op: "compress", Path: req.InputPath, Err: err}
			}
			return Result{}, err
		}
	}

	out, err := os.Create(req.OutputPath)
	if err != nil {
		return Result{}, fmt.Errorf("create output: %w", err)
	}

	opts = append([]Option{WithHasher(NewHasher(req.Level))}, opts...)
	bw := bufio.NewWriter(out)
	res, err := fn(bufio.NewReader(in), bw, opts...)
	if err == nil {
		if ferr := bw.Flush(); ferr != nil {
			err = fmt.Errorf("flush output: %w", ferr)
		}
	}
	if cerr := out.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close output: %w", cerr)
	}
	if err != nil {
		if rerr := os.Remove(req.OutputPath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			return Result{}, errors.Join(err, fmt.Errorf("remove partial output: %w", rerr))
		}
		return Result{}, err
	}
	return res, nil
}
