package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zlib"
)

// Decompress reads a redirect stream from r and writes the restored data to w.
// Declared chunk sizes are checked against their bounds before any payload
// is read.
func Decompress(r io.Reader, w io.Writer, opts ...Option) (Result, error) {
	o := newOptions(opts)
	start := time.Now()

	payload := make([]byte, MaxCompressedChunk)
	out := make([]byte, MaxUncompressedChunk+1)
	src := bytes.NewReader(nil)
	var zr io.ReadCloser
	var header [chunkHeaderSize]byte
	var res Result

	for {
		// 1. compressed size; a clean EOF here ends the stream
		if _, err := io.ReadFull(r, header[0:4]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Result{}, readError(res.Chunks, "compressed size", err)
		}
		// 2. uncompressed size; the header must be complete
		if _, err := io.ReadFull(r, header[4:8]); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Result{}, readError(res.Chunks, "uncompressed size", err)
		}
		res.InputSize += chunkHeaderSize

		compressedSize := binary.LittleEndian.Uint32(header[0:4])
		if compressedSize > MaxCompressedChunk {
			return Result{}, tooLarge(res.Chunks, "compressed size", compressedSize, MaxCompressedChunk)
		}
		uncompressedSize := binary.LittleEndian.Uint32(header[4:8])
		if uncompressedSize > MaxUncompressedChunk {
			return Result{}, tooLarge(res.Chunks, "uncompressed size", uncompressedSize, MaxUncompressedChunk)
		}

		// 3. payload
		chunk := payload[:compressedSize]
		if _, err := io.ReadFull(r, chunk); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Result{}, readError(res.Chunks, "payload", err)
		}
		res.InputSize += int64(compressedSize)

		// 4. inflate with a decoder reset per chunk
		src.Reset(chunk)
		var err error
		if zr == nil {
			zr, err = zlib.NewReader(src)
		} else {
			err = zr.(zlib.Resetter).Reset(src, nil)
		}
		if err != nil {
			return Result{}, damaged(res.Chunks, fmt.Sprintf("bad zlib header: %v", err))
		}
		// Only a clean EOF ends the chunk; a stream cut before its checksum
		// surfaces as io.ErrUnexpectedEOF and is damage.
		n := 0
		for n < len(out) {
			m, err := zr.Read(out[n:])
			n += m
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return Result{}, damaged(res.Chunks, fmt.Sprintf("inflate: %v", err))
			}
		}

		// 5. the inflated length must match the header
		if uint64(n) != uint64(uncompressedSize) {
			return Result{}, &FormatError{
				Chunk: res.Chunks,
				Field: "uncompressed size",
				Value: uint64(n),
				Limit: uint64(uncompressedSize),
				Detail: fmt.Sprintf("decompressed chunk has a different size (%d) than the saved value (%d)",
					n, uncompressedSize),
				Err: ErrDamaged,
			}
		}

		// 6. write
		if _, err := w.Write(out[:n]); err != nil {
			return Result{}, fmt.Errorf("write chunk %d: %w", res.Chunks, err)
		}
		o.hasher.Write(out[:n])
		o.progress(chunkHeaderSize + uint64(compressedSize))

		res.OutputSize += int64(n)
		res.Chunks++
	}

	res.Elapsed = time.Since(start)
	res.Digest = o.hasher.Sum()
	return res, nil
}

func readError(chunk uint32, field string, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &FormatError{
			Chunk:  chunk,
			Field:  field,
			Detail: "tried to read " + field + " beyond end of file",
			Err:    ErrTruncated,
		}
	}
	return fmt.Errorf("read %s of chunk %d: %w", field, chunk, err)
}

func tooLarge(chunk uint32, field string, value uint32, limit uint32) error {
	return &FormatError{
		Chunk:  chunk,
		Field:  field,
		Value:  uint64(value),
		Limit:  uint64(limit),
		Detail: fmt.Sprintf("%s (%d) is bigger than max allowed chunk size (%d)", field, value, limit),
		Err:    ErrChunkTooLarge,
	}
}

func damaged(chunk uint32, detail string) error {
	return &FormatError{Chunk: chunk, Field: "payload", Detail: detail, Err: ErrDamaged}
}
