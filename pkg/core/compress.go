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

// Option configures a Compress or Decompress run.
type Option func(*options)

type options struct {
	level    int
	hasher   *Hasher
	progress func(n uint64)
}

// WithLevel sets the zlib compression level used for each chunk.
func WithLevel(level int) Option {
	return func(o *options) { o.level = level }
}

// WithHasher feeds the logical data of the run into h. A nil h disables hashing.
func WithHasher(h *Hasher) Option {
	return func(o *options) { o.hasher = h }
}

// WithProgress calls fn with the number of input bytes consumed by every
// processed chunk: logical bytes when compressing, header plus payload when
// decompressing. Summed over a stream it equals the input size.
func WithProgress(fn func(n uint64)) Option {
	return func(o *options) {
		if fn != nil {
			o.progress = fn
		}
	}
}

func newOptions(opts []Option) options {
	o := options{level: zlib.DefaultCompression, progress: func(uint64) {}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Compress reads r to the end and writes it to w as a redirect stream.
// Every chunk holds up to MaxUncompressedChunk bytes of input and is an
// independent zlib stream.
func Compress(r io.Reader, w io.Writer, opts ...Option) (Result, error) {
	o := newOptions(opts)
	start := time.Now()

	var payload bytes.Buffer
	zw, err := zlib.NewWriterLevel(&payload, o.level)
	if err != nil {
		return Result{}, fmt.Errorf("create zlib writer: %w", err)
	}

	buf := make([]byte, MaxUncompressedChunk)
	var header [chunkHeaderSize]byte
	var res Result
	for {
		n, err := io.ReadFull(r, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return Result{}, fmt.Errorf("read chunk %d: %w", res.Chunks, err)
		}
		if n == 0 {
			break
		}
		block := buf[:n]

		payload.Reset()
		zw.Reset(&payload)
		if _, err := zw.Write(block); err != nil {
			return Result{}, fmt.Errorf("compress chunk %d: %w", res.Chunks, err)
		}
		if err := zw.Close(); err != nil {
			return Result{}, fmt.Errorf("close chunk %d: %w", res.Chunks, err)
		}
		if payload.Len() > MaxCompressedChunk {
			return Result{}, &FormatError{
				Chunk:  res.Chunks,
				Field:  "compressed size",
				Value:  uint64(payload.Len()),
				Limit:  MaxCompressedChunk,
				Detail: fmt.Sprintf("compressed size %d exceeds maximum %d", payload.Len(), MaxCompressedChunk),
				Err:    ErrChunkTooLarge,
			}
		}

		binary.LittleEndian.PutUint32(header[0:4], uint32(payload.Len()))
		binary.LittleEndian.PutUint32(header[4:8], uint32(n))
		if _, err := w.Write(header[:]); err != nil {
			return Result{}, fmt.Errorf("write chunk header %d: %w", res.Chunks, err)
		}
		if _, err := w.Write(payload.Bytes()); err != nil {
			return Result{}, fmt.Errorf("write chunk %d: %w", res.Chunks, err)
		}
		o.hasher.Write(block)
		o.progress(uint64(n))

		res.InputSize += int64(n)
		res.OutputSize += int64(chunkHeaderSize + payload.Len())
		res.Chunks++
		if n < len(buf) {
			break
		}
	}

	res.Elapsed = time.Since(start)
	res.Digest = o.hasher.Sum()
	return res, nil
}
