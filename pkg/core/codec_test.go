package core

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/klauspost/compress/zlib"
)

// randomBytes returns n bytes of random content
func randomBytes(t testing.TB, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("Failed to generate random content: %v", err)
	}
	return b
}

// patternBytes returns n bytes of compressible content
func patternBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

// zlibChunk returns a single zlib stream of data
func zlibChunk(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("Failed to compress chunk: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to close zlib writer: %v", err)
	}
	return buf.Bytes()
}

// rawChunk serializes one chunk with the given declared sizes
func rawChunk(compressedSize, uncompressedSize uint32, payload []byte) []byte {
	var header [chunkHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], compressedSize)
	binary.LittleEndian.PutUint32(header[4:8], uncompressedSize)
	return append(header[:], payload...)
}

// TestRoundTrip tests that decompress(compress(data)) == data for various sizes
func TestRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 100, MaxUncompressedChunk - 1, MaxUncompressedChunk, MaxUncompressedChunk + 1, 3*MaxUncompressedChunk + 17}
	for _, size := range sizes {
		for _, content := range [][]byte{randomBytes(t, size), patternBytes(size)} {
			var compressed bytes.Buffer
			cres, err := Compress(bytes.NewReader(content), &compressed)
			if err != nil {
				t.Fatalf("Compression of %d bytes failed: %v", size, err)
			}
			if cres.InputSize != int64(size) {
				t.Errorf("Input size: expected %d, got %d", size, cres.InputSize)
			}
			if cres.OutputSize != int64(compressed.Len()) {
				t.Errorf("Output size: expected %d, got %d", compressed.Len(), cres.OutputSize)
			}

			var restored bytes.Buffer
			dres, err := Decompress(bytes.NewReader(compressed.Bytes()), &restored)
			if err != nil {
				t.Fatalf("Decompression of %d bytes failed: %v", size, err)
			}
			if !bytes.Equal(content, restored.Bytes()) {
				t.Fatalf("Decompressed content does not match original content (size %d)", size)
			}
			if dres.Chunks != cres.Chunks {
				t.Errorf("Chunk count mismatch: compress %d, decompress %d", cres.Chunks, dres.Chunks)
			}
		}
	}
}

// TestChunkCount tests that L bytes produce ceil(L/32768) chunks
func TestChunkCount(t *testing.T) {
	for _, size := range []int{0, 1, MaxUncompressedChunk, MaxUncompressedChunk + 1, 5 * MaxUncompressedChunk} {
		var compressed bytes.Buffer
		res, err := Compress(bytes.NewReader(patternBytes(size)), &compressed)
		if err != nil {
			t.Fatalf("Compression failed: %v", err)
		}
		want := uint32((size + MaxUncompressedChunk - 1) / MaxUncompressedChunk)
		if res.Chunks != want {
			t.Errorf("Size %d: expected %d chunks, got %d", size, want, res.Chunks)
		}
		if size == 0 && compressed.Len() != 0 {
			t.Errorf("Empty input produced %d bytes of output", compressed.Len())
		}
	}
}

// TestSeventyThousandBytes tests the three-chunk layout and SHA-1 parity
func TestSeventyThousandBytes(t *testing.T) {
	content := randomBytes(t, 70000)
	sum := sha1.Sum(content)
	wantDigest := hex.EncodeToString(sum[:])

	var compressed bytes.Buffer
	cres, err := Compress(bytes.NewReader(content), &compressed, WithHasher(NewHasher(LevelVerbose)))
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}
	if cres.Chunks != 3 {
		t.Fatalf("Expected 3 chunks, got %d", cres.Chunks)
	}
	if cres.Digest != wantDigest {
		t.Errorf("Compress digest: expected %s, got %s", wantDigest, cres.Digest)
	}

	// Walk the chunk headers and inflate each payload on its own
	data := compressed.Bytes()
	wantSizes := []uint32{32768, 32768, 4464}
	for i, want := range wantSizes {
		if len(data) < chunkHeaderSize {
			t.Fatalf("Chunk %d: header missing", i)
		}
		csize := binary.LittleEndian.Uint32(data[0:4])
		usize := binary.LittleEndian.Uint32(data[4:8])
		if usize != want {
			t.Errorf("Chunk %d: expected uncompressed size %d, got %d", i, want, usize)
		}
		payload := data[chunkHeaderSize : chunkHeaderSize+int(csize)]
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("Chunk %d is not an independent zlib stream: %v", i, err)
		}
		var inflated bytes.Buffer
		if _, err := inflated.ReadFrom(zr); err != nil {
			t.Fatalf("Chunk %d: inflate failed: %v", i, err)
		}
		if uint32(inflated.Len()) != usize {
			t.Errorf("Chunk %d: inflated %d bytes, header says %d", i, inflated.Len(), usize)
		}
		data = data[chunkHeaderSize+int(csize):]
	}
	if len(data) != 0 {
		t.Fatalf("Unexpected %d trailing bytes", len(data))
	}

	var restored bytes.Buffer
	dres, err := Decompress(bytes.NewReader(compressed.Bytes()), &restored, WithHasher(NewHasher(LevelVerbose)))
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}
	if !bytes.Equal(content, restored.Bytes()) {
		t.Fatalf("Decompressed content does not match original content")
	}
	if dres.Digest != wantDigest {
		t.Errorf("Decompress digest: expected %s, got %s", wantDigest, dres.Digest)
	}
	if dres.OutputSize != 70000 {
		t.Errorf("Expected output size 70000, got %d", dres.OutputSize)
	}
}

// TestDecompressErrors tests rejection of malformed redirect streams
func TestDecompressErrors(t *testing.T) {
	good := zlibChunk(t, []byte("hello redirect"))

	testCases := []struct {
		name    string
		stream  []byte
		wantErr error
	}{
		{
			name:    "Compressed size over bound",
			stream:  rawChunk(MaxCompressedChunk+1, 10, nil),
			wantErr: ErrChunkTooLarge,
		},
		{
			name:    "Uncompressed size over bound",
			stream:  rawChunk(uint32(len(good)), MaxUncompressedChunk+1, good),
			wantErr: ErrChunkTooLarge,
		},
		{
			name:    "Declared size mismatch",
			stream:  rawChunk(uint32(len(good)), 15, good),
			wantErr: ErrDamaged,
		},
		{
			name:    "Header truncated after compressed size",
			stream:  rawChunk(uint32(len(good)), 14, good)[:4],
			wantErr: ErrTruncated,
		},
		{
			name:    "Header truncated inside compressed size",
			stream:  []byte{1, 2},
			wantErr: ErrTruncated,
		},
		{
			name:    "Payload truncated",
			stream:  rawChunk(uint32(len(good)), 14, good)[:chunkHeaderSize+3],
			wantErr: ErrTruncated,
		},
		{
			name:    "Payload is not zlib",
			stream:  rawChunk(4, 4, []byte{0xde, 0xad, 0xbe, 0xef}),
			wantErr: ErrDamaged,
		},
		{
			name:    "Empty payload",
			stream:  rawChunk(0, 0, nil),
			wantErr: ErrDamaged,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decompress(bytes.NewReader(tc.stream), &bytes.Buffer{})
			if err == nil {
				t.Fatalf("Expected error but got none")
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			}
			if !IsFormatError(err) {
				t.Errorf("Expected a format error, got %v", err)
			}
		})
	}
}

// TestBoundErrorContext tests that size violations name the value and the bound
func TestBoundErrorContext(t *testing.T) {
	_, err := Decompress(bytes.NewReader(rawChunk(33097, 0, nil)), &bytes.Buffer{})
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected *FormatError, got %v", err)
	}
	if fe.Value != 33097 || fe.Limit != MaxCompressedChunk {
		t.Errorf("Expected value 33097 and limit %d, got %d and %d", MaxCompressedChunk, fe.Value, fe.Limit)
	}
	if fe.Field != "compressed size" {
		t.Errorf("Unexpected field %q", fe.Field)
	}
}

// TestDecompressAfterValidChunks tests that a damaged later chunk still fails the stream
func TestDecompressAfterValidChunks(t *testing.T) {
	var compressed bytes.Buffer
	if _, err := Compress(bytes.NewReader(patternBytes(2*MaxUncompressedChunk)), &compressed); err != nil {
		t.Fatalf("Compression failed: %v", err)
	}
	stream := append(compressed.Bytes(), rawChunk(MaxCompressedChunk+1, 0, nil)...)

	var restored bytes.Buffer
	_, err := Decompress(bytes.NewReader(stream), &restored)
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected *FormatError, got %v", err)
	}
	if fe.Chunk != 2 {
		t.Errorf("Expected failure at chunk 2, got %d", fe.Chunk)
	}
}

// TestHasherDisabled tests that a nil hasher yields no digest
func TestHasherDisabled(t *testing.T) {
	for _, level := range []LogLevel{LevelDefault, LevelMinimal} {
		if h := NewHasher(level); h != nil {
			t.Errorf("Level %d: expected nil hasher", level)
		}
	}
	res, err := Compress(bytes.NewReader([]byte("abc")), &bytes.Buffer{}, WithHasher(nil))
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}
	if res.Digest != "" {
		t.Errorf("Expected empty digest, got %q", res.Digest)
	}
}

// TestCompressionLevel tests that every zlib level produces a readable stream
func TestCompressionLevel(t *testing.T) {
	content := patternBytes(100000)
	for _, level := range []int{zlib.NoCompression, zlib.BestSpeed, zlib.DefaultCompression, zlib.BestCompression} {
		var compressed bytes.Buffer
		if _, err := Compress(bytes.NewReader(content), &compressed, WithLevel(level)); err != nil {
			t.Fatalf("Level %d: compression failed: %v", level, err)
		}
		var restored bytes.Buffer
		if _, err := Decompress(&compressed, &restored); err != nil {
			t.Fatalf("Level %d: decompression failed: %v", level, err)
		}
		if !bytes.Equal(content, restored.Bytes()) {
			t.Fatalf("Level %d: content mismatch", level)
		}
	}
	if _, err := Compress(bytes.NewReader(content), &bytes.Buffer{}, WithLevel(42)); err == nil {
		t.Errorf("Expected error for invalid level")
	}
}

// TestProgressCallback tests that progress reports consumed input bytes
func TestProgressCallback(t *testing.T) {
	var total uint64
	var compressed bytes.Buffer
	if _, err := Compress(bytes.NewReader(patternBytes(70000)), &compressed, WithProgress(func(n uint64) { total += n })); err != nil {
		t.Fatalf("Compression failed: %v", err)
	}
	if total != 70000 {
		t.Errorf("Compress progress: expected 70000, got %d", total)
	}

	streamSize := uint64(compressed.Len())
	total = 0
	res, err := Decompress(&compressed, &bytes.Buffer{}, WithProgress(func(n uint64) { total += n }))
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}
	if total != streamSize {
		t.Errorf("Decompress progress: expected %d, got %d", streamSize, total)
	}
	if total != uint64(res.InputSize) {
		t.Errorf("Decompress progress %d differs from input size %d", total, res.InputSize)
	}
}

// TestDecompressIncompleteZlibStream tests that a chunk whose zlib stream
// ends early is damaged even when the inflated length matches the header
func TestDecompressIncompleteZlibStream(t *testing.T) {
	data := []byte("hello redirect")
	good := zlibChunk(t, data)

	testCases := []struct {
		name    string
		payload []byte
	}{
		{name: "Missing checksum", payload: good[:len(good)-4]},
		{name: "Partial checksum", payload: good[:len(good)-2]},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stream := rawChunk(uint32(len(tc.payload)), uint32(len(data)), tc.payload)
			var restored bytes.Buffer
			_, err := Decompress(bytes.NewReader(stream), &restored)
			if !errors.Is(err, ErrDamaged) {
				t.Fatalf("Expected %v, got %v", ErrDamaged, err)
			}
			if restored.Len() != 0 {
				t.Errorf("Expected no output for a damaged chunk, got %d bytes", restored.Len())
			}
		})
	}
}
