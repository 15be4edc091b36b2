package lib

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestEndToEnd tests the library surface from path validation to restored file
func TestEndToEnd(t *testing.T) {
	testDir := t.TempDir()
	content := make([]byte, 100*1024)
	if _, err := rand.Read(content); err != nil {
		t.Fatalf("Failed to generate random content: %v", err)
	}
	input := filepath.Join(testDir, "MutLoader.u")
	if err := os.WriteFile(input, content, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	redirect := filepath.Join(testDir, "Redirect")
	req := NewRequest(input, redirect)
	req.Level = LevelVerbose
	cres, err := CompressFile(context.Background(), req, WithLevel(9))
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}
	if cres.Chunks != 4 {
		t.Errorf("Expected 4 chunks, got %d", cres.Chunks)
	}

	dreq := NewRequest(req.OutputPath, filepath.Join(testDir, "System"))
	dreq.Level = LevelVerbose
	dres, err := DecompressFile(context.Background(), dreq)
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}
	if dres.Digest != cres.Digest {
		t.Errorf("Digest mismatch %s vs %s", cres.Digest, dres.Digest)
	}
	restored, err := os.ReadFile(dreq.OutputPath)
	if err != nil {
		t.Fatalf("Failed to read decompressed file: %v", err)
	}
	if !bytes.Equal(content, restored) {
		t.Fatalf("Decompressed content does not match original content")
	}
}

// TestErrorKinds tests that callers can classify errors without message text
func TestErrorKinds(t *testing.T) {
	testDir := t.TempDir()
	core := filepath.Join(testDir, "Core.u")
	if err := os.WriteFile(core, []byte("data"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	err := ValidateCompressiblePath(NewRequest(core, ""))
	if !errors.Is(err, ErrIsKFPackage) || !IsEligibilityError(err) || !IsIgnorable(err) {
		t.Errorf("Unexpected classification for %v", err)
	}
	var pe *PathError
	if !errors.As(err, &pe) || pe.Path != core {
		t.Errorf("Expected the offending path in the error, got %v", err)
	}

	err = ValidateDecompressiblePath(NewRequest(core, ""))
	if !errors.Is(err, ErrFileAlreadyDecompressed) {
		t.Errorf("Expected ErrFileAlreadyDecompressed, got %v", err)
	}

	stream := []byte{0x49, 0x81, 0, 0, 0, 0x80, 0, 0}
	_, err = Decompress(bytes.NewReader(stream), &bytes.Buffer{})
	var fe *FormatError
	if !errors.Is(err, ErrChunkTooLarge) || !IsFormatError(err) || !errors.As(err, &fe) {
		t.Fatalf("Expected a chunk size error, got %v", err)
	}
	if fe.Value != 33097 || fe.Limit != MaxCompressedChunk {
		t.Errorf("Expected value 33097 and limit %d, got %+v", MaxCompressedChunk, fe)
	}
	if IsIgnorable(err) {
		t.Errorf("Format errors are failures, not skips")
	}
}
