package core

import "time"

// Constants for the redirect (uz2) format
const (
	CompressedExtension   = "uz2" // Redirect file extension
	MaxCompressedChunk    = 33096 // Upper bound of a chunk's compressed payload
	MaxUncompressedChunk  = 32768 // Upper bound of a chunk's logical data
	chunkHeaderSize       = 8     // Two little-endian uint32 sizes
	packageSignatureBytes = 4
)

// PackageSignature is the leading tag of every KF1 package file.
var PackageSignature = [packageSignatureBytes]byte{0xC2, 0x83, 0x2A, 0x9E}

// DefaultExtensions lists the asset extensions eligible for compression.
var DefaultExtensions = []string{"u", "utx", "usx", "ukx", "uax", "rom"}

// LogLevel controls how much a run reports.
type LogLevel int

const (
	LevelDefault LogLevel = iota
	LevelVerbose          // Also enables SHA-1 hashing
	LevelMinimal          // Nothing on success
)

// Request describes a single file operation.
type Request struct {
	InputPath  string // File to read
	OutputPath string // Explicit output directory; empty or equal to InputPath means "next to input"
	// CheckEligibility enables the extension and vanilla package checks.
	CheckEligibility bool
	// RequireSignature rejects compression input without the KF1 package signature.
	RequireSignature bool
	Level            LogLevel
}

// NewRequest returns a request with eligibility checks enabled.
func NewRequest(input, output string) *Request {
	if output == "" {
		output = input
	}
	return &Request{InputPath: input, OutputPath: output, CheckEligibility: true}
}

// Result holds the outcome of one successful compress or decompress run.
type Result struct {
	Elapsed    time.Duration
	Chunks     uint32
	InputSize  int64  // Bytes consumed from the input stream
	OutputSize int64  // Bytes written to the output stream
	Digest     string // Hex SHA-1 of the logical data, empty unless hashing was enabled
}

// Ratio returns OutputSize/InputSize, or 0 for empty input.
func (r Result) Ratio() float64 {
	if r.InputSize == 0 {
		return 0
	}
	return float64(r.OutputSize) / float64(r.InputSize)
}
