package core

import (
	"crypto/sha1"
	"encoding/hex"
	"hash"
)

// Hasher accumulates a SHA-1 over the logical (uncompressed) data of a run.
// A nil *Hasher is valid and does nothing.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns a hasher for verbose runs and nil otherwise.
func NewHasher(level LogLevel) *Hasher {
	if level != LevelVerbose {
		return nil
	}
	return &Hasher{h: sha1.New()}
}

// Write feeds p into the digest.
func (hs *Hasher) Write(p []byte) {
	if hs == nil {
		return
	}
	hs.h.Write(p)
}

// Sum returns the hex digest, or "" for a nil hasher.
func (hs *Hasher) Sum() string {
	if hs == nil {
		return ""
	}
	return hex.EncodeToString(hs.h.Sum(nil))
}
