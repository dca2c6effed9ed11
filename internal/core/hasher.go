package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "CoverLedger:genesis:v1"

// GenesisHash is the chain tip before the first event.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ChainHash computes SHA-256(prev || le64(sequence) || digest). Integrity
// checks call it directly to re-walk the persisted chain.
func ChainHash(prev [32]byte, sequence int64, digest []byte) [32]byte {
	buf := make([]byte, 0, len(prev)+8+len(digest))
	buf = append(buf, prev[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(sequence))
	buf = append(buf, digest...)
	return sha256.Sum256(buf)
}

// StateHasher holds the chain tip. Every applied or rejected event extends
// it, so the tip commits to the whole log.
type StateHasher struct {
	tip [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: GenesisHash()}
}

// ComputeHash extends the chain and returns the new tip.
func (h *StateHasher) ComputeHash(sequence int64, digest []byte) [32]byte {
	h.tip = ChainHash(h.tip, sequence, digest)
	return h.tip
}

func (h *StateHasher) GetPrevHash() [32]byte { return h.tip }

// SetPrevHash moves the tip when restoring from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) { h.tip = hash }
