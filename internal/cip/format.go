// Package cip reads and writes .cip containers: AES-CTR ciphertext followed
// by the 16-byte initial counter block.
//
//	+----------------------------+---------+
//	| ciphertext (plaintext len) | IV (16) |
//	+----------------------------+---------+
//
// The key is derived from a password with PBKDF2-HMAC-SHA1. Because CTR mode
// keystream block n only depends on IV+n, any plaintext range can be
// produced without touching the bytes before it.
package cip

import (
	"crypto/aes"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// TrailerSize is the number of physical bytes that are not plaintext.
	TrailerSize = aes.BlockSize

	// BlockSize is the keystream granularity.
	BlockSize = aes.BlockSize

	kdfIterations = 1024
)

var kdfSalt = []byte{0xF4, 0x22, 0x01, 0x00, 0x9E, 0xDF, 0x4E, 0x15}

var (
	// ErrCipherBits is returned for key sizes other than 128 and 256.
	ErrCipherBits = errors.New("cip: unsupported cipher strength")
	// ErrNoPassword is returned when key material is missing.
	ErrNoPassword = errors.New("cip: empty password")
	// ErrTruncated is returned for containers shorter than the trailer.
	ErrTruncated = errors.New("cip: container shorter than trailer")
)

// ValidBits reports whether bits is a supported AES key size.
func ValidBits(bits int) bool {
	return bits == 128 || bits == 256
}

// DeriveKey turns an archive password into an AES key of the given size.
func DeriveKey(password string, bits int) ([]byte, error) {
	if !ValidBits(bits) {
		return nil, fmt.Errorf("%w: %d", ErrCipherBits, bits)
	}
	if password == "" {
		return nil, ErrNoPassword
	}
	return pbkdf2.Key([]byte(password), kdfSalt, kdfIterations, bits/8, sha1.New), nil
}

// LogicalSize maps a physical object size to the size readers see.
// Containers too short to hold a trailer report 0.
func LogicalSize(physical int64, encrypted bool) int64 {
	if !encrypted {
		return physical
	}
	if physical < TrailerSize {
		return 0
	}
	return physical - TrailerSize
}

// counterAt returns iv + n as a 128-bit big-endian integer.
func counterAt(iv [BlockSize]byte, n uint64) []byte {
	hi := binary.BigEndian.Uint64(iv[:8])
	lo := binary.BigEndian.Uint64(iv[8:])
	sum := lo + n
	if sum < lo {
		hi++
	}
	out := make([]byte, BlockSize)
	binary.BigEndian.PutUint64(out[:8], hi)
	binary.BigEndian.PutUint64(out[8:], sum)
	return out
}
