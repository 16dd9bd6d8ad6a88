package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashString is the exported form of the hashing rule used throughout the
// data model: hashed_* fields are always lowercase hex SHA-256.
func HashString(s string) string {
	return sha256Hex(s)
}

func errInvalidWrapper(msg string) error {
	return errors.New(msg)
}
