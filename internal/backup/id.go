package backup

import (
	"crypto/rand"
	"strings"
)

// IDAlphabet omits 0/O and 1/I so codes survive being read aloud or retyped
const IDAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// IDLength is the number of symbols in a backup ID
const IDLength = 12

// NewBackupID returns a random backup ID. len(IDAlphabet) divides 256, so
// masking a random byte keeps the draw uniform.
func NewBackupID() (string, error) {
	buf := make([]byte, IDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", NewStorageError("failed to read random bytes for backup ID", err)
	}

	id := make([]byte, IDLength)
	for i, b := range buf {
		id[i] = IDAlphabet[int(b)&(len(IDAlphabet)-1)]
	}
	return string(id), nil
}

// NormalizeID uppercases and trims an operator-supplied ID
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// ValidID reports whether id (after normalization) could have been generated
func ValidID(id string) bool {
	id = NormalizeID(id)
	if len(id) != IDLength {
		return false
	}
	for _, r := range id {
		if !strings.ContainsRune(IDAlphabet, r) {
			return false
		}
	}
	return true
}
