package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// ChecksumPrefix is the algorithm tag stored in front of every digest.
const ChecksumPrefix = "sha256:"

// FileChecksum returns the tagged sha256 digest of the file content at path.
// Symlinks are followed.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return ChecksumPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// BytesChecksum returns the tagged sha256 digest of data.
func BytesChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return ChecksumPrefix + hex.EncodeToString(sum[:])
}

// NormalizeChecksum accepts a digest with or without the algorithm tag and
// returns it in tagged, lower-case form. Empty input stays empty.
func NormalizeChecksum(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, ChecksumPrefix) {
		v = ChecksumPrefix + v
	}
	return v
}

// ChecksumsEqual compares two digests, ignoring the optional algorithm tag.
func ChecksumsEqual(a, b string) bool {
	return NormalizeChecksum(a) == NormalizeChecksum(b)
}
