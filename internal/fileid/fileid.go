// Package fileid provides content hashes and notebook-relative paths used as file identities.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// ContentHash returns the hex sha256 of data. Used for file change detection.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// TextHash returns the hex sha256 of s. Used for chunk identity and the embedding cache.
func TextHash(s string) string {
	return ContentHash([]byte(s))
}

// RelPath returns the slash-separated path of absPath relative to root.
// Returns an error when absPath is outside root.
func RelPath(root, absPath string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(absPath))
	if err != nil {
		return "", fmt.Errorf("relative path for %s: %w", absPath, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", absPath, root)
	}
	return filepath.ToSlash(rel), nil
}

// AbsPath joins a notebook-relative path onto root.
func AbsPath(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}
