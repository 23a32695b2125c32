// Package fileid derives stable identifiers for corpus files and their chunks.
package fileid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// chunkIDLen is the number of hex characters kept from the chunk digest.
const chunkIDLen = 32

// ChunkID returns the identifier of a chunk. The same (source, offset, content)
// triple always yields the same ID; any change to one of them yields a new one.
func ChunkID(sourcePath string, offset int, content string) string {
	h := sha256.New()
	h.Write([]byte(NormalizePath(sourcePath)))
	h.Write([]byte{0})
	var off [8]byte
	binary.BigEndian.PutUint64(off[:], uint64(offset))
	h.Write(off[:])
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))[:chunkIDLen]
}

// ContentHash returns the hex sha256 of text. Used as the embedding cache key.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// FileHash returns the hex sha256 of the file contents at path.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// NormalizePath cleans a corpus-relative path and uses forward slashes, so ids
// match across machines that store the corpus under different roots.
func NormalizePath(p string) string {
	p = filepath.ToSlash(filepath.Clean(p))
	return strings.TrimPrefix(p, "./")
}

// RelPath returns path relative to root in normalized form. Paths outside root
// are returned normalized but otherwise unchanged.
func RelPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return NormalizePath(path)
	}
	return NormalizePath(rel)
}
