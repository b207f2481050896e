// Package hash provides content digest utilities.
package hash

import (
	"crypto/md5" //nolint:gosec // md5 is a dedup key here, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	stdhash "hash"
	"io"
	"os"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

// Hasher implements downloader.Hasher for a fixed algorithm.
type Hasher struct {
	algorithm downloader.Algorithm
	newFn     func() stdhash.Hash
}

// New returns a hasher for the named algorithm. An empty name selects MD5.
func New(algorithm downloader.Algorithm) (*Hasher, error) {
	switch algorithm {
	case "", downloader.AlgorithmMD5:
		return &Hasher{algorithm: downloader.AlgorithmMD5, newFn: md5.New}, nil
	case downloader.AlgorithmSHA256:
		return &Hasher{algorithm: downloader.AlgorithmSHA256, newFn: sha256.New}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

// Algorithm reports the digest function in use.
func (h *Hasher) Algorithm() downloader.Algorithm {
	return h.algorithm
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	d := h.newFn()
	if _, err := d.Write(data); err != nil {
		return "", fmt.Errorf("hash bytes: %w", err)
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}

// HashReader streams r through the digest.
func (h *Hasher) HashReader(r io.Reader) (string, int64, error) {
	d := h.newFn()
	n, err := io.Copy(d, r)
	if err != nil {
		return "", 0, fmt.Errorf("hash stream: %w", err)
	}
	return hex.EncodeToString(d.Sum(nil)), n, nil
}

// HashFile digests the file at path without loading it into memory.
func (h *Hasher) HashFile(path string) (string, int64, error) {
	f, err := os.Open(path) // #nosec G304 -- paths come from walking the configured target directory.
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return h.HashReader(f)
}
