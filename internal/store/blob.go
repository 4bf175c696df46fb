package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// blobStore implements content-addressed blob storage on the filesystem.
// Blobs are stored under blobsDir using the SHA-256 hash as the filename,
// with the first two characters of the hash as a subdirectory to avoid too
// many files in one place. Identical content across reports is stored once.
type blobStore struct {
	blobsDir string
}

func newBlobStore(blobsDir string) (*blobStore, error) {
	if err := os.MkdirAll(blobsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating blobs directory: %w", err)
	}
	return &blobStore{blobsDir: blobsDir}, nil
}

// put stores content and returns its content-addressed ID (SHA-256 hex).
// Existing content is not rewritten.
func (bs *blobStore) put(data []byte) (string, error) {
	hash := sha256.Sum256(data)
	hashStr := hex.EncodeToString(hash[:])

	blobPath := bs.blobPath(hashStr)
	if _, err := os.Stat(blobPath); err == nil {
		return hashStr, nil
	}

	if err := atomicWriteFile(blobPath, data, 0644); err != nil {
		return "", fmt.Errorf("writing blob: %w", err)
	}
	return hashStr, nil
}

// get retrieves content by ID and verifies its integrity.
func (bs *blobStore) get(blobID string) ([]byte, error) {
	data, err := os.ReadFile(bs.blobPath(blobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob not found: %s", blobID)
		}
		return nil, fmt.Errorf("reading blob: %w", err)
	}

	hash := sha256.Sum256(data)
	if hex.EncodeToString(hash[:]) != blobID {
		return nil, fmt.Errorf("blob integrity check failed for %s", blobID)
	}
	return data, nil
}

func (bs *blobStore) exists(blobID string) bool {
	_, err := os.Stat(bs.blobPath(blobID))
	return err == nil
}

func (bs *blobStore) blobPath(blobID string) string {
	// SHA-256 hex is always 64 characters; anything else cannot address a
	// stored blob and is routed to a guaranteed-missing path.
	if len(blobID) != 64 {
		return filepath.Join(bs.blobsDir, "invalid", blobID)
	}
	return filepath.Join(bs.blobsDir, blobID[:2], blobID)
}

// atomicWriteFile writes data using a temp file + rename so a reader that
// checks existence first can never observe a half-written blob.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	tmpFile = nil // prevent double close in defer

	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
