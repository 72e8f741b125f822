package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
)

// httpGetter is satisfied by *http.Client.
type httpGetter interface {
	Get(url string) (*http.Response, error)
}

// downloadVerified streams url into a temp file in dir, hashing on the way,
// and keeps the file only when its SHA-256 matches the pinned hex digest.
// The caller removes the returned path.
func downloadVerified(client httpGetter, url, dir, want string) (string, error) {
	resp, err := client.Get(url)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: download returned %d", resp.StatusCode)
	}

	f, err := os.CreateTemp(dir, "mermaid-ascii-*.tar.gz")
	if err != nil {
		return "", err
	}
	path := f.Name()

	h := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(f, h), resp.Body)
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		os.Remove(path)
		return "", fmt.Errorf("download failed: %w", copyErr)
	case closeErr != nil:
		os.Remove(path)
		return "", closeErr
	}

	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		os.Remove(path)
		return "", fmt.Errorf("checksum mismatch (expected %s, got %s)", want, got)
	}
	return path, nil
}
