package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadVerified(t *testing.T) {
	payload := []byte("stepgraph test data")
	sum := sha256.Sum256(payload)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	path, err := downloadVerified(srv.Client(), srv.URL, dir, hex.EncodeToString(sum[:]))
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	require.NoError(t, os.Remove(path))

	_, err = downloadVerified(srv.Client(), srv.URL, dir, strings.Repeat("0", 64))
	assert.ErrorContains(t, err, "checksum mismatch")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected download is removed")
}

func TestMermaidASCIIAssetName(t *testing.T) {
	tests := []struct {
		goos, goarch string
		want         string
		wantErr      bool
	}{
		{"darwin", "arm64", "mermaid-ascii_Darwin_arm64.tar.gz", false},
		{"linux", "amd64", "mermaid-ascii_Linux_x86_64.tar.gz", false},
		{"windows", "amd64", "", true},
		{"linux", "riscv64", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.goarch, func(t *testing.T) {
			got, err := mermaidASCIIAssetName(tt.goos, tt.goarch)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			_, pinned := mermaidASCIIChecksums[got]
			assert.True(t, pinned, "every supported asset has a pinned checksum")
		})
	}
}

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o755, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestExtractTarGz(t *testing.T) {
	archive := tarGz(t, map[string]string{
		"README.md":                         "docs",
		"mermaid-ascii_1.1.0/mermaid-ascii": "#!/bin/sh\n",
	})
	dir := t.TempDir()

	require.NoError(t, extractTarGz(bytes.NewReader(archive), dir, "mermaid-ascii"))
	data, err := os.ReadFile(filepath.Join(dir, "mermaid-ascii"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(data))

	err = extractTarGz(bytes.NewReader(archive), dir, "missing")
	assert.ErrorContains(t, err, "not found in archive")
}

func TestFetchVerified(t *testing.T) {
	archive := tarGz(t, map[string]string{"mermaid-ascii": "#!/bin/sh\necho ok\n"})
	sum := sha256.Sum256(archive)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/asset.tar.gz" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	mermaidASCIIChecksums["test-good.tar.gz"] = hex.EncodeToString(sum[:])
	mermaidASCIIChecksums["test-bad.tar.gz"] = strings.Repeat("0", 64)
	t.Cleanup(func() {
		delete(mermaidASCIIChecksums, "test-good.tar.gz")
		delete(mermaidASCIIChecksums, "test-bad.tar.gz")
	})

	t.Run("verified", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, fetchVerified(srv.Client(), srv.URL+"/asset.tar.gz", "test-good.tar.gz", dir))
		info, err := os.Stat(filepath.Join(dir, "mermaid-ascii"))
		require.NoError(t, err)
		assert.NotZero(t, info.Mode()&0o100)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		dir := t.TempDir()
		err := fetchVerified(srv.Client(), srv.URL+"/asset.tar.gz", "test-bad.tar.gz", dir)
		assert.ErrorContains(t, err, "checksum mismatch")
		_, statErr := os.Stat(filepath.Join(dir, "mermaid-ascii"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("not pinned", func(t *testing.T) {
		err := fetchVerified(srv.Client(), srv.URL+"/asset.tar.gz", "unknown.tar.gz", t.TempDir())
		assert.ErrorContains(t, err, "no pinned checksum")
	})

	t.Run("http error", func(t *testing.T) {
		err := fetchVerified(srv.Client(), srv.URL+"/missing", "test-good.tar.gz", t.TempDir())
		assert.ErrorContains(t, err, "download returned 404")
	})
}
