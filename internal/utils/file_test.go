package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureExtension(t *testing.T) {
	tests := []struct {
		name string
		path string
		ext  string
		want string
	}{
		{"missing", "out/photo", ".png", "out/photo.png"},
		{"present", "out/photo.png", ".png", "out/photo.png"},
		{"case insensitive", "out/photo.PNG", ".png", "out/photo.PNG"},
		{"other extension", "out/photo.jpg", ".png", "out/photo.jpg.png"},
		{"empty ext", "out/photo", "", "out/photo"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EnsureExtension(tc.path, tc.ext))
		})
	}
}

func TestGenerateOutputFilename(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "pre_cat_small.webp"),
		GenerateOutputFilename("/in/cat.png", "out", "pre_", "_small", ".webp"))
	assert.Equal(t, filepath.Join("out", "cat.ico"),
		GenerateOutputFilename("cat.png", "out", "", "", "ico"))
	assert.Equal(t, filepath.Join("out", "cat.png"),
		GenerateOutputFilename("cat.png", "out", "", "", ""))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWriteFileAtomicMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.bin")

	err := WriteFileAtomic(path, []byte("x"), 0o644)
	require.Error(t, err)
	assert.False(t, FileExists(path))
}

func TestFileHelpers(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, EnsureDir(nested))
	assert.True(t, DirExists(nested))
	assert.False(t, FileExists(nested))

	file := filepath.Join(nested, "x.tif")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.True(t, FileExists(file))
	assert.True(t, IsImageFile(file))
	assert.False(t, IsImageFile("notes.txt"))

	files, err := ListImageFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{file}, files)

	assert.Equal(t, "512 B", FormatFileSize(512))
	assert.Equal(t, "1.5 KB", FormatFileSize(1536))
}
