package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromBytes_RoundTrip(t *testing.T) {
	c := New(t.TempDir())

	content := []byte("X")
	path, size, sha, err := c.FromBytes(content, ".txt")
	require.NoError(t, err)

	readBack, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, content, readBack)
	require.Equal(t, int64(len(content)), size)

	expected := sha256.Sum256(content)
	require.Equal(t, hex.EncodeToString(expected[:]), sha)
	require.True(t, strings.HasSuffix(path, ".txt"))
}

func TestFromStream(t *testing.T) {
	c := New(t.TempDir())

	path, size, sha, err := c.FromStream(strings.NewReader("streamed content"), "log")
	require.NoError(t, err)

	readBack, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "streamed content", string(readBack))
	require.Equal(t, int64(len("streamed content")), size)
	require.NotEmpty(t, sha)
	require.True(t, strings.HasSuffix(path, ".log"))
}

func TestFromPath(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "report.html")
	require.NoError(t, os.WriteFile(src, []byte("<html/>"), 0o644))

	c := New(dir)
	path, size, sha, err := c.FromPath(src)
	require.NoError(t, err)
	require.NotEqual(t, src, path)
	require.Equal(t, ".html", filepath.Ext(path))
	require.Equal(t, int64(7), size)
	require.NotEmpty(t, sha)

	readBack, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "<html/>", string(readBack))
}

func TestFromPath_MissingSource(t *testing.T) {
	c := New(t.TempDir())
	_, _, _, err := c.FromPath(filepath.Join(t.TempDir(), "does-not-exist.png"))
	require.Error(t, err)
}

func TestIsCachedPath(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)

	path, _, _, err := c.FromBytes([]byte("data"), "")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   string
		want bool
	}{
		{
			name: "cache-produced path",
			in:   path,
			want: true,
		},
		{
			name: "external path",
			in:   "/tmp/report.html",
			want: false,
		},
		{
			name: "lookalike filename outside cache",
			in:   filepath.Join(dir, "attachments_cache.txt"),
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsCachedPath(tt.in))
		})
	}
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)

	for i := 0; i < 3; i++ {
		_, _, _, err := c.FromBytes([]byte("data"), ".bin")
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	require.NoError(t, c.Clear())

	entries, err = os.ReadDir(c.Dir())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestClear_MissingDir(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "never-created"))
	require.NoError(t, c.Clear())
}

func TestFromBytes_RandomizedNames(t *testing.T) {
	c := New(t.TempDir())

	first, _, _, err := c.FromBytes([]byte("same"), ".txt")
	require.NoError(t, err)
	second, _, _, err := c.FromBytes([]byte("same"), ".txt")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}
