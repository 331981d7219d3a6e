package container

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestOpenRawVGM(t *testing.T) {
	payload := append([]byte("Vgm "), make([]byte, 60)...)
	path := writeTempFile(t, "track.vgm", payload)

	r, size, err := Open(path)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), size)

	got := make([]byte, 4)
	_, err = r.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, "Vgm ", string(got))
}

func TestOpenGzippedVGM(t *testing.T) {
	payload := append([]byte("Vgm "), make([]byte, 60)...)
	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := writeTempFile(t, "track.vgz", gz.Bytes())
	r, size, err := Open(path)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), size)

	got := make([]byte, 4)
	_, err = r.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, "Vgm ", string(got))
}

func TestOpenUnknownFormat(t *testing.T) {
	path := writeTempFile(t, "track.bin", []byte("not a vgm file at all"))
	_, _, err := Open(path)
	require.ErrorIs(t, err, ErrUnknownContainer)
}
