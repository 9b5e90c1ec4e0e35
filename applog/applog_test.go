package applog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenPacketLogWritesLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.log")

	pl, err := OpenPacketLog(path)
	require.NoError(t, err)
	defer pl.Close()

	assert.Equal(t, path, pl.Name())

	require.NoError(t, pl.Write(1234.5, "01 02 03 "))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "1234.500 01 02 03")
}

func TestOpenPacketLogPicksUniqueName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.log")

	require.NoError(t, os.WriteFile(path, []byte("existing"), 0o644))

	pl, err := OpenPacketLog(path)
	require.NoError(t, err)
	defer pl.Close()

	assert.Equal(t, path+".1", pl.Name())
}

func TestOpenPacketLogPicksNextUniqueName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.log")

	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(path+".1", []byte("b"), 0o644))

	pl, err := OpenPacketLog(path)
	require.NoError(t, err)
	defer pl.Close()

	assert.Equal(t, path+".2", pl.Name())
}
