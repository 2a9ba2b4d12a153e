package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageFileInMemory(t *testing.T) {
	pf, err := OpenPageFile(InMemory, false)
	require.NoError(t, err)
	defer func() { _ = pf.Close() }()

	assert.Equal(t, uint32(0), pf.Count())

	id0, err := pf.Allocate()
	require.NoError(t, err)
	assert.Equal(t, PageID(0), id0)

	id1, err := pf.Allocate()
	require.NoError(t, err)
	assert.Equal(t, PageID(1), id1)
	assert.Equal(t, uint32(2), pf.Count())

	var buf [PageSize]byte
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, pf.WritePage(id1, buf[:]))

	var read [PageSize]byte
	require.NoError(t, pf.ReadPage(id1, read[:]))
	assert.Equal(t, buf, read)

	// The other page stays zeroed.
	require.NoError(t, pf.ReadPage(id0, read[:]))
	assert.Equal(t, [PageSize]byte{}, read)
}

func TestPageFileOutOfRange(t *testing.T) {
	pf, err := OpenPageFile(InMemory, false)
	require.NoError(t, err)

	var buf [PageSize]byte
	require.ErrorIs(t, pf.ReadPage(3, buf[:]), ErrPageOutOfRange)
	require.ErrorIs(t, pf.WritePage(3, buf[:]), ErrPageOutOfRange)

	require.ErrorIs(t, pf.ReadPage(0, buf[:4]), ErrDiskIO)
}

func TestPageFilePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.data")

	pf, err := OpenPageFile(path, false)
	require.NoError(t, err)

	id, err := pf.Allocate()
	require.NoError(t, err)

	var buf [PageSize]byte
	copy(buf[:], "persist me")
	require.NoError(t, pf.WritePage(id, buf[:]))
	require.NoError(t, pf.Close())

	reopened, err := OpenPageFile(path, false)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, uint32(1), reopened.Count())

	var read [PageSize]byte
	require.NoError(t, reopened.ReadPage(id, read[:]))
	assert.Equal(t, buf, read)
}
