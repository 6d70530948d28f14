package transport

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayChunksAndEOF(t *testing.T) {
	r := NewReplay([]byte("0123456789"), WithChunkSize(4))
	buf := make([]byte, 16)

	var got []byte
	for i := 0; i < 3; i++ {
		n, err := r.Read(buf, time.Millisecond)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, "0123456789", string(got))

	_, err := r.Read(buf, time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.EOF))
	assert.True(t, IsFatal(err))

	n, err := r.Write([]byte{0x20}, time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, r.Writes())

	require.NoError(t, r.Close())
	_, err = r.Read(buf, time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReplayLoop(t *testing.T) {
	r := NewReplay([]byte("ab"), WithLoop(true))
	buf := make([]byte, 1)
	var got []byte
	for i := 0; i < 5; i++ {
		n, err := r.Read(buf, time.Millisecond)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, "ababa", string(got))
}

func TestOpenReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x5A, 0xA5}, 0o644))

	r, err := OpenReplay(path)
	require.NoError(t, err)
	buf := make([]byte, 8)
	n, err := r.Read(buf, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x5A, 0xA5}, buf[:n])

	_, err = OpenReplay(filepath.Join(dir, "missing.bin"))
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "open", te.Op)
}
