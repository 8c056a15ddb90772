package fs

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"storj.io/common/testcontext"
)

func TestLocalWriteIsInvisibleUntilClose(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	path := ctx.File("nested", "out.json")
	storer := NewLocalStorage()

	w, err := storer.OpenWrite(path)
	require.NoError(t, err)

	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	r, err := storer.OpenRead(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	entries, err := os.ReadDir(ctx.Dir("nested"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file must be renamed away")
}

func TestLocalOverwriteReplacesContent(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	path := ctx.File("out")
	storer := NewLocalStorage()

	for _, content := range []string{"first attempt, longer", "second"} {
		w, err := storer.OpenWrite(path)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}

func TestLocalReadMissing(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, err := NewLocalStorage().OpenRead(ctx.File("missing"))
	require.Error(t, err)
	require.True(t, Error.Has(err))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalRemove(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	path := ctx.File("gone")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	storer := NewLocalStorage()
	require.NoError(t, storer.Remove(path))
	require.NoError(t, storer.Remove(path))

	_, err := os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}
