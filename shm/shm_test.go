package shm_test

import (
	"testing"

	"deedles.dev/wlcomp/shm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, data []byte) *shm.Pool {
	t.Helper()

	file, err := shm.Create("pool-test")
	require.NoError(t, err)
	_, err = file.Write(data)
	require.NoError(t, err)

	pool, err := shm.NewPool(file, len(data))
	require.NoError(t, err)
	return pool
}

func TestPoolBytes(t *testing.T) {
	pool := newPool(t, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	defer pool.Destroy()

	b, err := pool.Bytes(2, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 4, 5, 6}, b)

	_, err = pool.Bytes(6, 4)
	assert.ErrorIs(t, err, shm.ErrOutOfRange)
}

func TestPoolResize(t *testing.T) {
	pool := newPool(t, make([]byte, 4096))
	defer pool.Destroy()

	assert.ErrorIs(t, pool.Resize(100), shm.ErrShrink)
	require.NoError(t, pool.Resize(4096))
	assert.Equal(t, 4096, pool.Size())
}

func TestPoolOutlivesDestroyWhileReferenced(t *testing.T) {
	pool := newPool(t, make([]byte, 16))
	pool.Ref()
	pool.Destroy()

	_, err := pool.Bytes(0, 16)
	assert.NoError(t, err)

	pool.Unref()
	_, err = pool.Bytes(0, 16)
	assert.ErrorIs(t, err, shm.ErrDestroyed)
}

func TestCreateSealed(t *testing.T) {
	file, err := shm.CreateSealed("sealed-test", []byte("keymap"))
	require.NoError(t, err)
	defer file.Close()

	_, err = file.Write([]byte("more"))
	assert.Error(t, err)
}
