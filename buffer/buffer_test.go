package buffer_test

import (
	"testing"

	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/shm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, size int) *shm.Pool {
	t.Helper()

	file, err := shm.Create("buffer-test")
	require.NoError(t, err)
	require.NoError(t, file.Truncate(int64(size)))

	pool, err := shm.NewPool(file, size)
	require.NoError(t, err)
	t.Cleanup(pool.Destroy)
	return pool
}

func newBuffer(t *testing.T, pool *shm.Pool, owner buffer.Owner) *buffer.Buffer {
	t.Helper()

	b, err := buffer.NewSHM(owner, 10, pool, 0, 4, 4, 16, buffer.FormatARGB8888)
	require.NoError(t, err)
	return b
}

func TestNewSHMValidation(t *testing.T) {
	pool := newPool(t, 64)

	tests := []struct {
		name   string
		offset int
		w, h   int
		stride int
		format buffer.Format
		err    error
	}{
		{"Valid", 0, 4, 4, 16, buffer.FormatXRGB8888, nil},
		{"ShortStride", 0, 4, 4, 12, buffer.FormatARGB8888, buffer.ErrInvalidStride},
		{"PastEnd", 16, 4, 4, 16, buffer.FormatARGB8888, buffer.ErrInvalidSize},
		{"ZeroWidth", 0, 0, 4, 16, buffer.FormatARGB8888, buffer.ErrInvalidSize},
		{"Format", 0, 4, 4, 16, buffer.Format(0x36314752), buffer.ErrUnsupportedFormat},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := buffer.NewSHM(1, 10, pool, test.offset, test.w, test.h, test.stride, test.format)
			if test.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, test.err)
		})
	}
}

func TestReleaseOncePerUse(t *testing.T) {
	var released []buffer.ID
	table := buffer.NewTable(func(b *buffer.Buffer) { released = append(released, b.ID()) })

	pool := newPool(t, 64)
	b := newBuffer(t, pool, 1)
	id := table.Insert(b)
	assert.NotZero(t, id)

	require.NoError(t, table.Ref(id)) // surface
	require.NoError(t, table.Ref(id)) // frame
	table.Unref(id)
	assert.Empty(t, released)

	table.Unref(id)
	assert.Equal(t, []buffer.ID{id}, released)

	require.NoError(t, table.Ref(id))
	table.Unref(id)
	assert.Len(t, released, 2)
}

func TestDestroyWhileReferenced(t *testing.T) {
	var released int
	table := buffer.NewTable(func(*buffer.Buffer) { released++ })

	pool := newPool(t, 64)
	b := newBuffer(t, pool, 1)
	id := table.Insert(b)
	require.NoError(t, table.Ref(id))

	table.Destroy(id)
	assert.False(t, table.Alive(id))
	got, ok := table.Get(id)
	require.True(t, ok)
	_, err := got.Pixels()
	assert.NoError(t, err)

	table.Unref(id)
	assert.Zero(t, released)
	_, ok = table.Get(id)
	assert.False(t, ok)
	assert.Zero(t, table.Len())
}

func TestOrphanCancelsRelease(t *testing.T) {
	var released int
	table := buffer.NewTable(func(*buffer.Buffer) { released++ })

	pool := newPool(t, 64)
	mine := table.Insert(newBuffer(t, pool, 1))
	theirs := table.Insert(newBuffer(t, pool, 2))
	require.NoError(t, table.Ref(mine))
	require.NoError(t, table.Ref(theirs))

	table.Orphan(1)
	table.Unref(mine)
	table.Unref(theirs)
	assert.Equal(t, 1, released)
	assert.Equal(t, 1, table.Len())
}

func TestStaleID(t *testing.T) {
	table := buffer.NewTable(nil)
	pool := newPool(t, 64)

	old := table.Insert(newBuffer(t, pool, 1))
	table.Destroy(old)
	fresh := table.Insert(newBuffer(t, pool, 1))

	assert.NotEqual(t, old, fresh)
	assert.ErrorIs(t, table.Ref(old), buffer.ErrStale)
	assert.NoError(t, table.Ref(fresh))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, buffer.FormatARGB8888, buffer.FormatFromFourcc(buffer.FormatARGB8888.Fourcc()))
	assert.Equal(t, "xrgb8888", buffer.FormatXRGB8888.String())
	assert.True(t, buffer.FormatXRGB8888.Opaque())
}
