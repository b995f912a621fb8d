package objstore_test

import (
	"testing"

	"deedles.dev/wlcomp/internal/objstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type thing struct {
	name      string
	destroyed *[]string
}

func (t *thing) Destroy() {
	*t.destroyed = append(*t.destroyed, t.name)
}

func TestCreateDuplicate(t *testing.T) {
	s := objstore.New()
	_, err := s.Create(3, "wl_surface", 6, nil)
	require.NoError(t, err)

	_, err = s.Create(3, "wl_surface", 6, nil)
	assert.ErrorIs(t, err, objstore.ErrDuplicateID)
}

func TestResolve(t *testing.T) {
	s := objstore.New()
	_, err := s.Resolve(9)
	assert.ErrorIs(t, err, objstore.ErrUnknownObject)

	_, err = s.Create(9, "wl_buffer", 1, "buf")
	require.NoError(t, err)
	e, err := s.Resolve(9)
	require.NoError(t, err)
	assert.Equal(t, "wl_buffer", e.Interface)

	s.Destroy(9)
	_, err = s.Resolve(9)
	assert.ErrorIs(t, err, objstore.ErrDestroyed)
	iface, ok := s.Tombstone(9)
	assert.True(t, ok)
	assert.Equal(t, "wl_buffer", iface)

	s.Forget(9)
	_, err = s.Resolve(9)
	assert.ErrorIs(t, err, objstore.ErrUnknownObject)
}

func TestRecreateAfterDestroy(t *testing.T) {
	s := objstore.New()
	_, err := s.Create(4, "wl_callback", 1, nil)
	require.NoError(t, err)
	s.Destroy(4)

	_, err = s.Create(4, "wl_callback", 1, nil)
	require.NoError(t, err)
	_, err = s.Resolve(4)
	assert.NoError(t, err)
}

func TestGetType(t *testing.T) {
	s := objstore.New()
	_, err := s.Create(5, "wl_region", 1, 42)
	require.NoError(t, err)

	v, err := objstore.Get[int](s, 5)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = objstore.Get[string](s, 5)
	assert.ErrorIs(t, err, objstore.ErrWrongType)
}

func TestServerAllocation(t *testing.T) {
	s := objstore.New()
	e, err := s.Create(0, "wl_data_offer", 3, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(objstore.ServerIDStart), e.ID)
}

func TestCascadeAndClear(t *testing.T) {
	var destroyed []string
	s := objstore.New()
	add := func(id uint32, name string) {
		_, err := s.Create(id, name, 1, &thing{name: name, destroyed: &destroyed})
		require.NoError(t, err)
	}

	add(2, "surface")
	add(3, "xdg_surface")
	add(4, "toplevel")
	add(5, "other")
	s.Link(2, 3)
	s.Link(3, 4)

	s.Destroy(2)
	assert.Equal(t, []string{"toplevel", "xdg_surface", "surface"}, destroyed)
	assert.Equal(t, 1, s.Len())

	s.Destroy(2)
	assert.Len(t, destroyed, 3)

	add(6, "newest")
	destroyed = nil
	s.Clear()
	assert.Equal(t, []string{"newest", "other"}, destroyed)
	assert.Zero(t, s.Len())
}
