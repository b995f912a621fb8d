package surface_test

import (
	"image"
	"testing"

	"deedles.dev/wlcomp/surface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walkIDs(s *surface.Surface) (ids []surface.ID, offsets []image.Point) {
	s.Walk(func(s *surface.Surface, offset image.Point) bool {
		ids = append(ids, s.ID())
		offsets = append(offsets, offset)
		return true
	})
	return ids, offsets
}

func TestSubsurfaceSynchronized(t *testing.T) {
	f := newFixture(t)
	parent := f.surface(1, surface.SyncProtocol)
	child := f.surface(2, surface.SyncProtocol)

	sub, err := surface.NewSubsurface(child, parent)
	require.NoError(t, err)
	assert.True(t, child.Synchronized())

	parent.Attach(f.buffer(16, 16), 0, 0)
	require.NoError(t, parent.Commit())

	id := f.buffer(4, 4)
	child.Attach(id, 0, 0)
	sub.SetPosition(3, 5)
	require.NoError(t, child.Commit())
	assert.False(t, child.HasBuffer())

	require.NoError(t, parent.Commit())
	assert.Equal(t, id, child.Buffer())

	ids, offsets := walkIDs(parent)
	assert.Equal(t, []surface.ID{1, 2}, ids)
	assert.Equal(t, []image.Point{{}, {3, 5}}, offsets)
}

func TestSubsurfaceDesyncAppliesCached(t *testing.T) {
	f := newFixture(t)
	parent := f.surface(1, surface.SyncProtocol)
	child := f.surface(2, surface.SyncProtocol)
	sub, err := surface.NewSubsurface(child, parent)
	require.NoError(t, err)

	id := f.buffer(4, 4)
	child.Attach(id, 0, 0)
	require.NoError(t, child.Commit())
	assert.False(t, child.HasBuffer())

	sub.SetDesync()
	assert.Equal(t, id, child.Buffer())

	child.Attach(f.buffer(4, 4), 0, 0)
	require.NoError(t, child.Commit())
	assert.NotEqual(t, id, child.Buffer())
}

func TestSubsurfaceInheritsSync(t *testing.T) {
	f := newFixture(t)
	root := f.surface(1, surface.SyncProtocol)
	mid := f.surface(2, surface.SyncProtocol)
	leaf := f.surface(3, surface.SyncProtocol)

	_, err := surface.NewSubsurface(mid, root)
	require.NoError(t, err)
	leafSub, err := surface.NewSubsurface(leaf, mid)
	require.NoError(t, err)

	leafSub.SetDesync()
	assert.True(t, leaf.Synchronized())
}

func TestSyncPolicies(t *testing.T) {
	f := newFixture(t)

	for _, test := range []struct {
		policy surface.SyncPolicy
		desync bool
		want   bool
	}{
		{surface.SyncProtocol, false, true},
		{surface.SyncProtocol, true, false},
		{surface.SyncAlways, true, true},
		{surface.SyncNever, false, false},
	} {
		t.Run(test.policy.String(), func(t *testing.T) {
			parent := f.surface(1, test.policy)
			child := f.surface(2, test.policy)
			sub, err := surface.NewSubsurface(child, parent)
			require.NoError(t, err)
			if test.desync {
				sub.SetDesync()
			}
			assert.Equal(t, test.want, child.Synchronized())
		})
	}

	p, err := surface.ParseSyncPolicy("always")
	require.NoError(t, err)
	assert.Equal(t, surface.SyncAlways, p)
	_, err = surface.ParseSyncPolicy("sometimes")
	assert.Error(t, err)
}

func TestSubsurfaceStacking(t *testing.T) {
	f := newFixture(t)
	parent := f.surface(1, surface.SyncNever)
	a := f.surface(2, surface.SyncNever)
	b := f.surface(3, surface.SyncNever)

	subA, err := surface.NewSubsurface(a, parent)
	require.NoError(t, err)
	_, err = surface.NewSubsurface(b, parent)
	require.NoError(t, err)

	for _, s := range []*surface.Surface{parent, a, b} {
		s.Attach(f.buffer(4, 4), 0, 0)
		require.NoError(t, s.Commit())
	}
	require.NoError(t, parent.Commit())

	ids, _ := walkIDs(parent)
	assert.Equal(t, []surface.ID{1, 2, 3}, ids)

	require.NoError(t, subA.PlaceAbove(b))
	ids, _ = walkIDs(parent)
	assert.Equal(t, []surface.ID{1, 2, 3}, ids, "order changes only on parent commit")

	require.NoError(t, parent.Commit())
	ids, _ = walkIDs(parent)
	assert.Equal(t, []surface.ID{1, 3, 2}, ids)

	require.NoError(t, subA.PlaceBelow(parent))
	require.NoError(t, parent.Commit())
	ids, _ = walkIDs(parent)
	assert.Equal(t, []surface.ID{2, 1, 3}, ids)

	other := f.surface(9, surface.SyncNever)
	assert.ErrorIs(t, subA.PlaceAbove(other), surface.ErrNotSibling)
}

func TestSubsurfaceCycle(t *testing.T) {
	f := newFixture(t)
	a := f.surface(1, surface.SyncProtocol)
	b := f.surface(2, surface.SyncProtocol)

	_, err := surface.NewSubsurface(a, a)
	assert.ErrorIs(t, err, surface.ErrBadParent)

	_, err = surface.NewSubsurface(b, a)
	require.NoError(t, err)
	_, err = surface.NewSubsurface(a, b)
	assert.ErrorIs(t, err, surface.ErrBadParent)
}

func TestParentDestroyUnlinksChildren(t *testing.T) {
	f := newFixture(t)
	parent := f.surface(1, surface.SyncNever)
	child := f.surface(2, surface.SyncNever)
	_, err := surface.NewSubsurface(child, parent)
	require.NoError(t, err)

	parent.Destroy()
	assert.Nil(t, child.Parent())
	assert.False(t, child.Synchronized())
}
