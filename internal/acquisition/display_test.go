package acquisition

import (
	"testing"

	"github.com/bryanchriswhite/propview/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayTrimKeepsShownEntry(t *testing.T) {
	t.Parallel()

	d := NewDisplaySequencer(1, 3)

	var evicted []device.RequestID
	for id := device.RequestID(1); id <= 10; id++ {
		ev, err := d.Push(0, id)
		require.NoError(t, err)
		evicted = append(evicted, ev...)
		assert.LessOrEqual(t, d.Len(0), 3)
	}

	cur, err := d.Current(0)
	require.NoError(t, err)
	assert.Equal(t, device.RequestID(1), cur, "first frame stays shown until advanced")
	assert.NotContains(t, evicted, device.RequestID(1))
	assert.Equal(t, []device.RequestID{2, 3, 4, 5, 6, 7, 8}, evicted)
	assert.Equal(t, []device.RequestID{1, 9, 10}, d.Snapshot()[0].Pending)
}

func TestDisplayAdvance(t *testing.T) {
	t.Parallel()

	d := NewDisplaySequencer(1, 4)
	for id := device.RequestID(1); id <= 3; id++ {
		_, err := d.Push(0, id)
		require.NoError(t, err)
	}

	id, err := d.Advance(0, 1)
	require.NoError(t, err)
	assert.Equal(t, device.RequestID(2), id)

	id, err = d.Advance(0, 10)
	require.NoError(t, err)
	assert.Equal(t, device.RequestID(3), id)

	id, err = d.Advance(0, -10)
	require.NoError(t, err)
	assert.Equal(t, device.RequestID(1), id)
	assert.Equal(t, 3, d.Len(0), "advancing releases nothing")

	_, err = d.Advance(5, 1)
	assert.ErrorIs(t, err, ErrUnknownSurface)
}

func TestDisplayAdvanceThenTrim(t *testing.T) {
	t.Parallel()

	d := NewDisplaySequencer(1, 2)
	_, _ = d.Push(0, 1)
	_, _ = d.Push(0, 2)
	_, _ = d.Advance(0, 1)

	ev, err := d.Push(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []device.RequestID{1}, ev)
	cur, _ := d.Current(0)
	assert.Equal(t, device.RequestID(2), cur)
}

func TestDisplayMultipleSurfaces(t *testing.T) {
	t.Parallel()

	d := NewDisplaySequencer(2, 2)
	assert.Equal(t, 0, d.Route(0))
	assert.Equal(t, 1, d.Route(1))
	assert.Equal(t, 0, d.Route(2))

	_, _ = d.Push(0, 1)
	_, _ = d.Push(1, 2)
	assert.True(t, d.IsShown(1))
	assert.True(t, d.IsShown(2))

	assert.Equal(t, 1, d.Remove(2))
	assert.Zero(t, d.Len(1))
	cur, _ := d.Current(1)
	assert.Equal(t, device.NoRequest, cur)

	assert.ElementsMatch(t, []device.RequestID{1}, d.Clear())
	assert.Zero(t, d.Len(0))
}

func TestDisplayShow(t *testing.T) {
	t.Parallel()

	d := NewDisplaySequencer(1, 2)
	_, _ = d.Push(0, 1)
	_, _ = d.Push(0, 2)

	added, ev, err := d.Show(0, 2)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, ev)

	added, ev, err = d.Show(0, 7)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []device.RequestID{1}, ev)
	cur, _ := d.Current(0)
	assert.Equal(t, device.RequestID(7), cur)
}

func TestDisplayMinimumDepth(t *testing.T) {
	t.Parallel()

	d := NewDisplaySequencer(0, 1)
	assert.Equal(t, 1, d.Surfaces())
	assert.Equal(t, MinDisplayDepth, d.Depth())
}
