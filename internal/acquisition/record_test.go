package acquisition

import (
	"testing"

	"github.com/bryanchriswhite/propview/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOneShot(t *testing.T) {
	t.Parallel()

	r := NewRecordController()
	_, err := r.Start(3, false)
	require.NoError(t, err)
	assert.True(t, r.Recording())
	assert.NotEmpty(t, r.ID())

	for id := device.RequestID(1); id <= 2; id++ {
		_, done := r.Accept(id)
		assert.False(t, done)
	}
	_, done := r.Accept(3)
	assert.True(t, done)
	assert.Equal(t, RecordDone, r.State())

	ev, done := r.Accept(4)
	assert.Nil(t, ev)
	assert.False(t, done)
	assert.Equal(t, []device.RequestID{1, 2, 3}, r.Sequence())
	assert.Equal(t, ReasonComplete, r.Status().Reason)
}

func TestRecordContinuous(t *testing.T) {
	t.Parallel()

	r := NewRecordController()
	_, err := r.Start(10, true)
	require.NoError(t, err)

	var evicted []device.RequestID
	for id := device.RequestID(1); id <= 25; id++ {
		ev, done := r.Accept(id)
		assert.False(t, done)
		evicted = append(evicted, ev...)
	}
	assert.Len(t, r.Sequence(), 10)
	assert.Equal(t, device.RequestID(16), r.Sequence()[0])
	assert.Len(t, evicted, 15)
	assert.Equal(t, 25, r.Status().Captured)
}

func TestRecordFinishAndFree(t *testing.T) {
	t.Parallel()

	r := NewRecordController()
	assert.False(t, r.Finish(ReasonStopped))

	_, _ = r.Start(5, false)
	r.Accept(1)
	r.Accept(2)
	assert.True(t, r.Finish(ReasonAborted))
	assert.False(t, r.Finish(ReasonAborted), "finishing twice")
	assert.Equal(t, RecordDone, r.State())
	assert.Equal(t, []device.RequestID{1, 2}, r.Sequence())

	dropped, err := r.Start(5, false)
	require.NoError(t, err)
	assert.Equal(t, []device.RequestID{1, 2}, dropped)

	r.Accept(3)
	assert.Equal(t, []device.RequestID{3}, r.Free())
	assert.Equal(t, RecordIdle, r.State())
	assert.Empty(t, r.Sequence())

	_, err = r.Start(0, false)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRecordSelect(t *testing.T) {
	t.Parallel()

	r := NewRecordController()
	_, err := r.Select(SelectNext())
	assert.ErrorIs(t, err, ErrEmptySequence)

	_, _ = r.Start(3, false)
	for id := device.RequestID(1); id <= 3; id++ {
		r.Accept(id)
	}

	id, err := r.Select(SelectIndex(0))
	require.NoError(t, err)
	assert.Equal(t, device.RequestID(1), id)

	id, _ = r.Select(SelectPrev())
	assert.Equal(t, device.RequestID(1), id, "prev stops at the start")

	r.Select(SelectNext())
	id, _ = r.Select(SelectNext())
	assert.Equal(t, device.RequestID(3), id)
	id, _ = r.Select(SelectNext())
	assert.Equal(t, device.RequestID(3), id, "next stops at the end")

	_, err = r.Select(SelectIndex(3))
	assert.ErrorIs(t, err, ErrSequenceIndex)

	assert.True(t, r.Remove(3))
	assert.Equal(t, 1, r.Status().Cursor)
	assert.False(t, r.Contains(3))
}

func TestRecordRemoveKeepsCursorOnEntry(t *testing.T) {
	t.Parallel()

	r := NewRecordController()
	_, _ = r.Start(4, false)
	for id := device.RequestID(1); id <= 4; id++ {
		r.Accept(id)
	}
	id, err := r.Select(SelectIndex(2))
	require.NoError(t, err)
	require.Equal(t, device.RequestID(3), id)

	assert.True(t, r.Remove(1))
	assert.Equal(t, 1, r.Status().Cursor)
	id, err = r.Select(SelectIndex(r.Status().Cursor))
	require.NoError(t, err)
	assert.Equal(t, device.RequestID(3), id)

	assert.True(t, r.Remove(4))
	assert.Equal(t, 1, r.Status().Cursor, "removing after the cursor leaves it alone")
}
