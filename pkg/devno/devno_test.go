package devno

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHandsOutLowestFirst(t *testing.T) {
	a := New(240, 0, 3)

	for want := uint32(0); want < 3; want++ {
		n, err := a.Get()
		require.NoError(t, err)
		assert.Equal(t, uint32(240), n.Major)
		assert.Equal(t, want, n.Minor)
	}
	assert.Equal(t, 0, a.Free())
}

func TestExhaustion(t *testing.T) {
	a := New(240, 0, 1)
	_, err := a.Get()
	require.NoError(t, err)

	_, err = a.Get()
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestPutMakesNumberReusable(t *testing.T) {
	a := New(240, 4, 2)
	first, err := a.Get()
	require.NoError(t, err)
	_, err = a.Get()
	require.NoError(t, err)

	require.NoError(t, a.Put(first))
	assert.Equal(t, 1, a.Free())

	again, err := a.Get()
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestPutRejectsForeignNumbers(t *testing.T) {
	a := New(240, 0, 2)
	n, err := a.Get()
	require.NoError(t, err)

	assert.Error(t, a.Put(Number{Major: 241, Minor: n.Minor}), "wrong major")
	assert.Error(t, a.Put(Number{Major: 240, Minor: 1}), "never allocated")

	require.NoError(t, a.Put(n))
	assert.Error(t, a.Put(n), "double put")
}

func TestCloseStopsAllocation(t *testing.T) {
	a := New(240, 0, 2)
	n, err := a.Get()
	require.NoError(t, err)

	a.Close()
	_, err = a.Get()
	assert.ErrorIs(t, err, ErrClosed)

	// Outstanding numbers can still be returned.
	assert.NoError(t, a.Put(n))
}

func TestNumberString(t *testing.T) {
	assert.Equal(t, "240:7", Number{Major: 240, Minor: 7}.String())
}
