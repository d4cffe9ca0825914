package platform

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremytrimble/ezdma/pkg/devno"
	"github.com/jeremytrimble/ezdma/pkg/dma"
	"github.com/jeremytrimble/ezdma/pkg/engine"
	"github.com/jeremytrimble/ezdma/pkg/umem"
)

func loopSpecs() []ChannelSpec {
	return []ChannelSpec{
		{Name: "loop_tx", Dir: umem.HostToDevice, Fifo: "loop"},
		{Name: "loop_rx", Dir: umem.DeviceToHost, Fifo: "loop"},
	}
}

func probeLoop(t *testing.T) (*Platform, *devno.Allocator) {
	t.Helper()
	alloc := devno.New(240, 0, 8)
	p, err := Probe(loopSpecs(), HubProvider{Hub: engine.NewHub()}, alloc)
	require.NoError(t, err)
	return p, alloc
}

func TestProbeEnumeratesNodes(t *testing.T) {
	p, alloc := probeLoop(t)

	nodes := p.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, "loop_tx", nodes[0].Name())
	assert.Equal(t, "loop_rx", nodes[1].Name())
	assert.Equal(t, devno.Number{Major: 240, Minor: 0}, nodes[0].Devno())
	assert.Equal(t, devno.Number{Major: 240, Minor: 1}, nodes[1].Devno())
	assert.Equal(t, 6, alloc.Free())

	tx, err := p.Node("loop_tx")
	require.NoError(t, err)
	assert.Equal(t, umem.HostToDevice, tx.Channel().Dir())

	_, err = p.Node("nope")
	assert.Error(t, err)
}

func TestProbeRejectsBadSpec(t *testing.T) {
	alloc := devno.New(240, 0, 8)
	_, err := Probe([]ChannelSpec{{Name: "", Dir: umem.DeviceToHost}},
		HubProvider{Hub: engine.NewHub()}, alloc)
	assert.Error(t, err)
	assert.Equal(t, 8, alloc.Free(), "failed probe must not leak device numbers")
}

type failAfter struct {
	hub  *engine.Hub
	left int
}

func (f *failAfter) RequestChannel(fifo string, dir umem.Direction) (engine.Engine, error) {
	if f.left <= 0 {
		return nil, fmt.Errorf("no such dma channel %q", fifo)
	}
	f.left--
	return f.hub.RequestChannel(fifo, dir), nil
}

func TestProbeUnrollsOnPartialFailure(t *testing.T) {
	alloc := devno.New(240, 0, 8)
	provider := &failAfter{hub: engine.NewHub(), left: 1}

	_, err := Probe(loopSpecs(), provider, alloc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loop_rx")
	assert.Equal(t, 8, alloc.Free(), "unroll must return all device numbers")
}

func TestProbeDevnoExhaustion(t *testing.T) {
	alloc := devno.New(240, 0, 1)
	_, err := Probe(loopSpecs(), HubProvider{Hub: engine.NewHub()}, alloc)
	require.Error(t, err)
	assert.ErrorIs(t, err, devno.ErrExhausted)
	assert.Equal(t, 1, alloc.Free())
}

func TestHandleExclusiveOpen(t *testing.T) {
	ctx := context.Background()
	p, _ := probeLoop(t)

	n, err := p.Node("loop_tx")
	require.NoError(t, err)

	h, err := n.Open(ctx)
	require.NoError(t, err)

	_, err = n.Open(ctx)
	assert.Equal(t, dma.StatusBusy, dma.StatusOf(err))

	require.NoError(t, h.Close(ctx))
	h2, err := n.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, h2.Close(ctx))
}

func TestClosedHandleRejectsIO(t *testing.T) {
	ctx := context.Background()
	p, _ := probeLoop(t)

	n, err := p.Node("loop_rx")
	require.NoError(t, err)
	h, err := n.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Close(ctx))

	_, err = h.Read(ctx, make([]byte, 8))
	assert.Equal(t, dma.StatusBadFileDescriptor, dma.StatusOf(err))
	_, err = h.Write(ctx, make([]byte, 8))
	assert.Equal(t, dma.StatusBadFileDescriptor, dma.StatusOf(err))

	assert.NoError(t, h.Close(ctx), "second close is a no-op")
}

func TestTeardown(t *testing.T) {
	ctx := context.Background()
	p, alloc := probeLoop(t)

	require.NoError(t, p.Teardown(ctx))
	assert.Empty(t, p.Nodes())

	_, err := alloc.Get()
	assert.ErrorIs(t, err, devno.ErrClosed)
	assert.Equal(t, 8, alloc.Free(), "teardown must return all device numbers")
}
