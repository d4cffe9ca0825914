package platform

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/jeremytrimble/ezdma/pkg/devno"
	"github.com/jeremytrimble/ezdma/pkg/dma"
	"github.com/jeremytrimble/ezdma/pkg/engine"
	"github.com/jeremytrimble/ezdma/pkg/umem"
)

// ChannelProvider hands out engine channels by FIFO name, the way the
// platform DMA subsystem resolves named slave channels.
type ChannelProvider interface {
	RequestChannel(fifo string, dir umem.Direction) (engine.Engine, error)
}

// HubProvider adapts a loopback hub to the ChannelProvider interface.
type HubProvider struct {
	Hub *engine.Hub
}

func (p HubProvider) RequestChannel(fifo string, dir umem.Direction) (engine.Engine, error) {
	return p.Hub.RequestChannel(fifo, dir), nil
}

// Node is one exposed channel device.
type Node struct {
	name string
	num  devno.Number
	ch   *dma.Channel
}

// Name returns the node name.
func (n *Node) Name() string { return n.name }

// Devno returns the node's device number.
func (n *Node) Devno() devno.Number { return n.num }

// Channel returns the node's transfer channel.
func (n *Node) Channel() *dma.Channel { return n.ch }

// Open claims the node for exclusive use. A second open while a handle is
// outstanding fails with Busy.
func (n *Node) Open(ctx context.Context) (*Handle, error) {
	if err := n.ch.Open(ctx); err != nil {
		return nil, err
	}
	return &Handle{node: n}, nil
}

// Handle is one open session on a node.
type Handle struct {
	node *Node

	mu     sync.Mutex
	closed bool
}

func (h *Handle) guard() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return dma.NewError(dma.StatusBadFileDescriptor, h.node.name)
	}
	return nil
}

// Read blocks until count bytes arrive from the device or ctx is
// cancelled.
func (h *Handle) Read(ctx context.Context, buf []byte) (int, error) {
	if err := h.guard(); err != nil {
		return 0, err
	}
	return h.node.ch.Read(ctx, buf)
}

// Write blocks until buf has been sent to the device or ctx is cancelled.
func (h *Handle) Write(ctx context.Context, buf []byte) (int, error) {
	if err := h.guard(); err != nil {
		return 0, err
	}
	return h.node.ch.Write(ctx, buf)
}

// Close releases the session: the channel stops accepting I/O, in-flight
// engine work is terminated, and the node becomes openable again.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	return h.node.ch.Release(ctx)
}

// Platform owns the set of nodes enumerated from one channel table.
type Platform struct {
	devnos *devno.Allocator

	mu    sync.Mutex
	nodes map[string]*Node
	order []*Node
}

// Probe builds a node for every spec entry: device number, engine channel,
// transfer channel. Partial failure unrolls everything created so far.
func Probe(specs []ChannelSpec, provider ChannelProvider, alloc *devno.Allocator) (*Platform, error) {
	p := &Platform{
		devnos: alloc,
		nodes:  make(map[string]*Node),
	}

	for _, spec := range specs {
		if err := p.addNode(spec, provider); err != nil {
			p.unroll()
			return nil, err
		}
	}
	return p, nil
}

func (p *Platform) addNode(spec ChannelSpec, provider ChannelProvider) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if _, ok := p.nodes[spec.Name]; ok {
		return fmt.Errorf("platform: duplicate channel %q", spec.Name)
	}

	num, err := p.devnos.Get()
	if err != nil {
		return fmt.Errorf("platform: %s: %w", spec.Name, err)
	}

	eng, err := provider.RequestChannel(spec.Fifo, spec.Dir)
	if err != nil {
		_ = p.devnos.Put(num)
		return fmt.Errorf("platform: %s: couldn't find dma channel %q: %w", spec.Name, spec.Fifo, err)
	}

	ch, err := dma.New(dma.Config{
		Name:   spec.Name,
		Dir:    spec.Dir,
		Engine: eng,
	})
	if err != nil {
		_ = p.devnos.Put(num)
		return fmt.Errorf("platform: %s: %w", spec.Name, err)
	}

	node := &Node{name: spec.Name, num: num, ch: ch}
	p.nodes[spec.Name] = node
	p.order = append(p.order, node)
	log.Printf("ezdma: %s (%s) available as %s", spec.Name, spec.Dir, num)
	return nil
}

// Node looks up a node by name.
func (p *Platform) Node(name string) (*Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[name]
	if !ok {
		return nil, fmt.Errorf("platform: no such channel %q", name)
	}
	return n, nil
}

// Nodes returns the nodes in enumeration order.
func (p *Platform) Nodes() []*Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Node, len(p.order))
	copy(out, p.order)
	return out
}

// Teardown terminates in-flight work on every node, returns all device
// numbers, and closes the allocator.
func (p *Platform) Teardown(ctx context.Context) error {
	p.mu.Lock()
	nodes := p.order
	p.order = nil
	p.nodes = make(map[string]*Node)
	p.mu.Unlock()

	var firstErr error
	for _, n := range nodes {
		log.Printf("ezdma: tearing down %s", n.name)
		if err := n.ch.Release(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := p.devnos.Put(n.num); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.devnos.Close()
	return firstErr
}

// unroll reverses a partial probe.
func (p *Platform) unroll() {
	for _, n := range p.order {
		log.Printf("ezdma: tearing down %s", n.name)
		_ = n.ch.Release(context.Background())
		_ = p.devnos.Put(n.num)
	}
	p.order = nil
	p.nodes = make(map[string]*Node)
}
