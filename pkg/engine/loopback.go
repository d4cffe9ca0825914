package engine

import (
	"sync"

	"github.com/jeremytrimble/ezdma/pkg/umem"
)

// Hub is an in-memory loopback DMA engine. Each named FIFO connects a
// host-to-device endpoint to a device-to-host endpoint: packets written on
// the TX side come back on the RX side, the way an AXI-stream loopback
// wires TX to RX in hardware.
//
// Completion callbacks run on a delivery goroutine, never on the submitting
// goroutine, so the transfer core sees the same asynchrony it would from a
// real completion interrupt.
type Hub struct {
	mu    sync.Mutex
	fifos map[string]*fifo
}

// NewHub creates an empty loopback hub.
func NewHub() *Hub {
	return &Hub{fifos: make(map[string]*fifo)}
}

// RequestChannel returns the endpoint for one direction of the named FIFO,
// creating the FIFO on first use.
func (h *Hub) RequestChannel(name string, dir umem.Direction) *Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, ok := h.fifos[name]
	if !ok {
		f = &fifo{}
		h.fifos[name] = f
	}
	return &Endpoint{f: f, dir: dir}
}

type fifo struct {
	mu    sync.Mutex
	queue [][]byte
	rx    *Endpoint // endpoint with a receive pending on an empty queue
}

// Endpoint is one direction of a loopback FIFO, implementing Engine.
type Endpoint struct {
	f   *fifo
	dir umem.Direction

	mu      sync.Mutex
	pending *Transaction
	next    Cookie
}

// PrepareSG validates the descriptor table against the endpoint direction.
func (e *Endpoint) PrepareSG(sg *umem.Table, dir umem.Direction) (*Transaction, error) {
	if dir != e.dir {
		return nil, ErrBadDirection
	}
	if sg == nil || len(sg.Entries) == 0 {
		return nil, ErrEmptyTable
	}
	return &Transaction{SG: sg, Dir: dir}, nil
}

// Submit queues the transaction. One transaction may be queued at a time.
func (e *Endpoint) Submit(t *Transaction) (Cookie, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending != nil {
		return 0, ErrBusy
	}
	e.pending = t
	e.next++
	return MinCookie + e.next - 1, nil
}

// Issue kicks the delivery goroutine. It never blocks.
func (e *Endpoint) Issue() {
	go e.deliver()
}

// TerminateAll drops the queued transaction, if any, without invoking its
// callback, and withdraws any receive registered on the FIFO.
func (e *Endpoint) TerminateAll() error {
	e.mu.Lock()
	e.pending = nil
	e.mu.Unlock()

	e.f.mu.Lock()
	if e.f.rx == e {
		e.f.rx = nil
	}
	e.f.mu.Unlock()
	return nil
}

// deliver runs in the hub's interrupt-equivalent context.
func (e *Endpoint) deliver() {
	if e.dir == umem.HostToDevice {
		e.deliverTx()
	} else {
		e.deliverRx()
	}
}

func (e *Endpoint) deliverTx() {
	e.mu.Lock()
	t := e.pending
	if t == nil { // terminated before delivery
		e.mu.Unlock()
		return
	}
	pkt := gather(t.SG)
	e.pending = nil
	e.mu.Unlock()

	e.f.mu.Lock()
	e.f.queue = append(e.f.queue, pkt)
	rx := e.f.rx
	e.f.rx = nil
	e.f.mu.Unlock()

	if t.Callback != nil {
		t.Callback()
	}
	if rx != nil {
		rx.deliver()
	}
}

func (e *Endpoint) deliverRx() {
	e.mu.Lock()
	t := e.pending
	e.mu.Unlock()
	if t == nil {
		return
	}

	e.f.mu.Lock()
	if len(e.f.queue) == 0 {
		// Nothing to receive yet; the next TX delivery re-kicks us.
		e.f.rx = e
		e.f.mu.Unlock()
		return
	}
	pkt := e.f.queue[0]
	e.f.queue = e.f.queue[1:]
	e.f.mu.Unlock()

	e.mu.Lock()
	if e.pending != t {
		// Terminated while we were dequeuing; the packet is lost, as it
		// would be on real hardware.
		e.mu.Unlock()
		return
	}
	scatter(t.SG, pkt)
	e.pending = nil
	e.mu.Unlock()

	if t.Callback != nil {
		t.Callback()
	}
}

// gather copies the transfer bytes out of the descriptor views. The copy
// models the engine reading host memory while the pages are pinned.
func gather(sg *umem.Table) []byte {
	pkt := make([]byte, 0, sg.Bytes())
	for i := range sg.Entries {
		pkt = append(pkt, sg.Entries[i].Data...)
	}
	return pkt
}

// scatter writes a packet into the descriptor views, page span by page
// span. A packet longer than the descriptor list is truncated; one frame is
// consumed per receive either way.
func scatter(sg *umem.Table, pkt []byte) {
	for i := range sg.Entries {
		if len(pkt) == 0 {
			return
		}
		n := copy(sg.Entries[i].Data, pkt)
		pkt = pkt[n:]
	}
}
