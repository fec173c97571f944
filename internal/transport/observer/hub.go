package observer

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"arcatch.ai/internal/protocol"
	"arcatch.ai/internal/sim/events"
)

// Hub keeps a bounded backlog of session events and fans new ones out to
// connected observers. Publish never blocks: a client whose queue is full
// loses the event and its drop counter grows.
type Hub struct {
	mu      sync.Mutex
	backlog []protocol.EventBatchItem
	limit   int
	cursor  uint64

	clients map[uint64]*client
	nextID  uint64

	dropped atomic.Uint64
}

type client struct {
	id      uint64
	kinds   map[events.Kind]bool
	out     chan []byte
	dropped atomic.Uint64
}

func (c *client) wants(k events.Kind) bool {
	return len(c.kinds) == 0 || c.kinds[k]
}

func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = 1024
	}
	return &Hub{limit: backlog, clients: map[uint64]*client{}}
}

// Attach subscribes the hub to every event on bus.
func (h *Hub) Attach(bus *events.Bus) (detach func()) {
	return bus.SubscribeAll(h.Publish)
}

func (h *Hub) Publish(ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cursor++
	item := protocol.EventBatchItem{Cursor: h.cursor, Event: ev}
	h.backlog = append(h.backlog, item)
	if len(h.backlog) > h.limit {
		h.backlog = append(h.backlog[:0:0], h.backlog[len(h.backlog)-h.limit:]...)
	}

	var b []byte
	for _, c := range h.clients {
		if !c.wants(ev.Kind) {
			continue
		}
		if b == nil {
			var err error
			b, err = json.Marshal(protocol.EventMsg{
				Type:            protocol.TypeEvent,
				ProtocolVersion: protocol.Version,
				Cursor:          item.Cursor,
				Event:           ev,
			})
			if err != nil {
				return
			}
		}
		select {
		case c.out <- b:
		default:
			c.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
}

// Cursor returns the cursor of the newest event.
func (h *Hub) Cursor() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// join registers a client and returns the backlog after since, filtered by
// kinds. Both happen under the hub lock so no event is missed or repeated.
func (h *Hub) join(since uint64, kinds []string, queue int) (*client, []protocol.EventBatchItem, uint64) {
	c := &client{out: make(chan []byte, queue)}
	if len(kinds) > 0 {
		c.kinds = map[events.Kind]bool{}
		for _, k := range kinds {
			c.kinds[events.Kind(k)] = true
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	c.id = h.nextID
	h.clients[c.id] = c

	var items []protocol.EventBatchItem
	for _, it := range h.backlog {
		if it.Cursor > since && c.wants(it.Event.Kind) {
			items = append(items, it)
		}
	}
	return c, items, h.cursor
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}
