package protocol

import "arcatch.ai/internal/sim/events"

type EventBatchItem struct {
	Cursor uint64       `json:"cursor"`
	Event  events.Event `json:"event"`
}

// EVENT_BATCH (server -> observer): backlog replayed after WELCOME.
type EventBatchMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Events          []EventBatchItem `json:"events"`
	NextCursor      uint64           `json:"next_cursor"`
}
