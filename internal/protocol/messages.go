package protocol

import "arcatch.ai/internal/sim/events"

// HELLO (observer -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// Kinds limits the stream to these event kinds; empty means all.
	Kinds       []string `json:"kinds,omitempty"`
	SinceCursor uint64   `json:"since_cursor,omitempty"`
}

// WELCOME (server -> observer)
type WelcomeMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	SessionID       string        `json:"session_id"`
	Params          SessionParams `json:"params"`
	CatalogDigest   string        `json:"catalog_digest"`
	Creatures       []string      `json:"creatures"`
	Cursor          uint64        `json:"cursor"`
}

type SessionParams struct {
	TickRateHz      int     `json:"tick_rate_hz"`
	CaptureDistance float64 `json:"capture_distance"`
	SuccessRate     float64 `json:"success_rate"`
	MaxCreatures    int     `json:"max_creatures"`
	Seed            int64   `json:"seed"`
}

// EVENT (server -> observer)
type EventMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Cursor          uint64       `json:"cursor"`
	Event           events.Event `json:"event"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
}
