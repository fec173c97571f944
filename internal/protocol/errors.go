package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Session routing/state.
	ErrSessionBusy   = "E_SESSION_BUSY"
	ErrSessionClosed = "E_SESSION_CLOSED"

	// Command layer.
	ErrBadRequest      = "E_BAD_REQUEST"
	ErrUnknownCommand  = "E_UNKNOWN_COMMAND"
	ErrCapacity        = "E_CAPACITY"
	ErrUnknownCreature = "E_UNKNOWN_CREATURE"
	ErrInvalidTarget   = "E_INVALID_TARGET"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrSessionBusy:     {},
	ErrSessionClosed:   {},
	ErrBadRequest:      {},
	ErrUnknownCommand:  {},
	ErrCapacity:        {},
	ErrUnknownCreature: {},
	ErrInvalidTarget:   {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
