package protocol

import "arcatch.ai/internal/sim/geom"

// Input command types accepted by POST /v1/input.
const (
	CmdViewer      = "VIEWER"
	CmdHand        = "HAND"
	CmdGrabPress   = "GRAB_PRESS"
	CmdGrabRelease = "GRAB_RELEASE"
	CmdCapture     = "CAPTURE_ATTEMPT"
	CmdExitCapture = "CAPTURE_EXIT"
	CmdSpawn       = "SPAWN"
	CmdUnload      = "UNLOAD"
	CmdUnloadAll   = "UNLOAD_ALL"
)

type InputMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ReqID           string `json:"req_id,omitempty"`

	// VIEWER / HAND
	Position  *geom.Vec3 `json:"position,omitempty"`
	Direction *geom.Vec3 `json:"direction,omitempty"`

	// SPAWN / UNLOAD
	CreatureID string   `json:"creature_id,omitempty"`
	InstanceID string   `json:"instance_id,omitempty"`
	Scale      *float64 `json:"scale,omitempty"`
	Animation  string   `json:"animation,omitempty"`
}

type InputResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	InstanceID      string `json:"instance_id,omitempty"`
	Tick            uint64 `json:"tick"`
}

// STATUS (server -> client)
type StatusMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Tick            uint64           `json:"tick"`
	Viewer          geom.Pose        `json:"viewer"`
	Creatures       []CreatureStatus `json:"creatures"`
	Capture         CaptureStatus    `json:"capture"`
	Grab            GrabStatus       `json:"grab"`
	InFlight        int              `json:"in_flight"`
}

type CreatureStatus struct {
	InstanceID string    `json:"instance_id"`
	CreatureID string    `json:"creature_id"`
	Name       string    `json:"name"`
	State      string    `json:"state"`
	Position   geom.Vec3 `json:"position"`
	Distance   float64   `json:"distance"`
	Rare       bool      `json:"rare,omitempty"`
	Fallback   bool      `json:"fallback,omitempty"`
	Animation  string    `json:"animation,omitempty"`
}

type CaptureStatus struct {
	Phase     string  `json:"phase"`
	TargetID  string  `json:"target_id,omitempty"`
	Capturing bool    `json:"capturing"`
	Distance  float64 `json:"distance,omitempty"`
	Progress  float64 `json:"progress"`
	Warning   string  `json:"warning,omitempty"`
	LastOK    *bool   `json:"last_success,omitempty"`
	LastOdds  float64 `json:"last_chance,omitempty"`
}

type GrabStatus struct {
	Phase    string `json:"phase"`
	TargetID string `json:"target_id,omitempty"`
}
