package protocol

import "arcatch.ai/internal/sim/geom"

// Remote display endpoints.
const (
	DefaultCreaturePath = "/api/creature"
	DefaultHealthPath   = "/api/health"
)

// CreaturePayload is the hand-off record POSTed to the companion display.
type CreaturePayload struct {
	CreatureID     string    `json:"creatureId"`
	CreatureName   string    `json:"creatureName"`
	ModelPath      string    `json:"modelPath"`
	TargetPosition geom.Vec3 `json:"targetPosition"`
	TargetRotation geom.Quat `json:"targetRotation"`
	OriginalScale  geom.Vec3 `json:"originalScale"`
	AnimationData  string    `json:"animationData"`
}

// DisplayAck is the display receiver's reply. Senders only look at the
// HTTP status.
type DisplayAck struct {
	Status   string `json:"status"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	Drawable string `json:"drawable,omitempty"`
}

type HealthMsg struct {
	Status  string `json:"status"`
	Showing string `json:"showing,omitempty"`
	Shown   int    `json:"shown"`
}
