package capture

import "arcatch.ai/internal/sim/geom"

// Result is the outcome of one resolved capture attempt.
type Result struct {
	Success  bool    `json:"success"`
	Distance float64 `json:"distance"`
	Accuracy float64 `json:"accuracy"`
	Chance   float64 `json:"chance"`
	Draw     float64 `json:"draw"`
	Rare     bool    `json:"rare"`
}

// Odds holds the resolution inputs that do not depend on the attempt.
type Odds struct {
	CaptureDistance float64
	BaseRate        float64
	RarePenalty     float64
}

// Accuracy is 1 - distance/captureDistance clamped to [0,1], scaled by the
// rare penalty for rare targets.
func (o Odds) Accuracy(distance float64, rare bool) float64 {
	if o.CaptureDistance <= 0 {
		return 0
	}
	acc := geom.Clamp(1-distance/o.CaptureDistance, 0, 1)
	if rare {
		acc *= o.RarePenalty
	}
	return acc
}

func (o Odds) Chance(distance float64, rare bool) float64 {
	return o.BaseRate * o.Accuracy(distance, rare)
}

// Resolve succeeds when draw < chance. Attempt history plays no part.
func (o Odds) Resolve(distance float64, rare bool, draw float64) Result {
	acc := o.Accuracy(distance, rare)
	chance := o.BaseRate * acc
	return Result{
		Success:  draw < chance,
		Distance: distance,
		Accuracy: acc,
		Chance:   chance,
		Draw:     draw,
		Rare:     rare,
	}
}
