package face

import (
	"math"

	"smartattendance/internal/apperr"
)

// Rejection reasons reported with apperr.CodeQualityRejected.
const (
	ReasonNoFace     = "no-face"
	ReasonTooSmall   = "too-small"
	ReasonOffAngle   = "off-angle"
	ReasonEyesClosed = "eyes-closed"
)

// Thresholds bound what the gate accepts.
type Thresholds struct {
	MinArea    int     `json:"min_area"`
	MaxYaw     float64 `json:"max_yaw"`
	MaxRoll    float64 `json:"max_roll"`
	MinEyeOpen float64 `json:"min_eye_open"`
}

// DefaultThresholds returns the production limits.
func DefaultThresholds() Thresholds {
	return Thresholds{MinArea: 10000, MaxYaw: 30, MaxRoll: 20, MinEyeOpen: 0.5}
}

// Gate rejects captures unsuitable for comparison.
type Gate struct {
	T Thresholds
}

// NewGate builds a gate. Zero fields in t fall back to the defaults.
func NewGate(t Thresholds) Gate {
	def := DefaultThresholds()
	if t.MinArea <= 0 {
		t.MinArea = def.MinArea
	}
	if t.MaxYaw <= 0 {
		t.MaxYaw = def.MaxYaw
	}
	if t.MaxRoll <= 0 {
		t.MaxRoll = def.MaxRoll
	}
	if t.MinEyeOpen <= 0 {
		t.MinEyeOpen = def.MinEyeOpen
	}
	return Gate{T: t}
}

// Check returns nil for an acceptable detection or a QUALITY_REJECTED error
// naming the first failed check.
func (g Gate) Check(d *Detection) error {
	if d == nil {
		return apperr.Rejected(ReasonNoFace)
	}
	if d.Box.Area() < g.T.MinArea {
		return apperr.Rejected(ReasonTooSmall)
	}
	if math.Abs(d.Yaw) > g.T.MaxYaw || math.Abs(d.Roll) > g.T.MaxRoll {
		return apperr.Rejected(ReasonOffAngle)
	}
	if eyeClosed(d.LeftEyeOpen, g.T.MinEyeOpen) || eyeClosed(d.RightEyeOpen, g.T.MinEyeOpen) {
		return apperr.Rejected(ReasonEyesClosed)
	}
	return nil
}

func eyeClosed(p *float64, threshold float64) bool {
	return p != nil && *p < threshold
}

// Score rates a detection in [0, 1]. Informational only; Check decides.
func Score(d *Detection) float64 {
	if d == nil {
		return 0
	}
	score := 1.0
	if d.Box.Area() < 20000 {
		score *= 0.7
	}
	score *= math.Max(0.3, 1-math.Abs(d.Yaw)/45)
	score *= math.Max(0.3, 1-math.Abs(d.Roll)/30)
	if d.LeftEyeOpen != nil {
		score *= *d.LeftEyeOpen
	}
	if d.RightEyeOpen != nil {
		score *= *d.RightEyeOpen
	}
	return math.Max(0, math.Min(1, score))
}
