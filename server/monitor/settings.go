package monitor

import "fmt"

// Settings are the tuning parameters of the smoothing engine.
// The zero value is not usable; start with DefaultSettings().
type Settings struct {
	MatchIoU          float32 `json:"matchIoU"`          // A detection matches a track of the same label if IoU >= MatchIoU
	Alpha             float32 `json:"alpha"`             // Weight of the newest observation in the exponential moving average
	IdleLimit         int     `json:"idleLimit"`         // A track is evicted once it has gone unmatched for more than this many frames
	AlertThreshold    float32 `json:"alertThreshold"`    // Rising edge at or above this emits a DetectionEvent
	DisplayThreshold  float32 `json:"displayThreshold"`  // Tracks with smoothed confidence above this are drawn
	ConfidenceHistory int     `json:"confidenceHistory"` // Number of raw confidences kept per track (rounded up to a power of 2)
	Verbose           bool    `json:"verbose"`           // Log track creation and eviction
}

func DefaultSettings() Settings {
	return Settings{
		MatchIoU:          0.3,
		Alpha:             0.5,
		IdleLimit:         10,
		AlertThreshold:    0.8,
		DisplayThreshold:  0.5,
		ConfidenceHistory: 16,
	}
}

func (s *Settings) Validate() error {
	if !(s.MatchIoU > 0 && s.MatchIoU <= 1) {
		return fmt.Errorf("matchIoU must be in (0,1], not %v", s.MatchIoU)
	}
	if !(s.Alpha >= 0 && s.Alpha <= 1) {
		return fmt.Errorf("alpha must be in [0,1], not %v", s.Alpha)
	}
	if s.IdleLimit < 0 {
		return fmt.Errorf("idleLimit may not be negative (%v)", s.IdleLimit)
	}
	if !(s.AlertThreshold >= 0 && s.AlertThreshold <= 1) {
		return fmt.Errorf("alertThreshold must be in [0,1], not %v", s.AlertThreshold)
	}
	if !(s.DisplayThreshold >= 0 && s.DisplayThreshold <= 1) {
		return fmt.Errorf("displayThreshold must be in [0,1], not %v", s.DisplayThreshold)
	}
	if s.ConfidenceHistory < 1 {
		return fmt.Errorf("confidenceHistory must be at least 1 (%v)", s.ConfidenceHistory)
	}
	return nil
}
