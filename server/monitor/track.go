package monitor

import (
	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/vigil/pkg/gen"
	"github.com/cyclopcam/vigil/pkg/nn"
)

type TrackState string

const (
	TrackStateNew      TrackState = "new"      // Created on this frame
	TrackStateTracking TrackState = "tracking" // Alive, matched or idle
	TrackStateAlerted  TrackState = "alerted"  // Crossed the alert threshold on this frame
	TrackStateExpired  TrackState = "expired"  // Evicted. Terminal.
)

// Track is a copy of a tracked object's state at the end of a frame.
// Tracks handed out by the engine are never modified after they are created.
type Track struct {
	ID                 uint32     `json:"id"`
	Label              string     `json:"label"`
	State              TrackState `json:"state"`
	SmoothedConfidence float32    `json:"smoothedConfidence"`
	RawConfidence      float32    `json:"rawConfidence"` // Most recent observation
	Box                nn.Rect    `json:"box"`
	FirstSeenFrame     int64      `json:"firstSeenFrame"`
	LastSeenFrame      int64      `json:"lastSeenFrame"`
	FramesSinceSeen    int        `json:"framesSinceSeen"`
	Alerting           bool       `json:"alerting"` // Smoothed confidence is at or above the alert threshold
}

// trackedObject is the engine's private, mutable record of a track
type trackedObject struct {
	id              uint32
	label           string
	state           TrackState
	smoothed        float32
	raw             float32
	box             nn.Rect
	firstSeenFrame  int64
	lastSeenFrame   int64
	framesSinceSeen int
	aboveAlert      bool
	history         ringbuffer.RingP[float32] // Recent raw confidences, oldest first
}

func newTrackedObject(id uint32, det *nn.RawDetection, frameIndex int64, historySize int) *trackedObject {
	t := &trackedObject{
		id:             id,
		label:          det.Label,
		state:          TrackStateNew,
		smoothed:       det.Confidence,
		raw:            det.Confidence,
		box:            det.Box,
		firstSeenFrame: frameIndex,
		lastSeenFrame:  frameIndex,
		history:        ringbuffer.NewRingP[float32](historySize),
	}
	t.history.Add(det.Confidence)
	return t
}

// observe folds a matched detection into the track.
// smoothed = alpha*raw + (1-alpha)*smoothed. That is a convex combination, but float32
// rounding can land it one ulp outside [prev, raw], so the result is clamped back in.
func (t *trackedObject) observe(det *nn.RawDetection, frameIndex int64, alpha float32) {
	t.smoothed = ema(t.smoothed, det.Confidence, alpha)
	t.raw = det.Confidence
	t.box = det.Box
	t.lastSeenFrame = frameIndex
	t.framesSinceSeen = 0
	t.state = TrackStateTracking
	t.history.Add(det.Confidence)
}

func ema(prev, raw, alpha float32) float32 {
	v := prev + alpha*(raw-prev)
	return gen.Clamp(v, min(prev, raw), max(prev, raw))
}

func (t *trackedObject) recentConfidences() []float32 {
	out := make([]float32, t.history.Len())
	for i := range out {
		out[i] = t.history.Peek(i)
	}
	return out
}

func (t *trackedObject) snapshot() Track {
	return Track{
		ID:                 t.id,
		Label:              t.label,
		State:              t.state,
		SmoothedConfidence: t.smoothed,
		RawConfidence:      t.raw,
		Box:                t.box,
		FirstSeenFrame:     t.firstSeenFrame,
		LastSeenFrame:      t.lastSeenFrame,
		FramesSinceSeen:    t.framesSinceSeen,
		Alerting:           t.aboveAlert,
	}
}
