package monitor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vigil/pkg/gen"
	"github.com/cyclopcam/vigil/pkg/nn"
)

// ErrOutOfOrder is returned when a frame's index is not greater than the previous frame's index
var ErrOutOfOrder = errors.New("Frame out of order")

// DetectionEvent is emitted when a track's smoothed confidence rises to or above the alert threshold
type DetectionEvent struct {
	SessionID     string    `json:"sessionID"`
	TrackID       uint32    `json:"trackID"`
	Label         string    `json:"label"`
	Confidence    float32   `json:"confidence"`    // Smoothed
	RawConfidence float32   `json:"rawConfidence"` // Observation that caused the crossing
	Box           nn.Rect   `json:"box"`
	FrameIndex    int64     `json:"frameIndex"`
	FramePTS      time.Time `json:"framePTS"`
	History       []float32 `json:"history"` // Recent raw confidences of the track, oldest first
}

// Snapshot is a consistent copy of the engine state at the end of a frame
type Snapshot struct {
	SessionID  string    `json:"sessionID"`
	FrameIndex int64     `json:"frameIndex"`
	FramePTS   time.Time `json:"framePTS"`
	Tracks     []Track   `json:"tracks"`
}

// FrameResult is everything that happened while processing one frame
type FrameResult struct {
	FrameIndex int64
	Events     []DetectionEvent
	Evicted    []Track // Tracks that expired on this frame, in their final state
	Snapshot   *Snapshot
}

// Engine smooths detection confidences across the frames of one session.
//
// ProcessFrame, Annotate and Snapshot must be called from a single goroutine (the session owner).
// LatestSnapshot and the watcher functions are safe to call from any goroutine.
type Engine struct {
	Log       logs.Log
	SessionID string

	settings      Settings
	historySize   int
	tracks        []*trackedObject // Ordered by creation (and therefore by ID)
	nextTrackID   uint32
	haveFrame     bool
	lastFrame     int64
	lastPTS       time.Time
	loggedClamp   bool
	loggedClip    bool
	numEvents     int64
	latest        atomic.Pointer[Snapshot]
	watchersLock  sync.RWMutex
	watchers      []chan *Snapshot
	eventWatchers []chan DetectionEvent
}

// NewEngine creates an engine with no tracks.
// Every session gets its own engine, so no state carries over between sessions.
func NewEngine(log logs.Log, settings Settings, sessionID string) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		Log:         log,
		SessionID:   sessionID,
		settings:    settings,
		historySize: gen.NextPowerOf2(settings.ConfidenceHistory),
	}
	e.latest.Store(&Snapshot{SessionID: sessionID, FrameIndex: -1, Tracks: []Track{}})
	return e, nil
}

func (e *Engine) Settings() Settings {
	return e.settings
}

// NumEvents returns the number of DetectionEvents emitted so far
func (e *Engine) NumEvents() int64 {
	return e.numEvents
}

// ProcessFrame advances the engine by one frame.
// detections are the raw detector output for frame. They are sanitized (confidence clamped
// to [0,1], boxes clipped to the frame) but the caller's slice is not modified.
// If the frame is out of order, ErrOutOfOrder is returned and the engine state is unchanged.
func (e *Engine) ProcessFrame(frame *nn.Frame, detections []nn.RawDetection) (*FrameResult, error) {
	if e.haveFrame && frame.Index <= e.lastFrame {
		return nil, fmt.Errorf("%w: frame %v after frame %v", ErrOutOfOrder, frame.Index, e.lastFrame)
	}
	e.haveFrame = true
	e.lastFrame = frame.Index
	e.lastPTS = frame.PTS

	dets := e.sanitize(frame, detections)
	result := &FrameResult{
		FrameIndex: frame.Index,
	}

	// 1. Match detections to existing tracks
	detToTrack := matchDetections(e.tracks, dets, e.settings.MatchIoU)

	// States describe what happened on this frame, so the previous frame's transitions are over
	for _, t := range e.tracks {
		t.state = TrackStateTracking
	}

	// 2. Update matched tracks, and create new tracks for unmatched detections
	seen := make([]bool, len(e.tracks))
	touched := make([]*trackedObject, 0, len(dets))
	for i := range dets {
		det := &dets[i]
		if j := detToTrack[i]; j != -1 {
			e.tracks[j].observe(det, frame.Index, e.settings.Alpha)
			seen[j] = true
			touched = append(touched, e.tracks[j])
		} else {
			e.nextTrackID++
			t := newTrackedObject(e.nextTrackID, det, frame.Index, e.historySize)
			e.tracks = append(e.tracks, t)
			touched = append(touched, t)
			if e.settings.Verbose {
				e.Log.Infof("New track %v '%v' at %v,%v (confidence %.2f)", t.id, t.label, t.box.Center().X, t.box.Center().Y, t.smoothed)
			}
		}
	}

	// 3. Age unmatched tracks, and evict those that have been idle for too long
	for j, wasSeen := range seen {
		if wasSeen {
			continue
		}
		t := e.tracks[j]
		t.framesSinceSeen++
		if t.framesSinceSeen > e.settings.IdleLimit {
			t.state = TrackStateExpired
			result.Evicted = append(result.Evicted, t.snapshot())
			if e.settings.Verbose {
				e.Log.Infof("Track %v '%v' expired after %v idle frames", t.id, t.label, t.framesSinceSeen)
			}
		}
	}
	if len(result.Evicted) != 0 {
		e.tracks = gen.DeleteIf(e.tracks, func(t *trackedObject) bool { return t.state == TrackStateExpired })
	}

	// 4. Rising edge detection. Only tracks that received an observation can change their
	// smoothed confidence, so only they can cross the threshold.
	for _, t := range touched {
		above := t.smoothed >= e.settings.AlertThreshold
		if above && !t.aboveAlert {
			t.state = TrackStateAlerted
			result.Events = append(result.Events, DetectionEvent{
				SessionID:     e.SessionID,
				TrackID:       t.id,
				Label:         t.label,
				Confidence:    t.smoothed,
				RawConfidence: t.raw,
				Box:           t.box,
				FrameIndex:    frame.Index,
				FramePTS:      frame.PTS,
				History:       t.recentConfidences(),
			})
			e.numEvents++
		}
		t.aboveAlert = above
	}

	result.Snapshot = e.Snapshot()
	e.publish(result.Snapshot, result.Events)
	return result, nil
}

// sanitize returns a copy of detections with confidence clamped to [0,1] and boxes
// clipped to the frame. Each kind of repair is logged once per session.
func (e *Engine) sanitize(frame *nn.Frame, detections []nn.RawDetection) []nn.RawDetection {
	out := make([]nn.RawDetection, len(detections))
	for i, d := range detections {
		conf, clamped := gen.ClampUnit(d.Confidence)
		if clamped && !e.loggedClamp {
			e.loggedClamp = true
			e.Log.Warnf("Frame %v: '%v' confidence %v is outside [0,1], clamped to %v. Further clamping in this session will not be logged.", frame.Index, d.Label, d.Confidence, conf)
		}
		box := d.Box.Clip(frame.Width, frame.Height)
		if box != d.Box && !e.loggedClip {
			e.loggedClip = true
			e.Log.Warnf("Frame %v: '%v' box %+v clipped to %+v. Further clipping in this session will not be logged.", frame.Index, d.Label, d.Box, box)
		}
		out[i] = nn.RawDetection{
			Box:        box,
			Label:      d.Label,
			Confidence: conf,
		}
	}
	return out
}

// Snapshot returns a copy of the current tracks.
// Must be called from the goroutine that owns the engine. Other goroutines use LatestSnapshot.
func (e *Engine) Snapshot() *Snapshot {
	s := &Snapshot{
		SessionID:  e.SessionID,
		FrameIndex: e.lastFrame,
		FramePTS:   e.lastPTS,
		Tracks:     make([]Track, 0, len(e.tracks)),
	}
	if !e.haveFrame {
		s.FrameIndex = -1
	}
	for _, t := range e.tracks {
		s.Tracks = append(s.Tracks, t.snapshot())
	}
	return s
}

// LatestSnapshot returns the snapshot published at the end of the most recent frame.
// The returned value is shared, and must not be modified.
func (e *Engine) LatestSnapshot() *Snapshot {
	return e.latest.Load()
}

func (e *Engine) publish(s *Snapshot, events []DetectionEvent) {
	e.latest.Store(s)
	e.sendToWatchers(s, events)
}
