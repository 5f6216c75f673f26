package monitor

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vigil/pkg/gen"
	"github.com/cyclopcam/vigil/pkg/nn"
	"github.com/cyclopcam/vigil/server/detector"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const testWidth = 320
const testHeight = 240

var testEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testFrame(index int64) *nn.Frame {
	return nn.NewFrame(index, testEpoch.Add(time.Duration(index)*100*time.Millisecond), testWidth, testHeight, 3)
}

func newTestEngine(t *testing.T, settings Settings) *Engine {
	t.Helper()
	e, err := NewEngine(logs.NewTestingLog(t), settings, "test-session")
	require.NoError(t, err)
	return e
}

func person(conf float32) nn.RawDetection {
	return nn.RawDetection{
		Box:        nn.RectFromCorners(100, 60, 160, 180),
		Label:      "person",
		Confidence: conf,
	}
}

func process(t *testing.T, e *Engine, index int64, dets ...nn.RawDetection) *FrameResult {
	t.Helper()
	r, err := e.ProcessFrame(testFrame(index), dets)
	require.NoError(t, err)
	return r
}

func TestSmoothedStaysWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		settings := DefaultSettings()
		settings.Alpha = rng.Float32()
		settings.IdleLimit = 1000
		e := newTestEngine(t, settings)
		lo := float32(1)
		hi := float32(0)
		for i := int64(1); i <= 30; i++ {
			conf := rng.Float32()
			lo = min(lo, conf)
			hi = max(hi, conf)
			r := process(t, e, i, person(conf))
			require.Len(t, r.Snapshot.Tracks, 1)
			s := r.Snapshot.Tracks[0].SmoothedConfidence
			require.GreaterOrEqual(t, s, lo)
			require.LessOrEqual(t, s, hi)
		}
	}
}

func TestConstantConfidenceIsAFixedPoint(t *testing.T) {
	settings := DefaultSettings()
	settings.Alpha = 0.6645601
	e := newTestEngine(t, settings)
	raw := float32(0.4377142)
	for i := int64(1); i <= 5; i++ {
		r := process(t, e, i, person(raw))
		require.Equal(t, raw, r.Snapshot.Tracks[0].SmoothedConfidence)
	}
}

// A detection that sits just under the alert threshold must never alert, no
// matter how the rounding of the moving average falls.
func TestNoAlertBelowThreshold(t *testing.T) {
	settings := DefaultSettings()
	settings.Alpha = 0.198
	settings.AlertThreshold = 0.51
	e := newTestEngine(t, settings)
	raw := float32(0.50999993)
	for i := int64(1); i <= 50; i++ {
		r := process(t, e, i, person(raw))
		require.Empty(t, r.Events, "frame %v", i)
		require.LessOrEqual(t, r.Snapshot.Tracks[0].SmoothedConfidence, raw)
	}

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		settings.Alpha = rng.Float32()
		settings.AlertThreshold = rng.Float32()
		if settings.AlertThreshold <= 0 {
			continue
		}
		below := math.Nextafter32(settings.AlertThreshold, 0)
		e := newTestEngine(t, settings)
		for i := int64(1); i <= 20; i++ {
			r := process(t, e, i, person(below))
			require.Empty(t, r.Events, "alpha %v threshold %v frame %v", settings.Alpha, settings.AlertThreshold, i)
		}
	}
}

func TestEMAUpdate(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	r := process(t, e, 1, person(0.6))
	require.Equal(t, TrackStateNew, r.Snapshot.Tracks[0].State)
	require.Equal(t, float32(0.6), r.Snapshot.Tracks[0].SmoothedConfidence)

	moved := person(0.2)
	moved.Box.Offset(5, 5)
	r = process(t, e, 2, moved)
	tr := r.Snapshot.Tracks[0]
	require.Equal(t, uint32(1), tr.ID)
	require.Equal(t, TrackStateTracking, tr.State)
	require.InDelta(t, 0.4, tr.SmoothedConfidence, 1e-6)
	require.Equal(t, float32(0.2), tr.RawConfidence)
	// Box is replaced, not smoothed
	require.Equal(t, moved.Box, tr.Box)
	require.Equal(t, int64(2), tr.LastSeenFrame)
	require.Equal(t, int64(1), tr.FirstSeenFrame)
}

func TestOneEventPerRisingEdge(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	events := []DetectionEvent{}
	seq := []float32{0.9, 0.9, 0.9, 0.9, 0.9, 0.1, 0.95, 0.95, 0.95, 0.95}
	states := []TrackState{}
	for i, c := range seq {
		r := process(t, e, int64(i+1), person(c))
		events = append(events, r.Events...)
		states = append(states, r.Snapshot.Tracks[0].State)
	}
	// 0.9 (event), 0.9, 0.9, 0.9, 0.9, 0.5, 0.725, 0.8375 (event), ...
	require.Len(t, events, 2)
	require.Equal(t, int64(1), events[0].FrameIndex)
	require.Equal(t, int64(8), events[1].FrameIndex)
	require.Equal(t, events[0].TrackID, events[1].TrackID)
	require.InDelta(t, 0.8375, events[1].Confidence, 1e-6)
	require.Equal(t, float32(0.95), events[1].RawConfidence)
	require.Equal(t, int64(2), e.NumEvents())

	require.Equal(t, TrackStateAlerted, states[0])
	require.Equal(t, TrackStateTracking, states[1])
	require.Equal(t, TrackStateAlerted, states[7])
	require.Equal(t, TrackStateTracking, states[8])

	// History carries the recent raw confidences, oldest first
	require.Equal(t, []float32{0.9, 0.9, 0.9, 0.9, 0.9, 0.1, 0.95, 0.95}, events[1].History)
}

func TestAlertThresholdIsInclusive(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	r := process(t, e, 1, person(0.8))
	require.Len(t, r.Events, 1)
	require.True(t, r.Snapshot.Tracks[0].Alerting)
}

func TestEvictionAfterIdleLimit(t *testing.T) {
	settings := DefaultSettings()
	settings.IdleLimit = 3
	e := newTestEngine(t, settings)

	process(t, e, 1, person(0.6))
	for i := int64(2); i <= 4; i++ {
		r := process(t, e, i)
		require.Len(t, r.Snapshot.Tracks, 1, "frame %v", i)
		require.Equal(t, int(i-1), r.Snapshot.Tracks[0].FramesSinceSeen)
		require.Len(t, r.Evicted, 0)
	}
	r := process(t, e, 5)
	require.Len(t, r.Snapshot.Tracks, 0)
	require.Len(t, r.Evicted, 1)
	require.Equal(t, uint32(1), r.Evicted[0].ID)
	require.Equal(t, TrackStateExpired, r.Evicted[0].State)

	// Same label and position: a new identity
	r = process(t, e, 6, person(0.6))
	require.Len(t, r.Snapshot.Tracks, 1)
	require.Equal(t, uint32(2), r.Snapshot.Tracks[0].ID)
}

func TestIdleTrackIsResumed(t *testing.T) {
	settings := DefaultSettings()
	settings.IdleLimit = 3
	e := newTestEngine(t, settings)
	process(t, e, 1, person(0.6))
	process(t, e, 2)
	process(t, e, 3)
	process(t, e, 4)
	r := process(t, e, 5, person(0.6))
	require.Len(t, r.Snapshot.Tracks, 1)
	require.Equal(t, uint32(1), r.Snapshot.Tracks[0].ID)
	require.Equal(t, 0, r.Snapshot.Tracks[0].FramesSinceSeen)
}

func TestMatchingRequiresLabelAndOverlap(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	process(t, e, 1, person(0.6))

	car := person(0.6)
	car.Label = "car"
	far := person(0.6)
	far.Box.Offset(100, 0) // No overlap at all
	slight := person(0.6)
	slight.Box.Offset(10, 10) // IoU well above 0.3

	r := process(t, e, 2, car, far, slight)
	require.Len(t, r.Snapshot.Tracks, 3)
	ids := map[uint32]string{}
	for _, tr := range r.Snapshot.Tracks {
		ids[tr.ID] = tr.Label
	}
	require.Equal(t, map[uint32]string{1: "person", 2: "car", 3: "person"}, ids)
	require.Equal(t, slight.Box, r.Snapshot.Tracks[0].Box)
}

func TestMatchThreshold(t *testing.T) {
	settings := DefaultSettings()
	settings.MatchIoU = 0.5
	e := newTestEngine(t, settings)
	a := nn.RawDetection{Box: nn.Rect{X: 0, Y: 0, Width: 100, Height: 100}, Label: "person", Confidence: 0.6}
	process(t, e, 1, a)
	// IoU = 50*100 / (2*10000 - 5000) = 1/3
	b := a
	b.Box.Offset(50, 0)
	r := process(t, e, 2, b)
	require.Len(t, r.Snapshot.Tracks, 2)
}

func TestEachTrackMatchesOnce(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	process(t, e, 1, person(0.6))
	r := process(t, e, 2, person(0.7), person(0.7))
	require.Len(t, r.Snapshot.Tracks, 2)
	require.InDelta(t, 0.65, r.Snapshot.Tracks[0].SmoothedConfidence, 1e-6)
	require.Equal(t, float32(0.7), r.Snapshot.Tracks[1].SmoothedConfidence)
}

// recordingLog keeps every warning, and forwards everything to the test log
type recordingLog struct {
	logs.Log
	warnings []string
}

func (l *recordingLog) Warnf(format string, a ...any) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, a...))
	l.Log.Warnf(format, a...)
}

func (l *recordingLog) countContaining(substr string) int {
	n := 0
	for _, w := range l.warnings {
		if strings.Contains(w, substr) {
			n++
		}
	}
	return n
}

func TestRepairsAreLoggedOncePerSession(t *testing.T) {
	offFrame := func(conf float32) nn.RawDetection {
		d := person(conf)
		d.Box = nn.RectFromCorners(300, 200, 400, 300)
		return d
	}

	log := &recordingLog{Log: logs.NewTestingLog(t)}
	e, err := NewEngine(log, DefaultSettings(), "first")
	require.NoError(t, err)
	for i := int64(1); i <= 5; i++ {
		_, err := e.ProcessFrame(testFrame(i), []nn.RawDetection{person(1.5), person(-0.2), offFrame(0.7)})
		require.NoError(t, err)
	}
	require.Equal(t, 1, log.countContaining("clamped to"))
	require.Equal(t, 1, log.countContaining("clipped to"))
	require.Len(t, log.warnings, 2)

	// A fresh engine starts a new session, so it logs again
	log2 := &recordingLog{Log: logs.NewTestingLog(t)}
	e2, err := NewEngine(log2, DefaultSettings(), "second")
	require.NoError(t, err)
	_, err = e2.ProcessFrame(testFrame(1), []nn.RawDetection{person(2), offFrame(0.7)})
	require.NoError(t, err)
	require.Equal(t, 1, log2.countContaining("clamped to"))
	require.Equal(t, 1, log2.countContaining("clipped to"))

	// Valid input never warns
	log3 := &recordingLog{Log: logs.NewTestingLog(t)}
	e3, err := NewEngine(log3, DefaultSettings(), "third")
	require.NoError(t, err)
	_, err = e3.ProcessFrame(testFrame(1), []nn.RawDetection{person(0.7)})
	require.NoError(t, err)
	require.Empty(t, log3.warnings)
}

func TestClamping(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	high := person(1.5)
	low := person(-0.2)
	low.Label = "bag"
	input := []nn.RawDetection{high, low}
	r, err := e.ProcessFrame(testFrame(1), input)
	require.NoError(t, err)
	require.Equal(t, float32(1), r.Snapshot.Tracks[0].SmoothedConfidence)
	require.Equal(t, float32(0), r.Snapshot.Tracks[1].SmoothedConfidence)
	// The caller's detections are left alone
	require.Equal(t, float32(1.5), input[0].Confidence)
	// Clamped value takes part in the alert logic
	require.Len(t, r.Events, 1)
	require.Equal(t, float32(1), r.Events[0].Confidence)
}

func TestBoxClipping(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	d := nn.RawDetection{Box: nn.RectFromCorners(300, 200, 400, 300), Label: "person", Confidence: 0.9}
	r := process(t, e, 1, d)
	box := r.Snapshot.Tracks[0].Box
	require.Equal(t, int32(testWidth), box.X2())
	require.Equal(t, int32(testHeight), box.Y2())
	require.Equal(t, nn.Rect{X: 300, Y: 200, Width: 20, Height: 40}, box)
	require.Equal(t, box, r.Events[0].Box)
}

func TestBoxFarOutsideFrame(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	// The right edge of this box does not fit in int32
	far := nn.RawDetection{Box: nn.Rect{X: 2147483600, Y: 10, Width: 100, Height: 50}, Label: "person", Confidence: 0.9}
	r := process(t, e, 1, far)
	require.Len(t, r.Snapshot.Tracks, 1)
	require.True(t, r.Snapshot.Tracks[0].Box.Empty())

	// Another off-frame box never matches the first one
	r = process(t, e, 2, far)
	require.Len(t, r.Snapshot.Tracks, 2)

	ann, err := e.Annotate(testFrame(2))
	require.NoError(t, err)
	require.Empty(t, ann.Drawn)
}

func TestOutOfOrderFrames(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	process(t, e, 5, person(0.6))
	_, err := e.ProcessFrame(testFrame(5), nil)
	require.True(t, errors.Is(err, ErrOutOfOrder))
	_, err = e.ProcessFrame(testFrame(3), []nn.RawDetection{person(0.9)})
	require.True(t, errors.Is(err, ErrOutOfOrder))
	// State is untouched by the rejected frames
	s := e.Snapshot()
	require.Equal(t, int64(5), s.FrameIndex)
	require.Len(t, s.Tracks, 1)
	require.Equal(t, 0, s.Tracks[0].FramesSinceSeen)
	// Gaps are fine
	process(t, e, 9)
}

func TestSnapshotIsACopy(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	require.Equal(t, int64(-1), e.LatestSnapshot().FrameIndex)
	r := process(t, e, 1, person(0.6))
	r.Snapshot.Tracks[0].SmoothedConfidence = 0.01
	r.Snapshot.Tracks[0].Box.Offset(1000, 1000)
	s := e.Snapshot()
	require.Equal(t, float32(0.6), s.Tracks[0].SmoothedConfidence)
	require.Equal(t, person(0.6).Box, s.Tracks[0].Box)
	require.Same(t, r.Snapshot, e.LatestSnapshot())
}

func TestWatchers(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	snaps := e.AddWatcher()
	events := e.AddEventWatcher()
	process(t, e, 1, person(0.9))
	process(t, e, 2, person(0.9))
	got := gen.DrainChannelIntoSlice(snaps)
	require.Len(t, got, 2)
	require.Equal(t, int64(2), got[1].FrameIndex)
	evs := gen.DrainChannelIntoSlice(events)
	require.Len(t, evs, 1)

	e.RemoveWatcher(snaps)
	e.RemoveEventWatcher(events)
	process(t, e, 3, person(0.9))
	require.Len(t, snaps, 0)
}

func TestInvalidSettings(t *testing.T) {
	bad := []func(s *Settings){
		func(s *Settings) { s.MatchIoU = 0 },
		func(s *Settings) { s.Alpha = 1.5 },
		func(s *Settings) { s.IdleLimit = -1 },
		func(s *Settings) { s.AlertThreshold = 2 },
		func(s *Settings) { s.DisplayThreshold = -0.1 },
		func(s *Settings) { s.ConfidenceHistory = 0 },
	}
	for i, mod := range bad {
		s := DefaultSettings()
		mod(&s)
		_, err := NewEngine(logs.NewTestingLog(t), s, "x")
		require.Error(t, err, "case %v", i)
	}
}

// runScenario drives the demo detector through a fresh engine:
// confidence 0.9 at frame 20, 0.85 at frame 40, and nothing else.
func runScenario(t *testing.T) ([]DetectionEvent, map[int64]*FrameResult) {
	t.Helper()
	log := logs.NewTestingLog(t)
	stub, err := detector.NewStubDetector(detector.StubConfig{Interval: 20, Schedule: []float32{0.9, 0.85}})
	require.NoError(t, err)
	adapter := detector.NewAdapter(log, stub)
	settings := DefaultSettings()
	settings.Alpha = 0.5
	settings.AlertThreshold = 0.8
	settings.IdleLimit = 10
	e, err := NewEngine(log, settings, "scenario")
	require.NoError(t, err)

	events := []DetectionEvent{}
	results := map[int64]*FrameResult{}
	for i := int64(0); i < 100; i++ {
		frame := testFrame(i)
		det := adapter.Detect(frame)
		require.False(t, det.Degraded())
		r, err := e.ProcessFrame(frame, det.Detections)
		require.NoError(t, err)
		events = append(events, r.Events...)
		results[i] = r
	}
	return events, results
}

func TestEndToEndScenario(t *testing.T) {
	events, results := runScenario(t)

	require.Len(t, events, 2)
	require.Equal(t, int64(20), events[0].FrameIndex)
	require.Equal(t, uint32(1), events[0].TrackID)
	require.Equal(t, float32(0.9), events[0].Confidence)

	require.Len(t, results[20].Snapshot.Tracks, 1)
	require.Equal(t, float32(0.9), results[20].Snapshot.Tracks[0].SmoothedConfidence)

	// Still alive after 10 idle frames, gone after 11
	require.Len(t, results[30].Snapshot.Tracks, 1)
	require.Equal(t, 10, results[30].Snapshot.Tracks[0].FramesSinceSeen)
	require.Len(t, results[31].Snapshot.Tracks, 0)
	require.Len(t, results[31].Evicted, 1)

	// Frame 40 is a new identity, and alerts immediately
	require.Equal(t, int64(40), events[1].FrameIndex)
	require.Equal(t, uint32(2), events[1].TrackID)
	require.Equal(t, float32(0.85), events[1].Confidence)
}

func TestReplayIsIdempotent(t *testing.T) {
	a, _ := runScenario(t)
	b, _ := runScenario(t)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("Replay produced different events (-first +second):\n%v", diff)
	}
}
