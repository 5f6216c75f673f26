package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vigil/pkg/nn"
	"github.com/cyclopcam/vigil/server/detector"
	"github.com/cyclopcam/vigil/server/eventdb"
	"github.com/cyclopcam/vigil/server/framestore"
	"github.com/cyclopcam/vigil/server/monitor"
	"github.com/cyclopcam/vigil/server/notifications"
	"github.com/cyclopcam/vigil/server/perfstats"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// ErrSessionEnded is returned when trying to run a session that has already run
var ErrSessionEnded = errors.New("Session ended")

const DefaultMaxFrames = 100

// Sink stores detection events and alert outcomes. It is implemented by eventdb.EventDB.
type Sink interface {
	Append(ctx context.Context, d *eventdb.Detection) (int64, error)
	RecordAlert(ctx context.Context, a *eventdb.Alert) error
}

type State string

const (
	StateCreated State = "created"
	StateRunning State = "running"
	StateEnded   State = "ended"
)

// EventOutcome is what happened to one DetectionEvent on its way out of the session
type EventOutcome struct {
	Event       monitor.DetectionEvent
	DetectionID int64  // Zero if the sink failed, or there is no sink
	FramePath   string // Empty if the frame was not saved
	Alert       *notifications.Alert
	FrameErr    error
	SinkErr     error
	AlertErr    error
}

// Summary counts what a session did
type Summary struct {
	SessionID        string    `json:"sessionID"`
	CameraID         int64     `json:"cameraID"`
	State            State     `json:"state"`
	Started          time.Time `json:"started"`
	Ended            time.Time `json:"ended"`
	FramesRead       int64     `json:"framesRead"`
	FramesProcessed  int64     `json:"framesProcessed"`
	FramesDropped    int64     `json:"framesDropped"` // Out of order
	DetectorFailures int64     `json:"detectorFailures"`
	Events           int64     `json:"events"`
	SinkFailures     int64     `json:"sinkFailures"`
	FrameFailures    int64     `json:"frameFailures"`
	AlertsSent       int64     `json:"alertsSent"`
	AlertFailures    int64     `json:"alertFailures"`
	Error            string    `json:"error,omitempty"`
}

// Config is everything a session needs.
// Sink, Dispatcher and FrameStore are optional.
type Config struct {
	CameraID   int64
	Source     FrameSource
	Detector   detector.Detector
	Settings   monitor.Settings
	Sink       Sink
	Dispatcher notifications.Dispatcher
	Policy     notifications.Policy
	FrameStore *framestore.FrameStore
	Clock      clock.Clock

	MaxFrames     int64  // Stop after this many frames. Zero means DefaultMaxFrames, and negative means no limit.
	ReorderWindow int    // Number of frames to hold back for reordering. Zero means frames must arrive in order.
	DetectorName  string // Stored with each detection
	OnEvent       func(outcome *EventOutcome)

	// OnFrame receives the annotated copy of every processed frame, in frame order.
	// It runs on the session goroutine, so it must not block for long, and it must not modify the image.
	OnFrame func(frame *monitor.AnnotatedFrame)
}

// Session runs one stream of frames through a detector and a fresh engine.
// Nothing is shared between sessions, except for the sink, dispatcher and frame store.
type Session struct {
	ID       string
	CameraID int64
	Log      logs.Log
	Engine   *monitor.Engine

	adapter   *detector.Adapter
	source    FrameSource
	sink      Sink
	dispatch  notifications.Dispatcher
	policy    notifications.Policy
	frames    *framestore.FrameStore
	clock     clock.Clock
	maxFrames int64
	reorder   reorderBuffer
	detName   string
	onEvent   func(outcome *EventOutcome)
	onFrame   func(frame *monitor.AnnotatedFrame)

	lock    sync.Mutex
	state   State
	summary Summary
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(log logs.Log, cfg Config) (*Session, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("Session requires a frame source")
	}
	if cfg.Detector == nil {
		return nil, fmt.Errorf("Session requires a detector")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReorderWindow < 0 {
		return nil, fmt.Errorf("Invalid reorder window %v", cfg.ReorderWindow)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.MaxFrames == 0 {
		cfg.MaxFrames = DefaultMaxFrames
	}
	id := uuid.NewString()
	log = logs.NewPrefixLogger(log, "Session "+id[:8])
	engine, err := monitor.NewEngine(log, cfg.Settings, id)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        id,
		CameraID:  cfg.CameraID,
		Log:       log,
		Engine:    engine,
		adapter:   detector.NewAdapter(log, cfg.Detector),
		source:    cfg.Source,
		sink:      cfg.Sink,
		dispatch:  cfg.Dispatcher,
		policy:    cfg.Policy,
		frames:    cfg.FrameStore,
		clock:     cfg.Clock,
		maxFrames: cfg.MaxFrames,
		reorder:   reorderBuffer{window: cfg.ReorderWindow},
		detName:   cfg.DetectorName,
		onEvent:   cfg.OnEvent,
		onFrame:   cfg.OnFrame,
		state:     StateCreated,
		summary: Summary{
			SessionID: id,
			CameraID:  cfg.CameraID,
			State:     StateCreated,
		},
		done: make(chan struct{}),
	}, nil
}

func (s *Session) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Summary returns a copy of the session's counters
func (s *Session) Summary() Summary {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.summary
}

// Done is closed when the session has ended
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Cancel stops a running session between frames.
// A session that has not started yet is ended immediately.
func (s *Session) Cancel() {
	s.lock.Lock()
	defer s.lock.Unlock()
	switch s.state {
	case StateRunning:
		s.cancel()
	case StateCreated:
		s.state = StateEnded
		s.summary.State = StateEnded
		s.summary.Ended = s.clock.Now()
		s.summary.Error = context.Canceled.Error()
		s.source.Close()
		s.adapter.Close()
		close(s.done)
	}
}

// Run processes frames until the source is exhausted, the frame limit is reached,
// the context is cancelled, or the source fails.
// The source is always closed when Run returns, and the session is ended.
// A session can only be run once.
func (s *Session) Run(ctx context.Context) (summary Summary, err error) {
	s.lock.Lock()
	if s.state != StateCreated {
		s.lock.Unlock()
		return s.Summary(), ErrSessionEnded
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateRunning
	s.summary.State = StateRunning
	s.summary.Started = s.clock.Now()
	s.lock.Unlock()

	s.Log.Infof("Starting on camera %v", s.CameraID)

	defer func() {
		cancel()
		err = multierr.Append(err, s.source.Close())
		s.adapter.Close()
		s.lock.Lock()
		s.state = StateEnded
		s.summary.State = StateEnded
		s.summary.Ended = s.clock.Now()
		s.summary.DetectorFailures = s.adapter.NumFailed()
		if err != nil {
			s.summary.Error = err.Error()
		}
		summary = s.summary
		s.lock.Unlock()
		close(s.done)
		if err != nil {
			s.Log.Warnf("Ended after %v frames: %v", summary.FramesProcessed, err)
		} else {
			s.Log.Infof("Ended after %v frames, %v events", summary.FramesProcessed, summary.Events)
		}
	}()

	for s.maxFrames < 0 || s.framesRead() < s.maxFrames {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		frame, err := s.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			if ctx.Err() != nil {
				return Summary{}, ctx.Err()
			}
			return Summary{}, fmt.Errorf("Failed to read frame: %w", err)
		}
		s.lock.Lock()
		s.summary.FramesRead++
		s.lock.Unlock()

		ready, late := s.reorder.push(frame)
		if late != nil {
			s.dropFrame(late, monitor.ErrOutOfOrder)
		}
		for _, f := range ready {
			s.processFrame(ctx, f)
		}
	}
	for _, f := range s.reorder.flush() {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		s.processFrame(ctx, f)
	}
	return Summary{}, nil
}

func (s *Session) framesRead() int64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.summary.FramesRead
}

func (s *Session) dropFrame(frame *nn.Frame, reason error) {
	s.Log.Warnf("Dropping frame %v: %v", frame.Index, reason)
	s.lock.Lock()
	s.summary.FramesDropped++
	s.lock.Unlock()
}

func (s *Session) processFrame(ctx context.Context, frame *nn.Frame) {
	start := time.Now()
	det := s.adapter.Detect(frame)
	perfstats.Since(&perfstats.Stats.DetectNanosecondsPerFrame, start)

	start = time.Now()
	result, err := s.Engine.ProcessFrame(frame, det.Detections)
	perfstats.Since(&perfstats.Stats.EngineNanosecondsPerFrame, start)
	if err != nil {
		s.dropFrame(frame, err)
		return
	}
	s.lock.Lock()
	s.summary.FramesProcessed++
	s.summary.Events += int64(len(result.Events))
	s.lock.Unlock()

	// Annotate once, and share the result between the frame callback and the frame store
	var annotated *nn.Frame
	if s.onFrame != nil || (len(result.Events) != 0 && s.frames != nil) {
		start = time.Now()
		ann, err := s.Engine.Annotate(frame)
		perfstats.Since(&perfstats.Stats.AnnotateNanosecondsPerFrame, start)
		if err != nil {
			s.Log.Errorf("Failed to annotate frame %v: %v", frame.Index, err)
		} else {
			annotated = ann.Frame()
			if s.onFrame != nil {
				s.onFrame(ann)
			}
		}
	}
	for _, ev := range result.Events {
		outcome := s.handleEvent(ctx, ev, annotated)
		if s.onEvent != nil {
			s.onEvent(outcome)
		}
	}
}

// handleEvent saves, records and alerts a single event.
// Failures are counted, but never affect the engine.
func (s *Session) handleEvent(ctx context.Context, ev monitor.DetectionEvent, annotated *nn.Frame) *EventOutcome {
	out := &EventOutcome{Event: ev}
	s.Log.Infof("Track %v '%v' crossed alert threshold on frame %v (confidence %.2f)", ev.TrackID, ev.Label, ev.FrameIndex, ev.Confidence)

	if s.frames != nil && annotated != nil {
		start := time.Now()
		out.FramePath, out.FrameErr = s.frames.SaveFrame(ctx, s.CameraID, s.ID, ev.TrackID, annotated)
		perfstats.Since(&perfstats.Stats.SaveFrameNanoseconds, start)
		if out.FrameErr != nil {
			s.Log.Errorf("Failed to save frame for track %v: %v", ev.TrackID, out.FrameErr)
			s.count(&s.summary.FrameFailures)
		}
	}

	eventTime := ev.FramePTS
	if eventTime.IsZero() {
		eventTime = s.clock.Now()
	}

	if s.sink != nil {
		rec := &eventdb.Detection{
			CameraID:   s.CameraID,
			Time:       dbh.MakeIntTime(eventTime),
			Label:      ev.Label,
			Confidence: ev.Confidence,
			FramePath:  out.FramePath,
			Detail: &dbh.JSONField[eventdb.DetectionDetail]{
				Data: eventdb.DetectionDetail{
					SessionID:     ev.SessionID,
					TrackID:       ev.TrackID,
					FrameIndex:    ev.FrameIndex,
					RawConfidence: ev.RawConfidence,
					Box:           ev.Box,
					History:       ev.History,
					Detector:      s.detName,
				},
			},
		}
		out.DetectionID, out.SinkErr = s.sink.Append(ctx, rec)
		if out.SinkErr != nil {
			s.Log.Errorf("Failed to store detection for track %v: %v", ev.TrackID, out.SinkErr)
			s.count(&s.summary.SinkFailures)
		}
	}

	rule, ok := s.policy.Select(ev.Label, ev.Confidence)
	if !ok || s.dispatch == nil {
		return out
	}
	out.Alert = &notifications.Alert{
		DetectionID: out.DetectionID,
		CameraID:    s.CameraID,
		Type:        rule.Type,
		Recipient:   rule.Recipient,
		Label:       ev.Label,
		Confidence:  ev.Confidence,
		Time:        eventTime,
		FramePath:   out.FramePath,
	}
	ack, err := s.dispatch.Send(ctx, *out.Alert)
	record := &eventdb.Alert{
		DetectionID: out.DetectionID,
		AlertType:   string(rule.Type),
		Status:      eventdb.AlertStatusSent,
		Recipient:   rule.Recipient,
	}
	if err != nil {
		out.AlertErr = err
		record.Status = eventdb.AlertStatusFailed
		record.Error = err.Error()
		s.Log.Errorf("Failed to send %v alert for track %v: %v", rule.Type, ev.TrackID, err)
		s.count(&s.summary.AlertFailures)
	} else {
		if ack.Recipient != "" {
			record.Recipient = ack.Recipient
		}
		s.count(&s.summary.AlertsSent)
	}
	// Without a detection record, there is nothing to attach the alert to
	if s.sink != nil && out.DetectionID != 0 {
		if err := s.sink.RecordAlert(ctx, record); err != nil {
			s.Log.Errorf("Failed to record alert for detection %v: %v", out.DetectionID, err)
			s.count(&s.summary.SinkFailures)
		}
	}
	return out
}

func (s *Session) count(counter *int64) {
	s.lock.Lock()
	*counter++
	s.lock.Unlock()
}
