package detector

import (
	"fmt"
	"runtime/debug"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vigil/pkg/nn"
)

// Detector produces zero or more raw detections for a frame.
// Implementations must not modify the frame.
type Detector interface {
	Detect(frame *nn.Frame) ([]nn.RawDetection, error)
}

// Closer is implemented by detectors that hold resources
type Closer interface {
	Close()
}

// Result is the outcome of running a detector on one frame.
// If Err is not nil, the detector failed, and Detections is the empty fallback.
type Result struct {
	FrameIndex int64
	Detections []nn.RawDetection
	Err        error
}

// Degraded is true if the detector failed and the result is the empty fallback
func (r *Result) Degraded() bool {
	return r.Err != nil
}

// Adapter is the boundary between the frame loop and a Detector.
// Failures (errors and panics) from the Detector never escape the Adapter.
// They are logged, and turned into a Result with no detections.
type Adapter struct {
	Log      logs.Log
	Detector Detector

	nFailed int64
}

func NewAdapter(log logs.Log, detector Detector) *Adapter {
	return &Adapter{
		Log:      logs.NewPrefixLogger(log, "Detector"),
		Detector: detector,
	}
}

// Detect runs the detector on frame
func (a *Adapter) Detect(frame *nn.Frame) Result {
	dets, err := a.runProtected(frame)
	if err != nil {
		a.nFailed++
		a.Log.Warnf("Frame %v: detector failed, continuing with no detections: %v", frame.Index, err)
		return Result{
			FrameIndex: frame.Index,
			Detections: []nn.RawDetection{},
			Err:        err,
		}
	}
	if dets == nil {
		dets = []nn.RawDetection{}
	}
	return Result{
		FrameIndex: frame.Index,
		Detections: dets,
	}
}

// NumFailed returns the number of frames on which the detector has failed
func (a *Adapter) NumFailed() int64 {
	return a.nFailed
}

// Close closes the underlying detector, if it needs closing
func (a *Adapter) Close() {
	if c, ok := a.Detector.(Closer); ok {
		c.Close()
	}
}

func (a *Adapter) runProtected(frame *nn.Frame) (dets []nn.RawDetection, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			a.Log.Errorf("Frame %v: detector panic: %v\n%v", frame.Index, rec, string(debug.Stack()))
			dets = nil
			err = fmt.Errorf("Detector panic: %v", rec)
		}
	}()
	return a.Detector.Detect(frame)
}
