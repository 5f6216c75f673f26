package detector

import (
	"github.com/cyclopcam/vigil/pkg/nn"
)

// ReplayDetector plays back detections that were recorded into a labels file.
// Frames with no entry in the file produce no detections.
type ReplayDetector struct {
	classes []string
	frames  map[int64][]nn.ObjectDetection
}

func NewReplayDetector(labels *nn.VideoLabels) *ReplayDetector {
	d := &ReplayDetector{
		classes: labels.Classes,
		frames:  map[int64][]nn.ObjectDetection{},
	}
	for _, f := range labels.Frames {
		d.frames[f.Frame] = append(d.frames[f.Frame], f.Objects...)
	}
	return d
}

// LoadReplayDetector reads a labels JSON file
func LoadReplayDetector(filename string) (*ReplayDetector, error) {
	labels, err := nn.LoadVideoLabels(filename)
	if err != nil {
		return nil, err
	}
	return NewReplayDetector(labels), nil
}

func (d *ReplayDetector) Detect(frame *nn.Frame) ([]nn.RawDetection, error) {
	objects := d.frames[frame.Index]
	if len(objects) == 0 {
		return nil, nil
	}
	return nn.ToRawDetections(d.classes, objects), nil
}
