package detector

import (
	"fmt"

	"github.com/cyclopcam/vigil/pkg/nn"
)

const DefaultStubInterval = 20

// StubConfig controls the demo detector
type StubConfig struct {
	Interval   int       `json:"interval"`   // Emit a detection on every Nth frame (default 20)
	Label      string    `json:"label"`      // Default "person"
	Confidence *float32  `json:"confidence"` // Default 0.9. Zero is a valid confidence.
	Box        nn.Rect   `json:"box"`        // Default is a box in the middle of the frame
	Schedule   []float32 `json:"schedule"`   // If not empty, the Nth hit uses Schedule[N], and hits past the end emit nothing
}

// StubDetector emits a fixed box every Interval frames.
// It is deterministic: the output depends only on the frame index.
// Frame 0 never produces a detection.
type StubDetector struct {
	config     StubConfig
	confidence float32
}

func NewStubDetector(config StubConfig) (*StubDetector, error) {
	if config.Interval == 0 {
		config.Interval = DefaultStubInterval
	}
	if config.Interval < 0 {
		return nil, fmt.Errorf("Stub detector interval must be positive, not %v", config.Interval)
	}
	if config.Label == "" {
		config.Label = "person"
	}
	conf := float32(0.9)
	if config.Confidence != nil {
		conf = *config.Confidence
	}
	return &StubDetector{config: config, confidence: conf}, nil
}

func (d *StubDetector) Detect(frame *nn.Frame) ([]nn.RawDetection, error) {
	interval := int64(d.config.Interval)
	if frame.Index <= 0 || frame.Index%interval != 0 {
		return nil, nil
	}
	conf := d.confidence
	if len(d.config.Schedule) != 0 {
		hit := frame.Index/interval - 1
		if hit >= int64(len(d.config.Schedule)) {
			return nil, nil
		}
		conf = d.config.Schedule[hit]
	}
	box := d.config.Box
	if box.Empty() {
		// Middle third of the frame
		box = nn.RectFromCorners(int32(frame.Width/3), int32(frame.Height/3), int32(frame.Width*2/3), int32(frame.Height*2/3))
	}
	return []nn.RawDetection{
		{
			Box:        box,
			Label:      d.config.Label,
			Confidence: conf,
		},
	}, nil
}
