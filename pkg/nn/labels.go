package nn

import (
	"encoding/json"
	"fmt"
	"os"
)

// VideoLabels contains labels for each video frame.
// This is the on-disk format used to replay a recorded detector run.
type VideoLabels struct {
	Classes []string       `json:"classes"`
	Frames  []*ImageLabels `json:"frames"`
}

type ImageLabels struct {
	Frame   int64             `json:"frame"` // Frame index within the stream
	Objects []ObjectDetection `json:"objects"`
}

// ObjectDetection is an object that a model has found in an image
type ObjectDetection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// LoadVideoLabels reads a labels JSON file
func LoadVideoLabels(filename string) (*VideoLabels, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	labels := &VideoLabels{}
	if err := json.Unmarshal(b, labels); err != nil {
		return nil, fmt.Errorf("Failed to parse labels file %v: %w", filename, err)
	}
	return labels, nil
}

// ClassName returns the label of class, or "class<N>" if the class is not in the list
func ClassName(classes []string, class int) string {
	if class >= 0 && class < len(classes) {
		return classes[class]
	}
	return fmt.Sprintf("class%v", class)
}

// ToRawDetections converts model output into labelled detections
func ToRawDetections(classes []string, objects []ObjectDetection) []RawDetection {
	out := make([]RawDetection, 0, len(objects))
	for _, o := range objects {
		out = append(out, RawDetection{
			Box:        o.Box,
			Label:      ClassName(classes, o.Class),
			Confidence: o.Confidence,
		})
	}
	return out
}
