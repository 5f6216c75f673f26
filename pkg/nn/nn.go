// Package nn is the detection boundary: frames going in, labelled boxes coming out.
// No inference happens in here. Model backends implement ObjectDetector.
package nn

import (
	"encoding/json"
	"os"
)

const DefaultProbabilityThreshold = 0.5
const DefaultNmsIouThreshold = 0.45

// RawDetection is a single candidate produced by a detector for one frame.
// Confidence is nominally in [0,1], but detectors are not trusted to honor that.
type RawDetection struct {
	Box        Rect    `json:"box"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// NN object detection parameters
type DetectionParams struct {
	ProbabilityThreshold float32 // Value between 0 and 1. Lower values will find more objects. Zero value will use the default.
	NmsIouThreshold      float32 // Value between 0 and 1. Lower values will merge more objects together into one. Zero value will use the default.
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ProbabilityThreshold: DefaultProbabilityThreshold,
		NmsIouThreshold:      DefaultNmsIouThreshold,
	}
}

// ImageCrop is a crop of an image.
type ImageCrop struct {
	NChan       int    // Number of channels (eg 3 for RGB)
	Pixels      []byte // The whole image
	ImageWidth  int    // The width of the original image, held in Pixels
	ImageHeight int    // The height of the original image, held in Pixels
	CropX       int    // Origin of crop X
	CropY       int    // Origin of crop Y
	CropWidth   int    // The width of this crop
	CropHeight  int    // The height of this crop
}

func (c ImageCrop) Stride() int {
	return c.ImageWidth * c.NChan
}

// Return a 'crop' of the entire image
func WholeImage(nchan int, pixels []byte, width, height int) ImageCrop {
	return ImageCrop{
		NChan:       nchan,
		Pixels:      pixels,
		ImageWidth:  width,
		ImageHeight: height,
		CropWidth:   width,
		CropHeight:  height,
	}
}

// ObjectDetector is a model backend. It is given an image, and returns zero or more detected objects.
type ObjectDetector interface {
	// Close releases the backend
	Close()

	// DetectObjects returns a list of objects detected in the image.
	// nchan is expected to be 3, and image is a 24-bit RGB image.
	DetectObjects(img ImageCrop, params *DetectionParams) ([]ObjectDetection, error)

	// Callers assume that ModelConfig will remain constant
	Config() *ModelConfig
}

// ModelConfig describes the classes that a model can emit
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "yolov8"
	Width        int      `json:"width"`        // eg 320
	Height       int      `json:"height"`       // eg 256
	Classes      []string `json:"classes"`      // eg ["person", "bicycle", "car", ...]
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	if err := json.Unmarshal(b, config); err != nil {
		return nil, err
	}
	return config, nil
}
