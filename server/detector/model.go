package detector

import (
	"github.com/cyclopcam/vigil/pkg/nn"
)

// ModelDetector adapts a model backend (nn.ObjectDetector) to the Detector interface.
// Class indexes are turned into labels using the model's class list.
type ModelDetector struct {
	Model  nn.ObjectDetector
	Params *nn.DetectionParams
}

func NewModelDetector(model nn.ObjectDetector, params *nn.DetectionParams) *ModelDetector {
	if params == nil {
		params = nn.NewDetectionParams()
	}
	return &ModelDetector{
		Model:  model,
		Params: params,
	}
}

func (d *ModelDetector) Detect(frame *nn.Frame) ([]nn.RawDetection, error) {
	img, err := frame.Crop()
	if err != nil {
		return nil, err
	}
	objects, err := d.Model.DetectObjects(img, d.Params)
	if err != nil {
		return nil, err
	}
	return nn.ToRawDetections(d.Model.Config().Classes, objects), nil
}

func (d *ModelDetector) Close() {
	d.Model.Close()
}
