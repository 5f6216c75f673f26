package detector

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cyclopcam/vigil/pkg/imgx"
	"github.com/cyclopcam/vigil/pkg/nn"
	"github.com/cyclopcam/vigil/pkg/www"
)

// RemoteConfig points at an HTTP inference service
type RemoteConfig struct {
	URL         string   `json:"url"`         // Endpoint that accepts POST image/jpeg and returns remoteResponse JSON
	Classes     []string `json:"classes"`     // Class names emitted by the model
	ModelConfig string   `json:"modelConfig"` // Optional model config JSON file, used when Classes is empty
	TimeoutMS   int      `json:"timeoutMS"`   // Per-request timeout (default 10000)
	JPEGQuality int      `json:"jpegQuality"` // Default 85
}

type remoteResponse struct {
	Objects []nn.ObjectDetection `json:"objects"`
}

// RemoteModel is an nn.ObjectDetector that ships each image to an inference service.
// The service receives a JPEG, plus the detection thresholds as query parameters.
type RemoteModel struct {
	client      *http.Client
	url         string
	config      nn.ModelConfig
	httpTimeout time.Duration
	quality     int
}

func NewRemoteModel(cfg RemoteConfig) (*RemoteModel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("Remote detector requires a url")
	}
	config := nn.ModelConfig{
		Architecture: "remote",
		Classes:      cfg.Classes,
	}
	if len(config.Classes) == 0 && cfg.ModelConfig != "" {
		loaded, err := nn.LoadModelConfig(cfg.ModelConfig)
		if err != nil {
			return nil, fmt.Errorf("Failed to load model config: %w", err)
		}
		config = *loaded
	}
	if len(config.Classes) == 0 {
		return nil, fmt.Errorf("Remote detector requires a list of classes")
	}
	m := &RemoteModel{
		client:      &http.Client{},
		url:         cfg.URL,
		httpTimeout: 10 * time.Second,
		quality:     85,
		config:      config,
	}
	if cfg.TimeoutMS > 0 {
		m.httpTimeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	if cfg.JPEGQuality > 0 {
		m.quality = cfg.JPEGQuality
	}
	return m, nil
}

func (m *RemoteModel) Close() {
	m.client.CloseIdleConnections()
}

func (m *RemoteModel) Config() *nn.ModelConfig {
	return &m.config
}

func (m *RemoteModel) DetectObjects(img nn.ImageCrop, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	offset := (img.CropY*img.ImageWidth + img.CropX) * img.NChan
	frame := &nn.Frame{
		Width:  img.CropWidth,
		Height: img.CropHeight,
		NChan:  img.NChan,
		Stride: img.Stride(),
		Pixels: img.Pixels[offset:],
	}
	jpg, err := imgx.EncodeJPEG(frame, m.quality)
	if err != nil {
		return nil, fmt.Errorf("Failed to encode frame: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.httpTimeout)
	defer cancel()
	url := fmt.Sprintf("%v?probability=%v&nms=%v", m.url, params.ProbabilityThreshold, params.NmsIouThreshold)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jpg))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	result := remoteResponse{}
	if err := www.FetchJSON(m.client, req, &result); err != nil {
		return nil, fmt.Errorf("Inference service failed: %w", err)
	}
	// Boxes come back relative to the crop
	for i := range result.Objects {
		result.Objects[i].Box.Offset(int32(img.CropX), int32(img.CropY))
	}
	return result.Objects, nil
}
