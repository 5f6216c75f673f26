package framestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vigil/pkg/imgx"
	"github.com/cyclopcam/vigil/pkg/nn"
	"go.uber.org/multierr"
)

const DefaultJPEGQuality = 85

// Config selects one of the storage backends.
// If neither is set, frames are not saved.
type Config struct {
	Filesystem  *FilesystemConfig `json:"filesystem"`
	GCS         *GCSConfig        `json:"gcs"`
	JPEGQuality int               `json:"jpegQuality"`
}

type FilesystemConfig struct {
	Root string `json:"root"`
}

type GCSConfig struct {
	Bucket string `json:"bucket"`
	Public bool   `json:"public"`
}

// FrameStore saves annotated frames for detection events
type FrameStore struct {
	Log         logs.Log
	Storage     Storage
	JPEGQuality int
}

// New returns nil (and no error) when the config has no storage backend
func New(ctx context.Context, log logs.Log, cfg Config) (*FrameStore, error) {
	var s Storage
	var err error
	switch {
	case cfg.Filesystem != nil && cfg.GCS != nil:
		return nil, errors.New("Only one frame storage backend may be configured")
	case cfg.Filesystem != nil:
		s, err = NewStorageFS(log, cfg.Filesystem.Root)
	case cfg.GCS != nil:
		s, err = NewStorageGCS(ctx, log, cfg.GCS.Bucket, cfg.GCS.Public)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return NewFrameStore(log, s, cfg.JPEGQuality), nil
}

func NewFrameStore(log logs.Log, storage Storage, jpegQuality int) *FrameStore {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}
	return &FrameStore{
		Log:         logs.NewPrefixLogger(log, "FrameStore"),
		Storage:     storage,
		JPEGQuality: jpegQuality,
	}
}

// FrameName is the blob name of a saved frame, eg "cam3/5f0c.../00000008-track2.jpg"
func FrameName(cameraID int64, sessionID string, frameIndex int64, trackID uint32) string {
	return path.Join(fmt.Sprintf("cam%v", cameraID), sessionID, fmt.Sprintf("%08d-track%v.jpg", frameIndex, trackID))
}

// SaveFrame compresses frame to JPEG and writes it under FrameName. The name is returned.
func (f *FrameStore) SaveFrame(ctx context.Context, cameraID int64, sessionID string, trackID uint32, frame *nn.Frame) (string, error) {
	jpg, err := imgx.EncodeJPEG(frame, f.JPEGQuality)
	if err != nil {
		return "", fmt.Errorf("Failed to encode frame %v: %w", frame.Index, err)
	}
	name := FrameName(cameraID, sessionID, frame.Index, trackID)
	if err := WriteFile(ctx, f.Storage, name, bytes.NewReader(jpg)); err != nil {
		return "", fmt.Errorf("Failed to write frame %v: %w", name, err)
	}
	return name, nil
}

// OpenFrame reads back a saved frame. The caller must close File.Reader.
func (f *FrameStore) OpenFrame(ctx context.Context, name string) (*File, error) {
	return f.Storage.ReadFile(ctx, name)
}

// DeleteFrames removes saved frames. Every name is attempted, and the failures are combined.
func (f *FrameStore) DeleteFrames(ctx context.Context, names []string) error {
	var err error
	for _, name := range names {
		if e := f.Storage.DeleteFile(ctx, name); e != nil {
			f.Log.Warnf("Failed to delete %v: %v", name, e)
			err = multierr.Append(err, e)
		}
	}
	return err
}

func contentType(name string) string {
	if strings.HasSuffix(name, ".jpg") || strings.HasSuffix(name, ".jpeg") {
		return "image/jpeg"
	}
	return "application/octet-stream"
}
