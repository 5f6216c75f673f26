package eventdb

import (
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/vigil/pkg/nn"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// CameraFeed is a video source that sessions can be opened against.
// StreamURL is interpreted by the frame source (eg a directory of JPEG files, or "synthetic:").
type CameraFeed struct {
	BaseModel
	Name      string      `json:"name"`
	StreamURL string      `json:"streamURL"`
	IsActive  bool        `json:"isActive"`
	CreatedAt dbh.IntTime `json:"createdAt"`
}

// Detection is a durable record of one DetectionEvent.
type Detection struct {
	BaseModel
	CameraID   int64                           `json:"cameraID"`
	Time       dbh.IntTime                     `json:"time"`
	Label      string                          `json:"label"`
	Confidence float32                         `json:"confidence"`
	FramePath  string                          `json:"framePath"` // Name of the saved annotated frame in the frame store. Empty if none was saved.
	Detail     *dbh.JSONField[DetectionDetail] `json:"detail"`
}

// DetectionDetail is the structured payload stored with each detection
type DetectionDetail struct {
	SessionID     string    `json:"sessionID"`
	TrackID       uint32    `json:"trackID"`
	FrameIndex    int64     `json:"frameIndex"`
	RawConfidence float32   `json:"rawConfidence"`
	Box           nn.Rect   `json:"box"`
	History       []float32 `json:"history,omitempty"`
	Detector      string    `json:"detector,omitempty"`
}

type AlertStatus string

const (
	AlertStatusSent   AlertStatus = "sent"
	AlertStatusFailed AlertStatus = "failed"
)

// Alert records one attempt to dispatch an alert for a detection
type Alert struct {
	BaseModel
	DetectionID int64       `json:"detectionID"`
	Time        dbh.IntTime `json:"time"`
	AlertType   string      `json:"alertType"` // eg "email", "sms", "webhook", "log"
	Status      AlertStatus `json:"status"`
	Recipient   string      `json:"recipient"`
	Error       string      `json:"error"`
}
