package eventdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyclopcam/dbh"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("Not found")

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// DetectionQuery filters ListDetections. Zero values mean "no filter".
type DetectionQuery struct {
	CameraID      int64
	Label         string
	MinConfidence float32
	Start         time.Time // Inclusive
	End           time.Time // Exclusive
	Limit         int
}

// Append stores a detection and returns its ID.
// If d.Time is zero, the current time is used.
func (e *EventDB) Append(ctx context.Context, d *Detection) (int64, error) {
	if d.Label == "" {
		return 0, fmt.Errorf("Detection has no label")
	}
	if d.Time.IsZero() {
		d.Time = dbh.MakeIntTime(e.Clock.Now())
	}
	if d.Detail == nil {
		d.Detail = &dbh.JSONField[DetectionDetail]{}
	}
	d.ID = 0
	if err := e.DB.WithContext(ctx).Create(d).Error; err != nil {
		return 0, err
	}
	e.purgeOldRecords()
	return d.ID, nil
}

// RecordAlert stores the outcome of one alert dispatch attempt
func (e *EventDB) RecordAlert(ctx context.Context, a *Alert) error {
	if a.DetectionID == 0 {
		return fmt.Errorf("Alert has no detection")
	}
	if a.Time.IsZero() {
		a.Time = dbh.MakeIntTime(e.Clock.Now())
	}
	a.ID = 0
	return e.DB.WithContext(ctx).Create(a).Error
}

// ListDetections returns the detections matching q, newest first
func (e *EventDB) ListDetections(ctx context.Context, q DetectionQuery) ([]*Detection, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	limit = min(limit, MaxQueryLimit)

	tx := e.DB.WithContext(ctx).Model(&Detection{})
	if q.CameraID != 0 {
		tx = tx.Where("camera_id = ?", q.CameraID)
	}
	if q.Label != "" {
		tx = tx.Where("label = ?", q.Label)
	}
	if q.MinConfidence > 0 {
		tx = tx.Where("confidence >= ?", q.MinConfidence)
	}
	if !q.Start.IsZero() {
		tx = tx.Where("time >= ?", dbh.MakeIntTime(q.Start))
	}
	if !q.End.IsZero() {
		tx = tx.Where("time < ?", dbh.MakeIntTime(q.End))
	}
	result := []*Detection{}
	if err := tx.Order("time DESC, id DESC").Limit(limit).Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (e *EventDB) GetDetection(ctx context.Context, id int64) (*Detection, error) {
	d := Detection{}
	if err := e.DB.WithContext(ctx).First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("Detection %v: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &d, nil
}

// AlertsForDetection returns the alert attempts for a detection, oldest first
func (e *EventDB) AlertsForDetection(ctx context.Context, detectionID int64) ([]*Alert, error) {
	result := []*Alert{}
	if err := e.DB.WithContext(ctx).Where("detection_id = ?", detectionID).Order("id").Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// AddCamera registers a new, active camera feed
func (e *EventDB) AddCamera(ctx context.Context, name, streamURL string) (*CameraFeed, error) {
	if name == "" {
		return nil, fmt.Errorf("Camera name may not be empty")
	}
	if streamURL == "" {
		return nil, fmt.Errorf("Camera stream URL may not be empty")
	}
	cam := &CameraFeed{
		Name:      name,
		StreamURL: streamURL,
		IsActive:  true,
		CreatedAt: dbh.MakeIntTime(e.Clock.Now()),
	}
	if err := e.DB.WithContext(ctx).Create(cam).Error; err != nil {
		return nil, err
	}
	return cam, nil
}

func (e *EventDB) GetCamera(ctx context.Context, id int64) (*CameraFeed, error) {
	cam := CameraFeed{}
	if err := e.DB.WithContext(ctx).First(&cam, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("Camera %v: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &cam, nil
}

func (e *EventDB) ListCameras(ctx context.Context) ([]*CameraFeed, error) {
	result := []*CameraFeed{}
	if err := e.DB.WithContext(ctx).Order("id").Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// ListActiveCameraIDs returns the IDs of the cameras that may be monitored
func (e *EventDB) ListActiveCameraIDs(ctx context.Context) ([]int64, error) {
	ids := []int64{}
	if err := e.DB.WithContext(ctx).Model(&CameraFeed{}).Where("is_active = ?", true).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (e *EventDB) SetCameraActive(ctx context.Context, id int64, active bool) error {
	res := e.DB.WithContext(ctx).Model(&CameraFeed{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("Camera %v: %w", id, ErrNotFound)
	}
	return nil
}
