package eventdb

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vigil/pkg/nn"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*EventDB, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(testEpoch)
	db, err := NewEventDBSqlite(logs.NewTestingLog(t), filepath.Join(t.TempDir(), "events.sqlite"), clk)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, clk
}

func makeDetection(cameraID int64, label string, confidence float32) *Detection {
	return &Detection{
		CameraID:   cameraID,
		Label:      label,
		Confidence: confidence,
		Detail: &dbh.JSONField[DetectionDetail]{
			Data: DetectionDetail{
				SessionID:     "s1",
				TrackID:       1,
				FrameIndex:    8,
				RawConfidence: 0.85,
				Box:           nn.Rect{X: 10, Y: 20, Width: 30, Height: 40},
				History:       []float32{0.9, 0.85},
			},
		},
	}
}

func TestAppendAndList(t *testing.T) {
	db, clk := setup(t)
	ctx := context.Background()

	id1, err := db.Append(ctx, makeDetection(1, "person", 0.86))
	require.NoError(t, err)
	require.NotZero(t, id1)
	clk.Add(time.Second)
	id2, err := db.Append(ctx, makeDetection(2, "car", 0.81))
	require.NoError(t, err)
	clk.Add(time.Second)
	id3, err := db.Append(ctx, makeDetection(1, "person", 0.95))
	require.NoError(t, err)
	require.Greater(t, id3, id2)
	require.Greater(t, id2, id1)

	// Newest first
	all, err := db.ListDetections(ctx, DetectionQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, id3, all[0].ID)
	require.Equal(t, id1, all[2].ID)
	require.Equal(t, testEpoch, all[2].Time.Get())

	// Detail survives the round trip
	require.Equal(t, uint32(1), all[0].Detail.Data.TrackID)
	require.Equal(t, []float32{0.9, 0.85}, all[0].Detail.Data.History)
	require.Equal(t, int32(40), all[0].Detail.Data.Box.Height)

	byCam, err := db.ListDetections(ctx, DetectionQuery{CameraID: 1})
	require.NoError(t, err)
	require.Len(t, byCam, 2)

	byLabel, err := db.ListDetections(ctx, DetectionQuery{Label: "car"})
	require.NoError(t, err)
	require.Len(t, byLabel, 1)
	require.Equal(t, id2, byLabel[0].ID)

	confident, err := db.ListDetections(ctx, DetectionQuery{MinConfidence: 0.9})
	require.NoError(t, err)
	require.Len(t, confident, 1)
	require.Equal(t, id3, confident[0].ID)

	window, err := db.ListDetections(ctx, DetectionQuery{Start: testEpoch.Add(time.Second), End: testEpoch.Add(2 * time.Second)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	require.Equal(t, id2, window[0].ID)

	limited, err := db.ListDetections(ctx, DetectionQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)

	d, err := db.GetDetection(ctx, id2)
	require.NoError(t, err)
	require.Equal(t, "car", d.Label)
	_, err = db.GetDetection(ctx, 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendExplicitTime(t *testing.T) {
	db, _ := setup(t)
	ctx := context.Background()
	d := makeDetection(1, "person", 0.8)
	pts := testEpoch.Add(-time.Hour)
	d.Time = dbh.MakeIntTime(pts)
	_, err := db.Append(ctx, d)
	require.NoError(t, err)
	list, err := db.ListDetections(ctx, DetectionQuery{})
	require.NoError(t, err)
	require.Equal(t, pts, list[0].Time.Get())

	_, err = db.Append(ctx, &Detection{CameraID: 1})
	require.Error(t, err)
}

func TestAlerts(t *testing.T) {
	db, _ := setup(t)
	ctx := context.Background()
	id, err := db.Append(ctx, makeDetection(1, "person", 0.86))
	require.NoError(t, err)

	require.NoError(t, db.RecordAlert(ctx, &Alert{DetectionID: id, AlertType: "log", Status: AlertStatusSent, Recipient: "ops"}))
	require.NoError(t, db.RecordAlert(ctx, &Alert{DetectionID: id, AlertType: "webhook", Status: AlertStatusFailed, Recipient: "http://x", Error: "timeout"}))
	require.Error(t, db.RecordAlert(ctx, &Alert{AlertType: "log"}))

	alerts, err := db.AlertsForDetection(ctx, id)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, AlertStatusSent, alerts[0].Status)
	require.Equal(t, "timeout", alerts[1].Error)
	require.Equal(t, testEpoch, alerts[0].Time.Get())

	none, err := db.AlertsForDetection(ctx, id+1)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestCameras(t *testing.T) {
	db, _ := setup(t)
	ctx := context.Background()

	front, err := db.AddCamera(ctx, "front", "synthetic:")
	require.NoError(t, err)
	back, err := db.AddCamera(ctx, "back", "/var/frames/back")
	require.NoError(t, err)
	_, err = db.AddCamera(ctx, "", "x")
	require.Error(t, err)

	cams, err := db.ListCameras(ctx)
	require.NoError(t, err)
	require.Len(t, cams, 2)
	require.True(t, cams[0].IsActive)

	require.NoError(t, db.SetCameraActive(ctx, front.ID, false))
	ids, err := db.ListActiveCameraIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{back.ID}, ids)

	cam, err := db.GetCamera(ctx, front.ID)
	require.NoError(t, err)
	require.False(t, cam.IsActive)
	require.Equal(t, testEpoch, cam.CreatedAt.Get())

	require.ErrorIs(t, db.SetCameraActive(ctx, 999, true), ErrNotFound)
	_, err = db.GetCamera(ctx, 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPurge(t *testing.T) {
	db, _ := setup(t)
	ctx := context.Background()
	db.SetRetention(150)
	purgedFrames := []string{}
	db.OnPurge = func(framePaths []string) {
		purgedFrames = append(purgedFrames, framePaths...)
	}

	var firstID int64
	for i := 0; i < 300; i++ {
		d := makeDetection(1, "person", 0.9)
		if i < 2 {
			d.FramePath = fmt.Sprintf("cam1/s1/frame%v.jpg", i)
		}
		id, err := db.Append(ctx, d)
		require.NoError(t, err)
		if i == 0 {
			firstID = id
			require.NoError(t, db.RecordAlert(ctx, &Alert{DetectionID: id, AlertType: "log", Status: AlertStatusSent}))
		}
	}
	// Purges happen every 100 appends, so after 300 appends we're back down to the retention limit
	count := int64(0)
	require.NoError(t, db.DB.Model(&Detection{}).Count(&count).Error)
	require.Equal(t, int64(150), count)

	_, err := db.GetDetection(ctx, firstID)
	require.ErrorIs(t, err, ErrNotFound)
	alerts, err := db.AlertsForDetection(ctx, firstID)
	require.NoError(t, err)
	require.Empty(t, alerts)
	require.Equal(t, []string{"cam1/s1/frame0.jpg", "cam1/s1/frame1.jpg"}, purgedFrames)
}
