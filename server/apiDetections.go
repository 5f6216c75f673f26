package server

import (
	"net/http"

	"github.com/cyclopcam/vigil/pkg/www"
	"github.com/cyclopcam/vigil/server/eventdb"
	"github.com/cyclopcam/vigil/server/framestore"
	"github.com/julienschmidt/httprouter"
)

// GET /api/detections?camera=1&label=person&minConfidence=0.8&start=<ms|RFC3339>&end=...&limit=100
func (s *Server) httpListDetections(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	q := eventdb.DetectionQuery{
		CameraID:      www.QueryInt64(r, "camera"),
		Label:         www.QueryValue(r, "label"),
		MinConfidence: www.QueryFloat32(r, "minConfidence"),
		Start:         www.QueryTime(r, "start"),
		End:           www.QueryTime(r, "end"),
		Limit:         www.QueryInt(r, "limit"),
	}
	dets, err := s.EventDB.ListDetections(r.Context(), q)
	checkDB(err)
	www.SendJSON(w, dets)
}

func (s *Server) httpDetectionAlerts(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.RequiredID(params.ByName("id"))
	alerts, err := s.EventDB.AlertsForDetection(r.Context(), id)
	checkDB(err)
	www.SendJSON(w, alerts)
}

func (s *Server) httpDetectionFrame(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.RequiredID(params.ByName("id"))
	det, err := s.EventDB.GetDetection(r.Context(), id)
	checkDB(err)
	if det.FramePath == "" || s.FrameStore == nil {
		www.PanicNotFoundf("No frame was saved for detection %v", id)
	}
	if url, err := s.FrameStore.Storage.URL(det.FramePath); err == nil {
		http.Redirect(w, r, url, http.StatusFound)
		return
	} else if err != framestore.ErrNoPublicUrl {
		www.Check(err)
	}
	f, err := s.FrameStore.OpenFrame(r.Context(), det.FramePath)
	if err != nil {
		www.PanicNotFoundf("Frame %v: %v", det.FramePath, err)
	}
	defer f.Reader.Close()
	www.CacheImmutable(w)
	www.SendReader(w, "image/jpeg", f.Size, f.Reader)
}
