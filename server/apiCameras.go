package server

import (
	"errors"
	"net/http"

	"github.com/cyclopcam/vigil/pkg/www"
	"github.com/cyclopcam/vigil/server/eventdb"
	"github.com/julienschmidt/httprouter"
)

// checkDB panics with a 404 for eventdb.ErrNotFound, and a 500 for any other error
func checkDB(err error) {
	if errors.Is(err, eventdb.ErrNotFound) {
		www.PanicNotFoundf("%v", err)
	}
	www.Check(err)
}

func (s *Server) httpListCameras(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cams, err := s.EventDB.ListCameras(r.Context())
	checkDB(err)
	www.SendJSON(w, cams)
}

func (s *Server) httpAddCamera(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := struct {
		Name      string `json:"name"`
		StreamURL string `json:"streamURL"`
	}{}
	www.ReadJSON(w, r, &req, maxRequestBodyBytes)
	cam, err := s.EventDB.AddCamera(r.Context(), req.Name, req.StreamURL)
	www.CheckClient(err)
	s.Log.Infof("Added camera %v '%v' (%v)", cam.ID, cam.Name, cam.StreamURL)
	www.SendJSON(w, cam)
}

func (s *Server) httpSetCameraActive(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.RequiredID(params.ByName("id"))
	req := struct {
		Active bool `json:"active"`
	}{}
	www.ReadJSON(w, r, &req, maxRequestBodyBytes)
	checkDB(s.EventDB.SetCameraActive(r.Context(), id, req.Active))
	www.SendOK(w)
}
