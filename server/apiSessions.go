package server

import (
	"net/http"

	"github.com/cyclopcam/vigil/pkg/www"
	"github.com/cyclopcam/vigil/server/session"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) getSessionOrPanic(id string) *session.Session {
	sess := s.Sessions.Get(id)
	if sess == nil {
		www.PanicNotFoundf("Session %v not found", id)
	}
	return sess
}

func (s *Server) httpListSessions(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.Sessions.List())
}

func (s *Server) httpStartSession(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := struct {
		CameraID  int64 `json:"cameraID"`
		MaxFrames int64 `json:"maxFrames"`
	}{}
	www.ReadJSON(w, r, &req, maxRequestBodyBytes)
	if req.CameraID <= 0 {
		www.PanicBadRequestf("cameraID is required")
	}
	cam, err := s.EventDB.GetCamera(r.Context(), req.CameraID)
	checkDB(err)
	if !cam.IsActive {
		www.PanicBadRequestf("Camera %v is not active", cam.ID)
	}
	sess, err := s.StartSession(cam.ID, req.MaxFrames)
	www.Check(err)
	www.SendJSON(w, sess.Summary())
}

func (s *Server) httpGetSession(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.getSessionOrPanic(params.ByName("id"))
	www.SendJSON(w, sess.Summary())
}

func (s *Server) httpCancelSession(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.getSessionOrPanic(params.ByName("id"))
	sess.Cancel()
	www.SendOK(w)
}

func (s *Server) httpSessionTracks(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.getSessionOrPanic(params.ByName("id"))
	www.CacheNever(w)
	www.SendJSON(w, sess.Engine.LatestSnapshot())
}
