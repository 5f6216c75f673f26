package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/vigil/pkg/www"
	"github.com/cyclopcam/vigil/server/perfstats"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

const maxRequestBodyBytes = 64 * 1024

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	// Every route gets its own limiter, keyed by client IP
	handle := func(method, route string, handle httprouter.Handle) {
		if s.Config.RateLimit <= 0 {
			www.Handle(s.Log, router, method, route, handle)
			return
		}
		limited := httprate.Limit(s.Config.RateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	handle("GET", "/api/ping", s.httpPing)
	handle("GET", "/api/stats", s.httpStats)

	handle("GET", "/api/cameras", s.httpListCameras)
	handle("POST", "/api/cameras", s.httpAddCamera)
	handle("POST", "/api/cameras/:id/active", s.httpSetCameraActive)

	handle("GET", "/api/sessions", s.httpListSessions)
	handle("POST", "/api/sessions", s.httpStartSession)
	handle("GET", "/api/sessions/:id", s.httpGetSession)
	handle("DELETE", "/api/sessions/:id", s.httpCancelSession)
	handle("GET", "/api/sessions/:id/tracks", s.httpSessionTracks)
	handle("GET", "/api/sessions/:id/live", s.httpSessionLive)

	handle("GET", "/api/detections", s.httpListDetections)
	handle("GET", "/api/detections/:id/alerts", s.httpDetectionAlerts)
	handle("GET", "/api/detections/:id/frame", s.httpDetectionFrame)

	s.httpRouter = router
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendOK(w)
}

func (s *Server) httpStats(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, perfstats.Stats.Report())
}
