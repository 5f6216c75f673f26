package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/vigil/pkg/gen"
	"github.com/julienschmidt/httprouter"
)

// httpSessionLive streams a JSON snapshot of the session's tracks after every frame,
// until the session ends or the client goes away.
func (s *Server) httpSessionLive(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.getSessionOrPanic(params.ByName("id"))

	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpSessionLive websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()

	snapshots := sess.Engine.AddWatcher()
	defer sess.Engine.RemoveWatcher(snapshots)

	// Detect the client closing the socket
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := c.NextReader(); err != nil {
				return
			}
		}
	}()

	// Start with whatever we have right now, so that the client doesn't wait for the next frame
	if err := c.WriteJSON(sess.Engine.LatestSnapshot()); err != nil {
		return
	}

	for {
		select {
		case snap := <-snapshots:
			c.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.WriteJSON(snap); err != nil {
				s.Log.Infof("httpSessionLive write failed: %v", err)
				return
			}
		case <-sess.Done():
			// Flush anything that arrived before the session ended
			for _, snap := range gen.DrainChannelIntoSlice(snapshots) {
				if err := c.WriteJSON(snap); err != nil {
					return
				}
			}
			c.WriteJSON(map[string]any{"ended": true, "summary": sess.Summary()})
			return
		case <-clientGone:
			return
		}
	}
}

