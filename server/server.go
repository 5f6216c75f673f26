package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vigil/server/config"
	"github.com/cyclopcam/vigil/server/detector"
	"github.com/cyclopcam/vigil/server/eventdb"
	"github.com/cyclopcam/vigil/server/framestore"
	"github.com/cyclopcam/vigil/server/monitor"
	"github.com/cyclopcam/vigil/server/notifications"
	"github.com/cyclopcam/vigil/server/session"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/multierr"
)

type Server struct {
	Log        logs.Log
	Config     *config.Config
	EventDB    *eventdb.EventDB
	FrameStore *framestore.FrameStore // nil if frames are not saved
	Dispatcher notifications.Dispatcher
	Sessions   *session.Manager
	Clock      clock.Clock

	ShutdownComplete chan error // Receives the result of Shutdown

	ctx        context.Context // Cancelled on shutdown. Parent of all sessions.
	cancel     context.CancelFunc
	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader
}

// NewServer opens the database and frame store, and sets up the HTTP routes.
// If clk is nil, the wall clock is used.
func NewServer(logger logs.Log, cfg *config.Config, clk clock.Clock) (*Server, error) {
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())

	db, err := eventdb.NewEventDB(logger, cfg.DB, clk)
	if err != nil {
		cancel()
		return nil, err
	}
	frames, err := framestore.New(ctx, logger, cfg.FrameStore)
	if err != nil {
		cancel()
		db.Close()
		return nil, fmt.Errorf("Failed to open frame store: %w", err)
	}
	if frames == nil {
		logger.Infof("No frame store configured. Annotated frames will not be saved")
	} else {
		db.OnPurge = func(framePaths []string) {
			go frames.DeleteFrames(ctx, framePaths)
		}
	}

	s := &Server{
		Log:        logger,
		Config:     cfg,
		EventDB:    db,
		FrameStore: frames,
		Dispatcher: NewDispatcher(logger, cfg.Alerts),
		Sessions:   session.NewManager(logger),
		Clock:      clk,
		ctx:        ctx,
		cancel:     cancel,

		ShutdownComplete: make(chan error, 1),
	}
	s.setupHttpRoutes()
	return s, nil
}

// NewDispatcher routes alerts by type. We have no email or SMS gateway,
// so those alerts are written to the log.
func NewDispatcher(log logs.Log, cfg config.AlertConfig) notifications.Dispatcher {
	logger := notifications.NewLogDispatcher(log)
	router := notifications.NewRouter()
	router.Add(notifications.AlertTypeLog, logger)
	router.Add(notifications.AlertTypeEmail, logger)
	router.Add(notifications.AlertTypeSMS, logger)
	router.Add(notifications.AlertTypeWebhook, notifications.NewWebhookDispatcher(log, cfg.WebhookURL, cfg.WebhookToken))
	return router
}

// NewSession creates (but does not start) a session on a camera.
// If maxFrames is zero, the configured limit is used. onEvent and onFrame may be nil.
func (s *Server) NewSession(ctx context.Context, cameraID int64, maxFrames int64, onEvent func(*session.EventOutcome), onFrame func(*monitor.AnnotatedFrame)) (*session.Session, error) {
	cam, err := s.EventDB.GetCamera(ctx, cameraID)
	if err != nil {
		return nil, err
	}
	if !cam.IsActive {
		return nil, fmt.Errorf("Camera %v (%v) is not active", cam.ID, cam.Name)
	}
	source, err := session.OpenSource(s.Clock, cam.StreamURL)
	if err != nil {
		return nil, fmt.Errorf("Failed to open camera %v: %w", cam.Name, err)
	}
	det, err := detector.New(s.Log, s.Config.Detector)
	if err != nil {
		source.Close()
		return nil, err
	}
	if maxFrames == 0 {
		maxFrames = s.Config.Session.MaxFrames
	}
	detName := string(s.Config.Detector.Kind)
	if detName == "" {
		detName = string(detector.KindStub)
	}
	sess, err := session.New(s.Log, session.Config{
		CameraID:      cam.ID,
		Source:        source,
		Detector:      det,
		Settings:      s.Config.Monitor,
		Sink:          s.EventDB,
		Dispatcher:    s.Dispatcher,
		Policy:        s.Config.Alerts.Policy,
		FrameStore:    s.FrameStore,
		Clock:         s.Clock,
		MaxFrames:     maxFrames,
		ReorderWindow: s.Config.Session.ReorderWindow,
		DetectorName:  detName,
		OnEvent:       onEvent,
		OnFrame:       onFrame,
	})
	if err != nil {
		source.Close()
		return nil, err
	}
	return sess, nil
}

// StartSession creates a session and runs it in the background
func (s *Server) StartSession(cameraID int64, maxFrames int64) (*session.Session, error) {
	sess, err := s.NewSession(s.ctx, cameraID, maxFrames, nil, nil)
	if err != nil {
		return nil, err
	}
	s.Sessions.Start(s.ctx, sess)
	return sess, nil
}

// EnsureCamera returns the camera with the given stream URL, creating it if necessary
func (s *Server) EnsureCamera(ctx context.Context, name, streamURL string) (*eventdb.CameraFeed, error) {
	cams, err := s.EventDB.ListCameras(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range cams {
		if c.StreamURL == streamURL {
			return c, nil
		}
	}
	return s.EventDB.AddCamera(ctx, name, streamURL)
}

// addr example: ":8090"
func (s *Server) ListenHTTP(addr string) error {
	s.Log.Infof("Listening on %v", addr)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.httpRouter,
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) ListenForKillSignals() {
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. Shutting down", sig.String())
			s.Shutdown()
		}
	}()
}

// Shutdown cancels all sessions, stops the HTTP server, and closes the database
func (s *Server) Shutdown() error {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
	}
	s.cancel()
	s.Sessions.Close()

	var err error
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = multierr.Append(err, s.httpServer.Shutdown(ctx))
	}
	err = multierr.Append(err, s.EventDB.Close())
	if err != nil {
		s.Log.Warnf("Shutdown complete, with error: %v", err)
	} else {
		s.Log.Infof("Shutdown complete")
	}
	select {
	case s.ShutdownComplete <- err:
	default:
	}
	return err
}
