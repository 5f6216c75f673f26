package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vigil/pkg/imgx"
	"github.com/cyclopcam/vigil/server"
	"github.com/cyclopcam/vigil/server/config"
	"github.com/cyclopcam/vigil/server/monitor"
	"github.com/cyclopcam/vigil/server/session"
)

func main() {
	parser := argparse.NewParser("vigil", "Suspicious activity detection on camera streams")
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON configuration file. If empty, defaults and environment variables are used", Default: ""})
	envFile := parser.String("", "env", &argparse.Options{Help: "Environment file to load before reading configuration", Default: ".env"})
	runSource := parser.String("", "run", &argparse.Options{Help: "Process a single source (eg 'synthetic:' or a directory of JPEGs), print the detection events as JSON, and exit", Default: ""})
	outDir := parser.String("", "out", &argparse.Options{Help: "With --run, write every annotated frame as a JPEG into this directory", Default: ""})
	maxFrames := parser.Int("", "frames", &argparse.Options{Help: "Maximum number of frames per session (0 = config default, -1 = no limit)", Default: 0})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile, *envFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	srv, err := server.NewServer(logger, cfg, nil)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	if *runSource != "" {
		err := runOnce(srv, *runSource, *outDir, int64(*maxFrames))
		srv.Shutdown()
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		return
	}

	srv.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := srv.ListenHTTP(cfg.HTTPAddr); err != nil {
		logger.Errorf("ListenHTTP returned: %v", err)
		srv.Shutdown()
		os.Exit(1)
	}
	<-srv.ShutdownComplete
}

// runOnce runs a session in the foreground, and writes one JSON line per detection event to stdout.
// If outDir is not empty, every annotated frame is written there.
func runOnce(srv *server.Server, source, outDir string, maxFrames int64) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cam, err := srv.EnsureCamera(ctx, source, source)
	if err != nil {
		return err
	}
	if !cam.IsActive {
		if err := srv.EventDB.SetCameraActive(ctx, cam.ID, true); err != nil {
			return err
		}
	}
	enc := json.NewEncoder(os.Stdout)
	printEvent := func(o *session.EventOutcome) {
		enc.Encode(map[string]any{
			"event":       o.Event,
			"detectionID": o.DetectionID,
			"framePath":   o.FramePath,
		})
	}
	var writeFrame func(*monitor.AnnotatedFrame)
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0770); err != nil {
			return err
		}
		writeFrame = func(f *monitor.AnnotatedFrame) {
			jpg, err := imgx.EncodeJPEG(f.Frame(), 85)
			if err == nil {
				err = os.WriteFile(filepath.Join(outDir, fmt.Sprintf("%06d.jpg", f.Source.Index)), jpg, 0660)
			}
			if err != nil {
				srv.Log.Errorf("Failed to write frame %v: %v", f.Source.Index, err)
			}
		}
	}
	sess, err := srv.NewSession(ctx, cam.ID, maxFrames, printEvent, writeFrame)
	if err != nil {
		return err
	}
	summary, err := sess.Run(ctx)
	srv.Log.Infof("Processed %v frames, %v events, %v detector failures", summary.FramesProcessed, summary.Events, summary.DetectorFailures)
	return err
}
