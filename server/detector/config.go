package detector

import (
	"fmt"

	"github.com/cyclopcam/logs"
)

type Kind string

const (
	KindStub   Kind = "stub"   // Fixed box every Nth frame
	KindReplay Kind = "replay" // Recorded labels file
	KindRemote Kind = "remote" // HTTP inference service
)

// Config selects and configures a detector variant
type Config struct {
	Kind       Kind          `json:"kind"`
	Stub       StubConfig    `json:"stub"`
	LabelsFile string        `json:"labelsFile"` // For KindReplay
	Remote     *RemoteConfig `json:"remote"`     // For KindRemote
}

// New creates the detector named by config.Kind. An empty kind is the stub.
func New(log logs.Log, config Config) (Detector, error) {
	switch config.Kind {
	case "", KindStub:
		d, err := NewStubDetector(config.Stub)
		if err != nil {
			return nil, err
		}
		log.Infof("Using stub detector (every %v frames)", d.config.Interval)
		return d, nil
	case KindReplay:
		if config.LabelsFile == "" {
			return nil, fmt.Errorf("Replay detector requires labelsFile")
		}
		d, err := LoadReplayDetector(config.LabelsFile)
		if err != nil {
			return nil, err
		}
		log.Infof("Using replay detector (%v)", config.LabelsFile)
		return d, nil
	case KindRemote:
		if config.Remote == nil {
			return nil, fmt.Errorf("Remote detector requires a 'remote' section")
		}
		model, err := NewRemoteModel(*config.Remote)
		if err != nil {
			return nil, err
		}
		log.Infof("Using remote detector at %v", config.Remote.URL)
		return NewModelDetector(model, nil), nil
	}
	return nil, fmt.Errorf("Unknown detector kind '%v'", config.Kind)
}
