// Package perfstats is a single place where we record the performance of the
// expensive stages of frame processing, so that it's easy to compare detectors
// and hardware.
package perfstats

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

type PerfStats struct {
	DetectNanosecondsPerFrame   atomic.Uint64
	EngineNanosecondsPerFrame   atomic.Uint64
	AnnotateNanosecondsPerFrame atomic.Uint64
	SaveFrameNanoseconds        atomic.Uint64
}

// Report is the JSON form of PerfStats, in milliseconds
type Report struct {
	DetectMS   float64 `json:"detectMS"`
	EngineMS   float64 `json:"engineMS"`
	AnnotateMS float64 `json:"annotateMS"`
	SaveMS     float64 `json:"saveMS"`
}

var Stats = PerfStats{}

func Update(stat *atomic.Uint64, value int64) {
	if value < 0 {
		value = 0
	}
	vu := uint64(value)
	// Sampled stats, so a lost update from a concurrent session is fine.
	if stat.Load() == 0 {
		stat.Store(vu)
	} else {
		stat.Store((stat.Load()*63 + vu) >> 6)
	}
}

// Since updates stat with the time elapsed since start
func Since(stat *atomic.Uint64, start time.Time) {
	Update(stat, time.Since(start).Nanoseconds())
}

func toMS(stat *atomic.Uint64) float64 {
	return float64(stat.Load()) / 1e6
}

func (s *PerfStats) Report() Report {
	return Report{
		DetectMS:   toMS(&s.DetectNanosecondsPerFrame),
		EngineMS:   toMS(&s.EngineNanosecondsPerFrame),
		AnnotateMS: toMS(&s.AnnotateNanosecondsPerFrame),
		SaveMS:     toMS(&s.SaveFrameNanoseconds),
	}
}

func (s *PerfStats) String() string {
	r := s.Report()
	b := &strings.Builder{}
	fmt.Fprintf(b, "Detect: %0.3f ms, Engine: %0.3f ms, Annotate: %0.3f ms, Save: %0.3f ms", r.DetectMS, r.EngineMS, r.AnnotateMS, r.SaveMS)
	return b.String()
}
