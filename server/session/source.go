package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/vigil/pkg/imgx"
	"github.com/cyclopcam/vigil/pkg/nn"
)

// FrameSource produces the frames of one session, in order.
// Next returns io.EOF at the end of the stream. Any other error is a terminal read failure.
type FrameSource interface {
	Next(ctx context.Context) (*nn.Frame, error)
	Close() error
}

const (
	DefaultSyntheticWidth  = 320
	DefaultSyntheticHeight = 240
	DefaultFrameInterval   = 100 * time.Millisecond // 10 FPS
)

// SyntheticSource generates gray frames with a moving gradient
type SyntheticSource struct {
	Width    int
	Height   int
	Interval time.Duration // Spacing of frame PTS
	Realtime bool          // If true, Next waits Interval between frames

	clock clock.Clock
	start time.Time
	next  int64
}

func NewSyntheticSource(clk clock.Clock, width, height int) *SyntheticSource {
	return &SyntheticSource{
		Width:    width,
		Height:   height,
		Interval: DefaultFrameInterval,
		clock:    clk,
		start:    clk.Now(),
	}
}

func (s *SyntheticSource) Next(ctx context.Context) (*nn.Frame, error) {
	if s.Realtime && s.next != 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.clock.After(s.Interval):
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx := s.next
	s.next++
	frame := nn.NewFrame(idx, s.start.Add(time.Duration(idx)*s.Interval), s.Width, s.Height, 1)
	for y := 0; y < s.Height; y++ {
		row := frame.Pixels[y*frame.Stride:]
		for x := 0; x < s.Width; x++ {
			row[x] = byte(int64(x+y) + idx*4)
		}
	}
	return frame, nil
}

func (s *SyntheticSource) Close() error {
	return nil
}

// ImageDirSource reads the JPEG files of a directory, in name order
type ImageDirSource struct {
	Dir      string
	Interval time.Duration

	files []string
	start time.Time
	next  int
}

func NewImageDirSource(clk clock.Clock, dir string) (*ImageDirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := []string{}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".jpg" || ext == ".jpeg") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("No JPEG files found in %v", dir)
	}
	slices.Sort(files)
	return &ImageDirSource{
		Dir:      dir,
		Interval: DefaultFrameInterval,
		files:    files,
		start:    clk.Now(),
	}, nil
}

func (s *ImageDirSource) Next(ctx context.Context) (*nn.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.files) {
		return nil, io.EOF
	}
	idx := int64(s.next)
	s.next++
	return imgx.ReadFile(idx, s.start.Add(time.Duration(idx)*s.Interval), s.files[idx])
}

func (s *ImageDirSource) Close() error {
	return nil
}

// OpenSource interprets a camera stream URL.
//
//	synthetic:            320x240 generated frames
//	synthetic:640x480     generated frames of the given size
//	synthetic-live:...    as above, but paced in real time
//	dir:/path, or /path   a directory of JPEG files
func OpenSource(clk clock.Clock, streamURL string) (FrameSource, error) {
	if rest, ok := strings.CutPrefix(streamURL, "synthetic-live:"); ok {
		s, err := openSynthetic(clk, rest)
		if err != nil {
			return nil, err
		}
		s.Realtime = true
		return s, nil
	}
	if rest, ok := strings.CutPrefix(streamURL, "synthetic:"); ok {
		return openSynthetic(clk, rest)
	}
	dir := strings.TrimPrefix(streamURL, "dir:")
	if dir == "" {
		return nil, fmt.Errorf("Empty stream URL")
	}
	return NewImageDirSource(clk, dir)
}

func openSynthetic(clk clock.Clock, size string) (*SyntheticSource, error) {
	if size == "" {
		return NewSyntheticSource(clk, DefaultSyntheticWidth, DefaultSyntheticHeight), nil
	}
	ws, hs, ok := strings.Cut(size, "x")
	w, errW := strconv.Atoi(ws)
	h, errH := strconv.Atoi(hs)
	if !ok || errW != nil || errH != nil || w <= 0 || h <= 0 {
		return nil, fmt.Errorf("Invalid synthetic frame size '%v'. Expected eg 640x480", size)
	}
	return NewSyntheticSource(clk, w, h), nil
}
