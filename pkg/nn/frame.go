package nn

import (
	"fmt"
	"time"
)

// Frame is one decoded image from a stream.
// A Frame is treated as immutable once it has been handed to the pipeline.
// Anything that wants to draw on it must copy Pixels first.
type Frame struct {
	Index  int64     // Sequence index, strictly increasing within a session
	PTS    time.Time // Presentation time
	Width  int
	Height int
	NChan  int // 1 (gray), 3 (RGB) or 4 (RGBA)
	Stride int // Bytes per row
	Pixels []byte
}

// NewFrame allocates a zeroed, tightly packed frame
func NewFrame(index int64, pts time.Time, width, height, nchan int) *Frame {
	return &Frame{
		Index:  index,
		PTS:    pts,
		Width:  width,
		Height: height,
		NChan:  nchan,
		Stride: width * nchan,
		Pixels: make([]byte, width*height*nchan),
	}
}

// Validate checks that the pixel buffer is consistent with the frame dimensions
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("Invalid frame dimensions %v x %v", f.Width, f.Height)
	}
	if f.NChan != 1 && f.NChan != 3 && f.NChan != 4 {
		return fmt.Errorf("Unsupported channel count %v", f.NChan)
	}
	if f.Stride < f.Width*f.NChan {
		return fmt.Errorf("Stride %v is too small for width %v and %v channels", f.Stride, f.Width, f.NChan)
	}
	if len(f.Pixels) < f.Stride*(f.Height-1)+f.Width*f.NChan {
		return fmt.Errorf("Pixel buffer too small (%v bytes) for %v x %v x %v", len(f.Pixels), f.Width, f.Height, f.NChan)
	}
	return nil
}

// Crop returns the frame as an ImageCrop, for handing to an ObjectDetector.
// Only tightly packed frames can be expressed this way.
func (f *Frame) Crop() (ImageCrop, error) {
	if f.Stride != f.Width*f.NChan {
		return ImageCrop{}, fmt.Errorf("Frame %v has padded rows (stride %v)", f.Index, f.Stride)
	}
	return WholeImage(f.NChan, f.Pixels, f.Width, f.Height), nil
}
