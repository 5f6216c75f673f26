// Package imgx converts between pipeline frames and cimg images
package imgx

import (
	"fmt"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/vigil/pkg/nn"
)

// ToRGB returns an RGB cimg image with the content of frame.
// RGB frames are wrapped without copying. Gray and RGBA frames are converted.
func ToRGB(frame *nn.Frame) (*cimg.Image, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	if frame.NChan == 3 {
		return cimg.WrapImageStrided(frame.Width, frame.Height, cimg.PixelFormatRGB, frame.Pixels, frame.Stride), nil
	}
	rgb := cimg.NewImage(frame.Width, frame.Height, cimg.PixelFormatRGB)
	for y := 0; y < frame.Height; y++ {
		src := frame.Pixels[y*frame.Stride:]
		dst := rgb.Pixels[y*rgb.Stride:]
		for x := 0; x < frame.Width; x++ {
			switch frame.NChan {
			case 1:
				v := src[x]
				dst[x*3] = v
				dst[x*3+1] = v
				dst[x*3+2] = v
			case 4:
				dst[x*3] = src[x*4]
				dst[x*3+1] = src[x*4+1]
				dst[x*3+2] = src[x*4+2]
			}
		}
	}
	return rgb, nil
}

// EncodeJPEG compresses frame to a JPEG
func EncodeJPEG(frame *nn.Frame, quality int) ([]byte, error) {
	rgb, err := ToRGB(frame)
	if err != nil {
		return nil, err
	}
	return cimg.Compress(rgb, cimg.MakeCompressParams(cimg.Sampling420, quality, 0))
}

// FromImage wraps a decoded image as a frame (no copy)
func FromImage(index int64, pts time.Time, img *cimg.Image) (*nn.Frame, error) {
	nchan := img.NChan()
	if nchan != 1 && nchan != 3 && nchan != 4 {
		return nil, fmt.Errorf("Unsupported image with %v channels", nchan)
	}
	return &nn.Frame{
		Index:  index,
		PTS:    pts,
		Width:  img.Width,
		Height: img.Height,
		NChan:  nchan,
		Stride: img.Stride,
		Pixels: img.Pixels,
	}, nil
}

// ReadFile decodes an image file (eg JPEG) into a frame
func ReadFile(index int64, pts time.Time, filename string) (*nn.Frame, error) {
	img, err := cimg.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Failed to decode %v: %w", filename, err)
	}
	return FromImage(index, pts, img)
}
