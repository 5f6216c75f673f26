package monitor

import (
	"fmt"
	"image"
	"image/color"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/vigil/pkg/nn"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

var (
	colorTracking = color.RGBA{255, 200, 0, 255}
	colorAlerting = color.RGBA{230, 30, 30, 255}
	colorLabelBG  = color.RGBA{0, 0, 0, 160}
)

// AnnotatedFrame is a copy of a frame with track overlays drawn on it
type AnnotatedFrame struct {
	Source *nn.Frame   // The original frame. Never modified.
	Image  *image.RGBA // Source pixels plus overlays
	Drawn  []Track     // The tracks that were drawn
}

// Frame returns the annotated image as a 4 channel frame with the source's index and PTS
func (a *AnnotatedFrame) Frame() *nn.Frame {
	return &nn.Frame{
		Index:  a.Source.Index,
		PTS:    a.Source.PTS,
		Width:  a.Image.Rect.Dx(),
		Height: a.Image.Rect.Dy(),
		NChan:  4,
		Stride: a.Image.Stride,
		Pixels: a.Image.Pix,
	}
}

// FormatLabel produces the overlay text for a track, eg "person 87%"
func FormatLabel(label string, confidence float32) string {
	return fmt.Sprintf("%v %d%%", label, int(math32.Round(confidence*100)))
}

// Annotate draws the current tracks onto a copy of frame.
// Only tracks with smoothed confidence above the display threshold are drawn.
func (e *Engine) Annotate(frame *nn.Frame) (*AnnotatedFrame, error) {
	visible := []Track{}
	for _, t := range e.tracks {
		if t.smoothed > e.settings.DisplayThreshold {
			visible = append(visible, t.snapshot())
		}
	}
	return Render(frame, visible)
}

// Render draws tracks onto a copy of frame. Boxes are clipped to the frame.
func Render(frame *nn.Frame, tracks []Track) (*AnnotatedFrame, error) {
	img, err := toRGBA(frame)
	if err != nil {
		return nil, err
	}
	out := &AnnotatedFrame{
		Source: frame,
		Image:  img,
		Drawn:  []Track{},
	}
	if len(tracks) == 0 {
		return out, nil
	}

	dc := gg.NewContextForRGBA(img)
	fontSize := max(10, float64(frame.Height)/40)
	lineWidth := max(1, float64(frame.Height)/240)
	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: fontSize}))

	for _, t := range tracks {
		box := t.Box.Clip(frame.Width, frame.Height)
		if box.Empty() {
			continue
		}
		c := colorTracking
		if t.Alerting {
			c = colorAlerting
		}
		// Inset by half the line width, so that the stroke stays inside the box (and therefore inside the frame)
		inset := lineWidth / 2
		dc.SetColor(c)
		dc.SetLineWidth(lineWidth)
		dc.DrawRectangle(float64(box.X)+inset, float64(box.Y)+inset, max(0, float64(box.Width)-lineWidth), max(0, float64(box.Height)-lineWidth))
		dc.Stroke()

		text := FormatLabel(t.Label, t.SmoothedConfidence)
		tw, th := dc.MeasureString(text)
		pad := 2.0
		// Place the label above the box, or inside it if there is no room above
		lx := float64(box.X)
		ly := float64(box.Y) - th - pad*2
		if ly < 0 {
			ly = float64(box.Y)
		}
		lx = min(lx, max(0, float64(frame.Width)-tw-pad*2))
		dc.SetColor(colorLabelBG)
		dc.DrawRectangle(lx, ly, tw+pad*2, th+pad*2)
		dc.Fill()
		dc.SetColor(c)
		dc.DrawString(text, lx+pad, ly+pad+th)

		out.Drawn = append(out.Drawn, t)
	}
	return out, nil
}

// toRGBA copies a frame into a new RGBA image
func toRGBA(frame *nn.Frame) (*image.RGBA, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for y := 0; y < frame.Height; y++ {
		src := frame.Pixels[y*frame.Stride:]
		dst := img.Pix[y*img.Stride:]
		switch frame.NChan {
		case 4:
			copy(dst[:frame.Width*4], src[:frame.Width*4])
		case 3:
			for x := 0; x < frame.Width; x++ {
				dst[x*4] = src[x*3]
				dst[x*4+1] = src[x*3+1]
				dst[x*4+2] = src[x*3+2]
				dst[x*4+3] = 255
			}
		case 1:
			for x := 0; x < frame.Width; x++ {
				v := src[x]
				dst[x*4] = v
				dst[x*4+1] = v
				dst[x*4+2] = v
				dst[x*4+3] = 255
			}
		}
	}
	return img, nil
}
