// Package annotate burns 1-based element labels into a copy of a screen frame.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/devicelab-dev/droid-agent/pkg/core"
	"github.com/devicelab-dev/droid-agent/pkg/element"
)

// Options controls label appearance. Appearance never affects ordering.
type Options struct {
	DarkMode bool
	// Scale multiplies the 7x13 glyphs. Zero picks one from the frame width.
	Scale int
	// Padding around the text in unscaled pixels. Zero uses 2.
	Padding int
}

// Palette is the label background and text color.
type Palette struct {
	Background color.RGBA
	Text       color.RGBA
	Border     color.RGBA
}

// PaletteFor returns dark-on-light labels for dark screens and light-on-dark otherwise.
func PaletteFor(darkMode bool) Palette {
	if darkMode {
		return Palette{
			Background: color.RGBA{R: 255, G: 250, B: 250, A: 230},
			Text:       color.RGBA{R: 10, G: 10, B: 10, A: 255},
			Border:     color.RGBA{R: 220, G: 53, B: 69, A: 255},
		}
	}
	return Palette{
		Background: color.RGBA{R: 20, G: 20, B: 20, A: 220},
		Text:       color.RGBA{R: 255, G: 255, B: 255, A: 255},
		Border:     color.RGBA{R: 255, G: 214, B: 0, A: 255},
	}
}

// Label is the placement of one element's index.
type Label struct {
	Index int
	Text  string
	Rect  image.Rectangle
}

var face = basicfont.Face7x13

// Layout computes label rectangles centered on each element and clamped to bounds.
// Label i carries the text i+1.
func Layout(bounds image.Rectangle, elements element.List, opts Options) []Label {
	scale := opts.scale(bounds)
	pad := opts.Padding
	if pad <= 0 {
		pad = 2
	}

	labels := make([]Label, 0, len(elements))
	for i, e := range elements {
		text := strconv.Itoa(i + 1)
		w := (font.MeasureString(face, text).Ceil() + pad*2) * scale
		h := (face.Height + pad*2) * scale

		c := e.Center()
		r := image.Rect(c.X-w/2, c.Y-h/2, c.X-w/2+w, c.Y-h/2+h)
		labels = append(labels, Label{Index: i, Text: text, Rect: clampRectToBounds(r, bounds)})
	}
	return labels
}

// Annotate returns a labelled copy of frame. The input is never modified.
func Annotate(frame image.Image, elements element.List, opts Options) *image.RGBA {
	b := frame.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, frame, b.Min, draw.Src)

	palette := PaletteFor(opts.DarkMode)
	scale := opts.scale(b)
	for _, l := range Layout(b, elements, opts) {
		fillRect(out, l.Rect, palette.Background)
		strokeRect(out, l.Rect, palette.Border, maxInt(1, scale/2))
		drawText(out, l.Rect, l.Text, palette.Text)
	}
	return out
}

// Annotator renders and persists annotated frames.
type Annotator struct {
	Options Options
	Store   core.ArtifactStore
}

// New returns an Annotator that hands PNGs to store. A nil store discards them.
func New(opts Options, store core.ArtifactStore) *Annotator {
	if store == nil {
		store = core.NullArtifactStore{}
	}
	return &Annotator{Options: opts, Store: store}
}

// Render annotates frame, encodes it as PNG and saves it for the round.
// It returns the stored handle and the PNG bytes sent to the model.
func (a *Annotator) Render(round int, frame image.Image, elements element.List) (string, []byte, error) {
	img := Annotate(frame, elements, a.Options)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", nil, fmt.Errorf("encode annotated frame: %w", err)
	}

	path, err := a.Store.SaveFrame(round, buf.Bytes())
	if err != nil {
		return "", buf.Bytes(), fmt.Errorf("save annotated frame: %w", err)
	}
	return path, buf.Bytes(), nil
}

func (o Options) scale(bounds image.Rectangle) int {
	if o.Scale > 0 {
		return o.Scale
	}
	return maxInt(2, bounds.Dx()/360)
}

// drawText renders text at 1x into a scratch image and scales it into r.
func drawText(dst *image.RGBA, r image.Rectangle, text string, c color.Color) {
	w := font.MeasureString(face, text).Ceil()
	h := face.Height
	if w <= 0 || r.Empty() {
		return
	}
	glyphs := image.NewRGBA(image.Rect(0, 0, w, h))
	d := &font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(text)

	// keep the glyph aspect ratio and center inside the label
	scale := minInt(r.Dx()/w, r.Dy()/h)
	if scale < 1 {
		scale = 1
	}
	tw, th := w*scale, h*scale
	x0 := r.Min.X + (r.Dx()-tw)/2
	y0 := r.Min.Y + (r.Dy()-th)/2
	xdraw.NearestNeighbor.Scale(dst, image.Rect(x0, y0, x0+tw, y0+th), glyphs, glyphs.Bounds(), xdraw.Over, nil)
}

func strokeRect(img *image.RGBA, r image.Rectangle, c color.Color, thickness int) {
	for i := 0; i < thickness; i++ {
		top := image.Rect(r.Min.X, r.Min.Y+i, r.Max.X, r.Min.Y+i+1)
		bottom := image.Rect(r.Min.X, r.Max.Y-1-i, r.Max.X, r.Max.Y-i)
		left := image.Rect(r.Min.X+i, r.Min.Y, r.Min.X+i+1, r.Max.Y)
		right := image.Rect(r.Max.X-1-i, r.Min.Y, r.Max.X-i, r.Max.Y)
		fillRect(img, top, c)
		fillRect(img, bottom, c)
		fillRect(img, left, c)
		fillRect(img, right, c)
	}
}

func fillRect(img draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Over)
}

func clampRectToBounds(r image.Rectangle, bounds image.Rectangle) image.Rectangle {
	if r.Dx() >= bounds.Dx() {
		r.Min.X = bounds.Min.X
		r.Max.X = bounds.Max.X
	} else {
		if r.Min.X < bounds.Min.X {
			r = r.Add(image.Pt(bounds.Min.X-r.Min.X, 0))
		}
		if r.Max.X > bounds.Max.X {
			r = r.Add(image.Pt(bounds.Max.X-r.Max.X, 0))
		}
	}

	if r.Dy() >= bounds.Dy() {
		r.Min.Y = bounds.Min.Y
		r.Max.Y = bounds.Max.Y
	} else {
		if r.Min.Y < bounds.Min.Y {
			r = r.Add(image.Pt(0, bounds.Min.Y-r.Min.Y))
		}
		if r.Max.Y > bounds.Max.Y {
			r = r.Add(image.Pt(0, bounds.Max.Y-r.Max.Y))
		}
	}

	return r
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
