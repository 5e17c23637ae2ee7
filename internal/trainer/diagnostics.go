package trainer

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/spf13/afero"

	"github.com/tphakala/carnet-go/internal/dataset"
)

// DiagnosticsSink renders one test prediction. pred and target are the
// model output and label rows for the image at path.
type DiagnosticsSink interface {
	Draw(ctx context.Context, path string, pred, target []float32) error
}

const markerRadius = 3

var (
	targetColor = color.RGBA{G: 255, A: 255}
	predColor   = color.RGBA{R: 255, A: 255}
)

// PNGDiagnostics reads (x, y) pairs from target and prediction rows, in
// resized-image coordinates, and draws them as filled markers on the
// source image: targets green, predictions red. Each image is written as a
// PNG to Dir.
type PNGDiagnostics struct {
	fs      afero.Fs
	dir     string
	imgSize int
	seq     atomic.Int64
}

// NewPNGDiagnostics returns a sink writing to dir on fsys.
func NewPNGDiagnostics(fsys afero.Fs, dir string, imgSize int) *PNGDiagnostics {
	return &PNGDiagnostics{fs: fsys, dir: dir, imgSize: imgSize}
}

func (d *PNGDiagnostics) Draw(ctx context.Context, path string, pred, target []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := dataset.LoadImage(d.fs, path)
	if err != nil {
		return err
	}
	b := src.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), src, b.Min, draw.Src)

	sx := float64(b.Dx()) / float64(d.imgSize)
	sy := float64(b.Dy()) / float64(d.imgSize)
	drawPoints(canvas, target, sx, sy, targetColor)
	drawPoints(canvas, pred, sx, sy, predColor)

	if err := d.fs.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%04d_%s.png", d.seq.Add(1), strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	f, err := d.fs.Create(filepath.Join(d.dir, name))
	if err != nil {
		return err
	}
	if err := png.Encode(f, canvas); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// drawPoints draws consecutive (x, y) pairs of values; an odd trailing
// value is ignored.
func drawPoints(img *image.RGBA, values []float32, sx, sy float64, c color.RGBA) {
	for i := 0; i+1 < len(values); i += 2 {
		fillCircle(img, int(float64(values[i])*sx), int(float64(values[i+1])*sy), markerRadius, c)
	}
}

func fillCircle(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	bounds := img.Bounds()
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r*r && image.Pt(x, y).In(bounds) {
				img.SetRGBA(x, y, c)
			}
		}
	}
}
