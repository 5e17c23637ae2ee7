package trainer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDataset(t *testing.T, fsys afero.Fs, root string, n int) {
	t.Helper()
	var labels bytes.Buffer
	for i := range n {
		name := fmt.Sprintf("car%d.png", i)
		writeSolidPNG(t, fsys, root+"/"+name, 8, 8, color.Gray{Y: uint8(i * 30)})
		fmt.Fprintf(&labels, "%s %d %d\n", name, i%4, (i+1)%4)
	}
	require.NoError(t, afero.WriteFile(fsys, root+"/label.txt", labels.Bytes(), 0o644))
}

func writeSolidPNG(t *testing.T, fsys afero.Fs, path string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, afero.WriteFile(fsys, path, buf.Bytes(), 0o644))
}

func TestPNGDiagnosticsDrawsScaledMarkers(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeSolidPNG(t, fsys, "test/car.png", 40, 20, color.White)

	sink := NewPNGDiagnostics(fsys, "diag", 10)
	// target (5, 5) maps to (20, 10); prediction (1, 8) maps to (4, 16)
	require.NoError(t, sink.Draw(t.Context(), "test/car.png", []float32{1, 8}, []float32{5, 5}))

	files, err := afero.ReadDir(fsys, "diag")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "0001_car.png", files[0].Name())

	f, err := fsys.Open("diag/0001_car.png")
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 40, 20), img.Bounds())
	assert.Equal(t, color.RGBAModel.Convert(targetColor), color.RGBAModel.Convert(img.At(20, 10)))
	assert.Equal(t, color.RGBAModel.Convert(predColor), color.RGBAModel.Convert(img.At(4, 16)))
	assert.Equal(t, color.RGBAModel.Convert(color.White), color.RGBAModel.Convert(img.At(35, 2)))
}

func TestPNGDiagnosticsMissingImage(t *testing.T) {
	sink := NewPNGDiagnostics(afero.NewMemMapFs(), "diag", 10)
	require.Error(t, sink.Draw(t.Context(), "nope.png", []float32{1, 1}, []float32{1, 1}))
}

func TestDrawPointsIgnoresOddTail(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	drawPoints(img, []float32{2, 2, 7}, 1, 1, predColor)
	assert.Equal(t, predColor, img.RGBAAt(2, 2))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(7, 0))
}
