package report

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/mbarrow/framewatch/internal/capability"
)

// boxColor is the single overlay color used for every bounding box; the
// report already carries per-detection label/confidence/source text, so the
// overlay does not need a color legend.
var boxColor = color.RGBA{R: 255, G: 64, B: 64, A: 255}

// AnnotateFrame draws bounding boxes for every detection in detections that
// carries a Box, writing the result under annotatedDir with the same
// basename as srcPath. Detections without a box (discovery, boxless OCR)
// are skipped here but remain in the report. No third-party drawing
// library appears in the retrieval pack, so this is stdlib image/image/draw
// plus golang.org/x/image/font for label text (see DESIGN.md).
func AnnotateFrame(srcPath, annotatedDir string, detections []capability.Detection) (string, error) {
	hasBox := false
	for _, d := range detections {
		if d.Box != nil {
			hasBox = true
			break
		}
	}
	if !hasBox {
		return "", nil
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("overlay: open: %w", err)
	}
	src, err := jpeg.Decode(f)
	f.Close()
	if err != nil {
		return "", fmt.Errorf("overlay: decode: %w", err)
	}

	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)

	for _, d := range detections {
		if d.Box == nil {
			continue
		}
		drawBox(dst, *d.Box, boxColor)
		drawLabel(dst, d.Box.X, d.Box.Y-12, fmt.Sprintf("%s %.2f", d.Label, d.Confidence))
	}

	if err := os.MkdirAll(annotatedDir, 0o755); err != nil {
		return "", fmt.Errorf("overlay: mkdir: %w", err)
	}
	outPath := filepath.Join(annotatedDir, filepath.Base(srcPath))
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("overlay: create: %w", err)
	}
	defer out.Close()
	if err := jpeg.Encode(out, dst, &jpeg.Options{Quality: 85}); err != nil {
		return "", fmt.Errorf("overlay: encode: %w", err)
	}
	return outPath, nil
}

func drawBox(img *image.RGBA, box capability.BoundingBox, c color.Color) {
	const thickness = 2
	x0, y0, x1, y1 := box.X, box.Y, box.X+box.W, box.Y+box.H
	for t := 0; t < thickness; t++ {
		hLine(img, x0, x1, y0+t, c)
		hLine(img, x0, x1, y1-t, c)
		vLine(img, y0, y1, x0+t, c)
		vLine(img, y0, y1, x1-t, c)
	}
}

func hLine(img *image.RGBA, x0, x1, y int, c color.Color) {
	if y < img.Bounds().Min.Y || y >= img.Bounds().Max.Y {
		return
	}
	for x := x0; x < x1; x++ {
		if x < img.Bounds().Min.X || x >= img.Bounds().Max.X {
			continue
		}
		img.Set(x, y, c)
	}
}

func vLine(img *image.RGBA, y0, y1, x int, c color.Color) {
	if x < img.Bounds().Min.X || x >= img.Bounds().Max.X {
		return
	}
	for y := y0; y < y1; y++ {
		if y < img.Bounds().Min.Y || y >= img.Bounds().Max.Y {
			continue
		}
		img.Set(x, y, c)
	}
}

func drawLabel(img *image.RGBA, x, y int, text string) {
	if y < 0 {
		y = 0
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(boxColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(text)
}
