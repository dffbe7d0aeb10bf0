package thumbnail

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/nasdesk/nasdesk/internal/constants"
	"github.com/nasdesk/nasdesk/internal/models"
)

// RenderFunc turns the bytes of a file into a PNG thumbnail for mode. It
// returns nil when the bytes are not a picture it understands.
type RenderFunc func(data []byte, mode models.ViewMode) []byte

// Render is the default RenderFunc. The picture is scaled to fit inside the
// mode's square minus a padding margin, keeping its aspect ratio, and
// centred on an opaque white canvas. Pictures whose header claims more than
// constants.ThumbnailMaxPixels pixels are refused before decoding.
func Render(data []byte, mode models.ViewMode) []byte {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > constants.ThumbnailMaxPixels {
		return nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	size := mode.ThumbnailSize()
	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	target := fit(src.Bounds(), size, constants.ThumbnailPadding)
	if target.Empty() {
		return nil
	}
	draw.CatmullRom.Scale(canvas, target, src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil
	}
	return buf.Bytes()
}

// fit returns the centred rectangle that src scales into on a size x size
// canvas leaving padding pixels of the box unused. Small pictures are scaled
// up as well.
func fit(src image.Rectangle, size, padding int) image.Rectangle {
	w, h := src.Dx(), src.Dy()
	box := size - padding
	if w <= 0 || h <= 0 || box <= 0 {
		return image.Rectangle{}
	}

	scale := float64(box) / float64(w)
	if sy := float64(box) / float64(h); sy < scale {
		scale = sy
	}

	nw := max(int(float64(w)*scale), 1)
	nh := max(int(float64(h)*scale), 1)
	x := (size - nw) / 2
	y := (size - nh) / 2
	return image.Rect(x, y, x+nw, y+nh)
}
