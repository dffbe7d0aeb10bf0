package thumbnail

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/nasdesk/nasdesk/internal/models"
)

func encodePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestFit(t *testing.T) {
	tests := []struct {
		name string
		src  image.Rectangle
		size int
		want image.Rectangle
	}{
		{"square", image.Rect(0, 0, 400, 400), 48, image.Rect(4, 4, 44, 44)},
		{"landscape", image.Rect(0, 0, 800, 400), 48, image.Rect(4, 14, 44, 34)},
		{"portrait", image.Rect(0, 0, 100, 200), 96, image.Rect(26, 4, 70, 92)},
		{"tiny is scaled up", image.Rect(0, 0, 10, 10), 48, image.Rect(4, 4, 44, 44)},
		{"sliver keeps a pixel", image.Rect(0, 0, 1024, 1), 48, image.Rect(4, 23, 44, 24)},
		{"empty", image.Rectangle{}, 48, image.Rectangle{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fit(tt.src, tt.size, 8); got != tt.want {
				t.Errorf("fit() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRender(t *testing.T) {
	src := encodePNG(t, 200, 100, color.RGBA{R: 255, A: 255})

	for _, mode := range []models.ViewMode{models.ViewList, models.ViewMediumIcons, models.ViewLargeIcons} {
		t.Run(string(mode), func(t *testing.T) {
			out := Render(src, mode)
			if out == nil {
				t.Fatal("Render() = nil")
			}
			img, err := png.Decode(bytes.NewReader(out))
			if err != nil {
				t.Fatalf("output is not a PNG: %v", err)
			}

			size := mode.ThumbnailSize()
			if b := img.Bounds(); b.Dx() != size || b.Dy() != size {
				t.Fatalf("bounds = %v, want %dx%d", b, size, size)
			}

			// Corners are background, the centre is the picture
			r, g, b, a := img.At(0, 0).RGBA()
			if r != 0xffff || g != 0xffff || b != 0xffff || a != 0xffff {
				t.Errorf("corner = %v, want opaque white", img.At(0, 0))
			}
			r, g, _, _ = img.At(size/2, size/2).RGBA()
			if r < 0xf000 || g > 0x1000 {
				t.Errorf("centre = %v, want red", img.At(size/2, size/2))
			}
		})
	}
}

func TestRenderJPEG(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 30, 60))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	if Render(buf.Bytes(), models.ViewSmallIcons) == nil {
		t.Error("Render() of a JPEG = nil")
	}
}

func TestRenderRejectsNonImages(t *testing.T) {
	if out := Render([]byte("not really a jpeg"), models.ViewList); out != nil {
		t.Errorf("Render() = %d bytes, want nil", len(out))
	}
	if out := Render(nil, models.ViewList); out != nil {
		t.Errorf("Render(nil) = %d bytes, want nil", len(out))
	}
}

// withClaimedSize rewrites the IHDR chunk of a PNG so its header reports
// w x h while the pixel data stays tiny.
func withClaimedSize(t *testing.T, data []byte, w, h uint32) []byte {
	t.Helper()
	out := append([]byte(nil), data...)
	if string(out[12:16]) != "IHDR" {
		t.Fatalf("chunk type = %q, want IHDR", out[12:16])
	}
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestRenderRefusesOversizedHeader(t *testing.T) {
	bomb := withClaimedSize(t, encodePNG(t, 1, 1, color.White), 40000, 40000)
	if len(bomb) > 128 {
		t.Fatalf("crafted PNG is %d bytes, want a tiny file", len(bomb))
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(bomb))
	if err != nil {
		t.Fatalf("DecodeConfig() error = %v", err)
	}
	if cfg.Width != 40000 || cfg.Height != 40000 {
		t.Fatalf("DecodeConfig() = %dx%d, want 40000x40000", cfg.Width, cfg.Height)
	}

	if out := Render(bomb, models.ViewList); out != nil {
		t.Errorf("Render() = %d bytes, want nil", len(out))
	}
}

func TestCache(t *testing.T) {
	c := NewCache(2, time.Minute)

	a := NewKey("photos/a.jpg", models.ViewList)
	if a.Path != "/photos/a.jpg" {
		t.Errorf("NewKey() path = %q", a.Path)
	}
	if _, ok := c.Get(a); ok {
		t.Fatal("Get() on empty cache hit")
	}

	c.Add(a, []byte{1})
	c.Add(NewKey("/photos/a.jpg", models.ViewLargeIcons), []byte{2})
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want one entry per mode", c.Len())
	}
	if got, ok := c.Get(NewKey("/photos/a.jpg", models.ViewList)); !ok || got[0] != 1 {
		t.Errorf("Get() = %v, %v", got, ok)
	}

	c.Add(NewKey("/photos/b.jpg", models.ViewList), []byte{3})
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want bounded at 2", c.Len())
	}
	if c.Contains(NewKey("/photos/a.jpg", models.ViewLargeIcons)) {
		t.Error("least recently used entry should have been evicted")
	}

	c.Add(NewKey("/photos/c.jpg", models.ViewList), nil)
	if c.Contains(NewKey("/photos/c.jpg", models.ViewList)) {
		t.Error("empty thumbnails should not be cached")
	}

	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len() after Purge() = %d", c.Len())
	}
}

func TestCacheExpires(t *testing.T) {
	c := NewCache(8, 20*time.Millisecond)
	key := NewKey("/photos/a.jpg", models.ViewList)
	c.Add(key, []byte{1})

	deadline := time.Now().Add(2 * time.Second)
	for c.Contains(key) {
		if time.Now().After(deadline) {
			t.Fatal("entry never expired")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
