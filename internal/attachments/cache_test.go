package attachments

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/disintegration/imaging"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestCacheSlidingExpiry(t *testing.T) {
	now := time.Now()
	c := NewCache()
	c.now = func() time.Time { return now }

	c.Put("u1", Entry{Data: []byte("report"), Filename: "r.txt", Kind: "file"})

	// Each Get refreshes the window.
	now = now.Add(250 * time.Second)
	if _, ok := c.Get("u1"); !ok {
		t.Fatal("file entry must survive 250s")
	}
	now = now.Add(250 * time.Second)
	if _, ok := c.Get("u1"); !ok {
		t.Fatal("refreshed entry must survive another 250s")
	}
	now = now.Add(301 * time.Second)
	if _, ok := c.Get("u1"); ok {
		t.Fatal("entry must expire past the file window")
	}
}

func TestCacheImageWindowShorter(t *testing.T) {
	now := time.Now()
	c := NewCache()
	c.now = func() time.Time { return now }

	c.Put("u1", Entry{Data: pngBytes(t, 4, 4), Filename: "a.png", Kind: "image"})
	now = now.Add(121 * time.Second)
	if _, ok := c.Get("u1"); ok {
		t.Fatal("image entry must expire past 120s")
	}
}

func TestCacheCorruptImageEvicted(t *testing.T) {
	c := NewCache()
	c.Put("u1", Entry{Data: []byte("not an image"), Filename: "a.png", Kind: "image"})
	if _, ok := c.Get("u1"); ok {
		t.Fatal("undecodable image must be a miss")
	}
	// Evicted, not just hidden.
	if _, ok := c.Get("u1"); ok {
		t.Fatal("corrupt entry must be gone")
	}
}

func TestCacheConsume(t *testing.T) {
	c := NewCache()
	c.Put("u1", Entry{Data: []byte("doc"), Kind: "file"})
	c.Consume("u1")
	if _, ok := c.Get("u1"); ok {
		t.Fatal("consumed entry must be gone")
	}
}

func TestCachePutReplaces(t *testing.T) {
	c := NewCache()
	c.Put("u1", Entry{Data: []byte("first"), Kind: "file"})
	c.Put("u1", Entry{Data: []byte("second"), Kind: "file"})
	e, ok := c.Get("u1")
	if !ok || string(e.Data) != "second" {
		t.Fatalf("entry = %+v, want replacement", e)
	}
}

func TestNormalizeImagePassThrough(t *testing.T) {
	data := pngBytes(t, 32, 32)
	out, err := NormalizeImage(data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, data) {
		t.Fatal("small image must pass through untouched")
	}
}

func TestNormalizeImageResizes(t *testing.T) {
	data := pngBytes(t, 2400, 1200)
	out, err := NormalizeImage(data)
	if err != nil {
		t.Fatal(err)
	}
	img, err := imaging.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	b := img.Bounds()
	if b.Dx() > maxDimension || b.Dy() > maxDimension {
		t.Fatalf("bounds = %v, want longest edge <= %d", b, maxDimension)
	}
	if len(out) > maxImageBytes {
		t.Fatalf("size = %d, want <= %d", len(out), maxImageBytes)
	}
}

func TestNormalizeImageRejectsGarbage(t *testing.T) {
	if _, err := NormalizeImage([]byte("garbage")); err == nil {
		t.Fatal("expected decode error")
	}
}
