package momentrx

import (
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/chzchzchz/momentrx/ring"
)

func TestColor(t *testing.T) {
	tests := []struct {
		v    uint8
		want [3]uint8
	}{
		{0, [3]uint8{0, 0, 0}},
		{1, [3]uint8{0, 0, 255}},
		{255, [3]uint8{255, 0, 0}},
	}
	for _, tt := range tests {
		c := Color(tt.v)
		if got := [3]uint8{c.R, c.G, c.B}; got != tt.want {
			t.Errorf("Color(%d) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestBScan(t *testing.T) {
	rays, _ := ring.NewRayRing(4, 6)
	b := NewBScan(ring.ProductV, 3)
	for i := 0; i < 4; i++ {
		ray := rays.Claim()
		ray.Gates = 6 - i
		for g := range ray.Display[ring.ProductV] {
			ray.Display[ring.ProductV][g] = uint8(1 + 50*g)
		}
		b.Sink(ray)
	}
	if b.Rays() != 3 {
		t.Fatalf("kept %d rays", b.Rays())
	}
	img := b.Image()
	if w, h := img.Bounds().Dx(), img.Bounds().Dy(); w != 6 || h != 3 {
		t.Fatalf("image %dx%d", w, h)
	}
	// The third ray has 4 gates; the rest of its row is black.
	if c := img.NRGBAAt(5, 2); c != Color(0) {
		t.Fatalf("padding %v", c)
	}
	if c := img.NRGBAAt(0, 0); c != Color(1) {
		t.Fatalf("first gate %v", c)
	}

	path := filepath.Join(t.TempDir(), "bscan.jpg")
	if err := b.WriteJPEG(path); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	if err != nil || cfg.Width != 6 || cfg.Height != 3 {
		t.Fatalf("jpeg %+v: %v", cfg, err)
	}
}
