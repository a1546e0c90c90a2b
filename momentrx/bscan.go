package momentrx

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync"

	"github.com/chzchzchz/momentrx/ring"
)

// black, blue, green, yellow, red
var colorScale = []color.NRGBA{
	{0, 0, 0, 255},
	{0, 0, 255, 255},
	{0, 255, 0, 255},
	{255, 255, 0, 255},
	{255, 0, 0, 255},
}

func interpolate(t float64, a, b uint8) uint8 { return uint8(float64(a)*(1-t) + float64(b)*t) }

// Color maps a quantized gate onto the color scale. Censored gates (0)
// are black.
func Color(v uint8) color.NRGBA {
	if v == 0 {
		return colorScale[0]
	}
	idx := 1 + float64(len(colorScale)-2)*float64(v-1)/254
	if int(idx)+1 >= len(colorScale) {
		return colorScale[len(colorScale)-1]
	}
	t := idx - float64(int(idx))
	prev, next := colorScale[int(idx)], colorScale[int(idx)+1]
	return color.NRGBA{
		interpolate(t, prev.R, next.R),
		interpolate(t, prev.G, next.G),
		interpolate(t, prev.B, next.B),
		255,
	}
}

// BScan keeps the quantized gates of one product for up to Max rays, one
// image row per ray.
type BScan struct {
	Product ring.Product
	Max     int

	mu    sync.Mutex
	rows  [][]uint8
	gates int
}

func NewBScan(p ring.Product, maxRays int) *BScan {
	return &BScan{Product: p, Max: maxRays}
}

func (b *BScan) Sink(ray *ring.Ray) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.rows) >= b.Max {
		return
	}
	b.rows = append(b.rows, append([]uint8(nil), ray.Display[b.Product][:ray.Gates]...))
	b.gates = max(b.gates, ray.Gates)
}

func (b *BScan) Rays() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

func (b *BScan) Image() *image.NRGBA {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := image.Rectangle{Min: image.Point{0, 0}, Max: image.Point{max(b.gates, 1), len(b.rows)}}
	img := image.NewNRGBA(r)
	for y, row := range b.rows {
		for x := 0; x < r.Max.X; x++ {
			var v uint8
			if x < len(row) {
				v = row[x]
			}
			img.SetNRGBA(x, y, Color(v))
		}
	}
	return img
}

func (b *BScan) WriteJPEG(outfn string) error {
	outf, err := os.OpenFile(outfn, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(outf, b.Image(), nil); err != nil {
		outf.Close()
		return err
	}
	return outf.Close()
}
