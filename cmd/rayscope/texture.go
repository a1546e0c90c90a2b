package main

import (
	"github.com/veandco/go-sdl2/sdl"

	"github.com/chzchzchz/momentrx/momentrx"
)

// rayTexture keeps one streaming texture per waterfall row; rowIdx wraps.
type rayTexture struct {
	r       *sdl.Renderer
	rows    []*sdl.Texture
	rowIdx  int
	w       int
	row8888 []byte
	rowRect *sdl.Rect
}

func newRayTexture(r *sdl.Renderer, w, h int) *rayTexture {
	rt := &rayTexture{
		r:       r,
		rows:    make([]*sdl.Texture, h),
		w:       w,
		row8888: make([]byte, w*4),
		rowRect: &sdl.Rect{X: 0, Y: 0, W: int32(w), H: 1},
	}
	for i := 0; i < w; i++ {
		rt.row8888[4*i+3] = 0xff
	}
	for i := range rt.rows {
		var err error
		rt.rows[i], err = r.CreateTexture(
			sdl.PIXELFORMAT_RGB888, sdl.TEXTUREACCESS_STREAMING, int32(w), 1)
		if err != nil {
			panic(err)
		}
		if err = rt.rows[i].Update(rt.rowRect, rt.row8888, 4); err != nil {
			panic(err)
		}
	}
	return rt
}

func (rt *rayTexture) blit() {
	dstRect := &sdl.Rect{X: 0 /* Y set in loops */, W: int32(rt.w), H: 1}
	for i := rt.rowIdx; i < len(rt.rows); i++ {
		if err := rt.r.Copy(rt.rows[i], rt.rowRect, dstRect); err != nil {
			panic(err)
		}
		dstRect.Y++
	}
	for i := 0; i < rt.rowIdx; i++ {
		if err := rt.r.Copy(rt.rows[i], rt.rowRect, dstRect); err != nil {
			panic(err)
		}
		dstRect.Y++
	}
}

// add draws one ray of quantized values; gates past the row are dropped.
func (rt *rayTexture) add(row []uint8) {
	for i := 0; i < rt.w; i++ {
		var v uint8
		if i < len(row) {
			v = row[i]
		}
		c := momentrx.Color(v)
		rt.row8888[4*i] = c.B
		rt.row8888[4*i+1] = c.G
		rt.row8888[4*i+2] = c.R
	}
	rt.rows[rt.rowIdx].Update(rt.rowRect, rt.row8888, 4)

	rt.rowIdx++
	if rt.rowIdx >= len(rt.rows) {
		rt.rowIdx = 0
	}
}

func (rt *rayTexture) Destroy() {
	for _, t := range rt.rows {
		t.Destroy()
	}
}
