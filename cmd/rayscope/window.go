package main

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/veandco/go-sdl2/sdl"

	"github.com/chzchzchz/momentrx/ring"
)

type rayWindow struct {
	win *sdl.Window
	r   *sdl.Renderer
	rt  *rayTexture
	w   int
	h   int

	rowc    chan []uint8
	product atomic.Int32
	dropped atomic.Uint64
	pause   bool
}

func newRayWindow(gates, h int, p ring.Product) (rw *rayWindow, err error) {
	winFlags := uint32(sdl.WINDOW_SHOWN)
	if resizable {
		winFlags |= sdl.WINDOW_RESIZABLE | sdl.WINDOW_OPENGL
	}
	win, e := sdl.CreateWindow(
		"rayscope",
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(gates),
		int32(h),
		winFlags)
	if e != nil {
		return nil, e
	}
	defer func() {
		if err != nil {
			win.Destroy()
		}
	}()

	// Disable letterboxing.
	sdl.SetHint(sdl.HINT_RENDER_LOGICAL_SIZE_MODE, "1")

	r, e := sdl.CreateRenderer(win, -1, sdl.RENDERER_ACCELERATED|sdl.RENDERER_TARGETTEXTURE)
	if e != nil {
		return nil, e
	}
	defer func() {
		if err != nil {
			r.Destroy()
		}
	}()
	if err := r.SetLogicalSize(int32(gates), int32(h)); err != nil {
		return nil, err
	}

	rw = &rayWindow{
		win:  win,
		r:    r,
		rt:   newRayTexture(r, gates, h),
		w:    gates,
		h:    h,
		rowc: make(chan []uint8, h),
	}
	rw.setProduct(p)
	return rw, nil
}

// sink copies the selected product out of a Ready ray. It runs on the
// collector goroutine and drops rows the window cannot keep up with.
func (rw *rayWindow) sink(ray *ring.Ray) {
	p := ring.Product(rw.product.Load())
	row := make([]uint8, ray.Gates)
	copy(row, ray.Display[p][:ray.Gates])
	select {
	case rw.rowc <- row:
	default:
		rw.dropped.Add(1)
	}
}

func (rw *rayWindow) setProduct(p ring.Product) {
	rw.product.Store(int32(p))
	rw.win.SetTitle(fmt.Sprintf("rayscope %v", p))
}

func (rw *rayWindow) Close() {
	rw.rt.Destroy()
	rw.r.Destroy()
	rw.win.Destroy()
}

func (rw *rayWindow) redraw() {
	rw.rt.blit()
	if err := rw.r.Flush(); err != nil {
		panic(err)
	}
	rw.r.Present()
}

func (rw *rayWindow) Run(done <-chan struct{}) {
	fpsDur := time.Second / 30
	ticker := time.NewTicker(fpsDur)
	defer ticker.Stop()
	for rw.processEvents() {
		select {
		case <-done:
			log.Println("pipeline stopped")
			return
		case <-ticker.C:
		}
		if rw.pause {
			continue
		}
		n := 0
	drain:
		for n < rw.h {
			select {
			case row := <-rw.rowc:
				rw.rt.add(row)
				n++
			default:
				break drain
			}
		}
		if n > 0 {
			rw.redraw()
		}
	}
}

func keyProduct(k sdl.Keycode) (ring.Product, bool) {
	switch k {
	case sdl.K_z:
		return ring.ProductZ, true
	case sdl.K_v:
		return ring.ProductV, true
	case sdl.K_w:
		return ring.ProductW, true
	case sdl.K_d:
		return ring.ProductD, true
	case sdl.K_p:
		return ring.ProductP, true
	case sdl.K_r:
		return ring.ProductR, true
	case sdl.K_k:
		return ring.ProductK, true
	case sdl.K_q:
		return ring.ProductQ, true
	}
	return 0, false
}

func (rw *rayWindow) handleEvent(event sdl.Event) bool {
	switch ev := event.(type) {
	case *sdl.QuitEvent:
		return false
	case *sdl.WindowEvent:
		if rw.pause {
			rw.redraw()
		}
	case *sdl.KeyboardEvent:
		if ev.Type == sdl.KEYDOWN {
			if p, ok := keyProduct(ev.Keysym.Sym); ok {
				rw.setProduct(p)
			} else if ev.Keysym.Sym == sdl.K_SPACE {
				rw.pause = !rw.pause
			}
		} else if ev.Type == sdl.KEYUP && ev.Keysym.Sym == sdl.K_ESCAPE {
			return false
		}
	}
	return true
}

func (rw *rayWindow) processEvents() bool {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		if !rw.handleEvent(event) {
			return false
		}
	}
	return true
}
