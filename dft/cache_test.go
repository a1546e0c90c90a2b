package dft

import (
	"math/cmplx"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPow2(t *testing.T) {
	Convey("Given sizes around powers of two", t, func() {
		So(NextPow2(1), ShouldEqual, 1)
		So(NextPow2(6), ShouldEqual, 8)
		So(NextPow2(8), ShouldEqual, 8)
		So(NextPow2(1000), ShouldEqual, 1024)
		So(IsPow2(0), ShouldBeFalse)
		So(IsPow2(12), ShouldBeFalse)
		So(IsPow2(4096), ShouldBeTrue)
	})
}

func TestBackends(t *testing.T) {
	for _, b := range []Backend{FFTW, Gonum} {
		Convey("Given a "+string(b)+" plan of size 8", t, func() {
			c, err := NewCache(b, 1, 4)
			So(err, ShouldBeNil)
			defer c.Close()
			p, err := c.Get(0, 8)
			So(err, ShouldBeNil)
			So(p.Size(), ShouldEqual, 8)

			Convey("An impulse transforms to all ones", func() {
				in := p.In()
				for i := range in {
					in[i] = 0
				}
				in[0] = 1
				p.ForwardInPlace()
				for _, v := range p.In() {
					So(real(v), ShouldAlmostEqual, 1, 1e-6)
					So(imag(v), ShouldAlmostEqual, 0, 1e-6)
				}
			})

			Convey("A complex tone lands in a single bin", func() {
				aux := p.Aux()
				for i := range aux {
					aux[i] = complex64(cmplx.Rect(1, 2*3.141592653589793*float64(i)/8))
				}
				p.ForwardOutOfPlace()
				out := p.Out()
				So(real(out[1]), ShouldAlmostEqual, 8, 1e-4)
				So(cmplx.Abs(complex128(out[3])), ShouldAlmostEqual, 0, 1e-4)
			})

			Convey("Inverse of forward scales by the size", func() {
				in := p.In()
				want := []complex64{1, 2, 1, 0, 0, 0, 3i, -1}
				copy(in, want)
				p.ForwardInPlace()
				p.InverseInPlace()
				for i, v := range p.In() {
					So(real(v)/8, ShouldAlmostEqual, real(want[i]), 1e-5)
					So(imag(v)/8, ShouldAlmostEqual, imag(want[i]), 1e-5)
				}
			})
		})
	}
}

func TestCache(t *testing.T) {
	Convey("Given a gonum cache for two workers holding two sizes", t, func() {
		c, err := NewCache(Gonum, 2, 2)
		So(err, ShouldBeNil)

		Convey("Each worker gets its own buffers", func() {
			p0, err := c.Get(0, 16)
			So(err, ShouldBeNil)
			p1, err := c.Get(1, 16)
			So(err, ShouldBeNil)
			p0.In()[0] = 5
			So(p1.In()[0], ShouldEqual, complex64(0))
			again, _ := c.Get(0, 16)
			So(again, ShouldEqual, p0)
		})

		Convey("Sizes must be powers of two", func() {
			_, err := c.Get(0, 12)
			So(err, ShouldEqual, ErrBadSize)
		})

		Convey("A third size exceeds the capacity", func() {
			_, err := c.Get(0, 4)
			So(err, ShouldBeNil)
			_, err = c.Get(1, 8)
			So(err, ShouldBeNil)
			_, err = c.Get(0, 32)
			So(err, ShouldEqual, ErrPlanCacheFull)
			So(c.Sizes(), ShouldResemble, []int{4, 8})
		})

		Convey("Bad worker indices are rejected", func() {
			_, err := c.Get(2, 4)
			So(err, ShouldEqual, ErrBadWorker)
		})

		Convey("Concurrent first use builds the size once", func() {
			var wg sync.WaitGroup
			plans := make([]Plan, 2)
			for w := 0; w < 2; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					plans[w], _ = c.Get(w, 64)
				}(w)
			}
			wg.Wait()
			So(plans[0], ShouldNotBeNil)
			So(plans[1], ShouldNotBeNil)
			So(c.Sizes(), ShouldResemble, []int{64})
		})
	})

	Convey("Unknown backends are rejected", t, func() {
		_, err := NewCache("fft9000", 1, 1)
		So(err, ShouldNotBeNil)
	})
}
