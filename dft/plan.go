// Package dft caches discrete Fourier transform plans by size for the
// compression workers.
package dft

import (
	"fmt"

	"github.com/runningwild/go-fftw/fftw32"
	"gonum.org/v1/gonum/dsp/fourier"
)

type Backend string

const (
	FFTW  Backend = "fftw"
	Gonum Backend = "gonum"
)

// Plan is one worker's transforms of a single size. The transforms run over
// buffers the plan owns: forward and inverse in place on In, and forward out
// of place from Aux into Out. None of the transforms normalize, so an
// inverse of a forward scales by Size.
type Plan interface {
	Size() int
	In() []complex64
	Aux() []complex64
	Out() []complex64
	ForwardInPlace()
	ForwardOutOfPlace()
	InverseInPlace()
	Destroy()
}

func newPlan(b Backend, n int) (Plan, error) {
	switch b {
	case FFTW, "":
		return newFFTWPlan(n), nil
	case Gonum:
		return newGonumPlan(n), nil
	}
	return nil, fmt.Errorf("unknown dft backend %q", b)
}

type fftwPlan struct {
	in, aux, out *fftw32.Array

	fwdIn  *fftw32.Plan
	fwdOut *fftw32.Plan
	inv    *fftw32.Plan
}

// newFFTWPlan must be called with the cache lock held; the fftw planner is
// not reentrant.
func newFFTWPlan(n int) *fftwPlan {
	p := &fftwPlan{
		in:  fftw32.NewArray(n),
		aux: fftw32.NewArray(n),
		out: fftw32.NewArray(n),
	}
	p.fwdIn = fftw32.NewPlan(p.in, p.in, fftw32.Forward, fftw32.Estimate)
	p.fwdOut = fftw32.NewPlan(p.aux, p.out, fftw32.Forward, fftw32.Estimate)
	p.inv = fftw32.NewPlan(p.in, p.in, fftw32.Backward, fftw32.Estimate)
	return p
}

func (p *fftwPlan) Size() int          { return len(p.in.Elems) }
func (p *fftwPlan) In() []complex64    { return p.in.Elems }
func (p *fftwPlan) Aux() []complex64   { return p.aux.Elems }
func (p *fftwPlan) Out() []complex64   { return p.out.Elems }
func (p *fftwPlan) ForwardInPlace()    { p.fwdIn.Execute() }
func (p *fftwPlan) ForwardOutOfPlace() { p.fwdOut.Execute() }
func (p *fftwPlan) InverseInPlace()    { p.inv.Execute() }

func (p *fftwPlan) Destroy() {
	p.fwdIn.Destroy()
	p.fwdOut.Destroy()
	p.inv.Destroy()
}

// gonumPlan is the pure Go backend. gonum works in complex128, so each
// transform widens into and narrows out of private work buffers.
type gonumPlan struct {
	fft          *fourier.CmplxFFT
	in, aux, out []complex64
	seq, coeff   []complex128
}

func newGonumPlan(n int) *gonumPlan {
	return &gonumPlan{
		fft:   fourier.NewCmplxFFT(n),
		in:    make([]complex64, n),
		aux:   make([]complex64, n),
		out:   make([]complex64, n),
		seq:   make([]complex128, n),
		coeff: make([]complex128, n),
	}
}

func (p *gonumPlan) Size() int        { return len(p.in) }
func (p *gonumPlan) In() []complex64  { return p.in }
func (p *gonumPlan) Aux() []complex64 { return p.aux }
func (p *gonumPlan) Out() []complex64 { return p.out }
func (p *gonumPlan) Destroy()         {}

func (p *gonumPlan) ForwardInPlace() {
	widen(p.seq, p.in)
	p.fft.Coefficients(p.coeff, p.seq)
	narrow(p.in, p.coeff)
}

func (p *gonumPlan) ForwardOutOfPlace() {
	widen(p.seq, p.aux)
	p.fft.Coefficients(p.coeff, p.seq)
	narrow(p.out, p.coeff)
}

func (p *gonumPlan) InverseInPlace() {
	widen(p.coeff, p.in)
	p.fft.Sequence(p.seq, p.coeff)
	narrow(p.in, p.seq)
}

func widen(dst []complex128, src []complex64) {
	for i, v := range src {
		dst[i] = complex128(v)
	}
}

func narrow(dst []complex64, src []complex128) {
	for i, v := range src {
		dst[i] = complex64(v)
	}
}
