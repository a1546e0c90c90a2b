package radio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/chzchzchz/momentrx/ring"
)

func synthetic(t *testing.T, n, gates int) *ring.PulseRing {
	r, err := ring.NewPulseRing(n, gates)
	if err != nil {
		t.Fatal(err)
	}
	tr := &Transceiver{Gates: gates, RPM: 10, Amplitude: 1000, Omega: 0.3, Noise: 5, Pulses: n, Seed: 7}
	if err := tr.Run(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	return r
}

func writeStream(t *testing.T, w io.Writer, r *ring.PulseRing, gates int) {
	pw, err := NewPulseWriter(w, gates, 1000)
	if err != nil {
		t.Fatal(err)
	}
	for seq := uint64(0); seq < r.Head(); seq++ {
		if err := pw.Write(r.At(seq)); err != nil {
			t.Fatal(err)
		}
	}
}

func TestTransceiver(t *testing.T) {
	r := synthetic(t, 50, 16)
	if r.Head() != 50 {
		t.Fatalf("published %d pulses", r.Head())
	}
	p := r.At(49)
	if !p.Has(ring.PulseHasIQData|ring.PulseHasPosition) || p.Gates != 16 {
		t.Fatalf("pulse %v with %d gates", p.Status(), p.Gates)
	}
	// 10 rpm at 1 kHz is 0.06 degrees a pulse.
	if d := p.Azimuth - 49*0.06; d > 1e-4 || d < -1e-4 {
		t.Fatalf("azimuth %v", p.Azimuth)
	}
	if v := p.RawGate(ring.H, 0); real(v) == 0 && imag(v) == 0 {
		t.Fatal("empty samples")
	}
}

func TestPulseStreamRoundTrip(t *testing.T) {
	const gates = 8
	r := synthetic(t, 10, gates)
	var buf bytes.Buffer
	writeStream(t, &buf, r, gates)

	pr, err := NewPulseReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if pr.Gates() != gates || pr.PRF() != 1000 {
		t.Fatalf("stream header %d gates %v prf", pr.Gates(), pr.PRF())
	}
	out, _ := ring.NewPulseRing(16, gates)
	for i := uint64(0); i < 10; i++ {
		p := out.Claim()
		seq, err := pr.Read(p)
		if err != nil {
			t.Fatal(err)
		}
		want := r.At(i)
		if seq != i || !p.Time.Equal(want.Time) || p.Azimuth != want.Azimuth || p.Gates != gates {
			t.Fatalf("pulse %d: got seq %d at %v az %v", i, seq, p.Time, p.Azimuth)
		}
		for pol := 0; pol < ring.Polarizations; pol++ {
			if !equalInt16(p.Raw[pol], want.Raw[pol]) {
				t.Fatalf("pulse %d pol %d samples differ", i, pol)
			}
		}
		out.Publish(p, 0)
	}
	if _, err := pr.Read(out.Claim()); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func equalInt16(a, b []int16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPulseStreamErrors(t *testing.T) {
	if _, err := NewPulseReader(bytes.NewReader([]byte("RIFF\x08\x00\x00\x00\x00\x00\x00\x00"))); err != ErrBadFormat {
		t.Fatalf("expected ErrBadFormat, got %v", err)
	}

	r := synthetic(t, 2, 8)
	var buf bytes.Buffer
	writeStream(t, &buf, r, 8)
	cut := buf.Bytes()[:buf.Len()-3]
	pr, err := NewPulseReader(bytes.NewReader(cut))
	if err != nil {
		t.Fatal(err)
	}
	out, _ := ring.NewPulseRing(4, 8)
	if _, err := pr.Read(out.Claim()); err != nil {
		t.Fatal(err)
	}
	if _, err := pr.Read(out.Claim()); err != io.ErrUnexpectedEOF {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestPulseStreamWiderThanRing(t *testing.T) {
	r := synthetic(t, 1, 8)
	var buf bytes.Buffer
	writeStream(t, &buf, r, 8)
	pr, err := NewPulseReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	narrow, _ := ring.NewPulseRing(4, 4)
	p := narrow.Claim()
	if _, err := pr.Read(p); err != nil {
		t.Fatal(err)
	}
	if p.Gates != 8 {
		t.Fatalf("declared gate count lost: %d", p.Gates)
	}
	if !equalInt16(p.Raw[ring.V], r.At(0).Raw[ring.V][:8]) {
		t.Fatal("kept gates differ")
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pulse")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	writeStream(t, f, synthetic(t, 20, 8), 8)
	f.Close()

	src, err := NewSource(context.Background(), SourceConfig{Kind: "file", Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	if info := src.Info(); info.Gates != 8 || info.Kind != "file" {
		t.Fatalf("info %+v", info)
	}
	r, _ := ring.NewPulseRing(32, 8)
	if err := src.Run(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if r.Head() != 20 {
		t.Fatalf("replayed %d pulses", r.Head())
	}
}

func TestUnknownSource(t *testing.T) {
	if _, err := NewSource(context.Background(), SourceConfig{Kind: "rtl"}); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestStaleFIFORecreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulses")
	if err := os.WriteFile(path, []byte("left over"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := makeFIFO(path); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode()&os.ModeNamedPipe == 0 {
		t.Fatalf("mode %v is not a fifo", fi.Mode())
	}
}

func TestCommandSource(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no shell")
	}
	dir := t.TempDir()
	in, fifo := filepath.Join(dir, "in.pulse"), filepath.Join(dir, "fifo")
	f, err := os.Create(in)
	if err != nil {
		t.Fatal(err)
	}
	writeStream(t, f, synthetic(t, 12, 8), 8)
	f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cs, err := NewCommandSource(ctx, fifo, []string{sh, "-c", "cat " + in + " > " + fifo})
	if err != nil {
		t.Skipf("cannot start helper: %v", err)
	}
	r, _ := ring.NewPulseRing(16, 8)
	if err := cs.Run(ctx, r); err != nil {
		t.Fatal(err)
	}
	if r.Head() != 12 || cs.Info().Gates != 8 {
		t.Fatalf("got %d pulses, info %+v", r.Head(), cs.Info())
	}
	cs.Close()
	if _, err := os.Stat(fifo); !os.IsNotExist(err) {
		t.Fatal("fifo not removed")
	}
}

func TestNoiseFloor(t *testing.T) {
	r, _ := ring.NewPulseRing(4, 5)
	np := NewNoisePower(5)
	for i := 0; i < 4; i++ {
		p := r.Claim()
		p.Gates = 5
		for g := 0; g < 5; g++ {
			p.SetRawGate(ring.H, g, complex(3, 4))
		}
		// One strong target gate does not move the median.
		p.SetRawGate(ring.H, 2, complex(300, 0))
		r.Publish(p, 0)
		np.Add(p)
	}
	if np.Pulses() != 4 || np.NoiseFloor(ring.H) != 25 {
		t.Fatalf("noise floor %v over %d pulses", np.NoiseFloor(ring.H), np.Pulses())
	}
	if np.NoiseFloor(ring.V) != 0 {
		t.Fatalf("silent channel floor %v", np.NoiseFloor(ring.V))
	}
}
