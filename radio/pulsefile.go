package radio

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/chzchzchz/momentrx/ring"
)

var (
	ErrBadFormat = errors.New("bad pulse stream format")
	ErrTooMany   = errors.New("pulse has more gates than the stream allows")
)

// MaxGates bounds a record so a corrupt header cannot force a huge read.
const MaxGates = 1 << 16

var streamMagic = [4]byte{'M', 'R', 'X', '0'}

type streamHeader struct {
	Magic [4]byte
	Gates uint32
	PRF   float32
}

// pulseHeader precedes Gates int16 I/Q pairs for H and then for V.
type pulseHeader struct {
	Seq       uint64
	UnixNanos int64
	Gates     uint32
	Azimuth   float32
	Elevation float32
}

type PulseReader struct {
	r   io.Reader
	sh  streamHeader
	buf []int16
}

func NewPulseReader(r io.Reader) (*PulseReader, error) {
	pr := &PulseReader{r: r}
	if err := binary.Read(r, binary.LittleEndian, &pr.sh); err != nil {
		return nil, err
	}
	if pr.sh.Magic != streamMagic || pr.sh.Gates == 0 || pr.sh.Gates > MaxGates {
		return nil, ErrBadFormat
	}
	return pr, nil
}

func (pr *PulseReader) Gates() int   { return int(pr.sh.Gates) }
func (pr *PulseReader) PRF() float64 { return float64(pr.sh.PRF) }

// Read fills p with the next record and returns its sequence number. Gates
// past the pulse's capacity are read and dropped; p.Gates keeps the declared
// count so the compression stage reports the mismatch.
func (pr *PulseReader) Read(p *ring.Pulse) (uint64, error) {
	var h pulseHeader
	if err := binary.Read(pr.r, binary.LittleEndian, &h); err != nil {
		return 0, err
	}
	if h.Gates > pr.sh.Gates {
		return 0, ErrTooMany
	}
	n := 2 * int(h.Gates)
	if cap(pr.buf) < n {
		pr.buf = make([]int16, n)
	}
	buf := pr.buf[:n]
	for pol := 0; pol < ring.Polarizations; pol++ {
		if err := binary.Read(pr.r, binary.LittleEndian, buf); err != nil {
			return 0, noEOF(err)
		}
		copy(p.Raw[pol], buf)
	}
	p.Time = time.Unix(0, h.UnixNanos)
	p.Gates = int(h.Gates)
	p.Azimuth, p.Elevation = h.Azimuth, h.Elevation
	return h.Seq, nil
}

// noEOF reports a record cut short as such rather than as a clean end.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

type PulseWriter struct {
	w  io.Writer
	sh streamHeader
}

func NewPulseWriter(w io.Writer, gates int, prf float64) (*PulseWriter, error) {
	if gates <= 0 || gates > MaxGates {
		return nil, ErrBadFormat
	}
	pw := &PulseWriter{w: w, sh: streamHeader{Magic: streamMagic, Gates: uint32(gates), PRF: float32(prf)}}
	if err := binary.Write(w, binary.LittleEndian, &pw.sh); err != nil {
		return nil, err
	}
	return pw, nil
}

// Write encodes one pulse. The gate count is read once so a record stays
// whole even if the producer reclaims the slot mid-write.
func (pw *PulseWriter) Write(p *ring.Pulse) error {
	gates := p.Gates
	if gates > int(pw.sh.Gates) || gates > len(p.Raw[ring.H])/2 {
		return ErrTooMany
	}
	h := pulseHeader{
		Seq:       p.Seq(),
		UnixNanos: p.Time.UnixNano(),
		Gates:     uint32(gates),
		Azimuth:   p.Azimuth,
		Elevation: p.Elevation,
	}
	if err := binary.Write(pw.w, binary.LittleEndian, &h); err != nil {
		return err
	}
	for pol := 0; pol < ring.Polarizations; pol++ {
		if err := binary.Write(pw.w, binary.LittleEndian, p.Raw[pol][:2*gates]); err != nil {
			return err
		}
	}
	return nil
}
