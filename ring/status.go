package ring

import (
	"strings"
	"sync/atomic"
)

// Flags is a monotone bit set. Bits are only ever added until Reset,
// which the owning stage calls when a slot is reused.
//
// Every Set is a release of all plain writes made to the slot before it;
// every Has that observes the bit acquires them.
type Flags struct{ v atomic.Uint32 }

func (f *Flags) Set(bits uint32)      { f.v.Or(bits) }
func (f *Flags) Has(bits uint32) bool { return f.v.Load()&bits == bits }
func (f *Flags) Any(bits uint32) bool { return f.v.Load()&bits != 0 }
func (f *Flags) Load() uint32         { return f.v.Load() }

// Reset clears all bits and then sets init.
func (f *Flags) Reset(init uint32) { f.v.Store(init) }

type PulseStatus uint32

const (
	PulseVacant       PulseStatus = 0
	PulseHasIQData    PulseStatus = 1 << 0
	PulseHasPosition  PulseStatus = 1 << 1
	PulseCompressed   PulseStatus = 1 << 2
	PulseRingFiltered PulseStatus = 1 << 3
	PulseConsumed     PulseStatus = 1 << 4
)

var pulseStatusNames = []string{"iq", "pos", "comp", "filt", "used"}

func (s PulseStatus) String() string { return bitNames(uint32(s), pulseStatusNames) }

type RayStatus uint32

const (
	RayVacant     RayStatus = 0
	RayProcessing RayStatus = 1 << 0
	RayProcessed  RayStatus = 1 << 1
	RaySkipped    RayStatus = 1 << 2
	RayReady      RayStatus = 1 << 3
	RayStreamed   RayStatus = 1 << 4
)

var rayStatusNames = []string{"proc", "done", "skip", "ready", "streamed"}

func (s RayStatus) String() string { return bitNames(uint32(s), rayStatusNames) }

func bitNames(v uint32, names []string) string {
	if v == 0 {
		return "vacant"
	}
	var parts []string
	for i, n := range names {
		if v&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "|")
}
