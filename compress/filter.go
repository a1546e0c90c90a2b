package compress

import (
	"errors"
	"fmt"
)

var ErrNoFilterGroup = errors.New("no matched filter group")

// Filter is one matched-filter template. Taps are applied by convolution,
// so a correlator must be stored time reversed and conjugated.
type Filter struct {
	// Origin is the first gate the filter is applied from.
	Origin int
	// Length is len(Taps).
	Length int
	// MaxOutput bounds the gates produced and the transform size.
	MaxOutput int
	Taps      []complex64
}

// FilterSet holds interchangeable groups of templates. Pulse n uses group
// n mod len(Groups), which supports frequency-hopping waveforms. A set is
// immutable once handed to an engine.
type FilterSet struct {
	Groups  [][]Filter
	version uint64
}

func NewFilterSet(groups [][]Filter) (*FilterSet, error) {
	if len(groups) == 0 {
		return nil, ErrNoFilterGroup
	}
	fs := &FilterSet{Groups: make([][]Filter, len(groups))}
	for gi, g := range groups {
		if len(g) == 0 {
			return nil, fmt.Errorf("group %d: %w", gi, ErrNoFilterGroup)
		}
		fs.Groups[gi] = make([]Filter, len(g))
		for fi, f := range g {
			if len(f.Taps) == 0 {
				return nil, fmt.Errorf("group %d filter %d: no taps", gi, fi)
			}
			if f.Origin < 0 || f.MaxOutput <= 0 {
				return nil, fmt.Errorf("group %d filter %d: bad origin %d or max output %d", gi, fi, f.Origin, f.MaxOutput)
			}
			f.Length = len(f.Taps)
			f.Taps = append([]complex64(nil), f.Taps...)
			fs.Groups[gi][fi] = f
		}
	}
	return fs, nil
}

// NewImpulseFilterSet passes samples through unchanged.
func NewImpulseFilterSet(maxOutput int) *FilterSet {
	fs, _ := NewFilterSet([][]Filter{{{MaxOutput: maxOutput, Taps: []complex64{1}}}})
	return fs
}

func (fs *FilterSet) GroupCount() int { return len(fs.Groups) }

func (fs *FilterSet) GroupIndex(seq uint64) int { return int(seq % uint64(len(fs.Groups))) }

// TransformSizes lists the transform size each filter needs for pulses of
// the given gate count.
func (fs *FilterSet) TransformSizes(gates int) []int {
	seen := make(map[int]bool)
	var ret []int
	for _, g := range fs.Groups {
		for _, f := range g {
			n := transformSize(gates, f)
			if !seen[n] {
				seen[n] = true
				ret = append(ret, n)
			}
		}
	}
	return ret
}
