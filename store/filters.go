package store

import (
	"encoding/csv"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzchzchz/momentrx/compress"
)

var ErrNoFilters = errors.New("no filters stored")

// FilterStore keeps matched-filter templates by group index so they can be
// imported from CSV, persisted with gob and turned into a FilterSet.
type FilterStore struct {
	groups map[int]FilterRecord
	rwmu   sync.RWMutex
}

type FilterRecord struct {
	Date    time.Time
	Filters []compress.Filter
}

func NewFilterStore() *FilterStore {
	return &FilterStore{groups: make(map[int]FilterRecord)}
}

// ImportCSV reads rows of "group;origin;maxOutput;i0,q0 i1,q1 ...". Rows
// for the same group append filters in order. Lines starting with '#' are
// comments.
func (fs *FilterStore) ImportCSV(r io.Reader) error {
	csvr := csv.NewReader(r)
	csvr.Comma, csvr.Comment, csvr.FieldsPerRecord = ';', '#', -1
	records, err := csvr.ReadAll()
	if err != nil {
		return err
	}
	now := time.Now()
	imported := make(map[int][]compress.Filter)
	for line, v := range records {
		if len(v) != 4 {
			return fmt.Errorf("row %d: want 4 fields, got %d", line+1, len(v))
		}
		for i := range v {
			v[i] = strings.TrimSpace(v[i])
		}
		group, err := strconv.Atoi(v[0])
		if err != nil || group < 0 {
			return fmt.Errorf("row %d: bad group %q", line+1, v[0])
		}
		origin, err := strconv.Atoi(v[1])
		if err != nil {
			return fmt.Errorf("row %d: bad origin %q", line+1, v[1])
		}
		maxOutput, err := strconv.Atoi(v[2])
		if err != nil {
			return fmt.Errorf("row %d: bad max output %q", line+1, v[2])
		}
		taps, err := parseTaps(v[3])
		if err != nil {
			return fmt.Errorf("row %d: %w", line+1, err)
		}
		f := compress.Filter{Origin: origin, MaxOutput: maxOutput, Length: len(taps), Taps: taps}
		imported[group] = append(imported[group], f)
	}
	fs.rwmu.Lock()
	defer fs.rwmu.Unlock()
	for g, filters := range imported {
		fs.groups[g] = FilterRecord{Date: now, Filters: filters}
	}
	return nil
}

func parseTaps(s string) ([]complex64, error) {
	var taps []complex64
	for _, pair := range strings.Fields(s) {
		iq := strings.Split(pair, ",")
		if len(iq) != 2 {
			return nil, fmt.Errorf("bad tap %q", pair)
		}
		i, err := strconv.ParseFloat(iq[0], 32)
		if err != nil {
			return nil, err
		}
		q, err := strconv.ParseFloat(iq[1], 32)
		if err != nil {
			return nil, err
		}
		taps = append(taps, complex(float32(i), float32(q)))
	}
	return taps, nil
}

func (fs *FilterStore) Load(fpath string) error {
	f, err := os.Open(fpath)
	if err != nil {
		return err
	}
	defer f.Close()
	groups := make(map[int]FilterRecord)
	if err := gob.NewDecoder(f).Decode(&groups); err != nil {
		return err
	}
	fs.rwmu.Lock()
	fs.groups = groups
	fs.rwmu.Unlock()
	return nil
}

func (fs *FilterStore) Save(fpath string) error {
	f, err := os.OpenFile(fpath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	fs.rwmu.RLock()
	err = gob.NewEncoder(f).Encode(&fs.groups)
	fs.rwmu.RUnlock()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (fs *FilterStore) Groups() []int {
	fs.rwmu.RLock()
	ret := make([]int, 0, len(fs.groups))
	for g := range fs.groups {
		ret = append(ret, g)
	}
	fs.rwmu.RUnlock()
	sort.Ints(ret)
	return ret
}

// FilterSet orders the stored groups by index. Group indices must run from
// zero without gaps since pulse n uses group n mod count.
func (fs *FilterStore) FilterSet() (*compress.FilterSet, error) {
	gs := fs.Groups()
	if len(gs) == 0 {
		return nil, ErrNoFilters
	}
	fs.rwmu.RLock()
	defer fs.rwmu.RUnlock()
	groups := make([][]compress.Filter, len(gs))
	for i, g := range gs {
		if g != i {
			return nil, fmt.Errorf("filter groups skip from %d to %d", i-1, g)
		}
		groups[i] = fs.groups[g].Filters
	}
	return compress.NewFilterSet(groups)
}
